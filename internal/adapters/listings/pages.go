package listings

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"siteadapters/internal/chrono"
	"siteadapters/lib/browser"
	"siteadapters/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

const (
	kindCities  browser.Kind = "cities"
	kindList    browser.Kind = "list"
	kindHousing browser.Kind = "housing"
)

const categories = `(?:ventes_immobilieres|locations|colocations)`

func newRegistry(baseUrl string) (browser.Registry, error) {
	return browser.NewRegistryBuilder(baseUrl).
		Register(kindCities, `/ajax/location_list\.html`).
		Register(kindList, `/`+categories+`/offres/`).
		Register(kindHousing, `/`+categories+`/[^/]+\.htm`).
		Build()
}

func pageFactories(clock chrono.API) map[browser.Kind]browser.PageFactory {
	return map[browser.Kind]browser.PageFactory{
		kindCities: newCityListPage,
		kindList: func(res browser.Response) (browser.Page, error) {
			doc, err := res.Document()
			if err != nil {
				return nil, err
			}
			return listPage{doc: doc, clock: clock}, nil
		},
		kindHousing: func(res browser.Response) (browser.Page, error) {
			doc, err := res.Document()
			if err != nil {
				return nil, err
			}
			return housingPage{doc: doc, clock: clock}, nil
		},
	}
}

type cityListPage struct {
	cities []City
}

func newCityListPage(res browser.Response) (browser.Page, error) {
	doc, err := res.Document()
	if err != nil {
		return nil, err
	}
	var cities []City
	doc.Find("li").Each(func(_ int, li *goquery.Selection) {
		name := htmlutil.Text(li.Find("span.city"))
		zipcode := htmlutil.Text(li.Find("span.zipcode"))
		if name == "" {
			return
		}
		id := strings.TrimSpace(name + " " + zipcode)
		cities = append(cities, City{Id: id, Name: id})
	})
	return cityListPage{cities: cities}, nil
}

var housingUrlRegex = regexp.MustCompile(`/` + categories + `/([^/]+)\.htm`)

// housingId extracts the id of a housing from its url.
func housingId(href string) string {
	match := housingUrlRegex.FindStringSubmatch(href)
	if match == nil {
		return ""
	}
	return match[1]
}

var priceRegex = regexp.MustCompile(`-?[\d\s.]*\d(?:,\d+)?`)

// parsePrice reads french formatted amounts such as "1 250,50 €". The
// currency defaults to euros.
func parsePrice(text string) (float64, string) {
	currency := "€"
	if i := strings.LastIndexAny(text, "€$£"); i >= 0 {
		r, _ := utf8.DecodeRuneInString(text[i:])
		currency = string(r)
	}
	number := priceRegex.FindString(text)
	number = strings.NewReplacer(" ", "", ".", "", ",", ".").Replace(number)
	if number == "" {
		return 0, currency
	}
	value, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, currency
	}
	return value, currency
}

var frenchMonths = map[string]time.Month{
	"janv": time.January, "janvier": time.January,
	"févr": time.February, "fevr": time.February, "février": time.February,
	"mars": time.March,
	"avr": time.April, "avril": time.April,
	"mai":  time.May,
	"juin": time.June,
	"juil": time.July, "juillet": time.July,
	"août": time.August, "aout": time.August,
	"sept": time.September, "septembre": time.September,
	"oct": time.October, "octobre": time.October,
	"nov": time.November, "novembre": time.November,
	"déc": time.December, "dec": time.December, "décembre": time.December,
}

var (
	relativeDateRegex = regexp.MustCompile(`(?i)^(aujourd'hui|hier)\W*(\d{1,2}):(\d{2})`)
	frenchDateRegex   = regexp.MustCompile(`(\d{1,2})\s+([^\s,.]+)\.?(?:\s+(\d{4}))?\W*(\d{1,2})[:h](\d{2})`)
)

// parseFrenchDate reads the dates shown by the site ("Aujourd'hui, 12:30",
// "12 juin, 18:00"...). Dates without a year are placed in the last twelve
// months.
func parseFrenchDate(text string, clock chrono.API) (time.Time, error) {
	text = strings.TrimSpace(text)
	loc := clock.Location()
	today := chrono.Today(clock)

	if match := relativeDateRegex.FindStringSubmatch(text); match != nil {
		day := today
		if strings.EqualFold(match[1], "hier") {
			day = day.AddDate(0, 0, -1)
		}
		hour, _ := strconv.Atoi(match[2])
		minute, _ := strconv.Atoi(match[3])
		return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc), nil
	}

	match := frenchDateRegex.FindStringSubmatch(text)
	if match == nil {
		return time.Time{}, fmt.Errorf("unknown date format %q", text)
	}
	month, ok := frenchMonths[strings.ToLower(match[2])]
	if !ok {
		return time.Time{}, fmt.Errorf("unknown month %q", match[2])
	}
	dayOfMonth, _ := strconv.Atoi(match[1])
	hour, _ := strconv.Atoi(match[4])
	minute, _ := strconv.Atoi(match[5])

	year := today.Year()
	if match[3] != "" {
		year, _ = strconv.Atoi(match[3])
		return time.Date(year, month, dayOfMonth, hour, minute, 0, 0, loc), nil
	}
	date := time.Date(year, month, dayOfMonth, hour, minute, 0, 0, loc)
	if date.After(clock.Now()) {
		date = date.AddDate(-1, 0, 0)
	}
	return date, nil
}

// listPage is one page of search results.
type listPage struct {
	doc   *goquery.Document
	clock chrono.API
}

func (p listPage) Items() ([]Housing, error) {
	var out []Housing
	p.doc.Find("a.list_item").Each(func(_ int, item *goquery.Selection) {
		anchors := htmlutil.GetAnchors(context.Background(), item, p.doc.Url)
		if len(anchors) == 0 {
			return
		}
		id := housingId(anchors[0].Href)
		if id == "" {
			return
		}

		title, ok := item.Attr("title")
		if !ok || strings.TrimSpace(title) == "" {
			title = htmlutil.Text(item.Find("section p.item_title"))
		}
		cost, currency := parsePrice(htmlutil.Text(item.Find("section.item_infos .item_price")))

		var supp []string
		item.Find("p.item_supp").Each(func(_ int, p *goquery.Selection) {
			if text := htmlutil.Text(p); text != "" {
				supp = append(supp, text)
			}
		})

		housing := Housing{
			Id:       id,
			Title:    htmlutil.Normalize(title),
			Cost:     cost,
			Currency: currency,
			Text:     strings.Join(supp, " - "),
			Url:      anchors[0].Href,
		}
		dateText := htmlutil.Text(item.Find("section.item_infos aside p.item_supp"))
		if dateText != "" {
			date, err := parseFrenchDate(dateText, p.clock)
			if err == nil {
				housing.Date = date
			}
		}
		if src, ok := item.Find("div.item_image img").Attr("src"); ok && src != "" {
			housing.Photos = append(housing.Photos, resolve(p.doc, src))
		}
		out = append(out, housing)
	})
	return out, nil
}

func (p listPage) Next() (*browser.RequestSpec, error) {
	anchors := htmlutil.GetAnchors(context.Background(), p.doc.Find("a#next"), p.doc.Url)
	if len(anchors) == 0 {
		return nil, nil
	}
	next := browser.Get(anchors[0].Href)
	return &next, nil
}

func resolve(doc *goquery.Document, href string) string {
	if doc.Url == nil {
		return href
	}
	u, err := doc.Url.Parse(href)
	if err != nil {
		return href
	}
	return u.String()
}

var (
	areaRegex  = regexp.MustCompile(`([\d\s,.]+)\s*m`)
	dateRegex  = regexp.MustCompile(`Mise en ligne le (.*)`)
	photoRegex = regexp.MustCompile(`images\[\d+\]\s*=\s*"([\w/.\-]*\.jpg)";`)
)

// housingPage is the detail page of one housing.
type housingPage struct {
	doc   *goquery.Document
	clock chrono.API
}

func (p housingPage) Housing(id string) (Housing, error) {
	doc := p.doc
	housing := Housing{
		Id:       id,
		Title:    htmlutil.Text(doc.Find("title")),
		Currency: "€",
		Details:  map[string]string{},
	}
	if doc.Url != nil {
		housing.Url = doc.Url.String()
	}

	price := doc.Find(`h2[itemprop="price"]`)
	if content, ok := price.Attr("content"); ok {
		cost, err := strconv.ParseFloat(strings.TrimSpace(content), 64)
		if err != nil {
			return Housing{}, fmt.Errorf("housing %s: price %q: %w", id, content, err)
		}
		housing.Cost = cost
	}
	_, housing.Currency = parsePrice(htmlutil.Text(price.Find("span.value")))

	description, _ := doc.Find(`meta[name="description"]`).Attr("content")
	housing.Text = htmlutil.Normalize(description)
	housing.Location = htmlutil.Text(doc.Find(`span[itemprop="address"]`))

	doc.Find("div.line h2").Each(func(_ int, h2 *goquery.Selection) {
		property := htmlutil.Text(h2.Find("span.property"))
		if property == "" {
			return
		}
		value := h2.Find("span.value")
		if strings.Contains(property, "Surface") {
			match := areaRegex.FindStringSubmatch(htmlutil.Text(value))
			if match != nil {
				area, err := strconv.ParseFloat(strings.NewReplacer(" ", "", ",", ".").Replace(match[1]), 64)
				if err == nil {
					housing.Area = area
				}
			}
			return
		}
		if strings.Contains(property, "GES") || strings.Contains(property, "Classe") {
			if link := value.Find("a"); link.Length() > 0 {
				housing.Details[property] = htmlutil.Text(link)
				return
			}
		}
		housing.Details[property] = htmlutil.Text(value)
	})

	posted := htmlutil.Text(doc.Find("p.line"))
	if match := dateRegex.FindStringSubmatch(strings.ReplaceAll(posted, " à ", " ")); match != nil {
		date, err := parseFrenchDate(match[1], p.clock)
		if err != nil {
			return Housing{}, fmt.Errorf("housing %s: %w", id, err)
		}
		housing.Date = date
	}

	doc.Find("script").Each(func(_ int, script *goquery.Selection) {
		for _, match := range photoRegex.FindAllStringSubmatch(script.Text(), -1) {
			housing.Photos = append(housing.Photos, resolve(doc, match[1]))
		}
	})
	if len(housing.Photos) == 0 {
		if image, ok := doc.Find(`meta[itemprop="image"]`).Attr("content"); ok && image != "" {
			housing.Photos = append(housing.Photos, resolve(doc, image))
		}
	}
	return housing, nil
}
