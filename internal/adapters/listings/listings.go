// Package listings reads housing classifieds. The site needs no account,
// search results are followed through their "next" links.
package listings

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"time"

	"siteadapters/internal/chrono"
	"siteadapters/lib/browser"
	"siteadapters/lib/browser/paginate"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("siteadapters.internal.adapters.listings")

type QueryType int

const (
	QueryRent QueryType = iota
	QuerySale
	QuerySharing
)

func (t QueryType) category() string {
	switch t {
	case QuerySale:
		return "ventes_immobilieres"
	case QuerySharing:
		return "colocations"
	}
	return "locations"
}

type City struct {
	Id   string
	Name string
}

type Housing struct {
	Id       string
	Title    string
	Cost     float64
	Currency string
	Text     string
	Date     time.Time
	Location string
	Area     float64
	Url      string
	Photos   []string
	Details  map[string]string
}

type Query struct {
	Type   QueryType
	Cities []City
	// 0 leaves the bound out
	CostMin int
	CostMax int
	// stops the search after this many result pages when > 0
	MaxPages int
}

type Options struct {
	BaseUrl   string
	Transport browser.Transport
	Clock     chrono.API
}

type Listings struct {
	session *browser.Session
}

func New(opts Options) (*Listings, error) {
	registry, err := newRegistry(opts.BaseUrl)
	if err != nil {
		return nil, err
	}
	clock := opts.Clock
	if clock == nil {
		clock, err = chrono.NewStandardImpl("Europe/Paris")
		if err != nil {
			return nil, err
		}
	}
	session, err := browser.NewSession(browser.SessionOptions{
		Site:      "listings",
		Transport: opts.Transport,
		Registry:  registry,
		Pages:     pageFactories(clock),
	})
	if err != nil {
		return nil, err
	}
	return &Listings{session: session}, nil
}

func (l *Listings) Session() *browser.Session {
	return l.session
}

// Cities completes a city name or a zipcode.
func (l *Listings) Cities(ctx context.Context, pattern string) ([]City, error) {
	ctx, span := tracer.Start(ctx, "listings:Cities")
	defer span.End()

	h, err := l.session.Request(ctx, browser.Get("/ajax/location_list.html?"+url.Values{
		"city":    {pattern},
		"zipcode": {""},
	}.Encode()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list cities")
		return nil, err
	}
	page, err := browser.PageAs[cityListPage](h)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("cities", len(page.cities)))
	return page.cities, nil
}

func (q Query) request() browser.RequestSpec {
	params := url.Values{}
	for _, city := range q.Cities {
		params.Add("location", city.Id)
	}
	minKey, maxKey := "mrs", "mre"
	if q.Type == QuerySale {
		minKey, maxKey = "ps", "pe"
	}
	if q.CostMin > 0 {
		params.Set(minKey, strconv.Itoa(q.CostMin))
	}
	if q.CostMax > 0 {
		params.Set(maxKey, strconv.Itoa(q.CostMax))
	}
	target := fmt.Sprintf("/%s/offres/", q.Type.category())
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	return browser.Get(target)
}

// Search lists the housings matching query, page after page.
func (l *Listings) Search(ctx context.Context, query Query) iter.Seq2[Housing, error] {
	return paginate.Iterate(ctx, l.session, query.request(), paginate.Options[Housing]{
		Extract:  paginate.FromLister[Housing](),
		Identity: func(h Housing) string { return h.Id },
		MaxPages: query.MaxPages,
	})
}

// Housing reads the detail page of a housing returned by Search.
func (l *Listings) Housing(ctx context.Context, housing Housing) (Housing, error) {
	ctx, span := tracer.Start(ctx, "listings:Housing")
	defer span.End()
	span.SetAttributes(attribute.String("id", housing.Id))

	if housing.Url == "" {
		return Housing{}, fmt.Errorf("housing %s has no url", housing.Id)
	}
	h := l.session.Last()
	if !l.session.IsHere(kindHousing) || h.Url() != housing.Url {
		var err error
		h, err = l.session.Request(ctx, browser.Get(housing.Url))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to open housing")
			return Housing{}, err
		}
	}
	page, err := browser.PageAs[housingPage](h)
	if err != nil {
		return Housing{}, err
	}
	return page.Housing(housing.Id)
}
