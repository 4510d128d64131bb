package payments

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"siteadapters/lib/browser"
	"siteadapters/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

const (
	kindLogin           browser.Kind = "login"
	kindChallenge       browser.Kind = "login.challenge"
	kindVerify          browser.Kind = "login.verify"
	kindCaptcha         browser.Kind = "login.captcha"
	kindPersonalHome    browser.Kind = "home.personal"
	kindBusinessHome    browser.Kind = "home.business"
	kindAccount         browser.Kind = "account"
	kindPersonalHistory browser.Kind = "history.personal"
	kindBusinessHistory browser.Kind = "history.business"
)

func newRegistry(baseUrl string) (browser.Registry, error) {
	return browser.NewRegistryBuilder(baseUrl).
		Register(kindLogin, `/signin`, `/auth/login`).
		Register(kindChallenge, `/auth/challenge\.js`).
		Register(kindVerify, `/auth/verifychallenge$`).
		Register(kindCaptcha, `/auth/validatecaptcha$`).
		Register(kindPersonalHome, `/myaccount/(\?.*)?$`).
		Register(kindPersonalHistory, `/myaccount/activity/`).
		Register(kindBusinessHome, `/businessexp/summary`, `/webapps/business/(\?.*)?$`).
		Register(kindAccount, `/businessexp/money`).
		Register(kindBusinessHistory, `/webapps/business/activity\?`).
		Build()
}

var pageFactories = map[browser.Kind]browser.PageFactory{
	kindLogin:           newLoginPage,
	kindChallenge:       newChallengePage,
	kindAccount:         newAccountPage,
	kindPersonalHistory: newActivityPage,
	kindBusinessHistory: newActivityPage,
}

type loginPage struct {
	doc *goquery.Document
}

func newLoginPage(res browser.Response) (browser.Page, error) {
	doc, err := res.Document()
	if err != nil {
		return nil, err
	}
	return loginPage{doc: doc}, nil
}

func (p loginPage) form() *goquery.Selection {
	return p.doc.Find("form#login")
}

func (p loginPage) Action() string {
	action, ok := p.form().Attr("action")
	if !ok || action == "" {
		return "/auth/login"
	}
	return action
}

func (p loginPage) Csrf() string {
	csrf, _ := p.form().Find(`input[name="_csrf"]`).Attr("value")
	return csrf
}

func (p loginPage) ScriptUrl() (string, error) {
	src, ok := p.doc.Find("script#challenge").Attr("src")
	if !ok || src == "" {
		return "", fmt.Errorf("login page has no challenge script")
	}
	return src, nil
}

// Failed reports the error banner shown after a rejected login.
func (p loginPage) Failed() bool {
	return p.doc.Find(".notification-critical").Length() > 0 ||
		strings.Contains(p.doc.Text(), "LoginFailed")
}

// LoginForm returns the form a browser would submit with the credentials
// typed in.
func (p loginPage) LoginForm(username, password string) url.Values {
	values := htmlutil.FormValues(p.form())
	values.Set("login_email", username)
	values.Set("login_password", password)
	return values
}

var jsVarRegex = regexp.MustCompile(`var\s+(\w+)\s*=\s*"([^"]*)"`)

// challengePage is the anti-bot script served before the login form is
// accepted.
type challengePage struct {
	vars map[string]string
}

func newChallengePage(res browser.Response) (browser.Page, error) {
	vars := map[string]string{}
	for _, match := range jsVarRegex.FindAllStringSubmatch(string(res.Body), -1) {
		vars[match[1]] = match[2]
	}
	for _, name := range []string{"token", "key", "value"} {
		if _, ok := vars[name]; !ok {
			return nil, fmt.Errorf("challenge script: missing %q", name)
		}
	}
	return challengePage{vars: vars}, nil
}

func (p challengePage) Token() string { return p.vars["token"] }
func (p challengePage) Key() string   { return p.vars["key"] }
func (p challengePage) Value() string { return p.vars["value"] }

type accountPage struct {
	accounts []Account
}

func newAccountPage(res browser.Response) (browser.Page, error) {
	doc, err := res.Document()
	if err != nil {
		return nil, err
	}

	var accounts []Account
	var parseErr error
	doc.Find("li.currency").EachWithBreak(func(_ int, li *goquery.Selection) bool {
		currency, _ := li.Attr("data-currency")
		balance, err := parseAmount(htmlutil.Text(li.Find(".balance")))
		if err != nil {
			parseErr = fmt.Errorf("balance of %s: %w", currency, err)
			return false
		}
		primary := li.HasClass("primary")
		accounts = append(accounts, Account{
			Id:       currency,
			Label:    fmt.Sprintf("Payments (%s)", currency),
			Currency: currency,
			Balance:  balance,
			Primary:  primary,
		})
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return accountPage{accounts: accounts}, nil
}

var amountCleaner = strings.NewReplacer(",", "", " ", "", " ", "", "€", "", "$", "", "£", "")

func parseAmount(text string) (float64, error) {
	return strconv.ParseFloat(amountCleaner.Replace(text), 64)
}

type activityTransaction struct {
	Id           string  `json:"id"`
	Date         string  `json:"date"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
	Counterparty string  `json:"counterparty"`
	Status       string  `json:"status"`
}

type activityPage struct {
	Data struct {
		Transactions []activityTransaction `json:"transactions"`
	} `json:"data"`
}

func newActivityPage(res browser.Response) (browser.Page, error) {
	var page activityPage
	err := json.Unmarshal(res.Body, &page)
	if err != nil {
		return nil, fmt.Errorf("decode activity: %w", err)
	}
	return page, nil
}

// Transactions returns the transactions in `currency`.
func (p activityPage) Transactions(currency string, loc *time.Location) ([]Transaction, error) {
	out := make([]Transaction, 0, len(p.Data.Transactions))
	for _, t := range p.Data.Transactions {
		if t.Currency != currency {
			continue
		}
		date, err := time.ParseInLocation(time.DateOnly, t.Date, loc)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: %w", t.Id, err)
		}
		out = append(out, Transaction{
			Id:       t.Id,
			Date:     date,
			Amount:   t.Amount,
			Currency: t.Currency,
			Label:    t.Counterparty,
			Status:   t.Status,
		})
	}
	return out, nil
}
