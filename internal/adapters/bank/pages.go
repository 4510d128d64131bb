package bank

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"siteadapters/lib/browser"
	"siteadapters/lib/browser/paginate"
)

const (
	kindHome           browser.Kind = "home"
	kindLogin          browser.Kind = "login"
	kindBadPassword    browser.Kind = "error.bad-password"
	kindDisabled       browser.Kind = "error.disabled"
	kindTechnicalError browser.Kind = "error.technical"
	kindUniverses      browser.Kind = "api.universes"
	kindNonce          browser.Kind = "api.nonce"
	kindSwitch         browser.Kind = "api.switch"
	kindAccounts       browser.Kind = "api.accounts"
	kindIban           browser.Kind = "api.iban"
	kindOperations     browser.Kind = "api.operations"
)

func newRegistry(baseUrl string) (browser.Registry, error) {
	return browser.NewRegistryBuilder(baseUrl).
		Register(kindLogin, `/login`, `/transactional/authentication`).
		Register(kindBadPassword, `/errors/bad-password`).
		Register(kindDisabled, `/errors/disabled`).
		Register(kindTechnicalError, `/errors/technical`).
		Register(kindHome, `/transactional/home`).
		Register(kindUniverses, `/transactional/api/menu/universes`).
		Register(kindNonce, `/transactional/api/user/nonce`).
		Register(kindSwitch, `/transactional/api/user/switch`).
		Register(kindIban, `/transactional/api/accounts/[^/]+/iban$`).
		Register(kindAccounts, `/transactional/api/accounts$`).
		Register(kindOperations, `/transactional/api/operations/`).
		Build()
}

// jsonPage decodes the body of a response into a T.
func jsonPage[T any](res browser.Response) (browser.Page, error) {
	var page T
	err := json.Unmarshal(res.Body, &page)
	if err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return page, nil
}

var pageFactories = map[browser.Kind]browser.PageFactory{
	kindUniverses:  jsonPage[universesPage],
	kindNonce:      jsonPage[noncePage],
	kindAccounts:   jsonPage[accountsPage],
	kindIban:       jsonPage[ibanPage],
	kindOperations: jsonPage[operationsPage],
}

type universesPage struct {
	Content struct {
		Menus []struct {
			UniverseKey string `json:"universeKey"`
		} `json:"menus"`
	} `json:"content"`
}

func (p universesPage) keys() []string {
	keys := make([]string, len(p.Content.Menus))
	for i, menu := range p.Content.Menus {
		keys[i] = menu.UniverseKey
	}
	return keys
}

type noncePage struct {
	Content string `json:"content"`
}

type money struct {
	Value    float64 `json:"value"`
	Currency struct {
		Code string `json:"code"`
	} `json:"currency"`
}

type accountsPage struct {
	Content []struct {
		Number     string `json:"number"`
		LongNumber string `json:"longNumber"`
		Title      string `json:"title"`
		Posts      []struct {
			NatureCode  string `json:"natureCode"`
			Consultable bool   `json:"consultable"`
			FileNumber  string `json:"fileNumber"`
			Label       string `json:"label"`
			Balance     money  `json:"balance"`
			Portfolio   bool   `json:"portfolio"`
			Securities  money  `json:"securities"`
		} `json:"posts"`
	} `json:"content"`
}

type ibanPage struct {
	Content *struct {
		Iban string `json:"iban"`
	} `json:"content"`
}

type operation struct {
	Id            string   `json:"id"`
	Amount        float64  `json:"amount"`
	DebitDate     *int64   `json:"debitDate"`
	OperationDate *int64   `json:"operationDate"`
	ValueDate     *int64   `json:"valueDate"`
	Category      string   `json:"category"`
	Label         string   `json:"label"`
	Details       []string `json:"details"`
}

type operationsPage struct {
	Content struct {
		Operations []operation `json:"operations"`
	} `json:"content"`
}

// firstOf returns the first timestamp (in milliseconds) that is set.
func firstOf(loc *time.Location, stamps ...*int64) time.Time {
	for _, stamp := range stamps {
		if stamp != nil {
			t := time.UnixMilli(*stamp).In(loc)
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		}
	}
	return time.Time{}
}

func (o operation) transaction(loc *time.Location) Transaction {
	return Transaction{
		Id:            o.Id,
		Amount:        o.Amount,
		Date:          firstOf(loc, o.DebitDate, o.OperationDate),
		OperationDate: firstOf(loc, o.OperationDate, o.DebitDate),
		ValueDate:     firstOf(loc, o.ValueDate, o.DebitDate, o.OperationDate),
		Category:      o.Category,
		Label:         o.Label,
		Raw:           strings.Join(append([]string{o.Label}, o.Details...), " "),
	}
}

// extractOperations reads one page of operations, the next page is asked
// for as long as the current one is not empty.
func extractOperations(loc *time.Location, nextPage func() browser.RequestSpec) paginate.Extractor[Transaction] {
	return func(h browser.PageHandle) (paginate.Page[Transaction], error) {
		page, err := browser.PageAs[operationsPage](h)
		if err != nil {
			return paginate.Page[Transaction]{}, err
		}

		ops := page.Content.Operations
		out := paginate.Page[Transaction]{Items: make([]Transaction, 0, len(ops))}
		// the site sends operations oldest first
		for i := len(ops) - 1; i >= 0; i-- {
			out.Items = append(out.Items, ops[i].transaction(loc))
		}
		if len(ops) > 0 {
			next := nextPage()
			out.Next = &next
		}
		return out, nil
	}
}
