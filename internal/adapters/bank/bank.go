// Package bank scrapes a JSON online banking API whose accounts are split
// across "universes" (personal, business...). Only one universe is active
// at a time on the server side.
package bank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"siteadapters/internal/chrono"
	"siteadapters/lib/browser"
	"siteadapters/lib/browser/paginate"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("siteadapters.internal.adapters.bank")

var ErrNotConsultable = errors.New("account history is not consultable")

const (
	// the login form drops everything after the 8th character
	maxPasswordLength = 8
	historyPageSize   = 50
	historyStart      = "2000-01-01"
)

type AccountType string

const (
	AccountChecking AccountType = "checking"
	AccountSavings  AccountType = "savings"
	AccountDeposit  AccountType = "deposit"
	AccountCard     AccountType = "card"
	AccountMarket   AccountType = "market"
	AccountUnknown  AccountType = "unknown"
)

var accountTypes = map[string]AccountType{
	"000": AccountChecking,
	"999": AccountMarket,
	"011": AccountCard,
	"023": AccountSavings,
	"078": AccountSavings,
	"080": AccountSavings,
	"027": AccountSavings,
	"037": AccountSavings,
	"730": AccountDeposit,
}

type Account struct {
	Id          string
	Number      string
	Nature      string
	FileNumber  string
	Label       string
	Type        AccountType
	Balance     float64
	Currency    string
	Iban        string
	Universe    string
	Consultable bool
}

type Transaction struct {
	Id            string
	Amount        float64
	Date          time.Time
	OperationDate time.Time
	ValueDate     time.Time
	Category      string
	Label         string
	Raw           string
}

type Options struct {
	BaseUrl   string
	Transport browser.Transport
	// only accounts with this number are listed, empty lists every account
	AccountNumber string
	Clock         chrono.API
}

type Bank struct {
	session       *browser.Session
	accountNumber string
	clock         chrono.API

	universes []string
}

func New(opts Options) (*Bank, error) {
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
		Site:            "bank",
		Transport:       opts.Transport,
		Registry:        registry,
		Pages:           pageFactories,
		Authenticator:   browser.AuthenticatorFunc(login),
		ContextSwitcher: browser.ContextSwitcherFunc(switchUniverse),
		LoginKinds:      []browser.Kind{kindLogin},
	})
	if err != nil {
		return nil, err
	}
	return &Bank{
		session:       session,
		accountNumber: opts.AccountNumber,
		clock:         clock,
	}, nil
}

func (b *Bank) Session() *browser.Session {
	return b.session
}

func (b *Bank) Login(ctx context.Context, username, password string) error {
	if len(password) > maxPasswordLength {
		password = password[:maxPasswordLength]
	}
	return b.session.Login(ctx, browser.Credentials{Username: username, Password: password})
}

func login(ctx context.Context, r browser.Requester, creds browser.Credentials) error {
	spec := browser.PostForm("/transactional/authentication", url.Values{
		"identifier": {creds.Username},
		"password":   {creds.Password},
	})
	spec.ExpectLogin = true
	spec.AllowUnmatched = true

	h, err := r.Request(ctx, spec)
	if err != nil {
		return err
	}
	switch h.Kind {
	case kindBadPassword, kindLogin:
		return browser.NewLoginError(browser.ErrInvalidCredentials, "bad login or password")
	case kindDisabled:
		return browser.NewLoginError(browser.ErrAccountLocked, "the account is disabled")
	case kindTechnicalError:
		return browser.NewLoginError(browser.ErrBackendUnavailable, "a technical error occurred")
	}
	return nil
}

func switchUniverse(ctx context.Context, r browser.Requester, universe string) error {
	h, err := r.Request(ctx, browser.Get("/transactional/api/user/nonce?random="))
	if err != nil {
		return fmt.Errorf("get nonce: %w", err)
	}
	nonce, err := browser.PageAs[noncePage](h)
	if err != nil {
		return err
	}

	body, err := json.Marshal(map[string]string{
		"all":      "true",
		"universe": universe,
	})
	if err != nil {
		return err
	}
	_, err = r.Request(ctx, browser.RequestSpec{
		Method: http.MethodPost,
		Url:    "/transactional/api/user/switch",
		Header: http.Header{
			"Content-Type": {"application/json"},
			"X-Token":      {nonce.Content},
		},
		Body: body,
	})
	if err != nil {
		return fmt.Errorf("switch: %w", err)
	}
	return nil
}

func (b *Bank) listUniverses(ctx context.Context) ([]string, error) {
	h, err := b.session.Request(ctx, browser.Get("/transactional/api/menu/universes"))
	if err != nil {
		return nil, err
	}
	page, err := browser.PageAs[universesPage](h)
	if err != nil {
		return nil, err
	}
	return page.keys(), nil
}

// Universes lists the universes of the user, the empty string stands for
// the default universe of users that have no other.
func (b *Bank) Universes(ctx context.Context) ([]string, error) {
	if b.universes != nil {
		return b.universes, nil
	}

	ctx, span := tracer.Start(ctx, "bank:Universes")
	defer span.End()

	universes, err := b.listUniverses(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list universes")
		return nil, err
	}
	if len(universes) == 0 {
		b.universes = []string{""}
		return b.universes, nil
	}

	// the menu omits the active universe, it shows up once another is active
	err = b.session.SwitchContext(ctx, universes[0])
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to switch universe")
		return nil, err
	}
	others, err := b.listUniverses(ctx)
	if err != nil {
		return nil, err
	}
	for _, key := range others {
		if !slices.Contains(universes, key) {
			universes = append(universes, key)
		}
	}

	span.SetAttributes(attribute.StringSlice("universes", universes))
	b.universes = universes
	return universes, nil
}

func (b *Bank) moveTo(ctx context.Context, universe string) error {
	if universe == "" {
		return nil
	}
	current, ok := b.session.CurrentContext()
	if ok && current == universe {
		return nil
	}
	return b.session.SwitchContext(ctx, universe)
}

// Accounts lists the accounts of every universe.
func (b *Bank) Accounts(ctx context.Context) iter.Seq2[Account, error] {
	return func(yield func(Account, error) bool) {
		universes, err := b.Universes(ctx)
		if err != nil {
			yield(Account{}, err)
			return
		}
		for _, universe := range universes {
			err = b.moveTo(ctx, universe)
			if err != nil {
				yield(Account{}, err)
				return
			}
			accounts, err := b.universeAccounts(ctx, universe)
			if err != nil {
				yield(Account{}, fmt.Errorf("universe %q: %w", universe, err))
				return
			}
			for _, account := range accounts {
				if !yield(account, nil) {
					return
				}
			}
		}
	}
}

func (b *Bank) universeAccounts(ctx context.Context, universe string) ([]Account, error) {
	h, err := b.session.Request(ctx, browser.Get("/transactional/api/accounts"))
	if err != nil {
		return nil, err
	}
	page, err := browser.PageAs[accountsPage](h)
	if err != nil {
		return nil, err
	}

	var out []Account
	for _, content := range page.Content {
		if b.accountNumber != "" && content.Number != b.accountNumber {
			continue
		}
		iban, err := b.iban(ctx, content.LongNumber)
		if err != nil {
			return nil, err
		}

		for _, post := range content.Posts {
			base := Account{
				Id:          fmt.Sprintf("%s.%s", content.LongNumber, post.NatureCode),
				Number:      content.LongNumber,
				Nature:      post.NatureCode,
				FileNumber:  post.FileNumber,
				Type:        accountTypes[post.NatureCode],
				Iban:        iban,
				Universe:    universe,
				Consultable: post.Consultable,
			}
			if base.Type == "" {
				base.Type = AccountUnknown
			}
			if post.FileNumber != "" {
				base.Id += "." + post.FileNumber
			}

			if post.Portfolio {
				securities := base
				securities.Id += ".securities"
				securities.Label = "Securities portfolio"
				securities.Type = AccountMarket
				securities.Balance = post.Securities.Value
				securities.Currency = strings.TrimSpace(post.Securities.Currency.Code)
				out = append(out, securities)
			}
			if post.Label == "" {
				continue
			}

			account := base
			account.Label = strings.TrimSpace(content.Title) + " " + strings.TrimSpace(post.Label)
			account.Balance = post.Balance.Value
			account.Currency = strings.TrimSpace(post.Balance.Currency.Code)
			out = append(out, account)
		}
	}
	return out, nil
}

func (b *Bank) iban(ctx context.Context, number string) (string, error) {
	h, err := b.session.Request(ctx, browser.Get(fmt.Sprintf(
		"/transactional/api/accounts/%s/iban",
		url.PathEscape(number),
	)))
	if err != nil {
		return "", fmt.Errorf("iban of %s: %w", number, err)
	}
	page, err := browser.PageAs[ibanPage](h)
	if err != nil {
		return "", err
	}
	if page.Content == nil {
		return "", nil
	}
	return page.Content.Iban, nil
}

// History lists the transactions of an account, most recent first within
// each page of the site.
func (b *Bank) History(ctx context.Context, account Account) iter.Seq2[Transaction, error] {
	return func(yield func(Transaction, error) bool) {
		if !account.Consultable {
			yield(Transaction{}, fmt.Errorf("%s: %w", account.Id, ErrNotConsultable))
			return
		}
		err := b.moveTo(ctx, account.Universe)
		if err != nil {
			yield(Transaction{}, err)
			return
		}

		end := chrono.Today(b.clock).Format(time.DateOnly)
		offset := 0
		pageSpec := func() browser.RequestSpec {
			return browser.Get(fmt.Sprintf(
				"/transactional/api/operations/%s/%s/00/%s/%s/%s/%d/%d",
				url.PathEscape(account.Number),
				url.PathEscape(account.Nature),
				url.PathEscape(account.Currency),
				historyStart, end,
				offset, historyPageSize,
			))
		}
		first := pageSpec()

		seq := paginate.Iterate(ctx, b.session, first, paginate.Options[Transaction]{
			Extract: extractOperations(b.clock.Location(), func() browser.RequestSpec {
				offset += historyPageSize
				return pageSpec()
			}),
			Identity: func(t Transaction) string { return t.Id },
			SortPage: func(a, c Transaction) int { return c.OperationDate.Compare(a.OperationDate) },
		})
		for t, err := range seq {
			if err != nil {
				slog.WarnContext(ctx, "history interrupted", "account", account.Id, "err", err)
			}
			if !yield(t, err) {
				return
			}
		}
	}
}
