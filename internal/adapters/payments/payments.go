// Package payments scrapes an online payment provider. The login form is
// guarded by a javascript challenge, business accounts read their history
// through an endpoint that only accepts bounded date ranges.
package payments

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"time"

	"siteadapters/internal/chrono"
	"siteadapters/lib/browser"
	"siteadapters/lib/browser/window"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("siteadapters.internal.adapters.payments")

const (
	DefaultMinWindow     = 30
	DefaultMaxWindow     = 180
	MaxWindowLimit       = 730
	DefaultHistoryMonths = 24

	// the business activity endpoint expects dd/mm/yyyy
	businessDateLayout = "02/01/2006"
)

type AccountType string

const (
	AccountPersonal AccountType = "personal"
	AccountBusiness AccountType = "business"
)

type Account struct {
	Id       string
	Label    string
	Currency string
	Balance  float64
	Primary  bool
}

type Transaction struct {
	Id       string
	Date     time.Time
	Amount   float64
	Currency string
	Label    string
	Status   string
}

type Options struct {
	BaseUrl   string
	Transport browser.Transport
	Clock     chrono.API

	// bounds of the history windows in days, 0 picks the defaults
	MinWindow int
	MaxWindow int
	// batch size above which the next window shrinks and the factor windows
	// grow or shrink by, 0 picks the window package defaults
	Density int
	Factor  float64
	// how far back the site keeps history, 0 picks DefaultHistoryMonths
	HistoryMonths int
}

func (o Options) withDefaults() Options {
	if o.MinWindow == 0 {
		o.MinWindow = DefaultMinWindow
	}
	if o.MaxWindow == 0 {
		o.MaxWindow = DefaultMaxWindow
	}
	if o.HistoryMonths == 0 {
		o.HistoryMonths = DefaultHistoryMonths
	}
	return o
}

func (o Options) Validate() error {
	if o.MaxWindow > MaxWindowLimit {
		return fmt.Errorf("%w: max window %d > %d days", window.ErrInvalidWindow, o.MaxWindow, MaxWindowLimit)
	}
	if o.MinWindow < 1 || o.MinWindow > o.MaxWindow {
		return fmt.Errorf("%w: window bounds %d..%d", window.ErrInvalidWindow, o.MinWindow, o.MaxWindow)
	}
	if o.HistoryMonths < 0 {
		return fmt.Errorf("history months %d < 0", o.HistoryMonths)
	}
	return o.windowOptions().Validate()
}

func (o Options) windowOptions() window.Options[Transaction] {
	return window.Options[Transaction]{
		MinWindow: o.MinWindow,
		MaxWindow: o.MaxWindow,
		Density:   o.Density,
		Factor:    o.Factor,
	}
}

type Payments struct {
	session *browser.Session
	clock   chrono.API
	opts    Options

	accountType AccountType
}

func New(opts Options) (*Payments, error) {
	opts = opts.withDefaults()
	err := opts.Validate()
	if err != nil {
		return nil, err
	}

	registry, err := newRegistry(opts.BaseUrl)
	if err != nil {
		return nil, err
	}
	clock := opts.Clock
	if clock == nil {
		clock, err = chrono.NewStandardImpl("")
		if err != nil {
			return nil, err
		}
	}

	session, err := browser.NewSession(browser.SessionOptions{
		Site:          "payments",
		Transport:     opts.Transport,
		Registry:      registry,
		Pages:         pageFactories,
		Authenticator: browser.AuthenticatorFunc(login),
		LoginKinds:    []browser.Kind{kindLogin, kindCaptcha},
	})
	if err != nil {
		return nil, err
	}
	return &Payments{session: session, clock: clock, opts: opts}, nil
}

func (p *Payments) Session() *browser.Session {
	return p.session
}

// Login signs in and detects the type of the account.
func (p *Payments) Login(ctx context.Context, username, password string) error {
	err := p.session.Login(ctx, browser.Credentials{Username: username, Password: password})
	if err != nil {
		return err
	}
	p.accountType = ""
	_, err = p.AccountType(ctx)
	return err
}

func login(ctx context.Context, r browser.Requester, creds browser.Credentials) error {
	signin := browser.Get("/signin")
	signin.ExpectLogin = true
	h, err := r.Request(ctx, signin)
	if err != nil {
		return err
	}
	page, err := browser.PageAs[loginPage](h)
	if err != nil {
		return err
	}

	scriptUrl, err := page.ScriptUrl()
	if err != nil {
		return err
	}
	h, err = r.Request(ctx, browser.Get(scriptUrl))
	if err != nil {
		return fmt.Errorf("get challenge: %w", err)
	}
	challenge, err := browser.PageAs[challengePage](h)
	if err != nil {
		return err
	}

	_, err = r.Request(ctx, browser.PostForm("/auth/verifychallenge", url.Values{
		"ads_token_js":  {challenge.Token()},
		"_csrf":         {page.Csrf()},
		challenge.Key(): {challenge.Value()},
	}))
	if err != nil {
		return fmt.Errorf("verify challenge: %w", err)
	}

	submit := browser.PostForm(page.Action(), page.LoginForm(creds.Username, creds.Password))
	submit.ExpectLogin = true
	submit.AllowUnmatched = true
	h, err = r.Request(ctx, submit)
	if err != nil {
		return err
	}
	switch h.Kind {
	case kindCaptcha:
		return browser.NewLoginError(browser.ErrInvalidCredentials, "a captcha was asked, the credentials are likely wrong")
	case kindLogin:
		result, err := browser.PageAs[loginPage](h)
		if err == nil && result.Failed() {
			return browser.NewLoginError(browser.ErrInvalidCredentials, "bad login or password")
		}
		return browser.NewLoginError(browser.ErrInvalidCredentials, "still on the login page")
	case browser.NoMatch:
		return browser.NewLoginError(browser.ErrBackendUnavailable, fmt.Sprintf("unexpected page %s after login", h.Url()))
	}
	return nil
}

// AccountType tells personal accounts, which can open /myaccount/, from
// business ones which get redirected.
func (p *Payments) AccountType(ctx context.Context) (AccountType, error) {
	if p.accountType != "" {
		return p.accountType, nil
	}

	spec := browser.Get("/myaccount/")
	spec.AllowUnmatched = true
	h, err := p.session.Request(ctx, spec)
	if err != nil {
		return "", fmt.Errorf("detect account type: %w", err)
	}
	switch h.Kind {
	case kindPersonalHome:
		p.accountType = AccountPersonal
	case kindBusinessHome:
		p.accountType = AccountBusiness
	default:
		return "", fmt.Errorf("detect account type: %w: %s", browser.ErrUnexpectedPage, h.Url())
	}
	slog.DebugContext(ctx, "detected account type", "type", p.accountType)
	return p.accountType, nil
}

// Accounts lists one account per currency held.
func (p *Payments) Accounts(ctx context.Context) iter.Seq2[Account, error] {
	return func(yield func(Account, error) bool) {
		accountType, err := p.AccountType(ctx)
		if err != nil {
			yield(Account{}, err)
			return
		}
		target := "/businessexp/money"
		if accountType == AccountPersonal {
			target = "/myaccount/money"
		}

		h, err := p.session.StayOrGo(ctx, kindAccount, browser.Get(target))
		if err != nil {
			yield(Account{}, err)
			return
		}
		page, err := browser.PageAs[accountPage](h)
		if err != nil {
			yield(Account{}, err)
			return
		}
		for _, account := range page.accounts {
			if !yield(account, nil) {
				return
			}
		}
	}
}

// History lists the transactions of an account, most recent first.
func (p *Payments) History(ctx context.Context, account Account) iter.Seq2[Transaction, error] {
	return func(yield func(Transaction, error) bool) {
		accountType, err := p.AccountType(ctx)
		if err != nil {
			yield(Transaction{}, err)
			return
		}

		var seq iter.Seq2[Transaction, error]
		switch accountType {
		case AccountPersonal:
			seq = p.personalHistory(ctx, account)
		default:
			seq = p.businessHistory(ctx, account)
		}
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

func (p *Payments) historyRange() (time.Time, time.Time) {
	end := chrono.Today(p.clock)
	return end.AddDate(0, -p.opts.HistoryMonths, 0), end
}

func byDateDesc(a, b Transaction) int {
	return b.Date.Compare(a.Date)
}

// personalHistory reads the whole range in one filtered request.
func (p *Payments) personalHistory(ctx context.Context, account Account) iter.Seq2[Transaction, error] {
	return func(yield func(Transaction, error) bool) {
		ctx, span := tracer.Start(ctx, "payments:personalHistory")
		defer span.End()

		begin, end := p.historyRange()
		query := url.Values{
			"transactionType": {"ALL"},
			"startDate":       {begin.Format(time.DateOnly)},
			"endDate":         {end.Format(time.DateOnly)},
		}
		spec := browser.Get("/myaccount/activity/filter?" + query.Encode())
		spec.Header = http.Header{"Accept": {"application/json"}}

		h, err := p.session.Request(ctx, spec)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to fetch activity")
			yield(Transaction{}, err)
			return
		}
		page, err := browser.PageAs[activityPage](h)
		if err != nil {
			yield(Transaction{}, err)
			return
		}
		transactions, err := page.Transactions(account.Currency, p.clock.Location())
		if err != nil {
			yield(Transaction{}, err)
			return
		}
		slices.SortStableFunc(transactions, byDateDesc)
		span.SetAttributes(attribute.Int("transactions", len(transactions)))

		for _, t := range transactions {
			if !yield(t, nil) {
				return
			}
		}
	}
}

// businessHistory walks the range backwards with adaptive windows.
func (p *Payments) businessHistory(ctx context.Context, account Account) iter.Seq2[Transaction, error] {
	begin, end := p.historyRange()
	loc := p.clock.Location()

	fetch := func(ctx context.Context, w window.FetchWindow) ([]Transaction, error) {
		query := url.Values{
			"fromdate":        {w.Start.Format(businessDateLayout)},
			"todate":          {w.End.Format(businessDateLayout)},
			"transactiontype": {"ALL_TRANSACTIONS"},
			"currency":        {"ALL_TRANSACTIONS_CURRENCY"},
		}
		spec := browser.Get("/webapps/business/activity?" + query.Encode())
		spec.Header = http.Header{
			"Accept":           {"application/json"},
			"X-Requested-With": {"XMLHttpRequest"},
		}

		h, err := p.session.Request(ctx, spec)
		if err != nil {
			return nil, err
		}
		page, err := browser.PageAs[activityPage](h)
		if err != nil {
			return nil, err
		}
		return page.Transactions(account.Currency, loc)
	}

	opts := p.opts.windowOptions()
	opts.Less = byDateDesc
	opts.OnWindow = func(w window.FetchWindow, n int) {
		slog.DebugContext(ctx, "fetched window", "window", w.String(), "transactions", n)
	}
	return window.FetchRange(ctx, begin, end, opts, fetch)
}
