package commands

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"siteadapters/internal/adapters/bank"
	"siteadapters/internal/adapters/listings"
	"siteadapters/internal/adapters/payments"
	"siteadapters/lib/browser/paginate"
)

type accountRow struct {
	Id       string
	Label    string
	Kind     string
	Balance  float64
	Currency string
}

type transactionRow struct {
	Id     string
	Date   time.Time
	Amount float64
	Label  string
}

// site is what the accounts and history commands need from an adapter.
type site interface {
	accounts(ctx context.Context) ([]accountRow, error)
	history(ctx context.Context, accountId string) iter.Seq2[transactionRow, error]
}

var siteNames = []string{"bank", "payments"}

func openSite(ctx context.Context, name string) (site, error) {
	switch name {
	case "bank":
		return openBank(ctx)
	case "payments":
		return openPayments(ctx)
	}
	return nil, fmt.Errorf("unknown site %q, expected one of %s", name, strings.Join(siteNames, ", "))
}

type bankSite struct {
	client *bank.Bank
	cache  []bank.Account
}

func openBank(ctx context.Context) (*bankSite, error) {
	transport, err := cfg.transport("bank", cfg.Bank.Site)
	if err != nil {
		return nil, err
	}
	clock, err := cfg.clock()
	if err != nil {
		return nil, err
	}
	client, err := bank.New(bank.Options{
		BaseUrl:       cfg.Bank.Site.BaseUrl,
		Transport:     transport,
		AccountNumber: cfg.Bank.AccountNumber,
		Clock:         clock,
	})
	if err != nil {
		return nil, err
	}
	err = client.Login(ctx, cfg.Bank.Site.Username, cfg.Bank.Site.Password)
	if err != nil {
		return nil, err
	}
	return &bankSite{client: client}, nil
}

func (s *bankSite) list(ctx context.Context) ([]bank.Account, error) {
	if s.cache != nil {
		return s.cache, nil
	}
	accounts, err := paginate.Collect(s.client.Accounts(ctx))
	if err != nil {
		return nil, err
	}
	s.cache = accounts
	return accounts, nil
}

func (s *bankSite) accounts(ctx context.Context) ([]accountRow, error) {
	accounts, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]accountRow, len(accounts))
	for i, a := range accounts {
		rows[i] = accountRow{
			Id:       a.Id,
			Label:    a.Label,
			Kind:     string(a.Type),
			Balance:  a.Balance,
			Currency: a.Currency,
		}
	}
	return rows, nil
}

func (s *bankSite) history(ctx context.Context, accountId string) iter.Seq2[transactionRow, error] {
	return func(yield func(transactionRow, error) bool) {
		accounts, err := s.list(ctx)
		if err != nil {
			yield(transactionRow{}, err)
			return
		}
		idx := slices.IndexFunc(accounts, func(a bank.Account) bool { return a.Id == accountId })
		if idx < 0 {
			yield(transactionRow{}, fmt.Errorf("account %s: %w", accountId, paginate.ErrNotFound))
			return
		}
		for t, err := range s.client.History(ctx, accounts[idx]) {
			row := transactionRow{Id: t.Id, Date: t.Date, Amount: t.Amount, Label: t.Label}
			if !yield(row, err) || err != nil {
				return
			}
		}
	}
}

type paymentsSite struct {
	client *payments.Payments
}

func openPayments(ctx context.Context) (*paymentsSite, error) {
	transport, err := cfg.transport("payments", cfg.Payments.Site)
	if err != nil {
		return nil, err
	}
	clock, err := cfg.clock()
	if err != nil {
		return nil, err
	}
	client, err := payments.New(payments.Options{
		BaseUrl:       cfg.Payments.Site.BaseUrl,
		Transport:     transport,
		Clock:         clock,
		MinWindow:     cfg.Payments.MinWindow,
		MaxWindow:     cfg.Payments.MaxWindow,
		Density:       cfg.Payments.Density,
		Factor:        cfg.Payments.Factor,
		HistoryMonths: cfg.Payments.HistoryMonths,
	})
	if err != nil {
		return nil, err
	}
	err = client.Login(ctx, cfg.Payments.Site.Username, cfg.Payments.Site.Password)
	if err != nil {
		return nil, err
	}
	return &paymentsSite{client: client}, nil
}

func (s *paymentsSite) accounts(ctx context.Context) ([]accountRow, error) {
	accountType, err := s.client.AccountType(ctx)
	if err != nil {
		return nil, err
	}
	accounts, err := paginate.Collect(s.client.Accounts(ctx))
	if err != nil {
		return nil, err
	}
	rows := make([]accountRow, len(accounts))
	for i, a := range accounts {
		rows[i] = accountRow{
			Id:       a.Id,
			Label:    a.Label,
			Kind:     string(accountType),
			Balance:  a.Balance,
			Currency: a.Currency,
		}
	}
	return rows, nil
}

func (s *paymentsSite) history(ctx context.Context, accountId string) iter.Seq2[transactionRow, error] {
	return func(yield func(transactionRow, error) bool) {
		account := payments.Account{Id: accountId, Currency: accountId}
		for t, err := range s.client.History(ctx, account) {
			row := transactionRow{Id: t.Id, Date: t.Date, Amount: t.Amount, Label: t.Label}
			if !yield(row, err) || err != nil {
				return
			}
		}
	}
}

func openListings() (*listings.Listings, error) {
	transport, err := cfg.transport("listings", cfg.Listings)
	if err != nil {
		return nil, err
	}
	clock, err := cfg.clock()
	if err != nil {
		return nil, err
	}
	return listings.New(listings.Options{
		BaseUrl:   cfg.Listings.BaseUrl,
		Transport: transport,
		Clock:     clock,
	})
}
