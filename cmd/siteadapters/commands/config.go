package commands

import (
	"errors"
	"fmt"
	"log/slog"

	"siteadapters/internal/adapters/payments"
	"siteadapters/internal/chrono"
	"siteadapters/lib/restyutil"
)

type SiteConfig struct {
	BaseUrl  string `json:"base_url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type BankConfig struct {
	Site SiteConfig `json:"site"`
	// lists only the accounts with this number
	AccountNumber string `json:"account_number"`
}

type PaymentsConfig struct {
	Site          SiteConfig `json:"site"`
	MinWindow     int        `json:"min_window"`
	MaxWindow     int        `json:"max_window"`
	Density       int        `json:"density"`
	Factor        float64    `json:"factor"`
	HistoryMonths int        `json:"history_months"`
}

type Config struct {
	Bank     BankConfig     `json:"bank"`
	Payments PaymentsConfig `json:"payments"`
	Listings SiteConfig     `json:"listings"`

	// requests per second for every site, 0 means unlimited
	RateLimit        float64 `json:"rate_limit"`
	CloudflareBypass bool    `json:"cloudflare_bypass"`
	// IANA zone the dates of the sites are read in
	Timezone string `json:"timezone"`
	// directory http exchanges are dumped to with --verbose
	DebugOutput string `json:"debug_output"`
}

func (c Config) Validate() error {
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must be >= 0, got %v", c.RateLimit)
	}
	if c.Payments.MaxWindow > payments.MaxWindowLimit {
		return fmt.Errorf("payments.max_window must be <= %d, got %d", payments.MaxWindowLimit, c.Payments.MaxWindow)
	}
	if c.Payments.MinWindow < 0 || c.Payments.MaxWindow < 0 {
		return errors.New("payments window bounds must be positive")
	}
	if c.Payments.MaxWindow > 0 && c.Payments.MinWindow > c.Payments.MaxWindow {
		return fmt.Errorf("payments.min_window (%d) > payments.max_window (%d)", c.Payments.MinWindow, c.Payments.MaxWindow)
	}
	if c.Payments.Density < 0 {
		return fmt.Errorf("payments.density must be >= 1, got %d", c.Payments.Density)
	}
	if c.Payments.Factor != 0 && c.Payments.Factor <= 1 {
		return fmt.Errorf("payments.factor must be > 1, got %v", c.Payments.Factor)
	}
	if c.Timezone != "" {
		_, err := chrono.NewStandardImpl(c.Timezone)
		if err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}
	return nil
}

func (c Config) clock() (chrono.API, error) {
	if c.Timezone == "" {
		return nil, nil
	}
	return chrono.NewStandardImpl(c.Timezone)
}

func (c Config) transport(site string, siteCfg SiteConfig) (*restyutil.Transport, error) {
	if siteCfg.BaseUrl == "" {
		return nil, fmt.Errorf("%s.base_url is not configured", site)
	}

	opts := restyutil.TransportOptions{
		BaseUrl:          siteCfg.BaseUrl,
		RateLimit:        c.RateLimit,
		CloudflareBypass: c.CloudflareBypass,
		TracerName:       "siteadapters.cmd." + site,
	}
	if verbose && c.DebugOutput != "" {
		output, err := restyutil.NewFilesystemOutput(fmt.Sprintf("%s/%s", c.DebugOutput, site))
		if err != nil {
			return nil, err
		}
		slog.Debug("dumping http exchanges", "dir", output.Directory())
		opts.Output = output
	}
	return restyutil.NewTransport(opts)
}
