package restyutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http/cookiejar"
	"net/url"
	"time"

	"siteadapters/lib/browser"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

type TransportOptions struct {
	BaseUrl   string
	UserAgent string
	// defaults to 30 seconds
	Timeout time.Duration
	// requests per second, 0 disables rate limiting
	RateLimit float64
	Burst     int
	// wraps the http transport with cloudflare-bp-go
	CloudflareBypass bool
	// hosts redirects may lead to, defaults to the host of BaseUrl
	RedirectHosts []string
	// receives full request/response dumps when debug logging is enabled
	Output     InstrumentOutput
	TracerName string
}

// Transport is a browser.Transport backed by a resty client with a cookie
// jar, so cookies set by one response are sent with the following requests.
type Transport struct {
	Http    *resty.Client
	BaseUrl *url.URL
}

func NewTransport(opts TransportOptions) (*Transport, error) {
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	client := resty.New()
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	if opts.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	client.SetHeader("user-agent", userAgent)

	hosts := opts.RedirectHosts
	if len(hosts) == 0 && baseUrl.Hostname() != "" {
		hosts = []string{baseUrl.Hostname()}
	}
	if len(hosts) > 0 {
		client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(hosts...))
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = time.Second * 30
	}
	client.SetTimeout(timeout)

	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter := rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
		client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return limiter.Wait(req.Context())
		})
	}

	InstrumentClient(client, opts.TracerName, opts.Output)

	return &Transport{Http: client, BaseUrl: baseUrl}, nil
}

func (t *Transport) Send(ctx context.Context, req browser.Request) (browser.Response, error) {
	r := t.Http.R().
		SetContext(ctx).
		SetHeaderMultiValues(req.Header)
	if len(req.Body) > 0 {
		r.SetBody(req.Body)
	}

	res, err := r.Execute(req.Method, req.Url)
	if err != nil {
		return browser.Response{}, &browser.TransportError{
			Method:  req.Method,
			Url:     req.Url,
			Timeout: isTimeout(err),
			Err:     err,
		}
	}

	finalUrl := res.RawResponse.Request.URL
	return browser.Response{
		StatusCode: res.StatusCode(),
		Header:     res.Header(),
		Body:       res.Body(),
		Url:        finalUrl,
	}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
