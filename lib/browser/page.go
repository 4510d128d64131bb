package browser

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/PuerkitoBio/goquery"
)

// Request is what a Transport sends.
type Request struct {
	Method string
	Url    string
	Header http.Header
	Body   []byte
}

// Response is what a Transport returns. Url is the final url after redirects.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Url        *url.URL
}

// Document parses the body as html.
func (r Response) Document() (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	if r.Url != nil {
		doc.Url = r.Url
	}
	return doc, nil
}

// Transport is the http collaborator of a Session. Implementations keep
// cookies across calls and return *TransportError when no response could be
// obtained.
type Transport interface {
	Send(ctx context.Context, req Request) (Response, error)
}

// RequestSpec describes one navigation.
type RequestSpec struct {
	Method string
	Url    string
	Header http.Header
	Form   url.Values
	Body   []byte

	// the response may resolve to a login page without meaning the session expired
	ExpectLogin bool
	// unmatched responses are returned with Kind NoMatch instead of an error
	AllowUnmatched bool
	// 4xx/5xx responses are returned instead of turned into a TransportError
	AllowErrorStatus bool
}

// Get is a shorthand for a GET RequestSpec.
func Get(rawUrl string) RequestSpec {
	return RequestSpec{Method: http.MethodGet, Url: rawUrl}
}

// PostForm is a shorthand for a form encoded POST RequestSpec.
func PostForm(rawUrl string, form url.Values) RequestSpec {
	return RequestSpec{Method: http.MethodPost, Url: rawUrl, Form: form}
}

// Key identifies the request for loop detection.
func (s RequestSpec) Key() string {
	method := s.Method
	if method == "" {
		method = http.MethodGet
	}
	body := s.Body
	if s.Form != nil {
		body = []byte(s.Form.Encode())
	}
	return fmt.Sprintf("%s %s %s", method, s.Url, body)
}

func (s RequestSpec) request(base *url.URL) (Request, error) {
	method := s.Method
	if method == "" {
		method = http.MethodGet
	}

	target := s.Url
	if base != nil {
		u, err := url.Parse(s.Url)
		if err != nil {
			return Request{}, fmt.Errorf("parse url %q: %w", s.Url, err)
		}
		target = base.ResolveReference(u).String()
	}

	header := s.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	body := s.Body
	if s.Form != nil {
		body = []byte(s.Form.Encode())
		if header.Get("content-type") == "" {
			header.Set("content-type", "application/x-www-form-urlencoded")
		}
	}

	return Request{
		Method: method,
		Url:    target,
		Header: header,
		Body:   body,
	}, nil
}

// Page is a site specific handler bound to one response.
type Page any

// PageFactory builds the page handler for a resolved response.
type PageFactory func(res Response) (Page, error)

// PageHandle is the result of one navigation.
type PageHandle struct {
	Kind     Kind
	Response Response
	Page     Page
}

func (h PageHandle) Url() string {
	if h.Response.Url == nil {
		return ""
	}
	return h.Response.Url.String()
}

// PageAs returns the page of h as a T or an ErrUnexpectedPage error.
func PageAs[T any](h PageHandle) (T, error) {
	page, ok := h.Page.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s resolved to %q (%T)", ErrUnexpectedPage, h.Url(), h.Kind, h.Page)
	}
	return page, nil
}
