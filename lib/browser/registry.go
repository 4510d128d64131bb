package browser

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Kind tags a page handler type.
type Kind string

// NoMatch is returned by Registry.Resolve when no route matches.
const NoMatch Kind = ""

// Matcher reports whether an absolute url belongs to a route.
type Matcher func(u *url.URL) bool

// Route is one (matcher, kind) entry of a registry.
type Route struct {
	Kind     Kind
	Patterns []string
	match    Matcher
}

func (r Route) Match(u *url.URL) bool {
	return r.match(u)
}

// RegistryBuilder collects routes at startup, Build freezes them into a
// Registry.
type RegistryBuilder struct {
	base   *url.URL
	routes []Route
	errs   []error
}

// NewRegistryBuilder creates a builder whose relative patterns only match
// urls on the host of baseUrl. They are matched against the path and query
// of the url: a pattern starting with "/" is rooted at the host, any other
// pattern is rooted at the path of baseUrl, as url.ResolveReference does.
// baseUrl may be empty, relative patterns then match on every host.
func NewRegistryBuilder(baseUrl string) *RegistryBuilder {
	b := &RegistryBuilder{}
	if baseUrl == "" {
		return b
	}
	base, err := url.Parse(strings.TrimRight(baseUrl, "/") + "/")
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("parse base url: %w", err))
		return b
	}
	if !base.IsAbs() || base.Host == "" {
		b.errs = append(b.errs, fmt.Errorf("base url %q is not absolute", baseUrl))
		return b
	}
	b.base = base
	return b
}

var absolutePattern = regexp.MustCompile(`^[\w\\?]+://`)

// Register adds a route matching any of the given regular expressions.
// Matching is anchored at the start of the url only, end a pattern with `$`
// to require an exact match.
func (b *RegistryBuilder) Register(kind Kind, patterns ...string) *RegistryBuilder {
	if kind == NoMatch {
		b.errs = append(b.errs, fmt.Errorf("register %v: empty kind", patterns))
		return b
	}
	if len(patterns) == 0 {
		b.errs = append(b.errs, fmt.Errorf("register %q: no patterns", kind))
		return b
	}

	base := b.base
	absolute := make([]*regexp.Regexp, 0, len(patterns))
	relative := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		isAbsolute := absolutePattern.MatchString(p)
		if !isAbsolute && base != nil && !strings.HasPrefix(p, "/") {
			p = regexp.QuoteMeta(base.EscapedPath()) + p
		}
		re, err := regexp.Compile("^(?:" + p + ")")
		if err != nil {
			b.errs = append(b.errs, fmt.Errorf("register %q: %w", kind, err))
			return b
		}
		if isAbsolute {
			absolute = append(absolute, re)
		} else {
			relative = append(relative, re)
		}
	}

	b.routes = append(b.routes, Route{
		Kind:     kind,
		Patterns: patterns,
		match: func(u *url.URL) bool {
			full := u.String()
			for _, re := range absolute {
				if re.MatchString(full) {
					return true
				}
			}
			if len(relative) == 0 || !onHost(base, u) {
				return false
			}
			requestUri := u.RequestURI()
			for _, re := range relative {
				if re.MatchString(requestUri) {
					return true
				}
			}
			return false
		},
	})
	return b
}

func onHost(base, u *url.URL) bool {
	if base == nil {
		return true
	}
	return strings.EqualFold(base.Scheme, u.Scheme) && strings.EqualFold(base.Host, u.Host)
}

// RegisterFunc adds a route with an arbitrary matcher.
func (b *RegistryBuilder) RegisterFunc(kind Kind, fn Matcher) *RegistryBuilder {
	if kind == NoMatch || fn == nil {
		b.errs = append(b.errs, fmt.Errorf("register func %q: missing kind or matcher", kind))
		return b
	}
	b.routes = append(b.routes, Route{Kind: kind, match: fn})
	return b
}

func (b *RegistryBuilder) Build() (Registry, error) {
	if len(b.errs) > 0 {
		return Registry{}, fmt.Errorf("build registry: %w", b.errs[0])
	}
	routes := make([]Route, len(b.routes))
	copy(routes, b.routes)
	return Registry{base: b.base, routes: routes}, nil
}

// MustBuild is Build for package level registries.
func (b *RegistryBuilder) MustBuild() Registry {
	r, err := b.Build()
	if err != nil {
		panic(err)
	}
	return r
}

// Registry is a frozen, ordered route table. The zero value matches nothing.
type Registry struct {
	base   *url.URL
	routes []Route
}

// BaseUrl returns the url relative references are resolved against, it may be nil.
func (r Registry) BaseUrl() *url.URL {
	return r.base
}

// Routes returns a copy of the route table in match order.
func (r Registry) Routes() []Route {
	out := make([]Route, len(r.routes))
	copy(out, r.routes)
	return out
}

// Resolve returns the kind of the first route matching rawUrl, or NoMatch.
func (r Registry) Resolve(rawUrl string) Kind {
	u, err := url.Parse(rawUrl)
	if err != nil {
		return NoMatch
	}
	return r.ResolveURL(u)
}

func (r Registry) ResolveURL(u *url.URL) Kind {
	if u == nil {
		return NoMatch
	}
	if !u.IsAbs() && r.base != nil {
		u = r.base.ResolveReference(u)
	}
	for _, route := range r.routes {
		if route.match(u) {
			return route.Kind
		}
	}
	return NoMatch
}
