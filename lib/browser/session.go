package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

type State int

const (
	StateAnonymous State = iota
	StateAuthenticated
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Credentials are opaque to the session, only the site's Authenticator reads them.
type Credentials struct {
	Username string
	Password string
	Extra    map[string]string
}

// Requester issues one navigation and resolves its response.
type Requester interface {
	Request(ctx context.Context, spec RequestSpec) (PageHandle, error)
}

// Authenticator performs the site's login flow. The requester it receives
// never re-authenticates, failures should be reported with NewLoginError.
type Authenticator interface {
	Login(ctx context.Context, r Requester, creds Credentials) error
}

type AuthenticatorFunc func(ctx context.Context, r Requester, creds Credentials) error

func (f AuthenticatorFunc) Login(ctx context.Context, r Requester, creds Credentials) error {
	return f(ctx, r, creds)
}

// ContextSwitcher moves the server side session to another sub-context
// (ex. an account universe).
type ContextSwitcher interface {
	Switch(ctx context.Context, r Requester, token string) error
}

type ContextSwitcherFunc func(ctx context.Context, r Requester, token string) error

func (f ContextSwitcherFunc) Switch(ctx context.Context, r Requester, token string) error {
	return f(ctx, r, token)
}

type SessionOptions struct {
	// used in logs and metrics
	Site      string
	Transport Transport
	Registry  Registry
	Pages     map[Kind]PageFactory
	// nil for sites that need no login
	Authenticator   Authenticator
	ContextSwitcher ContextSwitcher
	// resolving to one of these kinds without RequestSpec.ExpectLogin means
	// the session has expired
	LoginKinds []Kind
	// nil means DefaultPolicy
	Policy *Policy
}

// Session drives one logged in browsing session. It is not meant to be used
// from several goroutines at once, every operation is serialized.
type Session struct {
	id              string
	site            string
	transport       Transport
	registry        Registry
	pages           map[Kind]PageFactory
	auth            Authenticator
	switcher        ContextSwitcher
	loginKinds      []Kind
	policy          Policy
	logger          *slog.Logger
	metricAttribute metric.MeasurementOption

	mu         sync.Mutex
	creds      *Credentials
	state      State
	ctxToken   *string
	ctxVersion uint64
	last       PageHandle
}

func NewSession(opts SessionOptions) (*Session, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("new session: transport is required")
	}
	policy := DefaultPolicy()
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	id := uuid.NewString()
	return &Session{
		id:              id,
		site:            opts.Site,
		transport:       opts.Transport,
		registry:        opts.Registry,
		pages:           opts.Pages,
		auth:            opts.Authenticator,
		switcher:        opts.ContextSwitcher,
		loginKinds:      opts.LoginKinds,
		policy:          policy,
		logger:          slog.Default().With("site", opts.Site, "session", id),
		metricAttribute: metric.WithAttributes(attribute.String("site", opts.Site)),
	}, nil
}

func (s *Session) Id() string {
	return s.id
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Last returns the last resolved page.
func (s *Session) Last() PageHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// IsHere reports whether the last resolved page has the given kind.
func (s *Session) IsHere(kind Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last.Kind != NoMatch && s.last.Kind == kind
}

// CurrentContext returns the active sub-context token, ok is false when no
// switch has completed yet.
func (s *Session) CurrentContext() (token string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctxToken == nil {
		return "", false
	}
	return *s.ctxToken, true
}

// ContextVersion is incremented by every SwitchContext call.
func (s *Session) ContextVersion() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctxVersion
}

func (s *Session) Login(ctx context.Context, creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = &creds
	return s.login(ctx)
}

func (s *Session) EnsureAuthenticated(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureAuthenticated(ctx)
}

func (s *Session) Request(ctx context.Context, spec RequestSpec) (PageHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.request(ctx, spec)
}

// StayOrGo returns the last page when it already has the given kind,
// otherwise it requests spec and expects the response to resolve to kind.
func (s *Session) StayOrGo(ctx context.Context, kind Kind, spec RequestSpec) (PageHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last.Kind != NoMatch && s.last.Kind == kind {
		return s.last, nil
	}
	h, err := s.request(ctx, spec)
	if err != nil {
		return PageHandle{}, err
	}
	if h.Kind != kind {
		return h, fmt.Errorf("%w: expected %q, got %q at %s", ErrUnexpectedPage, kind, h.Kind, h.Url())
	}
	return h, nil
}

// SwitchContext changes the active sub-context. The token is recorded only
// once the switch completed, requests issued afterwards observe it.
func (s *Session) SwitchContext(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := tracer.Start(ctx, "session:SwitchContext")
	defer span.End()
	span.SetAttributes(attribute.String("token", token))

	if s.switcher == nil {
		return fmt.Errorf("switch context: site %q has no sub-contexts", s.site)
	}
	err := s.ensureAuthenticated(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to authenticate")
		return err
	}

	s.ctxVersion++
	err = s.switcher.Switch(ctx, heldRequester{s: s}, token)
	if err != nil {
		// the server side context is unknown now
		s.ctxToken = nil
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to switch context")
		return fmt.Errorf("switch context to %q: %w", token, err)
	}
	s.ctxToken = &token
	s.logger.DebugContext(ctx, "switched context", "token", token)
	return nil
}

func (s *Session) ensureAuthenticated(ctx context.Context) error {
	if s.auth == nil || s.state == StateAuthenticated {
		return nil
	}
	return s.login(ctx)
}

func (s *Session) login(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "session:Login")
	defer span.End()

	if s.auth == nil {
		s.state = StateAuthenticated
		return nil
	}
	if s.creds == nil {
		err := NewLoginError(ErrInvalidCredentials, "no credentials provided")
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	err := s.auth.Login(ctx, rawRequester{s: s}, *s.creds)
	if err != nil {
		var loginErr *LoginError
		if !errors.As(err, &loginErr) {
			loginErr = &LoginError{Kind: ErrBackendUnavailable, Err: err}
		}
		if s.state == StateAuthenticated {
			s.state = StateExpired
		}
		loginFailureCounter.Add(ctx, 1, s.metricAttribute)
		span.RecordError(loginErr)
		span.SetStatus(codes.Error, "login failed")
		s.logger.WarnContext(ctx, "login failed", "kind", loginErr.Kind.Error(), "err", loginErr)
		return loginErr
	}

	s.state = StateAuthenticated
	s.logger.DebugContext(ctx, "logged in")
	return nil
}

func (s *Session) request(ctx context.Context, spec RequestSpec) (PageHandle, error) {
	ctx, span := tracer.Start(ctx, "session:Request")
	defer span.End()
	span.SetAttributes(attribute.String("url", spec.Url))

	err := s.ensureAuthenticated(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to authenticate")
		return PageHandle{}, err
	}

	h, err := s.do(ctx, spec)
	if err == nil {
		return h, nil
	}
	if s.auth == nil || !s.policy.ShouldRelogin(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return PageHandle{}, err
	}

	s.state = StateExpired
	reloginCounter.Add(ctx, 1, s.metricAttribute)
	s.logger.WarnContext(ctx, "session expired, logging in again", "url", spec.Url, "err", err)
	span.AddEvent("relogin")

	err = s.login(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "relogin failed")
		s.state = StateExpired
		return PageHandle{}, err
	}
	if s.ctxToken != nil && s.switcher != nil {
		err = s.switcher.Switch(ctx, rawRequester{s: s}, *s.ctxToken)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to restore context")
			return PageHandle{}, fmt.Errorf("restore context %q after relogin: %w", *s.ctxToken, err)
		}
	}

	h, err = s.do(ctx, spec)
	if err != nil {
		if s.policy.ShouldRelogin(err) {
			s.state = StateExpired
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed after relogin")
		return PageHandle{}, err
	}
	return h, nil
}

// do sends one request without any authentication handling.
func (s *Session) do(ctx context.Context, spec RequestSpec) (PageHandle, error) {
	req, err := spec.request(s.registry.BaseUrl())
	if err != nil {
		return PageHandle{}, err
	}

	requestCounter.Add(ctx, 1, s.metricAttribute)
	res, err := s.transport.Send(ctx, req)
	if err != nil {
		var terr *TransportError
		if !errors.As(err, &terr) {
			err = &TransportError{Method: req.Method, Url: req.Url, Err: err}
		}
		return PageHandle{}, err
	}
	if res.StatusCode >= 400 && !spec.AllowErrorStatus {
		return PageHandle{}, &TransportError{
			Method:     req.Method,
			Url:        req.Url,
			StatusCode: res.StatusCode,
		}
	}

	finalUrl := req.Url
	if res.Url != nil {
		finalUrl = res.Url.String()
	}
	kind := s.registry.Resolve(finalUrl)

	if kind != NoMatch && !spec.ExpectLogin && slices.Contains(s.loginKinds, kind) {
		return PageHandle{}, &SessionExpiredError{Url: finalUrl, Kind: kind}
	}
	if kind == NoMatch {
		if !spec.AllowUnmatched {
			return PageHandle{}, &UnresolvedPageError{Url: finalUrl}
		}
		return PageHandle{Kind: NoMatch, Response: res}, nil
	}

	h := PageHandle{Kind: kind, Response: res}
	if factory, ok := s.pages[kind]; ok && factory != nil {
		h.Page, err = factory(res)
		if err != nil {
			return PageHandle{}, fmt.Errorf("build %q page for %s: %w", kind, finalUrl, err)
		}
	}
	s.last = h
	return h, nil
}

type rawRequester struct {
	s *Session
}

func (r rawRequester) Request(ctx context.Context, spec RequestSpec) (PageHandle, error) {
	return r.s.do(ctx, spec)
}

// heldRequester is handed to collaborators invoked while s.mu is held.
type heldRequester struct {
	s *Session
}

func (r heldRequester) Request(ctx context.Context, spec RequestSpec) (PageHandle, error) {
	return r.s.request(ctx, spec)
}
