package browser

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

type transportFunc func(ctx context.Context, req Request) (Response, error)

func (f transportFunc) Send(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

func respond(t testing.TB, rawUrl string, status int, body string) Response {
	u, err := url.Parse(rawUrl)
	require.NoError(t, err)
	return Response{StatusCode: status, Header: http.Header{}, Body: []byte(body), Url: u}
}

type accountsPage struct {
	body string
}

// fakeSite is a tiny in-memory site whose session can be invalidated.
type fakeSite struct {
	t          testing.TB
	loggedIn   bool
	logins     int
	switches   []string
	universe   string
	expireNext int
	loginErr   error
	// status returned instead of a login redirect when the session is gone
	expiredStatus int
	requests      []string
}

const fakeBase = "https://bank.example.com"

func (f *fakeSite) registry() Registry {
	return NewRegistryBuilder(fakeBase).
		Register(kindLogin, "/login").
		Register(kindAccounts, "/accounts").
		Register(kindHome, "/switch$", "/home$").
		MustBuild()
}

func (f *fakeSite) send(_ context.Context, req Request) (Response, error) {
	f.requests = append(f.requests, req.Method+" "+req.Url)
	u, _ := url.Parse(req.Url)
	switch u.Path {
	case "/login":
		if req.Method == http.MethodPost {
			if f.loginErr != nil {
				return respond(f.t, fakeBase+"/login?error=1", 200, ""), nil
			}
			f.loggedIn = true
			f.logins++
			f.universe = ""
			return respond(f.t, fakeBase+"/home", 200, ""), nil
		}
		return respond(f.t, fakeBase+"/login", 200, ""), nil
	case "/switch":
		f.universe = u.Query().Get("to")
		f.switches = append(f.switches, f.universe)
		return respond(f.t, fakeBase+"/switch", 200, ""), nil
	case "/unknown":
		return respond(f.t, fakeBase+"/unknown", 200, ""), nil
	case "/timeout":
		return Response{}, &TransportError{Method: req.Method, Url: req.Url, Timeout: true, Err: context.DeadlineExceeded}
	}

	if f.expireNext > 0 {
		f.expireNext--
		f.loggedIn = false
	}
	if !f.loggedIn {
		if f.expiredStatus != 0 {
			return respond(f.t, req.Url, f.expiredStatus, ""), nil
		}
		return respond(f.t, fakeBase+"/login", 200, ""), nil
	}
	return respond(f.t, req.Url, 200, "universe="+f.universe), nil
}

func (f *fakeSite) session(t testing.TB) *Session {
	s, err := NewSession(SessionOptions{
		Site:      "fake",
		Transport: transportFunc(f.send),
		Registry:  f.registry(),
		Pages: map[Kind]PageFactory{
			kindAccounts: func(res Response) (Page, error) {
				return accountsPage{body: string(res.Body)}, nil
			},
		},
		Authenticator: AuthenticatorFunc(func(ctx context.Context, r Requester, creds Credentials) error {
			if creds.Password != "secret" {
				return NewLoginError(ErrInvalidCredentials, "bad password")
			}
			h, err := r.Request(ctx, RequestSpec{
				Method:      http.MethodPost,
				Url:         "/login",
				Form:        url.Values{"password": {creds.Password}},
				ExpectLogin: true,
			})
			if err != nil {
				return err
			}
			if h.Kind == kindLogin {
				return f.loginErr
			}
			return nil
		}),
		ContextSwitcher: ContextSwitcherFunc(func(ctx context.Context, r Requester, token string) error {
			_, err := r.Request(ctx, Get("/switch?to="+token))
			return err
		}),
		LoginKinds: []Kind{kindLogin},
	})
	require.NoError(t, err)
	return s
}

var goodCreds = Credentials{Username: "user", Password: "secret"}

func TestSessionLogin(t *testing.T) {
	site := &fakeSite{t: t}
	s := site.session(t)
	require.Equal(t, StateAnonymous, s.State())

	require.NoError(t, s.Login(context.Background(), goodCreds))
	require.Equal(t, StateAuthenticated, s.State())
	require.Equal(t, 1, site.logins)

	// already authenticated, nothing to do
	require.NoError(t, s.EnsureAuthenticated(context.Background()))
	require.Equal(t, 1, site.logins)
}

func TestSessionLoginFailureKinds(t *testing.T) {
	site := &fakeSite{t: t}
	s := site.session(t)

	err := s.Login(context.Background(), Credentials{Username: "user", Password: "nope"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
	require.Equal(t, StateAnonymous, s.State())

	site.loginErr = NewLoginError(ErrAccountLocked, "disabled")
	err = s.Login(context.Background(), goodCreds)
	require.ErrorIs(t, err, ErrAccountLocked)
	require.NotErrorIs(t, err, ErrInvalidCredentials)

	site.loginErr = errors.New("exploded")
	err = s.Login(context.Background(), goodCreds)
	require.ErrorIs(t, err, ErrBackendUnavailable)
	var loginErr *LoginError
	require.ErrorAs(t, err, &loginErr)
	require.EqualError(t, loginErr.Unwrap(), "exploded")
}

func TestSessionRequestWithoutCredentials(t *testing.T) {
	site := &fakeSite{t: t}
	s := site.session(t)

	_, err := s.Request(context.Background(), Get("/accounts"))
	require.ErrorIs(t, err, ErrInvalidCredentials)
	require.Empty(t, site.requests)
}

func TestSessionRequestLogsInLazily(t *testing.T) {
	site := &fakeSite{t: t}
	s := site.session(t)
	s.creds = &goodCreds

	h, err := s.Request(context.Background(), Get("/accounts"))
	require.NoError(t, err)
	require.Equal(t, kindAccounts, h.Kind)
	require.Equal(t, 1, site.logins)

	page, err := PageAs[accountsPage](h)
	require.NoError(t, err)
	require.Equal(t, "universe=", page.body)
	require.True(t, s.IsHere(kindAccounts))
}

func TestSessionReloginOnce(t *testing.T) {
	site := &fakeSite{t: t}
	s := site.session(t)
	require.NoError(t, s.Login(context.Background(), goodCreds))

	site.expireNext = 1
	h, err := s.Request(context.Background(), Get("/accounts"))
	require.NoError(t, err)
	require.Equal(t, kindAccounts, h.Kind)
	require.Equal(t, 2, site.logins)
	require.Equal(t, StateAuthenticated, s.State())
}

func TestSessionReloginGivesUp(t *testing.T) {
	site := &fakeSite{t: t}
	s := site.session(t)
	require.NoError(t, s.Login(context.Background(), goodCreds))

	site.expireNext = 2
	_, err := s.Request(context.Background(), Get("/accounts"))
	require.ErrorIs(t, err, ErrSessionExpired)
	require.Equal(t, 2, site.logins)
	require.Equal(t, StateExpired, s.State())

	// the next request starts with a full login
	h, err := s.Request(context.Background(), Get("/accounts"))
	require.NoError(t, err)
	require.Equal(t, kindAccounts, h.Kind)
	require.Equal(t, 3, site.logins)
}

func TestSessionReloginOnStatus(t *testing.T) {
	site := &fakeSite{t: t, expiredStatus: http.StatusUnauthorized}
	s := site.session(t)
	require.NoError(t, s.Login(context.Background(), goodCreds))

	site.expireNext = 1
	_, err := s.Request(context.Background(), Get("/accounts"))
	require.NoError(t, err)
	require.Equal(t, 2, site.logins)

	site.expiredStatus = http.StatusNotFound
	site.expireNext = 1
	_, err = s.Request(context.Background(), Get("/accounts"))
	require.ErrorIs(t, err, ErrTransport)
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, http.StatusNotFound, terr.StatusCode)
	require.Equal(t, 2, site.logins)
}

func TestSessionDoesNotReloginOnTimeout(t *testing.T) {
	site := &fakeSite{t: t}
	s := site.session(t)
	require.NoError(t, s.Login(context.Background(), goodCreds))

	_, err := s.Request(context.Background(), Get("/timeout"))
	require.ErrorIs(t, err, ErrTransport)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, site.logins)
	require.Equal(t, StateAuthenticated, s.State())
}

func TestSessionUnresolvedPage(t *testing.T) {
	site := &fakeSite{t: t}
	s := site.session(t)
	require.NoError(t, s.Login(context.Background(), goodCreds))

	_, err := s.Request(context.Background(), Get("/unknown"))
	require.ErrorIs(t, err, ErrUnresolvedPage)

	spec := Get("/unknown")
	spec.AllowUnmatched = true
	h, err := s.Request(context.Background(), spec)
	require.NoError(t, err)
	require.Equal(t, NoMatch, h.Kind)
	require.Equal(t, fakeBase+"/unknown", h.Url())

	_, err = PageAs[accountsPage](h)
	require.ErrorIs(t, err, ErrUnexpectedPage)
}

func TestSessionSwitchContext(t *testing.T) {
	site := &fakeSite{t: t}
	s := site.session(t)
	require.NoError(t, s.Login(context.Background(), goodCreds))

	_, ok := s.CurrentContext()
	require.False(t, ok)

	require.NoError(t, s.SwitchContext(context.Background(), "pro"))
	token, ok := s.CurrentContext()
	require.True(t, ok)
	require.Equal(t, "pro", token)
	require.Equal(t, uint64(1), s.ContextVersion())

	h, err := s.Request(context.Background(), Get("/accounts"))
	require.NoError(t, err)
	page, err := PageAs[accountsPage](h)
	require.NoError(t, err)
	require.Equal(t, "universe=pro", page.body)

	// a relogin resets the server side universe, it has to be switched back
	// before the original request is retried
	site.expireNext = 1
	h, err = s.Request(context.Background(), Get("/accounts"))
	require.NoError(t, err)
	page, err = PageAs[accountsPage](h)
	require.NoError(t, err)
	require.Equal(t, "universe=pro", page.body)
	require.Equal(t, []string{"pro", "pro"}, site.switches)
	require.Equal(t, uint64(1), s.ContextVersion())
}

func TestSessionStayOrGo(t *testing.T) {
	site := &fakeSite{t: t}
	s := site.session(t)
	require.NoError(t, s.Login(context.Background(), goodCreds))

	_, err := s.StayOrGo(context.Background(), kindAccounts, Get("/accounts"))
	require.NoError(t, err)
	n := len(site.requests)

	h, err := s.StayOrGo(context.Background(), kindAccounts, Get("/accounts"))
	require.NoError(t, err)
	require.Equal(t, kindAccounts, h.Kind)
	require.Len(t, site.requests, n)

	_, err = s.StayOrGo(context.Background(), kindHome, Get("/accounts"))
	require.ErrorIs(t, err, ErrUnexpectedPage)
	require.Len(t, site.requests, n+1)
}

func TestSessionRequestWithBasePath(t *testing.T) {
	var requested []string
	s, err := NewSession(SessionOptions{
		Transport: transportFunc(func(_ context.Context, req Request) (Response, error) {
			requested = append(requested, req.Url)
			return respond(t, req.Url, 200, ""), nil
		}),
		Registry: NewRegistryBuilder(fakeBase+"/app").
			Register(kindAccounts, "/accounts").
			Register(kindHome, "home$").
			MustBuild(),
	})
	require.NoError(t, err)

	h, err := s.Request(context.Background(), Get("/accounts"))
	require.NoError(t, err)
	require.Equal(t, kindAccounts, h.Kind)

	h, err = s.Request(context.Background(), Get("home"))
	require.NoError(t, err)
	require.Equal(t, kindHome, h.Kind)

	require.Equal(t, []string{fakeBase + "/accounts", fakeBase + "/app/home"}, requested)
}

func TestSessionWithoutAuthenticator(t *testing.T) {
	site := &fakeSite{t: t, loggedIn: true}
	s, err := NewSession(SessionOptions{
		Transport: transportFunc(site.send),
		Registry:  site.registry(),
	})
	require.NoError(t, err)

	h, err := s.Request(context.Background(), Get("/accounts"))
	require.NoError(t, err)
	require.Equal(t, kindAccounts, h.Kind)
	require.Nil(t, h.Page)

	require.Error(t, s.SwitchContext(context.Background(), "pro"))

	_, err = NewSession(SessionOptions{})
	require.Error(t, err)
}
