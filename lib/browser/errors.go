package browser

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked or disabled")
	ErrBackendUnavailable = errors.New("backend unavailable")

	ErrSessionExpired  = errors.New("session expired")
	ErrPaginationLoop  = errors.New("pagination loop detected")
	ErrTransport       = errors.New("transport error")
	ErrUnresolvedPage  = errors.New("unresolved page")
	ErrUnexpectedPage  = errors.New("unexpected page")
	ErrContextSwitched = errors.New("session context switched during traversal")
)

// LoginError is returned by Session.Login, Kind is always one of
// ErrInvalidCredentials, ErrAccountLocked or ErrBackendUnavailable.
type LoginError struct {
	Kind    error
	Message string
	Err     error
}

func NewLoginError(kind error, message string) *LoginError {
	return &LoginError{Kind: kind, Message: message}
}

func (e *LoginError) Error() string {
	msg := fmt.Sprintf("login failed: %s", e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoginError) Is(target error) bool {
	return target == e.Kind
}

func (e *LoginError) Unwrap() error {
	return e.Err
}

// TransportError wraps a failed HTTP exchange. StatusCode is 0 when no
// response was received at all.
type TransportError struct {
	Method     string
	Url        string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: http status %d", e.Method, e.Url, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Method, e.Url, e.Err)
	}
	return fmt.Sprintf("%s %s: transport error", e.Method, e.Url)
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// SessionExpiredError is produced when a response resolves to a login page
// while the request did not expect one.
type SessionExpiredError struct {
	Url  string
	Kind Kind
}

func (e *SessionExpiredError) Error() string {
	return fmt.Sprintf("session expired: %s resolved to %q", e.Url, e.Kind)
}

func (e *SessionExpiredError) Is(target error) bool {
	return target == ErrSessionExpired
}

type UnresolvedPageError struct {
	Url string
}

func (e *UnresolvedPageError) Error() string {
	return fmt.Sprintf("no route matches %s", e.Url)
}

func (e *UnresolvedPageError) Is(target error) bool {
	return target == ErrUnresolvedPage
}
