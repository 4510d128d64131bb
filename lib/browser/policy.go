package browser

import (
	"context"
	"errors"
	"net/http"
	"slices"
)

// Classification places a failure on the two axes the session cares about.
type Classification struct {
	Transient      bool
	SessionRelated bool
}

// Policy decides which failures trigger the single relogin retry.
type Policy struct {
	// http statuses that mean the server no longer accepts the session
	SessionStatuses []int
}

func DefaultPolicy() Policy {
	return Policy{
		SessionStatuses: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			// IIS "login time-out"
			440,
		},
	}
}

func (p Policy) Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}
	if errors.Is(err, context.Canceled) {
		return Classification{}
	}
	if errors.Is(err, ErrSessionExpired) {
		return Classification{Transient: true, SessionRelated: true}
	}

	var terr *TransportError
	if !errors.As(err, &terr) {
		return Classification{}
	}

	if terr.StatusCode == 0 {
		// no response: a network failure is worth retrying but says
		// nothing about the session
		return Classification{Transient: terr.Timeout || terr.Err != nil}
	}
	if slices.Contains(p.SessionStatuses, terr.StatusCode) {
		return Classification{Transient: true, SessionRelated: true}
	}
	switch {
	case terr.StatusCode == http.StatusRequestTimeout,
		terr.StatusCode == http.StatusTooManyRequests,
		terr.StatusCode >= 500:
		return Classification{Transient: true}
	}
	return Classification{}
}

// ShouldRelogin reports whether err is both transient and session related.
func (p Policy) ShouldRelogin(err error) bool {
	c := p.Classify(err)
	return c.Transient && c.SessionRelated
}
