package tiktok

import (
	"errors"
	"fmt"
)

var (
	// ErrNotLive is returned when a room exists but is not broadcasting.
	ErrNotLive = errors.New("user is not currently live")

	// ErrBlocked means the platform answered with a verification/challenge page.
	ErrBlocked = errors.New("request blocked by verification challenge")

	// ErrRegionBlocked means the platform redirected the request because of region policy.
	ErrRegionBlocked = errors.New("access blocked by region policy")

	// ErrCountryBlacklisted means the caller's country requires a logged-in session.
	ErrCountryBlacklisted = errors.New("country is blacklisted, log in or use a room id")

	ErrPrivateAccount = errors.New("account is private")
	ErrStreamNotFound = errors.New("no playable stream rendition")
	ErrInvalidLiveURL = errors.New("invalid live url")
	ErrNoFollowers    = errors.New("followers list is empty")
	ErrClientClosed   = errors.New("http client closed")
)

// ResolutionError reports that a username or room could not be resolved
// after every strategy was tried. Err carries the last underlying cause.
type ResolutionError struct {
	User string
	Room string
	Err  error
}

func (e *ResolutionError) Error() string {
	what := fmt.Sprintf("room id for %q", e.User)
	if e.Room != "" {
		what = fmt.Sprintf("user for room %s", e.Room)
	}
	if e.Err == nil {
		return "resolve " + what + ": not found"
	}
	return fmt.Sprintf("resolve %s: %v", what, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// TransportError wraps a network level failure (no HTTP status was received).
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("request %s: %v", e.URL, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }
