// Package popup defines the window abstraction the login flow drives: something that can be
// opened at an authorization URL, probed for its current navigation state and closed.
//
// Probing never relies on errors for the expected states. A window that is still on the
// identity provider's origin reports [Blocked]; engine-specific denials that are known to be
// transient report [Denied] with one of the known codes.
package popup

import (
	"context"
	"fmt"
	"net/url"
)

// Access describes whether the opener may read the popup's location.
type Access int

const (
	// Readable means the popup is on the opener's (redirect) origin and Location is set.
	Readable Access = iota
	// Blocked means the popup is on another origin, typically the identity provider.
	Blocked
	// Denied means the engine refused the read with a numeric code, see DenyCode.
	Denied
)

func (a Access) String() string {
	switch a {
	case Readable:
		return "readable"
	case Blocked:
		return "blocked"
	case Denied:
		return "denied"
	default:
		return "unknown"
	}
}

// Known engine codes for reads refused while the popup is in a transient state.
const (
	// CodeNavigating is reported while the popup is navigating between origins.
	CodeNavigating = -2146828218
	// CodeClosing is reported when the popup was closed while a read was in flight.
	CodeClosing = -2147467259
)

// IsPendingCode reports whether code is one of the known transient denial codes.
func IsPendingCode(code int) bool {
	return code == CodeNavigating || code == CodeClosing
}

// DeniedError describes a Denied observation whose code is not a known transient one.
type DeniedError struct {
	Code int
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("popup read denied with code %d", e.Code)
}

// Observation is the result of a single probe of a popup.
type Observation struct {
	// Closed is set once the window no longer exists.
	Closed bool
	Access Access
	// DenyCode is only meaningful when Access is Denied.
	DenyCode int
	// Location is the popup's current URL when Access is Readable.
	Location *url.URL
	// Err is an unexpected failure while probing. It takes precedence over Access.
	Err error
}

// Failure returns the error an unexpected observation should be reported with.
func (o Observation) Failure() error {
	switch {
	case o.Err != nil:
		return o.Err
	case o.Access == Denied:
		return &DeniedError{Code: o.DenyCode}
	case o.Access != Readable && o.Access != Blocked:
		return fmt.Errorf("popup reported unknown access state %d", int(o.Access))
	}
	return nil
}

// Request describes the window to open.
type Request struct {
	// URL is the authorization URL the popup starts at.
	URL string
	// RedirectURL is where the identity provider sends the user back. Its origin decides
	// whether the popup's location is Readable or Blocked.
	RedirectURL string
	Width       int
	Height      int
	Title       string
}

// Popup is an open window owned by a single login flow.
//
// Close may be called while a Probe is in flight; a Probe racing a Close may report anything, its
// result is discarded.
type Popup interface {
	// Probe inspects the popup's current state. Implementations must not block for longer
	// than a poll interval.
	Probe(ctx context.Context) Observation
	// Close closes the window. Closing an already closed window is not an error.
	Close() error
}

// Opener opens popups.
//
// An Opener that returns a nil Popup and a nil error signals that the window could not be
// created (for example a popup blocker); the flow then ends silently.
type Opener interface {
	Open(ctx context.Context, req Request) (Popup, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, req Request) (Popup, error)

func (f OpenerFunc) Open(ctx context.Context, req Request) (Popup, error) {
	return f(ctx, req)
}

// SameOrigin reports whether a and b share scheme, host and port.
func SameOrigin(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Scheme == b.Scheme && a.Host == b.Host
}
