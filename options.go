package oauthpopup

import (
	"time"
)

// Defaults applied by Launch when the matching LaunchConfig field is zero.
const (
	// DefaultPopupWidth and DefaultPopupHeight size the popup window in CSS pixels.
	DefaultPopupWidth  = 500
	DefaultPopupHeight = 600

	// DefaultPopupTitle is the window name given to the popup.
	DefaultPopupTitle = "Login with linkedin"

	// DefaultPollInterval is how often the monitor inspects the popup.
	DefaultPollInterval = 200 * time.Millisecond
)

// DefaultScopes are requested when LaunchConfig.Scopes is nil.
var DefaultScopes = []string{"r_liteprofile", "r_emailaddress"}

// PopupConfig sizes and names the popup window. Zero values are replaced by the defaults.
type PopupConfig struct {
	Width  int
	Height int
	Title  string
}

// LaunchConfig holds everything a single launch needs. It is read-only to the library.
type LaunchConfig struct {
	ClientID    string
	RedirectURL string
	// Scopes are joined with '+' in the authorization URL. A nil slice requests DefaultScopes,
	// an empty non-nil slice requests no scope.
	Scopes []string
	Popup  PopupConfig

	// PreventFromOpeningPopup, when set and returning true, makes Launch a silent no-op.
	PreventFromOpeningPopup func() bool

	// OnSuccess receives the authorization code. Required.
	OnSuccess func(code string)
	// OnError receives failed flows. detail is only set for KindUnknown. Optional.
	OnError func(kind ErrorKind, detail error)

	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration
	// Timeout bounds the whole flow. Zero polls until the popup is closed or the flow is torn
	// down.
	Timeout time.Duration
}

func (c LaunchConfig) validate() error {
	switch {
	case c.ClientID == "":
		return errMissingClientID
	case c.RedirectURL == "":
		return errMissingRedirectURL
	case c.OnSuccess == nil:
		return errMissingOnSuccess
	case c.Popup.Width < 0 || c.Popup.Height < 0:
		return errInvalidPopupSizes
	}
	return nil
}

func (c LaunchConfig) withDefaults() LaunchConfig {
	if c.Scopes == nil {
		c.Scopes = append([]string(nil), DefaultScopes...)
	}
	if c.Popup.Width == 0 {
		c.Popup.Width = DefaultPopupWidth
	}
	if c.Popup.Height == 0 {
		c.Popup.Height = DefaultPopupHeight
	}
	if c.Popup.Title == "" {
		c.Popup.Title = DefaultPopupTitle
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}
