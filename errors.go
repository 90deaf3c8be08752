package oauthpopup

import (
	"errors"
)

// ErrorKind classifies a failed flow reported through LaunchConfig.OnError.
type ErrorKind string

const (
	// KindPopupClosed is reported when the user closes the popup before a code arrives.
	KindPopupClosed ErrorKind = "popup closed"
	// KindUnknown is reported for any unclassified failure. The detail error is always set.
	KindUnknown ErrorKind = "unknown"
)

var (
	// ErrConfiguration matches every *ConfigurationError.
	ErrConfiguration = errors.New("invalid launch configuration")
	// ErrTimeout is the detail reported with KindUnknown when LaunchConfig.Timeout elapses.
	ErrTimeout = errors.New("login flow timed out")
)

// ConfigurationError is returned synchronously by Launch when the launch parameters are missing
// or invalid. No popup is opened when it is returned.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "oauthpopup: " + e.Reason
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

var (
	errMissingClientID    = &ConfigurationError{Reason: "missing client id"}
	errMissingRedirectURL = &ConfigurationError{Reason: "missing redirect url"}
	// ErrInvalidScopes is returned when scopes are not an ordered list of strings.
	ErrInvalidScopes     = &ConfigurationError{Reason: "invalid scopes"}
	errMissingOnSuccess  = &ConfigurationError{Reason: "missing success handler"}
	errInvalidPopupSizes = &ConfigurationError{Reason: "invalid popup dimensions"}
)
