package oauthpopup

import (
	"net/url"

	"github.com/getlantern/oauthpopup/popup"
)

// Outcome is the classification of a single poll of the popup.
type Outcome int

const (
	// OutcomeDetached means there is no popup to poll. Terminal, silent.
	OutcomeDetached Outcome = iota
	// OutcomeClosed means the user closed the popup. Terminal.
	OutcomeClosed
	// OutcomeCrossOrigin means the popup is still on the identity provider. Pending.
	OutcomeCrossOrigin
	// OutcomeAccessDenied means the engine refused the read with a known transient code. Pending.
	OutcomeAccessDenied
	// OutcomeAwaitingCode means the popup is back on the redirect origin without a code. Pending.
	OutcomeAwaitingCode
	// OutcomeCode means the redirect carried a code. Terminal.
	OutcomeCode
	// OutcomeUnexpected is any other failure. Reported, but polling continues.
	OutcomeUnexpected
)

var outcomeNames = [...]string{
	OutcomeDetached:     "detached",
	OutcomeClosed:       "closed",
	OutcomeCrossOrigin:  "cross_origin",
	OutcomeAccessDenied: "access_denied",
	OutcomeAwaitingCode: "awaiting_code",
	OutcomeCode:         "code",
	OutcomeUnexpected:   "unexpected",
}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return "invalid"
	}
	return outcomeNames[o]
}

// Terminal reports whether the outcome ends the flow.
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeDetached, OutcomeClosed, OutcomeCode:
		return true
	}
	return false
}

// Classify maps a probe result to an Outcome. A nil observation means the popup handle is gone.
func Classify(obs *popup.Observation) Outcome {
	switch {
	case obs == nil:
		return OutcomeDetached
	case obs.Closed:
		return OutcomeClosed
	case obs.Err != nil:
		return OutcomeUnexpected
	}
	switch obs.Access {
	case popup.Blocked:
		return OutcomeCrossOrigin
	case popup.Denied:
		if popup.IsPendingCode(obs.DenyCode) {
			return OutcomeAccessDenied
		}
		return OutcomeUnexpected
	case popup.Readable:
		if obs.Location == nil {
			return OutcomeAwaitingCode
		}
		if ParseRedirect(obs.Location).Has("code") {
			return OutcomeCode
		}
		return OutcomeAwaitingCode
	}
	return OutcomeUnexpected
}

// ParseRedirect parses the query string of the popup's location. Malformed pairs are dropped and
// the well-formed ones kept.
func ParseRedirect(u *url.URL) url.Values {
	if u == nil {
		return url.Values{}
	}
	params, _ := url.ParseQuery(u.RawQuery)
	if params == nil {
		params = url.Values{}
	}
	return params
}
