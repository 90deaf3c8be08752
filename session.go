package oauthpopup

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrAborted is the Result error of a session whose flow ended without reaching the success or
// error handler: teardown, cancellation, a state mismatch, or a popup that never opened.
var ErrAborted = errors.New("login flow ended without a result")

// Result holds the outcome of a session.
type Result struct {
	// Code is the authorization code on success.
	Code string
	// Kind is set when the flow failed through the error handler.
	Kind ErrorKind
	Err  error
}

// Session represents an ongoing login flow started with Start.
type Session struct {
	// Result is a channel that will receive exactly one value: the authorization code on success,
	// or an error if the flow fails or is cancelled.
	Result <-chan Result
	// Cancel aborts the flow. Safe to call at any time.
	Cancel context.CancelFunc
}

// Start launches a flow like Launch and exposes its end as a Session. OnSuccess and OnError in cfg
// may be nil here; when set they are still called. Unexpected errors that do not end the flow are
// passed to OnError only.
func (l *Login) Start(ctx context.Context, cfg LaunchConfig) (*Session, error) {
	ctx, cancel := context.WithCancel(ctx)
	results := make(chan Result, 1)
	var once sync.Once
	resolve := func(r Result) {
		once.Do(func() {
			results <- r
			cancel()
		})
	}

	onSuccess, onError := cfg.OnSuccess, cfg.OnError
	cfg.OnSuccess = func(code string) {
		defer resolve(Result{Code: code})
		if onSuccess != nil {
			onSuccess(code)
		}
	}
	cfg.OnError = func(kind ErrorKind, detail error) {
		switch {
		case kind == KindPopupClosed:
			defer resolve(Result{Kind: kind, Err: fmt.Errorf("login failed: %s", kind)})
		case errors.Is(detail, ErrTimeout):
			defer resolve(Result{Kind: kind, Err: detail})
		}
		if onError != nil {
			onError(kind, detail)
		}
	}

	ended := make(chan string, 1)
	opened, err := l.launch(ctx, cfg, ended)
	if err != nil {
		cancel()
		return nil, err
	}
	if !opened {
		resolve(Result{Err: fmt.Errorf("%w: popup prevented", ErrAborted)})
		return &Session{Result: results, Cancel: cancel}, nil
	}
	go func() {
		outcome := <-ended
		switch outcome {
		case OutcomeCode.String(), OutcomeClosed.String(), endTimeout:
			// resolved by the handlers
		default:
			resolve(Result{Err: fmt.Errorf("%w: %s", ErrAborted, outcome)})
		}
	}()
	return &Session{Result: results, Cancel: cancel}, nil
}
