// Package oauthpopup obtains an OAuth2 authorization code from LinkedIn by opening a popup
// window, polling it until it is redirected back, and checking the returned state against the
// nonce the flow was started with. No redirect handler is needed on the server side.
//
// A Login corresponds to one login widget. It owns a nonce for its whole lifetime and at most
// one in-progress flow. Every flow ends in exactly one of: OnSuccess, OnError, or silence
// (nonce mismatch, missing popup, teardown).
package oauthpopup

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/getlantern/oauthpopup/events"
	"github.com/getlantern/oauthpopup/internal"
	"github.com/getlantern/oauthpopup/metrics"
	"github.com/getlantern/oauthpopup/popup"
	"github.com/getlantern/oauthpopup/traces"
)

const tracerName = "github.com/getlantern/oauthpopup"

// Flow end reasons that are not poll classifications.
const (
	endStateMismatch = "state_mismatch"
	endTimeout       = "timeout"
)

// Login opens popups and monitors them until a terminal outcome.
type Login struct {
	opener  popup.Opener
	log     *slog.Logger
	metrics *metrics.Manager
	tracer  trace.Tracer
	nonce   string

	mu sync.Mutex
	// flow is non-nil exactly while a flow is in progress.
	flow *flow
	// entering is closed once the last committed callback has been entered.
	entering <-chan struct{}
}

// flow is the state of one launch. It is only touched with Login.mu held, except for the
// read-only fields set before the monitor starts.
type flow struct {
	cfg     LaunchConfig
	popup   popup.Popup
	span    trace.Span
	started time.Time
	stop    chan struct{}
	// ended, when set, receives the outcome name once the flow is over.
	ended chan<- string
}

// Option configures a Login.
type Option func(*Login)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(l *Login) {
		if log != nil {
			l.log = log
		}
	}
}

// WithNonce fixes the nonce instead of generating a random one.
func WithNonce(nonce string) Option {
	return func(l *Login) {
		if nonce != "" {
			l.nonce = nonce
		}
	}
}

// WithMetrics sets the metrics manager. Defaults to one on the global meter provider.
func WithMetrics(m *metrics.Manager) Option {
	return func(l *Login) {
		if m != nil {
			l.metrics = m
		}
	}
}

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(l *Login) {
		if tp != nil {
			l.tracer = tp.Tracer(tracerName)
		}
	}
}

// New creates a Login that opens popups with opener. The nonce is generated here and reused by
// every launch of the returned Login.
func New(opener popup.Opener, opts ...Option) *Login {
	l := &Login{
		opener: opener,
		log:    slog.Default(),
		nonce:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.metrics == nil {
		l.metrics = metrics.Default()
	}
	if l.tracer == nil {
		l.tracer = otel.Tracer(tracerName)
	}
	return l
}

// Nonce returns the state value sent with every authorization request of this Login.
func (l *Login) Nonce() string {
	return l.nonce
}

// InProgress reports whether a flow is currently being monitored.
func (l *Login) InProgress() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flow != nil
}

// Launch opens a popup at the LinkedIn authorization URL and starts monitoring it. Invalid
// configuration is returned as a *ConfigurationError before anything is opened. The flow is
// torn down without any callback when ctx is done. Launching while a flow is in progress tears
// that flow down first.
func (l *Login) Launch(ctx context.Context, cfg LaunchConfig) error {
	_, err := l.launch(ctx, cfg, nil)
	return err
}

// launch reports whether a popup was opened.
func (l *Login) launch(ctx context.Context, cfg LaunchConfig, ended chan<- string) (bool, error) {
	if cfg.PreventFromOpeningPopup != nil && cfg.PreventFromOpeningPopup() {
		l.log.Debug("Popup prevented by caller")
		return false, nil
	}
	if err := cfg.validate(); err != nil {
		return false, err
	}
	cfg = cfg.withDefaults()
	authURL := AuthURL(cfg, l.nonce)

	l.teardown("relaunch")

	ctx, span := l.tracer.Start(ctx, "oauthpopup.flow", trace.WithAttributes(
		attribute.String("oauth.client_id", cfg.ClientID),
		attribute.String("oauth.redirect_uri", cfg.RedirectURL),
		attribute.StringSlice("oauth.scopes", cfg.Scopes),
	))
	p, err := l.opener.Open(ctx, popup.Request{
		URL:         authURL,
		RedirectURL: cfg.RedirectURL,
		Width:       cfg.Popup.Width,
		Height:      cfg.Popup.Height,
		Title:       cfg.Popup.Title,
	})
	if err != nil {
		err = fmt.Errorf("open popup: %w", err)
		traces.Fail(span, err)
		span.End()
		return false, err
	}
	l.metrics.Launched(ctx)
	l.log.Debug("Opened login popup", "url", authURL, "width", cfg.Popup.Width, "height", cfg.Popup.Height)

	f := &flow{
		cfg:     cfg,
		popup:   p,
		span:    span,
		started: time.Now(),
		stop:    make(chan struct{}),
		ended:   ended,
	}

	l.mu.Lock()
	// a concurrent Launch may have won the race while the popup was opening
	prev := l.detachLocked("relaunch")
	l.flow = f
	go l.monitor(ctx, f)
	l.mu.Unlock()
	l.closePopup(prev, "relaunch")

	events.Emit(FlowStarted{Nonce: l.nonce, URL: authURL})
	return true, nil
}

// Teardown closes the popup and stops monitoring without invoking any callback. Once it returns
// no callback of the torn down flow is invoked; one that was already running is not waited for.
// It is safe to call at any time, repeatedly, and from callbacks.
func (l *Login) Teardown() {
	l.teardown("teardown")
}

func (l *Login) teardown(reason string) {
	l.mu.Lock()
	p := l.detachLocked(reason)
	entering := l.entering
	l.mu.Unlock()
	l.closePopup(p, reason)
	if entering != nil {
		<-entering
	}
}

// detachLocked ends the current flow silently and hands back its popup for the caller to close
// once the lock is released.
func (l *Login) detachLocked(reason string) popup.Popup {
	f := l.flow
	if f == nil {
		return nil
	}
	l.flow = nil
	close(f.stop)
	p := f.popup
	f.popup = nil
	l.endLocked(f, reason)
	return p
}

func (l *Login) closePopup(p popup.Popup, reason string) {
	if p == nil {
		return
	}
	if err := p.Close(); err != nil {
		l.log.Debug("Failed to close popup", "reason", reason, "error", err)
	}
}

func (l *Login) endLocked(f *flow, outcome string) {
	elapsed := time.Since(f.started)
	ctx := trace.ContextWithSpan(context.Background(), f.span)
	l.metrics.Finished(ctx, outcome, elapsed)
	f.span.SetAttributes(attribute.String("oauth.outcome", outcome))
	f.span.End()
	events.Emit(FlowFinished{Nonce: l.nonce, Outcome: outcome, Elapsed: elapsed})
	if f.ended != nil {
		f.ended <- outcome
	}
}

func (l *Login) monitor(ctx context.Context, f *flow) {
	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	var timeout <-chan time.Time
	if f.cfg.Timeout > 0 {
		timer := time.NewTimer(f.cfg.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		select {
		case <-f.stop:
			return
		case <-ctx.Done():
			l.mu.Lock()
			var p popup.Popup
			if l.flow == f {
				p = l.detachLocked("context done")
			}
			l.mu.Unlock()
			l.closePopup(p, "context done")
			return
		case <-timeout:
			l.expire(f)
			return
		case <-ticker.C:
			if l.tick(ctx, f) {
				return
			}
		}
	}
}

// tick probes the popup once and acts on the classification. It reports whether the flow is over.
// The popup is probed and closed without holding the lock, so the flow is checked again before
// anything is acted on.
func (l *Login) tick(ctx context.Context, f *flow) bool {
	l.mu.Lock()
	if l.flow != f {
		l.mu.Unlock()
		return true
	}
	p := f.popup
	l.mu.Unlock()

	obs := probe(ctx, p)
	outcome := Classify(obs)

	l.mu.Lock()
	if l.flow != f {
		l.mu.Unlock()
		return true
	}
	l.metrics.Probed(ctx, outcome.String())

	var (
		toClose popup.Popup
		end     string
		report  func()
	)
	switch outcome {
	case OutcomeDetached:
		l.log.Warn("Login popup is gone, stopping")
		l.finishLocked(f, outcome)

	case OutcomeClosed:
		l.log.Debug("Login popup closed by user")
		end = outcome.String()
		report = func() { l.reportError(f.cfg, KindPopupClosed, nil) }

	case OutcomeCrossOrigin, OutcomeAccessDenied, OutcomeAwaitingCode:
		l.log.Log(ctx, internal.LevelTrace, "Login popup pending", "classification", outcome.String())

	case OutcomeCode:
		params := ParseRedirect(obs.Location)
		toClose, f.popup = f.popup, nil
		if subtle.ConstantTimeCompare([]byte(params.Get("state")), []byte(l.nonce)) != 1 {
			l.log.Warn("Discarding authorization code with mismatched state")
			f.span.AddEvent("state mismatch")
			l.finishLockedAs(f, endStateMismatch)
			break
		}
		end = outcome.String()
		code := params.Get("code")
		report = func() { l.safely("OnSuccess", func() { f.cfg.OnSuccess(code) }) }

	case OutcomeUnexpected:
		err := obs.Failure()
		l.log.Error("Unexpected error while polling login popup", "error", err)
		f.span.RecordError(err)
		if f.cfg.OnError != nil {
			report = func() { l.reportError(f.cfg, KindUnknown, err) }
		}
	}
	l.mu.Unlock()

	l.closePopup(toClose, outcome.String())
	if report != nil {
		l.deliver(f, end, nil, report)
	}
	return outcome.Terminal()
}

// deliver invokes callback unless the flow has been torn down in the meantime. A non-empty end
// finishes the flow with that outcome, after running before, in the same critical section.
func (l *Login) deliver(f *flow, end string, before func(), callback func()) {
	l.mu.Lock()
	if l.flow != f {
		l.mu.Unlock()
		return
	}
	if before != nil {
		before()
	}
	if end != "" {
		l.finishLockedAs(f, end)
	}
	entering := make(chan struct{})
	l.entering = entering
	l.mu.Unlock()

	close(entering)
	callback()
}

func (l *Login) expire(f *flow) {
	l.mu.Lock()
	if l.flow != f {
		l.mu.Unlock()
		return
	}
	p := f.popup
	f.popup = nil
	l.mu.Unlock()

	l.closePopup(p, endTimeout)
	l.deliver(f, endTimeout, func() {
		traces.Fail(f.span, ErrTimeout)
		l.log.Info("Login flow timed out", "timeout", f.cfg.Timeout)
	}, func() { l.reportError(f.cfg, KindUnknown, ErrTimeout) })
}

func (l *Login) finishLocked(f *flow, outcome Outcome) {
	l.finishLockedAs(f, outcome.String())
}

func (l *Login) finishLockedAs(f *flow, outcome string) {
	l.flow = nil
	f.popup = nil
	l.endLocked(f, outcome)
}

func (l *Login) reportError(cfg LaunchConfig, kind ErrorKind, detail error) {
	if cfg.OnError == nil {
		return
	}
	l.safely("OnError", func() { cfg.OnError(kind, detail) })
}

// safely runs a caller supplied callback; a panic in it must not take down the monitor's process.
func (l *Login) safely(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("Login callback panicked", "callback", name, "panic", r)
		}
	}()
	fn()
}

// probe returns nil when there is no popup. A panicking Probe is reported as an unexpected error.
func probe(ctx context.Context, p popup.Popup) (obs *popup.Observation) {
	if p == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			obs = &popup.Observation{Err: fmt.Errorf("popup probe panicked: %v", r)}
		}
	}()
	o := p.Probe(ctx)
	return &o
}
