// Package rodpopup opens popups as Chromium windows driven over the DevTools protocol. Unlike a
// page script the driver can read any URL, so the same-origin rule is applied here: the popup's
// location is only reported once it is back on the redirect URL's origin.
package rodpopup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/getlantern/oauthpopup/popup"
)

const probeTimeout = 2 * time.Second

// Opener opens popups in a browser it launches (or connects to) on first use.
type Opener struct {
	// ControlURL of an already running browser. Empty launches a new one.
	ControlURL string
	// Bin is the browser executable used when launching. Empty lets rod find or download one.
	Bin      string
	Headless bool
	Log      *slog.Logger

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
}

var _ popup.Opener = (*Opener)(nil)

func (o *Opener) logger() *slog.Logger {
	if o.Log != nil {
		return o.Log
	}
	return slog.Default()
}

func (o *Opener) connect() (*rod.Browser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.browser != nil {
		return o.browser, nil
	}
	controlURL := o.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(o.Headless)
		if o.Bin != "" {
			l = l.Bin(o.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		o.launcher = l
		controlURL = u
	}
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		o.cleanupLocked()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(b); err != nil {
		o.logger().Debug("Failed to enable target discovery", "error", err)
	}
	o.browser = b
	return b, nil
}

// Close shuts down the browser if this Opener launched it, or disconnects otherwise.
func (o *Opener) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var err error
	if o.browser != nil {
		err = o.browser.Close()
		o.browser = nil
	}
	o.cleanupLocked()
	return err
}

func (o *Opener) cleanupLocked() {
	if o.launcher != nil {
		o.launcher.Cleanup()
		o.launcher = nil
	}
}

func (o *Opener) Open(ctx context.Context, req popup.Request) (popup.Popup, error) {
	redirect, err := url.Parse(req.RedirectURL)
	if err != nil {
		return nil, fmt.Errorf("parse redirect url: %w", err)
	}
	b, err := o.connect()
	if err != nil {
		return nil, err
	}
	log := o.logger()

	page, err := b.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank", NewWindow: true})
	if err != nil {
		return nil, fmt.Errorf("create popup window: %w", err)
	}
	// Untie the page from the launch context; the flow owns it from here on.
	page = page.Context(context.Background())

	if req.Width > 0 && req.Height > 0 {
		if err := rod.Try(func() { page.MustSetWindow(0, 0, req.Width, req.Height) }); err != nil {
			log.Debug("Failed to size popup window", "error", err)
		}
	}
	if req.Title != "" {
		if _, err := page.Eval(`name => { window.name = name }`, req.Title); err != nil {
			log.Debug("Failed to name popup window", "error", err)
		}
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	w := &window{page: page, redirect: redirect, stopWatch: stopWatch}
	wait := b.Context(watchCtx).EachEvent(func(e *proto.TargetTargetDestroyed) bool {
		if e.TargetID == page.TargetID {
			w.markClosed()
			return true
		}
		return false
	})
	go wait()

	if err := page.Navigate(req.URL); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("navigate popup: %w", err)
	}
	log.Debug("Opened popup window", "target", page.TargetID)
	return w, nil
}

type window struct {
	page      *rod.Page
	redirect  *url.URL
	stopWatch context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func (w *window) markClosed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
}

func (w *window) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *window) Probe(ctx context.Context) popup.Observation {
	if w.isClosed() {
		return popup.Observation{Closed: true}
	}
	info, err := w.page.Context(ctx).Timeout(probeTimeout).Info()
	if err != nil {
		if w.isClosed() {
			return popup.Observation{Closed: true}
		}
		return observeError(err)
	}
	return observeLocation(info.URL, w.redirect)
}

func (w *window) Close() error {
	w.mu.Lock()
	wasClosed := w.closed
	w.closed = true
	w.mu.Unlock()
	w.stopWatch()
	if wasClosed {
		return nil
	}
	if err := w.page.Close(); err != nil && !isGone(err) {
		return fmt.Errorf("close popup window: %w", err)
	}
	return nil
}

// observeLocation applies the same-origin rule to the popup's current URL.
func observeLocation(rawURL string, redirect *url.URL) popup.Observation {
	u, err := url.Parse(rawURL)
	if err != nil {
		return popup.Observation{Err: fmt.Errorf("parse popup location: %w", err)}
	}
	if !popup.SameOrigin(u, redirect) {
		return popup.Observation{Access: popup.Blocked}
	}
	return popup.Observation{Access: popup.Readable, Location: u}
}

// observeError maps DevTools failures seen while the popup moves between documents to the
// transient denial codes; anything else is unexpected.
func observeError(err error) popup.Observation {
	switch {
	case errors.Is(err, cdp.ErrCtxDestroyed), errors.Is(err, cdp.ErrCtxNotFound):
		return popup.Observation{Access: popup.Denied, DenyCode: popup.CodeNavigating}
	case isGone(err):
		return popup.Observation{Access: popup.Denied, DenyCode: popup.CodeClosing}
	default:
		return popup.Observation{Err: err}
	}
}

func isGone(err error) bool {
	return errors.Is(err, cdp.ErrSessionNotFound)
}
