// Package loopback implements popups in the user's default browser. The redirect URL must point
// at a loopback address; a short-lived HTTP listener on that address plays the part of the
// redirect page and makes the popup's final location readable.
//
// The system browser gives no access to the window itself: until the identity provider
// redirects back the popup reports Blocked, and a user closing the tab is never observed. Pair
// it with a flow timeout.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/pkg/browser"

	"github.com/getlantern/oauthpopup/popup"
)

const callbackServerShutdownTimeout = 5 * time.Second

// Opener opens the authorization URL in the system browser.
type Opener struct {
	// OpenBrowser opens a URL. Defaults to github.com/pkg/browser.OpenURL.
	OpenBrowser func(url string) error
	Log         *slog.Logger
}

var _ popup.Opener = (*Opener)(nil)

// NewOpener returns an Opener using the system browser.
func NewOpener() *Opener {
	return &Opener{}
}

// ErrNotLoopback is returned when the redirect URL does not point at this machine.
var ErrNotLoopback = errors.New("redirect url must use a loopback host with an explicit port")

// closeWindowHTML generates simple HTML to close the browser window.
func closeWindowHTML(title, message string) string {
	return fmt.Sprintf(`<html><head><title>%s</title></head><script>window.onload=function(){setTimeout(function(){window.close()}, 100);}</script><body>%s. You can close this window.</body></html>`,
		html.EscapeString(title), html.EscapeString(message))
}

func (o *Opener) Open(ctx context.Context, req popup.Request) (popup.Popup, error) {
	log := o.Log
	if log == nil {
		log = slog.Default()
	}
	redirect, err := url.Parse(req.RedirectURL)
	if err != nil {
		return nil, fmt.Errorf("parse redirect url: %w", err)
	}
	if !isLoopback(redirect) {
		return nil, fmt.Errorf("%w: %s", ErrNotLoopback, req.RedirectURL)
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", redirect.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", redirect.Host, err)
	}

	w := &window{
		redirect: redirect,
		log:      log,
		served:   make(chan struct{}),
	}
	path := redirect.Path
	if path == "" {
		path = "/"
	}
	// the redirect path is compared as-is; it need not be a valid ServeMux pattern
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != path {
			http.NotFound(rw, r)
			return
		}
		rw.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		rw.Header().Set("Content-Type", "text/html")
		w.arrived(r.URL)
		msg := "Authentication complete"
		if r.URL.Query().Has("error") {
			msg = "Authentication failed"
		}
		_, _ = fmt.Fprint(rw, closeWindowHTML(req.Title, msg))
	})
	w.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		defer close(w.served)
		log.Debug("Starting OAuth callback server", "addr", listener.Addr().String())
		if err := w.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.failed(fmt.Errorf("callback server error: %w", err))
		}
		log.Debug("OAuth callback server stopped")
	}()

	openBrowser := o.OpenBrowser
	if openBrowser == nil {
		openBrowser = browser.OpenURL
	}
	log.Debug("Opening browser", "url", req.URL)
	if err := openBrowser(req.URL); err != nil {
		// Don't fail, the user can still copy-paste the URL
		log.Info("Failed to automatically open browser", "error", err)
		log.Info("Please manually open the following URL in your browser", "url", req.URL)
	}
	return w, nil
}

func isLoopback(u *url.URL) bool {
	if u.Scheme != "http" || u.Port() == "" {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// window is the popup backed by the system browser and the loopback callback server.
type window struct {
	redirect *url.URL
	log      *slog.Logger
	server   *http.Server
	served   chan struct{}

	mu       sync.Mutex
	location *url.URL
	err      error
	closed   bool
}

func (w *window) arrived(reqURL *url.URL) {
	loc := *w.redirect
	loc.RawQuery = reqURL.RawQuery
	loc.Fragment = ""
	w.mu.Lock()
	defer w.mu.Unlock()
	w.location = &loc
}

func (w *window) failed(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.err = err
}

func (w *window) Probe(context.Context) popup.Observation {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case w.closed:
		return popup.Observation{Closed: true}
	case w.err != nil:
		err := w.err
		// the server is gone; report it once and then wait for the user to close the flow
		w.err = nil
		return popup.Observation{Err: err}
	case w.location == nil:
		return popup.Observation{Access: popup.Blocked}
	}
	loc := *w.location
	return popup.Observation{Access: popup.Readable, Location: &loc}
}

func (w *window) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), callbackServerShutdownTimeout)
	defer cancel()
	if err := w.server.Shutdown(ctx); err != nil {
		w.log.Debug("Error during OAuth callback server graceful shutdown", "error", err)
		// Force close if a graceful shutdown fails
		_ = w.server.Close()
	}
	<-w.served
	return nil
}
