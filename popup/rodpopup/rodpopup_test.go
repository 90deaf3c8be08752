package rodpopup

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getlantern/oauthpopup/internal"
	"github.com/getlantern/oauthpopup/popup"
)

func TestObserveLocation(t *testing.T) {
	redirect, _ := url.Parse("http://localhost:3000/linkedin")

	obs := observeLocation("https://www.linkedin.com/oauth/v2/authorization?client_id=x", redirect)
	assert.Equal(t, popup.Blocked, obs.Access)
	assert.Nil(t, obs.Location)

	obs = observeLocation("about:blank", redirect)
	assert.Equal(t, popup.Blocked, obs.Access)

	obs = observeLocation("http://localhost:3000/linkedin?code=abc&state=n", redirect)
	require.Equal(t, popup.Readable, obs.Access)
	assert.Equal(t, "abc", obs.Location.Query().Get("code"))

	obs = observeLocation("http://[::1", redirect)
	assert.Error(t, obs.Err)
}

func TestObserveError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want popup.Observation
	}{
		{"context destroyed", fmt.Errorf("info: %w", cdp.ErrCtxDestroyed), popup.Observation{Access: popup.Denied, DenyCode: popup.CodeNavigating}},
		{"context not found", cdp.ErrCtxNotFound, popup.Observation{Access: popup.Denied, DenyCode: popup.CodeNavigating}},
		{"session gone", cdp.ErrSessionNotFound, popup.Observation{Access: popup.Denied, DenyCode: popup.CodeClosing}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, observeError(tt.err))
		})
	}

	boom := errors.New("boom")
	obs := observeError(boom)
	assert.ErrorIs(t, obs.Err, boom)
}

// TestPopupInBrowser needs a local Chromium; it is skipped when none can be found.
func TestPopupInBrowser(t *testing.T) {
	bin, ok := launcher.LookPath()
	if !ok {
		t.Skip("no browser available")
	}

	app := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>back home</body></html>")
	}))
	defer app.Close()
	redirect := app.URL + "/linkedin"

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("approve") == "" {
			fmt.Fprint(w, "<html><body>sign in</body></html>")
			return
		}
		http.Redirect(w, r, redirect+"?code=ABC123&state="+r.URL.Query().Get("state"), http.StatusFound)
	}))
	defer provider.Close()

	o := &Opener{Bin: bin, Headless: true, Log: internal.NoOpLogger()}
	defer o.Close()

	p, err := o.Open(t.Context(), popup.Request{
		URL:         provider.URL + "/authorize",
		RedirectURL: redirect,
		Width:       500,
		Height:      600,
		Title:       "Login with linkedin",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return p.Probe(t.Context()).Access == popup.Blocked
	}, 5*time.Second, 50*time.Millisecond, "provider origin must not be readable")

	w := p.(*window)
	require.NoError(t, w.page.Navigate(provider.URL+"/authorize?approve=1&state=nonce"))

	var obs popup.Observation
	require.Eventually(t, func() bool {
		obs = p.Probe(t.Context())
		return obs.Access == popup.Readable
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, "ABC123", obs.Location.Query().Get("code"))
	assert.Equal(t, "nonce", obs.Location.Query().Get("state"))

	require.NoError(t, p.Close())
	assert.True(t, p.Probe(t.Context()).Closed)
}
