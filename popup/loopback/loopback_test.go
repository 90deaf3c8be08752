package loopback_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getlantern/oauthpopup"
	"github.com/getlantern/oauthpopup/internal"
	"github.com/getlantern/oauthpopup/popup"
	"github.com/getlantern/oauthpopup/popup/loopback"
)

func freeRedirectURL(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return fmt.Sprintf("http://%s/linkedin", addr)
}

type recordingBrowser struct {
	mu   sync.Mutex
	urls []string
}

func (b *recordingBrowser) open(u string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.urls = append(b.urls, u)
	return nil
}

func (b *recordingBrowser) opened() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.urls...)
}

func get(t *testing.T, rawURL string) string {
	t.Helper()
	resp, err := http.Get(rawURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	return string(body)
}

func TestPopupLifecycle(t *testing.T) {
	redirect := freeRedirectURL(t)
	b := &recordingBrowser{}
	opener := &loopback.Opener{OpenBrowser: b.open, Log: internal.NoOpLogger()}

	p, err := opener.Open(t.Context(), popup.Request{
		URL:         "https://www.linkedin.com/oauth/v2/authorization?client_id=x",
		RedirectURL: redirect,
		Title:       "Login with linkedin",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://www.linkedin.com/oauth/v2/authorization?client_id=x"}, b.opened())

	obs := p.Probe(t.Context())
	assert.Equal(t, popup.Blocked, obs.Access, "no redirect yet means the provider still has the window")
	assert.False(t, obs.Closed)

	body := get(t, redirect+"?code=9f8e&state=xyz789")
	assert.Contains(t, body, "Authentication complete")
	assert.Contains(t, body, "<title>Login with linkedin</title>")

	obs = p.Probe(t.Context())
	require.Equal(t, popup.Readable, obs.Access)
	require.NotNil(t, obs.Location)
	want, _ := url.Parse(redirect)
	assert.Equal(t, want.Host, obs.Location.Host)
	assert.Equal(t, "9f8e", obs.Location.Query().Get("code"))
	assert.Equal(t, "xyz789", obs.Location.Query().Get("state"))

	require.NoError(t, p.Close())
	assert.True(t, p.Probe(t.Context()).Closed)
	require.NoError(t, p.Close(), "closing twice is not an error")

	_, err = http.Get(redirect)
	assert.Error(t, err, "the callback listener must be gone after close")
}

func TestProviderErrorPage(t *testing.T) {
	redirect := freeRedirectURL(t)
	p, err := (&loopback.Opener{OpenBrowser: func(string) error { return nil }}).Open(t.Context(), popup.Request{
		URL:         "https://www.linkedin.com/oauth/v2/authorization",
		RedirectURL: redirect,
	})
	require.NoError(t, err)
	defer p.Close()

	body := get(t, redirect+"?error=user_cancelled_login&state=abc")
	assert.Contains(t, body, "Authentication failed")

	obs := p.Probe(t.Context())
	assert.Equal(t, popup.Readable, obs.Access)
	assert.Equal(t, oauthpopup.OutcomeAwaitingCode, oauthpopup.Classify(&obs))
}

func TestRedirectPathOutsideServeMuxSyntax(t *testing.T) {
	base := strings.TrimSuffix(freeRedirectURL(t), "/linkedin")
	redirect := base + "/auth/linked%20in/{callback}"
	p, err := (&loopback.Opener{OpenBrowser: func(string) error { return nil }}).Open(t.Context(), popup.Request{
		URL:         "https://www.linkedin.com/oauth/v2/authorization",
		RedirectURL: redirect,
	})
	require.NoError(t, err)
	defer p.Close()

	resp, err := http.Get(base + "/elsewhere?code=nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, popup.Blocked, p.Probe(t.Context()).Access, "other paths are not the redirect")

	get(t, redirect+"?code=AQTx&state=s")
	obs := p.Probe(t.Context())
	require.Equal(t, popup.Readable, obs.Access)
	assert.Equal(t, "AQTx", obs.Location.Query().Get("code"))
}

func TestBrowserFailureIsNotFatal(t *testing.T) {
	redirect := freeRedirectURL(t)
	p, err := (&loopback.Opener{
		OpenBrowser: func(string) error { return fmt.Errorf("no display") },
		Log:         internal.NoOpLogger(),
	}).Open(t.Context(), popup.Request{URL: "https://example.com", RedirectURL: redirect})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestRejectsNonLoopbackRedirect(t *testing.T) {
	for _, redirect := range []string{
		"https://app.example.com/callback",
		"http://localhost/callback",
		"http://10.0.0.1:8080/callback",
	} {
		_, err := (&loopback.Opener{}).Open(t.Context(), popup.Request{RedirectURL: redirect})
		assert.ErrorIs(t, err, loopback.ErrNotLoopback, redirect)
	}
}

func TestLoginThroughLoopback(t *testing.T) {
	redirect := freeRedirectURL(t)
	b := &recordingBrowser{}
	login := oauthpopup.New(&loopback.Opener{OpenBrowser: b.open, Log: internal.NoOpLogger()},
		oauthpopup.WithLogger(internal.NoOpLogger()))

	codes := make(chan string, 1)
	require.NoError(t, login.Launch(t.Context(), oauthpopup.LaunchConfig{
		ClientID:     "client",
		RedirectURL:  redirect,
		Scopes:       []string{"openid", "profile"},
		OnSuccess:    func(code string) { codes <- code },
		OnError:      func(kind oauthpopup.ErrorKind, err error) { t.Errorf("unexpected error %s: %v", kind, err) },
		PollInterval: 10 * time.Millisecond,
	}))

	require.Len(t, b.opened(), 1)
	authURL, err := url.Parse(b.opened()[0])
	require.NoError(t, err)
	state := authURL.Query().Get("state")
	assert.Equal(t, login.Nonce(), state)

	// what LinkedIn does once the user approves
	get(t, redirect+"?code=AQTx&state="+url.QueryEscape(state))

	select {
	case code := <-codes:
		assert.Equal(t, "AQTx", code)
	case <-time.After(2 * time.Second):
		t.Fatal("no authorization code received")
	}
	require.Eventually(t, func() bool { return !login.InProgress() }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, redirect, nil)
	_, err = http.DefaultClient.Do(req)
	assert.Error(t, err, "popup must be closed after the code is received")
}
