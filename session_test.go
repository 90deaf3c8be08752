package oauthpopup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getlantern/oauthpopup/popup/popuptest"
)

func awaitResult(t *testing.T, s *Session) Result {
	t.Helper()
	select {
	case r := <-s.Result:
		return r
	case <-time.After(waitFor):
		t.Fatal("session never resolved")
		return Result{}
	}
}

func sessionConfig() LaunchConfig {
	return LaunchConfig{
		ClientID:     "86abc",
		RedirectURL:  testRedirect,
		PollInterval: time.Millisecond,
	}
}

func TestSessionCode(t *testing.T) {
	var got string
	l, _ := newLogin(popuptest.New(popuptest.Blocked(), redirectWith("9f8e", "n")), WithNonce("n"))
	cfg := sessionConfig()
	cfg.OnSuccess = func(code string) { got = code }

	s, err := l.Start(t.Context(), cfg)
	require.NoError(t, err)
	r := awaitResult(t, s)
	require.NoError(t, r.Err)
	assert.Equal(t, "9f8e", r.Code)
	assert.Equal(t, "9f8e", got)

	select {
	case r := <-s.Result:
		t.Fatalf("second result %+v", r)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSessionPopupClosed(t *testing.T) {
	l, _ := newLogin(popuptest.New(popuptest.Closed()))
	s, err := l.Start(t.Context(), sessionConfig())
	require.NoError(t, err)

	r := awaitResult(t, s)
	assert.Equal(t, KindPopupClosed, r.Kind)
	assert.Error(t, r.Err)
	assert.Empty(t, r.Code)
}

func TestSessionTimeout(t *testing.T) {
	l, _ := newLogin(popuptest.New())
	cfg := sessionConfig()
	cfg.Timeout = 20 * time.Millisecond
	s, err := l.Start(t.Context(), cfg)
	require.NoError(t, err)

	r := awaitResult(t, s)
	assert.Equal(t, KindUnknown, r.Kind)
	assert.ErrorIs(t, r.Err, ErrTimeout)
}

func TestSessionCancel(t *testing.T) {
	p := popuptest.New()
	l, _ := newLogin(p)
	s, err := l.Start(t.Context(), sessionConfig())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return p.Probes() > 0 }, waitFor, tickEvery)

	s.Cancel()
	r := awaitResult(t, s)
	assert.ErrorIs(t, r.Err, ErrAborted)
	require.Eventually(t, func() bool { return p.Closes() == 1 }, waitFor, tickEvery)
	s.Cancel()
}

func TestSessionStateMismatch(t *testing.T) {
	l, _ := newLogin(popuptest.New(redirectWith("9f8e", "WRONG")), WithNonce("n"))
	s, err := l.Start(t.Context(), sessionConfig())
	require.NoError(t, err)

	r := awaitResult(t, s)
	assert.ErrorIs(t, r.Err, ErrAborted)
	assert.ErrorContains(t, r.Err, endStateMismatch)
	assert.Empty(t, r.Code)
}

func TestSessionUnexpectedErrorDoesNotResolve(t *testing.T) {
	var unexpected int
	l, _ := newLogin(popuptest.New(popuptest.Denied(7), redirectWith("c0de", "n")), WithNonce("n"))
	cfg := sessionConfig()
	cfg.OnError = func(kind ErrorKind, err error) { unexpected++ }

	s, err := l.Start(t.Context(), cfg)
	require.NoError(t, err)
	r := awaitResult(t, s)
	require.NoError(t, r.Err)
	assert.Equal(t, "c0de", r.Code)
	assert.Equal(t, 1, unexpected)
}

func TestSessionPrevented(t *testing.T) {
	l, opener := newLogin(popuptest.New())
	cfg := sessionConfig()
	cfg.PreventFromOpeningPopup = func() bool { return true }

	s, err := l.Start(t.Context(), cfg)
	require.NoError(t, err)
	assert.ErrorIs(t, awaitResult(t, s).Err, ErrAborted)
	assert.Empty(t, opener.Requests())
}

func TestSessionConfigurationError(t *testing.T) {
	l, _ := newLogin(popuptest.New())
	cfg := sessionConfig()
	cfg.ClientID = ""
	_, err := l.Start(t.Context(), cfg)
	assert.ErrorIs(t, err, ErrConfiguration)
}
