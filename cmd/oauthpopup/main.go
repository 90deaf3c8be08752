// Command oauthpopup runs a LinkedIn login popup and prints the authorization code.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"golang.org/x/term"

	"github.com/getlantern/oauthpopup"
	"github.com/getlantern/oauthpopup/common"
	"github.com/getlantern/oauthpopup/config"
	"github.com/getlantern/oauthpopup/popup"
	"github.com/getlantern/oauthpopup/popup/loopback"
	"github.com/getlantern/oauthpopup/popup/rodpopup"
	"github.com/getlantern/oauthpopup/telemetry"
)

type args struct {
	Config      string        `arg:"-c,--config" help:"settings file, .json or .yaml; defaults to ./oauthpopup.yaml when present" placeholder:"FILE"`
	ClientID    string        `arg:"--client-id" help:"LinkedIn application client id"`
	RedirectURL string        `arg:"--redirect-url" help:"registered redirect URL"`
	Scopes      []string      `arg:"-s,--scope,separate" help:"scope to request, repeatable"`
	Browser     string        `arg:"-b,--browser" help:"popup backend: rod or system"`
	Headless    bool          `arg:"--headless" help:"run the rod browser without a window"`
	Timeout     time.Duration `arg:"-t,--timeout" help:"give up after this long"`
	LogDir      string        `arg:"--log-dir" help:"directory for the rotated log file"`
	LogLevel    string        `arg:"--log-level" help:"trace, debug, info, warn, error or off"`
}

func (args) Version() string {
	return common.Name + " " + common.Version
}

func (args) Description() string {
	return "Opens a LinkedIn authorization popup and prints the authorization code it returns."
}

func main() {
	var a args
	arg.MustParse(&a)
	if err := run(a); err != nil {
		slog.Error("Login failed", "error", err)
		os.Exit(1)
	}
}

func run(a args) error {
	f, err := config.Load(configPath(a.Config))
	if err != nil {
		return err
	}
	if err := a.apply(f); err != nil {
		return err
	}
	level := a.LogLevel
	if level == "" {
		level = f.LogLevel
	}
	if err := common.Init(a.LogDir, level); err != nil {
		return err
	}
	defer common.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := telemetry.Init(ctx, f.TelemetryConfig()); err != nil {
		slog.Warn("Continuing without telemetry", "error", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Close(shutdownCtx); err != nil {
			slog.Warn("Failed to flush telemetry", "error", err)
		}
	}()

	opener, closeOpener := newOpener(f)
	defer closeOpener()

	login := oauthpopup.New(opener)
	sess, err := login.Start(ctx, f.LaunchConfig(nil, func(kind oauthpopup.ErrorKind, err error) {
		if kind == oauthpopup.KindUnknown && !errors.Is(err, oauthpopup.ErrTimeout) {
			slog.Warn("Login popup reported an error, still waiting", "error", err)
		}
	}))
	if err != nil {
		return err
	}
	slog.Info("Waiting for the login popup", "browser", f.Browser, "timeout", f.Timeout)

	r := <-sess.Result
	if r.Err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("interrupted: %w", r.Err)
		}
		return r.Err
	}
	printCode(os.Stdout, r.Code)
	return nil
}

// configPath falls back to common.ConfigFileName in the working directory when no file is given.
func configPath(flag string) string {
	if flag != "" {
		return flag
	}
	if _, err := os.Stat(common.ConfigFileName); err == nil {
		return common.ConfigFileName
	}
	return ""
}

// apply overrides file settings with the flags that were given.
func (a args) apply(f *config.File) error {
	if a.ClientID != "" {
		f.ClientID = a.ClientID
	}
	if a.RedirectURL != "" {
		f.RedirectURL = a.RedirectURL
	}
	if a.Scopes != nil {
		f.Scopes = a.Scopes
	}
	switch config.Browser(a.Browser) {
	case "":
	case config.BrowserRod, config.BrowserSystem:
		f.Browser = config.Browser(a.Browser)
	default:
		return fmt.Errorf("unknown browser %q", a.Browser)
	}
	if a.Headless {
		f.Headless = true
	}
	if a.Timeout > 0 {
		f.Timeout = a.Timeout
	}
	return nil
}

func newOpener(f *config.File) (popup.Opener, func()) {
	if f.Browser == config.BrowserSystem {
		return loopback.NewOpener(), func() {}
	}
	o := &rodpopup.Opener{Bin: f.BrowserBin, Headless: f.Headless}
	return o, func() {
		if err := o.Close(); err != nil {
			slog.Debug("Failed to close browser", "error", err)
		}
	}
}

// printCode labels the code for people and prints it bare when piped.
func printCode(out *os.File, code string) {
	if term.IsTerminal(int(out.Fd())) {
		fmt.Fprintf(out, "Authorization code: %s\n", code)
		return
	}
	fmt.Fprintln(out, code)
}
