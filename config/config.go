// Package config loads login settings from a JSON or YAML file, with the client id and redirect
// URL overridable from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/getlantern/oauthpopup"
	"github.com/getlantern/oauthpopup/common/env"
	"github.com/getlantern/oauthpopup/telemetry"
)

// Keys for the settings that need special handling.
const (
	ClientIDKey    = "client_id"
	RedirectURLKey = "redirect_url"
	ScopesKey      = "scopes"
)

// Browser selects the popup implementation.
type Browser string

const (
	// BrowserRod drives a dedicated Chromium window through the DevTools protocol.
	BrowserRod Browser = "rod"
	// BrowserSystem opens the system browser and receives the redirect on a loopback listener.
	BrowserSystem Browser = "system"
)

// Popup mirrors oauthpopup.PopupConfig.
type Popup struct {
	Width  int    `koanf:"width"`
	Height int    `koanf:"height"`
	Title  string `koanf:"title"`
}

// Telemetry configures the OTLP exporter.
type Telemetry struct {
	Endpoint   string            `koanf:"endpoint"`
	Headers    map[string]string `koanf:"headers"`
	Insecure   bool              `koanf:"insecure"`
	Traces     bool              `koanf:"traces"`
	Metrics    bool              `koanf:"metrics"`
	SampleRate float64           `koanf:"sample_rate"`
}

// File is the content of a settings file.
type File struct {
	ClientID     string        `koanf:"client_id"`
	RedirectURL  string        `koanf:"redirect_url"`
	Scopes       []string      `koanf:"-"`
	Popup        Popup         `koanf:"popup"`
	PollInterval time.Duration `koanf:"poll_interval"`
	Timeout      time.Duration `koanf:"timeout"`
	Browser      Browser       `koanf:"browser"`
	Headless     bool          `koanf:"headless"`
	BrowserBin   string        `koanf:"browser_bin"`
	LogLevel     string        `koanf:"log_level"`
	Telemetry    Telemetry     `koanf:"telemetry"`
}

// LaunchConfig converts the file into launch parameters with the given callbacks.
func (f *File) LaunchConfig(onSuccess func(string), onError func(oauthpopup.ErrorKind, error)) oauthpopup.LaunchConfig {
	return oauthpopup.LaunchConfig{
		ClientID:    f.ClientID,
		RedirectURL: f.RedirectURL,
		Scopes:      f.Scopes,
		Popup: oauthpopup.PopupConfig{
			Width:  f.Popup.Width,
			Height: f.Popup.Height,
			Title:  f.Popup.Title,
		},
		OnSuccess:    onSuccess,
		OnError:      onError,
		PollInterval: f.PollInterval,
		Timeout:      f.Timeout,
	}
}

// TelemetryConfig returns the exporter settings for telemetry.Init.
func (f *File) TelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Endpoint:       f.Telemetry.Endpoint,
		Headers:        f.Telemetry.Headers,
		Insecure:       f.Telemetry.Insecure,
		TracesEnabled:  f.Telemetry.Traces,
		MetricsEnabled: f.Telemetry.Metrics,
		SampleRate:     f.Telemetry.SampleRate,
	}
}

// Load reads the settings file at path. The parser is picked from the extension: .json for JSON,
// anything else is read as YAML. An empty path loads only the environment.
func Load(path string) (*File, error) {
	k := koanf.New(".")
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(raw), parserFor(path)); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	return decode(k)
}

// Parse reads settings from raw bytes in the given format ("json" or "yaml").
func Parse(raw []byte, format string) (*File, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(raw), parserFor("config."+format)); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return decode(k)
}

func decode(k *koanf.Koanf) (*File, error) {
	if v, ok := env.Get(env.ClientID); ok && v != "" {
		k.Set(ClientIDKey, v)
	}
	if v, ok := env.Get(env.RedirectURL); ok && v != "" {
		k.Set(RedirectURLKey, v)
	}
	if v, ok := env.GetBool(env.Headless); ok {
		k.Set("headless", v)
	}
	if v, ok := env.Get(env.OTELEndpoint); ok && v != "" {
		k.Set("telemetry.endpoint", v)
	}

	f := &File{Browser: BrowserRod}
	if err := k.UnmarshalWithConf("", f, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	scopes, err := scopes(k)
	if err != nil {
		return nil, err
	}
	f.Scopes = scopes

	switch f.Browser {
	case BrowserRod, BrowserSystem:
	case "":
		f.Browser = BrowserRod
	default:
		return nil, fmt.Errorf("unknown browser %q", f.Browser)
	}
	return f, nil
}

// scopes returns nil when the key is absent so that the default scopes apply, and
// oauthpopup.ErrInvalidScopes when the value is not a list of strings.
func scopes(k *koanf.Koanf) ([]string, error) {
	if !k.Exists(ScopesKey) {
		return nil, nil
	}
	list, ok := k.Get(ScopesKey).([]any)
	if !ok {
		return nil, oauthpopup.ErrInvalidScopes
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		s, ok := v.(string)
		if !ok {
			return nil, errors.Join(oauthpopup.ErrInvalidScopes, fmt.Errorf("scope %v is not a string", v))
		}
		out = append(out, s)
	}
	return out, nil
}

func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return json.Parser()
	default:
		return yamlParser{}
	}
}

// yamlParser implements koanf.Parser on top of goccy/go-yaml.
type yamlParser struct{}

func (yamlParser) Unmarshal(b []byte) (map[string]any, error) {
	var out map[string]any
	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func (yamlParser) Marshal(o map[string]any) ([]byte, error) {
	return yaml.Marshal(o)
}
