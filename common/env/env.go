// Package env resolves settings from the process environment, falling back to a .env file in
// the working directory. Process variables win over the file.
package env

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/joho/godotenv"
)

type Key = string

const (
	LogLevel     Key = "OAUTHPOPUP_LOG_LEVEL"
	LogPath      Key = "OAUTHPOPUP_LOG_PATH"
	ClientID     Key = "OAUTHPOPUP_CLIENT_ID"
	RedirectURL  Key = "OAUTHPOPUP_REDIRECT_URL"
	OTELEndpoint Key = "OAUTHPOPUP_OTEL_ENDPOINT"
	Headless     Key = "OAUTHPOPUP_HEADLESS"
)

var keys = []Key{LogLevel, LogPath, ClientID, RedirectURL, OTELEndpoint, Headless}

var (
	envVars   = map[string]string{}
	envVarsMu sync.RWMutex
)

func init() {
	if err := Load(".env"); err != nil {
		slog.Error(".env file found, but failed to read", slog.Any("error", err))
	}
}

// Load replaces the known variables with the ones from the dotenv file at path, overridden by
// the process environment. A missing file is not an error.
func Load(path string) error {
	vars := map[string]string{}
	fileVars, err := godotenv.Read(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	for _, key := range keys {
		if v, ok := fileVars[key]; ok {
			vars[key] = v
		}
		if v, ok := os.LookupEnv(key); ok {
			vars[key] = v
		}
	}
	envVarsMu.Lock()
	envVars = vars
	envVarsMu.Unlock()
	return nil
}

// Get returns the raw value of key.
func Get(key Key) (string, bool) {
	envVarsMu.RLock()
	defer envVarsMu.RUnlock()
	v, ok := envVars[key]
	return v, ok
}

// GetBool returns the value of key parsed as a bool. Unparseable values are reported as unset.
func GetBool(key Key) (bool, bool) {
	v, ok := Get(key)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("Ignoring invalid boolean environment variable", "key", key, "value", v)
		return false, false
	}
	return b, true
}
