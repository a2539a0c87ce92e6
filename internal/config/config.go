// Package config loads client settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultServerURL         = "ws://127.0.0.1:8765/voice"
	DefaultKeepaliveInterval = 30 * time.Second
	DefaultMaxReconnects     = 5
)

// Transcript backends.
const (
	StoreBadger = "badger"
	StoreFile   = "file"
	StoreMemory = "memory"
)

// Config is everything the client needs at startup.
type Config struct {
	ServerURL         string
	AuthToken         string
	WakeWordEnabled   bool
	DataDir           string
	TranscriptStore   string
	CaptureDump       string
	EchoCancellation  bool
	NoiseSuppression  bool
	KeepaliveInterval time.Duration
	MaxReconnects     int
	MetricsAddr       string
}

// Load reads a .env file from the working directory if there is one, then
// the REY_* environment variables. Variables already set in the process
// environment win over the file.
func Load() (Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit dotenv path. A missing file is not an
// error.
func LoadFile(path string) (Config, error) {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", path, err)
	}

	dataDir, err := defaultDataDir()
	if err != nil {
		return Config{}, err
	}

	var errs []error
	cfg := Config{
		ServerURL:         envOrDefault("REY_SERVER_URL", DefaultServerURL),
		AuthToken:         os.Getenv("REY_AUTH_TOKEN"),
		WakeWordEnabled:   envBool("REY_WAKE_WORD_ENABLED", true, &errs),
		DataDir:           envOrDefault("REY_DATA_DIR", dataDir),
		TranscriptStore:   strings.ToLower(envOrDefault("REY_TRANSCRIPT_STORE", StoreBadger)),
		CaptureDump:       os.Getenv("REY_CAPTURE_DUMP"),
		EchoCancellation:  envBool("REY_ECHO_CANCELLATION", true, &errs),
		NoiseSuppression:  envBool("REY_NOISE_SUPPRESSION", true, &errs),
		KeepaliveInterval: envDuration("REY_KEEPALIVE_INTERVAL", DefaultKeepaliveInterval, &errs),
		MaxReconnects:     envInt("REY_MAX_RECONNECT_ATTEMPTS", DefaultMaxReconnects, &errs),
		MetricsAddr:       os.Getenv("REY_METRICS_ADDR"),
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("REY_SERVER_URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("REY_SERVER_URL: scheme must be ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("REY_SERVER_URL: missing host")
	}

	switch c.TranscriptStore {
	case StoreBadger, StoreFile, StoreMemory:
	default:
		return fmt.Errorf("REY_TRANSCRIPT_STORE: unknown store %q", c.TranscriptStore)
	}
	if c.KeepaliveInterval <= 0 {
		return errors.New("REY_KEEPALIVE_INTERVAL: must be positive")
	}
	if c.MaxReconnects < 1 {
		return errors.New("REY_MAX_RECONNECT_ATTEMPTS: must be at least 1")
	}
	return nil
}

// HealthURL derives the server's HTTP health endpoint from the websocket URL.
func (c Config) HealthURL() (string, error) {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return "", fmt.Errorf("parse server URL: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/health"
	u.RawQuery = ""
	return u.String(), nil
}

// TranscriptPath is where the file backend keeps its JSON document.
func (c Config) TranscriptPath() string {
	return filepath.Join(c.DataDir, "transcript.json")
}

// BadgerDir is where the badger backend keeps its database.
func (c Config) BadgerDir() string {
	return filepath.Join(c.DataDir, "badger")
}

func defaultDataDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate user config dir: %w", err)
	}
	return filepath.Join(dir, "rey"), nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool, errs *[]error) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return b
}

func envInt(key string, fallback int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}
