package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Tonoyama/EkiPick/internal/models"
	"github.com/Tonoyama/EkiPick/internal/pins"
	"github.com/Tonoyama/EkiPick/internal/reveal"
	"gopkg.in/yaml.v3"
)

type config struct {
	BackendURL     string        `yaml:"backendURL"`
	ChatPath       string        `yaml:"chatPath"`
	RevealInterval time.Duration `yaml:"revealInterval"`
	// Environment "development" turns contract violations into panics.
	Environment string     `yaml:"environment"`
	LogFile     string     `yaml:"logFile"`
	LogLevel    string     `yaml:"logLevel"`
	MetricsAddr string     `yaml:"metricsAddr"`
	Pins        pinsConfig `yaml:"pins"`
}

type pinsConfig struct {
	// Store is "local", "remote" or "none".
	Store     string `yaml:"store"`
	Path      string `yaml:"path"`
	RemoteURL string `yaml:"remoteURL"`
	Token     string `yaml:"token"`
}

// pinStore is a pin destination that can also list what it holds.
type pinStore interface {
	pins.Saver
	List(ctx context.Context) ([]models.LocationPin, error)
}

func defaultConfig(cfgDir string) config {
	return config{
		BackendURL:     "http://localhost:8000",
		ChatPath:       "/api/v1/chat",
		RevealInterval: reveal.DefaultInterval,
		Environment:    "production",
		LogFile:        filepath.Join(cfgDir, "ekipick.log"),
		LogLevel:       "info",
		Pins: pinsConfig{
			Store: "local",
			Path:  filepath.Join(cfgDir, "pins.db"),
		},
	}
}

// loadConfig reads path over the defaults and applies EKIPICK_* environment overrides. A missing
// file is not an error.
func loadConfig(path, cfgDir string, getenv func(string) string) (config, error) {
	cfg := defaultConfig(cfgDir)

	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && err != io.EOF {
			return cfg, fmt.Errorf("error decoding config file: %w", err)
		}
	case !os.IsNotExist(err):
		return cfg, fmt.Errorf("error opening config file: %w", err)
	}

	cfg.BackendURL = getEnv(getenv, "EKIPICK_BACKEND_URL", cfg.BackendURL)
	cfg.Environment = getEnv(getenv, "EKIPICK_ENVIRONMENT", cfg.Environment)
	cfg.LogLevel = getEnv(getenv, "EKIPICK_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnv(getenv, "EKIPICK_LOG_FILE", cfg.LogFile)
	cfg.Pins.Token = getEnv(getenv, "EKIPICK_PINS_TOKEN", cfg.Pins.Token)
	cfg.RevealInterval, err = getDurationEnv(getenv, "EKIPICK_REVEAL_INTERVAL", cfg.RevealInterval)
	if err != nil {
		return cfg, err
	}

	return cfg, cfg.validate()
}

func (c config) validate() error {
	if c.RevealInterval <= 0 {
		return fmt.Errorf("revealInterval must be positive")
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid backendURL %q", c.BackendURL)
	}
	switch c.Pins.Store {
	case "local", "none", "":
	case "remote":
		if c.Pins.RemoteURL == "" {
			return fmt.Errorf("pins.remoteURL is required for the remote pin store")
		}
	default:
		return fmt.Errorf("unknown pin store: %s", c.Pins.Store)
	}
	return nil
}

// endpoint is the full chat URL.
func (c config) endpoint() (string, error) {
	return url.JoinPath(c.BackendURL, c.ChatPath)
}

func (c config) strict() bool {
	return strings.EqualFold(c.Environment, "development")
}

// pinStore opens the configured pin store. It returns nil when pin storage is disabled. The
// returned close function is never nil.
func (c config) pinStore() (pinStore, func() error, error) {
	noop := func() error { return nil }

	switch c.Pins.Store {
	case "local":
		if err := os.MkdirAll(filepath.Dir(c.Pins.Path), 0o755); err != nil {
			return nil, noop, fmt.Errorf("error creating pin store directory: %w", err)
		}
		store, err := pins.NewBoltStore(c.Pins.Path)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	case "remote":
		return pins.NewRemote(c.Pins.RemoteURL, c.Pins.Token, nil), noop, nil
	default:
		return nil, noop, nil
	}
}

func getEnv(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDurationEnv(getenv func(string) string, key string, fallback time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
