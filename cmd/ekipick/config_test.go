package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Tonoyama/EkiPick/internal/models"
	"github.com/Tonoyama/EkiPick/internal/pins"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := loadConfig(filepath.Join(dir, "missing.yaml"), dir, envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.BackendURL)
	assert.Equal(t, 30*time.Millisecond, cfg.RevealInterval)
	assert.False(t, cfg.strict())
	assert.Equal(t, filepath.Join(dir, "pins.db"), cfg.Pins.Path)

	endpoint, err := cfg.endpoint()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/api/v1/chat", endpoint)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backendURL: https://ekipick.example.com/
revealInterval: 50ms
environment: development
pins:
  store: remote
  remoteURL: https://pins.example.com
`), 0o600))

	cfg, err := loadConfig(path, dir, envMap(map[string]string{
		"EKIPICK_REVEAL_INTERVAL": "10ms",
		"EKIPICK_PINS_TOKEN":      "secret",
	}))
	require.NoError(t, err)

	assert.Equal(t, 10*time.Millisecond, cfg.RevealInterval)
	assert.True(t, cfg.strict())
	assert.Equal(t, "secret", cfg.Pins.Token)
	assert.Equal(t, "/api/v1/chat", cfg.ChatPath, "unset keys keep their defaults")

	endpoint, err := cfg.endpoint()
	require.NoError(t, err)
	assert.Equal(t, "https://ekipick.example.com/api/v1/chat", endpoint)

	store, closeStore, err := cfg.pinStore()
	require.NoError(t, err)
	assert.IsType(t, pins.Remote{}, store)
	assert.NoError(t, closeStore())
}

func TestLoadConfigInvalid(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{name: "Bad interval env", env: map[string]string{"EKIPICK_REVEAL_INTERVAL": "fast"}},
		{name: "Zero interval", yaml: "revealInterval: 0s\n"},
		{name: "Bad backend", yaml: "backendURL: localhost:8000\n"},
		{name: "Remote without URL", yaml: "pins:\n  store: remote\n"},
		{name: "Unknown store", yaml: "pins:\n  store: redis\n"},
		{name: "Malformed", yaml: "backendURL: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o600))

			_, err := loadConfig(path, dir, envMap(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestLocalPinStore(t *testing.T) {
	dir := t.TempDir()
	cfg := defaultConfig(dir)
	cfg.Pins.Path = filepath.Join(dir, "nested", "pins.db")

	store, closeStore, err := cfg.pinStore()
	require.NoError(t, err)
	defer func() { assert.NoError(t, closeStore()) }()

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, models.LocationPin{Label: "渋谷駅", Lat: 35.658, Lon: 139.701}))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "渋谷駅", list[0].Label)

	cfg.Pins.Store = "none"
	none, closeNone, err := cfg.pinStore()
	require.NoError(t, err)
	assert.Nil(t, none)
	assert.NoError(t, closeNone())
}
