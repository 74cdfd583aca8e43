package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pixelwar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	require.NoError(t, cfg.Validate())

	require.Len(t, cfg.Canvases, 1)
	assert.Equal(t, "0000", cfg.Canvases[0].Name)
	assert.Equal(t, 10*time.Second, cfg.Canvases[0].Cooldown)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
addr: ":9000"
database: pixels.sqlite3
canvases:
  - name: big
    width: 64
    height: 32
    cooldown: 30s
  - name: fast
    width: 8
    height: 8
    cooldown: 0s
keys:
  ttl: 15m
  one_time: true
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "pixels.sqlite3", cfg.Database)
	require.Len(t, cfg.Canvases, 2)
	assert.Equal(t, CanvasConfig{Name: "big", Width: 64, Height: 32, Cooldown: 30 * time.Second}, cfg.Canvases[0])
	assert.Equal(t, 15*time.Minute, cfg.Keys.TTL)
	assert.True(t, cfg.Keys.OneTime)
	// untouched sections keep their defaults
	assert.Equal(t, time.Hour, cfg.Sessions.TTL)
	assert.Equal(t, time.Second, cfg.Stream.Interval)

	opts := cfg.CanvasOptions(cfg.Canvases[1])
	assert.Equal(t, 8, opts.Width)
	assert.Equal(t, time.Duration(0), opts.Cooldown)
	assert.Equal(t, 15*time.Minute, opts.KeyTTL)
	assert.True(t, opts.OneTimeKeys)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "canvases: [unterminated"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Canvases = []CanvasConfig{
		{Name: "a", Width: 0, Height: 5},
		{Name: "a", Width: 5, Height: 5, Cooldown: -time.Second},
		{Width: 1, Height: 1},
	}
	cfg.Log.Level = "loud"
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"dimensions", "duplicate", "cooldown", "name is required", "log level"} {
		assert.Contains(t, err.Error(), want)
	}

	cfg = Default()
	cfg.Canvases = nil
	assert.Error(t, cfg.Validate())
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PIXELWAR_ADDR":      "0.0.0.0:80",
		"PIXELWAR_DB":        "/tmp/p.db",
		"PIXELWAR_LOG_LEVEL": "warn",
	}
	cfg := Default()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "0.0.0.0:80", cfg.Addr)
	assert.Equal(t, "/tmp/p.db", cfg.Database)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLogHandler(t *testing.T) {
	var buf bytes.Buffer
	h, err := LogConfig{Level: "warn", Format: "json"}.Handler(&buf)
	require.NoError(t, err)
	logger := slog.New(h)
	logger.Info("hidden")
	logger.Warn("shown", "k", 1)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = LogConfig{Level: "info", Format: "xml"}.Handler(&buf)
	assert.Error(t, err)
}

func TestExampleConfigMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "pixelwar.example.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, Default(), cfg)
}
