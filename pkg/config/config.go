// Package config loads the server configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/doriantessier/pixel-war/pkg/canvas"
)

type Config struct {
	Addr          string         `yaml:"addr"`
	Database      string         `yaml:"database"`
	SweepInterval time.Duration  `yaml:"sweep_interval"`
	Canvases      []CanvasConfig `yaml:"canvases"`
	Keys          KeysConfig     `yaml:"keys"`
	Sessions      SessionsConfig `yaml:"sessions"`
	Stream        StreamConfig   `yaml:"stream"`
	Archive       ArchiveConfig  `yaml:"archive"`
	Log           LogConfig      `yaml:"log"`
}

type CanvasConfig struct {
	Name     string        `yaml:"name"`
	Width    int           `yaml:"width"`
	Height   int           `yaml:"height"`
	Cooldown time.Duration `yaml:"cooldown"`
}

type KeysConfig struct {
	TTL     time.Duration `yaml:"ttl"`
	OneTime bool          `yaml:"one_time"`
}

type SessionsConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type StreamConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type ArchiveConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given: a single
// 10x10 canvas named "0000" with a ten second cooldown.
func Default() Config {
	return Config{
		Addr:          "localhost:8080",
		SweepInterval: time.Minute,
		Canvases: []CanvasConfig{
			{Name: "0000", Width: 10, Height: 10, Cooldown: 10 * time.Second},
		},
		Keys:     KeysConfig{TTL: time.Hour},
		Sessions: SessionsConfig{TTL: time.Hour},
		Stream:   StreamConfig{Interval: time.Second},
		Archive:  ArchiveConfig{Interval: 5 * time.Second},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the YAML file at path on top of Default. An empty path returns
// the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from PIXELWAR_* variables looked up with getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("PIXELWAR_ADDR"); v != "" {
		c.Addr = v
	}
	if v := getenv("PIXELWAR_DB"); v != "" {
		c.Database = v
	}
	if v := getenv("PIXELWAR_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("PIXELWAR_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

func (c Config) Validate() error {
	var errs []error
	if len(c.Canvases) == 0 {
		errs = append(errs, errors.New("at least one canvas must be configured"))
	}
	seen := make(map[string]bool)
	for i, cc := range c.Canvases {
		switch {
		case cc.Name == "":
			errs = append(errs, fmt.Errorf("canvases[%d]: name is required", i))
		case seen[cc.Name]:
			errs = append(errs, fmt.Errorf("canvases[%d]: duplicate name %q", i, cc.Name))
		}
		seen[cc.Name] = true
		if cc.Width <= 0 || cc.Height <= 0 {
			errs = append(errs, fmt.Errorf("canvases[%d]: dimensions must be positive, got %dx%d", i, cc.Width, cc.Height))
		}
		if cc.Cooldown < 0 {
			errs = append(errs, fmt.Errorf("canvases[%d]: cooldown must not be negative", i))
		}
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("sweep_interval must be positive"))
	}
	if c.Stream.Interval <= 0 {
		errs = append(errs, errors.New("stream.interval must be positive"))
	}
	if c.Database != "" && c.Archive.Interval <= 0 {
		errs = append(errs, errors.New("archive.interval must be positive"))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// CanvasOptions converts one canvas entry into canvas.Options using the shared
// key and session policy.
func (c Config) CanvasOptions(cc CanvasConfig) canvas.Options {
	return canvas.Options{
		Width:       cc.Width,
		Height:      cc.Height,
		Cooldown:    cc.Cooldown,
		KeyTTL:      c.Keys.TTL,
		SessionTTL:  c.Sessions.TTL,
		OneTimeKeys: c.Keys.OneTime,
	}
}

func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(l.Level))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", l.Level, err)
	}
	return level, nil
}

// Handler builds the slog handler described by the config, writing to w.
func (l LogConfig) Handler(w io.Writer) (slog.Handler, error) {
	level, err := l.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(l.Format) {
	case "", "text":
		return slog.NewTextHandler(w, opts), nil
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", l.Format)
	}
}
