// Package config loads focusspace settings from a TOML file with
// environment overrides applied on top.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
)

const (
	DefaultAddr         = ":8080"
	DefaultBaseURL      = "http://127.0.0.1:8080"
	DefaultWorkspace    = "default"
	DefaultModel        = "gemini-3-flash-preview"
	DefaultQuietPeriod  = time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultMaxBodyBytes = 1 << 20
)

type Config struct {
	LogLevel   string           `toml:"log_level"`
	Server     ServerConfig     `toml:"server"`
	Client     ClientConfig     `toml:"client"`
	Categorize CategorizeConfig `toml:"categorize"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
	// StateBackend is a DSN such as file:///var/lib/focusspace/state.json,
	// sqlite:///path.db, postgres://..., s3://bucket/key or memory://.
	StateBackend    string        `toml:"state_backend"`
	MaxBodyBytes    int64         `toml:"max_body_bytes"`
	RateLimitMax    int           `toml:"rate_limit_max"`
	RateLimitWindow time.Duration `toml:"rate_limit_window"`
	OriginPatterns  []string      `toml:"origin_patterns,omitempty"`
}

type ClientConfig struct {
	BaseURL      string        `toml:"base_url"`
	Workspace    string        `toml:"workspace"`
	QuietPeriod  time.Duration `toml:"quiet_period"`
	WriteTimeout time.Duration `toml:"write_timeout"`
	MirrorFile   string        `toml:"mirror_file"`
	SessionFile  string        `toml:"session_file"`
	Offline      bool          `toml:"offline"`
}

type CategorizeConfig struct {
	APIKey  string        `toml:"api_key,omitempty"`
	Model   string        `toml:"model"`
	BaseURL string        `toml:"base_url,omitempty"`
	Timeout time.Duration `toml:"timeout"`
}

// Default returns the built-in settings with local files under baseDir.
func Default(baseDir string) *Config {
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Addr:            DefaultAddr,
			MaxBodyBytes:    DefaultMaxBodyBytes,
			RateLimitWindow: time.Minute,
		},
		Client: ClientConfig{
			BaseURL:      DefaultBaseURL,
			Workspace:    DefaultWorkspace,
			QuietPeriod:  DefaultQuietPeriod,
			WriteTimeout: DefaultWriteTimeout,
			MirrorFile:   filepath.Join(baseDir, "workspace.json"),
			SessionFile:  filepath.Join(baseDir, "session"),
		},
		Categorize: CategorizeConfig{
			Model:   DefaultModel,
			Timeout: 30 * time.Second,
		},
	}
}

// DefaultDir is the per-user directory holding the config, mirror and
// session files.
func DefaultDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "focusspace")
	}
	return ".focusspace"
}

func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.toml")
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes r over cfg, keeping values the file does not set.
func (m *Manager) Read(r io.Reader, cfg *Config) error {
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}

func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Load builds the effective configuration: defaults, then the file at path
// when it exists, then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default(DefaultDir())
	if path != "" {
		f, err := os.Open(path)
		switch {
		case err == nil:
			defer f.Close()
			m := &Manager{}
			if err := m.Read(f, cfg); err != nil {
				return nil, fmt.Errorf("reading config from %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from FOCUSSPACE_* variables and GEMINI_API_KEY.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	env := envReader{lookup: lookup}
	env.setString("FOCUSSPACE_LOG_LEVEL", &cfg.LogLevel)

	env.setString("FOCUSSPACE_ADDR", &cfg.Server.Addr)
	env.setString("FOCUSSPACE_STATE_BACKEND", &cfg.Server.StateBackend)
	env.setInt64("FOCUSSPACE_MAX_BODY_BYTES", &cfg.Server.MaxBodyBytes)
	env.setInt("FOCUSSPACE_RATE_LIMIT_MAX", &cfg.Server.RateLimitMax)
	env.setDuration("FOCUSSPACE_RATE_LIMIT_WINDOW", &cfg.Server.RateLimitWindow)

	env.setString("FOCUSSPACE_BASE_URL", &cfg.Client.BaseURL)
	env.setString("FOCUSSPACE_WORKSPACE", &cfg.Client.Workspace)
	env.setDuration("FOCUSSPACE_QUIET_PERIOD", &cfg.Client.QuietPeriod)
	env.setDuration("FOCUSSPACE_WRITE_TIMEOUT", &cfg.Client.WriteTimeout)
	env.setString("FOCUSSPACE_MIRROR_FILE", &cfg.Client.MirrorFile)
	env.setString("FOCUSSPACE_SESSION_FILE", &cfg.Client.SessionFile)
	env.setBool("FOCUSSPACE_OFFLINE", &cfg.Client.Offline)

	env.setString("GEMINI_API_KEY", &cfg.Categorize.APIKey)
	env.setString("FOCUSSPACE_GEMINI_MODEL", &cfg.Categorize.Model)
	env.setString("FOCUSSPACE_GEMINI_BASE_URL", &cfg.Categorize.BaseURL)
	env.setDuration("FOCUSSPACE_GEMINI_TIMEOUT", &cfg.Categorize.Timeout)
	return env.err
}

// Level parses LogLevel, defaulting to info.
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(c.LogLevel)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// Init writes cfg to path. It refuses to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// envReader records the first malformed value it meets.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) raw(name string) (string, bool) {
	value, ok := e.lookup(name)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func (e *envReader) fail(name, value string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s=%q: %w", name, value, err)
	}
}

func (e *envReader) setString(name string, dst *string) {
	if value, ok := e.raw(name); ok {
		*dst = value
	}
}

func (e *envReader) setInt(name string, dst *int) {
	value, ok := e.raw(name)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		e.fail(name, value, err)
		return
	}
	*dst = parsed
}

func (e *envReader) setInt64(name string, dst *int64) {
	value, ok := e.raw(name)
	if !ok {
		return
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		e.fail(name, value, err)
		return
	}
	*dst = parsed
}

func (e *envReader) setBool(name string, dst *bool) {
	value, ok := e.raw(name)
	if !ok {
		return
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		e.fail(name, value, err)
		return
	}
	*dst = parsed
}

// setDuration accepts Go duration strings and bare integers as milliseconds.
func (e *envReader) setDuration(name string, dst *time.Duration) {
	value, ok := e.raw(name)
	if !ok {
		return
	}
	if ms, err := strconv.Atoi(value); err == nil {
		*dst = time.Duration(ms) * time.Millisecond
		return
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		e.fail(name, value, err)
		return
	}
	*dst = parsed
}
