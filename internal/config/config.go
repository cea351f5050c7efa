// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v9"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/jeranaias/streamchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete streamchat configuration.
type Config struct {
	Client ClientConfig `toml:"client" json:"client"`
	Server ServerConfig `toml:"server" json:"server"`
	Log    LogConfig    `toml:"log" json:"log"`
}

// ClientConfig configures the chat client.
type ClientConfig struct {
	// BackendURL is the chat backend base URL.
	BackendURL string `toml:"backend_url" json:"backend_url" env:"STREAMCHAT_BACKEND_URL"`
	// RequestTimeout bounds /models and /export. Streams are unbounded.
	RequestTimeout time.Duration `toml:"request_timeout" json:"request_timeout" env:"STREAMCHAT_REQUEST_TIMEOUT"`
	// Storage is the persistence backend: "file", "sqlite" or "memory".
	Storage string `toml:"storage" json:"storage" env:"STREAMCHAT_STORAGE"`
	// DataDir holds persisted state (empty = ~/.streamchat/data).
	DataDir string `toml:"data_dir" json:"data_dir" env:"STREAMCHAT_DATA_DIR"`
	// SystemPrompt is applied to new conversations.
	SystemPrompt string `toml:"system_prompt" json:"system_prompt" env:"STREAMCHAT_SYSTEM_PROMPT"`
}

// ServerConfig configures the backend server.
type ServerConfig struct {
	Addr string `toml:"addr" json:"addr" env:"STREAMCHAT_ADDR"`
	// UpstreamURL is an OpenAI-compatible API base URL.
	UpstreamURL string `toml:"upstream_url" json:"upstream_url" env:"STREAMCHAT_UPSTREAM_URL"`
	// UpstreamKey is the upstream API key. Never written back to disk.
	UpstreamKey string   `toml:"upstream_key" json:"upstream_key" env:"STREAMCHAT_UPSTREAM_KEY"`
	Models      []string `toml:"models" json:"models" env:"STREAMCHAT_MODELS" envSeparator:","`
	// PublicURL prefixes export links (empty = derived from the request).
	PublicURL     string        `toml:"public_url" json:"public_url" env:"STREAMCHAT_PUBLIC_URL"`
	ExportTTL     time.Duration `toml:"export_ttl" json:"export_ttl" env:"STREAMCHAT_EXPORT_TTL"`
	PruneSchedule string        `toml:"prune_schedule" json:"prune_schedule" env:"STREAMCHAT_PRUNE_SCHEDULE"`
	RateLimit     float64       `toml:"rate_limit" json:"rate_limit" env:"STREAMCHAT_RATE_LIMIT"`
	RateBurst     int           `toml:"rate_burst" json:"rate_burst" env:"STREAMCHAT_RATE_BURST"`
	MaxBodyBytes  int64         `toml:"max_body_bytes" json:"max_body_bytes" env:"STREAMCHAT_MAX_BODY_BYTES"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `toml:"level" json:"level" env:"STREAMCHAT_LOG_LEVEL"`
	Pretty bool   `toml:"pretty" json:"pretty" env:"STREAMCHAT_LOG_PRETTY"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			BackendURL:     "http://localhost:8000",
			RequestTimeout: 30 * time.Second,
			Storage:        "file",
		},
		Server: ServerConfig{
			Addr:          ":8000",
			UpstreamURL:   "https://api.groq.com/openai/v1",
			Models:        []string{"gemma2-9b-it", "llama-3.1-8b-instant", "llama3-8b-8192"},
			ExportTTL:     7 * 24 * time.Hour,
			PruneSchedule: "@every 1h",
			RateLimit:     5,
			RateBurst:     10,
			MaxBodyBytes:  1 << 20,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the streamchat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".streamchat"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DataDir returns the resolved client data directory.
func (c *Config) DataDir() (string, error) {
	if c.Client.DataDir != "" {
		return c.Client.DataDir, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "data"), nil
}

// ensureSecurePermissions tightens a config file to 0600.
// SECURITY: the file may hold the upstream API key.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load builds the configuration from defaults, the TOML file at path (or
// the default location when path is empty), a .env file and the
// environment, then validates it. A missing file at the default location
// is not an error; a missing explicit path is.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		p, err := ConfigPathTOML()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if err := LoadTOML(cfg, path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes the TOML file at path over cfg.
// SECURITY: Checks and fixes file permissions on load.
func LoadTOML(cfg *Config, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		fmt.Fprintf(os.Stderr, "Warning: unknown config keys in %s: %s\n", path, strings.Join(keys, ", "))
	}
	return nil
}

// loadDotEnv loads path into the process environment without overriding
// variables that are already set. A missing file is ignored.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnvOverrides overlays STREAMCHAT_* environment variables.
func (c *Config) ApplyEnvOverrides() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	return nil
}

// SetDefaults fills zero values left by partial files.
func (c *Config) SetDefaults() {
	d := Default()

	c.Client.BackendURL = strings.TrimRight(strings.TrimSpace(c.Client.BackendURL), "/")
	if c.Client.BackendURL == "" {
		c.Client.BackendURL = d.Client.BackendURL
	}
	if c.Client.RequestTimeout == 0 {
		c.Client.RequestTimeout = d.Client.RequestTimeout
	}
	c.Client.Storage = strings.ToLower(strings.TrimSpace(c.Client.Storage))
	if c.Client.Storage == "" {
		c.Client.Storage = d.Client.Storage
	}

	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.UpstreamURL == "" {
		c.Server.UpstreamURL = d.Server.UpstreamURL
	}
	if len(c.Server.Models) == 0 {
		c.Server.Models = d.Server.Models
	}
	if c.Server.ExportTTL == 0 {
		c.Server.ExportTTL = d.Server.ExportTTL
	}
	if c.Server.PruneSchedule == "" {
		c.Server.PruneSchedule = d.Server.PruneSchedule
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = d.Server.RateBurst
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = d.Server.MaxBodyBytes
	}

	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes cfg to path with a header comment. The upstream key is
// never persisted.
// SECURITY: Creates config files with 0600 permissions (owner read/write only).
func SaveTOML(cfg *Config, path string) error {
	safe := cfg.Clone()
	safe.Server.UpstreamKey = ""

	var buf bytes.Buffer
	buf.WriteString("# streamchat configuration file\n")
	buf.WriteString("# Generated by streamchat - edit with care\n")
	buf.WriteString("#\n")
	buf.WriteString("# Secrets belong in STREAMCHAT_UPSTREAM_KEY, not here.\n\n")
	if err := toml.NewEncoder(&buf).Encode(safe); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.WriteFileAtomic(path, buf.Bytes(), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError is one invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var validLevels = []string{"trace", "debug", "info", "warn", "error", "off"}

var validStorage = []string{"file", "sqlite", "memory"}

// Validate checks every setting and returns all problems at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	fail := func(field, format string, args ...any) {
		result = multierror.Append(result, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if err := validateURL(c.Client.BackendURL); err != nil {
		fail("client.backend_url", "%v", err)
	}
	if c.Client.RequestTimeout < 0 {
		fail("client.request_timeout", "must not be negative")
	}
	if !slices.Contains(validStorage, c.Client.Storage) {
		fail("client.storage", "invalid backend '%s', must be one of: %s", c.Client.Storage, strings.Join(validStorage, ", "))
	}

	if c.Server.Addr == "" {
		fail("server.addr", "must not be empty")
	}
	if err := validateURL(c.Server.UpstreamURL); err != nil {
		fail("server.upstream_url", "%v", err)
	}
	if c.Server.PublicURL != "" {
		if err := validateURL(c.Server.PublicURL); err != nil {
			fail("server.public_url", "%v", err)
		}
	}
	for i, m := range c.Server.Models {
		if strings.TrimSpace(m) == "" {
			fail(fmt.Sprintf("server.models[%d]", i), "must not be empty")
		}
	}
	if c.Server.ExportTTL < time.Minute {
		fail("server.export_ttl", "must be at least 1m, got %s", c.Server.ExportTTL)
	}
	if _, err := cron.ParseStandard(c.Server.PruneSchedule); err != nil {
		fail("server.prune_schedule", "invalid schedule '%s': %v", c.Server.PruneSchedule, err)
	}
	if c.Server.RateLimit < 0 {
		fail("server.rate_limit", "must not be negative")
	}
	if c.Server.RateBurst < 1 {
		fail("server.rate_burst", "must be at least 1")
	}
	if c.Server.MaxBodyBytes < 1024 {
		fail("server.max_body_bytes", "must be at least 1024")
	}

	if !slices.Contains(validLevels, c.Log.Level) {
		fail("log.level", "invalid level '%s', must be one of: %s", c.Log.Level, strings.Join(validLevels, ", "))
	}

	return result.ErrorOrNil()
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL '%s': %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL '%s': scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid URL '%s': missing host", raw)
	}
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Server.Models = slices.Clone(c.Server.Models)
	return &clone
}

// String returns the config as JSON for debugging.
// SECURITY: Redacts the upstream API key.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Server.UpstreamKey != "" {
		safe.Server.UpstreamKey = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load("")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigOnce.Do(func() {})
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
