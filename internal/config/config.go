// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for rigchat.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Backend kinds.
const (
	BackendOllama = "ollama"
	BackendCloud  = "cloud"
)

// Config represents the complete rigchat configuration.
type Config struct {
	// DefaultModel is used when a request names no model.
	DefaultModel string `toml:"default_model" json:"default_model"`

	Backend BackendConfig `toml:"backend" json:"backend"`
	Chat    ChatConfig    `toml:"chat" json:"chat"`
	Tools   ToolsConfig   `toml:"tools" json:"tools"`
	Storage StorageConfig `toml:"storage" json:"storage"`
	Log     LogConfig     `toml:"log" json:"log"`
	Server  ServerConfig  `toml:"server" json:"server"`
}

// BackendConfig selects and configures the model backend.
type BackendConfig struct {
	Kind              string        `toml:"kind" json:"kind"` // "ollama" or "cloud"
	URL               string        `toml:"url" json:"url"`
	AuthToken         string        `toml:"auth_token" json:"auth_token"`
	RequestsPerSecond float64       `toml:"requests_per_second" json:"requests_per_second"` // cloud only, 0 = unlimited
	Burst             int           `toml:"burst" json:"burst"`
	Timeout           time.Duration `toml:"timeout" json:"timeout"` // non-streaming requests
	KeepAlive         string        `toml:"keep_alive" json:"keep_alive"`
}

// ChatConfig controls response generation.
type ChatConfig struct {
	// SaveInterval is the number of chunks between persisted snapshots.
	SaveInterval  int    `toml:"save_interval" json:"save_interval"`
	Think         bool   `toml:"think" json:"think"`
	ToolsEnabled  bool   `toml:"tools_enabled" json:"tools_enabled"`
	MaxToolRounds int    `toml:"max_tool_rounds" json:"max_tool_rounds"`
	DefaultTitle  string `toml:"default_title" json:"default_title"`
	TitleModel    string `toml:"title_model" json:"title_model"` // empty = same model as the chat
	SystemPrompt  string `toml:"system_prompt" json:"system_prompt"`
}

// ToolsConfig configures the built-in tools.
type ToolsConfig struct {
	WorkDir   string        `toml:"workdir" json:"workdir"`
	Timeout   time.Duration `toml:"timeout" json:"timeout"`
	MaxOutput int           `toml:"max_output" json:"max_output"`
}

// StorageConfig locates the chat database.
type StorageConfig struct {
	Path string `toml:"path" json:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `toml:"level" json:"level"`
	Pretty bool   `toml:"pretty" json:"pretty"`
}

// ServerConfig configures the local status server. Empty Addr disables it.
type ServerConfig struct {
	Addr string `toml:"addr" json:"addr"`

	// AuthToken, when set, is required as a bearer token on every route
	// except /healthz.
	AuthToken string `toml:"auth_token" json:"auth_token"`
}

// Default returns the built-in configuration.
func Default() *Config {
	dbPath := "rigchat.db"
	if dir, err := ConfigDir(); err == nil {
		dbPath = filepath.Join(dir, "rigchat.db")
	}

	return &Config{
		DefaultModel: "",
		Backend: BackendConfig{
			Kind:    BackendOllama,
			URL:     "http://127.0.0.1:11434",
			Burst:   1,
			Timeout: 60 * time.Second,
		},
		Chat: ChatConfig{
			SaveInterval:  10,
			Think:         true,
			ToolsEnabled:  true,
			MaxToolRounds: 5,
			DefaultTitle:  "New Chat",
		},
		Tools: ToolsConfig{
			WorkDir:   ".",
			Timeout:   30 * time.Second,
			MaxOutput: 30000,
		},
		Storage: StorageConfig{Path: dbPath},
		Log:     LogConfig{Level: "info"},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the rigchat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigchat"), nil
}

// DefaultPath returns the path to the TOML config file.
func DefaultPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads the TOML file at path (the default path when empty), then
// .env, then RIGCHAT_* environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to decode TOML file: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration as TOML with owner-only permissions.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	fmt.Fprintln(file, "# rigchat configuration file")
	fmt.Fprintln(file, "")

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// =============================================================================
// DEFAULTS & ENV
// =============================================================================

// SetDefaults fills zero values that would make the config unusable.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Backend.Kind == "" {
		c.Backend.Kind = defaults.Backend.Kind
	}
	c.Backend.Kind = strings.ToLower(c.Backend.Kind)
	if c.Backend.URL == "" && c.Backend.Kind == BackendOllama {
		c.Backend.URL = defaults.Backend.URL
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = defaults.Backend.Timeout
	}
	if c.Backend.Burst == 0 {
		c.Backend.Burst = defaults.Backend.Burst
	}
	if c.Chat.SaveInterval == 0 {
		c.Chat.SaveInterval = defaults.Chat.SaveInterval
	}
	if c.Chat.DefaultTitle == "" {
		c.Chat.DefaultTitle = defaults.Chat.DefaultTitle
	}
	if c.Tools.WorkDir == "" {
		c.Tools.WorkDir = defaults.Tools.WorkDir
	}
	if c.Tools.Timeout == 0 {
		c.Tools.Timeout = defaults.Tools.Timeout
	}
	if c.Tools.MaxOutput == 0 {
		c.Tools.MaxOutput = defaults.Tools.MaxOutput
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaults.Storage.Path
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
}

// ApplyEnvOverrides applies environment variable overrides.
//
//   - RIGCHAT_MODEL: overrides default_model
//   - RIGCHAT_BACKEND: overrides backend.kind
//   - RIGCHAT_URL (or OLLAMA_HOST): overrides backend.url
//   - RIGCHAT_AUTH_TOKEN: overrides backend.auth_token
//   - RIGCHAT_DB: overrides storage.path
//   - RIGCHAT_LOG_LEVEL: overrides log.level
//   - RIGCHAT_SERVER_ADDR: overrides server.addr
//   - RIGCHAT_SERVER_TOKEN: overrides server.auth_token
//   - RIGCHAT_SAVE_INTERVAL: overrides chat.save_interval
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("RIGCHAT_MODEL"); v != "" {
		c.DefaultModel = v
	}
	if v := os.Getenv("RIGCHAT_BACKEND"); v != "" {
		c.Backend.Kind = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		if !strings.Contains(v, "://") {
			v = "http://" + v
		}
		c.Backend.URL = v
	}
	if v := os.Getenv("RIGCHAT_URL"); v != "" {
		c.Backend.URL = v
	}
	if v := os.Getenv("RIGCHAT_AUTH_TOKEN"); v != "" {
		c.Backend.AuthToken = v
	}
	if v := os.Getenv("RIGCHAT_DB"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("RIGCHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("RIGCHAT_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("RIGCHAT_SERVER_TOKEN"); v != "" {
		c.Server.AuthToken = v
	}
	if v := os.Getenv("RIGCHAT_SAVE_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Chat.SaveInterval = n
		}
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	switch c.Backend.Kind {
	case BackendOllama, BackendCloud:
	default:
		errs = append(errs, ValidationError{
			Field:   "backend.kind",
			Message: fmt.Sprintf("invalid kind '%s', must be one of: ollama, cloud", c.Backend.Kind),
		})
	}

	if c.Backend.URL == "" {
		errs = append(errs, ValidationError{Field: "backend.url", Message: "required"})
	} else if u, err := url.Parse(c.Backend.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "backend.url",
			Message: fmt.Sprintf("invalid URL '%s', must be http(s)://host[:port]", c.Backend.URL),
		})
	}

	if c.Backend.Kind == BackendCloud && c.Backend.AuthToken == "" {
		errs = append(errs, ValidationError{Field: "backend.auth_token", Message: "required for the cloud backend"})
	}
	if c.Backend.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{Field: "backend.requests_per_second", Message: "must not be negative"})
	}
	if c.Chat.SaveInterval < 1 {
		errs = append(errs, ValidationError{Field: "chat.save_interval", Message: "must be at least 1"})
	}
	if c.Chat.MaxToolRounds < 0 {
		errs = append(errs, ValidationError{Field: "chat.max_tool_rounds", Message: "must not be negative"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// String returns the configuration as JSON with secrets redacted.
func (c *Config) String() string {
	safe := *c
	if safe.Backend.AuthToken != "" {
		safe.Backend.AuthToken = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
