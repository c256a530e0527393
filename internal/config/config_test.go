// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"RIGCHAT_MODEL", "RIGCHAT_BACKEND", "RIGCHAT_URL", "OLLAMA_HOST", "RIGCHAT_AUTH_TOKEN",
		"RIGCHAT_DB", "RIGCHAT_LOG_LEVEL", "RIGCHAT_SERVER_ADDR", "RIGCHAT_SAVE_INTERVAL",
	} {
		t.Setenv(k, "")
	}
	// Keep a stray .env in the package directory from leaking in.
	t.Chdir(t.TempDir())
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
	if cfg.Chat.SaveInterval != 10 {
		t.Errorf("SaveInterval = %d, want 10", cfg.Chat.SaveInterval)
	}
	if cfg.Chat.DefaultTitle != "New Chat" {
		t.Errorf("DefaultTitle = %q, want 'New Chat'", cfg.Chat.DefaultTitle)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, BackendOllama, cfg.Backend.Kind)
	assert.Equal(t, 60*time.Second, cfg.Backend.Timeout)
}

func TestLoad_TOMLAndEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
default_model = "llama3.2"

[backend]
kind = "ollama"
url = "http://10.0.0.5:11434"
timeout = "5s"

[chat]
save_interval = 3
think = false
`), 0600))

	t.Setenv("RIGCHAT_MODEL", "qwen3:8b")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "qwen3:8b", cfg.DefaultModel)
	assert.Equal(t, "http://10.0.0.5:11434", cfg.Backend.URL)
	assert.Equal(t, 5*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 3, cfg.Chat.SaveInterval)
	assert.False(t, cfg.Chat.Think)
	assert.Equal(t, "New Chat", cfg.Chat.DefaultTitle)
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	// godotenv never overrides a variable that exists, even when empty.
	os.Unsetenv("RIGCHAT_DB")
	require.NoError(t, os.WriteFile(".env", []byte("RIGCHAT_DB=/tmp/from-dotenv.db\n"), 0600))

	cfg, err := Load(filepath.Join(t.TempDir(), "none.toml"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-dotenv.db", cfg.Storage.Path)
}

func TestOllamaHostWithoutScheme(t *testing.T) {
	clearEnv(t)
	t.Setenv("OLLAMA_HOST", "192.168.1.9:11434")

	cfg := Default()
	cfg.ApplyEnvOverrides()
	assert.Equal(t, "http://192.168.1.9:11434", cfg.Backend.URL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"bad kind", func(c *Config) { c.Backend.Kind = "openai" }, "backend.kind"},
		{"bad url", func(c *Config) { c.Backend.URL = "ftp://x" }, "backend.url"},
		{"cloud without token", func(c *Config) { c.Backend.Kind = BackendCloud }, "backend.auth_token"},
		{"save interval", func(c *Config) { c.Chat.SaveInterval = 0 }, "chat.save_interval"},
		{"tool rounds", func(c *Config) { c.Chat.MaxToolRounds = -1 }, "chat.max_tool_rounds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			var verrs ValidateErrors
			require.True(t, errors.As(cfg.Validate(), &verrs))
			assert.Equal(t, tt.field, verrs[0].Field)
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "sub", "config.toml")

	cfg := Default()
	cfg.DefaultModel = "gemma3"
	cfg.Chat.MaxToolRounds = 2
	require.NoError(t, Save(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gemma3", loaded.DefaultModel)
	assert.Equal(t, 2, loaded.Chat.MaxToolRounds)
}

func TestString_RedactsToken(t *testing.T) {
	cfg := Default()
	cfg.Backend.AuthToken = "sk-secret"
	assert.NotContains(t, cfg.String(), "sk-secret")
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`default_model = "a"`), 0600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	ready := make(chan struct{})
	go func() {
		close(ready)
		Watch(ctx, path, func(c *Config) { changes <- c }, nil)
	}()
	<-ready
	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(`default_model = "b"`), 0600))

	select {
	case cfg := <-changes:
		assert.Equal(t, "b", cfg.DefaultModel)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}
}
