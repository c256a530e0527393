// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/storage"
)

// =============================================================================
// FAKE OLLAMA
// =============================================================================

type fakeOllama struct {
	mu      sync.Mutex
	reply   []string
	loaded  []string
	streams int
}

func (f *fakeOllama) streamCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams
}

func (f *fakeOllama) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/tags":
		json.NewEncoder(w).Encode(ollama.ListModelsResponse{Models: []ollama.ModelInfo{
			{Name: "m", Size: 2 << 30, Details: ollama.ModelDetails{Family: "llama"}},
		}})
	case "/api/ps":
		f.mu.Lock()
		var models []ollama.ModelInfo
		for _, name := range f.loaded {
			models = append(models, ollama.ModelInfo{Name: name, Model: name})
		}
		f.mu.Unlock()
		json.NewEncoder(w).Encode(ollama.ListModelsResponse{Models: models})
	case "/api/show":
		json.NewEncoder(w).Encode(ollama.ShowModelResponse{Capabilities: []string{"completion", "thinking"}})
	case "/api/chat":
		var req ollama.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.serveChat(w, req)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeOllama) serveChat(w http.ResponseWriter, req ollama.ChatRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case len(req.Messages) == 0:
		f.loaded = append(f.loaded, req.Model)
		json.NewEncoder(w).Encode(ollama.ChatResponse{Model: req.Model, Done: true})
	case !req.Stream:
		json.NewEncoder(w).Encode(ollama.ChatResponse{
			Model:   req.Model,
			Message: ollama.Message{Role: "assistant", Content: `{"title":"Test Chat"}`},
			Done:    true,
		})
	default:
		f.streams++
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, part := range f.reply {
			fmt.Fprintf(w, `{"model":%q,"message":{"role":"assistant","content":%q},"done":false}`+"\n", req.Model, part)
		}
		fmt.Fprintf(w, `{"model":%q,"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","eval_count":3}`+"\n", req.Model)
	}
}

// =============================================================================
// HARNESS
// =============================================================================

type harness struct {
	t      *testing.T
	config string
	db     string
	fake   *fakeOllama
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fake := &fakeOllama{reply: []string{"Hello", " there"}}
	ts := httptest.NewServer(fake)
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")
	cfg := fmt.Sprintf(`default_model = "m"

[backend]
kind = "ollama"
url = %q

[storage]
path = %q

[tools]
workdir = %q

[log]
level = "error"
`, ts.URL, filepath.Join(dir, "chats.db"), dir)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0600))

	return &harness{t: t, config: cfgPath, db: filepath.Join(dir, "chats.db"), fake: fake}
}

// run executes rigchat with the harness config and returns the exit code,
// stdout and stderr.
func (h *harness) run(stdin string, args ...string) (int, string, string) {
	h.t.Helper()
	var out, errOut bytes.Buffer
	code := Run(append([]string{"--config", h.config, "--plain"}, args...), strings.NewReader(stdin), &out, &errOut)
	return code, out.String(), errOut.String()
}

// =============================================================================
// COMMANDS
// =============================================================================

func TestRun_SendListShow(t *testing.T) {
	h := newHarness(t)

	code, out, errOut := h.run("", "send", "hi", "there")
	require.Equal(t, ExitSuccess, code, errOut)
	assert.Contains(t, out, "Hello there")
	assert.Contains(t, out, "chat 1: Test Chat")
	assert.Contains(t, errOut, "chat 1")

	code, out, _ = h.run("", "list", "--json")
	require.Equal(t, ExitSuccess, code)
	var chats []model.Chat
	require.NoError(t, json.Unmarshal([]byte(out), &chats))
	require.Len(t, chats, 1)
	assert.Equal(t, "Test Chat", chats[0].Title)

	code, out, _ = h.run("", "show", "1")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "Test Chat")
	assert.Contains(t, out, "hi there")
	assert.Contains(t, out, "Hello there")
	assert.Contains(t, out, "[finished]")
}

func TestRun_SendFromStdin(t *testing.T) {
	h := newHarness(t)

	code, _, errOut := h.run("piped question\n", "send", "-")
	require.Equal(t, ExitSuccess, code, errOut)

	code, out, _ := h.run("", "show", "1", "--json")
	require.Equal(t, ExitSuccess, code)
	var shown struct {
		Messages []struct {
			Type    model.MessageType `json:"type"`
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	require.Len(t, shown.Messages, 2)
	assert.Equal(t, model.TypeUser, shown.Messages[0].Type)
	assert.Equal(t, "piped question", shown.Messages[0].Message.Content)
	assert.Equal(t, "Hello there", shown.Messages[1].Message.Content)
}

func TestRun_SendToExistingChat(t *testing.T) {
	h := newHarness(t)

	code, _, _ := h.run("", "send", "first")
	require.Equal(t, ExitSuccess, code)
	code, _, errOut := h.run("", "send", "--chat", "1", "second")
	require.Equal(t, ExitSuccess, code, errOut)

	code, out, _ := h.run("", "list", "--json")
	require.Equal(t, ExitSuccess, code)
	var chats []model.Chat
	require.NoError(t, json.Unmarshal([]byte(out), &chats))
	assert.Len(t, chats, 1)
	assert.Equal(t, 2, h.fake.streamCount())
}

func TestRun_RegenerateAndEdit(t *testing.T) {
	h := newHarness(t)
	code, _, _ := h.run("", "send", "question")
	require.Equal(t, ExitSuccess, code)

	h.fake.mu.Lock()
	h.fake.reply = []string{"Second answer"}
	h.fake.mu.Unlock()

	// Message 1 is the user message, 2 the reply.
	code, out, errOut := h.run("", "regenerate", "2")
	require.Equal(t, ExitSuccess, code, errOut)
	assert.Contains(t, out, "Second answer")

	code, out, errOut = h.run("", "edit", "1", "better", "question")
	require.Equal(t, ExitSuccess, code, errOut)
	assert.Contains(t, out, "Second answer")

	code, out, _ = h.run("", "show", "1")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "better question")
	assert.NotContains(t, out, "Hello there")
}

func TestRun_PinAndDelete(t *testing.T) {
	h := newHarness(t)
	code, _, _ := h.run("", "send", "one")
	require.Equal(t, ExitSuccess, code)

	code, out, _ := h.run("", "pin", "1")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "Pinned chat 1")

	code, out, _ = h.run("", "list", "--json")
	require.Equal(t, ExitSuccess, code)
	var chats []model.Chat
	require.NoError(t, json.Unmarshal([]byte(out), &chats))
	require.Len(t, chats, 1)
	assert.True(t, chats[0].Pinned)

	code, _, _ = h.run("", "delete", "1")
	require.Equal(t, ExitSuccess, code)

	code, _, _ = h.run("", "show", "1")
	assert.Equal(t, ExitNotFoundError, code)
}

func TestRun_ShowRecoversInterruptedReply(t *testing.T) {
	h := newHarness(t)
	code, _, _ := h.run("", "send", "question")
	require.Equal(t, ExitSuccess, code)

	// Leave the reply as a crashed process would.
	store, err := storage.Open(h.db)
	require.NoError(t, err)
	generating := model.StatusGenerating
	_, err = store.UpdateMessage(context.Background(), 2, storage.MessagePatch{Status: &generating})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	code, out, _ := h.run("", "show", "1", "--json")
	require.Equal(t, ExitSuccess, code)
	var shown struct {
		Messages []struct {
			Message struct {
				Status model.Status `json:"status"`
			} `json:"message"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	require.Len(t, shown.Messages, 2)
	assert.Equal(t, model.StatusCancelled, shown.Messages[1].Message.Status)
}

func TestRun_Models(t *testing.T) {
	h := newHarness(t)

	code, out, errOut := h.run("", "models", "--json")
	require.Equal(t, ExitSuccess, code, errOut)
	var entries []ModelEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "m", entries[0].Name)
	assert.Equal(t, "llama", entries[0].Family)
	assert.True(t, entries[0].Capabilities.Thinking)
	assert.False(t, entries[0].Capabilities.Tools)

	code, out, _ = h.run("", "models")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "2.0 GB")
	assert.Contains(t, out, "thinking")
}

func TestRun_LoadAndPs(t *testing.T) {
	h := newHarness(t)

	code, out, _ := h.run("", "ps")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "No models loaded")

	code, out, errOut := h.run("", "load")
	require.Equal(t, ExitSuccess, code, errOut)
	assert.Contains(t, out, "Loaded m")

	code, out, _ = h.run("", "ps", "--json")
	require.Equal(t, ExitSuccess, code)
	assert.JSONEq(t, `["m"]`, out)
}

func TestRun_UsageErrors(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown command", []string{"frobnicate"}},
		{"send without text", []string{"send"}},
		{"bad message id", []string{"regenerate", "abc"}},
		{"missing chat id", []string{"show"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, errOut := h.run("", tt.args...)
			assert.Equal(t, ExitUsageError, code)
			assert.Contains(t, errOut, "Error:")
		})
	}
}

func TestRun_BadConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[backend]\nkind = \"carrier-pigeon\"\n"), 0600))

	var out, errOut bytes.Buffer
	code := Run([]string{"--config", cfgPath, "list"}, strings.NewReader(""), &out, &errOut)
	assert.Equal(t, ExitConfigError, code)
	assert.Contains(t, errOut.String(), "backend.kind")
}

func TestRun_VersionAndHelp(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, ExitSuccess, Run([]string{"version"}, nil, &out, &errOut))
	assert.Contains(t, out.String(), "rigchat "+Version)

	out.Reset()
	assert.Equal(t, ExitSuccess, Run([]string{"--help"}, nil, &out, &errOut))
	assert.Contains(t, out.String(), "Usage:")

	out.Reset()
	assert.Equal(t, ExitUsageError, Run(nil, strings.NewReader(""), &out, &errOut))
}
