// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/ollama"
)

func fakeOllama(t *testing.T, showCalls, tagCalls *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/show", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(showCalls, 1)
		var req ollama.ShowModelRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model == "missing" {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":"model 'missing' not found"}`)
			return
		}
		fmt.Fprint(w, `{"capabilities":["completion","tools","vision"]}`)
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(tagCalls, 1)
		fmt.Fprint(w, `{"models":[{"name":"qwen3:8b"},{"name":"llava"}]}`)
	})
	mux.HandleFunc("/api/ps", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[{"name":"qwen3:8b","model":"qwen3:8b"}]}`)
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req ollama.ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		assert.Empty(t, req.Messages)
		assert.Equal(t, "10m", req.KeepAlive)
		fmt.Fprint(w, `{"model":"qwen3:8b","done":true,"done_reason":"load"}`)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestNew_SelectsByKind(t *testing.T) {
	b, err := New(config.BackendConfig{Kind: "ollama", URL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	assert.Equal(t, KindOllama, b.Kind())
	_, ok := b.(MemoryManager)
	assert.True(t, ok, "local backend manages memory")

	b, err = New(config.BackendConfig{Kind: "cloud", URL: "https://example.com", AuthToken: "t", RequestsPerSecond: 2})
	require.NoError(t, err)
	assert.Equal(t, KindCloud, b.Kind())
	_, ok = b.(MemoryManager)
	assert.False(t, ok, "cloud backend does not manage memory")

	_, err = New(config.BackendConfig{Kind: "grpc"})
	assert.Error(t, err)
}

func TestLocal_MemoryManagement(t *testing.T) {
	var shows, tags int32
	ts := fakeOllama(t, &shows, &tags)
	l := NewLocal(ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: ts.URL}), "10m")
	ctx := context.Background()

	ids, err := l.LoadedModelIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"qwen3:8b"}, ids)
	require.NoError(t, l.LoadModel(ctx, "qwen3:8b"))
}

func TestCapabilityCache(t *testing.T) {
	var shows, tags int32
	ts := fakeOllama(t, &shows, &tags)
	cache := NewCapabilityCache(NewLocal(ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: ts.URL}), ""))
	ctx := context.Background()

	caps, err := cache.Get(ctx, "qwen3:8b")
	require.NoError(t, err)
	assert.Equal(t, Capabilities{Completion: true, Tools: true, Vision: true}, caps)

	_, err = cache.Get(ctx, "qwen3:8b")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&shows), "second lookup is cached")

	_, err = cache.Get(ctx, "missing")
	assert.True(t, ollama.IsModelNotFound(err))
	_, _ = cache.Get(ctx, "missing")
	assert.Equal(t, int32(3), atomic.LoadInt32(&shows), "failures are not cached")

	models, err := cache.Models(ctx)
	require.NoError(t, err)
	assert.Len(t, models, 2)
	_, _ = cache.Models(ctx)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tags))

	require.NoError(t, cache.Refresh(ctx))
	assert.Equal(t, int32(2), atomic.LoadInt32(&tags))
	_, _ = cache.Get(ctx, "qwen3:8b")
	assert.Equal(t, int32(4), atomic.LoadInt32(&shows), "refresh drops capabilities")

	cache.Invalidate()
	_, _ = cache.Models(ctx)
	assert.Equal(t, int32(3), atomic.LoadInt32(&tags))
}

func TestParseCapabilities(t *testing.T) {
	caps := ParseCapabilities([]string{"completion", "thinking"})
	assert.True(t, caps.Completion)
	assert.True(t, caps.Thinking)
	assert.False(t, caps.Tools)
	assert.False(t, caps.Vision)
}
