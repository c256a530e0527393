// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend defines the model backends rigchat can talk to.
//
// Every backend implements Backend. Backends that can manage which models
// are resident in memory (a local Ollama server) also implement
// MemoryManager; callers discover this with a type assertion.
package backend

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/time/rate"

	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/ollama"
)

// Kind tags a backend implementation.
type Kind string

const (
	KindOllama Kind = "ollama"
	KindCloud  Kind = "cloud"
)

// Capabilities lists what a model supports.
type Capabilities struct {
	Completion bool `json:"completion"`
	Tools      bool `json:"tools"`
	Thinking   bool `json:"thinking"`
	Vision     bool `json:"vision"`
}

// ParseCapabilities converts the /api/show capability list.
func ParseCapabilities(list []string) Capabilities {
	return Capabilities{
		Completion: slices.Contains(list, "completion"),
		Tools:      slices.Contains(list, "tools"),
		Thinking:   slices.Contains(list, "thinking"),
		Vision:     slices.Contains(list, "vision"),
	}
}

// Backend is the capability set shared by all backends.
type Backend interface {
	Kind() Kind

	// Chat starts a streaming chat. Errors are delivered as chunks.
	Chat(ctx context.Context, req ollama.ChatRequest) *ollama.ChatStream

	// Complete runs a non-streaming chat, optionally with a JSON schema format.
	Complete(ctx context.Context, req ollama.ChatRequest) (*ollama.ChatResponse, error)

	Models(ctx context.Context) ([]ollama.ModelInfo, error)
	ModelCapabilities(ctx context.Context, model string) (Capabilities, error)
}

// MemoryManager is implemented by backends that can report and control
// which models are loaded.
type MemoryManager interface {
	Backend
	LoadedModelIDs(ctx context.Context) ([]string, error)
	LoadModel(ctx context.Context, model string) error
}

// New builds the backend selected by cfg.Kind.
func New(cfg config.BackendConfig) (Backend, error) {
	clientCfg := &ollama.ClientConfig{
		BaseURL:   cfg.URL,
		Timeout:   cfg.Timeout,
		AuthToken: cfg.AuthToken,
	}

	switch Kind(cfg.Kind) {
	case KindOllama:
		return NewLocal(ollama.NewClientWithConfig(clientCfg), cfg.KeepAlive), nil
	case KindCloud:
		if cfg.RequestsPerSecond > 0 {
			clientCfg.Limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(cfg.Burst, 1))
		}
		return NewCloud(ollama.NewClientWithConfig(clientCfg)), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Kind)
	}
}
