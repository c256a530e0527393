// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"

	"github.com/jeranaias/rigchat/internal/ollama"
)

// Local is a self-hosted Ollama server.
type Local struct {
	client    *ollama.Client
	keepAlive string
}

var _ MemoryManager = (*Local)(nil)

// NewLocal wraps client. keepAlive is passed to LoadModel ("" = server default).
func NewLocal(client *ollama.Client, keepAlive string) *Local {
	return &Local{client: client, keepAlive: keepAlive}
}

func (l *Local) Kind() Kind { return KindOllama }

func (l *Local) Chat(ctx context.Context, req ollama.ChatRequest) *ollama.ChatStream {
	return l.client.ChatStream(ctx, req)
}

func (l *Local) Complete(ctx context.Context, req ollama.ChatRequest) (*ollama.ChatResponse, error) {
	return l.client.Complete(ctx, req)
}

func (l *Local) Models(ctx context.Context) ([]ollama.ModelInfo, error) {
	return l.client.ListModels(ctx)
}

func (l *Local) ModelCapabilities(ctx context.Context, model string) (Capabilities, error) {
	resp, err := l.client.Show(ctx, model)
	if err != nil {
		return Capabilities{}, err
	}
	return ParseCapabilities(resp.Capabilities), nil
}

// LoadedModelIDs lists the models resident in memory.
func (l *Local) LoadedModelIDs(ctx context.Context) ([]string, error) {
	models, err := l.client.RunningModels(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(models))
	for _, m := range models {
		id := m.Model
		if id == "" {
			id = m.Name
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// LoadModel loads a model into memory ahead of the first request.
func (l *Local) LoadModel(ctx context.Context, model string) error {
	return l.client.Load(ctx, model, l.keepAlive)
}
