// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"

	"github.com/jeranaias/rigchat/internal/ollama"
)

// Cloud is a hosted Ollama-compatible service reached with a bearer token.
// Memory management is not exposed.
type Cloud struct {
	client *ollama.Client
}

var _ Backend = (*Cloud)(nil)

// NewCloud wraps an authenticated client.
func NewCloud(client *ollama.Client) *Cloud {
	return &Cloud{client: client}
}

func (c *Cloud) Kind() Kind { return KindCloud }

func (c *Cloud) Chat(ctx context.Context, req ollama.ChatRequest) *ollama.ChatStream {
	return c.client.ChatStream(ctx, req)
}

func (c *Cloud) Complete(ctx context.Context, req ollama.ChatRequest) (*ollama.ChatResponse, error) {
	return c.client.Complete(ctx, req)
}

func (c *Cloud) Models(ctx context.Context) ([]ollama.ModelInfo, error) {
	return c.client.ListModels(ctx)
}

// ModelCapabilities asks the service; hosted models that do not report
// capabilities are assumed to support completion and tools.
func (c *Cloud) ModelCapabilities(ctx context.Context, model string) (Capabilities, error) {
	resp, err := c.client.Show(ctx, model)
	if err != nil {
		return Capabilities{}, err
	}
	if len(resp.Capabilities) == 0 {
		return Capabilities{Completion: true, Tools: true}, nil
	}
	return ParseCapabilities(resp.Capabilities), nil
}
