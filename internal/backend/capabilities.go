// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"slices"
	"sync"

	"github.com/jeranaias/rigchat/internal/ollama"
)

// CapabilityCache remembers the model list and per-model capabilities of
// one backend. Create it once at startup and pass it to whoever needs it;
// Invalidate or Refresh after models are pulled or removed.
type CapabilityCache struct {
	backend Backend

	mu     sync.RWMutex
	caps   map[string]Capabilities
	models []ollama.ModelInfo
}

// NewCapabilityCache creates an empty cache for b.
func NewCapabilityCache(b Backend) *CapabilityCache {
	return &CapabilityCache{backend: b, caps: make(map[string]Capabilities)}
}

// Get returns the capabilities of model, asking the backend on a miss.
// Failures are not cached.
func (c *CapabilityCache) Get(ctx context.Context, model string) (Capabilities, error) {
	c.mu.RLock()
	caps, ok := c.caps[model]
	c.mu.RUnlock()
	if ok {
		return caps, nil
	}

	caps, err := c.backend.ModelCapabilities(ctx, model)
	if err != nil {
		return Capabilities{}, err
	}

	c.mu.Lock()
	c.caps[model] = caps
	c.mu.Unlock()
	return caps, nil
}

// Models returns the cached model list, fetching it on first use.
func (c *CapabilityCache) Models(ctx context.Context) ([]ollama.ModelInfo, error) {
	c.mu.RLock()
	models := c.models
	c.mu.RUnlock()
	if models != nil {
		return slices.Clone(models), nil
	}
	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.models), nil
}

// Refresh re-fetches the model list and drops cached capabilities.
func (c *CapabilityCache) Refresh(ctx context.Context) error {
	models, err := c.backend.Models(ctx)
	if err != nil {
		return err
	}
	if models == nil {
		models = []ollama.ModelInfo{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.models = models
	c.caps = make(map[string]Capabilities)
	return nil
}

// Invalidate forgets everything.
func (c *CapabilityCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models = nil
	c.caps = make(map[string]Capabilities)
}
