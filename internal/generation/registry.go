// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package generation tracks which model messages are being generated and
// which chats are generating a title. Nothing here is persisted.
package generation

import (
	"maps"
	"slices"
	"sync"
)

// Status is the transient state of an in-flight generation.
type Status string

const (
	Waiting    Status = "waiting"
	Generating Status = "generating"
)

// State answers the isGenerating query for one message.
type State struct {
	Generating bool   `json:"generating"`
	Status     Status `json:"status,omitempty"`
}

// Registry maps model-message ids to their generation status. Entries are
// keyed by message, so concurrent generations in different chats never
// touch each other's entries. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[int64]Status
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[int64]Status)}
}

// Start records a new generation as waiting.
func (r *Registry) Start(messageID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[messageID] = Waiting
}

// MarkGenerating moves an entry to generating. It reports whether the
// status changed; unknown ids are ignored.
func (r *Registry) MarkGenerating(messageID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.entries[messageID]; !ok || st == Generating {
		return false
	}
	r.entries[messageID] = Generating
	return true
}

// Clear removes an entry.
func (r *Registry) Clear(messageID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, messageID)
}

// IsGenerating reports the state of a message.
func (r *Registry) IsGenerating(messageID int64) State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.entries[messageID]
	if !ok {
		return State{}
	}
	return State{Generating: true, Status: st}
}

// Snapshot returns a copy of all entries.
func (r *Registry) Snapshot() map[int64]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.entries)
}

// =============================================================================
// TITLE SET
// =============================================================================

// TitleSet is the set of chats currently generating a title.
type TitleSet struct {
	mu  sync.RWMutex
	ids map[int64]struct{}
}

// NewTitleSet creates an empty set.
func NewTitleSet() *TitleSet {
	return &TitleSet{ids: make(map[int64]struct{})}
}

// Add marks a chat as generating a title.
func (s *TitleSet) Add(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[chatID] = struct{}{}
}

// Remove unmarks a chat.
func (s *TitleSet) Remove(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, chatID)
}

// Has reports whether a chat is generating a title.
func (s *TitleSet) Has(chatID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[chatID]
	return ok
}

// IDs returns the chat ids in ascending order.
func (s *TitleSet) IDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.ids))
}
