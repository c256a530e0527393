// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/storage"
)

// Projection is the in-memory view of the opened chat's messages.
//
// The generating goroutine pushes every snapshot with Apply. Writes made
// by anyone else reach it through a store subscription: the callback only
// marks ids stale or removes them, and Messages re-reads stale ids. Safe
// for concurrent use.
type Projection struct {
	store  Store
	chatID int64

	mu          sync.RWMutex
	msgs        map[int64]model.Message
	stale       map[int64]struct{}
	unsubscribe func()
}

// OpenProjection loads chatID and starts following changes to it.
func OpenProjection(ctx context.Context, store Store, chatID int64) (*Projection, error) {
	msgs, err := store.MessagesByChat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	p := &Projection{
		store:  store,
		chatID: chatID,
		msgs:   make(map[int64]model.Message, len(msgs)),
		stale:  make(map[int64]struct{}),
	}
	for _, m := range msgs {
		p.msgs[m.Base().ID] = m
	}
	p.unsubscribe = store.Subscribe(storage.Messages, p.onChange)
	return p, nil
}

// ChatID returns the projected chat.
func (p *Projection) ChatID() int64 { return p.chatID }

func (p *Projection) onChange(c storage.Change) {
	if c.ChatID != p.chatID {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range c.IDs {
		if c.Op == storage.OpDelete {
			delete(p.msgs, id)
			delete(p.stale, id)
			continue
		}
		p.stale[id] = struct{}{}
	}
}

// Apply stores a fresh copy of m if it belongs to the projected chat.
func (p *Projection) Apply(m model.Message) {
	if m.Base().ChatID != p.chatID {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs[m.Base().ID] = model.Clone(m)
	delete(p.stale, m.Base().ID)
}

// Messages returns copies of the chat's messages in chronological order.
func (p *Projection) Messages(ctx context.Context) ([]model.Message, error) {
	p.mu.RLock()
	stale := make([]int64, 0, len(p.stale))
	for id := range p.stale {
		stale = append(stale, id)
	}
	p.mu.RUnlock()

	for _, id := range stale {
		m, err := p.store.Message(ctx, id)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			p.mu.Lock()
			delete(p.msgs, id)
			delete(p.stale, id)
			p.mu.Unlock()
		case err != nil:
			return nil, err
		default:
			p.Apply(m)
		}
	}

	p.mu.RLock()
	out := make([]model.Message, 0, len(p.msgs))
	for _, m := range p.msgs {
		out = append(out, model.Clone(m))
	}
	p.mu.RUnlock()

	model.SortChronological(out)
	return out, nil
}

// Close stops following the store.
func (p *Projection) Close() {
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
}
