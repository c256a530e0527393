// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// DefaultTitle is the placeholder title of a chat that has not been named.
const DefaultTitle = "New Chat"

// Chat is a conversation. Pinned is stored as 0/1.
type Chat struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
	Pinned        bool      `json:"pinned"`
}

// NewChat creates an unsaved chat with the placeholder title.
func NewChat(now time.Time) *Chat {
	return &Chat{
		Title:         DefaultTitle,
		CreatedAt:     now,
		LastMessageAt: now,
	}
}

// HasDefaultTitle reports whether the chat still carries the placeholder.
func (c *Chat) HasDefaultTitle(placeholder string) bool {
	if placeholder == "" {
		placeholder = DefaultTitle
	}
	return c.Title == "" || c.Title == placeholder
}
