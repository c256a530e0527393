// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"slices"
	"time"

	"github.com/jeranaias/rigchat/internal/ollama"
)

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// MessageType tags the message variants.
type MessageType string

const (
	TypeUser  MessageType = "user"
	TypeModel MessageType = "model"
	TypeTool  MessageType = "tool"
)

// Message is implemented by *UserMessage, *ModelMessage and *ToolMessage.
type Message interface {
	Base() *MessageBase
	Type() MessageType
	isMessage()
}

// MessageBase holds the fields shared by every variant.
type MessageBase struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chat_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Base returns the shared fields.
func (b *MessageBase) Base() *MessageBase { return b }

// =============================================================================
// STATUS
// =============================================================================

// Status is the generation state of a model message.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusGenerating Status = "generating"
	StatusFinished   Status = "finished"
	StatusCancelled  Status = "cancelled"
	StatusError      Status = "error"
)

// InFlight reports whether the message is still being generated.
func (s Status) InFlight() bool {
	return s == StatusWaiting || s == StatusGenerating
}

// ToolStatus is the execution state of a tool message.
type ToolStatus string

const (
	ToolPending  ToolStatus = "pending"
	ToolFinished ToolStatus = "finished"
)

// =============================================================================
// VARIANTS
// =============================================================================

// UserMessage is a message typed by the user.
type UserMessage struct {
	MessageBase
	Attachments []int64 `json:"attachments,omitempty"`
}

func (*UserMessage) Type() MessageType { return TypeUser }
func (*UserMessage) isMessage()        {}

// ThinkStats records when the reasoning phase started and ended.
type ThinkStats struct {
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Duration returns the length of the think phase, or zero if incomplete.
func (t *ThinkStats) Duration() time.Duration {
	if t == nil || t.StartedAt == nil || t.EndedAt == nil {
		return 0
	}
	return t.EndedAt.Sub(*t.StartedAt)
}

// ModelMessage is a response generated by a model.
type ModelMessage struct {
	MessageBase
	Model      string            `json:"model"`
	Thinking   string            `json:"thinking,omitempty"`
	Status     Status            `json:"status"`
	ToolCalls  []ollama.ToolCall `json:"tool_calls,omitempty"`
	Stats      *ollama.Usage     `json:"stats,omitempty"`
	ThinkStats *ThinkStats       `json:"think_stats,omitempty"`
	Error      string            `json:"error,omitempty"`
}

func (*ModelMessage) Type() MessageType { return TypeModel }
func (*ModelMessage) isMessage()        {}

// ToolMessage carries the response of one tool call.
type ToolMessage struct {
	MessageBase
	ToolName    string     `json:"tool_name"`
	Status      ToolStatus `json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (*ToolMessage) Type() MessageType { return TypeTool }
func (*ToolMessage) isMessage()        {}

// =============================================================================
// HELPERS
// =============================================================================

// Clone returns a deep copy of m.
func Clone(m Message) Message {
	switch v := m.(type) {
	case *UserMessage:
		c := *v
		c.Attachments = slices.Clone(v.Attachments)
		return &c
	case *ModelMessage:
		c := *v
		c.ToolCalls = slices.Clone(v.ToolCalls)
		if v.Stats != nil {
			s := *v.Stats
			c.Stats = &s
		}
		if v.ThinkStats != nil {
			ts := *v.ThinkStats
			c.ThinkStats = &ts
		}
		return &c
	case *ToolMessage:
		c := *v
		return &c
	default:
		panic("model: unknown message type")
	}
}

// SortChronological orders messages by creation time, then id.
func SortChronological(msgs []Message) {
	slices.SortStableFunc(msgs, func(a, b Message) int {
		if c := a.Base().CreatedAt.Compare(b.Base().CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.Base().ID < b.Base().ID:
			return -1
		case a.Base().ID > b.Base().ID:
			return 1
		}
		return 0
	})
}
