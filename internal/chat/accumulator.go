// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"slices"
	"strings"
	"time"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/storage"
)

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// accumulator collects streamed deltas between snapshots.
type accumulator struct {
	content   strings.Builder
	thinking  strings.Builder
	toolCalls []ollama.ToolCall
	think     model.ThinkStats
	now       func() time.Time

	// thinkingActive is true while the latest delta carried thinking text.
	thinkingActive bool
}

// newAccumulator seeds the accumulator from m so a continued message is
// appended to rather than restarted.
func newAccumulator(m *model.ModelMessage, now func() time.Time) *accumulator {
	a := &accumulator{now: now, toolCalls: slices.Clone(m.ToolCalls)}
	a.content.WriteString(m.Content)
	a.thinking.WriteString(m.Thinking)
	if m.ThinkStats != nil {
		a.think = *m.ThinkStats
	}
	return a
}

// add merges one record and reports whether it carried any activity.
func (a *accumulator) add(r *ollama.ChatResponse) bool {
	if r == nil {
		return false
	}
	delta := r.Message
	prevLen := a.content.Len()

	a.content.WriteString(delta.Content)
	a.thinking.WriteString(delta.Thinking)
	a.toolCalls = append(a.toolCalls, delta.ToolCalls...)
	a.trackThink(prevLen, delta)

	return delta.Content != "" || delta.Thinking != "" || len(delta.ToolCalls) > 0
}

// trackThink records the first start and the first end of the think phase.
// An end is only recorded after a start.
// Markers are only searched in the newly appended text plus enough of the
// old text to catch a marker split across deltas.
func (a *accumulator) trackThink(prevLen int, delta ollama.Message) {
	content := a.content.String()

	if a.think.StartedAt == nil && (delta.Thinking != "" || containsFrom(content, thinkOpen, prevLen)) {
		t := a.now()
		a.think.StartedAt = &t
	}

	if a.think.StartedAt != nil && a.think.EndedAt == nil {
		closed := containsFrom(content, thinkClose, prevLen)
		drained := a.thinkingActive && delta.Thinking == "" && delta.Content != ""
		if closed || drained {
			t := a.now()
			a.think.EndedAt = &t
		}
	}

	switch {
	case delta.Thinking != "":
		a.thinkingActive = true
	case delta.Content != "":
		a.thinkingActive = false
	}
}

func containsFrom(s, marker string, from int) bool {
	start := max(from-len(marker)+1, 0)
	return strings.Contains(s[start:], marker)
}

// patch builds the snapshot write.
func (a *accumulator) patch() storage.MessagePatch {
	content := a.content.String()
	thinking := a.thinking.String()
	calls := slices.Clone(a.toolCalls)

	p := storage.MessagePatch{Content: &content, Thinking: &thinking, ToolCalls: &calls}
	if a.think.StartedAt != nil || a.think.EndedAt != nil {
		ts := a.think
		p.ThinkStats = &ts
	}
	return p
}
