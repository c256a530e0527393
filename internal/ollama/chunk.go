// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

// =============================================================================
// CHAT CHUNKS
// =============================================================================

// ChunkType tags a ChatChunk.
type ChunkType string

const (
	// ChunkMessage carries one decoded backend record in Data.
	ChunkMessage ChunkType = "message"

	// ChunkParseError carries a line that could not be decoded. It is not
	// terminal; the stream keeps reading.
	ChunkParseError ChunkType = "parse-error"

	// ChunkError is terminal and carries Err.
	ChunkError ChunkType = "error"

	// ChunkDone is terminal and carries Reason and, when completed, Stats.
	ChunkDone ChunkType = "done"
)

// DoneReason says why a stream ended without error.
type DoneReason string

const (
	DoneCompleted DoneReason = "completed"
	DoneCancelled DoneReason = "cancelled"
)

// ChatChunk is one unit yielded by a ChatStream.
type ChatChunk struct {
	Type    ChunkType
	Data    *ChatResponse
	RawLine string
	Err     *ChatError
	Reason  DoneReason
	Stats   *Usage
}

// Terminal reports whether no chunk follows this one.
func (c ChatChunk) Terminal() bool {
	return c.Type == ChunkError || c.Type == ChunkDone
}

func messageChunk(r *ChatResponse) ChatChunk {
	return ChatChunk{Type: ChunkMessage, Data: r}
}

func errorChunk(err *ChatError) ChatChunk {
	return ChatChunk{Type: ChunkError, Err: err}
}

func doneChunk(reason DoneReason, stats *Usage) ChatChunk {
	return ChatChunk{Type: ChunkDone, Reason: reason, Stats: stats}
}
