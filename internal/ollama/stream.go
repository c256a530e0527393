// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
)

// =============================================================================
// CHAT STREAM
// =============================================================================

// ChatStream is a pull-based sequence of ChatChunks for one streaming chat
// request. Network reads only happen inside Next. The last chunk is always
// terminal (error or done); after it Next returns false.
//
// Cancelling the context passed to ChatStream aborts the request; the next
// call to Next yields a done chunk with reason cancelled.
//
// A ChatStream is not safe for concurrent use.
type ChatStream struct {
	ctx  context.Context
	open func(context.Context) (io.ReadCloser, error)

	body     io.ReadCloser
	dec      *Decoder
	pending  *ChatChunk
	started  bool
	finished bool
}

// NewChatStream builds a stream over an already-open body. Used by backends
// that do their own request handling, and by tests.
func NewChatStream(ctx context.Context, body io.ReadCloser) *ChatStream {
	return &ChatStream{
		ctx:  ctx,
		open: func(context.Context) (io.ReadCloser, error) { return body, nil },
	}
}

// ErrorStream returns a stream that yields a single error chunk.
func ErrorStream(ctx context.Context, err error) *ChatStream {
	return &ChatStream{
		ctx:  ctx,
		open: func(context.Context) (io.ReadCloser, error) { return nil, err },
	}
}

// Next returns the next chunk, or false when the stream is exhausted.
func (s *ChatStream) Next() (ChatChunk, bool) {
	if s.finished {
		return ChatChunk{}, false
	}
	if s.pending != nil {
		c := *s.pending
		s.pending = nil
		return s.finish(c), true
	}
	if s.ctx.Err() != nil {
		return s.finish(doneChunk(DoneCancelled, nil)), true
	}

	if !s.started {
		s.started = true
		body, err := s.open(s.ctx)
		if err != nil {
			return s.finish(s.failure(err)), true
		}
		s.body = body
		s.dec = NewDecoder(body)
	}

	rec, err := s.dec.Next()
	switch {
	case err == io.EOF:
		// Body ended without a terminal record.
		if s.ctx.Err() != nil {
			return s.finish(doneChunk(DoneCancelled, nil)), true
		}
		return s.finish(doneChunk(DoneCompleted, nil)), true
	case err != nil:
		return s.finish(s.failure(err)), true
	case rec.Err != nil:
		return ChatChunk{Type: ChunkParseError, RawLine: rec.Line}, true
	}

	var env errorEnvelope
	if json.Unmarshal(rec.Raw, &env) == nil && len(env.Error) > 0 && string(env.Error) != "null" {
		return s.finish(errorChunk(parseErrorBody(0, rec.Raw))), true
	}

	var resp ChatResponse
	if err := json.Unmarshal(rec.Raw, &resp); err != nil {
		return ChatChunk{Type: ChunkParseError, RawLine: string(rec.Raw)}, true
	}
	if resp.Done {
		stats := resp.Usage()
		done := doneChunk(DoneCompleted, &stats)
		s.pending = &done
	}
	return messageChunk(&resp), true
}

// All returns the remaining chunks as a sequence. Breaking out of the loop
// closes the stream.
func (s *ChatStream) All() iter.Seq[ChatChunk] {
	return func(yield func(ChatChunk) bool) {
		defer s.Close()
		for {
			c, ok := s.Next()
			if !ok || !yield(c) {
				return
			}
		}
	}
}

// Close releases the underlying response body. It is safe to call more
// than once.
func (s *ChatStream) Close() error {
	s.finished = true
	if s.body == nil {
		return nil
	}
	err := s.body.Close()
	s.body = nil
	return err
}

func (s *ChatStream) finish(c ChatChunk) ChatChunk {
	s.Close()
	return c
}

func (s *ChatStream) failure(err error) ChatChunk {
	if s.ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return doneChunk(DoneCancelled, nil)
	}
	var ce *ChatError
	if errors.As(err, &ce) {
		return errorChunk(ce)
	}
	return errorChunk(&ChatError{Kind: KindNetwork, Message: err.Error(), Cause: err})
}
