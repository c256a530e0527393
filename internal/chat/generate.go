// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jeranaias/rigchat/internal/metrics"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/storage"
	"github.com/jeranaias/rigchat/internal/tools"
)

// Outcome summarizes a settled turn.
type Outcome struct {
	ChatID         int64
	UserMessageID  int64
	ModelMessageID int64 // the last model message written
	Status         model.Status
	ToolRounds     int
	Title          string // set when a title was generated
}

// turn is one request to the backend.
type turn struct {
	chatID       int64
	model        string
	target       *model.ModelMessage // continue this message instead of creating one
	requestTitle bool
	round        int
}

// inflight is the state of one running turn.
type inflight struct {
	turn
	msg   *model.ModelMessage
	acc   *accumulator
	log   zerolog.Logger
	start time.Time
	// persist outlives cancellation so the final snapshot is always written.
	persist context.Context
}

// generate runs one turn to settlement, then any tool rounds and the title.
// The caller holds the chat.
func (s *Service) generate(ctx context.Context, t turn) (Outcome, error) {
	opts := s.Options()
	out := Outcome{ChatID: t.chatID, ToolRounds: t.round}

	msg, err := s.placeholder(ctx, t)
	if err != nil {
		return out, err
	}
	out.ModelMessageID = msg.ID

	g := &inflight{
		turn:    t,
		msg:     msg,
		acc:     newAccumulator(msg, s.now),
		start:   time.Now(),
		persist: context.WithoutCancel(ctx),
		log: s.log.With().
			Str("gen_id", uuid.NewString()).
			Int64("chat_id", t.chatID).
			Int64("message_id", msg.ID).
			Str("model", t.model).
			Logger(),
	}

	// The message stays stoppable until its tool rounds and title are done.
	s.registry.Start(msg.ID)
	s.track(msg.ID, t.chatID)
	defer func() {
		s.untrack(msg.ID)
		s.registry.Clear(msg.ID)
	}()

	metrics.GenerationsInFlight.Inc()
	defer metrics.GenerationsInFlight.Dec()

	req, err := s.buildRequest(ctx, t, msg, opts)
	if err != nil {
		return s.fail(g, out, err)
	}
	g.log.Info().Int("round", t.round).Int("messages", len(req.Messages)).Msg("generation started")

	stream := s.backend.Chat(ctx, req)
	defer stream.Close()

	chunks, sinceFlush := 0, 0
	for chunk := range stream.All() {
		switch chunk.Type {
		case ollama.ChunkMessage:
			chunks++
			sinceFlush++
			metrics.ChunksTotal.Inc()

			active := g.acc.add(chunk.Data)
			if active && s.registry.MarkGenerating(msg.ID) {
				generating := model.StatusGenerating
				if _, err := s.flush(g, &generating, nil); err != nil {
					return s.fail(g, out, err)
				}
				sinceFlush = 0
			}
			if sinceFlush >= opts.SaveInterval {
				if _, err := s.flush(g, nil, nil); err != nil {
					return s.fail(g, out, err)
				}
				sinceFlush = 0
			}

		case ollama.ChunkParseError:
			metrics.ParseErrorsTotal.Inc()
			g.log.Warn().Str("line", clip(chunk.RawLine, 200)).Msg("stream parse error")

		case ollama.ChunkError:
			return s.fail(g, out, chunk.Err)

		case ollama.ChunkDone:
			g.log.Debug().Int("chunks", chunks).Msg("stream ended")
			return s.settle(ctx, g, out, chunk, opts)
		}
	}

	// All always ends with a terminal chunk; reaching here means the
	// stream was closed underneath us.
	return s.settle(ctx, g, out, ollama.ChatChunk{Type: ollama.ChunkDone, Reason: ollama.DoneCancelled}, opts)
}

// placeholder creates the waiting model message, or resets the one being
// continued back to waiting.
func (s *Service) placeholder(ctx context.Context, t turn) (*model.ModelMessage, error) {
	if t.target != nil {
		waiting := model.StatusWaiting
		cleared := ""
		m, err := s.store.UpdateMessage(ctx, t.target.ID, storage.MessagePatch{Status: &waiting, Error: &cleared})
		if err != nil {
			return nil, fmt.Errorf("reset model message: %w", err)
		}
		s.publish(m)
		return m.(*model.ModelMessage), nil
	}

	now := s.now()
	msg := &model.ModelMessage{
		MessageBase: model.MessageBase{ChatID: t.chatID, CreatedAt: now},
		Model:       t.model,
		Status:      model.StatusWaiting,
	}
	if err := s.store.AddMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("add model message: %w", err)
	}
	if err := s.touchChat(ctx, t.chatID, now); err != nil {
		return nil, fmt.Errorf("update chat: %w", err)
	}
	s.publish(msg)
	return msg, nil
}

// flush writes the accumulated state, optionally with a new status and
// usage stats.
func (s *Service) flush(g *inflight, status *model.Status, stats *ollama.Usage) (*model.ModelMessage, error) {
	p := g.acc.patch()
	p.Status = status
	p.Stats = stats

	m, err := s.store.UpdateMessage(g.persist, g.msg.ID, p)
	if err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	metrics.SnapshotsTotal.Inc()
	s.publish(m)
	return m.(*model.ModelMessage), nil
}

// settle finalizes a turn that ended with a done chunk and runs the
// follow-up work of a completed one.
func (s *Service) settle(ctx context.Context, g *inflight, out Outcome, done ollama.ChatChunk, opts Options) (Outcome, error) {
	status := model.StatusFinished
	if done.Reason == ollama.DoneCancelled {
		status = model.StatusCancelled
	}

	final, err := s.flush(g, &status, done.Stats)
	s.registry.Clear(g.msg.ID)
	if err != nil {
		return out, err
	}
	out.Status = status

	elapsed := time.Since(g.start)
	metrics.GenerationsTotal.WithLabelValues(string(status)).Inc()
	metrics.GenerationDuration.Observe(elapsed.Seconds())
	ev := g.log.Info().Str("reason", string(done.Reason)).Dur("duration", elapsed)
	if done.Stats != nil {
		metrics.TokensTotal.WithLabelValues("prompt").Add(float64(done.Stats.PromptTokens))
		metrics.TokensTotal.WithLabelValues("completion").Add(float64(done.Stats.CompletionTokens))
		ev = ev.Int("completion_tokens", done.Stats.CompletionTokens).Float64("tokens_per_second", done.Stats.TokensPerSecond())
	}
	ev.Msg("generation finished")

	if status == model.StatusCancelled {
		return out, nil
	}

	if len(final.ToolCalls) > 0 && s.tools != nil {
		if g.round < opts.MaxToolRounds {
			return s.runTools(ctx, g, out, final.ToolCalls)
		}
		g.log.Warn().Err(ErrToolRounds).Int("rounds", g.round).Msg("not answering tool calls")
	}

	if g.requestTitle {
		out.Title = s.GenerateTitle(ctx, g.chatID, g.model)
	}
	return out, nil
}

// runTools records one pending tool message per call, answers them, and
// starts the follow-up turn.
func (s *Service) runTools(ctx context.Context, g *inflight, out Outcome, calls []ollama.ToolCall) (Outcome, error) {
	now := s.now()
	pending := make([]*model.ToolMessage, len(calls))
	for i, call := range calls {
		tm := &model.ToolMessage{
			MessageBase: model.MessageBase{ChatID: g.chatID, CreatedAt: now},
			ToolName:    call.Function.Name,
			Status:      model.ToolPending,
		}
		if err := s.store.AddMessage(g.persist, tm); err != nil {
			return out, fmt.Errorf("add tool message: %w", err)
		}
		s.publish(tm)
		pending[i] = tm
	}

	responses := s.tools.HandleToolCalls(ctx, calls)

	finished := model.ToolFinished
	for i, tm := range pending {
		resp := tools.Response{ToolName: tm.ToolName, Content: "error: no response", CompletedAt: s.now()}
		if i < len(responses) {
			resp = responses[i]
		}
		m, err := s.store.UpdateMessage(g.persist, tm.ID, storage.MessagePatch{
			Content:     &resp.Content,
			ToolStatus:  &finished,
			CompletedAt: &resp.CompletedAt,
		})
		if err != nil {
			return out, fmt.Errorf("save tool response: %w", err)
		}
		s.publish(m)
	}
	g.log.Info().Int("calls", len(calls)).Msg("tool calls answered")

	if err := ctx.Err(); err != nil {
		g.log.Info().Msg("stopped after tool calls")
		out.Status = model.StatusCancelled
		return out, nil
	}

	next := g.turn
	next.target = nil
	next.round++
	return s.generate(ctx, next)
}

// fail records a failed turn. Cancellation is not an error: the message is
// left cancelled with whatever had arrived.
func (s *Service) fail(g *inflight, out Outcome, err error) (Outcome, error) {
	s.registry.Clear(g.msg.ID)

	if errors.Is(err, context.Canceled) {
		cancelled := model.StatusCancelled
		if _, ferr := s.flush(g, &cancelled, nil); ferr != nil {
			g.log.Warn().Err(ferr).Msg("saving cancelled message")
		}
		metrics.GenerationsTotal.WithLabelValues(string(cancelled)).Inc()
		out.Status = cancelled
		return out, nil
	}

	ce := asChatError(err)
	text := describeError(ce, g.model)

	status := model.StatusError
	p := g.acc.patch()
	p.Status = &status
	p.Error = &text
	if m, uerr := s.store.UpdateMessage(g.persist, g.msg.ID, p); uerr != nil {
		g.log.Warn().Err(uerr).Msg("saving error status")
	} else {
		s.publish(m)
	}

	metrics.GenerationsTotal.WithLabelValues(string(status)).Inc()
	metrics.ErrorsTotal.WithLabelValues(string(ce.Kind)).Inc()
	g.log.Error().Str("kind", string(ce.Kind)).Int("status", ce.Status).Str("error", ce.Message).Msg("generation failed")

	s.view().ShowError(ce.Kind, text)
	out.Status = status
	return out, fmt.Errorf("generate response: %w", err)
}

func asChatError(err error) *ollama.ChatError {
	var ce *ollama.ChatError
	if errors.As(err, &ce) {
		return ce
	}
	return &ollama.ChatError{Kind: ollama.KindUnknown, Message: err.Error(), Cause: err}
}

// describeError is the text shown to the user for a failed generation.
func describeError(ce *ollama.ChatError, modelName string) string {
	switch ce.Kind {
	case ollama.KindNotAuthed:
		return "Sign in required: the backend rejected the request credentials."
	case ollama.KindNotPremium:
		return "This model requires a premium subscription."
	case ollama.KindRateLimited:
		return "Rate limited by the backend. Wait a moment and try again."
	case ollama.KindModelNotFound:
		return fmt.Sprintf("Model %q was not found. Pull it or choose another model.", modelName)
	case ollama.KindNoResponseBody, ollama.KindNetwork:
		return "Could not reach the backend: " + ce.Message
	case ollama.KindParseFail:
		return "The backend returned an unreadable error response."
	default:
		if ce.Message == "" {
			return "Something went wrong while generating the response."
		}
		return "Error: " + ce.Message
	}
}
