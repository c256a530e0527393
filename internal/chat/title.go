// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/rigchat/internal/metrics"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/storage"
)

const titleSystemPrompt = `You name chat conversations. Reply with a title of 3 to 8 words that captures the main topic of the conversation below. Plain text only: no quotes, no markdown, no trailing punctuation, no commentary.`

var titleFormat = json.RawMessage(`{"type":"object","properties":{"title":{"type":"string"}},"required":["title"]}`)

const (
	maxTitleRunes      = 80
	maxTranscriptRunes = 1000 // per message
)

// GenerateTitle names a chat that still has the placeholder title and
// stores the result. Chats that already have a title are returned
// unchanged without asking the backend. Failures fall back to the
// placeholder and are never returned.
func (s *Service) GenerateTitle(ctx context.Context, chatID int64, modelName string) string {
	opts := s.Options()

	c, err := s.loadChat(ctx, chatID)
	if err != nil {
		s.log.Debug().Err(err).Int64("chat_id", chatID).Msg("title skipped")
		return opts.DefaultTitle
	}
	if !c.HasDefaultTitle(opts.DefaultTitle) {
		return c.Title
	}

	s.titles.Add(chatID)
	defer s.titles.Remove(chatID)

	if opts.TitleModel != "" {
		modelName = opts.TitleModel
	}
	if modelName == "" {
		modelName = opts.DefaultModel
	}

	title, err := s.requestTitle(ctx, chatID, modelName)
	if err != nil {
		metrics.TitlesTotal.WithLabelValues("fallback").Inc()
		s.log.Warn().Err(err).Int64("chat_id", chatID).Msg("title generation failed")
		title = opts.DefaultTitle
	} else {
		metrics.TitlesTotal.WithLabelValues("generated").Inc()
		s.log.Info().Int64("chat_id", chatID).Str("title", title).Msg("title generated")
	}

	if err := s.store.UpdateChat(context.WithoutCancel(ctx), chatID, storage.ChatPatch{Title: &title}); err != nil {
		s.log.Warn().Err(err).Int64("chat_id", chatID).Msg("saving title")
	}
	s.view().SetTitle(chatID, title)
	return title
}

func (s *Service) requestTitle(ctx context.Context, chatID int64, modelName string) (string, error) {
	msgs, err := s.store.MessagesByChat(ctx, chatID)
	if err != nil {
		return "", err
	}
	model.SortChronological(msgs)

	req := ollama.ChatRequest{
		Model: modelName,
		Messages: []ollama.Message{
			ollama.NewSystemMessage(titleSystemPrompt),
			ollama.NewUserMessage(condenseTranscript(msgs)),
		},
		Format: titleFormat,
	}
	if caps, err := s.caps.Get(ctx, modelName); err == nil && caps.Thinking {
		off := false
		req.Think = &off
	}

	resp, err := s.backend.Complete(ctx, req)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal([]byte(resp.Message.Content), &parsed); err != nil {
		return "", fmt.Errorf("parse title: %w", err)
	}
	title := cleanTitle(parsed.Title)
	if title == "" {
		return "", errors.New("empty title")
	}
	return title, nil
}

// condenseTranscript renders the chat as role-prefixed lines. Attachments
// and tool traffic become short markers.
func condenseTranscript(msgs []model.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		switch v := m.(type) {
		case *model.UserMessage:
			sb.WriteString("User: ")
			sb.WriteString(clip(v.Content, maxTranscriptRunes))
			for range v.Attachments {
				sb.WriteString(" [attachment]")
			}
		case *model.ModelMessage:
			sb.WriteString("Assistant: ")
			sb.WriteString(clip(v.Content, maxTranscriptRunes))
			for _, call := range v.ToolCalls {
				fmt.Fprintf(&sb, " [tool call: %s]", call.Function.Name)
			}
		case *model.ToolMessage:
			fmt.Fprintf(&sb, "[tool response: %s]", v.ToolName)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// cleanTitle normalizes to NFC, collapses whitespace and strips wrapping
// quotes and trailing punctuation.
func cleanTitle(s string) string {
	s = norm.NFC.String(s)
	s = strings.Join(strings.Fields(s), " ")
	s = strings.Trim(s, "\"'`“”‘’*#")
	s = strings.TrimRight(s, ".!?:;,")
	s = strings.TrimSpace(s)
	return clip(s, maxTitleRunes)
}

// clip shortens s to at most n runes.
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
