// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/jeranaias/rigchat/internal/backend"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/storage"
)

// buildRequest assembles the chat request for a turn writing to target.
func (s *Service) buildRequest(ctx context.Context, t turn, target *model.ModelMessage, opts Options) (ollama.ChatRequest, error) {
	caps, err := s.caps.Get(ctx, t.model)
	if err != nil {
		// The chat request itself reports a missing model.
		s.log.Debug().Err(err).Str("model", t.model).Msg("capabilities unavailable")
	}

	history, err := s.buildHistory(ctx, t.chatID, target, caps, opts)
	if err != nil {
		return ollama.ChatRequest{}, err
	}

	req := ollama.ChatRequest{Model: t.model, Messages: history}
	if caps.Thinking {
		think := opts.Think
		req.Think = &think
	}
	if opts.ToolsEnabled && s.tools != nil && caps.Tools {
		req.Tools = s.tools.Definitions()
	}
	return req, nil
}

// buildHistory converts the chat, up to and including target, to backend
// messages in chronological order.
func (s *Service) buildHistory(ctx context.Context, chatID int64, target *model.ModelMessage, caps backend.Capabilities, opts Options) ([]ollama.Message, error) {
	msgs, err := s.store.MessagesByChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	model.SortChronological(msgs)

	out := make([]ollama.Message, 0, len(msgs)+1)
	if opts.SystemPrompt != "" {
		out = append(out, ollama.NewSystemMessage(opts.SystemPrompt))
	}

	for _, m := range msgs {
		if m.Base().ID > target.ID {
			continue
		}
		switch v := m.(type) {
		case *model.UserMessage:
			om, err := s.userMessage(ctx, v, caps.Vision)
			if err != nil {
				return nil, err
			}
			out = append(out, om)
		case *model.ModelMessage:
			// Empty placeholders (the target itself, failed turns) carry nothing.
			if v.Content == "" && len(v.ToolCalls) == 0 {
				continue
			}
			out = append(out, ollama.Message{Role: "assistant", Content: v.Content, ToolCalls: v.ToolCalls})
		case *model.ToolMessage:
			out = append(out, ollama.Message{Role: "tool", Content: v.Content, ToolName: v.ToolName})
		default:
			return nil, fmt.Errorf("unknown message type %T", m)
		}
	}
	return out, nil
}

// userMessage resolves attachments: images travel base64-encoded when the
// model has vision, text files are inlined into the content.
func (s *Service) userMessage(ctx context.Context, m *model.UserMessage, vision bool) (ollama.Message, error) {
	om := ollama.NewUserMessage(m.Content)
	if len(m.Attachments) == 0 {
		return om, nil
	}

	var sb strings.Builder
	sb.WriteString(m.Content)
	for _, id := range m.Attachments {
		att, err := s.store.Attachment(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return om, fmt.Errorf("load attachment: %w", err)
		}

		switch {
		case att.IsImage():
			if vision {
				om.Images = append(om.Images, base64.StdEncoding.EncodeToString(att.Data))
			} else {
				s.log.Debug().Int64("attachment_id", id).Msg("dropping image for model without vision")
			}
		case att.IsText():
			fmt.Fprintf(&sb, "\n\n[Attachment: %s]\n%s", att.Name, att.Data)
		default:
			fmt.Fprintf(&sb, "\n\n[Attachment: %s (%s) not shown]", att.Name, att.MimeType)
		}
	}
	om.Content = sb.String()
	return om, nil
}
