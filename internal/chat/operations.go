// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/storage"
)

// SendOptions are per-request overrides.
type SendOptions struct {
	Model       string // empty uses the default model
	Attachments []AttachmentInput
}

// AttachmentInput is a file attached to a new user message.
type AttachmentInput struct {
	Name     string
	MimeType string
	Data     []byte
}

// =============================================================================
// SEND
// =============================================================================

// SendMessage adds a user message to chatID (0 starts a new chat) and
// generates the reply. The returned Outcome is filled in as far as the
// turn got, even on error.
func (s *Service) SendMessage(ctx context.Context, chatID int64, content string, opts SendOptions) (Outcome, error) {
	modelName, err := s.resolveModel(opts.Model)
	if err != nil {
		return Outcome{}, err
	}

	var c *model.Chat
	if chatID == 0 {
		c = model.NewChat(s.now())
		c.Title = s.Options().DefaultTitle
		if err := s.store.CreateChat(ctx, c); err != nil {
			return Outcome{}, fmt.Errorf("create chat: %w", err)
		}
		s.log.Debug().Int64("chat_id", c.ID).Msg("chat created")
	} else if c, err = s.loadChat(ctx, chatID); err != nil {
		return Outcome{}, err
	}

	ctx, err = s.acquire(ctx, c.ID)
	if err != nil {
		return Outcome{ChatID: c.ID}, err
	}
	defer s.release(c.ID)

	user, err := s.addUserMessage(ctx, c.ID, content, opts.Attachments)
	if err != nil {
		return Outcome{ChatID: c.ID}, err
	}

	out, err := s.generate(ctx, turn{
		chatID:       c.ID,
		model:        modelName,
		requestTitle: c.HasDefaultTitle(s.Options().DefaultTitle),
	})
	out.UserMessageID = user.ID
	return out, err
}

func (s *Service) addUserMessage(ctx context.Context, chatID int64, content string, atts []AttachmentInput) (*model.UserMessage, error) {
	now := s.now()
	user := &model.UserMessage{MessageBase: model.MessageBase{ChatID: chatID, Content: content, CreatedAt: now}}
	if err := s.store.AddMessage(ctx, user); err != nil {
		return nil, fmt.Errorf("add user message: %w", err)
	}

	if len(atts) > 0 {
		ids := make([]int64, 0, len(atts))
		for _, in := range atts {
			a := &model.Attachment{MessageID: user.ID, CreatedAt: now, Name: in.Name, MimeType: in.MimeType, Data: in.Data}
			if err := s.store.AddAttachment(ctx, a); err != nil {
				return nil, fmt.Errorf("add attachment: %w", err)
			}
			ids = append(ids, a.ID)
		}
		if _, err := s.store.UpdateMessage(ctx, user.ID, storage.MessagePatch{Attachments: &ids}); err != nil {
			return nil, fmt.Errorf("link attachments: %w", err)
		}
		user.Attachments = ids
	}

	if err := s.touchChat(ctx, chatID, now); err != nil {
		return nil, fmt.Errorf("update chat: %w", err)
	}
	s.publish(user)
	return user, nil
}

// =============================================================================
// REGENERATE AND EDIT
// =============================================================================

// Regenerate deletes messageID and everything after it in its chat, then
// generates a new response. modelOverride may be empty.
func (s *Service) Regenerate(ctx context.Context, messageID int64, modelOverride string) (Outcome, error) {
	modelName, err := s.resolveModel(modelOverride)
	if err != nil {
		return Outcome{}, err
	}
	m, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return Outcome{}, err
	}
	chatID := m.Base().ChatID

	ctx, err = s.acquire(ctx, chatID)
	if err != nil {
		return Outcome{ChatID: chatID}, err
	}
	defer s.release(chatID)

	if err := s.truncate(ctx, chatID, messageID); err != nil {
		return Outcome{ChatID: chatID}, err
	}
	return s.regenerateIn(ctx, chatID, modelName)
}

// EditUserMessage replaces the content of a user message, drops every later
// message of the chat and generates a new response.
func (s *Service) EditUserMessage(ctx context.Context, messageID int64, content string, modelOverride string) (Outcome, error) {
	modelName, err := s.resolveModel(modelOverride)
	if err != nil {
		return Outcome{}, err
	}
	m, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return Outcome{}, err
	}
	user, ok := m.(*model.UserMessage)
	if !ok {
		return Outcome{}, ErrNotUserMessage
	}

	ctx, err = s.acquire(ctx, user.ChatID)
	if err != nil {
		return Outcome{ChatID: user.ChatID}, err
	}
	defer s.release(user.ChatID)

	updated, err := s.store.UpdateMessage(ctx, user.ID, storage.MessagePatch{Content: &content})
	if err != nil {
		return Outcome{ChatID: user.ChatID}, fmt.Errorf("edit message: %w", err)
	}
	s.publish(updated)

	if err := s.truncate(ctx, user.ChatID, user.ID+1); err != nil {
		return Outcome{ChatID: user.ChatID}, err
	}
	out, err := s.regenerateIn(ctx, user.ChatID, modelName)
	out.UserMessageID = user.ID
	return out, err
}

// EditModelMessage replaces the content of a model message, drops every
// later message and continues generating into the same message.
func (s *Service) EditModelMessage(ctx context.Context, messageID int64, content string, modelOverride string) (Outcome, error) {
	return s.continueMessage(ctx, messageID, &content, modelOverride)
}

// ContinueModelMessage resumes generation into an existing model message,
// appending to what it already holds.
func (s *Service) ContinueModelMessage(ctx context.Context, messageID int64, modelOverride string) (Outcome, error) {
	return s.continueMessage(ctx, messageID, nil, modelOverride)
}

func (s *Service) continueMessage(ctx context.Context, messageID int64, content *string, modelOverride string) (Outcome, error) {
	m, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return Outcome{}, err
	}
	mm, ok := m.(*model.ModelMessage)
	if !ok {
		return Outcome{}, ErrNotModelMessage
	}

	modelName := modelOverride
	if modelName == "" {
		modelName = mm.Model
	}
	if modelName, err = s.resolveModel(modelName); err != nil {
		return Outcome{}, err
	}

	ctx, err = s.acquire(ctx, mm.ChatID)
	if err != nil {
		return Outcome{ChatID: mm.ChatID}, err
	}
	defer s.release(mm.ChatID)

	if content != nil {
		updated, err := s.store.UpdateMessage(ctx, mm.ID, storage.MessagePatch{Content: content})
		if err != nil {
			return Outcome{ChatID: mm.ChatID}, fmt.Errorf("edit message: %w", err)
		}
		mm = updated.(*model.ModelMessage)
	}
	if err := s.truncate(ctx, mm.ChatID, mm.ID+1); err != nil {
		return Outcome{ChatID: mm.ChatID}, err
	}

	c, err := s.loadChat(ctx, mm.ChatID)
	if err != nil {
		return Outcome{ChatID: mm.ChatID}, err
	}
	return s.generate(ctx, turn{
		chatID:       mm.ChatID,
		model:        modelName,
		target:       mm,
		requestTitle: c.HasDefaultTitle(s.Options().DefaultTitle),
	})
}

// regenerateIn starts a fresh response at the end of the chat.
func (s *Service) regenerateIn(ctx context.Context, chatID int64, modelName string) (Outcome, error) {
	c, err := s.loadChat(ctx, chatID)
	if err != nil {
		return Outcome{ChatID: chatID}, err
	}
	return s.generate(ctx, turn{
		chatID:       chatID,
		model:        modelName,
		requestTitle: c.HasDefaultTitle(s.Options().DefaultTitle),
	})
}

// truncate deletes messages of chatID with id >= fromID.
func (s *Service) truncate(ctx context.Context, chatID, fromID int64) error {
	ids, err := s.store.DeleteMessagesFrom(ctx, chatID, fromID)
	if err != nil {
		return fmt.Errorf("truncate chat: %w", err)
	}
	if len(ids) > 0 {
		s.log.Debug().Int64("chat_id", chatID).Int("deleted", len(ids)).Msg("chat truncated")
	}
	return nil
}

// =============================================================================
// RECOVERY
// =============================================================================

// RecoverInterrupted marks model messages of chatID that were left waiting
// or generating by a process that exited mid-generation as cancelled, and
// returns how many it changed. Messages this service is still working on
// are left alone.
func (s *Service) RecoverInterrupted(ctx context.Context, chatID int64) (int, error) {
	if s.holds(chatID) {
		return 0, nil
	}
	msgs, err := s.store.MessagesByChat(ctx, chatID)
	if err != nil {
		return 0, fmt.Errorf("load messages: %w", err)
	}

	cancelled := model.StatusCancelled
	n := 0
	for _, m := range msgs {
		mm, ok := m.(*model.ModelMessage)
		if !ok || !mm.Status.InFlight() || s.registry.IsGenerating(mm.ID).Generating {
			continue
		}
		if _, err := s.store.UpdateMessage(ctx, mm.ID, storage.MessagePatch{Status: &cancelled}); err != nil {
			return n, fmt.Errorf("recover message %d: %w", mm.ID, err)
		}
		s.log.Warn().
			Int64("chat_id", chatID).
			Int64("message_id", mm.ID).
			Str("status", string(mm.Status)).
			Msg("interrupted generation marked cancelled")
		n++
	}
	return n, nil
}
