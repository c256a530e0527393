// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/ollama"
)

// =============================================================================
// PATCH
// =============================================================================

// MessagePatch holds the fields to change; nil fields are left untouched.
// Fields that do not exist on the stored variant are ignored.
type MessagePatch struct {
	Content *string

	// User messages
	Attachments *[]int64

	// Model messages
	Thinking   *string
	Status     *model.Status
	ToolCalls  *[]ollama.ToolCall
	Stats      *ollama.Usage
	ThinkStats *model.ThinkStats
	Error      *string

	// Tool messages
	ToolStatus  *model.ToolStatus
	CompletedAt *time.Time
}

func (p MessagePatch) apply(m model.Message) {
	if p.Content != nil {
		m.Base().Content = *p.Content
	}

	switch v := m.(type) {
	case *model.UserMessage:
		if p.Attachments != nil {
			v.Attachments = *p.Attachments
		}
	case *model.ModelMessage:
		if p.Thinking != nil {
			v.Thinking = *p.Thinking
		}
		if p.Status != nil {
			v.Status = *p.Status
		}
		if p.ToolCalls != nil {
			v.ToolCalls = *p.ToolCalls
		}
		if p.Stats != nil {
			s := *p.Stats
			v.Stats = &s
		}
		if p.ThinkStats != nil {
			ts := *p.ThinkStats
			v.ThinkStats = &ts
		}
		if p.Error != nil {
			v.Error = *p.Error
		}
	case *model.ToolMessage:
		if p.ToolStatus != nil {
			v.Status = *p.ToolStatus
		}
		if p.CompletedAt != nil {
			t := *p.CompletedAt
			v.CompletedAt = &t
		}
	}
}

// =============================================================================
// VARIANT CODEC
// =============================================================================

type userData struct {
	Attachments []int64 `json:"attachments,omitempty"`
}

type modelData struct {
	Model      string            `json:"model"`
	Thinking   string            `json:"thinking,omitempty"`
	Status     model.Status      `json:"status"`
	ToolCalls  []ollama.ToolCall `json:"tool_calls,omitempty"`
	Stats      *ollama.Usage     `json:"stats,omitempty"`
	ThinkStats *model.ThinkStats `json:"think_stats,omitempty"`
	Error      string            `json:"error,omitempty"`
}

type toolData struct {
	ToolName    string           `json:"tool_name"`
	Status      model.ToolStatus `json:"status"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

func encodeData(m model.Message) ([]byte, error) {
	switch v := m.(type) {
	case *model.UserMessage:
		return json.Marshal(userData{Attachments: v.Attachments})
	case *model.ModelMessage:
		return json.Marshal(modelData{
			Model:      v.Model,
			Thinking:   v.Thinking,
			Status:     v.Status,
			ToolCalls:  v.ToolCalls,
			Stats:      v.Stats,
			ThinkStats: v.ThinkStats,
			Error:      v.Error,
		})
	case *model.ToolMessage:
		return json.Marshal(toolData{ToolName: v.ToolName, Status: v.Status, CompletedAt: v.CompletedAt})
	default:
		return nil, fmt.Errorf("unknown message type %T", m)
	}
}

func decodeMessage(base model.MessageBase, typ model.MessageType, data []byte) (model.Message, error) {
	switch typ {
	case model.TypeUser:
		var d userData
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		return &model.UserMessage{MessageBase: base, Attachments: d.Attachments}, nil
	case model.TypeModel:
		var d modelData
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		return &model.ModelMessage{
			MessageBase: base,
			Model:       d.Model,
			Thinking:    d.Thinking,
			Status:      d.Status,
			ToolCalls:   d.ToolCalls,
			Stats:       d.Stats,
			ThinkStats:  d.ThinkStats,
			Error:       d.Error,
		}, nil
	case model.TypeTool:
		var d toolData
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		return &model.ToolMessage{MessageBase: base, ToolName: d.ToolName, Status: d.Status, CompletedAt: d.CompletedAt}, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", typ)
	}
}

func scanMessage(sc scanner) (model.Message, error) {
	var (
		base    model.MessageBase
		typ     string
		created int64
		data    []byte
	)
	if err := sc.Scan(&base.ID, &base.ChatID, &typ, &base.Content, &created, &data); err != nil {
		return nil, err
	}
	base.CreatedAt = fromUnix(created)
	m, err := decodeMessage(base, model.MessageType(typ), data)
	if err != nil {
		return nil, fmt.Errorf("decode message %d: %w", base.ID, err)
	}
	return m, nil
}

const messageColumns = `id, chat_id, type, content, created_at, data`

// =============================================================================
// OPERATIONS
// =============================================================================

// AddMessage inserts m and sets its ID.
func (s *Store) AddMessage(ctx context.Context, m model.Message) error {
	data, err := encodeData(m)
	if err != nil {
		return err
	}
	b := m.Base()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(chat_id, type, content, created_at, data) VALUES(?, ?, ?, ?, ?)`,
		b.ChatID, string(m.Type()), b.Content, toUnix(b.CreatedAt), data,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if b.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	s.notify(Change{Collection: Messages, Op: OpAdd, ChatID: b.ChatID, IDs: []int64{b.ID}})
	return nil
}

// Message returns the message with the given id.
func (s *Store) Message(ctx context.Context, id int64) (model.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	return m, err
}

// MessagesByChat returns the messages of a chat ordered by id.
func (s *Store) MessagesByChat(ctx context.Context, chatID int64) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE chat_id = ? ORDER BY id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// UpdateMessage applies a partial update and returns the updated message.
func (s *Store) UpdateMessage(ctx context.Context, id int64, p MessagePatch) (model.Message, error) {
	var updated model.Message
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
		m, err := scanMessage(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("message %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}

		p.apply(m)
		data, err := encodeData(m)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE messages SET content = ?, data = ? WHERE id = ?`,
			m.Base().Content, data, id,
		); err != nil {
			return fmt.Errorf("update message: %w", err)
		}
		updated = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(Change{Collection: Messages, Op: OpUpdate, ChatID: updated.Base().ChatID, IDs: []int64{id}})
	return updated, nil
}

// DeleteMessage removes one message and its attachments.
func (s *Store) DeleteMessage(ctx context.Context, id int64) error {
	var chatID int64
	err := s.db.QueryRowContext(ctx, `DELETE FROM messages WHERE id = ? RETURNING chat_id`, id).Scan(&chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	s.notify(
		Change{Collection: Messages, Op: OpDelete, ChatID: chatID, IDs: []int64{id}},
		Change{Collection: Attachments, Op: OpDelete, ChatID: chatID},
	)
	return nil
}

// DeleteMessagesFrom removes every message of the chat whose id is >= fromID,
// along with their attachments, and returns the deleted ids.
func (s *Store) DeleteMessagesFrom(ctx context.Context, chatID, fromID int64) ([]int64, error) {
	var ids []int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`DELETE FROM messages WHERE chat_id = ? AND id >= ? RETURNING id`, chatID, fromID)
		if err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		s.notify(
			Change{Collection: Messages, Op: OpDelete, ChatID: chatID, IDs: ids},
			Change{Collection: Attachments, Op: OpDelete, ChatID: chatID},
		)
	}
	return ids, nil
}
