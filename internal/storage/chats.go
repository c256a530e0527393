// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/rigchat/internal/model"
)

// ChatPatch holds the fields to change; nil fields are left untouched.
type ChatPatch struct {
	Title         *string
	LastMessageAt *time.Time
	Pinned        *bool
}

// CreateChat inserts c and sets its ID.
func (s *Store) CreateChat(ctx context.Context, c *model.Chat) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chats(title, created_at, last_message_at, pinned) VALUES(?, ?, ?, ?)`,
		c.Title, toUnix(c.CreatedAt), toUnix(c.LastMessageAt), boolToInt(c.Pinned),
	)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	s.notify(Change{Collection: Chats, Op: OpAdd, ChatID: c.ID, IDs: []int64{c.ID}})
	return nil
}

// Chat returns the chat with the given id.
func (s *Store) Chat(ctx context.Context, id int64) (*model.Chat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, last_message_at, pinned FROM chats WHERE id = ?`, id)
	c, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chat %d: %w", id, ErrNotFound)
	}
	return c, err
}

// Chats lists all chats, pinned first, most recent activity first.
func (s *Store) Chats(ctx context.Context) ([]*model.Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at, last_message_at, pinned FROM chats
		 ORDER BY pinned DESC, last_message_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer rows.Close()

	var chats []*model.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// UpdateChat applies a partial update.
func (s *Store) UpdateChat(ctx context.Context, id int64, p ChatPatch) error {
	var sets []string
	var args []any
	if p.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *p.Title)
	}
	if p.LastMessageAt != nil {
		sets = append(sets, "last_message_at = ?")
		args = append(args, toUnix(*p.LastMessageAt))
	}
	if p.Pinned != nil {
		sets = append(sets, "pinned = ?")
		args = append(args, boolToInt(*p.Pinned))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, "UPDATE chats SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("chat %d: %w", id, ErrNotFound)
	}
	s.notify(Change{Collection: Chats, Op: OpUpdate, ChatID: id, IDs: []int64{id}})
	return nil
}

// DeleteChat removes a chat with its messages and attachments.
func (s *Store) DeleteChat(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("chat %d: %w", id, ErrNotFound)
	}
	s.notify(
		Change{Collection: Chats, Op: OpDelete, ChatID: id, IDs: []int64{id}},
		Change{Collection: Messages, Op: OpDelete, ChatID: id},
		Change{Collection: Attachments, Op: OpDelete, ChatID: id},
	)
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChat(sc scanner) (*model.Chat, error) {
	var (
		c               model.Chat
		created, lastAt int64
		pinned          int
	)
	if err := sc.Scan(&c.ID, &c.Title, &created, &lastAt, &pinned); err != nil {
		return nil, err
	}
	c.CreatedAt = fromUnix(created)
	c.LastMessageAt = fromUnix(lastAt)
	c.Pinned = pinned == 1
	return &c, nil
}
