// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jeranaias/rigchat/internal/model"
)

const attachmentColumns = `id, message_id, created_at, name, mime_type, data`

// AddAttachment inserts a and sets its ID.
func (s *Store) AddAttachment(ctx context.Context, a *model.Attachment) error {
	if a.Data == nil {
		a.Data = []byte{}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO attachments(message_id, created_at, name, mime_type, data) VALUES(?, ?, ?, ?, ?)`,
		a.MessageID, toUnix(a.CreatedAt), a.Name, a.MimeType, a.Data,
	)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	if a.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	s.notify(Change{Collection: Attachments, Op: OpAdd, IDs: []int64{a.ID}})
	return nil
}

// Attachment returns the attachment with the given id.
func (s *Store) Attachment(ctx context.Context, id int64) (*model.Attachment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE id = ?`, id)
	a, err := scanAttachment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attachment %d: %w", id, ErrNotFound)
	}
	return a, err
}

// AttachmentsByMessage returns the attachments owned by a message.
func (s *Store) AttachmentsByMessage(ctx context.Context, messageID int64) ([]*model.Attachment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+attachmentColumns+` FROM attachments WHERE message_id = ? ORDER BY id`, messageID)
	if err != nil {
		return nil, fmt.Errorf("query attachments: %w", err)
	}
	defer rows.Close()

	var out []*model.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAttachment(sc scanner) (*model.Attachment, error) {
	var (
		a       model.Attachment
		created int64
	)
	if err := sc.Scan(&a.ID, &a.MessageID, &created, &a.Name, &a.MimeType, &a.Data); err != nil {
		return nil, err
	}
	a.CreatedAt = fromUnix(created)
	return &a, nil
}
