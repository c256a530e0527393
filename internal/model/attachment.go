// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"
)

// Attachment is binary content owned by a message.
type Attachment struct {
	ID        int64     `json:"id"`
	MessageID int64     `json:"message_id"`
	CreatedAt time.Time `json:"created_at"`
	Name      string    `json:"name"`
	MimeType  string    `json:"mime_type"`
	Data      []byte    `json:"-"`
}

// IsImage reports whether the attachment is an image.
func (a *Attachment) IsImage() bool {
	return strings.HasPrefix(a.MimeType, "image/")
}

// IsText reports whether the attachment can be inlined as text.
func (a *Attachment) IsText() bool {
	return strings.HasPrefix(a.MimeType, "text/") || a.MimeType == "application/json"
}
