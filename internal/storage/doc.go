// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists chats, messages and attachments in a local
// SQLite database and notifies subscribers when a collection changes.
//
// Message ids are AUTOINCREMENT and never reused, so "every message in a
// chat with id >= N" is a stable range over the (chat_id, id) index.
package storage
