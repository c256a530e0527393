// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chats, messages and
// attachments.
//
// Messages are a closed set of variants: *UserMessage, *ModelMessage and
// *ToolMessage. Consumers switch on the concrete type and must handle all
// three.
package model
