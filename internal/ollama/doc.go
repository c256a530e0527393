// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for Ollama-compatible chat backends.
//
// # Key Types
//
//   - Client: HTTP client for /api/chat, /api/tags, /api/show and /api/ps
//   - Decoder: lazy newline-delimited JSON decoder tolerant of split reads
//   - ChatStream: pull-based, cancellable sequence of ChatChunks
//   - ChatError: error with a Kind callers can switch on
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: url})
//	stream := client.ChatStream(ctx, ollama.ChatRequest{
//	    Model:    "qwen2.5:7b",
//	    Messages: []ollama.Message{ollama.NewUserMessage("Hello")},
//	})
//	for chunk := range stream.All() {
//	    switch chunk.Type {
//	    case ollama.ChunkMessage:
//	        fmt.Print(chunk.Data.Message.Content)
//	    case ollama.ChunkError:
//	        return chunk.Err
//	    }
//	}
package ollama
