// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/storage"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
	ExitAuthError     = 4
	ExitNetworkError  = 5
	ExitNotFoundError = 7
	ExitCancelled     = 130
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// UsageError reports invalid command usage.
type UsageError struct {
	Command string
	Reason  string
}

func (e *UsageError) Error() string {
	if e.Command == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s (see 'rigchat help')", e.Command, e.Reason)
}

// NewUsageError creates a UsageError.
func NewUsageError(command, reason string) error {
	return &UsageError{Command: command, Reason: reason}
}

// ConfigError wraps a failure to load configuration.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return "config: " + e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

// ExitCode maps err to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usage *UsageError
	var cfg *ConfigError
	switch {
	case errors.As(err, &usage):
		return ExitUsageError
	case errors.As(err, &cfg):
		return ExitConfigError
	case errors.Is(err, context.Canceled):
		return ExitCancelled
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, chat.ErrNoChat),
		errors.Is(err, chat.ErrMessageNotFound),
		ollama.IsModelNotFound(err):
		return ExitNotFoundError
	case ollama.IsKind(err, ollama.KindNotAuthed), ollama.IsKind(err, ollama.KindNotPremium):
		return ExitAuthError
	case ollama.IsKind(err, ollama.KindNetwork), ollama.IsKind(err, ollama.KindNoResponseBody):
		return ExitNetworkError
	default:
		return ExitGeneralError
	}
}

// describeKind turns a chat error kind into a short hint for the user.
func describeKind(kind ollama.ErrorKind) string {
	switch kind {
	case ollama.KindNotAuthed:
		return "the backend rejected the credentials; check backend.auth_token"
	case ollama.KindNotPremium:
		return "this model requires a premium account"
	case ollama.KindRateLimited:
		return "rate limited by the backend; try again shortly"
	case ollama.KindModelNotFound:
		return "model not found; run 'rigchat models' to list installed models"
	case ollama.KindNetwork, ollama.KindNoResponseBody:
		return "could not reach the backend; is Ollama running?"
	default:
		return ""
	}
}
