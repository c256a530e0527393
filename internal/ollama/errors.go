// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// =============================================================================
// ERROR KINDS
// =============================================================================

// ErrorKind categorizes chat errors so callers can present them differently.
type ErrorKind string

const (
	KindNoResponseBody ErrorKind = "no-response-body"
	KindParseFail      ErrorKind = "parse-fail"
	KindNetwork        ErrorKind = "network"
	KindNotAuthed      ErrorKind = "app:not-authed"
	KindNotPremium     ErrorKind = "app:not-premium"
	KindRateLimited    ErrorKind = "app:rate-limited"
	KindModelNotFound  ErrorKind = "app:model-not-found"
	KindUnknown        ErrorKind = "unknown"
)

// ChatError is a transport, protocol, or application error reported by a
// chat request.
type ChatError struct {
	Kind    ErrorKind
	Message string
	Status  int // HTTP status, zero when no response was received
	Cause   error
}

func (e *ChatError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *ChatError) Unwrap() error {
	return e.Cause
}

// IsKind reports whether err is a ChatError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ce *ChatError
	return errors.As(err, &ce) && ce.Kind == kind
}

// IsModelNotFound returns true if the error indicates the model was not found.
func IsModelNotFound(err error) bool {
	return IsKind(err, KindModelNotFound)
}

// =============================================================================
// ERROR ENVELOPE
// =============================================================================

// errorEnvelope accepts both the structured {error:{type,message}} form and
// Ollama's plain {error:"..."} form.
type errorEnvelope struct {
	Error json.RawMessage `json:"error"`
}

type errorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// parseErrorBody maps a non-success response to a ChatError.
func parseErrorBody(status int, body []byte) *ChatError {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || len(env.Error) == 0 {
		return &ChatError{
			Kind:    KindParseFail,
			Message: "unexpected response: " + http.StatusText(status),
			Status:  status,
		}
	}

	var detail errorDetail
	if err := json.Unmarshal(env.Error, &detail); err != nil {
		var plain string
		if err := json.Unmarshal(env.Error, &plain); err != nil {
			return &ChatError{Kind: KindParseFail, Message: string(env.Error), Status: status}
		}
		detail.Message = plain
	}

	msg := detail.Message
	if msg == "" {
		msg = detail.Type
	}
	return &ChatError{Kind: classify(status, detail), Message: msg, Status: status}
}

func classify(status int, d errorDetail) ErrorKind {
	typ := strings.ToLower(d.Type)
	msg := strings.ToLower(d.Message)

	switch {
	case strings.Contains(typ, "not-authed"), status == http.StatusUnauthorized:
		return KindNotAuthed
	case strings.Contains(typ, "not-premium"), status == http.StatusPaymentRequired:
		return KindNotPremium
	case strings.Contains(typ, "rate-limit"), status == http.StatusTooManyRequests:
		return KindRateLimited
	case strings.Contains(typ, "model-not-found"),
		status == http.StatusNotFound,
		strings.Contains(msg, "model") && strings.Contains(msg, "not found"):
		return KindModelNotFound
	default:
		return KindUnknown
	}
}
