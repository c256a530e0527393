// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/metrics"
	"github.com/jeranaias/rigchat/internal/ollama"
)

// DefaultToolTimeout applies when neither the config nor the context sets one.
const DefaultToolTimeout = 30 * time.Second

const maxHistorySize = 1000

// =============================================================================
// EXECUTION RECORD
// =============================================================================

// ExecutionRecord is one entry of the audit history.
type ExecutionRecord struct {
	ToolName  string
	Args      map[string]any
	Result    Result
	Timestamp time.Time
}

// Response answers one tool call.
type Response struct {
	ToolName    string
	Content     string
	CompletedAt time.Time
}

// =============================================================================
// EXECUTOR
// =============================================================================

// Executor runs tool calls against a registry.
type Executor struct {
	registry *Registry
	log      zerolog.Logger

	mu        sync.Mutex
	history   []ExecutionRecord
	maxRisk   RiskLevel
	timeout   time.Duration
	maxOutput int
}

// NewExecutor creates an executor. Only tools at or below RiskLow run
// until SetMaxRisk raises the ceiling.
func NewExecutor(registry *Registry, cfg config.ToolsConfig, log zerolog.Logger) *Executor {
	e := &Executor{
		registry:  registry,
		log:       log.With().Str("component", "tools").Logger(),
		maxRisk:   RiskLow,
		timeout:   cfg.Timeout,
		maxOutput: cfg.MaxOutput,
	}
	if e.timeout <= 0 {
		e.timeout = DefaultToolTimeout
	}
	if e.maxOutput <= 0 {
		e.maxOutput = 30000
	}
	return e
}

// SetMaxRisk sets the highest risk level allowed to run.
func (e *Executor) SetMaxRisk(level RiskLevel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maxRisk = level
}

// Registry returns the tool registry.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// History returns a copy of the execution history.
func (e *Executor) History() []ExecutionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	result := make([]ExecutionRecord, len(e.history))
	copy(result, e.history)
	return result
}

// HandleToolCalls runs every call in order and returns one response per
// call, in the same order. Failures become error text in the response.
func (e *Executor) HandleToolCalls(ctx context.Context, calls []ollama.ToolCall) []Response {
	responses := make([]Response, len(calls))
	for i, call := range calls {
		result := e.Execute(ctx, call)
		responses[i] = Response{
			ToolName:    call.Function.Name,
			Content:     result.Content(),
			CompletedAt: time.Now(),
		}
	}
	return responses
}

// Execute runs a single call with validation, timeout and output truncation.
func (e *Executor) Execute(ctx context.Context, call ollama.ToolCall) Result {
	start := time.Now()
	name := call.Function.Name
	args := call.Function.Arguments
	if args == nil {
		args = map[string]any{}
	}

	result := e.run(ctx, name, args)
	result.Duration = time.Since(start)

	if len(result.Output) > e.maxOutput {
		cut := e.maxOutput
		for cut > 0 && !utf8.RuneStart(result.Output[cut]) {
			cut--
		}
		result.Output = result.Output[:cut]
		result.Truncated = true
	}

	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	metrics.ToolCallsTotal.WithLabelValues(name, outcome).Inc()
	e.log.Debug().
		Str("tool", name).
		Bool("success", result.Success).
		Dur("duration", result.Duration).
		Bool("truncated", result.Truncated).
		Msg("tool executed")

	e.addToHistory(ExecutionRecord{ToolName: name, Args: args, Result: result, Timestamp: start})
	return result
}

func (e *Executor) run(ctx context.Context, name string, args map[string]any) Result {
	tool := e.registry.Get(name)
	if tool == nil {
		return Result{Error: "unknown tool: " + name}
	}

	e.mu.Lock()
	allowed := tool.Risk <= e.maxRisk
	e.mu.Unlock()
	if !allowed {
		return Result{Error: fmt.Sprintf("permission denied for tool %s (risk %s)", name, tool.Risk)}
	}

	if err := validateArgs(tool, args); err != nil {
		return Result{Error: "invalid arguments: " + err.Error()}
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	type outcome struct {
		out string
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := tool.Executor.Execute(ctx, args)
		done <- outcome{out, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return Result{Error: o.err.Error()}
		}
		return Result{Success: true, Output: o.out}
	case <-ctx.Done():
		return Result{Error: "tool execution timed out: " + ctx.Err().Error()}
	}
}

func (e *Executor) addToHistory(record ExecutionRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.history) >= maxHistorySize {
		e.history = e.history[len(e.history)-maxHistorySize+1:]
	}
	e.history = append(e.history, record)
}

// validateArgs checks required arguments and JSON types.
func validateArgs(tool *Tool, args map[string]any) error {
	for _, p := range tool.Parameters {
		val, ok := args[p.Name]
		if !ok || val == nil {
			if p.Required {
				return &ValidationError{Param: p.Name, Message: "required parameter is missing"}
			}
			continue
		}

		switch p.Type {
		case "string":
			s, ok := val.(string)
			if !ok {
				return &ValidationError{Param: p.Name, Message: "expected string"}
			}
			if len(p.Enum) > 0 && !contains(p.Enum, s) {
				return &ValidationError{Param: p.Name, Message: fmt.Sprintf("must be one of %v", p.Enum)}
			}
		case "number":
			switch val.(type) {
			case float64, int, int64:
			default:
				return &ValidationError{Param: p.Name, Message: "expected number"}
			}
		case "boolean":
			if _, ok := val.(bool); !ok {
				return &ValidationError{Param: p.Name, Message: "expected boolean"}
			}
		case "array":
			if _, ok := val.([]any); !ok {
				return &ValidationError{Param: p.Name, Message: "expected array"}
			}
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Definitions returns the schemas of the registered tools.
func (e *Executor) Definitions() []ollama.Tool {
	return e.registry.ToOllamaTools()
}
