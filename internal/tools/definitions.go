// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/rigchat/internal/ollama"
)

// =============================================================================
// RISK LEVELS
// =============================================================================

// RiskLevel indicates how much a tool can affect the machine it runs on.
type RiskLevel int

const (
	// RiskLow - read-only, no side effects
	RiskLow RiskLevel = iota
	// RiskMedium - modifies local state
	RiskMedium
	// RiskHigh - runs commands or reaches the network
	RiskHigh
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "unknown"
	}
}

// =============================================================================
// TOOL DEFINITION
// =============================================================================

// Tool is a function the model may call.
type Tool struct {
	Name        string
	Description string
	Parameters  []Parameter
	Risk        RiskLevel
	Executor    ToolExecutor
}

// Parameter describes one argument.
type Parameter struct {
	Name        string
	Type        string // "string", "number", "boolean", "array"
	Required    bool
	Description string
	Enum        []string
}

// ToolExecutor runs a single call.
type ToolExecutor interface {
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// ExecutorFunc adapts a function to ToolExecutor.
type ExecutorFunc func(ctx context.Context, args map[string]any) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, args map[string]any) (string, error) {
	return f(ctx, args)
}

// Result is the outcome of one execution.
type Result struct {
	Success   bool
	Output    string
	Error     string
	Duration  time.Duration
	Truncated bool
}

// Content is what the model sees as the tool's answer.
func (r Result) Content() string {
	if r.Success {
		return r.Output
	}
	return "error: " + r.Error
}

// ValidationError reports a bad argument.
type ValidationError struct {
	Param   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Param, e.Message)
}

// =============================================================================
// TOOL REGISTRY
// =============================================================================

// Registry holds the tools offered to the model.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(tool *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = tool
}

// Get returns the named tool or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// All returns the tools sorted by name.
func (r *Registry) All() []*Tool {
	r.mu.RLock()
	result := make([]*Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		result = append(result, tool)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Names lists the registered tool names, sorted.
func (r *Registry) Names() []string {
	tools := r.All()
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}

// ToOllamaTools converts the registry to the function-calling schema sent
// with each chat request.
func (r *Registry) ToOllamaTools() []ollama.Tool {
	tools := r.All()
	result := make([]ollama.Tool, 0, len(tools))
	for _, tool := range tools {
		result = append(result, toOllama(tool))
	}
	return result
}

func toOllama(tool *Tool) ollama.Tool {
	properties := make(map[string]ollama.ToolProperty, len(tool.Parameters))
	var required []string
	for _, p := range tool.Parameters {
		properties[p.Name] = ollama.ToolProperty{Type: p.Type, Description: p.Description, Enum: p.Enum}
		if p.Required {
			required = append(required, p.Name)
		}
	}

	// Only the first line of a long description goes to the model.
	desc := tool.Description
	if i := strings.IndexByte(desc, '\n'); i != -1 {
		desc = desc[:i]
	}

	return ollama.Tool{
		Type: "function",
		Function: ollama.ToolSchema{
			Name:        tool.Name,
			Description: desc,
			Parameters: ollama.ToolParameters{
				Type:       "object",
				Properties: properties,
				Required:   required,
			},
		},
	}
}
