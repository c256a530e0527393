// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"

	"github.com/jeranaias/rigchat/internal/ollama"
)

// highlightCode colors code for a 256-color terminal. Unknown languages
// are guessed from the content; any failure returns code unchanged.
func highlightCode(code, language string) string {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := chromaStyles.Get("monokai")
	if style == nil {
		style = chromaStyles.Fallback
	}
	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}
	var buf strings.Builder
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return code
	}
	return buf.String()
}

// formatToolCall renders a call as name(args-json), highlighted when styled.
func (p *Presenter) formatToolCall(call ollama.ToolCall) string {
	args := "{}"
	if len(call.Function.Arguments) > 0 {
		if b, err := json.Marshal(call.Function.Arguments); err == nil {
			args = string(b)
		}
	}
	if p.opts.Styled {
		args = highlightCode(args, "json")
	}
	return call.Function.Name + "(" + args + ")"
}
