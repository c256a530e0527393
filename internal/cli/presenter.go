// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/ollama"
)

// =============================================================================
// TERMINAL PRESENTER
// =============================================================================

// PresenterOptions control how replies are printed.
type PresenterOptions struct {
	// Styled enables lipgloss colors and glamour markdown.
	Styled bool

	// Stream prints content as it arrives. When false the finished reply
	// is printed once, rendered as markdown when Styled.
	Stream bool

	// Width is the markdown wrap width; zero uses the terminal width.
	Width int
}

// Presenter prints generation progress to a terminal. It implements
// chat.Presenter and is safe for concurrent use.
type Presenter struct {
	out  io.Writer
	opts PresenterOptions
	md   *glamour.TermRenderer

	mu       sync.Mutex
	streams  map[int64]*streamState
	tools    map[int64]model.ToolStatus
	errShown bool
}

// streamState tracks how much of one model message has been printed.
type streamState struct {
	printed  int
	thinking bool
	done     bool
}

var _ chat.Presenter = (*Presenter)(nil)

// NewPresenter creates a presenter writing to out.
func NewPresenter(out io.Writer, opts PresenterOptions) *Presenter {
	p := &Presenter{
		out:     out,
		opts:    opts,
		streams: make(map[int64]*streamState),
		tools:   make(map[int64]model.ToolStatus),
	}
	if opts.Styled {
		width := opts.Width
		if width <= 0 {
			width = min(GetTerminalWidth(), 100)
		}
		md, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err == nil {
			p.md = md
		}
	}
	return p
}

// MessageUpdated prints whatever part of m has not been shown yet.
func (p *Presenter) MessageUpdated(m model.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch v := m.(type) {
	case *model.ModelMessage:
		p.modelUpdated(v)
	case *model.ToolMessage:
		p.toolUpdated(v)
	}
}

func (p *Presenter) modelUpdated(m *model.ModelMessage) {
	st, ok := p.streams[m.ID]
	if !ok {
		st = &streamState{}
		p.streams[m.ID] = st
		fmt.Fprintln(p.out, p.style(ModelStyle, m.Model+" ›"))
	}

	// Continuing a finished message reopens it.
	if st.done && m.Status.InFlight() {
		st.done = false
	}

	if m.Thinking != "" && m.Content == "" && !st.thinking {
		st.thinking = true
		fmt.Fprintln(p.out, p.style(DimStyle, "thinking…"))
	}

	if p.opts.Stream {
		if len(m.Content) < st.printed {
			// Replaced by an edit; start over on a fresh line.
			fmt.Fprintln(p.out)
			st.printed = 0
		}
		if len(m.Content) > st.printed {
			io.WriteString(p.out, m.Content[st.printed:])
			st.printed = len(m.Content)
		}
	}

	if st.done || m.Status.InFlight() {
		return
	}
	st.done = true

	if !p.opts.Stream {
		io.WriteString(p.out, p.renderMarkdown(m.Content))
	}
	if !strings.HasSuffix(m.Content, "\n") {
		fmt.Fprintln(p.out)
	}

	switch m.Status {
	case model.StatusFinished:
		if line := statsLine(m); line != "" {
			fmt.Fprintln(p.out, p.style(DimStyle, line))
		}
	case model.StatusCancelled:
		fmt.Fprintln(p.out, p.style(WarningStyle, "[cancelled]"))
	}
}

func (p *Presenter) toolUpdated(m *model.ToolMessage) {
	if p.tools[m.ID] == m.Status {
		return
	}
	p.tools[m.ID] = m.Status

	switch m.Status {
	case model.ToolPending:
		fmt.Fprintln(p.out, p.style(DimStyle, "⚙ running "+m.ToolName+"…"))
	case model.ToolFinished:
		fmt.Fprintln(p.out, p.style(DimStyle, "⚙ "+m.ToolName+" done"))
	}
}

// ShowError prints a failed generation.
func (p *Presenter) ShowError(kind ollama.ErrorKind, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errShown = true
	fmt.Fprintln(p.out, p.style(ErrorStyle, "✗ "+text))
}

// SetTitle announces a generated chat title.
func (p *Presenter) SetTitle(chatID int64, title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, p.style(DimStyle, fmt.Sprintf("chat %d: %s", chatID, title)))
}

// takeErrorShown reports whether ShowError ran since the last call.
func (p *Presenter) takeErrorShown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	shown := p.errShown
	p.errShown = false
	return shown
}

// =============================================================================
// HELPERS
// =============================================================================

func (p *Presenter) style(s lipgloss.Style, text string) string {
	if !p.opts.Styled {
		return text
	}
	return s.Render(text)
}

// renderMarkdown renders content with glamour, falling back to the raw text.
func (p *Presenter) renderMarkdown(content string) string {
	if p.md == nil {
		return content
	}
	out, err := p.md.Render(content)
	if err != nil {
		return content
	}
	return out
}

// statsLine summarizes a finished reply.
func statsLine(m *model.ModelMessage) string {
	var parts []string
	if m.ThinkStats != nil {
		if d := m.ThinkStats.Duration(); d > 0 {
			parts = append(parts, fmt.Sprintf("thought %.1fs", d.Seconds()))
		}
	}
	if m.Stats != nil {
		if m.Stats.CompletionTokens > 0 {
			parts = append(parts, fmt.Sprintf("%d tokens", m.Stats.CompletionTokens))
		}
		if tps := m.Stats.TokensPerSecond(); tps > 0 {
			parts = append(parts, fmt.Sprintf("%.1f tok/s", tps))
		}
	}
	return strings.Join(parts, " · ")
}
