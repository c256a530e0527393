// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/rigchat/internal/backend"
	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/storage"
)

// shutdownTimeout bounds graceful shutdown of the status server.
const shutdownTimeout = 5 * time.Second

// shownError marks an error the presenter already printed.
type shownError struct{ err error }

func (e *shownError) Error() string { return e.err.Error() }
func (e *shownError) Unwrap() error { return e.err }

// settle converts a turn's result into the command's error.
func (a *App) settle(out chat.Outcome, err error) error {
	if err != nil {
		if a.Presenter.takeErrorShown() {
			return &shownError{err}
		}
		return err
	}
	if out.ChatID != 0 {
		fmt.Fprintln(a.Err, DimStyle.Render(fmt.Sprintf("chat %d · message %d", out.ChatID, out.ModelMessageID)))
	}
	if out.Status == model.StatusCancelled {
		return &shownError{context.Canceled}
	}
	return nil
}

// =============================================================================
// GENERATION COMMANDS
// =============================================================================

// cmdSend: rigchat send [--chat ID] [--attach a,b] <message...>
func cmdSend(ctx context.Context, a *App, args *ArgParser) error {
	content, err := a.messageText(args, 0)
	if err != nil {
		return err
	}
	if content == "" {
		return NewUsageError("send", "message is required")
	}

	var chatID int64
	if s := args.Flag("chat"); s != "" {
		if chatID, err = ParseID(s, "chat id"); err != nil {
			return NewUsageError("send", err.Error())
		}
	}

	atts, err := readAttachments(args.Flag("attach"))
	if err != nil {
		return err
	}

	return a.settle(a.Service.SendMessage(ctx, chatID, content, chat.SendOptions{
		Model:       args.Flag("model"),
		Attachments: atts,
	}))
}

// cmdRegenerate: rigchat regenerate <message-id>
func cmdRegenerate(ctx context.Context, a *App, args *ArgParser) error {
	id, err := ParseID(args.Positional(0), "message id")
	if err != nil {
		return NewUsageError("regenerate", err.Error())
	}
	return a.settle(a.Service.Regenerate(ctx, id, args.Flag("model")))
}

// cmdContinue: rigchat continue <model-message-id>
func cmdContinue(ctx context.Context, a *App, args *ArgParser) error {
	id, err := ParseID(args.Positional(0), "message id")
	if err != nil {
		return NewUsageError("continue", err.Error())
	}
	return a.settle(a.Service.ContinueModelMessage(ctx, id, args.Flag("model")))
}

// cmdEdit: rigchat edit <message-id> <content...>
//
// Editing a user message truncates the chat after it and regenerates;
// editing a model message replaces its content and continues it.
func cmdEdit(ctx context.Context, a *App, args *ArgParser) error {
	id, err := ParseID(args.Positional(0), "message id")
	if err != nil {
		return NewUsageError("edit", err.Error())
	}
	content, err := a.messageText(args, 1)
	if err != nil {
		return err
	}
	if content == "" {
		return NewUsageError("edit", "new content is required")
	}

	m, err := a.Store.Message(ctx, id)
	if err != nil {
		return err
	}
	switch m.(type) {
	case *model.UserMessage:
		return a.settle(a.Service.EditUserMessage(ctx, id, content, args.Flag("model")))
	case *model.ModelMessage:
		return a.settle(a.Service.EditModelMessage(ctx, id, content, args.Flag("model")))
	default:
		return fmt.Errorf("message %d is a %s message and cannot be edited", id, m.Type())
	}
}

// cmdTitle: rigchat title <chat-id>
func cmdTitle(ctx context.Context, a *App, args *ArgParser) error {
	id, err := ParseID(args.Positional(0), "chat id")
	if err != nil {
		return NewUsageError("title", err.Error())
	}
	c, err := a.Store.Chat(ctx, id)
	if err != nil {
		return err
	}
	if args.BoolFlag("force") && !c.HasDefaultTitle(a.Config.Chat.DefaultTitle) {
		reset := a.Config.Chat.DefaultTitle
		if err := a.Store.UpdateChat(ctx, id, storage.ChatPatch{Title: &reset}); err != nil {
			return err
		}
	} else if !c.HasDefaultTitle(a.Config.Chat.DefaultTitle) {
		fmt.Fprintln(a.Out, c.Title)
		return nil
	}
	a.Service.GenerateTitle(ctx, id, args.Flag("model"))
	return nil
}

// messageText joins positionals from index. A lone "-", or no text with
// piped stdin, reads the message from stdin.
func (a *App) messageText(args *ArgParser, index int) (string, error) {
	text := JoinPositionalArgs(args, index)
	fromStdin := text == "-" || (text == "" && a.In != nil && !isTerminalReader(a.In))
	if !fromStdin {
		return text, nil
	}
	if a.In == nil {
		return "", nil
	}
	data, err := io.ReadAll(a.In)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// readAttachments loads a comma-separated list of files.
func readAttachments(list string) ([]chat.AttachmentInput, error) {
	if list == "" {
		return nil, nil
	}
	var out []chat.AttachmentInput
	for _, path := range strings.Split(list, ",") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read attachment: %w", err)
		}
		out = append(out, chat.AttachmentInput{
			Name:     filepath.Base(path),
			MimeType: detectMime(path, data),
			Data:     data,
		})
	}
	return out, nil
}

func detectMime(path string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}

// =============================================================================
// CHAT MANAGEMENT
// =============================================================================

// cmdList: rigchat list [--json]
func cmdList(ctx context.Context, a *App, args *ArgParser) error {
	chats, err := a.Store.Chats(ctx)
	if err != nil {
		return err
	}
	if args.BoolFlag("json") {
		if chats == nil {
			chats = []*model.Chat{}
		}
		return writeJSON(a.Out, chats)
	}
	if len(chats) == 0 {
		fmt.Fprintln(a.Out, DimStyle.Render("No chats yet. Start one with 'rigchat chat'."))
		return nil
	}

	titleWidth := max(GetTerminalWidth()-30, 20)
	for _, c := range chats {
		pin := "  "
		if c.Pinned {
			pin = PinStyle.Render("★ ")
		}
		fmt.Fprintf(a.Out, "%6d %s%s  %s\n",
			c.ID,
			pin,
			PadRight(Truncate(c.Title, titleWidth), titleWidth),
			DimStyle.Render(c.LastMessageAt.Local().Format("2006-01-02 15:04")),
		)
	}
	return nil
}

// jsonMessage tags a message with its type for --json output.
type jsonMessage struct {
	Type    model.MessageType `json:"type"`
	Message model.Message     `json:"message"`
}

// cmdShow: rigchat show <chat-id> [--json]
func cmdShow(ctx context.Context, a *App, args *ArgParser) error {
	id, err := ParseID(args.Positional(0), "chat id")
	if err != nil {
		return NewUsageError("show", err.Error())
	}
	c, err := a.Store.Chat(ctx, id)
	if err != nil {
		return err
	}
	if _, err := a.Service.RecoverInterrupted(ctx, id); err != nil {
		return err
	}
	msgs, err := a.Store.MessagesByChat(ctx, id)
	if err != nil {
		return err
	}

	if args.BoolFlag("json") {
		out := struct {
			Chat     *model.Chat   `json:"chat"`
			Messages []jsonMessage `json:"messages"`
		}{Chat: c, Messages: make([]jsonMessage, 0, len(msgs))}
		for _, m := range msgs {
			out.Messages = append(out.Messages, jsonMessage{Type: m.Type(), Message: m})
		}
		return writeJSON(a.Out, out)
	}

	fmt.Fprintln(a.Out, a.Presenter.style(TitleStyle, c.Title))
	fmt.Fprintln(a.Out, RenderSeparator(min(GetTerminalWidth(), 70)))
	for _, m := range msgs {
		a.printMessage(m)
	}
	return nil
}

func (a *App) printMessage(m model.Message) {
	p := a.Presenter
	switch v := m.(type) {
	case *model.UserMessage:
		fmt.Fprintf(a.Out, "%s %s\n", p.style(UserStyle, fmt.Sprintf("you › #%d", v.ID)), p.style(DimStyle, attachmentNote(v)))
		fmt.Fprintln(a.Out, v.Content)
	case *model.ModelMessage:
		fmt.Fprintf(a.Out, "%s %s\n", p.style(ModelStyle, fmt.Sprintf("%s › #%d", v.Model, v.ID)), RenderStatus(string(v.Status)))
		if v.Content != "" {
			io.WriteString(a.Out, p.renderMarkdown(v.Content))
			if !strings.HasSuffix(v.Content, "\n") {
				fmt.Fprintln(a.Out)
			}
		}
		for _, call := range v.ToolCalls {
			fmt.Fprintln(a.Out, p.style(DimStyle, "⚙ call ")+p.formatToolCall(call))
		}
		if v.Error != "" {
			fmt.Fprintln(a.Out, p.style(ErrorStyle, "✗ "+v.Error))
		}
		if line := statsLine(v); line != "" {
			fmt.Fprintln(a.Out, p.style(DimStyle, line))
		}
	case *model.ToolMessage:
		first, _, _ := strings.Cut(v.Content, "\n")
		fmt.Fprintln(a.Out, p.style(DimStyle, fmt.Sprintf("⚙ %s #%d: %s", v.ToolName, v.ID, Truncate(first, 60))))
	}
	fmt.Fprintln(a.Out)
}

func attachmentNote(m *model.UserMessage) string {
	switch n := len(m.Attachments); n {
	case 0:
		return ""
	case 1:
		return "(1 attachment)"
	default:
		return fmt.Sprintf("(%d attachments)", n)
	}
}

// cmdPin: rigchat pin|unpin <chat-id>
func cmdPin(pinned bool) handler {
	return func(ctx context.Context, a *App, args *ArgParser) error {
		id, err := ParseID(args.Positional(0), "chat id")
		if err != nil {
			return NewUsageError("pin", err.Error())
		}
		if err := a.Store.UpdateChat(ctx, id, storage.ChatPatch{Pinned: &pinned}); err != nil {
			return err
		}
		verb := "Pinned"
		if !pinned {
			verb = "Unpinned"
		}
		fmt.Fprintf(a.Out, "%s chat %d\n", verb, id)
		return nil
	}
}

// cmdDelete: rigchat delete <chat-id>
func cmdDelete(ctx context.Context, a *App, args *ArgParser) error {
	id, err := ParseID(args.Positional(0), "chat id")
	if err != nil {
		return NewUsageError("delete", err.Error())
	}
	if err := a.Store.DeleteChat(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Deleted chat %d\n", id)
	return nil
}

// =============================================================================
// MODEL COMMANDS
// =============================================================================

// ModelEntry is one row of `rigchat models --json`.
type ModelEntry struct {
	Name         string               `json:"name"`
	Size         int64                `json:"size"`
	Family       string               `json:"family,omitempty"`
	Capabilities backend.Capabilities `json:"capabilities"`
}

// cmdModels: rigchat models [--json]
func cmdModels(ctx context.Context, a *App, args *ArgParser) error {
	models, err := a.Caps.Models(ctx)
	if err != nil {
		return err
	}

	entries := make([]ModelEntry, 0, len(models))
	for _, m := range models {
		caps, err := a.Caps.Get(ctx, m.Name)
		if err != nil {
			a.Log.Debug().Err(err).Str("model", m.Name).Msg("capabilities unavailable")
		}
		entries = append(entries, ModelEntry{Name: m.Name, Size: m.Size, Family: m.Details.Family, Capabilities: caps})
	}

	if args.BoolFlag("json") {
		return writeJSON(a.Out, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(a.Out, DimStyle.Render("No models installed."))
		return nil
	}
	for _, e := range entries {
		marker := "  "
		if e.Name == a.Config.DefaultModel {
			marker = SuccessStyle.Render("* ")
		}
		fmt.Fprintf(a.Out, "%s%s %8s  %s\n", marker, PadRight(e.Name, 32), formatSize(e.Size), DimStyle.Render(capabilityList(e.Capabilities)))
	}
	return nil
}

func capabilityList(c backend.Capabilities) string {
	var out []string
	if c.Tools {
		out = append(out, "tools")
	}
	if c.Thinking {
		out = append(out, "thinking")
	}
	if c.Vision {
		out = append(out, "vision")
	}
	return strings.Join(out, ", ")
}

func formatSize(n int64) string {
	const gb = 1 << 30
	const mb = 1 << 20
	switch {
	case n >= gb:
		return fmt.Sprintf("%.1f GB", float64(n)/gb)
	case n >= mb:
		return fmt.Sprintf("%.0f MB", float64(n)/mb)
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// memoryManager returns the backend as a MemoryManager or explains why not.
func (a *App) memoryManager() (backend.MemoryManager, error) {
	mm, ok := a.Backend.(backend.MemoryManager)
	if !ok {
		return nil, fmt.Errorf("the %s backend does not manage model memory", a.Backend.Kind())
	}
	return mm, nil
}

// cmdPs: rigchat ps
func cmdPs(ctx context.Context, a *App, args *ArgParser) error {
	mm, err := a.memoryManager()
	if err != nil {
		return err
	}
	ids, err := mm.LoadedModelIDs(ctx)
	if err != nil {
		return err
	}
	if args.BoolFlag("json") {
		if ids == nil {
			ids = []string{}
		}
		return writeJSON(a.Out, ids)
	}
	if len(ids) == 0 {
		fmt.Fprintln(a.Out, DimStyle.Render("No models loaded."))
	}
	for _, id := range ids {
		fmt.Fprintf(a.Out, "%s %s\n", RenderStatus("loaded"), id)
	}
	return nil
}

// cmdLoad: rigchat load [model]
func cmdLoad(ctx context.Context, a *App, args *ArgParser) error {
	name := args.Positional(0)
	if name == "" {
		name = a.Config.DefaultModel
	}
	if name == "" {
		return NewUsageError("load", "model name is required")
	}
	mm, err := a.memoryManager()
	if err != nil {
		return err
	}
	if err := mm.LoadModel(ctx, name); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Loaded %s\n", name)
	return nil
}

// =============================================================================
// SERVE
// =============================================================================

// cmdServe: rigchat serve [--addr host:port]
func cmdServe(ctx context.Context, a *App, args *ArgParser) error {
	if addr := args.Flag("addr"); addr != "" {
		a.Config.Server.Addr = addr
	}
	srv := a.StatusServer()

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	fmt.Fprintf(a.Err, "Serving status on http://%s (Ctrl-C to stop)\n", srv.Addr())
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return <-errc
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
