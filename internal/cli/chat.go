// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/peterh/liner"

	"github.com/jeranaias/rigchat/internal/chat"
	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// LINE INPUT
// =============================================================================

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI and loads saved history.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}
	c := &ChatCLI{line: line, historyFile: filepath.Join(configDir, "chat_history")}

	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
	return c
}

// ReadInput reads one line. Non-empty input is added to history.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history with owner-only permissions and restores the terminal.
func (c *ChatCLI) Close() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			c.line.WriteHistory(f)
			f.Close()
		}
	}
	c.line.Close()
}

// =============================================================================
// SESSION
// =============================================================================

// chatSession is the state of one interactive chat.
type chatSession struct {
	app        *App
	chatID     int64
	model      string // per-session override, empty uses default_model
	projection *chat.Projection
}

// open switches the session to chatID, replacing the projection.
func (s *chatSession) open(ctx context.Context, chatID int64) error {
	s.close()
	s.chatID = chatID
	if chatID == 0 {
		return nil
	}
	if _, err := s.app.Service.RecoverInterrupted(ctx, chatID); err != nil {
		return err
	}
	p, err := chat.OpenProjection(ctx, s.app.Store, chatID)
	if err != nil {
		return err
	}
	s.projection = p
	s.app.Service.SetProjection(p)
	return nil
}

func (s *chatSession) close() {
	if s.projection != nil {
		s.app.Service.SetProjection(nil)
		s.projection.Close()
		s.projection = nil
	}
}

// messages returns the opened chat's messages from the projection.
func (s *chatSession) messages(ctx context.Context) ([]model.Message, error) {
	if s.projection == nil {
		return nil, nil
	}
	return s.projection.Messages(ctx)
}

// lastModelMessage returns the id of the newest model message.
func (s *chatSession) lastModelMessage(ctx context.Context) (int64, error) {
	msgs, err := s.messages(ctx)
	if err != nil {
		return 0, err
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if m, ok := msgs[i].(*model.ModelMessage); ok {
			return m.ID, nil
		}
	}
	return 0, errors.New("no model reply in this chat yet")
}

// =============================================================================
// CHAT COMMAND
// =============================================================================

// cmdChat: rigchat chat [chat-id]
func cmdChat(ctx context.Context, a *App, args *ArgParser) error {
	session := &chatSession{app: a, model: args.Flag("model")}
	defer session.close()

	if s := args.Positional(0); s != "" {
		id, err := ParseID(s, "chat id")
		if err != nil {
			return NewUsageError("chat", err.Error())
		}
		if _, err := a.Store.Chat(ctx, id); err != nil {
			return err
		}
		if err := session.open(ctx, id); err != nil {
			return err
		}
	}

	stopServer := a.startStatusServer(ctx)
	defer stopServer()

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go a.watchConfig(watchCtx)

	input := NewChatCLI()
	defer input.Close()

	// Ctrl-C while a reply streams stops that reply. At the prompt liner
	// owns the terminal and reports it as ErrPromptAborted instead.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-sigs:
				a.stopInFlight()
			}
		}
	}()

	a.printWelcome(ctx, session)

	for {
		line, err := input.ReadInput(UserStyle.Render("you › "))
		if errors.Is(err, liner.ErrPromptAborted) {
			fmt.Fprintln(a.Out, DimStyle.Render("(type /quit to exit)"))
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return err
			}
			fmt.Fprintln(a.Out)
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := a.slashCommand(ctx, session, line)
			if err != nil {
				a.printError(err)
			}
			if quit {
				return nil
			}
			continue
		}

		out, err := a.Service.SendMessage(ctx, session.chatID, line, chat.SendOptions{Model: session.model})
		if err != nil && !a.Presenter.takeErrorShown() {
			a.printError(err)
		}
		if session.chatID == 0 && out.ChatID != 0 {
			if err := session.open(ctx, out.ChatID); err != nil {
				a.printError(err)
			}
		}
	}
}

// stopInFlight stops every running operation of this process, including
// ones between turns while tools run.
func (a *App) stopInFlight() {
	if n := a.Service.StopAll(); n > 0 {
		a.Log.Debug().Int("operations", n).Msg("stopped by interrupt")
	}
}

// watchConfig applies config file changes to the next turn.
func (a *App) watchConfig(ctx context.Context) {
	err := config.Watch(ctx, a.ConfigPath,
		func(cfg *config.Config) {
			opts := chat.OptionsFromConfig(cfg)
			if a.opts.Model != "" {
				opts.DefaultModel = a.opts.Model
			}
			a.Service.SetOptions(opts)
			a.Log.Info().Str("default_model", opts.DefaultModel).Msg("config reloaded")
		},
		func(err error) {
			a.Log.Warn().Err(err).Msg("config reload failed")
		},
	)
	if err != nil && ctx.Err() == nil {
		a.Log.Debug().Err(err).Msg("config watch unavailable")
	}
}

func (a *App) printWelcome(ctx context.Context, s *chatSession) {
	modelName := s.model
	if modelName == "" {
		modelName = a.Service.Options().DefaultModel
	}
	if modelName == "" {
		modelName = "(none, use /model <name>)"
	}

	fmt.Fprintln(a.Out, TitleStyle.Render("rigchat "+Version))
	fmt.Fprintf(a.Out, "%s%s\n", RenderLabel("Model:"), ValueStyle.Render(modelName))
	fmt.Fprintf(a.Out, "%s%s\n", RenderLabel("Backend:"), ValueStyle.Render(string(a.Backend.Kind())))
	if a.Config.Server.Addr != "" {
		fmt.Fprintf(a.Out, "%s%s\n", RenderLabel("Status:"), ValueStyle.Render("http://"+a.Config.Server.Addr))
	}
	fmt.Fprintln(a.Out, DimStyle.Render("Type /help for commands. Ctrl-C stops a reply."))
	fmt.Fprintln(a.Out)

	msgs, err := s.messages(ctx)
	if err != nil {
		a.printError(err)
		return
	}
	for _, m := range msgs {
		a.printMessage(m)
	}
}

func (a *App) printError(err error) {
	fmt.Fprintln(a.Err, ErrorStyle.Render("[Error]")+" "+err.Error())
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

const chatHelp = `Commands:
  /model [name]     Show or switch the model for this session
  /models           List installed models
  /new              Start a new chat
  /open <id>        Switch to another chat
  /list             List chats
  /retry            Regenerate the last reply
  /continue         Continue the last reply
  /title            Generate a title for this chat
  /pin, /unpin      Pin or unpin this chat
  /quit             Exit`

// slashCommand runs one REPL command. It returns true to exit.
func (a *App) slashCommand(ctx context.Context, s *chatSession, input string) (bool, error) {
	fields := strings.Fields(input)
	cmd, rest := strings.ToLower(fields[0]), fields[1:]
	args := NewArgParser(rest, "json")

	switch cmd {
	case "/quit", "/exit", "/q":
		return true, nil

	case "/help", "/?":
		fmt.Fprintln(a.Out, chatHelp)

	case "/model":
		if len(rest) == 0 {
			current := s.model
			if current == "" {
				current = a.Service.Options().DefaultModel
			}
			fmt.Fprintln(a.Out, current)
			return false, nil
		}
		s.model = rest[0]
		fmt.Fprintln(a.Out, DimStyle.Render("model set to "+s.model))

	case "/models":
		return false, cmdModels(ctx, a, args)

	case "/list":
		return false, cmdList(ctx, a, args)

	case "/new":
		if err := s.open(ctx, 0); err != nil {
			return false, err
		}
		fmt.Fprintln(a.Out, DimStyle.Render("new chat"))

	case "/open":
		id, err := ParseID(args.Positional(0), "chat id")
		if err != nil {
			return false, err
		}
		if _, err := a.Store.Chat(ctx, id); err != nil {
			return false, err
		}
		if err := s.open(ctx, id); err != nil {
			return false, err
		}
		a.printWelcome(ctx, s)

	case "/retry", "/regenerate":
		id, err := s.lastModelMessage(ctx)
		if err != nil {
			return false, err
		}
		_, err = a.Service.Regenerate(ctx, id, s.model)
		return false, a.quietError(err)

	case "/continue":
		id, err := s.lastModelMessage(ctx)
		if err != nil {
			return false, err
		}
		_, err = a.Service.ContinueModelMessage(ctx, id, s.model)
		return false, a.quietError(err)

	case "/title", "/pin", "/unpin":
		if s.chatID == 0 {
			return false, errors.New("no chat open yet")
		}
		args = NewArgParser(append([]string{fmt.Sprint(s.chatID)}, rest...), "force")
		switch cmd {
		case "/title":
			return false, cmdTitle(ctx, a, args)
		case "/pin":
			return false, cmdPin(true)(ctx, a, args)
		default:
			return false, cmdPin(false)(ctx, a, args)
		}

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
	return false, nil
}

// quietError drops errors the presenter already showed.
func (a *App) quietError(err error) error {
	if err != nil && a.Presenter.takeErrorShown() {
		return nil
	}
	return err
}
