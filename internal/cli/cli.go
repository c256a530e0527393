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
	"runtime"
	"strings"
	"syscall"

	"github.com/jeranaias/rigchat/internal/ollama"
)

// Version information (set at build time)
var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

const usageText = `rigchat - chat with local and cloud LLMs from the terminal

Usage:
  rigchat [chat] [chat-id]            Interactive chat (default on a terminal)
  rigchat send [--chat ID] <message>  Send one message and stream the reply
  rigchat regenerate <message-id>     Regenerate a reply
  rigchat continue <message-id>       Continue a reply where it stopped
  rigchat edit <message-id> <text>    Edit a message and regenerate from it
  rigchat title <chat-id> [--force]   Generate a title for a chat
  rigchat list                        List chats, pinned first
  rigchat show <chat-id>              Print a chat transcript
  rigchat pin|unpin <chat-id>         Pin or unpin a chat
  rigchat delete <chat-id>            Delete a chat and its messages
  rigchat models                      List installed models and capabilities
  rigchat ps                          List models loaded in memory
  rigchat load [model]                Load a model into memory
  rigchat serve [--addr host:port]    Run the local status server
  rigchat version                     Show version

Global flags:
  --config PATH    Config file (default ~/.rigchat/config.toml)
  --model NAME     Model for this run, overriding default_model
  --attach FILES   Comma-separated files to attach (send)
  --json           Machine-readable output (list, show, models, ps)
  --no-stream      Print replies once finished, rendered as markdown
  --plain          Disable colors and markdown rendering
  -v, --verbose    Debug logging

Examples:
  rigchat send --model llama3.2 "Explain goroutines in one paragraph"
  git diff | rigchat send --attach notes.md -
  rigchat show 12 --json | jq '.messages[].message.content'
`

// boolFlags are the flags that never take a value.
var boolFlags = []string{"json", "no-stream", "plain", "verbose", "v", "force", "help", "h", "version"}

// handler runs one command.
type handler func(ctx context.Context, a *App, args *ArgParser) error

type command struct {
	run handler

	// interactive commands handle Ctrl-C themselves.
	interactive bool
}

var commands = map[string]command{
	"chat":       {run: cmdChat, interactive: true},
	"send":       {run: cmdSend},
	"ask":        {run: cmdSend},
	"regenerate": {run: cmdRegenerate},
	"regen":      {run: cmdRegenerate},
	"continue":   {run: cmdContinue},
	"edit":       {run: cmdEdit},
	"title":      {run: cmdTitle},
	"list":       {run: cmdList},
	"ls":         {run: cmdList},
	"show":       {run: cmdShow},
	"pin":        {run: cmdPin(true)},
	"unpin":      {run: cmdPin(false)},
	"delete":     {run: cmdDelete},
	"rm":         {run: cmdDelete},
	"models":     {run: cmdModels},
	"ps":         {run: cmdPs},
	"load":       {run: cmdLoad},
	"serve":      {run: cmdServe},
}

// Run executes the command line and returns the process exit code.
func Run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	p := NewArgParser(args, boolFlags...)

	name := strings.ToLower(p.Positional(0))
	switch {
	case p.BoolFlag("version") || name == "version":
		PrintVersion(stdout)
		return ExitSuccess
	case p.BoolFlag("help") || p.BoolFlag("h") || name == "help":
		fmt.Fprint(stdout, usageText)
		return ExitSuccess
	case name == "":
		if !isTerminalReader(stdin) {
			fmt.Fprint(stderr, usageText)
			return ExitUsageError
		}
		name = "chat"
		p = NewArgParser(append([]string{name}, args...), boolFlags...)
	}

	cmd, ok := commands[name]
	if !ok {
		return report(stderr, NewUsageError("", fmt.Sprintf("unknown command %q (see 'rigchat help')", name)))
	}

	ctx := context.Background()
	if !cmd.interactive {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
	}

	app, err := OpenApp(AppOptions{
		ConfigPath: p.Flag("config"),
		Model:      p.Flag("model"),
		Plain:      p.BoolFlag("plain"),
		NoStream:   p.BoolFlag("no-stream"),
		Verbose:    p.BoolFlag("verbose") || p.BoolFlag("v"),
	}, stdout, stderr)
	if err != nil {
		return report(stderr, err)
	}
	app.In = stdin
	defer app.Close()

	return report(stderr, cmd.run(ctx, app, p.Shift()))
}

// report prints err unless the presenter already did, and returns its
// exit code.
func report(w io.Writer, err error) int {
	if err == nil {
		return ExitSuccess
	}
	var shown *shownError
	if !errors.As(err, &shown) {
		msg := err.Error()
		var ce *ollama.ChatError
		if errors.As(err, &ce) {
			if hint := describeKind(ce.Kind); hint != "" {
				msg += "\n  " + hint
			}
		}
		fmt.Fprintln(w, ErrorStyle.Render("Error:")+" "+msg)
	}
	return ExitCode(err)
}

// PrintVersion prints version and build information.
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "rigchat %s\n", Version)
	fmt.Fprintf(w, "  Commit: %s\n", GitCommit)
	fmt.Fprintf(w, "  Built:  %s\n", BuildDate)
	fmt.Fprintf(w, "  Go:     %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
