// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/storage"
	"github.com/jeranaias/rigchat/internal/tools"
)

// =============================================================================
// SEND
// =============================================================================

func TestSendMessage_NewChat(t *testing.T) {
	h := newHarness(t, Options{SaveInterval: 2}, nil)
	h.fake.script(reply("Hel", "lo", " there"))

	var chatUpdates atomic.Int32
	unsub := h.store.Subscribe(storage.Chats, func(c storage.Change) {
		if c.Op == storage.OpUpdate {
			chatUpdates.Add(1)
		}
	})
	defer unsub()

	out, err := h.svc.SendMessage(context.Background(), 0, "hi", SendOptions{})
	require.NoError(t, err)
	require.NotZero(t, out.ChatID)
	assert.Equal(t, model.StatusFinished, out.Status)
	assert.Equal(t, "Friendly Greeting", out.Title)

	msgs := h.messages(t, out.ChatID)
	require.Len(t, msgs, 2)
	user, ok := msgs[0].(*model.UserMessage)
	require.True(t, ok)
	assert.Equal(t, "hi", user.Content)
	assert.Equal(t, out.UserMessageID, user.ID)

	mm := h.modelMessage(t, out.ModelMessageID)
	assert.Equal(t, "Hello there", mm.Content)
	assert.Equal(t, model.StatusFinished, mm.Status)
	assert.Equal(t, "m", mm.Model)
	require.NotNil(t, mm.Stats)
	assert.Equal(t, 5, mm.Stats.CompletionTokens)
	assert.Equal(t, 12, mm.Stats.PromptTokens)

	assert.Equal(t,
		[]model.Status{model.StatusWaiting, model.StatusGenerating, model.StatusFinished},
		h.view.statuses(out.ModelMessageID))

	c, err := h.store.Chat(context.Background(), out.ChatID)
	require.NoError(t, err)
	assert.Equal(t, "Friendly Greeting", c.Title)
	assert.Equal(t, "Friendly Greeting", h.view.titles[out.ChatID])
	assert.GreaterOrEqual(t, chatUpdates.Load(), int32(2))

	assert.False(t, h.svc.IsGenerating(out.ModelMessageID).Generating)
	assert.Empty(t, h.svc.Titles().IDs())

	reqs := h.fake.streamRequests()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Messages, 1)
	assert.Equal(t, "user", reqs[0].Messages[0].Role)
	assert.Equal(t, "hi", reqs[0].Messages[0].Content)
	assert.True(t, reqs[0].Stream)
}

func TestSendMessage_ContentAcrossSaveIntervals(t *testing.T) {
	deltas := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k"}

	for _, interval := range []int{1, 2, 3, 7, 100} {
		t.Run(fmt.Sprintf("interval=%d", interval), func(t *testing.T) {
			h := newHarness(t, Options{SaveInterval: interval}, nil)
			h.fake.script(reply(deltas...))

			out, err := h.svc.SendMessage(context.Background(), 0, "go", SendOptions{})
			require.NoError(t, err)

			mm := h.modelMessage(t, out.ModelMessageID)
			assert.Equal(t, strings.Join(deltas, ""), mm.Content)
			assert.Equal(t, model.StatusFinished, mm.Status)
		})
	}
}

func TestSendMessage_ExistingChatSendsHistory(t *testing.T) {
	h := newHarness(t, Options{SystemPrompt: "be brief"}, nil)
	h.fake.script(reply("first"), reply("second"))

	out, err := h.svc.SendMessage(context.Background(), 0, "one", SendOptions{})
	require.NoError(t, err)
	_, err = h.svc.SendMessage(context.Background(), out.ChatID, "two", SendOptions{})
	require.NoError(t, err)

	reqs := h.fake.streamRequests()
	require.Len(t, reqs, 2)

	var roles, contents []string
	for _, m := range reqs[1].Messages {
		roles = append(roles, m.Role)
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"system", "user", "assistant", "user"}, roles)
	assert.Equal(t, []string{"be brief", "one", "first", "two"}, contents)

	// The chat got its title on the first turn.
	assert.Equal(t, 1, h.fake.titleRequests())
}

func TestSendMessage_TextAttachmentInlined(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.fake.script(reply("ok"))

	_, err := h.svc.SendMessage(context.Background(), 0, "see file", SendOptions{
		Attachments: []AttachmentInput{{Name: "notes.txt", MimeType: "text/plain", Data: []byte("remember")}},
	})
	require.NoError(t, err)

	reqs := h.fake.streamRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "see file\n\n[Attachment: notes.txt]\nremember", reqs[0].Messages[0].Content)
	assert.Empty(t, reqs[0].Messages[0].Images)
}

func TestSendMessage_NoModel(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.svc.SetOptions(Options{})

	_, err := h.svc.SendMessage(context.Background(), 0, "hi", SendOptions{})
	require.ErrorIs(t, err, ErrNoModel)
	assert.Empty(t, h.fake.streamRequests())
}

func TestSendMessage_UnknownChat(t *testing.T) {
	h := newHarness(t, Options{}, nil)

	_, err := h.svc.SendMessage(context.Background(), 999, "hi", SendOptions{})
	require.ErrorIs(t, err, ErrNoChat)
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestSendMessage_CancelMidStream(t *testing.T) {
	h := newHarness(t, Options{SaveInterval: 1}, nil)
	h.fake.hold = true
	h.fake.script([]string{delta("one "), delta("two "), delta("three")})

	var stopped atomic.Bool
	h.view.onUpdate = func(m model.Message) {
		mm, ok := m.(*model.ModelMessage)
		if ok && mm.Content == "one two " && stopped.CompareAndSwap(false, true) {
			assert.True(t, h.svc.Stop(mm.ID))
		}
	}

	out, err := h.svc.SendMessage(context.Background(), 0, "count", SendOptions{})
	require.NoError(t, err)
	assert.True(t, stopped.Load())
	assert.Equal(t, model.StatusCancelled, out.Status)

	mm := h.modelMessage(t, out.ModelMessageID)
	assert.Equal(t, model.StatusCancelled, mm.Status)
	assert.Equal(t, "one two ", mm.Content)

	assert.False(t, h.svc.IsGenerating(mm.ID).Generating)
	assert.False(t, h.svc.Stop(mm.ID))
	assert.Zero(t, h.fake.titleRequests())
}

func TestSendMessage_ContextCancelled(t *testing.T) {
	h := newHarness(t, Options{SaveInterval: 1}, nil)
	h.fake.hold = true
	h.fake.script([]string{delta("partial")})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.view.onUpdate = func(m model.Message) {
		if mm, ok := m.(*model.ModelMessage); ok && mm.Content == "partial" {
			cancel()
		}
	}

	out, err := h.svc.SendMessage(ctx, 0, "hi", SendOptions{})
	require.NoError(t, err)

	mm := h.modelMessage(t, out.ModelMessageID)
	assert.Equal(t, model.StatusCancelled, mm.Status)
	assert.Equal(t, "partial", mm.Content)
}

// =============================================================================
// ERRORS
// =============================================================================

func TestSendMessage_NotAuthed(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.fake.status = 401
	h.fake.errBody = `{"error":{"type":"auth:not-authed","message":"sign in"}}`

	out, err := h.svc.SendMessage(context.Background(), 0, "hi", SendOptions{})
	require.Error(t, err)
	assert.True(t, ollama.IsKind(err, ollama.KindNotAuthed))
	assert.Equal(t, model.StatusError, out.Status)

	mm := h.modelMessage(t, out.ModelMessageID)
	assert.Equal(t, model.StatusError, mm.Status)
	assert.Contains(t, mm.Error, "Sign in required")

	assert.Equal(t, []ollama.ErrorKind{ollama.KindNotAuthed}, h.view.errors)
	assert.False(t, h.svc.IsGenerating(mm.ID).Generating)
	assert.Zero(t, h.fake.titleRequests())
}

func TestSendMessage_InStreamError(t *testing.T) {
	h := newHarness(t, Options{SaveInterval: 1}, nil)
	h.fake.script([]string{delta("so far"), `{"error":"model crashed"}`})

	out, err := h.svc.SendMessage(context.Background(), 0, "hi", SendOptions{})
	require.Error(t, err)

	mm := h.modelMessage(t, out.ModelMessageID)
	assert.Equal(t, model.StatusError, mm.Status)
	assert.Equal(t, "so far", mm.Content)
	assert.Equal(t, "Error: model crashed", mm.Error)
}

func TestSendMessage_ParseErrorsSkipped(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.fake.script([]string{delta("a"), `{not json`, delta("b"), terminal()})

	out, err := h.svc.SendMessage(context.Background(), 0, "hi", SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ab", h.modelMessage(t, out.ModelMessageID).Content)
}

// =============================================================================
// TOOLS
// =============================================================================

type stubTools struct {
	calls [][]ollama.ToolCall
}

func (s *stubTools) Definitions() []ollama.Tool {
	return []ollama.Tool{{Type: "function", Function: ollama.ToolSchema{Name: "lookup"}}}
}

func (s *stubTools) HandleToolCalls(_ context.Context, calls []ollama.ToolCall) []tools.Response {
	s.calls = append(s.calls, calls)
	out := make([]tools.Response, len(calls))
	for i, c := range calls {
		out[i] = tools.Response{ToolName: c.Function.Name, Content: fmt.Sprintf("result %v", c.Function.Arguments["q"]), CompletedAt: time.Now()}
	}
	return out
}

func TestSendMessage_ToolCalls(t *testing.T) {
	stub := &stubTools{}
	h := newHarness(t, Options{ToolsEnabled: true, MaxToolRounds: 3}, stub)
	h.fake.script(
		[]string{terminalWithTools(
			ollama.ToolCall{Function: ollama.ToolFunction{Name: "lookup", Arguments: map[string]any{"q": "a"}}},
			ollama.ToolCall{Function: ollama.ToolFunction{Name: "lookup", Arguments: map[string]any{"q": "b"}}},
		)},
		reply("done"),
	)

	out, err := h.svc.SendMessage(context.Background(), 0, "look things up", SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, out.ToolRounds)
	require.Len(t, stub.calls, 1)
	assert.Len(t, stub.calls[0], 2)

	msgs := h.messages(t, out.ChatID)
	require.Len(t, msgs, 5)
	assert.IsType(t, &model.UserMessage{}, msgs[0])
	first, ok := msgs[1].(*model.ModelMessage)
	require.True(t, ok)
	assert.Len(t, first.ToolCalls, 2)
	assert.Equal(t, model.StatusFinished, first.Status)

	for i, want := range []string{"result a", "result b"} {
		tm, ok := msgs[2+i].(*model.ToolMessage)
		require.True(t, ok)
		assert.Equal(t, "lookup", tm.ToolName)
		assert.Equal(t, want, tm.Content)
		assert.Equal(t, model.ToolFinished, tm.Status)
		assert.NotNil(t, tm.CompletedAt)
	}

	last, ok := msgs[4].(*model.ModelMessage)
	require.True(t, ok)
	assert.Equal(t, "done", last.Content)
	assert.Equal(t, out.ModelMessageID, last.ID)

	reqs := h.fake.streamRequests()
	require.Len(t, reqs, 2)
	assert.NotEmpty(t, reqs[0].Tools)
	var toolMsgs []string
	for _, m := range reqs[1].Messages {
		if m.Role == "tool" {
			toolMsgs = append(toolMsgs, m.Content)
		}
	}
	assert.Equal(t, []string{"result a", "result b"}, toolMsgs)

	// Title is generated once, after the final round.
	assert.Equal(t, 1, h.fake.titleRequests())
}

func TestSendMessage_ToolRoundsExhausted(t *testing.T) {
	stub := &stubTools{}
	h := newHarness(t, Options{ToolsEnabled: true, MaxToolRounds: 0}, stub)
	h.fake.script([]string{terminalWithTools(ollama.ToolCall{Function: ollama.ToolFunction{Name: "lookup"}})})

	out, err := h.svc.SendMessage(context.Background(), 0, "x", SendOptions{})
	require.NoError(t, err)
	assert.Empty(t, stub.calls)
	assert.Len(t, h.messages(t, out.ChatID), 2)
}

// toolsFunc answers tool calls with fn.
type toolsFunc struct {
	fn func(ctx context.Context, calls []ollama.ToolCall) []tools.Response
}

func (f *toolsFunc) Definitions() []ollama.Tool {
	return []ollama.Tool{{Type: "function", Function: ollama.ToolSchema{Name: "lookup"}}}
}

func (f *toolsFunc) HandleToolCalls(ctx context.Context, calls []ollama.ToolCall) []tools.Response {
	return f.fn(ctx, calls)
}

func TestSendMessage_StopDuringToolCalls(t *testing.T) {
	tests := []struct {
		name string
		stop func(svc *Service, messageID int64) bool
	}{
		{"stop by message", func(svc *Service, id int64) bool { return svc.Stop(id) }},
		{"stop all", func(svc *Service, _ int64) bool { return svc.StopAll() == 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := &toolsFunc{}
			h := newHarness(t, Options{ToolsEnabled: true, MaxToolRounds: 3}, handler)
			h.fake.script(
				[]string{terminalWithTools(ollama.ToolCall{Function: ollama.ToolFunction{Name: "lookup"}})},
				reply("follow-up ran anyway"),
			)

			var firstID atomic.Int64
			h.view.onUpdate = func(m model.Message) {
				if mm, ok := m.(*model.ModelMessage); ok {
					firstID.CompareAndSwap(0, mm.ID)
				}
			}

			var stopped, ctxDone bool
			handler.fn = func(ctx context.Context, calls []ollama.ToolCall) []tools.Response {
				// The tool-calling message has settled but its operation is still running.
				assert.False(t, h.svc.IsGenerating(firstID.Load()).Generating)
				stopped = tt.stop(h.svc, firstID.Load())
				ctxDone = ctx.Err() != nil
				return []tools.Response{{ToolName: "lookup", Content: "partial", CompletedAt: time.Now()}}
			}

			out, err := h.svc.SendMessage(context.Background(), 0, "look it up", SendOptions{})
			require.NoError(t, err)
			assert.True(t, stopped)
			assert.True(t, ctxDone)
			assert.Equal(t, model.StatusCancelled, out.Status)
			assert.Equal(t, firstID.Load(), out.ModelMessageID)

			msgs := h.messages(t, out.ChatID)
			require.Len(t, msgs, 3)
			first, ok := msgs[1].(*model.ModelMessage)
			require.True(t, ok)
			assert.Equal(t, model.StatusFinished, first.Status)
			tm, ok := msgs[2].(*model.ToolMessage)
			require.True(t, ok)
			assert.Equal(t, model.ToolFinished, tm.Status)

			assert.Len(t, h.fake.streamRequests(), 1)
			assert.Zero(t, h.fake.titleRequests())
			assert.False(t, h.svc.Stop(first.ID))
		})
	}
}

func TestSendMessage_ToolsNotSentWithoutCapability(t *testing.T) {
	h := newHarness(t, Options{ToolsEnabled: true, MaxToolRounds: 1}, &stubTools{})
	h.fake.caps = []string{"completion"}
	h.fake.script(reply("plain"))

	_, err := h.svc.SendMessage(context.Background(), 0, "x", SendOptions{})
	require.NoError(t, err)
	reqs := h.fake.streamRequests()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].Tools)
}

// =============================================================================
// TITLES
// =============================================================================

func TestSendMessage_CustomTitleKept(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	c := model.NewChat(time.Now())
	c.Title = "My Project"
	require.NoError(t, h.store.CreateChat(context.Background(), c))
	h.fake.script(reply("ok"))

	out, err := h.svc.SendMessage(context.Background(), c.ID, "hi", SendOptions{})
	require.NoError(t, err)
	assert.Empty(t, out.Title)
	assert.Zero(t, h.fake.titleRequests())

	got, err := h.store.Chat(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "My Project", got.Title)
}

func TestGenerateTitle_FallbackOnBadResponse(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.fake.title = "not json at all"
	h.fake.script(reply("ok"))

	out, err := h.svc.SendMessage(context.Background(), 0, "hi", SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.DefaultTitle, out.Title)
	assert.Equal(t, 1, h.fake.titleRequests())
	assert.Empty(t, h.svc.Titles().IDs())
}

// =============================================================================
// REGENERATE AND EDIT
// =============================================================================

func TestRegenerate(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.fake.script(reply("first answer"), reply("second answer"))

	out, err := h.svc.SendMessage(context.Background(), 0, "q", SendOptions{})
	require.NoError(t, err)

	again, err := h.svc.Regenerate(context.Background(), out.ModelMessageID, "other")
	require.NoError(t, err)
	assert.NotEqual(t, out.ModelMessageID, again.ModelMessageID)

	msgs := h.messages(t, out.ChatID)
	require.Len(t, msgs, 2)
	mm, ok := msgs[1].(*model.ModelMessage)
	require.True(t, ok)
	assert.Equal(t, "second answer", mm.Content)
	assert.Equal(t, "other", mm.Model)

	reqs := h.fake.streamRequests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "other", reqs[1].Model)
	require.Len(t, reqs[1].Messages, 1)
	assert.Equal(t, "q", reqs[1].Messages[0].Content)

	_, err = h.svc.Regenerate(context.Background(), 12345, "")
	require.ErrorIs(t, err, ErrMessageNotFound)
}

func TestEditUserMessage_Truncates(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.fake.script(reply("a1"), reply("a2"), reply("a1 edited"))

	first, err := h.svc.SendMessage(context.Background(), 0, "q1", SendOptions{})
	require.NoError(t, err)
	_, err = h.svc.SendMessage(context.Background(), first.ChatID, "q2", SendOptions{})
	require.NoError(t, err)
	require.Len(t, h.messages(t, first.ChatID), 4)

	out, err := h.svc.EditUserMessage(context.Background(), first.UserMessageID, "q1 again", "")
	require.NoError(t, err)
	assert.Equal(t, first.UserMessageID, out.UserMessageID)

	msgs := h.messages(t, first.ChatID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "q1 again", msgs[0].Base().Content)
	assert.Equal(t, "a1 edited", msgs[1].Base().Content)

	reqs := h.fake.streamRequests()
	require.Len(t, reqs, 3)
	require.Len(t, reqs[2].Messages, 1)
	assert.Equal(t, "q1 again", reqs[2].Messages[0].Content)

	_, err = h.svc.EditUserMessage(context.Background(), out.ModelMessageID, "x", "")
	require.ErrorIs(t, err, ErrNotUserMessage)
}

func TestContinueModelMessage_Appends(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.fake.script(reply("The answer"), reply(" is 42."))

	out, err := h.svc.SendMessage(context.Background(), 0, "q", SendOptions{})
	require.NoError(t, err)

	cont, err := h.svc.ContinueModelMessage(context.Background(), out.ModelMessageID, "")
	require.NoError(t, err)
	assert.Equal(t, out.ModelMessageID, cont.ModelMessageID)

	mm := h.modelMessage(t, out.ModelMessageID)
	assert.Equal(t, "The answer is 42.", mm.Content)
	assert.Equal(t, model.StatusFinished, mm.Status)

	// The partial reply is part of the history sent for the continuation.
	reqs := h.fake.streamRequests()
	require.Len(t, reqs, 2)
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Equal(t, "assistant", last.Role)
	assert.Equal(t, "The answer", last.Content)
}

func TestEditModelMessage_ReplacesThenContinues(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.fake.script(reply("wrong"), reply(" right"))

	out, err := h.svc.SendMessage(context.Background(), 0, "q", SendOptions{})
	require.NoError(t, err)

	_, err = h.svc.EditModelMessage(context.Background(), out.ModelMessageID, "Actually,", "")
	require.NoError(t, err)
	assert.Equal(t, "Actually, right", h.modelMessage(t, out.ModelMessageID).Content)

	_, err = h.svc.ContinueModelMessage(context.Background(), out.UserMessageID, "")
	require.ErrorIs(t, err, ErrNotModelMessage)
}

// =============================================================================
// BUSY CHATS
// =============================================================================

func TestSendMessage_ChatBusy(t *testing.T) {
	h := newHarness(t, Options{SaveInterval: 1}, nil)
	h.fake.hold = true
	h.fake.script([]string{delta("working")})

	c := model.NewChat(time.Now())
	require.NoError(t, h.store.CreateChat(context.Background(), c))

	var busyErr error
	h.view.onUpdate = func(m model.Message) {
		mm, ok := m.(*model.ModelMessage)
		if !ok || mm.Content != "working" || busyErr != nil {
			return
		}
		_, busyErr = h.svc.SendMessage(context.Background(), c.ID, "again", SendOptions{})
		h.svc.StopAll()
	}

	_, err := h.svc.SendMessage(context.Background(), c.ID, "first", SendOptions{})
	require.NoError(t, err)
	require.ErrorIs(t, busyErr, ErrChatBusy)
}

// =============================================================================
// RECOVERY
// =============================================================================

func TestRecoverInterrupted(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	ctx := context.Background()

	c := model.NewChat(time.Now())
	require.NoError(t, h.store.CreateChat(ctx, c))
	add := func(status model.Status, content string) int64 {
		m := &model.ModelMessage{MessageBase: model.MessageBase{ChatID: c.ID, Content: content, CreatedAt: time.Now()}, Model: "m", Status: status}
		require.NoError(t, h.store.AddMessage(ctx, m))
		return m.ID
	}
	done := add(model.StatusFinished, "complete")
	stuck := add(model.StatusGenerating, "half an ans")
	waiting := add(model.StatusWaiting, "")

	n, err := h.svc.RecoverInterrupted(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, model.StatusFinished, h.modelMessage(t, done).Status)
	assert.Equal(t, model.StatusCancelled, h.modelMessage(t, waiting).Status)
	mm := h.modelMessage(t, stuck)
	assert.Equal(t, model.StatusCancelled, mm.Status)
	assert.Equal(t, "half an ans", mm.Content)

	n, err = h.svc.RecoverInterrupted(ctx, c.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecoverInterrupted_SkipsRunningGeneration(t *testing.T) {
	h := newHarness(t, Options{SaveInterval: 1}, nil)
	h.fake.hold = true
	h.fake.script([]string{delta("busy")})

	c := model.NewChat(time.Now())
	require.NoError(t, h.store.CreateChat(context.Background(), c))

	recovered := -1
	h.view.onUpdate = func(m model.Message) {
		mm, ok := m.(*model.ModelMessage)
		if !ok || mm.Content != "busy" || recovered >= 0 {
			return
		}
		var err error
		recovered, err = h.svc.RecoverInterrupted(context.Background(), c.ID)
		assert.NoError(t, err)
		h.svc.StopAll()
	}

	out, err := h.svc.SendMessage(context.Background(), c.ID, "hi", SendOptions{})
	require.NoError(t, err)
	assert.Zero(t, recovered)
	assert.Equal(t, model.StatusCancelled, out.Status)
}
