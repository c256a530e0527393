// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/backend"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/storage"
)

// =============================================================================
// FAKE BACKEND
// =============================================================================

// fakeOllama serves /api/show and /api/chat. Streaming requests consume
// scripted turns in order; non-streaming requests answer with title.
type fakeOllama struct {
	mu         sync.Mutex
	caps       []string
	turns      [][]string
	status     int    // non-zero: fail streaming requests with this status
	errBody    string // body for status
	hold       bool   // keep the stream open after the scripted lines
	title      string // raw message content of the title completion
	titleCalls int
	requests   []ollama.ChatRequest // streaming requests received
}

func newFakeOllama() *fakeOllama {
	return &fakeOllama{caps: []string{"completion", "tools"}, title: `{"title":"Friendly Greeting"}`}
}

func (f *fakeOllama) script(turns ...[]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, turns...)
}

func (f *fakeOllama) streamRequests() []ollama.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ollama.ChatRequest(nil), f.requests...)
}

func (f *fakeOllama) titleRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.titleCalls
}

func (f *fakeOllama) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/show":
		f.mu.Lock()
		caps := f.caps
		f.mu.Unlock()
		json.NewEncoder(w).Encode(ollama.ShowModelResponse{Capabilities: caps})
	case "/api/chat":
		var req ollama.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Stream {
			f.serveStream(w, r, req)
		} else {
			f.serveTitle(w, req)
		}
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeOllama) serveStream(w http.ResponseWriter, r *http.Request, req ollama.ChatRequest) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	status, errBody, hold := f.status, f.errBody, f.hold
	var lines []string
	if len(f.turns) > 0 {
		lines, f.turns = f.turns[0], f.turns[1:]
	}
	f.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		fmt.Fprint(w, errBody)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	for _, l := range lines {
		fmt.Fprintln(w, l)
		w.(http.Flusher).Flush()
	}
	if hold {
		<-r.Context().Done()
	}
}

func (f *fakeOllama) serveTitle(w http.ResponseWriter, req ollama.ChatRequest) {
	f.mu.Lock()
	f.titleCalls++
	content := f.title
	f.mu.Unlock()

	json.NewEncoder(w).Encode(ollama.ChatResponse{
		Model:   req.Model,
		Message: ollama.Message{Role: "assistant", Content: content},
		Done:    true,
	})
}

func delta(content string) string {
	return fmt.Sprintf(`{"model":"m","message":{"role":"assistant","content":%q},"done":false}`, content)
}

func thinkDelta(thinking string) string {
	return fmt.Sprintf(`{"model":"m","message":{"role":"assistant","content":"","thinking":%q},"done":false}`, thinking)
}

func terminal() string {
	return `{"model":"m","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":12,"eval_count":5,"eval_duration":1000000000}`
}

func terminalWithTools(calls ...ollama.ToolCall) string {
	b, _ := json.Marshal(ollama.ChatResponse{
		Model:   "m",
		Message: ollama.Message{Role: "assistant", ToolCalls: calls},
		Done:    true,
	})
	return string(b)
}

func reply(deltas ...string) []string {
	lines := make([]string, 0, len(deltas)+1)
	for _, d := range deltas {
		lines = append(lines, delta(d))
	}
	return append(lines, terminal())
}

// =============================================================================
// RECORDING PRESENTER
// =============================================================================

type recorder struct {
	mu       sync.Mutex
	updates  []model.Message
	errors   []ollama.ErrorKind
	titles   map[int64]string
	onUpdate func(model.Message)
}

func (r *recorder) MessageUpdated(m model.Message) {
	r.mu.Lock()
	r.updates = append(r.updates, m)
	fn := r.onUpdate
	r.mu.Unlock()
	if fn != nil {
		fn(m)
	}
}

func (r *recorder) ShowError(kind ollama.ErrorKind, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, kind)
}

func (r *recorder) SetTitle(chatID int64, title string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.titles == nil {
		r.titles = make(map[int64]string)
	}
	r.titles[chatID] = title
}

// statuses returns the distinct consecutive statuses seen for a model message.
func (r *recorder) statuses(id int64) []model.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Status
	for _, m := range r.updates {
		mm, ok := m.(*model.ModelMessage)
		if !ok || mm.ID != id {
			continue
		}
		if len(out) == 0 || out[len(out)-1] != mm.Status {
			out = append(out, mm.Status)
		}
	}
	return out
}

// =============================================================================
// HARNESS
// =============================================================================

type harness struct {
	svc   *Service
	store *storage.Store
	fake  *fakeOllama
	view  *recorder
}

func newHarness(t *testing.T, opts Options, handler ToolHandler) *harness {
	t.Helper()

	store, err := storage.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	fake := newFakeOllama()
	ts := httptest.NewServer(fake)
	t.Cleanup(ts.Close)

	b := backend.NewLocal(ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: ts.URL, Timeout: 5 * time.Second}), "")
	view := &recorder{}

	if opts.DefaultModel == "" {
		opts.DefaultModel = "m"
	}
	svc := NewService(Deps{
		Store:     store,
		Backend:   b,
		Tools:     handler,
		Presenter: view,
		Log:       zerolog.Nop(),
	}, opts)

	return &harness{svc: svc, store: store, fake: fake, view: view}
}

func (h *harness) messages(t *testing.T, chatID int64) []model.Message {
	t.Helper()
	msgs, err := h.store.MessagesByChat(context.Background(), chatID)
	require.NoError(t, err)
	return msgs
}

func (h *harness) modelMessage(t *testing.T, id int64) *model.ModelMessage {
	t.Helper()
	m, err := h.store.Message(context.Background(), id)
	require.NoError(t, err)
	mm, ok := m.(*model.ModelMessage)
	require.True(t, ok, "message %d is %T", id, m)
	return mm
}
