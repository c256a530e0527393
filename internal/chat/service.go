// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat turns user actions into model responses.
//
// A Service sends a chat's history to a backend, reconciles the streamed
// reply into the persisted model message, runs tool calls the model asks
// for, and names new chats. Generations in different chats run
// independently; one chat has at most one generation in flight.
package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/rigchat/internal/backend"
	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/generation"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/ollama"
	"github.com/jeranaias/rigchat/internal/storage"
	"github.com/jeranaias/rigchat/internal/tools"
)

var (
	ErrNoModel         = errors.New("no model selected")
	ErrNoChat          = errors.New("chat not found")
	ErrNotUserMessage  = errors.New("message is not a user message")
	ErrNotModelMessage = errors.New("message is not a model message")
	ErrToolRounds      = errors.New("tool call rounds exhausted")
	ErrChatBusy        = errors.New("chat already has a response in progress")
	ErrMessageNotFound = errors.New("message not found")
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Store is the subset of *storage.Store the service needs.
type Store interface {
	CreateChat(ctx context.Context, c *model.Chat) error
	Chat(ctx context.Context, id int64) (*model.Chat, error)
	UpdateChat(ctx context.Context, id int64, p storage.ChatPatch) error

	AddMessage(ctx context.Context, m model.Message) error
	Message(ctx context.Context, id int64) (model.Message, error)
	MessagesByChat(ctx context.Context, chatID int64) ([]model.Message, error)
	UpdateMessage(ctx context.Context, id int64, p storage.MessagePatch) (model.Message, error)
	DeleteMessagesFrom(ctx context.Context, chatID, fromID int64) ([]int64, error)

	AddAttachment(ctx context.Context, a *model.Attachment) error
	Attachment(ctx context.Context, id int64) (*model.Attachment, error)

	Subscribe(c storage.Collection, fn func(storage.Change)) func()
}

var _ Store = (*storage.Store)(nil)

// ToolHandler executes tool calls. Responses come back in call order.
type ToolHandler interface {
	Definitions() []ollama.Tool
	HandleToolCalls(ctx context.Context, calls []ollama.ToolCall) []tools.Response
}

var _ ToolHandler = (*tools.Executor)(nil)

// Presenter receives what the user should see. Methods are called from
// the generating goroutine and should return quickly.
type Presenter interface {
	// MessageUpdated is called after every persisted change to a message
	// the service is working on.
	MessageUpdated(m model.Message)

	// ShowError reports a failed generation.
	ShowError(kind ollama.ErrorKind, text string)

	// SetTitle is called when a chat gets a generated title.
	SetTitle(chatID int64, title string)
}

// NopPresenter ignores everything.
type NopPresenter struct{}

func (NopPresenter) MessageUpdated(model.Message)       {}
func (NopPresenter) ShowError(ollama.ErrorKind, string) {}
func (NopPresenter) SetTitle(int64, string)             {}

// =============================================================================
// OPTIONS
// =============================================================================

// Options tune generation. They can be replaced between turns.
type Options struct {
	DefaultModel  string
	SaveInterval  int // chunks between snapshots
	Think         bool
	ToolsEnabled  bool
	MaxToolRounds int
	DefaultTitle  string
	TitleModel    string
	SystemPrompt  string
}

// OptionsFromConfig extracts the chat options from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		DefaultModel:  cfg.DefaultModel,
		SaveInterval:  cfg.Chat.SaveInterval,
		Think:         cfg.Chat.Think,
		ToolsEnabled:  cfg.Chat.ToolsEnabled,
		MaxToolRounds: cfg.Chat.MaxToolRounds,
		DefaultTitle:  cfg.Chat.DefaultTitle,
		TitleModel:    cfg.Chat.TitleModel,
		SystemPrompt:  cfg.Chat.SystemPrompt,
	}
}

func (o Options) normalized() Options {
	if o.SaveInterval <= 0 {
		o.SaveInterval = 10
	}
	if o.DefaultTitle == "" {
		o.DefaultTitle = model.DefaultTitle
	}
	if o.MaxToolRounds < 0 {
		o.MaxToolRounds = 0
	}
	return o
}

// Deps are the service's collaborators. Store and Backend are required.
type Deps struct {
	Store        Store
	Backend      backend.Backend
	Capabilities *backend.CapabilityCache
	Tools        ToolHandler
	Registry     *generation.Registry
	Titles       *generation.TitleSet
	Presenter    Presenter
	Projection   *Projection
	Log          zerolog.Logger
	Now          func() time.Time
}

// =============================================================================
// SERVICE
// =============================================================================

// Service runs chat generations.
type Service struct {
	store      Store
	backend    backend.Backend
	caps       *backend.CapabilityCache
	tools      ToolHandler
	registry   *generation.Registry
	titles     *generation.TitleSet
	presenter  Presenter
	projection *Projection
	log        zerolog.Logger
	now        func() time.Time

	mu     sync.Mutex
	opts   Options
	chains map[int64]context.CancelFunc // by chat id, while an operation holds the chat
	owners map[int64]int64              // model message id -> chat id
}

// NewService wires a service. Missing optional collaborators get defaults.
func NewService(d Deps, opts Options) *Service {
	s := &Service{
		store:      d.Store,
		backend:    d.Backend,
		caps:       d.Capabilities,
		tools:      d.Tools,
		registry:   d.Registry,
		titles:     d.Titles,
		presenter:  d.Presenter,
		projection: d.Projection,
		log:        d.Log.With().Str("component", "chat").Logger(),
		now:        d.Now,
		opts:       opts.normalized(),
		chains:     make(map[int64]context.CancelFunc),
		owners:     make(map[int64]int64),
	}
	if s.caps == nil {
		s.caps = backend.NewCapabilityCache(d.Backend)
	}
	if s.registry == nil {
		s.registry = generation.NewRegistry()
	}
	if s.titles == nil {
		s.titles = generation.NewTitleSet()
	}
	if s.presenter == nil {
		s.presenter = NopPresenter{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Options returns the current options.
func (s *Service) Options() Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts
}

// SetOptions replaces the options; running generations keep the old ones.
func (s *Service) SetOptions(opts Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts = opts.normalized()
}

// SetPresenter replaces the presenter.
func (s *Service) SetPresenter(p Presenter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p == nil {
		p = NopPresenter{}
	}
	s.presenter = p
}

func (s *Service) view() Presenter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presenter
}

// SetProjection attaches the opened chat's projection; nil detaches it.
func (s *Service) SetProjection(p *Projection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projection = p
}

// Registry returns the generation-state registry.
func (s *Service) Registry() *generation.Registry { return s.registry }

// Titles returns the set of chats generating a title.
func (s *Service) Titles() *generation.TitleSet { return s.titles }

// IsGenerating reports the transient state of a model message.
func (s *Service) IsGenerating(messageID int64) generation.State {
	return s.registry.IsGenerating(messageID)
}

// Stop cancels the generation writing to messageID along with the rest
// of its operation: pending tool calls, follow-up turns and the title.
// It reports whether one was running.
func (s *Service) Stop(messageID int64) bool {
	s.mu.Lock()
	var cancel context.CancelFunc
	if chatID, ok := s.owners[messageID]; ok {
		cancel = s.chains[chatID]
	}
	s.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// StopAll cancels every running operation and returns how many there were.
func (s *Service) StopAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cancel := range s.chains {
		cancel()
	}
	return len(s.chains)
}

// =============================================================================
// BOOKKEEPING
// =============================================================================

// acquire claims chatID for one operation. The returned context is
// cancelled by Stop, StopAll or release.
func (s *Service) acquire(ctx context.Context, chatID int64) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chains[chatID]; ok {
		return nil, ErrChatBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	s.chains[chatID] = cancel
	return ctx, nil
}

// holds reports whether an operation of this service owns chatID.
func (s *Service) holds(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.chains[chatID]
	return ok
}

func (s *Service) release(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.chains[chatID]; ok {
		cancel()
		delete(s.chains, chatID)
	}
}

func (s *Service) track(messageID, chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[messageID] = chatID
}

func (s *Service) untrack(messageID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.owners, messageID)
}

// publish pushes a fresh copy of m to the projection and presenter.
func (s *Service) publish(m model.Message) {
	s.mu.Lock()
	proj, p := s.projection, s.presenter
	s.mu.Unlock()
	if proj != nil {
		proj.Apply(m)
	}
	p.MessageUpdated(model.Clone(m))
}

func (s *Service) resolveModel(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if m := s.Options().DefaultModel; m != "" {
		return m, nil
	}
	return "", ErrNoModel
}

func (s *Service) loadChat(ctx context.Context, id int64) (*model.Chat, error) {
	c, err := s.store.Chat(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoChat
	}
	return c, err
}

func (s *Service) loadMessage(ctx context.Context, id int64) (model.Message, error) {
	m, err := s.store.Message(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	return m, err
}

func (s *Service) touchChat(ctx context.Context, chatID int64, at time.Time) error {
	return s.store.UpdateChat(ctx, chatID, storage.ChatPatch{LastMessageAt: &at})
}
