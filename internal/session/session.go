// Package session wires one live connection to the orchestration service: it
// hydrates the ledger, fetches full state, subscribes to push events and keeps
// the entity store, transcripts and ledger in step with them.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ankittk/agentdeck/internal/coordinator"
	"github.com/ankittk/agentdeck/internal/entity"
	"github.com/ankittk/agentdeck/internal/ledger"
	"github.com/ankittk/agentdeck/internal/normalize"
	"github.com/ankittk/agentdeck/internal/notice"
	"github.com/ankittk/agentdeck/internal/otel"
	"github.com/ankittk/agentdeck/internal/transcript"
	"github.com/ankittk/agentdeck/internal/transport"
	"github.com/ankittk/agentdeck/pkg/models"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session closed")

// API is the REST surface a session uses. *client.Client implements it.
type API interface {
	coordinator.API
	ListAgents(ctx context.Context) ([]models.WireAgent, error)
	ListProjects(ctx context.Context) ([]models.WireProject, error)
	ListTasks(ctx context.Context) ([]models.WireTask, error)
	GetTask(ctx context.Context, id string) (models.WireTask, error)
	ChatHistory(ctx context.Context, agentID string) ([]models.WireHistoryEntry, error)
}

// Stream delivers push events. *transport.Client implements it.
type Stream interface {
	Run(ctx context.Context) error
	OnEvent(func(transport.Event))
	OnStateChange(func(transport.ConnectionState))
}

// Options configures a Session.
type Options struct {
	API    API
	Stream Stream // nil runs without push events
	Slot   ledger.Persister

	LedgerCapacity int
	RequestTimeout time.Duration
	NoticeTTL      time.Duration
	Forwarder      notice.Forwarder
	Logger         *slog.Logger
}

// Session is the constructed context every view reads from.
type Session struct {
	api     API
	stream  Stream
	timeout time.Duration
	log     *slog.Logger

	ledger  *ledger.Ledger
	store   *entity.Store
	book    *transcript.Book
	notices *notice.Board
	coord   *coordinator.Coordinator

	handlers map[string]handler

	mu        sync.Mutex
	state     transport.ConnectionState
	connected bool // a connection was established at least once
	closed    bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New builds the session's components. Nothing is fetched until Start.
func New(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = models.DefaultRequestTimeout
	}
	led := ledger.New(ledger.Options{Capacity: opts.LedgerCapacity, Slot: opts.Slot, Logger: opts.Logger})
	store := entity.New(entity.Options{Sink: led, Logger: opts.Logger})
	book := transcript.NewBook()
	notices := notice.New(notice.Options{TTL: opts.NoticeTTL, Forwarder: opts.Forwarder, Logger: opts.Logger})
	s := &Session{
		api:     opts.API,
		stream:  opts.Stream,
		timeout: opts.RequestTimeout,
		log:     opts.Logger,
		ledger:  led,
		store:   store,
		book:    book,
		notices: notices,
		coord: coordinator.New(coordinator.Options{
			API:     opts.API,
			Store:   store,
			Book:    book,
			Sink:    led,
			Notices: notices,
			Timeout: opts.RequestTimeout,
			Logger:  opts.Logger,
		}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.handlers = s.dispatchTable()
	return s
}

// Ledger returns the activity feed.
func (s *Session) Ledger() *ledger.Ledger { return s.ledger }

// Store returns the agents, projects and tasks. Task writes from outside the
// session should go through Coordinator so in-flight proposals are respected.
func (s *Session) Store() *entity.Store { return s.store }

// Book returns the per-agent chat transcripts.
func (s *Session) Book() *transcript.Book { return s.book }

// Notices returns the user-visible notice board.
func (s *Session) Notices() *notice.Board { return s.notices }

// Coordinator returns the optimistic mutation coordinator.
func (s *Session) Coordinator() *coordinator.Coordinator { return s.coord }

// State returns the push connection state.
func (s *Session) State() transport.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start hydrates the ledger, fetches full state and starts the event stream.
// A failed initial fetch is returned but the stream still starts, so the
// session recovers on the next connect.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	if err := s.ledger.Hydrate(ctx); err != nil {
		s.log.Warn("ledger hydrate failed", "err", err)
	}
	fetchErr := s.Refresh(ctx)
	if s.stream != nil {
		s.stream.OnEvent(s.Handle)
		s.stream.OnStateChange(s.onState)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_ = s.stream.Run(s.ctx)
		}()
	}
	return fetchErr
}

// Refresh fetches agents, projects and tasks and replaces the store contents.
func (s *Session) Refresh(ctx context.Context) error {
	if s.api == nil {
		return errors.New("session has no API client")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		wg               sync.WaitGroup
		wAgents          []models.WireAgent
		wProjects        []models.WireProject
		wTasks           []models.WireTask
		errA, errP, errT error
	)
	wg.Add(3)
	go func() { defer wg.Done(); wAgents, errA = s.api.ListAgents(ctx) }()
	go func() { defer wg.Done(); wProjects, errP = s.api.ListProjects(ctx) }()
	go func() { defer wg.Done(); wTasks, errT = s.api.ListTasks(ctx) }()
	wg.Wait()
	if err := errors.Join(errA, errP, errT); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	agents, aErrs := normalize.Agents(wAgents)
	projects, pErrs := normalize.Projects(wProjects)
	tasks, tErrs := normalize.Tasks(wTasks)
	for _, err := range aErrs {
		s.dropped(ctx, entity.KindAgent, err)
	}
	for _, err := range pErrs {
		s.dropped(ctx, entity.KindProject, err)
	}
	for _, err := range tErrs {
		s.dropped(ctx, entity.KindTask, err)
	}
	for _, err := range s.coord.ResetStore(agents, projects, tasks) {
		s.log.Warn("store rejected entity", "err", err)
	}
	s.log.Info("session refreshed", "agents", len(agents), "projects", len(projects), "tasks", len(tasks))
	return nil
}

// LoadHistory replaces one agent's transcript with the stored conversation.
func (s *Session) LoadHistory(ctx context.Context, agentID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	rows, err := s.api.ChatHistory(ctx, agentID)
	if err != nil {
		return fmt.Errorf("chat history %s: %w", agentID, err)
	}
	msgs := make([]models.ChatMessage, 0, len(rows))
	for _, r := range rows {
		m, err := normalize.HistoryEntry(agentID, r)
		if err != nil {
			s.dropped(ctx, "history", err)
			continue
		}
		msgs = append(msgs, m)
	}
	s.book.For(agentID).ReplaceHistory(msgs)
	return nil
}

// Close stops the stream, drops pending reconciliations and waits for the
// dispatcher. The ledger needs no flush; it persists on every write.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
	s.coord.Close()
	s.notices.Close()
	return nil
}

func (s *Session) onState(st transport.ConnectionState) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	reconnect := st == transport.StateConnected && s.connected
	if st == transport.StateConnected {
		s.connected = true
	}
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.log.Info("event stream state", "from", prev.String(), "to", st.String())
	switch {
	case st == transport.StateConnected:
		s.notices.Info("Connected")
		if reconnect {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				if err := s.Refresh(s.ctx); err != nil {
					s.log.Warn("refresh after reconnect failed", "err", err)
				}
			}()
		}
	case st == transport.StateReconnecting && prev == transport.StateConnected:
		s.notices.Error("Connection lost - reconnecting")
	}
}

// Handle dispatches one push event. A handler panic or error never escapes.
func (s *Session) Handle(ev transport.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("event handler panicked", "event", ev.Name, "panic", r)
		}
	}()
	h, ok := s.handlers[ev.Name]
	if !ok {
		s.log.Debug("unhandled event", "event", ev.Name)
		return
	}
	otel.RecordEventIngested(s.ctx, ev.Name)
	if err := h(s.ctx, ev.Payload); err != nil {
		s.dropped(s.ctx, ev.Name, err)
	}
}

func (s *Session) dropped(ctx context.Context, kind string, err error) {
	otel.RecordNormalizeFailure(ctx, kind)
	s.log.Warn("update dropped", "kind", kind, "err", err)
}
