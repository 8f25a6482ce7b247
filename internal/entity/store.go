// Package entity holds the synchronized agents, projects and tasks. Every
// mutation is atomic; views re-read after a Change notification.
package entity

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ankittk/agentdeck/pkg/models"
)

var (
	// ErrInvalid is returned when an entity is missing its id or carries a non-canonical value.
	ErrInvalid = errors.New("invalid entity")
	// ErrTooDeep is returned for a subtask whose parent is itself a subtask.
	ErrTooDeep = errors.New("subtasks cannot have subtasks")
)

// EventSink receives the narration derived from a mutation. *ledger.Ledger implements it.
type EventSink interface {
	Append(models.ActivityEvent)
}

// Entity kinds carried in Change.
const (
	KindTask    = "task"
	KindAgent   = "agent"
	KindProject = "project"
	KindAll     = "all"
)

// Change operations.
const (
	OpUpsert = "upsert"
	OpPatch  = "patch"
	OpRemove = "remove"
	OpReset  = "reset"
)

// Change tells subscribers which entity changed.
type Change struct {
	Kind string `json:"kind"`
	Op   string `json:"op"`
	ID   string `json:"id,omitempty"`
}

// Options configures a Store.
type Options struct {
	Sink   EventSink
	Logger *slog.Logger
}

// Store is the in-memory entity set. Collections are ordered newest first.
type Store struct {
	mu       sync.RWMutex
	agents   []models.Agent
	projects []models.Project
	tasks    []models.Task
	sink     EventSink
	log      *slog.Logger

	subMu sync.Mutex
	subs  map[chan Change]struct{}
}

// New returns an empty Store.
func New(opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{sink: opts.Sink, log: opts.Logger, subs: make(map[chan Change]struct{})}
}

// MutationOption tunes a single mutation.
type MutationOption func(*mutation)

type mutation struct{ silent bool }

// Silent suppresses the derived narration, for optimistic writes and reverts.
func Silent() MutationOption { return func(m *mutation) { m.silent = true } }

func applyOpts(opts []MutationOption) mutation {
	var m mutation
	for _, o := range opts {
		o(&m)
	}
	return m
}

// ValidateTask rejects tasks the board cannot place.
func ValidateTask(t models.Task) error {
	if t.ID == "" {
		return fmt.Errorf("task: missing id: %w", ErrInvalid)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("task %s: status %q: %w", t.ID, t.Status, ErrInvalid)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("task %s: priority %q: %w", t.ID, t.Priority, ErrInvalid)
	}
	return nil
}

// ValidateAgent rejects agents without id or with a non-canonical status.
func ValidateAgent(a models.Agent) error {
	if a.ID == "" {
		return fmt.Errorf("agent: missing id: %w", ErrInvalid)
	}
	if !a.Status.Valid() {
		return fmt.Errorf("agent %s: status %q: %w", a.ID, a.Status, ErrInvalid)
	}
	return nil
}

// UpsertTask replaces the task with the same id, or inserts it at the front.
func (s *Store) UpsertTask(t models.Task, opts ...MutationOption) error {
	if err := ValidateTask(t); err != nil {
		return err
	}
	m := applyOpts(opts)
	t = t.Clone()
	s.mu.Lock()
	if !t.IsRoot() {
		if i := s.taskIndex(*t.ParentTaskID); i >= 0 && s.tasks[i].IsSubtask() {
			s.mu.Unlock()
			return fmt.Errorf("task %s under %s: %w", t.ID, *t.ParentTaskID, ErrTooDeep)
		}
	}
	created := false
	if i := s.taskIndex(t.ID); i >= 0 {
		s.tasks[i] = t
	} else {
		s.tasks = append([]models.Task{t}, s.tasks...)
		created = true
	}
	s.mu.Unlock()

	if created && !m.silent {
		s.narrate(models.ActivityTask, nil, "", "New task created: "+t.Title)
	}
	s.publish(Change{Kind: KindTask, Op: OpUpsert, ID: t.ID})
	return nil
}

// PatchTask merges p into the task with id. It reports false when the task is
// unknown or p carries a non-canonical status or priority.
func (s *Store) PatchTask(id string, p models.TaskPatch, opts ...MutationOption) bool {
	if (p.Status != nil && !p.Status.Valid()) || (p.Priority != nil && !p.Priority.Valid()) {
		s.log.Debug("rejected task patch", "task_id", id, "err", ErrInvalid)
		return false
	}
	m := applyOpts(opts)
	s.mu.Lock()
	i := s.taskIndex(id)
	if i < 0 {
		s.mu.Unlock()
		s.log.Debug("patch for unknown task", "task_id", id)
		return false
	}
	before := s.tasks[i].Status
	t := s.tasks[i].Clone()
	p.Apply(&t)
	s.tasks[i] = t
	s.mu.Unlock()

	if p.Status != nil && *p.Status != before && !m.silent {
		s.narrate(models.ActivityTask, nil, "", "Task status updated: "+string(*p.Status))
	}
	s.publish(Change{Kind: KindTask, Op: OpPatch, ID: id})
	return true
}

// RemoveTask deletes the task with id and reports whether it existed.
func (s *Store) RemoveTask(id string) bool {
	s.mu.Lock()
	i := s.taskIndex(id)
	if i < 0 {
		s.mu.Unlock()
		s.log.Debug("delete for unknown task", "task_id", id)
		return false
	}
	s.tasks = append(s.tasks[:i:i], s.tasks[i+1:]...)
	s.mu.Unlock()
	s.publish(Change{Kind: KindTask, Op: OpRemove, ID: id})
	return true
}

// UpsertAgent replaces the agent with the same id, or inserts it at the front.
func (s *Store) UpsertAgent(a models.Agent, opts ...MutationOption) error {
	if err := ValidateAgent(a); err != nil {
		return err
	}
	m := applyOpts(opts)
	a.Capabilities = append([]string(nil), a.Capabilities...)
	s.mu.Lock()
	created := false
	if i := s.agentIndex(a.ID); i >= 0 {
		s.agents[i] = a
	} else {
		s.agents = append([]models.Agent{a}, s.agents...)
		created = true
	}
	s.mu.Unlock()

	if created && !m.silent {
		id := a.ID
		s.narrate(models.ActivitySystem, &id, a.Name, "New agent registered: "+a.Name)
	}
	s.publish(Change{Kind: KindAgent, Op: OpUpsert, ID: a.ID})
	return nil
}

// PatchAgent merges p into the agent with id. It reports false when the agent is unknown.
func (s *Store) PatchAgent(id string, p models.AgentPatch, opts ...MutationOption) bool {
	m := applyOpts(opts)
	s.mu.Lock()
	i := s.agentIndex(id)
	if i < 0 {
		s.mu.Unlock()
		s.log.Debug("patch for unknown agent", "agent_id", id)
		return false
	}
	a := s.agents[i]
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.Name != nil {
		a.Name = *p.Name
	}
	if p.Load != nil {
		a.Load = *p.Load
	}
	s.agents[i] = a
	s.mu.Unlock()

	if p.Status != nil && !m.silent {
		aid := id
		s.narrate(models.ActivityStatus, &aid, a.Name, "Status changed to "+string(*p.Status))
	}
	s.publish(Change{Kind: KindAgent, Op: OpPatch, ID: id})
	return true
}

// UpsertProject replaces the project with the same id, or inserts it at the front.
func (s *Store) UpsertProject(p models.Project, opts ...MutationOption) error {
	if p.ID == "" {
		return fmt.Errorf("project: missing id: %w", ErrInvalid)
	}
	m := applyOpts(opts)
	s.mu.Lock()
	created := false
	if i := s.projectIndex(p.ID); i >= 0 {
		s.projects[i] = p
	} else {
		s.projects = append([]models.Project{p}, s.projects...)
		created = true
	}
	s.mu.Unlock()

	if created && !m.silent {
		s.narrate(models.ActivitySystem, nil, "", "Project created: "+p.Name)
	}
	s.publish(Change{Kind: KindProject, Op: OpUpsert, ID: p.ID})
	return nil
}

// PatchProject merges p into the project with id. It reports false when the project is unknown.
func (s *Store) PatchProject(id string, p models.ProjectPatch) bool {
	s.mu.Lock()
	i := s.projectIndex(id)
	if i < 0 {
		s.mu.Unlock()
		s.log.Debug("patch for unknown project", "project_id", id)
		return false
	}
	pr := s.projects[i]
	if p.Name != nil {
		pr.Name = *p.Name
	}
	if p.Description != nil {
		pr.Description = *p.Description
	}
	if p.Status != nil {
		pr.Status = *p.Status
	}
	if p.BusinessModel != nil {
		pr.BusinessModel = *p.BusinessModel
	}
	if p.Analysis != nil {
		pr.Analysis = *p.Analysis
	}
	s.projects[i] = pr
	s.mu.Unlock()
	s.publish(Change{Kind: KindProject, Op: OpPatch, ID: id})
	return true
}

// RemoveProject deletes the project with id and reports whether it existed.
func (s *Store) RemoveProject(id string) bool {
	s.mu.Lock()
	i := s.projectIndex(id)
	if i < 0 {
		s.mu.Unlock()
		s.log.Debug("delete for unknown project", "project_id", id)
		return false
	}
	name := s.projects[i].Name
	s.projects = append(s.projects[:i:i], s.projects[i+1:]...)
	s.mu.Unlock()
	s.narrate(models.ActivitySystem, nil, "", "Project deleted: "+name)
	s.publish(Change{Kind: KindProject, Op: OpRemove, ID: id})
	return true
}

// Reset replaces every collection, e.g. after a reconnect refetch. Invalid
// entities are skipped and returned as errors. No narration is derived.
func (s *Store) Reset(agents []models.Agent, projects []models.Project, tasks []models.Task) []error {
	var errs []error
	as := make([]models.Agent, 0, len(agents))
	for _, a := range agents {
		if err := ValidateAgent(a); err != nil {
			errs = append(errs, err)
			continue
		}
		as = append(as, a)
	}
	ts := make([]models.Task, 0, len(tasks))
	for _, t := range tasks {
		if err := ValidateTask(t); err != nil {
			errs = append(errs, err)
			continue
		}
		ts = append(ts, t.Clone())
	}
	ps := make([]models.Project, 0, len(projects))
	for _, p := range projects {
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("project: missing id: %w", ErrInvalid))
			continue
		}
		ps = append(ps, p)
	}
	s.mu.Lock()
	s.agents, s.projects, s.tasks = as, ps, ts
	s.mu.Unlock()
	s.publish(Change{Kind: KindAll, Op: OpReset})
	return errs
}

// ResetAgents replaces only the roster (agents:initial).
func (s *Store) ResetAgents(agents []models.Agent) []error {
	var errs []error
	as := make([]models.Agent, 0, len(agents))
	for _, a := range agents {
		if err := ValidateAgent(a); err != nil {
			errs = append(errs, err)
			continue
		}
		as = append(as, a)
	}
	s.mu.Lock()
	s.agents = as
	s.mu.Unlock()
	s.publish(Change{Kind: KindAgent, Op: OpReset})
	return errs
}

func (s *Store) narrate(t models.ActivityType, agentID *string, agentName, msg string) {
	if s.sink == nil {
		return
	}
	s.sink.Append(models.ActivityEvent{Type: t, AgentID: agentID, AgentName: agentName, Message: msg})
}

// Subscribe returns a channel of changes and a cancel func. Slow subscribers
// miss changes rather than block writers; they should re-read on any change.
func (s *Store) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, models.DefaultChangeBuffer)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, ch)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) publish(c Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

func (s *Store) taskIndex(id string) int {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) agentIndex(id string) int {
	for i := range s.agents {
		if s.agents[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) projectIndex(id string) int {
	for i := range s.projects {
		if s.projects[i].ID == id {
			return i
		}
	}
	return -1
}
