// Package coordinator applies operator changes optimistically, sends them to the
// orchestration service and reconciles the outcome.
//
// Requests are serialized per (entity, field) key. A later proposal for a busy
// key is committed to the store at once and its request is queued behind the
// earlier one. The key keeps a baseline, the last server-confirmed value; when
// its queue drains the store receives the baseline, so a failed request reverts
// to what the server last agreed to and a successful one leaves the server's
// value in place.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ankittk/agentdeck/internal/entity"
	"github.com/ankittk/agentdeck/internal/normalize"
	"github.com/ankittk/agentdeck/internal/otel"
	"github.com/ankittk/agentdeck/internal/transcript"
	"github.com/ankittk/agentdeck/pkg/models"
)

var (
	// ErrInvalidProposal is returned synchronously; nothing was changed.
	ErrInvalidProposal = errors.New("invalid proposal")
	// ErrClosed is returned for proposals made or settled after Close.
	ErrClosed = errors.New("coordinator closed")
)

// Outcome is how a proposal settled.
type Outcome string

const (
	// Confirmed: the server accepted the proposed value.
	Confirmed Outcome = "confirmed"
	// Overridden: the server answered with a different value, which was kept.
	Overridden Outcome = "overridden"
	// Reverted: the request failed and the optimistic change was undone.
	Reverted Outcome = "reverted"
)

func (o Outcome) rank() int {
	switch o {
	case Overridden:
		return 1
	case Reverted:
		return 2
	}
	return 0
}

// Proposal kinds, used for metrics and logs.
const (
	KindTaskStatus       = "task_status"
	KindTaskPatch        = "task_patch"
	KindSubtaskToggle    = "subtask_toggle"
	KindChatReply        = "chat_reply"
	KindSelectionConfirm = "selection_confirm"
)

// API is the slice of the REST client the coordinator needs. *client.Client implements it.
type API interface {
	UpdateTask(ctx context.Context, id string, body models.WireTaskUpdate) (models.WireTask, error)
	ToggleSubtask(ctx context.Context, taskID, subtaskID string, completed bool) error
	SendChat(ctx context.Context, agentID, message string, taskID *string) error
}

// Notifier surfaces recoverable errors to the operator. *notice.Board implements it.
type Notifier interface {
	Error(msg string) models.Notice
}

// Options configures a Coordinator.
type Options struct {
	API     API
	Store   *entity.Store
	Book    *transcript.Book
	Sink    entity.EventSink
	Notices Notifier
	Timeout time.Duration
	Logger  *slog.Logger
}

// Key identifies one serialized lane.
type Key struct {
	Entity string
	ID     string
	Field  string
}

func (k Key) String() string { return k.Entity + "/" + k.ID + "/" + k.Field }

// TaskKey returns the lane key for one task field.
func TaskKey(taskID, field string) Key {
	return Key{Entity: entity.KindTask, ID: taskID, Field: field}
}

// ChatKey returns the lane key for an agent's outgoing messages.
func ChatKey(agentID string) Key {
	return Key{Entity: entity.KindAgent, ID: agentID, Field: FieldChat}
}

// Proposal is a handle on one operator change.
type Proposal struct {
	ID   string
	Kind string

	start   time.Time
	mu      sync.Mutex
	parts   int
	outcome Outcome
	errs    []error
	done    chan struct{}
}

func newProposal(kind string, parts int) *Proposal {
	p := &Proposal{ID: uuid.NewString(), Kind: kind, start: time.Now(), parts: parts, outcome: Confirmed, done: make(chan struct{})}
	if parts == 0 {
		close(p.done)
	}
	return p
}

// Done is closed once every request of the proposal has settled.
func (p *Proposal) Done() <-chan struct{} { return p.done }

// Result returns the outcome; it is only meaningful after Done.
func (p *Proposal) Result() (Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outcome, errors.Join(p.errs...)
}

// Wait blocks until the proposal settles or ctx ends.
func (p *Proposal) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-p.done:
		return p.Result()
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *Proposal) settle(o Outcome, err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if o.rank() > p.outcome.rank() {
		p.outcome = o
	}
	if err != nil {
		p.errs = append(p.errs, err)
	}
	p.parts--
	if p.parts == 0 {
		close(p.done)
		return true
	}
	return false
}

// job is one queued request. send returns the server's value for task lanes.
type job struct {
	p      *Proposal
	intent models.TaskPatch
	send   func(ctx context.Context) (models.TaskPatch, error)
	// after runs outside the lock once the request settled.
	after func(err error)
}

type lane struct {
	key      Key
	task     bool
	baseline models.TaskPatch
	intent   models.TaskPatch
	pending  []*job
}

// Coordinator owns the lanes. Safe for concurrent use.
type Coordinator struct {
	api     API
	store   *entity.Store
	book    *transcript.Book
	sink    entity.EventSink
	notices Notifier
	timeout time.Duration
	log     *slog.Logger

	mu     sync.Mutex
	lanes  map[Key]*lane
	closed bool
	wg     sync.WaitGroup
}

// New returns a Coordinator.
func New(opts Options) *Coordinator {
	if opts.Timeout <= 0 {
		opts.Timeout = models.DefaultRequestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Book == nil {
		opts.Book = transcript.NewBook()
	}
	return &Coordinator{
		api:     opts.API,
		store:   opts.Store,
		book:    opts.Book,
		sink:    opts.Sink,
		notices: opts.Notices,
		timeout: opts.Timeout,
		log:     opts.Logger,
		lanes:   make(map[Key]*lane),
	}
}

// Close drops the results of requests still in flight and waits for them.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.wg.Wait()
}

// Busy reports whether k has a request in flight or queued.
func (c *Coordinator) Busy(k Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.lanes[k]
	return ok
}

// ApplyTask writes an authoritative task snapshot to the store. Busy fields
// take the snapshot as their baseline and keep showing the operator's pending
// intent. The write happens under the lane lock, so a lane that settles
// concurrently always writes after it.
func (c *Coordinator) ApplyTask(t models.Task, opts ...entity.MutationOption) error {
	if c.store == nil {
		return invalid("coordinator has no store")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.UpsertTask(c.intercept(t), opts...)
}

// ApplyTaskPatch is ApplyTask for partial updates. Busy fields are absorbed
// into their lane baseline; the rest is written to the store. It returns the
// part that was written, which is empty when every field was absorbed.
func (c *Coordinator) ApplyTaskPatch(taskID string, p models.TaskPatch, opts ...entity.MutationOption) models.TaskPatch {
	if c.store == nil {
		return models.TaskPatch{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p = c.interceptPatch(taskID, p)
	if !p.Empty() {
		c.store.PatchTask(taskID, p, opts...)
	}
	return p
}

// ResetStore replaces the store contents with a full refetch. Tasks with busy
// lanes are merged as in ApplyTask.
func (c *Coordinator) ResetStore(agents []models.Agent, projects []models.Project, tasks []models.Task) []error {
	if c.store == nil {
		return []error{invalid("coordinator has no store")}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	merged := make([]models.Task, len(tasks))
	for i, t := range tasks {
		merged[i] = c.intercept(t)
	}
	return c.store.Reset(agents, projects, merged)
}

// Callers hold c.mu.
func (c *Coordinator) intercept(t models.Task) models.Task {
	for k, l := range c.lanes {
		if !l.task || k.ID != t.ID {
			continue
		}
		l.baseline = project(t, k.Field)
		l.intent.Apply(&t)
	}
	return t
}

// Callers hold c.mu.
func (c *Coordinator) interceptPatch(taskID string, p models.TaskPatch) models.TaskPatch {
	for _, fp := range split(p) {
		l, ok := c.lanes[TaskKey(taskID, fp.field)]
		if !ok {
			continue
		}
		l.baseline = fp.patch
		strip(&p, fp.field)
	}
	return p
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidProposal, fmt.Sprintf(format, args...))
}

// ProposeTaskStatusChange moves a task to a canonical status.
func (c *Coordinator) ProposeTaskStatusChange(ctx context.Context, taskID, status string) (*Proposal, error) {
	st := models.TaskStatus(status)
	if !st.Valid() {
		return nil, invalid("status %q is not canonical", status)
	}
	return c.proposeTask(ctx, KindTaskStatus, taskID, models.TaskPatch{Status: &st})
}

// ProposeTaskPatch edits one or more task fields. Each field is its own lane.
func (c *Coordinator) ProposeTaskPatch(ctx context.Context, taskID string, p models.TaskPatch) (*Proposal, error) {
	if p.Status != nil && !p.Status.Valid() {
		return nil, invalid("status %q is not canonical", *p.Status)
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return nil, invalid("priority %q", *p.Priority)
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return nil, invalid("empty title")
	}
	if p.Subtasks != nil {
		return nil, invalid("subtasks are changed with ProposeSubtaskToggle")
	}
	return c.proposeTask(ctx, KindTaskPatch, taskID, p)
}

func (c *Coordinator) proposeTask(_ context.Context, kind, taskID string, p models.TaskPatch) (*Proposal, error) {
	if c.api == nil || c.store == nil {
		return nil, invalid("coordinator has no API or store")
	}
	parts := split(p)
	if len(parts) == 0 {
		return nil, invalid("empty patch")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	cur, ok := c.store.Task(taskID)
	if !ok {
		return nil, invalid("unknown task %s", taskID)
	}
	var queued []fieldPatch
	for _, fp := range parts {
		_, busy := c.lanes[TaskKey(taskID, fp.field)]
		if !busy && samePatch(project(cur, fp.field), fp.patch) {
			continue
		}
		queued = append(queued, fp)
	}
	prop := newProposal(kind, len(queued))
	if len(queued) == 0 {
		otel.RecordProposal(context.Background(), kind, string(Confirmed), 0)
		return prop, nil
	}
	var optimistic models.TaskPatch
	for _, fp := range queued {
		applyPatch(&optimistic, fp.patch)
	}
	c.store.PatchTask(taskID, optimistic, entity.Silent())

	title := cur.Title
	for _, fp := range queued {
		fp := fp
		k := TaskKey(taskID, fp.field)
		j := &job{
			p:      prop,
			intent: fp.patch,
			send: func(ctx context.Context) (models.TaskPatch, error) {
				w, err := c.api.UpdateTask(ctx, taskID, normalize.WireUpdate(fp.patch))
				if err != nil {
					return models.TaskPatch{}, err
				}
				return c.serverValue(w, fp)
			},
			after: func(err error) {
				if err == nil {
					return
				}
				c.fail(fmt.Sprintf("Failed to update task %q (%s)", title, fp.field), err)
			},
		}
		c.enqueue(k, true, project(cur, fp.field), j)
	}
	return prop, nil
}

// applyPatch copies the non-nil fields of src into dst.
func applyPatch(dst *models.TaskPatch, src models.TaskPatch) {
	for _, fp := range split(src) {
		switch fp.field {
		case FieldTitle:
			dst.Title = fp.patch.Title
		case FieldDescription:
			dst.Description = fp.patch.Description
		case FieldStatus:
			dst.Status = fp.patch.Status
		case FieldPriority:
			dst.Priority = fp.patch.Priority
		case FieldAgentIDs:
			dst.AgentIDs = fp.patch.AgentIDs
		case FieldDueDate:
			dst.DueDate = fp.patch.DueDate
		case FieldSubtasks:
			dst.Subtasks = fp.patch.Subtasks
		}
	}
}

// serverValue extracts the confirmed field value from a PATCH response. An
// empty or unreadable response confirms the proposed value.
func (c *Coordinator) serverValue(w models.WireTask, fp fieldPatch) (models.TaskPatch, error) {
	if w.ID == "" {
		return fp.patch, nil
	}
	t, err := normalize.Task(w)
	if err != nil {
		otel.RecordNormalizeFailure(context.Background(), entity.KindTask)
		c.log.Warn("unreadable task in update response", "task_id", w.ID, "err", err)
		return fp.patch, nil
	}
	return project(t, fp.field), nil
}

// ProposeSubtaskToggle checks or unchecks one checklist item.
func (c *Coordinator) ProposeSubtaskToggle(ctx context.Context, taskID, subtaskID string, completed bool) (*Proposal, error) {
	if c.api == nil || c.store == nil {
		return nil, invalid("coordinator has no API or store")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	cur, ok := c.store.Task(taskID)
	if !ok {
		return nil, invalid("unknown task %s", taskID)
	}
	k := TaskKey(taskID, FieldSubtasks)
	base := cur.Subtasks
	if l, busy := c.lanes[k]; busy && l.intent.Subtasks != nil {
		base = *l.intent.Subtasks
	}
	next := append([]models.Subtask(nil), base...)
	found := false
	for i := range next {
		if next[i].ID == subtaskID {
			next[i].Completed = completed
			found = true
		}
	}
	if !found {
		return nil, invalid("unknown subtask %s on task %s", subtaskID, taskID)
	}
	intent := models.TaskPatch{Subtasks: &next}
	prop := newProposal(KindSubtaskToggle, 1)
	c.store.PatchTask(taskID, intent, entity.Silent())
	title := cur.Title
	j := &job{
		p:      prop,
		intent: intent,
		send: func(ctx context.Context) (models.TaskPatch, error) {
			if err := c.api.ToggleSubtask(ctx, taskID, subtaskID, completed); err != nil {
				return models.TaskPatch{}, err
			}
			return intent, nil
		},
		after: func(err error) {
			if err != nil {
				c.fail(fmt.Sprintf("Failed to update checklist of %q", title), err)
			}
		},
	}
	c.enqueue(k, true, project(cur, FieldSubtasks), j)
	return prop, nil
}

// ProposeChatReply sends an operator message. The message is shown at once as
// pending; the agent's answer arrives separately as an agent:message push.
func (c *Coordinator) ProposeChatReply(ctx context.Context, agentID, text string, taskID *string) (*Proposal, error) {
	if strings.TrimSpace(text) == "" {
		return nil, invalid("empty message")
	}
	return c.proposeChat(ctx, KindChatReply, agentID, text, taskID, nil)
}

// ProposeSelectionConfirm freezes an interactive selection and sends its
// summary as a reply. A failed send reopens the selection.
func (c *Coordinator) ProposeSelectionConfirm(ctx context.Context, agentID, messageID string) (*Proposal, error) {
	tr, ok := c.book.Lookup(agentID)
	if !ok {
		return nil, invalid("no transcript for agent %s", agentID)
	}
	summary, err := tr.Confirm(messageID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProposal, err)
	}
	msgID := messageID
	prop, err := c.proposeChat(ctx, KindSelectionConfirm, agentID, summary, &msgID, func() { tr.Unconfirm(messageID) })
	if err != nil {
		tr.Unconfirm(messageID)
		return nil, err
	}
	return prop, nil
}

func (c *Coordinator) proposeChat(_ context.Context, kind, agentID, text string, taskID *string, rollback func()) (*Proposal, error) {
	if c.api == nil {
		return nil, invalid("coordinator has no API")
	}
	if agentID == "" {
		return nil, invalid("missing agent id")
	}
	if c.store != nil {
		if _, ok := c.store.Agent(agentID); !ok {
			return nil, invalid("unknown agent %s", agentID)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	tr := c.book.For(agentID)
	msgID, _ := tr.Ingest(models.ChatMessage{
		Sender:  models.SenderUser,
		Content: models.PlainContent(text),
		TaskID:  taskID,
		State:   models.MessagePending,
	})
	prop := newProposal(kind, 1)
	j := &job{
		p: prop,
		send: func(ctx context.Context) (models.TaskPatch, error) {
			return models.TaskPatch{}, c.api.SendChat(ctx, agentID, text, taskID)
		},
		after: func(err error) {
			if err == nil {
				tr.SetState(msgID, models.MessageSent)
				tr.SetAwaiting(true)
				return
			}
			tr.SetState(msgID, models.MessageFailed)
			if rollback != nil {
				rollback()
			}
			tr.System("Failed to send message. Please try again.")
			c.fail("Failed to send message. Please try again.", err)
		},
	}
	c.enqueue(ChatKey(agentID), false, models.TaskPatch{}, j)
	return prop, nil
}

// enqueue adds j to k's lane and starts a drainer when the lane was idle.
// Callers hold c.mu.
func (c *Coordinator) enqueue(k Key, task bool, baseline models.TaskPatch, j *job) {
	l, ok := c.lanes[k]
	if !ok {
		l = &lane{key: k, task: task, baseline: baseline}
		c.lanes[k] = l
	}
	l.intent = j.intent
	l.pending = append(l.pending, j)
	if !ok {
		c.wg.Add(1)
		go c.drain(l)
	}
}

func (c *Coordinator) drain(l *lane) {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		j := l.pending[0]
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		server, err := j.send(ctx)
		cancel()

		c.mu.Lock()
		if c.closed {
			delete(c.lanes, l.key)
			c.mu.Unlock()
			for _, rest := range l.pending {
				rest.p.settle(Reverted, ErrClosed)
			}
			return
		}
		l.pending = l.pending[1:]
		outcome := Confirmed
		switch {
		case err != nil:
			outcome = Reverted
		case l.task:
			if !samePatch(server, j.intent) {
				outcome = Overridden
			}
			l.baseline = server
		}
		last := len(l.pending) == 0
		if last {
			delete(c.lanes, l.key)
			if l.task && c.store != nil {
				c.store.PatchTask(l.key.ID, l.baseline, entity.Silent())
			}
		}
		c.mu.Unlock()

		if err != nil {
			c.log.Warn("proposal failed", "kind", j.p.Kind, "key", l.key.String(), "err", err)
		} else {
			c.log.Debug("proposal settled", "kind", j.p.Kind, "key", l.key.String(), "outcome", outcome)
		}
		if j.after != nil {
			j.after(err)
		}
		if j.p.settle(outcome, err) {
			o, _ := j.p.Result()
			otel.RecordProposal(context.Background(), j.p.Kind, string(o), time.Since(j.p.start))
		}
		if last {
			return
		}
	}
}

// fail surfaces a failed request as a notice and an error ledger event.
func (c *Coordinator) fail(msg string, err error) {
	if c.notices != nil {
		c.notices.Error(msg)
	}
	if c.sink != nil {
		ev := models.ActivityEvent{Type: models.ActivityError, Message: msg + ": " + err.Error()}
		c.sink.Append(ev)
	}
}
