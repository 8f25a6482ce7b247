package coordinator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ankittk/agentdeck/internal/entity"
	"github.com/ankittk/agentdeck/internal/ledger"
	"github.com/ankittk/agentdeck/internal/notice"
	"github.com/ankittk/agentdeck/internal/transcript"
	"github.com/ankittk/agentdeck/pkg/client"
	"github.com/ankittk/agentdeck/pkg/models"
)

type fakeAPI struct {
	mu     sync.Mutex
	calls  []string
	update func(id string, body models.WireTaskUpdate) (models.WireTask, error)
	chat   func(agentID, message string) error
	toggle func(taskID, subtaskID string, completed bool) error
}

func (f *fakeAPI) record(s string) {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	f.mu.Unlock()
}

func (f *fakeAPI) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAPI) UpdateTask(_ context.Context, id string, body models.WireTaskUpdate) (models.WireTask, error) {
	s := ""
	if body.Status != nil {
		s = *body.Status
	}
	f.record("update " + id + " " + s)
	if f.update == nil {
		return models.WireTask{}, nil
	}
	return f.update(id, body)
}

func (f *fakeAPI) ToggleSubtask(_ context.Context, taskID, subtaskID string, completed bool) error {
	f.record("toggle " + taskID + " " + subtaskID)
	if f.toggle == nil {
		return nil
	}
	return f.toggle(taskID, subtaskID, completed)
}

func (f *fakeAPI) SendChat(_ context.Context, agentID, message string, _ *string) error {
	f.record("chat " + agentID + " " + message)
	if f.chat == nil {
		return nil
	}
	return f.chat(agentID, message)
}

type fixture struct {
	api     *fakeAPI
	store   *entity.Store
	ledger  *ledger.Ledger
	notices *notice.Board
	book    *transcript.Book
	coord   *Coordinator
}

func newFixture(t *testing.T, api API) *fixture {
	t.Helper()
	led := ledger.New(ledger.Options{})
	st := entity.New(entity.Options{Sink: led})
	nb := notice.New(notice.Options{TTL: time.Hour})
	book := transcript.NewBook()
	c := New(Options{API: api, Store: st, Book: book, Sink: led, Notices: nb, Timeout: 2 * time.Second})
	t.Cleanup(func() {
		c.Close()
		nb.Close()
	})
	_ = st.UpsertTask(models.Task{ID: "t1", Title: "Landing page", Status: models.StatusTodo, Priority: models.PriorityMedium,
		Subtasks: []models.Subtask{{ID: "s1", Title: "copy"}}}, entity.Silent())
	_ = st.UpsertAgent(models.Agent{ID: "a1", Name: "Ada", Status: models.AgentOnline}, entity.Silent())
	f := &fixture{store: st, ledger: led, notices: nb, book: book, coord: c}
	if fa, ok := api.(*fakeAPI); ok {
		f.api = fa
	}
	return f
}

func wait(t *testing.T, p *Proposal) (Outcome, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o, err := p.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("proposal did not settle")
	}
	return o, err
}

func status(t *testing.T, s *entity.Store, id string) models.TaskStatus {
	t.Helper()
	tk, ok := s.Task(id)
	if !ok {
		t.Fatalf("task %s missing", id)
	}
	return tk.Status
}

func TestProposeTaskStatusChange_revertRoundTrip(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{update: func(string, models.WireTaskUpdate) (models.WireTask, error) {
		return models.WireTask{}, errors.New("connection refused")
	}}
	f := newFixture(t, api)

	p, err := f.coord.ProposeTaskStatusChange(context.Background(), "t1", "review")
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	o, err := wait(t, p)
	if o != Reverted || err == nil {
		t.Fatalf("Result: got %s, %v", o, err)
	}
	if got := status(t, f.store, "t1"); got != models.StatusTodo {
		t.Fatalf("status after revert: got %s, want todo", got)
	}
	if n := f.notices.Active(); len(n) != 1 || n[0].Level != models.ActivityError {
		t.Fatalf("notices: got %+v", n)
	}
	evs := f.ledger.Snapshot()
	if len(evs) != 1 || evs[0].Type != models.ActivityError || !strings.Contains(evs[0].Message, "Landing page") {
		t.Fatalf("ledger: got %+v", evs)
	}
	if f.coord.Busy(TaskKey("t1", FieldStatus)) {
		t.Fatal("lane should be idle after settling")
	}
}

func TestProposeTaskStatusChange_optimisticCommitIsImmediate(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	api := &fakeAPI{update: func(id string, b models.WireTaskUpdate) (models.WireTask, error) {
		<-release
		return models.WireTask{ID: id, Title: "Landing page", Status: *b.Status}, nil
	}}
	f := newFixture(t, api)

	p, err := f.coord.ProposeTaskStatusChange(context.Background(), "t1", "in_progress")
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if got := status(t, f.store, "t1"); got != models.StatusInProgress {
		t.Fatalf("optimistic status: got %s", got)
	}
	if !f.coord.Busy(TaskKey("t1", FieldStatus)) {
		t.Fatal("lane should be busy while the request is in flight")
	}
	close(release)
	if o, err := wait(t, p); o != Confirmed || err != nil {
		t.Fatalf("Result: got %s, %v", o, err)
	}
	if len(f.ledger.Snapshot()) != 0 {
		t.Fatal("optimistic writes must not narrate")
	}
}

func TestProposeTaskStatusChange_serverWins(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{update: func(id string, _ models.WireTaskUpdate) (models.WireTask, error) {
		return models.WireTask{ID: id, Title: "Landing page", Status: "completed", Priority: "medium"}, nil
	}}
	f := newFixture(t, api)

	p, _ := f.coord.ProposeTaskStatusChange(context.Background(), "t1", "review")
	if o, err := wait(t, p); o != Overridden || err != nil {
		t.Fatalf("Result: got %s, %v", o, err)
	}
	if got := status(t, f.store, "t1"); got != models.StatusDone {
		t.Fatalf("status: got %s, want done", got)
	}
}

func TestProposeTaskStatusChange_dragToReviewServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/api/tasks/t1" {
			t.Errorf("request: %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"success":false,"error":"database unavailable"}`))
	}))
	defer srv.Close()
	f := newFixture(t, client.New(srv.URL, ""))

	p, err := f.coord.ProposeTaskStatusChange(context.Background(), "t1", "review")
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	o, err := wait(t, p)
	var apiErr *client.APIError
	if o != Reverted || !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("Result: got %s, %v", o, err)
	}
	if got := status(t, f.store, "t1"); got != models.StatusTodo {
		t.Fatalf("status: got %s, want todo", got)
	}
	if n := f.notices.Active(); len(n) != 1 {
		t.Fatalf("notices: got %+v", n)
	}
}

func TestProposals_queueInProposalOrder(t *testing.T) {
	t.Parallel()
	first := make(chan struct{})
	api := &fakeAPI{}
	api.update = func(id string, b models.WireTaskUpdate) (models.WireTask, error) {
		switch *b.Status {
		case "in_progress":
			<-first
			return models.WireTask{ID: id, Title: "Landing page", Status: "in_progress"}, nil
		default:
			return models.WireTask{}, errors.New("rejected")
		}
	}
	f := newFixture(t, api)
	ctx := context.Background()

	p1, _ := f.coord.ProposeTaskStatusChange(ctx, "t1", "in_progress")
	p2, err := f.coord.ProposeTaskStatusChange(ctx, "t1", "review")
	if err != nil {
		t.Fatalf("second Propose: %v", err)
	}
	if got := status(t, f.store, "t1"); got != models.StatusReview {
		t.Fatalf("latest intent should show at once: got %s", got)
	}
	time.Sleep(20 * time.Millisecond)
	if calls := api.Calls(); len(calls) != 1 {
		t.Fatalf("second request must wait for the first: got %v", calls)
	}
	close(first)

	if o, _ := wait(t, p1); o != Confirmed {
		t.Fatalf("p1: got %s", o)
	}
	if o, _ := wait(t, p2); o != Reverted {
		t.Fatalf("p2: got %s", o)
	}
	if calls := api.Calls(); strings.Join(calls, "|") != "update t1 in_progress|update t1 review" {
		t.Fatalf("request order: got %v", calls)
	}
	if got := status(t, f.store, "t1"); got != models.StatusInProgress {
		t.Fatalf("revert target is the last confirmed value: got %s", got)
	}
}

func TestApplyTask_pushDuringFlightMovesBaseline(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	api := &fakeAPI{update: func(string, models.WireTaskUpdate) (models.WireTask, error) {
		<-release
		return models.WireTask{}, errors.New("timeout")
	}}
	f := newFixture(t, api)

	p, _ := f.coord.ProposeTaskStatusChange(context.Background(), "t1", "review")

	pushed, _ := f.store.Task("t1")
	pushed.Status = models.StatusDone
	pushed.Title = "Landing page v2"
	if err := f.coord.ApplyTask(pushed, entity.Silent()); err != nil {
		t.Fatalf("ApplyTask: %v", err)
	}
	tk, _ := f.store.Task("t1")
	if tk.Status != models.StatusReview || tk.Title != "Landing page v2" {
		t.Fatalf("ApplyTask: got %+v", tk)
	}

	st := models.StatusInProgress
	if written := f.coord.ApplyTaskPatch("t1", models.TaskPatch{Status: &st}); !written.Empty() {
		t.Fatalf("busy field should be absorbed: got %+v", written)
	}
	if got := status(t, f.store, "t1"); got != models.StatusReview {
		t.Fatalf("absorbed patch must not reach the store: got %s", got)
	}

	close(release)
	if o, _ := wait(t, p); o != Reverted {
		t.Fatalf("Result: got %s", o)
	}
	tk, _ = f.store.Task("t1")
	if tk.Status != models.StatusInProgress || tk.Title != "Landing page v2" {
		t.Fatalf("revert should land on the pushed value: got %+v", tk)
	}
}

func TestApplyTaskPatch_idleFieldIsWritten(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &fakeAPI{})
	st := models.StatusDone
	written := f.coord.ApplyTaskPatch("t1", models.TaskPatch{Status: &st}, entity.Silent())
	if written.Status == nil || *written.Status != models.StatusDone {
		t.Fatalf("ApplyTaskPatch: got %+v", written)
	}
	if got := status(t, f.store, "t1"); got != models.StatusDone {
		t.Fatalf("status: got %s, want done", got)
	}
}

// A server snapshot applied while a failing request settles must win no matter
// which side takes the lane lock first.
func TestApplyTask_racingRevertConvergesOnServer(t *testing.T) {
	t.Parallel()
	for i := 0; i < 50; i++ {
		api := &fakeAPI{update: func(string, models.WireTaskUpdate) (models.WireTask, error) {
			return models.WireTask{}, errors.New("connection reset")
		}}
		f := newFixture(t, api)
		snapshot, _ := f.store.Task("t1")

		p, err := f.coord.ProposeTaskStatusChange(context.Background(), "t1", "review")
		if err != nil {
			t.Fatalf("propose: %v", err)
		}
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.coord.ApplyTask(snapshot, entity.Silent())
		}()
		if o, _ := wait(t, p); o != Reverted {
			t.Fatalf("run %d: outcome %s, want reverted", i, o)
		}
		wg.Wait()
		if f.coord.Busy(TaskKey("t1", "status")) {
			t.Fatalf("run %d: lane still busy", i)
		}
		if got := status(t, f.store, "t1"); got != models.StatusTodo {
			t.Fatalf("run %d: store diverged from server: got %s, want todo", i, got)
		}
	}
}

func TestResetStore_keepsIntentAndRevertsToRefetch(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	api := &fakeAPI{update: func(string, models.WireTaskUpdate) (models.WireTask, error) {
		<-release
		return models.WireTask{}, errors.New("timeout")
	}}
	f := newFixture(t, api)
	p, _ := f.coord.ProposeTaskStatusChange(context.Background(), "t1", "review")

	refetched := models.Task{ID: "t1", Title: "Landing page", Status: models.StatusInProgress, Priority: models.PriorityHigh}
	if errs := f.coord.ResetStore(nil, nil, []models.Task{refetched}); len(errs) != 0 {
		t.Fatalf("ResetStore: %v", errs)
	}
	tk, _ := f.store.Task("t1")
	if tk.Status != models.StatusReview || tk.Priority != models.PriorityHigh {
		t.Fatalf("reset should keep the pending move: got %+v", tk)
	}

	close(release)
	if o, _ := wait(t, p); o != Reverted {
		t.Fatalf("Result: got %s", o)
	}
	if got := status(t, f.store, "t1"); got != models.StatusInProgress {
		t.Fatalf("revert should land on the refetched value: got %s", got)
	}
}

func TestProposeTaskStatusChange_invalid(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	f := newFixture(t, api)
	ctx := context.Background()

	if _, err := f.coord.ProposeTaskStatusChange(ctx, "t1", "completed"); !errors.Is(err, ErrInvalidProposal) {
		t.Fatalf("non-canonical: got %v", err)
	}
	if _, err := f.coord.ProposeTaskStatusChange(ctx, "ghost", "done"); !errors.Is(err, ErrInvalidProposal) {
		t.Fatalf("unknown task: got %v", err)
	}
	if got := status(t, f.store, "t1"); got != models.StatusTodo {
		t.Fatalf("rejected proposals must not write: got %s", got)
	}
	if len(api.Calls()) != 0 {
		t.Fatalf("no request expected: got %v", api.Calls())
	}
}

func TestProposeTaskStatusChange_noChangeSettlesAtOnce(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	f := newFixture(t, api)
	p, err := f.coord.ProposeTaskStatusChange(context.Background(), "t1", "todo")
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	select {
	case <-p.Done():
	default:
		t.Fatal("no-op proposal should already be done")
	}
	if len(api.Calls()) != 0 {
		t.Fatalf("no request expected: got %v", api.Calls())
	}
}

func TestProposeTaskPatch_perFieldLanes(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{update: func(id string, b models.WireTaskUpdate) (models.WireTask, error) {
		if b.Priority != nil {
			return models.WireTask{}, errors.New("nope")
		}
		return models.WireTask{ID: id, Title: *b.Title, Status: "todo"}, nil
	}}
	f := newFixture(t, api)
	title, prio := "Landing v2", models.PriorityHigh
	p, err := f.coord.ProposeTaskPatch(context.Background(), "t1", models.TaskPatch{Title: &title, Priority: &prio})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if o, _ := wait(t, p); o != Reverted {
		t.Fatalf("Result: got %s", o)
	}
	tk, _ := f.store.Task("t1")
	if tk.Title != "Landing v2" || tk.Priority != models.PriorityMedium {
		t.Fatalf("title kept, priority reverted: got %+v", tk)
	}
}

func TestProposeSubtaskToggle(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	f := newFixture(t, api)
	p, err := f.coord.ProposeSubtaskToggle(context.Background(), "t1", "s1", true)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if o, _ := wait(t, p); o != Confirmed {
		t.Fatalf("Result: got %s", o)
	}
	tk, _ := f.store.Task("t1")
	if done, total := tk.Progress(); done != 1 || total != 1 {
		t.Fatalf("Progress: got %d/%d", done, total)
	}
	if _, err := f.coord.ProposeSubtaskToggle(context.Background(), "t1", "nope", true); !errors.Is(err, ErrInvalidProposal) {
		t.Fatalf("unknown subtask: got %v", err)
	}
}

func TestProposeChatReply(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	f := newFixture(t, api)
	p, err := f.coord.ProposeChatReply(context.Background(), "a1", "ship it", nil)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if o, _ := wait(t, p); o != Confirmed {
		t.Fatalf("Result: got %s", o)
	}
	tr, _ := f.book.Lookup("a1")
	msgs := tr.Messages()
	if len(msgs) != 1 || msgs[0].State != models.MessageSent || msgs[0].Sender != models.SenderUser {
		t.Fatalf("transcript: got %+v", msgs)
	}
	if !tr.AwaitingReply() {
		t.Fatal("sent message should await the agent's reply")
	}
	if _, err := f.coord.ProposeChatReply(context.Background(), "a1", "   ", nil); !errors.Is(err, ErrInvalidProposal) {
		t.Fatalf("empty text: got %v", err)
	}
	if _, err := f.coord.ProposeChatReply(context.Background(), "ghost", "hi", nil); !errors.Is(err, ErrInvalidProposal) {
		t.Fatalf("unknown agent: got %v", err)
	}
}

func TestProposeChatReply_failure(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{chat: func(string, string) error { return errors.New("503") }}
	f := newFixture(t, api)
	p, _ := f.coord.ProposeChatReply(context.Background(), "a1", "hello", nil)
	if o, _ := wait(t, p); o != Reverted {
		t.Fatalf("Result: got %s", o)
	}
	tr, _ := f.book.Lookup("a1")
	msgs := tr.Messages()
	if len(msgs) != 2 || msgs[0].State != models.MessageFailed {
		t.Fatalf("transcript: got %+v", msgs)
	}
	if msgs[1].Sender != models.SenderSystem || msgs[1].Content.Text != "Failed to send message. Please try again." {
		t.Fatalf("system message: got %+v", msgs[1])
	}
	if tr.AwaitingReply() {
		t.Fatal("failed send should not await a reply")
	}
}

func selection(id string) models.ChatMessage {
	return models.ChatMessage{
		ID:     id,
		Sender: models.SenderAgent,
		Content: models.StructuredContent("Which features?", &models.InteractiveSelection{
			Type:  models.SelectionList,
			Items: []models.SelectionItem{{ID: "i1", Label: "Login", Selected: true}, {ID: "i2", Label: "Search"}},
		}),
	}
}

func TestProposeSelectionConfirm(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	f := newFixture(t, api)
	tr := f.book.For("a1")
	tr.Ingest(selection("m1"))
	_ = tr.SetItemField("m1", "i2", transcript.FieldNote, "fuzzy")
	_ = tr.SetItemField("m1", "i2", transcript.FieldSelected, true)

	p, err := f.coord.ProposeSelectionConfirm(context.Background(), "a1", "m1")
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if !tr.IsConfirmed("m1") {
		t.Fatal("confirmation is optimistic")
	}
	if o, _ := wait(t, p); o != Confirmed {
		t.Fatalf("Result: got %s", o)
	}
	calls := api.Calls()
	if len(calls) != 1 || calls[0] != "chat a1 Confirmed:\n- Login\n- Search (fuzzy)" {
		t.Fatalf("calls: got %q", calls)
	}
	if _, err := f.coord.ProposeSelectionConfirm(context.Background(), "a1", "m1"); !errors.Is(err, ErrInvalidProposal) || !errors.Is(err, transcript.ErrConfirmed) {
		t.Fatalf("second confirm: got %v", err)
	}
}

func TestProposeSelectionConfirm_failureReopens(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{chat: func(string, string) error { return errors.New("offline") }}
	f := newFixture(t, api)
	tr := f.book.For("a1")
	tr.Ingest(selection("m1"))

	p, _ := f.coord.ProposeSelectionConfirm(context.Background(), "a1", "m1")
	if o, _ := wait(t, p); o != Reverted {
		t.Fatalf("Result: got %s", o)
	}
	if tr.IsConfirmed("m1") {
		t.Fatal("failed confirmation should reopen the selection")
	}
	if err := tr.SetItemField("m1", "i2", transcript.FieldSelected, true); err != nil {
		t.Fatalf("edit after failed confirm: %v", err)
	}
}

func TestClose_rejectsNewProposals(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &fakeAPI{})
	f.coord.Close()
	if _, err := f.coord.ProposeTaskStatusChange(context.Background(), "t1", "done"); !errors.Is(err, ErrClosed) {
		t.Fatalf("after Close: got %v", err)
	}
}
