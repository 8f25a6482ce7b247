package normalize

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ankittk/agentdeck/pkg/models"
)

func TestTaskStatus_vocabulary(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want models.TaskStatus
	}{
		{"todo", models.StatusTodo},
		{"pending", models.StatusTodo},
		{"Assigned", models.StatusTodo},
		{"in_progress", models.StatusInProgress},
		{"in-progress", models.StatusInProgress},
		{"In Progress", models.StatusInProgress},
		{"working", models.StatusInProgress},
		{"review", models.StatusReview},
		{"in-review", models.StatusReview},
		{"testing", models.StatusReview},
		{"done", models.StatusDone},
		{"completed", models.StatusDone},
		{" COMPLETE ", models.StatusDone},
		{"implemented", models.StatusDone},
	}
	for _, tt := range tests {
		got, err := TaskStatus(tt.in)
		if err != nil {
			t.Fatalf("TaskStatus(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("TaskStatus(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTaskStatus_idempotent(t *testing.T) {
	t.Parallel()
	for raw := range taskStatuses {
		once, err := TaskStatus(raw)
		if err != nil {
			t.Fatalf("TaskStatus(%q): %v", raw, err)
		}
		twice, err := TaskStatus(string(once))
		if err != nil {
			t.Fatalf("TaskStatus(%q): %v", once, err)
		}
		if once != twice {
			t.Fatalf("not idempotent for %q: %q then %q", raw, once, twice)
		}
	}
	for _, s := range models.TaskStatuses {
		got, err := TaskStatus(string(s))
		if err != nil || got != s {
			t.Fatalf("canonical %q: got %q, %v", s, got, err)
		}
	}
}

func TestTaskStatus_unknown(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "archived", "blocked", "donee"} {
		_, err := TaskStatus(raw)
		if !errors.Is(err, ErrUnknownStatus) {
			t.Fatalf("TaskStatus(%q): want ErrUnknownStatus, got %v", raw, err)
		}
	}
}

func TestAgentStatus(t *testing.T) {
	t.Parallel()
	tests := map[string]models.AgentStatus{
		"online":   models.AgentOnline,
		"active":   models.AgentOnline,
		"idle":     models.AgentIdle,
		"thinking": models.AgentBusy,
		"busy":     models.AgentBusy,
		"error":    models.AgentError,
		"failed":   models.AgentError,
	}
	for in, want := range tests {
		got, err := AgentStatus(in)
		if err != nil || got != want {
			t.Fatalf("AgentStatus(%q): got %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := AgentStatus("levitating"); !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("AgentStatus(levitating): want ErrUnknownStatus, got %v", err)
	}
}

func TestPriority(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]models.Priority{"": models.PriorityMedium, "urgent": models.PriorityHigh, "LOW": models.PriorityLow} {
		got, err := Priority(in)
		if err != nil || got != want {
			t.Fatalf("Priority(%q): got %q, %v", in, got, err)
		}
	}
	if _, err := Priority("p0"); !errors.Is(err, ErrUnknownPriority) {
		t.Fatalf("Priority(p0): got %v", err)
	}
}

func TestDisplayName(t *testing.T) {
	t.Parallel()
	s := func(v string) *string { return &v }
	if got := DisplayName(s("Ada"), s("ada-bot"), s("a1")); got != "Ada" {
		t.Fatalf("display name wins: got %q", got)
	}
	if got := DisplayName(nil, s("ada-bot"), s("a1")); got != "ada-bot" {
		t.Fatalf("from name next: got %q", got)
	}
	if got := DisplayName(nil, nil, s("a1")); got != "a1" {
		t.Fatalf("id last: got %q", got)
	}
	if got := DisplayName(s(""), s("ada-bot"), s("a1")); got != "" {
		t.Fatalf("present empty display name must be kept, got %q", got)
	}
	if got := DisplayName(nil, nil, nil); got != "" {
		t.Fatalf("all absent: got %q", got)
	}
}

func TestMessageContent(t *testing.T) {
	t.Parallel()
	c, err := MessageContent(json.RawMessage(`"hello"`))
	if err != nil || c.Kind != models.ContentPlain || c.Text != "hello" {
		t.Fatalf("plain: got %+v, %v", c, err)
	}

	c, err = MessageContent(json.RawMessage(`{"text":"pick","interactive":{"type":"selection_list","items":[{"id":"a","label":"A"}]}}`))
	if err != nil {
		t.Fatalf("structured: %v", err)
	}
	if c.Kind != models.ContentStructured || c.Text != "pick" || !c.HasSelection() {
		t.Fatalf("structured: got %+v", c)
	}

	// History rows store structured replies as a JSON string; decoded one level only.
	c, err = MessageContent(json.RawMessage(`"{\"text\":\"{\\\"text\\\":\\\"x\\\"}\"}"`))
	if err != nil {
		t.Fatalf("string-encoded: %v", err)
	}
	if c.Kind != models.ContentStructured || c.Text != `{"text":"x"}` {
		t.Fatalf("string-encoded: got %+v", c)
	}

	c, err = MessageContent(json.RawMessage(`"{not json"`))
	if err != nil || c.Kind != models.ContentPlain || c.Text != "{not json" {
		t.Fatalf("brace text stays plain: got %+v, %v", c, err)
	}

	for _, raw := range []string{``, `null`, `42`, `{"body":"x"}`, `[1]`, `{"text":5}`} {
		if _, err := MessageContent(json.RawMessage(raw)); !errors.Is(err, ErrMalformedMessage) {
			t.Fatalf("MessageContent(%s): want ErrMalformedMessage, got %v", raw, err)
		}
	}
}

func TestTimestamp(t *testing.T) {
	t.Parallel()
	want := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	for _, raw := range []string{`"2025-01-15T10:00:00Z"`, `1736935200000`, `"1736935200000"`} {
		got, err := Timestamp(json.RawMessage(raw))
		if err != nil || !got.Equal(want) {
			t.Fatalf("Timestamp(%s): got %v, %v", raw, got, err)
		}
	}
	if got, err := Timestamp(nil); err != nil || !got.IsZero() {
		t.Fatalf("absent: got %v, %v", got, err)
	}
	if _, err := Timestamp(json.RawMessage(`"yesterday"`)); !errors.Is(err, ErrBadTimestamp) {
		t.Fatalf("bad: got %v", err)
	}
}

func TestTask_fromWire(t *testing.T) {
	t.Parallel()
	var w models.WireTask
	raw := `{"id":"t1","title":"Ship","status":"completed","priority":"urgent",
		"agentIds":["a1"],"agents":[{"agentId":"a1"},{"agentId":"","agent":{"id":"a2","name":"B"}}],
		"tags":"[\"x\",\"y\"]","dueDate":"2025-02-01T00:00:00Z",
		"subtasks":[{"id":"s1","title":"one","completed":true},{"id":"s2","title":"two"}]}`
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	task, err := Task(w)
	if err != nil {
		t.Fatalf("Task: %v", err)
	}
	if task.Status != models.StatusDone || task.Priority != models.PriorityHigh {
		t.Fatalf("status/priority: got %q/%q", task.Status, task.Priority)
	}
	if len(task.AgentIDs) != 2 || task.AgentIDs[0] != "a1" || task.AgentIDs[1] != "a2" {
		t.Fatalf("agent ids: got %v", task.AgentIDs)
	}
	if len(task.Tags) != 2 || task.Tags[1] != "y" {
		t.Fatalf("tags: got %v", task.Tags)
	}
	if task.DueDate == nil || task.DueDate.Month() != time.February {
		t.Fatalf("due date: got %v", task.DueDate)
	}
	if done, total := task.Progress(); done != 1 || total != 2 {
		t.Fatalf("progress: got %d/%d", done, total)
	}
	if !task.IsRoot() {
		t.Fatal("expected root task")
	}

	w.Status = "archived"
	if _, err := Task(w); !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("unknown status: got %v", err)
	}
	w.Status = "todo"
	w.Priority = "p7"
	task, err = Task(w)
	if err != nil || task.Priority != models.PriorityMedium {
		t.Fatalf("unknown priority degrades: got %q, %v", task.Priority, err)
	}
	if _, err := Task(models.WireTask{Status: "todo"}); !errors.Is(err, ErrMissingID) {
		t.Fatalf("missing id: got %v", err)
	}
}

func TestAgentMessage(t *testing.T) {
	t.Parallel()
	var p models.AgentMessagePayload
	raw := `{"id":"m1","agentId":"a1","fromName":"Ada","message":{"text":"choose","interactive":{"items":[{"id":"i1","label":"One"}]}},"timestamp":"2025-01-15T10:00:00Z"}`
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	msg, name, err := AgentMessage(p)
	if err != nil {
		t.Fatalf("AgentMessage: %v", err)
	}
	if name != "Ada" || msg.AgentID != "a1" || msg.ID != "m1" || msg.Sender != models.SenderAgent {
		t.Fatalf("got %+v name %q", msg, name)
	}
	if msg.Content.Interactive == nil || msg.Content.Interactive.Type != models.SelectionList {
		t.Fatalf("selection type defaulted: got %+v", msg.Content.Interactive)
	}

	proactive := `{"id":1718000000000,"fromId":"pm","content":"Pick scope","interactive":{"items":[{"id":"i1","label":"MVP"}]}}`
	p = models.AgentMessagePayload{}
	if err := json.Unmarshal([]byte(proactive), &p); err != nil {
		t.Fatalf("unmarshal proactive: %v", err)
	}
	msg, name, err = AgentMessage(p)
	if err != nil || msg.ID != "1718000000000" || msg.AgentID != "pm" || name != "pm" || !msg.Content.HasSelection() || msg.Content.Text != "Pick scope" {
		t.Fatalf("proactive: got %+v name %q, %v", msg, name, err)
	}

	if _, _, err := AgentMessage(models.AgentMessagePayload{Message: json.RawMessage(`"hi"`)}); !errors.Is(err, ErrMissingID) {
		t.Fatalf("no agent: got %v", err)
	}
}

func TestHistoryEntry(t *testing.T) {
	t.Parallel()
	e := models.WireHistoryEntry{ID: "h1", FromID: "user", Content: json.RawMessage(`"status?"`)}
	msg, err := HistoryEntry("a1", e)
	if err != nil || msg.Sender != models.SenderUser || msg.Content.Text != "status?" {
		t.Fatalf("user row: got %+v, %v", msg, err)
	}
	e = models.WireHistoryEntry{ID: "h2", FromID: "a1", Content: json.RawMessage(`"{\"text\":\"pick\",\"interactive\":{\"type\":\"selection_list\",\"items\":[]}}"`)}
	msg, err = HistoryEntry("a1", e)
	if err != nil || msg.Sender != models.SenderAgent || msg.Content.Kind != models.ContentStructured || msg.Content.Text != "pick" {
		t.Fatalf("agent row: got %+v, %v", msg, err)
	}
}

func TestWireUpdate_roundTrip(t *testing.T) {
	t.Parallel()
	st := models.StatusReview
	w := WireUpdate(models.TaskPatch{Status: &st})
	if w.Status == nil || *w.Status != "review" {
		t.Fatalf("WireUpdate: got %+v", w)
	}
	p, err := TaskPatch(w)
	if err != nil || p.Status == nil || *p.Status != st {
		t.Fatalf("TaskPatch: got %+v, %v", p, err)
	}
}
