package transcript

import (
	"errors"
	"testing"
	"time"

	"github.com/ankittk/agentdeck/pkg/models"
)

func selectionMsg(id string) models.ChatMessage {
	return models.ChatMessage{
		ID:     id,
		Sender: models.SenderAgent,
		Content: models.StructuredContent("Pick features", &models.InteractiveSelection{
			Type: models.SelectionList,
			Items: []models.SelectionItem{
				{ID: "i1", Label: "Login", Selected: true},
				{ID: "i2", Label: "Payments"},
				{ID: "i3", Label: "Search", Selected: true, Note: "fuzzy"},
			},
		}),
	}
}

func TestConfirm_withoutOverlayEqualsDirectRead(t *testing.T) {
	t.Parallel()
	tr := NewBook().For("a1")
	tr.Ingest(selectionMsg("m1"))

	items, err := tr.ReadItems("m1")
	if err != nil {
		t.Fatalf("ReadItems: %v", err)
	}
	want := Summary(items)
	got, err := tr.Confirm("m1")
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if got != want {
		t.Fatalf("Confirm: got %q, want %q", got, want)
	}
	if got != "Confirmed:\n- Login\n- Search (fuzzy)" {
		t.Fatalf("summary text: got %q", got)
	}
}

func TestSetItemField_overlayLeavesMessageUntouched(t *testing.T) {
	t.Parallel()
	tr := NewBook().For("a1")
	tr.Ingest(selectionMsg("m1"))

	if err := tr.SetItemField("m1", "i2", FieldSelected, true); err != nil {
		t.Fatalf("SetItemField selected: %v", err)
	}
	if err := tr.SetItemField("m1", "i2", FieldNote, "stripe"); err != nil {
		t.Fatalf("SetItemField note: %v", err)
	}
	items, _ := tr.ReadItems("m1")
	if !items[1].Selected || items[1].Note != "stripe" {
		t.Fatalf("overlay: got %+v", items[1])
	}
	msg, _ := tr.Message("m1")
	if msg.Content.Interactive.Items[1].Selected {
		t.Fatal("received message must stay immutable")
	}
	sum, err := tr.Confirm("m1")
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if sum != "Confirmed:\n- Login\n- Payments (stripe)\n- Search (fuzzy)" {
		t.Fatalf("summary: got %q", sum)
	}
}

func TestConfirm_isOneWay(t *testing.T) {
	t.Parallel()
	tr := NewBook().For("a1")
	tr.Ingest(selectionMsg("m1"))
	if _, err := tr.Confirm("m1"); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if err := tr.SetItemField("m1", "i1", FieldSelected, false); !errors.Is(err, ErrConfirmed) {
		t.Fatalf("edit after confirm: want ErrConfirmed, got %v", err)
	}
	if _, err := tr.Confirm("m1"); !errors.Is(err, ErrConfirmed) {
		t.Fatalf("second confirm: want ErrConfirmed, got %v", err)
	}
	if !tr.IsConfirmed("m1") {
		t.Fatal("IsConfirmed: want true")
	}
	tr.Unconfirm("m1")
	if tr.IsConfirmed("m1") {
		t.Fatal("Unconfirm should reopen the selection")
	}
}

func TestSetItemField_errors(t *testing.T) {
	t.Parallel()
	tr := NewBook().For("a1")
	tr.Ingest(selectionMsg("m1"))
	tr.Ingest(models.ChatMessage{ID: "plain", Sender: models.SenderAgent, Content: models.PlainContent("hi")})

	if err := tr.SetItemField("m1", "nope", FieldSelected, true); !errors.Is(err, ErrUnknownItem) {
		t.Fatalf("unknown item: got %v", err)
	}
	if err := tr.SetItemField("m1", "i1", FieldSelected, "yes"); !errors.Is(err, ErrFieldType) {
		t.Fatalf("bad type: got %v", err)
	}
	if err := tr.SetItemField("m1", "i1", Field("label"), "x"); !errors.Is(err, ErrFieldType) {
		t.Fatalf("bad field: got %v", err)
	}
	if err := tr.SetItemField("plain", "i1", FieldSelected, true); !errors.Is(err, ErrNoSelection) {
		t.Fatalf("plain message: got %v", err)
	}
	if _, err := tr.Confirm("ghost"); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("unknown message: got %v", err)
	}
}

func TestIngest_dedupeAndAwaiting(t *testing.T) {
	t.Parallel()
	tr := NewBook().For("a1")
	tr.SetAwaiting(true)
	if _, added := tr.Ingest(models.ChatMessage{ID: "u1", Sender: models.SenderUser, Content: models.PlainContent("hi")}); !added {
		t.Fatal("first ingest should add")
	}
	if !tr.AwaitingReply() {
		t.Fatal("user message keeps the wait")
	}
	tr.Ingest(models.ChatMessage{ID: "r1", Sender: models.SenderAgent, Content: models.PlainContent("hello")})
	if _, added := tr.Ingest(models.ChatMessage{ID: "r1", Sender: models.SenderAgent, Content: models.PlainContent("hello")}); added {
		t.Fatal("duplicate id should be ignored")
	}
	if tr.AwaitingReply() {
		t.Fatal("agent reply ends the wait")
	}
	if n := len(tr.Messages()); n != 2 {
		t.Fatalf("Messages: got %d", n)
	}
}

func TestReplaceHistory_keepsOverlaysForSurvivors(t *testing.T) {
	t.Parallel()
	tr := NewBook().For("a1")
	tr.Ingest(selectionMsg("m1"))
	tr.Ingest(selectionMsg("m2"))
	_ = tr.SetItemField("m1", "i2", FieldSelected, true)
	_ = tr.SetItemField("m2", "i2", FieldSelected, true)

	tr.ReplaceHistory([]models.ChatMessage{selectionMsg("m1")})
	items, _ := tr.ReadItems("m1")
	if !items[1].Selected {
		t.Fatal("overlay for surviving message should be kept")
	}
	if _, err := tr.ReadItems("m2"); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("dropped message: got %v", err)
	}
	if got := tr.PendingSelections(); len(got) != 1 || got[0] != "m1" {
		t.Fatalf("PendingSelections: got %v", got)
	}
}

func TestBook_subscribe(t *testing.T) {
	t.Parallel()
	b := NewBook()
	ch, cancel := b.Subscribe()
	defer cancel()
	b.For("a1").System("Failed to send message. Please try again.")
	select {
	case c := <-ch:
		if c.AgentID != "a1" || c.MessageID == "" {
			t.Fatalf("change: got %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
	if ids := b.AgentIDs(); len(ids) != 1 || ids[0] != "a1" {
		t.Fatalf("AgentIDs: got %v", ids)
	}
	if _, ok := b.Lookup("a2"); ok {
		t.Fatal("Lookup must not create")
	}
}
