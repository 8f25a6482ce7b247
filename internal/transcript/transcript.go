// Package transcript keeps per-agent chat transcripts. Received messages are
// immutable; operator edits to interactive selections live in a separate overlay
// keyed by message id, and a confirmed message can no longer be edited.
package transcript

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ankittk/agentdeck/pkg/models"
)

var (
	ErrUnknownMessage = errors.New("unknown message")
	ErrNoSelection    = errors.New("message has no interactive selection")
	ErrUnknownItem    = errors.New("unknown selection item")
	ErrConfirmed      = errors.New("selection already confirmed")
	ErrFieldType      = errors.New("wrong value type for field")
)

// Field names an editable selection item field.
type Field string

// Editable fields.
const (
	FieldSelected Field = "selected"
	FieldNote     Field = "note"
)

// SummaryHeader opens every confirmation summary.
const SummaryHeader = "Confirmed:"

// Summary renders the selected items as the confirmation reply.
func Summary(items []models.SelectionItem) string {
	var b strings.Builder
	b.WriteString(SummaryHeader)
	b.WriteString("\n")
	first := true
	for _, it := range items {
		if !it.Selected {
			continue
		}
		if !first {
			b.WriteString("\n")
		}
		first = false
		b.WriteString("- ")
		b.WriteString(it.Label)
		if it.Note != "" {
			b.WriteString(" (")
			b.WriteString(it.Note)
			b.WriteString(")")
		}
	}
	return b.String()
}

// Transcript is one agent's conversation. Safe for concurrent use.
type Transcript struct {
	agentID  string
	onChange func(agentID, msgID string)

	mu        sync.Mutex
	messages  []models.ChatMessage
	overlays  map[string][]models.SelectionItem
	confirmed map[string]bool
	awaiting  bool
	typing    bool
}

func newTranscript(agentID string, onChange func(string, string)) *Transcript {
	return &Transcript{
		agentID:   agentID,
		onChange:  onChange,
		overlays:  make(map[string][]models.SelectionItem),
		confirmed: make(map[string]bool),
	}
}

// AgentID returns the agent this transcript belongs to.
func (t *Transcript) AgentID() string { return t.agentID }

func (t *Transcript) changed(msgID string) {
	if t.onChange != nil {
		t.onChange(t.agentID, msgID)
	}
}

func (t *Transcript) index(msgID string) int {
	for i := range t.messages {
		if t.messages[i].ID == msgID {
			return i
		}
	}
	return -1
}

// Ingest appends msg and returns its id. A message whose id is already present
// is ignored. An agent message ends the wait for a reply.
func (t *Transcript) Ingest(msg models.ChatMessage) (string, bool) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	msg.AgentID = t.agentID
	t.mu.Lock()
	if t.index(msg.ID) >= 0 {
		t.mu.Unlock()
		return msg.ID, false
	}
	t.messages = append(t.messages, msg)
	if msg.Sender == models.SenderAgent {
		t.awaiting = false
		t.typing = false
	}
	t.mu.Unlock()
	t.changed(msg.ID)
	return msg.ID, true
}

// System appends a local system message.
func (t *Transcript) System(text string) string {
	id, _ := t.Ingest(models.ChatMessage{Sender: models.SenderSystem, Content: models.PlainContent(text)})
	return id
}

// ReplaceHistory swaps the transcript for a fetched history. Overlays and
// confirmations survive for messages still present.
func (t *Transcript) ReplaceHistory(msgs []models.ChatMessage) {
	t.mu.Lock()
	next := make([]models.ChatMessage, 0, len(msgs))
	keep := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if keep[m.ID] {
			continue
		}
		m.AgentID = t.agentID
		keep[m.ID] = true
		next = append(next, m)
	}
	for id := range t.overlays {
		if !keep[id] {
			delete(t.overlays, id)
		}
	}
	for id := range t.confirmed {
		if !keep[id] {
			delete(t.confirmed, id)
		}
	}
	t.messages = next
	t.mu.Unlock()
	t.changed("")
}

// Messages returns a copy of the transcript in arrival order.
func (t *Transcript) Messages() []models.ChatMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.ChatMessage(nil), t.messages...)
}

// Message returns the message with msgID.
func (t *Transcript) Message(msgID string) (models.ChatMessage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i := t.index(msgID); i >= 0 {
		return t.messages[i], true
	}
	return models.ChatMessage{}, false
}

// SetState records the delivery state of an operator message.
func (t *Transcript) SetState(msgID string, st models.MessageState) bool {
	t.mu.Lock()
	i := t.index(msgID)
	if i < 0 {
		t.mu.Unlock()
		return false
	}
	t.messages[i].State = st
	t.mu.Unlock()
	t.changed(msgID)
	return true
}

// SetAwaiting marks whether a reply from the agent is expected.
func (t *Transcript) SetAwaiting(v bool) {
	t.mu.Lock()
	t.awaiting = v
	t.mu.Unlock()
	t.changed("")
}

// AwaitingReply reports whether the operator is waiting on the agent.
func (t *Transcript) AwaitingReply() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.awaiting
}

// SetTyping records the agent:typing indicator.
func (t *Transcript) SetTyping(v bool) {
	t.mu.Lock()
	t.typing = v
	t.mu.Unlock()
	t.changed("")
}

// Typing reports the last typing indicator.
func (t *Transcript) Typing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typing
}

// items returns the current items for msgID; callers hold t.mu.
func (t *Transcript) items(msgID string) ([]models.SelectionItem, error) {
	i := t.index(msgID)
	if i < 0 {
		return nil, fmt.Errorf("%s: %w", msgID, ErrUnknownMessage)
	}
	if ov, ok := t.overlays[msgID]; ok {
		return ov, nil
	}
	sel := t.messages[i].Content.Interactive
	if sel == nil {
		return nil, fmt.Errorf("%s: %w", msgID, ErrNoSelection)
	}
	return sel.Items, nil
}

// ReadItems returns the selection as the operator currently sees it: the
// overlay when one exists, otherwise a copy of the message's own items. Reads
// never create the overlay; SetItemField materializes it on the first edit, and
// until then both paths yield the same items.
func (t *Transcript) ReadItems(msgID string) ([]models.SelectionItem, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	items, err := t.items(msgID)
	if err != nil {
		return nil, err
	}
	return append([]models.SelectionItem(nil), items...), nil
}

// SetItemField edits one field of one item. The first edit materializes the
// overlay from the message; the message itself never changes.
func (t *Transcript) SetItemField(msgID, itemID string, field Field, value any) error {
	t.mu.Lock()
	if t.confirmed[msgID] {
		t.mu.Unlock()
		return fmt.Errorf("%s: %w", msgID, ErrConfirmed)
	}
	items, err := t.items(msgID)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	next := append([]models.SelectionItem(nil), items...)
	found := false
	for i := range next {
		if next[i].ID != itemID {
			continue
		}
		found = true
		switch field {
		case FieldSelected:
			v, ok := value.(bool)
			if !ok {
				t.mu.Unlock()
				return fmt.Errorf("%s wants bool, got %T: %w", field, value, ErrFieldType)
			}
			next[i].Selected = v
		case FieldNote:
			v, ok := value.(string)
			if !ok {
				t.mu.Unlock()
				return fmt.Errorf("%s wants string, got %T: %w", field, value, ErrFieldType)
			}
			next[i].Note = v
		default:
			t.mu.Unlock()
			return fmt.Errorf("field %q: %w", field, ErrFieldType)
		}
	}
	if !found {
		t.mu.Unlock()
		return fmt.Errorf("%s/%s: %w", msgID, itemID, ErrUnknownItem)
	}
	t.overlays[msgID] = next
	t.mu.Unlock()
	t.changed(msgID)
	return nil
}

// Confirm freezes the selection and returns its summary. Without any edits the
// message's own items are summarized.
func (t *Transcript) Confirm(msgID string) (string, error) {
	t.mu.Lock()
	if t.confirmed[msgID] {
		t.mu.Unlock()
		return "", fmt.Errorf("%s: %w", msgID, ErrConfirmed)
	}
	items, err := t.items(msgID)
	if err != nil {
		t.mu.Unlock()
		return "", err
	}
	summary := Summary(items)
	t.confirmed[msgID] = true
	t.mu.Unlock()
	t.changed(msgID)
	return summary, nil
}

// Unconfirm reopens a selection whose confirmation could not be delivered.
func (t *Transcript) Unconfirm(msgID string) {
	t.mu.Lock()
	delete(t.confirmed, msgID)
	t.mu.Unlock()
	t.changed(msgID)
}

// IsConfirmed reports whether msgID has been confirmed.
func (t *Transcript) IsConfirmed(msgID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.confirmed[msgID]
}

// PendingSelections returns the ids of messages with an unconfirmed selection.
func (t *Transcript) PendingSelections() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, m := range t.messages {
		if m.Content.HasSelection() && !t.confirmed[m.ID] {
			out = append(out, m.ID)
		}
	}
	return out
}
