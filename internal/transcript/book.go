package transcript

import (
	"sort"
	"sync"

	"github.com/ankittk/agentdeck/pkg/models"
)

// Change identifies a transcript update. MessageID is empty for whole-transcript changes.
type Change struct {
	AgentID   string `json:"agent_id"`
	MessageID string `json:"message_id,omitempty"`
}

// Book holds every agent's transcript, created on first use.
type Book struct {
	mu          sync.Mutex
	transcripts map[string]*Transcript

	subMu sync.Mutex
	subs  map[chan Change]struct{}
}

// NewBook returns an empty Book.
func NewBook() *Book {
	return &Book{transcripts: make(map[string]*Transcript), subs: make(map[chan Change]struct{})}
}

// For returns agentID's transcript, creating it if needed.
func (b *Book) For(agentID string) *Transcript {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.transcripts[agentID]
	if !ok {
		t = newTranscript(agentID, b.publish)
		b.transcripts[agentID] = t
	}
	return t
}

// Lookup returns agentID's transcript without creating one.
func (b *Book) Lookup(agentID string) (*Transcript, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.transcripts[agentID]
	return t, ok
}

// AgentIDs lists agents with a transcript, sorted.
func (b *Book) AgentIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.transcripts))
	for id := range b.transcripts {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Subscribe returns a channel of transcript changes and a cancel func.
func (b *Book) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, models.DefaultChangeBuffer)
	b.subMu.Lock()
	b.subs[ch] = struct{}{}
	b.subMu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.subMu.Lock()
			delete(b.subs, ch)
			b.subMu.Unlock()
			close(ch)
		})
	}
}

func (b *Book) publish(agentID, msgID string) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- Change{AgentID: agentID, MessageID: msgID}:
		default:
		}
	}
}
