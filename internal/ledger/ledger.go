// Package ledger holds the bounded, newest-first activity feed and mirrors it to
// a durable slot after every write.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ankittk/agentdeck/internal/normalize"
	"github.com/ankittk/agentdeck/internal/store"
	"github.com/ankittk/agentdeck/pkg/models"
)

// Persister is the durable slot the ledger mirrors to. store.Slot implements it.
type Persister interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, value []byte) error
}

// Options configures a Ledger.
type Options struct {
	Capacity int       // default models.DefaultLedgerCapacity
	Slot     Persister // nil keeps the ledger in memory only
	Logger   *slog.Logger
	Now      func() time.Time
}

// Ledger is a bounded FIFO of activity events, newest first. Safe for concurrent use.
type Ledger struct {
	mu       sync.RWMutex
	events   []models.ActivityEvent
	capacity int
	slot     Persister
	degraded bool
	log      *slog.Logger
	now      func() time.Time

	persistMu sync.Mutex

	subMu sync.Mutex
	subs  map[chan models.ActivityEvent]struct{}
}

// New returns an empty ledger. Call Hydrate to load the persisted snapshot.
func New(opts Options) *Ledger {
	if opts.Capacity <= 0 {
		opts.Capacity = models.DefaultLedgerCapacity
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Ledger{
		capacity: opts.Capacity,
		slot:     opts.Slot,
		log:      opts.Logger,
		now:      opts.Now,
		subs:     make(map[chan models.ActivityEvent]struct{}),
	}
}

// NewEvent returns an event with a fresh time-ordered id and the current time.
func NewEvent(t models.ActivityType, message string) models.ActivityEvent {
	return models.ActivityEvent{ID: newID(), Type: t, Timestamp: time.Now().UTC(), Message: message}
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Append inserts ev at the head, evicts the oldest entry past capacity and
// persists the result. Missing ids and timestamps are filled in.
func (l *Ledger) Append(ev models.ActivityEvent) {
	l.AppendBatch(ev)
}

// AppendBatch appends events in order; the last one ends up at the head.
func (l *Ledger) AppendBatch(evs ...models.ActivityEvent) {
	if len(evs) == 0 {
		return
	}
	l.mu.Lock()
	for i := range evs {
		if evs[i].ID == "" {
			evs[i].ID = newID()
		}
		if evs[i].Timestamp.IsZero() {
			evs[i].Timestamp = l.now().UTC()
		}
	}
	next := make([]models.ActivityEvent, 0, min(len(l.events)+len(evs), l.capacity))
	for i := len(evs) - 1; i >= 0 && len(next) < l.capacity; i-- {
		next = append(next, evs[i])
	}
	for _, e := range l.events {
		if len(next) >= l.capacity {
			break
		}
		next = append(next, e)
	}
	l.events = next
	l.mu.Unlock()

	l.persist()
	for _, ev := range evs {
		l.publish(ev)
	}
}

// Snapshot returns a copy of the events, newest first.
func (l *Ledger) Snapshot() []models.ActivityEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.ActivityEvent(nil), l.events...)
}

// Len returns the number of held events.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Filter yields the events matching pred, newest first. It reads a snapshot
// taken when iteration starts and never mutates the ledger.
func (l *Ledger) Filter(pred func(models.ActivityEvent) bool) iter.Seq[models.ActivityEvent] {
	return func(yield func(models.ActivityEvent) bool) {
		for _, ev := range l.Snapshot() {
			if pred != nil && !pred(ev) {
				continue
			}
			if !yield(ev) {
				return
			}
		}
	}
}

// ByType matches events of type t. The empty type matches everything.
func ByType(t models.ActivityType) func(models.ActivityEvent) bool {
	return func(ev models.ActivityEvent) bool { return t == "" || ev.Type == t }
}

// ByAgent matches events attributed to agentID.
func ByAgent(agentID string) func(models.ActivityEvent) bool {
	return func(ev models.ActivityEvent) bool { return ev.AgentID != nil && *ev.AgentID == agentID }
}

// Clear empties the ledger and persists the empty state.
func (l *Ledger) Clear() {
	l.mu.Lock()
	l.events = nil
	l.mu.Unlock()
	l.persist()
}

// Degraded reports whether a persistence failure switched the ledger to memory-only.
func (l *Ledger) Degraded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.degraded
}

// Subscribe returns a channel receiving appended events and a cancel func.
// Slow subscribers miss events rather than block appends.
func (l *Ledger) Subscribe() (<-chan models.ActivityEvent, func()) {
	ch := make(chan models.ActivityEvent, models.DefaultChangeBuffer)
	l.subMu.Lock()
	l.subs[ch] = struct{}{}
	l.subMu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.subMu.Lock()
			delete(l.subs, ch)
			l.subMu.Unlock()
			close(ch)
		})
	}
}

func (l *Ledger) publish(ev models.ActivityEvent) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	for ch := range l.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// persist writes the current events. persistMu orders concurrent writers so the
// slot always ends with the latest snapshot.
func (l *Ledger) persist() {
	if l.slot == nil {
		return
	}
	l.persistMu.Lock()
	defer l.persistMu.Unlock()
	l.mu.RLock()
	degraded := l.degraded
	events := l.events
	l.mu.RUnlock()
	if degraded {
		return
	}
	if events == nil {
		events = []models.ActivityEvent{}
	}
	b, err := json.Marshal(events)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = l.slot.Save(ctx, b)
		cancel()
	}
	if err != nil {
		l.mu.Lock()
		first := !l.degraded
		l.degraded = true
		l.mu.Unlock()
		if first {
			l.log.Warn("activity ledger persistence failed; continuing in memory only", "err", err)
		}
	}
}

// hydrated accepts both this package's snapshot keys and the camelCase keys
// the browser dashboard wrote, so an exported feed can be imported as-is. The
// browser used numeric ids and put the body under message or content.
type hydrated struct {
	ID           json.RawMessage `json:"id"`
	Type         string          `json:"type"`
	Timestamp    json.RawMessage `json:"timestamp"`
	AgentID      json.RawMessage `json:"agent_id"`
	AgentIDCamel json.RawMessage `json:"agentId"`
	AgentName    string          `json:"agent_name"`
	AgentNameAlt string          `json:"agentName"`
	Message      json.RawMessage `json:"message"`
	Content      json.RawMessage `json:"content"`
	Raw          json.RawMessage `json:"raw"`
	Data         json.RawMessage `json:"data"`
}

// Hydrate replaces the in-memory events with the persisted snapshot. An absent,
// empty or malformed slot yields an empty ledger. A read error is returned and
// switches the ledger to memory-only, so the unread history is never overwritten.
func (l *Ledger) Hydrate(ctx context.Context) error {
	if l.slot == nil {
		return nil
	}
	b, err := l.slot.Load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		l.mu.Lock()
		first := !l.degraded
		l.degraded = true
		l.mu.Unlock()
		if first {
			l.log.Warn("activity ledger unreadable; continuing in memory only", "err", err)
		}
		return err
	}
	events := decodeSnapshot(b, l.capacity, l.log)
	l.mu.Lock()
	l.events = events
	l.mu.Unlock()
	return nil
}

func decodeSnapshot(b []byte, capacity int, log *slog.Logger) []models.ActivityEvent {
	if len(b) == 0 {
		return nil
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(b, &rows); err != nil {
		log.Warn("discarding malformed activity snapshot", "err", err)
		return nil
	}
	out := make([]models.ActivityEvent, 0, min(len(rows), capacity))
	for _, row := range rows {
		if len(out) >= capacity {
			break
		}
		var h hydrated
		if err := json.Unmarshal(row, &h); err != nil {
			log.Debug("skipping malformed activity entry", "err", err)
			continue
		}
		out = append(out, h.event())
	}
	return out
}

func (h hydrated) event() models.ActivityEvent {
	ev := models.ActivityEvent{
		ID:        normalize.RawID(h.ID),
		Type:      models.ActivityType(h.Type),
		Timestamp: repairTimestamp(h.Timestamp),
		AgentName: h.AgentName,
		Raw:       h.Raw,
	}
	if ev.ID == "" {
		ev.ID = newID()
	}
	if !ev.Type.Valid() {
		ev.Type = models.ActivitySystem
	}
	agentID := normalize.RawID(h.AgentID)
	if agentID == "" {
		agentID = normalize.RawID(h.AgentIDCamel)
	}
	if agentID != "" {
		ev.AgentID = &agentID
	}
	if ev.AgentName == "" {
		ev.AgentName = h.AgentNameAlt
	}
	if ev.Raw == nil && len(h.Data) > 0 {
		ev.Raw = h.Data
	}
	body := h.Message
	if isNull(body) {
		body = h.Content
	}
	if !isNull(body) {
		ev.Message = normalize.Text(body)
	}
	return ev
}

func isNull(raw json.RawMessage) bool {
	b := bytes.TrimSpace(raw)
	return len(b) == 0 || bytes.Equal(b, []byte("null"))
}
