// Package notice holds transient operator notices that dismiss themselves
// after a TTL.
package notice

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ankittk/agentdeck/pkg/models"
)

// Forwarder receives a copy of forwarded notices. *capabilities.Registry implements it.
type Forwarder interface {
	Notify(ctx context.Context, n models.Notice) error
}

// Options configures a Board.
type Options struct {
	TTL       time.Duration
	Forwarder Forwarder
	// ForwardLevels limits forwarding; empty forwards errors only.
	ForwardLevels []models.ActivityType
	Logger        *slog.Logger
}

// Change reports a posted or dismissed notice.
type Change struct {
	Notice    models.Notice `json:"notice"`
	Dismissed bool          `json:"dismissed"`
}

// Board is the set of visible notices. Safe for concurrent use.
type Board struct {
	ttl     time.Duration
	fwd     Forwarder
	levels  map[models.ActivityType]bool
	log     *slog.Logger
	mu      sync.Mutex
	active  []models.Notice
	timers  map[string]*time.Timer
	subMu   sync.Mutex
	subs    map[chan Change]struct{}
	forward sync.WaitGroup
}

// New returns an empty Board.
func New(opts Options) *Board {
	if opts.TTL <= 0 {
		opts.TTL = models.DefaultNoticeTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	levels := make(map[models.ActivityType]bool)
	for _, l := range opts.ForwardLevels {
		levels[l] = true
	}
	if len(levels) == 0 {
		levels[models.ActivityError] = true
	}
	return &Board{
		ttl:    opts.TTL,
		fwd:    opts.Forwarder,
		levels: levels,
		log:    opts.Logger,
		timers: make(map[string]*time.Timer),
		subs:   make(map[chan Change]struct{}),
	}
}

// Post shows a notice for the board's TTL.
func (b *Board) Post(level models.ActivityType, msg string) models.Notice {
	n := models.Notice{ID: uuid.NewString(), Level: level, Message: msg, Created: time.Now().UTC()}
	b.mu.Lock()
	b.active = append(b.active, n)
	b.timers[n.ID] = time.AfterFunc(b.ttl, func() { b.Dismiss(n.ID) })
	b.mu.Unlock()
	b.publish(Change{Notice: n})

	if b.fwd != nil && b.levels[level] {
		b.forward.Add(1)
		go func() {
			defer b.forward.Done()
			ctx, cancel := context.WithTimeout(context.Background(), models.DefaultRequestTimeout)
			defer cancel()
			if err := b.fwd.Notify(ctx, n); err != nil {
				b.log.Warn("notice forwarding failed", "notice_id", n.ID, "err", err)
			}
		}()
	}
	return n
}

// Error posts an error notice.
func (b *Board) Error(msg string) models.Notice { return b.Post(models.ActivityError, msg) }

// Info posts a system notice.
func (b *Board) Info(msg string) models.Notice { return b.Post(models.ActivitySystem, msg) }

// Dismiss removes the notice with id and reports whether it was visible.
func (b *Board) Dismiss(id string) bool {
	b.mu.Lock()
	idx := -1
	for i, n := range b.active {
		if n.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		b.mu.Unlock()
		return false
	}
	n := b.active[idx]
	b.active = append(b.active[:idx:idx], b.active[idx+1:]...)
	if t, ok := b.timers[id]; ok {
		t.Stop()
		delete(b.timers, id)
	}
	b.mu.Unlock()
	b.publish(Change{Notice: n, Dismissed: true})
	return true
}

// Active returns the visible notices, oldest first.
func (b *Board) Active() []models.Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Notice(nil), b.active...)
}

// Close stops pending timers and waits for in-flight forwards.
func (b *Board) Close() {
	b.mu.Lock()
	for id, t := range b.timers {
		t.Stop()
		delete(b.timers, id)
	}
	b.mu.Unlock()
	b.forward.Wait()
}

// Subscribe returns a channel of notice changes and a cancel func.
func (b *Board) Subscribe() (<-chan Change, func()) {
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

func (b *Board) publish(c Change) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- c:
		default:
		}
	}
}
