package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ankittk/agentdeck/internal/otel"
	"github.com/ankittk/agentdeck/internal/session"
	"github.com/ankittk/agentdeck/pkg/models"
)

// SSE message types.
const (
	MsgConnected  = "connected"
	MsgEntity     = "entity"
	MsgActivity   = "activity"
	MsgTranscript = "transcript"
	MsgNotice     = "notice"
	MsgConnection = "connection"
)

// SSEHub fans JSON messages out to every /stream subscriber.
type SSEHub struct {
	mu   sync.RWMutex
	subs map[chan []byte]struct{}
}

func NewSSEHub() *SSEHub {
	return &SSEHub{subs: make(map[chan []byte]struct{})}
}

func (h *SSEHub) Subscribe() chan []byte {
	ch := make(chan []byte, models.DefaultChangeBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	otel.AddSSEConnection()
	return ch
}

func (h *SSEHub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
		otel.RemoveSSEConnection()
	}
	h.mu.Unlock()
}

// Subscribers returns the number of open streams.
func (h *SSEHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *SSEHub) PublishJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	otel.RecordSSEEvent(context.Background())
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- b:
		default:
			// Drop if subscriber is too slow; prevents global backpressure.
		}
	}
}

func (h *SSEHub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		ch := h.Subscribe()
		defer h.Unsubscribe(ch)

		// Initial ping so clients know the stream is live.
		_, _ = fmt.Fprintf(w, "data: {\"type\":%q}\n\n", MsgConnected)
		flusher.Flush()

		keepalive := time.NewTicker(30 * time.Second)
		defer keepalive.Stop()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-keepalive.C:
				_, _ = fmt.Fprint(w, ": keepalive\n\n")
				flusher.Flush()
			case msg, ok := <-ch:
				if !ok {
					return
				}
				_, _ = fmt.Fprintf(w, "data: %s\n\n", string(msg))
				flusher.Flush()
			}
		}
	}
}

// Pump forwards store, ledger, transcript and notice changes of s to the hub
// until ctx ends. Views re-read the API on entity messages; activity and notice
// messages carry the full record.
func (h *SSEHub) Pump(ctx context.Context, s *session.Session) {
	entities, stopEntities := s.Store().Subscribe()
	defer stopEntities()
	activity, stopActivity := s.Ledger().Subscribe()
	defer stopActivity()
	transcripts, stopTranscripts := s.Book().Subscribe()
	defer stopTranscripts()
	notices, stopNotices := s.Notices().Subscribe()
	defer stopNotices()

	poll := time.NewTicker(time.Second)
	defer poll.Stop()
	state := s.State()

	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-entities:
			if !ok {
				return
			}
			h.PublishJSON(map[string]any{"type": MsgEntity, "change": c})
		case ev, ok := <-activity:
			if !ok {
				return
			}
			h.PublishJSON(map[string]any{"type": MsgActivity, "event": ev})
		case c, ok := <-transcripts:
			if !ok {
				return
			}
			h.PublishJSON(map[string]any{"type": MsgTranscript, "change": c})
		case c, ok := <-notices:
			if !ok {
				return
			}
			h.PublishJSON(map[string]any{"type": MsgNotice, "change": c})
		case <-poll.C:
			if st := s.State(); st != state {
				state = st
				h.PublishJSON(map[string]any{"type": MsgConnection, "state": st.String()})
			}
		}
	}
}
