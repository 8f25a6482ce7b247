package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestDecodeFrame(t *testing.T) {
	t.Parallel()
	ev, err := DecodeFrame([]byte(`{"event":"task:created","payload":{"id":"t1"}}`))
	if err != nil || ev.Name != "task:created" || string(ev.Payload) != `{"id":"t1"}` {
		t.Fatalf("object frame: got %+v, %v", ev, err)
	}
	ev, err = DecodeFrame([]byte(` ["agent:typing",{"agentId":"a1","isTyping":true}]`))
	if err != nil || ev.Name != "agent:typing" {
		t.Fatalf("array frame: got %+v, %v", ev, err)
	}
	for _, bad := range []string{`{}`, `[]`, `[1,2]`, `nope`, `{"payload":1}`} {
		if _, err := DecodeFrame([]byte(bad)); err != ErrBadFrame {
			t.Errorf("DecodeFrame(%s): got %v", bad, err)
		}
	}
}

func TestConnectionState_String(t *testing.T) {
	t.Parallel()
	if StateConnected.String() != "connected" || StateReconnecting.String() != "reconnecting" || ConnectionState(99).String() != "unknown" {
		t.Fatal("unexpected state names")
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestRun_deliversEventsInOrderAndReconnects(t *testing.T) {
	t.Parallel()
	var conns atomic.Int32
	var gotKey atomic.Value
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey.Store(r.Header.Get("X-API-Key"))
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		n := conns.Add(1)
		if n == 1 {
			_ = c.WriteMessage(websocket.TextMessage, []byte(`{"event":"a","payload":1}`))
			_ = c.WriteMessage(websocket.TextMessage, []byte(`garbage`))
			_ = c.WriteMessage(websocket.TextMessage, []byte(`{"event":"b","payload":2}`))
			return
		}
		_ = c.WriteMessage(websocket.TextMessage, []byte(`["c",3]`))
		_, _, _ = c.ReadMessage()
	}))
	defer srv.Close()

	cl := New(Options{URL: wsURL(srv), APIKey: "k", ReconnectMin: 10 * time.Millisecond, ReconnectMax: 20 * time.Millisecond})
	var mu sync.Mutex
	var names []string
	var states []ConnectionState
	got3 := make(chan struct{})
	cl.OnEvent(func(ev Event) {
		mu.Lock()
		names = append(names, ev.Name)
		if len(names) == 3 {
			close(got3)
		}
		mu.Unlock()
	})
	cl.OnStateChange(func(s ConnectionState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cl.Run(ctx) }()
	select {
	case <-got3:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for events")
	}
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Run: got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(names, ",") != "a,b,c" {
		t.Fatalf("events: got %v", names)
	}
	if gotKey.Load() != "k" {
		t.Fatalf("X-API-Key: got %v", gotKey.Load())
	}
	sawReconnect := false
	for _, s := range states {
		if s == StateReconnecting {
			sawReconnect = true
		}
	}
	if !sawReconnect || states[0] != StateConnecting || states[len(states)-1] != StateClosed {
		t.Fatalf("states: got %v", states)
	}
	if cl.State() != StateClosed {
		t.Fatalf("State: got %v", cl.State())
	}
}

func TestRun_dialFailureRetries(t *testing.T) {
	t.Parallel()
	cl := New(Options{URL: "ws://127.0.0.1:1/ws", ReconnectMin: 5 * time.Millisecond, ReconnectMax: 5 * time.Millisecond})
	var reconnecting atomic.Int32
	cl.OnStateChange(func(s ConnectionState) {
		if s == StateReconnecting {
			reconnecting.Add(1)
		}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := cl.Run(ctx); err != context.DeadlineExceeded {
		t.Fatalf("Run: got %v", err)
	}
	if reconnecting.Load() == 0 {
		t.Fatal("expected at least one reconnect attempt")
	}
}
