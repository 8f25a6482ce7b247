// Package transport receives push events from the orchestration service over a
// websocket and keeps the connection alive with exponential backoff.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ankittk/agentdeck/internal/otel"
	"github.com/ankittk/agentdeck/pkg/models"
)

// ConnectionState tracks the event stream lifecycle.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one push event as received. Payload is left undecoded.
type Event struct {
	Name     string
	Payload  json.RawMessage
	Received time.Time
}

// ErrBadFrame is returned by DecodeFrame for frames that are not events.
var ErrBadFrame = errors.New("malformed event frame")

// DecodeFrame accepts {"event": name, "payload": ...} objects and
// ["name", payload] arrays.
func DecodeFrame(data []byte) (Event, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(data, &arr); err != nil || len(arr) == 0 {
			return Event{}, ErrBadFrame
		}
		var name string
		if err := json.Unmarshal(arr[0], &name); err != nil || name == "" {
			return Event{}, ErrBadFrame
		}
		ev := Event{Name: name}
		if len(arr) > 1 {
			ev.Payload = arr[1]
		}
		return ev, nil
	}
	var f struct {
		Event   string          `json:"event"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
		return Event{}, ErrBadFrame
	}
	return Event{Name: f.Event, Payload: f.Payload}, nil
}

// Options configures a Client.
type Options struct {
	URL          string
	APIKey       string
	Token        func(ctx context.Context) (string, error)
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	Dialer       *websocket.Dialer
	Logger       *slog.Logger
}

// Client is a reconnecting event stream. Handlers run on the read goroutine in
// delivery order and must not block for long.
type Client struct {
	opts Options
	log  *slog.Logger

	mu            sync.RWMutex
	conn          *websocket.Conn
	state         ConnectionState
	onEvent       func(Event)
	onStateChange func(ConnectionState)
}

// New returns a Client; call Run to connect.
func New(opts Options) *Client {
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = models.DefaultReconnectMin
	}
	if opts.ReconnectMax < opts.ReconnectMin {
		opts.ReconnectMax = models.DefaultReconnectMax
		if opts.ReconnectMax < opts.ReconnectMin {
			opts.ReconnectMax = opts.ReconnectMin
		}
	}
	if opts.Dialer == nil {
		d := *websocket.DefaultDialer
		d.HandshakeTimeout = 10 * time.Second
		opts.Dialer = &d
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{opts: opts, log: opts.Logger}
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// OnEvent sets the handler for incoming events.
func (c *Client) OnEvent(fn func(Event)) {
	c.mu.Lock()
	c.onEvent = fn
	c.mu.Unlock()
}

// OnStateChange sets the handler for connection state changes.
func (c *Client) OnStateChange(fn func(ConnectionState)) {
	c.mu.Lock()
	c.onStateChange = fn
	c.mu.Unlock()
}

func (c *Client) setState(s ConnectionState) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	cb := c.onStateChange
	c.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// Run connects and reads events until ctx is cancelled, reconnecting after
// every failure. It returns ctx.Err().
func (c *Client) Run(ctx context.Context) error {
	delay := c.opts.ReconnectMin
	first := true
	for {
		if first {
			c.setState(StateConnecting)
		} else {
			c.setState(StateReconnecting)
			otel.RecordReconnect(ctx)
		}
		conn, err := c.dial(ctx)
		if err == nil {
			delay = c.opts.ReconnectMin
			c.setState(StateConnected)
			err = c.readLoop(ctx, conn)
		}
		if ctx.Err() != nil {
			c.setState(StateClosed)
			return ctx.Err()
		}
		first = false
		c.log.Warn("event stream lost", "url", c.opts.URL, "err", err, "retry_in", delay)
		c.setState(StateReconnecting)
		select {
		case <-ctx.Done():
			c.setState(StateClosed)
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > c.opts.ReconnectMax {
			delay = c.opts.ReconnectMax
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	h := http.Header{}
	if c.opts.APIKey != "" {
		h.Set("X-API-Key", c.opts.APIKey)
	}
	if c.opts.Token != nil {
		tok, err := c.opts.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("bearer token: %w", err)
		}
		if tok != "" {
			h.Set("Authorization", "Bearer "+tok)
		}
	}
	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, h)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return conn, nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer func() {
		stop()
		_ = conn.Close()
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
	}()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("closed by server: %w", err)
			}
			return err
		}
		ev, err := DecodeFrame(data)
		if err != nil {
			c.log.Debug("skipping frame", "err", err, "bytes", len(data))
			continue
		}
		ev.Received = time.Now().UTC()
		c.mu.RLock()
		cb := c.onEvent
		c.mu.RUnlock()
		if cb != nil {
			cb(ev)
		}
	}
}
