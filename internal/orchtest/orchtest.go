// Package orchtest runs an in-process stand-in for the orchestration service:
// the REST endpoints pkg/client calls and the websocket event stream.
package orchtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ankittk/agentdeck/pkg/models"
)

// Chat is one POST /api/agents/{id}/chat the server received.
type Chat struct {
	AgentID string
	Message string
	TaskID  *string
}

// Server is a scripted orchestration service. Safe for concurrent use.
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	agents     []models.WireAgent
	projects   []models.WireProject
	tasks      []models.WireTask
	history    map[string][]models.WireHistoryEntry
	chats      []Chat
	updates    []models.WireTaskUpdate
	failUpdate int
	failChat   int
	statusMap  map[string]string
	conns      map[*websocket.Conn]struct{}
	connected  chan struct{}
}

// New starts a server seeded with one agent (a1 "Ada") and one task (t1
// "Landing page", todo, with subtask s1). It closes with the test.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		agents: []models.WireAgent{{ID: "a1", Name: ptr("Ada"), Role: "engineer", Status: "active"}},
		tasks: []models.WireTask{{
			ID: "t1", Title: "Landing page", Status: "todo", Priority: "medium",
			Subtasks: []models.WireSubtask{{ID: "s1", Title: "copy"}},
		}},
		history:   map[string][]models.WireHistoryEntry{},
		statusMap: map[string]string{},
		conns:     map[*websocket.Conn]struct{}{},
		connected: make(chan struct{}, 16),
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

func ptr(s string) *string { return &s }

// StreamURL is the websocket endpoint.
func (s *Server) StreamURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		s.mu.Lock()
		n := len(s.agents)
		s.mu.Unlock()
		reply(w, http.StatusOK, map[string]any{"success": true, "status": "healthy", "agents": n})
	})
	r.Get("/api/agents", func(w http.ResponseWriter, _ *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		reply(w, http.StatusOK, map[string]any{"success": true, "count": len(s.agents), "agents": s.agents})
	})
	r.Get("/api/projects", func(w http.ResponseWriter, _ *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		reply(w, http.StatusOK, map[string]any{"success": true, "projects": s.projects})
	})
	r.Get("/api/tasks", func(w http.ResponseWriter, _ *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		reply(w, http.StatusOK, map[string]any{"success": true, "tasks": s.tasks})
	})
	r.Get("/api/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if i := s.taskIndex(chi.URLParam(r, "id")); i >= 0 {
			reply(w, http.StatusOK, map[string]any{"success": true, "task": s.tasks[i]})
			return
		}
		reply(w, http.StatusNotFound, map[string]any{"success": false, "error": "Task not found"})
	})
	r.Patch("/api/tasks/{id}", s.updateTask)
	r.Patch("/api/tasks/{id}/subtasks/{sub}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Completed bool `json:"completed"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		defer s.mu.Unlock()
		i := s.taskIndex(chi.URLParam(r, "id"))
		if i < 0 {
			reply(w, http.StatusNotFound, map[string]any{"success": false, "error": "Task not found"})
			return
		}
		for j := range s.tasks[i].Subtasks {
			if s.tasks[i].Subtasks[j].ID == chi.URLParam(r, "sub") {
				s.tasks[i].Subtasks[j].Completed = body.Completed
			}
		}
		reply(w, http.StatusOK, map[string]any{"success": true})
	})
	r.Post("/api/agents/{id}/chat", func(w http.ResponseWriter, r *http.Request) {
		var body models.WireChatRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			reply(w, http.StatusBadRequest, map[string]any{"success": false, "error": "bad body"})
			return
		}
		s.mu.Lock()
		fail := s.failChat
		if fail == 0 {
			s.chats = append(s.chats, Chat{AgentID: chi.URLParam(r, "id"), Message: body.Message, TaskID: body.TaskID})
		}
		s.mu.Unlock()
		if fail != 0 {
			reply(w, fail, map[string]any{"success": false, "error": "chat failed"})
			return
		}
		reply(w, http.StatusOK, map[string]any{"success": true, "message": "Message sent"})
	})
	r.Get("/api/agents/{id}/chat/history", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		reply(w, http.StatusOK, map[string]any{"success": true, "messages": s.history[chi.URLParam(r, "id")], "agentId": chi.URLParam(r, "id")})
	})
	r.Get("/ws", s.stream)
	return r
}

func (s *Server) taskIndex(id string) int {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	var body models.WireTaskUpdate
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		reply(w, http.StatusBadRequest, map[string]any{"success": false, "error": "bad body"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, body)
	if s.failUpdate != 0 {
		reply(w, s.failUpdate, map[string]any{"success": false, "error": "update failed"})
		return
	}
	i := s.taskIndex(chi.URLParam(r, "id"))
	if i < 0 {
		reply(w, http.StatusNotFound, map[string]any{"success": false, "error": "Task not found"})
		return
	}
	t := &s.tasks[i]
	if body.Status != nil {
		t.Status = *body.Status
		if mapped, ok := s.statusMap[*body.Status]; ok {
			t.Status = mapped
		}
	}
	if body.Title != nil {
		t.Title = *body.Title
	}
	if body.Priority != nil {
		t.Priority = *body.Priority
	}
	if body.Description != nil {
		t.Description = body.Description
	}
	if body.AgentIDs != nil {
		t.AgentIDs = *body.AgentIDs
	}
	reply(w, http.StatusOK, map[string]any{"success": true, "task": *t})
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	agents := s.agents
	s.mu.Unlock()
	_ = s.write(c, models.EventAgentsInitial, agents)
	select {
	case s.connected <- struct{}{}:
	default:
	}
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	_ = c.Close()
}

func (s *Server) write(c *websocket.Conn, event string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(map[string]any{"event": event, "payload": json.RawMessage(b)})
	if err != nil {
		return err
	}
	_ = c.SetWriteDeadline(time.Now().Add(2 * time.Second))
	return c.WriteMessage(websocket.TextMessage, frame)
}

// WaitConnected blocks until a stream client connected or the timeout passed.
func (s *Server) WaitConnected(timeout time.Duration) bool {
	select {
	case <-s.connected:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Emit sends one event to every connected stream client.
func (s *Server) Emit(event string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = s.write(c, event, payload)
	}
}

// DropStreams closes every stream connection, forcing clients to reconnect.
func (s *Server) DropStreams() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
		delete(s.conns, c)
	}
}

// SetTasks replaces the task list.
func (s *Server) SetTasks(ts ...models.WireTask) {
	s.mu.Lock()
	s.tasks = ts
	s.mu.Unlock()
}

// SetAgents replaces the roster.
func (s *Server) SetAgents(as ...models.WireAgent) {
	s.mu.Lock()
	s.agents = as
	s.mu.Unlock()
}

// SetHistory sets the stored conversation with one agent.
func (s *Server) SetHistory(agentID string, rows ...models.WireHistoryEntry) {
	s.mu.Lock()
	s.history[agentID] = rows
	s.mu.Unlock()
}

// FailTaskUpdates makes PATCH /api/tasks/{id} answer status; 0 restores success.
func (s *Server) FailTaskUpdates(status int) {
	s.mu.Lock()
	s.failUpdate = status
	s.mu.Unlock()
}

// FailChats makes POST /api/agents/{id}/chat answer status; 0 restores success.
func (s *Server) FailChats(status int) {
	s.mu.Lock()
	s.failChat = status
	s.mu.Unlock()
}

// MapStatus makes the server store to whenever a client asks for from.
func (s *Server) MapStatus(from, to string) {
	s.mu.Lock()
	s.statusMap[from] = to
	s.mu.Unlock()
}

// Chats returns the chat messages received so far.
func (s *Server) Chats() []Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Chat(nil), s.chats...)
}

// Updates returns the task update bodies received so far.
func (s *Server) Updates() []models.WireTaskUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.WireTaskUpdate(nil), s.updates...)
}

func reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
