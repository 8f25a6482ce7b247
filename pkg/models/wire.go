package models

import "encoding/json"

// Upstream JSON shapes. Optional fields are pointers so "absent" and "present but
// empty" stay distinguishable; internal/normalize turns these into canonical types.

// WireAgent is an agent as GET /api/agents and agents:initial emit it.
type WireAgent struct {
	ID       string   `json:"id"`
	Name     *string  `json:"name"`
	Role     string   `json:"role"`
	Category string   `json:"category"`
	Status   string   `json:"status"`
	Skills   []string `json:"skills"`
	Emoji    string   `json:"emoji"`
	Load     float64  `json:"load"`
}

// WireTaskAgent is a task/agent join row.
type WireTaskAgent struct {
	AgentID string `json:"agentId"`
	Agent   *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"agent"`
}

// WireSubtask is a checklist row.
type WireSubtask struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

// WireTask is a task as the REST API and task:created/task:updated emit it.
// Tags arrive either as an array or as a JSON-encoded string of one.
type WireTask struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Description  *string         `json:"description"`
	Status       string          `json:"status"`
	Priority     string          `json:"priority"`
	ParentTaskID *string         `json:"parentTaskId"`
	ProjectID    *string         `json:"projectId"`
	AgentIDs     []string        `json:"agentIds"`
	Agents       []WireTaskAgent `json:"agents"`
	DueDate      *string         `json:"dueDate"`
	Subtasks     []WireSubtask   `json:"subtasks"`
	Tags         json.RawMessage `json:"tags"`
	CreatedAt    json.RawMessage `json:"createdAt"`
	UpdatedAt    json.RawMessage `json:"updatedAt"`
}

// WireProject is a project as the REST API and project:* events emit it.
type WireProject struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   *string         `json:"description"`
	Status        string          `json:"status"`
	BusinessModel json.RawMessage `json:"businessModel"`
	Analysis      json.RawMessage `json:"analysisResult"`
	CreatedAt     json.RawMessage `json:"createdAt"`
	UpdatedAt     json.RawMessage `json:"updatedAt"`
}

// WireTaskUpdate is the REST body for PATCH /api/tasks/{id} and POST /api/tasks.
type WireTaskUpdate struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Status      *string   `json:"status,omitempty"`
	Priority    *string   `json:"priority,omitempty"`
	AgentIDs    *[]string `json:"agentIds,omitempty"`
	DueDate     *string   `json:"dueDate,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
	ProjectID   *string   `json:"projectId,omitempty"`
}

// WireChatRequest is the body of POST /api/agents/{id}/chat.
type WireChatRequest struct {
	Message string  `json:"message"`
	TaskID  *string `json:"taskId,omitempty"`
}

// WireHistoryEntry is one row of GET /api/agents/{id}/chat/history. Content is
// either plain text or a JSON-encoded structured reply; older rows use Message.
type WireHistoryEntry struct {
	ID        string          `json:"id"`
	FromID    string          `json:"fromId"`
	ToID      string          `json:"toId"`
	Content   json.RawMessage `json:"content"`
	Message   json.RawMessage `json:"message"`
	Sender    *string         `json:"sender"`
	Timestamp json.RawMessage `json:"timestamp"`
	CreatedAt json.RawMessage `json:"createdAt"`
}

// AgentStatusPayload is the agent:status payload.
type AgentStatusPayload struct {
	AgentID     string  `json:"agentId"`
	Status      string  `json:"status"`
	AgentName   *string `json:"agentName"`
	DisplayName *string `json:"displayName"`
	TaskID      *string `json:"taskId"`
}

// AgentMessagePayload is the agent:message payload. Message may be a string or a
// structured object; proactive messages use Content plus a top-level Interactive.
// ID arrives as a string or as an epoch-millis number.
type AgentMessagePayload struct {
	ID          json.RawMessage `json:"id"`
	AgentID     *string         `json:"agentId"`
	FromID      *string         `json:"fromId"`
	From        *string         `json:"from"`
	FromName    *string         `json:"fromName"`
	AgentName   *string         `json:"agentName"`
	DisplayName *string         `json:"displayName"`
	Sender      *string         `json:"sender"`
	Message     json.RawMessage `json:"message"`
	Content     json.RawMessage `json:"content"`
	Interactive json.RawMessage `json:"interactive"`
	TaskID      *string         `json:"taskId"`
	Timestamp   json.RawMessage `json:"timestamp"`
}

// AgentTypingPayload is the agent:typing payload.
type AgentTypingPayload struct {
	AgentID  string `json:"agentId"`
	IsTyping bool   `json:"isTyping"`
}

// TaskRefPayload carries a bare task reference (task:deleted and subtask-only task:updated).
type TaskRefPayload struct {
	TaskID string `json:"taskId"`
	ID     string `json:"id"`
}

// Ref returns whichever identifier is set.
func (p TaskRefPayload) Ref() string {
	if p.TaskID != "" {
		return p.TaskID
	}
	return p.ID
}

// TaskStatusChangedPayload is the task:status_changed payload.
type TaskStatusChangedPayload struct {
	TaskID    string  `json:"taskId"`
	Status    string  `json:"status"`
	AgentID   *string `json:"agentId"`
	AgentName *string `json:"agentName"`
}

// TaskAssignedPayload is the task:assigned payload.
type TaskAssignedPayload struct {
	TaskID      *string `json:"taskId"`
	TaskName    string  `json:"taskName"`
	AgentID     *string `json:"agentId"`
	AgentName   *string `json:"agentName"`
	DisplayName *string `json:"displayName"`
}

// SystemNotificationPayload is the system:notification payload.
type SystemNotificationPayload struct {
	Message json.RawMessage `json:"message"`
	Level   string          `json:"level"`
}
