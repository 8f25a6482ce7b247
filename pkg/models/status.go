package models

import "time"

// TaskStatus is one of the four canonical board states. Upstream vocabulary
// (completed, pending, in-progress, ...) is collapsed by internal/normalize.
type TaskStatus string

// Canonical task statuses, in board column order.
const (
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in_progress"
	StatusReview     TaskStatus = "review"
	StatusDone       TaskStatus = "done"
)

// TaskStatuses lists the canonical statuses in board column order.
var TaskStatuses = []TaskStatus{StatusTodo, StatusInProgress, StatusReview, StatusDone}

// Valid reports whether s is canonical.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusReview, StatusDone:
		return true
	}
	return false
}

// Label is the board column title.
func (s TaskStatus) Label() string {
	switch s {
	case StatusTodo:
		return "To Do"
	case StatusInProgress:
		return "In Progress"
	case StatusReview:
		return "Review"
	case StatusDone:
		return "Done"
	}
	return string(s)
}

// AgentStatus is the lifecycle status of an agent.
type AgentStatus string

// Agent statuses.
const (
	AgentOnline AgentStatus = "online"
	AgentIdle   AgentStatus = "idle"
	AgentBusy   AgentStatus = "busy"
	AgentError  AgentStatus = "error"
)

// Valid reports whether s is one of the fixed agent statuses.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentOnline, AgentIdle, AgentBusy, AgentError:
		return true
	}
	return false
}

// Priority is a task priority.
type Priority string

// Task priorities.
const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// ActivityType tags an activity feed entry.
type ActivityType string

// Activity types.
const (
	ActivityMessage ActivityType = "message"
	ActivityStatus  ActivityType = "status"
	ActivityTask    ActivityType = "task"
	ActivitySystem  ActivityType = "system"
	ActivityError   ActivityType = "error"
)

// ActivityTypes lists every activity type (feed filter order).
var ActivityTypes = []ActivityType{ActivityMessage, ActivityStatus, ActivityTask, ActivitySystem, ActivityError}

// Valid reports whether t is a known activity type.
func (t ActivityType) Valid() bool {
	switch t {
	case ActivityMessage, ActivityStatus, ActivityTask, ActivitySystem, ActivityError:
		return true
	}
	return false
}

// Push event names emitted by the orchestration service.
const (
	EventAgentsInitial      = "agents:initial"
	EventAgentRegistered    = "agent:registered"
	EventAgentStatus        = "agent:status"
	EventAgentMessage       = "agent:message"
	EventAgentTyping        = "agent:typing"
	EventTaskCreated        = "task:created"
	EventTaskUpdated        = "task:updated"
	EventTaskStatusChanged  = "task:status_changed"
	EventTaskDeleted        = "task:deleted"
	EventTaskAssigned       = "task:assigned"
	EventSystemNotification = "system:notification"
	EventProjectCreated     = "project:created"
	EventProjectUpdated     = "project:updated"
	EventProjectDeleted     = "project:deleted"
)

// Chat senders.
const (
	SenderUser   = "user"
	SenderAgent  = "agent"
	SenderSystem = "system"
)

// Default limits and timings.
const (
	DefaultLedgerCapacity      = 100
	DefaultLedgerSlot          = "dashboard_events"
	DefaultChangeBuffer        = 256
	DefaultMaxRequestBodyBytes = 1 << 20 // 1 MiB
	DefaultChatHistoryLimit    = 200
	DefaultRequestTimeout      = 10 * time.Second
	DefaultNoticeTTL           = 5 * time.Second
	DefaultReconnectMin        = 1 * time.Second
	DefaultReconnectMax        = 30 * time.Second
)
