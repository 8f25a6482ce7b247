// Package models provides the canonical types of the synchronized dashboard state.
// These types are what the local views API serves and what pkg/client returns after
// normalization; upstream JSON shapes live in wire.go.
package models

import (
	"encoding/json"
	"time"
)

// Agent is a worker that receives tasks and chats with the operator.
type Agent struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Role         string      `json:"role,omitempty"`
	Category     string      `json:"category,omitempty"`
	Status       AgentStatus `json:"status"`
	Capabilities []string    `json:"capabilities,omitempty"`
	Emoji        string      `json:"emoji,omitempty"`
	Load         float64     `json:"load,omitempty"`
}

// Project groups tasks. BusinessModel and Analysis are opaque documents rendered elsewhere.
type Project struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Status        string          `json:"status,omitempty"`
	BusinessModel json.RawMessage `json:"business_model,omitempty"`
	Analysis      json.RawMessage `json:"analysis,omitempty"`
	CreatedAt     time.Time       `json:"created_at,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at,omitempty"`
}

// Subtask is a checklist entry embedded in a task.
type Subtask struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

// Task is a work item on the board. A task with ParentTaskID set is a subtask;
// subtasks never have children of their own.
type Task struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Status       TaskStatus `json:"status"`
	Priority     Priority   `json:"priority"`
	ParentTaskID *string    `json:"parent_task_id,omitempty"`
	ProjectID    *string    `json:"project_id,omitempty"`
	AgentIDs     []string   `json:"agent_ids,omitempty"`
	DueDate      *time.Time `json:"due_date,omitempty"`
	Subtasks     []Subtask  `json:"subtasks,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	CreatedAt    time.Time  `json:"created_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at,omitempty"`
}

// IsRoot reports whether t has no parent.
func (t Task) IsRoot() bool { return t.ParentTaskID == nil || *t.ParentTaskID == "" }

// IsSubtask reports whether t hangs off a parent task.
func (t Task) IsSubtask() bool { return !t.IsRoot() }

// Progress returns the number of completed checklist entries and the total.
func (t Task) Progress() (done, total int) {
	for _, s := range t.Subtasks {
		if s.Completed {
			done++
		}
	}
	return done, len(t.Subtasks)
}

// AssignedTo reports whether agentID is among the task's assignees.
func (t Task) AssignedTo(agentID string) bool {
	for _, id := range t.AgentIDs {
		if id == agentID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate without aliasing store state.
func (t Task) Clone() Task {
	c := t
	if t.ParentTaskID != nil {
		v := *t.ParentTaskID
		c.ParentTaskID = &v
	}
	if t.ProjectID != nil {
		v := *t.ProjectID
		c.ProjectID = &v
	}
	if t.DueDate != nil {
		v := *t.DueDate
		c.DueDate = &v
	}
	c.AgentIDs = append([]string(nil), t.AgentIDs...)
	c.Subtasks = append([]Subtask(nil), t.Subtasks...)
	c.Tags = append([]string(nil), t.Tags...)
	return c
}

// TaskPatch is a partial task update. Nil fields are left unchanged; a zero
// DueDate clears the due date.
type TaskPatch struct {
	Title       *string     `json:"title,omitempty"`
	Description *string     `json:"description,omitempty"`
	Status      *TaskStatus `json:"status,omitempty"`
	Priority    *Priority   `json:"priority,omitempty"`
	AgentIDs    *[]string   `json:"agent_ids,omitempty"`
	DueDate     *time.Time  `json:"due_date,omitempty"`
	Subtasks    *[]Subtask  `json:"subtasks,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil && p.Priority == nil &&
		p.AgentIDs == nil && p.DueDate == nil && p.Subtasks == nil
}

// Apply merges the non-nil fields of p into t.
func (p TaskPatch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.AgentIDs != nil {
		t.AgentIDs = append([]string(nil), (*p.AgentIDs)...)
	}
	if p.DueDate != nil {
		if p.DueDate.IsZero() {
			t.DueDate = nil
		} else {
			d := *p.DueDate
			t.DueDate = &d
		}
	}
	if p.Subtasks != nil {
		t.Subtasks = append([]Subtask(nil), (*p.Subtasks)...)
	}
}

// AgentPatch is a partial agent update.
type AgentPatch struct {
	Status *AgentStatus `json:"status,omitempty"`
	Name   *string      `json:"name,omitempty"`
	Load   *float64     `json:"load,omitempty"`
}

// ProjectPatch is a partial project update.
type ProjectPatch struct {
	Name          *string          `json:"name,omitempty"`
	Description   *string          `json:"description,omitempty"`
	Status        *string          `json:"status,omitempty"`
	BusinessModel *json.RawMessage `json:"business_model,omitempty"`
	Analysis      *json.RawMessage `json:"analysis,omitempty"`
}

// ActivityEvent is one narrated entry of the activity feed.
type ActivityEvent struct {
	ID        string          `json:"id"`
	Type      ActivityType    `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	AgentID   *string         `json:"agent_id,omitempty"`
	AgentName string          `json:"agent_name,omitempty"`
	Message   string          `json:"message"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// SelectionItem is one choice of an interactive selection list.
type SelectionItem struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Selected bool   `json:"selected"`
	Note     string `json:"note,omitempty"`
}

// InteractiveSelection is a checklist an agent asks the operator to fill in.
type InteractiveSelection struct {
	Type  string          `json:"type"`
	Title string          `json:"title,omitempty"`
	Items []SelectionItem `json:"items"`
}

// SelectionList is the only interactive type the agents emit today.
const SelectionList = "selection_list"

// ContentKind discriminates Content.
type ContentKind string

// Content kinds.
const (
	ContentPlain      ContentKind = "plain"
	ContentStructured ContentKind = "structured"
)

// Content is a chat message body: either plain text or structured text with an
// optional interactive selection. Resolve it once at ingestion via internal/normalize.
type Content struct {
	Kind        ContentKind           `json:"kind"`
	Text        string                `json:"text"`
	Interactive *InteractiveSelection `json:"interactive,omitempty"`
}

// PlainContent returns a plain text body.
func PlainContent(text string) Content {
	return Content{Kind: ContentPlain, Text: text}
}

// StructuredContent returns a structured body; sel may be nil.
func StructuredContent(text string, sel *InteractiveSelection) Content {
	return Content{Kind: ContentStructured, Text: text, Interactive: sel}
}

// HasSelection reports whether the body carries an interactive selection with items.
func (c Content) HasSelection() bool {
	return c.Interactive != nil && len(c.Interactive.Items) > 0
}

// MessageState tracks delivery of operator-originated chat messages.
type MessageState string

// Message delivery states. Agent messages carry no state.
const (
	MessagePending MessageState = "pending"
	MessageSent    MessageState = "sent"
	MessageFailed  MessageState = "failed"
)

// ChatMessage is one transcript entry.
type ChatMessage struct {
	ID        string       `json:"id"`
	AgentID   string       `json:"agent_id"`
	Sender    string       `json:"sender"`
	Content   Content      `json:"content"`
	Timestamp time.Time    `json:"timestamp"`
	TaskID    *string      `json:"task_id,omitempty"`
	State     MessageState `json:"state,omitempty"`
}

// Counts is the number of tasks per canonical status.
type Counts map[TaskStatus]int

// Notice is a transient user-visible message.
type Notice struct {
	ID      string       `json:"id"`
	Level   ActivityType `json:"level"`
	Message string       `json:"message"`
	Created time.Time    `json:"created"`
}
