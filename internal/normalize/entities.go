package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ankittk/agentdeck/pkg/models"
)

// Task converts a wire task. An unknown status rejects the task; an unknown
// priority degrades to medium.
func Task(w models.WireTask) (models.Task, error) {
	if w.ID == "" {
		return models.Task{}, fmt.Errorf("task: %w", ErrMissingID)
	}
	status, err := TaskStatus(w.Status)
	if err != nil {
		return models.Task{}, fmt.Errorf("task %s: %w", w.ID, err)
	}
	prio, err := Priority(w.Priority)
	if err != nil {
		prio = models.PriorityMedium
	}
	t := models.Task{
		ID:           w.ID,
		Title:        w.Title,
		Status:       status,
		Priority:     prio,
		ParentTaskID: nonEmpty(w.ParentTaskID),
		ProjectID:    nonEmpty(w.ProjectID),
		AgentIDs:     taskAgentIDs(w),
		Tags:         tags(w.Tags),
	}
	if w.Description != nil {
		t.Description = *w.Description
	}
	if w.DueDate != nil {
		if d, err := TimestampString(*w.DueDate); err == nil && !d.IsZero() {
			t.DueDate = &d
		}
	}
	for _, s := range w.Subtasks {
		t.Subtasks = append(t.Subtasks, models.Subtask{ID: s.ID, Title: s.Title, Completed: s.Completed})
	}
	t.CreatedAt, _ = Timestamp(w.CreatedAt)
	t.UpdatedAt, _ = Timestamp(w.UpdatedAt)
	return t, nil
}

// Tasks converts a batch, returning the converted tasks and one error per rejected task.
func Tasks(ws []models.WireTask) ([]models.Task, []error) {
	out := make([]models.Task, 0, len(ws))
	var errs []error
	for _, w := range ws {
		t, err := Task(w)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, t)
	}
	return out, errs
}

// Agent converts a wire agent. A missing name falls back to the id.
func Agent(w models.WireAgent) (models.Agent, error) {
	if w.ID == "" {
		return models.Agent{}, fmt.Errorf("agent: %w", ErrMissingID)
	}
	status, err := AgentStatus(w.Status)
	if err != nil {
		return models.Agent{}, fmt.Errorf("agent %s: %w", w.ID, err)
	}
	return models.Agent{
		ID:           w.ID,
		Name:         DisplayName(w.Name, nil, &w.ID),
		Role:         w.Role,
		Category:     w.Category,
		Status:       status,
		Capabilities: append([]string(nil), w.Skills...),
		Emoji:        w.Emoji,
		Load:         w.Load,
	}, nil
}

// Agents converts a roster snapshot.
func Agents(ws []models.WireAgent) ([]models.Agent, []error) {
	out := make([]models.Agent, 0, len(ws))
	var errs []error
	for _, w := range ws {
		a, err := Agent(w)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, a)
	}
	return out, errs
}

// Project converts a wire project. Document blobs are kept opaque.
func Project(w models.WireProject) (models.Project, error) {
	if w.ID == "" {
		return models.Project{}, fmt.Errorf("project: %w", ErrMissingID)
	}
	p := models.Project{
		ID:            w.ID,
		Name:          w.Name,
		Status:        w.Status,
		BusinessModel: opaque(w.BusinessModel),
		Analysis:      opaque(w.Analysis),
	}
	if w.Description != nil {
		p.Description = *w.Description
	}
	p.CreatedAt, _ = Timestamp(w.CreatedAt)
	p.UpdatedAt, _ = Timestamp(w.UpdatedAt)
	return p, nil
}

// Projects converts a batch.
func Projects(ws []models.WireProject) ([]models.Project, []error) {
	out := make([]models.Project, 0, len(ws))
	var errs []error
	for _, w := range ws {
		p, err := Project(w)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, p)
	}
	return out, errs
}

// TaskPatch canonicalizes a wire update.
func TaskPatch(w models.WireTaskUpdate) (models.TaskPatch, error) {
	var p models.TaskPatch
	p.Title = w.Title
	p.Description = w.Description
	if w.Status != nil {
		s, err := TaskStatus(*w.Status)
		if err != nil {
			return models.TaskPatch{}, err
		}
		p.Status = &s
	}
	if w.Priority != nil {
		pr, err := Priority(*w.Priority)
		if err != nil {
			return models.TaskPatch{}, err
		}
		p.Priority = &pr
	}
	if w.AgentIDs != nil {
		ids := append([]string(nil), (*w.AgentIDs)...)
		p.AgentIDs = &ids
	}
	if w.DueDate != nil {
		d, err := TimestampString(*w.DueDate)
		if err != nil {
			return models.TaskPatch{}, err
		}
		p.DueDate = &d
	}
	return p, nil
}

// WireUpdate renders a canonical patch as a REST body.
func WireUpdate(p models.TaskPatch) models.WireTaskUpdate {
	var w models.WireTaskUpdate
	w.Title = p.Title
	w.Description = p.Description
	if p.Status != nil {
		s := string(*p.Status)
		w.Status = &s
	}
	if p.Priority != nil {
		pr := string(*p.Priority)
		w.Priority = &pr
	}
	if p.AgentIDs != nil {
		ids := append([]string(nil), (*p.AgentIDs)...)
		w.AgentIDs = &ids
	}
	if p.DueDate != nil && !p.DueDate.IsZero() {
		d := p.DueDate.UTC().Format(time.RFC3339)
		w.DueDate = &d
	}
	return w
}

// AgentMessage converts an agent:message payload into a transcript entry and the
// sender's display name. The returned message has no ID when the payload has none.
func AgentMessage(p models.AgentMessagePayload) (models.ChatMessage, string, error) {
	agentID := First(p.AgentID, p.FromID, p.From)
	if agentID == nil || *agentID == "" {
		return models.ChatMessage{}, "", fmt.Errorf("agent message: %w", ErrMissingID)
	}
	body := p.Message
	if len(bytes.TrimSpace(body)) == 0 || bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
		body = p.Content
	}
	content, err := MessageContent(body)
	if err != nil {
		return models.ChatMessage{}, "", fmt.Errorf("agent message from %s: %w", *agentID, err)
	}
	if content.Interactive == nil && len(opaque(p.Interactive)) > 0 {
		var sel models.InteractiveSelection
		if err := json.Unmarshal(p.Interactive, &sel); err == nil && len(sel.Items) > 0 {
			if sel.Type == "" {
				sel.Type = models.SelectionList
			}
			content = models.StructuredContent(content.Text, &sel)
		}
	}
	msg := models.ChatMessage{
		AgentID: *agentID,
		Sender:  models.SenderAgent,
		Content: content,
		TaskID:  p.TaskID,
	}
	msg.ID = RawID(p.ID)
	if p.Sender != nil && *p.Sender != "" {
		msg.Sender = *p.Sender
	}
	msg.Timestamp, _ = Timestamp(p.Timestamp)
	name := DisplayName(First(p.DisplayName, p.AgentName), p.FromName, agentID)
	return msg, name, nil
}

// HistoryEntry converts one chat history row for agentID.
func HistoryEntry(agentID string, e models.WireHistoryEntry) (models.ChatMessage, error) {
	body := e.Content
	if len(bytes.TrimSpace(body)) == 0 || bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
		body = e.Message
	}
	content, err := MessageContent(body)
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("history %s: %w", e.ID, err)
	}
	msg := models.ChatMessage{
		ID:      e.ID,
		AgentID: agentID,
		Sender:  models.SenderAgent,
		Content: content,
	}
	switch {
	case e.Sender != nil && *e.Sender != "":
		msg.Sender = *e.Sender
	case e.FromID == models.SenderUser:
		msg.Sender = models.SenderUser
	}
	ts := e.Timestamp
	if len(ts) == 0 {
		ts = e.CreatedAt
	}
	msg.Timestamp, _ = Timestamp(ts)
	return msg, nil
}

// Text extracts a human-readable string from a raw notification message.
func Text(raw json.RawMessage) string {
	c, err := MessageContent(raw)
	if err != nil {
		return strings.TrimSpace(string(raw))
	}
	return c.Text
}

func taskAgentIDs(w models.WireTask) []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	}
	for _, id := range w.AgentIDs {
		add(id)
	}
	for _, row := range w.Agents {
		if row.AgentID != "" {
			add(row.AgentID)
		} else if row.Agent != nil {
			add(row.Agent.ID)
		}
	}
	return ids
}

func tags(raw json.RawMessage) []string {
	b := bytes.TrimSpace(raw)
	if len(b) == 0 {
		return nil
	}
	var out []string
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		b = []byte(s)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}

func opaque(raw json.RawMessage) json.RawMessage {
	b := bytes.TrimSpace(raw)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}

// RawID renders a string or numeric JSON id as a string.
func RawID(raw json.RawMessage) string {
	b := bytes.TrimSpace(raw)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		return n.String()
	}
	return ""
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}
