package session

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/ankittk/agentdeck/internal/coordinator"
	"github.com/ankittk/agentdeck/internal/entity"
	"github.com/ankittk/agentdeck/internal/normalize"
	"github.com/ankittk/agentdeck/pkg/models"
)

type handler = func(context.Context, json.RawMessage) error

func (s *Session) dispatchTable() map[string]handler {
	return map[string]handler{
		models.EventAgentsInitial:      s.onAgentsInitial,
		models.EventAgentRegistered:    s.onAgentRegistered,
		models.EventAgentStatus:        s.onAgentStatus,
		models.EventAgentMessage:       s.onAgentMessage,
		models.EventAgentTyping:        s.onAgentTyping,
		models.EventTaskCreated:        s.onTaskCreated,
		models.EventTaskUpdated:        s.onTaskUpdated,
		models.EventTaskStatusChanged:  s.onTaskStatusChanged,
		models.EventTaskDeleted:        s.onTaskDeleted,
		models.EventTaskAssigned:       s.onTaskAssigned,
		models.EventSystemNotification: s.onSystemNotification,
		models.EventProjectCreated:     s.onProjectUpsert,
		models.EventProjectUpdated:     s.onProjectUpsert,
		models.EventProjectDeleted:     s.onProjectDeleted,
	}
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode payload: %w", err)
	}
	return v, nil
}

func (s *Session) onAgentsInitial(_ context.Context, raw json.RawMessage) error {
	ws, err := decode[[]models.WireAgent](raw)
	if err != nil {
		return err
	}
	agents, errs := normalize.Agents(ws)
	for _, e := range errs {
		s.dropped(s.ctx, entity.KindAgent, e)
	}
	for _, e := range s.store.ResetAgents(agents) {
		s.log.Warn("store rejected agent", "err", e)
	}
	return nil
}

func (s *Session) onAgentRegistered(_ context.Context, raw json.RawMessage) error {
	w, err := decode[models.WireAgent](raw)
	if err != nil {
		return err
	}
	a, err := normalize.Agent(w)
	if err != nil {
		return err
	}
	return s.store.UpsertAgent(a)
}

func (s *Session) onAgentStatus(_ context.Context, raw json.RawMessage) error {
	p, err := decode[models.AgentStatusPayload](raw)
	if err != nil {
		return err
	}
	st, err := normalize.AgentStatus(p.Status)
	if err != nil {
		return fmt.Errorf("agent %s: %w", p.AgentID, err)
	}
	s.store.PatchAgent(p.AgentID, models.AgentPatch{Status: &st})
	return nil
}

func (s *Session) onAgentMessage(_ context.Context, raw json.RawMessage) error {
	p, err := decode[models.AgentMessagePayload](raw)
	if err != nil {
		return err
	}
	msg, name, err := normalize.AgentMessage(p)
	if err != nil {
		return err
	}
	s.book.For(msg.AgentID).Ingest(msg)
	agentID := msg.AgentID
	s.ledger.Append(models.ActivityEvent{
		Type:      models.ActivityMessage,
		AgentID:   &agentID,
		AgentName: name,
		Message:   msg.Content.Text,
		Raw:       raw,
	})
	return nil
}

func (s *Session) onAgentTyping(_ context.Context, raw json.RawMessage) error {
	p, err := decode[models.AgentTypingPayload](raw)
	if err != nil {
		return err
	}
	if p.AgentID == "" {
		return fmt.Errorf("agent typing: %w", normalize.ErrMissingID)
	}
	s.book.For(p.AgentID).SetTyping(p.IsTyping)
	return nil
}

func (s *Session) onTaskCreated(_ context.Context, raw json.RawMessage) error {
	w, err := decode[models.WireTask](raw)
	if err != nil {
		return err
	}
	t, err := normalize.Task(w)
	if err != nil {
		return err
	}
	return s.coord.ApplyTask(t)
}

// onTaskUpdated accepts a full task, or a bare {taskId} reference sent after
// subtask and comment changes, which triggers a refetch of that task.
func (s *Session) onTaskUpdated(_ context.Context, raw json.RawMessage) error {
	w, err := decode[models.WireTask](raw)
	if err != nil {
		return err
	}
	if w.ID == "" || (w.Title == "" && w.Status == "") {
		ref, err := decode[models.TaskRefPayload](raw)
		if err != nil {
			return err
		}
		id := ref.Ref()
		if id == "" {
			return fmt.Errorf("task update: %w", normalize.ErrMissingID)
		}
		s.refetchTask(id)
		return nil
	}
	t, err := normalize.Task(w)
	if err != nil {
		return err
	}
	return s.coord.ApplyTask(t, entity.Silent())
}

func (s *Session) refetchTask(id string) {
	if s.api == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
		defer cancel()
		w, err := s.api.GetTask(ctx, id)
		if err != nil {
			s.log.Warn("task refetch failed", "task_id", id, "err", err)
			return
		}
		t, err := normalize.Task(w)
		if err != nil {
			s.dropped(ctx, entity.KindTask, err)
			return
		}
		if err := s.coord.ApplyTask(t, entity.Silent()); err != nil {
			s.log.Warn("store rejected task", "task_id", id, "err", err)
		}
	}()
}

func (s *Session) onTaskStatusChanged(_ context.Context, raw json.RawMessage) error {
	p, err := decode[models.TaskStatusChangedPayload](raw)
	if err != nil {
		return err
	}
	st, err := normalize.TaskStatus(p.Status)
	if err != nil {
		return fmt.Errorf("task %s: %w", p.TaskID, err)
	}
	if patch := s.coord.ApplyTaskPatch(p.TaskID, models.TaskPatch{Status: &st}); patch.Empty() {
		// The operator has a move in flight; the board keeps their intent.
		s.ledger.Append(models.ActivityEvent{Type: models.ActivityTask, Message: "Task status updated: " + string(st)})
	}
	return nil
}

func (s *Session) onTaskDeleted(_ context.Context, raw json.RawMessage) error {
	p, err := decode[models.TaskRefPayload](raw)
	if err != nil {
		return err
	}
	s.store.RemoveTask(p.Ref())
	return nil
}

func (s *Session) onTaskAssigned(_ context.Context, raw json.RawMessage) error {
	p, err := decode[models.TaskAssignedPayload](raw)
	if err != nil {
		return err
	}
	ev := models.ActivityEvent{
		Type:    models.ActivityTask,
		Message: "Assigned task: " + p.TaskName,
		Raw:     raw,
	}
	if p.AgentID != nil && *p.AgentID != "" {
		id := *p.AgentID
		ev.AgentID = &id
		ev.AgentName = normalize.DisplayName(normalize.First(p.DisplayName, p.AgentName), nil, p.AgentID)
	}
	s.ledger.Append(ev)

	if p.TaskID == nil || ev.AgentID == nil {
		return nil
	}
	t, ok := s.store.Task(*p.TaskID)
	if !ok || t.AssignedTo(*ev.AgentID) {
		return nil
	}
	ids := append(slices.Clone(t.AgentIDs), *ev.AgentID)
	s.coord.ApplyTaskPatch(t.ID, models.TaskPatch{AgentIDs: &ids}, entity.Silent())
	return nil
}

func (s *Session) onSystemNotification(_ context.Context, raw json.RawMessage) error {
	p, err := decode[models.SystemNotificationPayload](raw)
	if err != nil {
		// Some emitters send the bare message.
		p = models.SystemNotificationPayload{Message: raw}
	}
	text := normalize.Text(p.Message)
	if text == "" {
		return fmt.Errorf("system notification: %w", normalize.ErrMalformedMessage)
	}
	level := models.ActivitySystem
	if strings.EqualFold(p.Level, "error") {
		level = models.ActivityError
	}
	s.ledger.Append(models.ActivityEvent{Type: level, Message: text, Raw: raw})
	s.notices.Post(level, text)
	return nil
}

func (s *Session) onProjectUpsert(_ context.Context, raw json.RawMessage) error {
	w, err := decode[models.WireProject](raw)
	if err != nil {
		return err
	}
	p, err := normalize.Project(w)
	if err != nil {
		return err
	}
	return s.store.UpsertProject(p)
}

func (s *Session) onProjectDeleted(_ context.Context, raw json.RawMessage) error {
	p, err := decode[struct {
		ProjectID string `json:"projectId"`
		ID        string `json:"id"`
	}](raw)
	if err != nil {
		return err
	}
	id := p.ProjectID
	if id == "" {
		id = p.ID
	}
	s.store.RemoveProject(id)
	return nil
}

// ProposeMove moves a task to a status given in any known vocabulary.
func (s *Session) ProposeMove(ctx context.Context, taskID, status string) (*coordinator.Proposal, error) {
	st, err := normalize.TaskStatus(status)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", coordinator.ErrInvalidProposal, err)
	}
	return s.coord.ProposeTaskStatusChange(ctx, taskID, string(st))
}
