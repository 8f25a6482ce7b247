package coordinator

import (
	"slices"
	"time"

	"github.com/ankittk/agentdeck/pkg/models"
)

// Task fields that can be proposed independently.
const (
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldStatus      = "status"
	FieldPriority    = "priority"
	FieldAgentIDs    = "agent_ids"
	FieldDueDate     = "due_date"
	FieldSubtasks    = "subtasks"
)

// FieldChat keys an agent's outgoing chat lane.
const FieldChat = "chat"

type fieldPatch struct {
	field string
	patch models.TaskPatch
}

// split breaks p into single-field patches in a fixed field order.
func split(p models.TaskPatch) []fieldPatch {
	var out []fieldPatch
	if p.Title != nil {
		out = append(out, fieldPatch{FieldTitle, models.TaskPatch{Title: p.Title}})
	}
	if p.Description != nil {
		out = append(out, fieldPatch{FieldDescription, models.TaskPatch{Description: p.Description}})
	}
	if p.Status != nil {
		out = append(out, fieldPatch{FieldStatus, models.TaskPatch{Status: p.Status}})
	}
	if p.Priority != nil {
		out = append(out, fieldPatch{FieldPriority, models.TaskPatch{Priority: p.Priority}})
	}
	if p.AgentIDs != nil {
		out = append(out, fieldPatch{FieldAgentIDs, models.TaskPatch{AgentIDs: p.AgentIDs}})
	}
	if p.DueDate != nil {
		out = append(out, fieldPatch{FieldDueDate, models.TaskPatch{DueDate: p.DueDate}})
	}
	if p.Subtasks != nil {
		out = append(out, fieldPatch{FieldSubtasks, models.TaskPatch{Subtasks: p.Subtasks}})
	}
	return out
}

// project returns t's value for field as a single-field patch.
func project(t models.Task, field string) models.TaskPatch {
	c := t.Clone()
	switch field {
	case FieldTitle:
		return models.TaskPatch{Title: &c.Title}
	case FieldDescription:
		return models.TaskPatch{Description: &c.Description}
	case FieldStatus:
		return models.TaskPatch{Status: &c.Status}
	case FieldPriority:
		return models.TaskPatch{Priority: &c.Priority}
	case FieldAgentIDs:
		return models.TaskPatch{AgentIDs: &c.AgentIDs}
	case FieldDueDate:
		if c.DueDate == nil {
			zero := time.Time{}
			return models.TaskPatch{DueDate: &zero}
		}
		return models.TaskPatch{DueDate: c.DueDate}
	case FieldSubtasks:
		return models.TaskPatch{Subtasks: &c.Subtasks}
	}
	return models.TaskPatch{}
}

// strip removes field from p.
func strip(p *models.TaskPatch, field string) {
	switch field {
	case FieldTitle:
		p.Title = nil
	case FieldDescription:
		p.Description = nil
	case FieldStatus:
		p.Status = nil
	case FieldPriority:
		p.Priority = nil
	case FieldAgentIDs:
		p.AgentIDs = nil
	case FieldDueDate:
		p.DueDate = nil
	case FieldSubtasks:
		p.Subtasks = nil
	}
}

func eqPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqSlice[T comparable](a, b *[]T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return slices.Equal(*a, *b)
}

// samePatch compares two patches field by field.
func samePatch(a, b models.TaskPatch) bool {
	if !eqPtr(a.Title, b.Title) || !eqPtr(a.Description, b.Description) ||
		!eqPtr(a.Status, b.Status) || !eqPtr(a.Priority, b.Priority) {
		return false
	}
	if !eqSlice(a.AgentIDs, b.AgentIDs) || !eqSlice(a.Subtasks, b.Subtasks) {
		return false
	}
	if a.DueDate == nil || b.DueDate == nil {
		return a.DueDate == b.DueDate
	}
	return a.DueDate.Equal(*b.DueDate)
}
