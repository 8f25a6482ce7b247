// Package normalize maps the orchestration service's loose vocabulary onto the
// canonical types in pkg/models. It is the only place status strings are interpreted.
package normalize

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ankittk/agentdeck/pkg/models"
)

var (
	// ErrUnknownStatus is returned for a status outside the known vocabulary.
	ErrUnknownStatus = errors.New("unknown status")
	// ErrUnknownPriority is returned for an unrecognized priority.
	ErrUnknownPriority = errors.New("unknown priority")
	// ErrMalformedMessage is returned when message content is neither text nor a structured body.
	ErrMalformedMessage = errors.New("malformed message content")
	// ErrMissingID is returned when a wire entity has no identifier.
	ErrMissingID = errors.New("missing id")
)

var taskStatuses = map[string]models.TaskStatus{
	"todo":        models.StatusTodo,
	"to_do":       models.StatusTodo,
	"pending":     models.StatusTodo,
	"backlog":     models.StatusTodo,
	"open":        models.StatusTodo,
	"planned":     models.StatusTodo,
	"assigned":    models.StatusTodo,
	"in_progress": models.StatusInProgress,
	"inprogress":  models.StatusInProgress,
	"started":     models.StatusInProgress,
	"active":      models.StatusInProgress,
	"working":     models.StatusInProgress,
	"running":     models.StatusInProgress,
	"review":      models.StatusReview,
	"in_review":   models.StatusReview,
	"reviewing":   models.StatusReview,
	"testing":     models.StatusReview,
	"qa":          models.StatusReview,
	"done":        models.StatusDone,
	"completed":   models.StatusDone,
	"complete":    models.StatusDone,
	"finished":    models.StatusDone,
	"success":     models.StatusDone,
	"closed":      models.StatusDone,
	"implemented": models.StatusDone,
}

var agentStatuses = map[string]models.AgentStatus{
	"online":       models.AgentOnline,
	"active":       models.AgentOnline,
	"healthy":      models.AgentOnline,
	"available":    models.AgentOnline,
	"ready":        models.AgentOnline,
	"connected":    models.AgentOnline,
	"idle":         models.AgentIdle,
	"inactive":     models.AgentIdle,
	"waiting":      models.AgentIdle,
	"offline":      models.AgentIdle,
	"stopped":      models.AgentIdle,
	"disconnected": models.AgentIdle,
	"busy":         models.AgentBusy,
	"working":      models.AgentBusy,
	"thinking":     models.AgentBusy,
	"analyzing":    models.AgentBusy,
	"testing":      models.AgentBusy,
	"processing":   models.AgentBusy,
	"running":      models.AgentBusy,
	"in_progress":  models.AgentBusy,
	"error":        models.AgentError,
	"failed":       models.AgentError,
	"failure":      models.AgentError,
	"crashed":      models.AgentError,
	"unhealthy":    models.AgentError,
}

var priorities = map[string]models.Priority{
	"":         models.PriorityMedium,
	"low":      models.PriorityLow,
	"minor":    models.PriorityLow,
	"medium":   models.PriorityMedium,
	"normal":   models.PriorityMedium,
	"high":     models.PriorityHigh,
	"urgent":   models.PriorityHigh,
	"critical": models.PriorityHigh,
}

// key folds case and treats spaces and hyphens as underscores.
func key(raw string) string {
	k := strings.ToLower(strings.TrimSpace(raw))
	k = strings.NewReplacer("-", "_", " ", "_").Replace(k)
	return k
}

// TaskStatus maps raw onto a canonical task status. Canonical input maps to itself.
func TaskStatus(raw string) (models.TaskStatus, error) {
	if s, ok := taskStatuses[key(raw)]; ok {
		return s, nil
	}
	return "", fmt.Errorf("task status %q: %w", raw, ErrUnknownStatus)
}

// AgentStatus maps raw onto one of online, idle, busy or error.
func AgentStatus(raw string) (models.AgentStatus, error) {
	if s, ok := agentStatuses[key(raw)]; ok {
		return s, nil
	}
	return "", fmt.Errorf("agent status %q: %w", raw, ErrUnknownStatus)
}

// Priority maps raw onto low, medium or high. Empty means medium.
func Priority(raw string) (models.Priority, error) {
	if p, ok := priorities[key(raw)]; ok {
		return p, nil
	}
	return "", fmt.Errorf("priority %q: %w", raw, ErrUnknownPriority)
}

// DisplayName resolves a sender's label: the explicit display name, then the
// from-name, then the raw identifier. The first non-nil wins even when it is empty.
func DisplayName(displayName, fromName, id *string) string {
	for _, v := range []*string{displayName, fromName, id} {
		if v != nil {
			return *v
		}
	}
	return ""
}

// First returns the first non-nil pointer, or nil.
func First(vals ...*string) *string {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}
