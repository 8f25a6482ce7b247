package entity

import (
	"strings"

	"github.com/ankittk/agentdeck/pkg/models"
)

// Task returns a copy of the task with id.
func (s *Store) Task(id string) (models.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.taskIndex(id); i >= 0 {
		return s.tasks[i].Clone(), true
	}
	return models.Task{}, false
}

// Tasks returns every task, newest first.
func (s *Store) Tasks() []models.Task {
	return s.Query(Filter{})
}

// TasksByStatus returns the root tasks in one board column.
func (s *Store) TasksByStatus(status models.TaskStatus) []models.Task {
	return s.Query(Filter{Status: status, RootsOnly: true})
}

// Subtasks returns the tasks whose parent is parentID.
func (s *Store) Subtasks(parentID string) []models.Task {
	return s.Query(Filter{ParentID: parentID})
}

// Filter narrows Query. Zero fields match everything.
type Filter struct {
	Status    models.TaskStatus
	Priority  models.Priority
	Search    string // case-insensitive match on title or description
	AgentID   string
	ProjectID string
	ParentID  string
	RootsOnly bool
}

func (f Filter) match(t models.Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if f.RootsOnly && !t.IsRoot() {
		return false
	}
	if f.ParentID != "" && (t.ParentTaskID == nil || *t.ParentTaskID != f.ParentID) {
		return false
	}
	if f.ProjectID != "" && (t.ProjectID == nil || *t.ProjectID != f.ProjectID) {
		return false
	}
	if f.AgentID != "" && !t.AssignedTo(f.AgentID) {
		return false
	}
	if q := strings.TrimSpace(f.Search); q != "" && !containsFold(t.Title, q) && !containsFold(t.Description, q) {
		return false
	}
	return true
}

// Query returns copies of the tasks matching f, newest first.
func (s *Store) Query(f Filter) []models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if f.match(t) {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Agent returns the agent with id.
func (s *Store) Agent(id string) (models.Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.agentIndex(id); i >= 0 {
		return s.agents[i], true
	}
	return models.Agent{}, false
}

// Agents returns the roster.
func (s *Store) Agents() []models.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Agent(nil), s.agents...)
}

// Project returns the project with id.
func (s *Store) Project(id string) (models.Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.projectIndex(id); i >= 0 {
		return s.projects[i], true
	}
	return models.Project{}, false
}

// Projects returns every project, newest first.
func (s *Store) Projects() []models.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Project(nil), s.projects...)
}

// Counts returns the number of root tasks per status; every status is present.
func (s *Store) Counts() models.Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := make(models.Counts, len(models.TaskStatuses))
	for _, st := range models.TaskStatuses {
		c[st] = 0
	}
	for _, t := range s.tasks {
		if t.IsRoot() {
			c[t.Status]++
		}
	}
	return c
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
