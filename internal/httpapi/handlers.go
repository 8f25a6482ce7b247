package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/ankittk/agentdeck/internal/coordinator"
	"github.com/ankittk/agentdeck/internal/entity"
	"github.com/ankittk/agentdeck/internal/ledger"
	"github.com/ankittk/agentdeck/internal/normalize"
	"github.com/ankittk/agentdeck/internal/session"
	"github.com/ankittk/agentdeck/internal/transcript"
	"github.com/ankittk/agentdeck/pkg/models"
)

type apiErrorBody struct {
	Status  int      `json:"status"`
	Message string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// apiError is the error envelope of every JSON operation.
type apiError struct {
	status int
	apiErrorBody
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Message }

func newAPIError(status int, msg string, errs ...error) huma.StatusError {
	e := &apiError{status: status, apiErrorBody: apiErrorBody{Status: status, Message: msg}}
	for _, err := range errs {
		if err != nil {
			e.Details = append(e.Details, err.Error())
		}
	}
	return e
}

var errNotFound = errors.New("not found")

// handleError maps package sentinels to HTTP statuses.
func handleError(err error) huma.StatusError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errNotFound), errors.Is(err, transcript.ErrUnknownMessage), errors.Is(err, transcript.ErrUnknownItem):
		return newAPIError(http.StatusNotFound, err.Error())
	case errors.Is(err, transcript.ErrConfirmed):
		return newAPIError(http.StatusConflict, err.Error())
	case errors.Is(err, coordinator.ErrInvalidProposal), errors.Is(err, transcript.ErrNoSelection),
		errors.Is(err, transcript.ErrFieldType), errors.Is(err, normalize.ErrUnknownStatus),
		errors.Is(err, normalize.ErrUnknownPriority):
		return newAPIError(http.StatusBadRequest, err.Error())
	case errors.Is(err, coordinator.ErrClosed), errors.Is(err, session.ErrClosed):
		return newAPIError(http.StatusServiceUnavailable, err.Error())
	}
	return newAPIError(http.StatusInternalServerError, "internal error", err)
}

// ProposalResponse reports a submitted change. Outcome is set when the caller waited.
type ProposalResponse struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Outcome string `json:"outcome,omitempty"`
	Error   string `json:"error,omitempty"`
}

// WaitQuery makes a change request block until it settles.
type WaitQuery struct {
	Wait bool `query:"wait" doc:"block until the change is reconciled"`
}

func proposalResponse(ctx context.Context, p *coordinator.Proposal, wait bool) *struct {
	Body ProposalResponse `json:"body"`
} {
	out := &struct {
		Body ProposalResponse `json:"body"`
	}{Body: ProposalResponse{ID: p.ID, Kind: p.Kind}}
	if !wait {
		return out
	}
	ctx, cancel := context.WithTimeout(ctx, 2*models.DefaultRequestTimeout)
	defer cancel()
	o, err := p.Wait(ctx)
	out.Body.Outcome = string(o)
	if err != nil {
		out.Body.Error = err.Error()
	}
	return out
}

// StatusResponse summarizes the session.
type StatusResponse struct {
	Connection     string        `json:"connection"`
	LedgerLen      int           `json:"ledger_len"`
	LedgerDegraded bool          `json:"ledger_degraded"`
	Counts         models.Counts `json:"counts"`
	Agents         int           `json:"agents"`
	Projects       int           `json:"projects"`
}

func registerStatus(api huma.API, s *session.Session) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Session status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: StatusResponse{
			Connection:     s.State().String(),
			LedgerLen:      s.Ledger().Len(),
			LedgerDegraded: s.Ledger().Degraded(),
			Counts:         s.Store().Counts(),
			Agents:         len(s.Store().Agents()),
			Projects:       len(s.Store().Projects()),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "refresh",
		Method:      http.MethodPost,
		Path:        "/refresh",
		Summary:     "Refetch full state from the orchestration service",
		Errors:      []int{http.StatusBadGateway},
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		if err := s.Refresh(ctx); err != nil {
			return nil, newAPIError(http.StatusBadGateway, "refresh failed", err)
		}
		return &struct{}{}, nil
	})
}

type taskFilter struct {
	Status   string `query:"status" doc:"any known status spelling"`
	Priority string `query:"priority"`
	Q        string `query:"q" doc:"search title and description"`
	Agent    string `query:"agent"`
	Project  string `query:"project"`
}

func (f taskFilter) filter() (entity.Filter, error) {
	out := entity.Filter{Search: f.Q, AgentID: f.Agent, ProjectID: f.Project}
	if f.Status != "" {
		st, err := normalize.TaskStatus(f.Status)
		if err != nil {
			return out, err
		}
		out.Status = st
	}
	if f.Priority != "" {
		p, err := normalize.Priority(f.Priority)
		if err != nil {
			return out, err
		}
		out.Priority = p
	}
	return out, nil
}

// BoardColumn is one status column of root tasks.
type BoardColumn struct {
	Status models.TaskStatus `json:"status"`
	Label  string            `json:"label"`
	Tasks  []models.Task     `json:"tasks"`
}

// BoardResponse is the task board.
type BoardResponse struct {
	Columns []BoardColumn `json:"columns"`
	Counts  models.Counts `json:"counts"`
}

func registerBoard(api huma.API, s *session.Session) {
	huma.Register(api, huma.Operation{
		OperationID: "board",
		Method:      http.MethodGet,
		Path:        "/board",
		Summary:     "Root tasks grouped by status",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, in *taskFilter) (*struct {
		Body BoardResponse `json:"body"`
	}, error) {
		f, err := in.filter()
		if err != nil {
			return nil, handleError(err)
		}
		f.RootsOnly = true
		resp := BoardResponse{Counts: s.Store().Counts()}
		for _, st := range models.TaskStatuses {
			if f.Status != "" && f.Status != st {
				continue
			}
			col := f
			col.Status = st
			resp.Columns = append(resp.Columns, BoardColumn{Status: st, Label: st.Label(), Tasks: s.Store().Query(col)})
		}
		return &struct {
			Body BoardResponse `json:"body"`
		}{Body: resp}, nil
	})
}

// TaskPath addresses one task.
type TaskPath struct {
	ID string `path:"id"`
}

// MoveRequest moves a task to another column.
type MoveRequest struct {
	Status string `json:"status" minLength:"1" doc:"any known status spelling"`
}

// TaskPatchRequest edits task fields. Absent fields are left alone.
type TaskPatchRequest struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Priority    *string    `json:"priority,omitempty"`
	AgentIDs    *[]string  `json:"agent_ids,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty" doc:"zero time clears the due date"`
}

func registerTasks(api huma.API, s *session.Session) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, in *taskFilter) (*struct {
		Body []models.Task `json:"body"`
	}, error) {
		f, err := in.filter()
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []models.Task `json:"body"`
		}{Body: s.Store().Query(f)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get a task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, in *TaskPath) (*struct {
		Body models.Task `json:"body"`
	}, error) {
		t, ok := s.Store().Task(in.ID)
		if !ok {
			return nil, handleError(errNotFound)
		}
		return &struct {
			Body models.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "move-task",
		Method:        http.MethodPost,
		Path:          "/tasks/{id}/move",
		Summary:       "Move a task to another status",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, in *struct {
		TaskPath
		WaitQuery
		Body MoveRequest `json:"body"`
	}) (*struct {
		Body ProposalResponse `json:"body"`
	}, error) {
		p, err := s.ProposeMove(ctx, in.ID, in.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return proposalResponse(ctx, p, in.Wait), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "patch-task",
		Method:        http.MethodPatch,
		Path:          "/tasks/{id}",
		Summary:       "Edit task fields",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, in *struct {
		TaskPath
		WaitQuery
		Body TaskPatchRequest `json:"body"`
	}) (*struct {
		Body ProposalResponse `json:"body"`
	}, error) {
		patch := models.TaskPatch{
			Title:       in.Body.Title,
			Description: in.Body.Description,
			AgentIDs:    in.Body.AgentIDs,
			DueDate:     in.Body.DueDate,
		}
		if in.Body.Priority != nil {
			pr, err := normalize.Priority(*in.Body.Priority)
			if err != nil {
				return nil, handleError(err)
			}
			patch.Priority = &pr
		}
		p, err := s.Coordinator().ProposeTaskPatch(ctx, in.ID, patch)
		if err != nil {
			return nil, handleError(err)
		}
		return proposalResponse(ctx, p, in.Wait), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "toggle-subtask",
		Method:        http.MethodPost,
		Path:          "/tasks/{id}/subtasks/{subtask}/toggle",
		Summary:       "Check or uncheck a subtask",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, in *struct {
		TaskPath
		WaitQuery
		Subtask string `path:"subtask"`
		Body    struct {
			Completed bool `json:"completed"`
		} `json:"body"`
	}) (*struct {
		Body ProposalResponse `json:"body"`
	}, error) {
		p, err := s.Coordinator().ProposeSubtaskToggle(ctx, in.ID, in.Subtask, in.Body.Completed)
		if err != nil {
			return nil, handleError(err)
		}
		return proposalResponse(ctx, p, in.Wait), nil
	})
}

func registerDirectory(api huma.API, s *session.Session) {
	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "Agent roster",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []models.Agent `json:"body"`
	}, error) {
		return &struct {
			Body []models.Agent `json:"body"`
		}{Body: s.Store().Agents()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "Projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []models.Project `json:"body"`
	}, error) {
		return &struct {
			Body []models.Project `json:"body"`
		}{Body: s.Store().Projects()}, nil
	})
}

// FeedEntry is one ledger event with its rendered age.
type FeedEntry struct {
	models.ActivityEvent
	Age string `json:"age"`
}

func registerLedger(api huma.API, s *session.Session) {
	huma.Register(api, huma.Operation{
		OperationID: "ledger",
		Method:      http.MethodGet,
		Path:        "/ledger",
		Summary:     "Activity feed, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, in *struct {
		Type  string `query:"type" enum:"all,message,status,task,system,error" default:"all"`
		Agent string `query:"agent"`
	}) (*struct {
		Body []FeedEntry `json:"body"`
	}, error) {
		typ := models.ActivityType(in.Type)
		if in.Type == "all" {
			typ = ""
		}
		byType := ledger.ByType(typ)
		pred := byType
		if in.Agent != "" {
			byAgent := ledger.ByAgent(in.Agent)
			pred = func(ev models.ActivityEvent) bool { return byType(ev) && byAgent(ev) }
		}
		now := time.Now()
		out := []FeedEntry{}
		for ev := range s.Ledger().Filter(pred) {
			out = append(out, FeedEntry{ActivityEvent: ev, Age: ledger.FormatAge(now, ev.Timestamp)})
		}
		return &struct {
			Body []FeedEntry `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "clear-ledger",
		Method:        http.MethodDelete,
		Path:          "/ledger",
		Summary:       "Clear the activity feed",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		s.Ledger().Clear()
		return &struct{}{}, nil
	})
}

// AgentPath addresses one agent.
type AgentPath struct {
	Agent string `path:"agent"`
}

// TranscriptResponse is one agent's conversation.
type TranscriptResponse struct {
	AgentID   string               `json:"agent_id"`
	Messages  []models.ChatMessage `json:"messages"`
	Awaiting  bool                 `json:"awaiting_reply"`
	Typing    bool                 `json:"typing"`
	Confirmed []string             `json:"confirmed"`
	Pending   []string             `json:"pending_selections"`
}

func transcriptResponse(tr *transcript.Transcript) TranscriptResponse {
	msgs := tr.Messages()
	out := TranscriptResponse{
		AgentID:   tr.AgentID(),
		Messages:  msgs,
		Awaiting:  tr.AwaitingReply(),
		Typing:    tr.Typing(),
		Confirmed: []string{},
		Pending:   tr.PendingSelections(),
	}
	for _, m := range msgs {
		if m.Content.HasSelection() && tr.IsConfirmed(m.ID) {
			out.Confirmed = append(out.Confirmed, m.ID)
		}
	}
	return out
}

func registerTranscripts(api huma.API, s *session.Session) {
	huma.Register(api, huma.Operation{
		OperationID: "transcript",
		Method:      http.MethodGet,
		Path:        "/agents/{agent}/transcript",
		Summary:     "Chat transcript",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, in *AgentPath) (*struct {
		Body TranscriptResponse `json:"body"`
	}, error) {
		if _, ok := s.Store().Agent(in.Agent); !ok {
			return nil, handleError(errNotFound)
		}
		return &struct {
			Body TranscriptResponse `json:"body"`
		}{Body: transcriptResponse(s.Book().For(in.Agent))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "load-history",
		Method:      http.MethodPost,
		Path:        "/agents/{agent}/history",
		Summary:     "Replace the transcript with stored history",
		Errors:      []int{http.StatusBadGateway},
	}, func(ctx context.Context, in *AgentPath) (*struct {
		Body TranscriptResponse `json:"body"`
	}, error) {
		if err := s.LoadHistory(ctx, in.Agent); err != nil {
			return nil, newAPIError(http.StatusBadGateway, "history load failed", err)
		}
		return &struct {
			Body TranscriptResponse `json:"body"`
		}{Body: transcriptResponse(s.Book().For(in.Agent))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "chat",
		Method:        http.MethodPost,
		Path:          "/agents/{agent}/chat",
		Summary:       "Send a chat reply",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, in *struct {
		AgentPath
		WaitQuery
		Body struct {
			Message string  `json:"message" minLength:"1"`
			TaskID  *string `json:"task_id,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body ProposalResponse `json:"body"`
	}, error) {
		p, err := s.Coordinator().ProposeChatReply(ctx, in.Agent, in.Body.Message, in.Body.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return proposalResponse(ctx, p, in.Wait), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "edit-selection-item",
		Method:      http.MethodPut,
		Path:        "/agents/{agent}/messages/{message}/items/{item}",
		Summary:     "Edit one selection item",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, in *struct {
		AgentPath
		Message string `path:"message"`
		Item    string `path:"item"`
		Body    struct {
			Selected *bool   `json:"selected,omitempty"`
			Note     *string `json:"note,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body []models.SelectionItem `json:"body"`
	}, error) {
		tr, ok := s.Book().Lookup(in.Agent)
		if !ok {
			return nil, handleError(errNotFound)
		}
		if in.Body.Selected != nil {
			if err := tr.SetItemField(in.Message, in.Item, transcript.FieldSelected, *in.Body.Selected); err != nil {
				return nil, handleError(err)
			}
		}
		if in.Body.Note != nil {
			if err := tr.SetItemField(in.Message, in.Item, transcript.FieldNote, *in.Body.Note); err != nil {
				return nil, handleError(err)
			}
		}
		items, err := tr.ReadItems(in.Message)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []models.SelectionItem `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "confirm-selection",
		Method:        http.MethodPost,
		Path:          "/agents/{agent}/messages/{message}/confirm",
		Summary:       "Confirm a selection and send the summary",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, in *struct {
		AgentPath
		WaitQuery
		Message string `path:"message"`
	}) (*struct {
		Body ProposalResponse `json:"body"`
	}, error) {
		p, err := s.Coordinator().ProposeSelectionConfirm(ctx, in.Agent, in.Message)
		if err != nil {
			return nil, handleError(err)
		}
		return proposalResponse(ctx, p, in.Wait), nil
	})
}

func registerNotices(api huma.API, s *session.Session) {
	huma.Register(api, huma.Operation{
		OperationID: "notices",
		Method:      http.MethodGet,
		Path:        "/notices",
		Summary:     "Visible notices",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []models.Notice `json:"body"`
	}, error) {
		out := s.Notices().Active()
		if out == nil {
			out = []models.Notice{}
		}
		return &struct {
			Body []models.Notice `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "dismiss-notice",
		Method:        http.MethodDelete,
		Path:          "/notices/{id}",
		Summary:       "Dismiss a notice",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, in *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if !s.Notices().Dismiss(in.ID) {
			return nil, handleError(errNotFound)
		}
		return &struct{}{}, nil
	})
}
