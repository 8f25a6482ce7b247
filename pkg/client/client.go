// Package client provides a Go SDK for the orchestration service's REST API.
// Responses come back in wire form (pkg/models wire types); callers normalize.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/ankittk/agentdeck/pkg/models"
)

// APIError is returned for non-2xx responses and for bodies carrying success:false.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api %s %s: %s", e.Method, e.Path, e.Message)
	}
	return fmt.Sprintf("api %s %s: status %d", e.Method, e.Path, e.StatusCode)
}

// TokenFunc returns a bearer token for one request.
type TokenFunc func(ctx context.Context) (string, error)

// Client calls the orchestration REST API. It is safe for concurrent use.
type Client struct {
	BaseURL    string       // e.g. "http://localhost:3001"
	APIKey     string       // optional; sent as X-API-Key
	Token      TokenFunc    // optional; sent as Authorization: Bearer
	HTTPClient *http.Client // optional; nil uses http.DefaultClient
}

// New returns a client for the given base URL. APIKey is optional.
func New(baseURL, apiKey string) *Client {
	return &Client{BaseURL: baseURL, APIKey: apiKey}
}

func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	if c.Token != nil {
		tok, err := c.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("bearer token: %w", err)
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	return c.client().Do(req)
}

// envelope is the {success, error} wrapper every endpoint responds with.
// Success is a pointer because some endpoints omit it.
type envelope struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
}

// doJSON sends the request and decodes the enveloped response into out.
func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("api %s %s: read body: %w", method, path, err)
	}
	var env envelope
	_ = json.Unmarshal(raw, &env)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Method: method, Path: path, Message: env.Error}
	}
	if env.Success != nil && !*env.Success {
		msg := env.Error
		if msg == "" {
			msg = "request failed"
		}
		return &APIError{StatusCode: resp.StatusCode, Method: method, Path: path, Message: msg}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("api %s %s: decode: %w", method, path, err)
	}
	return nil
}

// Health reports whether GET /api/health answered healthy.
func (c *Client) Health(ctx context.Context) (bool, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/health", nil, &out); err != nil {
		return false, err
	}
	return out.Status == "" || out.Status == "healthy" || out.Status == "ok", nil
}

// ListAgents returns the roster.
func (c *Client) ListAgents(ctx context.Context) ([]models.WireAgent, error) {
	var out struct {
		Agents []models.WireAgent `json:"agents"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/agents", nil, &out)
	return out.Agents, err
}

// ListProjects returns every project.
func (c *Client) ListProjects(ctx context.Context) ([]models.WireProject, error) {
	var out struct {
		Projects []models.WireProject `json:"projects"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/projects", nil, &out)
	return out.Projects, err
}

// UpdateProject patches a project and returns the server's version.
func (c *Client) UpdateProject(ctx context.Context, id string, patch map[string]any) (models.WireProject, error) {
	var out struct {
		Project models.WireProject `json:"project"`
	}
	err := c.doJSON(ctx, http.MethodPatch, "/api/projects/"+url.PathEscape(id), patch, &out)
	return out.Project, err
}

// ListTasks returns every task, subtasks included.
func (c *Client) ListTasks(ctx context.Context) ([]models.WireTask, error) {
	var out struct {
		Tasks []models.WireTask `json:"tasks"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/tasks", nil, &out)
	return out.Tasks, err
}

// GetTask returns one task.
func (c *Client) GetTask(ctx context.Context, id string) (models.WireTask, error) {
	var out struct {
		Task models.WireTask `json:"task"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(id), nil, &out)
	return out.Task, err
}

// CreateTask creates a task and returns it.
func (c *Client) CreateTask(ctx context.Context, body models.WireTaskUpdate) (models.WireTask, error) {
	var out struct {
		Task models.WireTask `json:"task"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/tasks", body, &out)
	return out.Task, err
}

// UpdateTask patches a task and returns the server's version.
func (c *Client) UpdateTask(ctx context.Context, id string, body models.WireTaskUpdate) (models.WireTask, error) {
	var out struct {
		Task models.WireTask `json:"task"`
	}
	err := c.doJSON(ctx, http.MethodPatch, "/api/tasks/"+url.PathEscape(id), body, &out)
	return out.Task, err
}

// DeleteTask deletes a task.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil, nil)
}

// AddSubtask adds a checklist item to a task.
func (c *Client) AddSubtask(ctx context.Context, taskID, title string) (models.WireSubtask, error) {
	var out struct {
		Subtask models.WireSubtask `json:"subtask"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(taskID)+"/subtasks",
		map[string]string{"title": title}, &out)
	return out.Subtask, err
}

// ToggleSubtask sets a checklist item's completed flag.
func (c *Client) ToggleSubtask(ctx context.Context, taskID, subtaskID string, completed bool) error {
	path := "/api/tasks/" + url.PathEscape(taskID) + "/subtasks/" + url.PathEscape(subtaskID)
	return c.doJSON(ctx, http.MethodPatch, path, map[string]bool{"completed": completed}, nil)
}

// SendChat submits an operator message. The agent's reply arrives later as an
// agent:message push, not in this response.
func (c *Client) SendChat(ctx context.Context, agentID, message string, taskID *string) error {
	body := models.WireChatRequest{Message: message, TaskID: taskID}
	return c.doJSON(ctx, http.MethodPost, "/api/agents/"+url.PathEscape(agentID)+"/chat", body, nil)
}

// ChatHistory returns the stored conversation with one agent, oldest first.
func (c *Client) ChatHistory(ctx context.Context, agentID string) ([]models.WireHistoryEntry, error) {
	var out struct {
		Messages []models.WireHistoryEntry `json:"messages"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/api/agents/"+url.PathEscape(agentID)+"/chat/history", nil, &out)
	return out.Messages, err
}
