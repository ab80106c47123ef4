package pixlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Pixline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// TaskLogRecord is one append-only log entry.
type TaskLogRecord struct {
	ReportedAt string         `json:"reported_at"`
	Message    string         `json:"message"`
	TaskStatus string         `json:"task_status"`
	Duration   int64          `json:"duration"`
	Data       map[string]any `json:"data,omitempty"`
}

// AIRequest represents the API AI request model (partial).
type AIRequest struct {
	UID      string         `json:"uid"`
	UserID   string         `json:"user_id"`
	Prompt   string         `json:"prompt"`
	Answer   map[string]any `json:"answer,omitempty"`
	Engine   string         `json:"engine"`
	Status   string         `json:"task_status"`
	Report   string         `json:"task_report,omitempty"`
	Progress int            `json:"task_progress"`
}

// Webpage represents the API webpage model (partial).
type Webpage struct {
	UID         string `json:"uid"`
	URL         string `json:"url"`
	CrawlMethod string `json:"crawl_method"`
	Status      string `json:"task_status"`
	Progress    int    `json:"task_progress"`
}

// Project represents the API project model (partial).
type Project struct {
	UID      string `json:"uid"`
	UserID   string `json:"user_id"`
	URL      string `json:"url"`
	Mode     string `json:"mode"`
	Step     string `json:"project_step"`
	Status   string `json:"task_status"`
	Progress int    `json:"task_progress"`
}

// Event represents an audit log entry.
type Event struct {
	ID       int64           `json:"id"`
	TS       string          `json:"ts"`
	Type     string          `json:"type"`
	TaskType string          `json:"task_type"`
	TaskID   string          `json:"task_id,omitempty"`
	ActorID  string          `json:"actor_id"`
	Payload  json.RawMessage `json:"payload_json"`
}

// Accepted is returned by start and hook operations.
type Accepted struct {
	UID    string `json:"uid"`
	Status string `json:"status"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

type listMeta struct {
	NextCursor string `json:"next_cursor,omitempty"`
}

// CreateAIRequest creates an AI request.
func (c *Client) CreateAIRequest(ctx context.Context, prompt, engine string, metadata map[string]any) (AIRequest, error) {
	body := map[string]any{
		"prompt":   prompt,
		"metadata": metadata,
	}
	if engine != "" {
		body["engine"] = engine
	}
	var resp AIRequest
	err := c.do(ctx, http.MethodPost, "v0/ai-requests", body, &resp)
	return resp, err
}

// GetAIRequest fetches an AI request by uid.
func (c *Client) GetAIRequest(ctx context.Context, uid string) (AIRequest, error) {
	var resp AIRequest
	err := c.do(ctx, http.MethodGet, "v0/ai-requests/"+url.PathEscape(uid), nil, &resp)
	return resp, err
}

// StartAIRequest kicks off processing.
func (c *Client) StartAIRequest(ctx context.Context, uid string) (Accepted, error) {
	var resp Accepted
	err := c.do(ctx, http.MethodPost, "v0/ai-requests/"+url.PathEscape(uid)+"/start", nil, &resp)
	return resp, err
}

// AIRequestLogs returns the append-only log of an AI request.
func (c *Client) AIRequestLogs(ctx context.Context, uid string) ([]TaskLogRecord, error) {
	var resp struct {
		Items []TaskLogRecord `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v0/ai-requests/"+url.PathEscape(uid)+"/logs", nil, &resp)
	return resp.Items, err
}

// CreateWebpage creates a crawl task.
func (c *Client) CreateWebpage(ctx context.Context, pageURL, method string, metadata map[string]any) (Webpage, error) {
	body := map[string]any{
		"url":      pageURL,
		"metadata": metadata,
	}
	if method != "" {
		body["crawl_method"] = method
	}
	var resp Webpage
	err := c.do(ctx, http.MethodPost, "v0/webpages", body, &resp)
	return resp, err
}

// StartWebpage kicks off a crawl.
func (c *Client) StartWebpage(ctx context.Context, uid string) (Accepted, error) {
	var resp Accepted
	err := c.do(ctx, http.MethodPost, "v0/webpages/"+url.PathEscape(uid)+"/start", nil, &resp)
	return resp, err
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, pageURL, mode string, metadata map[string]any) (Project, error) {
	body := map[string]any{
		"url":      pageURL,
		"metadata": metadata,
	}
	if mode != "" {
		body["mode"] = mode
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "v0/projects", body, &resp)
	return resp, err
}

// AddProjectReference appends a sub-task reference to a project.
func (c *Client) AddProjectReference(ctx context.Context, uid, taskID, taskType string) (Project, error) {
	body := map[string]any{
		"task_id":   taskID,
		"task_type": taskType,
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "v0/projects/"+url.PathEscape(uid)+"/references", body, &resp)
	return resp, err
}

// StartProject kicks off project processing.
func (c *Client) StartProject(ctx context.Context, uid string) (Accepted, error) {
	var resp Accepted
	err := c.do(ctx, http.MethodPost, "v0/projects/"+url.PathEscape(uid)+"/start", nil, &resp)
	return resp, err
}

// RenderProject submits the project to the render service.
func (c *Client) RenderProject(ctx context.Context, uid string) (Accepted, error) {
	var resp Accepted
	err := c.do(ctx, http.MethodPost, "v0/projects/"+url.PathEscape(uid)+"/render", nil, &resp)
	return resp, err
}

// PostHook reports a job result to the inbound hook endpoint.
func (c *Client) PostHook(ctx context.Context, taskType, uid, status string, result map[string]any) (Accepted, error) {
	body := map[string]any{
		"result": result,
	}
	if status != "" {
		body["status"] = status
	}
	var resp Accepted
	endpoint := fmt.Sprintf("v0/hooks/%s/%s", url.PathEscape(taskType), url.PathEscape(uid))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Events returns recent audit events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []Event  `json:"items"`
		Meta  listMeta `json:"meta"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
