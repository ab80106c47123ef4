package server

import (
	"fmt"

	"pixline/internal/domain"
)

// Request payloads

type CreateAIRequestRequest struct {
	Prompt      string         `json:"prompt"`
	Context     map[string]any `json:"context,omitempty"`
	Engine      *string        `json:"engine,omitempty" enum:"gpt-4o,gpt-4-turbo,gpt-3.5-turbo,claude-3-opus,claude-3-sonnet,claude-3-haiku"`
	TemplateKey *string        `json:"template_key,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type CreateWebpageRequest struct {
	URL         string         `json:"url" format:"uri"`
	CrawlMethod *string        `json:"crawl_method,omitempty" enum:"direct,browser"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type CreateProjectRequest struct {
	URL      string         `json:"url" format:"uri"`
	Mode     *string        `json:"mode,omitempty" enum:"manual,auto"`
	Language *string        `json:"language,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type AddReferenceRequest struct {
	TaskID   string `json:"task_id" format:"uuid"`
	TaskType string `json:"task_type"`
}

// HookRequest is the body external services POST to the inbound hook
// endpoint when a submitted job settles. Result carries type-specific output:
// the answer for AI requests, the crawl result for webpages, brand data for
// projects.
type HookRequest struct {
	Status   *string        `json:"status,omitempty" enum:"draft,init,processing,paused,done,error"`
	Report   *string        `json:"report,omitempty"`
	Progress *int           `json:"progress,omitempty" minimum:"-1" maximum:"100"`
	Result   map[string]any `json:"result,omitempty"`
}

// Response payloads

type ListMeta struct {
	NextCursor string `json:"next_cursor,omitempty"`
}

type AIRequestListResponse struct {
	Items []*domain.AIRequest `json:"items"`
	Meta  ListMeta            `json:"meta"`
}

type WebpageListResponse struct {
	Items []*domain.Webpage `json:"items"`
	Meta  ListMeta          `json:"meta"`
}

type ProjectListResponse struct {
	Items []*domain.Project `json:"items"`
	Meta  ListMeta          `json:"meta"`
}

type LogsResponse struct {
	Items []domain.TaskLogRecord `json:"items"`
}

type EventListResponse struct {
	Items []domain.Event `json:"items"`
	Meta  ListMeta       `json:"meta"`
}

type AcceptedResponse struct {
	UID    string `json:"uid" format:"uuid"`
	Status string `json:"status" enum:"draft,init,processing,paused,done,error"`
}

// cursorFor encodes the pagination cursor for the last row of a full page.
func cursorFor(createdAt, uid string, pageLen, limit int) string {
	if limit <= 0 || pageLen < limit {
		return ""
	}
	return fmt.Sprintf("%s|%s", createdAt, uid)
}
