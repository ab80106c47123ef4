package providers

import (
	"context"
	"net/http"
	"time"
)

// Renderer calls the render service that turns approved project content into
// final page output.
type Renderer struct {
	client client
}

func NewRenderer(baseURL, apiKey string, timeout time.Duration) *Renderer {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Renderer{client: newClient(baseURL, apiKey, timeout)}
}

// RenderRequest submits one project render job. With CallbackURL set the
// service acknowledges immediately and POSTs the result to the callback.
type RenderRequest struct {
	ProjectID   string         `json:"project_id"`
	Language    string         `json:"language,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	CallbackURL string         `json:"callback_url,omitempty"`
}

// RenderResult points at the produced artifact.
type RenderResult struct {
	OutputURL string `json:"output_url"`
}

func (r *Renderer) Render(ctx context.Context, req RenderRequest) (*RenderResult, error) {
	var resp RenderResult
	if err := r.client.do(ctx, http.MethodPost, "v1/render", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
