package providers

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Conversation calls the AI conversation service. Prompts from the same user
// share a session until the session sits idle longer than the threshold, then
// a fresh session starts so stale context does not bleed into new requests.
type Conversation struct {
	client client
	idle   time.Duration
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	id       string
	lastUsed time.Time
}

func NewConversation(baseURL, apiKey string, idle time.Duration) *Conversation {
	if idle <= 0 {
		idle = 30 * time.Minute
	}
	return &Conversation{
		client:   newClient(baseURL, apiKey, 120*time.Second),
		idle:     idle,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// SessionFor returns the active session id for a user, rotating it when the
// previous one has been idle past the threshold.
func (c *Conversation) SessionFor(userID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	s, ok := c.sessions[userID]
	if !ok || now.Sub(s.lastUsed) > c.idle {
		s = &session{id: uuid.NewString()}
		c.sessions[userID] = s
	}
	s.lastUsed = now
	return s.id
}

// AskRequest is one prompt sent to the conversation service.
type AskRequest struct {
	SessionID string         `json:"session_id"`
	Engine    string         `json:"engine"`
	Prompt    string         `json:"prompt"`
	Context   map[string]any `json:"context,omitempty"`
}

// AskResponse is the service answer.
type AskResponse struct {
	Answer map[string]any `json:"answer"`
}

// Ask sends a prompt on the user's current session and returns the answer.
func (c *Conversation) Ask(ctx context.Context, userID, engine, prompt string, promptCtx map[string]any) (map[string]any, error) {
	req := AskRequest{
		SessionID: c.SessionFor(userID),
		Engine:    engine,
		Prompt:    prompt,
		Context:   promptCtx,
	}
	var resp AskResponse
	if err := c.client.do(ctx, http.MethodPost, "v1/ask", req, &resp); err != nil {
		return nil, err
	}
	return resp.Answer, nil
}

// Engines lists the models the service offers.
func (c *Conversation) Engines(ctx context.Context) ([]string, error) {
	var resp struct {
		Engines []string `json:"engines"`
	}
	err := c.client.do(ctx, http.MethodGet, "v1/engines", nil, &resp)
	return resp.Engines, err
}

// EndSession drops a user's session server-side and locally.
func (c *Conversation) EndSession(ctx context.Context, userID string) error {
	c.mu.Lock()
	s, ok := c.sessions[userID]
	if ok {
		delete(c.sessions, userID)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return c.client.do(ctx, http.MethodDelete, "v1/sessions/"+url.PathEscape(s.id), nil, nil)
}
