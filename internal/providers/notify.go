package providers

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// Notifier posts task outcomes back to the chat transport. Routing keys
// (chat id, thread) travel in the task metadata and are passed through as-is.
type Notifier struct {
	client client
}

func NewNotifier(baseURL, token string) *Notifier {
	return &Notifier{client: newClient(baseURL, token, 15*time.Second)}
}

// Notification is one chat message about a task.
type Notification struct {
	ChatID   string         `json:"chat_id"`
	Text     string         `json:"text"`
	TaskType string         `json:"task_type"`
	TaskID   string         `json:"task_id"`
	Extra    map[string]any `json:"extra,omitempty"`
}

func (n *Notifier) Send(ctx context.Context, msg Notification) error {
	return n.client.do(ctx, http.MethodPost, "v1/messages", msg, nil)
}

// Edit replaces the text of a previously sent message, used to update a
// progress message in place instead of flooding the chat.
func (n *Notifier) Edit(ctx context.Context, messageID string, msg Notification) error {
	return n.client.do(ctx, http.MethodPut, "v1/messages/"+url.PathEscape(messageID), msg, nil)
}

// Delete removes a message from the chat.
func (n *Notifier) Delete(ctx context.Context, chatID, messageID string) error {
	endpoint := "v1/messages/" + url.PathEscape(messageID) + "?chat_id=" + url.QueryEscape(chatID)
	return n.client.do(ctx, http.MethodDelete, endpoint, nil, nil)
}
