package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// deliverWebhook POSTs a pre-serialized task payload to the webhook URL from
// its metadata. The body is built by the mutation itself, before any save
// handler runs. Delivery is at-most-once with no retry; the caller swallows
// the returned error after logging it.
func (e Engine) deliverWebhook(ctx context.Context, url string, body []byte) error {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		peek, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(peek)))
	}
	return nil
}

// webhookBody serializes the task, injects the task_type discriminator and
// merges any caller-supplied extra context.
func webhookBody(t Task, extra map[string]any) ([]byte, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	payload["task_type"] = t.TaskRef().TaskType
	for k, v := range extra {
		payload[k] = v
	}
	return json.Marshal(payload)
}
