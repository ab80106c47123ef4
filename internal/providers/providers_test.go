package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestConversationSessionRotation(t *testing.T) {
	c := NewConversation("http://ai.local", "", 10*time.Minute)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	first := c.SessionFor("user-1")
	if first == "" {
		t.Fatalf("empty session id")
	}

	now = now.Add(5 * time.Minute)
	if got := c.SessionFor("user-1"); got != first {
		t.Fatalf("session rotated within idle window: %s vs %s", got, first)
	}

	// Each use refreshes last-used, so the window slides.
	now = now.Add(9 * time.Minute)
	if got := c.SessionFor("user-1"); got != first {
		t.Fatalf("sliding window broken: %s vs %s", got, first)
	}

	now = now.Add(11 * time.Minute)
	if got := c.SessionFor("user-1"); got == first {
		t.Fatalf("idle session must rotate")
	}

	if c.SessionFor("user-2") == c.SessionFor("user-1") {
		t.Fatalf("users must not share sessions")
	}
}

func TestConversationEngines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/engines" {
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"engines": []string{"gpt-4o", "claude-3-opus"}})
	}))
	defer srv.Close()

	c := NewConversation(srv.URL, "", time.Minute)
	engines, err := c.Engines(context.Background())
	if err != nil {
		t.Fatalf("engines: %v", err)
	}
	if len(engines) != 2 || engines[0] != "gpt-4o" {
		t.Fatalf("engines = %v", engines)
	}
}

func TestConversationEndSession(t *testing.T) {
	var mu sync.Mutex
	var deleted []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			mu.Lock()
			deleted = append(deleted, r.URL.Path)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewConversation(srv.URL, "", time.Minute)

	// No active session, nothing to tear down.
	if err := c.EndSession(context.Background(), "user-1"); err != nil {
		t.Fatalf("end without session: %v", err)
	}
	if len(deleted) != 0 {
		t.Fatalf("deletes = %v, want none", deleted)
	}

	session := c.SessionFor("user-1")
	if err := c.EndSession(context.Background(), "user-1"); err != nil {
		t.Fatalf("end: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != "/v1/sessions/"+session {
		t.Fatalf("deletes = %v", deleted)
	}
	if c.SessionFor("user-1") == session {
		t.Fatalf("ended session must not be reused")
	}
}

func TestClientAuthAndErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-1" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("bad key"))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"page_source": "<html/>"})
	}))
	defer srv.Close()

	crawler := NewCrawler(srv.URL, "sk-1", time.Second)
	result, err := crawler.Crawl(context.Background(), "https://acme.example", "direct")
	if err != nil {
		t.Fatalf("crawl: %v", err)
	}
	if result.PageSource != "<html/>" {
		t.Fatalf("result = %+v", result)
	}

	unauth := NewCrawler(srv.URL, "wrong", time.Second)
	_, err = unauth.Crawl(context.Background(), "https://acme.example", "direct")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T (%v)", err, err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Body != "bad key" {
		t.Fatalf("api error = %+v", apiErr)
	}
}

func TestNotifierMessageOperations(t *testing.T) {
	type call struct {
		method string
		path   string
		query  string
	}
	var mu sync.Mutex
	var calls []call
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, call{r.Method, r.URL.Path, r.URL.RawQuery})
		mu.Unlock()
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "tok")
	ctx := context.Background()
	msg := Notification{ChatID: "42", Text: "done", TaskType: "Project", TaskID: "p1"}
	if err := n.Send(ctx, msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := n.Edit(ctx, "m-1", msg); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if err := n.Delete(ctx, "42", "m-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []call{
		{http.MethodPost, "/v1/messages", ""},
		{http.MethodPut, "/v1/messages/m-1", ""},
		{http.MethodDelete, "/v1/messages/m-1", "chat_id=42"},
	}
	if len(calls) != len(want) {
		t.Fatalf("calls = %+v", calls)
	}
	for i, c := range calls {
		if c != want[i] {
			t.Fatalf("call %d = %+v, want %+v", i, c, want[i])
		}
	}
}

func TestCrawlerSubmitCarriesCallback(t *testing.T) {
	var got CrawlRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	crawler := NewCrawler(srv.URL, "", time.Second)
	err := crawler.Submit(context.Background(), "https://acme.example", "browser", "https://api.local/v0/hooks/Webpage/abc")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.CallbackURL != "https://api.local/v0/hooks/Webpage/abc" || got.Method != "browser" {
		t.Fatalf("request = %+v", got)
	}
}
