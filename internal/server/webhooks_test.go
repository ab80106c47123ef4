package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"pixline/internal/app"
	"pixline/internal/config"
	"pixline/internal/domain"
)

func newDispatcherEnv(t *testing.T) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func insertAIRequest(t *testing.T, a *app.App) string {
	t.Helper()
	req := &domain.AIRequest{
		Entity:    domain.Entity{UID: uuid.NewString()},
		TaskState: domain.NewTaskState(),
		UserID:    "user-1",
	}
	if err := a.Repo.InsertAIRequest(context.Background(), req, "user-1"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	return req.UID
}

func TestMatchesHook(t *testing.T) {
	evt := domain.Event{Type: "task.updated", TaskType: domain.TypeProject}
	cases := []struct {
		hook config.GlobalWebhook
		want bool
	}{
		{config.GlobalWebhook{}, true},
		{config.GlobalWebhook{Type: "task.updated"}, true},
		{config.GlobalWebhook{Type: "task.created"}, false},
		{config.GlobalWebhook{TaskType: domain.TypeProject}, true},
		{config.GlobalWebhook{TaskType: domain.TypeWebpage}, false},
		{config.GlobalWebhook{Type: "task.updated", TaskType: domain.TypeProject}, true},
	}
	for i, tc := range cases {
		if got := matchesHook(tc.hook, evt); got != tc.want {
			t.Fatalf("case %d: matchesHook = %v, want %v", i, got, tc.want)
		}
	}
}

func TestDispatcherDelivers(t *testing.T) {
	a := newDispatcherEnv(t)
	uid := insertAIRequest(t, a)
	insertAIRequest(t, a)
	if err := a.Repo.SoftDeleteAIRequest(context.Background(), uid, domain.Scope{UserID: "user-1"}, "user-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	var mu sync.Mutex
	var deliveries []*http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		deliveries = append(deliveries, r.Clone(context.Background()))
		mu.Unlock()
	}))
	defer srv.Close()

	hook := config.GlobalWebhook{URL: srv.URL, Type: "task.created", Secret: "s3cret"}
	d := &webhookDispatcher{
		app:      a,
		webhooks: []config.GlobalWebhook{hook},
		client:   &http.Client{Timeout: time.Second},
		cursors:  map[int]int64{0: 0},
	}
	d.dispatchWebhook(0, hook)

	mu.Lock()
	defer mu.Unlock()
	// Two creates match; the delete is filtered but still advances the cursor.
	if len(deliveries) != 2 {
		t.Fatalf("deliveries = %d, want 2", len(deliveries))
	}
	first := deliveries[0]
	if first.Header.Get("X-Pixline-Event") != "task.created" {
		t.Fatalf("event header = %q", first.Header.Get("X-Pixline-Event"))
	}
	if first.Header.Get("X-Pixline-Secret") != "s3cret" {
		t.Fatalf("secret header = %q", first.Header.Get("X-Pixline-Secret"))
	}

	latest, err := a.Repo.LatestEventID(context.Background())
	if err != nil {
		t.Fatalf("latest id: %v", err)
	}
	if d.cursorFor(0) != latest {
		t.Fatalf("cursor = %d, want %d", d.cursorFor(0), latest)
	}
}

func TestDispatcherStartsAtStreamTail(t *testing.T) {
	a := newDispatcherEnv(t)
	insertAIRequest(t, a)
	insertAIRequest(t, a)

	d := &webhookDispatcher{app: a, cursors: make(map[int]int64)}
	latest, err := a.Repo.LatestEventID(context.Background())
	if err != nil {
		t.Fatalf("latest id: %v", err)
	}
	if got := d.cursorFor(0); got != latest {
		t.Fatalf("initial cursor = %d, want tail %d", got, latest)
	}
}

func TestDispatcherResumesAfterFailure(t *testing.T) {
	a := newDispatcherEnv(t)
	insertAIRequest(t, a)
	insertAIRequest(t, a)

	var mu sync.Mutex
	seen := 0
	failing := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		seen++
		if failing && seen > 1 {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	hook := config.GlobalWebhook{URL: srv.URL}
	d := &webhookDispatcher{
		app:      a,
		webhooks: []config.GlobalWebhook{hook},
		client:   &http.Client{Timeout: time.Second},
		cursors:  map[int]int64{0: 0},
	}
	d.dispatchWebhook(0, hook)

	mu.Lock()
	if seen != 2 {
		mu.Unlock()
		t.Fatalf("first pass deliveries = %d, want 2 (second one rejected)", seen)
	}
	failing = false
	mu.Unlock()

	// The cursor stopped before the rejected event, so the retry resends it.
	d.dispatchWebhook(0, hook)
	mu.Lock()
	defer mu.Unlock()
	if seen != 3 {
		t.Fatalf("total deliveries = %d, want 3", seen)
	}
	latest, _ := a.Repo.LatestEventID(context.Background())
	if d.cursorFor(0) != latest {
		t.Fatalf("cursor after retry = %d, want %d", d.cursorFor(0), latest)
	}
}
