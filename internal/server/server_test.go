package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"pixline/internal/app"
	"pixline/internal/domain"
	"pixline/internal/providers"
	"pixline/internal/repo"
	"pixline/internal/server"
)

const testJWTSecret = "test-secret"

type testEnv struct {
	srv *httptest.Server
	app *app.App
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	a, err := app.New(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	handler, err := server.New(server.Config{
		App: a,
		Auth: server.AuthConfig{
			JWTSecret:             testJWTSecret,
			AllowLegacyUserHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, app: a}
}

// doJSON issues a request and decodes the JSON response body when present.
func (e *testEnv) doJSON(t *testing.T, method, path string, headers map[string]string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			t.Fatalf("%s %s: decode response: %v", method, path, err)
		}
	}
	return resp.StatusCode, decoded
}

func asUser(userID string) map[string]string {
	return map[string]string{"X-User-Id": userID}
}

func errorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	envelope, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error envelope in %v", body)
	}
	code, _ := envelope["code"].(string)
	return code
}

func TestHealthNoAuth(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.doJSON(t, http.MethodGet, "/v0/health", nil, nil)
	if status != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health = %d %v", status, body)
	}
}

func TestUnauthorized(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.doJSON(t, http.MethodGet, "/v0/ai-requests", nil, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d", status)
	}
	if errorCode(t, body) != "unauthorized" {
		t.Fatalf("body = %v", body)
	}
}

func TestAIRequestLifecycle(t *testing.T) {
	env := newTestEnv(t)
	user := asUser("user-1")

	status, created := env.doJSON(t, http.MethodPost, "/v0/ai-requests", user, map[string]any{
		"prompt":   "write a brief",
		"context":  map[string]any{"url": "https://acme.example"},
		"metadata": map[string]any{"chat_id": "42"},
	})
	if status != http.StatusCreated {
		t.Fatalf("create = %d %v", status, created)
	}
	uid, _ := created["uid"].(string)
	if uid == "" {
		t.Fatalf("no uid in %v", created)
	}
	if created["task_status"] != "draft" {
		t.Fatalf("fresh status = %v", created["task_status"])
	}
	if created["user_id"] != "user-1" {
		t.Fatalf("owner = %v", created["user_id"])
	}

	status, got := env.doJSON(t, http.MethodGet, "/v0/ai-requests/"+uid, user, nil)
	if status != http.StatusOK || got["uid"] != uid {
		t.Fatalf("get = %d %v", status, got)
	}

	status, list := env.doJSON(t, http.MethodGet, "/v0/ai-requests", user, nil)
	if status != http.StatusOK {
		t.Fatalf("list = %d", status)
	}
	items, _ := list["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("list items = %v", list)
	}

	// Another user sees neither the record nor a hint it exists.
	status, body := env.doJSON(t, http.MethodGet, "/v0/ai-requests/"+uid, asUser("user-2"), nil)
	if status != http.StatusNotFound || errorCode(t, body) != "not_found" {
		t.Fatalf("cross-user get = %d %v", status, body)
	}

	status, _ = env.doJSON(t, http.MethodDelete, "/v0/ai-requests/"+uid, user, nil)
	if status != http.StatusNoContent {
		t.Fatalf("delete = %d", status)
	}
	status, _ = env.doJSON(t, http.MethodGet, "/v0/ai-requests/"+uid, user, nil)
	if status != http.StatusNotFound {
		t.Fatalf("get after delete = %d", status)
	}
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	user := asUser("user-1")

	status, body := env.doJSON(t, http.MethodPost, "/v0/ai-requests", user, map[string]any{"prompt": "  "})
	if status != http.StatusBadRequest || errorCode(t, body) != "bad_request" {
		t.Fatalf("blank prompt = %d %v", status, body)
	}
	status, body = env.doJSON(t, http.MethodPost, "/v0/ai-requests", user, map[string]any{
		"prompt": "hi",
		"engine": "gpt-99",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("bad engine = %d %v", status, body)
	}
	status, _ = env.doJSON(t, http.MethodPost, "/v0/webpages", user, map[string]any{"url": ""})
	if status != http.StatusBadRequest {
		t.Fatalf("blank url = %d", status)
	}
}

func TestJWTAuth(t *testing.T) {
	env := newTestEnv(t)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "jwt-user",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	status, created := env.doJSON(t, http.MethodPost, "/v0/projects",
		map[string]string{"Authorization": "Bearer " + token},
		map[string]any{"url": "https://acme.example"})
	if status != http.StatusCreated {
		t.Fatalf("create = %d %v", status, created)
	}
	if created["user_id"] != "jwt-user" {
		t.Fatalf("owner from subject claim = %v", created["user_id"])
	}

	status, body := env.doJSON(t, http.MethodGet, "/v0/projects",
		map[string]string{"Authorization": "Bearer not-a-token"}, nil)
	if status != http.StatusUnauthorized || errorCode(t, body) != "invalid_credentials" {
		t.Fatalf("bad token = %d %v", status, body)
	}

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "jwt-user",
	}).SignedString([]byte("wrong-secret"))
	if err != nil {
		t.Fatalf("sign forged token: %v", err)
	}
	status, _ = env.doJSON(t, http.MethodGet, "/v0/projects",
		map[string]string{"Authorization": "Bearer " + forged}, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("forged token = %d", status)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	env := newTestEnv(t)
	key := domain.APIKey{
		ID:      uuid.NewString(),
		UserID:  "bot-user",
		Name:    "bot",
		KeyHash: repo.HashAPIKey("sk-live-1"),
	}
	if err := env.app.Repo.InsertAPIKey(context.Background(), nil, key); err != nil {
		t.Fatalf("insert key: %v", err)
	}

	status, created := env.doJSON(t, http.MethodPost, "/v0/webpages",
		map[string]string{"X-Api-Key": "sk-live-1"},
		map[string]any{"url": "https://acme.example"})
	if status != http.StatusCreated {
		t.Fatalf("create = %d %v", status, created)
	}
	if created["crawl_method"] != "direct" {
		t.Fatalf("default crawl method = %v", created["crawl_method"])
	}

	status, _ = env.doJSON(t, http.MethodGet, "/v0/webpages",
		map[string]string{"X-Api-Key": "sk-unknown"}, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("unknown key = %d", status)
	}
}

func TestInboundHookCompletesTask(t *testing.T) {
	env := newTestEnv(t)
	user := asUser("user-1")

	_, created := env.doJSON(t, http.MethodPost, "/v0/ai-requests", user, map[string]any{"prompt": "hi"})
	uid := created["uid"].(string)

	// The hook endpoint takes no user credentials.
	hookPath := "/v0/hooks/" + domain.TypeAIRequest + "/" + uid
	status, body := env.doJSON(t, http.MethodPost, hookPath, nil, map[string]any{
		"status": "done",
		"report": "answered",
		"result": map[string]any{"answer": map[string]any{"text": "hello"}},
	})
	if status != http.StatusOK {
		t.Fatalf("hook = %d %v", status, body)
	}
	if body["status"] != "done" {
		t.Fatalf("hook response = %v", body)
	}

	_, got := env.doJSON(t, http.MethodGet, "/v0/ai-requests/"+uid, user, nil)
	if got["task_status"] != "done" || got["task_report"] != "answered" {
		t.Fatalf("task after hook = %v", got)
	}
	if got["task_progress"] != float64(100) {
		t.Fatalf("done must force progress, got %v", got["task_progress"])
	}
	answer, _ := got["answer"].(map[string]any)
	if answer["text"] != "hello" {
		t.Fatalf("answer = %v", got["answer"])
	}

	// A second delivery hits a terminal task.
	status, body = env.doJSON(t, http.MethodPost, hookPath, nil, map[string]any{"status": "done"})
	if status != http.StatusConflict || errorCode(t, body) != "terminal_status" {
		t.Fatalf("duplicate hook = %d %v", status, body)
	}

	status, body = env.doJSON(t, http.MethodPost, "/v0/hooks/Nope/"+uid, nil, map[string]any{"status": "done"})
	if status != http.StatusBadRequest || errorCode(t, body) != "unknown_task_type" {
		t.Fatalf("unknown type hook = %d %v", status, body)
	}

	status, _ = env.doJSON(t, http.MethodPost, "/v0/hooks/"+domain.TypeAIRequest+"/"+uuid.NewString(), nil, map[string]any{"status": "done"})
	if status != http.StatusNotFound {
		t.Fatalf("missing task hook = %d", status)
	}
}

func TestStartAIRequest(t *testing.T) {
	env := newTestEnv(t)
	user := asUser("user-1")

	ai := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/ask" {
			http.NotFound(w, r)
			return
		}
		var req providers.AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode ask: %v", err)
		}
		if req.SessionID == "" || req.Prompt == "" {
			t.Errorf("ask request = %+v", req)
		}
		json.NewEncoder(w).Encode(providers.AskResponse{Answer: map[string]any{"text": "a brief"}})
	}))
	defer ai.Close()
	env.app.Conversation = providers.NewConversation(ai.URL, "", time.Minute)

	_, created := env.doJSON(t, http.MethodPost, "/v0/ai-requests", user, map[string]any{"prompt": "write a brief"})
	uid := created["uid"].(string)

	status, accepted := env.doJSON(t, http.MethodPost, "/v0/ai-requests/"+uid+"/start", user, nil)
	if status != http.StatusAccepted {
		t.Fatalf("start = %d %v", status, accepted)
	}

	deadline := time.Now().Add(3 * time.Second)
	var got map[string]any
	for {
		_, got = env.doJSON(t, http.MethodGet, "/v0/ai-requests/"+uid, user, nil)
		if got["task_status"] == "done" || got["task_status"] == "error" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task never settled: %v", got["task_status"])
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got["task_status"] != "done" {
		t.Fatalf("task = %v", got)
	}
	answer, _ := got["answer"].(map[string]any)
	if answer["text"] != "a brief" {
		t.Fatalf("answer = %v", got["answer"])
	}

	// Terminal tasks cannot be started again.
	status, body := env.doJSON(t, http.MethodPost, "/v0/ai-requests/"+uid+"/start", user, nil)
	if status != http.StatusConflict || errorCode(t, body) != "terminal_status" {
		t.Fatalf("restart = %d %v", status, body)
	}
}

func TestProjectReferences(t *testing.T) {
	env := newTestEnv(t)
	user := asUser("user-1")

	_, page := env.doJSON(t, http.MethodPost, "/v0/webpages", user, map[string]any{"url": "https://acme.example"})
	_, project := env.doJSON(t, http.MethodPost, "/v0/projects", user, map[string]any{"url": "https://acme.example"})
	uid := project["uid"].(string)

	status, updated := env.doJSON(t, http.MethodPost, "/v0/projects/"+uid+"/references", user, map[string]any{
		"task_id":   page["uid"],
		"task_type": domain.TypeWebpage,
	})
	if status != http.StatusOK {
		t.Fatalf("add reference = %d %v", status, updated)
	}
	refs, _ := updated["task_references"].(map[string]any)
	tasks, _ := refs["tasks"].([]any)
	if len(tasks) != 1 {
		t.Fatalf("references = %v", updated["task_references"])
	}

	status, body := env.doJSON(t, http.MethodPost, "/v0/projects/"+uid+"/references", user, map[string]any{
		"task_id":   page["uid"],
		"task_type": "Nope",
	})
	if status != http.StatusBadRequest || errorCode(t, body) != "unknown_task_type" {
		t.Fatalf("unknown ref type = %d %v", status, body)
	}

	_, logs := env.doJSON(t, http.MethodGet, "/v0/projects/"+uid+"/logs", user, nil)
	items, _ := logs["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("reference mutation must log once, got %v", logs)
	}
}

func TestListCursorPagination(t *testing.T) {
	env := newTestEnv(t)
	user := asUser("user-1")

	for i := 0; i < 3; i++ {
		status, _ := env.doJSON(t, http.MethodPost, "/v0/ai-requests", user, map[string]any{
			"prompt": fmt.Sprintf("prompt %d", i),
		})
		if status != http.StatusCreated {
			t.Fatalf("create %d = %d", i, status)
		}
	}

	_, page1 := env.doJSON(t, http.MethodGet, "/v0/ai-requests?limit=2", user, nil)
	items1, _ := page1["items"].([]any)
	if len(items1) != 2 {
		t.Fatalf("page 1 = %v", page1)
	}
	meta, _ := page1["meta"].(map[string]any)
	cursor, _ := meta["next_cursor"].(string)
	if cursor == "" {
		t.Fatalf("full page must carry a cursor: %v", page1)
	}

	_, page2 := env.doJSON(t, http.MethodGet, "/v0/ai-requests?limit=2&cursor="+url.QueryEscape(cursor), user, nil)
	items2, _ := page2["items"].([]any)
	if len(items2) != 1 {
		t.Fatalf("page 2 = %v", page2)
	}
	meta2, _ := page2["meta"].(map[string]any)
	if c, _ := meta2["next_cursor"].(string); c != "" {
		t.Fatalf("short page must not carry a cursor: %v", page2)
	}
}

func TestEventsFeed(t *testing.T) {
	env := newTestEnv(t)
	user := asUser("user-1")

	_, created := env.doJSON(t, http.MethodPost, "/v0/ai-requests", user, map[string]any{"prompt": "hi"})
	uid := created["uid"].(string)
	env.doJSON(t, http.MethodDelete, "/v0/ai-requests/"+uid, user, nil)

	status, feed := env.doJSON(t, http.MethodGet, "/v0/events?task_type="+domain.TypeAIRequest, user, nil)
	if status != http.StatusOK {
		t.Fatalf("events = %d", status)
	}
	items, _ := feed["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("events = %v", feed)
	}
	newest, _ := items[0].(map[string]any)
	if newest["type"] != "task.deleted" || newest["task_id"] != uid {
		t.Fatalf("newest event = %v", newest)
	}
}
