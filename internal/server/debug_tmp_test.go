package server_test

import (
	"net/http"
	"testing"

	"pixline/internal/domain"
)

func TestDebugTmpReferences(t *testing.T) {
	env := newTestEnv(t)
	user := asUser("user-1")

	st, page := env.doJSON(t, http.MethodPost, "/v0/webpages", user, map[string]any{"url": "https://acme.example"})
	t.Logf("webpage create: %d %v", st, page)
	st, project := env.doJSON(t, http.MethodPost, "/v0/projects", user, map[string]any{"url": "https://acme.example"})
	t.Logf("project create: %d %v", st, project)
	uid, _ := project["uid"].(string)
	t.Logf("uid=%q pageUID=%v", uid, page["uid"])

	st, got := env.doJSON(t, http.MethodGet, "/v0/projects/"+uid, user, nil)
	t.Logf("get project: %d %v", st, got)

	st, updated := env.doJSON(t, http.MethodPost, "/v0/projects/"+uid+"/references", user, map[string]any{
		"task_id":   page["uid"],
		"task_type": domain.TypeWebpage,
	})
	t.Logf("add reference: %d %v", st, updated)

	st, bogus := env.doJSON(t, http.MethodPost, "/v0/projects/"+uid+"/bogus-route", user, map[string]any{})
	t.Logf("bogus route: %d %v", st, bogus)

	st, getRefs := env.doJSON(t, http.MethodGet, "/v0/projects/"+uid+"/references", user, nil)
	t.Logf("GET references: %d %v", st, getRefs)
}
