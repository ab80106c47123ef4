package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"pixline/internal/app"
	"pixline/internal/domain"
	"pixline/internal/engine"
	"pixline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	App      *app.App
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"task not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Pixline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.App.Repo))
	hcfg := huma.DefaultConfig("Pixline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerAIRequests(group, cfg.App)
	registerWebpages(group, cfg.App)
	registerProjects(group, cfg.App)
	registerHooks(group, cfg.App)
	registerEvents(group, cfg.App)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.App)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrTerminal):
		return newAPIError(http.StatusConflict, "terminal_status", err.Error(), nil)
	case errors.Is(err, engine.ErrUnknownTaskType):
		return newAPIError(http.StatusBadRequest, "unknown_task_type", err.Error(), nil)
	case errors.Is(err, engine.ErrNoReferences):
		return newAPIError(http.StatusUnprocessableEntity, "no_references", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// splitCursor decodes the "created_at|uid" cursor query value.
func splitCursor(cursor string) (createdAt, uid string) {
	if cursor == "" {
		return "", ""
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	hooksPrefix := path.Join(basePath, "hooks")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath || strings.HasPrefix(route, hooksPrefix) {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Pixline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type uidPath struct {
	UID string `path:"uid" format:"uuid"`
}

type listQuery struct {
	Limit  int    `query:"limit" minimum:"1" maximum:"200" default:"50"`
	Cursor string `query:"cursor"`
	Status string `query:"status" enum:"draft,init,processing,paused,done,error,"`
}

func registerAIRequests(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-ai-request",
		Method:        http.MethodPost,
		Path:          "/ai-requests",
		Summary:       "Create AI request",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateAIRequestRequest
	}) (*struct {
		Body *domain.AIRequest `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.Prompt) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "prompt is required", nil)
		}
		req := &domain.AIRequest{
			Entity:    domain.Entity{UID: uuid.NewString(), Metadata: input.Body.Metadata},
			TaskState: domain.NewTaskState(),
			UserID:    userID,
			Prompt:    input.Body.Prompt,
			Context:   input.Body.Context,
			Engine:    domain.DefaultEngine(),
		}
		if input.Body.Engine != nil {
			req.Engine = domain.AIEngine(*input.Body.Engine)
			if !req.Engine.Valid() {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid engine %q", req.Engine), nil)
			}
		}
		if input.Body.TemplateKey != nil {
			req.TemplateKey = *input.Body.TemplateKey
		}
		if err := a.Repo.InsertAIRequest(ctx, req, userID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *domain.AIRequest `json:"body"`
		}{Body: req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-ai-request",
		Method:      http.MethodGet,
		Path:        "/ai-requests/{uid}",
		Summary:     "Get AI request",
	}, func(ctx context.Context, input *uidPath) (*struct {
		Body *domain.AIRequest `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := a.Repo.GetAIRequest(ctx, input.UID, domain.Scope{UserID: userID})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *domain.AIRequest `json:"body"`
		}{Body: req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-ai-requests",
		Method:      http.MethodGet,
		Path:        "/ai-requests",
		Summary:     "List AI requests",
	}, func(ctx context.Context, input *listQuery) (*struct {
		Body AIRequestListResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		createdAt, uid := splitCursor(input.Cursor)
		items, err := a.Repo.ListAIRequests(ctx, repo.AIRequestFilters{
			Scope:           domain.Scope{UserID: userID},
			Status:          input.Status,
			Limit:           input.Limit,
			CursorCreatedAt: createdAt,
			CursorUID:       uid,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := AIRequestListResponse{Items: items}
		if n := len(items); n > 0 {
			last := items[n-1]
			resp.Meta.NextCursor = cursorFor(last.CreatedAt.UTC().Format(time.RFC3339Nano), last.UID, n, input.Limit)
		}
		return &struct {
			Body AIRequestListResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "start-ai-request",
		Method:        http.MethodPost,
		Path:          "/ai-requests/{uid}/start",
		Summary:       "Start AI request processing",
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *uidPath) (*struct {
		Body AcceptedResponse `json:"body"`
	}, error) {
		return startTask(ctx, a, domain.TypeAIRequest, input.UID, true)
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-ai-request-logs",
		Method:      http.MethodGet,
		Path:        "/ai-requests/{uid}/logs",
		Summary:     "AI request log records",
	}, func(ctx context.Context, input *uidPath) (*struct {
		Body LogsResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := a.Repo.GetAIRequest(ctx, input.UID, domain.Scope{UserID: userID})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LogsResponse `json:"body"`
		}{Body: LogsResponse{Items: req.Logs}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-ai-request",
		Method:        http.MethodDelete,
		Path:          "/ai-requests/{uid}",
		Summary:       "Delete AI request",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *uidPath) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := a.Repo.SoftDeleteAIRequest(ctx, input.UID, domain.Scope{UserID: userID}, userID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerWebpages(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-webpage",
		Method:        http.MethodPost,
		Path:          "/webpages",
		Summary:       "Create webpage crawl task",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateWebpageRequest
	}) (*struct {
		Body *domain.Webpage `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.URL) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "url is required", nil)
		}
		page := &domain.Webpage{
			Entity:      domain.Entity{UID: uuid.NewString(), Metadata: input.Body.Metadata},
			TaskState:   domain.NewTaskState(),
			URL:         input.Body.URL,
			CrawlMethod: domain.CrawlDirect,
		}
		if input.Body.CrawlMethod != nil {
			page.CrawlMethod = domain.CrawlMethod(*input.Body.CrawlMethod)
		}
		if err := a.Repo.InsertWebpage(ctx, page, userID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *domain.Webpage `json:"body"`
		}{Body: page}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-webpage",
		Method:      http.MethodGet,
		Path:        "/webpages/{uid}",
		Summary:     "Get webpage",
	}, func(ctx context.Context, input *uidPath) (*struct {
		Body *domain.Webpage `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		page, err := a.Repo.GetWebpage(ctx, input.UID, domain.Scope{})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *domain.Webpage `json:"body"`
		}{Body: page}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-webpages",
		Method:      http.MethodGet,
		Path:        "/webpages",
		Summary:     "List webpages",
	}, func(ctx context.Context, input *struct {
		listQuery
		URL string `query:"url"`
	}) (*struct {
		Body WebpageListResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		createdAt, uid := splitCursor(input.Cursor)
		items, err := a.Repo.ListWebpages(ctx, repo.WebpageFilters{
			URL:             input.URL,
			Status:          input.Status,
			Limit:           input.Limit,
			CursorCreatedAt: createdAt,
			CursorUID:       uid,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := WebpageListResponse{Items: items}
		if n := len(items); n > 0 {
			last := items[n-1]
			resp.Meta.NextCursor = cursorFor(last.CreatedAt.UTC().Format(time.RFC3339Nano), last.UID, n, input.Limit)
		}
		return &struct {
			Body WebpageListResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "start-webpage",
		Method:        http.MethodPost,
		Path:          "/webpages/{uid}/start",
		Summary:       "Start webpage crawl",
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *uidPath) (*struct {
		Body AcceptedResponse `json:"body"`
	}, error) {
		return startTask(ctx, a, domain.TypeWebpage, input.UID, false)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-webpage",
		Method:        http.MethodDelete,
		Path:          "/webpages/{uid}",
		Summary:       "Delete webpage",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *uidPath) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := a.Repo.SoftDeleteWebpage(ctx, input.UID, userID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerProjects(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest
	}) (*struct {
		Body *domain.Project `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.URL) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "url is required", nil)
		}
		project := &domain.Project{
			Entity:    domain.Entity{UID: uuid.NewString(), Metadata: input.Body.Metadata},
			TaskState: domain.NewTaskState(),
			UserID:    userID,
			URL:       input.Body.URL,
			Mode:      "manual",
			Step:      domain.StepSource,
		}
		if input.Body.Mode != nil {
			project.Mode = *input.Body.Mode
		}
		if input.Body.Language != nil {
			project.Language = *input.Body.Language
		}
		if err := a.Repo.InsertProject(ctx, project, userID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *domain.Project `json:"body"`
		}{Body: project}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{uid}",
		Summary:     "Get project",
	}, func(ctx context.Context, input *uidPath) (*struct {
		Body *domain.Project `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		project, err := a.Repo.GetProject(ctx, input.UID, domain.Scope{UserID: userID})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *domain.Project `json:"body"`
		}{Body: project}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, input *struct {
		listQuery
		Step string `query:"step" enum:"source,brief,content,render,"`
	}) (*struct {
		Body ProjectListResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		createdAt, uid := splitCursor(input.Cursor)
		items, err := a.Repo.ListProjects(ctx, repo.ProjectFilters{
			Scope:           domain.Scope{UserID: userID},
			Status:          input.Status,
			Step:            input.Step,
			Limit:           input.Limit,
			CursorCreatedAt: createdAt,
			CursorUID:       uid,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := ProjectListResponse{Items: items}
		if n := len(items); n > 0 {
			last := items[n-1]
			resp.Meta.NextCursor = cursorFor(last.CreatedAt.UTC().Format(time.RFC3339Nano), last.UID, n, input.Limit)
		}
		return &struct {
			Body ProjectListResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-project-reference",
		Method:        http.MethodPost,
		Path:          "/projects/{uid}/references",
		Summary:       "Append a sub-task reference",
	}, func(ctx context.Context, input *struct {
		uidPath
		Body AddReferenceRequest
	}) (*struct {
		Body *domain.Project `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		project, err := a.Repo.GetProject(ctx, input.UID, domain.Scope{UserID: userID})
		if err != nil {
			return nil, handleError(err)
		}
		ref := domain.TaskReference{TaskID: input.Body.TaskID, TaskType: input.Body.TaskType}
		if err := a.Engine.AddReference(ctx, project, ref, nil); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *domain.Project `json:"body"`
		}{Body: project}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "start-project",
		Method:        http.MethodPost,
		Path:          "/projects/{uid}/start",
		Summary:       "Start project processing",
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *uidPath) (*struct {
		Body AcceptedResponse `json:"body"`
	}, error) {
		return startTask(ctx, a, domain.TypeProject, input.UID, true)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "render-project",
		Method:        http.MethodPost,
		Path:          "/projects/{uid}/render",
		Summary:       "Submit project to the render service",
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *uidPath) (*struct {
		Body AcceptedResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		project, err := a.Repo.GetProject(ctx, input.UID, domain.Scope{UserID: userID})
		if err != nil {
			return nil, handleError(err)
		}
		if project.Status.Terminal() {
			return nil, handleError(fmt.Errorf("%w: %s", engine.ErrTerminal, project.Status))
		}
		go func() {
			if _, err := a.RenderProject(context.Background(), project); err != nil {
				log.Printf("server: render %s failed: %v", project.UID, err)
			}
		}()
		return &struct {
			Body AcceptedResponse `json:"body"`
		}{Body: AcceptedResponse{UID: project.UID, Status: string(project.Status)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project-logs",
		Method:      http.MethodGet,
		Path:        "/projects/{uid}/logs",
		Summary:     "Project log records",
	}, func(ctx context.Context, input *uidPath) (*struct {
		Body LogsResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		project, err := a.Repo.GetProject(ctx, input.UID, domain.Scope{UserID: userID})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LogsResponse `json:"body"`
		}{Body: LogsResponse{Items: project.Logs}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-project",
		Method:        http.MethodDelete,
		Path:          "/projects/{uid}",
		Summary:       "Delete project",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *uidPath) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := a.Repo.SoftDeleteProject(ctx, input.UID, domain.Scope{UserID: userID}, userID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

// startTask loads the target within the caller's scope, then kicks off
// processing in the background and answers 202 with the current status.
func startTask(ctx context.Context, a *app.App, taskType, uid string, scoped bool) (*struct {
	Body AcceptedResponse `json:"body"`
}, error) {
	userID, authErr := userIDFromContext(ctx)
	if authErr != nil {
		return nil, authErr
	}
	scope := domain.Scope{}
	if scoped {
		scope.UserID = userID
	}
	task, err := a.Engine.Resolve(ctx, domain.TaskReference{TaskID: uid, TaskType: taskType}, scope)
	if err != nil {
		return nil, handleError(err)
	}
	if task.State().Status.Terminal() {
		return nil, handleError(fmt.Errorf("%w: %s", engine.ErrTerminal, task.State().Status))
	}
	go func() {
		if err := a.Engine.StartProcessing(context.Background(), task, scope); err != nil {
			log.Printf("server: start %s/%s failed: %v", taskType, uid, err)
		}
	}()
	return &struct {
		Body AcceptedResponse `json:"body"`
	}{Body: AcceptedResponse{UID: uid, Status: string(task.State().Status)}}, nil
}

func registerHooks(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "inbound-hook",
		Method:      http.MethodPost,
		Path:        "/hooks/{task_type}/{uid}",
		Summary:     "Inbound completion hook",
		Description: "External crawl, render and AI services report job results here.",
	}, func(ctx context.Context, input *struct {
		TaskType string `path:"task_type"`
		UID      string `path:"uid" format:"uuid"`
		Body     HookRequest
	}) (*struct {
		Body AcceptedResponse `json:"body"`
	}, error) {
		task, err := a.Engine.Resolve(ctx, domain.TaskReference{TaskID: input.UID, TaskType: input.TaskType}, domain.Scope{})
		if err != nil {
			return nil, handleError(err)
		}
		a.ApplyHookResult(task, input.Body.Result)
		update := engine.Update{
			Report:   input.Body.Report,
			Progress: input.Body.Progress,
		}
		if input.Body.Status != nil {
			status := domain.StepStatus(*input.Body.Status)
			update.Status = &status
		}
		if err := a.Engine.UpdateAndEmit(ctx, task, update, nil); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AcceptedResponse `json:"body"`
		}{Body: AcceptedResponse{UID: input.UID, Status: string(task.State().Status)}}, nil
	})
}

func registerEvents(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit event feed",
	}, func(ctx context.Context, input *struct {
		Limit    int    `query:"limit" minimum:"1" maximum:"500" default:"100"`
		Cursor   int64  `query:"cursor" minimum:"0"`
		Type     string `query:"type"`
		TaskType string `query:"task_type"`
		TaskID   string `query:"task_id"`
	}) (*struct {
		Body EventListResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := a.Repo.LatestEventsFrom(ctx, input.Limit, input.Cursor, input.Type, input.TaskType, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := EventListResponse{Items: items}
		if n := len(items); n > 0 && n >= input.Limit {
			resp.Meta.NextCursor = fmt.Sprintf("%d", items[n-1].ID)
		}
		return &struct {
			Body EventListResponse `json:"body"`
		}{Body: resp}, nil
	})
}
