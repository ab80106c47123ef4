// Package app assembles the runtime: config, database, repo, providers, the
// task registry and the engine. Both the CLI and the HTTP server start here.
package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"pixline/internal/config"
	"pixline/internal/db"
	"pixline/internal/domain"
	"pixline/internal/engine"
	"pixline/internal/migrate"
	"pixline/internal/providers"
	"pixline/internal/repo"
)

// App holds every wired component for one process.
type App struct {
	Cfg      *config.Config
	DB       *sql.DB
	Repo     repo.Repo
	Registry *engine.Registry
	Engine   engine.Engine

	Conversation *providers.Conversation
	Crawler      *providers.Crawler
	Renderer     *providers.Renderer
	Notifier     *providers.Notifier
}

// New opens the workspace database, runs migrations and wires the registry.
func New(ctx context.Context, workspace string) (*App, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	a := &App{
		Cfg:  cfg,
		DB:   conn,
		Repo: repo.New(conn),
	}
	a.Conversation = providers.NewConversation(
		cfg.Providers.Conversation.BaseURL,
		cfg.Providers.Conversation.APIKey,
		cfg.SessionIdle(),
	)
	a.Crawler = providers.NewCrawler(
		cfg.Providers.Crawler.BaseURL,
		cfg.Providers.Crawler.APIKey,
		time.Duration(cfg.Providers.Crawler.TimeoutSeconds)*time.Second,
	)
	a.Renderer = providers.NewRenderer(
		cfg.Providers.Renderer.BaseURL,
		cfg.Providers.Renderer.APIKey,
		time.Duration(cfg.Providers.Renderer.TimeoutSeconds)*time.Second,
	)
	if cfg.Providers.Notifier.BaseURL != "" {
		a.Notifier = providers.NewNotifier(cfg.Providers.Notifier.BaseURL, cfg.Providers.Notifier.Token)
	}
	if err := a.wireRegistry(); err != nil {
		conn.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the database.
func (a *App) Close() error {
	return a.DB.Close()
}

// wireRegistry registers every task type and the chat notification signal.
func (a *App) wireRegistry() error {
	a.Registry = engine.NewRegistry()
	a.Engine = engine.New(a.Registry)
	a.Engine.Timeout = a.Cfg.WebhookTimeout()

	err := a.Registry.Register(domain.TypeAIRequest, engine.Handler{
		Load: func(ctx context.Context, id string, scope domain.Scope) (engine.Task, error) {
			return a.Repo.GetAIRequest(ctx, id, scope)
		},
		Save: func(ctx context.Context, t engine.Task) error {
			return a.Repo.UpdateAIRequest(ctx, t.(*domain.AIRequest), "engine")
		},
		Start: a.startAIRequest,
	})
	if err != nil {
		return err
	}
	err = a.Registry.Register(domain.TypeWebpage, engine.Handler{
		Load: func(ctx context.Context, id string, scope domain.Scope) (engine.Task, error) {
			return a.Repo.GetWebpage(ctx, id, scope)
		},
		Save: func(ctx context.Context, t engine.Task) error {
			return a.Repo.UpdateWebpage(ctx, t.(*domain.Webpage), "engine")
		},
		Start: a.startWebpage,
	})
	if err != nil {
		return err
	}
	// Projects have no Start of their own: starting one walks its
	// reference tree of sub-tasks.
	err = a.Registry.Register(domain.TypeProject, engine.Handler{
		Load: func(ctx context.Context, id string, scope domain.Scope) (engine.Task, error) {
			return a.Repo.GetProject(ctx, id, scope)
		},
		Save: func(ctx context.Context, t engine.Task) error {
			return a.Repo.UpdateProject(ctx, t.(*domain.Project), "engine")
		},
	})
	if err != nil {
		return err
	}
	if a.Notifier != nil {
		for _, name := range []string{domain.TypeAIRequest, domain.TypeWebpage, domain.TypeProject} {
			a.Registry.AddSignal(name, a.notifyTerminal)
		}
	}
	return nil
}

// startAIRequest runs one conversation round trip. Failures land the task in
// error status with the cause as report; they are not returned because the
// outcome is already recorded on the task itself.
func (a *App) startAIRequest(ctx context.Context, t engine.Task) error {
	req := t.(*domain.AIRequest)
	processing := domain.StepProcessing
	if err := a.Engine.UpdateAndEmit(ctx, t, engine.Update{Status: &processing}, nil); err != nil {
		return err
	}
	prompt := req.Prompt
	if req.TemplateKey != "" {
		if tpl, ok := a.Cfg.Templates[req.TemplateKey]; ok {
			prompt = tpl + "\n\n" + prompt
		}
	}
	answer, err := a.Conversation.Ask(ctx, req.UserID, string(req.Engine), prompt, req.Context)
	if err != nil {
		// A failed exchange invalidates the remote session; drop it so the
		// next prompt starts a fresh one.
		if endErr := a.Conversation.EndSession(ctx, req.UserID); endErr != nil {
			log.Printf("app: end session for %s: %v", req.UserID, endErr)
		}
		return a.failTask(ctx, t, err)
	}
	req.Answer = answer
	done := domain.StepDone
	report := "Answer ready"
	return a.Engine.UpdateAndEmit(ctx, t, engine.Update{Status: &done, Report: &report}, nil)
}

// crawlReuseWindow bounds how old a completed crawl may be to serve a new
// request for the same URL.
const crawlReuseWindow = 24 * time.Hour

// startWebpage runs one crawl. A fresh completed crawl of the same URL is
// reused instead of crawling again. With a public URL configured the crawl
// service is handed a callback to the inbound hook endpoint and the task
// stays in processing until the hook lands; otherwise the crawl runs inline.
func (a *App) startWebpage(ctx context.Context, t engine.Task) error {
	page := t.(*domain.Webpage)
	processing := domain.StepProcessing
	if err := a.Engine.UpdateAndEmit(ctx, t, engine.Update{Status: &processing}, nil); err != nil {
		return err
	}
	if cached := a.recentCrawl(ctx, page); cached != nil {
		page.PageSource = cached.PageSource
		page.Screenshot = cached.Screenshot
		page.AIData = cached.AIData
		done := domain.StepDone
		report := fmt.Sprintf("Reused crawl %s of %s", cached.UID, page.URL)
		return a.Engine.UpdateAndEmit(ctx, t, engine.Update{Status: &done, Report: &report}, nil)
	}
	if callback := a.HookURL(domain.TypeWebpage, page.UID); callback != "" {
		if err := a.Crawler.Submit(ctx, page.URL, string(page.CrawlMethod), callback); err != nil {
			return a.failTask(ctx, t, err)
		}
		return nil
	}
	result, err := a.Crawler.Crawl(ctx, page.URL, string(page.CrawlMethod))
	if err != nil {
		return a.failTask(ctx, t, err)
	}
	page.PageSource = result.PageSource
	page.Screenshot = result.Screenshot
	if len(result.BrandData) > 0 {
		page.AIData = brandDataFrom(result.BrandData)
	}
	done := domain.StepDone
	report := fmt.Sprintf("Crawled %s", page.URL)
	return a.Engine.UpdateAndEmit(ctx, t, engine.Update{Status: &done, Report: &report}, nil)
}

// recentCrawl returns a completed crawl of the same URL fresh enough to
// reuse, or nil.
func (a *App) recentCrawl(ctx context.Context, page *domain.Webpage) *domain.Webpage {
	cached, err := a.Repo.GetWebpageByURL(ctx, page.URL)
	if err != nil {
		return nil
	}
	if cached.UID == page.UID || cached.PageSource == "" {
		return nil
	}
	if time.Since(cached.UpdatedAt) > crawlReuseWindow {
		return nil
	}
	return cached
}

// RenderProject submits the project's approved content to the render service
// and moves the project into the render step. With a public URL configured
// the service reports through the inbound hook and the task stays in
// processing; otherwise the call waits for the output.
func (a *App) RenderProject(ctx context.Context, p *domain.Project) (string, error) {
	p.Step = domain.StepRender
	processing := domain.StepProcessing
	report := "Render submitted"
	if err := a.Engine.UpdateAndEmit(ctx, p, engine.Update{Status: &processing, Report: &report}, nil); err != nil {
		return "", err
	}
	req := providers.RenderRequest{
		ProjectID:   p.UID,
		Language:    p.Language,
		Data:        brandDataMap(p.Data),
		CallbackURL: a.HookURL(domain.TypeProject, p.UID),
	}
	result, err := a.Renderer.Render(ctx, req)
	if err != nil {
		return "", a.failTask(ctx, p, err)
	}
	if req.CallbackURL != "" {
		return "", nil
	}
	a.setOutputURL(p, result.OutputURL)
	done := domain.StepDone
	report = fmt.Sprintf("Rendered to %s", result.OutputURL)
	return result.OutputURL, a.Engine.UpdateAndEmit(ctx, p, engine.Update{Status: &done, Report: &report}, nil)
}

func (a *App) setOutputURL(p *domain.Project, outputURL string) {
	if outputURL == "" {
		return
	}
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}
	p.Metadata["output_url"] = outputURL
}

// HookURL builds the inbound hook callback for a task, or "" when no public
// URL is configured.
func (a *App) HookURL(taskType, uid string) string {
	base := strings.TrimRight(a.Cfg.Server.PublicURL, "/")
	if base == "" {
		return ""
	}
	basePath := a.Cfg.Server.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	return base + basePath + "/hooks/" + taskType + "/" + uid
}

func (a *App) failTask(ctx context.Context, t engine.Task, cause error) error {
	failed := domain.StepError
	report := cause.Error()
	if err := a.Engine.UpdateAndEmit(ctx, t, engine.Update{Status: &failed, Report: &report}, nil); err != nil {
		log.Printf("app: record failure for %s: %v", t.TaskRef(), err)
	}
	return cause
}

// notifyTerminal posts a chat message when a task reaches done or error and
// its metadata carries a chat_id routing key.
func (a *App) notifyTerminal(ctx context.Context, t engine.Task) error {
	state := t.State()
	if !state.Status.Terminal() {
		return nil
	}
	chatID, ok := t.TaskEntity().Metadata["chat_id"].(string)
	if !ok || chatID == "" {
		return nil
	}
	ref := t.TaskRef()
	text := fmt.Sprintf("%s %s finished with status %s", ref.TaskType, ref.TaskID, state.Status)
	if state.Report != "" {
		text += ": " + state.Report
	}
	msg := providers.Notification{
		ChatID:   chatID,
		Text:     text,
		TaskType: ref.TaskType,
		TaskID:   ref.TaskID,
	}
	// Tasks created from a chat carry the id of the bot's progress message.
	// A successful outcome replaces it in place; a failure removes it and
	// posts the alert as a new message.
	if messageID, ok := t.TaskEntity().Metadata["message_id"].(string); ok && messageID != "" {
		if state.Status != domain.StepError {
			return a.Notifier.Edit(ctx, messageID, msg)
		}
		if err := a.Notifier.Delete(ctx, chatID, messageID); err != nil {
			log.Printf("app: delete progress message %s: %v", messageID, err)
		}
	}
	return a.Notifier.Send(ctx, msg)
}

// ApplyHookResult copies the type-specific output an external service posted
// to the inbound hook onto the task record.
func (a *App) ApplyHookResult(t engine.Task, result map[string]any) {
	if len(result) == 0 {
		return
	}
	switch task := t.(type) {
	case *domain.AIRequest:
		if answer, ok := result["answer"].(map[string]any); ok {
			task.Answer = answer
		} else {
			task.Answer = result
		}
	case *domain.Webpage:
		if src, ok := result["page_source"].(string); ok {
			task.PageSource = src
		}
		if shot, ok := result["screenshot"].(string); ok {
			task.Screenshot = shot
		}
		if brand, ok := result["brand_data"].(map[string]any); ok {
			task.AIData = brandDataFrom(brand)
		}
	case *domain.Project:
		if brand, ok := result["data"].(map[string]any); ok {
			task.Data = brandDataFrom(brand)
		}
		if step, ok := result["project_step"].(string); ok {
			task.Step = domain.ProjectStep(step)
		}
		if out, ok := result["output_url"].(string); ok {
			a.setOutputURL(task, out)
		}
	}
}

// brandDataMap flattens BrandData into the generic payload the render
// service takes.
func brandDataMap(d *domain.BrandData) map[string]any {
	if d == nil {
		return nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func brandDataFrom(raw map[string]any) *domain.BrandData {
	var data domain.BrandData
	if name, ok := raw["brand_name"].(string); ok {
		data.BrandName = name
	}
	if brief, ok := raw["brief"].(string); ok {
		data.Brief = brief
	}
	if favicon, ok := raw["favicon"].(string); ok {
		data.Favicon = favicon
	}
	if audience, ok := raw["audience"].(string); ok {
		data.Audience = audience
	}
	if tone, ok := raw["tone"].(string); ok {
		data.Tone = tone
	}
	data.Colors = stringsFrom(raw["colors"])
	data.Fonts = stringsFrom(raw["fonts"])
	if products, ok := raw["products"].([]any); ok {
		for _, p := range products {
			if m, ok := p.(map[string]any); ok {
				var info domain.ProductInfo
				info.Name, _ = m["name"].(string)
				info.Description, _ = m["description"].(string)
				data.Products = append(data.Products, info)
			}
		}
	}
	return &data
}

func stringsFrom(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
