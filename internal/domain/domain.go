package domain

import "time"

// Entity is the base record every stored type embeds: a unique immutable
// identifier, timestamps, a soft-delete flag and an open-ended metadata map
// that carries caller context (webhook URLs, chat routing) through async
// round trips.
type Entity struct {
	UID       string         `json:"uid" format:"uuid"`
	CreatedAt time.Time      `json:"created_at" format:"date-time"`
	UpdatedAt time.Time      `json:"updated_at" format:"date-time"`
	IsDeleted bool           `json:"is_deleted"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Touch refreshes the last-modified timestamp. Every persistence write calls
// this before the row is written.
func (e *Entity) Touch(now time.Time) {
	e.UpdatedAt = now
}

// WebhookURL returns the caller-declared webhook from metadata. The "webhook"
// key wins over "webhook_url" when both are present.
func (e *Entity) WebhookURL() (string, bool) {
	for _, key := range []string{"webhook", "webhook_url"} {
		if v, ok := e.Metadata[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// Scope is the explicit ownership predicate for lookups and listings. An empty
// field means the entity type does not carry that ownership key; a set field
// must match exactly.
type Scope struct {
	UserID     string
	BusinessID string
}

// AIEngine names a conversation model offered by the AI provider.
type AIEngine string

const (
	EngineGPT4o         AIEngine = "gpt-4o"
	EngineGPT4Turbo     AIEngine = "gpt-4-turbo"
	EngineGPT35Turbo    AIEngine = "gpt-3.5-turbo"
	EngineClaude3Opus   AIEngine = "claude-3-opus"
	EngineClaude3Sonnet AIEngine = "claude-3-sonnet"
	EngineClaude3Haiku  AIEngine = "claude-3-haiku"
)

// DefaultEngine is used when a request does not pick a model.
func DefaultEngine() AIEngine { return EngineGPT4o }

func (e AIEngine) Valid() bool {
	switch e {
	case EngineGPT4o, EngineGPT4Turbo, EngineGPT35Turbo,
		EngineClaude3Opus, EngineClaude3Sonnet, EngineClaude3Haiku:
		return true
	}
	return false
}

// AIRequest is a user-owned task tracking one conversation-provider call.
type AIRequest struct {
	Entity
	TaskState
	UserID      string         `json:"user_id" format:"uuid"`
	Prompt      string         `json:"prompt,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	Answer      map[string]any `json:"answer,omitempty"`
	Engine      AIEngine       `json:"engine"`
	TemplateKey string         `json:"template_key,omitempty"`
}

// CrawlMethod selects how a webpage is fetched by the crawl service.
type CrawlMethod string

const (
	CrawlDirect  CrawlMethod = "direct"
	CrawlBrowser CrawlMethod = "browser"
)

// ProductInfo is one product extracted from a crawled page.
type ProductInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// BrandData is the brand material the crawl service extracts from a page.
type BrandData struct {
	BrandName string        `json:"brand_name,omitempty"`
	Brief     string        `json:"brief,omitempty"`
	Favicon   string        `json:"favicon,omitempty"`
	Colors    []string      `json:"colors,omitempty"`
	Fonts     []string      `json:"fonts,omitempty"`
	Audience  string        `json:"audience,omitempty"`
	Tone      string        `json:"tone,omitempty" enum:"friendly,professional,informal,enthusiastic"`
	Products  []ProductInfo `json:"products,omitempty"`
}

// Webpage is a task tracking one crawl of a URL.
type Webpage struct {
	Entity
	TaskState
	URL         string      `json:"url"`
	CrawlMethod CrawlMethod `json:"crawl_method" enum:"direct,browser"`
	PageSource  string      `json:"page_source,omitempty"`
	Screenshot  string      `json:"screenshot,omitempty"`
	AIData      *BrandData  `json:"ai_data,omitempty"`
}

// ProjectStep is the pipeline stage a design project is in.
type ProjectStep string

const (
	StepSource  ProjectStep = "source"
	StepBrief   ProjectStep = "brief"
	StepContent ProjectStep = "content"
	StepRender  ProjectStep = "render"
)

// Project is a user-owned composite task: its references tree chains the
// crawl, brief, content and render sub-tasks.
type Project struct {
	Entity
	TaskState
	UserID   string      `json:"user_id" format:"uuid"`
	URL      string      `json:"url"`
	Mode     string      `json:"mode" enum:"manual,auto"`
	Language string      `json:"language,omitempty"`
	Step     ProjectStep `json:"project_step" enum:"source,brief,content,render"`
	Data     *BrandData  `json:"data,omitempty"`
}

// APIKey authenticates non-interactive callers (bots, services).
type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Event is one row of the append-only audit stream.
type Event struct {
	ID       int64  `json:"id"`
	TS       string `json:"ts" format:"date-time"`
	Type     string `json:"type"`
	TaskType string `json:"task_type"`
	TaskID   string `json:"task_id,omitempty"`
	ActorID  string `json:"actor_id"`
	Payload  string `json:"payload_json"`
}

// Task-type discriminators used in references, webhook payloads and the
// engine registry. Values are stable wire identifiers, not Go type names.
const (
	TypeAIRequest = "AIRequest"
	TypeWebpage   = "Webpage"
	TypeProject   = "Project"
)

func (r *AIRequest) TaskRef() TaskReference {
	return TaskReference{TaskID: r.UID, TaskType: TypeAIRequest}
}
func (r *AIRequest) TaskEntity() *Entity { return &r.Entity }
func (r *AIRequest) State() *TaskState   { return &r.TaskState }

func (w *Webpage) TaskRef() TaskReference {
	return TaskReference{TaskID: w.UID, TaskType: TypeWebpage}
}
func (w *Webpage) TaskEntity() *Entity { return &w.Entity }
func (w *Webpage) State() *TaskState   { return &w.TaskState }

func (p *Project) TaskRef() TaskReference {
	return TaskReference{TaskID: p.UID, TaskType: TypeProject}
}
func (p *Project) TaskEntity() *Entity { return &p.Entity }
func (p *Project) State() *TaskState   { return &p.TaskState }
