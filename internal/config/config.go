package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models pixline.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
		// PublicURL is the externally reachable base of this instance.
		// When set, crawl and render jobs are submitted with a callback
		// pointing at the inbound hook endpoint instead of running
		// synchronously.
		PublicURL string `yaml:"public_url"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret         string `yaml:"jwt_secret"`
		AllowLegacyHeader bool   `yaml:"allow_legacy_header"`
	} `yaml:"auth"`
	Providers struct {
		Conversation ConversationProvider `yaml:"conversation"`
		Crawler      HTTPProvider         `yaml:"crawler"`
		Renderer     HTTPProvider         `yaml:"renderer"`
		Notifier     NotifierProvider     `yaml:"notifier"`
	} `yaml:"providers"`
	Webhooks struct {
		Global         []GlobalWebhook `yaml:"global"`
		TimeoutSeconds int             `yaml:"timeout_seconds"`
		PollSeconds    int             `yaml:"poll_seconds"`
	} `yaml:"webhooks"`
	Templates map[string]string `yaml:"templates"`
}

// ConversationProvider configures the AI conversation service.
type ConversationProvider struct {
	BaseURL            string `yaml:"base_url"`
	APIKey             string `yaml:"api_key"`
	SessionIdleSeconds int    `yaml:"session_idle_seconds"`
}

// HTTPProvider is a generic external HTTP service.
type HTTPProvider struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// NotifierProvider configures the chat transport used for terminal-state
// notifications.
type NotifierProvider struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// GlobalWebhook receives every audit event matching its filters, delivered by
// the polling dispatcher.
type GlobalWebhook struct {
	URL      string `yaml:"url"`
	Type     string `yaml:"type"`
	TaskType string `yaml:"task_type"`
	Secret   string `yaml:"secret"`
}

// WebhookTimeout returns the per-delivery timeout.
func (c *Config) WebhookTimeout() time.Duration {
	if c.Webhooks.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Webhooks.TimeoutSeconds) * time.Second
}

// PollInterval returns the dispatcher polling interval.
func (c *Config) PollInterval() time.Duration {
	if c.Webhooks.PollSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.Webhooks.PollSeconds) * time.Second
}

// SessionIdle returns the conversation session idle threshold.
func (c *Config) SessionIdle() time.Duration {
	if c.Providers.Conversation.SessionIdleSeconds <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.Providers.Conversation.SessionIdleSeconds) * time.Second
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate with pix config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	for i, hook := range c.Webhooks.Global {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks.global[%d].url is required", i)
		}
	}
	for key, tpl := range c.Templates {
		if key == "" {
			return fmt.Errorf("config.templates contains empty key")
		}
		if tpl == "" {
			return fmt.Errorf("template %s is empty", key)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "pixline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: ":8080"
  base_path: /v0
  public_url: ""

auth:
  jwt_secret: ""
  allow_legacy_header: false

providers:
  conversation:
    base_url: http://localhost:8100
    api_key: ""
    session_idle_seconds: 1800
  crawler:
    base_url: http://localhost:8101
    timeout_seconds: 60
  renderer:
    base_url: http://localhost:8102
    timeout_seconds: 120
  notifier:
    base_url: ""
    token: ""

webhooks:
  global: []
  timeout_seconds: 5
  poll_seconds: 2

templates:
  brand_brief: |
    Summarize the brand of the website below in one short paragraph.
    Include tone, audience and the main products.
  page_content: |
    Write landing page copy for the brand described below.
    Keep headlines under ten words.
`
