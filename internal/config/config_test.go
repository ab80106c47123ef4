package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Server.Addr == "" {
		t.Fatalf("default addr missing")
	}
	if _, ok := cfg.Templates["brand_brief"]; !ok {
		t.Fatalf("default templates missing brand_brief: %v", cfg.Templates)
	}
}

func TestFromYAML(t *testing.T) {
	cfg, err := FromYAML([]byte(`
server:
  addr: ":9090"
  public_url: https://api.acme.example
webhooks:
  poll_seconds: 7
  global:
    - url: https://bot.example/events
      type: task.updated
      task_type: Project
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.PollInterval() != 7*time.Second {
		t.Fatalf("poll interval = %v", cfg.PollInterval())
	}
	if len(cfg.Webhooks.Global) != 1 || cfg.Webhooks.Global[0].TaskType != "Project" {
		t.Fatalf("webhooks = %+v", cfg.Webhooks.Global)
	}

	if _, err := FromYAML([]byte("server: [")); err == nil || !strings.Contains(err.Error(), "invalid config yaml") {
		t.Fatalf("bad yaml: %v", err)
	}
	if _, err := FromYAML([]byte("server:\n  addr: \"\"")); err == nil {
		t.Fatalf("missing addr must fail validation")
	}
	if _, err := FromYAML([]byte("server:\n  addr: \":1\"\nwebhooks:\n  global:\n    - type: task.created")); err == nil {
		t.Fatalf("webhook without url must fail validation")
	}
}

func TestDurationsFallBack(t *testing.T) {
	var cfg Config
	if cfg.WebhookTimeout() != 5*time.Second {
		t.Fatalf("webhook timeout default = %v", cfg.WebhookTimeout())
	}
	if cfg.PollInterval() != 2*time.Second {
		t.Fatalf("poll interval default = %v", cfg.PollInterval())
	}
	if cfg.SessionIdle() != 30*time.Minute {
		t.Fatalf("session idle default = %v", cfg.SessionIdle())
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if cfg != nil {
		t.Fatalf("missing file must return nil config")
	}

	if err := os.WriteFile(filepath.Join(dir, "pixline.yml"), []byte(GenerateDefault()), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err = LoadOptional(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg == nil || cfg.Server.Addr == "" {
		t.Fatalf("cfg = %+v", cfg)
	}
}
