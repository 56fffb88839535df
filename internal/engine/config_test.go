package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("ORG_ID", "org-1")
	t.Setenv("ENGINE_INTERVAL_SECONDS", "30")
	t.Setenv("ENGINE_CONFIG", "")
	t.Setenv("NOTIFY_WEBHOOK_URL", "http://gateway.local/hook")
	t.Setenv("NOTIFY_WEBHOOK_SMS", "http://gateway.local/sms")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OrgID != "org-1" {
		t.Fatalf("org = %q", cfg.OrgID)
	}
	if cfg.EvaluationInterval() != 30*time.Second {
		t.Fatalf("interval = %v, want 30s", cfg.EvaluationInterval())
	}
	if cfg.ChannelWebhooks["SMS"] != "http://gateway.local/sms" {
		t.Fatalf("sms webhook = %q, want dedicated endpoint", cfg.ChannelWebhooks["SMS"])
	}
	if cfg.ChannelWebhooks["EMAIL"] != "http://gateway.local/hook" {
		t.Fatalf("email webhook = %q, want fallback", cfg.ChannelWebhooks["EMAIL"])
	}
}

func TestLoadConfigRequiresOrg(t *testing.T) {
	t.Setenv("ORG_ID", "")
	t.Setenv("ENGINE_CONFIG", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("missing org id accepted")
	}
}

func TestLoadConfigYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	yaml := `org_id: org-yaml
evaluation_interval_seconds: 15
channel_webhooks:
  EMAIL: http://gateway.local/email
message_template: "{{.Title}}"
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("ORG_ID", "")
	t.Setenv("ENGINE_INTERVAL_SECONDS", "")
	t.Setenv("ENGINE_CONFIG", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OrgID != "org-yaml" || cfg.EvaluationIntervalSeconds != 15 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.ChannelWebhooks["EMAIL"] != "http://gateway.local/email" {
		t.Fatalf("webhooks = %v", cfg.ChannelWebhooks)
	}
	if cfg.MessageTemplate != "{{.Title}}" {
		t.Fatalf("template = %q", cfg.MessageTemplate)
	}
}

func TestLoadConfigRejectsBadInterval(t *testing.T) {
	t.Setenv("ORG_ID", "org-1")
	t.Setenv("ENGINE_INTERVAL_SECONDS", "-5")
	t.Setenv("ENGINE_CONFIG", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("negative interval accepted")
	}
}
