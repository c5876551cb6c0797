package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := []byte("env: dev\nlisten:\n  port: \"9090\"\ninvitation:\n  max_retries: 5\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	conf, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if conf.Env != "dev" {
		t.Fatalf("expected env dev, got %s", conf.Env)
	}
	if conf.Listen.Port != "9090" || conf.Listen.BindIp != "0.0.0.0" {
		t.Fatalf("unexpected listen config %+v", conf.Listen)
	}
	if conf.Invitation.MaxRetries != 5 {
		t.Fatalf("expected max retries 5, got %d", conf.Invitation.MaxRetries)
	}
	if conf.Invitation.ExpiryDays != 7 {
		t.Fatalf("expected default expiry 7 days, got %d", conf.Invitation.ExpiryDays)
	}
	if conf.Approval.ExpiryHours != 24 {
		t.Fatalf("expected default approval expiry 24h, got %d", conf.Approval.ExpiryHours)
	}
	if conf.Notification.DedupHours != 24 {
		t.Fatalf("expected default dedup 24h, got %d", conf.Notification.DedupHours)
	}
	if conf.Location != "Europe/Lisbon" {
		t.Fatalf("unexpected default location %s", conf.Location)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
