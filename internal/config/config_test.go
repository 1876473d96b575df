package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8889 {
		t.Errorf("port = %d", cfg.Port)
	}
	if cfg.UpstreamTimeout != 180*time.Second {
		t.Errorf("timeout = %v", cfg.UpstreamTimeout)
	}
	if len(cfg.RetryStatusCodes) != 2 || cfg.RetryStatusCodes[0] != 429 {
		t.Errorf("retry codes = %v", cfg.RetryStatusCodes)
	}
	if cfg.LogMaxItems != 500 || cfg.LogRetentionDays != 7 {
		t.Errorf("log bounds = %d/%d", cfg.LogMaxItems, cfg.LogRetentionDays)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("API_KEY", "sk-env")
	t.Setenv("PORT", "9999")
	t.Setenv("RETRY_STATUS_CODES", "429,500,503")
	t.Setenv("UPSTREAM_TIMEOUT", "60")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIKey != "sk-env" || cfg.Port != 9999 {
		t.Errorf("env overrides lost: %+v", cfg)
	}
	if len(cfg.RetryStatusCodes) != 3 {
		t.Errorf("retry codes = %v", cfg.RetryStatusCodes)
	}
	if cfg.UpstreamTimeout != time.Minute {
		t.Errorf("timeout = %v", cfg.UpstreamTimeout)
	}
}

func TestYAMLFileThenEnvWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("port: 7777\napi-key: sk-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("API_KEY", "sk-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 7777 {
		t.Errorf("file port lost: %d", cfg.Port)
	}
	if cfg.APIKey != "sk-env" {
		t.Errorf("env must win over file: %q", cfg.APIKey)
	}
}

func TestValidateRequiredSettings(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("empty config must fail validation")
	}
	for _, want := range []string{"PANEL_USER", "PANEL_PASSWORD", "API_KEY"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %s", err, want)
		}
	}

	cfg = &Config{PanelUser: "u", PanelPassword: "p", APIKey: "k"}
	if err = cfg.Validate(); err != nil {
		t.Errorf("complete config must pass: %v", err)
	}
}
