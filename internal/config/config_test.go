package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"ticketflow/internal/config"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("OPENROUTER_API_KEY", "llm-key")
	t.Setenv("IMAP_USERNAME", "support@example.com")
	t.Setenv("IMAP_PASSWORD", "imap-secret")
	t.Setenv("SERVICENOW_INSTANCE_URL", "https://example.service-now.com/")
	t.Setenv("SERVICENOW_USERNAME", "svc")
	t.Setenv("SERVICENOW_PASSWORD", "svc-secret")
}

func TestLoadDefaultConfigUsesEnvAndExpandsPaths(t *testing.T) {
	setRequiredEnv(t)
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "ticketflow")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.LLM.APIKey != "llm-key" {
		t.Fatalf("expected llm key from env, got %q", cfg.LLM.APIKey)
	}
	if cfg.ServiceNow.InstanceURL != "https://example.service-now.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.ServiceNow.InstanceURL)
	}
	if cfg.Workflow.MaxAttempts != config.Default().Workflow.MaxAttempts {
		t.Fatalf("unexpected max attempts: %d", cfg.Workflow.MaxAttempts)
	}
	if cfg.ServiceNow.CategoryGroups["HR"] != "HR Support" {
		t.Fatalf("expected default category group mapping, got %v", cfg.ServiceNow.CategoryGroups)
	}
	if cfg.SocketPath() != filepath.Join(wantState, "ticketflow.sock") {
		t.Fatalf("unexpected socket path: %q", cfg.SocketPath())
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	if info, err := os.Stat(cfg.Paths.StateDir); err != nil || !info.IsDir() {
		t.Fatalf("expected state dir to exist: %v", err)
	}
}

func TestLoadCustomPath(t *testing.T) {
	setRequiredEnv(t)
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "ticketflow.toml")

	type payload struct {
		Workflow struct {
			MaxAttempts int `toml:"max_attempts"`
			Concurrency int `toml:"concurrency"`
		} `toml:"workflow"`
		Mail struct {
			Source   string `toml:"source"`
			SpoolDir string `toml:"spool_dir"`
		} `toml:"mail"`
		Rules struct {
			DomainCategories map[string]string `toml:"domain_categories"`
		} `toml:"rules"`
	}
	custom := payload{}
	custom.Workflow.MaxAttempts = 5
	custom.Workflow.Concurrency = 2
	custom.Mail.Source = "spool"
	custom.Mail.SpoolDir = filepath.Join(tempDir, "spool")
	custom.Rules.DomainCategories = map[string]string{" Payroll.Example.com ": "HR"}

	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected custom config to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Workflow.MaxAttempts != 5 || cfg.Workflow.Concurrency != 2 {
		t.Fatalf("unexpected workflow config: %+v", cfg.Workflow)
	}
	if cfg.Mail.Source != config.MailSourceSpool {
		t.Fatalf("unexpected mail source: %q", cfg.Mail.Source)
	}
	if got := cfg.Rules.DomainCategories["payroll.example.com"]; got != "HR" {
		t.Fatalf("expected normalized domain key, got %v", cfg.Rules.DomainCategories)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(custom.Mail.SpoolDir, "processed")); err != nil {
		t.Fatalf("expected processed spool dir: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() config.Config {
		cfg := config.Default()
		cfg.LLM.APIKey = "key"
		cfg.Mail.Username = "u"
		cfg.Mail.Password = "p"
		cfg.ServiceNow.InstanceURL = "https://example.service-now.com"
		cfg.ServiceNow.Username = "svc"
		cfg.ServiceNow.Password = "secret"
		return cfg
	}

	if cfg := base(); cfg.Validate() != nil {
		t.Fatalf("expected base config to validate, got %v", cfg.Validate())
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"max attempts", func(c *config.Config) { c.Workflow.MaxAttempts = 0 }, "workflow.max_attempts"},
		{"fanout", func(c *config.Config) { c.Tracking.Fanout = 0 }, "tracking.fanout"},
		{"provider", func(c *config.Config) { c.LLM.Provider = "bogus" }, "llm.provider"},
		{"mail source", func(c *config.Config) { c.Mail.Source = "pop3" }, "mail.source"},
		{"servicenow url", func(c *config.Config) { c.ServiceNow.InstanceURL = "example.com" }, "servicenow.instance_url"},
		{"jira project", func(c *config.Config) {
			c.Jira.Enabled = true
			c.Jira.BaseURL = "https://example.atlassian.net"
		}, "jira.project_key"},
		{"default category", func(c *config.Config) { c.Rules.DefaultCategory = "Legal" }, "rules.default_category"},
		{"domain category", func(c *config.Config) {
			c.Rules.DomainCategories = map[string]string{"example.com": "Legal"}
		}, "rules.domain_categories"},
		{"backoff", func(c *config.Config) { c.Workflow.BackoffMaxMillis = 1 }, "workflow.backoff_max_millis"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	setRequiredEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.Tracking.PollIntervalSeconds != 300 {
		t.Fatalf("unexpected poll interval from sample: %d", cfg.Tracking.PollIntervalSeconds)
	}
}
