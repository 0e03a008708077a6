package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateTracking(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateMail(); err != nil {
		return err
	}
	if err := c.validateServiceNow(); err != nil {
		return err
	}
	if err := c.validateJira(); err != nil {
		return err
	}
	if err := c.validateRules(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be >= 0")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.IntervalSeconds <= 0 {
		return errors.New("workflow.interval_seconds must be positive")
	}
	if c.Workflow.Concurrency <= 0 {
		return errors.New("workflow.concurrency must be positive")
	}
	if c.Workflow.MaxAttempts <= 0 {
		return errors.New("workflow.max_attempts must be positive")
	}
	if c.Workflow.BackoffInitialMillis <= 0 {
		return errors.New("workflow.backoff_initial_millis must be positive")
	}
	if c.Workflow.BackoffMaxMillis < c.Workflow.BackoffInitialMillis {
		return errors.New("workflow.backoff_max_millis must be >= workflow.backoff_initial_millis")
	}
	if c.Workflow.CallTimeoutSeconds <= 0 {
		return errors.New("workflow.call_timeout_seconds must be positive")
	}
	if c.Workflow.UnreachableAlertAfter < 0 {
		return errors.New("workflow.unreachable_alert_after must be >= 0")
	}
	return nil
}

func (c *Config) validateTracking() error {
	if c.Tracking.PollIntervalSeconds <= 0 {
		return errors.New("tracking.poll_interval_seconds must be positive")
	}
	if c.Tracking.Fanout <= 0 {
		return errors.New("tracking.fanout must be positive")
	}
	if c.Tracking.MaxHorizonHours <= 0 {
		return errors.New("tracking.max_horizon_hours must be positive")
	}
	if c.Tracking.HandoffBuffer <= 0 {
		return errors.New("tracking.handoff_buffer must be positive")
	}
	if c.Tracking.CleanupDays < 0 {
		return errors.New("tracking.cleanup_days must be >= 0")
	}
	return nil
}

func (c *Config) validateLLM() error {
	switch c.LLM.Provider {
	case LLMProviderOpenRouter, LLMProviderOpenAI:
	default:
		return fmt.Errorf("llm.provider must be %s or %s, got %q", LLMProviderOpenRouter, LLMProviderOpenAI, c.LLM.Provider)
	}
	if c.LLM.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("llm.api_key is required. Set OPENROUTER_API_KEY env var or edit %s (create with 'ticketflow config init')", defaultPath)
	}
	if c.LLM.RequestsPerMinute < 0 {
		return errors.New("llm.requests_per_minute must be >= 0")
	}
	return nil
}

func (c *Config) validateMail() error {
	switch c.Mail.Source {
	case MailSourceIMAP:
		if strings.TrimSpace(c.Mail.IMAPHost) == "" {
			return errors.New("mail.imap_host must be set")
		}
		if c.Mail.IMAPPort <= 0 || c.Mail.IMAPPort > 65535 {
			return errors.New("mail.imap_port must be between 1 and 65535")
		}
		if c.Mail.Username == "" || c.Mail.Password == "" {
			return errors.New("mail.username and mail.password must be set (or IMAP_USERNAME/IMAP_PASSWORD)")
		}
	case MailSourceSpool:
		if c.Mail.SpoolDir == "" {
			return errors.New("mail.spool_dir must be set")
		}
	default:
		return fmt.Errorf("mail.source must be %s or %s, got %q", MailSourceIMAP, MailSourceSpool, c.Mail.Source)
	}
	if c.Mail.BatchSize < 0 {
		return errors.New("mail.batch_size must be >= 0")
	}
	return nil
}

func (c *Config) validateServiceNow() error {
	if c.ServiceNow.InstanceURL == "" {
		return errors.New("servicenow.instance_url must be set (or SERVICENOW_INSTANCE_URL)")
	}
	if !strings.HasPrefix(c.ServiceNow.InstanceURL, "https://") && !strings.HasPrefix(c.ServiceNow.InstanceURL, "http://") {
		return errors.New("servicenow.instance_url must be an http(s) URL")
	}
	if c.ServiceNow.Username == "" || c.ServiceNow.Password == "" {
		return errors.New("servicenow.username and servicenow.password must be set")
	}
	return nil
}

func (c *Config) validateJira() error {
	if !c.Jira.Enabled {
		return nil
	}
	if c.Jira.BaseURL == "" {
		return errors.New("jira.base_url must be set when jira.enabled is true")
	}
	if c.Jira.ProjectKey == "" {
		return errors.New("jira.project_key must be set when jira.enabled is true")
	}
	if c.Jira.Username == "" || c.Jira.APIToken == "" {
		return errors.New("jira.username and jira.api_token must be set when jira.enabled is true")
	}
	return nil
}

func (c *Config) validateRules() error {
	if len(c.Rules.Categories) == 0 {
		return errors.New("rules.categories must not be empty")
	}
	if !slices.Contains(c.Rules.Categories, c.Rules.DefaultCategory) {
		return fmt.Errorf("rules.default_category %q must be one of rules.categories", c.Rules.DefaultCategory)
	}
	switch c.Rules.DefaultPriority {
	case "1", "2", "3", "4":
	default:
		return errors.New("rules.default_priority must be 1-4")
	}
	for domain, category := range c.Rules.DomainCategories {
		if !slices.Contains(c.Rules.Categories, category) {
			return fmt.Errorf("rules.domain_categories[%s] %q must be one of rules.categories", domain, category)
		}
	}
	return nil
}
