package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizeLogging()
	c.normalizeLLM()
	if err := c.normalizeMail(); err != nil {
		return err
	}
	c.normalizeServiceNow()
	c.normalizeJira()
	c.normalizeNotifications()
	c.normalizeRules()
	return nil
}

func (c *Config) normalizePaths() error {
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	var err error
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.Token == "" {
		c.API.Token = lookupEnv("TICKETFLOW_API_TOKEN")
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeLLM() {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = defaultLLMProvider
	}
	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case LLMProviderOpenAI:
			c.LLM.APIKey = lookupEnv("OPENAI_API_KEY")
		default:
			c.LLM.APIKey = lookupEnv("OPENROUTER_API_KEY")
		}
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" && c.LLM.Provider == LLMProviderOpenRouter {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		c.LLM.Model = defaultLLMModel
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
}

func (c *Config) normalizeMail() error {
	c.Mail.Source = strings.ToLower(strings.TrimSpace(c.Mail.Source))
	if c.Mail.Source == "" {
		c.Mail.Source = defaultMailSource
	}
	if c.Mail.Username == "" {
		c.Mail.Username = lookupEnv("IMAP_USERNAME")
	}
	if c.Mail.Password == "" {
		c.Mail.Password = lookupEnv("IMAP_PASSWORD")
	}
	if strings.TrimSpace(c.Mail.Mailbox) == "" {
		c.Mail.Mailbox = defaultMailbox
	}
	if strings.TrimSpace(c.Mail.SpoolDir) == "" {
		c.Mail.SpoolDir = defaultSpoolDir
	}
	var err error
	if c.Mail.SpoolDir, err = expandPath(c.Mail.SpoolDir); err != nil {
		return fmt.Errorf("mail.spool_dir: %w", err)
	}
	if c.Mail.BodyPreviewChars <= 0 {
		c.Mail.BodyPreviewChars = defaultBodyPreviewChars
	}
	return nil
}

func (c *Config) normalizeServiceNow() {
	c.ServiceNow.InstanceURL = strings.TrimRight(strings.TrimSpace(c.ServiceNow.InstanceURL), "/")
	if c.ServiceNow.InstanceURL == "" {
		c.ServiceNow.InstanceURL = strings.TrimRight(lookupEnv("SERVICENOW_INSTANCE_URL"), "/")
	}
	if c.ServiceNow.Username == "" {
		c.ServiceNow.Username = lookupEnv("SERVICENOW_USERNAME")
	}
	if c.ServiceNow.Password == "" {
		c.ServiceNow.Password = lookupEnv("SERVICENOW_PASSWORD")
	}
	if strings.TrimSpace(c.ServiceNow.DefaultAssignmentGroup) == "" {
		c.ServiceNow.DefaultAssignmentGroup = defaultAssignmentGroup
	}
	if c.ServiceNow.LookupCacheMinutes <= 0 {
		c.ServiceNow.LookupCacheMinutes = defaultLookupCacheMinutes
	}
}

func (c *Config) normalizeJira() {
	c.Jira.BaseURL = strings.TrimRight(strings.TrimSpace(c.Jira.BaseURL), "/")
	if c.Jira.Username == "" {
		c.Jira.Username = lookupEnv("JIRA_USERNAME")
	}
	if c.Jira.APIToken == "" {
		c.Jira.APIToken = lookupEnv("JIRA_API_TOKEN")
	}
	if strings.TrimSpace(c.Jira.IssueType) == "" {
		c.Jira.IssueType = defaultJiraIssueType
	}
}

func (c *Config) normalizeNotifications() {
	if c.Notifications.SMTPUsername == "" {
		c.Notifications.SMTPUsername = lookupEnv("SMTP_USERNAME")
	}
	if c.Notifications.SMTPPassword == "" {
		c.Notifications.SMTPPassword = lookupEnv("SMTP_PASSWORD")
	}
	if strings.TrimSpace(c.Notifications.From) == "" {
		c.Notifications.From = c.Notifications.SMTPUsername
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
}

func (c *Config) normalizeRules() {
	if strings.TrimSpace(c.Rules.DefaultCategory) == "" {
		c.Rules.DefaultCategory = defaultRulesCategory
	}
	if strings.TrimSpace(c.Rules.DefaultSubcategory) == "" {
		c.Rules.DefaultSubcategory = defaultRulesSubcategory
	}
	if strings.TrimSpace(c.Rules.DefaultPriority) == "" {
		c.Rules.DefaultPriority = defaultRulesPriority
	}
	normalized := make(map[string]string, len(c.Rules.DomainCategories))
	for domain, category := range c.Rules.DomainCategories {
		normalized[strings.ToLower(strings.TrimSpace(domain))] = strings.TrimSpace(category)
	}
	c.Rules.DomainCategories = normalized
}

func lookupEnv(key string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return ""
}
