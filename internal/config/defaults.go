package config

const (
	defaultConfigPath             = "~/.config/ticketflow/config.toml"
	defaultStateDir               = "~/.local/share/ticketflow"
	defaultAPIBind                = "127.0.0.1:7490"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultLogRetentionDays       = 30
	defaultWorkflowInterval       = 60
	defaultWorkflowConcurrency    = 4
	defaultWorkflowMaxAttempts    = 3
	defaultBackoffInitialMillis   = 500
	defaultBackoffMaxMillis       = 8000
	defaultCallTimeoutSeconds     = 30
	defaultUnreachableAlertAfter  = 5
	defaultTrackingPollInterval   = 300
	defaultTrackingFanout         = 8
	defaultTrackingMaxHorizon     = 30 * 24
	defaultTrackingHandoffBuffer  = 64
	defaultTrackingCleanupDays    = 30
	defaultLLMProvider            = LLMProviderOpenRouter
	defaultLLMBaseURL             = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel               = "google/gemini-3-flash-preview"
	defaultLLMReferer             = "https://github.com/ticketflow/ticketflow"
	defaultLLMTitle               = "ticketflow"
	defaultLLMTimeoutSeconds      = 60
	defaultLLMRequestsPerMinute   = 60
	defaultMailSource             = MailSourceIMAP
	defaultIMAPHost               = "imap.gmail.com"
	defaultIMAPPort               = 993
	defaultMailbox                = "INBOX"
	defaultSpoolDir               = "~/.local/share/ticketflow/spool"
	defaultMailBatchSize          = 50
	defaultBodyPreviewChars       = 500
	defaultAssignmentGroup        = "Service Desk"
	defaultLookupCacheMinutes     = 30
	defaultJiraIssueType          = "Task"
	defaultSMTPHost               = "smtp.gmail.com"
	defaultSMTPPort               = 587
	defaultCompanyName            = "IT Support"
	defaultNotifyRequestTimeout   = 10
	defaultRulesCategory          = "General"
	defaultRulesSubcategory       = "Other"
	defaultRulesPriority          = "3"
	defaultCategoryGroupIT        = "IT Support"
	defaultCategoryGroupHR        = "HR Support"
	defaultCategoryGroupFinance   = "Finance Support"
	defaultCategoryGroupFacility  = "Facilities Support"
	defaultCategoryGroupGeneral   = "Service Desk"
)

// Supported LLM providers.
const (
	LLMProviderOpenRouter = "openrouter"
	LLMProviderOpenAI     = "openai"
)

// Supported mail sources.
const (
	MailSourceIMAP  = "imap"
	MailSourceSpool = "spool"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Workflow: Workflow{
			IntervalSeconds:       defaultWorkflowInterval,
			Concurrency:           defaultWorkflowConcurrency,
			MaxAttempts:           defaultWorkflowMaxAttempts,
			BackoffInitialMillis:  defaultBackoffInitialMillis,
			BackoffMaxMillis:      defaultBackoffMaxMillis,
			CallTimeoutSeconds:    defaultCallTimeoutSeconds,
			UnreachableAlertAfter: defaultUnreachableAlertAfter,
			RunOnStart:            true,
		},
		Tracking: Tracking{
			PollIntervalSeconds: defaultTrackingPollInterval,
			Fanout:              defaultTrackingFanout,
			MaxHorizonHours:     defaultTrackingMaxHorizon,
			HandoffBuffer:       defaultTrackingHandoffBuffer,
			CleanupDays:         defaultTrackingCleanupDays,
		},
		LLM: LLM{
			Provider:          defaultLLMProvider,
			BaseURL:           defaultLLMBaseURL,
			Model:             defaultLLMModel,
			Referer:           defaultLLMReferer,
			Title:             defaultLLMTitle,
			TimeoutSeconds:    defaultLLMTimeoutSeconds,
			RequestsPerMinute: defaultLLMRequestsPerMinute,
		},
		Mail: Mail{
			Source:           defaultMailSource,
			IMAPHost:         defaultIMAPHost,
			IMAPPort:         defaultIMAPPort,
			Mailbox:          defaultMailbox,
			SpoolDir:         defaultSpoolDir,
			BatchSize:        defaultMailBatchSize,
			BodyPreviewChars: defaultBodyPreviewChars,
		},
		ServiceNow: ServiceNow{
			DefaultAssignmentGroup: defaultAssignmentGroup,
			CategoryGroups: map[string]string{
				"IT":         defaultCategoryGroupIT,
				"HR":         defaultCategoryGroupHR,
				"Finance":    defaultCategoryGroupFinance,
				"Facilities": defaultCategoryGroupFacility,
				"General":    defaultCategoryGroupGeneral,
			},
			LookupCacheMinutes: defaultLookupCacheMinutes,
			AssignRandomMember: true,
		},
		Jira: Jira{
			IssueType: defaultJiraIssueType,
			TechnicalKeywords: []string{
				"server", "database", "network", "api", "deployment", "outage",
				"vpn", "firewall", "crash", "bug", "error code",
			},
		},
		Notifications: Notifications{
			SMTPHost:       defaultSMTPHost,
			SMTPPort:       defaultSMTPPort,
			CompanyName:    defaultCompanyName,
			RequestTimeout: defaultNotifyRequestTimeout,
		},
		Rules: Rules{
			Categories:         []string{"IT", "HR", "Finance", "Facilities", "General"},
			DefaultCategory:    defaultRulesCategory,
			DefaultSubcategory: defaultRulesSubcategory,
			DefaultPriority:    defaultRulesPriority,
			UrgentKeywords:     []string{"urgent", "asap", "emergency", "critical", "outage", "down"},
			AccessKeywords:     []string{"password", "login", "locked out", "access denied", "reset"},
		},
	}
}
