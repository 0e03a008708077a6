package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration. Everything the daemon writes at
// runtime (logs, journal, lock, socket, pid) lives under StateDir.
type Paths struct {
	StateDir string `toml:"state_dir"`
}

// API contains HTTP surface configuration.
type API struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Workflow contains batch processing knobs.
type Workflow struct {
	IntervalSeconds       int  `toml:"interval_seconds"`
	Concurrency           int  `toml:"concurrency"`
	MaxAttempts           int  `toml:"max_attempts"`
	BackoffInitialMillis  int  `toml:"backoff_initial_millis"`
	BackoffMaxMillis      int  `toml:"backoff_max_millis"`
	CallTimeoutSeconds    int  `toml:"call_timeout_seconds"`
	UnreachableAlertAfter int  `toml:"unreachable_alert_after"`
	RunOnStart            bool `toml:"run_on_start"`
}

// Tracking contains ticket lifecycle polling configuration.
type Tracking struct {
	PollIntervalSeconds int  `toml:"poll_interval_seconds"`
	Fanout              int  `toml:"fanout"`
	MaxHorizonHours     int  `toml:"max_horizon_hours"`
	HandoffBuffer       int  `toml:"handoff_buffer"`
	SendStatusUpdates   bool `toml:"send_status_updates"`
	CleanupDays         int  `toml:"cleanup_days"`
}

// LLM contains inference connection settings shared by the classify,
// summarize, and categorize stages.
type LLM struct {
	Provider          string `toml:"provider"`
	APIKey            string `toml:"api_key"`
	BaseURL           string `toml:"base_url"`
	Model             string `toml:"model"`
	Referer           string `toml:"referer"`
	Title             string `toml:"title"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
}

// Mail contains inbound message source configuration.
type Mail struct {
	Source           string `toml:"source"`
	IMAPHost         string `toml:"imap_host"`
	IMAPPort         int    `toml:"imap_port"`
	Username         string `toml:"username"`
	Password         string `toml:"password"`
	Mailbox          string `toml:"mailbox"`
	SpoolDir         string `toml:"spool_dir"`
	BatchSize        int    `toml:"batch_size"`
	BodyPreviewChars int    `toml:"body_preview_chars"`
}

// ServiceNow contains ticket system configuration.
type ServiceNow struct {
	InstanceURL            string            `toml:"instance_url"`
	Username               string            `toml:"username"`
	Password               string            `toml:"password"`
	DefaultAssignmentGroup string            `toml:"default_assignment_group"`
	DefaultCaller          string            `toml:"default_caller"`
	CategoryGroups         map[string]string `toml:"category_groups"`
	LookupCacheMinutes     int               `toml:"lookup_cache_minutes"`
	AssignRandomMember     bool              `toml:"assign_random_member"`
}

// Jira contains escalation configuration for technical tickets.
type Jira struct {
	Enabled           bool     `toml:"enabled"`
	BaseURL           string   `toml:"base_url"`
	Username          string   `toml:"username"`
	APIToken          string   `toml:"api_token"`
	ProjectKey        string   `toml:"project_key"`
	IssueType         string   `toml:"issue_type"`
	TechnicalKeywords []string `toml:"technical_keywords"`
}

// Notifications contains originator mail and operator alert configuration.
type Notifications struct {
	SMTPHost       string `toml:"smtp_host"`
	SMTPPort       int    `toml:"smtp_port"`
	SMTPUsername   string `toml:"smtp_username"`
	SMTPPassword   string `toml:"smtp_password"`
	From           string `toml:"from"`
	CompanyName    string `toml:"company_name"`
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Rules contains categorization policy: allowed categories, fallback values,
// and keyword/domain overrides.
type Rules struct {
	Categories         []string          `toml:"categories"`
	DefaultCategory    string            `toml:"default_category"`
	DefaultSubcategory string            `toml:"default_subcategory"`
	DefaultPriority    string            `toml:"default_priority"`
	UrgentKeywords     []string          `toml:"urgent_keywords"`
	AccessKeywords     []string          `toml:"access_keywords"`
	DomainCategories   map[string]string `toml:"domain_categories"`
}

// Config encapsulates all configuration values for ticketflow.
//
// Configuration sections by subsystem:
//   - Paths: runtime state directory
//   - API: HTTP bind address and bearer token
//   - Logging: log format, level, and retention
//   - Workflow: batch interval, concurrency, and retry policy
//   - Tracking: ticket poll interval, fan-out, and horizon
//   - LLM: inference provider settings
//   - Mail: IMAP or spool intake
//   - ServiceNow: ticket system credentials and assignment fallbacks
//   - Jira: escalation for technical tickets
//   - Notifications: SMTP originator mail and ntfy operator alerts
//   - Rules: categorization policy
type Config struct {
	Paths         Paths         `toml:"paths"`
	API           API           `toml:"api"`
	Logging       Logging       `toml:"logging"`
	Workflow      Workflow      `toml:"workflow"`
	Tracking      Tracking      `toml:"tracking"`
	LLM           LLM           `toml:"llm"`
	Mail          Mail          `toml:"mail"`
	ServiceNow    ServiceNow    `toml:"servicenow"`
	Jira          Jira          `toml:"jira"`
	Notifications Notifications `toml:"notifications"`
	Rules         Rules         `toml:"rules"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. A .env file in
// the working directory is loaded first so secrets can be supplied through
// the environment fallbacks.
func Load(path string) (*Config, string, bool, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, "", false, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("ticketflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.StateDir}
	if c.Mail.Source == MailSourceSpool && strings.TrimSpace(c.Mail.SpoolDir) != "" {
		dirs = append(dirs, c.Mail.SpoolDir, filepath.Join(c.Mail.SpoolDir, "processed"))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SocketPath returns the daemon IPC socket location.
func (c *Config) SocketPath() string { return filepath.Join(c.Paths.StateDir, "ticketflow.sock") }

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string { return filepath.Join(c.Paths.StateDir, "ticketflow.lock") }

// PIDPath returns the daemon pid file location.
func (c *Config) PIDPath() string { return filepath.Join(c.Paths.StateDir, "ticketflow.pid") }

// JournalPath returns the SQLite journal location.
func (c *Config) JournalPath() string { return filepath.Join(c.Paths.StateDir, "journal.db") }

// LogDir returns the directory holding daemon log files.
func (c *Config) LogDir() string { return filepath.Join(c.Paths.StateDir, "logs") }

// BatchInterval returns the scheduler interval.
func (c *Config) BatchInterval() time.Duration {
	return time.Duration(c.Workflow.IntervalSeconds) * time.Second
}

// CallTimeout returns the per-collaborator call deadline.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Workflow.CallTimeoutSeconds) * time.Second
}

// PollInterval returns the tracker poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Tracking.PollIntervalSeconds) * time.Second
}

// MaxHorizon returns how long a ticket may be tracked before it is dropped as stale.
func (c *Config) MaxHorizon() time.Duration {
	return time.Duration(c.Tracking.MaxHorizonHours) * time.Hour
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// LLMConfig is the flattened inference configuration handed to the LLM client.
type LLMConfig struct {
	Provider          string
	APIKey            string
	BaseURL           string
	Model             string
	Referer           string
	Title             string
	TimeoutSeconds    int
	RequestsPerMinute int
}

// GetLLM returns the inference connection settings.
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		Provider:          strings.TrimSpace(c.LLM.Provider),
		APIKey:            strings.TrimSpace(c.LLM.APIKey),
		BaseURL:           strings.TrimSpace(c.LLM.BaseURL),
		Model:             strings.TrimSpace(c.LLM.Model),
		Referer:           strings.TrimSpace(c.LLM.Referer),
		Title:             strings.TrimSpace(c.LLM.Title),
		TimeoutSeconds:    c.LLM.TimeoutSeconds,
		RequestsPerMinute: c.LLM.RequestsPerMinute,
	}
}
