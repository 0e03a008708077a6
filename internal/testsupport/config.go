package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"ticketflow/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Intake defaults to a spool directory so no mail server is needed.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Mail.Source = config.MailSourceSpool
	cfgVal.Mail.SpoolDir = filepath.Join(base, "spool")
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.LLM.APIKey = "test"
	cfgVal.Notifications.From = "helpdesk@example.com"

	for _, dir := range []string{cfgVal.Paths.StateDir, cfgVal.Mail.SpoolDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithServiceNow points the ticket system at url with test credentials.
func WithServiceNow(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.ServiceNow.InstanceURL = url
		b.cfg.ServiceNow.Username = "svc"
		b.cfg.ServiceNow.Password = "secret"
	}
}

// WithAPIToken requires bearer auth on the HTTP API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.Token = token
	}
}

// WithoutAPI disables the HTTP listener.
func WithoutAPI() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.Bind = ""
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
