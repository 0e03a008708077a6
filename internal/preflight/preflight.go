package preflight

import (
	"context"
	"time"

	"ticketflow/internal/config"
	"ticketflow/internal/stage"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))
	if cfg.Mail.Source == config.MailSourceSpool {
		results = append(results, CheckDirectoryAccess("Mail spool", cfg.Mail.SpoolDir))
	} else {
		results = append(results, CheckTCP(ctx, "IMAP", cfg.Mail.IMAPHost, cfg.Mail.IMAPPort))
	}
	results = append(results, CheckLLM(ctx, "LLM", cfg.GetLLM()))
	results = append(results, CheckServiceNow(ctx, cfg.ServiceNow))
	if cfg.Notifications.SMTPHost != "" {
		results = append(results, CheckTCP(ctx, "SMTP", cfg.Notifications.SMTPHost, cfg.Notifications.SMTPPort))
	}
	return results
}

// Checkers adapts the network checks into health probes. The LLM probe is
// left out because every call spends tokens.
func Checkers(cfg *config.Config) []stage.Checker {
	if cfg == nil {
		return nil
	}
	checkers := []stage.Checker{
		resultChecker("state_dir", 0, func(context.Context) Result {
			return CheckDirectoryAccess("state_dir", cfg.Paths.StateDir)
		}),
		resultChecker("servicenow", 10*time.Second, func(ctx context.Context) Result {
			return CheckServiceNow(ctx, cfg.ServiceNow)
		}),
	}
	if cfg.Mail.Source == config.MailSourceSpool {
		checkers = append(checkers, resultChecker("mail", 0, func(context.Context) Result {
			return CheckDirectoryAccess("mail", cfg.Mail.SpoolDir)
		}))
	} else {
		checkers = append(checkers, resultChecker("mail", 5*time.Second, func(ctx context.Context) Result {
			return CheckTCP(ctx, "mail", cfg.Mail.IMAPHost, cfg.Mail.IMAPPort)
		}))
	}
	return checkers
}

func resultChecker(name string, timeout time.Duration, check func(context.Context) Result) stage.Checker {
	return stage.CheckerFunc{
		Name:    name,
		Timeout: timeout,
		Probe: func(ctx context.Context) error {
			result := check(ctx)
			if result.Passed {
				return nil
			}
			return checkError(result.Detail)
		},
	}
}

type checkError string

func (e checkError) Error() string { return string(e) }
