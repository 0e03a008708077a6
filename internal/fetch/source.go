package fetch

import (
	"context"
	"fmt"
	"log/slog"

	"ticketflow/internal/config"
)

// Source is a mail intake backend.
type Source interface {
	FetchUnprocessed(ctx context.Context) ([]Message, error)
	MarkProcessed(ctx context.Context, dedupKey string) error
	Describe() string
}

// NewSource selects the intake backend named by mail.source.
func NewSource(cfg config.Mail, logger *slog.Logger) (Source, error) {
	switch cfg.Source {
	case config.MailSourceIMAP:
		return NewIMAPSource(cfg, logger), nil
	case config.MailSourceSpool:
		return NewSpoolSource(cfg.SpoolDir, cfg.BatchSize, cfg.BodyPreviewChars, logger), nil
	default:
		return nil, fmt.Errorf("unsupported mail source %q", cfg.Source)
	}
}
