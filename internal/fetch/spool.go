package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"ticketflow/internal/logging"
	"ticketflow/internal/services"
)

const processedDirName = "processed"

// SpoolSource reads .eml files from a directory. Processed files are moved to
// <dir>/processed so they are not fetched again.
type SpoolSource struct {
	dir          string
	batchSize    int
	previewChars int
	logger       *slog.Logger

	mu    sync.Mutex
	files map[string]string
}

// NewSpoolSource constructs a spool source rooted at dir.
func NewSpoolSource(dir string, batchSize, previewChars int, logger *slog.Logger) *SpoolSource {
	return &SpoolSource{
		dir:          dir,
		batchSize:    batchSize,
		previewChars: previewChars,
		logger:       logging.NewComponentLogger(logger, "fetch"),
		files:        make(map[string]string),
	}
}

// FetchUnprocessed parses every pending .eml file in name order.
func (s *SpoolSource) FetchUnprocessed(ctx context.Context) ([]Message, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "fetch", "read spool", s.dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".eml") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	if s.batchSize > 0 && len(names) > s.batchSize {
		names = names[:s.batchSize]
	}

	messages := make([]Message, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return messages, err
		}
		path := filepath.Join(s.dir, name)
		msg, err := s.parseFile(path)
		if err != nil {
			logging.WarnWithContext(s.logger, "spool file unreadable", "fetch_parse_failed",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "message skipped this run"),
				logging.Hint("inspect or remove the file"),
			)
			continue
		}
		s.mu.Lock()
		s.files[msg.DedupKey] = path
		s.mu.Unlock()
		if msg.Ignored {
			s.logger.Info("ignoring automated message",
				logging.String(logging.FieldItemID, msg.DedupKey),
				logging.String("reason", msg.IgnoreReason),
				logging.Event("fetch_ignored"),
			)
			if err := s.MarkProcessed(ctx, msg.DedupKey); err != nil {
				s.logger.Debug("mark ignored message failed", logging.Error(err))
			}
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (s *SpoolSource) parseFile(path string) (Message, error) {
	file, err := os.Open(path)
	if err != nil {
		return Message{}, err
	}
	defer file.Close()
	return Parse(file, s.previewChars)
}

// MarkProcessed moves the file backing dedupKey into the processed directory.
// Unknown keys are a no-op.
func (s *SpoolSource) MarkProcessed(_ context.Context, dedupKey string) error {
	s.mu.Lock()
	path, ok := s.files[dedupKey]
	delete(s.files, dedupKey)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	processed := filepath.Join(s.dir, processedDirName)
	if err := os.MkdirAll(processed, 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "fetch", "mark processed", "create processed dir", err)
	}
	if err := os.Rename(path, filepath.Join(processed, filepath.Base(path))); err != nil && !os.IsNotExist(err) {
		return services.Wrap(services.ErrTransient, "fetch", "mark processed", fmt.Sprintf("move %s", filepath.Base(path)), err)
	}
	return nil
}

// Describe returns a short label for status output.
func (s *SpoolSource) Describe() string { return "spool:" + s.dir }
