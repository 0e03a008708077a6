package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// PruneLogs deletes files in dir matching pattern whose modification time is
// older than retentionDays. Paths listed in keep are never removed. It
// returns the number of files deleted; retentionDays <= 0 is a no-op.
func PruneLogs(logger *slog.Logger, dir, pattern string, retentionDays int, keep ...string) int {
	if retentionDays <= 0 || dir == "" {
		return 0
	}
	if logger == nil {
		logger = NewNop()
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return 0
	}
	protected := make(map[string]bool, len(keep))
	for _, path := range keep {
		protected[filepath.Clean(path)] = true
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	removed := 0
	for _, path := range matches {
		if protected[filepath.Clean(path)] {
			continue
		}
		info, err := os.Lstat(path)
		if err != nil || !info.Mode().IsRegular() || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			WarnWithContext(logger, "old log file not removed", "log_retention_failed",
				String("path", path),
				Error(err),
				Hint("check ownership of the log directory"),
				String(FieldImpact, "disk usage keeps growing"),
			)
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info("old log files pruned", Event("log_pruned"), Int("removed", removed), Int("retention_days", retentionDays))
	}
	return removed
}
