package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"ticketflow/internal/items"
	"ticketflow/internal/logging"
	"ticketflow/internal/metrics"
	"ticketflow/internal/services"
)

// attempt runs call until it succeeds, fails permanently, or uses up
// MaxAttempts. Each call gets its own CallTimeout. Backoff doubles from
// BackoffInitial up to BackoffMax. Cancellation of ctx ends the loop with
// ctx.Err().
func (o *Orchestrator) attempt(ctx context.Context, key, stageName string, logger *slog.Logger, call func(context.Context) error) error {
	delay := o.opts.BackoffInitial
	for n := 1; ; n++ {
		o.setAttempts(key, n)

		callCtx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
		err := call(callCtx)
		cancel()
		metrics.RecordStageAttempt(stageName, err)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if services.IsPermanent(err) {
			return err
		}
		if n >= o.opts.MaxAttempts {
			return fmt.Errorf("%s failed after %d attempts: %w", stageName, n, err)
		}
		logging.WarnWithContext(logger, "stage attempt failed; retrying", "stage_retry",
			logging.Int("attempt", n),
			logging.Int("max_attempts", o.opts.MaxAttempts),
			logging.Duration("backoff", delay),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stage delayed"),
		)
		if err := o.sleep(ctx, delay); err != nil {
			return err
		}
		delay = min(delay*2, o.opts.BackoffMax)
	}
}

func (o *Orchestrator) setAttempts(key string, n int) {
	_, _ = o.store.Update(key, func(it *items.Item) error {
		it.Attempts = n
		return nil
	})
}
