package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ticketflow/internal/items"
	"ticketflow/internal/journal"
	"ticketflow/internal/logging"
	"ticketflow/internal/metrics"
	"ticketflow/internal/notifications"
	"ticketflow/internal/services"
	"ticketflow/internal/stages"
	"ticketflow/internal/tracker"
)

const stageHandoff = "handoff"

// processItem drives key until it reaches a terminal stage and returns that
// stage. A non-terminal result means the item was abandoned: it was either
// retired unmarked for re-admission or, when it holds a ticket, kept in the
// store for the next run to resume.
func (o *Orchestrator) processItem(ctx context.Context, key string) items.Stage {
	requestID := uuid.NewString()
	ctx = services.WithItemID(ctx, key)
	ctx = services.WithRequestID(ctx, requestID)
	logger := logging.WithContext(ctx, o.logger)

	for {
		item, ok := o.store.Get(key)
		if !ok {
			return ""
		}
		if item.Stage.Terminal() {
			return o.finalize(ctx, item, requestID, logger)
		}
		if err := ctx.Err(); err != nil {
			return o.abandon(ctx, item, requestID, err, logger)
		}

		var err error
		switch item.Stage {
		case items.StageFetched:
			err = o.classify(ctx, item)
		case items.StageClassified:
			err = o.summarize(ctx, item)
		case items.StageSummarized:
			err = o.categorize(ctx, item)
		case items.StageCategorized:
			err = o.createTicket(ctx, item)
		case items.StageTicketCreated:
			err = o.notifyCreated(ctx, item)
		case items.StageNotified:
			err = o.handOff(ctx, item)
		default:
			err = fmt.Errorf("%w: no executor for stage %s", ErrInvalidTransition, item.Stage)
		}
		if err != nil {
			latest, ok := o.store.Get(key)
			if !ok {
				latest = item
			}
			return o.abandon(ctx, latest, requestID, err, logger)
		}
	}
}

// runStage wraps attempt with the stage context and start/complete logging.
func (o *Orchestrator) runStage(ctx context.Context, key, name string, call func(context.Context) error) error {
	stageCtx := services.WithStage(ctx, name)
	logger := logging.WithContext(stageCtx, o.logger)
	start := time.Now()
	logger.Debug("stage started", logging.String(logging.FieldEventType, "stage_start"))
	err := o.attempt(stageCtx, key, name, logger, call)
	if err == nil {
		logger.Info("stage completed",
			logging.String(logging.FieldEventType, "stage_complete"),
			logging.Duration("stage_duration", time.Since(start)),
		)
	}
	return err
}

func (o *Orchestrator) stageLogger(ctx context.Context, name string) *slog.Logger {
	return logging.WithContext(services.WithStage(ctx, name), o.logger)
}

func (o *Orchestrator) classify(ctx context.Context, item items.Item) error {
	var result items.Classification
	err := o.runStage(ctx, item.DedupKey, stages.NameClassify, func(c context.Context) error {
		var callErr error
		result, callErr = o.exec.Classify(c, item.Content)
		return callErr
	})
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		logging.WarnWithContext(o.stageLogger(ctx, stages.NameClassify), "classification exhausted; discarding", "classify_exhausted",
			logging.Error(err),
			logging.String(logging.FieldImpact, "no ticket will be created for this message"),
			logging.Hint("check the inference provider"),
		)
		return o.terminate(item.DedupKey, items.StageDiscarded, "classification failed: "+err.Error())
	}
	if !result.Relevant {
		reason := "not a support request"
		if result.Reason != "" {
			reason += ": " + result.Reason
		}
		return o.advance(item.DedupKey, items.StageDiscarded, func(it *items.Item) {
			it.Classification = &result
			it.TerminalReason = reason
		})
	}
	return o.advance(item.DedupKey, items.StageClassified, func(it *items.Item) {
		it.Classification = &result
	})
}

func (o *Orchestrator) summarize(ctx context.Context, item items.Item) error {
	var result items.Summary
	err := o.runStage(ctx, item.DedupKey, stages.NameSummarize, func(c context.Context) error {
		var callErr error
		result, callErr = o.exec.Summarize(c, item.Content)
		return callErr
	})
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		result = o.exec.SummarizeFallback(item.Content)
		metrics.RecordFallback(stages.NameSummarize)
		logging.WarnWithContext(o.stageLogger(ctx, stages.NameSummarize), "summary fallback applied", "summarize_fallback",
			logging.Error(err),
			logging.String("short_description", result.ShortDescription),
			logging.String(logging.FieldImpact, "ticket text derived from the subject"),
		)
	}
	return o.advance(item.DedupKey, items.StageSummarized, func(it *items.Item) {
		it.Summary = &result
	})
}

func (o *Orchestrator) categorize(ctx context.Context, item items.Item) error {
	var result items.Category
	err := o.runStage(ctx, item.DedupKey, stages.NameCategorize, func(c context.Context) error {
		var callErr error
		result, callErr = o.exec.Categorize(c, item.Content, *item.Summary)
		return callErr
	})
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		result = o.exec.CategorizeFallback(item.Content)
		metrics.RecordFallback(stages.NameCategorize)
		logging.WarnWithContext(o.stageLogger(ctx, stages.NameCategorize), "category fallback applied", "categorize_fallback",
			logging.Error(err),
			logging.String("category", result.Category),
			logging.String(logging.FieldImpact, "ticket routed to the default category"),
		)
	}
	return o.advance(item.DedupKey, items.StageCategorized, func(it *items.Item) {
		it.Category = &result
	})
}

func (o *Orchestrator) createTicket(ctx context.Context, item items.Item) error {
	var ref items.TicketRef
	err := o.runStage(ctx, item.DedupKey, stages.NameCreateTicket, func(c context.Context) error {
		var callErr error
		ref, callErr = o.exec.CreateTicket(c, item)
		return callErr
	})
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		logging.ErrorWithContext(o.stageLogger(ctx, stages.NameCreateTicket), "ticket creation failed", "ticket_create_failed",
			logging.Error(err),
			logging.Alert("ticket_create_failed"),
			logging.Hint("check ticket system connectivity and credentials"),
		)
		if o.alerts != nil {
			if pubErr := o.alerts.Publish(ctx, notifications.EventTicketFailed, notifications.Payload{
				"subject": item.Content.Subject,
				"from":    item.Content.From,
				"error":   err,
			}); pubErr != nil {
				o.logger.Debug("ticket failure alert failed", logging.Error(pubErr))
			}
		}
		return o.terminate(item.DedupKey, items.StageFailed, "ticket creation failed: "+err.Error())
	}

	if ref.Existing {
		o.stageLogger(ctx, stages.NameCreateTicket).Info("ticket already existed for message",
			logging.Ticket(ref.Number),
			logging.Event("ticket_existing"),
		)
	} else {
		metrics.RecordTicketCreated()
	}
	if err := o.advance(item.DedupKey, items.StageTicketCreated, func(it *items.Item) {
		it.Ticket = &ref
	}); err != nil {
		return err
	}
	if !ref.Existing {
		o.escalate(ctx, item.DedupKey)
	}
	return nil
}

// escalate mirrors technical tickets; failures are logged and ignored.
func (o *Orchestrator) escalate(ctx context.Context, key string) {
	if o.escalator == nil {
		return
	}
	item, ok := o.store.Get(key)
	if !ok || item.Ticket == nil {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
	jiraKey, err := o.escalator.Escalate(callCtx, item)
	cancel()
	if err != nil {
		logging.WarnWithContext(o.stageLogger(ctx, "escalate"), "escalation failed", "escalation_failed",
			logging.Ticket(item.Ticket.Number),
			logging.Error(err),
			logging.String(logging.FieldImpact, "technical ticket not mirrored to jira"),
			logging.Hint("check jira settings"),
		)
		return
	}
	if jiraKey == "" {
		return
	}
	if _, err := o.store.Update(key, func(it *items.Item) error {
		it.Ticket.JiraKey = jiraKey
		return nil
	}); err != nil {
		o.logger.Debug("record jira key failed", logging.Error(err))
	}
}

func (o *Orchestrator) notifyCreated(ctx context.Context, item items.Item) error {
	if item.Ticket == nil {
		return fmt.Errorf("%w: notify without ticket", ErrInvalidTransition)
	}
	logger := o.stageLogger(ctx, stages.NameNotify).With(logging.Ticket(item.Ticket.Number))
	sent := false
	switch {
	case item.Ticket.Existing:
		logger.Info("creation notice skipped for existing ticket")
	case item.Content.From == "":
		logging.WarnWithContext(logger, "creation notice skipped", "notify_no_address",
			logging.String(logging.FieldImpact, "originator not told about the ticket"),
		)
	default:
		fields := map[string]string{
			"ticket_number":     item.Ticket.Number,
			"short_description": item.Summary.ShortDescription,
			"description":       item.Summary.Description,
			"assignment_group":  item.Ticket.AssignmentGroup,
			"caller_name":       item.Ticket.Caller,
		}
		err := o.runStage(ctx, item.DedupKey, stages.NameNotify, func(c context.Context) error {
			return o.notifier.Notify(c, item.Content.From, notifications.TemplateTicketCreated, fields)
		})
		metrics.RecordNotification(notifications.TemplateTicketCreated, err)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			logging.WarnWithContext(logger, "creation notice failed", "notify_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "originator not told about the ticket; tracking continues"),
				logging.Hint("check SMTP settings"),
			)
		} else {
			sent = true
		}
	}
	return o.advance(item.DedupKey, items.StageNotified, func(it *items.Item) {
		it.NotifiedOnCreate = sent
	})
}

func (o *Orchestrator) handOff(ctx context.Context, item items.Item) error {
	ticket := trackedFromItem(item)
	err := o.runStage(ctx, item.DedupKey, stageHandoff, func(context.Context) error {
		return o.handoff.Track(ticket)
	})
	if err != nil {
		return fmt.Errorf("tracker handoff: %w", err)
	}
	return o.advance(item.DedupKey, items.StageTracking, nil)
}

func trackedFromItem(item items.Item) tracker.TrackedTicket {
	ticket := tracker.TrackedTicket{
		Ref:               *item.Ticket,
		DedupKey:          item.DedupKey,
		OriginatorAddress: item.Content.From,
		CallerName:        item.Ticket.Caller,
		CreatedAt:         time.Now(),
		NotifiedOnCreate:  item.NotifiedOnCreate,
	}
	if item.Summary != nil {
		ticket.ShortDescription = item.Summary.ShortDescription
	}
	return ticket
}

// advance moves key to a success stage and clears the attempt counter.
func (o *Orchestrator) advance(key string, to items.Stage, mutate func(*items.Item)) error {
	_, err := o.store.Update(key, func(it *items.Item) error {
		if err := checkTransition(it.Stage, to); err != nil {
			return err
		}
		if mutate != nil {
			mutate(it)
		}
		it.Stage = to
		it.Attempts = 0
		return nil
	})
	return err
}

// terminate moves key to DISCARDED or FAILED, keeping the attempt count.
func (o *Orchestrator) terminate(key string, to items.Stage, reason string) error {
	_, err := o.store.Update(key, func(it *items.Item) error {
		if err := checkTransition(it.Stage, to); err != nil {
			return err
		}
		it.Stage = to
		it.TerminalReason = reason
		return nil
	})
	return err
}

// finalize journals the outcome, marks the source message processed, and
// retires the item. When marking fails the item stays in the store flagged
// MarkPending so the next fetch of the message only retries the mark.
func (o *Orchestrator) finalize(ctx context.Context, item items.Item, requestID string, logger *slog.Logger) items.Stage {
	bg := context.WithoutCancel(ctx)
	if !item.MarkPending {
		o.record(bg, item, requestID, logger)
		metrics.RecordItemOutcome(string(item.Stage))

		attrs := []logging.Attr{
			logging.String("final_stage", string(item.Stage)),
			logging.String("subject", item.Content.Subject),
			logging.Event("item_finished"),
		}
		if item.Ticket != nil {
			attrs = append(attrs, logging.Ticket(item.Ticket.Number))
		}
		if item.TerminalReason != "" {
			attrs = append(attrs, logging.String("reason", item.TerminalReason))
		}
		logger.Info("item finished", logging.Args(attrs...)...)
	}

	markCtx, cancel := context.WithTimeout(bg, o.opts.CallTimeout)
	err := o.fetcher.MarkProcessed(markCtx, item.DedupKey)
	cancel()
	if err != nil {
		logging.WarnWithContext(logger, "mark processed failed", "mark_processed_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "item kept in store; the next run retries the mark only"),
			logging.Hint("check mail server connectivity"),
		)
		if _, uerr := o.store.Update(item.DedupKey, func(it *items.Item) error {
			it.MarkPending = true
			return nil
		}); uerr != nil {
			logger.Debug("flag mark pending failed", logging.Error(uerr))
		}
		return item.Stage
	}
	o.store.Retire(item.DedupKey)
	return item.Stage
}

// abandon handles an item that cannot reach a terminal stage this run. On
// cancellation an item with a confirmed ticket is still offered to the
// tracker. An item holding a ticket is never retired unfinished: it stays in
// the store at its last stage and the next run resumes it there instead of
// creating and announcing the ticket again. Anything earlier is retired
// unmarked for re-admission.
func (o *Orchestrator) abandon(ctx context.Context, item items.Item, requestID string, cause error, logger *slog.Logger) items.Stage {
	bg := context.WithoutCancel(ctx)
	if item.Ticket != nil && ctx.Err() != nil {
		if err := o.handoff.Track(trackedFromItem(item)); err == nil {
			if item.Stage == items.StageTicketCreated {
				_ = o.advance(item.DedupKey, items.StageNotified, nil)
			}
			if err := o.advance(item.DedupKey, items.StageTracking, nil); err == nil {
				if latest, ok := o.store.Get(item.DedupKey); ok {
					return o.finalize(bg, latest, requestID, logger)
				}
			}
		}
	}

	metrics.RecordItemOutcome("ABANDONED")
	if item.Ticket != nil {
		logging.WarnWithContext(logger, "item parked with ticket", "item_parked",
			logging.String("stage", string(item.Stage)),
			logging.Ticket(item.Ticket.Number),
			logging.Error(cause),
			logging.String(logging.FieldImpact, "message stays unprocessed; the next run resumes at this stage"),
			logging.Hint("check tracker capacity"),
		)
		return item.Stage
	}

	o.store.Retire(item.DedupKey)
	abandoned := item
	abandoned.TerminalReason = fmt.Sprintf("%v: %v", errAbandoned, cause)
	o.record(bg, abandoned, requestID, logger)
	logging.WarnWithContext(logger, "item abandoned", "item_abandoned",
		logging.String("stage", string(item.Stage)),
		logging.Error(cause),
		logging.String(logging.FieldImpact, "message stays unprocessed and is retried next run"),
	)
	return item.Stage
}

func (o *Orchestrator) record(ctx context.Context, item items.Item, requestID string, logger *slog.Logger) {
	if o.journal == nil {
		return
	}
	if err := o.journal.RecordOutcome(ctx, journal.OutcomeFromItem(item, requestID)); err != nil {
		logger.Debug("journal write failed", logging.Error(err))
	}
}
