package services

import "context"

type contextKey int

const (
	itemIDKey contextKey = iota
	stageKey
	ticketKey
	requestIDKey
)

func withValue(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func valueFrom(ctx context.Context, key contextKey) (string, bool) {
	v, _ := ctx.Value(key).(string)
	return v, v != ""
}

// WithItemID annotates ctx with the item dedup key.
func WithItemID(ctx context.Context, id string) context.Context {
	return withValue(ctx, itemIDKey, id)
}

func ItemIDFromContext(ctx context.Context) (string, bool) { return valueFrom(ctx, itemIDKey) }

// WithStage annotates ctx with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	return withValue(ctx, stageKey, stage)
}

func StageFromContext(ctx context.Context) (string, bool) { return valueFrom(ctx, stageKey) }

// WithTicket annotates ctx with a ticket number.
func WithTicket(ctx context.Context, number string) context.Context {
	return withValue(ctx, ticketKey, number)
}

func TicketFromContext(ctx context.Context) (string, bool) { return valueFrom(ctx, ticketKey) }

// WithRequestID annotates ctx with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withValue(ctx, requestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) (string, bool) { return valueFrom(ctx, requestIDKey) }
