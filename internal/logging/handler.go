package logging

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	BatchIDKey      contextKey = "batch_id"
	GroupIDKey      contextKey = "group_id"
	ScheduleIDKey   contextKey = "schedule_id"
	LogIDKey        contextKey = "log_id"
	RecipientKey    contextKey = "recipient"
	CarrierMsgIDKey contextKey = "carrier_msg_id"
	WorkerIDKey     contextKey = "worker_id"
	HandlerKey      contextKey = "handler"
)

// ContextHandler wraps another slog.Handler and adds attributes from context.
type ContextHandler struct {
	slog.Handler
}

// NewContextHandler creates a handler that extracts values from context.
func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

// Handle adds context attributes before calling the wrapped handler.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if batchID, ok := ctx.Value(BatchIDKey).(string); ok {
		r.AddAttrs(slog.String("batch_id", batchID))
	}
	if groupID, ok := ctx.Value(GroupIDKey).(string); ok {
		r.AddAttrs(slog.String("group_id", groupID))
	}
	if scheduleID, ok := ctx.Value(ScheduleIDKey).(string); ok {
		r.AddAttrs(slog.String("schedule_id", scheduleID))
	}
	if logID, ok := ctx.Value(LogIDKey).(string); ok {
		r.AddAttrs(slog.String("log_id", logID))
	}
	if recipient, ok := ctx.Value(RecipientKey).(string); ok {
		r.AddAttrs(slog.String("recipient", recipient))
	}
	if carrierMsgID, ok := ctx.Value(CarrierMsgIDKey).(string); ok {
		r.AddAttrs(slog.String("carrier_msg_id", carrierMsgID))
	}
	if workerID, ok := ctx.Value(WorkerIDKey).(string); ok {
		r.AddAttrs(slog.String("worker_id", workerID))
	}
	if handler, ok := ctx.Value(HandlerKey).(string); ok {
		r.AddAttrs(slog.String("handler", handler))
	}

	return h.Handler.Handle(ctx, r)
}

// Helper functions to add values to context

func ContextWithBatchID(ctx context.Context, batchID string) context.Context {
	return context.WithValue(ctx, BatchIDKey, batchID)
}

func ContextWithGroupID(ctx context.Context, groupID string) context.Context {
	return context.WithValue(ctx, GroupIDKey, groupID)
}

func ContextWithScheduleID(ctx context.Context, scheduleID string) context.Context {
	return context.WithValue(ctx, ScheduleIDKey, scheduleID)
}

func ContextWithLogID(ctx context.Context, logID string) context.Context {
	return context.WithValue(ctx, LogIDKey, logID)
}

func ContextWithRecipient(ctx context.Context, recipient string) context.Context {
	return context.WithValue(ctx, RecipientKey, recipient)
}

func ContextWithCarrierMsgID(ctx context.Context, carrierMsgID string) context.Context {
	return context.WithValue(ctx, CarrierMsgIDKey, carrierMsgID)
}

func ContextWithWorkerID(ctx context.Context, workerID string) context.Context {
	return context.WithValue(ctx, WorkerIDKey, workerID)
}

func ContextWithHandler(ctx context.Context, handler string) context.Context {
	return context.WithValue(ctx, HandlerKey, handler)
}
