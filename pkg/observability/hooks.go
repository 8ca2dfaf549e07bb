package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/parley/pkg/domain"
)

// LoggingHooks returns lifecycle hooks that log every transition and event.
func LoggingHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStatusChange: func(ctx context.Context, e *domain.StatusEvent) {
			level := slog.LevelInfo
			if e.To == domain.StatusError {
				level = slog.LevelWarn
			}
			logger.Log(ctx, level, "session_status",
				"workflow_id", e.WorkflowID,
				"session_id", e.SessionID,
				"from", e.From,
				"to", e.To,
				"reason", e.Reason,
			)
		},
		OnEventSent: func(ctx context.Context, e *domain.MessageEvent) {
			logger.DebugContext(ctx, "event_sent", "workflow_id", e.WorkflowID, "event", e.Event.String())
		},
		OnEventReceived: func(ctx context.Context, e *domain.MessageEvent) {
			logger.DebugContext(ctx, "event_received",
				"workflow_id", e.WorkflowID,
				"event", e.Event.String(),
				"duplicate", e.Duplicate,
			)
		},
		OnEventDelivered: func(ctx context.Context, e *domain.MessageEvent) {
			logger.DebugContext(ctx, "event_delivered", "workflow_id", e.WorkflowID, "event", e.Event.String())
		},
	}
}

// Combine merges several hook sets; each callback runs in argument order.
func Combine(hooks ...domain.LifecycleHooks) domain.LifecycleHooks {
	var out domain.LifecycleHooks
	for _, h := range hooks {
		out.OnStatusChange = chain(out.OnStatusChange, h.OnStatusChange)
		out.OnEventSent = chain(out.OnEventSent, h.OnEventSent)
		out.OnEventReceived = chain(out.OnEventReceived, h.OnEventReceived)
		out.OnEventDelivered = chain(out.OnEventDelivered, h.OnEventDelivered)
	}
	return out
}

func chain[T any](a, b func(context.Context, *T)) func(context.Context, *T) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e *T) {
		a(ctx, e)
		b(ctx, e)
	}
}
