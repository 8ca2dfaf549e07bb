package observability_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsHooks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	hooks := m.Hooks()
	ctx := context.Background()

	seq := uint64(1)
	data := domain.SessionEvent{SessionID: "s1", SequenceNumber: &seq, Payload: domain.Data{}}
	ack := domain.SessionEvent{SessionID: "s1", Payload: domain.Ack{SequenceNumber: 1}}

	hooks.OnStatusChange(ctx, &domain.StatusEvent{SessionID: "s1", From: domain.StatusCreated, To: domain.StatusConfirmed})
	hooks.OnEventSent(ctx, &domain.MessageEvent{Event: data})
	hooks.OnEventSent(ctx, &domain.MessageEvent{Event: data})
	hooks.OnEventSent(ctx, &domain.MessageEvent{Event: ack})
	hooks.OnEventReceived(ctx, &domain.MessageEvent{Event: data})
	hooks.OnEventReceived(ctx, &domain.MessageEvent{Event: data, Duplicate: true})
	hooks.OnEventDelivered(ctx, &domain.MessageEvent{Event: data})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StatusTransitions.WithLabelValues("CREATED", "CONFIRMED")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsSent.WithLabelValues("DATA")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsSent.WithLabelValues("ACK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsReceived.WithLabelValues("DATA", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsReceived.WithLabelValues("DATA", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDelivered.WithLabelValues("DATA")))
	series, err := testutil.GatherAndCount(reg)
	assert.NoError(t, err)
	assert.Equal(t, 6, series)
}

func TestCombine(t *testing.T) {
	var order []string
	a := domain.LifecycleHooks{
		OnStatusChange: func(context.Context, *domain.StatusEvent) { order = append(order, "a") },
	}
	b := domain.LifecycleHooks{
		OnStatusChange: func(context.Context, *domain.StatusEvent) { order = append(order, "b") },
		OnEventSent:    func(context.Context, *domain.MessageEvent) { order = append(order, "b-sent") },
	}

	h := observability.Combine(a, b)
	h.OnStatusChange(context.Background(), &domain.StatusEvent{})
	h.OnEventSent(context.Background(), &domain.MessageEvent{})

	assert.Equal(t, []string{"a", "b", "b-sent"}, order)
	assert.Nil(t, h.OnEventDelivered)
}

func TestLoggingHooks(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	hooks := observability.LoggingHooks(logger)

	hooks.OnStatusChange(context.Background(), &domain.StatusEvent{
		WorkflowID: "wf", SessionID: "s1", From: domain.StatusConfirmed, To: domain.StatusError, Reason: "bad",
	})

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "session_status")
	assert.Contains(t, out, "reason=bad")
}
