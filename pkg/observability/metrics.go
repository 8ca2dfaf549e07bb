package observability

import (
	"context"
	"strconv"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors fed by session lifecycle hooks.
type Metrics struct {
	StatusTransitions *prometheus.CounterVec
	EventsSent        *prometheus.CounterVec
	EventsReceived    *prometheus.CounterVec
	EventsDelivered   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StatusTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_session_status_transitions_total",
				Help: "Total number of session status transitions",
			},
			[]string{"from", "to"},
		),
		EventsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_events_sent_total",
				Help: "Total number of session events handed to the transport, resends included",
			},
			[]string{"type"},
		),
		EventsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_events_received_total",
				Help: "Total number of session events received from the transport",
			},
			[]string{"type", "duplicate"},
		),
		EventsDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_events_delivered_total",
				Help: "Total number of in-order events consumed by the application",
			},
			[]string{"type"},
		),
	}
	reg.MustRegister(m.StatusTransitions, m.EventsSent, m.EventsReceived, m.EventsDelivered)
	return m
}

// Hooks returns lifecycle hooks that record into the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStatusChange: func(_ context.Context, e *domain.StatusEvent) {
			m.StatusTransitions.WithLabelValues(string(e.From), string(e.To)).Inc()
		},
		OnEventSent: func(_ context.Context, e *domain.MessageEvent) {
			m.EventsSent.WithLabelValues(string(e.Event.Kind())).Inc()
		},
		OnEventReceived: func(_ context.Context, e *domain.MessageEvent) {
			m.EventsReceived.WithLabelValues(string(e.Event.Kind()), strconv.FormatBool(e.Duplicate)).Inc()
		},
		OnEventDelivered: func(_ context.Context, e *domain.MessageEvent) {
			m.EventsDelivered.WithLabelValues(string(e.Event.Kind())).Inc()
		},
	}
}
