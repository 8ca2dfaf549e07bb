package ports

import (
	"context"

	"github.com/aretw0/parley/pkg/domain"
)

// DeliveryHandler processes one inbound envelope.
// Returning an error leaves the envelope uncommitted so the transport redelivers it.
type DeliveryHandler func(ctx context.Context, env domain.Envelope) error

// Transport is the at-least-once bus between workflow instances.
// It may redeliver and reorder; the session protocol tolerates both.
type Transport interface {
	// Publish hands envelopes to the bus. Routing is by Envelope.To.
	Publish(ctx context.Context, envs []domain.Envelope) error

	// Receive delivers up to max envelopes addressed to workflowID, one at a time.
	// It returns the number of envelopes committed.
	Receive(ctx context.Context, workflowID string, max int, handler DeliveryHandler) (int, error)
}
