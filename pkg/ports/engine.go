package ports

import (
	"time"

	"github.com/aretw0/parley/pkg/domain"
)

// SessionEngine defines the pure per-session protocol operations.
// Implementations must not mutate their inputs and must not perform I/O.
type SessionEngine interface {
	// NewSession creates a session in CREATED.
	NewSession(sessionID, counterparty string, initiator bool, now time.Time) *domain.SessionState

	// ProcessMessageToSend queues a payload under the next send sequence number.
	ProcessMessageToSend(state *domain.SessionState, payload domain.Payload, now time.Time) domain.Result

	// ProcessMessageReceived applies an inbound event (ack, dedup, buffering).
	ProcessMessageReceived(state *domain.SessionState, event domain.SessionEvent, now time.Time) domain.Result

	// GetNextReceivedEvent returns the next in-order event, if available.
	GetNextReceivedEvent(state *domain.SessionState) (domain.SessionEvent, bool)

	// AcknowledgeReceivedEvent consumes the in-order head and queues an ack.
	AcknowledgeReceivedEvent(state *domain.SessionState, sequenceNumber uint64, now time.Time) domain.Result

	// GetMessagesToSend returns unacknowledged events plus pending acks, clearing the acks.
	GetMessagesToSend(state *domain.SessionState) ([]domain.SessionEvent, *domain.SessionState)
}
