package domain

import "time"

// SessionStatus is the lifecycle status of a session.
type SessionStatus string

const (
	StatusCreated         SessionStatus = "CREATED"
	StatusConfirmed       SessionStatus = "CONFIRMED"
	StatusClosing         SessionStatus = "CLOSING"
	StatusWaitForFinalAck SessionStatus = "WAIT_FOR_FINAL_ACK"
	StatusClosed          SessionStatus = "CLOSED"
	StatusError           SessionStatus = "ERROR" // Terminal
)

// IsTerminal reports whether no further payload processing happens in this status.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusClosed || s == StatusError
}

// SendState tracks the outbound direction of a session.
type SendState struct {
	// LastProcessedSequenceNumber is the highest sequence number the counterparty acknowledged.
	LastProcessedSequenceNumber uint64 `json:"last_processed_sequence_number"`

	// UndeliveredMessages holds sent events awaiting acknowledgement, in send order.
	UndeliveredMessages []SessionEvent `json:"undelivered_messages,omitempty"`

	// PendingAcks holds acknowledgements not yet handed to the transport.
	PendingAcks []SessionEvent `json:"pending_acks,omitempty"`

	// CloseSequenceNumber is the sequence number of our Close, 0 if not sent.
	CloseSequenceNumber uint64 `json:"close_sequence_number,omitempty"`
}

// LastAssignedSequenceNumber returns the highest sequence number handed out so far.
func (s SendState) LastAssignedSequenceNumber() uint64 {
	if n := len(s.UndeliveredMessages); n > 0 {
		return s.UndeliveredMessages[n-1].Seq()
	}
	return s.LastProcessedSequenceNumber
}

// ReceiveState tracks the inbound direction of a session.
type ReceiveState struct {
	// LastProcessedSequenceNumber is the highest sequence number the application consumed.
	LastProcessedSequenceNumber uint64 `json:"last_processed_sequence_number"`

	// UndeliveredMessages buffers received events, sorted by sequence number.
	UndeliveredMessages []SessionEvent `json:"undelivered_messages,omitempty"`

	// CloseSequenceNumber is the sequence number of the counterparty's Close, 0 if not received.
	CloseSequenceNumber uint64 `json:"close_sequence_number,omitempty"`
}

// SessionState is the per-session record owned by one workflow checkpoint.
type SessionState struct {
	SessionID    string        `json:"session_id"`
	Counterparty string        `json:"counterparty"`
	Initiator    bool          `json:"initiator"`
	FlowName     string        `json:"flow_name,omitempty"`
	Status       SessionStatus `json:"status"`
	ErrorReason  string        `json:"error_reason,omitempty"`

	SendState    SendState    `json:"send_state"`
	ReceiveState ReceiveState `json:"receive_state"`

	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// NewSessionState creates a session in CREATED.
func NewSessionState(sessionID, counterparty string, initiator bool, now time.Time) *SessionState {
	return &SessionState{
		SessionID:    sessionID,
		Counterparty: counterparty,
		Initiator:    initiator,
		Status:       StatusCreated,
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Clone returns a deep copy.
func (s *SessionState) Clone() *SessionState {
	if s == nil {
		return nil
	}
	c := *s
	c.SendState.UndeliveredMessages = cloneEvents(s.SendState.UndeliveredMessages)
	c.SendState.PendingAcks = cloneEvents(s.SendState.PendingAcks)
	c.ReceiveState.UndeliveredMessages = cloneEvents(s.ReceiveState.UndeliveredMessages)
	return &c
}

// Drained reports whether nothing is left to hand to the transport or the application.
func (s *SessionState) Drained() bool {
	return len(s.SendState.UndeliveredMessages) == 0 &&
		len(s.SendState.PendingAcks) == 0 &&
		len(s.ReceiveState.UndeliveredMessages) == 0
}

func cloneEvents(events []SessionEvent) []SessionEvent {
	if events == nil {
		return nil
	}
	out := make([]SessionEvent, len(events))
	for i, e := range events {
		out[i] = e.Clone()
	}
	return out
}
