package protocol

import (
	"fmt"
	"sort"
	"time"

	"github.com/aretw0/parley/pkg/domain"
)

// DefaultReceiveWindow is the default bound on how far ahead of the last consumed
// sequence number an inbound event may be.
const DefaultReceiveWindow uint64 = 1024

// Config holds the engine constants.
type Config struct {
	// ReceiveWindow bounds inbound sequence numbers to LastProcessed+ReceiveWindow.
	// Zero selects DefaultReceiveWindow.
	ReceiveWindow uint64 `json:"receive_window" yaml:"receive_window" mapstructure:"receive_window"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{ReceiveWindow: DefaultReceiveWindow}
}

// Engine implements the session protocol as pure functions over domain.SessionState.
// No method mutates its input; every change is returned as a new state.
type Engine struct {
	cfg Config
}

// New creates an Engine.
func New(cfg Config) *Engine {
	if cfg.ReceiveWindow == 0 {
		cfg.ReceiveWindow = DefaultReceiveWindow
	}
	return &Engine{cfg: cfg}
}

// Config returns the effective engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// NewSession creates a session in CREATED.
func (e *Engine) NewSession(sessionID, counterparty string, initiator bool, now time.Time) *domain.SessionState {
	return domain.NewSessionState(sessionID, counterparty, initiator, now)
}

// ProcessMessageToSend assigns the next send sequence number to payload and queues it.
// Nothing is transmitted; see GetMessagesToSend.
func (e *Engine) ProcessMessageToSend(state *domain.SessionState, payload domain.Payload, now time.Time) domain.Result {
	if state == nil {
		return domain.CallerError(nil, "nil session")
	}
	if payload == nil {
		return domain.CallerError(state, "nil payload")
	}
	if state.Status.IsTerminal() {
		return domain.CallerError(state, fmt.Sprintf("cannot send on session in %s", state.Status))
	}
	if state.SendState.CloseSequenceNumber != 0 {
		return domain.CallerError(state, "cannot send after close")
	}

	lastAssigned := state.SendState.LastAssignedSequenceNumber()
	switch payload.(type) {
	case domain.Ack:
		return domain.CallerError(state, "acknowledgements are generated by the engine")
	case domain.Init:
		if !state.Initiator {
			return domain.CallerError(state, "responder sessions cannot send init")
		}
		if lastAssigned != 0 {
			return domain.CallerError(state, "init already sent")
		}
	default:
		if state.Initiator && lastAssigned == 0 {
			return domain.CallerError(state, "first event of an initiated session must be init")
		}
	}

	next := state.Clone()
	next.LastActivity = now
	seq := lastAssigned + 1
	next.SendState.UndeliveredMessages = append(next.SendState.UndeliveredMessages, domain.SessionEvent{
		SessionID:      next.SessionID,
		Direction:      domain.DirectionOutbound,
		Timestamp:      now,
		SequenceNumber: &seq,
		Payload:        payload,
	})

	switch p := payload.(type) {
	case domain.Close:
		next.SendState.CloseSequenceNumber = seq
	case domain.Error:
		next.Status = domain.StatusError
		next.ErrorReason = p.Message
	}

	next.Status = deriveStatus(next)
	return domain.Ok(next)
}

// ProcessMessageReceived applies an inbound event: acknowledgements trim the send queue,
// everything else is deduplicated and buffered in sequence order.
func (e *Engine) ProcessMessageReceived(state *domain.SessionState, event domain.SessionEvent, now time.Time) domain.Result {
	if state == nil {
		return domain.CallerError(nil, "nil session")
	}
	if state.Status == domain.StatusError {
		// Terminal: input is ignored and queues stay as they are.
		return domain.Ok(state)
	}

	next := state.Clone()
	next.LastActivity = now
	event = event.Clone().WithDirection(domain.DirectionInbound)

	if event.Payload == nil {
		return e.fail(next, "event without payload", now)
	}

	if ack, ok := event.Payload.(domain.Ack); ok {
		return e.processAck(next, event, ack, now)
	}

	if !event.HasSequence() || event.Seq() == 0 {
		return e.fail(next, fmt.Sprintf("%s event without sequence number", event.Kind()), now)
	}
	seq := event.Seq()
	recv := &next.ReceiveState

	if seq <= recv.LastProcessedSequenceNumber {
		// Redelivery or resend. Our ack may have been lost, so send it again.
		queueAck(next, recv.LastProcessedSequenceNumber, now)
		return domain.Result{Kind: domain.ResultOK, State: next, Duplicate: true}
	}
	if buffered(recv.UndeliveredMessages, seq) {
		return domain.Result{Kind: domain.ResultOK, State: next, Duplicate: true}
	}

	if p, ok := event.Payload.(domain.Error); ok {
		next.Status = domain.StatusError
		next.ErrorReason = "counterparty error: " + p.Message
		return domain.ProtocolError(next, next.ErrorReason)
	}

	if seq > recv.LastProcessedSequenceNumber+e.cfg.ReceiveWindow {
		return e.fail(next, fmt.Sprintf("sequence number %d outside receive window (last processed %d)",
			seq, recv.LastProcessedSequenceNumber), now)
	}
	if recv.CloseSequenceNumber != 0 && seq > recv.CloseSequenceNumber {
		return e.fail(next, fmt.Sprintf("%s #%d received after close #%d", event.Kind(), seq, recv.CloseSequenceNumber), now)
	}

	switch p := event.Payload.(type) {
	case domain.Init:
		if next.Initiator {
			return e.fail(next, "init received on initiating side", now)
		}
		if seq != 1 {
			return e.fail(next, fmt.Sprintf("duplicate init with sequence number %d", seq), now)
		}
		next.FlowName = p.FlowName
	case domain.Close:
		if !next.Initiator && seq == 1 {
			return e.fail(next, "close received before init", now)
		}
		if last := len(recv.UndeliveredMessages); last > 0 && recv.UndeliveredMessages[last-1].Seq() > seq {
			return e.fail(next, fmt.Sprintf("close #%d precedes buffered events", seq), now)
		}
		recv.CloseSequenceNumber = seq
	default:
		if !next.Initiator && seq == 1 {
			return e.fail(next, fmt.Sprintf("%s received before init", event.Kind()), now)
		}
	}

	recv.UndeliveredMessages = insertSorted(recv.UndeliveredMessages, event)
	next.Status = deriveStatus(next)
	return domain.Ok(next)
}

func (e *Engine) processAck(next *domain.SessionState, event domain.SessionEvent, ack domain.Ack, now time.Time) domain.Result {
	if event.HasSequence() {
		return e.fail(next, "ack must not carry a sequence number", now)
	}

	send := &next.SendState
	if ack.SequenceNumber > send.LastAssignedSequenceNumber() {
		return e.fail(next, fmt.Sprintf("ack for unsent sequence number %d", ack.SequenceNumber), now)
	}
	if ack.SequenceNumber <= send.LastProcessedSequenceNumber {
		return domain.Result{Kind: domain.ResultOK, State: next, Duplicate: true}
	}

	kept := send.UndeliveredMessages[:0]
	for _, m := range send.UndeliveredMessages {
		if m.Seq() > ack.SequenceNumber {
			kept = append(kept, m)
		}
	}
	if len(kept) == 0 {
		kept = nil
	}
	send.UndeliveredMessages = kept
	send.LastProcessedSequenceNumber = ack.SequenceNumber

	next.Status = deriveStatus(next)
	return domain.Ok(next)
}

// GetNextReceivedEvent returns the buffered head only when it is exactly the next
// sequence number. Later events stay hidden until the gap is filled.
func (e *Engine) GetNextReceivedEvent(state *domain.SessionState) (domain.SessionEvent, bool) {
	if state == nil || state.Status == domain.StatusError {
		return domain.SessionEvent{}, false
	}
	buf := state.ReceiveState.UndeliveredMessages
	if len(buf) == 0 {
		return domain.SessionEvent{}, false
	}
	head := buf[0]
	if head.Seq() != state.ReceiveState.LastProcessedSequenceNumber+1 {
		return domain.SessionEvent{}, false
	}
	return head.Clone(), true
}

// AcknowledgeReceivedEvent consumes the in-order head and queues an Ack for it.
func (e *Engine) AcknowledgeReceivedEvent(state *domain.SessionState, sequenceNumber uint64, now time.Time) domain.Result {
	if state == nil {
		return domain.CallerError(nil, "nil session")
	}
	if state.Status == domain.StatusError {
		return domain.CallerError(state, "session is in error")
	}
	head, ok := e.GetNextReceivedEvent(state)
	if !ok || head.Seq() != sequenceNumber {
		return domain.CallerError(state, fmt.Sprintf("%v: #%d", domain.ErrNotInOrder, sequenceNumber))
	}

	next := state.Clone()
	next.LastActivity = now
	recv := &next.ReceiveState
	recv.UndeliveredMessages = recv.UndeliveredMessages[1:]
	if len(recv.UndeliveredMessages) == 0 {
		recv.UndeliveredMessages = nil
	}
	recv.LastProcessedSequenceNumber = sequenceNumber
	queueAck(next, sequenceNumber, now)

	next.Status = deriveStatus(next)
	return domain.Ok(next)
}

// GetMessagesToSend returns every unacknowledged event followed by pending acks.
// Unacknowledged events stay queued and are returned again on the next call;
// acks are handed out once and cleared from the returned state.
func (e *Engine) GetMessagesToSend(state *domain.SessionState) ([]domain.SessionEvent, *domain.SessionState) {
	if state == nil {
		return nil, nil
	}
	send := state.SendState
	out := make([]domain.SessionEvent, 0, len(send.UndeliveredMessages)+len(send.PendingAcks))
	for _, m := range send.UndeliveredMessages {
		out = append(out, m.Clone())
	}
	for _, a := range send.PendingAcks {
		out = append(out, a.Clone())
	}
	if len(send.PendingAcks) == 0 {
		return out, state
	}

	next := state.Clone()
	next.SendState.PendingAcks = nil
	return out, next
}

// fail moves the session to ERROR and queues an Error event so the counterparty fails too.
func (e *Engine) fail(next *domain.SessionState, reason string, now time.Time) domain.Result {
	next.Status = domain.StatusError
	next.ErrorReason = reason

	seq := next.SendState.LastAssignedSequenceNumber() + 1
	next.SendState.UndeliveredMessages = append(next.SendState.UndeliveredMessages, domain.SessionEvent{
		SessionID:      next.SessionID,
		Direction:      domain.DirectionOutbound,
		Timestamp:      now,
		SequenceNumber: &seq,
		Payload:        domain.Error{Message: reason},
	})
	return domain.ProtocolError(next, reason)
}

// queueAck leaves a single pending Ack carrying the highest acknowledged number.
func queueAck(s *domain.SessionState, seq uint64, now time.Time) {
	for _, a := range s.SendState.PendingAcks {
		if p, ok := a.Payload.(domain.Ack); ok && p.SequenceNumber > seq {
			seq = p.SequenceNumber
		}
	}
	s.SendState.PendingAcks = []domain.SessionEvent{{
		SessionID: s.SessionID,
		Direction: domain.DirectionOutbound,
		Timestamp: now,
		Payload:   domain.Ack{SequenceNumber: seq},
	}}
}

func buffered(events []domain.SessionEvent, seq uint64) bool {
	i := sort.Search(len(events), func(i int) bool { return events[i].Seq() >= seq })
	return i < len(events) && events[i].Seq() == seq
}

func insertSorted(events []domain.SessionEvent, ev domain.SessionEvent) []domain.SessionEvent {
	i := sort.Search(len(events), func(i int) bool { return events[i].Seq() >= ev.Seq() })
	events = append(events, domain.SessionEvent{})
	copy(events[i+1:], events[i:])
	events[i] = ev
	return events
}
