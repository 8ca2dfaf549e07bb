package orchestrator

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

// ReceivedEvent pairs a session with the in-order event ready for it.
type ReceivedEvent struct {
	Session *domain.SessionState
	Event   domain.SessionEvent
}

// Orchestrator applies the session engine across all sessions of one checkpoint.
// Every method works only on the checkpoint passed in, which the caller must hold
// exclusively for the duration of the processing pass.
type Orchestrator struct {
	engine ports.SessionEngine
	logger *slog.Logger
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithLogger configures a logger for protocol anomalies.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New creates an Orchestrator over the given engine.
func New(engine ports.SessionEngine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engine: engine,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// InitOption customizes the Init payload.
type InitOption func(*domain.Init)

// WithOriginatingContext attaches an opaque blob describing the initiating side.
func WithOriginatingContext(b []byte) InitOption {
	return func(i *domain.Init) {
		i.OriginatingContext = b
	}
}

// WithResponderContext attaches an opaque blob for the responder's application layer.
func WithResponderContext(b []byte) InitOption {
	return func(i *domain.Init) {
		i.ResponderContext = b
	}
}

// SendInitMessage creates a new initiating session and queues its Init.
func (o *Orchestrator) SendInitMessage(cp *domain.Checkpoint, sessionID, counterparty string, now time.Time, opts ...InitOption) (*domain.SessionState, error) {
	if domain.IsResponderSessionID(sessionID) {
		return nil, fmt.Errorf("%w: session id %q uses the reserved suffix %q", domain.ErrInvalidOperation, sessionID, domain.ResponderSuffix)
	}
	if _, ok := cp.Session(sessionID); ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionExists, sessionID)
	}
	if _, ok := cp.Tombstones[sessionID]; ok {
		return nil, fmt.Errorf("%w: %s was used by a finished session", domain.ErrSessionExists, sessionID)
	}

	init := domain.Init{FlowName: cp.FlowName}
	for _, opt := range opts {
		opt(&init)
	}

	state := o.engine.NewSession(sessionID, counterparty, true, now)
	res := o.engine.ProcessMessageToSend(state, init, now)
	if !res.IsOK() {
		return nil, fmt.Errorf("%w: init on %s: %s", domain.ErrInvalidOperation, sessionID, res.Reason)
	}
	cp.Put(res.State)
	return res.State, nil
}

// SendDataMessages queues one Data payload per session.
// The result is ordered by session id. Nothing is written unless every session accepts its payload.
func (o *Orchestrator) SendDataMessages(cp *domain.Checkpoint, messages map[string][]byte, now time.Time) ([]*domain.SessionState, error) {
	if len(messages) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(messages))
	for id := range messages {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return o.sendAll(cp, ids, now, func(id string) domain.Payload {
		return domain.Data{Bytes: messages[id]}
	})
}

// SendCloseMessages queues a Close for each session, in input order.
func (o *Orchestrator) SendCloseMessages(cp *domain.Checkpoint, sessionIDs []string, now time.Time) ([]*domain.SessionState, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	return o.sendAll(cp, sessionIDs, now, func(string) domain.Payload {
		return domain.Close{}
	})
}

// sendAll validates every id before calling the engine, stages each result and commits
// only when all succeeded, so a misuse never leaves the checkpoint half updated.
func (o *Orchestrator) sendAll(cp *domain.Checkpoint, ids []string, now time.Time, payload func(string) domain.Payload) ([]*domain.SessionState, error) {
	for _, id := range ids {
		if _, ok := cp.Session(id); !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
		}
	}

	staged := make(map[string]*domain.SessionState, len(ids))
	updated := make([]*domain.SessionState, 0, len(ids))
	for _, id := range ids {
		state, ok := staged[id]
		if !ok {
			state, _ = cp.Session(id)
		}
		res := o.engine.ProcessMessageToSend(state, payload(id), now)
		if !res.IsOK() {
			return nil, fmt.Errorf("%w: %s: %s", domain.ErrInvalidOperation, id, res.Reason)
		}
		staged[id] = res.State
		updated = append(updated, res.State)
	}

	for _, s := range staged {
		cp.Put(s)
	}
	return updated, nil
}

// GetReceivedEvents returns the next in-order event of each named session, in input order.
// Sessions with nothing ready, or that no longer exist, are omitted.
func (o *Orchestrator) GetReceivedEvents(cp *domain.Checkpoint, sessionIDs []string) []ReceivedEvent {
	if len(sessionIDs) == 0 {
		return nil
	}
	var out []ReceivedEvent
	for _, id := range sessionIDs {
		state, ok := cp.Session(id)
		if !ok {
			continue
		}
		if ev, ok := o.engine.GetNextReceivedEvent(state); ok {
			out = append(out, ReceivedEvent{Session: state, Event: ev})
		}
	}
	return out
}

// AcknowledgeReceivedEvents consumes each event and queues its acknowledgement.
// It fails without writing anything if any event is not its session's in-order head.
func (o *Orchestrator) AcknowledgeReceivedEvents(cp *domain.Checkpoint, events []ReceivedEvent, now time.Time) error {
	if len(events) == 0 {
		return nil
	}

	staged := make(map[string]*domain.SessionState, len(events))
	for _, re := range events {
		id := re.Event.SessionID
		if re.Session != nil {
			id = re.Session.SessionID
		}
		state, ok := staged[id]
		if !ok {
			if state, ok = cp.Session(id); !ok {
				return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
			}
		}
		res := o.engine.AcknowledgeReceivedEvent(state, re.Event.Seq(), now)
		if !res.IsOK() {
			return fmt.Errorf("%w: %s: %s", domain.ErrNotInOrder, id, res.Reason)
		}
		staged[id] = res.State
	}

	for _, s := range staged {
		cp.Put(s)
	}
	return nil
}

// HasReceivedEvents reports whether every named session has an in-order event ready.
func (o *Orchestrator) HasReceivedEvents(cp *domain.Checkpoint, sessionIDs []string) bool {
	for _, id := range sessionIDs {
		state, ok := cp.Session(id)
		if !ok {
			return false
		}
		if _, ok := o.engine.GetNextReceivedEvent(state); !ok {
			return false
		}
	}
	return true
}

// AreAllSessionsInStatuses reports whether every named session still in the checkpoint has
// one of the given statuses. Sessions already removed count as satisfied.
// An empty status set matches nothing.
func (o *Orchestrator) AreAllSessionsInStatuses(cp *domain.Checkpoint, sessionIDs []string, statuses []domain.SessionStatus) bool {
	if len(sessionIDs) == 0 {
		return true
	}
	if len(statuses) == 0 {
		return false
	}

	allowed := make(map[domain.SessionStatus]struct{}, len(statuses))
	for _, s := range statuses {
		allowed[s] = struct{}{}
	}
	for _, id := range sessionIDs {
		state, ok := cp.Session(id)
		if !ok {
			continue
		}
		if _, ok := allowed[state.Status]; !ok {
			return false
		}
	}
	return true
}

// ProcessInboundEvent applies one event received from workflow instance from.
// The wire session id is the sender's local id; it is mapped to ours before processing.
// The returned Result carries a nil State when the event was dropped without touching any session.
func (o *Orchestrator) ProcessInboundEvent(cp *domain.Checkpoint, from string, event domain.SessionEvent, now time.Time) domain.Result {
	localID := domain.CounterpartySessionID(event.SessionID)
	event = event.WithSessionID(localID)

	if tomb, ok := cp.Tombstones[localID]; ok {
		return o.answerTombstone(cp, localID, tomb, from, event)
	}

	state, ok := cp.Session(localID)
	if !ok {
		if event.Kind() == domain.KindAck {
			o.logger.Debug("dropping ack for unknown session", "workflow_id", cp.WorkflowID, "session_id", localID, "from", from)
			return domain.ProtocolError(nil, "ack for unknown session "+localID)
		}
		if !domain.IsResponderSessionID(localID) {
			o.logger.Warn("dropping event for unknown session", "workflow_id", cp.WorkflowID, "session_id", localID, "from", from)
			return domain.ProtocolError(nil, "unknown session "+localID)
		}
		// Events may overtake the Init; the new session buffers them until it arrives.
		state = o.engine.NewSession(localID, from, false, now)
		if init, ok := event.Payload.(domain.Init); ok {
			state.FlowName = init.FlowName
		}
	}

	if state.Counterparty != from {
		o.logger.Warn("dropping event from unexpected counterparty",
			"workflow_id", cp.WorkflowID, "session_id", localID, "from", from, "counterparty", state.Counterparty)
		return domain.ProtocolError(nil, fmt.Sprintf("session %s belongs to %s, not %s", localID, state.Counterparty, from))
	}

	res := o.engine.ProcessMessageReceived(state, event, now)
	if res.State != nil {
		cp.Put(res.State)
	}
	if res.Kind == domain.ResultProtocolError {
		o.logger.Warn("session failed", "workflow_id", cp.WorkflowID, "session_id", localID, "reason", res.Reason)
	}
	return res
}

func (o *Orchestrator) answerTombstone(cp *domain.Checkpoint, localID string, tomb domain.Tombstone, from string, event domain.SessionEvent) domain.Result {
	if tomb.Counterparty != from {
		return domain.ProtocolError(nil, fmt.Sprintf("session %s belongs to %s, not %s", localID, tomb.Counterparty, from))
	}
	if event.Kind() == domain.KindAck {
		return domain.Result{Kind: domain.ResultOK, Duplicate: true}
	}
	if !event.HasSequence() || event.Seq() > tomb.LastReceivedSequenceNumber {
		o.logger.Warn("dropping event for removed session", "workflow_id", cp.WorkflowID, "session_id", localID, "kind", event.Kind())
		return domain.ProtocolError(nil, "session "+localID+" was removed")
	}
	tomb.AckPending = true
	cp.Tombstones[localID] = tomb
	return domain.Result{Kind: domain.ResultOK, Duplicate: true}
}

// GetMessagesToSend collects the outbound envelopes of every session, ordered by session id,
// followed by re-acknowledgements for removed sessions. Handed-out acks are cleared from cp.
func (o *Orchestrator) GetMessagesToSend(cp *domain.Checkpoint, now time.Time) []domain.Envelope {
	var out []domain.Envelope
	for _, id := range cp.SessionIDs() {
		state := cp.Sessions[id]
		events, next := o.engine.GetMessagesToSend(state)
		if next != nil && next != state {
			cp.Put(next)
		}
		for _, ev := range events {
			out = append(out, domain.Envelope{From: cp.WorkflowID, To: state.Counterparty, Event: ev})
		}
	}

	if len(cp.Tombstones) == 0 {
		return out
	}
	ids := make([]string, 0, len(cp.Tombstones))
	for id, tomb := range cp.Tombstones {
		if tomb.AckPending {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		tomb := cp.Tombstones[id]
		out = append(out, domain.Envelope{
			From: cp.WorkflowID,
			To:   tomb.Counterparty,
			Event: domain.SessionEvent{
				SessionID: id,
				Direction: domain.DirectionOutbound,
				Timestamp: now,
				Payload:   domain.Ack{SequenceNumber: tomb.LastReceivedSequenceNumber},
			},
		})
		tomb.AckPending = false
		cp.Tombstones[id] = tomb
	}
	return out
}

// CleanupSessions removes the named sessions that are CLOSED or ERROR and have no acks left
// to hand out, leaving a tombstone for each. It returns the removed ids in input order.
func (o *Orchestrator) CleanupSessions(cp *domain.Checkpoint, sessionIDs []string) []string {
	var removed []string
	for _, id := range sessionIDs {
		state, ok := cp.Session(id)
		if !ok || !state.Status.IsTerminal() || len(state.SendState.PendingAcks) > 0 {
			continue
		}
		if cp.Tombstones == nil {
			cp.Tombstones = make(map[string]domain.Tombstone)
		}
		cp.Tombstones[id] = domain.Tombstone{
			Counterparty:               state.Counterparty,
			LastReceivedSequenceNumber: state.ReceiveState.LastProcessedSequenceNumber,
		}
		delete(cp.Sessions, id)
		removed = append(removed, id)
	}
	return removed
}
