package parley

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/checkpoint"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/orchestrator"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/aretw0/parley/pkg/protocol"
)

// ErrNoTransport is returned by Poll and Flush when the Party has no transport.
var ErrNoTransport = errors.New("no transport configured")

// Party is one workflow instance taking part in sessions.
// Every operation is a single processing pass: the checkpoint is loaded under the
// workflow lock, changed in memory and saved before anything leaves the process.
type Party struct {
	workflowID string
	flowName   string

	store     ports.CheckpointStore
	transport ports.Transport
	locker    ports.DistributedLocker
	lockTTL   time.Duration
	engine    ports.SessionEngine
	engineCfg protocol.Config
	hooks     domain.LifecycleHooks
	pollBatch int
	logger    *slog.Logger
	now       func() time.Time

	manager *checkpoint.Manager
	orch    *orchestrator.Orchestrator
}

// Option defines a functional option for configuring the Party.
type Option func(*Party)

// WithStore sets the checkpoint store (default: in-memory).
func WithStore(store ports.CheckpointStore) Option {
	return func(p *Party) {
		p.store = store
	}
}

// WithTransport sets the bus used by Poll and Flush.
func WithTransport(t ports.Transport) Option {
	return func(p *Party) {
		p.transport = t
	}
}

// WithLocker adds a distributed lock around every processing pass.
func WithLocker(locker ports.DistributedLocker, ttl time.Duration) Option {
	return func(p *Party) {
		p.locker = locker
		p.lockTTL = ttl
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Party) {
		p.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(p *Party) {
		p.hooks = hooks
	}
}

// WithFlowName sets the flow name carried by Init events of initiated sessions.
func WithFlowName(name string) Option {
	return func(p *Party) {
		p.flowName = name
	}
}

// WithEngineConfig tunes the protocol engine.
func WithEngineConfig(cfg protocol.Config) Option {
	return func(p *Party) {
		p.engineCfg = cfg
	}
}

// WithEngine replaces the protocol engine.
func WithEngine(engine ports.SessionEngine) Option {
	return func(p *Party) {
		p.engine = engine
	}
}

// WithPollBatch caps how many envelopes each Run iteration delivers (default: all available).
func WithPollBatch(n int) Option {
	return func(p *Party) {
		p.pollBatch = n
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Party) {
		p.now = now
	}
}

// New creates a Party for workflowID.
func New(workflowID string, opts ...Option) (*Party, error) {
	if workflowID == "" {
		return nil, fmt.Errorf("workflowID is required")
	}

	p := &Party{
		workflowID: workflowID,
		engineCfg:  protocol.DefaultConfig(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = logging.NewNop()
	}
	p.logger = p.logger.With("workflow_id", workflowID)
	if p.store == nil {
		p.store = memory.NewStore()
	}
	if p.engine == nil {
		p.engine = protocol.New(p.engineCfg)
	}

	managerOpts := []checkpoint.Option{
		checkpoint.WithClock(p.now),
		checkpoint.WithLogger(p.logger),
	}
	if p.locker != nil {
		managerOpts = append(managerOpts, checkpoint.WithLocker(p.locker))
		if p.lockTTL > 0 {
			managerOpts = append(managerOpts, checkpoint.WithLockTTL(p.lockTTL))
		}
	}
	p.manager = checkpoint.NewManager(p.store, managerOpts...)
	p.orch = orchestrator.New(p.engine, orchestrator.WithLogger(p.logger))

	return p, nil
}

// WorkflowID returns the id of this workflow instance.
func (p *Party) WorkflowID() string {
	return p.workflowID
}

// Manager returns the checkpoint manager backing the Party.
func (p *Party) Manager() *checkpoint.Manager {
	return p.manager
}

// Initiate opens a session with counterparty by queueing its Init.
func (p *Party) Initiate(ctx context.Context, sessionID, counterparty string, opts ...orchestrator.InitOption) (*domain.SessionState, error) {
	var state *domain.SessionState
	err := p.pass(ctx, func(cp *domain.Checkpoint, now time.Time, n *notifier) error {
		s, err := p.orch.SendInitMessage(cp, sessionID, counterparty, now, opts...)
		if err != nil {
			return err
		}
		state = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// Send queues one data payload per session. Either every payload is queued or none is.
func (p *Party) Send(ctx context.Context, messages map[string][]byte) ([]*domain.SessionState, error) {
	if len(messages) == 0 {
		return nil, nil
	}
	var states []*domain.SessionState
	err := p.pass(ctx, func(cp *domain.Checkpoint, now time.Time, n *notifier) error {
		var err error
		states, err = p.orch.SendDataMessages(cp, messages, now)
		return err
	})
	return states, err
}

// Close queues a Close on each session. Either every session is closed or none is.
func (p *Party) Close(ctx context.Context, sessionIDs []string) ([]*domain.SessionState, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	var states []*domain.SessionState
	err := p.pass(ctx, func(cp *domain.Checkpoint, now time.Time, n *notifier) error {
		var err error
		states, err = p.orch.SendCloseMessages(cp, sessionIDs, now)
		return err
	})
	return states, err
}

// Receive consumes every in-order event ready on the named sessions and acknowledges it.
// With no ids every live session is drained. Events are grouped by session in id order.
func (p *Party) Receive(ctx context.Context, sessionIDs ...string) ([]orchestrator.ReceivedEvent, error) {
	var received []orchestrator.ReceivedEvent
	err := p.pass(ctx, func(cp *domain.Checkpoint, now time.Time, n *notifier) error {
		received = nil
		ids := sessionIDs
		if len(ids) == 0 {
			ids = cp.SessionIDs()
		}
		for _, id := range ids {
			for {
				events := p.orch.GetReceivedEvents(cp, []string{id})
				if len(events) == 0 {
					break
				}
				if err := p.orch.AcknowledgeReceivedEvents(cp, events, now); err != nil {
					return err
				}
				received = append(received, events...)
			}
		}
		for _, re := range received {
			n.delivered = append(n.delivered, re.Event)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return received, nil
}

// Status returns the status of each named session that exists. With no ids, of every session.
func (p *Party) Status(ctx context.Context, sessionIDs ...string) (map[string]domain.SessionStatus, error) {
	cp, err := p.Checkpoint(ctx)
	if err != nil {
		return nil, err
	}
	if len(sessionIDs) == 0 {
		sessionIDs = cp.SessionIDs()
	}
	out := make(map[string]domain.SessionStatus, len(sessionIDs))
	for _, id := range sessionIDs {
		if s, ok := cp.Session(id); ok {
			out[id] = s.Status
		}
	}
	return out, nil
}

// AreAllSessionsInStatuses reports whether every named session is in one of statuses.
func (p *Party) AreAllSessionsInStatuses(ctx context.Context, sessionIDs []string, statuses ...domain.SessionStatus) (bool, error) {
	cp, err := p.Checkpoint(ctx)
	if err != nil {
		return false, err
	}
	return p.orch.AreAllSessionsInStatuses(cp, sessionIDs, statuses), nil
}

// Cleanup removes the named sessions that finished, keeping tombstones for late redeliveries.
// It returns the ids actually removed.
func (p *Party) Cleanup(ctx context.Context, sessionIDs []string) ([]string, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	var removed []string
	err := p.pass(ctx, func(cp *domain.Checkpoint, now time.Time, n *notifier) error {
		removed = p.orch.CleanupSessions(cp, sessionIDs)
		return nil
	})
	return removed, err
}

// Checkpoint returns a copy of the current checkpoint. A workflow that never ran yields an
// empty checkpoint.
func (p *Party) Checkpoint(ctx context.Context) (*domain.Checkpoint, error) {
	cp, err := p.manager.Load(ctx, p.workflowID)
	if errors.Is(err, domain.ErrCheckpointNotFound) {
		return domain.NewCheckpoint(p.workflowID, p.flowName), nil
	}
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// Deliver applies one inbound envelope in its own pass.
// Protocol violations are settled in the checkpoint and reported through the Result;
// only infrastructure failures return an error, which leaves the envelope for redelivery.
func (p *Party) Deliver(ctx context.Context, env domain.Envelope) (domain.Result, error) {
	if env.To != p.workflowID {
		p.logger.Warn("dropping misrouted envelope", "to", env.To, "from", env.From)
		return domain.ProtocolError(nil, "envelope addressed to "+env.To), nil
	}

	var res domain.Result
	err := p.pass(ctx, func(cp *domain.Checkpoint, now time.Time, n *notifier) error {
		res = p.orch.ProcessInboundEvent(cp, env.From, env.Event, now)
		n.received = append(n.received, domain.MessageEvent{
			WorkflowID: p.workflowID,
			Event:      env.Event.WithSessionID(domain.CounterpartySessionID(env.Event.SessionID)),
			Duplicate:  res.Duplicate,
		})
		return nil
	})
	if err != nil {
		return domain.Result{}, err
	}
	return res, nil
}

// Poll delivers up to max envelopes waiting on the transport (max <= 0: all available).
func (p *Party) Poll(ctx context.Context, max int) (int, error) {
	if p.transport == nil {
		return 0, ErrNoTransport
	}
	return p.transport.Receive(ctx, p.workflowID, max, func(ctx context.Context, env domain.Envelope) error {
		_, err := p.Deliver(ctx, env)
		return err
	})
}

// Flush publishes every unacknowledged event and pending ack.
// The checkpoint is saved before publishing; a failed publish changes nothing because
// unacknowledged events are sent again on the next Flush.
func (p *Party) Flush(ctx context.Context) (int, error) {
	if p.transport == nil {
		return 0, ErrNoTransport
	}
	var envs []domain.Envelope
	err := p.pass(ctx, func(cp *domain.Checkpoint, now time.Time, n *notifier) error {
		envs = p.orch.GetMessagesToSend(cp, now)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(envs) == 0 {
		return 0, nil
	}
	if err := p.transport.Publish(ctx, envs); err != nil {
		return 0, fmt.Errorf("failed to publish: %w", err)
	}
	if p.hooks.OnEventSent != nil {
		for _, env := range envs {
			p.hooks.OnEventSent(ctx, &domain.MessageEvent{WorkflowID: p.workflowID, Event: env.Event})
		}
	}
	return len(envs), nil
}

// Run polls and flushes every interval until ctx is done.
func (p *Party) Run(ctx context.Context, interval time.Duration) error {
	if p.transport == nil {
		return ErrNoTransport
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := p.Poll(ctx, p.pollBatch); err != nil && ctx.Err() == nil {
			p.logger.Error("poll failed", "error", err)
		}
		if _, err := p.Flush(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("flush failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// notifier collects what a pass did so hooks fire only once it is saved.
type notifier struct {
	before    map[string]domain.SessionStatus
	received  []domain.MessageEvent
	delivered []domain.SessionEvent
}

func (p *Party) pass(ctx context.Context, fn func(cp *domain.Checkpoint, now time.Time, n *notifier) error) error {
	var n notifier
	cp, err := p.manager.Update(ctx, p.workflowID, p.flowName, func(ctx context.Context, cp *domain.Checkpoint) error {
		n = notifier{before: make(map[string]domain.SessionStatus, len(cp.Sessions))}
		for id, s := range cp.Sessions {
			n.before[id] = s.Status
		}
		return fn(cp, p.now(), &n)
	})
	if err != nil {
		return err
	}
	p.notify(ctx, cp, &n)
	return nil
}

func (p *Party) notify(ctx context.Context, cp *domain.Checkpoint, n *notifier) {
	if p.hooks.OnEventReceived != nil {
		for i := range n.received {
			p.hooks.OnEventReceived(ctx, &n.received[i])
		}
	}
	if p.hooks.OnEventDelivered != nil {
		for _, ev := range n.delivered {
			p.hooks.OnEventDelivered(ctx, &domain.MessageEvent{WorkflowID: p.workflowID, Event: ev})
		}
	}
	for _, id := range cp.SessionIDs() {
		s := cp.Sessions[id]
		from, ok := n.before[id]
		if !ok {
			from = domain.StatusCreated
		}
		if from == s.Status {
			continue
		}
		p.logger.Debug("session status changed", "session_id", id, "from", from, "to", s.Status)
		if p.hooks.OnStatusChange != nil {
			p.hooks.OnStatusChange(ctx, &domain.StatusEvent{
				WorkflowID: p.workflowID,
				SessionID:  id,
				From:       from,
				To:         s.Status,
				Reason:     s.ErrorReason,
			})
		}
	}
}
