package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

// Bus implements ports.Transport in memory, with one queue per workflow instance.
// It can inject the faults the session protocol must tolerate: duplicates and reordering.
// Safe for concurrent use.
type Bus struct {
	mu     sync.Mutex
	queues map[string][]domain.Envelope

	rng           *rand.Rand
	duplicateRate float64
	shuffle       bool
}

// BusOption configures the Bus.
type BusOption func(*Bus)

// WithDuplicateRate publishes each envelope a second time with probability p.
func WithDuplicateRate(p float64) BusOption {
	return func(b *Bus) {
		b.duplicateRate = p
	}
}

// WithShuffle delivers queued envelopes in random order.
func WithShuffle() BusOption {
	return func(b *Bus) {
		b.shuffle = true
	}
}

// WithSeed makes fault injection deterministic.
func WithSeed(seed int64) BusOption {
	return func(b *Bus) {
		b.rng = rand.New(rand.NewSource(seed))
	}
}

// NewBus creates an empty in-memory bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		queues: make(map[string][]domain.Envelope),
		rng:    rand.New(rand.NewSource(1)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish enqueues envelopes for their recipients.
// Envelopes go through the JSON wire form so receivers never share memory with the sender.
func (b *Bus) Publish(ctx context.Context, envs []domain.Envelope) error {
	encoded := make([]domain.Envelope, 0, len(envs))
	for _, env := range envs {
		copied, err := roundTrip(env)
		if err != nil {
			return err
		}
		encoded = append(encoded, copied)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, env := range encoded {
		b.queues[env.To] = append(b.queues[env.To], env)
		if b.duplicateRate > 0 && b.rng.Float64() < b.duplicateRate {
			b.queues[env.To] = append(b.queues[env.To], env)
		}
	}
	return nil
}

// Receive hands up to max queued envelopes to handler, one at a time.
// An envelope whose handler fails is put back for redelivery and Receive stops.
func (b *Bus) Receive(ctx context.Context, workflowID string, max int, handler ports.DeliveryHandler) (int, error) {
	delivered := 0
	for max <= 0 || delivered < max {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		env, ok := b.next(workflowID)
		if !ok {
			return delivered, nil
		}
		if err := handler(ctx, env); err != nil {
			b.requeue(env)
			return delivered, fmt.Errorf("failed to handle envelope %s: %w", env.Event, err)
		}
		delivered++
	}
	return delivered, nil
}

// Pending returns the number of envelopes waiting for workflowID.
func (b *Bus) Pending(workflowID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[workflowID])
}

func (b *Bus) next(workflowID string) (domain.Envelope, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queues[workflowID]
	if len(q) == 0 {
		return domain.Envelope{}, false
	}
	i := 0
	if b.shuffle {
		i = b.rng.Intn(len(q))
	}
	env := q[i]
	q = append(q[:i], q[i+1:]...)
	if len(q) == 0 {
		delete(b.queues, workflowID)
	} else {
		b.queues[workflowID] = q
	}
	return env, true
}

func (b *Bus) requeue(env domain.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[env.To] = append(b.queues[env.To], env)
}

func roundTrip(env domain.Envelope) (domain.Envelope, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return domain.Envelope{}, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	var out domain.Envelope
	if err := json.Unmarshal(data, &out); err != nil {
		return domain.Envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return out, nil
}
