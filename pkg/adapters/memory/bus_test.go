package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ ports.Transport = (*memory.Bus)(nil)

func envelope(to string, seq uint64) domain.Envelope {
	return domain.Envelope{
		From: "alice",
		To:   to,
		Event: domain.SessionEvent{
			SessionID:      "s1",
			Direction:      domain.DirectionOutbound,
			Timestamp:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			SequenceNumber: &seq,
			Payload:        domain.Data{Bytes: []byte("x")},
		},
	}
}

func collect(t *testing.T, bus *memory.Bus, workflowID string) []uint64 {
	t.Helper()
	var seqs []uint64
	_, err := bus.Receive(context.Background(), workflowID, 0, func(_ context.Context, env domain.Envelope) error {
		seqs = append(seqs, env.Event.Seq())
		return nil
	})
	require.NoError(t, err)
	return seqs
}

func TestBus_RoutesByRecipient(t *testing.T) {
	bus := memory.NewBus()
	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, []domain.Envelope{envelope("bob", 1), envelope("carol", 2), envelope("bob", 3)}))

	assert.Equal(t, 2, bus.Pending("bob"))
	assert.Equal(t, []uint64{1, 3}, collect(t, bus, "bob"))
	assert.Equal(t, []uint64{2}, collect(t, bus, "carol"))
	assert.Zero(t, bus.Pending("bob"))
}

func TestBus_ReceiveRespectsMax(t *testing.T) {
	bus := memory.NewBus()
	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, []domain.Envelope{envelope("bob", 1), envelope("bob", 2), envelope("bob", 3)}))

	n, err := bus.Receive(ctx, "bob", 2, func(context.Context, domain.Envelope) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, bus.Pending("bob"))
}

func TestBus_HandlerFailureRedelivers(t *testing.T) {
	bus := memory.NewBus()
	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, []domain.Envelope{envelope("bob", 1)}))

	boom := errors.New("boom")
	n, err := bus.Receive(ctx, "bob", 0, func(context.Context, domain.Envelope) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, n)
	assert.Equal(t, []uint64{1}, collect(t, bus, "bob"))
}

func TestBus_DoesNotShareMemory(t *testing.T) {
	bus := memory.NewBus()
	env := envelope("bob", 1)
	require.NoError(t, bus.Publish(context.Background(), []domain.Envelope{env}))
	env.Event.Payload.(domain.Data).Bytes[0] = 'z'

	_, err := bus.Receive(context.Background(), "bob", 1, func(_ context.Context, got domain.Envelope) error {
		assert.Equal(t, domain.Data{Bytes: []byte("x")}, got.Event.Payload)
		assert.Equal(t, "alice", got.From)
		return nil
	})
	require.NoError(t, err)
}

func TestBus_FaultInjection(t *testing.T) {
	bus := memory.NewBus(memory.WithDuplicateRate(1), memory.WithShuffle(), memory.WithSeed(42))
	ctx := context.Background()

	var envs []domain.Envelope
	for i := uint64(1); i <= 20; i++ {
		envs = append(envs, envelope("bob", i))
	}
	require.NoError(t, bus.Publish(ctx, envs))
	assert.Equal(t, 40, bus.Pending("bob"))

	got := collect(t, bus, "bob")
	require.Len(t, got, 40)
	counts := map[uint64]int{}
	for _, s := range got {
		counts[s]++
	}
	for i := uint64(1); i <= 20; i++ {
		assert.Equal(t, 2, counts[i], "seq %d", i)
	}
}
