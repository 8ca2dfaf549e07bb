package main

import (
	"context"
	"testing"

	"github.com/aretw0/parley"
	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunDemo(t *testing.T) {
	bus := memory.NewBus(memory.WithShuffle(), memory.WithDuplicateRate(0.5), memory.WithSeed(7))
	alice, err := parley.New("alice", parley.WithTransport(bus))
	require.NoError(t, err)
	bob, err := parley.New("bob", parley.WithTransport(bus))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, runDemo(ctx, alice, bob, 10))

	// alice cleaned up her side; bob still holds the closed session
	cp, err := alice.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Empty(t, cp.Sessions)
	assert.Len(t, cp.Tombstones, 1)

	status, err := bob.Status(ctx)
	require.NoError(t, err)
	assert.Len(t, status, 1)
}
