package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunCheckpointStoreContract runs a suite of tests to verify that a CheckpointStore
// implementation adheres to the defined interface contract.
func RunCheckpointStoreContract(t *testing.T, store CheckpointStore) {
	ctx := context.Background()
	workflowID := "contract-test-workflow-" + time.Now().Format("20060102150405")
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("Save and Load", func(t *testing.T) {
		// 1. Create a checkpoint with one session holding queued and buffered events
		cp := domain.NewCheckpoint(workflowID, "contract-flow")
		seq := uint64(1)
		s := domain.NewSessionState("s1", "peer", true, now)
		s.SendState.UndeliveredMessages = []domain.SessionEvent{{
			SessionID:      "s1",
			Direction:      domain.DirectionOutbound,
			Timestamp:      now,
			SequenceNumber: &seq,
			Payload:        domain.Init{FlowName: "contract-flow", OriginatingContext: []byte("ctx")},
		}}
		s.SendState.PendingAcks = []domain.SessionEvent{{
			SessionID: "s1",
			Direction: domain.DirectionOutbound,
			Timestamp: now,
			Payload:   domain.Ack{SequenceNumber: 3},
		}}
		cp.Put(s)
		cp.Tombstones["old"] = domain.Tombstone{Counterparty: "peer", LastReceivedSequenceNumber: 4}

		// 2. Save
		err := store.Save(ctx, workflowID, cp)
		require.NoError(t, err, "Save should not return error")

		// 3. Load
		loaded, err := store.Load(ctx, workflowID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, workflowID, loaded.WorkflowID)
		assert.Equal(t, "contract-flow", loaded.FlowName)

		got, ok := loaded.Session("s1")
		require.True(t, ok, "session should survive a round trip")
		assert.Equal(t, domain.StatusCreated, got.Status)
		require.Len(t, got.SendState.UndeliveredMessages, 1)
		assert.True(t, s.SendState.UndeliveredMessages[0].Equal(got.SendState.UndeliveredMessages[0]))
		require.Len(t, got.SendState.PendingAcks, 1)
		assert.Equal(t, domain.Ack{SequenceNumber: 3}, got.SendState.PendingAcks[0].Payload)
		assert.Equal(t, uint64(4), loaded.Tombstones["old"].LastReceivedSequenceNumber)
	})

	t.Run("Load Returns Independent Copy", func(t *testing.T) {
		loaded, err := store.Load(ctx, workflowID)
		require.NoError(t, err)
		loaded.Sessions["s1"].Status = domain.StatusError

		again, err := store.Load(ctx, workflowID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCreated, again.Sessions["s1"].Status)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+workflowID)
		assert.ErrorIs(t, err, domain.ErrCheckpointNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		// Setup
		err := store.Save(ctx, workflowID, domain.NewCheckpoint(workflowID, ""))
		require.NoError(t, err)

		// Delete
		err = store.Delete(ctx, workflowID)
		require.NoError(t, err, "Delete should not return error")

		// Verify gone
		_, err = store.Load(ctx, workflowID)
		assert.ErrorIs(t, err, domain.ErrCheckpointNotFound, "Load after Delete should return ErrCheckpointNotFound")
	})

	t.Run("List", func(t *testing.T) {
		// Setup: Create 2 checkpoints
		id1 := workflowID + "-1"
		id2 := workflowID + "-2"
		_ = store.Save(ctx, id1, domain.NewCheckpoint(id1, ""))
		_ = store.Save(ctx, id2, domain.NewCheckpoint(id2, ""))

		// Ensure cleanup
		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		// List
		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)
	})
}
