package middleware_test

import (
	"context"
	"crypto/rand"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/persistence/middleware"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) []byte {
	k := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		t.Fatal(err)
	}
	return k
}

func secretCheckpoint(workflowID, secret string) *domain.Checkpoint {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seq := uint64(2)
	cp := domain.NewCheckpoint(workflowID, "payments")
	s := domain.NewSessionState("s1", "bank", true, now)
	s.SendState.UndeliveredMessages = []domain.SessionEvent{{
		SessionID:      "s1",
		Direction:      domain.DirectionOutbound,
		Timestamp:      now,
		SequenceNumber: &seq,
		Payload:        domain.Data{Bytes: []byte(secret)},
	}}
	cp.Put(s)
	return cp
}

func TestEncryptionMiddleware_Contract(t *testing.T) {
	mw := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	ports.RunCheckpointStoreContract(t, mw(memory.NewStore()))
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	underlyingStore := NewMockStore()
	mw := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	secureStore := mw(underlyingStore)

	ctx := context.Background()
	original := secretCheckpoint("wf", "my-secret-sauce")

	require.NoError(t, secureStore.Save(ctx, "wf", original))

	// The underlying store only sees the sealed envelope.
	stored, err := underlyingStore.Load(ctx, "wf")
	require.NoError(t, err)
	assert.Empty(t, stored.Sessions)
	assert.Equal(t, "payments", stored.FlowName)
	require.Contains(t, stored.Metadata, middleware.SealedKey)
	assert.False(t, strings.Contains(stored.Metadata[middleware.SealedKey], "my-secret-sauce"))

	loaded, err := secureStore.Load(ctx, "wf")
	require.NoError(t, err)
	require.Contains(t, loaded.Sessions, "s1")
	assert.Equal(t, domain.Data{Bytes: []byte("my-secret-sauce")}, loaded.Sessions["s1"].SendState.UndeliveredMessages[0].Payload)
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	underlyingStore := NewMockStore()
	oldKey := generateKey(t)
	newKey := generateKey(t)
	ctx := context.Background()

	secureStoreOld := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: oldKey})(underlyingStore)
	require.NoError(t, secureStoreOld.Save(ctx, "wf", secretCheckpoint("wf", "old")))

	secureStoreNew := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    newKey,
		FallbackKeys: [][]byte{oldKey},
	})(underlyingStore)

	loaded, err := secureStoreNew.Load(ctx, "wf")
	require.NoError(t, err, "fallback key should decrypt")
	assert.Contains(t, loaded.Sessions, "s1")

	// Saving again seals with the new key only.
	require.NoError(t, secureStoreNew.Save(ctx, "wf", loaded))
	_, err = secureStoreOld.Load(ctx, "wf")
	assert.Error(t, err, "old key alone must not decrypt new-key data")
}

func TestEncryptionMiddleware_RejectsPlainCheckpoint(t *testing.T) {
	underlyingStore := NewMockStore()
	ctx := context.Background()
	require.NoError(t, underlyingStore.Save(ctx, "wf", domain.NewCheckpoint("wf", "")))

	secureStore := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})(underlyingStore)
	_, err := secureStore.Load(ctx, "wf")
	assert.ErrorIs(t, err, middleware.ErrNotSealed)
}

func TestEncryptionMiddleware_InvalidKey(t *testing.T) {
	assert.Panics(t, func() {
		middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short-key")})
	})
}
