package middleware_test

import (
	"context"
	"testing"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/persistence/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIIMiddleware_Masking(t *testing.T) {
	underlyingStore := NewMockStore()
	// Mask keys containing "password" or "ssn"
	secureStore := middleware.NewPIIMiddleware([]string{"password", "ssn"})(underlyingStore)

	ctx := context.Background()
	cp := secretCheckpoint("wf", "payload")
	cp.Metadata = map[string]string{
		"username":      "jdoe",
		"user_password": "secret123",
		"ssn_number":    "999-99-9999",
	}

	require.NoError(t, secureStore.Save(ctx, "wf", cp))

	assert.Equal(t, "secret123", cp.Metadata["user_password"], "middleware must not modify the caller's checkpoint")

	stored, err := underlyingStore.Load(ctx, "wf")
	require.NoError(t, err)
	assert.Equal(t, "jdoe", stored.Metadata["username"])
	assert.Equal(t, middleware.Mask, stored.Metadata["user_password"])
	assert.Equal(t, middleware.Mask, stored.Metadata["ssn_number"])
	assert.Equal(t, domain.Data{Bytes: []byte("payload")}, stored.Sessions["s1"].SendState.UndeliveredMessages[0].Payload)
}

func TestChain_SealSurvivesMasking(t *testing.T) {
	underlyingStore := NewMockStore()
	store := middleware.Chain(underlyingStore,
		middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)}),
		middleware.NewPIIMiddleware([]string{"password", "sealed"}),
	)

	ctx := context.Background()
	cp := domain.NewCheckpoint("wf", "")
	cp.Metadata = map[string]string{"password": "hunter2"}
	require.NoError(t, store.Save(ctx, "wf", cp))

	stored, err := underlyingStore.Load(ctx, "wf")
	require.NoError(t, err)
	assert.NotEqual(t, middleware.Mask, stored.Metadata[middleware.SealedKey])

	loaded, err := store.Load(ctx, "wf")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", loaded.Metadata["password"])
}
