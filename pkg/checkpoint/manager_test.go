package checkpoint_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/parley/pkg/checkpoint"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SlowStore simulates latency to provoke race conditions if locking is missing.
type SlowStore struct {
	data  map[string]*domain.Checkpoint
	saves int
	mu    sync.Mutex
}

func (s *SlowStore) Save(ctx context.Context, workflowID string, cp *domain.Checkpoint) error {
	time.Sleep(5 * time.Millisecond) // Simulate IO
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		s.data = make(map[string]*domain.Checkpoint)
	}
	s.data[workflowID] = cp.Clone()
	s.saves++
	return nil
}

func (s *SlowStore) Load(ctx context.Context, workflowID string) (*domain.Checkpoint, error) {
	time.Sleep(5 * time.Millisecond) // Simulate IO
	s.mu.Lock()
	defer s.mu.Unlock()

	if cp, ok := s.data[workflowID]; ok {
		return cp.Clone(), nil
	}
	return nil, domain.ErrCheckpointNotFound
}

func (s *SlowStore) Delete(ctx context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, workflowID)
	return nil
}

func (s *SlowStore) List(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	return ids, nil
}

func TestManager_UpdateIsSerialized(t *testing.T) {
	store := &SlowStore{}
	manager := checkpoint.NewManager(store)
	ctx := context.Background()
	id := "race-test"

	var wg sync.WaitGroup
	concurrentWrites := 10

	// Read-modify-write without locking would lose increments.
	for i := 0; i < concurrentWrites; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := manager.Update(ctx, id, "flow", func(_ context.Context, cp *domain.Checkpoint) error {
				if cp.Metadata == nil {
					cp.Metadata = map[string]string{}
				}
				n, _ := strconv.Atoi(cp.Metadata["count"])
				cp.Metadata["count"] = strconv.Itoa(n + 1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	cp, err := manager.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(concurrentWrites), cp.Metadata["count"])
	assert.Equal(t, "flow", cp.FlowName)
}

func TestManager_UpdateFailureWritesNothing(t *testing.T) {
	store := &SlowStore{}
	manager := checkpoint.NewManager(store)
	ctx := context.Background()
	boom := errors.New("boom")

	cp, err := manager.Update(ctx, "wf", "flow", func(_ context.Context, cp *domain.Checkpoint) error {
		cp.Put(domain.NewSessionState("s1", "peer", true, time.Now()))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, cp)
	assert.Zero(t, store.saves)

	_, err = manager.Load(ctx, "wf")
	assert.ErrorIs(t, err, domain.ErrCheckpointNotFound)
}

func TestManager_UpdateStampsTime(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	manager := checkpoint.NewManager(&SlowStore{}, checkpoint.WithClock(func() time.Time { return fixed }))

	cp, err := manager.Update(context.Background(), "wf", "", func(context.Context, *domain.Checkpoint) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, fixed, cp.UpdatedAt)
}

func TestManager_LoadOrCreate(t *testing.T) {
	store := &SlowStore{}
	manager := checkpoint.NewManager(store)
	ctx := context.Background()
	id := "atomic-init"

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp, err := manager.LoadOrCreate(ctx, id, "flow")
			assert.NoError(t, err)
			assert.NotNil(t, cp)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, store.saves, "only the first caller creates the checkpoint")
	cp, err := manager.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "flow", cp.FlowName)
	assert.Empty(t, cp.Sessions)
}

type recordingLocker struct {
	mu       sync.Mutex
	ttls     []time.Duration
	unlocked int
	err      error
}

func (l *recordingLocker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.ttls = append(l.ttls, ttl)
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.unlocked++
		return nil
	}, nil
}

func TestManager_DistributedLock(t *testing.T) {
	locker := &recordingLocker{}
	manager := checkpoint.NewManager(&SlowStore{}, checkpoint.WithLocker(locker), checkpoint.WithLockTTL(5*time.Second))

	err := manager.Save(context.Background(), "wf", domain.NewCheckpoint("wf", ""))
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{5 * time.Second}, locker.ttls)
	assert.Equal(t, 1, locker.unlocked)

	locker.err = errors.New("unavailable")
	called := false
	err = manager.WithLock(context.Background(), "wf", func(context.Context) error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, called)
}
