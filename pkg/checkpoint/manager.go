package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

// DefaultLockTTL bounds how long a crashed holder can block a workflow.
const DefaultLockTTL = 30 * time.Second

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager serializes access to workflow checkpoints so that each one has a single writer.
// Locks are reference counted and dropped once no caller holds or waits for them.
type Manager struct {
	store ports.CheckpointStore

	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active locks

	locker  ports.DistributedLocker // Optional distributed locker
	lockTTL time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the expiry of distributed locks.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithClock overrides the time source used for Checkpoint.UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager over the given store.
func NewManager(store ports.CheckpointStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		lockTTL: DefaultLockTTL,
		now:     time.Now,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(workflowID) after unlocking.
func (m *Manager) acquire(workflowID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[workflowID]
	if !exists {
		entry = &lockEntry{}
		m.locks[workflowID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(workflowID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[workflowID]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, workflowID)
	}
}

// WithLock executes fn while holding the workflow's lock.
func (m *Manager) WithLock(ctx context.Context, workflowID string, fn func(context.Context) error) error {
	entry := m.acquire(workflowID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(workflowID)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, workflowID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"workflow_id", workflowID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

// Load retrieves an existing checkpoint.
func (m *Manager) Load(ctx context.Context, workflowID string) (*domain.Checkpoint, error) {
	var cp *domain.Checkpoint
	err := m.WithLock(ctx, workflowID, func(ctx context.Context) error {
		var err error
		cp, err = m.store.Load(ctx, workflowID)
		return err
	})
	return cp, err
}

// LoadOrCreate loads a checkpoint, creating and persisting an empty one if none exists.
func (m *Manager) LoadOrCreate(ctx context.Context, workflowID, flowName string) (*domain.Checkpoint, error) {
	var cp *domain.Checkpoint
	err := m.WithLock(ctx, workflowID, func(ctx context.Context) error {
		var created bool
		var err error
		cp, created, err = m.loadOrNew(ctx, workflowID, flowName)
		if err != nil || !created {
			return err
		}
		cp.UpdatedAt = m.now()
		if err := m.store.Save(ctx, workflowID, cp); err != nil {
			return fmt.Errorf("failed to initialize checkpoint: %w", err)
		}
		return nil
	})
	return cp, err
}

// Update runs one processing pass: it loads the checkpoint (or starts an empty one), hands it
// to fn and saves it when fn succeeds. The checkpoint is exclusively owned by fn for the pass.
// If fn fails nothing is written.
func (m *Manager) Update(ctx context.Context, workflowID, flowName string, fn func(ctx context.Context, cp *domain.Checkpoint) error) (*domain.Checkpoint, error) {
	var cp *domain.Checkpoint
	err := m.WithLock(ctx, workflowID, func(ctx context.Context) error {
		loaded, _, err := m.loadOrNew(ctx, workflowID, flowName)
		if err != nil {
			return err
		}
		if err := fn(ctx, loaded); err != nil {
			return err
		}
		loaded.UpdatedAt = m.now()
		if err := m.store.Save(ctx, workflowID, loaded); err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}
		cp = loaded
		return nil
	})
	return cp, err
}

func (m *Manager) loadOrNew(ctx context.Context, workflowID, flowName string) (*domain.Checkpoint, bool, error) {
	cp, err := m.store.Load(ctx, workflowID)
	if err == nil {
		return cp, false, nil
	}
	if !errors.Is(err, domain.ErrCheckpointNotFound) {
		return nil, false, fmt.Errorf("failed to check checkpoint existence: %w", err)
	}
	return domain.NewCheckpoint(workflowID, flowName), true, nil
}

// Save persists the checkpoint.
func (m *Manager) Save(ctx context.Context, workflowID string, cp *domain.Checkpoint) error {
	return m.WithLock(ctx, workflowID, func(ctx context.Context) error {
		return m.store.Save(ctx, workflowID, cp)
	})
}

// Delete removes the checkpoint from the store.
func (m *Manager) Delete(ctx context.Context, workflowID string) error {
	return m.WithLock(ctx, workflowID, func(ctx context.Context) error {
		return m.store.Delete(ctx, workflowID)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Store returns the underlying checkpoint store.
func (m *Manager) Store() ports.CheckpointStore {
	return m.store
}
