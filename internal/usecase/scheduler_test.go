package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"AlphaBlend/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRebalancer struct {
	checks   atomic.Int32
	restored *models.MetaAllocatorState
}

func (f *fakeRebalancer) MaybeRebalance(time.Time) bool {
	f.checks.Add(1)
	return true
}

func (f *fakeRebalancer) Snapshot() *models.MetaAllocatorState {
	return &models.MetaAllocatorState{Weights: map[string]map[string]float64{"BTCUSDT": {"trend": 1}}}
}

func (f *fakeRebalancer) Restore(st *models.MetaAllocatorState) { f.restored = st }

type memoryStateStore struct {
	mu    sync.Mutex
	state *models.MetaAllocatorState
	saves int
	err   error
}

func (m *memoryStateStore) Save(_ context.Context, st *models.MetaAllocatorState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.err != nil {
		return m.err
	}
	m.state = st
	return nil
}

func (m *memoryStateStore) Load(context.Context) (*models.MetaAllocatorState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.err
}

func (m *memoryStateStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func TestAllocatorScheduler_Restore(t *testing.T) {
	alloc := &fakeRebalancer{}
	store := &memoryStateStore{}
	s := NewAllocatorScheduler(alloc, store, time.Hour, time.Hour, nil)

	require.NoError(t, s.Restore(context.Background()))
	assert.Nil(t, alloc.restored, "nothing stored yet")

	store.state = &models.MetaAllocatorState{LastRebalance: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, s.Restore(context.Background()))
	assert.Same(t, store.state, alloc.restored)

	store.err = errors.New("redis down")
	assert.Error(t, s.Restore(context.Background()))

	assert.NoError(t, NewAllocatorScheduler(alloc, nil, 0, 0, nil).Restore(context.Background()))
}

func TestAllocatorScheduler_Loop(t *testing.T) {
	alloc := &fakeRebalancer{}
	store := &memoryStateStore{}
	s := NewAllocatorScheduler(alloc, store, 5*time.Millisecond, 10*time.Millisecond, nil)

	s.Start(context.Background())
	require.Eventually(t, func() bool {
		return alloc.checks.Load() >= 3 && store.count() >= 1
	}, 2*time.Second, 5*time.Millisecond)

	before := store.count()
	s.Stop(context.Background())
	after := store.count()
	assert.GreaterOrEqual(t, after, before+1, "final snapshot on stop")
	require.NotNil(t, store.state)
	assert.Equal(t, 1.0, store.state.Weights["BTCUSDT"]["trend"])

	s.Stop(context.Background())
	assert.Equal(t, after, store.count(), "stop is idempotent")
}

func TestAllocatorScheduler_SaveFailureIsLogged(t *testing.T) {
	store := &memoryStateStore{err: errors.New("timeout")}
	s := NewAllocatorScheduler(&fakeRebalancer{}, store, time.Hour, time.Hour, nil)
	assert.NotPanics(t, func() { s.Save(context.Background()) })
	assert.Equal(t, 1, store.count())
}
