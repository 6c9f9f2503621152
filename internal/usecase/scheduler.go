package usecase

import (
	"context"
	"sync"
	"time"

	"AlphaBlend/internal/domain/models"
	domrepo "AlphaBlend/internal/domain/repository"
	"AlphaBlend/pkg/logger"
)

// Rebalancer is the allocator surface the scheduler drives.
type Rebalancer interface {
	MaybeRebalance(now time.Time) bool
	Snapshot() *models.MetaAllocatorState
	Restore(st *models.MetaAllocatorState)
}

// AllocatorScheduler checks the rebalance interval on a tick and persists
// allocator snapshots. It restores the last snapshot on start and writes a
// final one on stop.
type AllocatorScheduler struct {
	alloc    Rebalancer
	store    domrepo.StateStore
	logger   *logger.Logger
	tick     time.Duration
	snapshot time.Duration
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewAllocatorScheduler builds the scheduler. store may be nil, in which
// case state lives only in memory.
func NewAllocatorScheduler(alloc Rebalancer, store domrepo.StateStore, tick, snapshot time.Duration, l *logger.Logger) *AllocatorScheduler {
	if l == nil {
		l = logger.Nop()
	}
	if tick <= 0 {
		tick = time.Minute
	}
	if snapshot <= 0 {
		snapshot = 5 * time.Minute
	}
	return &AllocatorScheduler{
		alloc:    alloc,
		store:    store,
		logger:   l.With(logger.String("component", "allocator_scheduler")),
		tick:     tick,
		snapshot: snapshot,
		now:      time.Now,
	}
}

// Restore loads the last snapshot, if any, into the allocator.
func (s *AllocatorScheduler) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	st, err := s.store.Load(ctx)
	if err != nil {
		return err
	}
	if st == nil {
		s.logger.Info("no allocator snapshot found, starting fresh")
		return nil
	}
	s.alloc.Restore(st)
	s.logger.Info("allocator state restored",
		logger.Int("symbols", len(st.Weights)),
		logger.Any("last_rebalance", st.LastRebalance),
	)
	return nil
}

// Start runs the loop in the background until Stop.
func (s *AllocatorScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)
}

func (s *AllocatorScheduler) run(ctx context.Context) {
	defer close(s.done)
	tick := time.NewTicker(s.tick)
	defer tick.Stop()
	snap := time.NewTicker(s.snapshot)
	defer snap.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if s.alloc.MaybeRebalance(s.now()) {
				s.logger.Info("scheduled rebalance ran")
			}
		case <-snap.C:
			s.Save(ctx)
		}
	}
}

// Save writes a snapshot. Failures are logged; the next interval retries.
func (s *AllocatorScheduler) Save(ctx context.Context) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(ctx, s.alloc.Snapshot()); err != nil {
		s.logger.Warn("allocator snapshot failed", logger.Error(err))
	}
}

// Stop ends the loop and writes a final snapshot.
func (s *AllocatorScheduler) Stop(ctx context.Context) {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
		s.Save(ctx)
	})
}
