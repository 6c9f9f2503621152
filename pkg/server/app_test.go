package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"AlphaBlend/internal/domain/models"
	"AlphaBlend/internal/handler/ws"
	"AlphaBlend/internal/usecase"
	xhttp "AlphaBlend/pkg/http"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopWeights struct{}

func (nopWeights) WeightsFor(string) map[string]float64 { return nil }
func (nopWeights) UpdatePnL(map[string]float64)         {}
func (nopWeights) RegisterPod(string)                   {}
func (nopWeights) RemovePod(string)                     {}

type stubRebalancer struct{}

func (stubRebalancer) MaybeRebalance(time.Time) bool { return false }
func (stubRebalancer) Snapshot() *models.MetaAllocatorState {
	return &models.MetaAllocatorState{}
}
func (stubRebalancer) Restore(*models.MetaAllocatorState) {}

type countingStore struct {
	mu    sync.Mutex
	saves int
}

func (s *countingStore) Save(context.Context, *models.MetaAllocatorState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	return nil
}

func (s *countingStore) Load(context.Context) (*models.MetaAllocatorState, error) {
	return nil, errors.New("unavailable")
}

type stubConsumer struct {
	startErr error
	stopped  bool
}

func (c *stubConsumer) Start() error { return c.startErr }

func (c *stubConsumer) Stop(context.Context) error {
	c.stopped = true
	return nil
}

type closeRecorder struct {
	order *[]string
	name  string
}

func (c closeRecorder) Close() error {
	*c.order = append(*c.order, c.name)
	return nil
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func newTestApp(t *testing.T, store *countingStore, opts ...Option) *App {
	t.Helper()
	reg := usecase.NewPodRegistry(nopWeights{}, nil, nil)
	sched := usecase.NewAllocatorScheduler(stubRebalancer{}, store, time.Hour, time.Hour, nil)
	srv := xhttp.NewServer(nil, nil, xhttp.WithPort(freePort(t)), xhttp.WithMetricsPath(""))
	return New(nil, reg, sched, srv, ws.NewHub(nil), opts...)
}

func TestApp_RunAndShutdown(t *testing.T) {
	store := &countingStore{}
	consumer := &stubConsumer{}
	var closed []string
	app := newTestApp(t, store,
		WithConsumer(consumer),
		WithCloser("first", closeRecorder{&closed, "first"}),
		WithCloser("second", closeRecorder{&closed, "second"}),
		WithCloser("nil", nil),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
	assert.True(t, consumer.stopped)
	assert.Equal(t, []string{"first", "second"}, closed)
	assert.Equal(t, 1, store.saves, "final snapshot written on shutdown")
}

func TestApp_ConsumerStartFailure(t *testing.T) {
	store := &countingStore{}
	app := newTestApp(t, store, WithConsumer(&stubConsumer{startErr: errors.New("no handlers")}))

	err := app.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start kafka consumer")
}
