package server

import (
	"context"
	"fmt"
	"io"
	"time"

	"AlphaBlend/internal/handler/ws"
	"AlphaBlend/internal/usecase"
	xhttp "AlphaBlend/pkg/http"
	applogger "AlphaBlend/pkg/logger"
)

// Consumer is the part of the Kafka consumer the app drives.
type Consumer interface {
	Start() error
	Stop(ctx context.Context) error
}

type namedCloser struct {
	name string
	io.Closer
}

type Option func(*App)

func WithConsumer(c Consumer) Option {
	return func(a *App) { a.consumer = c }
}

// WithCloser registers a resource closed on shutdown, in registration order.
func WithCloser(name string, c io.Closer) Option {
	return func(a *App) {
		if c != nil {
			a.closers = append(a.closers, namedCloser{name: name, Closer: c})
		}
	}
}

// App encapsulates the entire application lifecycle.
type App struct {
	logger     *applogger.Logger
	registry   *usecase.PodRegistry
	scheduler  *usecase.AllocatorScheduler
	httpServer *xhttp.Server
	hub        *ws.Hub
	consumer   Consumer
	closers    []namedCloser
}

func New(
	l *applogger.Logger,
	registry *usecase.PodRegistry,
	scheduler *usecase.AllocatorScheduler,
	httpServer *xhttp.Server,
	hub *ws.Hub,
	opts ...Option,
) *App {
	if l == nil {
		l = applogger.Nop()
	}
	a := &App{
		logger:     l,
		registry:   registry,
		scheduler:  scheduler,
		httpServer: httpServer,
		hub:        hub,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts every component and blocks until ctx is cancelled, then shuts
// down gracefully.
func (a *App) Run(ctx context.Context) error {
	bootCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.scheduler.Restore(bootCtx); err != nil {
		a.logger.Warn("allocator restore failed, starting fresh", applogger.Error(err))
	}
	if err := a.registry.Initialize(bootCtx); err != nil {
		return fmt.Errorf("initialize pods: %w", err)
	}
	a.scheduler.Start(ctx)

	if a.consumer != nil {
		if err := a.consumer.Start(); err != nil {
			a.scheduler.Stop(context.Background())
			return fmt.Errorf("start kafka consumer: %w", err)
		}
	}
	if err := a.httpServer.Start(); err != nil {
		return err
	}
	a.logger.Info("alphablend started", applogger.Int("pods", len(a.registry.Pods())))

	<-ctx.Done()
	a.logger.Info("shutdown signal received")
	return a.shutdown()
}

// shutdown stops intake first, then persists state and releases resources.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.httpServer.ShutdownTimeout())
	defer cancel()

	if err := a.httpServer.Stop(ctx); err != nil {
		a.logger.Error("http shutdown error", applogger.Error(err))
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.logger.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	a.scheduler.Stop(ctx)
	if err := a.registry.Cleanup(ctx); err != nil {
		a.logger.Warn("pod cleanup error", applogger.Error(err))
	}
	a.hub.Close()

	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn("close error", applogger.String("resource", c.name), applogger.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
	return nil
}
