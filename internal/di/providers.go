package di

import (
	"context"
	"fmt"
	"time"

	domrepo "AlphaBlend/internal/domain/repository"
	domsvc "AlphaBlend/internal/domain/service"
	"AlphaBlend/internal/handler/api"
	"AlphaBlend/internal/handler/ws"
	mid "AlphaBlend/internal/middleware"
	internalrepo "AlphaBlend/internal/repository"
	"AlphaBlend/internal/services/allocator"
	"AlphaBlend/internal/services/analytics"
	"AlphaBlend/internal/services/pods"
	"AlphaBlend/internal/usecase"
	"AlphaBlend/pkg/cache"
	pkgch "AlphaBlend/pkg/clickhouse"
	"AlphaBlend/pkg/config"
	xhttp "AlphaBlend/pkg/http"
	pkgkafka "AlphaBlend/pkg/kafka"
	applogger "AlphaBlend/pkg/logger"
	"AlphaBlend/pkg/metrics"
	"AlphaBlend/pkg/server"
)

func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New(nil)
}

// ProvideClickHouseClient connects when ClickHouse is enabled, nil otherwise.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithAddr(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideDecisionStore creates the decisions table. Returns nil when
// ClickHouse is disabled.
func ProvideDecisionStore(client *pkgch.Client, cfg *config.Config) (domrepo.DecisionStore, error) {
	if client == nil {
		return nil, nil
	}
	store, err := internalrepo.NewCHDecisionStore(client.DB(), cfg.ClickHouse.Table)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return store, nil
}

// ProvideCache returns Redis when enabled and an in-memory cache otherwise.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(
			cache.WithMemoryMaxSize(cfg.Redis.MemoryMaxSize),
			cache.WithMemoryCleanup(cfg.Redis.MemoryCleanup),
		), nil
	}
	c, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Host, cfg.Redis.Port),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, 2, 30*time.Second),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return c, nil
}

func ProvideStateStore(c cache.Service) domrepo.StateStore {
	return internalrepo.NewCacheStateStore(c, 0)
}

// ProvideKafkaProducer creates a Kafka producer, nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithWriteTimeout(cfg.Kafka.Producer.WriteTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaConsumer creates a Kafka consumer, nil when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(l,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithHook(pkgkafka.TracingHook(l))
	return consumer, nil
}

// ProvideModelService returns nil when no model service URL is configured;
// the boosted pod then runs on its fallback heuristic.
func ProvideModelService(cfg *config.Config, m domrepo.Metrics) *analytics.HTTPModelService {
	if cfg.ModelService.URL == "" {
		return nil
	}
	return analytics.NewHTTPModelService(cfg.ModelService, m)
}

func ProvideAllocator(cfg *config.Config, m domrepo.Metrics, l *applogger.Logger) (*allocator.MetaAllocator, error) {
	return allocator.NewMetaAllocator(cfg.Allocator,
		allocator.WithMetrics(m),
		allocator.WithLogger(l),
	)
}

// ProvidePodRegistry builds the four pods and registers them in a fixed order.
func ProvidePodRegistry(cfg *config.Config, alloc *allocator.MetaAllocator, model *analytics.HTTPModelService, m domrepo.Metrics, l *applogger.Logger) (*usecase.PodRegistry, error) {
	reg := usecase.NewPodRegistry(alloc, m, l)

	trend, err := pods.NewTrendPod(cfg.Pods.Trend, l)
	if err != nil {
		return nil, err
	}
	mr, err := pods.NewMeanReversionPod(cfg.Pods.MeanReversion, l)
	if err != nil {
		return nil, err
	}
	vr, err := pods.NewVolRegimePod(cfg.Pods.VolRegime, l)
	if err != nil {
		return nil, err
	}
	var ms domsvc.ModelService
	if model != nil {
		ms = model
	}
	gb, err := pods.NewBoostedPod(cfg.Pods.GradientBoosted, ms, l)
	if err != nil {
		return nil, err
	}

	for _, p := range []domsvc.Pod{trend, mr, vr, gb} {
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func ProvideHub(l *applogger.Logger) *ws.Hub {
	return ws.NewHub(l)
}

// ProvideDecisionEngine wires every enabled decision sink into the engine.
func ProvideDecisionEngine(
	cfg *config.Config,
	reg *usecase.PodRegistry,
	producer *pkgkafka.Producer,
	store domrepo.DecisionStore,
	hub *ws.Hub,
	m domrepo.Metrics,
	l *applogger.Logger,
) *usecase.DecisionEngine {
	sinks := []domrepo.DecisionSink{hub}
	if producer != nil {
		sinks = append(sinks, internalrepo.NewKafkaDecisionPublisher(producer, cfg.Kafka.Topics.Decisions))
	}
	if store != nil {
		sinks = append(sinks, store)
	}
	return usecase.NewDecisionEngine(reg, m, l,
		usecase.WithSinks(sinks...),
		usecase.WithSinkTimeout(cfg.Ingest.SinkTimeout),
	)
}

func ProvideIngestPipeline(cfg *config.Config, engine *usecase.DecisionEngine, m domrepo.Metrics, l *applogger.Logger) *mid.IngestPipeline {
	return mid.NewIngestPipeline(engine, m,
		mid.WithMaxRPS(cfg.Ingest.MaxRPSPerSymbol),
		mid.WithLogger(l),
	)
}

func ProvideAlphaHandler(
	cfg *config.Config,
	pipeline *mid.IngestPipeline,
	engine *usecase.DecisionEngine,
	alloc *allocator.MetaAllocator,
	model *analytics.HTTPModelService,
	store domrepo.DecisionStore,
	l *applogger.Logger,
) *api.AlphaHandler {
	opts := []api.HandlerOption{api.WithClientRateLimit(cfg.Server.ClientRPS, cfg.Server.ClientBurst)}
	if model != nil {
		opts = append(opts, api.WithModelProbe(model))
	}
	if store != nil {
		opts = append(opts, api.WithDecisionStore(store))
	}
	return api.NewAlphaHandler(l, pipeline, engine, alloc, opts...)
}

func ProvideHTTPServer(cfg *config.Config, h *api.AlphaHandler, hub *ws.Hub, l *applogger.Logger) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(xhttp.Handlers{h, hub}, l,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(metricsPath),
	)
}

// ProvideKafkaHandlers registers the features and pnl handlers on the
// consumer, when there is one.
func ProvideKafkaHandlers(cfg *config.Config, consumer *pkgkafka.Consumer, pipeline *mid.IngestPipeline, engine *usecase.DecisionEngine, m domrepo.Metrics) []pkgkafka.MessageHandler {
	if consumer == nil {
		return nil
	}
	handlers := []pkgkafka.MessageHandler{
		usecase.NewKafkaFeaturesHandler(cfg.Kafka.Topics.Features, pipeline, m),
		usecase.NewKafkaPnLHandler(cfg.Kafka.Topics.PnL, engine, m),
	}
	for _, h := range handlers {
		consumer.RegisterHandler(h)
	}
	return handlers
}

func ProvideScheduler(cfg *config.Config, alloc *allocator.MetaAllocator, store domrepo.StateStore, l *applogger.Logger) *usecase.AllocatorScheduler {
	return usecase.NewAllocatorScheduler(alloc, store, cfg.Allocator.TickInterval, cfg.Allocator.SnapshotInterval, l)
}

// ProvideApp creates the application server.
func ProvideApp(
	l *applogger.Logger,
	reg *usecase.PodRegistry,
	sched *usecase.AllocatorScheduler,
	httpServer *xhttp.Server,
	hub *ws.Hub,
	consumer *pkgkafka.Consumer,
	handlers []pkgkafka.MessageHandler,
	producer *pkgkafka.Producer,
	chClient *pkgch.Client,
	c cache.Service,
) *server.App {
	opts := []server.Option{
		server.WithCloser("cache", c),
	}
	if consumer != nil && len(handlers) > 0 {
		opts = append(opts, server.WithConsumer(consumer))
	}
	if producer != nil {
		opts = append(opts, server.WithCloser("kafka_producer", producer))
	}
	if chClient != nil {
		opts = append(opts, server.WithCloser("clickhouse", chClient))
	}
	return server.New(l, reg, sched, httpServer, hub, opts...)
}
