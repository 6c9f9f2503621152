package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"AlphaBlend/internal/domain/models"
	domrepo "AlphaBlend/internal/domain/repository"
	"AlphaBlend/internal/service/ratelimit"
	"AlphaBlend/pkg/logger"

	"github.com/go-playground/validator/v10"
)

// ErrThrottled is returned when a symbol exceeds its update rate.
var ErrThrottled = errors.New("update throttled")

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, u models.FeatureUpdate) (*models.BlendedSignal, error)
}

// IngestPipeline sits between the transports (HTTP, Kafka) and the decision
// engine. It validates updates, throttles per symbol and optionally
// transforms them before handing them on.
type IngestPipeline struct {
	proc      Proc
	metrics   domrepo.Metrics
	logger    *logger.Logger
	limiter   *ratelimit.Limiter
	validate  *validator.Validate
	transform func(models.FeatureUpdate) models.FeatureUpdate
}

type PipelineOption func(*IngestPipeline)

// WithMaxRPS sets the max updates per second per symbol. Zero disables throttling.
func WithMaxRPS(perSecond float64) PipelineOption {
	return func(p *IngestPipeline) {
		p.limiter = ratelimit.New(perSecond, max(1, int(perSecond)))
	}
}

// WithTransform sets a hook that rewrites updates before validation,
// e.g. to normalise symbol names.
func WithTransform(fn func(models.FeatureUpdate) models.FeatureUpdate) PipelineOption {
	return func(p *IngestPipeline) { p.transform = fn }
}

func WithLogger(l *logger.Logger) PipelineOption {
	return func(p *IngestPipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func NewIngestPipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *IngestPipeline {
	p := &IngestPipeline{
		proc:     proc,
		metrics:  metrics,
		logger:   logger.Nop(),
		limiter:  ratelimit.New(0, 0),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process validates, throttles and forwards one update.
func (p *IngestPipeline) Process(ctx context.Context, u models.FeatureUpdate) (*models.BlendedSignal, error) {
	start := time.Now()
	if p.transform != nil {
		u = p.transform(u)
	}
	if err := p.check(u); err != nil {
		p.recordError("pipeline_validate")
		return nil, err
	}
	if !p.limiter.AllowAt(u.Symbol, start) {
		p.recordError("pipeline_throttle")
		p.logger.Debug("update throttled", logger.String("symbol", u.Symbol))
		return nil, fmt.Errorf("%w: %s", ErrThrottled, u.Symbol)
	}

	d, err := p.proc.Process(ctx, u)
	if err != nil {
		p.recordError("pipeline_process")
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	}
	return d, nil
}

func (p *IngestPipeline) check(u models.FeatureUpdate) error {
	if err := u.Features.CheckFinite(); err != nil {
		return err
	}
	if err := p.validate.Struct(u); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidFeature, err)
	}
	return nil
}

func (p *IngestPipeline) recordError(kind string) {
	if p.metrics != nil {
		p.metrics.RecordIngestError(kind)
	}
}
