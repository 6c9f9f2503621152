package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"AlphaBlend/internal/domain/models"
	domrepo "AlphaBlend/internal/domain/repository"
	domsvc "AlphaBlend/internal/domain/service"
	"AlphaBlend/internal/middleware"
	"AlphaBlend/internal/service/ratelimit"
	"AlphaBlend/internal/usecase"
	xhttp "AlphaBlend/pkg/http"
	xlogger "AlphaBlend/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Ingestor accepts a feature update and returns the blended decision.
type Ingestor interface {
	Process(ctx context.Context, u models.FeatureUpdate) (*models.BlendedSignal, error)
}

// Allocator is the read/reset surface of the meta-allocator.
type Allocator interface {
	WeightsFor(symbol string) map[string]float64
	ResetWeights(w map[string]float64) error
	Performance() map[string]models.PodPerformance
	Scores() map[string]float64
}

type ModelProbe interface {
	Health(ctx context.Context) models.ModelHealth
}

type HandlerOption func(*AlphaHandler)

// WithModelProbe adds the model service to GET /health.
func WithModelProbe(p ModelProbe) HandlerOption {
	return func(h *AlphaHandler) { h.model = p }
}

// WithDecisionStore enables GET /decisions and adds the store to GET /health.
func WithDecisionStore(s domrepo.DecisionStore) HandlerOption {
	return func(h *AlphaHandler) { h.store = s }
}

// WithClientRateLimit limits requests per client IP. Zero disables it.
func WithClientRateLimit(perSecond float64, burst int) HandlerOption {
	return func(h *AlphaHandler) {
		if perSecond > 0 {
			h.limiter = ratelimit.New(perSecond, burst)
		}
	}
}

// AlphaHandler serves the decision engine over HTTP.
type AlphaHandler struct {
	logger    *xlogger.Logger
	ingest    Ingestor
	engine    *usecase.DecisionEngine
	allocator Allocator
	model     ModelProbe
	store     domrepo.DecisionStore
	limiter   *ratelimit.Limiter
}

func NewAlphaHandler(l *xlogger.Logger, ingest Ingestor, engine *usecase.DecisionEngine, alloc Allocator, opts ...HandlerOption) *AlphaHandler {
	if l == nil {
		l = xlogger.Nop()
	}
	h := &AlphaHandler{logger: l, ingest: ingest, engine: engine, allocator: alloc}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *AlphaHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")
	if h.limiter != nil {
		g.Use(h.rateLimit)
	}
	g.POST("/signals", h.Signals)
	g.GET("/weights", h.Weights)
	g.PUT("/weights", h.ResetWeights)
	g.POST("/pnl", h.PnL)
	g.GET("/performance", h.Performance)
	g.GET("/pods", h.Pods)
	g.PATCH("/pods/:name", h.TogglePod)
	g.GET("/decisions", h.Decisions)
	g.GET("/health", h.Health)
}

func (h *AlphaHandler) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !h.limiter.Allow(c.RealIP()) {
			return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_RATE_LIMITED", "", "too many requests", http.StatusTooManyRequests))
		}
		return next(c)
	}
}

// Signals runs one feature update through the ingest pipeline.
func (h *AlphaHandler) Signals(c echo.Context) error {
	req := &models.FeatureUpdate{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}
	decision, err := h.ingest.Process(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "signals", err)
	}
	return xhttp.SuccessResponse(c, decision)
}

type weightsQuery struct {
	Symbol string `query:"symbol" validate:"required"`
}

func (h *AlphaHandler) Weights(c echo.Context) error {
	req := &weightsQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	return xhttp.SuccessResponse(c, map[string]any{
		"symbol":  req.Symbol,
		"weights": h.allocator.WeightsFor(req.Symbol),
	})
}

type resetWeightsRequest struct {
	Weights map[string]float64 `json:"weights" validate:"required,min=1"`
}

// ResetWeights overwrites the weights of every known symbol.
func (h *AlphaHandler) ResetWeights(c echo.Context) error {
	req := &resetWeightsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.allocator.ResetWeights(req.Weights); err != nil {
		return h.fail(c, "reset_weights", err)
	}
	h.logger.Info("weights reset via api", xlogger.Any("weights", req.Weights))
	return xhttp.SuccessResponse(c, map[string]any{"weights": req.Weights})
}

func (h *AlphaHandler) PnL(c echo.Context) error {
	req := &models.PnLReport{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	h.engine.ReportPnL(*req)
	return xhttp.DataResponse(c, http.StatusAccepted, map[string]any{"pods": len(req.PnL)})
}

func (h *AlphaHandler) Performance(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]any{
		"performance": h.allocator.Performance(),
		"scores":      h.allocator.Scores(),
	})
}

type podView struct {
	Name        string                 `json:"name"`
	Enabled     bool                   `json:"enabled"`
	WarmupBars  int                    `json:"warmup_bars"`
	Performance *models.PodPerformance `json:"performance,omitempty"`
}

func (h *AlphaHandler) Pods(c echo.Context) error {
	registered := h.engine.Registry().Pods()
	out := make([]podView, 0, len(registered))
	for _, p := range registered {
		v := podView{Name: p.Name(), Enabled: p.Enabled(), WarmupBars: p.WarmupBars()}
		if r, ok := p.(domsvc.PerformanceReporter); ok {
			perf := r.Performance()
			v.Performance = &perf
		}
		out = append(out, v)
	}
	return xhttp.SuccessResponse(c, out)
}

type togglePodRequest struct {
	Name    string `param:"name" validate:"required"`
	Enabled *bool  `json:"enabled" validate:"required"`
}

func (h *AlphaHandler) TogglePod(c echo.Context) error {
	req := &togglePodRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.engine.Registry().SetEnabled(req.Name, *req.Enabled); err != nil {
		return h.fail(c, "toggle_pod", err)
	}
	return xhttp.SuccessResponse(c, map[string]any{"name": req.Name, "enabled": *req.Enabled})
}

type decisionsQuery struct {
	Symbol string `query:"symbol" validate:"required"`
	Limit  int    `query:"limit" default:"50" validate:"gte=1,lte=1000"`
}

func (h *AlphaHandler) Decisions(c echo.Context) error {
	if h.store == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("decision store is disabled"))
	}
	req := &decisionsQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	out, err := h.store.Recent(c.Request().Context(), req.Symbol, req.Limit)
	if err != nil {
		return h.fail(c, "decisions", err)
	}
	return xhttp.SuccessResponse(c, out)
}

type healthView struct {
	Status string              `json:"status"`
	Pods   int                 `json:"pods"`
	Model  *models.ModelHealth `json:"model,omitempty"`
	Store  string              `json:"store,omitempty"`
}

// Health reports "degraded" rather than failing when the model service or
// store is down: the engine keeps deciding on fallbacks.
func (h *AlphaHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	out := healthView{Status: "ok", Pods: len(h.engine.Registry().Pods())}
	if h.model != nil {
		mh := h.model.Health(ctx)
		out.Model = &mh
		if !mh.Healthy {
			out.Status = "degraded"
		}
	}
	if h.store != nil {
		out.Store = "ok"
		if err := h.store.Health(ctx); err != nil {
			out.Store = err.Error()
			out.Status = "degraded"
		}
	}
	return xhttp.SuccessResponse(c, out)
}

func (h *AlphaHandler) fail(c echo.Context, op string, err error) error {
	appErr := toAppError(err)
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Error("api request failed", xlogger.String("op", op), xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

func toAppError(err error) *xhttp.AppError {
	var appErr *xhttp.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, models.ErrInvalidFeature):
		return xhttp.UnprocessableErrorf("%v", err).WithError(err)
	case errors.Is(err, middleware.ErrThrottled):
		return xhttp.NewAppError("ERR_THROTTLED", "symbol", err.Error(), http.StatusTooManyRequests).WithError(err)
	case errors.Is(err, models.ErrDuplicatePod):
		return xhttp.ConflictErrorf("%v", err).WithError(err)
	case errors.Is(err, models.ErrUnknownPod):
		return xhttp.NotFoundErrorf("%v", err).WithError(err)
	case errors.Is(err, models.ErrConfiguration):
		return xhttp.BadRequestErrorf("%v", err).WithError(err)
	default:
		return xhttp.InternalErrorf("internal error").WithError(err)
	}
}
