package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"AlphaBlend/internal/domain/models"
	"AlphaBlend/internal/middleware"
	"AlphaBlend/internal/services/allocator"
	"AlphaBlend/internal/usecase"
	"AlphaBlend/pkg/config"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type constPod struct {
	name    string
	signal  float64
	enabled atomic.Bool
}

func newConstPod(name string, signal float64) *constPod {
	p := &constPod{name: name, signal: signal}
	p.enabled.Store(true)
	return p
}

func (p *constPod) Name() string       { return p.name }
func (p *constPod) WarmupBars() int    { return 0 }
func (p *constPod) Enabled() bool      { return p.enabled.Load() }
func (p *constPod) SetEnabled(on bool) { p.enabled.Store(on) }

func (p *constPod) Compute(context.Context, models.Features, models.MarketContext) (*models.AlphaSignal, error) {
	return models.NewAlphaSignal(p.name, p.signal, 0.8, 0.01, nil), nil
}

type stubModelHealth struct{ health models.ModelHealth }

func (p stubModelHealth) Health(context.Context) models.ModelHealth { return p.health }

type fixture struct {
	e     *echo.Echo
	alloc *allocator.MetaAllocator
	beta  *constPod
}

func newFixture(t *testing.T, opts ...HandlerOption) *fixture {
	t.Helper()
	alloc, err := allocator.NewMetaAllocator(config.AllocatorConfig{
		UpdateFrequency:        24 * time.Hour,
		MinPodWeight:           0.05,
		MaxPodWeight:           0.5,
		PerformanceWindowDays:  30,
		SamplesPerDay:          1,
		RegretCap:              0.15,
		DiversificationPenalty: 0.1,
		LearningRate:           0.01,
		RebalanceThreshold:     0.05,
	})
	require.NoError(t, err)

	reg := usecase.NewPodRegistry(alloc, nil, nil)
	beta := newConstPod("beta", 0.5)
	require.NoError(t, reg.Register(newConstPod("alpha", 0.5)))
	require.NoError(t, reg.Register(beta))

	engine := usecase.NewDecisionEngine(reg, nil, nil)
	pipeline := middleware.NewIngestPipeline(engine, nil, middleware.WithMaxRPS(1))

	e := echo.New()
	NewAlphaHandler(nil, pipeline, engine, alloc, opts...).RegisterRoutes(e)
	return &fixture{e: e, alloc: alloc, beta: beta}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, json.RawMessage) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	var env struct {
		Status int             `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	assert.Equal(t, rec.Code, env.Status)
	return rec.Code, env.Data
}

func featureBody(symbol string) string {
	return fmt.Sprintf(`{"symbol":%q,"features":{"open":100,"high":101,"low":99,"close":100.5,"volume":10}}`, symbol)
}

func TestSignals(t *testing.T) {
	f := newFixture(t)

	code, data := f.do(t, http.MethodPost, "/api/v1/signals", featureBody("BTCUSDT"))
	require.Equal(t, http.StatusOK, code)
	var d models.BlendedSignal
	require.NoError(t, json.Unmarshal(data, &d))
	assert.Equal(t, "BTCUSDT", d.Symbol)
	assert.InDelta(t, 0.5, d.Signal, 1e-9)
	assert.InDelta(t, 0.8, d.Confidence, 1e-9)
	assert.Len(t, d.Signals, 2)
	assert.False(t, d.Timestamp.IsZero())

	code, _ = f.do(t, http.MethodPost, "/api/v1/signals", featureBody("BTCUSDT"))
	assert.Equal(t, http.StatusTooManyRequests, code, "second update within a second is throttled")

	code, _ = f.do(t, http.MethodPost, "/api/v1/signals", `{"features":{"close":1}}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/api/v1/signals", `{"symbol":"ETHUSDT","features":{"close":0}}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestWeights(t *testing.T) {
	f := newFixture(t)

	code, data := f.do(t, http.MethodGet, "/api/v1/weights?symbol=BTCUSDT", "")
	require.Equal(t, http.StatusOK, code)
	var got struct {
		Symbol  string             `json:"symbol"`
		Weights map[string]float64 `json:"weights"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.InDelta(t, 0.5, got.Weights["alpha"], 1e-9)
	assert.InDelta(t, 0.5, got.Weights["beta"], 1e-9)

	code, _ = f.do(t, http.MethodGet, "/api/v1/weights", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPut, "/api/v1/weights", `{"weights":{"alpha":0.7,"beta":0.3}}`)
	require.Equal(t, http.StatusOK, code)
	assert.InDelta(t, 0.7, f.alloc.WeightsFor("BTCUSDT")["alpha"], 1e-9)

	code, _ = f.do(t, http.MethodPut, "/api/v1/weights", `{"weights":{"gamma":1}}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, http.MethodPut, "/api/v1/weights", `{"weights":{"alpha":-1}}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPut, "/api/v1/weights", `{"weights":{}}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPut, "/api/v1/weights", `{"weights":{"alpha":0.9,"beta":0.9}}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestPnLAndPerformance(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, http.MethodPost, "/api/v1/pnl", `{"pnl":{"alpha":10,"beta":-4}}`)
	require.Equal(t, http.StatusAccepted, code)

	code, _ = f.do(t, http.MethodPost, "/api/v1/pnl", `{"pnl":{}}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, data := f.do(t, http.MethodGet, "/api/v1/performance", "")
	require.Equal(t, http.StatusOK, code)
	var got struct {
		Performance map[string]models.PodPerformance `json:"performance"`
		Scores      map[string]float64               `json:"scores"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.InDelta(t, 10, got.Performance["alpha"].TotalPnL, 1e-9)
	assert.InDelta(t, -4, got.Performance["beta"].TotalPnL, 1e-9)
	assert.Len(t, got.Scores, 2)
}

func TestPods(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, http.MethodPatch, "/api/v1/pods/beta", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, f.beta.Enabled())

	code, data := f.do(t, http.MethodGet, "/api/v1/pods", "")
	require.Equal(t, http.StatusOK, code)
	var pods []podView
	require.NoError(t, json.Unmarshal(data, &pods))
	require.Len(t, pods, 2)
	assert.Equal(t, "alpha", pods[0].Name)
	assert.True(t, pods[0].Enabled)
	assert.False(t, pods[1].Enabled)

	code, _ = f.do(t, http.MethodPatch, "/api/v1/pods/nope", `{"enabled":true}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, http.MethodPatch, "/api/v1/pods/beta", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, WithModelProbe(stubModelHealth{models.ModelHealth{Status: "unreachable", Breaker: "open"}}))

	code, data := f.do(t, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, code)
	var h healthView
	require.NoError(t, json.Unmarshal(data, &h))
	assert.Equal(t, "degraded", h.Status)
	assert.Equal(t, 2, h.Pods)
	require.NotNil(t, h.Model)
	assert.Equal(t, "open", h.Model.Breaker)

	healthy := newFixture(t, WithModelProbe(stubModelHealth{models.ModelHealth{Healthy: true, Status: "healthy"}}))
	_, data = healthy.do(t, http.MethodGet, "/api/v1/health", "")
	require.NoError(t, json.Unmarshal(data, &h))
	assert.Equal(t, "ok", h.Status)
}

func TestDecisions_StoreDisabled(t *testing.T) {
	f := newFixture(t)
	code, _ := f.do(t, http.MethodGet, "/api/v1/decisions?symbol=BTCUSDT", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestClientRateLimit(t *testing.T) {
	f := newFixture(t, WithClientRateLimit(0.001, 2))

	for i := 0; i < 2; i++ {
		code, _ := f.do(t, http.MethodGet, "/api/v1/pods", "")
		require.Equal(t, http.StatusOK, code)
	}
	code, _ := f.do(t, http.MethodGet, "/api/v1/pods", "")
	assert.Equal(t, http.StatusTooManyRequests, code)
}

func TestToAppError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: close", models.ErrInvalidFeature), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: BTC", middleware.ErrThrottled), http.StatusTooManyRequests},
		{fmt.Errorf("%w: x", models.ErrUnknownPod), http.StatusNotFound},
		{fmt.Errorf("%w: x", models.ErrDuplicatePod), http.StatusConflict},
		{fmt.Errorf("%w: x", models.ErrConfiguration), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, toAppError(tc.err).Status, tc.err.Error())
	}
}
