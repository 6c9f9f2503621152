package analytics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"AlphaBlend/internal/domain/models"
	"AlphaBlend/pkg/config"
	xhttp "AlphaBlend/pkg/http"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Call outcomes reported to metrics.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeBreakerOpen = "breaker_open"
	OutcomeRateLimited = "rate_limited"
)

// HTTPServiceBase is the transport shared by model-service clients: a JSON
// client behind a rate limiter and a circuit breaker. Every failure comes back
// wrapped in models.ErrModelServiceUnavailable.
type HTTPServiceBase struct {
	baseURL string
	client  *xhttp.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPServiceBase builds the transport from the model service settings.
func NewHTTPServiceBase(name string, cfg config.ModelServiceConfig) *HTTPServiceBase {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 3
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	st := gobreaker.Settings{Name: name}
	st.Timeout = cooldown
	st.ReadyToTrip = func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= failures }
	// The caller giving up is not the server's fault.
	st.IsSuccessful = func(err error) bool { return err == nil || errors.Is(err, context.Canceled) }

	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	return &HTTPServiceBase{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		client:  xhttp.NewClient(xhttp.WithTimeout(cfg.Timeout)),
		limiter: rate.NewLimiter(limit, max(cfg.Burst, 1)),
		breaker: gobreaker.NewCircuitBreaker(st),
	}
}

// PostJSON posts payload to path under baseURL and decodes JSON into dest.
func (b *HTTPServiceBase) PostJSON(ctx context.Context, path string, payload, dest any) (string, error) {
	return b.do(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		URL:     b.baseURL + path,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    payload,
	}, dest)
}

// GetJSON fetches path under baseURL and decodes JSON into dest.
func (b *HTTPServiceBase) GetJSON(ctx context.Context, path string, dest any) (string, error) {
	return b.do(ctx, &xhttp.RequestOptions{Method: xhttp.MethodGet, URL: b.baseURL + path}, dest)
}

// BreakerState is the circuit breaker state as a string.
func (b *HTTPServiceBase) BreakerState() string { return b.breaker.State().String() }

// do returns the call outcome alongside the error.
func (b *HTTPServiceBase) do(ctx context.Context, opts *xhttp.RequestOptions, dest any) (string, error) {
	if b.baseURL == "" {
		return OutcomeError, fmt.Errorf("%w: no url configured", models.ErrModelServiceUnavailable)
	}
	if !b.limiter.Allow() {
		return OutcomeRateLimited, fmt.Errorf("%w: rate limited", models.ErrModelServiceUnavailable)
	}
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, b.client.SendAndParse(ctx, opts, dest)
	})
	switch {
	case err == nil:
		return OutcomeOK, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return OutcomeBreakerOpen, fmt.Errorf("%w: %s %s: %w", models.ErrModelServiceUnavailable, opts.Method, opts.URL, err)
	default:
		return OutcomeError, fmt.Errorf("%w: %s %s: %w", models.ErrModelServiceUnavailable, opts.Method, opts.URL, err)
	}
}
