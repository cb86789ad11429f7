package entsoe

import (
	"context"
	"time"

	"github.com/sells-group/gensync/internal/resilience"
)

// retrying wraps a Source with a bounded retry policy.
type retrying struct {
	next Source
	cfg  resilience.RetryConfig
}

// WithRetry decorates src so transient failures are retried under cfg.
// Permanent failures (bad token, bad request) are returned at once.
func WithRetry(src Source, cfg resilience.RetryConfig) Source {
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("entsoe", "generation_per_unit")
	}
	return &retrying{next: src, cfg: cfg}
}

func (r *retrying) GenerationPerUnit(ctx context.Context, area string, start, end time.Time) ([]Series, error) {
	return resilience.DoVal(ctx, r.cfg, func(ctx context.Context) ([]Series, error) {
		return r.next.GenerationPerUnit(ctx, area, start, end)
	})
}
