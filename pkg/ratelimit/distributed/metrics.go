package distributed

import (
	"context"
	"time"

	"github.com/vnykmshr/distbucket/pkg/metrics"
	"github.com/vnykmshr/distbucket/pkg/ratelimit/bucket"
)

// MetricsLimiter wraps a RateLimiter and records Prometheus metrics for
// every decision.
type MetricsLimiter struct {
	*RateLimiter
	name    string
	metrics *metrics.Registry
}

var _ Limiter = (*MetricsLimiter)(nil)

// NewMetricsLimiter wraps limiter. name becomes the limiter_name label.
func NewMetricsLimiter(limiter *RateLimiter, name string, registry *metrics.Registry) *MetricsLimiter {
	return &MetricsLimiter{
		RateLimiter: limiter,
		name:        name,
		metrics:     registry,
	}
}

// NewWithMetrics creates a RateLimiter and wraps it with metrics registered
// on registry.
func NewWithMetrics(strategy Strategy, config Config, name string, registry *metrics.Registry) (*MetricsLimiter, error) {
	rl, err := NewRateLimiter(strategy, config)
	if err != nil {
		return nil, err
	}
	return NewMetricsLimiter(rl, name, registry), nil
}

// TryConsume attempts to take n tokens and records the outcome.
func (ml *MetricsLimiter) TryConsume(ctx context.Context, n int64) (bucket.Decision, error) {
	strategy := ml.Strategy().String()
	start := time.Now()

	d, err := ml.RateLimiter.TryConsume(ctx, n)

	ml.metrics.RateLimitRequests.WithLabelValues(strategy, ml.name).Inc()
	ml.metrics.RateLimitLatency.WithLabelValues(strategy, ml.name).Observe(time.Since(start).Seconds())

	if err != nil {
		ml.metrics.RateLimitErrors.WithLabelValues(strategy, ml.name, Reason(err)).Inc()
		return d, err
	}

	ml.metrics.RateLimitAttempts.WithLabelValues(strategy, ml.name).Observe(float64(d.Attempts))
	ml.metrics.RateLimitRemaining.WithLabelValues(strategy, ml.name).Set(float64(d.Remaining))
	if d.Allowed {
		ml.metrics.RateLimitAllowed.WithLabelValues(strategy, ml.name).Inc()
	} else {
		ml.metrics.RateLimitDenied.WithLabelValues(strategy, ml.name).Inc()
	}
	return d, nil
}

// Name returns the limiter_name label value.
func (ml *MetricsLimiter) Name() string {
	return ml.name
}
