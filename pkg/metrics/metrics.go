// Package metrics provides Prometheus instrumentation for distbucket components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all metric instances for distbucket components.
type Registry struct {
	// Rate Limiting Metrics
	RateLimitRequests  *prometheus.CounterVec
	RateLimitAllowed   *prometheus.CounterVec
	RateLimitDenied    *prometheus.CounterVec
	RateLimitErrors    *prometheus.CounterVec
	RateLimitAttempts  *prometheus.HistogramVec
	RateLimitLatency   *prometheus.HistogramVec
	RateLimitRemaining *prometheus.GaugeVec

	// Worker Pool Metrics
	WorkerPoolSize   *prometheus.GaugeVec
	WorkerPoolActive *prometheus.GaugeVec
	WorkerPoolQueued *prometheus.GaugeVec
	TasksCompleted   *prometheus.CounterVec
	TasksFailed      *prometheus.CounterVec
}

// NewRegistry creates a new metrics registry with the given Prometheus
// registerer and the default namespace.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return NewRegistryWithConfig(Config{Enabled: true, Registry: reg})
}

// NewRegistryWithConfig creates a registry honoring the namespace and
// constant labels of config. A nil config.Registry registers nowhere.
func NewRegistryWithConfig(config Config) *Registry {
	factory := promauto.With(config.Registry)

	ns := config.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	limiterLabels := []string{"strategy", "limiter_name"}

	return &Registry{
		RateLimitRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "ratelimit",
				Name:        "requests_total",
				Help:        "Total number of consume attempts",
				ConstLabels: config.Labels,
			},
			limiterLabels,
		),

		RateLimitAllowed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "ratelimit",
				Name:        "allowed_total",
				Help:        "Total number of allowed requests",
				ConstLabels: config.Labels,
			},
			limiterLabels,
		),

		RateLimitDenied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "ratelimit",
				Name:        "denied_total",
				Help:        "Total number of denied requests",
				ConstLabels: config.Labels,
			},
			limiterLabels,
		),

		RateLimitErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "ratelimit",
				Name:        "errors_total",
				Help:        "Total number of consume attempts that failed without a decision",
				ConstLabels: config.Labels,
			},
			[]string{"strategy", "limiter_name", "reason"},
		),

		RateLimitAttempts: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   ns,
				Subsystem:   "ratelimit",
				Name:        "store_attempts",
				Help:        "Store round trips needed to reach a decision",
				Buckets:     prometheus.ExponentialBuckets(1, 2, 11),
				ConstLabels: config.Labels,
			},
			limiterLabels,
		),

		RateLimitLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   ns,
				Subsystem:   "ratelimit",
				Name:        "decision_duration_seconds",
				Help:        "Time spent reaching a decision",
				Buckets:     prometheus.ExponentialBuckets(0.0001, 2, 16),
				ConstLabels: config.Labels,
			},
			limiterLabels,
		),

		RateLimitRemaining: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   "ratelimit",
				Name:        "tokens_remaining",
				Help:        "Tokens left in the bucket after the last decision",
				ConstLabels: config.Labels,
			},
			limiterLabels,
		),

		WorkerPoolSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   "workerpool",
				Name:        "size",
				Help:        "Current worker pool size",
				ConstLabels: config.Labels,
			},
			[]string{"pool_name"},
		),

		WorkerPoolActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   "workerpool",
				Name:        "active_workers",
				Help:        "Number of active workers",
				ConstLabels: config.Labels,
			},
			[]string{"pool_name"},
		),

		WorkerPoolQueued: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   "workerpool",
				Name:        "queued_tasks",
				Help:        "Number of queued tasks",
				ConstLabels: config.Labels,
			},
			[]string{"pool_name"},
		),

		TasksCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "workerpool",
				Name:        "tasks_completed_total",
				Help:        "Total number of tasks completed successfully",
				ConstLabels: config.Labels,
			},
			[]string{"pool_name"},
		),

		TasksFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "workerpool",
				Name:        "tasks_failed_total",
				Help:        "Total number of tasks that failed",
				ConstLabels: config.Labels,
			},
			[]string{"pool_name"},
		),
	}
}
