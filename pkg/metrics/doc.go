// Package metrics provides Prometheus instrumentation for distbucket components.
//
// A Registry groups the collectors used by the distributed rate limiter
// decorator (distributed.MetricsLimiter) and the benchmark worker pool.
// Create one per Prometheus registerer; registering two registries with the
// same namespace on one registerer panics.
//
//	reg := prometheus.NewRegistry()
//	m := metrics.NewRegistry(reg)
//	limiter := distributed.NewMetricsLimiter(inner, "api", m)
//
// Then expose metrics via HTTP:
//
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
//
// # Available Metrics
//
//   - distbucket_ratelimit_requests_total: consume attempts
//   - distbucket_ratelimit_allowed_total: allowed requests
//   - distbucket_ratelimit_denied_total: denied requests
//   - distbucket_ratelimit_errors_total: attempts that ended in an error, by reason
//   - distbucket_ratelimit_store_attempts: store round trips per decision
//   - distbucket_ratelimit_decision_duration_seconds: time to reach a decision
//   - distbucket_ratelimit_tokens_remaining: tokens left after the last decision
//   - distbucket_workerpool_size, _active_workers, _queued_tasks
//   - distbucket_workerpool_tasks_completed_total, _tasks_failed_total
//
// Rate limiting metrics are labeled with strategy ("script" or "cas") and
// limiter_name. Errors carry a reason label: "unavailable", "bad_script",
// "contention", "corrupt_state", "canceled" or "other".
//
// The namespace and constant labels can be changed with Config:
//
//	m := metrics.NewRegistryWithConfig(metrics.Config{
//		Enabled:   true,
//		Registry:  reg,
//		Namespace: "myapp",
//		Labels:    prometheus.Labels{"region": "eu"},
//	})
package metrics
