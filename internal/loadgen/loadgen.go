// Package loadgen drives distributed rate limiters with concurrent callers
// and summarizes what they decided. It mirrors the contended and
// non-contended benchmark scenarios: every worker either shares one bucket or
// owns its own.
package loadgen

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vnykmshr/distbucket/internal/workerpool"
	dberrors "github.com/vnykmshr/distbucket/pkg/common/errors"
	"github.com/vnykmshr/distbucket/pkg/common/validation"
	"github.com/vnykmshr/distbucket/pkg/metrics"
	"github.com/vnykmshr/distbucket/pkg/ratelimit/bucket"
	"github.com/vnykmshr/distbucket/pkg/ratelimit/distributed"
)

// LimiterFactory creates the limiter for one bucket key.
type LimiterFactory func(key string) (distributed.Limiter, error)

// Config holds the parameters of a run.
type Config struct {
	// NewLimiter creates a limiter per distinct key.
	NewLimiter LimiterFactory

	Scenario Scenario

	// RunID identifies the run (defaults to a random UUID).
	RunID string

	// Prefix is prepended to every key (defaults to "bench:<run id>:").
	Prefix string

	// Workers is the number of concurrent callers (defaults to 16).
	Workers int

	// Duration stops the run after this long. Requests stops it after that
	// many calls. At least one must be set; whichever comes first wins.
	Duration time.Duration
	Requests int64

	// Report is a cron spec for progress log lines, such as "@every 1s".
	// Empty disables reporting.
	Report string

	// Metrics receives worker pool metrics when set.
	Metrics *metrics.Registry

	Logger *zap.Logger
}

// Runner executes one load run.
type Runner struct {
	config Config
	log    *zap.Logger

	requests atomic.Int64
	allowed  atomic.Int64
	denied   atomic.Int64
	failed   atomic.Int64
}

// New validates config and returns a runner.
func New(config Config) (*Runner, error) {
	if config.NewLimiter == nil {
		return nil, dberrors.NewValidationError("loadgen", "limiter factory", nil, "cannot be nil")
	}
	if config.Workers == 0 {
		config.Workers = 16
	}
	if err := validation.ValidatePositive("loadgen", "workers", int64(config.Workers)); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegative("loadgen", "requests", config.Requests); err != nil {
		return nil, err
	}
	if config.Duration <= 0 && config.Requests == 0 {
		return nil, dberrors.NewValidationError("loadgen", "duration", config.Duration, "set a duration or a request budget")
	}
	if config.Report != "" {
		if _, err := cron.ParseStandard(config.Report); err != nil {
			return nil, dberrors.NewValidationError("loadgen", "report", config.Report, err.Error())
		}
	}
	if config.RunID == "" {
		config.RunID = uuid.NewString()
	}
	if config.Prefix == "" {
		config.Prefix = "bench:" + config.RunID + ":"
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Runner{
		config: config,
		log:    config.Logger.With(zap.String("run", config.RunID), zap.Stringer("scenario", config.Scenario)),
	}, nil
}

// Keys returns the bucket keys the run uses.
func (r *Runner) Keys() []string {
	return r.config.Scenario.Keys(r.config.Prefix, r.config.Workers)
}

// request is one TryConsume call executed by the pool. The limiter is
// picked by the worker that runs it, so worker i only ever calls
// limiters[i] when there is one limiter per worker.
type request struct {
	limiters []distributed.Limiter
	decision bucket.Decision
}

func (q *request) Execute(ctx context.Context) error {
	worker, _ := workerpool.WorkerID(ctx)
	d, err := q.limiters[worker%len(q.limiters)].TryConsume(ctx, 1)
	q.decision = d
	return err
}

// Run resets the run's keys, then issues requests until the duration or
// request budget is spent. Canceling ctx ends the run early and returns the
// partial summary with ctx's error.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	limiters, err := r.prepare(ctx)
	if err != nil {
		return Summary{}, err
	}

	pool, err := workerpool.New(workerpool.Config{
		Name:        "loadgen",
		WorkerCount: r.config.Workers,
		QueueSize:   r.config.Workers,
		Metrics:     r.config.Metrics,
		Logger:      r.log,
	})
	if err != nil {
		return Summary{}, err
	}

	stop, err := r.startReporter()
	if err != nil {
		<-pool.Shutdown()
		return Summary{}, err
	}
	defer stop()

	r.log.Info("load run started",
		zap.Int("workers", r.config.Workers),
		zap.Int("keys", len(limiters)),
		zap.Duration("duration", r.config.Duration),
		zap.Int64("requests", r.config.Requests))

	start := time.Now()
	go r.produce(ctx, pool, limiters)

	summary := r.collect(pool)
	summary.Elapsed = time.Since(start)

	r.log.Info("load run finished",
		zap.Int64("requests", summary.Requests),
		zap.Int64("allowed", summary.Allowed),
		zap.Int64("denied", summary.Denied),
		zap.Int64("errors", summary.ErrorCount()),
		zap.Duration("p99", summary.P99))

	return summary, ctx.Err()
}

// prepare creates one limiter per key and deletes any state left under
// those keys, so every run starts from full buckets.
func (r *Runner) prepare(ctx context.Context) ([]distributed.Limiter, error) {
	keys := r.Keys()
	limiters := make([]distributed.Limiter, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Workers)
	for i, key := range keys {
		g.Go(func() error {
			l, err := r.config.NewLimiter(key)
			if err != nil {
				return err
			}
			if err := l.Reset(gctx); err != nil {
				return err
			}
			limiters[i] = l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return limiters, nil
}

// produce submits requests until the run ends, then shuts the pool down.
func (r *Runner) produce(ctx context.Context, pool *workerpool.Pool, limiters []distributed.Limiter) {
	defer pool.Shutdown()

	runCtx := ctx
	if r.config.Duration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.config.Duration)
		defer cancel()
	}

	for i := int64(0); r.config.Requests == 0 || i < r.config.Requests; i++ {
		if runCtx.Err() != nil {
			return
		}
		q := &request{limiters: limiters}
		// queued work keeps the caller's context so the run deadline does not
		// cancel calls already in flight
		if err := pool.SubmitWithContext(ctx, q); err != nil {
			if !errors.Is(err, context.Canceled) {
				r.log.Warn("submit failed", zap.Error(err))
			}
			return
		}
	}
}

// collect drains the pool results into a summary.
func (r *Runner) collect(pool *workerpool.Pool) Summary {
	s := Summary{
		RunID:    r.config.RunID,
		Scenario: r.config.Scenario,
		Workers:  r.config.Workers,
		Errors:   make(map[string]int64),
	}

	var latencies []time.Duration
	for res := range pool.Results() {
		r.requests.Add(1)
		latencies = append(latencies, res.Duration)

		if res.Error != nil {
			r.failed.Add(1)
			s.Errors[distributed.Reason(res.Error)]++
			continue
		}

		d := res.Task.(*request).decision
		s.Attempts += int64(d.Attempts)
		if d.Attempts > s.MaxAttempts {
			s.MaxAttempts = d.Attempts
		}
		if d.Allowed {
			r.allowed.Add(1)
		} else {
			r.denied.Add(1)
		}
	}

	s.Requests = r.requests.Load()
	s.Allowed = r.allowed.Load()
	s.Denied = r.denied.Load()
	s.P50, s.P90, s.P99 = percentiles(latencies)
	return s
}

// startReporter logs progress on the configured schedule. The returned
// function stops it.
func (r *Runner) startReporter() (func(), error) {
	if r.config.Report == "" {
		return func() {}, nil
	}

	c := cron.New()
	var last atomic.Int64
	_, err := c.AddFunc(r.config.Report, func() {
		n := r.requests.Load()
		r.log.Info("progress",
			zap.Int64("requests", n),
			zap.Int64("delta", n-last.Swap(n)),
			zap.Int64("allowed", r.allowed.Load()),
			zap.Int64("denied", r.denied.Load()),
			zap.Int64("errors", r.failed.Load()))
	})
	if err != nil {
		return nil, err
	}
	c.Start()

	return func() { <-c.Stop().Done() }, nil
}
