// Command bucketbench measures distributed rate limiter throughput and
// contention against a real store.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vnykmshr/distbucket/internal/loadgen"
	"github.com/vnykmshr/distbucket/pkg/metrics"
	"github.com/vnykmshr/distbucket/pkg/ratelimit/bucket"
	"github.com/vnykmshr/distbucket/pkg/ratelimit/distributed"
	"github.com/vnykmshr/distbucket/pkg/store"
)

var (
	rootCmd = &cobra.Command{
		Use:          "bucketbench",
		Short:        "Load test a distributed token bucket",
		SilenceUsage: true,
		RunE:         runCommand,
	}
	config Config
)

// Config holds flags' values.
type Config struct {
	Backend      string
	Addr         []string
	BadgerPath   string
	GCSBucket    string
	GCSKeyFile   string
	Strategy     string
	Scenario     string
	Workers      int
	Duration     time.Duration
	Requests     int64
	Capacity     int64
	RefillTokens int64
	RefillPeriod time.Duration
	TTL          time.Duration
	MaxAttempts  int
	BackoffMin   time.Duration
	Timeout      time.Duration
	Report       string
	MetricsAddr  string
	LogLevel     string
}

func (config *Config) bindFlags(set *pflag.FlagSet) {
	set.StringVar(&config.Backend, "backend", "redis", "store backend: redis, rueidis, badger or gcs")
	set.StringSliceVar(&config.Addr, "addr", []string{"localhost:6379"}, "redis endpoints; more than one selects cluster mode")
	set.StringVar(&config.BadgerPath, "badger-path", "", "badger data directory; empty runs in memory")
	set.StringVar(&config.GCSBucket, "gcs-bucket", "", "Cloud Storage bucket for the gcs backend")
	set.StringVar(&config.GCSKeyFile, "gcs-key-file", "", "service account key file for the gcs backend")
	set.StringVar(&config.Strategy, "strategy", "script", "decision strategy: script or cas")
	set.StringVar(&config.Scenario, "scenario", "contended", "key layout: contended or non-contended")
	set.IntVar(&config.Workers, "workers", 16, "number of concurrent callers")
	set.DurationVar(&config.Duration, "duration", 10*time.Second, "how long to run")
	set.Int64Var(&config.Requests, "requests", 0, "stop after this many requests (0 runs for --duration)")
	set.Int64Var(&config.Capacity, "capacity", 5000, "bucket capacity")
	set.Int64Var(&config.RefillTokens, "refill-tokens", 5000, "tokens added every refill period")
	set.DurationVar(&config.RefillPeriod, "refill-period", time.Second, "refill period")
	set.DurationVar(&config.TTL, "ttl", 30*time.Second, "idle bucket expiry")
	set.IntVar(&config.MaxAttempts, "max-attempts", 1000, "compare-and-swap attempts before giving up")
	set.DurationVar(&config.BackoffMin, "backoff", 0, "first delay between compare-and-swap retries (0 retries immediately)")
	set.DurationVar(&config.Timeout, "timeout", 500*time.Millisecond, "deadline for each decision")
	set.StringVar(&config.Report, "report", "@every 1s", "cron spec for progress lines; empty disables")
	set.StringVar(&config.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	set.StringVar(&config.LogLevel, "log-level", "info", "log level: debug, info, warn or error")
}

// VerifyFlags verifies whether flags have correct values and reports any error
// encountered.
func (config *Config) VerifyFlags() error {
	var errlist errs.Group

	switch config.Backend {
	case "redis", "rueidis":
		if len(config.Addr) == 0 {
			errlist.Add(errors.New("addr must be set"))
		}
	case "badger":
		if config.Strategy != "cas" {
			errlist.Add(errors.New("badger backend supports only the cas strategy"))
		}
	case "gcs":
		if config.Strategy != "cas" {
			errlist.Add(errors.New("gcs backend supports only the cas strategy"))
		}
		if config.GCSBucket == "" || config.GCSKeyFile == "" {
			errlist.Add(errors.New("gcs-bucket and gcs-key-file must be set"))
		}
	default:
		errlist.Add(fmt.Errorf("unknown backend %q", config.Backend))
	}
	if _, err := distributed.ParseStrategy(config.Strategy); err != nil {
		errlist.Add(err)
	}
	if _, err := loadgen.ParseScenario(config.Scenario); err != nil {
		errlist.Add(err)
	}
	if config.Workers < 1 {
		errlist.Add(errors.New("workers must be positive"))
	}
	if config.Duration <= 0 && config.Requests <= 0 {
		errlist.Add(errors.New("duration or requests must be positive"))
	}
	if err := config.bucket().Validate(); err != nil {
		errlist.Add(err)
	}
	if config.MaxAttempts < 1 {
		errlist.Add(errors.New("max-attempts must be positive"))
	}
	if _, err := zapcore.ParseLevel(config.LogLevel); err != nil {
		errlist.Add(err)
	}

	return errlist.Err()
}

func (config *Config) bucket() bucket.Configuration {
	return bucket.Configuration{
		Capacity:     config.Capacity,
		RefillTokens: config.RefillTokens,
		RefillPeriod: config.RefillPeriod,
	}
}

func init() {
	config.bindFlags(rootCmd.Flags())
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runCommand(cmd *cobra.Command, _ []string) (err error) {
	if err := config.VerifyFlags(); err != nil {
		return err
	}

	log, err := newLogger(config.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx := cmd.Context()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.NewRegistry(registry)

	if config.MetricsAddr != "" {
		stop := serveMetrics(log, config.MetricsAddr, registry)
		defer stop()
	}

	s, closeStore, err := openStore(ctx, log, &config)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, closeStore()) }()

	summary, err := run(ctx, log, &config, s, m)
	printSummary(cmd.OutOrStdout(), summary)
	return err
}

// run executes one load run with limiters over s.
func run(ctx context.Context, log *zap.Logger, config *Config, s store.Client, m *metrics.Registry) (loadgen.Summary, error) {
	strategy, err := distributed.ParseStrategy(config.Strategy)
	if err != nil {
		return loadgen.Summary{}, err
	}
	scenario, err := loadgen.ParseScenario(config.Scenario)
	if err != nil {
		return loadgen.Summary{}, err
	}

	factory := func(key string) (distributed.Limiter, error) {
		return distributed.NewWithMetrics(strategy, distributed.Config{
			Store:        s,
			Key:          key,
			Bucket:       config.bucket(),
			KeyTTL:       config.TTL,
			StoreTimeout: config.Timeout,
			MaxAttempts:  config.MaxAttempts,
			Backoff:      distributed.Backoff{Min: config.BackoffMin},
			Logger:       log,
		}, strategy.String()+"/"+scenario.String(), m)
	}

	runner, err := loadgen.New(loadgen.Config{
		NewLimiter: factory,
		Scenario:   scenario,
		Workers:    config.Workers,
		Duration:   config.Duration,
		Requests:   config.Requests,
		Report:     config.Report,
		Metrics:    m,
		Logger:     log,
	})
	if err != nil {
		return loadgen.Summary{}, err
	}

	summary, err := runner.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Warn("interrupted, partial results follow")
		err = nil
	}
	return summary, err
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = lvl
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// serveMetrics exposes registry over HTTP until the returned function is
// called.
func serveMetrics(log *zap.Logger, addr string, registry *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("serving metrics", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}

func printSummary(w io.Writer, s loadgen.Summary) {
	if s.Requests == 0 {
		return
	}
	for i, line := range strings.Split(s.String(), "\n") {
		switch {
		case i == 0:
			_, _ = color.New(color.Bold).Fprintln(w, line)
		case strings.HasPrefix(line, "  error"):
			_, _ = color.New(color.FgRed).Fprintln(w, line)
		default:
			_, _ = fmt.Fprintln(w, line)
		}
	}
}
