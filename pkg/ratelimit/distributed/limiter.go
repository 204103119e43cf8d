package distributed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	dberrors "github.com/vnykmshr/distbucket/pkg/common/errors"
	"github.com/vnykmshr/distbucket/pkg/common/validation"
	"github.com/vnykmshr/distbucket/pkg/ratelimit/bucket"
	"github.com/vnykmshr/distbucket/pkg/store"
)

// Limiter decides whether tokens may be taken from one shared bucket.
type Limiter interface {
	// TryConsume attempts to take n tokens. A denial is a normal Decision,
	// not an error; errors mean no decision could be reached.
	TryConsume(ctx context.Context, n int64) (bucket.Decision, error)

	// Reset deletes the bucket state, refilling it on next use.
	Reset(ctx context.Context) error

	// Key returns the store key of the bucket.
	Key() string
}

// Config holds configuration for distributed rate limiters.
type Config struct {
	// Store holds the bucket state. AtomicScript needs a store.ScriptClient,
	// CompareAndSwap a store.VersionedClient.
	Store store.Client

	// Key identifies the bucket in the store
	Key string

	// Bucket is the token bucket shape, applied on every call
	Bucket bucket.Configuration

	// KeyTTL is how long idle bucket state lives (defaults to 1 hour,
	// negative disables expiry). It is raised to the time an empty bucket
	// takes to refill completely, and buckets that never refill never
	// expire, since expired state comes back as a full bucket.
	KeyTTL time.Duration

	// StoreTimeout bounds each TryConsume call (defaults to 500ms)
	StoreTimeout time.Duration

	// MaxAttempts bounds compare-and-swap retries (defaults to 1000)
	MaxAttempts int

	// Backoff spaces compare-and-swap retries (disabled by default)
	Backoff Backoff

	// Clock supplies the time for client-side refill (defaults to the
	// system clock). Script execution always uses the store's clock.
	Clock bucket.Clock

	// Logger receives conflict and re-registration events (defaults to a
	// no-op logger)
	Logger *zap.Logger
}

// DefaultConfig returns a default distributed rate limiter configuration.
func DefaultConfig() Config {
	return Config{
		KeyTTL:       time.Hour,
		StoreTimeout: 500 * time.Millisecond,
		MaxAttempts:  1000,
		Clock:        bucket.SystemClock{},
		Logger:       zap.NewNop(),
	}
}

// Strategy selects how a decision is made atomically.
type Strategy int

const (
	// AtomicScript runs the whole decision as one script on the store.
	AtomicScript Strategy = iota

	// CompareAndSwap decides on the client and commits with a conditional
	// write, retrying on conflict.
	CompareAndSwap
)

func (s Strategy) String() string {
	switch s {
	case AtomicScript:
		return "script"
	case CompareAndSwap:
		return "cas"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy returns the strategy named s ("script" or "cas").
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "script", "atomic-script":
		return AtomicScript, nil
	case "cas", "compare-and-swap":
		return CompareAndSwap, nil
	default:
		return 0, &ConfigError{"unknown strategy " + s}
	}
}

// consumer is the operation both strategies implement.
type consumer interface {
	TryConsume(ctx context.Context, key string, cfg bucket.Configuration, n int64) (bucket.Decision, error)
}

// RateLimiter binds a key and bucket configuration to a strategy over a
// store. It is safe for concurrent use; all shared state lives in the store.
type RateLimiter struct {
	config   Config
	strategy Strategy
	consumer consumer
}

var _ Limiter = (*RateLimiter)(nil)

// NewRateLimiter creates a rate limiter using strategy. For AtomicScript the
// script is registered before returning.
func NewRateLimiter(strategy Strategy, config Config) (*RateLimiter, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	config = applyConfigDefaults(config)

	rl := &RateLimiter{config: config, strategy: strategy}

	switch strategy {
	case AtomicScript:
		client, ok := config.Store.(store.ScriptClient)
		if !ok {
			return nil, &ConfigError{"atomic script strategy needs a store that runs scripts"}
		}
		s := NewScriptStrategy(client, config.options())
		if err := s.initialize(config.StoreTimeout); err != nil {
			return nil, fmt.Errorf("failed to register script: %w", err)
		}
		rl.consumer = s
	case CompareAndSwap:
		client, ok := config.Store.(store.VersionedClient)
		if !ok {
			return nil, &ConfigError{"compare-and-swap strategy needs a store with conditional writes"}
		}
		rl.consumer = NewCASStrategy(client, config.options())
	default:
		return nil, &ConfigError{"unsupported strategy " + strategy.String()}
	}

	return rl, nil
}

// TryConsume attempts to take n tokens from the bucket. n must be positive;
// invalid requests fail with ErrInvalidRequest before touching the store.
func (rl *RateLimiter) TryConsume(ctx context.Context, n int64) (bucket.Decision, error) {
	if n <= 0 {
		return bucket.Decision{}, dberrors.NewRequestError("distributed", "tokens", n, "must be positive")
	}

	ctx, cancel := context.WithTimeout(ctx, rl.config.StoreTimeout)
	defer cancel()

	return rl.consumer.TryConsume(ctx, rl.config.Key, rl.config.Bucket, n)
}

// Reset deletes the bucket state.
func (rl *RateLimiter) Reset(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, rl.config.StoreTimeout)
	defer cancel()

	if err := rl.config.Store.Delete(ctx, rl.config.Key); err != nil {
		return &ConsumeError{Key: rl.config.Key, Strategy: rl.strategy, Err: err}
	}
	return nil
}

// Expire makes the bucket state expire after ttl, overriding KeyTTL until
// the next allowed request.
func (rl *RateLimiter) Expire(ctx context.Context, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, rl.config.StoreTimeout)
	defer cancel()

	if err := rl.config.Store.SetExpiry(ctx, rl.config.Key, ttl); err != nil {
		return &ConsumeError{Key: rl.config.Key, Strategy: rl.strategy, Err: err}
	}
	return nil
}

// Key returns the store key of the bucket.
func (rl *RateLimiter) Key() string {
	return rl.config.Key
}

// Configuration returns the bucket configuration applied on every call.
func (rl *RateLimiter) Configuration() bucket.Configuration {
	return rl.config.Bucket
}

// Strategy returns the strategy the limiter uses.
func (rl *RateLimiter) Strategy() Strategy {
	return rl.strategy
}

// Options configures a strategy used directly, without a RateLimiter.
type Options struct {
	KeyTTL      time.Duration
	MaxAttempts int
	Backoff     Backoff
	Clock       bucket.Clock
	Logger      *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1000
	}
	if o.Clock == nil {
		o.Clock = bucket.SystemClock{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// keyTTL returns the expiry for the state of a bucket shaped by cfg, or zero
// for none.
func keyTTL(ttl time.Duration, cfg bucket.Configuration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	full := cfg.TimeToFull()
	if full == bucket.Never {
		return 0
	}
	if ttl < full {
		return full
	}
	return ttl
}

func (c Config) options() Options {
	return Options{
		KeyTTL:      c.KeyTTL,
		MaxAttempts: c.MaxAttempts,
		Backoff:     c.Backoff,
		Clock:       c.Clock,
		Logger:      c.Logger.With(zap.String("key", c.Key)),
	}
}

// validateConfig validates the limiter configuration.
func validateConfig(config Config) error {
	if err := validation.ValidateNotNil("distributed", "store", config.Store); err != nil {
		return &ConfigError{"store is required"}
	}
	if err := validation.ValidateNotEmpty("distributed", "key", config.Key); err != nil {
		return &ConfigError{"key is required"}
	}
	if err := config.Bucket.Validate(); err != nil {
		return &ConfigError{err.Error()}
	}
	if config.MaxAttempts < 0 {
		return &ConfigError{"max attempts cannot be negative"}
	}
	if config.StoreTimeout < 0 {
		return &ConfigError{"store timeout cannot be negative"}
	}
	if config.Backoff.Min < 0 || config.Backoff.Max < 0 {
		return &ConfigError{"backoff delays cannot be negative"}
	}
	return nil
}

// applyConfigDefaults sets default values for unspecified config fields.
func applyConfigDefaults(config Config) Config {
	if config.KeyTTL == 0 {
		config.KeyTTL = time.Hour
	}
	if config.StoreTimeout == 0 {
		config.StoreTimeout = 500 * time.Millisecond
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 1000
	}
	if config.Clock == nil {
		config.Clock = bucket.SystemClock{}
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return config
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return "distributed rate limiter config error: " + e.Message
}

// Unwrap lets ConfigError match ErrInvalidConfiguration.
func (e *ConfigError) Unwrap() error {
	return dberrors.ErrInvalidConfiguration
}

// ConsumeError describes a consume attempt that reached no decision.
type ConsumeError struct {
	Key      string
	Strategy Strategy
	Attempts int
	Err      error
}

func (e *ConsumeError) Error() string {
	return fmt.Sprintf("distributed %s limiter %q failed after %d attempt(s): %v",
		e.Strategy, e.Key, e.Attempts, e.Err)
}

func (e *ConsumeError) Unwrap() error {
	return e.Err
}

// Reason returns a short label for metrics describing why the attempt failed.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, dberrors.ErrContentionExceeded):
		return "contention"
	case errors.Is(err, dberrors.ErrBadScript):
		return "bad_script"
	case errors.Is(err, dberrors.ErrCorruptState):
		return "corrupt_state"
	case errors.Is(err, dberrors.ErrStoreUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, dberrors.ErrInvalidRequest):
		return "invalid_request"
	default:
		return "other"
	}
}
