package distributed

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/distbucket/internal/testutil"
	dberrors "github.com/vnykmshr/distbucket/pkg/common/errors"
	"github.com/vnykmshr/distbucket/pkg/ratelimit/bucket"
	"github.com/vnykmshr/distbucket/pkg/store"
	"github.com/vnykmshr/distbucket/pkg/store/redisstore"
)

var tenPerSecond = bucket.Configuration{Capacity: 10, RefillTokens: 10, RefillPeriod: time.Second}

func newRedisStore(t *testing.T) (*miniredis.Miniredis, *redisstore.Store) {
	t.Helper()
	mr, client := testutil.NewRedis(t)
	s, err := redisstore.New(client)
	require.NoError(t, err)
	return mr, s
}

func testConfig(t *testing.T, s store.Client, key string, cfg bucket.Configuration) Config {
	t.Helper()
	return Config{
		Store:        s,
		Key:          key,
		Bucket:       cfg,
		StoreTimeout: testutil.TestTimeout,
		Logger:       testutil.Logger(t),
	}
}

func TestNewRateLimiterValidation(t *testing.T) {
	_, rs := newRedisStore(t)

	tests := []struct {
		name     string
		strategy Strategy
		config   Config
	}{
		{"missing store", AtomicScript, Config{Key: "k", Bucket: tenPerSecond}},
		{"missing key", AtomicScript, Config{Store: rs, Bucket: tenPerSecond}},
		{"invalid bucket", AtomicScript, Config{Store: rs, Key: "k", Bucket: bucket.Configuration{Capacity: 0, RefillPeriod: time.Second}}},
		{"capacity beyond exact range", AtomicScript, Config{Store: rs, Key: "k", Bucket: bucket.Configuration{Capacity: bucket.MaxTokens + 1, RefillTokens: 1, RefillPeriod: time.Second}}},
		{"negative attempts", CompareAndSwap, Config{Store: rs, Key: "k", Bucket: tenPerSecond, MaxAttempts: -1}},
		{"negative backoff", CompareAndSwap, Config{Store: rs, Key: "k", Bucket: tenPerSecond, Backoff: Backoff{Min: -1}}},
		{"script on versioned-only store", AtomicScript, Config{Store: &testutil.ConflictingStore{}, Key: "k", Bucket: tenPerSecond}},
		{"unknown strategy", Strategy(7), Config{Store: rs, Key: "k", Bucket: tenPerSecond}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRateLimiter(tt.strategy, tt.config)
			require.Error(t, err)

			var cerr *ConfigError
			assert.True(t, errors.As(err, &cerr), "got %T: %v", err, err)
			assert.ErrorIs(t, err, dberrors.ErrInvalidConfiguration)
		})
	}
}

func TestApplyConfigDefaults(t *testing.T) {
	c := applyConfigDefaults(Config{})
	def := DefaultConfig()

	assert.Equal(t, def.KeyTTL, c.KeyTTL)
	assert.Equal(t, def.StoreTimeout, c.StoreTimeout)
	assert.Equal(t, def.MaxAttempts, c.MaxAttempts)
	assert.NotNil(t, c.Clock)
	assert.NotNil(t, c.Logger)
	assert.False(t, c.Backoff.Enabled())

	c = applyConfigDefaults(Config{KeyTTL: -1})
	assert.Equal(t, time.Duration(-1), c.KeyTTL, "negative TTL disables expiry")
}

func TestStrategyNames(t *testing.T) {
	for _, s := range []Strategy{AtomicScript, CompareAndSwap} {
		parsed, err := ParseStrategy(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	_, err := ParseStrategy("sliding-window")
	assert.ErrorIs(t, err, dberrors.ErrInvalidConfiguration)
	assert.Equal(t, "Strategy(9)", Strategy(9).String())
}

func TestTryConsumeRejectsNonPositiveWithoutIO(t *testing.T) {
	for _, strategy := range []Strategy{AtomicScript, CompareAndSwap} {
		t.Run(strategy.String(), func(t *testing.T) {
			s := testutil.NewCountingStore(1, 9, 0)
			rl, err := NewRateLimiter(strategy, testConfig(t, s, "k", tenPerSecond))
			require.NoError(t, err)

			before := s.Calls()
			for _, n := range []int64{0, -1, -100} {
				_, err := rl.TryConsume(context.Background(), n)
				require.Error(t, err)
				assert.ErrorIs(t, err, dberrors.ErrInvalidRequest)
				assert.NotErrorIs(t, err, dberrors.ErrInvalidConfiguration)
			}
			assert.Equal(t, before, s.Calls(), "invalid requests must not reach the store")
		})
	}
}

func TestRateLimiterAccessors(t *testing.T) {
	_, rs := newRedisStore(t)
	rl, err := NewRateLimiter(CompareAndSwap, testConfig(t, rs, "api", tenPerSecond))
	require.NoError(t, err)

	assert.Equal(t, "api", rl.Key())
	assert.Equal(t, tenPerSecond, rl.Configuration())
	assert.Equal(t, CompareAndSwap, rl.Strategy())
}

func TestResetRefillsBucket(t *testing.T) {
	for _, strategy := range []Strategy{AtomicScript, CompareAndSwap} {
		t.Run(strategy.String(), func(t *testing.T) {
			mr, rs := newRedisStore(t)
			ctx := testutil.Context(t)

			rl, err := NewRateLimiter(strategy, testConfig(t, rs, "reset", bucket.Configuration{
				Capacity: 3, RefillTokens: 0, RefillPeriod: time.Second,
			}))
			require.NoError(t, err)

			d, err := rl.TryConsume(ctx, 3)
			require.NoError(t, err)
			require.True(t, d.Allowed)

			d, err = rl.TryConsume(ctx, 1)
			require.NoError(t, err)
			require.False(t, d.Allowed)
			assert.Equal(t, bucket.Never, d.RetryAfter)

			require.NoError(t, rl.Reset(ctx))
			assert.False(t, mr.Exists("reset"))

			d, err = rl.TryConsume(ctx, 1)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
			assert.Equal(t, int64(2), d.Remaining)
		})
	}
}

func TestExpireOverridesTTL(t *testing.T) {
	mr, rs := newRedisStore(t)
	ctx := testutil.Context(t)

	rl, err := NewRateLimiter(AtomicScript, testConfig(t, rs, "exp", tenPerSecond))
	require.NoError(t, err)

	_, err = rl.TryConsume(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, mr.TTL("exp"))

	require.NoError(t, rl.Expire(ctx, time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("exp"))
}

func TestStoreFailuresAreErrors(t *testing.T) {
	for _, strategy := range []Strategy{AtomicScript, CompareAndSwap} {
		t.Run(strategy.String(), func(t *testing.T) {
			mr, rs := newRedisStore(t)
			rl, err := NewRateLimiter(strategy, testConfig(t, rs, "down", tenPerSecond))
			require.NoError(t, err)

			mr.Close()

			d, err := rl.TryConsume(context.Background(), 1)
			require.Error(t, err)
			assert.False(t, d.Allowed)
			assert.ErrorIs(t, err, dberrors.ErrStoreUnavailable)

			var cerr *ConsumeError
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, "down", cerr.Key)
			assert.Equal(t, strategy, cerr.Strategy)

			assert.ErrorIs(t, rl.Reset(context.Background()), dberrors.ErrStoreUnavailable)
		})
	}
}

func TestReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&ConsumeError{Err: fmt.Errorf("%w: %w", dberrors.ErrContentionExceeded, dberrors.ErrVersionConflict)}, "contention"},
		{&ConsumeError{Err: dberrors.ErrBadScript}, "bad_script"},
		{&ConsumeError{Err: dberrors.ErrCorruptState}, "corrupt_state"},
		{dberrors.NewOperationError("redisstore", "Get", dberrors.ErrStoreUnavailable), "unavailable"},
		{&ConsumeError{Err: context.DeadlineExceeded}, "canceled"},
		{dberrors.NewRequestError("distributed", "tokens", 0, "must be positive"), "invalid_request"},
		{errors.New("boom"), "other"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Reason(tt.err), "%v", tt.err)
	}
}

func TestConsumeErrorMessage(t *testing.T) {
	err := &ConsumeError{Key: "api", Strategy: CompareAndSwap, Attempts: 3, Err: dberrors.ErrVersionConflict}
	assert.Contains(t, err.Error(), `cas limiter "api" failed after 3 attempt(s)`)
	assert.ErrorIs(t, err, dberrors.ErrVersionConflict)
}
