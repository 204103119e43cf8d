package distributed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	dberrors "github.com/vnykmshr/distbucket/pkg/common/errors"
	"github.com/vnykmshr/distbucket/pkg/ratelimit/bucket"
	"github.com/vnykmshr/distbucket/pkg/store"
)

// CASStrategy decides on the client: it reads the bucket with its version,
// refills and consumes locally, then commits with a conditional write. A
// lost race is retried from a fresh read, up to MaxAttempts times.
type CASStrategy struct {
	store       store.VersionedClient
	ttl         time.Duration
	maxAttempts int
	backoff     Backoff
	clock       bucket.Clock
	log         *zap.Logger
}

// NewCASStrategy creates a compare-and-swap strategy over client.
func NewCASStrategy(client store.VersionedClient, opts Options) *CASStrategy {
	opts = opts.withDefaults()
	return &CASStrategy{
		store:       client,
		ttl:         opts.KeyTTL,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		clock:       opts.Clock,
		log:         opts.Logger,
	}
}

// TryConsume attempts to take n tokens from the bucket at key. A denial
// never writes. Running out of attempts returns ErrContentionExceeded.
func (c *CASStrategy) TryConsume(ctx context.Context, key string, cfg bucket.Configuration, n int64) (bucket.Decision, error) {
	backoff := c.backoff

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return bucket.Decision{}, c.fail(key, attempt-1, err)
		}

		d, committed, err := c.attempt(ctx, key, cfg, n)
		if err != nil {
			return bucket.Decision{}, c.fail(key, attempt, err)
		}
		if committed {
			d.Attempts = attempt
			return d, nil
		}

		if attempt == c.maxAttempts {
			break
		}
		c.log.Debug("version conflict, retrying", zap.String("key", key), zap.Int("attempt", attempt))
		if err := backoff.Wait(ctx); err != nil {
			return bucket.Decision{}, c.fail(key, attempt, err)
		}
	}

	c.log.Warn("contention exceeded", zap.String("key", key), zap.Int("attempts", c.maxAttempts))
	return bucket.Decision{}, c.fail(key, c.maxAttempts,
		fmt.Errorf("%w: %w", dberrors.ErrContentionExceeded, dberrors.ErrVersionConflict))
}

// attempt runs one read-decide-write cycle. committed is false only when the
// conditional write lost; denials count as committed since nothing is written.
func (c *CASStrategy) attempt(ctx context.Context, key string, cfg bucket.Configuration, n int64) (d bucket.Decision, committed bool, err error) {
	now := c.clock.Now().UnixMilli()

	var (
		rec     bucket.Record
		version = store.NoVersion
	)

	current, err := c.store.ReadVersioned(ctx, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		rec = bucket.Record{Configuration: cfg, State: bucket.NewState(cfg, now)}
	case err != nil:
		return d, false, err
	default:
		if err := rec.UnmarshalBinary(current.Value); err != nil {
			return d, false, err
		}
		version = current.Version
	}

	next, d := bucket.Decide(rec.State, cfg, n, now)
	if !d.Allowed {
		return d, true, nil
	}

	value, err := bucket.Record{Configuration: cfg, State: next, Revision: rec.Revision + 1}.MarshalBinary()
	if err != nil {
		return d, false, err
	}

	ok, err := c.store.WriteIfVersion(ctx, key, value, version, keyTTL(c.ttl, cfg))
	if err != nil {
		return d, false, err
	}
	return d, ok, nil
}

func (c *CASStrategy) fail(key string, attempts int, err error) error {
	return &ConsumeError{Key: key, Strategy: CompareAndSwap, Attempts: attempts, Err: err}
}
