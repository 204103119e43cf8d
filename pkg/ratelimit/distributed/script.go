package distributed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	dberrors "github.com/vnykmshr/distbucket/pkg/common/errors"
	"github.com/vnykmshr/distbucket/pkg/ratelimit/bucket"
	"github.com/vnykmshr/distbucket/pkg/store"
)

// ScriptBody is the token bucket script run by ScriptStrategy.
//
//	KEYS[1] bucket key (a hash with fields tokens and last_refill_ms)
//	ARGV    capacity, refill tokens, refill period ms, requested, ttl seconds
//
// It returns {allowed, remaining, retry_after_ms}; retry_after_ms is -1 when
// the request can never succeed. State is written, and its TTL refreshed,
// only when the request is allowed; a ttl of 0 leaves it without expiry.
// Time comes from the server. Token counts are Lua numbers, exact up to
// bucket.MaxTokens.
const ScriptBody = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_tokens = tonumber(ARGV[2])
local period = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

if redis.replicate_commands then
  redis.replicate_commands()
end

local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if tokens == nil or last == nil then
  tokens = capacity
  last = now
end
if tokens > capacity then
  tokens = capacity
end

local elapsed = now - last
if elapsed > 0 then
  local periods = math.floor(elapsed / period)
  if periods > 0 then
    tokens = math.min(capacity, tokens + periods * refill_tokens)
    last = last + periods * period
  end
end

if tokens < requested then
  local wait = -1
  if requested <= capacity and refill_tokens > 0 then
    local needed = math.ceil((requested - tokens) / refill_tokens)
    wait = math.max(0, needed * period - (now - last))
  end
  return {0, tokens, wait}
end

tokens = tokens - requested
redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last)
if ttl > 0 then
  redis.call('EXPIRE', key, ttl)
else
  redis.call('PERSIST', key)
end
return {1, tokens, 0}
`

// ScriptStrategy makes each decision in one atomic script execution on the
// store. The script reference is registered once and cached; when the store
// forgets it the strategy registers it again and retries once.
type ScriptStrategy struct {
	store store.ScriptClient
	ttl   time.Duration
	log   *zap.Logger

	mu      sync.RWMutex
	ref     store.ScriptRef
	latched error
}

// NewScriptStrategy creates a strategy running ScriptBody on client. The
// script is registered lazily on first use, or eagerly with Register.
func NewScriptStrategy(client store.ScriptClient, opts Options) *ScriptStrategy {
	opts = opts.withDefaults()
	return &ScriptStrategy{
		store: client,
		ttl:   opts.KeyTTL,
		log:   opts.Logger,
	}
}

// initialize registers the script within timeout.
func (s *ScriptStrategy) initialize(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, err := s.Register(ctx)
	return err
}

// Register loads ScriptBody into the store and caches its reference. A
// store that rejects the script latches the failure: TryConsume then fails
// fast with it until Register succeeds.
func (s *ScriptStrategy) Register(ctx context.Context) (store.ScriptRef, error) {
	ref, err := s.store.LoadScript(ctx, ScriptBody)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		if errors.Is(err, dberrors.ErrBadScript) {
			s.latched = err
		}
		return "", err
	}
	s.ref = ref
	s.latched = nil
	return ref, nil
}

func (s *ScriptStrategy) cached() (store.ScriptRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ref, s.latched
}

// TryConsume attempts to take n tokens from the bucket at key.
func (s *ScriptStrategy) TryConsume(ctx context.Context, key string, cfg bucket.Configuration, n int64) (bucket.Decision, error) {
	ref, err := s.cached()
	if err != nil {
		return bucket.Decision{}, s.fail(key, 0, err)
	}
	if ref == "" {
		if ref, err = s.Register(ctx); err != nil {
			return bucket.Decision{}, s.fail(key, 0, err)
		}
	}

	args := scriptArgs(cfg, n, keyTTL(s.ttl, cfg))
	keys := []string{key}

	attempts := 1
	reply, err := s.store.ExecuteAtomic(ctx, ref, keys, args)
	if errors.Is(err, store.ErrNoScript) {
		s.log.Warn("script missing from store, registering again", zap.String("ref", string(ref)))

		if ref, err = s.Register(ctx); err != nil {
			return bucket.Decision{}, s.fail(key, attempts, err)
		}
		attempts++
		reply, err = s.store.ExecuteAtomic(ctx, ref, keys, args)
		if errors.Is(err, store.ErrNoScript) {
			err = dberrors.Classify(dberrors.ErrBadScript, err)
		}
	}
	if err != nil {
		return bucket.Decision{}, s.fail(key, attempts, err)
	}

	d, err := decodeReply(reply, cfg, n)
	if err != nil {
		return bucket.Decision{}, s.fail(key, attempts, err)
	}
	d.Attempts = attempts
	return d, nil
}

func (s *ScriptStrategy) fail(key string, attempts int, err error) error {
	return &ConsumeError{Key: key, Strategy: AtomicScript, Attempts: attempts, Err: err}
}

func scriptArgs(cfg bucket.Configuration, n int64, ttl time.Duration) []string {
	var ttlSeconds int64
	if ttl > 0 {
		ttlSeconds = int64((ttl + time.Second - 1) / time.Second)
	}
	return []string{
		strconv.FormatInt(cfg.Capacity, 10),
		strconv.FormatInt(cfg.RefillTokens, 10),
		strconv.FormatInt(cfg.PeriodMillis(), 10),
		strconv.FormatInt(n, 10),
		strconv.FormatInt(ttlSeconds, 10),
	}
}

// decodeReply turns {allowed, remaining[, retry_after_ms]} into a Decision.
// Without the third element a denial waits for the full number of periods
// the deficit needs, which never undershoots the real wait.
func decodeReply(reply []int64, cfg bucket.Configuration, n int64) (bucket.Decision, error) {
	if len(reply) < 2 {
		return bucket.Decision{}, fmt.Errorf("%w: script returned %d values, want at least 2", dberrors.ErrBadScript, len(reply))
	}

	allowed, remaining := reply[0], reply[1]
	if allowed != 0 && allowed != 1 {
		return bucket.Decision{}, fmt.Errorf("%w: allowed flag %d", dberrors.ErrBadScript, allowed)
	}
	if remaining < 0 {
		return bucket.Decision{}, fmt.Errorf("%w: negative remaining %d", dberrors.ErrBadScript, remaining)
	}

	d := bucket.Decision{Allowed: allowed == 1, Remaining: remaining}
	if d.Allowed {
		return d, nil
	}

	switch {
	case len(reply) >= 3 && reply[2] < 0:
		d.RetryAfter = bucket.Never
	case len(reply) >= 3:
		d.RetryAfter = time.Duration(reply[2]) * time.Millisecond
	default:
		d.RetryAfter = bucket.RetryAfter(bucket.State{Tokens: remaining}, cfg, n, 0)
	}
	return d, nil
}
