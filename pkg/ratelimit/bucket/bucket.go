package bucket

import "time"

// Refill applies greedy refill to s as of nowMillis.
//
// Tokens accrue only at whole period boundaries and LastRefillAtMillis
// advances by the consumed periods, so the partial period carries over to the
// next call. A clock that moved backwards grants nothing. The result is
// clamped to cfg.Capacity, which also handles a configuration that shrank
// since s was stored.
func Refill(s State, cfg Configuration, nowMillis int64) State {
	s.Capacity = cfg.Capacity
	if s.Tokens > cfg.Capacity {
		s.Tokens = cfg.Capacity
	}

	elapsed := nowMillis - s.LastRefillAtMillis
	if elapsed <= 0 {
		return s
	}

	period := cfg.PeriodMillis()
	periods := elapsed / period
	if periods == 0 {
		return s
	}

	if cfg.RefillTokens > 0 {
		missing := cfg.Capacity - s.Tokens
		// periods*RefillTokens saturates at capacity; compare before multiplying
		if periods >= ceilDiv(missing, cfg.RefillTokens) {
			s.Tokens = cfg.Capacity
		} else {
			s.Tokens += periods * cfg.RefillTokens
		}
	}
	s.LastRefillAtMillis += periods * period

	return s
}

// RetryAfter estimates how long until n tokens are available in s, which
// must already be refilled as of nowMillis.
func RetryAfter(s State, cfg Configuration, n, nowMillis int64) time.Duration {
	if n <= s.Tokens {
		return 0
	}
	if n > cfg.Capacity || cfg.RefillTokens == 0 {
		return Never
	}

	periods := ceilDiv(n-s.Tokens, cfg.RefillTokens)
	wait := periods*cfg.PeriodMillis() - (nowMillis - s.LastRefillAtMillis)
	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait) * time.Millisecond
}

// Decide refills s and tries to consume n tokens from it. next is the state
// to persist when d.Allowed is true; on denial next is the refilled state,
// which callers must not write back.
func Decide(s State, cfg Configuration, n, nowMillis int64) (next State, d Decision) {
	refilled := Refill(s, cfg, nowMillis)

	next, ok := refilled.Consume(n)
	if !ok {
		return refilled, Decision{
			Allowed:    false,
			Remaining:  refilled.Tokens,
			RetryAfter: RetryAfter(refilled, cfg, n, nowMillis),
		}
	}

	return next, Decision{
		Allowed:   true,
		Remaining: next.Tokens,
	}
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
