/*
Package ratelimit groups the token bucket rate limiting packages.

  - bucket: the bucket shape (capacity, refill tokens, refill period), greedy
    integer refill and the consume decision. Pure functions, no I/O.
  - distributed: a limiter keeping bucket state in a shared store, deciding
    either inside the store with an atomic script or on the client with
    compare-and-swap.

Greedy refill adds RefillTokens at every whole RefillPeriod boundary and carries
the partial period over, so the result does not depend on how often a bucket is
observed:

	cfg := bucket.Configuration{Capacity: 10, RefillTokens: 2, RefillPeriod: 100 * time.Millisecond}
	s := bucket.NewState(cfg, now)
	s, d := bucket.Decide(s, cfg, 3, now) // d.Allowed, d.Remaining == 7

A denial is a Decision with Allowed false and a RetryAfter hint, never an
error. Errors mean no decision could be reached.
*/
package ratelimit
