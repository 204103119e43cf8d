// Package bucket holds the pure parts of the distributed token bucket: the
// configuration and state types, the greedy refill policy and the binary
// record stored by compare-and-swap stores. Nothing in this package performs
// I/O, so the same arithmetic backs every strategy and is easy to test.
//
// # Greedy refill
//
// A bucket gains RefillTokens at every RefillPeriod boundary, never in
// between. The partial period is carried forward instead of being dropped:
//
//	cfg := bucket.Configuration{Capacity: 10, RefillTokens: 10, RefillPeriod: time.Second}
//	s := bucket.NewState(cfg, 0)
//	s, _ = s.Consume(10)
//	s = bucket.Refill(s, cfg, 1500) // 10 tokens, LastRefillAtMillis = 1000
//
// All arithmetic is integer milliseconds, so repeated calls never drift.
package bucket
