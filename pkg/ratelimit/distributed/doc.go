// Package distributed provides a token bucket rate limiter whose state lives in
// a shared store, so every application instance enforces one global limit.
//
// # Overview
//
// A RateLimiter binds a store key and a bucket.Configuration to one of two
// strategies:
//
//   - AtomicScript: the whole refill-and-consume step runs as one script on
//     the store (ScriptBody), using the store's clock. One round trip per
//     request, no client-side retries.
//   - CompareAndSwap: the client reads the state with its version, decides
//     locally with bucket.Decide and commits with a conditional write. Lost
//     races are retried from a fresh read up to MaxAttempts times.
//
// Both strategies produce the same decisions for the same sequence of
// requests and times. A key must only ever be used with one strategy; their
// stored formats differ.
//
// # Quick Start
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s, _ := redisstore.New(rdb)
//
//	limiter, err := distributed.NewRateLimiter(distributed.AtomicScript, distributed.Config{
//		Store: s,
//		Key:   "api:tenant-42",
//		Bucket: bucket.Configuration{
//			Capacity:     100,
//			RefillTokens: 10,
//			RefillPeriod: time.Second,
//		},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	d, err := limiter.TryConsume(ctx, 1)
//	switch {
//	case err != nil:
//		// no decision: the store failed, the script was rejected or
//		// contention exceeded MaxAttempts
//	case d.Allowed:
//		// serve the request
//	default:
//		// reject; d.RetryAfter hints when to come back
//	}
//
// # Stores
//
// The strategies depend only on the capabilities in package store. AtomicScript
// needs a store.ScriptClient (redisstore, rueidisstore); CompareAndSwap needs a
// store.VersionedClient (all adapters, including badgerstore and gcsstore).
//
// # Configuration
//
// The bucket configuration is supplied on every call and is authoritative:
// state written under a larger capacity is clamped to the current one. Every
// allowed request refreshes the key's TTL (KeyTTL, one hour by default), so
// idle buckets disappear and come back full.
//
// # Error Handling
//
// Denials are decisions, not errors. Errors are *ConsumeError values carrying
// the key, strategy and attempt count, and wrap one of the sentinels in
// pkg/common/errors:
//
//	var cerr *distributed.ConsumeError
//	switch {
//	case errors.Is(err, dberrors.ErrStoreUnavailable):
//		// transport failure; fail open or closed as policy dictates
//	case errors.Is(err, dberrors.ErrContentionExceeded):
//		// too many concurrent writers on one key
//	case errors.Is(err, dberrors.ErrBadScript):
//		// the store rejected the script
//	case errors.As(err, &cerr):
//		log.Printf("gave up after %d attempts", cerr.Attempts)
//	}
//
// # Monitoring
//
// Wrap a limiter with NewMetricsLimiter to export Prometheus counters and
// histograms (see package metrics).
package distributed
