/*
Package distbucket provides a token bucket rate limiter whose state lives in a
shared store, so a fleet of application instances enforces one global limit.

Rate Limiting (pkg/ratelimit):
  - bucket: bucket shape, greedy refill and the pure consume decision
  - distributed: store-backed limiter with atomic script and compare-and-swap strategies

Stores (pkg/store):
  - redisstore: go-redis adapter (scripts and conditional writes)
  - rueidisstore: rueidis adapter (scripts and conditional writes)
  - badgerstore: embedded badger database (conditional writes)
  - gcsstore: Cloud Storage objects with generation preconditions (conditional writes)

Tooling:
  - pkg/metrics: Prometheus instrumentation
  - cmd/bucketbench: contended and non-contended load generator

Example usage:

	import (
		"github.com/vnykmshr/distbucket/pkg/ratelimit/bucket"
		"github.com/vnykmshr/distbucket/pkg/ratelimit/distributed"
		"github.com/vnykmshr/distbucket/pkg/store/redisstore"
	)

	s, _ := redisstore.Dial(ctx, redisstore.Options{Addrs: []string{"localhost:6379"}})
	limiter, _ := distributed.NewRateLimiter(distributed.AtomicScript, distributed.Config{
		Store:  s,
		Key:    "api:tenant-42",
		Bucket: bucket.Configuration{Capacity: 100, RefillTokens: 10, RefillPeriod: time.Second},
	})

	if d, err := limiter.TryConsume(ctx, 1); err == nil && d.Allowed {
		// serve
	}
*/
package distbucket
