// Package store defines the capabilities the rate limiting strategies need
// from a shared key-value store.
//
// Adapters live in sub-packages, one per transport:
//
//   - redisstore: go-redis v9 (scripts and WATCH-based compare-and-swap)
//   - rueidisstore: rueidis (scripts and WATCH-based compare-and-swap)
//   - badgerstore: embedded BadgerDB (compare-and-swap only)
//   - gcsstore: Google Cloud Storage generations (compare-and-swap only)
//
// Errors returned by adapters wrap errors.ErrStoreUnavailable for transport
// failures and errors.ErrBadScript for scripts the store rejects, so callers
// can tell an outage apart from a rate limiting decision.
package store
