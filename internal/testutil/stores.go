package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vnykmshr/distbucket/pkg/store"
)

// CountingStore records every call made to it and returns canned results.
// It implements both store.ScriptClient and store.VersionedClient.
type CountingStore struct {
	calls atomic.Int64
	write atomic.Int64

	mu    sync.Mutex
	value *store.VersionedValue
	reply []int64
	err   error
}

var (
	_ store.ScriptClient    = (*CountingStore)(nil)
	_ store.VersionedClient = (*CountingStore)(nil)
)

// NewCountingStore returns a store whose script executions reply with reply.
func NewCountingStore(reply ...int64) *CountingStore {
	return &CountingStore{reply: reply}
}

// FailWith makes every subsequent call return err.
func (c *CountingStore) FailWith(err error) *CountingStore {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
	return c
}

// Preload makes ReadVersioned return v.
func (c *CountingStore) Preload(v store.VersionedValue) *CountingStore {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = &v
	return c
}

// Calls returns the number of store calls made.
func (c *CountingStore) Calls() int64 {
	return c.calls.Load()
}

// Writes returns the number of WriteIfVersion calls made.
func (c *CountingStore) Writes() int64 {
	return c.write.Load()
}

// failure counts a call and returns the configured error.
func (c *CountingStore) failure() error {
	c.calls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Delete counts the call and does nothing else.
func (c *CountingStore) Delete(ctx context.Context, key string) error {
	return c.failure()
}

// SetExpiry counts the call and does nothing else.
func (c *CountingStore) SetExpiry(ctx context.Context, key string, ttl time.Duration) error {
	return c.failure()
}

// LoadScript returns the reference a Redis server would assign to body.
func (c *CountingStore) LoadScript(ctx context.Context, body string) (store.ScriptRef, error) {
	if err := c.failure(); err != nil {
		return "", err
	}
	return store.RefFor(body), nil
}

// ExecuteAtomic returns the canned reply.
func (c *CountingStore) ExecuteAtomic(ctx context.Context, ref store.ScriptRef, keys []string, args []string) ([]int64, error) {
	if err := c.failure(); err != nil {
		return nil, err
	}
	return append([]int64(nil), c.reply...), nil
}

// ReadVersioned returns the preloaded value, or store.ErrNotFound.
func (c *CountingStore) ReadVersioned(ctx context.Context, key string) (store.VersionedValue, error) {
	if err := c.failure(); err != nil {
		return store.VersionedValue{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value == nil {
		return store.VersionedValue{}, store.ErrNotFound
	}
	return *c.value, nil
}

// WriteIfVersion counts the write and reports it as committed.
func (c *CountingStore) WriteIfVersion(ctx context.Context, key string, value []byte, expected store.Version, ttl time.Duration) (bool, error) {
	c.write.Add(1)
	if err := c.failure(); err != nil {
		return false, err
	}
	return true, nil
}

// ConflictingStore is a versioned store whose conditional writes never win,
// as if another writer always got there first.
type ConflictingStore struct {
	reads  atomic.Int64
	writes atomic.Int64
}

var _ store.VersionedClient = (*ConflictingStore)(nil)

// Reads returns the number of ReadVersioned calls made.
func (c *ConflictingStore) Reads() int64 {
	return c.reads.Load()
}

// Writes returns the number of WriteIfVersion calls made.
func (c *ConflictingStore) Writes() int64 {
	return c.writes.Load()
}

// Delete does nothing.
func (c *ConflictingStore) Delete(ctx context.Context, key string) error { return nil }

// SetExpiry does nothing.
func (c *ConflictingStore) SetExpiry(ctx context.Context, key string, ttl time.Duration) error {
	return nil
}

// ReadVersioned always finds the key absent.
func (c *ConflictingStore) ReadVersioned(ctx context.Context, key string) (store.VersionedValue, error) {
	c.reads.Add(1)
	return store.VersionedValue{}, store.ErrNotFound
}

// WriteIfVersion counts the write and always loses it.
func (c *ConflictingStore) WriteIfVersion(ctx context.Context, key string, value []byte, expected store.Version, ttl time.Duration) (bool, error) {
	c.writes.Add(1)
	return false, nil
}
