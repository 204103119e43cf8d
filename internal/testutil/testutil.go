// Package testutil holds helpers shared by the package tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// TestTimeout is the default timeout for tests
const TestTimeout = 5 * time.Second

// WithTimeout creates a context with the default test timeout
func WithTimeout(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), TestTimeout)
}

// Context returns a context with the default test timeout that is canceled
// when the test ends.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := WithTimeout(t)
	t.Cleanup(cancel)
	return ctx
}

// Logger returns a zap logger writing to the test log.
func Logger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t, zaptest.Level(zap.DebugLevel))
}

// NewRedis starts an in-process Redis server and a go-redis client for it.
// Both are closed when the test ends.
func NewRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr:     mr.Addr(),
		PoolSize: 32,
	})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

// Eventually polls condition until it returns true or timeout elapses.
func Eventually(t *testing.T, condition func() bool, timeout, interval time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(interval)
	}
	if !condition() {
		t.Fatalf("condition not met within %v", timeout)
	}
}
