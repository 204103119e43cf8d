package distributed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDoubles(t *testing.T) {
	b := Backoff{Min: time.Millisecond, Max: 4 * time.Millisecond}
	ctx := context.Background()

	var delays []time.Duration
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Wait(ctx))
		delays = append(delays, b.delay)
	}

	assert.Equal(t, []time.Duration{
		time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond, 4 * time.Millisecond, 4 * time.Millisecond,
	}, delays)
}

func TestBackoffDefaultMax(t *testing.T) {
	b := Backoff{Min: time.Microsecond}
	for i := 0; i < 10; i++ {
		require.NoError(t, b.Wait(context.Background()))
	}
	assert.Equal(t, 64*time.Microsecond, b.delay)
}

func TestBackoffDisabled(t *testing.T) {
	var b Backoff
	assert.False(t, b.Enabled())

	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, b.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestBackoffRespectsContext(t *testing.T) {
	b := Backoff{Min: time.Hour}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := b.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	// an ended context is reported even when waiting is disabled
	var off Backoff
	assert.ErrorIs(t, off.Wait(ctx), context.DeadlineExceeded)
}
