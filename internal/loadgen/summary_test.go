package loadgen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenario(t *testing.T) {
	assert.Equal(t, "bench:k", Contended.KeyFor("bench:k", 3))
	assert.Equal(t, "bench:k3", NonContended.KeyFor("bench:k", 3))
	assert.Equal(t, []string{"p"}, Contended.Keys("p", 8))
	assert.Equal(t, []string{"p0", "p1"}, NonContended.Keys("p", 2))

	for _, s := range []Scenario{Contended, NonContended} {
		parsed, err := ParseScenario(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := ParseScenario("lukewarm")
	assert.Error(t, err)
	assert.Equal(t, "Scenario(5)", Scenario(5).String())
}

func TestPercentiles(t *testing.T) {
	p50, p90, p99 := percentiles(nil)
	assert.Zero(t, p50+p90+p99)

	latencies := make([]time.Duration, 100)
	for i := range latencies {
		// reversed so the input is not already sorted
		latencies[i] = time.Duration(100-i) * time.Millisecond
	}

	p50, p90, p99 = percentiles(latencies)
	assert.InDelta(t, float64(50*time.Millisecond), float64(p50), float64(time.Millisecond))
	assert.InDelta(t, float64(90*time.Millisecond), float64(p90), float64(time.Millisecond))
	assert.InDelta(t, float64(99*time.Millisecond), float64(p99), float64(time.Millisecond))
	assert.Equal(t, 100*time.Millisecond, latencies[0], "input is left untouched")
}

func TestSummary(t *testing.T) {
	s := Summary{
		RunID:    "r1",
		Scenario: Contended,
		Workers:  4,
		Elapsed:  2 * time.Second,
		Requests: 12000,
		Allowed:  5000,
		Denied:   6000,
		Errors:   map[string]int64{"unavailable": 600, "contention": 400},
		Attempts: 22000,
	}

	assert.Equal(t, 6000.0, s.Throughput())
	assert.Equal(t, int64(1000), s.ErrorCount())
	assert.Equal(t, 2.0, s.MeanAttempts())

	out := s.String()
	assert.Contains(t, out, "run r1: contended, 4 workers, 2s")
	assert.Contains(t, out, "requests 12,000 (6,000/s): allowed 5,000, denied 6,000, errors 1,000")
	assert.Contains(t, out, "error contention: 400\n  error unavailable: 600")

	assert.Zero(t, Summary{}.Throughput())
	assert.Zero(t, Summary{}.MeanAttempts())
}
