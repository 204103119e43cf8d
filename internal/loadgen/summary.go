package loadgen

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/montanaflynn/stats"
)

// Summary aggregates the outcomes of a run.
type Summary struct {
	RunID    string
	Scenario Scenario
	Workers  int
	Elapsed  time.Duration

	Requests int64
	Allowed  int64
	Denied   int64

	// Errors counts failed calls by reason.
	Errors map[string]int64

	// Attempts is the total store round-trip cycles of successful calls.
	Attempts    int64
	MaxAttempts int

	P50, P90, P99 time.Duration
}

// Throughput returns decisions per second.
func (s Summary) Throughput() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Requests) / s.Elapsed.Seconds()
}

// ErrorCount returns the number of failed calls.
func (s Summary) ErrorCount() int64 {
	var n int64
	for _, c := range s.Errors {
		n += c
	}
	return n
}

// MeanAttempts returns the average round trips per decision.
func (s Summary) MeanAttempts() float64 {
	decided := s.Allowed + s.Denied
	if decided == 0 {
		return 0
	}
	return float64(s.Attempts) / float64(decided)
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %s, %d workers, %v\n", s.RunID, s.Scenario, s.Workers, s.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(&b, "  requests %s (%s/s): allowed %s, denied %s, errors %s\n",
		humanize.Comma(s.Requests), humanize.CommafWithDigits(s.Throughput(), 1),
		humanize.Comma(s.Allowed), humanize.Comma(s.Denied), humanize.Comma(s.ErrorCount()))
	fmt.Fprintf(&b, "  attempts mean %.2f max %d\n", s.MeanAttempts(), s.MaxAttempts)
	fmt.Fprintf(&b, "  latency p50 %v p90 %v p99 %v", s.P50, s.P90, s.P99)

	if len(s.Errors) > 0 {
		reasons := make([]string, 0, len(s.Errors))
		for r := range s.Errors {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)
		for _, r := range reasons {
			fmt.Fprintf(&b, "\n  error %s: %s", r, humanize.Comma(s.Errors[r]))
		}
	}
	return b.String()
}

// percentiles returns the 50th, 90th and 99th percentile of latencies.
func percentiles(latencies []time.Duration) (p50, p90, p99 time.Duration) {
	if len(latencies) == 0 {
		return 0, 0, 0
	}

	data := make(stats.Float64Data, len(latencies))
	for i, l := range latencies {
		data[i] = float64(l)
	}

	at := func(p float64) time.Duration {
		v, err := stats.Percentile(data, p)
		if err != nil {
			return 0
		}
		return time.Duration(v)
	}
	return at(50), at(90), at(99)
}
