package bucket

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dberrors "github.com/vnykmshr/distbucket/pkg/common/errors"
)

var tenPerSecond = Configuration{Capacity: 10, RefillTokens: 10, RefillPeriod: time.Second}

func TestConfigurationValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Configuration
		wantErr bool
	}{
		{"valid", tenPerSecond, false},
		{"zero refill", Configuration{Capacity: 5, RefillTokens: 0, RefillPeriod: time.Second}, false},
		{"refill above capacity", Configuration{Capacity: 5, RefillTokens: 50, RefillPeriod: time.Millisecond}, false},
		{"zero capacity", Configuration{Capacity: 0, RefillTokens: 1, RefillPeriod: time.Second}, true},
		{"negative refill", Configuration{Capacity: 5, RefillTokens: -1, RefillPeriod: time.Second}, true},
		{"zero period", Configuration{Capacity: 5, RefillTokens: 1}, true},
		{"sub millisecond period", Configuration{Capacity: 5, RefillTokens: 1, RefillPeriod: time.Microsecond}, true},
		{"largest exact capacity", Configuration{Capacity: MaxTokens, RefillTokens: MaxTokens, RefillPeriod: time.Second}, false},
		{"capacity beyond exact range", Configuration{Capacity: MaxTokens + 1, RefillTokens: 1, RefillPeriod: time.Second}, true},
		{"refill beyond exact range", Configuration{Capacity: 5, RefillTokens: math.MaxInt64, RefillPeriod: time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, dberrors.ErrInvalidConfiguration)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestTimeToFull(t *testing.T) {
	tests := []struct {
		name string
		cfg  Configuration
		want time.Duration
	}{
		{"one period", tenPerSecond, time.Second},
		{"rounds up to whole periods", Configuration{Capacity: 10, RefillTokens: 3, RefillPeriod: 100 * time.Millisecond}, 400 * time.Millisecond},
		{"slow refill", Configuration{Capacity: 100, RefillTokens: 1, RefillPeriod: time.Minute}, 100 * time.Minute},
		{"never refills", Configuration{Capacity: 5, RefillTokens: 0, RefillPeriod: time.Second}, Never},
		{"overflows", Configuration{Capacity: MaxTokens, RefillTokens: 1, RefillPeriod: 24 * time.Hour}, Never},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.TimeToFull())
		})
	}
}

func TestRefill(t *testing.T) {
	cfg := Configuration{Capacity: 10, RefillTokens: 3, RefillPeriod: 100 * time.Millisecond}

	tests := []struct {
		name  string
		state State
		now   int64
		want  State
	}{
		{
			name:  "no time elapsed",
			state: State{Capacity: 10, Tokens: 2, LastRefillAtMillis: 1000},
			now:   1000,
			want:  State{Capacity: 10, Tokens: 2, LastRefillAtMillis: 1000},
		},
		{
			name:  "clock moved backwards",
			state: State{Capacity: 10, Tokens: 2, LastRefillAtMillis: 1000},
			now:   900,
			want:  State{Capacity: 10, Tokens: 2, LastRefillAtMillis: 1000},
		},
		{
			name:  "partial period grants nothing",
			state: State{Capacity: 10, Tokens: 2, LastRefillAtMillis: 1000},
			now:   1099,
			want:  State{Capacity: 10, Tokens: 2, LastRefillAtMillis: 1000},
		},
		{
			name:  "remainder carries over",
			state: State{Capacity: 10, Tokens: 2, LastRefillAtMillis: 1000},
			now:   1250,
			want:  State{Capacity: 10, Tokens: 8, LastRefillAtMillis: 1200},
		},
		{
			name:  "capped at capacity",
			state: State{Capacity: 10, Tokens: 8, LastRefillAtMillis: 1000},
			now:   1300,
			want:  State{Capacity: 10, Tokens: 10, LastRefillAtMillis: 1300},
		},
		{
			name:  "shrunk configuration clamps tokens",
			state: State{Capacity: 50, Tokens: 40, LastRefillAtMillis: 1000},
			now:   1000,
			want:  State{Capacity: 10, Tokens: 10, LastRefillAtMillis: 1000},
		},
		{
			name:  "huge idle time saturates without overflow",
			state: State{Capacity: 10, Tokens: 0, LastRefillAtMillis: 0},
			now:   math.MaxInt64 - 7,
			want:  State{Capacity: 10, Tokens: 10, LastRefillAtMillis: (math.MaxInt64 - 7) / 100 * 100},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Refill(tt.state, cfg, tt.now))
		})
	}
}

func TestRefillZeroRefillTokens(t *testing.T) {
	cfg := Configuration{Capacity: 4, RefillTokens: 0, RefillPeriod: time.Millisecond}
	s := Refill(State{Capacity: 4, Tokens: 1, LastRefillAtMillis: 0}, cfg, 10_000)
	assert.Equal(t, int64(1), s.Tokens)
}

func TestRefillIdempotentAtSameInstant(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	cfg := Configuration{Capacity: 100, RefillTokens: 7, RefillPeriod: 13 * time.Millisecond}

	for i := 0; i < 1000; i++ {
		s := State{Capacity: 100, Tokens: r.Int63n(101), LastRefillAtMillis: r.Int63n(10_000)}
		now := r.Int63n(20_000)

		once := Refill(s, cfg, now)
		twice := Refill(once, cfg, now)
		require.Equal(t, once, twice, "state=%+v now=%d", s, now)
	}
}

func TestDecideScenario(t *testing.T) {
	s := NewState(tenPerSecond, 0)

	for want := int64(9); want >= 0; want-- {
		var d Decision
		s, d = Decide(s, tenPerSecond, 1, 0)
		require.True(t, d.Allowed)
		require.Equal(t, want, d.Remaining)
		require.Zero(t, d.RetryAfter)
	}

	_, d := Decide(s, tenPerSecond, 1, 0)
	require.False(t, d.Allowed)
	require.Equal(t, int64(0), d.Remaining)
	require.Equal(t, time.Second, d.RetryAfter)

	_, d = Decide(s, tenPerSecond, 1, 1000)
	require.True(t, d.Allowed)
	require.Equal(t, int64(9), d.Remaining)
}

func TestDecideDenialDoesNotConsume(t *testing.T) {
	s := State{Capacity: 10, Tokens: 3, LastRefillAtMillis: 0}

	next, d := Decide(s, tenPerSecond, 5, 400)
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(3), next.Tokens)
	assert.Equal(t, int64(3), d.Remaining)
	assert.Equal(t, 600*time.Millisecond, d.RetryAfter)
}

func TestRetryAfter(t *testing.T) {
	cfg := Configuration{Capacity: 10, RefillTokens: 2, RefillPeriod: 100 * time.Millisecond}

	tests := []struct {
		name  string
		state State
		n     int64
		now   int64
		want  time.Duration
	}{
		{"enough tokens", State{Tokens: 5}, 5, 0, 0},
		{"one period", State{Tokens: 0, LastRefillAtMillis: 0}, 2, 0, 100 * time.Millisecond},
		{"partial period elapsed", State{Tokens: 0, LastRefillAtMillis: 0}, 2, 30, 70 * time.Millisecond},
		{"several periods", State{Tokens: 1, LastRefillAtMillis: 0}, 6, 0, 300 * time.Millisecond},
		{"above capacity", State{Tokens: 10}, 11, 0, Never},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RetryAfter(tt.state, cfg, tt.n, tt.now))
		})
	}

	noRefill := Configuration{Capacity: 10, RefillTokens: 0, RefillPeriod: time.Second}
	assert.Equal(t, Never, RetryAfter(State{Tokens: 0}, noRefill, 1, 0))
}

// Over any random sequence of requests, granted tokens never exceed the
// initial capacity plus what refill could have produced.
func TestDecideNeverOverAdmits(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	cfg := Configuration{Capacity: 50, RefillTokens: 5, RefillPeriod: 20 * time.Millisecond}

	for run := 0; run < 50; run++ {
		s := NewState(cfg, 0)
		var now, granted int64

		for i := 0; i < 500; i++ {
			now += r.Int63n(15)
			n := r.Int63n(8) + 1

			before := Refill(s, cfg, now).Tokens
			var d Decision
			s, d = Decide(s, cfg, n, now)
			if d.Allowed {
				granted += n
				require.Equal(t, before-n, d.Remaining)
			}
			require.GreaterOrEqual(t, s.Tokens, int64(0))
			require.LessOrEqual(t, s.Tokens, cfg.Capacity)
		}

		maxRefill := (now / cfg.PeriodMillis()) * cfg.RefillTokens
		require.LessOrEqual(t, granted, cfg.Capacity+maxRefill)
	}
}

func TestRecordBinary(t *testing.T) {
	rec := Record{
		Configuration: tenPerSecond,
		State:         State{Capacity: 10, Tokens: 4, LastRefillAtMillis: 1_700_000_000_123},
		Revision:      99,
	}

	b, err := rec.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, recordSize)

	var got Record
	require.NoError(t, got.UnmarshalBinary(b))
	assert.Equal(t, rec, got)

	rec.Revision++
	b2, err := rec.MarshalBinary()
	require.NoError(t, err)
	assert.NotEqual(t, b, b2, "revision must change the encoding")
}

func TestRecordUnmarshalRejectsCorruptValues(t *testing.T) {
	valid, err := Record{Configuration: tenPerSecond, State: NewState(tenPerSecond, 5)}.MarshalBinary()
	require.NoError(t, err)

	tooShort := valid[:10]

	badFormat := append([]byte(nil), valid...)
	badFormat[0] = 9

	overfull := append([]byte(nil), valid...)
	overfull[32] = 11 // tokens low byte > capacity

	for name, b := range map[string][]byte{
		"empty":      nil,
		"too short":  tooShort,
		"bad format": badFormat,
		"overfull":   overfull,
	} {
		t.Run(name, func(t *testing.T) {
			var rec Record
			err := rec.UnmarshalBinary(b)
			require.Error(t, err)
			assert.True(t, errors.Is(err, dberrors.ErrCorruptState), "got %v", err)
		})
	}
}

func TestRecordMarshalRejectsInvalid(t *testing.T) {
	_, err := Record{Configuration: Configuration{}}.MarshalBinary()
	assert.ErrorIs(t, err, dberrors.ErrCorruptState)
}
