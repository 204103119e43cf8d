package bucket

import (
	"math"
	"time"

	"github.com/vnykmshr/distbucket/pkg/common/validation"
)

// Never is the RetryAfter reported for requests that cannot succeed no matter
// how long the caller waits: more tokens than the bucket holds, or a bucket
// that never refills.
const Never = time.Duration(math.MaxInt64)

// MaxTokens bounds Capacity and RefillTokens. The store-side script keeps
// token counts in Lua numbers, which are exact integers only up to 2^53.
const MaxTokens = 1 << 53

// Configuration describes a token bucket. It is immutable and supplied by the
// caller on every consume attempt.
type Configuration struct {
	// Capacity is the maximum number of tokens the bucket can hold.
	Capacity int64

	// RefillTokens is the number of tokens added at every period boundary.
	// Zero means the bucket never refills.
	RefillTokens int64

	// RefillPeriod is the refill interval. It must be a whole number of
	// milliseconds, at least 1ms.
	RefillPeriod time.Duration
}

// Validate reports whether c describes a usable bucket.
func (c Configuration) Validate() error {
	if err := validation.ValidatePositive("bucket", "capacity", c.Capacity); err != nil {
		return err
	}
	if err := validation.ValidateAtMost("bucket", "capacity", c.Capacity, MaxTokens); err != nil {
		return err
	}
	if err := validation.ValidateNonNegative("bucket", "refill_tokens", c.RefillTokens); err != nil {
		return err
	}
	if err := validation.ValidateAtMost("bucket", "refill_tokens", c.RefillTokens, MaxTokens); err != nil {
		return err
	}
	return validation.ValidateWholeMillis("bucket", "refill_period", c.RefillPeriod)
}

// PeriodMillis returns the refill period in milliseconds.
func (c Configuration) PeriodMillis() int64 {
	return c.RefillPeriod.Milliseconds()
}

// TimeToFull returns how long an empty bucket takes to refill to capacity,
// or Never when it does not refill.
func (c Configuration) TimeToFull() time.Duration {
	if c.RefillTokens <= 0 || c.RefillPeriod <= 0 {
		return Never
	}
	periods := ceilDiv(c.Capacity, c.RefillTokens)
	if periods > int64(Never/c.RefillPeriod) {
		return Never
	}
	return time.Duration(periods) * c.RefillPeriod
}

// State is the persisted state of one bucket.
type State struct {
	Capacity           int64
	Tokens             int64
	LastRefillAtMillis int64
}

// NewState returns a full bucket for cfg observed at nowMillis.
func NewState(cfg Configuration, nowMillis int64) State {
	return State{
		Capacity:           cfg.Capacity,
		Tokens:             cfg.Capacity,
		LastRefillAtMillis: nowMillis,
	}
}

// Consume removes n tokens. It reports false, leaving s unchanged, when fewer
// than n tokens are available.
func (s State) Consume(n int64) (State, bool) {
	if n > s.Tokens {
		return s, false
	}
	s.Tokens -= n
	return s, true
}

// Decision is the outcome of a consume attempt.
type Decision struct {
	// Allowed reports whether the requested tokens were consumed.
	Allowed bool

	// Remaining is the token count after the attempt.
	Remaining int64

	// RetryAfter estimates how long until the request could succeed. It is
	// zero when Allowed is true and Never when the request can never succeed.
	RetryAfter time.Duration

	// Attempts is the number of store round-trip cycles the decision took.
	Attempts int
}

// Clock provides the current time. It can be mocked for testing.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using the system time.
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time {
	return time.Now()
}
