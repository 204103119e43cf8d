package validation

import (
	"strconv"
	"time"

	dberrors "github.com/vnykmshr/distbucket/pkg/common/errors"
)

// ValidatePositive validates that an integer value is positive (> 0).
// Returns a ValidationError if the value is not positive.
func ValidatePositive(module, field string, value int64) error {
	if value <= 0 {
		return dberrors.NewValidationError(module, field, value, "must be positive").
			WithHint("value must be greater than 0")
	}
	return nil
}

// ValidateNonNegative validates that an integer value is non-negative (>= 0).
// Returns a ValidationError if the value is negative.
func ValidateNonNegative(module, field string, value int64) error {
	if value < 0 {
		return dberrors.NewValidationError(module, field, value, "cannot be negative").
			WithHint("use 0 or a positive value")
	}
	return nil
}

// ValidateAtMost validates that an integer value does not exceed max.
func ValidateAtMost(module, field string, value, max int64) error {
	if value > max {
		return dberrors.NewValidationError(module, field, value, "too large").
			WithHint("use at most " + strconv.FormatInt(max, 10))
	}
	return nil
}

// ValidateWholeMillis validates that d is at least one millisecond and has
// no sub-millisecond remainder.
func ValidateWholeMillis(module, field string, d time.Duration) error {
	if d < time.Millisecond {
		return dberrors.NewValidationError(module, field, d, "must be at least 1ms")
	}
	if d%time.Millisecond != 0 {
		return dberrors.NewValidationError(module, field, d, "must be a whole number of milliseconds").
			WithHint("round to " + d.Truncate(time.Millisecond).String())
	}
	return nil
}

// ValidateNotNil validates that an interface value is not nil.
// Returns a ValidationError if the value is nil.
func ValidateNotNil(module, field string, value interface{}) error {
	if value == nil {
		return dberrors.NewValidationError(module, field, nil, "cannot be nil").
			WithHint("provide a valid " + field)
	}
	return nil
}

// ValidateNotEmpty validates that a string value is not empty.
// Returns a ValidationError if the string is empty.
func ValidateNotEmpty(module, field string, value string) error {
	if value == "" {
		return dberrors.NewValidationError(module, field, value, "cannot be empty").
			WithHint("provide a non-empty " + field)
	}
	return nil
}
