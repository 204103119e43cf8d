// Package validation provides common validation utilities for configuration
// parameters across the distbucket library.
//
// The helpers return *errors.ValidationError values so that callers can
// match them with errors.Is(err, errors.ErrInvalidConfiguration).
package validation
