package errors

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestCommonErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"ErrStoreUnavailable", ErrStoreUnavailable, "store unavailable"},
		{"ErrBadScript", ErrBadScript, "bad script"},
		{"ErrVersionConflict", ErrVersionConflict, "version conflict"},
		{"ErrContentionExceeded", ErrContentionExceeded, "contention exceeded"},
		{"ErrInvalidRequest", ErrInvalidRequest, "invalid request"},
		{"ErrInvalidConfiguration", ErrInvalidConfiguration, "invalid configuration"},
		{"ErrCorruptState", ErrCorruptState, "corrupt bucket state"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ValidationError
		want string
	}{
		{
			name: "without hint",
			err: &ValidationError{
				Module: "bucket",
				Field:  "capacity",
				Value:  -1,
				Reason: "must be positive",
			},
			want: "bucket: invalid capacity=-1 (must be positive)",
		},
		{
			name: "with hint",
			err: &ValidationError{
				Module: "bucket",
				Field:  "refill_period",
				Value:  0,
				Reason: "must be positive",
				Hint:   "use at least 1ms",
			},
			want: "bucket: invalid refill_period=0 (must be positive) - use at least 1ms",
		},
		{
			name: "string value",
			err: &ValidationError{
				Module: "distributed",
				Field:  "key",
				Value:  "",
				Reason: "cannot be empty",
			},
			want: "distributed: invalid key= (cannot be empty)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidationError_Unwrap(t *testing.T) {
	verr := NewValidationError("test", "field", 0, "test")
	if !errors.Is(verr, ErrInvalidConfiguration) {
		t.Error("ValidationError should wrap ErrInvalidConfiguration")
	}
	if errors.Is(verr, ErrInvalidRequest) {
		t.Error("configuration errors must not match ErrInvalidRequest")
	}

	rerr := NewRequestError("distributed", "tokens", 0, "must be positive")
	if !errors.Is(rerr, ErrInvalidRequest) {
		t.Error("request error should wrap ErrInvalidRequest")
	}
	if !IsValidationError(rerr) {
		t.Error("request error should still be a ValidationError")
	}
}

func TestValidationError_WithHint(t *testing.T) {
	err := NewValidationError("test", "field", 1, "reason")
	result := err.WithHint("helpful hint")

	if err.Hint != "helpful hint" {
		t.Errorf("Hint = %q, want %q", err.Hint, "helpful hint")
	}
	if result != err {
		t.Error("WithHint should return the same instance")
	}
}

func TestOperationError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *OperationError
		want string
	}{
		{
			name: "without context",
			err: &OperationError{
				Module:    "redisstore",
				Operation: "EvalSha",
				Cause:     errors.New("connection refused"),
			},
			want: "redisstore.EvalSha failed: connection refused",
		},
		{
			name: "with context",
			err: &OperationError{
				Module:    "badgerstore",
				Operation: "WriteIfVersion",
				Cause:     errors.New("disk full"),
				Context:   "key=api",
			},
			want: "badgerstore.WriteIfVersion failed: disk full (key=api)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOperationError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	opErr := NewOperationError("test", "test", cause).WithContext("ctx")

	if opErr.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", opErr.Unwrap(), cause)
	}
	if !errors.Is(opErr, cause) {
		t.Error("OperationError should wrap the cause error")
	}
}

func TestClassify(t *testing.T) {
	cause := context.DeadlineExceeded
	err := Classify(ErrStoreUnavailable, cause)

	if !errors.Is(err, ErrStoreUnavailable) {
		t.Error("classified error should match the kind")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("classified error should keep the cause")
	}
	if Classify(ErrStoreUnavailable, nil) != nil {
		t.Error("classifying nil should return nil")
	}
	if again := Classify(ErrStoreUnavailable, err); again != err {
		t.Error("classifying an already classified error should not rewrap it")
	}
}

func TestIsStoreFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unavailable", Classify(ErrStoreUnavailable, errors.New("dial tcp")), true},
		{"bad script", ErrBadScript, true},
		{"corrupt", ErrCorruptState, true},
		{"contention", ErrContentionExceeded, false},
		{"invalid request", NewRequestError("m", "n", 0, "bad"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsStoreFailure(tt.err); got != tt.want {
				t.Errorf("IsStoreFailure() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	err := NewValidationError("mymodule", "myfield", 42, "must be less than 10").
		WithHint("use a value between 0 and 10")

	msg := err.Error()
	for _, part := range []string{"mymodule", "myfield", "42", "must be less than 10", "use a value between 0 and 10"} {
		if !strings.Contains(msg, part) {
			t.Errorf("error message should contain %q, got %q", part, msg)
		}
	}
}
