package core

import "fmt"

// FailureCode classifies a business-rule failure.
type FailureCode string

const (
	FailureNotFound            FailureCode = "not_found"
	FailureInvalidState        FailureCode = "invalid_state"
	FailureLimitExceeded       FailureCode = "limit_exceeded"
	FailureInsufficientBalance FailureCode = "insufficient_balance"
	FailureAlreadyUnlocked     FailureCode = "already_unlocked"
)

// Failure is the failure side of a Result. It satisfies error so callers
// that prefer error flow can use it directly.
type Failure struct {
	Code    FailureCode `json:"code"`
	Message string      `json:"message"`
}

func (f *Failure) Error() string { return fmt.Sprintf("%s: %s", f.Code, f.Message) }

// Is lets errors.Is match a Failure against the sentinel kinds.
func (f *Failure) Is(target error) bool {
	switch f.Code {
	case FailureNotFound:
		return target == ErrNotFound
	case FailureInvalidState:
		return target == ErrInvalidState
	case FailureLimitExceeded:
		return target == ErrLimitExceeded
	case FailureInsufficientBalance:
		return target == ErrInsufficientBalance
	case FailureAlreadyUnlocked:
		return target == ErrAlreadyUnlocked
	}
	return false
}

// Result is a discriminated success/failure value returned by operations
// that can fail for business reasons (wrong state, not found, cap reached).
type Result[T any] struct {
	Value   T        `json:"value"`
	Failure *Failure `json:"failure,omitempty"`
}

// Succeed wraps v as a successful result.
func Succeed[T any](v T) Result[T] { return Result[T]{Value: v} }

// Fail builds a failed result.
func Fail[T any](code FailureCode, format string, args ...any) Result[T] {
	return Result[T]{Failure: &Failure{Code: code, Message: fmt.Sprintf(format, args...)}}
}

// OK reports whether the operation succeeded.
func (r Result[T]) OK() bool { return r.Failure == nil }

// Err returns the failure as an error, or nil on success.
func (r Result[T]) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}
