// Package apperrors provides structured error types shared across the
// bot-detection core, following the same Op/Kind/Err wrapping shape used
// throughout the rest of this module's packages.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for comparison via errors.Is().
var (
	ErrDetectorNotFound     = errors.New("detector not found")
	ErrDetectorExists       = errors.New("detector already registered")
	ErrPolicyNotFound       = errors.New("detection policy not found")
	ErrActionPolicyNotFound = errors.New("action policy not found")
	ErrSignatureEvicted     = errors.New("signature coordinator evicted")
	ErrSinkClosed           = errors.New("signal sink closed")
	ErrLearningBusFull      = errors.New("learning event bus full")
	ErrReputationConflict   = errors.New("reputation store conflict")
	ErrTimeout              = errors.New("operation timed out")
	ErrCancelled            = errors.New("operation cancelled")
)

// CoreError carries structured context about a failure inside the
// detection core: the operation that failed, a coarse kind for
// programmatic classification, an optional entity ID, and the wrapped
// cause.
type CoreError struct {
	Op      string
	Kind    string
	ID      string
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *CoreError) Unwrap() error { return e.Err }

// New builds a CoreError wrapping err for operation op, tagged with kind.
func New(op, kind string, err error) *CoreError {
	return &CoreError{Op: op, Kind: kind, Err: err}
}

// IsTimeout reports whether err is (or wraps) ErrTimeout.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// IsNotFound reports whether err is one of the "not found" sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDetectorNotFound) ||
		errors.Is(err, ErrPolicyNotFound) ||
		errors.Is(err, ErrActionPolicyNotFound)
}
