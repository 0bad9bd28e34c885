package apperrors_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wavecore/botdetect/internal/apperrors"
)

func TestCoreError_Unwrap(t *testing.T) {
	err := apperrors.New("detector.Register", "config", apperrors.ErrDetectorExists)
	assert.True(t, errors.Is(err, apperrors.ErrDetectorExists))
}

func TestCoreError_Error_FormatsOpAndID(t *testing.T) {
	err := &apperrors.CoreError{Op: "signature.Record", Kind: "internal", ID: "abc123", Err: apperrors.ErrTimeout}
	assert.Equal(t, "signature.Record [abc123]: operation timed out", err.Error())
}

func TestCoreError_Error_FallsBackToMessage(t *testing.T) {
	err := &apperrors.CoreError{Kind: "config", Message: "bad policy manifest"}
	assert.Equal(t, "bad policy manifest", err.Error())
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, apperrors.IsTimeout(apperrors.New("x", "y", apperrors.ErrTimeout)))
	assert.False(t, apperrors.IsTimeout(apperrors.New("x", "y", apperrors.ErrCancelled)))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, apperrors.IsNotFound(apperrors.ErrDetectorNotFound))
	assert.True(t, apperrors.IsNotFound(apperrors.ErrPolicyNotFound))
	assert.True(t, apperrors.IsNotFound(apperrors.ErrActionPolicyNotFound))
	assert.False(t, apperrors.IsNotFound(apperrors.ErrTimeout))
}
