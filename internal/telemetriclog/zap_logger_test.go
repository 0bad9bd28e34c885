package telemetriclog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavecore/botdetect/internal/telemetriclog"
)

func TestNewDevelopment_ConstructsLogger(t *testing.T) {
	l, err := telemetriclog.NewDevelopment()
	require.NoError(t, err)
	require.NotNil(t, l)
	defer l.Sync()
}

func TestZapLogger_WithComponent_TagsSubsequentLogs(t *testing.T) {
	l, err := telemetriclog.NewDevelopment()
	require.NoError(t, err)
	defer l.Sync()

	tagged := l.WithComponent("orchestrator")
	assert.NotPanics(t, func() {
		tagged.Info("starting wave", map[string]interface{}{"wave": 0})
	})
}

func TestZapLogger_LevelMethods_DoNotPanic(t *testing.T) {
	l, err := telemetriclog.NewDevelopment()
	require.NoError(t, err)
	defer l.Sync()

	assert.NotPanics(t, func() {
		l.Info("info", nil)
		l.Warn("warn", nil)
		l.Error("error", nil)
		l.Debug("debug", nil)
	})
}

func TestZapLogger_ContextMethods_AttachRequestID(t *testing.T) {
	l, err := telemetriclog.NewDevelopment()
	require.NoError(t, err)
	defer l.Sync()

	ctx := telemetriclog.ContextWithRequestID(context.Background(), "req-42")
	assert.NotPanics(t, func() {
		l.InfoWithContext(ctx, "handled request", map[string]interface{}{"status": 200})
		l.WarnWithContext(ctx, "slow request", nil)
		l.ErrorWithContext(ctx, "failed request", nil)
		l.DebugWithContext(ctx, "debug request", nil)
	})
}

func TestZapLogger_ContextMethods_ToleratesMissingRequestID(t *testing.T) {
	l, err := telemetriclog.NewDevelopment()
	require.NoError(t, err)
	defer l.Sync()

	assert.NotPanics(t, func() {
		l.InfoWithContext(context.Background(), "no request id", nil)
	})
}
