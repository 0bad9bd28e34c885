package telemetry_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavecore/botdetect/internal/telemetry"
)

func TestNewProvider_RequiresServiceName(t *testing.T) {
	_, err := telemetry.NewProvider("", "")
	assert.Error(t, err)
}

func TestNewProvider_EmptyEndpointUsesStdoutExporter(t *testing.T) {
	p, err := telemetry.NewProvider("botdetectd-test", "")
	require.NoError(t, err)
	require.NotNil(t, p)
	defer p.Shutdown(context.Background())

	assert.NotNil(t, p.Tracer())
}

func TestProvider_StartSpan_ReturnsNonNilSpan(t *testing.T) {
	p, err := telemetry.NewProvider("botdetectd-test", "")
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	_, span := p.StartSpan(context.Background(), "test-span")
	assert.NotNil(t, span)
	span.End()
}

func TestProvider_RecordMethods_DoNotPanic(t *testing.T) {
	p, err := telemetry.NewProvider("botdetectd-test", "")
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	ctx := context.Background()
	assert.NotPanics(t, func() {
		p.RecordWaveDuration(ctx, 10*time.Millisecond, 0)
		p.RecordDetectorDuration(ctx, 5*time.Millisecond, "det")
		p.RecordDetectorFailure(ctx, "det")
		p.RecordReputationTransition(ctx, "neutral", "suspect")
		p.RecordAberrationScore(ctx, 0.5)
		p.RecordEventsDropped(ctx, 3)
	})
}

func TestProvider_Shutdown_ReturnsNoError(t *testing.T) {
	p, err := telemetry.NewProvider("botdetectd-test", "")
	require.NoError(t, err)

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewTracedHTTPClient_WrapsNilClient(t *testing.T) {
	client := telemetry.NewTracedHTTPClient(nil)
	require.NotNil(t, client)
	assert.NotNil(t, client.Transport)
}

func TestNewTracedHTTPClient_WrapsExistingTransport(t *testing.T) {
	base := &http.Client{Timeout: time.Second}
	client := telemetry.NewTracedHTTPClient(base)
	assert.Same(t, base, client)
	assert.NotNil(t, client.Transport)
}
