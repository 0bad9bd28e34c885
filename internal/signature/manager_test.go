package signature_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavecore/botdetect/internal/logging"
	"github.com/wavecore/botdetect/internal/reputation"
	"github.com/wavecore/botdetect/internal/signature"
)

// drainSync blocks until every previously Enqueue'd item for hash has run,
// by riding the same sequential queue: this sentinel only runs after them.
func drainSync(t *testing.T, queues *signature.Queues, hash string) {
	t.Helper()
	done := make(chan struct{})
	queues.Enqueue(hash, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queue did not drain in time")
	}
}

func newTestManager(t *testing.T, feedback signature.FeedbackPoster) (*signature.Manager, *signature.Registry, *signature.Queues) {
	t.Helper()
	registry := signature.NewRegistry(10, time.Hour, 100, nil)
	queues := signature.NewQueues(100, logging.NoOpLogger{})
	repStore := reputation.New(reputation.DefaultThresholds(), 0, nil)
	mgr := signature.NewManager(registry, queues, repStore, feedback, []byte("test-hmac-key-0123456789012345"), logging.NoOpLogger{})
	return mgr, registry, queues
}

func TestManager_ComputeSignature_DeterministicPerRequestShape(t *testing.T) {
	mgr, _, _ := newTestManager(t, nil)
	shape := signature.UAShape{Family: "chrome", Platform: "windows", LengthBucket: signature.LengthNormal}

	h1 := mgr.ComputeSignature(shape, "1.2.3.4", "fp")
	h2 := mgr.ComputeSignature(shape, "1.2.3.4", "fp")
	assert.Equal(t, h1, h2)
}

func TestManager_Record_BelowMinRequestsLeavesAberrationZero(t *testing.T) {
	mgr, registry, queues := newTestManager(t, nil)
	hash := "hash-a"

	for i := 0; i < signature.MinRequestsForAberration-1; i++ {
		mgr.Record(signature.OperationSummary{SignatureHash: hash, Path: "/x", Timestamp: time.Unix(int64(i), 0), StatusCode: 200})
	}
	drainSync(t, queues, hash)

	coord, ok := registry.Lookup(hash)
	require.True(t, ok)
	assert.Equal(t, 0.0, coord.LastAberrationScore())
}

func TestManager_Record_PopulatesWindowAndComputesAberration(t *testing.T) {
	mgr, registry, queues := newTestManager(t, nil)
	hash := "hash-b"

	for i := 0; i < signature.MinRequestsForAberration+2; i++ {
		mgr.Record(signature.OperationSummary{
			SignatureHash: hash,
			Path:          "/api/resource",
			Timestamp:     time.Unix(int64(i), 0),
			StatusCode:    200,
		})
	}
	drainSync(t, queues, hash)

	coord, ok := registry.Lookup(hash)
	require.True(t, ok)
	assert.Len(t, coord.Window(), signature.MinRequestsForAberration+2)
}

func TestManager_Record_AberrationEventRaisedAboveThreshold(t *testing.T) {
	mgr, registry, queues := newTestManager(t, nil)
	hash := "hash-honeypot"

	for i := 0; i < signature.MinRequestsForAberration; i++ {
		signals := map[string]interface{}{}
		if i == 0 {
			signals["honeypot.hit"] = true
		}
		mgr.Record(signature.OperationSummary{
			SignatureHash:  hash,
			Path:           "/trap",
			Timestamp:      time.Unix(int64(i), 0),
			StatusCode:     200,
			TriggerSignals: signals,
		})
	}
	drainSync(t, queues, hash)

	coord, ok := registry.Lookup(hash)
	require.True(t, ok)
	assert.Equal(t, 1.0, coord.LastAberrationScore())
	assert.True(t, coord.Sink().Has("signature.aberration"))
}

type stubFeedback struct {
	calls []struct {
		hash            string
		botProbability  float64
		aberrationScore float64
	}
}

func (s *stubFeedback) PostResponseFeedback(signatureHash string, botProbability float64, aberrationScore float64) {
	s.calls = append(s.calls, struct {
		hash            string
		botProbability  float64
		aberrationScore float64
	}{signatureHash, botProbability, aberrationScore})
}

func TestManager_Record_PostsFeedbackOnExtremeVerdict(t *testing.T) {
	fb := &stubFeedback{}
	mgr, _, queues := newTestManager(t, fb)
	hash := "hash-feedback"

	for i := 0; i < signature.MinRequestsForAberration; i++ {
		mgr.Record(signature.OperationSummary{
			SignatureHash:         hash,
			Path:                  "/x",
			Timestamp:             time.Unix(int64(i), 0),
			StatusCode:            200,
			RequestBotProbability: 0.95,
		})
	}
	drainSync(t, queues, hash)

	require.Len(t, fb.calls, 1)
	assert.Equal(t, hash, fb.calls[0].hash)
}

func TestManager_Record_NoFeedbackOnOrdinaryVerdict(t *testing.T) {
	fb := &stubFeedback{}
	mgr, _, queues := newTestManager(t, fb)
	hash := "hash-no-feedback"

	for i := 0; i < signature.MinRequestsForAberration; i++ {
		mgr.Record(signature.OperationSummary{
			SignatureHash:         hash,
			Path:                  "/x",
			Timestamp:             time.Unix(int64(i), 0),
			StatusCode:            200,
			RequestBotProbability: 0.5,
		})
	}
	drainSync(t, queues, hash)

	assert.Empty(t, fb.calls)
}

func TestManager_Lookup_AbsentSignature(t *testing.T) {
	mgr, _, _ := newTestManager(t, nil)
	_, ok := mgr.Lookup("missing")
	assert.False(t, ok)
}

func TestReputationBiasFor_BelowThresholdIsZero(t *testing.T) {
	assert.Equal(t, 0.0, signature.ReputationBiasFor(0.69))
}

func TestReputationBiasFor_MonotonicAboveThreshold(t *testing.T) {
	low := signature.ReputationBiasFor(0.7)
	high := signature.ReputationBiasFor(1.0)
	assert.Equal(t, 0.15, low)
	assert.InDelta(t, 0.3, high, 1e-9)
	assert.Greater(t, high, low)
}
