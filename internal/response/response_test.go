package response_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavecore/botdetect/internal/detector"
	"github.com/wavecore/botdetect/internal/learning"
	"github.com/wavecore/botdetect/internal/logging"
	"github.com/wavecore/botdetect/internal/orchestrator"
	"github.com/wavecore/botdetect/internal/response"
	"github.com/wavecore/botdetect/internal/signal"
	"github.com/wavecore/botdetect/internal/signature"
)

type recordingRecorder struct {
	summaries []signature.OperationSummary
}

func (r *recordingRecorder) Record(s signature.OperationSummary) {
	r.summaries = append(r.summaries, s)
}

type recordingPublisher struct {
	events []learning.Event
}

func (p *recordingPublisher) Publish(e learning.Event) {
	p.events = append(p.events, e)
}

func newCtx() orchestrator.RequestContext {
	return orchestrator.RequestContext{
		RequestID: "req-1",
		Path:      "/users/123456789",
		Method:    "GET",
		Now:       time.Unix(0, 0),
		Sink:      signal.NewOperationSink(),
	}
}

func TestCoordinator_Observe_RecordsGeneralizedPath(t *testing.T) {
	rec := &recordingRecorder{}
	c := response.New(rec, nil, logging.NoOpLogger{})

	c.Observe(newCtx(), orchestrator.Evidence{BotProbability: 0.5}, "sig-1", response.ObservedResponse{StatusCode: 200})

	require.Len(t, rec.summaries, 1)
	assert.Equal(t, "/users/*", rec.summaries[0].Path)
	assert.Equal(t, "sig-1", rec.summaries[0].SignatureHash)
}

func TestCoordinator_Observe_NilRecorderDoesNotPanic(t *testing.T) {
	c := response.New(nil, nil, logging.NoOpLogger{})
	assert.NotPanics(t, func() {
		c.Observe(newCtx(), orchestrator.Evidence{}, "sig-1", response.ObservedResponse{StatusCode: 200})
	})
}

func TestCoordinator_Observe_PublishesFeedbackWhenBlockedThenProbed(t *testing.T) {
	pub := &recordingPublisher{}
	c := response.New(nil, pub, logging.NoOpLogger{})

	c.Observe(newCtx(), orchestrator.Evidence{BotProbability: 0.9}, "sig-1", response.ObservedResponse{StatusCode: 404})

	require.Len(t, pub.events, 1)
	assert.Equal(t, learning.ResponseFeedback, pub.events[0].Type)
}

func TestCoordinator_Observe_PublishesFeedbackWhenAllowedButResponseScoreHigh(t *testing.T) {
	pub := &recordingPublisher{}
	c := response.New(nil, pub, logging.NoOpLogger{})

	score := 0.7
	c.Observe(newCtx(), orchestrator.Evidence{BotProbability: 0.1}, "sig-1", response.ObservedResponse{StatusCode: 200, ResponseScore: &score})

	require.Len(t, pub.events, 1)
}

func TestCoordinator_Observe_NoFeedbackOnOrdinaryOutcome(t *testing.T) {
	pub := &recordingPublisher{}
	c := response.New(nil, pub, logging.NoOpLogger{})

	c.Observe(newCtx(), orchestrator.Evidence{BotProbability: 0.5}, "sig-1", response.ObservedResponse{StatusCode: 200})

	assert.Empty(t, pub.events)
}

type recordingWeightObserver struct {
	calls []struct {
		name          string
		onWinningSide bool
	}
}

func (w *recordingWeightObserver) Observe(detectorName string, onWinningSide bool) {
	w.calls = append(w.calls, struct {
		name          string
		onWinningSide bool
	}{detectorName, onWinningSide})
}

func TestCoordinator_Observe_FeedsWinningAndLosingDetectorsToWeightObserver(t *testing.T) {
	w := &recordingWeightObserver{}
	c := response.New(nil, nil, logging.NoOpLogger{}).WithWeights(w)

	ev := orchestrator.Evidence{
		BotProbability: 0.9,
		Contributions: []detector.Contribution{
			{DetectorName: "agreed", ConfidenceDelta: 0.7},
			{DetectorName: "disagreed", ConfidenceDelta: -0.3},
			{DetectorName: "abstained", ConfidenceDelta: 0},
		},
	}
	c.Observe(newCtx(), ev, "sig-1", response.ObservedResponse{StatusCode: 200})

	require.Len(t, w.calls, 2)
	byName := map[string]bool{}
	for _, call := range w.calls {
		byName[call.name] = call.onWinningSide
	}
	assert.True(t, byName["agreed"])
	assert.False(t, byName["disagreed"])
	_, sawAbstained := byName["abstained"]
	assert.False(t, sawAbstained)
}

func TestCoordinator_Observe_NilWeightObserverSkipsFeedback(t *testing.T) {
	c := response.New(nil, nil, logging.NoOpLogger{})
	assert.NotPanics(t, func() {
		c.Observe(newCtx(), orchestrator.Evidence{Contributions: []detector.Contribution{{DetectorName: "x", ConfidenceDelta: 0.5}}}, "sig-1", response.ObservedResponse{StatusCode: 200})
	})
}

func TestCoordinator_Observe_CarriesSinkSignalsIntoTriggerSignals(t *testing.T) {
	rec := &recordingRecorder{}
	c := response.New(rec, nil, logging.NoOpLogger{})

	ctx := newCtx()
	ctx.Sink.Raise("captcha.solved", true, "test")

	c.Observe(ctx, orchestrator.Evidence{}, "sig-1", response.ObservedResponse{StatusCode: 200})

	require.Len(t, rec.summaries, 1)
	assert.Equal(t, true, rec.summaries[0].TriggerSignals["captcha.solved"])
}
