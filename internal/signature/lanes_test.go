package signature_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wavecore/botdetect/internal/signature"
)

func regularWindow(n int, interval time.Duration) []signature.OperationSummary {
	base := time.Unix(0, 0)
	out := make([]signature.OperationSummary, n)
	for i := 0; i < n; i++ {
		out[i] = signature.OperationSummary{
			Path:      "/api/resource/1",
			Timestamp: base.Add(time.Duration(i) * interval),
		}
	}
	return out
}

func TestBehavioralLane_EmptyWindow(t *testing.T) {
	out := signature.BehavioralLane(nil)
	assert.Equal(t, "behavioral", out.Name)
	assert.Equal(t, 0.0, out.Score)
}

func TestBehavioralLane_MechanicallyRegularTimingScoresHigh(t *testing.T) {
	window := regularWindow(20, time.Second)
	out := signature.BehavioralLane(window)
	assert.Greater(t, out.Score, 0.0)
}

func TestContentLane_HoneypotHitForcesMaxScore(t *testing.T) {
	window := []signature.OperationSummary{
		{StatusCode: 200, TriggerSignals: map[string]interface{}{"honeypot.hit": true}},
	}
	out := signature.ContentLane(window)
	assert.Equal(t, 1.0, out.Score)
}

func TestContentLane_NotFoundAndAuthFailuresContributeScore(t *testing.T) {
	window := []signature.OperationSummary{
		{StatusCode: 404}, {StatusCode: 404}, {StatusCode: 200}, {StatusCode: 200},
	}
	out := signature.ContentLane(window)
	assert.Greater(t, out.Score, 0.0)
}

func TestContentLane_EmptyWindowZeroScore(t *testing.T) {
	out := signature.ContentLane(nil)
	assert.Equal(t, 0.0, out.Score)
}

func TestReputationLane_WeightedCombination(t *testing.T) {
	out := signature.ReputationLane(signature.ReputationBias{
		SignatureScore: 1.0, UAScore: 1.0, IPRangeScore: 1.0, CombinedScore: 1.0,
	})
	assert.InDelta(t, 1.0, out.Score, 1e-9)
}

func TestReputationLane_ZeroBiasZeroScore(t *testing.T) {
	out := signature.ReputationLane(signature.ReputationBias{})
	assert.Equal(t, 0.0, out.Score)
}

func TestSpectralLane_BelowMinWindowReturnsZero(t *testing.T) {
	window := regularWindow(signature.MinWindowForSpectral-1, time.Second)
	out := signature.SpectralLane(window)
	assert.Equal(t, 0.0, out.Score)
}

func TestSpectralLane_AboveMinWindowReportsFeatures(t *testing.T) {
	window := regularWindow(signature.MinWindowForSpectral+5, time.Second)
	out := signature.SpectralLane(window)
	assert.GreaterOrEqual(t, out.Score, 0.0)
	assert.Contains(t, out.Details, "peak_to_average")
}

func TestCombineLanes_AnyLaneAtOrAboveNineTenthsForcesOne(t *testing.T) {
	outputs := []signature.LaneOutput{
		{Name: "behavioral", Score: 0.95},
		{Name: "content", Score: 0.1},
	}
	score := signature.CombineLanes(outputs, signature.DefaultAberrationWeights(), nil)
	assert.Equal(t, 1.0, score)
}

func TestCombineLanes_HoneypotHitForcesOne(t *testing.T) {
	outputs := []signature.LaneOutput{
		{Name: "content", Score: 0.1, Details: map[string]interface{}{"honeypot_hits": 1}},
	}
	score := signature.CombineLanes(outputs, signature.DefaultAberrationWeights(), nil)
	assert.Equal(t, 1.0, score)
}

func TestCombineLanes_WeightedSumWhenNoHardRuleFires(t *testing.T) {
	outputs := []signature.LaneOutput{
		{Name: "behavioral", Score: 0.2, Details: map[string]interface{}{"timing_cv": 0.5, "path_entropy": 1.0, "request_rate_per_min": 1.0, "path_sequentiality": 0.0}},
		{Name: "content", Score: 0.1},
	}
	weights := signature.DefaultAberrationWeights()
	score := signature.CombineLanes(outputs, weights, nil)
	expected := weights.Behavioral*0.2 + weights.Content*0.1
	assert.InDelta(t, expected, score, 1e-9)
}

func TestCombineLanes_HighRateHighSequentialityForcesAtLeast85(t *testing.T) {
	outputs := []signature.LaneOutput{
		{Name: "behavioral", Score: 0.5, Details: map[string]interface{}{
			"timing_cv": 0.5, "path_entropy": 1.0, "request_rate_per_min": 50.0, "path_sequentiality": 0.9,
		}},
	}
	score := signature.CombineLanes(outputs, signature.DefaultAberrationWeights(), nil)
	assert.GreaterOrEqual(t, score, 0.85)
}
