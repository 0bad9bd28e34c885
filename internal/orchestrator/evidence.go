// Package orchestrator implements the blackboard orchestrator: wave
// scheduling, trigger evaluation, early exit, and evidence aggregation.
// The wave/semaphore/retry shape is grounded on the teacher's
// orchestration.SmartExecutor (orchestration/executor.go), which dispatches
// routing-plan steps with bounded concurrency, per-step timeouts, and a
// dependency-aware execution order — generalized here to detector "waves"
// triggered by signals rather than a static dependency graph.
package orchestrator

import (
	"time"

	"github.com/wavecore/botdetect/internal/detector"
	"github.com/wavecore/botdetect/internal/signal"
)

// RiskBand is the discrete label derived from bot_probability, spec.md §4.1.3.
type RiskBand string

const (
	RiskVeryLow  RiskBand = "VeryLow"
	RiskLow      RiskBand = "Low"
	RiskElevated RiskBand = "Elevated"
	RiskMedium   RiskBand = "Medium"
	RiskHigh     RiskBand = "High"
	RiskVeryHigh RiskBand = "VeryHigh"
	RiskVerified RiskBand = "Verified"
)

// BandForProbability is a pure function of bot_probability, spec.md §4.1.3's
// table. Two requests with the same probability always get the same band
// (spec.md §8.1 invariant 3).
func BandForProbability(p float64) RiskBand {
	switch {
	case p < 0.15:
		return RiskVeryLow
	case p < 0.30:
		return RiskLow
	case p < 0.55:
		return RiskElevated
	case p < 0.70:
		return RiskMedium
	case p < 0.85:
		return RiskHigh
	default:
		return RiskVeryHigh
	}
}

// Evidence is the per-request aggregation result, spec.md §3.1.
type Evidence struct {
	BotProbability       float64
	DetectionConfidence  float64
	RiskBand             RiskBand
	PrimaryBotType       string
	PrimaryBotName       string
	ContributingDetectors map[string]bool
	FailedDetectors      map[string]bool
	Signals              *signal.Sink
	Contributions        []detector.Contribution
	TotalProcessingTime  time.Duration
	PolicyName           string
	PolicyAction         string
	EarlyExit            bool
	EarlyExitVerdict     string
}

// clamp01 clamps x to [0, 1].
func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// clampDelta clamps a confidence_delta to [-1, 1], spec.md §3.3 / §8.1 invariant 1.
func clampDelta(x float64) float64 {
	if x < -1 {
		return -1
	}
	if x > 1 {
		return 1
	}
	return x
}

const (
	baselineWeight       = 5.0
	targetDetectorCount  = 6.0
	agreementEpsilon     = 1e-9
)

// Aggregate computes bot_probability and detection_confidence from the
// accumulated contributions, per spec.md §4.1.3's push-pull formula. It is
// pure and monotonic: adding a non-negative-delta contribution to contribs
// cannot decrease the returned probability, and symmetrically for
// non-positive deltas (spec.md §8.1 invariant 2) — the formula only ever
// adds to sum_pos or sum_neg, and bot_probability is non-decreasing in
// sum_pos and non-increasing in sum_neg.
func Aggregate(contribs []detector.Contribution, weightOverride func(detectorName string) float64) (botProbability, detectionConfidence float64) {
	var sumPos, sumNeg float64
	contributingCount := 0
	seen := make(map[string]bool, len(contribs))

	for _, c := range contribs {
		w := 1.0
		if weightOverride != nil {
			w = weightOverride(c.DetectorName)
		}
		weight := c.Weight
		if weight <= 0 {
			weight = 1.0
		}
		delta := clampDelta(c.ConfidenceDelta)
		if delta > 0 {
			sumPos += delta * weight * w
		} else if delta < 0 {
			sumNeg += (-delta) * weight * w
		}
		if !seen[c.DetectorName] {
			seen[c.DetectorName] = true
			contributingCount++
		}
	}

	denom := sumPos + sumNeg
	var score float64
	if denom > 1.0 {
		score = (sumPos - sumNeg) / denom
	} else {
		score = (sumPos - sumNeg) / 1.0
	}
	botProbability = clamp01(0.5 + 0.5*score)

	agreement := 0.0
	if denom+agreementEpsilon > 0 {
		m := sumPos
		if sumNeg > m {
			m = sumNeg
		}
		agreement = m / (denom + agreementEpsilon)
	}
	weightCoverage := clamp01(denom / baselineWeight)
	breadth := clamp01(float64(contributingCount) / targetDetectorCount)

	detectionConfidence = 0.40*agreement + 0.35*weightCoverage + 0.25*breadth
	return botProbability, detectionConfidence
}
