// Package detectors holds the one illustrative, pluggable detector the
// core ships with as a reference: an LLM-backed escalation/verification
// detector. Concrete detector algorithms are explicitly out of scope
// (spec.md §1); this file exists only to give the VerificationProvider
// contract (SPEC_FULL.md §4.9) a runnable shape, grounded on the teacher's
// ai.Provider abstraction (ai/provider.go, ai/providers/base.go): a small
// interface plus one concrete adapter, not a hand-rolled HTTP client per
// call site.
package detectors

import (
	"context"
	"math/rand"
	"time"

	"github.com/wavecore/botdetect/internal/detector"
	"github.com/wavecore/botdetect/internal/signal"
	"github.com/wavecore/botdetect/internal/trigger"
)

// VerificationRequest carries the minimal context a verification provider
// needs to render a judgment, deliberately excluding raw UA/IP (kept
// in-memory only per spec.md §4.3's BlackboardState contract, never handed
// to an external provider wholesale without redaction upstream).
type VerificationRequest struct {
	Summary        string
	BotProbability float64
	Signals        map[string]interface{}
}

// VerificationResult is the provider's judgment.
type VerificationResult struct {
	Verdict    string // "bot", "human", "uncertain"
	Confidence float64
	Reasoning  string
}

// VerificationProvider is the pluggable LLM-provider contract.
type VerificationProvider interface {
	Verify(ctx context.Context, req VerificationRequest) (VerificationResult, error)
}

// AIEscalationDetector sends a sampled fraction of the requests it runs on
// to its VerificationProvider for LLM verification, at its own SamplingRate
// (default 1%, the "SafeBlock" Open Question resolution, SPEC_FULL.md
// §4.9). It runs once at least one earlier contribution is in (its
// DetectorCount trigger); it does not look at the running probability or
// at Policy.AISamplingRate. The provider call is made inline, bounded by
// the detector's execution timeout; a provider error or timeout is
// recorded as a failed detector like any other, never surfaced to the
// caller.
type AIEscalationDetector struct {
	detector.BaseMetadata
	Provider     VerificationProvider
	SamplingRate float64
	rng          *rand.Rand
}

// NewAIEscalationDetector constructs the detector with spec.md §9's 1%
// default sampling rate.
func NewAIEscalationDetector(provider VerificationProvider, samplingRate float64) *AIEscalationDetector {
	if samplingRate <= 0 {
		samplingRate = 0.01
	}
	return &AIEscalationDetector{
		BaseMetadata: detector.BaseMetadata{
			DetectorName:     "ai.escalation",
			DetectorCategory: "AIVerification",
			DetectorPriority: 900, // runs last: only meaningful once earlier waves have an opinion
			DetectorTriggers: []trigger.Condition{trigger.DetectorCount{Min: 1}},
			Timeout:          5 * time.Second,
			Optional:         true,
		},
		Provider:     provider,
		SamplingRate: samplingRate,
		rng:          rand.New(rand.NewSource(1)),
	}
}

func (d *AIEscalationDetector) Contribute(state detector.BlackboardState) ([]detector.Contribution, error) {
	if d.Provider == nil {
		return nil, nil
	}
	if d.rng.Float64() >= d.SamplingRate {
		return nil, nil
	}

	req := VerificationRequest{
		Summary:        "sampled verification for path " + state.Path,
		BotProbability: state.RunningBotProbability,
		Signals:        flatten(state.Sink),
	}
	result, err := d.Provider.Verify(state.Context, req)
	if err != nil {
		return nil, err
	}

	delta := 0.0
	switch result.Verdict {
	case "bot":
		delta = result.Confidence
	case "human":
		delta = -result.Confidence
	}

	return []detector.Contribution{{
		DetectorName:    d.Name(),
		Category:        d.Category(),
		ConfidenceDelta: delta,
		Weight:          0.5, // advisory signal, deliberately under-weighted vs. deterministic detectors
		Reason:          "AI verification: " + result.Reasoning,
		Signals: map[string]interface{}{
			"ai.verification.verdict":    result.Verdict,
			"ai.verification.confidence": result.Confidence,
		},
	}}, nil
}

// flatten reduces a sink's retained signals to a flat map for handoff to
// the provider, last-value-wins per key (the sink's own iteration order).
func flatten(sink *signal.Sink) map[string]interface{} {
	if sink == nil {
		return nil
	}
	all := sink.IterAll()
	out := make(map[string]interface{}, len(all))
	for _, sig := range all {
		out[sig.Key] = sig.Value
	}
	return out
}
