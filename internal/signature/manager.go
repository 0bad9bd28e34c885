package signature

import (
	"context"

	"github.com/wavecore/botdetect/internal/logging"
	"github.com/wavecore/botdetect/internal/reputation"
	"github.com/wavecore/botdetect/internal/telemetry"
)

// AberrationEvent is published to the signature sink (as signal
// "signature.aberration") when the score crosses the aberration threshold,
// spec.md §4.4.3 step 4.
type AberrationEvent struct {
	SignatureHash string
	Score         float64
	Lanes         []LaneOutput
}

// FeedbackPoster is the narrow interface Manager uses to post
// ResponseFeedback learning events, implemented by
// learning.ResponseFeedbackPoster.
type FeedbackPoster interface {
	PostResponseFeedback(signatureHash string, botProbability float64, aberrationScore float64)
}

// Manager combines the Registry, the keyed sequential queue, and the lane
// pipeline into the single spec.md §4.4.3 "record" operation.
type Manager struct {
	registry   *Registry
	queues     *Queues
	reputation *reputation.Store
	feedback   FeedbackPoster
	weights    AberrationWeights
	threshold  float64
	logger     logging.Logger
	hmacKey    []byte
	telemetry  *telemetry.Provider
}

// NewManager wires a signature Registry, its keyed queue, the shared
// reputation store, and an optional learning-feedback sink.
func NewManager(registry *Registry, queues *Queues, repStore *reputation.Store, feedback FeedbackPoster, hmacKey []byte, logger logging.Logger) *Manager {
	return &Manager{
		registry:   registry,
		queues:     queues,
		reputation: repStore,
		feedback:   feedback,
		weights:    DefaultAberrationWeights(),
		threshold:  0.7,
		hmacKey:    hmacKey,
		logger:     logging.Default(logger),
	}
}

// WithTelemetry attaches a telemetry.Provider so aberration scores are
// recorded as they're computed; nil-safe to omit.
func (m *Manager) WithTelemetry(p *telemetry.Provider) *Manager {
	m.telemetry = p
	return m
}

// ComputeSignature derives the signature hash for a request, spec.md §4.4.1.
func (m *Manager) ComputeSignature(uaShape UAShape, clientIP string, fingerprintHash string) string {
	return HashSignature(m.hmacKey, uaShape, clientIP, fingerprintHash)
}

// Record enqueues summary for sequential processing under its
// SignatureHash, spec.md §4.4.3. Returns immediately; the actual lane
// pipeline runs asynchronously on the per-key queue.
func (m *Manager) Record(summary OperationSummary) {
	hash := summary.SignatureHash
	m.queues.Enqueue(hash, func() {
		m.process(hash, summary)
	})
}

func (m *Manager) process(hash string, summary OperationSummary) {
	coord := m.registry.GetOrCreate(hash)
	coord.appendSummary(summary)
	window := coord.Window()

	if len(window) < MinRequestsForAberration {
		return
	}

	outputs := []LaneOutput{
		BehavioralLane(window),
		m.reputationLane(hash, summary),
		ContentLane(window),
	}
	if len(window) >= MinWindowForSpectral {
		outputs = append(outputs, SpectralLane(window))
	}

	score := CombineLanes(outputs, m.weights, window)
	coord.setAberration(score)
	if m.telemetry != nil {
		m.telemetry.RecordAberrationScore(context.Background(), score)
	}

	details := map[string]interface{}{"score": score}
	for _, o := range outputs {
		details[o.Name] = o.Score
	}
	coord.Sink().Raise("signature.behavior", details, "signature.coordinator")

	if score >= m.threshold {
		coord.Sink().Raise("signature.aberration", AberrationEvent{SignatureHash: hash, Score: score, Lanes: outputs}, "signature.coordinator")
	}

	if m.feedback != nil && warrantsFeedback(summary) {
		m.feedback.PostResponseFeedback(hash, summary.RequestBotProbability, score)
	}
}

func (m *Manager) reputationLane(hash string, summary OperationSummary) LaneOutput {
	if m.reputation == nil {
		return ReputationLane(ReputationBias{})
	}
	sigRep, _ := m.reputation.Get(hash)
	bias := ReputationBias{SignatureScore: sigRep.BotScore}
	return ReputationLane(bias)
}

// warrantsFeedback decides whether an operation outcome should trigger a
// ResponseFeedback learning event: any clearly extreme verdict (very high
// or very low bot probability) or a 401/403/404 response is informative
// enough to feed back.
func warrantsFeedback(summary OperationSummary) bool {
	if summary.RequestBotProbability >= 0.85 || summary.RequestBotProbability <= 0.1 {
		return true
	}
	if summary.StatusCode == 404 || summary.StatusCode == 401 || summary.StatusCode == 403 {
		return true
	}
	return false
}

// ReputationBiasFor computes the bot_probability uplift a fresh request
// from signatureHash should receive given its current aberration score,
// used by detectors that want to fold signature-level aberration into
// their own contribution (spec.md Scenario E: "at least 0.15 higher than
// an identical request from a fresh signature").
func ReputationBiasFor(aberrationScore float64) float64 {
	if aberrationScore < 0.7 {
		return 0
	}
	return 0.15 + 0.15*(aberrationScore-0.7)/0.3
}

// Lookup exposes the underlying coordinator for a hash, if present, so
// detectors can read its last aberration score synchronously without
// waiting on the async queue.
func (m *Manager) Lookup(hash string) (*Coordinator, bool) {
	return m.registry.Lookup(hash)
}
