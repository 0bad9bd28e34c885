package learning

import (
	"context"
	"sync"

	"github.com/wavecore/botdetect/internal/reputation"
)

// ReputationHandler applies HighConfidenceDetection, ResponseFeedback and
// UserFeedback events to the shared reputation store, spec.md §4.6 "SignatureFeedbackHandler".
type ReputationHandler struct {
	store *reputation.Store
}

// NewReputationHandler wraps store as a learning.Handler.
func NewReputationHandler(store *reputation.Store) *ReputationHandler {
	return &ReputationHandler{store: store}
}

func (h *ReputationHandler) Name() string { return "reputation" }

func (h *ReputationHandler) Types() []EventType {
	return []EventType{HighConfidenceDetection, ResponseFeedback, UserFeedback}
}

func (h *ReputationHandler) HandleBatch(_ context.Context, events []Event) {
	for _, e := range events {
		if e.SignatureHash == "" {
			continue
		}
		label := 0.0
		if e.Label != nil && *e.Label {
			label = 1.0
		} else if e.Label == nil {
			// No ground truth: use confidence as a soft label, biased
			// toward "bot" only when confidence itself is high, matching
			// the EMA update law's expectation of label in {0,1} while
			// still letting uncertain events nudge the score gently.
			label = e.Confidence
		}
		h.store.Update(e.SignatureHash, label, e.Confidence)
	}
}

// ResponseFeedbackPoster implements signature.FeedbackPoster without the
// learning package importing the signature package, avoiding a cycle
// (signature already imports reputation; learning stays a leaf consumer of
// both via this small adapter type instead).
type ResponseFeedbackPoster struct {
	bus *Bus
}

// NewResponseFeedbackPoster adapts a Bus into the interface signature.Manager
// expects for posting ResponseFeedback events.
func NewResponseFeedbackPoster(bus *Bus) *ResponseFeedbackPoster {
	return &ResponseFeedbackPoster{bus: bus}
}

// PostResponseFeedback posts a ResponseFeedback event carrying the
// signature's aberration score as its confidence and the observed bot
// probability as a soft label hint.
func (p *ResponseFeedbackPoster) PostResponseFeedback(signatureHash string, botProbability float64, aberrationScore float64) {
	label := botProbability >= 0.5
	p.bus.Publish(Event{
		Type:          ResponseFeedback,
		SignatureHash: signatureHash,
		Confidence:    aberrationScore,
		Label:         &label,
		Features: map[string]interface{}{
			"request_bot_probability": botProbability,
		},
	})
}

// WeightStore maintains a per-detector EMA of "was this detector's
// contribution on the winning side of the final verdict", SPEC_FULL.md
// §4.6. It is consumed as a floor multiplier beneath any explicit policy
// weight override.
type WeightStore struct {
	mu      sync.RWMutex
	weights map[string]float64
	alpha   float64
}

// NewWeightStore constructs a WeightStore with the given EMA rate (default
// 0.05, deliberately slower than reputation's 0.1 since it is a coarser,
// framework-wide signal, per SPEC_FULL.md §4.6).
func NewWeightStore(alpha float64) *WeightStore {
	if alpha <= 0 {
		alpha = 0.05
	}
	return &WeightStore{weights: make(map[string]float64), alpha: alpha}
}

// CurrentWeight returns detectorName's current EMA weight, defaulting to 1.0
// for a detector with no observations yet.
func (w *WeightStore) CurrentWeight(detectorName string) float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if v, ok := w.weights[detectorName]; ok {
		return v
	}
	return 1.0
}

// Observe records whether detectorName's contribution was on the winning
// side (agreed with the final verdict direction) for one request.
func (w *WeightStore) Observe(detectorName string, onWinningSide bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cur, ok := w.weights[detectorName]
	if !ok {
		cur = 1.0
	}
	label := 0.0
	if onWinningSide {
		label = 1.0
	}
	w.weights[detectorName] = (1-w.alpha)*cur + w.alpha*label*2 // rescale label {0,1} onto a {0,2} weight range around 1.0
}
