// Package response implements the response coordinator: the hook called
// once an HTTP response is known, closing the loop between the orchestrator
// (request tier) and the signature/learning tiers. Supplemented component,
// SPEC_FULL.md §4.5 — spec.md's data flow diagram names it but leaves its
// contract unspecified. Grounded on the teacher's orchestration.ResultStore
// completion hook (orchestration/executor.go's step-completion callback): a
// thin coordinator invoked after the fact, not a component in the
// request-path critical path.
package response

import (
	"time"

	"github.com/wavecore/botdetect/internal/learning"
	"github.com/wavecore/botdetect/internal/logging"
	"github.com/wavecore/botdetect/internal/orchestrator"
	"github.com/wavecore/botdetect/internal/pii"
	"github.com/wavecore/botdetect/internal/signal"
	"github.com/wavecore/botdetect/internal/signature"
)

// Recorder is the narrow view of signature.Manager the coordinator needs.
type Recorder interface {
	Record(summary signature.OperationSummary)
}

// Publisher is the narrow view of learning.Bus the coordinator needs.
type Publisher interface {
	Publish(e learning.Event)
}

// WeightObserver is the narrow view of learning.WeightStore the coordinator
// needs to feed the final verdict back into the per-detector weight floor,
// SPEC_FULL.md §4.6.
type WeightObserver interface {
	Observe(detectorName string, onWinningSide bool)
}

// Coordinator observes completed HTTP exchanges and feeds them into the
// signature and learning tiers.
type Coordinator struct {
	recorder  Recorder
	publisher Publisher
	weights   WeightObserver
	logger    logging.Logger
}

// New constructs a Coordinator. publisher may be nil, in which case
// ResponseFeedback events are simply not posted (a degraded but valid
// configuration, spec.md §7's "every dependency is optional at the
// boundary").
func New(recorder Recorder, publisher Publisher, logger logging.Logger) *Coordinator {
	return &Coordinator{recorder: recorder, publisher: publisher, logger: logging.Default(logger)}
}

// WithWeights attaches a WeightObserver so every contributing detector's
// agreement with the final verdict is fed back into its learned weight
// floor. Omit to leave the weight floor at its neutral default of 1.0 for
// every detector.
func (c *Coordinator) WithWeights(w WeightObserver) *Coordinator {
	c.weights = w
	return c
}

// ObservedResponse carries what the HTTP boundary learns only after the
// orchestrator has already returned its Evidence: the status code actually
// written and any response-body evidence of bot behavior (e.g. a scanner
// probing for a 404 on a path it shouldn't know about).
type ObservedResponse struct {
	StatusCode     int
	ResponseScore  *float64
	ProcessingTime time.Duration
}

// Observe finalizes the OperationSummary for one completed exchange, hands
// it to the signature tier, and posts a ResponseFeedback learning event
// when the outcome warrants one. It operates on the same *signal.Sink the
// orchestrator populated during Run — not a second, response-scoped sink —
// per the "single shared operation sink" Open Question resolution.
func (c *Coordinator) Observe(reqCtx orchestrator.RequestContext, ev orchestrator.Evidence, signatureHash string, resp ObservedResponse) {
	summary := signature.OperationSummary{
		SignatureHash:         signatureHash,
		RequestID:             reqCtx.RequestID,
		Timestamp:             reqCtx.Now,
		Path:                  pii.GeneralizePath(reqCtx.Path),
		Method:                reqCtx.Method,
		StatusCode:            resp.StatusCode,
		RequestBotProbability: ev.BotProbability,
		ResponseScore:         resp.ResponseScore,
		ProcessingTime:        resp.ProcessingTime,
		TriggerSignals:        signalMap(reqCtx.Sink),
	}

	if c.recorder != nil {
		c.recorder.Record(summary)
	}

	if c.weights != nil {
		finalVerdictBot := ev.BotProbability >= 0.5
		for _, contrib := range ev.Contributions {
			if contrib.ConfidenceDelta == 0 {
				continue
			}
			detectorVotedBot := contrib.ConfidenceDelta > 0
			c.weights.Observe(contrib.DetectorName, detectorVotedBot == finalVerdictBot)
		}
	}

	if c.publisher != nil && c.warrantsFeedback(summary, ev) {
		conf := ev.BotProbability
		c.publisher.Publish(learning.Event{
			Type:          learning.ResponseFeedback,
			Timestamp:     reqCtx.Now,
			SignatureHash: signatureHash,
			Confidence:    conf,
			Features: map[string]interface{}{
				"path":        summary.Path,
				"status_code": summary.StatusCode,
			},
		})
	}
}

// warrantsFeedback flags outcomes informative enough to post back to the
// learning bus: a high-confidence verdict paired with a response that
// either confirms it (block followed by a 401, 403 or 404 status, i.e. the
// caller kept probing) or contradicts it (allow followed by evidence the
// response itself carried a bot signal), spec.md's "feed back surprising
// outcomes" framing.
func (c *Coordinator) warrantsFeedback(summary signature.OperationSummary, ev orchestrator.Evidence) bool {
	if ev.BotProbability >= 0.85 && (summary.StatusCode == 401 || summary.StatusCode == 403 || summary.StatusCode == 404) {
		return true
	}
	if ev.BotProbability <= 0.15 && summary.ResponseScore != nil && *summary.ResponseScore >= 0.5 {
		return true
	}
	return false
}

func signalMap(sink *signal.Sink) map[string]interface{} {
	if sink == nil {
		return nil
	}
	all := sink.IterAll()
	out := make(map[string]interface{}, len(all))
	for _, s := range all {
		out[s.Key] = s.Value
	}
	return out
}
