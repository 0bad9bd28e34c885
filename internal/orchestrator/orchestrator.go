package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wavecore/botdetect/internal/detector"
	"github.com/wavecore/botdetect/internal/logging"
	"github.com/wavecore/botdetect/internal/policy"
	"github.com/wavecore/botdetect/internal/signal"
	"github.com/wavecore/botdetect/internal/telemetry"
	"github.com/wavecore/botdetect/internal/trigger"
)

// RequestContext bundles the inputs an Orchestrator run needs, owned
// exclusively by one request and dropped at response completion, per
// spec.md §3.1.
type RequestContext struct {
	RequestID  string
	ClientAddr string
	UserAgent  string
	Path       string
	Method     string
	Headers    map[string][]string
	Now        time.Time
	Sink       *signal.Sink
}

// State is the orchestrator's own per-request lifecycle, spec.md §4.1.5.
type State int

const (
	StateCreated State = iota
	StateDispatching
	StateAggregating
	StateTimeout
	StateCancelled
	StateCompleted
)

// Default wave timeouts, spec.md §4.1.2. Policies whose detectors all
// belong to a single "wave tier" may override these via WaveTimeouts.
var defaultWaveTimeouts = []time.Duration{
	100 * time.Millisecond, // fast-path wave (0)
	500 * time.Millisecond, // mid wave (1)
	5 * time.Second,        // AI wave (2+)
}

// WeightProvider supplies a per-detector weight floor learned from
// feedback over time (SPEC_FULL.md §4.6: WeightStore's EMA of "was this
// detector's contribution on the winning side of the final verdict"),
// applied as a multiplier beneath any explicit policy or API-key weight
// override.
type WeightProvider interface {
	CurrentWeight(detectorName string) float64
}

// Orchestrator executes a resolved DetectionPolicy's detectors in waves and
// returns aggregated evidence. It never returns an error to its caller:
// every failure mode folds into the returned Evidence, per spec.md §7.
type Orchestrator struct {
	registry  *detector.Registry
	logger    logging.Logger
	telemetry *telemetry.Provider
	weights   WeightProvider

	detectorCancelBudget time.Duration
}

// Option configures an Orchestrator at construction, mirroring config.Option's shape.
type Option func(*Orchestrator)

// WithTelemetry attaches a telemetry.Provider; wave/detector durations and
// detector failures are recorded through it when set. Nil-safe: omit this
// option to run without telemetry.
func WithTelemetry(p *telemetry.Provider) Option {
	return func(o *Orchestrator) { o.telemetry = p }
}

// WithDetectorCancelBudget overrides the default grace period granted to a
// detector goroutine after cancellation.
func WithDetectorCancelBudget(d time.Duration) Option {
	return func(o *Orchestrator) { o.detectorCancelBudget = d }
}

// WithWeightStore attaches a learned per-detector weight floor; omit to run
// on explicit policy/API-key overrides alone.
func WithWeightStore(w WeightProvider) Option {
	return func(o *Orchestrator) { o.weights = w }
}

// New constructs an Orchestrator backed by registry.
func New(registry *detector.Registry, logger logging.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:             registry,
		logger:               logging.Default(logger),
		detectorCancelBudget: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ValidateDetectorReferences checks that every detector name referenced by
// any policy in policies is registered in registry, returning
// apperrors.ErrDetectorNotFound (wrapped with the offending policy name) on
// the first miss. SPEC_FULL.md §4.3 requires this to run once at startup —
// after every DetectionPolicy a deployment will serve has been registered,
// including any loaded from a policy manifest — so a misconfigured policy
// fails the process before the first request flows, rather than degrading
// silently per-request the way Run itself does (Run's own Resolve call
// exists only as a defense against policies registered after this check).
func ValidateDetectorReferences(registry *detector.Registry, policies []*policy.DetectionPolicy) error {
	for _, pol := range policies {
		if _, err := registry.Resolve(pol.Detectors); err != nil {
			return fmt.Errorf("policy %q: %w", pol.Name, err)
		}
	}
	return nil
}

type runningEvidence struct {
	mu                 sync.Mutex
	botProbability     float64
	contributionsCount int
}

func (r *runningEvidence) BotProbability() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.botProbability
}

func (r *runningEvidence) SuccessfulContributionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contributionsCount
}

func (r *runningEvidence) update(p float64, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.botProbability = p
	r.contributionsCount = count
}

// Run executes policy's detectors against reqCtx and returns the
// aggregated evidence. ctx, when cancelled, causes Run to return promptly
// with whatever partial evidence has been gathered (spec.md §4.1
// "Cancellation").
func (o *Orchestrator) Run(ctx context.Context, reqCtx RequestContext, pol *policy.DetectionPolicy, weightOverrides map[string]float64, disabled map[string]bool) Evidence {
	start := time.Now()
	state := StateCreated

	detectors, err := o.registry.Resolve(pol.Detectors)
	if err != nil {
		// A detector referenced by a policy must have been validated at
		// startup (SPEC_FULL.md §4.3); if it wasn't, degrade gracefully
		// rather than ever raising to the caller.
		o.logger.Error("policy references unknown detector", map[string]interface{}{"policy": pol.Name, "error": err.Error()})
	}

	var active []detector.Contributor
	for _, d := range detectors {
		if disabled != nil && disabled[d.Name()] {
			continue
		}
		active = append(active, d)
	}

	waves := assignWaves(active)

	contributions := make([]detector.Contribution, 0, len(active))
	contributingDetectors := make(map[string]bool)
	failedDetectors := make(map[string]bool)
	running := &runningEvidence{}

	policyTimeout := pol.Timeout
	if policyTimeout <= 0 {
		policyTimeout = 5 * time.Second
	}
	policyCtx, policyCancel := context.WithTimeout(ctx, policyTimeout)
	defer policyCancel()

	maxParallel := pol.MaxParallelDetectors
	if maxParallel <= 0 {
		maxParallel = 8
	}

	earlyExit := false
	earlyExitVerdict := ""

	state = StateDispatching
	// waves is processed as a FIFO queue rather than a fixed slice: a
	// detector not yet eligible when its assigned wave runs is deferred
	// onto the end of the queue instead of being dropped, so it still gets
	// a chance once a later round's contributions make its trigger
	// satisfiable (spec.md §4.1.1). maxRounds bounds the queue so a
	// detector whose trigger can never be satisfied this request (e.g. a
	// RiskExceeds threshold evidence never reaches) doesn't spin forever;
	// every detector can be deferred at most once per other detector still
	// outstanding, so len(active)+1 rounds is always enough for any
	// eventually-satisfiable set to finish.
	maxRounds := len(active) + 1
waveLoop:
	for waveIdx := 0; waveIdx < len(waves) && waveIdx < maxRounds; waveIdx++ {
		wave := waves[waveIdx]
		select {
		case <-ctx.Done():
			state = StateCancelled
			break waveLoop
		case <-policyCtx.Done():
			state = StateTimeout
			break waveLoop
		default:
		}

		eligible := make([]detector.Contributor, 0, len(wave))
		var notYetEligible []detector.Contributor
		for _, d := range wave {
			if trigger.EvaluateAll(d.Triggers(), reqCtx.Sink, running) {
				eligible = append(eligible, d)
			} else {
				notYetEligible = append(notYetEligible, d)
			}
		}
		if len(eligible) == 0 {
			if len(notYetEligible) > 0 {
				waves = append(waves, notYetEligible)
			}
			continue
		}

		waveTimeout := waveTimeoutFor(waveIdx)
		waveCtx, waveCancel := context.WithTimeout(policyCtx, waveTimeout)
		waveStart := time.Now()

		type result struct {
			name  string
			contr []detector.Contribution
			err   error
		}
		resultsCh := make(chan result, len(eligible))
		sem := make(chan struct{}, maxParallel)
		var wg sync.WaitGroup

		// Snapshot the completed/failed/contribution views once, before
		// dispatching this wave's goroutines, and hand every detector in
		// the wave the same immutable copies. The alternative — each
		// goroutine reading contributingDetectors/failedDetectors/
		// contributions directly — races against collectLoop concurrently
		// writing those same maps/slice as sibling results land, which is
		// a fatal, unrecoverable concurrent-map-access throw that recover()
		// cannot catch (spec.md §8.1 invariant 6: never raises).
		snapshotCompleted := keysOfMap(contributingDetectors)
		snapshotFailed := keysOfMap(failedDetectors)
		snapshotContributions := append([]detector.Contribution(nil), contributions...)

		for _, d := range eligible {
			d := d
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				defer func() {
					if r := recover(); r != nil {
						resultsCh <- result{name: d.Name(), err: fmt.Errorf("panic: %v", r)}
					}
				}()

				detTimeout := d.ExecutionTimeout()
				if detTimeout <= 0 {
					detTimeout = 2 * time.Second
				}
				detCtx, detCancel := context.WithTimeout(waveCtx, detTimeout)
				defer detCancel()

				bs := detector.BlackboardState{
					Context:               detCtx,
					RequestID:             reqCtx.RequestID,
					ClientAddr:            reqCtx.ClientAddr,
					UserAgent:             reqCtx.UserAgent,
					Path:                  reqCtx.Path,
					Method:                reqCtx.Method,
					Headers:               reqCtx.Headers,
					Now:                   reqCtx.Now,
					Sink:                  reqCtx.Sink,
					CompletedDetectors:    snapshotCompleted,
					FailedDetectors:       snapshotFailed,
					Contributions:         snapshotContributions,
					RunningBotProbability: running.BotProbability(),
					Elapsed:               time.Since(start),
				}

				detStart := time.Now()
				contribs, err := d.Contribute(bs)
				if o.telemetry != nil {
					o.telemetry.RecordDetectorDuration(detCtx, time.Since(detStart), d.Name())
				}
				if detCtx.Err() != nil && err == nil {
					err = detCtx.Err()
				}
				if err != nil && o.telemetry != nil {
					o.telemetry.RecordDetectorFailure(ctx, d.Name())
				}
				resultsCh <- result{name: d.Name(), contr: contribs, err: err}
			}()
		}

		go func() {
			wg.Wait()
			close(resultsCh)
		}()

	collectLoop:
		for {
			select {
			case <-ctx.Done():
				state = StateCancelled
				waveCancel()
				break collectLoop
			case r, ok := <-resultsCh:
				if !ok {
					break collectLoop
				}
				if r.err != nil {
					failedDetectors[r.name] = true
					o.logger.Debug("detector failed", map[string]interface{}{"detector": r.name, "error": r.err.Error()})
					continue
				}
				for _, c := range r.contr {
					c.ConfidenceDelta = clampDelta(c.ConfidenceDelta)
					if c.Weight <= 0 {
						c.Weight = 1.0
					}
					for k, v := range c.Signals {
						reqCtx.Sink.Raise(k, v, c.DetectorName)
					}
					contributions = append(contributions, c)
					contributingDetectors[c.DetectorName] = true
					if c.TriggerEarlyExit {
						earlyExit = true
						if c.VerifiedGoodBot {
							earlyExitVerdict = string(RiskVerified)
						} else {
							earlyExitVerdict = string(BandForProbability(running.BotProbability()))
						}
					}
				}
				p, _ := Aggregate(contributions, o.weightOverrideFunc(pol, weightOverrides))
				running.update(p, len(contributingDetectors))
			}
		}
		waveCancel()
		if o.telemetry != nil {
			o.telemetry.RecordWaveDuration(ctx, time.Since(waveStart), waveIdx)
		}

		if len(notYetEligible) > 0 {
			waves = append(waves, notYetEligible)
		}

		if state == StateCancelled {
			break waveLoop
		}

		if earlyExit && pol.AllowEarlyExit {
			break waveLoop
		}

		bp := running.BotProbability()
		block := pol.ImmediateBlockThreshold
		if block <= 0 {
			block = 0.95
		}
		if bp > block || bp < (1-block) {
			break waveLoop
		}
	}

	if state == StateDispatching {
		state = StateAggregating
	}

	botProbability, detectionConfidence := Aggregate(contributions, o.weightOverrideFunc(pol, weightOverrides))
	riskBand := BandForProbability(botProbability)
	if earlyExit && earlyExitVerdict == string(RiskVerified) {
		riskBand = RiskVerified
	}

	ev := Evidence{
		BotProbability:        botProbability,
		DetectionConfidence:   detectionConfidence,
		RiskBand:              riskBand,
		ContributingDetectors: contributingDetectors,
		FailedDetectors:       failedDetectors,
		Signals:               reqCtx.Sink,
		Contributions:         contributions,
		TotalProcessingTime:   time.Since(start),
		PolicyName:            pol.Name,
		EarlyExit:             earlyExit,
		EarlyExitVerdict:      earlyExitVerdict,
	}

	for _, c := range contributions {
		if c.VerifiedGoodBot {
			ev.PrimaryBotType = "verified"
			ev.PrimaryBotName = c.DetectorName
			break
		}
	}

	ev.PolicyAction = ResolveTransition(pol, ev)

	state = StateCompleted
	_ = state
	return ev
}

func waveTimeoutFor(waveIdx int) time.Duration {
	if waveIdx < len(defaultWaveTimeouts) {
		return defaultWaveTimeouts[waveIdx]
	}
	return defaultWaveTimeouts[len(defaultWaveTimeouts)-1]
}

// weightOverrideFunc resolves name's final aggregation weight: an explicit
// API-key override wins over the policy's own weight_overrides, and the
// learned WeightStore floor (SPEC_FULL.md §4.6), when attached, is then
// applied as a multiplier on top — 1.0 for a detector with no feedback
// history yet, so an unwired WeightProvider never changes behavior.
func (o *Orchestrator) weightOverrideFunc(pol *policy.DetectionPolicy, overrides map[string]float64) func(string) float64 {
	return func(name string) float64 {
		w := pol.WeightOverride(name)
		if overrides != nil {
			if ov, ok := overrides[name]; ok {
				w = ov
			}
		}
		if o.weights != nil {
			w *= o.weights.CurrentWeight(name)
		}
		return w
	}
}

func keysOfMap(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
