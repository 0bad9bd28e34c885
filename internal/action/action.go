// Package action implements the action-dispatch contract: turning an
// AggregatedEvidence plus a resolved policy.Action into an HTTP-level
// outcome. The interface + registry shape mirrors the teacher's
// ai.Provider abstraction (ai/provider.go, ai/registry.go): a small
// interface with named implementations looked up by a registry, rather
// than a switch statement growing without bound.
package action

import (
	"context"
	"math/rand"
	"time"

	"github.com/wavecore/botdetect/internal/orchestrator"
	"github.com/wavecore/botdetect/internal/policy"
)

// Result is the outcome of executing an action policy, spec.md §6.2.
type Result struct {
	Continue    bool
	StatusCode  int
	Headers     map[string]string
	Body        []byte
	Description string
	Metadata    map[string]interface{}
}

// Dispatcher turns evidence + a resolved action policy into a Result.
type Dispatcher interface {
	Name() string
	Type() policy.Action
	Execute(ctx context.Context, ev orchestrator.Evidence, ap *policy.ActionPolicy) (Result, error)
}

// Registry looks up a Dispatcher by the ActionPolicy's Type.
type Registry struct {
	byType map[policy.Action]Dispatcher
}

// NewRegistry builds a Registry pre-populated with the six built-in
// dispatchers from spec.md §4.7 / §6.2.
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[policy.Action]Dispatcher)}
	for _, d := range []Dispatcher{
		AllowDispatcher{},
		&ThrottleDispatcher{},
		ChallengeDispatcher{},
		RedirectDispatcher{},
		BlockDispatcher{},
		LogOnlyDispatcher{},
	} {
		r.byType[d.Type()] = d
	}
	return r
}

// RegisterCustom adds a Custom-type dispatcher (spec.md's action set
// includes Custom specifically so callers can extend it).
func (r *Registry) RegisterCustom(d Dispatcher) { r.byType[policy.ActionCustom] = d }

// Dispatch executes the dispatcher matching ap.Type, falling back to
// LogOnly (never Block) when the type is unrecognized, since action
// dispatch failures must never crash the HTTP boundary (spec.md §7).
func (r *Registry) Dispatch(ctx context.Context, ev orchestrator.Evidence, ap *policy.ActionPolicy) Result {
	d, ok := r.byType[ap.Type]
	if !ok {
		d = LogOnlyDispatcher{}
	}
	res, err := d.Execute(ctx, ev, ap)
	if err != nil {
		return Result{Continue: true, Description: "action dispatch failed, allowing: " + err.Error()}
	}
	return res
}

// AllowDispatcher passes the request through unchanged.
type AllowDispatcher struct{}

func (AllowDispatcher) Name() string        { return "allow" }
func (AllowDispatcher) Type() policy.Action { return policy.ActionAllow }
func (AllowDispatcher) Execute(_ context.Context, _ orchestrator.Evidence, _ *policy.ActionPolicy) (Result, error) {
	return Result{Continue: true, Description: "allowed"}, nil
}

// LogOnlyDispatcher passes the request through, recording the verdict only.
type LogOnlyDispatcher struct{}

func (LogOnlyDispatcher) Name() string        { return "log_only" }
func (LogOnlyDispatcher) Type() policy.Action { return policy.ActionLogOnly }
func (LogOnlyDispatcher) Execute(_ context.Context, ev orchestrator.Evidence, _ *policy.ActionPolicy) (Result, error) {
	return Result{
		Continue:    true,
		Description: "log-only",
		Metadata:    map[string]interface{}{"bot_probability": ev.BotProbability, "risk_band": string(ev.RiskBand)},
	}, nil
}

// BlockDispatcher terminates the request with the configured status/body.
type BlockDispatcher struct{}

func (BlockDispatcher) Name() string        { return "block" }
func (BlockDispatcher) Type() policy.Action { return policy.ActionBlock }
func (BlockDispatcher) Execute(_ context.Context, _ orchestrator.Evidence, ap *policy.ActionPolicy) (Result, error) {
	status := ap.StatusCode
	if status == 0 {
		status = 403
	}
	return Result{
		Continue:   false,
		StatusCode: status,
		Body:       []byte(ap.Body),
		Description: "blocked",
	}, nil
}

// RedirectDispatcher terminates the request with a redirect.
type RedirectDispatcher struct{}

func (RedirectDispatcher) Name() string        { return "redirect" }
func (RedirectDispatcher) Type() policy.Action { return policy.ActionRedirect }
func (RedirectDispatcher) Execute(_ context.Context, _ orchestrator.Evidence, ap *policy.ActionPolicy) (Result, error) {
	return Result{
		Continue:    false,
		StatusCode:  302,
		Headers:     map[string]string{"Location": ap.RedirectURL},
		Description: "redirected",
	}, nil
}

// ThrottleDispatcher delays the request (spec.md §4.7's delay formula),
// optionally returning a 429 instead of continuing when ap.ReturnStatus is
// set.
type ThrottleDispatcher struct {
	// counter tracks exponential-backoff state when ap.ExponentialBackoff
	// is enabled. No per-signature identity reaches this layer, so backoff
	// is applied per dispatcher call count via this one shared counter,
	// not per signature.
	counter int
}

func (d *ThrottleDispatcher) Name() string        { return "throttle" }
func (d *ThrottleDispatcher) Type() policy.Action { return policy.ActionThrottle }

func (d *ThrottleDispatcher) Execute(ctx context.Context, ev orchestrator.Evidence, ap *policy.ActionPolicy) (Result, error) {
	delay := computeThrottleDelay(ev.BotProbability, ap, d.nextBackoffN())

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return Result{Continue: true, Description: "throttle interrupted by cancellation"}, nil
	}

	if ap.ReturnStatus {
		return Result{Continue: false, StatusCode: 429, Description: "throttled"}, nil
	}
	return Result{Continue: true, Description: "throttled", Metadata: map[string]interface{}{"delay_ms": delay.Milliseconds()}}, nil
}

func (d *ThrottleDispatcher) nextBackoffN() int {
	n := d.counter
	d.counter++
	return n
}

// computeThrottleDelay implements spec.md §4.7's delay formula.
func computeThrottleDelay(botProbability float64, ap *policy.ActionPolicy, backoffN int) time.Duration {
	base := float64(ap.BaseDelayMs)
	if base == 0 {
		base = 100
	}
	maxDelay := float64(ap.MaxDelayMs)
	if maxDelay == 0 {
		maxDelay = 5000
	}
	minDelay := float64(ap.MinDelayMs)

	if ap.ExponentialBackoff {
		factor := ap.BackoffFactor
		if factor <= 0 {
			factor = 2.0
		}
		base = base * pow(factor, backoffN)
	}

	d := base
	if ap.ScaleByRisk {
		d = base + (maxDelay-base)*botProbability
	}

	jitterRange := d * ap.JitterPercent
	jitter := (rand.Float64()*2 - 1) * jitterRange
	d += jitter

	if d < minDelay {
		d = minDelay
	}
	if d > maxDelay {
		d = maxDelay
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d) * time.Millisecond
}

func pow(base float64, n int) float64 {
	result := 1.0
	for i := 0; i < n; i++ {
		result *= base
	}
	return result
}

// ChallengeDispatcher returns a challenge artifact; actual token
// verification against an external service goes through the gobreaker-
// wrapped client in circuitbreaker.go.
type ChallengeDispatcher struct {
	Verifier *Verifier // optional; nil means "always challenge, never pre-verify"
}

func (ChallengeDispatcher) Name() string        { return "challenge" }
func (ChallengeDispatcher) Type() policy.Action { return policy.ActionChallenge }

func (c ChallengeDispatcher) Execute(ctx context.Context, _ orchestrator.Evidence, ap *policy.ActionPolicy) (Result, error) {
	if c.Verifier != nil {
		ok, err := c.Verifier.VerifyExistingToken(ctx)
		if err == nil && ok {
			return Result{Continue: true, Description: "challenge token already valid"}, nil
		}
	}
	return Result{
		Continue:    false,
		StatusCode:  200,
		Description: "challenge issued",
		Metadata:    map[string]interface{}{"challenge_type": ap.ChallengeType},
	}, nil
}
