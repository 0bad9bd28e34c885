// Package trigger implements the closed trigger-condition AST detectors use
// to declare when they should run. Conditions are evaluated against the
// current operation sink and the orchestrator's running evidence, the same
// "tagged sum, single recursive evaluator" shape spec.md §9 prescribes.
package trigger

import "github.com/wavecore/botdetect/internal/signal"

// Evidence is the minimal read-only view of running aggregation state a
// trigger condition can reference. The orchestrator package implements it.
type Evidence interface {
	BotProbability() float64
	SuccessfulContributionCount() int
}

// Condition is a node in the trigger-condition AST. Evaluate is pure given
// its inputs.
type Condition interface {
	Evaluate(sink *signal.Sink, ev Evidence) bool
}

// SignalExists is true when key has ever been raised in sink.
type SignalExists struct{ Key string }

func (c SignalExists) Evaluate(sink *signal.Sink, _ Evidence) bool {
	return sink.Has(c.Key)
}

// SignalEquals is true when key's last value equals Value (via ==, so Value
// must be a comparable type matching what detectors raise).
type SignalEquals struct {
	Key   string
	Value interface{}
}

func (c SignalEquals) Evaluate(sink *signal.Sink, _ Evidence) bool {
	v, ok := sink.Get(c.Key)
	if !ok {
		return false
	}
	return v == c.Value
}

// SignalGreaterThan is true when key's last numeric value is > Threshold.
type SignalGreaterThan struct {
	Key       string
	Threshold float64
}

func (c SignalGreaterThan) Evaluate(sink *signal.Sink, _ Evidence) bool {
	v, ok := sink.GetFloat64(c.Key)
	return ok && v > c.Threshold
}

// SignalLessThan is true when key's last numeric value is < Threshold.
type SignalLessThan struct {
	Key       string
	Threshold float64
}

func (c SignalLessThan) Evaluate(sink *signal.Sink, _ Evidence) bool {
	v, ok := sink.GetFloat64(c.Key)
	return ok && v < c.Threshold
}

// RiskExceeds is true when the running bot_probability exceeds Threshold.
type RiskExceeds struct{ Threshold float64 }

func (c RiskExceeds) Evaluate(_ *signal.Sink, ev Evidence) bool {
	return ev.BotProbability() > c.Threshold
}

// DetectorCount is true once at least Min detectors have contributed
// successfully so far this wave cycle.
type DetectorCount struct{ Min int }

func (c DetectorCount) Evaluate(_ *signal.Sink, ev Evidence) bool {
	return ev.SuccessfulContributionCount() >= c.Min
}

// AnyOf is true when at least one child condition is true.
type AnyOf struct{ Conditions []Condition }

func (c AnyOf) Evaluate(sink *signal.Sink, ev Evidence) bool {
	for _, cond := range c.Conditions {
		if cond.Evaluate(sink, ev) {
			return true
		}
	}
	return false
}

// AllOf is true when every child condition is true (vacuously true for an
// empty list, matching "no trigger conditions" meaning "always eligible").
type AllOf struct{ Conditions []Condition }

func (c AllOf) Evaluate(sink *signal.Sink, ev Evidence) bool {
	for _, cond := range c.Conditions {
		if !cond.Evaluate(sink, ev) {
			return false
		}
	}
	return true
}

// EvaluateAll reports whether every condition in conds holds (AND
// semantics), used by the orchestrator for a detector's full trigger list.
// An empty list is always satisfied — a detector with no triggers is
// eligible from wave 0.
func EvaluateAll(conds []Condition, sink *signal.Sink, ev Evidence) bool {
	for _, c := range conds {
		if !c.Evaluate(sink, ev) {
			return false
		}
	}
	return true
}

// Keys returns the set of signal keys a condition tree references. The
// orchestrator's wave assignment does not call it: it groups detectors only
// by whether they have any trigger. RiskExceeds/DetectorCount reference no
// signal key — they depend on running evidence instead.
func Keys(c Condition) []string {
	switch t := c.(type) {
	case SignalExists:
		return []string{t.Key}
	case SignalEquals:
		return []string{t.Key}
	case SignalGreaterThan:
		return []string{t.Key}
	case SignalLessThan:
		return []string{t.Key}
	case AnyOf:
		return keysOf(t.Conditions)
	case AllOf:
		return keysOf(t.Conditions)
	default:
		return nil
	}
}

func keysOf(conds []Condition) []string {
	var out []string
	for _, c := range conds {
		out = append(out, Keys(c)...)
	}
	return out
}
