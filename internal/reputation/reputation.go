// Package reputation implements the long-lived pattern-reputation map: EMA
// score updates, lazy time decay, a hysteretic state machine, and garbage
// collection. The per-entry locking and atomic state-machine shape is
// grounded on the teacher's resilience.CircuitBreaker (resilience/circuit_breaker.go),
// which tracks closed/open/half-open state with its own mutex and sliding
// window rather than a single process-wide lock.
package reputation

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/wavecore/botdetect/internal/telemetry"
)

// State is the pattern reputation state machine, spec.md §3.1 / §4.5.2.
type State string

const (
	StateNeutral         State = "Neutral"
	StateSuspect         State = "Suspect"
	StateConfirmedBad    State = "ConfirmedBad"
	StateConfirmedGood   State = "ConfirmedGood"
	StateManuallyBlocked State = "ManuallyBlocked"
	StateManuallyAllowed State = "ManuallyAllowed"
)

func isManual(s State) bool {
	return s == StateManuallyBlocked || s == StateManuallyAllowed
}

// Thresholds configures the state-machine transition points and decay/GC
// knobs, defaults per spec.md §4.5.
type Thresholds struct {
	LearningRate float64 // α, default 0.1
	MaxSupport   float64 // default 1000

	SuspectScore     float64 // 0.6
	SuspectSupport   float64 // 10
	ConfirmedBadScore   float64 // 0.9
	ConfirmedBadSupport float64 // 50
	SuspectExitScore    float64 // 0.4
	ConfirmedBadExitScore   float64 // 0.7
	ConfirmedBadExitSupport float64 // 100
	ConfirmedGoodScore   float64 // 0.1
	ConfirmedGoodSupport float64 // 50

	ScoreDecayConstant   time.Duration // τ_score, default 7 days
	SupportDecayConstant time.Duration // τ_supp, default 14 days
	DecayPrior           float64       // 0.5

	GCEligibleAfter time.Duration // default 90 days
	GCMaxSupport    float64       // support below this is GC-eligible, default 1.0
}

// DefaultThresholds returns spec.md's default constants.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LearningRate:            0.1,
		MaxSupport:              1000,
		SuspectScore:            0.6,
		SuspectSupport:          10,
		ConfirmedBadScore:       0.9,
		ConfirmedBadSupport:     50,
		SuspectExitScore:        0.4,
		ConfirmedBadExitScore:   0.7,
		ConfirmedBadExitSupport: 100,
		ConfirmedGoodScore:      0.1,
		ConfirmedGoodSupport:    50,
		ScoreDecayConstant:      7 * 24 * time.Hour,
		SupportDecayConstant:    14 * 24 * time.Hour,
		DecayPrior:              0.5,
		GCEligibleAfter:         90 * 24 * time.Hour,
		GCMaxSupport:            1.0,
	}
}

// PatternReputation is the value for one pattern_id, spec.md §3.1.
type PatternReputation struct {
	PatternID string
	BotScore  float64
	Support   float64
	State     State
	LastSeen  time.Time
	CreatedAt time.Time
}

type entry struct {
	mu sync.Mutex
	// lastDecay tracks when the decay projection was last applied,
	// separately from data.LastSeen (which only an actual Update
	// advances). Without this, two successive Gets would each compute
	// elapsed time against the same stale LastSeen and decay the
	// already-decayed value a second time.
	lastDecay time.Time
	data      PatternReputation
}

// Store is a process-wide shared map of pattern_id -> reputation, with a
// per-entry mutex sufficient to serialize updates for a single pattern_id,
// per spec.md §3.2 and §5.
type Store struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	thresholds Thresholds
	maxEntries int
	now        func() time.Time
	telemetry  *telemetry.Provider
}

// WithTelemetry attaches a telemetry.Provider so state-machine transitions
// are recorded as they happen; nil-safe to omit.
func (s *Store) WithTelemetry(p *telemetry.Provider) *Store {
	s.telemetry = p
	return s
}

// New constructs a reputation Store. maxEntries (default 100000) is stored
// but does not bound the map: no entry is evicted for size, and GC removes
// only stale Neutral/ConfirmedGood entries.
func New(thresholds Thresholds, maxEntries int, nowFn func() time.Time) *Store {
	if maxEntries <= 0 {
		maxEntries = 100000
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Store{
		entries:    make(map[string]*entry),
		thresholds: thresholds,
		maxEntries: maxEntries,
		now:        nowFn,
	}
}

func (s *Store) getOrCreate(patternID string) *entry {
	s.mu.RLock()
	e, ok := s.entries[patternID]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[patternID]; ok {
		return e
	}
	now := s.now()
	e = &entry{
		lastDecay: now,
		data: PatternReputation{
			PatternID: patternID,
			State:     StateNeutral,
			CreatedAt: now,
			LastSeen:  now,
		},
	}
	s.entries[patternID] = e
	return e
}

// Get returns the current (decay-applied) reputation for patternID, or
// false if unknown.
func (s *Store) Get(patternID string) (PatternReputation, bool) {
	s.mu.RLock()
	e, ok := s.entries[patternID]
	s.mu.RUnlock()
	if !ok {
		return PatternReputation{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s.applyDecayLocked(e)
	return e.data, true
}

// Update applies the EMA update law (spec.md §4.5.1) and the hysteretic
// state-machine transition (spec.md §4.5.2) for one learning-event
// observation of patternID. weight is the event's confidence (default 1.0).
func (s *Store) Update(patternID string, label float64, weight float64) PatternReputation {
	e := s.getOrCreate(patternID)
	e.mu.Lock()
	defer e.mu.Unlock()

	s.applyDecayLocked(e)

	if weight <= 0 {
		weight = 1.0
	}
	alpha := s.thresholds.LearningRate
	e.data.BotScore = (1-alpha)*e.data.BotScore + alpha*label
	e.data.Support = math.Min(s.thresholds.MaxSupport, e.data.Support+alpha*weight)
	e.data.LastSeen = s.now()

	before := e.data.State
	s.transitionLocked(e)
	if s.telemetry != nil && e.data.State != before {
		s.telemetry.RecordReputationTransition(context.Background(), string(before), string(e.data.State))
	}
	return e.data
}

// applyDecayLocked applies spec.md §4.5.3's lazy time decay. Decay never
// changes state (spec.md invariant): only transitionLocked may. It measures
// elapsed time against lastDecay, not LastSeen, so repeated Gets with no
// intervening Update decay the value exactly once for the time actually
// elapsed since the previous decay, rather than compounding against a
// LastSeen that never moves.
func (s *Store) applyDecayLocked(e *entry) {
	now := s.now()
	dt := now.Sub(e.lastDecay)
	if dt <= 0 {
		return
	}
	e.lastDecay = now
	tScore := s.thresholds.ScoreDecayConstant
	tSupp := s.thresholds.SupportDecayConstant
	if tScore <= 0 {
		tScore = 7 * 24 * time.Hour
	}
	if tSupp <= 0 {
		tSupp = 14 * 24 * time.Hour
	}
	prior := s.thresholds.DecayPrior
	if prior == 0 {
		prior = 0.5
	}

	e.data.BotScore = e.data.BotScore + (prior-e.data.BotScore)*(1-math.Exp(-dt.Hours()/tScore.Hours()))
	e.data.Support = e.data.Support * math.Exp(-dt.Hours()/tSupp.Hours())
	e.data.BotScore = clamp01(e.data.BotScore)
	if e.data.Support < 0 {
		e.data.Support = 0
	}
	if e.data.Support > s.thresholds.MaxSupport {
		e.data.Support = s.thresholds.MaxSupport
	}
	// Decay updates score/support as a read-time projection; LastSeen is
	// only advanced by an actual Update so GC eligibility still reflects
	// true staleness.
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// transitionLocked applies the state machine of spec.md §4.5.2. Manual
// states never auto-transition.
func (s *Store) transitionLocked(e *entry) {
	t := s.thresholds
	d := &e.data
	if isManual(d.State) {
		return
	}
	switch d.State {
	case StateNeutral:
		if d.BotScore <= t.ConfirmedGoodScore && d.Support >= t.ConfirmedGoodSupport {
			d.State = StateConfirmedGood
		} else if d.BotScore >= t.SuspectScore && d.Support >= t.SuspectSupport {
			d.State = StateSuspect
		}
	case StateSuspect:
		if d.BotScore >= t.ConfirmedBadScore && d.Support >= t.ConfirmedBadSupport {
			d.State = StateConfirmedBad
		} else if d.BotScore <= t.SuspectExitScore {
			d.State = StateNeutral
		}
	case StateConfirmedBad:
		if d.BotScore <= t.ConfirmedBadExitScore && d.Support >= t.ConfirmedBadExitSupport {
			d.State = StateSuspect
		}
	case StateConfirmedGood:
		// No automatic exit defined by spec.md; ConfirmedGood is sticky
		// except via manual action.
	}
}

// SetManual forces patternID into a manual state; only explicit
// administrator action may call this (spec.md §4.5.2).
func (s *Store) SetManual(patternID string, state State) {
	if !isManual(state) {
		return
	}
	e := s.getOrCreate(patternID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.data.State = state
	e.data.LastSeen = s.now()
}

// GC removes entries eligible for removal per spec.md §4.5.4: last_seen
// older than GCEligibleAfter, support < GCMaxSupport, and state in
// {Neutral, ConfirmedGood}. Manual states are never GC'd. Returns the
// number of entries removed.
func (s *Store) GC() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, e := range s.entries {
		e.mu.Lock()
		eligible := !isManual(e.data.State) &&
			(e.data.State == StateNeutral || e.data.State == StateConfirmedGood) &&
			now.Sub(e.data.LastSeen) > s.thresholds.GCEligibleAfter &&
			e.data.Support < s.thresholds.GCMaxSupport
		e.mu.Unlock()
		if eligible {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked patterns.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
