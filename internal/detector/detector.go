// Package detector defines the contributing-detector contract and a
// registry for pluggable implementations. This follows the same
// interface-plus-registry shape the teacher uses for its capability
// registry (core/discovery.go, core/tool.go): the set of detectors is open
// — user code registers its own — so a sum-type encoding is deliberately
// avoided, per spec.md §9.
package detector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wavecore/botdetect/internal/apperrors"
	"github.com/wavecore/botdetect/internal/signal"
	"github.com/wavecore/botdetect/internal/trigger"
)

// Contribution is an immutable fragment of evidence emitted by one
// detector. The orchestrator clamps ConfidenceDelta to [-1, 1] at its
// boundary before using it (spec.md §3.3).
type Contribution struct {
	DetectorName     string
	Category         string
	ConfidenceDelta  float64
	Weight           float64
	Reason           string
	Signals          map[string]interface{}
	TriggerEarlyExit bool
	VerifiedGoodBot  bool
}

// BlackboardState is the read/write view handed to a detector for the
// duration of a single Contribute call.
type BlackboardState struct {
	Context    context.Context
	RequestID  string
	ClientAddr string
	UserAgent  string
	Path       string
	Method     string
	Headers    map[string][]string
	Now        time.Time

	Sink *signal.Sink

	CompletedDetectors []string
	FailedDetectors    []string
	Contributions      []Contribution

	RunningBotProbability float64
	Elapsed               time.Duration
}

// BotProbability implements trigger.Evidence.
func (s BlackboardState) BotProbability() float64 { return s.RunningBotProbability }

// SuccessfulContributionCount implements trigger.Evidence.
func (s BlackboardState) SuccessfulContributionCount() int { return len(s.Contributions) }

// Contributor is the pluggable detector interface. Implementations MUST
// NOT panic or block past cancellation; the orchestrator treats both a
// returned error and an exceeded ExecutionTimeout identically (recorded in
// FailedDetectors, never surfaced to the caller).
type Contributor interface {
	Name() string
	Category() string
	Priority() int
	Triggers() []trigger.Condition
	ExecutionTimeout() time.Duration
	IsOptional() bool
	Contribute(state BlackboardState) ([]Contribution, error)
}

// Registry holds the set of registered detectors by name, ordered lookup
// available via Ordered(). Safe for concurrent registration and lookup,
// matching the teacher's discovery registry locking style.
type Registry struct {
	mu        sync.RWMutex
	detectors map[string]Contributor
}

// NewRegistry constructs an empty detector registry.
func NewRegistry() *Registry {
	return &Registry{detectors: make(map[string]Contributor)}
}

// Register adds a detector. Registering the same name twice is a startup
// configuration error, per spec.md §7.
func (r *Registry) Register(d Contributor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := d.Name()
	if _, exists := r.detectors[name]; exists {
		return apperrors.New("detector.Register", "config", fmt.Errorf("%w: %s", apperrors.ErrDetectorExists, name))
	}
	r.detectors[name] = d
	return nil
}

// Get looks up a detector by name.
func (r *Registry) Get(name string) (Contributor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.detectors[name]
	return d, ok
}

// Resolve returns the named detectors in the order given, failing fast if
// any name is unknown — the startup-time validation spec.md §7 and
// SPEC_FULL.md §4.3 require.
func (r *Registry) Resolve(names []string) ([]Contributor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Contributor, 0, len(names))
	for _, name := range names {
		d, ok := r.detectors[name]
		if !ok {
			return nil, apperrors.New("detector.Resolve", "config", fmt.Errorf("%w: %s", apperrors.ErrDetectorNotFound, name))
		}
		out = append(out, d)
	}
	return out, nil
}

// All returns every registered detector, sorted by name for deterministic
// iteration in tests and diagnostics.
func (r *Registry) All() []Contributor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Contributor, 0, len(r.detectors))
	for _, d := range r.detectors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// BaseMetadata is an embeddable helper implementing the metadata methods of
// Contributor, so concrete detectors only need to implement Contribute. An
// unset priority reports 100 and an unset timeout reports 2s (spec.md §4.3
// defaults); IsOptional reports the Optional field as given, so a detector
// that leaves it unset is not optional.
type BaseMetadata struct {
	DetectorName     string
	DetectorCategory string
	DetectorPriority int
	DetectorTriggers []trigger.Condition
	Timeout          time.Duration
	Optional         bool
}

func (b BaseMetadata) Name() string     { return b.DetectorName }
func (b BaseMetadata) Category() string { return b.DetectorCategory }
func (b BaseMetadata) Priority() int {
	if b.DetectorPriority == 0 {
		return 100
	}
	return b.DetectorPriority
}
func (b BaseMetadata) Triggers() []trigger.Condition { return b.DetectorTriggers }
func (b BaseMetadata) ExecutionTimeout() time.Duration {
	if b.Timeout <= 0 {
		return 2 * time.Second
	}
	return b.Timeout
}
func (b BaseMetadata) IsOptional() bool { return b.Optional }
