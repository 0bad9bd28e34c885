package policy

import (
	"path"
	"sync"
)

// APIKeyOverlay forces a detection/action policy and may override weights
// or disable detectors for requests presenting a recognized API key,
// spec.md §4.8 step 1.
type APIKeyOverlay struct {
	APIKey                string             `yaml:"api_key"`
	DetectionPolicyName   string             `yaml:"detection_policy"`
	ActionPolicyName      string             `yaml:"action_policy"`
	WeightOverrides       map[string]float64 `yaml:"weight_overrides,omitempty"`
	DisabledDetectorNames []string           `yaml:"disabled_detectors,omitempty"`
}

// Request is the minimal input the resolver needs — deliberately narrower
// than detector.BlackboardState so this package has no dependency on it.
type Request struct {
	Path   string
	APIKey string
}

// Resolver selects the DetectionPolicy and ActionPolicy for a request. It
// is pure: the same Request and configuration always yield the same
// selection, per spec.md §4.8.
type Resolver struct {
	mu               sync.RWMutex
	detectionByName  map[string]*DetectionPolicy
	actionByName     map[string]*ActionPolicy
	pathRules        []pathRule // first-match order preserved
	overlaysByAPIKey map[string]APIKeyOverlay
	defaultDetection string
	defaultAction    string
}

type pathRule struct {
	glob           string
	detectionName  string
	actionName     string
}

// NewResolver builds an empty resolver; register policies and rules before
// first use, then call Resolve concurrently as needed.
func NewResolver() *Resolver {
	return &Resolver{
		detectionByName:  make(map[string]*DetectionPolicy),
		actionByName:     make(map[string]*ActionPolicy),
		overlaysByAPIKey: make(map[string]APIKeyOverlay),
	}
}

func (r *Resolver) RegisterDetectionPolicy(p *DetectionPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detectionByName[p.Name] = p
}

func (r *Resolver) RegisterActionPolicy(p *ActionPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actionByName[p.Name] = p
}

func (r *Resolver) RegisterPathRule(glob, detectionName, actionName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pathRules = append(r.pathRules, pathRule{glob: glob, detectionName: detectionName, actionName: actionName})
}

func (r *Resolver) RegisterAPIKeyOverlay(o APIKeyOverlay) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overlaysByAPIKey[o.APIKey] = o
}

func (r *Resolver) SetDefault(detectionName, actionName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultDetection = detectionName
	r.defaultAction = actionName
}

// DetectionPolicies returns every DetectionPolicy currently registered, in
// no particular order. Intended for startup-time validation passes (e.g.
// orchestrator.ValidateDetectorReferences) that need to see every policy a
// deployment will ever serve, not just the one a single Resolve call picks.
func (r *Resolver) DetectionPolicies() []*DetectionPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*DetectionPolicy, 0, len(r.detectionByName))
	for _, p := range r.detectionByName {
		out = append(out, p)
	}
	return out
}

// Resolved is the result of a resolution pass: a detection policy, an
// action policy, and any per-request overrides the API-key overlay applied.
type Resolved struct {
	Detection             *DetectionPolicy
	Action                *ActionPolicy
	WeightOverrides       map[string]float64
	DisabledDetectorNames map[string]bool
}

// Resolve implements spec.md §4.8's resolution order: API-key overlay, then
// first path glob match, then the configured default, falling back to the
// built-in "allow-all-log" policy if nothing resolves (spec.md §7).
func (r *Resolver) Resolve(req Request) Resolved {
	r.mu.RLock()
	defer r.mu.RUnlock()

	detectionName, actionName := "", ""
	var weightOverrides map[string]float64
	var disabled map[string]bool

	if req.APIKey != "" {
		if overlay, ok := r.overlaysByAPIKey[req.APIKey]; ok {
			detectionName = overlay.DetectionPolicyName
			actionName = overlay.ActionPolicyName
			weightOverrides = overlay.WeightOverrides
			if len(overlay.DisabledDetectorNames) > 0 {
				disabled = make(map[string]bool, len(overlay.DisabledDetectorNames))
				for _, n := range overlay.DisabledDetectorNames {
					disabled[n] = true
				}
			}
		}
	}

	if detectionName == "" {
		for _, rule := range r.pathRules {
			if matched, _ := path.Match(rule.glob, req.Path); matched {
				detectionName = rule.detectionName
				actionName = rule.actionName
				break
			}
		}
	}

	if detectionName == "" {
		detectionName = r.defaultDetection
		actionName = r.defaultAction
	}

	dp, dpOK := r.detectionByName[detectionName]
	ap, apOK := r.actionByName[actionName]
	if !dpOK || !apOK {
		fallbackDP, fallbackAP := BuiltinAllowAllLog()
		if !dpOK {
			dp = fallbackDP
		}
		if !apOK {
			ap = fallbackAP
		}
	}

	return Resolved{
		Detection:             dp,
		Action:                ap,
		WeightOverrides:       weightOverrides,
		DisabledDetectorNames: disabled,
	}
}
