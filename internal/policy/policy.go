// Package policy holds the DetectionPolicy / ActionPolicy configuration
// types and the pure resolution function that picks them for a request.
// Manifests are decoded from YAML via gopkg.in/yaml.v3, the same library
// the teacher uses for its own configuration files.
package policy

import "time"

// Action is the finite action-policy type tag, spec.md §4.7.
type Action string

const (
	ActionAllow    Action = "allow"
	ActionThrottle Action = "throttle"
	ActionChallenge Action = "challenge"
	ActionRedirect Action = "redirect"
	ActionBlock    Action = "block"
	ActionLogOnly  Action = "log_only"
	ActionCustom   Action = "custom"
)

// TransitionCondition is a predicate evaluated against the aggregated
// evidence during policy-transition resolution (spec.md §4.1.4). Kept as a
// small closed set mirroring the trigger-condition AST's style.
type TransitionCondition struct {
	MinBotProbability       *float64 `yaml:"min_bot_probability,omitempty"`
	MaxBotProbability       *float64 `yaml:"max_bot_probability,omitempty"`
	MinDetectionConfidence  *float64 `yaml:"min_detection_confidence,omitempty"`
	SignalEquals            map[string]interface{} `yaml:"signal_equals,omitempty"`
	BotName                 string   `yaml:"bot_name,omitempty"`
}

// PolicyTransition pairs a condition with either a direct action or the
// name of an action policy to invoke.
type PolicyTransition struct {
	Name             string              `yaml:"name"`
	If               TransitionCondition `yaml:"if"`
	Action           Action              `yaml:"action,omitempty"`
	ActionPolicyName string              `yaml:"action_policy,omitempty"`
}

// DetectionPolicy is a named, ordered configuration of which detectors run
// and how their verdicts resolve to an action.
type DetectionPolicy struct {
	Name                    string             `yaml:"name"`
	Detectors               []string           `yaml:"detectors"`
	WeightOverrides         map[string]float64 `yaml:"weight_overrides,omitempty"`
	EarlyExitThreshold      float64            `yaml:"early_exit_threshold"`
	AIEscalationThreshold   float64            `yaml:"ai_escalation_threshold"`
	ImmediateBlockThreshold float64            `yaml:"immediate_block_threshold"`
	Timeout                 time.Duration      `yaml:"timeout"`
	MaxParallelDetectors    int                `yaml:"max_parallel_detectors"`
	AllowEarlyExit          bool               `yaml:"allow_early_exit"`
	Transitions             []PolicyTransition `yaml:"transitions"`
	// AISamplingRate is a configured LLM-verification sampling fraction
	// (the "SafeBlock" Open Question, default 1%). No component reads it:
	// the ai.escalation detector samples at its own SamplingRate.
	AISamplingRate float64 `yaml:"ai_sampling_rate"`
}

// WeightOverride returns the configured weight for detectorName, defaulting
// to 1.0 (spec.md §4.1.3's w_override).
func (p *DetectionPolicy) WeightOverride(detectorName string) float64 {
	if p == nil || p.WeightOverrides == nil {
		return 1.0
	}
	if w, ok := p.WeightOverrides[detectorName]; ok {
		return w
	}
	return 1.0
}

// DefaultDetectionPolicy returns the built-in policy with spec.md's default
// thresholds, used when no manifest overrides a field.
func DefaultDetectionPolicy(name string, detectors []string) *DetectionPolicy {
	return &DetectionPolicy{
		Name:                    name,
		Detectors:               detectors,
		EarlyExitThreshold:      0.9,
		AIEscalationThreshold:   0.6,
		ImmediateBlockThreshold: 0.95,
		Timeout:                 5 * time.Second,
		MaxParallelDetectors:    8,
		AllowEarlyExit:          true,
		AISamplingRate:          0.01,
	}
}

// ActionPolicy describes how AggregatedEvidence becomes an HTTP outcome.
type ActionPolicy struct {
	Name   string `yaml:"name"`
	Type   Action `yaml:"type"`

	// Block
	StatusCode int    `yaml:"status_code,omitempty"`
	Body       string `yaml:"body,omitempty"`

	// Throttle
	BaseDelayMs        int     `yaml:"base_delay_ms,omitempty"`
	MaxDelayMs         int     `yaml:"max_delay_ms,omitempty"`
	MinDelayMs         int     `yaml:"min_delay_ms,omitempty"`
	JitterPercent      float64 `yaml:"jitter_percent,omitempty"`
	ScaleByRisk        bool    `yaml:"scale_by_risk,omitempty"`
	ExponentialBackoff bool    `yaml:"exponential_backoff,omitempty"`
	BackoffFactor      float64 `yaml:"backoff_factor,omitempty"`
	ReturnStatus       bool    `yaml:"return_status,omitempty"`

	// Challenge
	ChallengeType string `yaml:"challenge_type,omitempty"`

	// Redirect
	RedirectURL string `yaml:"redirect_url,omitempty"`
}

// BuiltinAllowAllLog is the fallback policy pair used when resolution fails
// and no configured default exists (spec.md §7's "allow-all-log").
func BuiltinAllowAllLog() (*DetectionPolicy, *ActionPolicy) {
	dp := DefaultDetectionPolicy("allow-all-log", nil)
	ap := &ActionPolicy{Name: "allow-all-log", Type: ActionLogOnly}
	return dp, ap
}
