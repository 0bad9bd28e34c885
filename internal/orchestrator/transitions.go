package orchestrator

import "github.com/wavecore/botdetect/internal/policy"

// ResolveTransition evaluates pol.Transitions in order and returns the
// first matching transition's resolved action name, per spec.md §4.1.4. If
// none match, a default per-policy action is used: Allow for VeryLow/Low,
// Block for VeryHigh, Allow otherwise.
func ResolveTransition(pol *policy.DetectionPolicy, ev Evidence) string {
	for _, t := range pol.Transitions {
		if matches(t.If, ev) {
			if t.ActionPolicyName != "" {
				return t.ActionPolicyName
			}
			return string(t.Action)
		}
	}
	switch ev.RiskBand {
	case RiskVeryLow, RiskLow, RiskVerified:
		return string(policy.ActionAllow)
	case RiskVeryHigh:
		return string(policy.ActionBlock)
	default:
		return string(policy.ActionAllow)
	}
}

func matches(cond policy.TransitionCondition, ev Evidence) bool {
	if cond.MinBotProbability != nil && ev.BotProbability < *cond.MinBotProbability {
		return false
	}
	if cond.MaxBotProbability != nil && ev.BotProbability > *cond.MaxBotProbability {
		return false
	}
	if cond.MinDetectionConfidence != nil && ev.DetectionConfidence < *cond.MinDetectionConfidence {
		return false
	}
	if cond.BotName != "" && cond.BotName != ev.PrimaryBotName {
		return false
	}
	for k, want := range cond.SignalEquals {
		got, ok := ev.Signals.Get(k)
		if !ok || got != want {
			return false
		}
	}
	return true
}
