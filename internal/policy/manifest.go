package policy

import "gopkg.in/yaml.v3"

// Manifest is the top-level YAML shape for policy configuration files,
// authored by operators and decoded with gopkg.in/yaml.v3, mirroring the
// teacher's own use of that library for its configuration files.
type Manifest struct {
	DetectionPolicies []DetectionPolicy `yaml:"detection_policies"`
	ActionPolicies    []ActionPolicy    `yaml:"action_policies"`
	PathRules         []PathRuleEntry   `yaml:"path_rules"`
	APIKeyOverlays    []APIKeyOverlay   `yaml:"api_key_overlays"`
	Default           DefaultEntry      `yaml:"default"`
}

// PathRuleEntry is one glob-to-policy mapping in the manifest.
type PathRuleEntry struct {
	Glob      string `yaml:"glob"`
	Detection string `yaml:"detection"`
	Action    string `yaml:"action"`
}

// DefaultEntry names the fallback detection/action policy pair.
type DefaultEntry struct {
	Detection string `yaml:"detection"`
	Action    string `yaml:"action"`
}

// LoadPoliciesYAML decodes a policy manifest and registers every policy,
// path rule, API-key overlay, and default onto resolver. Returns the first
// decode error encountered; partial registration before a later error is
// left in place, matching the teacher's fail-fast config loading style
// (core/config.go's LoadFromFile).
func LoadPoliciesYAML(data []byte, resolver *Resolver) error {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return err
	}

	for i := range m.DetectionPolicies {
		resolver.RegisterDetectionPolicy(&m.DetectionPolicies[i])
	}
	for i := range m.ActionPolicies {
		resolver.RegisterActionPolicy(&m.ActionPolicies[i])
	}
	for _, rule := range m.PathRules {
		resolver.RegisterPathRule(rule.Glob, rule.Detection, rule.Action)
	}
	for _, overlay := range m.APIKeyOverlays {
		resolver.RegisterAPIKeyOverlay(overlay)
	}
	if m.Default.Detection != "" || m.Default.Action != "" {
		resolver.SetDefault(m.Default.Detection, m.Default.Action)
	}
	return nil
}
