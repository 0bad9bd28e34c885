package learning

import (
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/wavecore/botdetect/internal/pii"
)

// scrubbedPrefixes are feature keys that must never appear in an export,
// spec.md §6.5.
var scrubbedPrefixes = []string{"request.user_agent", "request.client_ip"}

// wireEvent is the §6.4 wire format for one LearningEvent.
type wireEvent struct {
	Type          string                 `json:"type"`
	Timestamp     string                 `json:"timestamp"`
	SignatureHash string                 `json:"signature_hash"`
	Features      map[string]interface{} `json:"features"`
	Confidence    float64                `json:"confidence"`
	Label         *bool                  `json:"label"`
}

// Export writes events as newline-delimited JSON to w, scrubbing any
// feature key with a PII prefix and generalizing a "path" feature through
// the shared pii.GeneralizePath function, spec.md §6.5 / §8.1 invariant 10.
func Export(w io.Writer, events []Event) error {
	enc := json.NewEncoder(w)
	for _, e := range events {
		features := make(map[string]interface{}, len(e.Features))
		for k, v := range e.Features {
			if hasScrubbedPrefix(k) {
				continue
			}
			if k == "path" {
				if s, ok := v.(string); ok {
					v = pii.GeneralizePath(s)
				}
			}
			features[k] = v
		}
		we := wireEvent{
			Type:          string(e.Type),
			Timestamp:     e.Timestamp.Format(time.RFC3339),
			SignatureHash: e.SignatureHash,
			Features:      features,
			Confidence:    e.Confidence,
			Label:         e.Label,
		}
		if err := enc.Encode(we); err != nil {
			return err
		}
	}
	return nil
}

func hasScrubbedPrefix(key string) bool {
	for _, p := range scrubbedPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}
