package signature

import (
	"math"
	"sort"
	"strings"
)

// LaneOutput is one lane's contribution to the combined aberration score.
type LaneOutput struct {
	Name  string
	Score float64
	Details map[string]interface{}
}

// BehavioralLane computes path entropy, timing regularity, request rate,
// and path sequentiality over the sliding window, spec.md §4.4.4.
func BehavioralLane(window []OperationSummary) LaneOutput {
	if len(window) == 0 {
		return LaneOutput{Name: "behavioral", Score: 0}
	}

	entropy := pathEntropy(window)
	cv := timingCV(window)
	rate := requestRatePerMinute(window)
	seq := pathSequentiality(window)

	score := 0.0
	tooRegular := cv < 0.15
	if tooRegular {
		score += 0.5
	}
	if entropy > 4.0 {
		score += 0.2
	}
	if rate > 30 {
		score += 0.2
	}
	if seq > 0.5 {
		score += 0.3
	}
	return LaneOutput{
		Name:  "behavioral",
		Score: clamp01(score),
		Details: map[string]interface{}{
			"path_entropy":        entropy,
			"timing_cv":           cv,
			"request_rate_per_min": rate,
			"path_sequentiality":  seq,
		},
	}
}

func pathEntropy(window []OperationSummary) float64 {
	counts := make(map[string]int)
	for _, s := range window {
		prefix := firstSegment(s.Path)
		counts[prefix]++
	}
	total := float64(len(window))
	var h float64
	for _, c := range counts {
		p := float64(c) / total
		h -= p * math.Log2(p)
	}
	return h
}

func firstSegment(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if idx := strings.Index(trimmed, "/"); idx >= 0 {
		return trimmed[:idx]
	}
	return trimmed
}

func timingCV(window []OperationSummary) float64 {
	if len(window) < 2 {
		return 1.0 // insufficient data: treat as "not suspicious"
	}
	sorted := append([]OperationSummary(nil), window...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	intervals := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		intervals = append(intervals, sorted[i].Timestamp.Sub(sorted[i-1].Timestamp).Seconds())
	}
	mean := meanOf(intervals)
	if mean == 0 {
		return 0
	}
	sd := stddevOf(intervals, mean)
	return sd / mean
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddevOf(xs []float64, mean float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(xs)))
}

func requestRatePerMinute(window []OperationSummary) float64 {
	if len(window) < 2 {
		return 0
	}
	sorted := append([]OperationSummary(nil), window...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
	span := sorted[len(sorted)-1].Timestamp.Sub(sorted[0].Timestamp).Minutes()
	if span <= 0 {
		return 0
	}
	return float64(len(sorted)) / span
}

func pathSequentiality(window []OperationSummary) float64 {
	sorted := append([]OperationSummary(nil), window...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	total, sequential := 0, 0
	for i := 1; i < len(sorted); i++ {
		a, okA := trailingInt(sorted[i-1].Path)
		b, okB := trailingInt(sorted[i].Path)
		if !okA || !okB {
			continue
		}
		total++
		if b == a+1 {
			sequential++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(sequential) / float64(total)
}

// trailingInt extracts a trailing integer from a path like ".../n".
func trailingInt(path string) (int, bool) {
	idx := strings.LastIndex(path, "/")
	if idx < 0 || idx == len(path)-1 {
		return 0, false
	}
	tail := path[idx+1:]
	n := 0
	for _, c := range tail {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
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

// SpectralLane computes FFT-derived features of the inter-arrival series.
// Per spec.md §9's Open Question resolution, this lane only activates for
// window sizes >= MinWindowForSpectral (9); below that size it returns a
// zero score with no details.
func SpectralLane(window []OperationSummary) LaneOutput {
	if len(window) < MinWindowForSpectral {
		return LaneOutput{Name: "spectral", Score: 0}
	}
	sorted := append([]OperationSummary(nil), window...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	intervals := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		intervals = append(intervals, sorted[i].Timestamp.Sub(sorted[i-1].Timestamp).Seconds())
	}

	mags := dftMagnitudes(intervals)
	dominantFreqIdx, peak := 0, 0.0
	var total float64
	for i, m := range mags {
		total += m
		if m > peak {
			peak = m
			dominantFreqIdx = i
		}
	}
	avg := 0.0
	if len(mags) > 0 {
		avg = total / float64(len(mags))
	}
	peakToAverage := 0.0
	if avg > 0 {
		peakToAverage = peak / avg
	}

	entropy := spectralEntropy(mags, total)
	centroid := spectralCentroid(mags)

	// A strongly dominant, non-zero frequency with low spectral entropy
	// indicates mechanically periodic request timing.
	score := 0.0
	if peakToAverage > 4 && entropy < 2.0 && dominantFreqIdx > 0 {
		score = clamp01(peakToAverage / 10)
	}

	return LaneOutput{
		Name:  "spectral",
		Score: score,
		Details: map[string]interface{}{
			"dominant_frequency_index": dominantFreqIdx,
			"spectral_entropy":         entropy,
			"peak_to_average":          peakToAverage,
			"spectral_centroid":        centroid,
		},
	}
}

// dftMagnitudes computes the naive O(n^2) discrete Fourier transform
// magnitude spectrum. Window sizes here are bounded by
// MaxRequestsPerSignature (default 100), so the naive transform is cheap
// enough that pulling in an FFT library isn't warranted.
func dftMagnitudes(xs []float64) []float64 {
	n := len(xs)
	if n == 0 {
		return nil
	}
	mags := make([]float64, n/2+1)
	for k := 0; k < len(mags); k++ {
		var re, im float64
		for t, x := range xs {
			angle := -2 * math.Pi * float64(k) * float64(t) / float64(n)
			re += x * math.Cos(angle)
			im += x * math.Sin(angle)
		}
		mags[k] = math.Hypot(re, im)
	}
	return mags
}

func spectralEntropy(mags []float64, total float64) float64 {
	if total <= 0 {
		return 0
	}
	var h float64
	for _, m := range mags {
		if m <= 0 {
			continue
		}
		p := m / total
		h -= p * math.Log2(p)
	}
	return h
}

func spectralCentroid(mags []float64) float64 {
	var num, den float64
	for i, m := range mags {
		num += float64(i) * m
		den += m
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// ReputationBias holds the reputation-store scores the reputation lane
// combines: signature, UA pattern, IP range, and combined pattern. Manager
// fills SignatureScore only; the other three stay zero.
type ReputationBias struct {
	SignatureScore float64
	UAScore        float64
	IPRangeScore   float64
	CombinedScore  float64
}

// ReputationLane combines the four queried scores into a single lane
// output. The store query happens in Manager.reputationLane (manager.go),
// which has access to the reputation.Store; this function is the pure combination
// step so it stays testable without a store dependency.
func ReputationLane(bias ReputationBias) LaneOutput {
	score := 0.35*bias.SignatureScore + 0.25*bias.UAScore + 0.15*bias.IPRangeScore + 0.25*bias.CombinedScore
	return LaneOutput{
		Name:  "reputation",
		Score: clamp01(score),
		Details: map[string]interface{}{
			"signature_score": bias.SignatureScore,
			"ua_score":        bias.UAScore,
			"ip_range_score":  bias.IPRangeScore,
			"combined_score":  bias.CombinedScore,
		},
	}
}

// ContentLane aggregates response-side pattern hits (404 scans, honeypot
// hits, auth-failure cascades) from recent operation summaries, spec.md
// §4.4.4. A honeypot hit is any summary whose TriggerSignals carries
// "honeypot.hit" == true; a 404-scan hit is StatusCode == 404.
func ContentLane(window []OperationSummary) LaneOutput {
	notFound, honeypot, authFail := 0, 0, 0
	for _, s := range window {
		switch s.StatusCode {
		case 404:
			notFound++
		case 401, 403:
			authFail++
		}
		if v, ok := s.TriggerSignals["honeypot.hit"]; ok {
			if b, ok := v.(bool); ok && b {
				honeypot++
			}
		}
	}
	total := float64(len(window))
	score := 0.0
	if total > 0 {
		score = clamp01(0.5*(float64(notFound)/total) + 0.3*(float64(authFail)/total))
	}
	if honeypot >= 1 {
		score = 1.0
	}
	return LaneOutput{
		Name:  "content",
		Score: score,
		Details: map[string]interface{}{
			"not_found_hits":  notFound,
			"honeypot_hits":   honeypot,
			"auth_failures":   authFail,
		},
	}
}

// AberrationWeights configures the weighted sum combining lane outputs into
// the final aberration_score, spec.md §4.4.4.
type AberrationWeights struct {
	Behavioral float64
	Spectral   float64
	Reputation float64
	Content    float64
}

// DefaultAberrationWeights sums to 1.0, weighting behavioral and content
// (the two rule-driven lanes most directly tied to spec.md §4.4.5's
// explicit aberration rule) above spectral and reputation.
func DefaultAberrationWeights() AberrationWeights {
	return AberrationWeights{Behavioral: 0.35, Spectral: 0.15, Reputation: 0.2, Content: 0.3}
}

// CombineLanes applies the weighted sum and then the explicit hard rules of
// spec.md §4.4.5, which can force the score to 1.0 regardless of the
// weighted sum (e.g. any single lane emitting >= 0.9, or a honeypot hit).
func CombineLanes(outputs []LaneOutput, weights AberrationWeights, window []OperationSummary) float64 {
	var weighted float64
	byName := make(map[string]LaneOutput, len(outputs))
	for _, o := range outputs {
		byName[o.Name] = o
	}
	weighted += weights.Behavioral * byName["behavioral"].Score
	weighted += weights.Spectral * byName["spectral"].Score
	weighted += weights.Reputation * byName["reputation"].Score
	weighted += weights.Content * byName["content"].Score

	for _, o := range outputs {
		if o.Score >= 0.9 {
			return 1.0
		}
	}

	if behavioral, ok := byName["behavioral"]; ok {
		cv, _ := behavioral.Details["timing_cv"].(float64)
		entropy, _ := behavioral.Details["path_entropy"].(float64)
		rate, _ := behavioral.Details["request_rate_per_min"].(float64)
		seq, _ := behavioral.Details["path_sequentiality"].(float64)
		if cv < 0.15 && entropy > 4.0 {
			return math.Max(weighted, 0.9)
		}
		if rate > 30 && (1-seq) < 0.3 {
			return math.Max(weighted, 0.85)
		}
	}
	if content, ok := byName["content"]; ok {
		if hits, _ := content.Details["honeypot_hits"].(int); hits >= 1 {
			return 1.0
		}
	}

	return clamp01(weighted)
}
