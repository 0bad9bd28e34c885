// Package pii implements the path-generalization rule shared by operation
// summaries (spec.md §3.1) and training-data export (spec.md §6.5): long
// numeric IDs, UUIDs, and base64-looking tokens are replaced by a
// placeholder, and query strings are stripped.
package pii

import (
	"regexp"
	"strings"
)

var (
	uuidPattern   = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	numericPattern = regexp.MustCompile(`^[0-9]{6,}$`)
	base64Pattern  = regexp.MustCompile(`^[A-Za-z0-9_-]{20,}={0,2}$`)
	disallowedChar = regexp.MustCompile(`[^A-Za-z0-9_.\-*]`)
)

// GeneralizePath strips query strings and replaces UUID, long-numeric-ID,
// and base64-token path segments with "*", so the result matches
// ^[A-Za-z0-9_\-/\.\*]*$ per spec.md §8.1 invariant 10. A final pass
// replaces any segment that still carries a character outside that set
// (e.g. "%20" or an "@"-bearing segment the heuristics above don't
// recognize) with "*", so the invariant holds for every segment, not just
// the ones the UUID/numeric/token heuristics catch.
func GeneralizePath(path string) string {
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if uuidPattern.MatchString(seg) || numericPattern.MatchString(seg) || looksLikeToken(seg) || disallowedChar.MatchString(seg) {
			segments[i] = "*"
		}
	}
	return strings.Join(segments, "/")
}

// looksLikeToken applies the base64-token heuristic only to segments that
// aren't plausible plain words: mixed-case-and-digit strings of
// non-trivial length with no separator characters.
func looksLikeToken(seg string) bool {
	if !base64Pattern.MatchString(seg) {
		return false
	}
	hasDigit, hasUpper, hasLower := false, false, false
	for _, r := range seg {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		}
	}
	// Require at least two of the three character classes so that an
	// ordinary lowercase word like "dashboard-settings-page" isn't
	// mistaken for a token.
	classes := 0
	for _, b := range []bool{hasDigit, hasUpper, hasLower} {
		if b {
			classes++
		}
	}
	return classes >= 2
}
