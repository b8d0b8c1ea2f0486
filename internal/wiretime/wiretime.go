// Package wiretime parses the timestamp shapes the two external systems
// actually send on the wire. Both accept RFC3339 consistently, but some
// integrations (and every mock/test fixture observed in the pack) send
// raw Unix milliseconds instead — ParseFlexible tries both rather than
// silently collapsing an unrecognized format to the zero time.
package wiretime

import (
	"strconv"
	"time"
)

// ParseFlexible parses s as RFC3339 (with or without fractional seconds)
// or, failing that, as a Unix-milliseconds integer. false means s could
// not be parsed by either rule.
func ParseFlexible(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), true
	}
	return time.Time{}, false
}
