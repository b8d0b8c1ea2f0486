package normalize

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Sanitizer holds the warnings collected while sanitizing a run's values,
// per spec §4.5a ("warnings are collected in the run details").
type Sanitizer struct {
	Strict   bool
	Warnings []string
}

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// SanitizeEmail validates an email address; invalid values become empty
// (null) and add a warning. Strict is not consulted.
func (s *Sanitizer) SanitizeEmail(field, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if emailRe.MatchString(raw) {
		return raw
	}
	s.warn(field, "invalid email: "+raw)
	return ""
}

// SanitizeURL adds an https:// prefix when the value fails to parse as-is,
// per spec §4.5a.
func (s *Sanitizer) SanitizeURL(field, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if u, err := url.ParseRequestURI(raw); err == nil && u.Scheme != "" {
		return raw
	}
	candidate := "https://" + raw
	if _, err := url.ParseRequestURI(candidate); err == nil {
		return candidate
	}
	s.warn(field, "invalid url: "+raw)
	return ""
}

var nonDigits = regexp.MustCompile(`[^0-9]`)

// SanitizePhone strips non-digit characters and requires at least 10
// digits remain, per spec §4.5a.
func (s *Sanitizer) SanitizePhone(field, raw string) string {
	digits := nonDigits.ReplaceAllString(raw, "")
	if len(digits) < 10 {
		if raw != "" {
			s.warn(field, "invalid phone: "+raw)
		}
		return ""
	}
	return digits
}

var numberRe = regexp.MustCompile(`[^0-9.\-]`)

// SanitizeNumber parses the digits/dot/minus subset of raw as a float;
// invalid input becomes nil (NaN ⇒ null per spec §4.5).
func (s *Sanitizer) SanitizeNumber(field, raw string) *float64 {
	cleaned := numberRe.ReplaceAllString(raw, "")
	if cleaned == "" {
		return nil
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		s.warn(field, "invalid number: "+raw)
		return nil
	}
	return &f
}

var isoDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// SanitizeDate normalizes raw to an ISO date (YYYY-MM-DD). Supports bare
// ISO dates, RFC3339 (with or without fractional seconds),
// "2006-01-02T15:04:05" and "2006/01/02"; anything else becomes empty.
func (s *Sanitizer) SanitizeDate(field, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if isoDate.MatchString(raw) {
		return raw
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006/01/02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC().Format("2006-01-02")
		}
	}
	s.warn(field, "invalid date: "+raw)
	return ""
}

// TruthyTokens are the checkbox-truthy strings from spec §4.5.
var TruthyTokens = map[string]bool{
	"true": true, "yes": true, "1": true, "on": true, "checked": true,
}

// SanitizeBool coerces raw to a checkbox boolean per spec §4.5.
func SanitizeBool(raw string) bool {
	return TruthyTokens[strings.ToLower(strings.TrimSpace(raw))]
}

func (s *Sanitizer) warn(field, msg string) {
	s.Warnings = append(s.Warnings, field+": "+msg)
}
