// Package masking redacts customer PII and credentials from log output.
// Chat identifiers on this platform are phone numbers, so anything that
// logs a chat_id or a message body is logging PII; the masker keeps just
// enough of each value to correlate log lines.
package masking

import (
	"regexp"
	"strings"
)

// pattern pairs a compiled regex with its replacement function.
type pattern struct {
	name    string
	regex   *regexp.Regexp
	replace func(match string) string
}

// Masker applies the built-in redaction patterns to strings.
type Masker struct {
	patterns []pattern
}

// NewMasker compiles the built-in patterns: API keys, bearer tokens,
// Indonesian phone numbers (bare or inside WhatsApp chat ids), and email
// addresses. Phone masking runs before email masking so the @c.us chat
// id form keeps its correlation suffix.
func NewMasker() *Masker {
	return &Masker{patterns: []pattern{
		{
			name:    "api_key",
			regex:   regexp.MustCompile(`\b(sk|xnd|SB-Mid-server)[-_][A-Za-z0-9_-]{8,}`),
			replace: func(string) string { return "***REDACTED_KEY***" },
		},
		{
			name:    "bearer_token",
			regex:   regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/-]{8,}=*`),
			replace: func(string) string { return "Bearer ***" },
		},
		{
			// The last four digits survive for correlation.
			name:    "phone",
			regex:   regexp.MustCompile(`\b(?:\+?62|08)\d{7,12}\b`),
			replace: maskPhone,
		},
		{
			name:    "email",
			regex:   regexp.MustCompile(`[A-Za-z0-9*._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
			replace: maskEmail,
		},
	}}
}

// Mask applies every pattern to s.
func (m *Masker) Mask(s string) string {
	for _, p := range m.patterns {
		s = p.regex.ReplaceAllStringFunc(s, p.replace)
	}
	return s
}

func maskPhone(match string) string {
	if len(match) <= 4 {
		return "****"
	}
	masked := make([]byte, len(match)-4)
	for i := range masked {
		masked[i] = '*'
	}
	return string(masked) + match[len(match)-4:]
}

// maskEmail leaves WhatsApp chat ids alone; the phone pattern already
// handled their local part.
func maskEmail(match string) string {
	if strings.HasSuffix(match, "@c.us") || strings.HasSuffix(match, "@g.us") {
		return match
	}
	return "***@***"
}
