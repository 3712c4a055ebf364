package agent

import (
	"regexp"
	"strings"
)

// ResponseQuality classifies a candidate LLM response.
type ResponseQuality string

// Response qualities.
const (
	QualityValid          ResponseQuality = "valid"
	QualityEmpty          ResponseQuality = "empty"
	QualityWhitespaceOnly ResponseQuality = "whitespace_only"
	QualityTooShort       ResponseQuality = "too_short"
	QualityErrorIndicator ResponseQuality = "error_indicator"
)

// DefaultMinResponseLength is the shortest reply worth sending.
const DefaultMinResponseLength = 10

// errorIndicators match responses that are well-formed text but clearly
// a refusal or an error leaked into the content channel.
var errorIndicators = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^error:`),
	regexp.MustCompile(`(?i)^sorry,? i (can't|cannot|am unable)`),
	regexp.MustCompile(`(?i)^as an ai`),
	regexp.MustCompile(`(?i)^\[truncated\]`),
	regexp.MustCompile(`(?i)^i apologize,? but i (can't|cannot|am unable)`),
}

// Validation is the outcome of checking one candidate response.
type Validation struct {
	Valid   bool
	Quality ResponseQuality
	Reason  string
}

// Validate classifies content. minLength <= 0 applies the default.
func Validate(content string, minLength int) Validation {
	if minLength <= 0 {
		minLength = DefaultMinResponseLength
	}
	if content == "" {
		return Validation{Quality: QualityEmpty, Reason: "response is empty"}
	}
	stripped := strings.TrimSpace(content)
	if stripped == "" {
		return Validation{Quality: QualityWhitespaceOnly, Reason: "response is whitespace only"}
	}
	if len(stripped) < minLength {
		return Validation{Quality: QualityTooShort, Reason: "response is shorter than the minimum length"}
	}
	for _, re := range errorIndicators {
		if re.MatchString(stripped) {
			return Validation{Quality: QualityErrorIndicator, Reason: "response matches an error indicator"}
		}
	}
	return Validation{Valid: true, Quality: QualityValid}
}

// IsRetryableFailure reports whether a failed validation is worth asking
// the model again for. Error indicators are deliberate model output and
// re-asking tends to reproduce them.
func IsRetryableFailure(v Validation) bool {
	switch v.Quality {
	case QualityEmpty, QualityWhitespaceOnly, QualityTooShort:
		return true
	}
	return false
}
