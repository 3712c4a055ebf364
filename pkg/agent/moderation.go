package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tokotalk/tokotalk/pkg/llm"
)

// moderationPrompt asks for a strict JSON verdict so the parser has a
// fighting chance even when the model adds prose around it.
const moderationPrompt = `You are a content moderator for a commerce chat platform.
Classify the user message below. Respond with a single JSON object and nothing else:
{"is_safe": true|false, "violations": ["..."], "confidence": 0.0-1.0, "reason": "..."}
Flag only abuse, harassment, fraud attempts, or requests for illegal goods. Ordinary shopping talk is safe.`

// Verdict is the moderation outcome for one user turn.
type Verdict struct {
	IsSafe     bool     `json:"is_safe"`
	Violations []string `json:"violations,omitempty"`
	Confidence float64  `json:"confidence"`
	Reason     string   `json:"reason,omitempty"`
}

// defaultSafeVerdict is used whenever moderation cannot produce a real
// answer. Moderation must never block the pipeline.
func defaultSafeVerdict(reason string) Verdict {
	return Verdict{IsSafe: true, Confidence: 0, Reason: reason}
}

// moderate classifies the last user message. Any failure, from transport
// to parsing, degrades to a default-safe verdict with the reason recorded.
func (r *run) moderate(ctx context.Context) Verdict {
	userText := lastUserContent(r.input.History)
	if userText == "" {
		return defaultSafeVerdict("no user message to moderate")
	}

	resp, err := r.callLLM(ctx, "moderation", llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: moderationPrompt},
			{Role: llm.RoleUser, Content: userText},
		},
		Temperature: 0,
		MaxTokens:   256,
	})
	if err != nil {
		r.logger.Warn("Moderation call failed, defaulting to safe", "error", err)
		return defaultSafeVerdict("moderation call failed: " + err.Error())
	}

	raw, ok := firstJSONObject(resp.Content)
	if !ok {
		return defaultSafeVerdict("moderation response had no JSON object")
	}
	verdict := Verdict{IsSafe: true}
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return defaultSafeVerdict("moderation response was not valid JSON")
	}
	return verdict
}

// firstJSONObject extracts the first balanced {...} substring.
func firstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func lastUserContent(history []llm.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == llm.RoleUser {
			return history[i].Content
		}
	}
	return ""
}
