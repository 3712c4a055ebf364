// Package outgoing turns one agent response into paced WhatsApp bubbles:
// the splitter segments at sentence boundaries and the publisher emits
// each chunk to the outgoing queue with an inter-chunk delay.
package outgoing

import (
	"strings"
	"unicode"
)

// Splitter defaults.
const (
	DefaultMinSplitLength = 500
	DefaultMaxLength      = 1000
)

// SplitIntoChunks segments text into message-sized chunks. Short texts
// pass through whole. Long texts are split into sentences and the
// sentences greedy-packed up to maxLength; a single sentence longer than
// maxLength is force-split on word boundaries.
func SplitIntoChunks(text string, minSplitLength, maxLength int) []string {
	if minSplitLength <= 0 {
		minSplitLength = DefaultMinSplitLength
	}
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if len(trimmed) <= minSplitLength {
		return []string{trimmed}
	}

	var chunks []string
	var current strings.Builder
	for _, sentence := range splitSentences(trimmed) {
		if len(sentence) > maxLength {
			if current.Len() > 0 {
				chunks = append(chunks, strings.TrimSpace(current.String()))
				current.Reset()
			}
			chunks = append(chunks, forceSplit(sentence, maxLength)...)
			continue
		}
		if current.Len() > 0 && current.Len()+1+len(sentence) > maxLength {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(sentence)
	}
	if current.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}
	return chunks
}

// splitSentences cuts on ". ", "! ", "? " style boundaries, keeping the
// punctuation with the sentence.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
			// Consume a run of terminal punctuation ("!!", "?!", "...").
			j := i
			for j+1 < len(runes) && (runes[j+1] == '.' || runes[j+1] == '!' || runes[j+1] == '?') {
				j++
			}
			if j+1 >= len(runes) || unicode.IsSpace(runes[j+1]) {
				sentence := strings.TrimSpace(string(runes[start : j+1]))
				if sentence != "" {
					sentences = append(sentences, sentence)
				}
				start = j + 1
			}
			i = j
		}
	}
	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

// forceSplit breaks an oversized sentence on word boundaries, falling
// back to a hard cut for a single overlong word.
func forceSplit(sentence string, maxLength int) []string {
	var chunks []string
	var current strings.Builder
	for _, word := range strings.Fields(sentence) {
		for len(word) > maxLength {
			if current.Len() > 0 {
				chunks = append(chunks, current.String())
				current.Reset()
			}
			chunks = append(chunks, word[:maxLength])
			word = word[maxLength:]
		}
		if current.Len() > 0 && current.Len()+1+len(word) > maxLength {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
