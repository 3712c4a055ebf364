package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		content string
		quality ResponseQuality
		valid   bool
	}{
		{"normal reply", "Kopi Gayo tersedia, harganya Rp45.000.", QualityValid, true},
		{"empty", "", QualityEmpty, false},
		{"whitespace only", "   \n\t ", QualityWhitespaceOnly, false},
		{"too short", "Ok sip", QualityTooShort, false},
		{"error prefix", "Error: upstream returned 502", QualityErrorIndicator, false},
		{"refusal", "Sorry, I can't help with that request.", QualityErrorIndicator, false},
		{"refusal without comma", "sorry i am unable to process this right now", QualityErrorIndicator, false},
		{"ai disclaimer", "As an AI, I do not have access to your order.", QualityErrorIndicator, false},
		{"truncated marker", "[truncated] and then some", QualityErrorIndicator, false},
		{"error mentioned mid-sentence is fine", "There was an error with your payment, let me retry it for you.", QualityValid, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := Validate(tc.content, 0)
			assert.Equal(t, tc.quality, v.Quality)
			assert.Equal(t, tc.valid, v.Valid)
		})
	}

	t.Run("custom minimum length", func(t *testing.T) {
		v := Validate("Halo kak!", 5)
		assert.True(t, v.Valid)
	})
}

func TestIsRetryableFailure(t *testing.T) {
	assert.True(t, IsRetryableFailure(Validation{Quality: QualityEmpty}))
	assert.True(t, IsRetryableFailure(Validation{Quality: QualityWhitespaceOnly}))
	assert.True(t, IsRetryableFailure(Validation{Quality: QualityTooShort}))
	assert.False(t, IsRetryableFailure(Validation{Quality: QualityErrorIndicator}))
	assert.False(t, IsRetryableFailure(Validation{Quality: QualityValid}))
}

func TestFirstJSONObject(t *testing.T) {
	t.Run("bare object", func(t *testing.T) {
		raw, ok := firstJSONObject(`{"is_safe": true}`)
		assert.True(t, ok)
		assert.Equal(t, `{"is_safe": true}`, raw)
	})

	t.Run("prose around the object", func(t *testing.T) {
		raw, ok := firstJSONObject("Here is my verdict:\n{\"is_safe\": false, \"reason\": \"abuse\"}\nThanks!")
		assert.True(t, ok)
		assert.Equal(t, `{"is_safe": false, "reason": "abuse"}`, raw)
	})

	t.Run("nested braces", func(t *testing.T) {
		raw, ok := firstJSONObject(`{"outer": {"inner": 1}} {"second": 2}`)
		assert.True(t, ok)
		assert.Equal(t, `{"outer": {"inner": 1}}`, raw)
	})

	t.Run("braces inside strings do not confuse the scanner", func(t *testing.T) {
		raw, ok := firstJSONObject(`{"reason": "user wrote \"}{\" in the message"}`)
		assert.True(t, ok)
		assert.True(t, strings.HasSuffix(raw, `"}`))
	})

	t.Run("no object", func(t *testing.T) {
		_, ok := firstJSONObject("plain text only")
		assert.False(t, ok)
	})

	t.Run("unbalanced object", func(t *testing.T) {
		_, ok := firstJSONObject(`{"is_safe": true`)
		assert.False(t, ok)
	})
}
