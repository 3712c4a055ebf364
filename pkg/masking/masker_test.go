package masking

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskPhoneNumbers(t *testing.T) {
	m := NewMasker()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare 62 number", "pesanan dari 628111000123", "pesanan dari ********0123"},
		{"chat id keeps suffix and domain", "chat 628111000123@c.us flushed", "chat ********0123@c.us flushed"},
		{"local 08 number", "hubungi 081234567890", "hubungi ********7890"},
		{"short codes untouched", "order #6281 ready", "order #6281 ready"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Mask(tt.in))
		})
	}
}

func TestMaskCredentials(t *testing.T) {
	m := NewMasker()

	assert.Equal(t, "key ***REDACTED_KEY*** used", m.Mask("key sk-proj1234567890abcdef used"))
	assert.Equal(t, "key ***REDACTED_KEY***", m.Mask("key xnd_development_abcdef123456"))
	assert.Equal(t, "auth Bearer ***", m.Mask("auth Bearer eyJhbGciOiJIUzI1NiJ9.payload"))
	assert.Equal(t, "from ***@***", m.Mask("from budi.santoso@gmail.com"))
}

func TestHandlerMasksRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(slog.NewTextHandler(&buf, nil), NewMasker()))

	logger.Info("Processed buffered message",
		"chat_id", "628111000123@c.us",
		"note", "customer email budi@example.com")

	out := buf.String()
	assert.NotContains(t, out, "628111000123")
	assert.Contains(t, out, "********0123@c.us")
	assert.NotContains(t, out, "budi@example.com")
	assert.Contains(t, out, "***@***")
}

func TestHandlerMasksPreboundAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(slog.NewTextHandler(&buf, nil), NewMasker())).
		With("chat_id", "628111000123")

	logger.Info("flush")
	assert.NotContains(t, buf.String(), "628111000123")
	assert.Contains(t, buf.String(), "********0123")
}
