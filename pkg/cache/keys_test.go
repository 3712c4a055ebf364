package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupKeySanitizesComponents(t *testing.T) {
	key := DedupKey("tenant 1", "628123:456@c.us", "msg\nid")
	assert.Equal(t, "crm:dedup:tenant_1:628123_456@c.us:msg_id", key)
}

func TestBufferKeyRoundTrip(t *testing.T) {
	chatID := "628123456789@c.us"
	key := BufferKey(chatID)
	assert.Equal(t, "crm:msg_buffer:628123456789@c.us", key)
	assert.Equal(t, chatID, ChatIDFromBufferKey(key))
}

func TestBufferKeyPatternCoversBufferKeys(t *testing.T) {
	assert.Equal(t, "crm:msg_buffer:*", BufferKeyPattern())
}
