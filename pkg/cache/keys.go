package cache

import "strings"

// Key prefixes for the crm: namespace. Kept in one place so the flush
// worker's scans and the writers always agree.
const (
	prefixBuffer       = "crm:msg_buffer:"
	prefixDedup        = "crm:dedup:"
	prefixConversation = "crm:conversation:"
	prefixCustomerConv = "crm:customer:conversation:"
	prefixContext      = "crm:context:"
	prefixJob          = "crm:job:"
)

// BufferKey returns the buffer key for a chat.
func BufferKey(chatID string) string {
	return prefixBuffer + sanitizeKeyPart(chatID)
}

// BufferKeyPattern matches all buffer keys, for the flush worker's scan.
func BufferKeyPattern() string {
	return prefixBuffer + "*"
}

// ChatIDFromBufferKey recovers the chat id component from a buffer key.
func ChatIDFromBufferKey(key string) string {
	return strings.TrimPrefix(key, prefixBuffer)
}

// DedupKey returns the dedup key for (tenant, chat, message).
func DedupKey(tenantID, chatID, messageID string) string {
	return prefixDedup + sanitizeKeyPart(tenantID) + ":" + sanitizeKeyPart(chatID) + ":" + sanitizeKeyPart(messageID)
}

// ConversationKey returns the conversation snapshot key.
func ConversationKey(conversationID string) string {
	return prefixConversation + sanitizeKeyPart(conversationID)
}

// CustomerConversationKey maps a customer to their active conversation id.
func CustomerConversationKey(customerID string) string {
	return prefixCustomerConv + sanitizeKeyPart(customerID)
}

// ContextKey returns the conversation context map key.
func ContextKey(conversationID string) string {
	return prefixContext + sanitizeKeyPart(conversationID)
}

// JobKey returns the hot job-status key.
func JobKey(jobID string) string {
	return prefixJob + sanitizeKeyPart(jobID)
}

// sanitizeKeyPart replaces characters that would break the colon-delimited
// key layout. Whitespace and colons become underscores.
func sanitizeKeyPart(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ':', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
