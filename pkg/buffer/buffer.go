// Package buffer coalesces bursty WhatsApp messages per chat into a single
// combined prompt. Entries live in the shared cache with a sliding flush
// deadline so state survives worker crashes and self-evicts via TTL.
package buffer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tokotalk/tokotalk/pkg/cache"
	"github.com/tokotalk/tokotalk/pkg/config"
)

// ttlGrace pads the entry TTL past the flush deadline so a briefly stalled
// worker still finds the buffer. An entry is lost to expiry only if the
// worker stays dead for max_delay + ttlGrace.
const ttlGrace = 30 * time.Second

// Status of an AddMessage call.
type Status string

// AddMessage outcomes.
const (
	StatusBuffering Status = "buffering"
)

// Message is one buffered bubble.
type Message struct {
	Content    string         `json:"content"`
	ReceivedAt time.Time      `json:"received_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Entry is the per-chat coalescing record stored at crm:msg_buffer:{chat}.
type Entry struct {
	Messages     []Message `json:"messages"`
	FirstArrival time.Time `json:"first_arrival"`
	FlushAt      time.Time `json:"flush_at"`
	MessageCount int       `json:"message_count"`
}

// Result reports the buffer state after AddMessage.
type Result struct {
	Status       Status
	MessageCount int
	UntilFlush   time.Duration
}

// Manager implements the buffer-and-flush contract over the shared cache.
type Manager struct {
	store cache.Store
	cfg   config.BufferConfig

	// now is the clock; swapped in tests.
	now func() time.Time
}

// NewManager creates a buffer manager.
func NewManager(store cache.Store, cfg config.BufferConfig) *Manager {
	return &Manager{store: store, cfg: cfg, now: time.Now}
}

// AddMessage appends a message to the chat's buffer, creating it on first
// arrival and sliding the flush deadline on each subsequent one. The
// deadline never exceeds first_arrival + max_delay.
func (m *Manager) AddMessage(ctx context.Context, chatID, content string, ts time.Time, metadata map[string]any) (Result, error) {
	key := cache.BufferKey(chatID)
	var result Result

	err := m.store.UpdateJSON(ctx, key, func(current []byte) (any, time.Duration, error) {
		var entry Entry
		if current == nil {
			entry = Entry{
				FirstArrival: ts,
				FlushAt:      ts.Add(m.cfg.InitialDelay),
			}
		} else if err := json.Unmarshal(current, &entry); err != nil {
			return nil, 0, fmt.Errorf("buffer: decode entry for %s: %w", chatID, err)
		}

		entry.Messages = append(entry.Messages, Message{
			Content:    content,
			ReceivedAt: ts,
			Metadata:   metadata,
		})
		entry.MessageCount = len(entry.Messages)

		candidate := ts.Add(m.cfg.ExtendDelay)
		cap := entry.FirstArrival.Add(m.cfg.MaxDelay)
		if candidate.Before(cap) {
			entry.FlushAt = candidate
		} else {
			entry.FlushAt = cap
		}

		ttl := entry.FlushAt.Sub(m.now()) + ttlGrace
		if ttl < ttlGrace {
			ttl = ttlGrace
		}

		result = Result{
			Status:       StatusBuffering,
			MessageCount: entry.MessageCount,
			UntilFlush:   time.Until(entry.FlushAt),
		}
		return entry, ttl, nil
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// ShouldFlush reports whether the chat has a buffer whose deadline has
// passed.
func (m *Manager) ShouldFlush(ctx context.Context, chatID string) (bool, error) {
	var entry Entry
	err := m.store.GetJSON(ctx, cache.BufferKey(chatID), &entry)
	if err == cache.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !m.now().Before(entry.FlushAt), nil
}

// Combined is the result of draining one buffer.
type Combined struct {
	Text     string
	Metadata map[string]any
	Messages int
}

// Drain atomically reads and deletes the chat's buffer, joining the
// ordered message texts with newlines. At most one concurrent caller wins;
// losers get ok=false. Message metadata is merged newest-wins, and the
// individual message ids are collected under "message_ids".
func (m *Manager) Drain(ctx context.Context, chatID string) (Combined, bool, error) {
	raw, err := m.store.GetDel(ctx, cache.BufferKey(chatID))
	if err == cache.ErrNotFound {
		return Combined{}, false, nil
	}
	if err != nil {
		return Combined{}, false, err
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return Combined{}, false, fmt.Errorf("buffer: decode entry for %s: %w", chatID, err)
	}
	if len(entry.Messages) == 0 {
		return Combined{}, false, nil
	}

	text := ""
	metadata := make(map[string]any)
	var messageIDs []string
	for i, msg := range entry.Messages {
		if i > 0 {
			text += "\n"
		}
		text += msg.Content
		for k, v := range msg.Metadata {
			if k == "message_id" {
				if id, ok := v.(string); ok {
					messageIDs = append(messageIDs, id)
				}
				continue
			}
			metadata[k] = v
		}
	}
	if len(messageIDs) > 0 {
		metadata["message_id"] = messageIDs[len(messageIDs)-1]
		metadata["message_ids"] = messageIDs
	}
	if len(entry.Messages) > 1 {
		metadata["buffered"] = true
	}

	return Combined{Text: text, Metadata: metadata, Messages: len(entry.Messages)}, true, nil
}

// ActiveChats lists chat ids that currently have a buffer.
func (m *Manager) ActiveChats(ctx context.Context) ([]string, error) {
	keys, err := m.store.ScanKeys(ctx, cache.BufferKeyPattern())
	if err != nil {
		return nil, err
	}
	chats := make([]string, 0, len(keys))
	for _, key := range keys {
		chats = append(chats, cache.ChatIDFromBufferKey(key))
	}
	return chats, nil
}
