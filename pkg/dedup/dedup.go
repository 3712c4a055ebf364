// Package dedup suppresses duplicate webhook deliveries using atomic
// set-if-absent keys in the shared cache.
package dedup

import (
	"context"
	"time"

	"github.com/tokotalk/tokotalk/pkg/cache"
)

// DefaultTTL is how long a message id is remembered. WAHA redeliveries
// cluster well inside this window.
const DefaultTTL = 5 * time.Minute

// Deduplicator tracks seen (tenant, chat, message) triples.
type Deduplicator struct {
	store   cache.Store
	ttl     time.Duration
	enabled bool
}

// New creates a deduplicator. A zero ttl uses DefaultTTL.
func New(store cache.Store, ttl time.Duration, enabled bool) *Deduplicator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Deduplicator{store: store, ttl: ttl, enabled: enabled}
}

// CheckAndMark atomically records the message and reports whether it was
// already seen. Exactly one concurrent caller per key observes false.
// On a cache error the caller should treat the message as new and proceed:
// a duplicate reply beats a silently dropped customer message.
func (d *Deduplicator) CheckAndMark(ctx context.Context, tenantID, chatID, messageID string) (bool, error) {
	if !d.enabled {
		return false, nil
	}
	key := cache.DedupKey(tenantID, chatID, messageID)
	stored, err := d.store.SetNX(ctx, key, "1", d.ttl)
	if err != nil {
		return false, err
	}
	// stored=true means the key was absent, i.e. first observation.
	return !stored, nil
}

// Unmark forgets a marked message so a later redelivery is processed
// again. Used when the pipeline fails after CheckAndMark and the
// delivery goes back to the broker.
func (d *Deduplicator) Unmark(ctx context.Context, tenantID, chatID, messageID string) error {
	if !d.enabled {
		return nil
	}
	return d.store.Del(ctx, cache.DedupKey(tenantID, chatID, messageID))
}

// IsDuplicate reports whether the message has been seen without marking it.
func (d *Deduplicator) IsDuplicate(ctx context.Context, tenantID, chatID, messageID string) (bool, error) {
	if !d.enabled {
		return false, nil
	}
	return d.store.Exists(ctx, cache.DedupKey(tenantID, chatID, messageID))
}
