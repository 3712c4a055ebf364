package cache

import (
	"context"
	"encoding/json"
	"path"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by unit tests. TTLs are honoured
// against a swappable clock so expiry behaviour is testable without
// sleeping. Not suitable for multi-process deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		Now:     time.Now,
	}
}

func (m *MemoryStore) get(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !m.Now().Before(e.expiresAt) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (m *MemoryStore) set(key, value string, ttl time.Duration) {
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.Now().Add(ttl)
	}
	m.entries[key] = e
}

// GetJSON implements Store.
func (m *MemoryStore) GetJSON(_ context.Context, key string, dest any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.get(key)
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal([]byte(e.value), dest)
}

// SetJSON implements Store.
func (m *MemoryStore) SetJSON(_ context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(key, string(raw), ttl)
	return nil
}

// SetNX implements Store.
func (m *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.get(key); ok {
		return false, nil
	}
	m.set(key, value, ttl)
	return true, nil
}

// Exists implements Store.
func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.get(key)
	return ok, nil
}

// GetDel implements Store.
func (m *MemoryStore) GetDel(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.get(key)
	if !ok {
		return "", ErrNotFound
	}
	delete(m.entries, key)
	return e.value, nil
}

// Del implements Store.
func (m *MemoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.entries, key)
	}
	return nil
}

// ScanKeys implements Store using path.Match glob semantics.
func (m *MemoryStore) ScanKeys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for key := range m.entries {
		if _, ok := m.get(key); !ok {
			continue
		}
		if matched, _ := path.Match(pattern, key); matched {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Expire implements Store.
func (m *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.get(key)
	if !ok {
		return nil
	}
	e.expiresAt = m.Now().Add(ttl)
	m.entries[key] = e
	return nil
}

// UpdateJSON implements Store. The whole read-modify-write runs under the
// store mutex, matching the atomicity Redis WATCH provides.
func (m *MemoryStore) UpdateJSON(_ context.Context, key string, update UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current []byte
	if e, ok := m.get(key); ok {
		current = []byte(e.value)
	}
	next, ttl, err := update(current)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	raw, err := json.Marshal(next)
	if err != nil {
		return err
	}
	m.set(key, string(raw), ttl)
	return nil
}
