package buffer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tokotalk/tokotalk/pkg/cache"
	"github.com/tokotalk/tokotalk/pkg/config"
)

func testConfig() config.BufferConfig {
	return config.BufferConfig{
		InitialDelay:  2 * time.Second,
		ExtendDelay:   2 * time.Second,
		MaxDelay:      10 * time.Second,
		FlushInterval: 500 * time.Millisecond,
	}
}

func newTestManager(t *testing.T) (*Manager, *cache.MemoryStore, *time.Time) {
	t.Helper()
	store := cache.NewMemoryStore()
	now := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	clock := &now
	store.Now = func() time.Time { return *clock }
	m := NewManager(store, testConfig())
	m.now = func() time.Time { return *clock }
	return m, store, clock
}

func TestAddMessageCreatesEntryWithInitialDeadline(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()
	t0 := *clock

	res, err := m.AddMessage(ctx, "chat1", "Halo", t0, map[string]any{"message_id": "m1"})
	require.NoError(t, err)
	assert.Equal(t, StatusBuffering, res.Status)
	assert.Equal(t, 1, res.MessageCount)

	due, err := m.ShouldFlush(ctx, "chat1")
	require.NoError(t, err)
	assert.False(t, due, "not due before initial delay")

	*clock = t0.Add(2 * time.Second)
	due, err = m.ShouldFlush(ctx, "chat1")
	require.NoError(t, err)
	assert.True(t, due, "due at first_arrival + initial_delay")
}

func TestAddMessageExtendsDeadline(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()
	t0 := *clock

	_, err := m.AddMessage(ctx, "chat1", "Halo", t0, nil)
	require.NoError(t, err)
	_, err = m.AddMessage(ctx, "chat1", "Saya mau order", t0.Add(500*time.Millisecond), nil)
	require.NoError(t, err)

	// Deadline slid to t0+0.5s+2s = t0+2.5s.
	*clock = t0.Add(2 * time.Second)
	due, err := m.ShouldFlush(ctx, "chat1")
	require.NoError(t, err)
	assert.False(t, due)

	*clock = t0.Add(2500 * time.Millisecond)
	due, err = m.ShouldFlush(ctx, "chat1")
	require.NoError(t, err)
	assert.True(t, due)
}

func TestDeadlineCappedAtMaxDelay(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()
	t0 := *clock

	// Ten messages one second apart keep extending; the cap holds.
	for i := 0; i < 10; i++ {
		_, err := m.AddMessage(ctx, "chat1", "msg", t0.Add(time.Duration(i)*time.Second), nil)
		require.NoError(t, err)
	}

	*clock = t0.Add(10 * time.Second)
	due, err := m.ShouldFlush(ctx, "chat1")
	require.NoError(t, err)
	assert.True(t, due, "flush due at first_arrival + max_delay despite continued arrivals")

	combined, ok, err := m.Drain(ctx, "chat1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 10, combined.Messages)
}

func TestDrainJoinsInOrderAndDeletes(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()
	t0 := *clock

	_, err := m.AddMessage(ctx, "chat1", "Halo", t0, map[string]any{"message_id": "m1"})
	require.NoError(t, err)
	_, err = m.AddMessage(ctx, "chat1", "Saya mau order", t0.Add(500*time.Millisecond), map[string]any{"message_id": "m2"})
	require.NoError(t, err)
	_, err = m.AddMessage(ctx, "chat1", "Produk A 2 pcs", t0.Add(time.Second), map[string]any{"message_id": "m3"})
	require.NoError(t, err)

	combined, ok, err := m.Drain(ctx, "chat1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Halo\nSaya mau order\nProduk A 2 pcs", combined.Text)
	assert.Equal(t, true, combined.Metadata["buffered"])
	assert.Equal(t, "m3", combined.Metadata["message_id"])
	assert.Equal(t, []string{"m1", "m2", "m3"}, combined.Metadata["message_ids"])

	// Second drain loses.
	_, ok, err = m.Drain(ctx, "chat1")
	require.NoError(t, err)
	assert.False(t, ok, "buffer is gone after the first drain")
}

func TestDrainConcurrentSingleWinner(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.AddMessage(ctx, "chat1", "Halo", time.Now(), nil)
	require.NoError(t, err)

	const callers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := m.Drain(ctx, "chat1")
			require.NoError(t, err)
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners, "exactly one drain wins per buffer")
}

func TestActiveChats(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.AddMessage(ctx, "chatA", "x", time.Now(), nil)
	require.NoError(t, err)
	_, err = m.AddMessage(ctx, "chatB", "y", time.Now(), nil)
	require.NoError(t, err)

	chats, err := m.ActiveChats(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"chatA", "chatB"}, chats)
}

func TestEntrySelfEvictsAfterGrace(t *testing.T) {
	m, store, clock := newTestManager(t)
	ctx := context.Background()
	t0 := *clock

	_, err := m.AddMessage(ctx, "chat1", "Halo", t0, nil)
	require.NoError(t, err)

	// Entry TTL is (deadline - now) + grace; a worker dead past that loses
	// the buffer by design.
	*clock = t0.Add(2*time.Second + ttlGrace + time.Second)
	store.Now = func() time.Time { return *clock }

	_, ok, err := m.Drain(ctx, "chat1")
	require.NoError(t, err)
	assert.False(t, ok, "entry expired")
}
