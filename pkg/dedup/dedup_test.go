package dedup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tokotalk/tokotalk/pkg/cache"
)

func TestCheckAndMarkFirstObservation(t *testing.T) {
	d := New(cache.NewMemoryStore(), 0, true)
	ctx := context.Background()

	dup, err := d.CheckAndMark(ctx, "t1", "c1", "m1")
	require.NoError(t, err)
	assert.False(t, dup, "first observation is not a duplicate")

	dup, err = d.CheckAndMark(ctx, "t1", "c1", "m1")
	require.NoError(t, err)
	assert.True(t, dup, "second observation is a duplicate")
}

func TestCheckAndMarkDistinctKeys(t *testing.T) {
	d := New(cache.NewMemoryStore(), 0, true)
	ctx := context.Background()

	_, err := d.CheckAndMark(ctx, "t1", "c1", "m1")
	require.NoError(t, err)

	for _, triple := range [][3]string{
		{"t2", "c1", "m1"},
		{"t1", "c2", "m1"},
		{"t1", "c1", "m2"},
	} {
		dup, err := d.CheckAndMark(ctx, triple[0], triple[1], triple[2])
		require.NoError(t, err)
		assert.False(t, dup, "triple %v must not collide", triple)
	}
}

func TestUnmarkForgetsMessage(t *testing.T) {
	d := New(cache.NewMemoryStore(), 0, true)
	ctx := context.Background()

	dup, err := d.CheckAndMark(ctx, "t1", "c1", "m1")
	require.NoError(t, err)
	require.False(t, dup)

	require.NoError(t, d.Unmark(ctx, "t1", "c1", "m1"))

	dup, err = d.CheckAndMark(ctx, "t1", "c1", "m1")
	require.NoError(t, err)
	assert.False(t, dup, "unmarked message is observed as new again")
}

func TestCheckAndMarkConcurrentSingleWinner(t *testing.T) {
	d := New(cache.NewMemoryStore(), 0, true)
	ctx := context.Background()

	const callers = 32
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		firsts int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dup, err := d.CheckAndMark(ctx, "t1", "c1", "m1")
			require.NoError(t, err)
			if !dup {
				mu.Lock()
				firsts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, firsts, "exactly one caller observes first-seen")
}

func TestIsDuplicateDoesNotMark(t *testing.T) {
	d := New(cache.NewMemoryStore(), 0, true)
	ctx := context.Background()

	dup, err := d.IsDuplicate(ctx, "t1", "c1", "m1")
	require.NoError(t, err)
	assert.False(t, dup)

	// The read-only check must not have marked anything.
	dup, err = d.CheckAndMark(ctx, "t1", "c1", "m1")
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestTTLExpiryForgetsMessage(t *testing.T) {
	store := cache.NewMemoryStore()
	now := time.Now()
	store.Now = func() time.Time { return now }
	d := New(store, time.Minute, true)
	ctx := context.Background()

	_, err := d.CheckAndMark(ctx, "t1", "c1", "m1")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	dup, err := d.CheckAndMark(ctx, "t1", "c1", "m1")
	require.NoError(t, err)
	assert.False(t, dup, "expired key is forgotten")
}

func TestDisabledModeAlwaysPasses(t *testing.T) {
	d := New(nil, 0, false)
	ctx := context.Background()

	dup, err := d.CheckAndMark(ctx, "t1", "c1", "m1")
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = d.IsDuplicate(ctx, "t1", "c1", "m1")
	require.NoError(t, err)
	assert.False(t, dup)
}
