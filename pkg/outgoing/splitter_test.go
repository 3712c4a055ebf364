package outgoing

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitIntoChunks(t *testing.T) {
	t.Run("short text passes through whole", func(t *testing.T) {
		chunks := SplitIntoChunks("  Halo kak! Pesanan diterima.  ", 500, 1000)
		require.Len(t, chunks, 1)
		assert.Equal(t, "Halo kak! Pesanan diterima.", chunks[0])
	})

	t.Run("empty text yields nothing", func(t *testing.T) {
		assert.Empty(t, SplitIntoChunks("   ", 500, 1000))
	})

	t.Run("long text splits at sentence boundaries", func(t *testing.T) {
		sentence := strings.Repeat("kata ", 12) + "selesai."
		text := strings.Repeat(sentence+" ", 10)
		chunks := SplitIntoChunks(text, 100, 200)
		require.Greater(t, len(chunks), 1)
		for _, chunk := range chunks {
			assert.LessOrEqual(t, len(chunk), 200)
			assert.True(t, strings.HasSuffix(chunk, "."), "chunk should end on a sentence: %q", chunk)
		}
	})

	t.Run("question and exclamation are boundaries", func(t *testing.T) {
		text := "Mau yang mana? " + strings.Repeat("a", 90) + "! Oke."
		chunks := SplitIntoChunks(text, 50, 100)
		require.Len(t, chunks, 2)
		assert.Equal(t, "Mau yang mana?", chunks[0])
	})

	t.Run("oversized sentence force-splits on words", func(t *testing.T) {
		text := strings.Repeat("panjang ", 100) // no sentence boundary at all
		chunks := SplitIntoChunks(text, 100, 200)
		require.Greater(t, len(chunks), 1)
		for _, chunk := range chunks {
			assert.LessOrEqual(t, len(chunk), 200)
			assert.False(t, strings.HasPrefix(chunk, " "))
			assert.False(t, strings.HasSuffix(chunk, " "))
		}
		// No word may be cut in half.
		reassembled := strings.Fields(strings.Join(chunks, " "))
		for _, w := range reassembled {
			assert.Equal(t, "panjang", w)
		}
	})

	t.Run("single overlong word hard-cuts", func(t *testing.T) {
		text := strings.Repeat("x", 350)
		chunks := SplitIntoChunks(text, 100, 150)
		require.Len(t, chunks, 3)
		assert.Equal(t, 150, len(chunks[0]))
		assert.Equal(t, 150, len(chunks[1]))
		assert.Equal(t, 50, len(chunks[2]))
	})

	t.Run("ellipsis stays with its sentence", func(t *testing.T) {
		text := "Hmm... biar saya cek dulu ya. " + strings.Repeat("b", 80) + "."
		chunks := SplitIntoChunks(text, 40, 60)
		assert.Equal(t, "Hmm... biar saya cek dulu ya.", chunks[0])
	})
}

// fakeTaskPublisher records published chunk messages.
type fakeTaskPublisher struct {
	queue    string
	messages []Message
}

func (f *fakeTaskPublisher) PublishTask(_ context.Context, queue string, body any) error {
	f.queue = queue
	f.messages = append(f.messages, body.(Message))
	return nil
}

func TestPublishSplit(t *testing.T) {
	fake := &fakeTaskPublisher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pub := NewPublisher(fake, "wa_messages", 1500*time.Millisecond, 100, 50, logger)

	var slept []time.Duration
	pub.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	sentence := strings.Repeat("kata ", 15) + "titik."
	text := sentence + " " + sentence + " " + sentence

	n, err := pub.PublishSplit(context.Background(), "toko-sejahtera", "628111@c.us", text,
		map[string]any{"job_id": "job-1"})
	require.NoError(t, err)
	require.Greater(t, n, 1)
	require.Len(t, fake.messages, n)
	assert.Equal(t, "wa_messages", fake.queue)

	// Sleeps happen between chunks only.
	assert.Len(t, slept, n-1)
	for _, d := range slept {
		assert.Equal(t, 1500*time.Millisecond, d)
	}

	for i, msg := range fake.messages {
		assert.Equal(t, "toko-sejahtera", msg.Session)
		assert.Equal(t, "628111@c.us", msg.ChatID)
		assert.Equal(t, i+1, msg.Metadata["chunk"])
		assert.Equal(t, n, msg.Metadata["total_chunks"])
		assert.Equal(t, "job-1", msg.Metadata["job_id"])
		assert.NotEmpty(t, msg.ID)
	}
}

func TestPublishSplitCancelledBetweenChunks(t *testing.T) {
	fake := &fakeTaskPublisher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pub := NewPublisher(fake, "wa_messages", time.Second, 60, 30, logger)
	pub.sleep = func(ctx context.Context, _ time.Duration) error { return context.Canceled }

	text := strings.Repeat("kalimat pendek. ", 20)
	n, err := pub.PublishSplit(context.Background(), "s", "c", text, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, n) // first chunk went out before the cancel
	assert.Len(t, fake.messages, 1)
}
