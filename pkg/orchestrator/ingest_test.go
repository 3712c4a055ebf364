package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tokotalk/tokotalk/pkg/broker"
	"github.com/tokotalk/tokotalk/pkg/buffer"
	"github.com/tokotalk/tokotalk/pkg/cache"
	"github.com/tokotalk/tokotalk/pkg/config"
	"github.com/tokotalk/tokotalk/pkg/dedup"
	"github.com/tokotalk/tokotalk/pkg/events"
	"github.com/tokotalk/tokotalk/pkg/geo"
)

func newIngestor(t *testing.T) (*Ingestor, *buffer.Manager, *capturingPublisher) {
	t.Helper()
	store := cache.NewMemoryStore()
	pub := &capturingPublisher{}
	buffers := buffer.NewManager(store, config.BufferConfig{
		InitialDelay: 2 * time.Second,
		ExtendDelay:  2 * time.Second,
		MaxDelay:     10 * time.Second,
	})
	in := NewIngestor(
		dedup.New(store, time.Hour, true),
		buffers,
		geo.NewGeocoder(""), // disabled
		events.NewEmitter(pub, slog.Default()),
		slog.Default(),
	)
	return in, buffers, pub
}

func delivery(t *testing.T, msg IncomingMessage) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	return amqp.Delivery{Body: body}
}

func incoming(messageID, text string) IncomingMessage {
	return IncomingMessage{
		TenantID:  "t1",
		Session:   "toko-sejahtera",
		ChatID:    chatID,
		MessageID: messageID,
		Type:      "text",
		Text:      text,
		Timestamp: time.Now(),
	}
}

func TestHandleTaskBuffersMessages(t *testing.T) {
	in, buffers, pub := newIngestor(t)
	ctx := context.Background()

	require.NoError(t, in.HandleTask(ctx, delivery(t, incoming("wamid.1", "halo"))))
	require.NoError(t, in.HandleTask(ctx, delivery(t, incoming("wamid.2", "masih buka?"))))

	combined, ok, err := buffers.Drain(ctx, chatID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "halo\nmasih buka?", combined.Text)
	assert.Equal(t, "toko-sejahtera", combined.Metadata["session"])
	assert.Equal(t, true, combined.Metadata["buffered"])

	assert.Equal(t, []string{events.EventMessageBuffered, events.EventMessageBuffered}, pub.events)
}

func TestHandleTaskDropsDuplicates(t *testing.T) {
	in, buffers, pub := newIngestor(t)
	ctx := context.Background()

	require.NoError(t, in.HandleTask(ctx, delivery(t, incoming("wamid.1", "halo"))))
	require.NoError(t, in.HandleTask(ctx, delivery(t, incoming("wamid.1", "halo"))))

	combined, ok, err := buffers.Drain(ctx, chatID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, combined.Messages)
	assert.Contains(t, pub.events, events.EventMessageDuplicate)
}

// flakyStore refuses a number of UpdateJSON calls before behaving.
type flakyStore struct {
	cache.Store
	refusals int
}

func (s *flakyStore) UpdateJSON(ctx context.Context, key string, update cache.UpdateFunc) error {
	if s.refusals > 0 {
		s.refusals--
		return errors.New("cache write refused")
	}
	return s.Store.UpdateJSON(ctx, key, update)
}

func TestHandleTaskBufferFailureUnmarksDedup(t *testing.T) {
	store := &flakyStore{Store: cache.NewMemoryStore(), refusals: 1}
	pub := &capturingPublisher{}
	buffers := buffer.NewManager(store, config.BufferConfig{
		InitialDelay: 2 * time.Second,
		ExtendDelay:  2 * time.Second,
		MaxDelay:     10 * time.Second,
	})
	in := NewIngestor(
		dedup.New(store, time.Hour, true),
		buffers,
		geo.NewGeocoder(""),
		events.NewEmitter(pub, slog.Default()),
		slog.Default(),
	)
	ctx := context.Background()

	// First delivery marks the message but the buffer write fails.
	err := in.HandleTask(ctx, delivery(t, incoming("wamid.1", "halo")))
	require.Error(t, err)
	assert.NotErrorIs(t, err, broker.ErrBadMessage)

	// The broker redelivers; the message must not be dropped as a
	// duplicate of a write that never happened.
	require.NoError(t, in.HandleTask(ctx, delivery(t, incoming("wamid.1", "halo"))))

	combined, ok, err := buffers.Drain(ctx, chatID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "halo", combined.Text)
	assert.NotContains(t, pub.events, events.EventMessageDuplicate)
}

func TestHandleTaskBadPayload(t *testing.T) {
	in, _, _ := newIngestor(t)

	err := in.HandleTask(context.Background(), amqp.Delivery{Body: []byte("not json")})
	assert.ErrorIs(t, err, broker.ErrBadMessage)

	err = in.HandleTask(context.Background(), delivery(t, IncomingMessage{MessageID: "wamid.9"}))
	assert.ErrorIs(t, err, broker.ErrBadMessage)
}

func TestHandleTaskLocationMessage(t *testing.T) {
	in, buffers, _ := newIngestor(t)
	ctx := context.Background()

	msg := incoming("wamid.loc", "")
	msg.Type = "location"
	msg.Latitude = -6.2146
	msg.Longitude = 106.8451
	require.NoError(t, in.HandleTask(ctx, delivery(t, msg)))

	combined, ok, err := buffers.Drain(ctx, chatID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, combined.Text, "shared a location")
	assert.Contains(t, combined.Text, "-6.214600")
}
