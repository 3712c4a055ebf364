package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingPublisher captures emitted events.
type recordingPublisher struct {
	mu       sync.Mutex
	err      error
	events   []string
	payloads []any
}

func (r *recordingPublisher) PublishEvent(_ context.Context, routingKey string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, routingKey)
	r.payloads = append(r.payloads, payload)
	return nil
}

func newTestEmitter(pub EventPublisher) *Emitter {
	e := NewEmitter(pub, slog.New(slog.NewTextHandler(testWriter{}, nil)))
	e.now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }
	return e
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestEmitter_RoutingKeyMatchesPayloadType(t *testing.T) {
	pub := &recordingPublisher{}
	e := newTestEmitter(pub)
	ctx := context.Background()

	e.Message(ctx, EventMessageReceived, "t1", "628111@c.us", "msg-1")
	e.ProcessingStarted(ctx, "t1", "628111@c.us")
	e.ConversationStateChanged(ctx, "t1", "628111@c.us", "greeting", "browsing")
	e.Order(ctx, EventOrderCreated, "t1", "o1", "c1", "pending", "", 125000)
	e.Payment(ctx, EventPaymentStatusChanged, "t1", "p1", "o1", "midtrans", "paid", "pending_payment", 125000)

	require.Len(t, pub.events, 5)
	assert.Equal(t, []string{
		EventMessageReceived,
		EventProcessingStarted,
		EventConversationStateChanged,
		EventOrderCreated,
		EventPaymentStatusChanged,
	}, pub.events)

	order, ok := pub.payloads[3].(OrderPayload)
	require.True(t, ok)
	assert.Equal(t, EventOrderCreated, order.Type)
	assert.Equal(t, "pending", order.Status)
	assert.Equal(t, 125000.0, order.Total)

	payment, ok := pub.payloads[4].(PaymentPayload)
	require.True(t, ok)
	assert.Equal(t, "pending_payment", payment.FromStatus)
	assert.Equal(t, "paid", payment.Status)
}

func TestEmitter_TimestampsAreRFC3339(t *testing.T) {
	pub := &recordingPublisher{}
	e := newTestEmitter(pub)

	e.ProcessingCompleted(context.Background(), "t1", "chat", 1500*time.Millisecond)

	require.Len(t, pub.payloads, 1)
	p := pub.payloads[0].(ProcessingPayload)
	parsed, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	require.NoError(t, err)
	assert.Equal(t, 2026, parsed.Year())
	assert.Equal(t, int64(1500), p.DurationMS)
}

func TestEmitter_PublishFailureIsSwallowed(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	e := newTestEmitter(pub)

	// Must not panic or propagate the error.
	e.ProcessingFailed(context.Background(), "t1", "chat", time.Second, errors.New("llm unavailable"))
	assert.Empty(t, pub.events)
}
