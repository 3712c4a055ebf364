package sender

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokotalk/tokotalk/pkg/broker"
	"github.com/tokotalk/tokotalk/pkg/events"
	"github.com/tokotalk/tokotalk/pkg/outgoing"
)

type sentText struct {
	session, chatID, text, replyTo string
}

type fakeBridge struct {
	sent []sentText
	err  error
}

func (b *fakeBridge) SendText(_ context.Context, session, chatID, text, replyTo string) error {
	if b.err != nil {
		return b.err
	}
	b.sent = append(b.sent, sentText{session, chatID, text, replyTo})
	return nil
}

type delayedCapture struct {
	bodies []any
	delays []time.Duration
}

func (d *delayedCapture) PublishDelayed(_ context.Context, _ string, body any, delay time.Duration) error {
	d.bodies = append(d.bodies, body)
	d.delays = append(d.delays, delay)
	return nil
}

type eventCapture struct {
	routingKeys []string
}

func (e *eventCapture) PublishEvent(_ context.Context, routingKey string, _ any) error {
	e.routingKeys = append(e.routingKeys, routingKey)
	return nil
}

func delivery(t *testing.T, msg outgoing.Message) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	return amqp.Delivery{Body: body}
}

func newSender(bridge *fakeBridge, delayed *delayedCapture, evs *eventCapture) *Sender {
	return New(bridge, delayed, events.NewEmitter(evs, slog.Default()),
		"wa_messages", 3, 50*time.Millisecond, slog.Default())
}

func TestSendsChunk(t *testing.T) {
	bridge := &fakeBridge{}
	evs := &eventCapture{}
	s := newSender(bridge, &delayedCapture{}, evs)

	err := s.HandleMessage(context.Background(), delivery(t, outgoing.Message{
		ID: "m1", Session: "toko-sejahtera", ChatID: "628111000@c.us",
		Text: "Halo kak!",
		Metadata: map[string]any{
			"tenant_id": "t1", "chunk": float64(2), "total_chunks": float64(2),
		},
	}))
	require.NoError(t, err)
	require.Len(t, bridge.sent, 1)
	assert.Equal(t, "Halo kak!", bridge.sent[0].text)
	assert.Contains(t, evs.routingKeys, events.EventReplySent)
}

func TestReplySentOnlyOnFinalChunk(t *testing.T) {
	bridge := &fakeBridge{}
	evs := &eventCapture{}
	s := newSender(bridge, &delayedCapture{}, evs)

	err := s.HandleMessage(context.Background(), delivery(t, outgoing.Message{
		ID: "m1", Session: "s", ChatID: "c",
		Text:     "bagian pertama",
		Metadata: map[string]any{"chunk": float64(1), "total_chunks": float64(2)},
	}))
	require.NoError(t, err)
	assert.NotContains(t, evs.routingKeys, events.EventReplySent)
}

func TestRetriesOnBridgeFailure(t *testing.T) {
	bridge := &fakeBridge{err: errors.New("waha is down")}
	delayed := &delayedCapture{}
	s := newSender(bridge, delayed, &eventCapture{})

	err := s.HandleMessage(context.Background(), delivery(t, outgoing.Message{
		ID: "m1", Session: "s", ChatID: "c", Text: "halo",
	}))
	require.NoError(t, err)
	require.Len(t, delayed.bodies, 1)
	assert.Equal(t, 50*time.Millisecond, delayed.delays[0])

	retried := delayed.bodies[0].(outgoing.Message)
	assert.Equal(t, 1, retried.Metadata["send_attempt"])
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	bridge := &fakeBridge{err: errors.New("waha is down")}
	delayed := &delayedCapture{}
	evs := &eventCapture{}
	s := newSender(bridge, delayed, evs)

	err := s.HandleMessage(context.Background(), delivery(t, outgoing.Message{
		ID: "m1", Session: "s", ChatID: "c", Text: "halo",
		Metadata: map[string]any{"send_attempt": float64(2)},
	}))
	require.Error(t, err)
	assert.Empty(t, delayed.bodies)
	assert.Contains(t, evs.routingKeys, events.EventReplyFailed)
}

func TestRejectsMalformedMessages(t *testing.T) {
	s := newSender(&fakeBridge{}, &delayedCapture{}, &eventCapture{})
	ctx := context.Background()

	err := s.HandleMessage(ctx, amqp.Delivery{Body: []byte("not json")})
	assert.ErrorIs(t, err, broker.ErrBadMessage)

	err = s.HandleMessage(ctx, delivery(t, outgoing.Message{ID: "m1", Text: "no chat"}))
	assert.ErrorIs(t, err, broker.ErrBadMessage)
}
