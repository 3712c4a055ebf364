package outgoing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Message is one outgoing WhatsApp bubble on the wire to the sender.
type Message struct {
	ID       string         `json:"id"`
	Session  string         `json:"session"`
	ChatID   string         `json:"chat_id"`
	Text     string         `json:"text"`
	ReplyTo  string         `json:"reply_to,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TaskPublisher is the slice of the broker publisher the pacer needs.
type TaskPublisher interface {
	PublishTask(ctx context.Context, queue string, body any) error
}

// Publisher splits responses and publishes the chunks with pacing.
// One response is published start to finish by a single call, so chunks
// of different responses to the same chat never interleave.
type Publisher struct {
	pub            TaskPublisher
	queue          string
	delayBetween   time.Duration
	maxLength      int
	minSplitLength int
	logger         *slog.Logger
	sleep          func(ctx context.Context, d time.Duration) error
}

// NewPublisher creates a paced outgoing publisher.
func NewPublisher(pub TaskPublisher, queue string, delayBetween time.Duration, maxLength, minSplitLength int, logger *slog.Logger) *Publisher {
	return &Publisher{
		pub:            pub,
		queue:          queue,
		delayBetween:   delayBetween,
		maxLength:      maxLength,
		minSplitLength: minSplitLength,
		logger:         logger.With("component", "outgoing"),
		sleep:          sleepCtx,
	}
}

// PublishSplit splits text and publishes each chunk as its own queue
// message carrying {chunk, total_chunks} metadata, sleeping between
// publishes. Returns the number of chunks published.
func (p *Publisher) PublishSplit(ctx context.Context, session, chatID, text string, metadata map[string]any) (int, error) {
	chunks := SplitIntoChunks(text, p.minSplitLength, p.maxLength)
	if len(chunks) == 0 {
		return 0, nil
	}

	for i, chunk := range chunks {
		if i > 0 {
			if err := p.sleep(ctx, p.delayBetween); err != nil {
				return i, err
			}
		}

		meta := make(map[string]any, len(metadata)+2)
		for k, v := range metadata {
			meta[k] = v
		}
		meta["chunk"] = i + 1
		meta["total_chunks"] = len(chunks)

		msg := Message{
			ID:       uuid.NewString(),
			Session:  session,
			ChatID:   chatID,
			Text:     chunk,
			Metadata: meta,
		}
		if err := p.pub.PublishTask(ctx, p.queue, msg); err != nil {
			return i, fmt.Errorf("outgoing: publish chunk %d/%d: %w", i+1, len(chunks), err)
		}
		p.logger.Debug("Published outgoing chunk",
			"chat_id", chatID, "chunk", i+1, "total_chunks", len(chunks), "length", len(chunk))
	}
	return len(chunks), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
