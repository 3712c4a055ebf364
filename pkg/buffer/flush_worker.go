package buffer

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DispatchFunc receives one drained buffer. It must be safe to call from
// the flush worker goroutine; errors are logged, never fatal to the loop.
type DispatchFunc func(ctx context.Context, chatID, combinedText string, metadata map[string]any) error

// FlushWorker periodically scans active buffers and dispatches the ones
// whose deadline has passed. On Stop it force-drains everything that
// remains so no buffered message is stranded by a shutdown.
type FlushWorker struct {
	manager  *Manager
	dispatch DispatchFunc
	interval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewFlushWorker creates a flush worker ticking at interval.
func NewFlushWorker(manager *Manager, interval time.Duration, dispatch DispatchFunc) *FlushWorker {
	return &FlushWorker{
		manager:  manager,
		dispatch: dispatch,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the flush loop.
func (w *FlushWorker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop drains all remaining buffers and waits for the loop to exit.
// Safe to call multiple times.
func (w *FlushWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *FlushWorker) run(ctx context.Context) {
	defer w.wg.Done()

	slog.Info("Flush worker started", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			slog.Info("Flush worker draining remaining buffers before shutdown")
			w.tick(context.Background(), true)
			return
		case <-ctx.Done():
			slog.Info("Context cancelled, flush worker draining")
			w.tick(context.Background(), true)
			return
		case <-ticker.C:
			w.tick(ctx, false)
		}
	}
}

// tick scans active chats and dispatches due buffers. With force=true all
// buffers are dispatched regardless of deadline (shutdown drain).
func (w *FlushWorker) tick(ctx context.Context, force bool) {
	chats, err := w.manager.ActiveChats(ctx)
	if err != nil {
		slog.Warn("Flush worker scan failed", "error", err)
		return
	}

	for _, chatID := range chats {
		if !force {
			due, err := w.manager.ShouldFlush(ctx, chatID)
			if err != nil {
				slog.Warn("Flush check failed", "chat_id", chatID, "error", err)
				continue
			}
			if !due {
				continue
			}
		}
		w.flushOne(ctx, chatID)
	}
}

// flushOne drains and dispatches a single chat's buffer. A dispatch error
// must not crash the loop.
func (w *FlushWorker) flushOne(ctx context.Context, chatID string) {
	combined, ok, err := w.manager.Drain(ctx, chatID)
	if err != nil {
		slog.Warn("Buffer drain failed", "chat_id", chatID, "error", err)
		return
	}
	if !ok {
		// Another flusher won the GETDEL race.
		return
	}

	slog.Info("Dispatching buffered messages",
		"chat_id", chatID, "messages", combined.Messages)
	if err := w.dispatch(ctx, chatID, combined.Text, combined.Metadata); err != nil {
		slog.Error("Dispatch failed", "chat_id", chatID, "error", err)
	}
}
