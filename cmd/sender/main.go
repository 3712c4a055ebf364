// The sender is the last hop: it drains outgoing reply chunks from the
// queue and delivers them to WhatsApp through the bridge, preserving
// chunk order with prefetch 1.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tokotalk/tokotalk/pkg/bridge"
	"github.com/tokotalk/tokotalk/pkg/broker"
	"github.com/tokotalk/tokotalk/pkg/config"
	"github.com/tokotalk/tokotalk/pkg/events"
	"github.com/tokotalk/tokotalk/pkg/masking"
	"github.com/tokotalk/tokotalk/pkg/sender"
	"github.com/tokotalk/tokotalk/pkg/version"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file, using environment as-is")
	}

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := slog.New(masking.NewHandler(
		slog.NewJSONHandler(os.Stdout, nil), masking.NewMasker())).
		With("service", "sender", "version", version.Full())
	slog.SetDefault(logger)

	// 2. Broker
	b, err := broker.Connect(ctx, cfg.Broker.URL, broker.Topology{
		Queues:        []string{cfg.Broker.WAQueue},
		EventExchange: cfg.Broker.EventExchange,
	})
	if err != nil {
		logger.Error("Failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer b.Close()
	pub := broker.NewPublisher(b)

	// 3. Bridge and sender
	waha := bridge.NewClient(cfg.WAHA.ServerURL, cfg.WAHA.APIKey)
	s := sender.New(waha, pub, events.NewEmitter(pub, logger),
		cfg.Broker.WAQueue, 3, 5*time.Second, logger)

	// Prefetch 1: chunks of one reply must reach the chat in order.
	consumer := broker.NewConsumer(b, cfg.Broker.WAQueue, 1, s.HandleMessage)
	consumer.Start(ctx)
	logger.Info("Sender started", "queue", cfg.Broker.WAQueue, "waha", cfg.WAHA.ServerURL)

	// 4. Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("Shutdown signal received", "signal", sig)

	consumer.Stop()
	logger.Info("Shutdown complete")
}
