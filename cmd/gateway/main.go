// The gateway is the HTTP-facing process: it terminates webhooks from
// the WhatsApp bridge and the payment providers, serves the management
// API, and publishes everything that needs work onto the broker. It
// never talks to the LLM.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tokotalk/tokotalk/pkg/api"
	"github.com/tokotalk/tokotalk/pkg/broker"
	"github.com/tokotalk/tokotalk/pkg/cache"
	"github.com/tokotalk/tokotalk/pkg/config"
	"github.com/tokotalk/tokotalk/pkg/database"
	"github.com/tokotalk/tokotalk/pkg/events"
	"github.com/tokotalk/tokotalk/pkg/masking"
	"github.com/tokotalk/tokotalk/pkg/payments"
	"github.com/tokotalk/tokotalk/pkg/resilience"
	"github.com/tokotalk/tokotalk/pkg/services"
	"github.com/tokotalk/tokotalk/pkg/version"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file, using environment as-is")
	}

	httpPort := os.Getenv("HTTP_PORT")
	if httpPort == "" {
		httpPort = "8080"
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
		With("service", "gateway", "version", version.Full())
	slog.SetDefault(logger)

	// 2. Database (opens pool, runs migrations)
	dbClient, err := database.NewClient(ctx, database.DefaultPoolConfig(cfg.DatabaseURL))
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	logger.Info("Database ready")

	// 3. Redis (job status mirror)
	store, err := cache.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// 4. Broker
	b, err := broker.Connect(ctx, cfg.Broker.URL, broker.Topology{
		Queues:        []string{cfg.Broker.TaskQueue, cfg.Broker.CRMQueue, cfg.Broker.WAQueue},
		EventExchange: cfg.Broker.EventExchange,
	})
	if err != nil {
		logger.Error("Failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer b.Close()
	pub := broker.NewPublisher(b)
	emitter := events.NewEmitter(pub, logger)
	logger.Info("Broker connected", "url", cfg.Broker.URL)

	// 5. Payment gateways
	gateways := payments.NewRegistry(
		payments.NewMidtrans(cfg.Payment.MidtransServerKey, cfg.Payment.MidtransIsProduction),
		payments.NewXendit(cfg.Payment.XenditSecretKey, cfg.Payment.XenditCallbackToken),
	)

	// 6. HTTP server
	breakers := resilience.NewRegistry(cfg.Breaker, nil)
	jobs := services.NewJobService(dbClient.DB, store, cfg.Job, logger)
	server := api.NewServer(dbClient.DB, cfg, pub, emitter, breakers, gateways, jobs, logger)

	httpServer := &http.Server{
		Addr:              ":" + httpPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		logger.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	logger.Info("Shutdown complete")
}
