// The agent worker is the brain of the platform: it consumes buffered
// chat messages and queued AI tasks, runs the agent graph against the
// tenant's LLM configuration, executes commerce tools, and publishes
// the reply chunks for the sender.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tokotalk/tokotalk/pkg/broker"
	"github.com/tokotalk/tokotalk/pkg/buffer"
	"github.com/tokotalk/tokotalk/pkg/cache"
	"github.com/tokotalk/tokotalk/pkg/cleanup"
	"github.com/tokotalk/tokotalk/pkg/config"
	"github.com/tokotalk/tokotalk/pkg/database"
	"github.com/tokotalk/tokotalk/pkg/dedup"
	"github.com/tokotalk/tokotalk/pkg/events"
	"github.com/tokotalk/tokotalk/pkg/geo"
	"github.com/tokotalk/tokotalk/pkg/masking"
	"github.com/tokotalk/tokotalk/pkg/orchestrator"
	"github.com/tokotalk/tokotalk/pkg/outgoing"
	"github.com/tokotalk/tokotalk/pkg/payments"
	"github.com/tokotalk/tokotalk/pkg/resilience"
	"github.com/tokotalk/tokotalk/pkg/services"
	"github.com/tokotalk/tokotalk/pkg/tools"
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
		With("service", "agentworker", "version", version.Full())
	slog.SetDefault(logger)

	// 2. Database
	dbClient, err := database.NewClient(ctx, database.DefaultPoolConfig(cfg.DatabaseURL))
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	// 3. Redis (buffers, dedup, conversation state, job mirror)
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

	// 5. Services and tools
	gateways := payments.NewRegistry(
		payments.NewMidtrans(cfg.Payment.MidtransServerKey, cfg.Payment.MidtransIsProduction),
		payments.NewXendit(cfg.Payment.XenditSecretKey, cfg.Payment.XenditCallbackToken),
	)
	customers := services.NewCustomerService(dbClient.DB)
	products := services.NewProductService(dbClient.DB)
	orders := services.NewOrderService(dbClient.DB)
	paySvc := services.NewPaymentService(dbClient.DB, gateways)
	crm := services.NewCRMService(dbClient.DB)
	conversations := services.NewConversationService(store)
	jobs := services.NewJobService(dbClient.DB, store, cfg.Job, logger)

	registry := tools.NewRegistry()
	tools.RegisterAll(registry, tools.Deps{
		Customers:              customers,
		Products:               products,
		Orders:                 orders,
		Payments:               paySvc,
		CRM:                    crm,
		Conversations:          conversations,
		DefaultPaymentProvider: "midtrans",
	})

	// 6. Orchestrator
	breakers := resilience.NewRegistry(cfg.Breaker, nil)
	out := outgoing.NewPublisher(pub, cfg.Broker.WAQueue, cfg.Outgoing.DelayBetween,
		cfg.Outgoing.MaxLength, cfg.Outgoing.MinSplitLength, logger)
	orch := orchestrator.New(
		services.NewTenantService(dbClient.DB),
		customers,
		conversations,
		registry,
		breakers,
		out,
		emitter,
		nil, // default OpenAI-compatible client factory
		cfg.LLM,
		logger,
	)

	// 7. Ingest pipeline: crm_tasks -> dedup -> geocode -> buffer
	geocoder := geo.NewGeocoder(cfg.Geo.APIKey).WithBaseURL(cfg.Geo.BaseURL)
	deduper := dedup.New(store, cfg.Dedup.TTL, cfg.Dedup.Enabled)
	buffers := buffer.NewManager(store, cfg.Buffer)
	ingestor := orchestrator.NewIngestor(deduper, buffers, geocoder, emitter, logger)

	ingestConsumer := broker.NewConsumer(b, cfg.Broker.CRMQueue, 1, ingestor.HandleTask)
	ingestConsumer.Start(ctx)

	// 8. Flush worker drives buffered chats into the agent
	flushWorker := buffer.NewFlushWorker(buffers, cfg.Buffer.FlushInterval, orch.HandleFlush)
	flushWorker.Start(ctx)

	// 9. Task worker: AI jobs and deferred payment webhook verification.
	// Prefetch 1 keeps one LLM run in flight per process.
	taskWorker := orchestrator.NewTaskWorker(orch, gateways, paySvc, orders, jobs,
		emitter, pub, cfg.Broker.TaskQueue, logger)
	taskConsumer := broker.NewConsumer(b, cfg.Broker.TaskQueue, 1, taskWorker.HandleTask)
	taskConsumer.Start(ctx)

	// 10. Retention sweeper purges old terminal jobs and closed tickets.
	sweeper := cleanup.NewService(dbClient.DB, cfg.Retention, logger)
	sweeper.Start(ctx)

	logger.Info("Agent worker started",
		"crm_queue", cfg.Broker.CRMQueue, "task_queue", cfg.Broker.TaskQueue)

	// 11. Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("Shutdown signal received", "signal", sig)

	// 12. Graceful shutdown: stop intake first, then let the flush
	// worker finish in-flight buffers.
	done := make(chan struct{})
	go func() {
		ingestConsumer.Stop()
		taskConsumer.Stop()
		flushWorker.Stop()
		sweeper.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Workers stopped gracefully")
	case <-time.After(30 * time.Second):
		logger.Warn("Shutdown timeout exceeded")
	}
	logger.Info("Shutdown complete")
}
