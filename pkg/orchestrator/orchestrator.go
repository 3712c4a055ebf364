// Package orchestrator turns a flushed message buffer into an agent run
// and an outgoing reply. It owns the glue between the buffer engine, the
// services layer, the agent graph, and the outgoing splitter.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tokotalk/tokotalk/pkg/agent"
	"github.com/tokotalk/tokotalk/pkg/config"
	"github.com/tokotalk/tokotalk/pkg/events"
	"github.com/tokotalk/tokotalk/pkg/llm"
	"github.com/tokotalk/tokotalk/pkg/metrics"
	"github.com/tokotalk/tokotalk/pkg/models"
	"github.com/tokotalk/tokotalk/pkg/outgoing"
	"github.com/tokotalk/tokotalk/pkg/resilience"
	"github.com/tokotalk/tokotalk/pkg/services"
	"github.com/tokotalk/tokotalk/pkg/tools"
)

// Static replies for the paths where no agent can run.
const (
	TenantUnavailableMessage = "Maaf, nomor ini sedang tidak melayani pesan. Silakan hubungi toko melalui saluran lain."
	ConfigErrorMessage       = "Maaf, terjadi kesalahan konfigurasi pada toko ini. Tim kami sudah diberi tahu."
)

// ClientFactory builds an LLM client for one tenant configuration.
// Production uses llm.NewOpenAIClient; tests inject fakes.
type ClientFactory func(cfg models.LLMConfig) (llm.Client, error)

// DefaultClientFactory builds the OpenAI-compatible client.
func DefaultClientFactory(cfg models.LLMConfig) (llm.Client, error) {
	return llm.NewOpenAIClient(llm.Settings{
		Provider:  cfg.Provider,
		Model:     cfg.ModelName,
		APIKeyEnv: cfg.APIKeyEnv,
		BaseURL:   cfg.BaseURL,
	})
}

// Orchestrator executes the flush callback for every chat whose buffer
// fires.
type Orchestrator struct {
	tenants       *services.TenantService
	customers     *services.CustomerService
	conversations *services.ConversationService
	tools         *tools.Registry
	breakers      *resilience.Registry
	outgoing      *outgoing.Publisher
	emitter       *events.Emitter
	clients       ClientFactory
	llmDefaults   config.LLMConfig
	logger        *slog.Logger

	// runners are cached per llm config; a config change in the DB is
	// picked up lazily because the key includes the updated_at stamp.
	mu      sync.Mutex
	runners map[string]*agent.Runner
}

// New wires an orchestrator.
func New(
	tenants *services.TenantService,
	customers *services.CustomerService,
	conversations *services.ConversationService,
	registry *tools.Registry,
	breakers *resilience.Registry,
	out *outgoing.Publisher,
	emitter *events.Emitter,
	clients ClientFactory,
	llmDefaults config.LLMConfig,
	logger *slog.Logger,
) *Orchestrator {
	if clients == nil {
		clients = DefaultClientFactory
	}
	return &Orchestrator{
		tenants:       tenants,
		customers:     customers,
		conversations: conversations,
		tools:         registry,
		breakers:      breakers,
		outgoing:      out,
		emitter:       emitter,
		clients:       clients,
		llmDefaults:   llmDefaults,
		logger:        logger,
		runners:       make(map[string]*agent.Runner),
	}
}

// HandleFlush is the buffer.DispatchFunc. It must never leave the
// customer without a reply: every error path sends something.
func (o *Orchestrator) HandleFlush(ctx context.Context, chatID, combinedText string, metadata map[string]any) error {
	session := metaString(metadata, "session")
	log := o.logger.With("chat_id", chatID, "session", session)
	started := time.Now()

	metrics.BuffersFlushed.Inc()

	tenant, err := o.tenants.GetTenantBySession(ctx, session)
	if err != nil {
		log.Warn("No active tenant for session", "error", err)
		o.sendStatic(ctx, session, chatID, TenantUnavailableMessage)
		return nil
	}

	o.emitter.ProcessingStarted(ctx, tenant.ID, chatID)

	reply, err := o.respond(ctx, tenant, chatID, combinedText, metadata, log)
	if err != nil {
		log.Error("Flush handling failed, sending apology", "error", err)
		o.emitter.ProcessingFailed(ctx, tenant.ID, chatID, time.Since(started), err)
		o.sendStatic(ctx, session, chatID, agent.ApologyResponse)
		return nil
	}

	o.emitter.ProcessingCompleted(ctx, tenant.ID, chatID, time.Since(started))
	metrics.AgentRuns.WithLabelValues(string(reply.AgentType)).Inc()
	metrics.AgentDuration.Observe(time.Since(started).Seconds())
	metrics.LLMTokens.WithLabelValues("prompt").Add(float64(reply.Usage.PromptTokens))
	metrics.LLMTokens.WithLabelValues("completion").Add(float64(reply.Usage.CompletionTokens))
	log.Info("Processed buffered message",
		"agent_type", reply.AgentType, "tools_used", len(reply.ToolsUsed),
		"tokens", reply.Usage.TotalTokens, "elapsed", time.Since(started))
	return nil
}

// respond runs steps 2-10 of the flush flow. The caller translates any
// error into the apology path.
func (o *Orchestrator) respond(ctx context.Context, tenant *models.Tenant, chatID, text string,
	metadata map[string]any, log *slog.Logger) (agent.Result, error) {

	customer, created, err := o.customers.GetOrCreate(ctx, tenant.ID, chatID)
	if err != nil {
		return agent.Result{}, fmt.Errorf("resolve customer: %w", err)
	}
	if created {
		o.emitter.Customer(ctx, events.EventCustomerCreated, tenant.ID, customer.ID, chatID)
	}
	if name := metaString(metadata, "from_name"); name != "" && customer.Name == "" {
		if customer, err = o.customers.UpdateProfile(ctx, customer.ID, &models.Customer{Name: name}); err != nil {
			return agent.Result{}, fmt.Errorf("update customer name: %w", err)
		}
		o.emitter.Customer(ctx, events.EventCustomerUpdated, tenant.ID, customer.ID, chatID)
	}

	conv, convCreated, err := o.conversations.GetOrCreate(ctx, tenant.ID, customer.ID, chatID)
	if err != nil {
		return agent.Result{}, fmt.Errorf("resolve conversation: %w", err)
	}
	if convCreated {
		o.emitter.ConversationCreated(ctx, tenant.ID, chatID)
	}

	userMeta := map[string]any{}
	if id := metaString(metadata, "message_id"); id != "" {
		userMeta["message_id"] = id
	}
	if buffered, ok := metadata["buffered"].(bool); ok && buffered {
		userMeta["buffered"] = true
	}
	conv, err = o.conversations.AppendMessage(ctx, chatID, "user", text, userMeta)
	if err != nil {
		return agent.Result{}, fmt.Errorf("append user message: %w", err)
	}
	o.emitter.ConversationMessageAdded(ctx, tenant.ID, chatID, "user")

	llmCfg, err := o.tenants.ResolveLLMConfig(ctx, tenant)
	if err != nil {
		log.Error("LLM config missing for tenant", "llm_config", tenant.LLMConfigName, "error", err)
		o.sendStatic(ctx, tenant.WASession, chatID, ConfigErrorMessage)
		return agent.Result{AgentType: agent.RouteFallback, Response: ConfigErrorMessage}, nil
	}

	runner, err := o.runnerFor(*llmCfg)
	if err != nil {
		return agent.Result{}, fmt.Errorf("build llm client: %w", err)
	}

	result := runner.Run(ctx, agent.Input{
		TenantID:       tenant.ID,
		CustomerID:     customer.ID,
		ConversationID: chatID,
		State:          conv.State,
		AgentPrompt:    tenant.AgentPrompt,
		Customer: agent.CustomerSummary{
			Name:        customer.Name,
			TotalOrders: customer.TotalOrders,
			IsVIP:       customer.IsVIP,
		},
		Context: conv.Context,
		History: historyWindow(conv),
	})

	if next, ok := suggestState(conv.State, result.ToolsUsed); ok {
		if updated, err := o.conversations.TransitionState(ctx, chatID, next); err == nil {
			o.emitter.ConversationStateChanged(ctx, tenant.ID, chatID, string(conv.State), string(next))
			conv = updated
		} else {
			log.Warn("State transition refused", "from", conv.State, "to", next, "error", err)
		}
	}

	if _, err := o.conversations.AppendMessage(ctx, chatID, "assistant", result.Response, map[string]any{
		"agent_type": string(result.AgentType),
		"tools_used": result.ToolsUsed,
	}); err != nil {
		return agent.Result{}, fmt.Errorf("append assistant message: %w", err)
	}
	o.emitter.ConversationMessageAdded(ctx, tenant.ID, chatID, "assistant")

	_, err = o.outgoing.PublishSplit(ctx, tenant.WASession, chatID, result.Response, map[string]any{
		"tenant_id":       tenant.ID,
		"conversation_id": chatID,
		"intent":          string(result.AgentType),
		"tools_used":      result.ToolsUsed,
	})
	if err != nil {
		return agent.Result{}, fmt.Errorf("publish reply: %w", err)
	}
	return result, nil
}

// runnerFor returns the cached runner for a config, building the LLM
// client on first use.
func (o *Orchestrator) runnerFor(cfg models.LLMConfig) (*agent.Runner, error) {
	key := cfg.Name + "@" + cfg.UpdatedAt.UTC().Format(time.RFC3339Nano)

	o.mu.Lock()
	defer o.mu.Unlock()
	if runner, ok := o.runners[key]; ok {
		return runner, nil
	}
	client, err := o.clients(cfg)
	if err != nil {
		return nil, err
	}
	runner := agent.NewRunner(client, cfg, o.llmDefaults, o.tools, o.breakers, o.logger)
	o.runners[key] = runner
	return runner, nil
}

// sendStatic publishes a canned reply, logging rather than failing when
// even that cannot be delivered.
func (o *Orchestrator) sendStatic(ctx context.Context, session, chatID, text string) {
	if _, err := o.outgoing.PublishSplit(ctx, session, chatID, text, nil); err != nil {
		o.logger.Error("Failed to publish static reply", "chat_id", chatID, "error", err)
	}
}

// historyWindow converts the recent conversation turns into LLM messages.
func historyWindow(conv *models.Conversation) []llm.Message {
	recent := conv.Recent(models.HistoryWindow)
	history := make([]llm.Message, 0, len(recent))
	for _, msg := range recent {
		role := llm.RoleUser
		if msg.Role == "assistant" {
			role = llm.RoleAssistant
		}
		history = append(history, llm.Message{Role: role, Content: msg.Content})
	}
	return history
}

// toolStateHints maps a tool invocation to the conversation state it
// implies. Applied only when the transition is legal from the current
// state; later tools win.
var toolStateHints = map[string]models.ConversationState{
	"search_products":      models.StateBrowsing,
	"get_product_details":  models.StateBrowsing,
	"create_order":         models.StateOrdering,
	"add_to_order":         models.StateOrdering,
	"confirm_order":        models.StateCheckout,
	"initiate_payment":     models.StatePayment,
	"check_payment_status": models.StatePayment,
}

func suggestState(current models.ConversationState, toolsUsed []string) (models.ConversationState, bool) {
	next := current
	for _, tool := range toolsUsed {
		hint, ok := toolStateHints[tool]
		if !ok || hint == next {
			continue
		}
		if next.CanTransition(hint) {
			next = hint
		}
	}
	return next, next != current
}

func metaString(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	if v, ok := metadata[key].(string); ok {
		return v
	}
	return ""
}
