package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tokotalk/tokotalk/pkg/cache"
	"github.com/tokotalk/tokotalk/pkg/config"
	"github.com/tokotalk/tokotalk/pkg/events"
	"github.com/tokotalk/tokotalk/pkg/llm"
	"github.com/tokotalk/tokotalk/pkg/models"
	"github.com/tokotalk/tokotalk/pkg/outgoing"
	"github.com/tokotalk/tokotalk/pkg/resilience"
	"github.com/tokotalk/tokotalk/pkg/services"
	"github.com/tokotalk/tokotalk/pkg/tools"
	"github.com/tokotalk/tokotalk/test/util"
)

// capturingPublisher records task publishes and event emissions.
type capturingPublisher struct {
	mu     sync.Mutex
	tasks  []capturedTask
	events []string
}

type capturedTask struct {
	queue string
	body  any
}

func (p *capturingPublisher) PublishTask(_ context.Context, queue string, body any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks = append(p.tasks, capturedTask{queue: queue, body: body})
	return nil
}

func (p *capturingPublisher) PublishEvent(_ context.Context, routingKey string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, routingKey)
	return nil
}

func (p *capturingPublisher) sentTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var texts []string
	for _, task := range p.tasks {
		if msg, ok := task.body.(outgoing.Message); ok {
			texts = append(texts, msg.Text)
		}
	}
	return texts
}

// scriptedClient replays canned completions in order.
type scriptedClient struct {
	mu        sync.Mutex
	responses []llm.Response
}

func (c *scriptedClient) Complete(context.Context, llm.Request) (llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.responses) == 0 {
		return llm.Response{Content: `{"is_safe": true, "confidence": 1}`}, nil
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

type fixture struct {
	orch   *Orchestrator
	pub    *capturingPublisher
	store  *cache.MemoryStore
	convs  *services.ConversationService
	db     *gorm.DB
	tenant models.Tenant
}

func newFixture(t *testing.T, client llm.Client, registry *tools.Registry) *fixture {
	t.Helper()
	db := util.SetupTestDatabase(t)
	store := cache.NewMemoryStore()
	pub := &capturingPublisher{}
	logger := slog.Default()

	tenant := models.Tenant{
		Name: "Toko Sejahtera", WASession: "toko-sejahtera",
		LLMConfigName: "default", AgentPrompt: "Kamu adalah asisten Toko Sejahtera.", IsActive: true,
	}
	require.NoError(t, db.Create(&tenant).Error)
	require.NoError(t, db.Create(&models.LLMConfig{
		Name: "default", Provider: "openai", ModelName: "gpt-4o-mini",
		APIKeyEnv: "OPENAI_API_KEY", TimeoutSeconds: 5, IsActive: true,
	}).Error)

	if registry == nil {
		registry = tools.NewRegistry()
	}
	convs := services.NewConversationService(store)
	breakers := resilience.NewRegistry(config.BreakerConfig{
		FailureThreshold: 5, SuccessThreshold: 2, Timeout: time.Minute,
	}, nil)
	out := outgoing.NewPublisher(pub, "wa_messages", 0, 1000, 500, logger)
	emitter := events.NewEmitter(pub, logger)

	orch := New(
		services.NewTenantService(db),
		services.NewCustomerService(db),
		convs,
		registry,
		breakers,
		out,
		emitter,
		func(models.LLMConfig) (llm.Client, error) { return client, nil },
		config.LLMConfig{MaxRetries: 1, RetryInitial: time.Millisecond, RetryMax: time.Millisecond},
		logger,
	)
	return &fixture{orch: orch, pub: pub, store: store, convs: convs, db: db, tenant: tenant}
}

const chatID = "628111000@c.us"

func flushMeta() map[string]any {
	return map[string]any{
		"session":    "toko-sejahtera",
		"from_name":  "Budi",
		"message_id": "wamid.1",
	}
}

func TestHandleFlushHappyPath(t *testing.T) {
	client := &scriptedClient{responses: []llm.Response{
		{Content: `{"is_safe": true, "confidence": 0.9}`},
		{Content: "Halo kak Budi! Ada yang bisa kami bantu?", Usage: llm.Usage{TotalTokens: 15}},
	}}
	f := newFixture(t, client, nil)
	ctx := context.Background()

	err := f.orch.HandleFlush(ctx, chatID, "halo, masih buka?", flushMeta())
	require.NoError(t, err)

	t.Run("reply is published with routing metadata", func(t *testing.T) {
		require.Len(t, f.pub.tasks, 1)
		msg := f.pub.tasks[0].body.(outgoing.Message)
		assert.Equal(t, "wa_messages", f.pub.tasks[0].queue)
		assert.Equal(t, "toko-sejahtera", msg.Session)
		assert.Equal(t, chatID, msg.ChatID)
		assert.Equal(t, "Halo kak Budi! Ada yang bisa kami bantu?", msg.Text)
		assert.Equal(t, chatID, msg.Metadata["conversation_id"])
		assert.Equal(t, "main", msg.Metadata["intent"])
	})

	t.Run("customer is created with the webhook name", func(t *testing.T) {
		var customer models.Customer
		require.NoError(t, f.db.First(&customer, "tenant_id = ? AND wa_chat_id = ?", f.tenant.ID, chatID).Error)
		assert.Equal(t, "Budi", customer.Name)
	})

	t.Run("both turns are in the conversation", func(t *testing.T) {
		conv, err := f.convs.Get(context.Background(), chatID)
		require.NoError(t, err)
		require.Len(t, conv.Messages, 2)
		assert.Equal(t, "user", conv.Messages[0].Role)
		assert.Equal(t, "wamid.1", conv.Messages[0].Metadata["message_id"])
		assert.Equal(t, "assistant", conv.Messages[1].Role)
	})

	t.Run("processing events were emitted", func(t *testing.T) {
		assert.Contains(t, f.pub.events, events.EventProcessingStarted)
		assert.Contains(t, f.pub.events, events.EventProcessingCompleted)
		assert.Contains(t, f.pub.events, events.EventCustomerCreated)
		assert.Contains(t, f.pub.events, events.EventConversationCreated)
	})
}

func TestHandleFlushUnknownSession(t *testing.T) {
	f := newFixture(t, &scriptedClient{}, nil)

	err := f.orch.HandleFlush(context.Background(), chatID, "halo", map[string]any{"session": "toko-hantu"})
	require.NoError(t, err)

	texts := f.pub.sentTexts()
	require.Len(t, texts, 1)
	assert.Equal(t, TenantUnavailableMessage, texts[0])
}

func TestHandleFlushMissingLLMConfig(t *testing.T) {
	f := newFixture(t, &scriptedClient{}, nil)
	require.NoError(t, f.db.Model(&models.Tenant{}).
		Where("id = ?", f.tenant.ID).Update("llm_config_name", "tidak-ada").Error)

	err := f.orch.HandleFlush(context.Background(), chatID, "halo", flushMeta())
	require.NoError(t, err)

	texts := f.pub.sentTexts()
	require.Len(t, texts, 1)
	assert.Equal(t, ConfigErrorMessage, texts[0])
}

func TestHandleFlushStateFollowsTools(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(tools.Tool{
		Definition: llm.ToolDefinition{Name: "create_order"},
		Handler: func(context.Context, tools.Invocation) (any, error) {
			return map[string]any{"order_id": "o1", "status": "pending"}, nil
		},
	})
	client := &scriptedClient{responses: []llm.Response{
		{Content: `{"is_safe": true, "confidence": 0.9}`},
		{ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "create_order", Arguments: `{}`}}},
		{Content: "Pesanan kakak sudah dibuat, mau tambah apa lagi?"},
	}}
	f := newFixture(t, client, registry)

	require.NoError(t, f.orch.HandleFlush(context.Background(), chatID, "mau pesan kopi gayo 2", flushMeta()))

	conv, err := f.convs.Get(context.Background(), chatID)
	require.NoError(t, err)
	assert.Equal(t, models.StateOrdering, conv.State)
	assert.Contains(t, f.pub.events, events.EventConversationStateChanged)
}

func TestSuggestState(t *testing.T) {
	cases := []struct {
		name    string
		from    models.ConversationState
		tools   []string
		want    models.ConversationState
		changed bool
	}{
		{"no tools", models.StateGreeting, nil, models.StateGreeting, false},
		{"search moves to browsing", models.StateGreeting, []string{"search_products"}, models.StateBrowsing, true},
		{"create order from browsing", models.StateBrowsing, []string{"create_order"}, models.StateOrdering, true},
		{"search then order chains", models.StateGreeting, []string{"search_products", "create_order"}, models.StateOrdering, true},
		{"payment requires checkout", models.StateBrowsing, []string{"initiate_payment"}, models.StateBrowsing, false},
		{"confirm moves to checkout", models.StateOrdering, []string{"confirm_order"}, models.StateCheckout, true},
		{"profile lookup changes nothing", models.StateGreeting, []string{"get_customer_profile"}, models.StateGreeting, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, changed := suggestState(tc.from, tc.tools)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.changed, changed)
		})
	}
}
