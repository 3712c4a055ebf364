// Package api is the gateway's HTTP surface: webhook ingress, job
// submission, entity CRUD, health, and metrics. Handlers stay thin;
// everything interesting happens in services or on the worker side of
// the broker.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/tokotalk/tokotalk/pkg/config"
	"github.com/tokotalk/tokotalk/pkg/events"
	"github.com/tokotalk/tokotalk/pkg/payments"
	"github.com/tokotalk/tokotalk/pkg/resilience"
	"github.com/tokotalk/tokotalk/pkg/services"
	"github.com/tokotalk/tokotalk/pkg/version"
)

// TaskPublisher is the slice of the broker publisher the gateway needs.
type TaskPublisher interface {
	PublishTask(ctx context.Context, queue string, body any) error
}

// Server holds the gateway's dependencies.
type Server struct {
	db       *gorm.DB
	cfg      *config.Config
	pub      TaskPublisher
	emitter  *events.Emitter
	breakers *resilience.Registry
	gateways *payments.Registry
	logger   *slog.Logger

	tenants   *services.TenantService
	customers *services.CustomerService
	products  *services.ProductService
	orders    *services.OrderService
	crm       *services.CRMService
	jobs      *services.JobService
}

// NewServer wires the gateway server.
func NewServer(
	db *gorm.DB,
	cfg *config.Config,
	pub TaskPublisher,
	emitter *events.Emitter,
	breakers *resilience.Registry,
	gateways *payments.Registry,
	jobs *services.JobService,
	logger *slog.Logger,
) *Server {
	return &Server{
		db:        db,
		cfg:       cfg,
		pub:       pub,
		emitter:   emitter,
		breakers:  breakers,
		gateways:  gateways,
		logger:    logger,
		tenants:   services.NewTenantService(db),
		customers: services.NewCustomerService(db),
		products:  services.NewProductService(db),
		orders:    services.NewOrderService(db),
		crm:       services.NewCRMService(db),
		jobs:      jobs,
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.logger))

	router.GET("/healthz", s.Healthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	webhooks := router.Group("/webhook")
	{
		webhooks.GET("/whatsapp/:tenant_id", s.WhatsAppWebhookCheck)
		webhooks.POST("/whatsapp/:tenant_id", s.WhatsAppWebhook)
		webhooks.POST("/payments/:provider", s.PaymentWebhook)
	}

	v1 := router.Group("/v1")
	{
		v1.POST("/jobs", s.SubmitJob)
		v1.GET("/jobs/:id", s.GetJob)

		v1.POST("/tenants", s.CreateTenant)
		v1.GET("/tenants", s.ListTenants)
		v1.GET("/tenants/:id", s.GetTenant)
		v1.PATCH("/tenants/:id", s.UpdateTenant)
		v1.PUT("/llm-configs", s.UpsertLLMConfig)

		v1.POST("/tenants/:id/products", s.CreateProduct)
		v1.GET("/tenants/:id/products", s.SearchProducts)
		v1.GET("/tenants/:id/products/:product_id", s.GetProduct)
		v1.PATCH("/tenants/:id/products/:product_id", s.UpdateProduct)
		v1.DELETE("/tenants/:id/products/:product_id", s.DeleteProduct)

		v1.GET("/tenants/:id/orders", s.ListOrders)
		v1.GET("/tenants/:id/orders/:order_id", s.GetOrder)
		v1.POST("/tenants/:id/orders/:order_id/status", s.UpdateOrderStatus)

		v1.POST("/tenants/:id/labels", s.CreateLabel)
		v1.GET("/tenants/:id/labels", s.ListLabels)
		v1.PUT("/tenants/:id/quick-replies", s.UpsertQuickReply)
		v1.GET("/tenants/:id/quick-replies", s.ListQuickReplies)

		v1.POST("/tenants/:id/tickets", s.CreateTicket)
		v1.GET("/tenants/:id/tickets", s.ListTickets)
		v1.POST("/tenants/:id/tickets/:ticket_id/status", s.UpdateTicketStatus)
	}

	return router
}

// Healthz reports process health: DB reachability plus the circuit
// snapshot so operators can see a wedged LLM at a glance.
func (s *Server) Healthz(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"version":  version.Full(),
		"build":    version.Build(),
		"circuits": s.breakers.Snapshots(),
	})
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Error("Request failed",
				"method", c.Request.Method, "path", c.FullPath(), "status", c.Writer.Status())
		}
	}
}
