package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tokotalk/tokotalk/pkg/models"
)

// Handlers below bind JSON straight into the model structs and let the
// services validate; tenant scoping always comes from the path, never
// the body.

func (s *Server) CreateTenant(c *gin.Context) {
	var tenant models.Tenant
	if err := c.ShouldBindJSON(&tenant); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	created, err := s.tenants.CreateTenant(c.Request.Context(), &tenant)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) ListTenants(c *gin.Context) {
	tenants, err := s.tenants.ListTenants(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenants": tenants})
}

func (s *Server) GetTenant(c *gin.Context) {
	tenant, err := s.tenants.GetTenant(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tenant)
}

func (s *Server) UpdateTenant(c *gin.Context) {
	var update models.Tenant
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tenant, err := s.tenants.UpdateTenant(c.Request.Context(), c.Param("id"), &update)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tenant)
}

func (s *Server) UpsertLLMConfig(c *gin.Context) {
	var cfg models.LLMConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	saved, err := s.tenants.UpsertLLMConfig(c.Request.Context(), &cfg)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (s *Server) CreateProduct(c *gin.Context) {
	var product models.Product
	if err := c.ShouldBindJSON(&product); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	product.TenantID = c.Param("id")
	created, err := s.products.CreateProduct(c.Request.Context(), &product)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) SearchProducts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	products, err := s.products.SearchProducts(c.Request.Context(),
		c.Param("id"), c.Query("q"), limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (s *Server) GetProduct(c *gin.Context) {
	product, err := s.products.GetProduct(c.Request.Context(),
		c.Param("id"), c.Param("product_id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (s *Server) UpdateProduct(c *gin.Context) {
	var update models.Product
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	product, err := s.products.UpdateProduct(c.Request.Context(),
		c.Param("id"), c.Param("product_id"), &update)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (s *Server) DeleteProduct(c *gin.Context) {
	err := s.products.DeleteProduct(c.Request.Context(), c.Param("id"), c.Param("product_id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) ListOrders(c *gin.Context) {
	customerID := c.Query("customer_id")
	if customerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "customer_id query parameter is required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	orders, err := s.orders.ListOrdersByCustomer(c.Request.Context(),
		c.Param("id"), customerID, limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) GetOrder(c *gin.Context) {
	order, err := s.orders.GetOrder(c.Request.Context(), c.Param("id"), c.Param("order_id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type orderStatusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

func (s *Server) UpdateOrderStatus(c *gin.Context) {
	var req orderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	order, err := s.orders.UpdateStatus(c.Request.Context(),
		c.Param("id"), c.Param("order_id"), req.Status)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) CreateLabel(c *gin.Context) {
	var label models.Label
	if err := c.ShouldBindJSON(&label); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	label.TenantID = c.Param("id")
	created, err := s.crm.CreateLabel(c.Request.Context(), &label)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) ListLabels(c *gin.Context) {
	labels, err := s.crm.ListLabels(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"labels": labels})
}

func (s *Server) UpsertQuickReply(c *gin.Context) {
	var qr models.QuickReply
	if err := c.ShouldBindJSON(&qr); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	qr.TenantID = c.Param("id")
	saved, err := s.crm.UpsertQuickReply(c.Request.Context(), &qr)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (s *Server) ListQuickReplies(c *gin.Context) {
	replies, err := s.crm.ListQuickReplies(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quick_replies": replies})
}

func (s *Server) CreateTicket(c *gin.Context) {
	var ticket models.Ticket
	if err := c.ShouldBindJSON(&ticket); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ticket.TenantID = c.Param("id")
	created, err := s.crm.CreateTicket(c.Request.Context(), &ticket)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) ListTickets(c *gin.Context) {
	tickets, err := s.crm.ListTickets(c.Request.Context(),
		c.Param("id"), models.TicketStatus(c.Query("status")))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": tickets})
}

type ticketStatusRequest struct {
	Status models.TicketStatus `json:"status" binding:"required"`
}

func (s *Server) UpdateTicketStatus(c *gin.Context) {
	var req ticketStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ticket, err := s.crm.UpdateTicketStatus(c.Request.Context(),
		c.Param("id"), c.Param("ticket_id"), req.Status)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ticket)
}
