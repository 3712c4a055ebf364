package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tokotalk/tokotalk/pkg/models"
	"github.com/tokotalk/tokotalk/test/util"
)

// seedCommerce inserts a tenant, customer, and two products.
func seedCommerce(t *testing.T, db *gorm.DB) (tenant models.Tenant, customer models.Customer, kopi, teh models.Product) {
	t.Helper()
	tenant = models.Tenant{Name: "Toko Sejahtera", WASession: "toko-sejahtera", LLMConfigName: "default", IsActive: true}
	require.NoError(t, db.Create(&tenant).Error)

	customer = models.Customer{TenantID: tenant.ID, WAChatID: "628111000@c.us", Name: "Budi"}
	require.NoError(t, db.Create(&customer).Error)

	kopi = models.Product{TenantID: tenant.ID, Name: "Kopi Gayo", Category: "minuman", BasePrice: 45000, Stock: 10, IsActive: true}
	teh = models.Product{TenantID: tenant.ID, Name: "Teh Melati", Category: "minuman", BasePrice: 30000, Stock: 3, IsActive: true}
	require.NoError(t, db.Create(&kopi).Error)
	require.NoError(t, db.Create(&teh).Error)
	return tenant, customer, kopi, teh
}

func TestOrderLifecycle(t *testing.T) {
	db := util.SetupTestDatabase(t)
	ctx := context.Background()
	tenant, customer, kopi, teh := seedCommerce(t, db)

	orders := NewOrderService(db)
	products := NewProductService(db)

	order, err := orders.CreateOrder(ctx, tenant.ID, customer.ID, "628111000@c.us", []ItemRequest{
		{ProductID: kopi.ID, Quantity: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, order.Status)
	require.Len(t, order.Items, 1)
	assert.Equal(t, 90000.0, order.Subtotal)

	t.Run("adding the same product merges lines", func(t *testing.T) {
		updated, err := orders.AddItem(ctx, tenant.ID, order.ID, ItemRequest{ProductID: kopi.ID, Quantity: 1})
		require.NoError(t, err)
		require.Len(t, updated.Items, 1)
		assert.Equal(t, 3, updated.Items[0].Quantity)
		assert.Equal(t, 135000.0, updated.Subtotal)
	})

	t.Run("adding a different product appends a line", func(t *testing.T) {
		updated, err := orders.AddItem(ctx, tenant.ID, order.ID, ItemRequest{ProductID: teh.ID, Quantity: 2})
		require.NoError(t, err)
		assert.Len(t, updated.Items, 2)
		assert.Equal(t, 195000.0, updated.Subtotal)
	})

	t.Run("shipping cost feeds the total", func(t *testing.T) {
		updated, err := orders.SetShipping(ctx, tenant.ID, order.ID, 15000)
		require.NoError(t, err)
		assert.Equal(t, 210000.0, updated.Total)
	})

	t.Run("confirm decrements stock", func(t *testing.T) {
		confirmed, err := orders.ConfirmOrder(ctx, tenant.ID, order.ID)
		require.NoError(t, err)
		assert.Equal(t, models.OrderConfirmed, confirmed.Status)

		p, err := products.GetProduct(ctx, tenant.ID, kopi.ID)
		require.NoError(t, err)
		assert.Equal(t, 7, p.Stock)
	})

	t.Run("confirmed order rejects item mutation", func(t *testing.T) {
		_, err := orders.AddItem(ctx, tenant.ID, order.ID, ItemRequest{ProductID: kopi.ID, Quantity: 1})
		assert.ErrorIs(t, err, ErrOrderLocked)
	})

	t.Run("status walks the machine in order", func(t *testing.T) {
		_, err := orders.UpdateStatus(ctx, tenant.ID, order.ID, models.OrderDelivered)
		assert.ErrorIs(t, err, ErrIllegalTransition)

		_, err = orders.UpdateStatus(ctx, tenant.ID, order.ID, models.OrderProcessing)
		require.NoError(t, err)
		_, err = orders.UpdateStatus(ctx, tenant.ID, order.ID, models.OrderShipped)
		require.NoError(t, err)
		delivered, err := orders.UpdateStatus(ctx, tenant.ID, order.ID, models.OrderDelivered)
		require.NoError(t, err)
		assert.Equal(t, models.OrderDelivered, delivered.Status)
	})

	t.Run("delivered order cannot be cancelled", func(t *testing.T) {
		_, err := orders.CancelOrder(ctx, tenant.ID, order.ID)
		assert.ErrorIs(t, err, ErrIllegalTransition)
	})
}

func TestOrderStockGuard(t *testing.T) {
	db := util.SetupTestDatabase(t)
	ctx := context.Background()
	tenant, customer, _, teh := seedCommerce(t, db)

	orders := NewOrderService(db)

	order, err := orders.CreateOrder(ctx, tenant.ID, customer.ID, "", []ItemRequest{
		{ProductID: teh.ID, Quantity: 5}, // only 3 in stock
	})
	require.NoError(t, err)

	_, err = orders.ConfirmOrder(ctx, tenant.ID, order.ID)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	// The failed confirm must not leak a partial decrement.
	var product models.Product
	require.NoError(t, db.First(&product, "id = ?", teh.ID).Error)
	assert.Equal(t, 3, product.Stock)
}

func TestCancelConfirmedOrderRestoresStock(t *testing.T) {
	db := util.SetupTestDatabase(t)
	ctx := context.Background()
	tenant, customer, kopi, _ := seedCommerce(t, db)

	orders := NewOrderService(db)
	products := NewProductService(db)

	order, err := orders.CreateOrder(ctx, tenant.ID, customer.ID, "", []ItemRequest{
		{ProductID: kopi.ID, Quantity: 4},
	})
	require.NoError(t, err)
	_, err = orders.ConfirmOrder(ctx, tenant.ID, order.ID)
	require.NoError(t, err)

	cancelled, err := orders.CancelOrder(ctx, tenant.ID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, cancelled.Status)

	p, err := products.GetProduct(ctx, tenant.ID, kopi.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, p.Stock)
}

func TestOrderEmptyConfirmRejected(t *testing.T) {
	db := util.SetupTestDatabase(t)
	ctx := context.Background()
	tenant, customer, _, _ := seedCommerce(t, db)

	orders := NewOrderService(db)
	order, err := orders.CreateOrder(ctx, tenant.ID, customer.ID, "", nil)
	require.NoError(t, err)

	_, err = orders.ConfirmOrder(ctx, tenant.ID, order.ID)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestOrderTenantScoping(t *testing.T) {
	db := util.SetupTestDatabase(t)
	ctx := context.Background()
	tenant, customer, kopi, _ := seedCommerce(t, db)

	other := models.Tenant{Name: "Warung Lain", WASession: "warung-lain", LLMConfigName: "default", IsActive: true}
	require.NoError(t, db.Create(&other).Error)

	orders := NewOrderService(db)
	order, err := orders.CreateOrder(ctx, tenant.ID, customer.ID, "", []ItemRequest{
		{ProductID: kopi.ID, Quantity: 1},
	})
	require.NoError(t, err)

	_, err = orders.GetOrder(ctx, other.ID, order.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
