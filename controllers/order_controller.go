package controllers

import (
	"net/http"
	"strings"

	"pos-service/logger"
	"pos-service/middleware"
	"pos-service/models"
	"pos-service/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// OrderController handles HTTP requests for the order lifecycle.
type OrderController struct {
	orderService services.OrderService
	salesService services.SalesService
	cartService  services.CartService
	logger       *zap.Logger
}

// NewOrderController creates a new OrderController. cartService may be nil,
// in which case paid polls do not clear session carts.
func NewOrderController(orders services.OrderService, sales services.SalesService, carts services.CartService, logger *zap.Logger) *OrderController {
	return &OrderController{
		orderService: orders,
		salesService: sales,
		cartService:  carts,
		logger:       logger,
	}
}

// CreateOrder handles POST /orders
func (oc *OrderController) CreateOrder(c *gin.Context) {
	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	res, err := oc.orderService.CreateOrder(c.Request.Context(), req.Items)
	if err != nil {
		oc.respondPaymentSetup(c, res, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// respondPaymentSetup still returns the stored order when only the payment
// step failed, so the client can retry it.
func (oc *OrderController) respondPaymentSetup(c *gin.Context, res *models.CreateOrderResult, err error) {
	if res == nil || res.Order == nil {
		respondError(c, err)
		return
	}
	status, message := errorResponse(err)
	c.JSON(status, gin.H{"error": message, "order": res.Order})
}

// RetryPayment handles POST /orders/:id/payment
func (oc *OrderController) RetryPayment(c *gin.Context) {
	res, err := oc.orderService.RetryPaymentSetup(c.Request.Context(), c.Param("id"))
	if err != nil {
		oc.respondPaymentSetup(c, res, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetPaymentCode handles GET /orders/:id/payment
func (oc *OrderController) GetPaymentCode(c *gin.Context) {
	view, err := oc.orderService.GetPaymentCode(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// CheckStatus handles GET /orders/:id/status. A paid answer clears the
// caller's session cart.
func (oc *OrderController) CheckStatus(c *gin.Context) {
	ctx := c.Request.Context()
	view, err := oc.orderService.CheckStatus(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	if view.Paid && oc.cartService != nil {
		if sessionID := middleware.GetSessionID(c); sessionID != "" {
			if err := oc.cartService.Clear(ctx, sessionID); err != nil {
				logger.FromContext(ctx, oc.logger).Warn("Failed to clear cart after payment",
					zap.String("order_id", view.OrderID),
					zap.String("session_id", sessionID),
					zap.Error(err),
				)
			}
		}
	}
	c.JSON(http.StatusOK, view)
}

// SimulatePayment handles POST /orders/:id/simulate-payment
func (oc *OrderController) SimulatePayment(c *gin.Context) {
	if err := oc.orderService.SimulatePayment(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "payment simulated"})
}

// ListOrders handles GET /orders?status=ALL|AWAITING_PAYMENT|PROCESSING|DONE
func (oc *OrderController) ListOrders(c *gin.Context) {
	page, limit := parsePaginationParams(c)
	status := strings.ToUpper(strings.TrimSpace(c.DefaultQuery("status", "ALL")))

	res, err := oc.orderService.ListOrders(c.Request.Context(), status, page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetOrder handles GET /orders/:id
func (oc *OrderController) GetOrder(c *gin.Context) {
	order, err := oc.orderService.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// FinishOrder handles POST /orders/:id/finish
func (oc *OrderController) FinishOrder(c *gin.Context) {
	ctx := c.Request.Context()
	order, err := oc.orderService.FinishOrder(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	operator, _ := middleware.GetUserID(c)
	logger.FromContext(ctx, oc.logger).Info("Order finished by operator",
		zap.String("order_id", order.ID.String()),
		zap.String("operator", operator),
	)
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// SalesReport handles GET /sales/report
func (oc *OrderController) SalesReport(c *gin.Context) {
	report, err := oc.salesService.Report(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
