package routes

import (
	"net/http"

	"pos-service/controllers"
	"pos-service/middleware"

	"github.com/gin-gonic/gin"
)

// Options carries the route-level settings resolved from config.
type Options struct {
	// JWTSecret verifies operator bearer tokens; empty trusts X-User-ID.
	JWTSecret        string
	WebhookPerMinute int
	WebhookBurst     int
}

// RegisterRoutes wires every POS endpoint onto r.
func RegisterRoutes(r *gin.Engine, oc *controllers.OrderController, cc *controllers.CartController, wc *controllers.WebhookController, opts Options) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "pos-service"})
	})

	// Public: customer-facing order flow
	orders := r.Group("/orders")
	orders.POST("", oc.CreateOrder)
	orders.GET("/:id/status", oc.CheckStatus)
	orders.GET("/:id/payment", oc.GetPaymentCode)
	orders.POST("/:id/payment", oc.RetryPayment)
	orders.POST("/:id/simulate-payment", oc.SimulatePayment)

	// Protected: operator views and the finish step
	auth := middleware.AuthMiddleware(opts.JWTSecret)
	orders.GET("", auth, oc.ListOrders)
	orders.GET("/:id", auth, oc.GetOrder)
	orders.POST("/:id/finish", auth, oc.FinishOrder)
	r.GET("/sales/report", auth, oc.SalesReport)

	if cc != nil {
		cart := r.Group("/cart")
		cart.Use(middleware.SessionMiddleware())
		cart.GET("", cc.GetCart)
		cart.DELETE("", cc.ClearCart)
		cart.POST("/items", cc.AddItem)
		cart.POST("/items/:product_id/increment", cc.IncrementItem)
		cart.POST("/items/:product_id/decrement", cc.DecrementItem)
		cart.POST("/checkout", cc.Checkout)
	}

	payments := r.Group("/payments")
	payments.Use(middleware.RateLimitMiddleware(opts.WebhookPerMinute, opts.WebhookBurst))
	payments.POST("/xendit/webhook", wc.XenditWebhook)
	payments.POST("/stripe/webhook", wc.StripeWebhook)
}
