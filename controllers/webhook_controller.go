package controllers

import (
	"fmt"
	"io"
	"net/http"

	"pos-service/logger"
	"pos-service/models"
	"pos-service/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	callbackTokenHeader   = "x-callback-token"
	stripeSignatureHeader = "Stripe-Signature"
	maxWebhookBodyBytes   = 64 << 10
)

// WebhookController receives payment provider callbacks.
type WebhookController struct {
	webhookService *services.WebhookService
	logger         *zap.Logger
}

func NewWebhookController(webhooks *services.WebhookService, logger *zap.Logger) *WebhookController {
	return &WebhookController{webhookService: webhooks, logger: logger}
}

// XenditWebhook handles POST /payments/xendit/webhook
func (wc *WebhookController) XenditWebhook(c *gin.Context) {
	defer wc.recoverPanic(c)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unable to read request body"})
		return
	}

	res, err := wc.webhookService.HandleXenditCallback(c.Request.Context(), c.GetHeader(callbackTokenHeader), body)
	wc.respond(c, res, err)
}

// StripeWebhook handles POST /payments/stripe/webhook
func (wc *WebhookController) StripeWebhook(c *gin.Context) {
	defer wc.recoverPanic(c)

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unable to read request body"})
		return
	}

	res, err := wc.webhookService.HandleStripeCallback(c.Request.Context(), payload, c.GetHeader(stripeSignatureHeader))
	wc.respond(c, res, err)
}

func (wc *WebhookController) respond(c *gin.Context, res *models.WebhookResult, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "received",
		"outcome":  res.Outcome,
		"order_id": res.OrderID,
	})
}

// recoverPanic turns a panic during callback handling into a 500 so the
// provider retries the delivery.
func (wc *WebhookController) recoverPanic(c *gin.Context) {
	if r := recover(); r != nil {
		logger.FromContext(c.Request.Context(), wc.logger).Error("Panic while handling payment callback",
			zap.String("panic", fmt.Sprint(r)),
			zap.Stack("stack"),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
