package services

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"pos-service/models"
	"pos-service/providers"

	aws_pkg "pos-service/pkg/aws"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SignedCallbackParser verifies and decodes a signed provider callback.
type SignedCallbackParser interface {
	ParseCallback(payload []byte, signature string) (*models.PaymentCallback, error)
}

// WebhookService authenticates provider callbacks and feeds success signals
// into the order lifecycle. Idempotency comes from the lifecycle's one-way
// status latch.
type WebhookService struct {
	orders       OrderService
	webhookToken string
	stripe       SignedCallbackParser
	metrics      MetricsRecorder
	logger       *zap.Logger
}

// NewWebhookService builds the ingress. stripe and metrics may be nil.
func NewWebhookService(orders OrderService, webhookToken string, stripe SignedCallbackParser, metrics MetricsRecorder, logger *zap.Logger) *WebhookService {
	return &WebhookService{
		orders:       orders,
		webhookToken: webhookToken,
		stripe:       stripe,
		metrics:      metrics,
		logger:       logger,
	}
}

// HandleXenditCallback checks the callback token before looking at the body.
func (s *WebhookService) HandleXenditCallback(ctx context.Context, token string, body []byte) (*models.WebhookResult, error) {
	if !s.tokenMatches(token) {
		s.logger.Warn("Webhook rejected: invalid callback token")
		s.recordCount(ctx, aws_pkg.MetricWebhookRejected)
		return nil, newError(http.StatusUnauthorized, "Invalid callback token", ErrUnauthorized)
	}

	var cb models.PaymentCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, validationError("Malformed callback body")
	}
	return s.HandleCallback(ctx, &cb)
}

// HandleStripeCallback verifies the Stripe-Signature header and handles the
// normalised callback.
func (s *WebhookService) HandleStripeCallback(ctx context.Context, payload []byte, signature string) (*models.WebhookResult, error) {
	if s.stripe == nil {
		return nil, notFoundError("Stripe webhooks are not enabled")
	}

	cb, err := s.stripe.ParseCallback(payload, signature)
	if errors.Is(err, providers.ErrInvalidSignature) {
		s.logger.Warn("Webhook rejected: invalid Stripe signature", zap.Error(err))
		s.recordCount(ctx, aws_pkg.MetricWebhookRejected)
		return nil, newError(http.StatusUnauthorized, "Invalid webhook signature", ErrUnauthorized)
	}
	if err != nil {
		return nil, validationError("Malformed callback body")
	}
	if cb == nil {
		return &models.WebhookResult{Outcome: models.WebhookOutcomeIgnored}, nil
	}
	return s.HandleCallback(ctx, cb)
}

// HandleCallback processes an already authenticated callback. Unknown
// references are reported as 400 so the provider stops retrying.
func (s *WebhookService) HandleCallback(ctx context.Context, cb *models.PaymentCallback) (*models.WebhookResult, error) {
	ref := strings.TrimSpace(cb.Data.ReferenceID)
	if ref == "" {
		return nil, validationError("Missing reference_id")
	}

	log := s.logger.With(
		zap.String("order_id", ref),
		zap.String("event", cb.Event),
		zap.String("payment_status", cb.Data.Status),
		zap.String("payment_request_id", cb.Data.PaymentRequestID),
	)

	if !cb.IsSuccess() {
		log.Info("Non-success payment callback acknowledged")
		if cb.Data.Status == models.PaymentStatusFailed {
			s.recordCount(ctx, aws_pkg.MetricPaymentFailed)
		}
		return &models.WebhookResult{OrderID: ref, Outcome: models.WebhookOutcomeIgnored}, nil
	}

	if _, err := uuid.Parse(ref); err != nil {
		log.Warn("Callback references an unknown order")
		return nil, newError(http.StatusBadRequest, "Unknown order reference", ErrNotFound)
	}

	res, err := s.orders.ConfirmPayment(ctx, ref, models.PaymentConfirmation{
		PaidAt:           time.Now().UTC(),
		Amount:           cb.Data.Amount,
		PaymentRequestID: cb.Data.PaymentRequestID,
	})
	if errors.Is(err, ErrNotFound) {
		log.Warn("Callback references an unknown order")
		return nil, newError(http.StatusBadRequest, "Unknown order reference", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	log.Info("Payment callback processed", zap.String("outcome", res.Outcome))
	return res, nil
}

func (s *WebhookService) tokenMatches(token string) bool {
	if s.webhookToken == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.webhookToken)) == 1
}

func (s *WebhookService) recordCount(ctx context.Context, metric string) {
	if s.metrics == nil {
		return
	}
	go func() {
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = s.metrics.RecordCount(mctx, metric, nil)
	}()
}
