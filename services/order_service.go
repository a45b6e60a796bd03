package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"pos-service/models"
	"pos-service/providers"
	"pos-service/repository"

	aws_pkg "pos-service/pkg/aws"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MetricsRecorder is the subset of the CloudWatch client the services use.
type MetricsRecorder interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
	RecordLatency(ctx context.Context, metricName string, duration time.Duration, dimensions map[string]string) error
}

// OrderService owns the order lifecycle: creation, payment confirmation and
// the operator finish step.
type OrderService interface {
	CreateOrder(ctx context.Context, lines []models.CreateOrderLine) (*models.CreateOrderResult, error)
	RetryPaymentSetup(ctx context.Context, orderID string) (*models.CreateOrderResult, error)
	GetPaymentCode(ctx context.Context, orderID string) (*models.PaymentCodeView, error)
	ConfirmPayment(ctx context.Context, orderID string, conf models.PaymentConfirmation) (*models.WebhookResult, error)
	CheckStatus(ctx context.Context, orderID string) (*models.OrderStatusView, error)
	SimulatePayment(ctx context.Context, orderID string) error
	ListOrders(ctx context.Context, status string, page, limit int) (*models.OrderListResponse, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	FinishOrder(ctx context.Context, orderID string) (*models.Order, error)
}

// OrderServiceConfig carries the tunables of the lifecycle engine.
type OrderServiceConfig struct {
	SetupAttempts     int
	RetryBackoff      time.Duration
	SimulationEnabled bool
	SNSTopicArn       string
}

type orderServiceImpl struct {
	repo      repository.OrderRepository
	pricer    *Pricer
	gateway   providers.PaymentGateway
	publisher aws_pkg.SNSPublisher
	metrics   MetricsRecorder
	cfg       OrderServiceConfig
	logger    *zap.Logger
}

// NewOrderService wires the lifecycle engine. publisher and metrics may be nil.
func NewOrderService(
	repo repository.OrderRepository,
	pricer *Pricer,
	gateway providers.PaymentGateway,
	publisher aws_pkg.SNSPublisher,
	metrics MetricsRecorder,
	cfg OrderServiceConfig,
	logger *zap.Logger,
) OrderService {
	if cfg.SetupAttempts < 1 {
		cfg.SetupAttempts = 1
	}
	return &orderServiceImpl{
		repo:      repo,
		pricer:    pricer,
		gateway:   gateway,
		publisher: publisher,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
	}
}

// CreateOrder prices lines, stores the order with its items, then requests a
// payment code. When payment setup fails after the order is stored, the
// order is still returned together with a PaymentSetupIncomplete error.
func (s *orderServiceImpl) CreateOrder(ctx context.Context, lines []models.CreateOrderLine) (*models.CreateOrderResult, error) {
	priced, err := s.pricer.PriceCart(ctx, lines)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:         uuid.New(),
		Subtotal:   priced.Subtotal,
		Tax:        priced.Tax,
		GrandTotal: priced.GrandTotal,
		Status:     models.StatusAwaitingPayment,
		ItemCount:  len(priced.LineItems),
		OrderItems: priced.LineItems,
	}

	if err := s.repo.CreateWithItems(ctx, order); err != nil {
		s.logger.Error("Failed to create order", zap.Error(err))
		return nil, internalError("Failed to create order", err)
	}

	s.logger.Info("Order created",
		zap.String("order_id", order.ID.String()),
		zap.Int64("grand_total", order.GrandTotal),
		zap.Int("items", order.ItemCount),
	)
	s.recordCount(ctx, aws_pkg.MetricOrdersCreated)
	s.publishEvent(ctx, models.EventOrderCreated, order)

	result := &models.CreateOrderResult{Order: order}
	code, err := s.setupPayment(ctx, order)
	if err != nil {
		return result, err
	}
	result.PaymentCode = code
	return result, nil
}

// RetryPaymentSetup issues a payment request for an unpaid order that has
// none yet.
func (s *orderServiceImpl) RetryPaymentSetup(ctx context.Context, orderID string) (*models.CreateOrderResult, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.StatusAwaitingPayment {
		return nil, newError(http.StatusConflict,
			fmt.Sprintf("Order is %s; payment setup is only possible while awaiting payment", order.Status),
			ErrInvalidTransition)
	}
	if order.HasPaymentLinkage() {
		return nil, newError(http.StatusConflict,
			"Order already has a payment request", ErrInvalidTransition)
	}

	result := &models.CreateOrderResult{Order: order}
	code, err := s.setupPayment(ctx, order)
	if err != nil {
		return result, err
	}
	result.PaymentCode = code
	return result, nil
}

// setupPayment requests a payment code with retries and records the
// provider's identifiers on the order. Every failure path flags the order for
// manual reconciliation.
func (s *orderServiceImpl) setupPayment(ctx context.Context, order *models.Order) (string, error) {
	var req *providers.PaymentRequest
	var lastErr error

attempts:
	for attempt := 1; attempt <= s.cfg.SetupAttempts; attempt++ {
		start := time.Now()
		req, lastErr = s.gateway.CreatePaymentRequest(ctx, order.GrandTotal, order.ID.String())
		s.recordLatency(ctx, aws_pkg.MetricGatewayLatency, time.Since(start))
		if lastErr == nil {
			break
		}

		s.logger.Warn("Payment request failed",
			zap.String("order_id", order.ID.String()),
			zap.String("provider", s.gateway.Name()),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
		if attempt < s.cfg.SetupAttempts {
			select {
			case <-ctx.Done():
				lastErr = errors.Join(lastErr, ctx.Err())
				break attempts
			case <-time.After(s.cfg.RetryBackoff * time.Duration(attempt)):
			}
		}
	}

	if lastErr != nil {
		s.flagForReconciliation(ctx, order, fmt.Sprintf("payment request failed: %v", lastErr))
		return "", newError(http.StatusBadGateway,
			fmt.Sprintf("Payment setup incomplete for order %s", order.ID),
			errors.Join(ErrPaymentSetupIncomplete, lastErr))
	}

	if err := s.repo.AttachPayment(ctx, order.ID, req.RequestID, req.PaymentMethodID); err != nil {
		s.logger.Error("Payment request created but linkage write failed",
			zap.String("order_id", order.ID.String()),
			zap.String("payment_request_id", req.RequestID),
			zap.Error(err),
		)
		s.flagForReconciliation(ctx, order,
			fmt.Sprintf("payment request %s created but not linked: %v", req.RequestID, err))
		return "", newError(http.StatusBadGateway,
			fmt.Sprintf("Payment setup incomplete for order %s", order.ID),
			errors.Join(ErrPaymentSetupIncomplete, err))
	}

	order.ExternalTransactionID = &req.RequestID
	order.PaymentMethodID = &req.PaymentMethodID
	order.NeedsReconciliation = false
	order.ReconciliationNote = ""

	if req.PaymentCode == "" {
		s.flagForReconciliation(ctx, order,
			fmt.Sprintf("payment request %s returned no payment code", req.RequestID))
		return "", newError(http.StatusBadGateway,
			fmt.Sprintf("Payment setup incomplete for order %s", order.ID),
			ErrPaymentSetupIncomplete)
	}

	s.logger.Info("Payment request attached",
		zap.String("order_id", order.ID.String()),
		zap.String("payment_request_id", req.RequestID),
		zap.String("provider", s.gateway.Name()),
	)
	return req.PaymentCode, nil
}

func (s *orderServiceImpl) flagForReconciliation(ctx context.Context, order *models.Order, note string) {
	s.recordCount(ctx, aws_pkg.MetricPaymentSetupFailed)

	// The request context may already be cancelled; the flag must still land.
	flagCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.repo.FlagForReconciliation(flagCtx, order.ID, note); err != nil {
		s.logger.Error("Failed to flag order for reconciliation",
			zap.String("order_id", order.ID.String()),
			zap.String("note", note),
			zap.Error(err),
		)
		return
	}
	order.NeedsReconciliation = true
	order.ReconciliationNote = note
	s.logger.Warn("Order flagged for reconciliation",
		zap.String("order_id", order.ID.String()),
		zap.String("note", note),
	)
}

func (s *orderServiceImpl) GetPaymentCode(ctx context.Context, orderID string) (*models.PaymentCodeView, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.IsPaid() {
		return nil, newError(http.StatusConflict, "Order is already paid", ErrInvalidTransition)
	}
	if !order.HasPaymentLinkage() || order.PaymentMethodID == nil {
		return nil, newError(http.StatusConflict,
			"Order has no payment request; retry payment setup", ErrPaymentSetupIncomplete)
	}

	pm, err := s.gateway.LookupPaymentMethod(ctx, providers.PaymentLink{
		RequestID:       *order.ExternalTransactionID,
		PaymentMethodID: *order.PaymentMethodID,
	})
	if err != nil {
		s.logger.Warn("Payment method lookup failed",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
		return nil, gatewayError("Failed to look up payment code", err)
	}

	return &models.PaymentCodeView{
		OrderID:         order.ID.String(),
		PaymentMethodID: pm.ID,
		PaymentCode:     pm.PaymentCode,
		ProviderStatus:  pm.Status,
	}, nil
}

// ConfirmPayment latches AWAITING_PAYMENT -> PROCESSING. Confirming an order
// that is already paid is reported as a duplicate, not an error.
func (s *orderServiceImpl) ConfirmPayment(ctx context.Context, orderID string, conf models.PaymentConfirmation) (*models.WebhookResult, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.Status.IsPaid() {
		s.logger.Info("Duplicate payment confirmation ignored",
			zap.String("order_id", order.ID.String()),
			zap.String("status", string(order.Status)),
		)
		return &models.WebhookResult{
			OrderID: order.ID.String(),
			Outcome: models.WebhookOutcomeDuplicate,
			Status:  order.Status,
		}, nil
	}

	if conf.Amount != 0 && conf.Amount != order.GrandTotal {
		s.logger.Error("Paid amount does not match order total",
			zap.String("order_id", order.ID.String()),
			zap.Int64("paid_amount", conf.Amount),
			zap.Int64("grand_total", order.GrandTotal),
		)
		return nil, newError(http.StatusUnprocessableEntity,
			fmt.Sprintf("Paid amount %d does not match order total %d", conf.Amount, order.GrandTotal),
			ErrAmountMismatch)
	}

	if conf.PaymentRequestID != "" && order.HasPaymentLinkage() && *order.ExternalTransactionID != conf.PaymentRequestID {
		s.logger.Warn("Payment request id differs from the one linked to the order",
			zap.String("order_id", order.ID.String()),
			zap.String("linked_payment_request_id", *order.ExternalTransactionID),
			zap.String("payment_request_id", conf.PaymentRequestID),
		)
	}

	paidAt := conf.PaidAt
	if paidAt.IsZero() {
		paidAt = time.Now().UTC()
	}

	err = s.repo.TransitionStatus(ctx, order.ID, models.StatusAwaitingPayment, models.StatusProcessing, &paidAt)
	if errors.Is(err, repository.ErrStaleState) {
		// Lost the race to another confirmation.
		current, loadErr := s.repo.FindByID(ctx, order.ID)
		if loadErr == nil && current.Status.IsPaid() {
			return &models.WebhookResult{
				OrderID: order.ID.String(),
				Outcome: models.WebhookOutcomeDuplicate,
				Status:  current.Status,
			}, nil
		}
		return nil, internalError("Failed to confirm payment", err)
	}
	if err != nil {
		s.logger.Error("Failed to confirm payment",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
		return nil, internalError("Failed to confirm payment", err)
	}

	order.Status = models.StatusProcessing
	order.PaidAt = &paidAt

	s.logger.Info("Payment confirmed",
		zap.String("order_id", order.ID.String()),
		zap.Time("paid_at", paidAt),
	)
	s.recordCount(ctx, aws_pkg.MetricPaymentSucceeded)
	s.publishEvent(ctx, models.EventOrderPaid, order)

	return &models.WebhookResult{
		OrderID: order.ID.String(),
		Outcome: models.WebhookOutcomeConfirmed,
		Status:  order.Status,
	}, nil
}

// CheckStatus reports paid=true only while the order is PROCESSING. It never
// changes state.
func (s *orderServiceImpl) CheckStatus(ctx context.Context, orderID string) (*models.OrderStatusView, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &models.OrderStatusView{
		OrderID: order.ID.String(),
		Paid:    order.Status == models.StatusProcessing,
		Status:  order.Status,
	}, nil
}

func (s *orderServiceImpl) SimulatePayment(ctx context.Context, orderID string) error {
	if !s.cfg.SimulationEnabled {
		return newError(http.StatusForbidden, "Payment simulation is disabled", ErrSimulationDisabled)
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != models.StatusAwaitingPayment {
		return newError(http.StatusConflict,
			fmt.Sprintf("Order is %s; only unpaid orders can be paid", order.Status), ErrInvalidTransition)
	}
	if order.PaymentMethodID == nil || *order.PaymentMethodID == "" {
		return newError(http.StatusConflict,
			"Order has no payment request; retry payment setup", ErrPaymentSetupIncomplete)
	}

	err = s.gateway.SimulatePayment(ctx, *order.PaymentMethodID, order.GrandTotal)
	if errors.Is(err, providers.ErrSimulationUnsupported) {
		return newError(http.StatusForbidden,
			fmt.Sprintf("Provider %s does not support simulated payments", s.gateway.Name()), ErrSimulationDisabled)
	}
	if err != nil {
		s.logger.Warn("Simulated payment failed",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
		return gatewayError("Failed to simulate payment", err)
	}

	s.logger.Info("Simulated payment triggered", zap.String("order_id", order.ID.String()))
	return nil
}

// ListOrders accepts ALL (or empty) or one of the status names.
func (s *orderServiceImpl) ListOrders(ctx context.Context, status string, page, limit int) (*models.OrderListResponse, error) {
	var filter *models.OrderStatus
	if status != "" && status != "ALL" {
		st, err := models.ParseOrderStatus(status)
		if err != nil {
			return nil, validationError(fmt.Sprintf("Invalid status filter: %s", status))
		}
		filter = &st
	}

	orders, total, err := s.repo.List(ctx, filter, page, limit)
	if err != nil {
		s.logger.Error("Failed to list orders", zap.Error(err))
		return nil, internalError("Failed to fetch orders", err)
	}

	return &models.OrderListResponse{
		Orders: orders,
		Meta: models.MetaData{
			Page:        page,
			Limit:       limit,
			TotalOrders: total,
			TotalPages:  calculateTotalPages(total, limit),
			HasMore:     total > int64(page*limit),
		},
	}, nil
}

// GetOrder returns the order with its items. An order whose item rows do not
// match its recorded item count is refused.
func (s *orderServiceImpl) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(order.OrderItems) != order.ItemCount {
		s.logger.Error("Order item set does not match order",
			zap.String("order_id", order.ID.String()),
			zap.Int("expected_items", order.ItemCount),
			zap.Int("found_items", len(order.OrderItems)),
		)
		return nil, newError(http.StatusInternalServerError,
			fmt.Sprintf("Order %s is inconsistent", order.ID), ErrCorruptOrder)
	}
	return order, nil
}

// FinishOrder moves a paid PROCESSING order to DONE.
func (s *orderServiceImpl) FinishOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaidAt == nil {
		return nil, newError(http.StatusConflict, "Order has not been paid", ErrNotPayable)
	}
	if order.Status != models.StatusProcessing {
		return nil, newError(http.StatusConflict,
			fmt.Sprintf("Cannot finish order in status %s", order.Status), ErrInvalidTransition)
	}

	err = s.repo.TransitionStatus(ctx, order.ID, models.StatusProcessing, models.StatusDone, nil)
	if errors.Is(err, repository.ErrStaleState) {
		return nil, newError(http.StatusConflict, "Order status changed; cannot finish", ErrInvalidTransition)
	}
	if err != nil {
		s.logger.Error("Failed to finish order",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
		return nil, internalError("Failed to finish order", err)
	}

	order.Status = models.StatusDone
	s.logger.Info("Order finished", zap.String("order_id", order.ID.String()))
	s.recordCount(ctx, aws_pkg.MetricOrdersCompleted)
	s.publishEvent(ctx, models.EventOrderFinished, order)
	return order, nil
}

func (s *orderServiceImpl) loadOrder(ctx context.Context, orderID string) (*models.Order, error) {
	id, err := uuid.Parse(orderID)
	if err != nil {
		return nil, validationError("Invalid order ID format")
	}

	order, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, repository.ErrOrderNotFound) {
		return nil, notFoundError("Order not found")
	}
	if err != nil {
		s.logger.Error("Failed to fetch order", zap.String("order_id", orderID), zap.Error(err))
		return nil, internalError("Failed to fetch order", err)
	}
	return order, nil
}

// publishEvent is best-effort; failures are logged only.
func (s *orderServiceImpl) publishEvent(ctx context.Context, eventType string, order *models.Order) {
	if s.publisher == nil || s.cfg.SNSTopicArn == "" {
		return
	}

	payload, err := json.Marshal(models.OrderEvent{
		EventType:  eventType,
		OrderID:    order.ID.String(),
		Status:     order.Status,
		GrandTotal: order.GrandTotal,
		PaidAt:     order.PaidAt,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error("Failed to marshal order event", zap.Error(err))
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, s.cfg.SNSTopicArn, eventType, payload); err != nil {
		s.logger.Warn("SNS publish failed",
			zap.String("event_type", eventType),
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
	}
}

func (s *orderServiceImpl) recordCount(ctx context.Context, metric string) {
	if s.metrics == nil {
		return
	}
	dims := map[string]string{"Provider": s.gateway.Name()}
	go func() {
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = s.metrics.RecordCount(mctx, metric, dims)
	}()
}

func (s *orderServiceImpl) recordLatency(ctx context.Context, metric string, d time.Duration) {
	if s.metrics == nil {
		return
	}
	dims := map[string]string{"Provider": s.gateway.Name()}
	go func() {
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = s.metrics.RecordLatency(mctx, metric, d, dims)
	}()
}

// gatewayError keeps GatewayUnavailable distinguishable from provider
// rejections.
func gatewayError(message string, err error) error {
	if errors.Is(err, ErrGatewayUnavailable) {
		return newError(http.StatusServiceUnavailable, message, err)
	}
	return newError(http.StatusBadGateway, message, err)
}

func calculateTotalPages(total int64, limit int) int64 {
	if limit == 0 {
		return 0
	}
	return (total + int64(limit) - 1) / int64(limit)
}
