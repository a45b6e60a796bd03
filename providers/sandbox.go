package providers

import (
	"context"
	"fmt"
	"sync"

	"pos-service/models"

	"github.com/google/uuid"
)

// CallbackFunc receives provider callbacks produced in-process.
type CallbackFunc func(ctx context.Context, cb *models.PaymentCallback) error

type sandboxPayment struct {
	requestID string
	orderID   string
	amount    int64
	status    string
	code      string
}

// SandboxGateway is an in-process provider for local runs and tests. Payment
// codes are deterministic and simulated payments are delivered synchronously
// to the registered callback.
type SandboxGateway struct {
	mu       sync.Mutex
	payments map[string]*sandboxPayment
	byKey    map[string]string
	callback CallbackFunc
}

func NewSandboxGateway() *SandboxGateway {
	return &SandboxGateway{
		payments: make(map[string]*sandboxPayment),
		byKey:    make(map[string]string),
	}
}

func (s *SandboxGateway) Name() string { return "sandbox" }

// SetCallback registers where simulated payments are reported.
func (s *SandboxGateway) SetCallback(fn CallbackFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = fn
}

func (s *SandboxGateway) CreatePaymentRequest(ctx context.Context, amount int64, orderID string) (*PaymentRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := IdempotencyKey(orderID)
	if methodID, ok := s.byKey[key]; ok {
		p := s.payments[methodID]
		return &PaymentRequest{
			RequestID:       p.requestID,
			PaymentMethodID: methodID,
			PaymentCode:     p.code,
		}, nil
	}

	p := &sandboxPayment{
		requestID: "pr-sandbox-" + uuid.NewString(),
		orderID:   orderID,
		amount:    amount,
		status:    "ACTIVE",
		code:      fmt.Sprintf("SANDBOX-QRIS-%s-%d", orderID, amount),
	}
	methodID := "pm-sandbox-" + uuid.NewString()

	s.payments[methodID] = p
	s.byKey[key] = methodID

	return &PaymentRequest{
		RequestID:       p.requestID,
		PaymentMethodID: methodID,
		PaymentCode:     p.code,
	}, nil
}

// SimulatePayment marks the code as paid and delivers a SUCCEEDED callback.
func (s *SandboxGateway) SimulatePayment(ctx context.Context, paymentMethodID string, amount int64) error {
	s.mu.Lock()
	p, ok := s.payments[paymentMethodID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("sandbox: unknown payment method %s", paymentMethodID)
	}
	p.status = "PAID"
	cb := &models.PaymentCallback{
		Event: "payment.succeeded",
		Data: models.PaymentCallbackData{
			ID:               "py-sandbox-" + uuid.NewString(),
			Amount:           amount,
			PaymentRequestID: p.requestID,
			ReferenceID:      p.orderID,
			Status:           models.PaymentStatusSucceeded,
		},
	}
	fn := s.callback
	s.mu.Unlock()

	if fn == nil {
		return nil
	}
	return fn(ctx, cb)
}

func (s *SandboxGateway) LookupPaymentMethod(ctx context.Context, link PaymentLink) (*PaymentMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[link.PaymentMethodID]
	if !ok {
		return nil, fmt.Errorf("sandbox: unknown payment method %s", link.PaymentMethodID)
	}
	return &PaymentMethod{
		ID:          link.PaymentMethodID,
		Status:      p.status,
		PaymentCode: p.code,
	}, nil
}
