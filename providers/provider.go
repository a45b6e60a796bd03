package providers

import (
	"context"
	"errors"
)

var (
	// ErrGatewayUnavailable covers timeouts, transport failures and 5xx
	// answers from a payment provider.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrSimulationUnsupported is returned by providers that cannot fake a
	// customer payment.
	ErrSimulationUnsupported = errors.New("payment simulation not supported by provider")
	// ErrInvalidSignature means a callback could not be authenticated.
	ErrInvalidSignature = errors.New("invalid callback signature")
)

// IdempotencyKey is sent with every payment creation for orderID so a retry
// after an unknown outcome gets the request the provider already made.
func IdempotencyKey(orderID string) string {
	return "pos-order-" + orderID
}

// PaymentRequest is what a provider returns when asked to collect an amount.
type PaymentRequest struct {
	RequestID       string
	PaymentMethodID string
	PaymentCode     string
}

// PaymentLink identifies a payment previously created for an order.
type PaymentLink struct {
	RequestID       string
	PaymentMethodID string
}

// PaymentMethod is the provider's current view of a payment code.
type PaymentMethod struct {
	ID          string
	Status      string
	PaymentCode string
}

// PaymentGateway defines the interface every payment provider integration
// must implement.
type PaymentGateway interface {
	Name() string

	// CreatePaymentRequest asks the provider for a one-time QR payment of
	// amount, tagged with orderID as the reference. Repeated calls for the
	// same orderID must resolve to the same provider request.
	CreatePaymentRequest(ctx context.Context, amount int64, orderID string) (*PaymentRequest, error)

	// SimulatePayment makes the provider behave as if the customer paid.
	SimulatePayment(ctx context.Context, paymentMethodID string, amount int64) error

	// LookupPaymentMethod fetches the current code and status of a payment.
	LookupPaymentMethod(ctx context.Context, link PaymentLink) (*PaymentMethod, error)
}
