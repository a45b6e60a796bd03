package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"pos-service/models"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/paymentintent"
	"github.com/stripe/stripe-go/v80/webhook"
)

const stripeReferenceKey = "reference_id"

// StripeGateway implements PaymentGateway with PayNow QR payment intents.
type StripeGateway struct {
	webhookSecret string
	currency      string
	timeout       time.Duration
}

// NewStripeGateway configures the shared Stripe client. Each API call is
// bounded by timeout; zero leaves only the caller's deadline.
func NewStripeGateway(secretKey, webhookSecret, currency string, timeout time.Duration) *StripeGateway {
	stripe.Key = secretKey
	return &StripeGateway{
		webhookSecret: webhookSecret,
		currency:      strings.ToLower(currency),
		timeout:       timeout,
	}
}

func (s *StripeGateway) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *StripeGateway) Name() string { return "stripe" }

// CreatePaymentRequest creates and confirms a PayNow payment intent so the
// QR code is available immediately.
func (s *StripeGateway) CreatePaymentRequest(ctx context.Context, amount int64, orderID string) (*PaymentRequest, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(amount),
		Currency:           stripe.String(s.currency),
		PaymentMethodTypes: stripe.StringSlice([]string{"paynow"}),
		PaymentMethodData: &stripe.PaymentIntentPaymentMethodDataParams{
			Type: stripe.String("paynow"),
		},
		Confirm: stripe.Bool(true),
	}
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	params.Context = ctx
	params.SetIdempotencyKey(IdempotencyKey(orderID))
	params.AddMetadata(stripeReferenceKey, orderID)

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe CreatePaymentRequest: %w", classifyStripeError(err))
	}

	req := &PaymentRequest{
		RequestID:   pi.ID,
		PaymentCode: paynowQRData(pi),
	}
	if pi.PaymentMethod != nil {
		req.PaymentMethodID = pi.PaymentMethod.ID
	}
	return req, nil
}

// SimulatePayment is not available; Stripe test payments are driven from
// the dashboard or CLI.
func (s *StripeGateway) SimulatePayment(ctx context.Context, paymentMethodID string, amount int64) error {
	return ErrSimulationUnsupported
}

func (s *StripeGateway) LookupPaymentMethod(ctx context.Context, link PaymentLink) (*PaymentMethod, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := paymentintent.Get(link.RequestID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe LookupPaymentMethod: %w", classifyStripeError(err))
	}

	pm := &PaymentMethod{
		ID:          link.PaymentMethodID,
		Status:      string(pi.Status),
		PaymentCode: paynowQRData(pi),
	}
	if pi.PaymentMethod != nil {
		pm.ID = pi.PaymentMethod.ID
	}
	return pm, nil
}

// ParseCallback verifies a Stripe webhook and converts payment intent events
// into a PaymentCallback. Other event types yield a nil callback.
func (s *StripeGateway) ParseCallback(payload []byte, signature string) (*models.PaymentCallback, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}

	var status string
	switch event.Type {
	case "payment_intent.succeeded":
		status = models.PaymentStatusSucceeded
	case "payment_intent.payment_failed":
		status = models.PaymentStatusFailed
	default:
		return nil, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}

	amount := pi.AmountReceived
	if amount == 0 {
		amount = pi.Amount
	}

	return &models.PaymentCallback{
		Event: string(event.Type),
		Data: models.PaymentCallbackData{
			ID:               event.ID,
			Amount:           amount,
			PaymentRequestID: pi.ID,
			ReferenceID:      pi.Metadata[stripeReferenceKey],
			Status:           status,
		},
	}, nil
}

// paynowQRData pulls the QR payload out of next_action. The client secret is
// returned when the intent carries no display action.
func paynowQRData(pi *stripe.PaymentIntent) string {
	if pi.NextAction != nil {
		raw, err := json.Marshal(pi.NextAction)
		if err == nil {
			var action map[string]json.RawMessage
			if json.Unmarshal(raw, &action) == nil {
				var qr struct {
					Data string `json:"data"`
				}
				if json.Unmarshal(action["paynow_display_qr_code"], &qr) == nil && qr.Data != "" {
					return qr.Data
				}
			}
		}
	}
	return pi.ClientSecret
}

func classifyStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= 500 {
			return errors.Join(ErrGatewayUnavailable, err)
		}
		return err
	}
	return errors.Join(ErrGatewayUnavailable, err)
}
