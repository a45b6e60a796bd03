package models

import (
	"time"
)

// Payment outcome values carried by provider callbacks.
const (
	PaymentStatusSucceeded = "SUCCEEDED"
	PaymentStatusFailed    = "FAILED"
)

// PaymentCallback is the provider event envelope delivered to the webhook.
type PaymentCallback struct {
	Event string              `json:"event"`
	Data  PaymentCallbackData `json:"data"`
}

type PaymentCallbackData struct {
	ID               string `json:"id"`
	Amount           int64  `json:"amount"`
	PaymentRequestID string `json:"payment_request_id"`
	ReferenceID      string `json:"reference_id"`
	Status           string `json:"status"`
}

// IsSuccess reports whether the callback signals a completed payment.
func (c *PaymentCallback) IsSuccess() bool {
	return c.Data.Status == PaymentStatusSucceeded
}

// Webhook outcomes reported back to the caller.
const (
	WebhookOutcomeConfirmed = "confirmed"
	WebhookOutcomeDuplicate = "duplicate"
	WebhookOutcomeIgnored   = "ignored"
)

// WebhookResult summarises what a callback did to local state.
type WebhookResult struct {
	OrderID string      `json:"order_id"`
	Outcome string      `json:"outcome"`
	Status  OrderStatus `json:"status,omitempty"`
}

// PaymentConfirmation carries what the provider told us about a payment.
// Zero values mean "not reported".
type PaymentConfirmation struct {
	PaidAt           time.Time
	Amount           int64
	PaymentRequestID string
}

// CreateOrderLine is one requested order line.
type CreateOrderLine struct {
	ProductID string `json:"product_id" binding:"required" validate:"required,max=64"`
	Quantity  int    `json:"quantity" binding:"required,min=1,max=1000" validate:"gte=1,lte=1000"`
}

type CreateOrderRequest struct {
	Items []CreateOrderLine `json:"items" binding:"required,min=1,dive" validate:"required,min=1,dive"`
}

// CreateOrderResult is the order plus the code the customer scans to pay.
type CreateOrderResult struct {
	Order       *Order `json:"order"`
	PaymentCode string `json:"payment_code"`
}

// PaymentCodeView is the current payment code of an unpaid order.
type PaymentCodeView struct {
	OrderID         string `json:"order_id"`
	PaymentMethodID string `json:"payment_method_id"`
	PaymentCode     string `json:"payment_code"`
	ProviderStatus  string `json:"provider_status,omitempty"`
}

// OrderStatusView answers a client poll.
type OrderStatusView struct {
	OrderID string      `json:"order_id"`
	Paid    bool        `json:"paid"`
	Status  OrderStatus `json:"status"`
}

type OrderListResponse struct {
	Orders []Order  `json:"orders"`
	Meta   MetaData `json:"meta"`
}

type MetaData struct {
	Page        int   `json:"page"`
	Limit       int   `json:"limit"`
	TotalOrders int64 `json:"total_orders"`
	TotalPages  int64 `json:"total_pages"`
	HasMore     bool  `json:"has_more"`
}

// OrderEvent is published to SNS on lifecycle changes.
type OrderEvent struct {
	EventType  string      `json:"event_type"`
	OrderID    string      `json:"order_id"`
	Status     OrderStatus `json:"status"`
	GrandTotal int64       `json:"grand_total"`
	PaidAt     *time.Time  `json:"paid_at,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

const (
	EventOrderCreated  = "order.created"
	EventOrderPaid     = "order.paid"
	EventOrderFinished = "order.finished"
)
