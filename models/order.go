package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OrderStatus is the persisted lifecycle state of an order.
type OrderStatus string

const (
	StatusAwaitingPayment OrderStatus = "AWAITING_PAYMENT"
	StatusProcessing      OrderStatus = "PROCESSING"
	StatusDone            OrderStatus = "DONE"
)

// transitions lists, for each state, the only state it may move to.
var transitions = map[OrderStatus]OrderStatus{
	StatusAwaitingPayment: StatusProcessing,
	StatusProcessing:      StatusDone,
}

// ParseOrderStatus converts a raw string into an OrderStatus.
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch st := OrderStatus(s); st {
	case StatusAwaitingPayment, StatusProcessing, StatusDone:
		return st, nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

// CanTransitionTo reports whether moving from s to next is a legal step.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	to, ok := transitions[s]
	return ok && to == next
}

// IsPaid reports whether the state implies a recorded payment.
func (s OrderStatus) IsPaid() bool {
	return s == StatusProcessing || s == StatusDone
}

func (s OrderStatus) IsTerminal() bool {
	_, ok := transitions[s]
	return !ok
}

type Order struct {
	ID                    uuid.UUID   `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Subtotal              int64       `gorm:"not null" json:"subtotal"`
	Tax                   int64       `gorm:"not null" json:"tax"`
	GrandTotal            int64       `gorm:"not null" json:"grand_total"`
	Status                OrderStatus `gorm:"type:varchar(20);not null;default:'AWAITING_PAYMENT';index" json:"status"`
	PaidAt                *time.Time  `json:"paid_at"`
	ExternalTransactionID *string     `gorm:"type:varchar(128);uniqueIndex" json:"external_transaction_id"`
	PaymentMethodID       *string     `gorm:"type:varchar(128)" json:"payment_method_id"`
	// ItemCount is the number of order_items rows written with the order.
	ItemCount           int         `gorm:"not null" json:"total_items"`
	NeedsReconciliation bool        `gorm:"not null;default:false" json:"needs_reconciliation"`
	ReconciliationNote  string      `gorm:"type:text;not null;default:''" json:"reconciliation_note,omitempty"`
	CreatedAt           time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
	OrderItems          []OrderItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
}

// HasPaymentLinkage reports whether a payment request has been attached.
func (o *Order) HasPaymentLinkage() bool {
	return o.ExternalTransactionID != nil && *o.ExternalTransactionID != ""
}

// OrderItem is a frozen copy of a priced cart line. Price is the unit price
// at the time the order was created.
type OrderItem struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID   uuid.UUID `gorm:"type:uuid;not null;index" json:"order_id"`
	ProductID string    `gorm:"type:varchar(64);not null" json:"product_id"`
	Quantity  int       `gorm:"not null" json:"quantity"`
	Price     int64     `gorm:"not null" json:"price"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Product is the catalog entry used to price order lines.
type Product struct {
	ID        string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	Price     int64     `gorm:"not null" json:"price"`
	ImageURL  string    `json:"image_url"`
	Category  string    `gorm:"type:varchar(64)" json:"category"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// SalesReport is a point-in-time projection over all orders.
type SalesReport struct {
	TotalRevenue         int64 `json:"total_revenue"`
	TotalOngoingOrders   int64 `json:"total_ongoing_orders"`
	TotalCompletedOrders int64 `json:"total_completed_orders"`
}
