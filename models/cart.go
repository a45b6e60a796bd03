package models

import "time"

// CartItem is one product line in a cashier's cart.
type CartItem struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	ImageURL  string `json:"image_url,omitempty"`
}

// Cart is the session-scoped snapshot stored between requests.
type Cart struct {
	SessionID string     `json:"session_id"`
	Items     []CartItem `json:"items"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type AddCartItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
}
