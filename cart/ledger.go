// Package cart holds the cashier's cart as a pure in-memory reducer.
package cart

import (
	"pos-service/models"
)

// Ledger is an ordered set of cart lines keyed by product id. The zero value
// is an empty cart. A Ledger is not safe for concurrent use.
type Ledger struct {
	items []models.CartItem
}

// NewLedger rebuilds a ledger from a stored snapshot. Lines with a
// non-positive quantity are dropped and repeated product ids are merged.
func NewLedger(items []models.CartItem) *Ledger {
	l := &Ledger{}
	for _, it := range items {
		if it.Quantity < 1 || it.ProductID == "" {
			continue
		}
		if i := l.index(it.ProductID); i >= 0 {
			l.items[i].Quantity += it.Quantity
			continue
		}
		l.items = append(l.items, it)
	}
	return l
}

func (l *Ledger) index(productID string) int {
	for i := range l.items {
		if l.items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// Add inserts item with quantity 1, or bumps the quantity when the product
// is already in the cart. The incoming quantity is ignored.
func (l *Ledger) Add(item models.CartItem) {
	if i := l.index(item.ProductID); i >= 0 {
		l.items[i].Quantity++
		return
	}
	item.Quantity = 1
	l.items = append(l.items, item)
}

// Increment adds one to an existing line. It reports false if the product
// is not in the cart.
func (l *Ledger) Increment(productID string) bool {
	i := l.index(productID)
	if i < 0 {
		return false
	}
	l.items[i].Quantity++
	return true
}

// Decrement removes one unit, dropping the line when it reaches zero.
func (l *Ledger) Decrement(productID string) bool {
	i := l.index(productID)
	if i < 0 {
		return false
	}
	if l.items[i].Quantity > 1 {
		l.items[i].Quantity--
		return true
	}
	l.items = append(l.items[:i], l.items[i+1:]...)
	return true
}

func (l *Ledger) Clear() {
	l.items = nil
}

// Items returns a copy of the lines in insertion order.
func (l *Ledger) Items() []models.CartItem {
	out := make([]models.CartItem, len(l.items))
	copy(out, l.items)
	return out
}

func (l *Ledger) Len() int { return len(l.items) }

// Total sums unit price times quantity using the prices held in the cart.
// Display only; orders are priced from the catalog.
func (l *Ledger) Total() int64 {
	var total int64
	for _, it := range l.items {
		total += it.UnitPrice * int64(it.Quantity)
	}
	return total
}

// Lines converts the cart into order lines.
func (l *Ledger) Lines() []models.CreateOrderLine {
	lines := make([]models.CreateOrderLine, 0, len(l.items))
	for _, it := range l.items {
		lines = append(lines, models.CreateOrderLine{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return lines
}
