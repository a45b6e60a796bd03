package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"pos-service/models"
	"pos-service/repository"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// DefaultTaxRate is applied when no rate is configured.
var DefaultTaxRate = decimal.RequireFromString("0.10")

// PricedCart is the result of pricing a cart against the catalog.
type PricedCart struct {
	Subtotal   int64
	Tax        int64
	GrandTotal int64
	LineItems  []models.OrderItem
}

// Pricer turns order lines into priced items using current catalog prices.
type Pricer struct {
	products repository.ProductRepository
	taxRate  decimal.Decimal
	validate *validator.Validate
}

func NewPricer(products repository.ProductRepository, taxRate decimal.Decimal) *Pricer {
	return &Pricer{
		products: products,
		taxRate:  taxRate,
		validate: validator.New(),
	}
}

// ComputeTax rounds subtotal*rate half-to-even to whole minor units.
func ComputeTax(subtotal int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(subtotal).Mul(rate).RoundBank(0).IntPart()
}

// PriceCart prices lines in request order. Client-declared prices are never
// consulted.
func (p *Pricer) PriceCart(ctx context.Context, lines []models.CreateOrderLine) (*PricedCart, error) {
	if err := p.validateLines(lines); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}

	products, err := p.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, internalError("Failed to load catalog prices", err)
	}
	catalog := make(map[string]models.Product, len(products))
	for _, prod := range products {
		catalog[prod.ID] = prod
	}

	var missing []string
	priced := &PricedCart{LineItems: make([]models.OrderItem, 0, len(lines))}
	for _, l := range lines {
		prod, ok := catalog[l.ProductID]
		if !ok {
			missing = append(missing, l.ProductID)
			continue
		}
		if prod.Price > 0 && int64(l.Quantity) > (math.MaxInt64-priced.Subtotal)/prod.Price {
			return nil, newError(http.StatusBadRequest, "Order total is too large", ErrInvalidLineItem)
		}
		priced.Subtotal += prod.Price * int64(l.Quantity)
		priced.LineItems = append(priced.LineItems, models.OrderItem{
			ProductID: prod.ID,
			Quantity:  l.Quantity,
			Price:     prod.Price,
		})
	}
	if len(missing) > 0 {
		return nil, newError(http.StatusBadRequest,
			fmt.Sprintf("Unknown product: %s", strings.Join(missing, ", ")), ErrInvalidLineItem)
	}

	priced.Tax = ComputeTax(priced.Subtotal, p.taxRate)
	if priced.Tax > math.MaxInt64-priced.Subtotal {
		return nil, newError(http.StatusBadRequest, "Order total is too large", ErrInvalidLineItem)
	}
	priced.GrandTotal = priced.Subtotal + priced.Tax
	return priced, nil
}

func (p *Pricer) validateLines(lines []models.CreateOrderLine) error {
	if err := p.validate.Struct(models.CreateOrderRequest{Items: lines}); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
			}
			return validationError("Invalid order lines: " + strings.Join(msgs, "; "))
		}
		return validationError("Invalid order lines")
	}

	seen := make(map[string]struct{}, len(lines))
	for _, l := range lines {
		if _, dup := seen[l.ProductID]; dup {
			return validationError(fmt.Sprintf("Duplicate product in order: %s", l.ProductID))
		}
		seen[l.ProductID] = struct{}{}
	}
	return nil
}
