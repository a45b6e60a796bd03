package services

import (
	"context"
	"errors"
	"net/http"

	"pos-service/cart"
	"pos-service/models"
	"pos-service/repository"

	"go.uber.org/zap"
)

var errItemNotInCart = errors.New("item not in cart")

// CartService manages the cashier's session cart and turns it into orders.
type CartService interface {
	GetCart(ctx context.Context, sessionID string) (*models.Cart, error)
	AddItem(ctx context.Context, sessionID, productID string) (*models.Cart, error)
	IncrementItem(ctx context.Context, sessionID, productID string) (*models.Cart, error)
	DecrementItem(ctx context.Context, sessionID, productID string) (*models.Cart, error)
	Clear(ctx context.Context, sessionID string) error
	Checkout(ctx context.Context, sessionID string) (*models.CreateOrderResult, error)
}

type cartServiceImpl struct {
	carts    repository.CartRepository
	products repository.ProductRepository
	orders   OrderService
	logger   *zap.Logger
}

func NewCartService(carts repository.CartRepository, products repository.ProductRepository, orders OrderService, logger *zap.Logger) CartService {
	return &cartServiceImpl{
		carts:    carts,
		products: products,
		orders:   orders,
		logger:   logger,
	}
}

func (s *cartServiceImpl) GetCart(ctx context.Context, sessionID string) (*models.Cart, error) {
	c, err := s.carts.Get(ctx, sessionID)
	if err != nil {
		s.logger.Error("Failed to load cart", zap.String("session_id", sessionID), zap.Error(err))
		return nil, internalError("Failed to load cart", err)
	}
	return c, nil
}

// AddItem snapshots the product's catalog details into the cart line.
func (s *cartServiceImpl) AddItem(ctx context.Context, sessionID, productID string) (*models.Cart, error) {
	p, err := s.products.FindByID(ctx, productID)
	if errors.Is(err, repository.ErrProductNotFound) {
		return nil, notFoundError("Product not found")
	}
	if err != nil {
		return nil, internalError("Failed to load product", err)
	}

	return s.update(ctx, sessionID, func(l *cart.Ledger) error {
		l.Add(models.CartItem{
			ProductID: p.ID,
			Name:      p.Name,
			UnitPrice: p.Price,
			ImageURL:  p.ImageURL,
		})
		return nil
	})
}

func (s *cartServiceImpl) IncrementItem(ctx context.Context, sessionID, productID string) (*models.Cart, error) {
	return s.update(ctx, sessionID, func(l *cart.Ledger) error {
		if !l.Increment(productID) {
			return errItemNotInCart
		}
		return nil
	})
}

// DecrementItem removes the line when its quantity is 1.
func (s *cartServiceImpl) DecrementItem(ctx context.Context, sessionID, productID string) (*models.Cart, error) {
	return s.update(ctx, sessionID, func(l *cart.Ledger) error {
		if !l.Decrement(productID) {
			return errItemNotInCart
		}
		return nil
	})
}

func (s *cartServiceImpl) Clear(ctx context.Context, sessionID string) error {
	if err := s.carts.Delete(ctx, sessionID); err != nil {
		s.logger.Error("Failed to clear cart", zap.String("session_id", sessionID), zap.Error(err))
		return internalError("Failed to clear cart", err)
	}
	return nil
}

// Checkout creates an order from the session cart. The cart is kept until
// the order is paid so a failed payment setup can be retried.
func (s *cartServiceImpl) Checkout(ctx context.Context, sessionID string) (*models.CreateOrderResult, error) {
	c, err := s.GetCart(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ledger := cart.NewLedger(c.Items)
	if ledger.Len() == 0 {
		return nil, validationError("Cart is empty")
	}
	return s.orders.CreateOrder(ctx, ledger.Lines())
}

func (s *cartServiceImpl) update(ctx context.Context, sessionID string, fn func(l *cart.Ledger) error) (*models.Cart, error) {
	c, err := s.carts.Update(ctx, sessionID, fn)
	switch {
	case err == nil:
		return c, nil
	case errors.Is(err, errItemNotInCart):
		return nil, notFoundError("Item not in cart")
	case errors.Is(err, repository.ErrCartConflict):
		return nil, newError(http.StatusConflict, "Cart was modified concurrently; retry", err)
	default:
		s.logger.Error("Failed to update cart", zap.String("session_id", sessionID), zap.Error(err))
		return nil, internalError("Failed to update cart", err)
	}
}
