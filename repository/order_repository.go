package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pos-service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrStaleState means a conditional write matched no row because the
	// order was no longer in the expected state.
	ErrStaleState = errors.New("order state changed concurrently")
)

// OrderRepository defines the persistence operations of the order lifecycle.
type OrderRepository interface {
	CreateWithItems(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	List(ctx context.Context, status *models.OrderStatus, page, limit int) ([]models.Order, int64, error)
	AttachPayment(ctx context.Context, id uuid.UUID, requestID, paymentMethodID string) error
	FlagForReconciliation(ctx context.Context, id uuid.UUID, note string) error
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.OrderStatus, paidAt *time.Time) error
	SalesSnapshot(ctx context.Context) (*models.SalesReport, error)
}

// GormOrderRepository implements OrderRepository using GORM
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) OrderRepository {
	return &GormOrderRepository{db: db}
}

// CreateWithItems writes the order row and all of its items in one
// transaction.
func (r *GormOrderRepository) CreateWithItems(ctx context.Context, order *models.Order) error {
	items := order.OrderItems
	if len(items) == 0 {
		return fmt.Errorf("order has no items")
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("OrderItems").Create(order).Error; err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		for i := range items {
			items[i].OrderID = order.ID
		}
		if err := tx.Create(&items).Error; err != nil {
			return fmt.Errorf("insert order items: %w", err)
		}
		order.OrderItems = items
		return nil
	})
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("OrderItems").
		Where("id = ?", id).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// List returns a page of orders, newest first, optionally filtered by status.
func (r *GormOrderRepository) List(ctx context.Context, status *models.OrderStatus, page, limit int) ([]models.Order, int64, error) {
	var orders []models.Order
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Order{})
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	query = query.Session(&gorm.Session{})

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.
		Offset(offset).
		Limit(limit).
		Order("created_at DESC").
		Find(&orders).Error; err != nil {
		return nil, 0, err
	}

	return orders, total, nil
}

// AttachPayment records the provider's payment request on an order that has
// none yet. It fails with ErrStaleState if linkage already exists.
func (r *GormOrderRepository) AttachPayment(ctx context.Context, id uuid.UUID, requestID, paymentMethodID string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND external_transaction_id IS NULL", id).
		Updates(map[string]interface{}{
			"external_transaction_id": requestID,
			"payment_method_id":       paymentMethodID,
			"needs_reconciliation":    false,
			"reconciliation_note":     "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

func (r *GormOrderRepository) FlagForReconciliation(ctx context.Context, id uuid.UUID, note string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"needs_reconciliation": true,
			"reconciliation_note":  note,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// TransitionStatus moves an order from one status to the next only if it is
// still in from. paidAt is written when non-nil.
func (r *GormOrderRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.OrderStatus, paidAt *time.Time) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("illegal transition %s -> %s", from, to)
	}

	updates := map[string]interface{}{"status": to}
	if paidAt != nil {
		updates["paid_at"] = *paidAt
	}

	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

const salesSnapshotQuery = `
SELECT
	COALESCE(SUM(grand_total) FILTER (WHERE paid_at IS NOT NULL), 0) AS total_revenue,
	COUNT(*) FILTER (WHERE status <> 'DONE')                          AS total_ongoing_orders,
	COUNT(*) FILTER (WHERE status = 'DONE')                           AS total_completed_orders
FROM orders`

// SalesSnapshot computes all report figures in a single statement so they
// describe the same snapshot.
func (r *GormOrderRepository) SalesSnapshot(ctx context.Context) (*models.SalesReport, error) {
	var report models.SalesReport
	if err := r.db.WithContext(ctx).Raw(salesSnapshotQuery).Scan(&report).Error; err != nil {
		return nil, err
	}
	return &report, nil
}
