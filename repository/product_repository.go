package repository

import (
	"context"
	"errors"

	"pos-service/models"

	"gorm.io/gorm"
)

var ErrProductNotFound = errors.New("product not found")

// ProductRepository is a read-only view of the catalog.
type ProductRepository interface {
	FindByIDs(ctx context.Context, ids []string) ([]models.Product, error)
	FindByID(ctx context.Context, id string) (*models.Product, error)
}

type GormProductRepository struct {
	db *gorm.DB
}

func NewGormProductRepository(db *gorm.DB) ProductRepository {
	return &GormProductRepository{db: db}
}

// FindByIDs returns the products that exist among ids. Missing ids are
// simply absent from the result.
func (r *GormProductRepository) FindByIDs(ctx context.Context, ids []string) ([]models.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var products []models.Product
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

func (r *GormProductRepository) FindByID(ctx context.Context, id string) (*models.Product, error) {
	var p models.Product
	err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
