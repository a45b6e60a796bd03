package services

import (
	"context"

	"pos-service/models"
	"pos-service/repository"

	"go.uber.org/zap"
)

type SalesService interface {
	Report(ctx context.Context) (*models.SalesReport, error)
}

type salesServiceImpl struct {
	repo   repository.OrderRepository
	logger *zap.Logger
}

func NewSalesService(repo repository.OrderRepository, logger *zap.Logger) SalesService {
	return &salesServiceImpl{repo: repo, logger: logger}
}

// Report returns revenue and order counts taken from one snapshot.
func (s *salesServiceImpl) Report(ctx context.Context) (*models.SalesReport, error) {
	report, err := s.repo.SalesSnapshot(ctx)
	if err != nil {
		s.logger.Error("Failed to compute sales report", zap.Error(err))
		return nil, internalError("Failed to compute sales report", err)
	}
	return report, nil
}
