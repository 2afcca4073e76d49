package services

import (
	"context"

	"moneyspent/internal/core"
)

// AnalyticsStorage provides the monthly aggregates the dashboards are built
// from. All sums run over live transaction rows, not the cached balances.
type AnalyticsStorage interface {
	MonthTotals(ctx context.Context, userID string, year, month int) (income, expense core.Money, err error)
	CategoryTotals(ctx context.Context, userID string, year, month int) ([]core.CategoryAmount, error)
	MonthlySeries(ctx context.Context, userID string, year int) ([]core.MonthlyPoint, error)
}

type AnalyticsService struct {
	storage AnalyticsStorage
}

func NewAnalyticsService(storage AnalyticsStorage) *AnalyticsService {
	return &AnalyticsService{storage: storage}
}

// MonthOverview assembles one month's totals, savings rate and
// spending-by-category breakdown.
func (s *AnalyticsService) MonthOverview(ctx context.Context, userID string, year, month int) (core.MonthOverview, error) {
	if userID == "" {
		return core.MonthOverview{}, core.ErrUnauthorized
	}

	income, expense, err := s.storage.MonthTotals(ctx, userID, year, month)
	if err != nil {
		return core.MonthOverview{}, err
	}
	byCategory, err := s.storage.CategoryTotals(ctx, userID, year, month)
	if err != nil {
		return core.MonthOverview{}, err
	}
	return core.NewMonthOverview(year, month, income, expense, byCategory), nil
}

// YearTrend returns the income/expense series for every month of a year.
func (s *AnalyticsService) YearTrend(ctx context.Context, userID string, year int) ([]core.MonthlyPoint, error) {
	if userID == "" {
		return nil, core.ErrUnauthorized
	}
	return s.storage.MonthlySeries(ctx, userID, year)
}
