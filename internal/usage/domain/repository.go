package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *UsageEvent) error
	// ListByPeriod returns up to limit events with id > afterID, oldest first.
	ListByPeriod(ctx context.Context, db *gorm.DB, userID, periodKey string, afterID snowflake.ID, limit int) ([]*UsageEvent, error)
	SumByPeriod(ctx context.Context, db *gorm.DB, userID, periodKey string) (PeriodTotals, error)
}

// PeriodTotals aggregates the audit log of one user and period.
type PeriodTotals struct {
	Events      int64
	PlanTokens  int64
	PlanCost    float64
	PremiumCost float64
}
