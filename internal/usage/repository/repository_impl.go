package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/smallbiznis/meterly/internal/usage/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *usagedomain.UsageEvent) error {
	return db.WithContext(ctx).Create(event).Error
}

func (r *repo) ListByPeriod(ctx context.Context, db *gorm.DB, userID, periodKey string, afterID snowflake.ID, limit int) ([]*usagedomain.UsageEvent, error) {
	var events []*usagedomain.UsageEvent
	err := db.WithContext(ctx).
		Where("user_id = ? AND period_key = ? AND id > ?", userID, periodKey, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) SumByPeriod(ctx context.Context, db *gorm.DB, userID, periodKey string) (usagedomain.PeriodTotals, error) {
	var totals usagedomain.PeriodTotals
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) AS events,
		 COALESCE(SUM(CASE WHEN billing_mode = ? THEN input_units + output_units ELSE 0 END), 0) AS plan_tokens,
		 COALESCE(SUM(CASE WHEN billing_mode = ? THEN cost ELSE 0 END), 0) AS plan_cost,
		 COALESCE(SUM(CASE WHEN billing_mode = ? THEN cost ELSE 0 END), 0) AS premium_cost
		 FROM usage_events WHERE user_id = ? AND period_key = ?`,
		usagedomain.BillingModePlan,
		usagedomain.BillingModePlan,
		usagedomain.BillingModePremium,
		userID,
		periodKey,
	).Scan(&totals).Error
	if err != nil {
		return usagedomain.PeriodTotals{}, err
	}
	return totals, nil
}
