package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/meterly/internal/plan"
	subscriptiondomain "github.com/smallbiznis/meterly/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(subscription)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, plan, role, trial_period_end, has_payment_method, created_at, updated_at
		 FROM subscriptions WHERE user_id = ?`,
		userID,
	).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) UpdatePlan(ctx context.Context, db *gorm.DB, userID string, tier plan.Tier, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET plan = ?, updated_at = ? WHERE user_id = ?`,
		tier,
		now,
		userID,
	)
	return result.RowsAffected > 0, result.Error
}

func (r *repo) UpdatePaymentMethod(ctx context.Context, db *gorm.DB, userID string, hasPaymentMethod bool, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET has_payment_method = ?, updated_at = ? WHERE user_id = ?`,
		hasPaymentMethod,
		now,
		userID,
	)
	return result.RowsAffected > 0, result.Error
}

func (r *repo) UpdateRole(ctx context.Context, db *gorm.DB, userID string, role subscriptiondomain.Role, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET role = ?, updated_at = ? WHERE user_id = ?`,
		role,
		now,
		userID,
	)
	return result.RowsAffected > 0, result.Error
}
