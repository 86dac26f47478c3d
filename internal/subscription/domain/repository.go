package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/meterly/internal/plan"
	"gorm.io/gorm"
)

type Repository interface {
	InsertIfAbsent(ctx context.Context, db *gorm.DB, subscription *Subscription) (bool, error)
	FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*Subscription, error)
	UpdatePlan(ctx context.Context, db *gorm.DB, userID string, tier plan.Tier, now time.Time) (bool, error)
	UpdatePaymentMethod(ctx context.Context, db *gorm.DB, userID string, hasPaymentMethod bool, now time.Time) (bool, error)
	UpdateRole(ctx context.Context, db *gorm.DB, userID string, role Role, now time.Time) (bool, error)
}
