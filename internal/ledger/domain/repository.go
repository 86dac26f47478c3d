package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// InsertIfAbsent creates the row unless (user_id, period_key) exists and
	// reports whether it inserted.
	InsertIfAbsent(ctx context.Context, db *gorm.DB, record *Record) (bool, error)
	FindByKey(ctx context.Context, db *gorm.DB, userID, periodKey string) (*Record, error)
	// Increment adds delta with in-place column arithmetic.
	Increment(ctx context.Context, db *gorm.DB, userID, periodKey string, delta Delta, now time.Time) error
	// UpdateDerived writes the totals and pinned plan terms held on record.
	UpdateDerived(ctx context.Context, db *gorm.DB, record *Record) error
	ListByUser(ctx context.Context, db *gorm.DB, userID string, limit int) ([]Record, error)
	// ListByPeriod pages through every user's row for periodKey by id.
	ListByPeriod(ctx context.Context, db *gorm.DB, periodKey string, afterID snowflake.ID, limit int) ([]Record, error)
}
