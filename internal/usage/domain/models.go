// Package domain contains the usage audit log and recording contracts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Category classifies a metered AI operation.
type Category string

const (
	CategoryTokenGeneration Category = "token_generation"
	CategoryChat            Category = "chat"
	CategoryAPIRequest      Category = "api_request"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryTokenGeneration, CategoryChat, CategoryAPIRequest:
		return true
	default:
		return false
	}
}

// BillingMode selects which ledger path a usage event is charged to.
type BillingMode string

const (
	// BillingModePlan counts against the plan token limit.
	BillingModePlan BillingMode = "plan"
	// BillingModePremium is always billed as overage.
	BillingModePremium BillingMode = "premium"
)

func (m BillingMode) Valid() bool {
	switch m {
	case BillingModePlan, BillingModePremium:
		return true
	default:
		return false
	}
}

// ResourceKind names a non-token metered resource.
type ResourceKind string

const (
	ResourceStorage      ResourceKind = "storage"
	ResourceDeployment   ResourceKind = "deployment"
	ResourceCompute      ResourceKind = "compute"
	ResourceDataTransfer ResourceKind = "data_transfer"
)

// UsageEvent is the immutable audit record of one priced AI operation.
type UsageEvent struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	UserID         string            `gorm:"type:varchar(191);not null;index:ix_usage_events_user_period,priority:1"`
	PeriodKey      string            `gorm:"type:varchar(7);not null;index:ix_usage_events_user_period,priority:2"`
	ProjectID      *string           `gorm:"type:varchar(191)"`
	Category       Category          `gorm:"type:varchar(32);not null"`
	InputUnits     int64             `gorm:"not null;default:0"`
	OutputUnits    int64             `gorm:"not null;default:0"`
	ComputeTimeMs  *int64            `gorm:""`
	PricingVariant string            `gorm:"column:pricing_model_variant;type:varchar(64);not null"`
	BillingMode    BillingMode       `gorm:"type:varchar(16);not null"`
	Cost           float64           `gorm:"type:decimal(20,4);not null;default:0"`
	OccurredAt     time.Time         `gorm:"not null"`
	Metadata       datatypes.JSONMap `gorm:""`
	CreatedAt      time.Time         `gorm:"not null"`
}

// TableName sets the database table name.
func (UsageEvent) TableName() string { return "usage_events" }

// TotalUnits is the token count charged for the event.
func (e UsageEvent) TotalUnits() int64 {
	return e.InputUnits + e.OutputUnits
}
