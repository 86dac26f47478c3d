package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterly/internal/plan"
)

// Role grants a user elevated access. Admins bypass usage limits.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin:
		return true
	default:
		return false
	}
}

// Subscription binds a user to a plan tier.
type Subscription struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	UserID           string       `gorm:"type:varchar(191);not null;uniqueIndex:ux_subscriptions_user"`
	Plan             plan.Tier    `gorm:"type:varchar(32);not null"`
	Role             Role         `gorm:"type:varchar(16);not null;default:'user'"`
	TrialPeriodEnd   *time.Time   `gorm:""`
	HasPaymentMethod bool         `gorm:"not null;default:false"`
	CreatedAt        time.Time    `gorm:"not null"`
	UpdatedAt        time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

func (s Subscription) IsAdmin() bool {
	return s.Role == RoleAdmin
}

// TrialExpired reports whether now is past the trial end. A subscription
// without a trial end never expires.
func (s Subscription) TrialExpired(now time.Time) bool {
	return s.TrialPeriodEnd != nil && now.After(*s.TrialPeriodEnd)
}
