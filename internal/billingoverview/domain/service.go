package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/meterly/internal/plan"
)

// UsageStats is the current-period view shown to a user.
type UsageStats struct {
	Plan              plan.Tier `json:"plan"`
	PeriodKey         string    `json:"period_key"`
	TokensUsed        int64     `json:"tokens_used"`
	TokenLimit        int64     `json:"token_limit"`
	TotalCost         float64   `json:"total_cost"`
	Overage           float64   `json:"overage"`
	ProjectsThisMonth int64     `json:"projects_this_month"`
}

type SeriesPoint struct {
	Period     string  `json:"period"`
	TokensUsed int64   `json:"tokens_used"`
	TotalCost  float64 `json:"total_cost"`
}

// UsageTrend compares the latest period in Series with the one before it.
type UsageTrend struct {
	Series          []SeriesPoint `json:"series"`
	TokenGrowth     *int64        `json:"token_growth,omitempty"`
	TokenGrowthRate *float64      `json:"token_growth_rate,omitempty"`
	CostGrowth      *float64      `json:"cost_growth,omitempty"`
	CostGrowthRate  *float64      `json:"cost_growth_rate,omitempty"`
	HasData         bool          `json:"has_data"`
}

type Service interface {
	// GetUsageStats never creates ledger or subscription rows. A user without
	// usage this period gets zero totals.
	GetUsageStats(ctx context.Context, userID string) (UsageStats, error)
	// GetUsageTrend returns up to months periods, oldest first.
	GetUsageTrend(ctx context.Context, userID string, months int) (UsageTrend, error)
}

var (
	ErrInvalidUser = errors.New("invalid_user")
)
