package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/meterly/internal/plan"
	"github.com/smallbiznis/meterly/pkg/billingerr"
	"github.com/stretchr/testify/assert"
)

var starter = plan.Definition{Tier: plan.TierStarter, MonthlyFee: 49, TokenLimit: 980_000, OverageRatePerKTokens: 0.06}

func TestPeriodKeyIsUTCMonth(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	// 2025-02-01 03:00 local is still January in UTC
	ts := time.Date(2025, 2, 1, 3, 0, 0, 0, loc)

	assert.Equal(t, "2025-01", PeriodKey(ts))
	assert.True(t, ValidPeriodKey("2025-01"))
	assert.False(t, ValidPeriodKey("2025-1"))
	assert.False(t, ValidPeriodKey("2025-13"))
}

func TestSumComponentsAndInvariant(t *testing.T) {
	r := Record{PlanAICost: 1.0, PremiumAICost: 0.25, StorageCost: 0.1, DeploymentCost: 0.05, InfraCost: 8.5}
	assert.InDelta(t, 9.9, r.SumComponents(), 1e-9)

	r.TotalCost = r.SumComponents()
	assert.NoError(t, r.CheckInvariant())

	r.TotalCost = 9.0
	assert.True(t, errors.Is(r.CheckInvariant(), billingerr.ErrInvariantViolation))
}

func TestComputeOverage(t *testing.T) {
	tests := []struct {
		name   string
		record Record
		def    plan.Definition
		want   float64
	}{
		{name: "under limit", record: Record{TokensUsed: 500_000}, def: starter, want: 0},
		{name: "at limit", record: Record{TokensUsed: 980_000}, def: starter, want: 0},
		{name: "starter scenario", record: Record{TokensUsed: 1_000_000}, def: starter, want: 1.2},
		{name: "premium always counts", record: Record{TokensUsed: 10, PremiumAICost: 0.75}, def: starter, want: 0.75},
		{name: "both", record: Record{TokensUsed: 1_000_000, PremiumAICost: 0.3}, def: starter, want: 1.5},
		{
			name:   "unlimited plan",
			record: Record{TokensUsed: 50_000_000, PremiumAICost: 2},
			def:    plan.Definition{Tier: plan.TierEnterprise, TokenLimit: plan.Unlimited, OverageRatePerKTokens: 1},
			want:   2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ComputeOverage(tt.record, tt.def), 1e-9)
		})
	}
}

func TestPinPlanKeepsFirstTerms(t *testing.T) {
	var r Record
	assert.True(t, r.PinPlan(starter))
	assert.False(t, r.PinPlan(plan.Definition{Tier: plan.TierPro, TokenLimit: 3_500_000, OverageRatePerKTokens: 0.05}))

	pinned := r.PinnedPlan()
	assert.Equal(t, plan.TierStarter, pinned.Tier)
	assert.Equal(t, int64(980_000), pinned.TokenLimit)
	assert.Equal(t, 0.06, pinned.OverageRatePerKTokens)

	r.TokensUsed = 1_000_000
	assert.InDelta(t, 1.2, ComputeOverage(r, r.PinnedPlan()), 1e-9)
}

func TestDeltaValidate(t *testing.T) {
	assert.NoError(t, Delta{TokensForLimit: 10, TotalTokens: 10, Component: ComponentPlanAI, Cost: 0.1}.Validate())
	assert.NoError(t, Delta{Projects: 1}.Validate())

	assert.ErrorIs(t, Delta{TotalTokens: -1}.Validate(), ErrInvalidDelta)
	assert.ErrorIs(t, Delta{TokensForLimit: 5, TotalTokens: 1}.Validate(), ErrInvalidDelta)
	assert.ErrorIs(t, Delta{Component: ComponentInfra, Cost: -1}.Validate(), ErrInvalidDelta)
	assert.ErrorIs(t, Delta{Cost: 1}.Validate(), ErrInvalidComponent)
	assert.ErrorIs(t, Delta{Component: "bogus", Cost: 1}.Validate(), ErrInvalidComponent)
}

func TestCostComponentColumns(t *testing.T) {
	for _, c := range CostComponents() {
		col, err := c.Column()
		assert.NoError(t, err)
		assert.Equal(t, string(c), col)
	}
	_, err := CostComponent("total_cost").Column()
	assert.ErrorIs(t, err, ErrInvalidComponent)
}
