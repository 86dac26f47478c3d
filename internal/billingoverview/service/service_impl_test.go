package service

import (
	"context"
	"testing"
	"time"

	billingoverview "github.com/smallbiznis/meterly/internal/billingoverview/domain"
	"github.com/smallbiznis/meterly/internal/clock"
	"github.com/smallbiznis/meterly/internal/config"
	"github.com/smallbiznis/meterly/internal/dbtest"
	ledgerdomain "github.com/smallbiznis/meterly/internal/ledger/domain"
	ledgerrepository "github.com/smallbiznis/meterly/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/meterly/internal/ledger/service"
	limitsservice "github.com/smallbiznis/meterly/internal/limits/service"
	"github.com/smallbiznis/meterly/internal/plan"
	subscriptiondomain "github.com/smallbiznis/meterly/internal/subscription/domain"
	subscriptionrepository "github.com/smallbiznis/meterly/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/meterly/internal/subscription/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupOverview(t *testing.T) (billingoverview.Service, subscriptiondomain.Service, ledgerdomain.Service, *clock.FakeClock) {
	t.Helper()

	db := dbtest.Open(t)
	node := dbtest.MustNode(t)
	clk := clock.NewFakeClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	catalog, err := plan.NewCatalog(plan.DefaultDefinitions())
	require.NoError(t, err)

	subs := subscriptionservice.NewService(subscriptionservice.ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Cfg:   config.Config{},
		Repo:  subscriptionrepository.Provide(),
		Plans: catalog,
	})
	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  ledgerrepository.Provide(),
		Plans: subs,
	})
	svc := NewService(Params{
		Log:           zap.NewNop(),
		Clock:         clk,
		Subscriptions: subs,
		Ledger:        ledger,
	})
	return svc, subs, ledger, clk
}

func TestGetUsageStatsWithoutUsage(t *testing.T) {
	svc, subs, ledger, _ := setupOverview(t)
	ctx := context.Background()

	stats, err := svc.GetUsageStats(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, billingoverview.UsageStats{
		Plan:       plan.TierFree,
		PeriodKey:  "2025-03",
		TokenLimit: 50_000,
	}, stats)

	_, err = subs.Get(ctx, "user-1")
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)
	_, err = ledger.Find(ctx, "user-1", "2025-03")
	assert.ErrorIs(t, err, ledgerdomain.ErrLedgerNotFound)
}

func TestGetUsageStatsCurrentPeriod(t *testing.T) {
	svc, subs, ledger, _ := setupOverview(t)
	ctx := context.Background()

	_, err := subs.ChangePlan(ctx, "user-1", plan.TierStarter)
	require.NoError(t, err)
	_, err = ledger.ApplyDelta(ctx, "user-1", "2025-03", ledgerdomain.Delta{
		TokensForLimit: 1_000_000,
		TotalTokens:    1_000_000,
		Component:      ledgerdomain.ComponentPlanAI,
		Cost:           1.0,
	})
	require.NoError(t, err)
	_, err = ledger.ApplyDelta(ctx, "user-1", "2025-03", ledgerdomain.Delta{
		Component: ledgerdomain.ComponentInfra,
		Cost:      8.5,
	})
	require.NoError(t, err)
	_, err = ledger.ApplyDelta(ctx, "user-1", "2025-03", ledgerdomain.Delta{Projects: 2})
	require.NoError(t, err)

	// other periods do not leak into the current view
	_, err = ledger.ApplyDelta(ctx, "user-1", "2025-02", ledgerdomain.Delta{
		TokensForLimit: 10,
		TotalTokens:    10,
		Component:      ledgerdomain.ComponentPlanAI,
		Cost:           0.5,
	})
	require.NoError(t, err)

	stats, err := svc.GetUsageStats(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, plan.TierStarter, stats.Plan)
	assert.EqualValues(t, 1_000_000, stats.TokensUsed)
	assert.EqualValues(t, 980_000, stats.TokenLimit)
	assert.InDelta(t, 9.5, stats.TotalCost, 1e-4)
	assert.InDelta(t, 1.2, stats.Overage, 1e-4)
	assert.EqualValues(t, 2, stats.ProjectsThisMonth)
}

func TestGetUsageStatsAdminMatchesLimitDecision(t *testing.T) {
	svc, subs, ledger, clk := setupOverview(t)
	ctx := context.Background()

	_, err := subs.SetRole(ctx, "admin-1", subscriptiondomain.RoleAdmin)
	require.NoError(t, err)
	_, err = ledger.ApplyDelta(ctx, "admin-1", "2025-03", ledgerdomain.Delta{
		TokensForLimit: 80_000,
		TotalTokens:    80_000,
		Component:      ledgerdomain.ComponentPlanAI,
		Cost:           0.08,
	})
	require.NoError(t, err)

	catalog, err := plan.NewCatalog(plan.DefaultDefinitions())
	require.NoError(t, err)
	limits := limitsservice.NewService(limitsservice.ServiceParam{
		Log:           zap.NewNop(),
		Clock:         clk,
		Plans:         catalog,
		Subscriptions: subs,
		Ledger:        ledger,
	})

	stats, err := svc.GetUsageStats(ctx, "admin-1")
	require.NoError(t, err)
	decision := limits.CheckLimits(ctx, "admin-1")

	require.True(t, decision.Allowed)
	assert.Equal(t, plan.Unlimited, stats.TokenLimit)
	assert.Equal(t, decision.TokenLimit, stats.TokenLimit)
	assert.EqualValues(t, 80_000, stats.TokensUsed)
}

func TestGetUsageTrend(t *testing.T) {
	svc, _, ledger, _ := setupOverview(t)
	ctx := context.Background()

	apply := func(period string, tokens int64, cost float64) {
		_, err := ledger.ApplyDelta(ctx, "user-1", period, ledgerdomain.Delta{
			TokensForLimit: tokens,
			TotalTokens:    tokens,
			Component:      ledgerdomain.ComponentPlanAI,
			Cost:           cost,
		})
		require.NoError(t, err)
	}
	apply("2025-01", 100, 1)
	apply("2025-02", 200, 2)
	apply("2025-03", 300, 2.5)

	trend, err := svc.GetUsageTrend(ctx, "user-1", 2)
	require.NoError(t, err)
	require.Len(t, trend.Series, 2)
	assert.True(t, trend.HasData)
	assert.Equal(t, "2025-02", trend.Series[0].Period)
	assert.Equal(t, "2025-03", trend.Series[1].Period)

	require.NotNil(t, trend.TokenGrowth)
	assert.EqualValues(t, 100, *trend.TokenGrowth)
	require.NotNil(t, trend.TokenGrowthRate)
	assert.InDelta(t, 0.5, *trend.TokenGrowthRate, 1e-9)
	require.NotNil(t, trend.CostGrowth)
	assert.InDelta(t, 0.5, *trend.CostGrowth, 1e-4)
	require.NotNil(t, trend.CostGrowthRate)
	assert.InDelta(t, 0.25, *trend.CostGrowthRate, 1e-4)
}

func TestGetUsageTrendEmpty(t *testing.T) {
	svc, _, _, _ := setupOverview(t)

	trend, err := svc.GetUsageTrend(context.Background(), "user-1", 0)
	require.NoError(t, err)
	assert.False(t, trend.HasData)
	assert.Empty(t, trend.Series)
	assert.Nil(t, trend.TokenGrowth)
}

func TestInvalidUser(t *testing.T) {
	svc, _, _, _ := setupOverview(t)

	_, err := svc.GetUsageStats(context.Background(), " ")
	assert.ErrorIs(t, err, billingoverview.ErrInvalidUser)
	_, err = svc.GetUsageTrend(context.Background(), "", 3)
	assert.ErrorIs(t, err, billingoverview.ErrInvalidUser)
}
