package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/meterly/internal/clock"
	"github.com/smallbiznis/meterly/internal/config"
	"github.com/smallbiznis/meterly/internal/dbtest"
	ledgerdomain "github.com/smallbiznis/meterly/internal/ledger/domain"
	ledgerrepository "github.com/smallbiznis/meterly/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/meterly/internal/ledger/service"
	limitsdomain "github.com/smallbiznis/meterly/internal/limits/domain"
	"github.com/smallbiznis/meterly/internal/plan"
	"github.com/smallbiznis/meterly/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/meterly/internal/subscription/domain"
	subscriptionrepository "github.com/smallbiznis/meterly/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/meterly/internal/subscription/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	limits limitsdomain.Service
	subs   subscriptiondomain.Service
	ledger ledgerdomain.Service
	db     *gorm.DB
	clock  *clock.FakeClock
}

func setupLimits(t *testing.T, limiter *ratelimit.RequestLimiter) *fixture {
	t.Helper()

	db := dbtest.Open(t)
	node := dbtest.MustNode(t)
	clk := clock.NewFakeClock(testNow)
	catalog, err := plan.NewCatalog(plan.DefaultDefinitions())
	require.NoError(t, err)
	log := zap.NewNop()

	subs := subscriptionservice.NewService(subscriptionservice.ServiceParam{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Cfg:   config.Config{TrialDays: 30},
		Repo:  subscriptionrepository.Provide(),
		Plans: catalog,
	})
	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  ledgerrepository.Provide(),
		Plans: subs,
	})
	limits := NewService(ServiceParam{
		Log:           log,
		Clock:         clk,
		Plans:         catalog,
		Subscriptions: subs,
		Ledger:        ledger,
		Limiter:       limiter,
	})

	return &fixture{limits: limits, subs: subs, ledger: ledger, db: db, clock: clk}
}

func (f *fixture) useTokens(t *testing.T, userID string, tokens int64) {
	t.Helper()
	_, err := f.ledger.ApplyDelta(context.Background(), userID, ledgerdomain.PeriodKey(f.clock.Now()), ledgerdomain.Delta{
		TokensForLimit: tokens,
		TotalTokens:    tokens,
		Component:      ledgerdomain.ComponentPlanAI,
		Cost:           0.01,
	})
	require.NoError(t, err)
}

func TestFirstCheckCreatesTrialSubscription(t *testing.T) {
	f := setupLimits(t, nil)
	ctx := context.Background()

	decision := f.limits.CheckLimits(ctx, "user-1")
	assert.True(t, decision.Allowed)
	assert.Equal(t, plan.TierFree, decision.Plan)
	assert.EqualValues(t, 0, decision.TokensUsed)
	assert.EqualValues(t, 50_000, decision.TokenLimit)

	sub, err := f.subs.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, plan.TierFree, sub.Plan)

	_, err = f.ledger.Find(ctx, "user-1", "2025-03")
	assert.ErrorIs(t, err, ledgerdomain.ErrLedgerNotFound)
}

func TestTrialExpiry(t *testing.T) {
	f := setupLimits(t, nil)
	ctx := context.Background()

	require.True(t, f.limits.CheckLimits(ctx, "user-1").Allowed)

	f.clock.Advance(31 * 24 * time.Hour)
	decision := f.limits.CheckLimits(ctx, "user-1")
	assert.False(t, decision.Allowed)
	assert.True(t, decision.TrialExpired)
	assert.True(t, decision.RequiresUpgrade)
	assert.Equal(t, limitsdomain.ReasonTrialExpired, decision.Reason)
}

func TestAdminBypassesLimits(t *testing.T) {
	f := setupLimits(t, nil)
	ctx := context.Background()

	_, err := f.subs.SetRole(ctx, "admin-1", subscriptiondomain.RoleAdmin)
	require.NoError(t, err)
	f.useTokens(t, "admin-1", 1_000_000)
	f.clock.Advance(60 * 24 * time.Hour)

	decision := f.limits.CheckLimits(ctx, "admin-1")
	assert.True(t, decision.Allowed)
	assert.EqualValues(t, 0, decision.TokensUsed)
	assert.Equal(t, plan.Unlimited, decision.TokenLimit)
}

func TestFreeTierLimitRequiresUpgrade(t *testing.T) {
	f := setupLimits(t, nil)
	ctx := context.Background()

	_, _, err := f.subs.EnsureDefault(ctx, "user-1")
	require.NoError(t, err)
	f.useTokens(t, "user-1", 49_999)
	require.True(t, f.limits.CheckLimits(ctx, "user-1").Allowed)

	f.useTokens(t, "user-1", 1)
	decision := f.limits.CheckLimits(ctx, "user-1")
	assert.False(t, decision.Allowed)
	assert.True(t, decision.RequiresUpgrade)
	assert.False(t, decision.RequiresPayment)
	assert.EqualValues(t, 50_000, decision.TokensUsed)
	assert.Equal(t, limitsdomain.ReasonLimitReached, decision.Reason)
}

func TestPaidTierOverLimit(t *testing.T) {
	f := setupLimits(t, nil)
	ctx := context.Background()

	_, err := f.subs.ChangePlan(ctx, "user-1", plan.TierStarter)
	require.NoError(t, err)
	f.useTokens(t, "user-1", 1_000_000)

	decision := f.limits.CheckLimits(ctx, "user-1")
	assert.False(t, decision.Allowed)
	assert.True(t, decision.RequiresPayment)
	assert.False(t, decision.RequiresUpgrade)
	assert.Equal(t, limitsdomain.ReasonPaymentMissing, decision.Reason)

	_, err = f.subs.SetPaymentMethod(ctx, "user-1", true)
	require.NoError(t, err)

	decision = f.limits.CheckLimits(ctx, "user-1")
	assert.True(t, decision.Allowed)
	assert.Equal(t, limitsdomain.ReasonOverage, decision.Reason)
	assert.EqualValues(t, 1_000_000, decision.TokensUsed)
	assert.EqualValues(t, 980_000, decision.TokenLimit)
}

func TestPaidTierIgnoresTrialEnd(t *testing.T) {
	f := setupLimits(t, nil)
	ctx := context.Background()

	_, err := f.subs.ChangePlan(ctx, "user-1", plan.TierPro)
	require.NoError(t, err)
	f.clock.Advance(90 * 24 * time.Hour)

	decision := f.limits.CheckLimits(ctx, "user-1")
	assert.True(t, decision.Allowed)
	assert.False(t, decision.TrialExpired)
}

func TestUsageResetsInNewPeriod(t *testing.T) {
	f := setupLimits(t, nil)
	ctx := context.Background()

	_, err := f.subs.ChangePlan(ctx, "user-1", plan.TierStarter)
	require.NoError(t, err)
	f.useTokens(t, "user-1", 1_000_000)
	require.False(t, f.limits.CheckLimits(ctx, "user-1").Allowed)

	f.clock.Set(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	decision := f.limits.CheckLimits(ctx, "user-1")
	assert.True(t, decision.Allowed)
	assert.EqualValues(t, 0, decision.TokensUsed)
}

func TestStoreFailureFailsClosed(t *testing.T) {
	f := setupLimits(t, nil)
	require.NoError(t, f.db.Exec(`DROP TABLE subscriptions`).Error)

	decision := f.limits.CheckLimits(context.Background(), "user-1")
	assert.False(t, decision.Allowed)
	assert.Equal(t, limitsdomain.ReasonUnverified, decision.Reason)
}

func TestLedgerFailureFailsClosed(t *testing.T) {
	f := setupLimits(t, nil)
	ctx := context.Background()

	_, _, err := f.subs.EnsureDefault(ctx, "user-1")
	require.NoError(t, err)
	require.NoError(t, f.db.Exec(`DROP TABLE monthly_ledgers`).Error)

	decision := f.limits.CheckLimits(ctx, "user-1")
	assert.False(t, decision.Allowed)
	assert.Equal(t, limitsdomain.ReasonUnverified, decision.Reason)
}

func TestEmptyUserFailsClosed(t *testing.T) {
	f := setupLimits(t, nil)

	decision := f.limits.CheckLimits(context.Background(), " ")
	assert.False(t, decision.Allowed)
	assert.Equal(t, limitsdomain.ReasonUnverified, decision.Reason)
}

func newLimiter(t *testing.T) (*ratelimit.RequestLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return ratelimit.NewRequestLimiterWithClient(client), mr
}

func TestRequestRateLimit(t *testing.T) {
	limiter, _ := newLimiter(t)
	f := setupLimits(t, limiter)
	ctx := context.Background()

	// free tier allows 20 requests per minute
	for i := 0; i < 20; i++ {
		require.True(t, f.limits.CheckLimits(ctx, "user-1").Allowed, "request %d", i)
	}

	decision := f.limits.CheckLimits(ctx, "user-1")
	assert.False(t, decision.Allowed)
	assert.True(t, decision.RateLimited)
	assert.Equal(t, limitsdomain.ReasonRateLimited, decision.Reason)

	assert.True(t, f.limits.CheckLimits(ctx, "user-2").Allowed)
}

func TestRateLimiterOutageFailsClosed(t *testing.T) {
	limiter, mr := newLimiter(t)
	f := setupLimits(t, limiter)
	mr.Close()

	decision := f.limits.CheckLimits(context.Background(), "user-1")
	assert.False(t, decision.Allowed)
	assert.Equal(t, limitsdomain.ReasonUnverified, decision.Reason)
}
