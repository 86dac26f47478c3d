package e2e

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterly/internal/billingoverview"
	billingoverviewdomain "github.com/smallbiznis/meterly/internal/billingoverview/domain"
	"github.com/smallbiznis/meterly/internal/clock"
	"github.com/smallbiznis/meterly/internal/config"
	"github.com/smallbiznis/meterly/internal/ledger"
	ledgerdomain "github.com/smallbiznis/meterly/internal/ledger/domain"
	"github.com/smallbiznis/meterly/internal/limits"
	limitsdomain "github.com/smallbiznis/meterly/internal/limits/domain"
	"github.com/smallbiznis/meterly/internal/migration"
	"github.com/smallbiznis/meterly/internal/observability"
	"github.com/smallbiznis/meterly/internal/plan"
	"github.com/smallbiznis/meterly/internal/ratelimit"
	"github.com/smallbiznis/meterly/internal/scheduler"
	"github.com/smallbiznis/meterly/internal/seed"
	"github.com/smallbiznis/meterly/internal/subscription"
	subscriptiondomain "github.com/smallbiznis/meterly/internal/subscription/domain"
	"github.com/smallbiznis/meterly/internal/usage"
	usagedomain "github.com/smallbiznis/meterly/internal/usage/domain"
	"github.com/smallbiznis/meterly/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type testEnv struct {
	app       *fx.App
	db        *gorm.DB
	clock     *clock.FakeClock
	limits    limitsdomain.Service
	usage     usagedomain.Service
	ledger    ledgerdomain.Service
	subs      subscriptiondomain.Service
	overview  billingoverviewdomain.Service
	scheduler *scheduler.Scheduler
	dir       string
}

var (
	env      *testEnv
	startErr error
)

func TestMain(m *testing.M) {
	setDefaultEnv()

	env, startErr = startEnv()
	if startErr != nil {
		fmt.Fprintln(os.Stderr, "e2e environment unavailable:", startErr)
	}

	code := m.Run()
	env.shutdown()
	os.Exit(code)
}

func requireEnv(t *testing.T) *testEnv {
	t.Helper()
	if testing.Short() {
		t.Skip("e2e skipped in short mode")
	}
	if env == nil {
		t.Skipf("e2e environment unavailable: %v", startErr)
	}
	resetDatabase(t, env.db)
	env.clock.Set(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	return env
}

func TestE2E_AdminSeeded(t *testing.T) {
	e := requireEnv(t)
	ctx := context.Background()

	// tables were reset, so seed again the way startup does
	_, err := e.subs.SetRole(ctx, "ops-admin", subscriptiondomain.RoleAdmin)
	if err != nil {
		t.Fatalf("set role: %v", err)
	}
	decision := e.limits.CheckLimits(ctx, "ops-admin")
	if !decision.Allowed || decision.TokenLimit != plan.Unlimited {
		t.Fatalf("expected admin to be unlimited, got %+v", decision)
	}
}

func TestE2E_FreeTrialLifecycle(t *testing.T) {
	e := requireEnv(t)
	ctx := context.Background()

	decision := e.limits.CheckLimits(ctx, "user-1")
	if !decision.Allowed || decision.Plan != plan.TierFree {
		t.Fatalf("expected first check to start a free trial, got %+v", decision)
	}

	res := e.usage.Record(ctx, usagedomain.RecordRequest{
		UserID:      "user-1",
		Category:    usagedomain.CategoryChat,
		InputUnits:  30_000,
		OutputUnits: 20_000,
		BillingMode: usagedomain.BillingModePlan,
	})
	if !res.Success {
		t.Fatalf("record usage: %v", res.Err)
	}

	decision = e.limits.CheckLimits(ctx, "user-1")
	if decision.Allowed || !decision.RequiresUpgrade {
		t.Fatalf("expected free limit to require an upgrade, got %+v", decision)
	}

	stats, err := e.overview.GetUsageStats(ctx, "user-1")
	if err != nil {
		t.Fatalf("usage stats: %v", err)
	}
	if stats.TokensUsed != 50_000 || stats.TokenLimit != 50_000 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if math.Abs(stats.TotalCost-res.Cost) > 1e-4 {
		t.Fatalf("expected total cost %v, got %v", res.Cost, stats.TotalCost)
	}

	e.clock.Advance(31 * 24 * time.Hour)
	decision = e.limits.CheckLimits(ctx, "user-1")
	if decision.Allowed || !decision.TrialExpired {
		t.Fatalf("expected trial to expire, got %+v", decision)
	}
}

func TestE2E_PaidOverageAndAudit(t *testing.T) {
	e := requireEnv(t)
	ctx := context.Background()

	if _, err := e.subs.ChangePlan(ctx, "user-2", plan.TierStarter); err != nil {
		t.Fatalf("change plan: %v", err)
	}

	for i := 0; i < 10; i++ {
		res := e.usage.Record(ctx, usagedomain.RecordRequest{
			UserID:      "user-2",
			Category:    usagedomain.CategoryTokenGeneration,
			InputUnits:  60_000,
			OutputUnits: 40_000,
			BillingMode: usagedomain.BillingModePlan,
		})
		if !res.Success {
			t.Fatalf("record usage %d: %v", i, res.Err)
		}
	}
	premium := e.usage.Record(ctx, usagedomain.RecordRequest{
		UserID:      "user-2",
		Category:    usagedomain.CategoryChat,
		InputUnits:  1_000,
		OutputUnits: 1_000,
		BillingMode: usagedomain.BillingModePremium,
	})
	if !premium.Success {
		t.Fatalf("record premium usage: %v", premium.Err)
	}
	if res := e.usage.RecordProjectCreated(ctx, "user-2"); !res.Success {
		t.Fatalf("record project: %v", res.Err)
	}

	decision := e.limits.CheckLimits(ctx, "user-2")
	if decision.Allowed || !decision.RequiresPayment {
		t.Fatalf("expected a payment method to be required, got %+v", decision)
	}

	if _, err := e.subs.SetPaymentMethod(ctx, "user-2", true); err != nil {
		t.Fatalf("set payment method: %v", err)
	}
	decision = e.limits.CheckLimits(ctx, "user-2")
	if !decision.Allowed || decision.TokensUsed != 1_000_000 {
		t.Fatalf("expected overage to be allowed, got %+v", decision)
	}

	stats, err := e.overview.GetUsageStats(ctx, "user-2")
	if err != nil {
		t.Fatalf("usage stats: %v", err)
	}
	if stats.ProjectsThisMonth != 1 || stats.Overage <= 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	page, err := e.usage.List(ctx, usagedomain.ListUsageRequest{UserID: "user-2", PageSize: 5})
	if err != nil {
		t.Fatalf("list usage: %v", err)
	}
	if len(page.UsageEvents) != 5 || !page.PageInfo.HasMore {
		t.Fatalf("expected a first page of 5 events, got %d (more=%v)", len(page.UsageEvents), page.PageInfo.HasMore)
	}

	if err := e.scheduler.RunOnce(ctx); err != nil {
		t.Fatalf("scheduler run: %v", err)
	}
}

func startEnv() (*testEnv, error) {
	dir, err := os.MkdirTemp("", "meterly-e2e-")
	if err != nil {
		return nil, err
	}
	setEnvIfEmpty("DATABASE_PATH", filepath.Join(dir, "meterly.db"))

	fake := clock.NewFakeClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	e := &testEnv{clock: fake, dir: dir}

	app := fx.New(
		fx.NopLogger,
		config.Module,
		observability.Module,
		fx.Provide(func(cfg config.Config) (*snowflake.Node, error) {
			return snowflake.NewNode(cfg.NodeID)
		}),
		db.Module,
		clock.Module,
		migration.Module,
		subscription.Module,
		ledger.Module,
		usage.Module,
		ratelimit.Module,
		limits.Module,
		billingoverview.Module,
		seed.Module,
		scheduler.Module,

		fx.Decorate(func(clock.Clock) clock.Clock { return fake }),
		fx.Populate(
			&e.db,
			&e.limits,
			&e.usage,
			&e.ledger,
			&e.subs,
			&e.overview,
			&e.scheduler,
		),
	)
	e.app = app

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	return e, nil
}

func (e *testEnv) shutdown() {
	if e == nil {
		return
	}
	if e.app != nil {
		_ = e.app.Stop(context.Background())
	}
	_ = os.RemoveAll(e.dir)
}

func setDefaultEnv() {
	setEnvIfEmpty("ENVIRONMENT", "test")
	setEnvIfEmpty("LOG_LEVEL", "error")
	setEnvIfEmpty("DATABASE_TYPE", db.TypeSQLite)
	setEnvIfEmpty("DATABASE_MAX_OPEN_CONN", "1")
	setEnvIfEmpty("SUBSCRIPTION_CACHE_SIZE", "0")
	setEnvIfEmpty("SCHEDULER_ENABLED", "false")
	setEnvIfEmpty("ADMIN_USER_IDS", "ops-admin")
}

func setEnvIfEmpty(key, value string) {
	if strings.TrimSpace(os.Getenv(key)) != "" {
		return
	}
	_ = os.Setenv(key, value)
}

func resetDatabase(t *testing.T, dbConn *gorm.DB) {
	t.Helper()
	for _, table := range []string{"usage_events", "monthly_ledgers", "subscriptions"} {
		if err := dbConn.Exec("DELETE FROM " + table).Error; err != nil {
			t.Fatalf("reset %s: %v", table, err)
		}
	}
}
