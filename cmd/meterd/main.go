package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterly/internal/billingoverview"
	"github.com/smallbiznis/meterly/internal/clock"
	"github.com/smallbiznis/meterly/internal/config"
	"github.com/smallbiznis/meterly/internal/ledger"
	"github.com/smallbiznis/meterly/internal/limits"
	"github.com/smallbiznis/meterly/internal/migration"
	"github.com/smallbiznis/meterly/internal/observability"
	"github.com/smallbiznis/meterly/internal/ratelimit"
	"github.com/smallbiznis/meterly/internal/scheduler"
	"github.com/smallbiznis/meterly/internal/seed"
	"github.com/smallbiznis/meterly/internal/subscription"
	"github.com/smallbiznis/meterly/internal/usage"
	"github.com/smallbiznis/meterly/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
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

		// ledger audits run in the background for the life of the process
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
