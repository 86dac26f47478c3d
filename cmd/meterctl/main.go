package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterly/internal/billingoverview"
	"github.com/smallbiznis/meterly/internal/clock"
	"github.com/smallbiznis/meterly/internal/config"
	"github.com/smallbiznis/meterly/internal/ledger"
	"github.com/smallbiznis/meterly/internal/limits"
	"github.com/smallbiznis/meterly/internal/migration"
	"github.com/smallbiznis/meterly/internal/observability"
	"github.com/smallbiznis/meterly/internal/observability/logger"
	"github.com/smallbiznis/meterly/internal/ratelimit"
	"github.com/smallbiznis/meterly/internal/subscription"
	"github.com/smallbiznis/meterly/internal/usage"
	"github.com/smallbiznis/meterly/pkg/db"
	"go.uber.org/fx"
)

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		printUsage(os.Stderr)
		os.Exit(2)
	}

	var svc services
	app := fx.New(
		fx.NopLogger,
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

		// stdout is reserved for command output
		fx.Decorate(func(cfg logger.Config) logger.Config {
			cfg.Output = "stderr"
			return cfg
		}),
		fx.Populate(&svc),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		fmt.Fprintf(os.Stderr, "meterctl: %v\n", err)
		os.Exit(1)
	}

	err := cmd.run(context.Background(), svc, os.Args[2:], os.Stdout)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	_ = app.Stop(stopCtx)

	if err != nil {
		fmt.Fprintf(os.Stderr, "meterctl %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
