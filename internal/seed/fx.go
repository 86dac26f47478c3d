package seed

import (
	"context"

	"github.com/smallbiznis/meterly/internal/config"
	subscriptiondomain "github.com/smallbiznis/meterly/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("seed",
	fx.Invoke(registerAdminSeed),
)

func registerAdminSeed(lc fx.Lifecycle, cfg config.Config, subs subscriptiondomain.Service, log *zap.Logger) {
	if len(cfg.AdminUserIDs) == 0 {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return EnsureAdmins(ctx, subs, log.Named("seed"), cfg.AdminUserIDs)
		},
	})
}
