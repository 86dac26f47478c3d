package subscription

import (
	"time"

	"github.com/smallbiznis/meterly/internal/cache"
	"github.com/smallbiznis/meterly/internal/config"
	ledgerdomain "github.com/smallbiznis/meterly/internal/ledger/domain"
	subscriptiondomain "github.com/smallbiznis/meterly/internal/subscription/domain"
	"github.com/smallbiznis/meterly/internal/subscription/repository"
	"github.com/smallbiznis/meterly/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(provideCache),
	fx.Provide(service.NewService),
	fx.Provide(providePlanResolver),
)

func provideCache(cfg config.Config) cache.SubscriptionCache {
	if cfg.SubscriptionCacheSize <= 0 {
		return nil
	}
	return cache.NewSubscriptionCache(cfg.SubscriptionCacheSize, time.Duration(cfg.SubscriptionCacheTTL)*time.Second)
}

func providePlanResolver(svc subscriptiondomain.Service) ledgerdomain.PlanResolver {
	return svc
}
