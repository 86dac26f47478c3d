package ratelimit

import (
	"context"

	"github.com/smallbiznis/meterly/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("rate.limit",
	fx.Provide(provideRequestLimiter),
)

func provideRequestLimiter(lc fx.Lifecycle, cfg config.Config) (*RequestLimiter, error) {
	limiter, err := NewRequestLimiter(cfg)
	if err != nil || limiter == nil {
		return limiter, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return limiter.Close()
		},
	})
	return limiter, nil
}
