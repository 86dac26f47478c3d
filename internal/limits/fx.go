package limits

import (
	"github.com/smallbiznis/meterly/internal/limits/service"
	"go.uber.org/fx"
)

var Module = fx.Module("limits.service",
	fx.Provide(service.NewService),
)
