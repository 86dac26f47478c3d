package config

import (
	"github.com/smallbiznis/meterly/internal/plan"
	"github.com/smallbiznis/meterly/internal/pricing"
	"github.com/smallbiznis/meterly/pkg/db"
	"go.uber.org/fx"
)

type catalogResult struct {
	fx.Out

	Plans   *plan.Catalog
	Pricing *pricing.Model
}

func provideCatalog() (catalogResult, error) {
	catalog, err := LoadCatalog()
	if err != nil {
		return catalogResult{}, err
	}
	return catalogResult{Plans: catalog.Plans, Pricing: catalog.Pricing}, nil
}

func provideDatabaseConfig(cfg Config) db.Config {
	return cfg.Database
}

var Module = fx.Module("config",
	fx.Provide(
		Load,
		provideDatabaseConfig,
		provideCatalog,
	),
)
