package config

import (
	"errors"

	"github.com/smallbiznis/meterly/internal/plan"
	"github.com/smallbiznis/meterly/internal/pricing"
	"github.com/smallbiznis/meterly/pkg/billingerr"
	"github.com/spf13/viper"
)

// Catalog is the static plan table and rate card, fixed for the process lifetime.
type Catalog struct {
	Plans   *plan.Catalog
	Pricing *pricing.Model
}

// LoadCatalog reads plans.yml from the standard locations. Built-in defaults
// apply when no file exists; keys present in the file override them.
func LoadCatalog() (Catalog, error) {
	return loadCatalog("/etc/meterly", ".")
}

func loadCatalog(paths ...string) (Catalog, error) {
	v := viper.New()
	v.SetConfigName("plans")
	v.SetConfigType("yml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	defs := plan.DefaultDefinitions()
	rates := pricing.DefaultRates()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Catalog{}, billingerr.Configuration("read plans config: %v", err)
		}
	} else {
		if v.IsSet("plans") {
			defs = nil
			if err := v.UnmarshalKey("plans", &defs); err != nil {
				return Catalog{}, billingerr.Configuration("decode plans: %v", err)
			}
		}
		if v.IsSet("pricing") {
			if err := v.UnmarshalKey("pricing", &rates); err != nil {
				return Catalog{}, billingerr.Configuration("decode pricing: %v", err)
			}
		}
	}

	plans, err := plan.NewCatalog(defs)
	if err != nil {
		return Catalog{}, err
	}
	model, err := pricing.NewModel(rates)
	if err != nil {
		return Catalog{}, err
	}

	return Catalog{Plans: plans, Pricing: model}, nil
}
