package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/meterly/pkg/billingerr"
)

// ErrInvalidQuantity is returned for negative unit counts.
var ErrInvalidQuantity = errors.New("invalid_quantity")

// costPlaces is the precision every charge is rounded to.
const costPlaces = 4

// Variant names a model pricing variant.
type Variant string

// TokenRate is priced per one million tokens.
type TokenRate struct {
	InputPerMillion  float64 `mapstructure:"inputPerMillion"`
	OutputPerMillion float64 `mapstructure:"outputPerMillion"`
}

// Rates is the static rate card.
type Rates struct {
	Models                map[Variant]TokenRate `mapstructure:"models"`
	DefaultPlanVariant    Variant               `mapstructure:"defaultPlanVariant"`
	DefaultPremiumVariant Variant               `mapstructure:"defaultPremiumVariant"`
	StoragePerByte        float64               `mapstructure:"storagePerByte"`
	DeploymentPerVisit    float64               `mapstructure:"deploymentPerVisit"`
	ComputePerMillisecond float64               `mapstructure:"computePerMillisecond"`
	DataTransferPerByte   float64               `mapstructure:"dataTransferPerByte"`
}

// DefaultRates returns the built-in rate card.
func DefaultRates() Rates {
	return Rates{
		Models: map[Variant]TokenRate{
			"standard": {InputPerMillion: 0.40, OutputPerMillion: 1.60},
			"mini":     {InputPerMillion: 0.15, OutputPerMillion: 0.60},
			"premium":  {InputPerMillion: 3.00, OutputPerMillion: 15.00},
		},
		DefaultPlanVariant:    "standard",
		DefaultPremiumVariant: "premium",
		StoragePerByte:        0.000000000023,
		DeploymentPerVisit:    0.00002,
		ComputePerMillisecond: 0.0000000166,
		DataTransferPerByte:   0.00000000009,
	}
}

func (r Rates) Validate() error {
	if len(r.Models) == 0 {
		return billingerr.Configuration("pricing: no model variants")
	}
	for variant, rate := range r.Models {
		if strings.TrimSpace(string(variant)) == "" {
			return billingerr.Configuration("pricing: empty variant name")
		}
		if rate.InputPerMillion < 0 || rate.OutputPerMillion < 0 {
			return billingerr.Configuration("pricing: variant %s has a negative rate", variant)
		}
	}
	for _, v := range []Variant{r.DefaultPlanVariant, r.DefaultPremiumVariant} {
		if _, ok := r.Models[v]; !ok {
			return billingerr.Configuration("pricing: default variant %q is not priced", v)
		}
	}
	if r.StoragePerByte < 0 || r.DeploymentPerVisit < 0 || r.ComputePerMillisecond < 0 || r.DataTransferPerByte < 0 {
		return billingerr.Configuration("pricing: unit rates must be non-negative")
	}
	return nil
}

// Model turns unit counts into USD amounts. It holds no mutable state.
type Model struct {
	rates Rates
}

func NewModel(rates Rates) (*Model, error) {
	if err := rates.Validate(); err != nil {
		return nil, err
	}
	models := make(map[Variant]TokenRate, len(rates.Models))
	for k, v := range rates.Models {
		models[k] = v
	}
	rates.Models = models
	return &Model{rates: rates}, nil
}

// ResolveVariant picks the variant to price with. An empty request falls
// back to the default for the billing path.
func (m *Model) ResolveVariant(requested Variant, premium bool) Variant {
	if strings.TrimSpace(string(requested)) != "" {
		return requested
	}
	if premium {
		return m.rates.DefaultPremiumVariant
	}
	return m.rates.DefaultPlanVariant
}

// TokenCost prices a model call. The sum is rounded once.
func (m *Model) TokenCost(inputTokens, outputTokens int64, variant Variant) (float64, error) {
	if inputTokens < 0 || outputTokens < 0 {
		return 0, fmt.Errorf("%w: tokens in=%d out=%d", ErrInvalidQuantity, inputTokens, outputTokens)
	}
	rate, ok := m.rates.Models[variant]
	if !ok {
		return 0, billingerr.Configuration("unknown pricing variant %q", variant)
	}

	input := decimal.NewFromInt(inputTokens).Shift(-6).Mul(decimal.NewFromFloat(rate.InputPerMillion))
	output := decimal.NewFromInt(outputTokens).Shift(-6).Mul(decimal.NewFromFloat(rate.OutputPerMillion))
	return round(input.Add(output)), nil
}

func (m *Model) StorageCost(bytes int64) (float64, error) {
	return unitCost("storage bytes", bytes, m.rates.StoragePerByte)
}

func (m *Model) DeploymentCost(visits int64) (float64, error) {
	return unitCost("deployment visits", visits, m.rates.DeploymentPerVisit)
}

func (m *Model) ComputeCost(milliseconds int64) (float64, error) {
	return unitCost("compute milliseconds", milliseconds, m.rates.ComputePerMillisecond)
}

func (m *Model) DataTransferCost(bytes int64) (float64, error) {
	return unitCost("transfer bytes", bytes, m.rates.DataTransferPerByte)
}

func unitCost(unit string, quantity int64, rate float64) (float64, error) {
	if quantity < 0 {
		return 0, fmt.Errorf("%w: %s=%d", ErrInvalidQuantity, unit, quantity)
	}
	return round(decimal.NewFromInt(quantity).Mul(decimal.NewFromFloat(rate))), nil
}

// Round applies the ledger rounding rule: 4 places, half away from zero.
func Round(amount float64) float64 {
	return round(decimal.NewFromFloat(amount))
}

func round(d decimal.Decimal) float64 {
	return d.Round(costPlaces).InexactFloat64()
}
