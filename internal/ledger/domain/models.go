package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/meterly/internal/plan"
	"github.com/smallbiznis/meterly/pkg/billingerr"
)

// CostComponent names one of the five independently accumulated cost columns.
type CostComponent string

const (
	ComponentPlanAI     CostComponent = "plan_ai_cost"
	ComponentPremiumAI  CostComponent = "premium_ai_cost"
	ComponentStorage    CostComponent = "storage_cost"
	ComponentDeployment CostComponent = "deployment_cost"
	ComponentInfra      CostComponent = "infra_cost"
)

// CostComponents lists every component summed into TotalCost.
func CostComponents() []CostComponent {
	return []CostComponent{
		ComponentPlanAI,
		ComponentPremiumAI,
		ComponentStorage,
		ComponentDeployment,
		ComponentInfra,
	}
}

// Column returns the ledger column the component accumulates into.
func (c CostComponent) Column() (string, error) {
	switch c {
	case ComponentPlanAI, ComponentPremiumAI, ComponentStorage, ComponentDeployment, ComponentInfra:
		return string(c), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidComponent, string(c))
	}
}

// invariantTolerance is the allowed drift between TotalCost and its components.
const invariantTolerance = 1e-4

// Record is the per-user, per-month usage aggregate.
type Record struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	UserID         string       `gorm:"type:varchar(191);not null;uniqueIndex:ux_monthly_ledgers_user_period,priority:1"`
	PeriodKey      string       `gorm:"type:varchar(7);not null;uniqueIndex:ux_monthly_ledgers_user_period,priority:2"`
	TokensUsed     int64        `gorm:"not null;default:0"`
	TotalTokens    int64        `gorm:"not null;default:0"`
	PlanAICost     float64      `gorm:"column:plan_ai_cost;type:decimal(20,4);not null;default:0"`
	PremiumAICost  float64      `gorm:"column:premium_ai_cost;type:decimal(20,4);not null;default:0"`
	StorageCost    float64      `gorm:"type:decimal(20,4);not null;default:0"`
	DeploymentCost float64      `gorm:"type:decimal(20,4);not null;default:0"`
	InfraCost      float64      `gorm:"type:decimal(20,4);not null;default:0"`
	TotalCost      float64      `gorm:"type:decimal(20,4);not null;default:0"`
	// The plan terms pinned when the period was opened. An empty
	// PlanTierAtPeriod marks a row that has not been pinned yet.
	PlanTierAtPeriod    string    `gorm:"type:varchar(32);not null;default:''"`
	PlanLimitAtPeriod   int64     `gorm:"not null;default:0"`
	OverageRateAtPeriod float64   `gorm:"type:decimal(20,6);not null;default:0"`
	Overage             float64   `gorm:"type:decimal(20,4);not null;default:0"`
	ProjectsCount       int64     `gorm:"not null;default:0"`
	Version             int64     `gorm:"not null;default:0"`
	CreatedAt           time.Time `gorm:"not null"`
	UpdatedAt           time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (Record) TableName() string { return "monthly_ledgers" }

// SumComponents adds the five cost columns with ledger rounding.
func (r Record) SumComponents() float64 {
	sum := decimal.Zero
	for _, c := range CostComponents() {
		sum = sum.Add(decimal.NewFromFloat(r.Component(c)))
	}
	return sum.Round(4).InexactFloat64()
}

// Component reads a single cost column.
func (r Record) Component(c CostComponent) float64 {
	switch c {
	case ComponentPlanAI:
		return r.PlanAICost
	case ComponentPremiumAI:
		return r.PremiumAICost
	case ComponentStorage:
		return r.StorageCost
	case ComponentDeployment:
		return r.DeploymentCost
	case ComponentInfra:
		return r.InfraCost
	default:
		return 0
	}
}

// CheckInvariant reports ErrInvariantViolation when TotalCost drifted from
// the sum of its components.
func (r Record) CheckInvariant() error {
	if diff := math.Abs(r.TotalCost - r.SumComponents()); diff > invariantTolerance {
		return fmt.Errorf("%w: ledger %s/%s total %.4f, components %.4f",
			billingerr.ErrInvariantViolation, r.UserID, r.PeriodKey, r.TotalCost, r.SumComponents())
	}
	return nil
}

// PinPlan records the plan terms the period is billed under. It reports
// false and leaves the row alone when terms were already pinned.
func (r *Record) PinPlan(def plan.Definition) bool {
	if r.PlanTierAtPeriod != "" {
		return false
	}
	r.PlanTierAtPeriod = string(def.Tier)
	r.PlanLimitAtPeriod = def.TokenLimit
	r.OverageRateAtPeriod = def.OverageRatePerKTokens
	return true
}

// PinnedPlan rebuilds the billing terms stored on the row.
func (r Record) PinnedPlan() plan.Definition {
	return plan.Definition{
		Tier:                  plan.Tier(r.PlanTierAtPeriod),
		TokenLimit:            r.PlanLimitAtPeriod,
		OverageRatePerKTokens: r.OverageRateAtPeriod,
	}
}

// ComputeOverage returns accumulated premium spend plus plan tokens billed
// past the tier limit.
func ComputeOverage(r Record, def plan.Definition) float64 {
	overage := decimal.NewFromFloat(r.PremiumAICost)
	if !def.IsUnlimited() && r.TokensUsed > def.TokenLimit {
		excess := decimal.NewFromInt(r.TokensUsed - def.TokenLimit)
		overage = overage.Add(excess.Div(decimal.NewFromInt(1000)).Mul(decimal.NewFromFloat(def.OverageRatePerKTokens)))
	}
	return overage.Round(4).InexactFloat64()
}

// PeriodKey formats the calendar month of t in UTC, e.g. 2025-03.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// ValidPeriodKey reports whether key is a YYYY-MM month.
func ValidPeriodKey(key string) bool {
	if len(key) != 7 {
		return false
	}
	_, err := time.Parse("2006-01", key)
	return err == nil
}

// Delta is one change applied to a ledger row.
type Delta struct {
	// TokensForLimit counts against the plan limit (plan-mode usage only).
	TokensForLimit int64
	TotalTokens    int64
	Component      CostComponent
	Cost           float64
	Projects       int64
}

func (d Delta) Validate() error {
	if d.TokensForLimit < 0 || d.TotalTokens < 0 || d.Projects < 0 {
		return ErrInvalidDelta
	}
	if d.TokensForLimit > d.TotalTokens {
		return ErrInvalidDelta
	}
	if math.IsNaN(d.Cost) || math.IsInf(d.Cost, 0) || d.Cost < 0 {
		return ErrInvalidDelta
	}
	if d.Component == "" {
		if d.Cost != 0 {
			return ErrInvalidComponent
		}
		return nil
	}
	_, err := d.Component.Column()
	return err
}
