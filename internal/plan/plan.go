package plan

import (
	"fmt"
	"strings"

	"github.com/smallbiznis/meterly/pkg/billingerr"
)

// Tier identifies a subscription plan.
type Tier string

const (
	TierFree       Tier = "free"
	TierStarter    Tier = "starter"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Unlimited marks a token limit with no ceiling.
const Unlimited int64 = -1

// Tiers lists every known tier, cheapest first.
func Tiers() []Tier {
	return []Tier{TierFree, TierStarter, TierPro, TierEnterprise}
}

// ParseTier resolves a tier name. Unknown names are configuration errors.
func ParseTier(raw string) (Tier, error) {
	tier := Tier(strings.ToLower(strings.TrimSpace(raw)))
	if !tier.Valid() {
		return "", billingerr.Configuration("unknown plan tier %q", raw)
	}
	return tier, nil
}

func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierStarter, TierPro, TierEnterprise:
		return true
	default:
		return false
	}
}

// IsPaid reports whether the tier carries a monthly fee and may bill overage.
func (t Tier) IsPaid() bool {
	switch t {
	case TierFree:
		return false
	case TierStarter, TierPro, TierEnterprise:
		return true
	default:
		return false
	}
}

func (t Tier) String() string { return string(t) }

// Definition is the static configuration of one tier.
type Definition struct {
	Tier                  Tier    `mapstructure:"tier"`
	MonthlyFee            float64 `mapstructure:"monthlyFee"`
	TokenLimit            int64   `mapstructure:"tokenLimit"`
	OverageRatePerKTokens float64 `mapstructure:"overageRatePerKTokens"`
	TrialOnly             bool    `mapstructure:"trialOnly"`
	RequestsPerMinute     int     `mapstructure:"requestsPerMinute"`
}

func (d Definition) IsUnlimited() bool {
	return d.TokenLimit == Unlimited
}

// Exceeded reports whether tokensUsed has reached the tier's token limit.
func (d Definition) Exceeded(tokensUsed int64) bool {
	return !d.IsUnlimited() && tokensUsed >= d.TokenLimit
}

func (d Definition) validate() error {
	if !d.Tier.Valid() {
		return billingerr.Configuration("unknown plan tier %q", d.Tier)
	}
	if d.TokenLimit < Unlimited {
		return billingerr.Configuration("plan %s: tokenLimit must be -1 or non-negative", d.Tier)
	}
	if d.MonthlyFee < 0 || d.OverageRatePerKTokens < 0 {
		return billingerr.Configuration("plan %s: fees must be non-negative", d.Tier)
	}
	if d.RequestsPerMinute < 0 {
		return billingerr.Configuration("plan %s: requestsPerMinute must be non-negative", d.Tier)
	}
	return nil
}

// DefaultDefinitions returns the built-in plan table.
func DefaultDefinitions() []Definition {
	return []Definition{
		{Tier: TierFree, MonthlyFee: 0, TokenLimit: 50_000, OverageRatePerKTokens: 0, TrialOnly: true, RequestsPerMinute: 20},
		{Tier: TierStarter, MonthlyFee: 49, TokenLimit: 980_000, OverageRatePerKTokens: 0.06, RequestsPerMinute: 60},
		{Tier: TierPro, MonthlyFee: 149, TokenLimit: 3_500_000, OverageRatePerKTokens: 0.05, RequestsPerMinute: 300},
		{Tier: TierEnterprise, MonthlyFee: 499, TokenLimit: Unlimited, OverageRatePerKTokens: 0},
	}
}

// Catalog is the immutable tier table loaded at startup.
type Catalog struct {
	defs map[Tier]Definition
}

// NewCatalog validates defs and requires exactly one definition per tier.
func NewCatalog(defs []Definition) (*Catalog, error) {
	byTier := make(map[Tier]Definition, len(defs))
	for _, def := range defs {
		if err := def.validate(); err != nil {
			return nil, err
		}
		if _, dup := byTier[def.Tier]; dup {
			return nil, billingerr.Configuration("plan %s defined twice", def.Tier)
		}
		byTier[def.Tier] = def
	}
	for _, tier := range Tiers() {
		if _, ok := byTier[tier]; !ok {
			return nil, billingerr.Configuration("plan %s is not defined", tier)
		}
	}
	return &Catalog{defs: byTier}, nil
}

// Lookup returns the definition for tier.
func (c *Catalog) Lookup(tier Tier) (Definition, error) {
	def, ok := c.defs[tier]
	if !ok {
		return Definition{}, fmt.Errorf("lookup plan: %w", billingerr.Configuration("unknown plan tier %q", tier))
	}
	return def, nil
}

// Definitions returns the table in tier order.
func (c *Catalog) Definitions() []Definition {
	out := make([]Definition, 0, len(c.defs))
	for _, tier := range Tiers() {
		out = append(out, c.defs[tier])
	}
	return out
}
