package domain

import (
	"context"

	"github.com/smallbiznis/meterly/internal/plan"
)

const (
	ReasonUnverified     = "unable to verify usage limits"
	ReasonTrialExpired   = "free trial has expired, upgrade to continue"
	ReasonLimitReached   = "monthly token limit reached, upgrade to continue"
	ReasonPaymentMissing = "monthly token limit reached, add a payment method to continue"
	ReasonOverage        = "monthly token limit reached, usage is billed as overage"
	ReasonRateLimited    = "too many requests, retry later"
)

// Decision is the outcome of a limit check.
type Decision struct {
	Allowed         bool   `json:"allowed"`
	Reason          string `json:"reason,omitempty"`
	RequiresUpgrade bool   `json:"requires_upgrade"`
	RequiresPayment bool   `json:"requires_payment"`
	TrialExpired    bool   `json:"trial_expired"`
	RateLimited     bool   `json:"rate_limited"`
	// TokensUsed and TokenLimit describe the current period; TokenLimit is
	// plan.Unlimited for admins and unlimited tiers.
	TokensUsed int64     `json:"tokens_used"`
	TokenLimit int64     `json:"token_limit"`
	Plan       plan.Tier `json:"plan,omitempty"`
}

type Service interface {
	// CheckLimits never returns an error. Any failure is a denial with
	// ReasonUnverified.
	CheckLimits(ctx context.Context, userID string) Decision
}
