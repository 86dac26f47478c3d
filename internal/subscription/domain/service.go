package domain

import (
	"context"

	"github.com/smallbiznis/meterly/internal/plan"
)

type Service interface {
	// Get returns ErrSubscriptionNotFound when the user has none.
	Get(ctx context.Context, userID string) (*Subscription, error)
	// EnsureDefault returns the user's subscription, creating a free trial
	// one when absent. created reports whether this call inserted it.
	EnsureDefault(ctx context.Context, userID string) (sub *Subscription, created bool, err error)
	ChangePlan(ctx context.Context, userID string, tier plan.Tier) (*Subscription, error)
	SetPaymentMethod(ctx context.Context, userID string, hasPaymentMethod bool) (*Subscription, error)
	SetRole(ctx context.Context, userID string, role Role) (*Subscription, error)
	// ResolvePlan returns the plan governing the user, free when unsubscribed.
	ResolvePlan(ctx context.Context, userID string) (plan.Definition, error)
}
