package domain

import (
	"context"

	"github.com/smallbiznis/meterly/internal/plan"
)

type Service interface {
	GetOrCreate(ctx context.Context, userID, periodKey string) (*Record, error)
	ApplyDelta(ctx context.Context, userID, periodKey string, delta Delta) (*Record, error)
	Find(ctx context.Context, userID, periodKey string) (*Record, error)
	History(ctx context.Context, userID string, limit int) ([]Record, error)
}

// PlanResolver returns the plan definition governing a user's ledger.
type PlanResolver interface {
	ResolvePlan(ctx context.Context, userID string) (plan.Definition, error)
}
