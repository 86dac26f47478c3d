package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterly/pkg/db/pagination"
)

type RecordRequest struct {
	UserID         string         `json:"user_id"`
	ProjectID      *string        `json:"project_id,omitempty"`
	Category       Category       `json:"category"`
	InputUnits     int64          `json:"input_units"`
	OutputUnits    int64          `json:"output_units"`
	ComputeTimeMs  *int64         `json:"compute_time_ms,omitempty"`
	PricingVariant string         `json:"pricing_model_variant,omitempty"`
	BillingMode    BillingMode    `json:"billing_mode"`
	OccurredAt     time.Time      `json:"occurred_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ResourceCharge meters a non-token resource for a user.
type ResourceCharge struct {
	UserID     string       `json:"user_id"`
	Kind       ResourceKind `json:"kind"`
	Quantity   int64        `json:"quantity"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// Result reports the outcome of a recording call. Recording never returns an
// error to the caller; a failure is carried in Err with Success false.
type Result struct {
	Success bool
	Cost    float64
	EventID snowflake.ID
	Err     error
}

type ListUsageRequest struct {
	UserID    string `json:"user_id"`
	PeriodKey string `json:"period_key"`
	PageToken string `json:"page_token"`
	PageSize  int32  `json:"page_size"`
}

type ListUsageResponse struct {
	pagination.PageInfo
	UsageEvents []UsageEvent `json:"usage_events"`
}

type Service interface {
	Record(context.Context, RecordRequest) Result
	RecordResource(context.Context, ResourceCharge) Result
	RecordProjectCreated(ctx context.Context, userID string) Result
	List(context.Context, ListUsageRequest) (ListUsageResponse, error)
}

var (
	ErrInvalidUser        = errors.New("invalid_user")
	ErrInvalidCategory    = errors.New("invalid_category")
	ErrInvalidBillingMode = errors.New("invalid_billing_mode")
	ErrInvalidResource    = errors.New("invalid_resource_kind")
	ErrInvalidPeriod      = errors.New("invalid_period")
)
