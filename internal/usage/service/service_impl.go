package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterly/internal/clock"
	ledgerdomain "github.com/smallbiznis/meterly/internal/ledger/domain"
	obslogger "github.com/smallbiznis/meterly/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/meterly/internal/observability/metrics"
	"github.com/smallbiznis/meterly/internal/pricing"
	usagedomain "github.com/smallbiznis/meterly/internal/usage/domain"
	"github.com/smallbiznis/meterly/pkg/billingerr"
	"github.com/smallbiznis/meterly/pkg/db"
	"github.com/smallbiznis/meterly/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       usagedomain.Repository
	Pricing    *pricing.Model
	Ledger     ledgerdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       usagedomain.Repository
	pricing    *pricing.Model
	ledger     ledgerdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("usage.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		pricing:    p.Pricing,
		ledger:     p.Ledger,
		obsMetrics: p.ObsMetrics,
	}
}

// Record prices a token event, appends it to the audit log and charges the
// user's ledger. Failures are logged and reported in the result, never
// returned as errors or panics.
func (s *Service) Record(ctx context.Context, req usagedomain.RecordRequest) (res usagedomain.Result) {
	defer s.recoverInto(ctx, "record", &res)

	userID, err := validateRecord(req)
	if err != nil {
		return s.fail(ctx, "validate", userID, err)
	}
	ctx = obslogger.ContextWithUserID(ctx, userID)

	premium := req.BillingMode == usagedomain.BillingModePremium
	variant := s.pricing.ResolveVariant(pricing.Variant(strings.TrimSpace(req.PricingVariant)), premium)
	cost, err := s.pricing.TokenCost(req.InputUnits, req.OutputUnits, variant)
	if err != nil {
		return s.fail(ctx, "price", userID, err)
	}

	now := s.clock.Now()
	occurredAt := req.OccurredAt.UTC()
	if req.OccurredAt.IsZero() {
		occurredAt = now
	}
	periodKey := ledgerdomain.PeriodKey(occurredAt)

	event := &usagedomain.UsageEvent{
		ID:             s.genID.Generate(),
		UserID:         userID,
		PeriodKey:      periodKey,
		ProjectID:      req.ProjectID,
		Category:       req.Category,
		InputUnits:     req.InputUnits,
		OutputUnits:    req.OutputUnits,
		ComputeTimeMs:  req.ComputeTimeMs,
		PricingVariant: string(variant),
		BillingMode:    req.BillingMode,
		Cost:           cost,
		OccurredAt:     occurredAt,
		CreatedAt:      now,
	}
	if req.Metadata != nil {
		event.Metadata = datatypes.JSONMap(req.Metadata)
	}

	if err := s.repo.Insert(ctx, s.db, event); err != nil {
		// audit append is best effort
		s.obsMetrics.RecordUsageFailure(ctx, "audit")
		if db.IsDuplicateKeyErr(err) {
			s.log.Error("usage event id collision, check NODE_ID is unique per process",
				zap.String("user_id", userID),
				zap.String("event_id", event.ID.String()),
			)
		} else {
			s.log.Warn("failed to append usage event",
				zap.String("user_id", userID),
				zap.String("event_id", event.ID.String()),
				zap.Error(billingerr.Persistence("insert usage event", err)),
			)
		}
	}

	total := event.TotalUnits()
	delta := ledgerdomain.Delta{
		TotalTokens: total,
		Component:   ledgerdomain.ComponentPremiumAI,
		Cost:        cost,
	}
	if !premium {
		delta.TokensForLimit = total
		delta.Component = ledgerdomain.ComponentPlanAI
	}

	if _, err := s.ledger.ApplyDelta(ctx, userID, periodKey, delta); err != nil {
		return s.fail(ctx, "ledger", userID, err)
	}

	s.obsMetrics.RecordUsage(ctx, string(req.BillingMode), string(req.Category), cost)
	return usagedomain.Result{Success: true, Cost: cost, EventID: event.ID}
}

// RecordResource charges storage, deployment, compute or transfer usage.
func (s *Service) RecordResource(ctx context.Context, charge usagedomain.ResourceCharge) (res usagedomain.Result) {
	defer s.recoverInto(ctx, "record_resource", &res)

	userID := strings.TrimSpace(charge.UserID)
	if userID == "" {
		return s.fail(ctx, "validate", userID, usagedomain.ErrInvalidUser)
	}

	var (
		cost      float64
		component ledgerdomain.CostComponent
		err       error
	)
	switch charge.Kind {
	case usagedomain.ResourceStorage:
		cost, err = s.pricing.StorageCost(charge.Quantity)
		component = ledgerdomain.ComponentStorage
	case usagedomain.ResourceDeployment:
		cost, err = s.pricing.DeploymentCost(charge.Quantity)
		component = ledgerdomain.ComponentDeployment
	case usagedomain.ResourceDataTransfer:
		cost, err = s.pricing.DataTransferCost(charge.Quantity)
		component = ledgerdomain.ComponentDeployment
	case usagedomain.ResourceCompute:
		cost, err = s.pricing.ComputeCost(charge.Quantity)
		component = ledgerdomain.ComponentInfra
	default:
		err = fmt.Errorf("%w: %q", usagedomain.ErrInvalidResource, charge.Kind)
	}
	if err != nil {
		return s.fail(ctx, "price", userID, err)
	}

	occurredAt := charge.OccurredAt.UTC()
	if charge.OccurredAt.IsZero() {
		occurredAt = s.clock.Now()
	}

	if _, err := s.ledger.ApplyDelta(ctx, userID, ledgerdomain.PeriodKey(occurredAt), ledgerdomain.Delta{
		Component: component,
		Cost:      cost,
	}); err != nil {
		return s.fail(ctx, "ledger", userID, err)
	}

	s.obsMetrics.RecordUsage(ctx, "resource", string(charge.Kind), cost)
	return usagedomain.Result{Success: true, Cost: cost}
}

// RecordProjectCreated counts a new project against the current period.
func (s *Service) RecordProjectCreated(ctx context.Context, userID string) (res usagedomain.Result) {
	defer s.recoverInto(ctx, "record_project", &res)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return s.fail(ctx, "validate", userID, usagedomain.ErrInvalidUser)
	}

	periodKey := ledgerdomain.PeriodKey(s.clock.Now())
	if _, err := s.ledger.ApplyDelta(ctx, userID, periodKey, ledgerdomain.Delta{Projects: 1}); err != nil {
		return s.fail(ctx, "ledger", userID, err)
	}
	return usagedomain.Result{Success: true}
}

func (s *Service) List(ctx context.Context, req usagedomain.ListUsageRequest) (usagedomain.ListUsageResponse, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return usagedomain.ListUsageResponse{}, usagedomain.ErrInvalidUser
	}
	periodKey := strings.TrimSpace(req.PeriodKey)
	if periodKey == "" {
		periodKey = ledgerdomain.PeriodKey(s.clock.Now())
	}
	if !ledgerdomain.ValidPeriodKey(periodKey) {
		return usagedomain.ListUsageResponse{}, usagedomain.ErrInvalidPeriod
	}

	var afterID snowflake.ID
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return usagedomain.ListUsageResponse{}, err
		}
		afterID, err = snowflake.ParseString(cursor.ID)
		if err != nil {
			return usagedomain.ListUsageResponse{}, pagination.ErrInvalidPageToken
		}
	}

	pageSize := pagination.NormalizePageSize(req.PageSize)
	items, err := s.repo.ListByPeriod(ctx, s.db, userID, periodKey, afterID, int(pageSize)+1)
	if err != nil {
		return usagedomain.ListUsageResponse{}, billingerr.Persistence("list usage events", err)
	}

	return buildUsageListResponse(items, pageSize), nil
}

func buildUsageListResponse(items []*usagedomain.UsageEvent, pageSize int32) usagedomain.ListUsageResponse {
	page, pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(record *usagedomain.UsageEvent) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: record.ID.String()})
		if err != nil {
			return ""
		}
		return token
	})

	records := make([]usagedomain.UsageEvent, 0, len(page))
	for _, item := range page {
		if item == nil {
			continue
		}
		records = append(records, *item)
	}

	return usagedomain.ListUsageResponse{
		PageInfo:    pageInfo,
		UsageEvents: records,
	}
}

func (s *Service) fail(ctx context.Context, stage, userID string, err error) usagedomain.Result {
	s.obsMetrics.RecordUsageFailure(ctx, stage)
	ctx = obslogger.ContextWithUserID(ctx, userID)
	obslogger.WithContext(ctx, s.log).Error("usage recording failed",
		zap.String("stage", stage),
		zap.Error(err),
	)
	return usagedomain.Result{Success: false, Cost: 0, Err: err}
}

func (s *Service) recoverInto(ctx context.Context, op string, res *usagedomain.Result) {
	if r := recover(); r != nil {
		*res = s.fail(ctx, "panic", "", fmt.Errorf("%s panicked: %v", op, r))
	}
}

func validateRecord(req usagedomain.RecordRequest) (string, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return "", usagedomain.ErrInvalidUser
	}
	if !req.Category.Valid() {
		return userID, usagedomain.ErrInvalidCategory
	}
	if !req.BillingMode.Valid() {
		return userID, usagedomain.ErrInvalidBillingMode
	}
	if req.InputUnits < 0 || req.OutputUnits < 0 {
		return userID, pricing.ErrInvalidQuantity
	}
	if req.ComputeTimeMs != nil && *req.ComputeTimeMs < 0 {
		return userID, pricing.ErrInvalidQuantity
	}
	return userID, nil
}
