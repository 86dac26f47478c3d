package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterly/internal/clock"
	ledgerdomain "github.com/smallbiznis/meterly/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/meterly/internal/observability/metrics"
	"github.com/smallbiznis/meterly/internal/plan"
	"github.com/smallbiznis/meterly/pkg/billingerr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       ledgerdomain.Repository
	Plans      ledgerdomain.PlanResolver
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       ledgerdomain.Repository
	plans      ledgerdomain.PlanResolver
	obsMetrics *obsmetrics.Metrics
	tracer     trace.Tracer
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		plans:      p.Plans,
		obsMetrics: p.ObsMetrics,
		tracer:     otel.Tracer("meterly/ledger"),
	}
}

func (s *Service) GetOrCreate(ctx context.Context, userID, periodKey string) (*ledgerdomain.Record, error) {
	userID, err := validateKey(userID, periodKey)
	if err != nil {
		return nil, err
	}

	def, err := s.plans.ResolvePlan(ctx, userID)
	if err != nil {
		return nil, err
	}

	inserted, err := s.repo.InsertIfAbsent(ctx, s.db, s.newRecord(userID, periodKey, def))
	if err != nil {
		return nil, billingerr.Persistence("insert ledger", err)
	}
	if inserted {
		s.log.Debug("ledger period opened", zap.String("user_id", userID), zap.String("period", periodKey))
	}

	record, err := s.repo.FindByKey(ctx, s.db, userID, periodKey)
	if err != nil {
		return nil, billingerr.Persistence("load ledger", err)
	}
	if record == nil {
		return nil, billingerr.Persistence("load ledger", ledgerdomain.ErrLedgerNotFound)
	}
	return record, nil
}

// ApplyDelta adds delta to the (userID, periodKey) row and recomputes the
// derived totals inside one transaction. The UPDATE holds the row lock until
// commit, so concurrent callers for the same key serialize.
//
// Overage is priced with the plan terms pinned when the period was opened, so
// a plan change mid-period only applies from the next period.
func (s *Service) ApplyDelta(ctx context.Context, userID, periodKey string, delta ledgerdomain.Delta) (*ledgerdomain.Record, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.ApplyDelta", trace.WithAttributes(
		attribute.String("ledger.period", periodKey),
		attribute.String("ledger.component", string(delta.Component)),
	))
	defer span.End()

	userID, err := validateKey(userID, periodKey)
	if err != nil {
		return nil, err
	}
	if err := delta.Validate(); err != nil {
		return nil, err
	}

	def, err := s.plans.ResolvePlan(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve plan")
		return nil, err
	}

	var updated *ledgerdomain.Record
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.repo.InsertIfAbsent(ctx, tx, s.newRecord(userID, periodKey, def)); err != nil {
			return billingerr.Persistence("insert ledger", err)
		}

		now := s.clock.Now()
		if err := s.repo.Increment(ctx, tx, userID, periodKey, delta, now); err != nil {
			return billingerr.Persistence("increment ledger", err)
		}

		record, err := s.repo.FindByKey(ctx, tx, userID, periodKey)
		if err != nil {
			return billingerr.Persistence("load ledger", err)
		}
		if record == nil {
			return billingerr.Persistence("load ledger", ledgerdomain.ErrLedgerNotFound)
		}

		// rows opened before terms were pinned take the current plan
		record.PinPlan(def)
		record.TotalCost = record.SumComponents()
		record.Overage = ledgerdomain.ComputeOverage(*record, record.PinnedPlan())
		record.UpdatedAt = now

		if err := s.repo.UpdateDerived(ctx, tx, record); err != nil {
			return billingerr.Persistence("update ledger totals", err)
		}
		if err := record.CheckInvariant(); err != nil {
			return err
		}

		updated = record
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply delta")
		s.log.Error("failed to apply ledger delta",
			zap.String("user_id", userID),
			zap.String("period", periodKey),
			zap.String("component", string(delta.Component)),
			zap.Error(err),
		)
		return nil, err
	}

	s.obsMetrics.RecordLedgerDelta(ctx, string(delta.Component))
	return updated, nil
}

func (s *Service) Find(ctx context.Context, userID, periodKey string) (*ledgerdomain.Record, error) {
	userID, err := validateKey(userID, periodKey)
	if err != nil {
		return nil, err
	}

	record, err := s.repo.FindByKey(ctx, s.db, userID, periodKey)
	if err != nil {
		return nil, billingerr.Persistence("load ledger", err)
	}
	if record == nil {
		return nil, ledgerdomain.ErrLedgerNotFound
	}
	return record, nil
}

func (s *Service) History(ctx context.Context, userID string, limit int) ([]ledgerdomain.Record, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ledgerdomain.ErrInvalidUser
	}

	records, err := s.repo.ListByUser(ctx, s.db, userID, limit)
	if err != nil {
		return nil, billingerr.Persistence("list ledgers", err)
	}
	return records, nil
}

func (s *Service) newRecord(userID, periodKey string, def plan.Definition) *ledgerdomain.Record {
	now := s.clock.Now()
	record := &ledgerdomain.Record{
		ID:        s.genID.Generate(),
		UserID:    userID,
		PeriodKey: periodKey,
		CreatedAt: now,
		UpdatedAt: now,
	}
	record.PinPlan(def)
	return record
}

func validateKey(userID, periodKey string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", ledgerdomain.ErrInvalidUser
	}
	if !ledgerdomain.ValidPeriodKey(periodKey) {
		return "", ledgerdomain.ErrInvalidPeriod
	}
	return userID, nil
}
