package scheduler

import (
	"context"
	"errors"
	"math"

	ledgerdomain "github.com/smallbiznis/meterly/internal/ledger/domain"
	"go.uber.org/zap"
)

const costTolerance = 1e-4

// Finding describes one ledger row that failed an audit.
type Finding struct {
	UserID    string
	PeriodKey string
	Kind      string
	Expected  float64
	Actual    float64
}

// LedgerInvariantsJob checks that every audited row's total cost equals the
// sum of its components.
func (s *Scheduler) LedgerInvariantsJob(ctx context.Context, run *jobRun) error {
	var jobErr error
	for _, periodKey := range s.auditPeriods() {
		findings, checked, err := s.checkInvariants(ctx, periodKey)
		run.AddProcessed(checked)
		s.reportFindings(ctx, run, findings)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
		}
	}
	return jobErr
}

// UsageReconciliationJob compares ledger aggregates with the usage audit log.
// Drift is reported, never repaired.
func (s *Scheduler) UsageReconciliationJob(ctx context.Context, run *jobRun) error {
	var jobErr error
	for _, periodKey := range s.auditPeriods() {
		findings, checked, err := s.reconcileUsage(ctx, periodKey)
		run.AddProcessed(checked)
		s.reportFindings(ctx, run, findings)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
		}
	}
	return jobErr
}

func (s *Scheduler) checkInvariants(ctx context.Context, periodKey string) ([]Finding, int, error) {
	var (
		findings []Finding
		checked  int
	)
	err := s.forEachLedger(ctx, periodKey, func(record ledgerdomain.Record) error {
		checked++
		if record.CheckInvariant() != nil {
			findings = append(findings, Finding{
				UserID:    record.UserID,
				PeriodKey: record.PeriodKey,
				Kind:      "invariant",
				Expected:  record.SumComponents(),
				Actual:    record.TotalCost,
			})
		}
		return nil
	})
	return findings, checked, err
}

func (s *Scheduler) reconcileUsage(ctx context.Context, periodKey string) ([]Finding, int, error) {
	var (
		findings []Finding
		checked  int
	)
	err := s.forEachLedger(ctx, periodKey, func(record ledgerdomain.Record) error {
		totals, err := s.usageRepo.SumByPeriod(ctx, s.db, record.UserID, record.PeriodKey)
		if err != nil {
			return err
		}
		checked++

		if totals.PlanTokens != record.TokensUsed {
			findings = append(findings, Finding{
				UserID:    record.UserID,
				PeriodKey: record.PeriodKey,
				Kind:      "tokens",
				Expected:  float64(totals.PlanTokens),
				Actual:    float64(record.TokensUsed),
			})
		}
		if math.Abs(totals.PlanCost-record.PlanAICost) > costTolerance {
			findings = append(findings, Finding{
				UserID:    record.UserID,
				PeriodKey: record.PeriodKey,
				Kind:      "plan_cost",
				Expected:  totals.PlanCost,
				Actual:    record.PlanAICost,
			})
		}
		if math.Abs(totals.PremiumCost-record.PremiumAICost) > costTolerance {
			findings = append(findings, Finding{
				UserID:    record.UserID,
				PeriodKey: record.PeriodKey,
				Kind:      "premium_cost",
				Expected:  totals.PremiumCost,
				Actual:    record.PremiumAICost,
			})
		}
		return nil
	})
	return findings, checked, err
}

func (s *Scheduler) reportFindings(ctx context.Context, run *jobRun, findings []Finding) {
	for _, f := range findings {
		run.IncDrift()
		s.obsMetrics.RecordLedgerDrift(ctx, f.Kind)
		s.log.Warn("scheduler.ledger.drift",
			zap.String("job", run.job),
			zap.String("run_id", run.runID),
			zap.String("user_id", f.UserID),
			zap.String("period_key", f.PeriodKey),
			zap.String("kind", f.Kind),
			zap.Float64("expected", f.Expected),
			zap.Float64("actual", f.Actual),
		)
	}
}
