package service

import (
	"context"
	"errors"
	"strings"

	billingoverview "github.com/smallbiznis/meterly/internal/billingoverview/domain"
	"github.com/smallbiznis/meterly/internal/clock"
	ledgerdomain "github.com/smallbiznis/meterly/internal/ledger/domain"
	"github.com/smallbiznis/meterly/internal/plan"
	"github.com/smallbiznis/meterly/internal/pricing"
	subscriptiondomain "github.com/smallbiznis/meterly/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultTrendMonths = 6
	maxTrendMonths     = 24
)

type Params struct {
	fx.In

	Log           *zap.Logger
	Clock         clock.Clock
	Subscriptions subscriptiondomain.Service
	Ledger        ledgerdomain.Service
}

type Service struct {
	log           *zap.Logger
	clock         clock.Clock
	subscriptions subscriptiondomain.Service
	ledger        ledgerdomain.Service
}

func NewService(p Params) billingoverview.Service {
	return &Service{
		log:           p.Log.Named("billingoverview.service"),
		clock:         p.Clock,
		subscriptions: p.Subscriptions,
		ledger:        p.Ledger,
	}
}

func (s *Service) GetUsageStats(ctx context.Context, userID string) (billingoverview.UsageStats, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return billingoverview.UsageStats{}, billingoverview.ErrInvalidUser
	}

	def, err := s.subscriptions.ResolvePlan(ctx, userID)
	if err != nil {
		return billingoverview.UsageStats{}, err
	}

	periodKey := ledgerdomain.PeriodKey(s.clock.Now())
	stats := billingoverview.UsageStats{
		Plan:       def.Tier,
		PeriodKey:  periodKey,
		TokenLimit: def.TokenLimit,
	}

	// admins are never limited, whatever tier they sit on
	sub, err := s.subscriptions.Get(ctx, userID)
	switch {
	case errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound):
	case err != nil:
		return billingoverview.UsageStats{}, err
	case sub.IsAdmin():
		stats.TokenLimit = plan.Unlimited
	}

	record, err := s.ledger.Find(ctx, userID, periodKey)
	switch {
	case errors.Is(err, ledgerdomain.ErrLedgerNotFound):
		return stats, nil
	case err != nil:
		s.log.Warn("failed to load ledger for usage stats",
			zap.String("user_id", userID),
			zap.String("period_key", periodKey),
			zap.Error(err),
		)
		return billingoverview.UsageStats{}, err
	}

	stats.TokensUsed = record.TokensUsed
	stats.TotalCost = record.TotalCost
	stats.Overage = record.Overage
	stats.ProjectsThisMonth = record.ProjectsCount
	return stats, nil
}

func (s *Service) GetUsageTrend(ctx context.Context, userID string, months int) (billingoverview.UsageTrend, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return billingoverview.UsageTrend{}, billingoverview.ErrInvalidUser
	}
	switch {
	case months <= 0:
		months = defaultTrendMonths
	case months > maxTrendMonths:
		months = maxTrendMonths
	}

	records, err := s.ledger.History(ctx, userID, months)
	if err != nil {
		return billingoverview.UsageTrend{}, err
	}

	series := mapSeries(records)
	trend := billingoverview.UsageTrend{
		Series:  series,
		HasData: len(series) > 0,
	}
	if len(series) < 2 {
		return trend, nil
	}

	current := series[len(series)-1]
	previous := series[len(series)-2]
	trend.TokenGrowth, trend.TokenGrowthRate = computeGrowth(current.TokensUsed, previous.TokensUsed)
	trend.CostGrowth, trend.CostGrowthRate = computeCostGrowth(current.TotalCost, previous.TotalCost)
	return trend, nil
}

// mapSeries reverses History's newest-first order.
func mapSeries(records []ledgerdomain.Record) []billingoverview.SeriesPoint {
	series := make([]billingoverview.SeriesPoint, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		series = append(series, billingoverview.SeriesPoint{
			Period:     records[i].PeriodKey,
			TokensUsed: records[i].TokensUsed,
			TotalCost:  records[i].TotalCost,
		})
	}
	return series
}

func computeGrowth(current, previous int64) (*int64, *float64) {
	diff := current - previous
	if previous == 0 {
		return &diff, nil
	}
	growth := float64(diff) / float64(previous)
	return &diff, &growth
}

func computeCostGrowth(current, previous float64) (*float64, *float64) {
	diff := pricing.Round(current - previous)
	if previous == 0 {
		return &diff, nil
	}
	growth := diff / previous
	return &diff, &growth
}
