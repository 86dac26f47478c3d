package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/meterly/internal/clock"
	ledgerdomain "github.com/smallbiznis/meterly/internal/ledger/domain"
	limitsdomain "github.com/smallbiznis/meterly/internal/limits/domain"
	obslogger "github.com/smallbiznis/meterly/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/meterly/internal/observability/metrics"
	"github.com/smallbiznis/meterly/internal/plan"
	"github.com/smallbiznis/meterly/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/meterly/internal/subscription/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Log           *zap.Logger
	Clock         clock.Clock
	Plans         *plan.Catalog
	Subscriptions subscriptiondomain.Service
	Ledger        ledgerdomain.Service
	Limiter       *ratelimit.RequestLimiter `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics       `optional:"true"`
}

type Service struct {
	log           *zap.Logger
	clock         clock.Clock
	plans         *plan.Catalog
	subscriptions subscriptiondomain.Service
	ledger        ledgerdomain.Service
	limiter       *ratelimit.RequestLimiter
	obsMetrics    *obsmetrics.Metrics
	tracer        trace.Tracer
}

func NewService(p ServiceParam) limitsdomain.Service {
	return &Service{
		log:           p.Log.Named("limits.service"),
		clock:         p.Clock,
		plans:         p.Plans,
		subscriptions: p.Subscriptions,
		ledger:        p.Ledger,
		limiter:       p.Limiter,
		obsMetrics:    p.ObsMetrics,
		tracer:        otel.Tracer("meterly/limits"),
	}
}

// CheckLimits evaluates, in order: admin bypass, default subscription
// creation, trial expiry, the monthly token limit and the request rate.
func (s *Service) CheckLimits(ctx context.Context, userID string) (decision limitsdomain.Decision) {
	ctx, span := s.tracer.Start(ctx, "limits.CheckLimits")
	defer func() {
		if r := recover(); r != nil {
			decision = s.failClosed(ctx, userID, fmt.Errorf("check limits panicked: %v", r))
		}
		span.SetAttributes(
			attribute.Bool("limits.allowed", decision.Allowed),
			attribute.String("limits.plan", string(decision.Plan)),
		)
		span.End()
		s.obsMetrics.RecordLimitDecision(ctx, decision.Allowed, decisionReason(decision), string(decision.Plan))
	}()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return s.failClosed(ctx, userID, subscriptiondomain.ErrInvalidUser)
	}
	ctx = obslogger.ContextWithUserID(ctx, userID)

	sub, err := s.subscriptions.Get(ctx, userID)
	if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
		return s.startTrial(ctx, userID)
	}
	if err != nil {
		return s.failClosed(ctx, userID, err)
	}

	if sub.IsAdmin() {
		return limitsdomain.Decision{
			Allowed:    true,
			TokensUsed: 0,
			TokenLimit: plan.Unlimited,
			Plan:       sub.Plan,
		}
	}

	def, err := s.plans.Lookup(sub.Plan)
	if err != nil {
		return s.failClosed(ctx, userID, err)
	}

	now := s.clock.Now()
	if def.TrialOnly && sub.TrialExpired(now) {
		return limitsdomain.Decision{
			Allowed:         false,
			Reason:          limitsdomain.ReasonTrialExpired,
			RequiresUpgrade: true,
			TrialExpired:    true,
			TokenLimit:      def.TokenLimit,
			Plan:            sub.Plan,
		}
	}

	tokensUsed, err := s.tokensUsed(ctx, userID, ledgerdomain.PeriodKey(now))
	if err != nil {
		return s.failClosed(ctx, userID, err)
	}

	decision = limitsdomain.Decision{
		Allowed:    true,
		TokensUsed: tokensUsed,
		TokenLimit: def.TokenLimit,
		Plan:       sub.Plan,
	}

	if def.Exceeded(tokensUsed) {
		switch {
		case !sub.Plan.IsPaid():
			decision.Allowed = false
			decision.Reason = limitsdomain.ReasonLimitReached
			decision.RequiresUpgrade = true
			return decision
		case !sub.HasPaymentMethod:
			decision.Allowed = false
			decision.Reason = limitsdomain.ReasonPaymentMissing
			decision.RequiresPayment = true
			return decision
		default:
			decision.Reason = limitsdomain.ReasonOverage
		}
	}

	return s.applyRateLimit(ctx, userID, def, decision)
}

func (s *Service) startTrial(ctx context.Context, userID string) limitsdomain.Decision {
	sub, _, err := s.subscriptions.EnsureDefault(ctx, userID)
	if err != nil {
		return s.failClosed(ctx, userID, err)
	}
	def, err := s.plans.Lookup(sub.Plan)
	if err != nil {
		return s.failClosed(ctx, userID, err)
	}

	return s.applyRateLimit(ctx, userID, def, limitsdomain.Decision{
		Allowed:    true,
		TokensUsed: 0,
		TokenLimit: def.TokenLimit,
		Plan:       sub.Plan,
	})
}

func (s *Service) applyRateLimit(ctx context.Context, userID string, def plan.Definition, decision limitsdomain.Decision) limitsdomain.Decision {
	if !s.limiter.Enabled() {
		return decision
	}
	res, err := s.limiter.Allow(ctx, userID, def.RequestsPerMinute)
	if err != nil {
		return s.failClosed(ctx, userID, err)
	}
	if !res.Allowed {
		decision.Allowed = false
		decision.RateLimited = true
		decision.Reason = limitsdomain.ReasonRateLimited
	}
	return decision
}

func (s *Service) tokensUsed(ctx context.Context, userID, periodKey string) (int64, error) {
	record, err := s.ledger.Find(ctx, userID, periodKey)
	if errors.Is(err, ledgerdomain.ErrLedgerNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return record.TokensUsed, nil
}

func (s *Service) failClosed(ctx context.Context, userID string, err error) limitsdomain.Decision {
	ctx = obslogger.ContextWithUserID(ctx, userID)
	obslogger.WithContext(ctx, s.log).Error("limit check failed, denying request", zap.Error(err))
	trace.SpanFromContext(ctx).RecordError(err)
	return limitsdomain.Decision{
		Allowed: false,
		Reason:  limitsdomain.ReasonUnverified,
	}
}

func decisionReason(d limitsdomain.Decision) string {
	switch {
	case d.Allowed:
		return "allowed"
	case d.TrialExpired:
		return "trial_expired"
	case d.RateLimited:
		return "rate_limited"
	case d.RequiresPayment:
		return "payment_required"
	case d.RequiresUpgrade:
		return "upgrade_required"
	default:
		return "unverified"
	}
}
