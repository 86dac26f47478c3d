package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterly/internal/cache"
	"github.com/smallbiznis/meterly/internal/clock"
	"github.com/smallbiznis/meterly/internal/config"
	"github.com/smallbiznis/meterly/internal/plan"
	subscriptiondomain "github.com/smallbiznis/meterly/internal/subscription/domain"
	"github.com/smallbiznis/meterly/pkg/billingerr"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultTrialDays = 30

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Cfg   config.Config
	Repo  subscriptiondomain.Repository
	Plans *plan.Catalog
	Cache cache.SubscriptionCache `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      subscriptiondomain.Repository
	plans     *plan.Catalog
	cache     cache.SubscriptionCache
	trialDays int
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	trialDays := p.Cfg.TrialDays
	if trialDays <= 0 {
		trialDays = defaultTrialDays
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("subscription.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		plans:     p.Plans,
		cache:     p.Cache,
		trialDays: trialDays,
	}
}

func (s *Service) Get(ctx context.Context, userID string) (*subscriptiondomain.Subscription, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if cached, ok := s.cache.Get(userID); ok {
			return &cached, nil
		}
	}

	sub, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, billingerr.Persistence("load subscription", err)
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}

	if s.cache != nil {
		s.cache.Set(*sub)
	}
	return sub, nil
}

func (s *Service) EnsureDefault(ctx context.Context, userID string) (*subscriptiondomain.Subscription, bool, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, false, err
	}

	now := s.clock.Now()
	trialEnd := now.Add(time.Duration(s.trialDays) * 24 * time.Hour)
	created, err := s.repo.InsertIfAbsent(ctx, s.db, &subscriptiondomain.Subscription{
		ID:             s.genID.Generate(),
		UserID:         userID,
		Plan:           plan.TierFree,
		Role:           subscriptiondomain.RoleUser,
		TrialPeriodEnd: &trialEnd,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return nil, false, billingerr.Persistence("insert subscription", err)
	}
	if created {
		s.log.Info("created default subscription",
			zap.String("user_id", userID),
			zap.String("plan", string(plan.TierFree)),
			zap.Time("trial_period_end", trialEnd),
		)
	}

	sub, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, false, billingerr.Persistence("load subscription", err)
	}
	if sub == nil {
		return nil, false, billingerr.Persistence("load subscription", subscriptiondomain.ErrSubscriptionNotFound)
	}
	return sub, created, nil
}

func (s *Service) ChangePlan(ctx context.Context, userID string, tier plan.Tier) (*subscriptiondomain.Subscription, error) {
	if !tier.Valid() {
		return nil, billingerr.Configuration("unknown plan tier %q", tier)
	}
	return s.update(ctx, userID, "change plan", func(userID string, now time.Time) (bool, error) {
		return s.repo.UpdatePlan(ctx, s.db, userID, tier, now)
	})
}

func (s *Service) SetPaymentMethod(ctx context.Context, userID string, hasPaymentMethod bool) (*subscriptiondomain.Subscription, error) {
	return s.update(ctx, userID, "set payment method", func(userID string, now time.Time) (bool, error) {
		return s.repo.UpdatePaymentMethod(ctx, s.db, userID, hasPaymentMethod, now)
	})
}

func (s *Service) SetRole(ctx context.Context, userID string, role subscriptiondomain.Role) (*subscriptiondomain.Subscription, error) {
	if !role.Valid() {
		return nil, subscriptiondomain.ErrInvalidRole
	}
	return s.update(ctx, userID, "set role", func(userID string, now time.Time) (bool, error) {
		return s.repo.UpdateRole(ctx, s.db, userID, role, now)
	})
}

func (s *Service) ResolvePlan(ctx context.Context, userID string) (plan.Definition, error) {
	tier := plan.TierFree
	sub, err := s.Get(ctx, userID)
	switch {
	case err == nil:
		tier = sub.Plan
	case errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound):
	default:
		return plan.Definition{}, err
	}
	return s.plans.Lookup(tier)
}

// update creates the default subscription if needed, applies fn and returns
// the fresh row.
func (s *Service) update(ctx context.Context, userID, op string, fn func(userID string, now time.Time) (bool, error)) (*subscriptiondomain.Subscription, error) {
	sub, _, err := s.EnsureDefault(ctx, userID)
	if err != nil {
		return nil, err
	}

	if _, err := fn(sub.UserID, s.clock.Now()); err != nil {
		return nil, billingerr.Persistence(op, err)
	}
	if s.cache != nil {
		s.cache.Invalidate(sub.UserID)
	}

	updated, err := s.repo.FindByUserID(ctx, s.db, sub.UserID)
	if err != nil {
		return nil, billingerr.Persistence("load subscription", err)
	}
	if updated == nil {
		return nil, billingerr.Persistence("load subscription", subscriptiondomain.ErrSubscriptionNotFound)
	}
	s.log.Info("subscription updated", zap.String("user_id", sub.UserID), zap.String("op", op))
	return updated, nil
}

func normalizeUserID(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", subscriptiondomain.ErrInvalidUser
	}
	return userID, nil
}
