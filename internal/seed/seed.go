package seed

import (
	"context"
	"errors"
	"strings"

	subscriptiondomain "github.com/smallbiznis/meterly/internal/subscription/domain"
	"go.uber.org/zap"
)

// EnsureAdmins grants the admin role to every listed user, creating their
// default subscription first when absent. Running it again is a no-op.
func EnsureAdmins(ctx context.Context, subs subscriptiondomain.Service, log *zap.Logger, userIDs []string) error {
	if subs == nil {
		return errors.New("seed subscription service is required")
	}

	seen := make(map[string]struct{}, len(userIDs))
	var err error
	for _, userID := range userIDs {
		userID = strings.TrimSpace(userID)
		if userID == "" {
			continue
		}
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}

		current, getErr := subs.Get(ctx, userID)
		if getErr == nil && current.IsAdmin() {
			continue
		}
		if getErr != nil && !errors.Is(getErr, subscriptiondomain.ErrSubscriptionNotFound) {
			err = errors.Join(err, getErr)
			continue
		}

		if _, setErr := subs.SetRole(ctx, userID, subscriptiondomain.RoleAdmin); setErr != nil {
			err = errors.Join(err, setErr)
			continue
		}
		log.Info("granted admin role", zap.String("user_id", userID))
	}
	return err
}
