package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/meterly/internal/ledger/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const recordColumns = `id, user_id, period_key, tokens_used, total_tokens, plan_ai_cost, premium_ai_cost,
	storage_cost, deployment_cost, infra_cost, total_cost, plan_tier_at_period, plan_limit_at_period,
	overage_rate_at_period, overage, projects_count, version, created_at, updated_at`

type repo struct{}

func Provide() ledgerdomain.Repository {
	return &repo{}
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, record *ledgerdomain.Record) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "period_key"}},
			DoNothing: true,
		}).
		Create(record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByKey(ctx context.Context, db *gorm.DB, userID, periodKey string) (*ledgerdomain.Record, error) {
	var record ledgerdomain.Record
	err := db.WithContext(ctx).Raw(
		`SELECT `+recordColumns+` FROM monthly_ledgers WHERE user_id = ? AND period_key = ?`,
		userID,
		periodKey,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func (r *repo) Increment(ctx context.Context, db *gorm.DB, userID, periodKey string, delta ledgerdomain.Delta, now time.Time) error {
	sets := []string{
		"tokens_used = tokens_used + ?",
		"total_tokens = total_tokens + ?",
		"projects_count = projects_count + ?",
	}
	args := []any{delta.TokensForLimit, delta.TotalTokens, delta.Projects}

	if delta.Component != "" {
		column, err := delta.Component.Column()
		if err != nil {
			return err
		}
		sets = append(sets, fmt.Sprintf("%s = %s + ?", column, column))
		args = append(args, delta.Cost)
	}

	sets = append(sets, "version = version + 1", "updated_at = ?")
	args = append(args, now, userID, periodKey)

	result := db.WithContext(ctx).Exec(
		`UPDATE monthly_ledgers SET `+strings.Join(sets, ", ")+` WHERE user_id = ? AND period_key = ?`,
		args...,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ledgerdomain.ErrLedgerNotFound
	}
	return nil
}

func (r *repo) UpdateDerived(ctx context.Context, db *gorm.DB, record *ledgerdomain.Record) error {
	return db.WithContext(ctx).Exec(
		`UPDATE monthly_ledgers
		 SET total_cost = ?, overage = ?, plan_tier_at_period = ?, plan_limit_at_period = ?,
		 overage_rate_at_period = ?, updated_at = ?
		 WHERE id = ?`,
		record.TotalCost,
		record.Overage,
		record.PlanTierAtPeriod,
		record.PlanLimitAtPeriod,
		record.OverageRateAtPeriod,
		record.UpdatedAt,
		record.ID,
	).Error
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID string, limit int) ([]ledgerdomain.Record, error) {
	if limit <= 0 {
		limit = 12
	}
	var records []ledgerdomain.Record
	err := db.WithContext(ctx).Raw(
		`SELECT `+recordColumns+` FROM monthly_ledgers WHERE user_id = ?
		 ORDER BY period_key DESC
		 LIMIT ?`,
		userID,
		limit,
	).Scan(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) ListByPeriod(ctx context.Context, db *gorm.DB, periodKey string, afterID snowflake.ID, limit int) ([]ledgerdomain.Record, error) {
	var records []ledgerdomain.Record
	err := db.WithContext(ctx).Raw(
		`SELECT `+recordColumns+` FROM monthly_ledgers WHERE period_key = ? AND id > ?
		 ORDER BY id ASC
		 LIMIT ?`,
		periodKey,
		afterID,
		limit,
	).Scan(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
