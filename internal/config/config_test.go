package config

import (
	"testing"

	"github.com/smallbiznis/meterly/pkg/db"
	"github.com/stretchr/testify/assert"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DATABASE_TYPE", "SQLite")
	t.Setenv("DATABASE_PATH", "/tmp/meter.db")
	t.Setenv("TRIAL_DAYS", "14")
	t.Setenv("REDIS_ENABLED", "yes")
	t.Setenv("OTEL_SAMPLING_RATIO", "0.5")
	t.Setenv("DATABASE_MAX_OPEN_CONN", "not-a-number")
	t.Setenv("SCHEDULER_JOBS", " ledger_invariants, ,usage_reconciliation")

	cfg := Load()

	assert.Equal(t, db.TypeSQLite, cfg.Database.Type)
	assert.Equal(t, "/tmp/meter.db", cfg.Database.Path)
	assert.Equal(t, 14, cfg.TrialDays)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 0.5, cfg.Observability.SamplingRatio)
	assert.Equal(t, 50, cfg.Database.MaxOpenConn)
	assert.Equal(t, []string{"ledger_invariants", "usage_reconciliation"}, cfg.Scheduler.Jobs)
	assert.True(t, cfg.Scheduler.Enabled)
}
