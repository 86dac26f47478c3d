package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/smallbiznis/meterly/pkg/db"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	// NodeID seeds snowflake ids and must be unique per running process.
	NodeID int64

	// AdminUserIDs are granted the admin role at startup.
	AdminUserIDs []string

	// TrialDays is the trial length granted to a default free subscription.
	TrialDays int

	// SubscriptionCacheSize bounds the subscription lookup cache. Zero disables it.
	SubscriptionCacheSize int
	SubscriptionCacheTTL  int

	Database      db.Config
	Redis         RedisConfig
	Observability ObservabilityConfig
	Scheduler     SchedulerConfig
}

// SchedulerConfig controls the background ledger audit jobs.
type SchedulerConfig struct {
	Enabled         bool
	IntervalSeconds int
	BatchSize       int
	// Jobs limits which jobs run. Empty runs all of them.
	Jobs []string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type ObservabilityConfig struct {
	LogLevel      string
	LogFormat     string
	OtelEnabled   bool
	OTLPEndpoint  string
	OTLPProtocol  string
	SamplingRatio float64
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:               getenv("APP_SERVICE", "meterly"),
		AppVersion:            getenv("APP_VERSION", "0.1.0"),
		Environment:           getenv("ENVIRONMENT", "development"),
		NodeID:                int64(getenvInt("NODE_ID", 1)),
		AdminUserIDs:          getenvList("ADMIN_USER_IDS"),
		TrialDays:             getenvInt("TRIAL_DAYS", 30),
		SubscriptionCacheSize: getenvInt("SUBSCRIPTION_CACHE_SIZE", 10_000),
		SubscriptionCacheTTL:  getenvInt("SUBSCRIPTION_CACHE_TTL_SECONDS", 30),
		Database: db.Config{
			Type:            strings.ToLower(getenv("DATABASE_TYPE", db.TypePostgres)),
			Host:            getenv("DATABASE_HOST", "localhost"),
			Port:            getenv("DATABASE_PORT", "5432"),
			Name:            getenv("DATABASE_NAME", "meterly"),
			User:            getenv("DATABASE_USER", "postgres"),
			Password:        getenv("DATABASE_PASSWORD", ""),
			SSLMode:         getenv("DATABASE_SSLMODE", "disable"),
			Path:            getenv("DATABASE_PATH", "meterly.db"),
			MaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
			MaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
			ConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
			ConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		},
		Redis: RedisConfig{
			Enabled:  getenvBool("REDIS_ENABLED", false),
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Observability: ObservabilityConfig{
			LogLevel:      getenv("LOG_LEVEL", "info"),
			LogFormat:     getenv("LOG_FORMAT", "json"),
			OtelEnabled:   getenvBool("OTEL_ENABLED", false),
			OTLPEndpoint:  getenv("OTLP_ENDPOINT", "localhost:4317"),
			OTLPProtocol:  getenv("OTLP_PROTOCOL", "grpc"),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		Scheduler: SchedulerConfig{
			Enabled:         getenvBool("SCHEDULER_ENABLED", true),
			IntervalSeconds: getenvInt("SCHEDULER_INTERVAL_SECONDS", 300),
			BatchSize:       getenvInt("SCHEDULER_BATCH_SIZE", 100),
			Jobs:            getenvList("SCHEDULER_JOBS"),
		},
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
