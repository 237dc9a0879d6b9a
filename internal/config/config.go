package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Escalation fire modes.
const (
	FireModeEveryScan     = "every_scan"
	FireModeOncePerBreach = "once_per_breach"
)

// Unresolvable approver policies.
const (
	ApproverPolicyStall = "stall"
	ApproverPolicySkip  = "skip"
)

// Category match modes for assignment conditions.
const (
	CategoryMatchFold  = "fold"
	CategoryMatchExact = "exact"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
	Engine       EngineConfig
	Scheduler    SchedulerConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level   string
	Format  string
	Output  string
	Service string
}

// AuthConfig defines bearer token parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// NotificationConfig selects the outbound delivery channel.
type NotificationConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
	QueueSize    int
}

// EngineConfig tunes the lifecycle engine.
type EngineConfig struct {
	EscalationFireMode   string
	UnresolvableApprover string
	CategoryMatch        string
	StrictTransitions    bool
	ScanWorkers          int
	RuleCacheTTLSeconds  int
	ScanLockTTLSeconds   int
	SeedFile             string
}

// SchedulerConfig controls the in-process escalation ticker and the HTTP trigger.
type SchedulerConfig struct {
	Enabled          bool
	IntervalSeconds  int
	TriggerTokenHash string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "servicedesk-engine"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level:   getEnv("LOG_LEVEL", "info"),
			Format:  getEnv("LOG_FORMAT", "json"),
			Output:  getEnv("LOG_OUTPUT", "stdout"),
			Service: getEnv("APP_NAME", "servicedesk-engine"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Notification: NotificationConfig{
			KafkaBrokers: getEnvAsList("NOTIFY_KAFKA_BROKERS"),
			KafkaTopic:   getEnv("NOTIFY_KAFKA_TOPIC", "servicedesk.notifications"),
			QueueSize:    getEnvAsInt("NOTIFY_QUEUE_SIZE", 1024),
		},
		Engine: EngineConfig{
			EscalationFireMode:   getEnv("ENGINE_ESCALATION_FIRE_MODE", FireModeEveryScan),
			UnresolvableApprover: getEnv("ENGINE_UNRESOLVABLE_APPROVER", ApproverPolicyStall),
			CategoryMatch:        getEnv("ENGINE_CATEGORY_MATCH", CategoryMatchFold),
			StrictTransitions:    getEnvAsBool("ENGINE_STRICT_TRANSITIONS", true),
			ScanWorkers:          getEnvAsInt("ENGINE_SCAN_WORKERS", 4),
			RuleCacheTTLSeconds:  getEnvAsInt("ENGINE_RULE_CACHE_TTL_SECONDS", 30),
			ScanLockTTLSeconds:   getEnvAsInt("ENGINE_SCAN_LOCK_TTL_SECONDS", 600),
			SeedFile:             os.Getenv("ENGINE_SEED_FILE"),
		},
		Scheduler: SchedulerConfig{
			Enabled:          getEnvAsBool("SCHEDULER_ENABLED", true),
			IntervalSeconds:  getEnvAsInt("ENGINE_SCAN_INTERVAL_SECONDS", 300),
			TriggerTokenHash: os.Getenv("SCHEDULER_TOKEN_HASH"),
		},
	}

	if err := cfg.Engine.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown engine modes.
func (e EngineConfig) Validate() error {
	switch e.EscalationFireMode {
	case FireModeEveryScan, FireModeOncePerBreach:
	default:
		return fmt.Errorf("invalid ENGINE_ESCALATION_FIRE_MODE %q", e.EscalationFireMode)
	}
	switch e.UnresolvableApprover {
	case ApproverPolicyStall, ApproverPolicySkip:
	default:
		return fmt.Errorf("invalid ENGINE_UNRESOLVABLE_APPROVER %q", e.UnresolvableApprover)
	}
	switch e.CategoryMatch {
	case "", CategoryMatchFold, CategoryMatchExact:
	default:
		return fmt.Errorf("invalid ENGINE_CATEGORY_MATCH %q", e.CategoryMatch)
	}
	return nil
}

// ExactCategories reports whether assignment categories compare byte for byte.
func (e EngineConfig) ExactCategories() bool {
	return e.CategoryMatch == CategoryMatchExact
}

// RuleCacheTTL returns the redis snapshot TTL; zero disables caching.
func (e EngineConfig) RuleCacheTTL() time.Duration {
	if e.RuleCacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(e.RuleCacheTTLSeconds) * time.Second
}

// ScanLockTTL bounds how long a crashed scanner can hold the distributed lock.
func (e EngineConfig) ScanLockTTL() time.Duration {
	if e.ScanLockTTLSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(e.ScanLockTTLSeconds) * time.Second
}

// Interval returns the scan period.
func (s SchedulerConfig) Interval() time.Duration {
	if s.IntervalSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(s.IntervalSeconds) * time.Second
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
