package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the bot.
type Config struct {
	App        AppConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Logger     LoggerConfig
	Auth       AuthConfig
	WhatsApp   WhatsAppConfig
	Paynow     PaynowConfig
	Pricing    PricingConfig
	Matching   MatchingConfig
	Reconciler ReconcilerConfig
	Storage    StorageConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	PublicBaseURL         string
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

// RedisConfig holds Redis connection values plus the turn lock and dedupe windows.
type RedisConfig struct {
	Addr                   string
	Password               string
	DB                     int
	TurnLockTTLSeconds     int
	MessageDedupeTTLMinute int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
	// Format is "json" or "console".
	Format string
	// Sample throttles repeated entries per second; 0 logs everything.
	Sample int
}

// AuthConfig defines callback token and admin key parameters.
type AuthConfig struct {
	CallbackJWTSecret       string
	CallbackTokenTTLMinutes int
	AdminKeyHash            string
}

// WhatsAppConfig points at the Green API gateway.
type WhatsAppConfig struct {
	BaseURL            string
	InstanceID         string
	APIToken           string
	SendTimeoutSeconds int
}

// PaynowIntegration is one merchant integration (Paynow issues one per currency).
type PaynowIntegration struct {
	ID  string
	Key string
}

// PaynowConfig configures the payment provider.
type PaynowConfig struct {
	BaseURL        string
	AuthEmail      string
	TimeoutSeconds int
	Integrations   map[string]PaynowIntegration
}

// PricingConfig maps currency code to the unlock price in minor units.
type PricingConfig struct {
	Cents map[string]int64
}

// MatchingConfig tunes the matching engine.
type MatchingConfig struct {
	Limit     int
	RulesFile string
	// EnableFlows lists flows declared disabled in the rules that should run.
	EnableFlows []string
}

// ReconcilerConfig controls the settlement loop.
type ReconcilerConfig struct {
	IntervalSeconds       int
	PaymentTimeoutSeconds int
	Concurrency           int
}

// StorageConfig configures the profile picture archive.
type StorageConfig struct {
	Bucket         string
	Region         string
	PresignMinutes int
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
			Name:                  getEnv("APP_NAME", "matchbot"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			PublicBaseURL:         strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),
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
			Addr:                   getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:               os.Getenv("REDIS_PASSWORD"),
			DB:                     redisDB,
			TurnLockTTLSeconds:     getEnvAsInt("TURN_LOCK_TTL_SECONDS", 30),
			MessageDedupeTTLMinute: getEnvAsInt("MESSAGE_DEDUPE_TTL_MINUTES", 60),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Sample: getEnvAsInt("LOG_SAMPLE_PER_SECOND", 100),
		},
		Auth: AuthConfig{
			CallbackJWTSecret:       getEnv("CALLBACK_JWT_SECRET", "dev-secret"),
			CallbackTokenTTLMinutes: getEnvAsInt("CALLBACK_TOKEN_TTL_MINUTES", 1440),
			AdminKeyHash:            os.Getenv("ADMIN_KEY_HASH"),
		},
		WhatsApp: WhatsAppConfig{
			BaseURL:            strings.TrimRight(getEnv("GREEN_API_URL", "https://api.green-api.com"), "/"),
			InstanceID:         os.Getenv("ID_INSTANCE"),
			APIToken:           os.Getenv("API_TOKEN_INSTANCE"),
			SendTimeoutSeconds: getEnvAsInt("WHATSAPP_SEND_TIMEOUT_SECONDS", 10),
		},
		Paynow: PaynowConfig{
			BaseURL:        strings.TrimRight(getEnv("PAYNOW_BASE_URL", "https://www.paynow.co.zw/interface"), "/"),
			AuthEmail:      os.Getenv("PAYNOW_AUTH_EMAIL"),
			TimeoutSeconds: getEnvAsInt("PAYNOW_TIMEOUT_SECONDS", 15),
			Integrations: map[string]PaynowIntegration{
				"USD": {ID: os.Getenv("PAYNOW_USD_INTEGRATION_ID"), Key: os.Getenv("PAYNOW_USD_INTEGRATION_KEY")},
				"ZWG": {ID: os.Getenv("PAYNOW_ZWG_INTEGRATION_ID"), Key: os.Getenv("PAYNOW_ZWG_INTEGRATION_KEY")},
			},
		},
		Pricing: PricingConfig{
			Cents: map[string]int64{
				"USD": int64(getEnvAsInt("PRICE_USD_CENTS", 200)),
				"ZWG": int64(getEnvAsInt("PRICE_ZWG_CENTS", 5000)),
			},
		},
		Matching: MatchingConfig{
			Limit:       clamp(getEnvAsInt("MATCH_LIMIT", 3), 1, 10),
			RulesFile:   os.Getenv("RULES_FILE"),
			EnableFlows: getEnvAsList("ENABLE_FLOWS"),
		},
		Reconciler: ReconcilerConfig{
			IntervalSeconds:       getEnvAsInt("RECONCILE_INTERVAL_SECONDS", 15),
			PaymentTimeoutSeconds: getEnvAsInt("PAYMENT_TIMEOUT_SECONDS", 60),
			Concurrency:           getEnvAsInt("RECONCILE_CONCURRENCY", 4),
		},
		Storage: StorageConfig{
			Bucket:         os.Getenv("S3_BUCKET_NAME"),
			Region:         getEnv("AWS_REGION", "af-south-1"),
			PresignMinutes: getEnvAsInt("S3_PRESIGN_MINUTES", 60),
		},
	}

	if cfg.Reconciler.IntervalSeconds <= 0 {
		return nil, fmt.Errorf("invalid RECONCILE_INTERVAL_SECONDS: %d", cfg.Reconciler.IntervalSeconds)
	}
	if cfg.Reconciler.PaymentTimeoutSeconds < 0 {
		return nil, fmt.Errorf("invalid PAYMENT_TIMEOUT_SECONDS: %d", cfg.Reconciler.PaymentTimeoutSeconds)
	}

	return cfg, nil
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

// TurnLockTTL bounds how long a single user's turn may hold the lock.
func (r RedisConfig) TurnLockTTL() time.Duration {
	return seconds(r.TurnLockTTLSeconds, 30)
}

// DedupeTTL is how long an inbound message id is remembered.
func (r RedisConfig) DedupeTTL() time.Duration {
	if r.MessageDedupeTTLMinute <= 0 {
		return time.Hour
	}
	return time.Duration(r.MessageDedupeTTLMinute) * time.Minute
}

// CallbackTokenTTL is the lifetime of a payment result URL token.
func (a AuthConfig) CallbackTokenTTL() time.Duration {
	if a.CallbackTokenTTLMinutes <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(a.CallbackTokenTTLMinutes) * time.Minute
}

// SendTimeout bounds one outbound gateway call.
func (w WhatsAppConfig) SendTimeout() time.Duration {
	return seconds(w.SendTimeoutSeconds, 10)
}

// Timeout bounds one provider call.
func (p PaynowConfig) Timeout() time.Duration {
	return seconds(p.TimeoutSeconds, 15)
}

// Interval is the reconciler tick period.
func (r ReconcilerConfig) Interval() time.Duration {
	return seconds(r.IntervalSeconds, 15)
}

// PaymentTimeout returns zero when sessions never expire.
func (r ReconcilerConfig) PaymentTimeout() time.Duration {
	if r.PaymentTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(r.PaymentTimeoutSeconds) * time.Second
}

// PresignTTL is the lifetime of a presigned picture URL.
func (s StorageConfig) PresignTTL() time.Duration {
	if s.PresignMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(s.PresignMinutes) * time.Minute
}

func seconds(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getEnvAsList splits a comma-separated variable, dropping empty items.
func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
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
