package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module provides application configuration.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewReconcileConfigHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	// Shared secret guarding the drain/reconcile triggers.
	TriggerToken string

	Logger LoggerConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	Providers ProvidersConfig
	Worker    WorkerConfig
	RateLimit RateLimitConfig
	Email     EmailConfig
	Metrics   MetricsConfig
}

type LoggerConfig struct {
	Level string
}

// ProviderConfig carries the per-provider webhook and API settings.
type ProviderConfig struct {
	WebhookSecret string
	// NotificationURL participates in Square-style signatures.
	NotificationURL string
	BaseURL         string
	AccessToken     string
}

type ProvidersConfig struct {
	Square ProviderConfig
	Clover ProviderConfig
	Toast  ProviderConfig
}

// ForProvider returns the settings for a provider name, false when unknown.
func (p ProvidersConfig) ForProvider(provider string) (ProviderConfig, bool) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "square":
		return p.Square, true
	case "clover":
		return p.Clover, true
	case "toast":
		return p.Toast, true
	default:
		return ProviderConfig{}, false
	}
}

type WorkerConfig struct {
	RunInterval        time.Duration
	DrainBatchSize     int
	MaxAttempts        int
	LeaseTTL           time.Duration
	ReconcileWindow    time.Duration
	EnabledJobs        []string
	ReconcileLocations []string
}

type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	OpsReconcileRate  float64
	OpsReconcileBurst int
	SweepLockTTL      time.Duration
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

type MetricsConfig struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:      getenv("APP_SERVICE", "posbridge"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		TriggerToken: strings.TrimSpace(getenv("TRIGGER_TOKEN", "")),
		Logger: LoggerConfig{
			Level: getenv("LOG_LEVEL", "info"),
		},
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "posbridge"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		Providers: ProvidersConfig{
			Square: ProviderConfig{
				WebhookSecret:   strings.TrimSpace(getenv("SQUARE_WEBHOOK_SECRET", "")),
				NotificationURL: strings.TrimSpace(getenv("SQUARE_NOTIFICATION_URL", "")),
				BaseURL:         getenv("SQUARE_BASE_URL", "https://connect.squareup.com"),
				AccessToken:     strings.TrimSpace(getenv("SQUARE_ACCESS_TOKEN", "")),
			},
			Clover: ProviderConfig{
				WebhookSecret: strings.TrimSpace(getenv("CLOVER_WEBHOOK_SECRET", "")),
				BaseURL:       getenv("CLOVER_BASE_URL", "https://api.clover.com"),
				AccessToken:   strings.TrimSpace(getenv("CLOVER_ACCESS_TOKEN", "")),
			},
			Toast: ProviderConfig{
				WebhookSecret: strings.TrimSpace(getenv("TOAST_WEBHOOK_SECRET", "")),
				BaseURL:       getenv("TOAST_BASE_URL", "https://ws-api.toasttab.com"),
				AccessToken:   strings.TrimSpace(getenv("TOAST_ACCESS_TOKEN", "")),
			},
		},
		Worker: WorkerConfig{
			RunInterval:        getenvDuration("WORKER_RUN_INTERVAL", time.Minute),
			DrainBatchSize:     getenvInt("WORKER_DRAIN_BATCH_SIZE", 25),
			MaxAttempts:        getenvInt("WORKER_MAX_ATTEMPTS", 6),
			LeaseTTL:           getenvDuration("WORKER_LEASE_TTL", 5*time.Minute),
			ReconcileWindow:    getenvDuration("WORKER_RECONCILE_WINDOW", 30*time.Minute),
			EnabledJobs:        getenvList("WORKER_ENABLED_JOBS"),
			ReconcileLocations: getenvList("WORKER_RECONCILE_LOCATIONS"),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:         strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", "")),
			RedisPassword:     strings.TrimSpace(getenv("RATE_LIMIT_REDIS_PASSWORD", "")),
			RedisDB:           getenvInt("RATE_LIMIT_REDIS_DB", 0),
			OpsReconcileRate:  getenvFloat("RATE_LIMIT_OPS_RECONCILE_RATE", 0.2),
			OpsReconcileBurst: getenvInt("RATE_LIMIT_OPS_RECONCILE_BURST", 3),
			SweepLockTTL:      getenvDuration("RATE_LIMIT_SWEEP_LOCK_TTL", 10*time.Minute),
		},
		Email: EmailConfig{
			SMTPHost:     getenv("SMTP_HOST", ""),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "orders@posbridge.io"),
		},
		Metrics: MetricsConfig{
			Enabled:          getenvBool("METRICS_ENABLED", false),
			ExporterEndpoint: strings.TrimSpace(getenv("METRICS_OTLP_ENDPOINT", "localhost:4317")),
			ExporterProtocol: strings.ToLower(getenv("METRICS_OTLP_PROTOCOL", "grpc")),
		},
	}
}

// IsProduction reports whether the deployment is a production environment.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
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

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvList(key string) []string {
	parts := strings.Split(os.Getenv(key), ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
