package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	HTTP     ServerConfig
	MySQL    MySQLConfig
	Redis    RedisConfig
	Log      LogConfig
	JWT      JWTConfig
	Webhook  WebhookConfig
	Audit    AuditConfig
	Mpesa    MpesaConfig
	Stripe   StripeConfig
	Paypal   PaypalConfig
	Payments PaymentsConfig
	Jobs     JobsConfig
}

type AppConfig struct {
	ServiceName string
	Environment string
}

type ServerConfig struct {
	Host string
	Port string
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	DedupTTL time.Duration
}

type LogConfig struct {
	Level string
}

type JWTConfig struct {
	Secret string
	TTL    time.Duration
}

type WebhookConfig struct {
	IPAllowlist []string
	TrustProxy  bool
}

type AuditConfig struct {
	RedactKeys     []string
	BufferSize     int
	EnqueueTimeout time.Duration
	PersistEvents  bool
}

type MpesaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	WebhookSecret  string
	HTTPTimeout    time.Duration
}

type StripeConfig struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string
	HTTPTimeout   time.Duration
}

type PaypalConfig struct {
	BaseURL       string
	ClientID      string
	ClientSecret  string
	WebhookSecret string
	HTTPTimeout   time.Duration
}

type PaymentsConfig struct {
	CallbackBaseURL     string
	WebhookSecrets      map[string]string
	ReconcileStaleAfter time.Duration
	JobBatchSize        int32
}

type JobsConfig struct {
	ReconcileInterval time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		return nil, errors.New("MYSQL_DSN environment variable is required")
	}
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, errors.New("JWT_SECRET environment variable is required")
	}

	mpesa := MpesaConfig{
		BaseURL:        getEnv("MPESA_BASE_URL", ""),
		ConsumerKey:    getEnv("MPESA_CONSUMER_KEY", ""),
		ConsumerSecret: getEnv("MPESA_CONSUMER_SECRET", ""),
		ShortCode:      getEnv("MPESA_SHORT_CODE", ""),
		Passkey:        getEnv("MPESA_PASSKEY", ""),
		WebhookSecret:  getEnv("MPESA_WEBHOOK_SECRET", ""),
		HTTPTimeout:    getSecondsEnv("MPESA_HTTP_TIMEOUT_SECONDS", 10*time.Second),
	}
	stripe := StripeConfig{
		BaseURL:       getEnv("STRIPE_BASE_URL", ""),
		SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		HTTPTimeout:   getSecondsEnv("STRIPE_HTTP_TIMEOUT_SECONDS", 10*time.Second),
	}
	paypal := PaypalConfig{
		BaseURL:       getEnv("PAYPAL_BASE_URL", ""),
		ClientID:      getEnv("PAYPAL_CLIENT_ID", ""),
		ClientSecret:  getEnv("PAYPAL_CLIENT_SECRET", ""),
		WebhookSecret: getEnv("PAYPAL_WEBHOOK_SECRET", ""),
		HTTPTimeout:   getSecondsEnv("PAYPAL_HTTP_TIMEOUT_SECONDS", 10*time.Second),
	}

	return &Config{
		App: AppConfig{
			ServiceName: getEnv("APP_SERVICE_NAME", "payments-service"),
			Environment: getEnv("APP_ENV", "development"),
		},
		HTTP: ServerConfig{
			Host: getEnv("HTTP_HOST", "0.0.0.0"),
			Port: getEnv("HTTP_PORT", "8080"),
		},
		MySQL: MySQLConfig{
			DSN:             mysqlDSN,
			MaxOpenConns:    getIntEnv("MYSQL_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntEnv("MYSQL_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getMinutesEnv("MYSQL_CONN_MAX_LIFETIME_MINUTES", 30*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
			DedupTTL: getMinutesEnv("REDIS_DEDUP_TTL_MINUTES", 10*time.Minute),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		JWT: JWTConfig{
			Secret: jwtSecret,
			TTL:    getMinutesEnv("JWT_TTL_MINUTES", 24*time.Hour),
		},
		Webhook: WebhookConfig{
			IPAllowlist: getListEnv("WEBHOOK_IP_ALLOWLIST"),
			TrustProxy:  getBoolEnv("WEBHOOK_TRUST_PROXY", false),
		},
		Audit: AuditConfig{
			RedactKeys:     getListEnv("AUDIT_REDACT_KEYS"),
			BufferSize:     getIntEnv("AUDIT_BUFFER_SIZE", 256),
			EnqueueTimeout: getMillisEnv("AUDIT_ENQUEUE_TIMEOUT_MS", 100*time.Millisecond),
			PersistEvents:  getBoolEnv("AUDIT_PERSIST_EVENTS", false),
		},
		Mpesa:  mpesa,
		Stripe: stripe,
		Paypal: paypal,
		Payments: PaymentsConfig{
			CallbackBaseURL: getEnv("PAYMENTS_CALLBACK_BASE_URL", ""),
			WebhookSecrets: map[string]string{
				"mpesa":  mpesa.WebhookSecret,
				"stripe": stripe.WebhookSecret,
				"paypal": paypal.WebhookSecret,
			},
			ReconcileStaleAfter: getMinutesEnv("PAYMENTS_RECONCILE_STALE_AFTER_MINUTES", 15*time.Minute),
			JobBatchSize:        int32(getIntEnv("PAYMENTS_JOB_BATCH_SIZE", 100)),
		},
		Jobs: JobsConfig{
			ReconcileInterval: getMinutesEnv("PAYMENTS_RECONCILE_INTERVAL_MINUTES", 2*time.Minute),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}

	items := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}

func getMinutesEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
	}
	return defaultValue
}

func getSecondsEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func getMillisEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if millis, err := strconv.Atoi(value); err == nil {
			return time.Duration(millis) * time.Millisecond
		}
	}
	return defaultValue
}
