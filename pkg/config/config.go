package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Stripe    StripeConfig
	Chapa     ChapaConfig
	Reconcile ReconcileConfig
	RateLimit RateLimitConfig
	Frontend  FrontendConfig
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	BackendURL    string
	Timeout       time.Duration
}

type ChapaConfig struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
	CallbackURL   string
	Timeout       time.Duration
}

// ReconcileConfig drives the stale PENDING sweeper.
type ReconcileConfig struct {
	SweepEnabled   bool
	SweepInterval  time.Duration
	StaleAfter     time.Duration
	SweepBatchSize int
	ProgressTTL    time.Duration
	IdempotencyTTL time.Duration
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

type FrontendConfig struct {
	URL string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:      normalizeRedisURL(getEnv("REDIS_URL", "localhost:6379")),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "change-this-secret"),
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			BackendURL:    getEnv("STRIPE_API_URL", ""),
			Timeout:       getDurationEnv("STRIPE_TIMEOUT", 15*time.Second),
		},
		Chapa: ChapaConfig{
			SecretKey:     getEnv("CHAPA_SECRET_KEY", ""),
			WebhookSecret: getEnv("CHAPA_WEBHOOK_SECRET", ""),
			BaseURL:       getEnv("CHAPA_BASE_URL", "https://api.chapa.co/v1"),
			CallbackURL:   getEnv("CHAPA_CALLBACK_URL", ""),
			Timeout:       getDurationEnv("CHAPA_TIMEOUT", 15*time.Second),
		},
		Reconcile: ReconcileConfig{
			SweepEnabled:   getBoolEnv("RECONCILE_SWEEP_ENABLED", true),
			SweepInterval:  getDurationEnv("RECONCILE_SWEEP_INTERVAL", 5*time.Minute),
			StaleAfter:     getDurationEnv("RECONCILE_STALE_AFTER", 15*time.Minute),
			SweepBatchSize: getIntEnv("RECONCILE_SWEEP_BATCH", 100),
			ProgressTTL:    getDurationEnv("CAMPAIGN_PROGRESS_TTL", 30*time.Second),
			IdempotencyTTL: getDurationEnv("IDEMPOTENCY_TTL", 24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			Requests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
			Window:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		},
		Frontend: FrontendConfig{
			URL: strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:3000"), "/"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func normalizeRedisURL(url string) string {
	// go-redis wants host:port
	if strings.HasPrefix(url, "redis+tls://") {
		return url[len("redis+tls://"):]
	}
	if strings.HasPrefix(url, "redis://") {
		return url[len("redis://"):]
	}
	return url
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return defaultValue
}
