package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                     string        `mapstructure:"PORT"`
	Env                      string        `mapstructure:"ENV"`
	DatabaseURL              string        `mapstructure:"DATABASE_URL"`
	DBMaxConns               int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns               int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL                 string        `mapstructure:"REDIS_URL"`
	KafkaBrokers             []string      `mapstructure:"KAFKA_BROKERS"`
	NotificationTopic        string        `mapstructure:"NOTIFICATION_TOPIC"`
	AuthSigningKey           string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer               string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience             string        `mapstructure:"AUTH_AUDIENCE"`
	PrescriptionValidityDays int           `mapstructure:"PRESCRIPTION_VALIDITY_DAYS"`
	OrderNumberAttempts      int           `mapstructure:"ORDER_NUMBER_ATTEMPTS"`
	IdempotencyTTL           time.Duration `mapstructure:"IDEMPOTENCY_TTL"`
	NotifyTimeout            time.Duration `mapstructure:"NOTIFY_TIMEOUT"`
	OTLPEndpoint             string        `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName              string        `mapstructure:"SERVICE_NAME"`
	CORSOrigins              []string      `mapstructure:"CORS_ORIGINS"`
	StrictLineTotals         bool          `mapstructure:"STRICT_LINE_TOTALS"`
	RateLimitRPS             float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst           int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit                string        `mapstructure:"BODY_LIMIT"`
	RequestTimeout           time.Duration `mapstructure:"REQUEST_TIMEOUT"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"KAFKA_BROKERS", "NOTIFICATION_TOPIC", "AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"PRESCRIPTION_VALIDITY_DAYS", "ORDER_NUMBER_ATTEMPTS", "IDEMPOTENCY_TTL", "NOTIFY_TIMEOUT",
	"OTEL_EXPORTER_OTLP_ENDPOINT", "SERVICE_NAME", "CORS_ORIGINS", "STRICT_LINE_TOTALS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT", "REQUEST_TIMEOUT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("NOTIFICATION_TOPIC", "eczane.notifications")
	v.SetDefault("PRESCRIPTION_VALIDITY_DAYS", 2)
	v.SetDefault("ORDER_NUMBER_ATTEMPTS", 5)
	v.SetDefault("IDEMPOTENCY_TTL", "24h")
	v.SetDefault("NOTIFY_TIMEOUT", "5s")
	v.SetDefault("SERVICE_NAME", "eczane-server")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("STRICT_LINE_TOTALS", false)
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("REQUEST_TIMEOUT", "30s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitCSV(v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitCSV(v.GetString("KAFKA_BROKERS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// a signing key is required so that bearer tokens are actually verified.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if c.PrescriptionValidityDays < 1 {
		return fmt.Errorf("PRESCRIPTION_VALIDITY_DAYS must be at least 1, got %d", c.PrescriptionValidityDays)
	}
	if c.OrderNumberAttempts < 1 {
		return fmt.Errorf("ORDER_NUMBER_ATTEMPTS must be at least 1, got %d", c.OrderNumberAttempts)
	}
	if c.NotifyTimeout <= 0 {
		return fmt.Errorf("NOTIFY_TIMEOUT must be positive")
	}
	return nil
}
