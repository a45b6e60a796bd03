package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"pos-service/database"

	aws_pkg "pos-service/pkg/aws"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Payment providers selectable with PAYMENT_PROVIDER.
const (
	ProviderXendit  = "xendit"
	ProviderStripe  = "stripe"
	ProviderSandbox = "sandbox"
)

// Config holds all configuration for the POS service.
type Config struct {
	Port           string
	Env            string
	AllowedOrigins string
	JWTSecret      string

	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string
	PostgresTimeZone string

	RedisURL string
	CartTTL  time.Duration

	PaymentProvider     string
	XenditSecretKey     string
	XenditBaseURL       string
	XenditWebhookToken  string
	StripeAPIKey        string
	StripeWebhookSecret string
	PaymentCurrency     string
	PaymentTimeout      time.Duration
	PaymentSetupTries   int
	SimulationEnabled   bool
	TaxRate             decimal.Decimal

	WebhookRatePerMinute int
	WebhookRateBurst     int

	OrderSNSTopicARN        string
	PaymentCallbackQueueURL string
	UseSecrets              bool
	CloudWatchEnabled       bool
}

// Postgres returns the connection settings for the database package.
func (c *Config) Postgres() database.PostgresConfig {
	return database.PostgresConfig{
		Host:     c.PostgresHost,
		Port:     c.PostgresPort,
		User:     c.PostgresUser,
		Password: c.PostgresPassword,
		DBName:   c.PostgresDB,
		SSLMode:  c.PostgresSSLMode,
		TimeZone: c.PostgresTimeZone,
	}
}

// LoadConfig reads configuration from environment variables with optional
// Secrets Manager override.
func LoadConfig(logger *zap.Logger) (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8095"),
		Env:            getEnv("APP_ENV", "development"),
		AllowedOrigins: os.Getenv("ALLOWED_ORIGINS"),
		JWTSecret:      os.Getenv("JWT_SECRET"),

		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     os.Getenv("POSTGRES_HOST"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone: getEnv("POSTGRES_TIMEZONE", "Asia/Jakarta"),

		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		PaymentProvider:     strings.ToLower(getEnv("PAYMENT_PROVIDER", ProviderXendit)),
		XenditSecretKey:     os.Getenv("XENDIT_SECRET_KEY"),
		XenditBaseURL:       getEnv("XENDIT_BASE_URL", "https://api.xendit.co"),
		XenditWebhookToken:  os.Getenv("XENDIT_WEBHOOK_TOKEN"),
		StripeAPIKey:        os.Getenv("STRIPE_API_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		PaymentCurrency:     getEnv("PAYMENT_CURRENCY", "IDR"),

		OrderSNSTopicARN:        os.Getenv("ORDER_SNS_TOPIC_ARN"),
		PaymentCallbackQueueURL: os.Getenv("PAYMENT_CALLBACK_QUEUE_URL"),
		UseSecrets:              os.Getenv("AWS_USE_SECRETS") == "true",
		CloudWatchEnabled:       os.Getenv("CLOUDWATCH_ENABLED") == "true",
	}

	var err error
	if cfg.CartTTL, err = getDuration("CART_TTL", 12*time.Hour); err != nil {
		return nil, err
	}
	if cfg.PaymentTimeout, err = getDuration("PAYMENT_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.PaymentSetupTries, err = getInt("PAYMENT_SETUP_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.WebhookRatePerMinute, err = getInt("WEBHOOK_RATE_PER_MINUTE", 600); err != nil {
		return nil, err
	}
	if cfg.WebhookRateBurst, err = getInt("WEBHOOK_RATE_BURST", 50); err != nil {
		return nil, err
	}
	if cfg.SimulationEnabled, err = getBool("PAYMENT_SIMULATION_ENABLED", false); err != nil {
		return nil, err
	}
	if cfg.TaxRate, err = decimal.NewFromString(getEnv("TAX_RATE", "0.10")); err != nil {
		return nil, fmt.Errorf("invalid TAX_RATE: %w", err)
	}

	if cfg.UseSecrets {
		cfg.applySecrets(context.Background(), logger)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applySecrets overrides DB credentials and payment secrets from Secrets
// Manager when running on AWS. Missing secrets keep the env values.
func (c *Config) applySecrets(ctx context.Context, logger *zap.Logger) {
	awsCfg, err := aws_pkg.LoadAWSConfig(ctx)
	if err != nil {
		logger.Warn("AWS config unavailable, skipping Secrets Manager", zap.Error(err))
		return
	}
	sm := aws_pkg.NewSecretsClient(awsCfg)

	if m, err := sm.GetSecretMap(ctx, "pos/DB_CREDENTIALS"); err == nil {
		overrideFrom(m, "POSTGRES_USER", &c.PostgresUser)
		overrideFrom(m, "POSTGRES_PASSWORD", &c.PostgresPassword)
		overrideFrom(m, "POSTGRES_DB", &c.PostgresDB)
		overrideFrom(m, "POSTGRES_HOST", &c.PostgresHost)
		overrideFrom(m, "POSTGRES_PORT", &c.PostgresPort)
	} else {
		logger.Warn("DB credentials secret unavailable", zap.Error(err))
	}

	for name, dst := range map[string]*string{
		"pos/XENDIT_SECRET_KEY":     &c.XenditSecretKey,
		"pos/XENDIT_WEBHOOK_TOKEN":  &c.XenditWebhookToken,
		"pos/STRIPE_API_KEY":        &c.StripeAPIKey,
		"pos/STRIPE_WEBHOOK_SECRET": &c.StripeWebhookSecret,
		"pos/JWT_SECRET":            &c.JWTSecret,
	} {
		if v, err := sm.GetSecret(ctx, name); err == nil && v != "" {
			*dst = v
		}
	}
}

func overrideFrom(m map[string]string, key string, dst *string) {
	if v, ok := m[key]; ok && v != "" {
		*dst = v
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.PostgresUser == "" || c.PostgresPassword == "" || c.PostgresDB == "" || c.PostgresHost == "" {
		return fmt.Errorf("database config incomplete")
	}

	switch c.PaymentProvider {
	case ProviderXendit:
		if c.XenditSecretKey == "" || c.XenditWebhookToken == "" {
			return fmt.Errorf("xendit provider requires XENDIT_SECRET_KEY and XENDIT_WEBHOOK_TOKEN")
		}
	case ProviderStripe:
		if c.StripeAPIKey == "" || c.StripeWebhookSecret == "" {
			return fmt.Errorf("stripe provider requires STRIPE_API_KEY and STRIPE_WEBHOOK_SECRET")
		}
		// PayNow settles in SGD only.
		if !strings.EqualFold(c.PaymentCurrency, "SGD") {
			return fmt.Errorf("stripe provider requires PAYMENT_CURRENCY=SGD, got %q", c.PaymentCurrency)
		}
	case ProviderSandbox:
	default:
		return fmt.Errorf("unknown PAYMENT_PROVIDER %q", c.PaymentProvider)
	}

	if c.TaxRate.IsNegative() || c.TaxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("TAX_RATE must be in [0,1), got %s", c.TaxRate)
	}
	if c.PaymentSetupTries < 1 {
		return fmt.Errorf("PAYMENT_SETUP_ATTEMPTS must be at least 1")
	}
	if c.PaymentTimeout <= 0 {
		return fmt.Errorf("PAYMENT_TIMEOUT must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
