package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                 string        `mapstructure:"PORT"`
	Env                  string        `mapstructure:"ENV"`
	DatabaseURL          string        `mapstructure:"DATABASE_URL"`
	DBMaxConns           int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns           int32         `mapstructure:"DB_MIN_CONNS"`
	AuthSigningKey       string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer           string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience         string        `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins          []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS         float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst       int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout       time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit            string        `mapstructure:"BODY_LIMIT"`
	PaystackSecretKey    string        `mapstructure:"PAYSTACK_SECRET_KEY"`
	PaystackBaseURL      string        `mapstructure:"PAYSTACK_BASE_URL"`
	PaystackCallbackURL  string        `mapstructure:"PAYSTACK_CALLBACK_URL"`
	PaystackTimeout      time.Duration `mapstructure:"PAYSTACK_TIMEOUT"`
	PaystackMaxRetries   int           `mapstructure:"PAYSTACK_MAX_RETRIES"`
	PaystackPercentage   float64       `mapstructure:"PAYSTACK_PERCENTAGE_CHARGE"`
	VAPIDSubject         string        `mapstructure:"VAPID_SUBJECT"`
	NotifyRecipient      string        `mapstructure:"NOTIFY_RECIPIENT"`
	DefaultStockLocation string        `mapstructure:"DEFAULT_STOCK_LOCATION"`
	MetricsEnabled       bool          `mapstructure:"METRICS_ENABLED"`
}

var keys = []string{
	"PORT",
	"ENV",
	"DATABASE_URL",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"AUTH_SIGNING_KEY",
	"AUTH_ISSUER",
	"AUTH_AUDIENCE",
	"CORS_ORIGINS",
	"RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST",
	"REQUEST_TIMEOUT",
	"BODY_LIMIT",
	"PAYSTACK_SECRET_KEY",
	"PAYSTACK_BASE_URL",
	"PAYSTACK_CALLBACK_URL",
	"PAYSTACK_TIMEOUT",
	"PAYSTACK_MAX_RETRIES",
	"PAYSTACK_PERCENTAGE_CHARGE",
	"VAPID_SUBJECT",
	"NOTIFY_RECIPIENT",
	"DEFAULT_STOCK_LOCATION",
	"METRICS_ENABLED",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "2M")
	v.SetDefault("PAYSTACK_BASE_URL", "https://api.paystack.co")
	v.SetDefault("PAYSTACK_TIMEOUT", "15s")
	v.SetDefault("PAYSTACK_MAX_RETRIES", 2)
	v.SetDefault("PAYSTACK_PERCENTAGE_CHARGE", 0)
	v.SetDefault("VAPID_SUBJECT", "mailto:admin@localhost")
	v.SetDefault("NOTIFY_RECIPIENT", "admin")
	v.SetDefault("DEFAULT_STOCK_LOCATION", "Main Store")
	v.SetDefault("METRICS_ENABLED", true)

	// Unmarshal only sees keys viper knows about.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(strings.Join(cfg.CORSOrigins, ","))
	if cfg.CORSOrigins == nil {
		cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// PaymentsEnabled reports whether a gateway secret is configured.
func (c *Config) PaymentsEnabled() bool {
	return c.PaystackSecretKey != ""
}

// Validate checks that the configuration is safe to run. Outside development
// a JWT signing key is mandatory; in production the gateway secret is too,
// since webhook signatures cannot be verified without it.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 characters, got %d", len(c.AuthSigningKey))
	}
	if c.IsProduction() && c.PaystackSecretKey == "" {
		return fmt.Errorf("PAYSTACK_SECRET_KEY is required in production")
	}
	if c.PaystackMaxRetries < 0 {
		return fmt.Errorf("PAYSTACK_MAX_RETRIES must not be negative")
	}
	if c.PaystackPercentage < 0 || c.PaystackPercentage > 100 {
		return fmt.Errorf("PAYSTACK_PERCENTAGE_CHARGE must be between 0 and 100")
	}
	if c.PaystackTimeout <= 0 {
		return fmt.Errorf("PAYSTACK_TIMEOUT must be positive")
	}
	if strings.TrimSpace(c.DefaultStockLocation) == "" {
		return fmt.Errorf("DEFAULT_STOCK_LOCATION must not be empty")
	}
	return nil
}
