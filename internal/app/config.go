package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (RENT_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (RENT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Payment     PaymentConfig
	Reconcile   ReconcileConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// PaymentConfig controls the mobile-money provider integration.
type PaymentConfig struct {
	BaseURL     string        `usage:"Payment provider API root" flag:"payment-base-url"`
	APIKey      string        `usage:"Payment provider API key (RENT_PAYMENT_APIKEY)" flag:"payment-api-key"`
	TargetEnv   string        `default:"sandbox" usage:"Payment provider target environment" flag:"payment-target-env"`
	CountryCode string        `default:"250" usage:"Default country code for local payer numbers" flag:"payment-country-code"`
	Timeout     time.Duration `default:"10s" usage:"Per-call provider timeout" flag:"payment-timeout"`
	// Simulate replaces the real provider with the in-process simulator.
	// Opt-in only; the server logs loudly when it is on.
	Simulate      bool          `default:"false" usage:"Use the payment simulator instead of a real provider" flag:"payment-simulate"`
	SimulateDelay time.Duration `default:"15s" usage:"Simulator delay before a push settles" flag:"payment-simulate-delay"`
}

// ReconcileConfig controls the stale-payment reconciliation poller.
type ReconcileConfig struct {
	Interval  time.Duration `default:"30s" usage:"Reconciliation sweep interval" flag:"reconcile-interval"`
	MinAge    time.Duration `default:"2m" usage:"Pending age before the provider is queried" flag:"reconcile-min-age"`
	BatchSize int           `default:"100" usage:"Max reservations per sweep" flag:"reconcile-batch-size"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "RENT",
		Files:     []string{"config.yaml", "/etc/bodarent/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set RENT_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's RENT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
