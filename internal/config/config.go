package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all runtime configuration. The three Stripe values are the
// only hard requirements: without them the service cannot create sessions
// or verify webhooks, so startup fails.
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// StoragePath defaults to a file in the OS temp dir when unset.
	StoragePath string `env:"STORAGE_PATH"`
	DBPath      string `env:"DB_PATH" envDefault:"subvault.db"`
	StaticDir   string `env:"STATIC_DIR" envDefault:"web/static"`

	StripeSecretKey      string `env:"STRIPE_SECRET_KEY,required"`
	StripePublishableKey string `env:"STRIPE_PUBLISHABLE_KEY,required"`
	StripeWebhookSecret  string `env:"STRIPE_WEBHOOK_SECRET,required"`

	MonthlyPriceID string `env:"STRIPE_MONTHLY_PRICE_ID" envDefault:"price_1S5qauBpmBtDUil1ZfM5aeXP"`
	YearlyPriceID  string `env:"STRIPE_YEARLY_PRICE_ID" envDefault:"price_1S5qavBpmBtDUil154oVhrMz"`
}

// Load reads configuration from the environment, after loading a .env file
// if one exists.
func Load() (Config, error) {
	// The .env file is optional; absence is not an error.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.StoragePath == "" {
		cfg.StoragePath = filepath.Join(os.TempDir(), "subscriptions.json")
	}
	return cfg, nil
}
