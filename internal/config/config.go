package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v8"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	DBConn   string `env:"DB_CONN" envDefault:"host=localhost port=5436 user=test password=test dbname=ledger sslmode=disable"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"INFO"`

	JWTSecret string        `env:"JWT_SECRET" envDefault:"secret"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"24h"`

	// ReportTimezone decides calendar day and month boundaries for charts and budgets
	ReportTimezone       string `env:"REPORT_TIMEZONE" envDefault:"UTC"`
	BudgetAlertThreshold int    `env:"BUDGET_ALERT_THRESHOLD" envDefault:"80"`
	Currency             string `env:"CURRENCY" envDefault:"USD"`

	ScannerURL     string        `env:"SCANNER_URL"`
	ScannerTimeout time.Duration `env:"SCANNER_TIMEOUT" envDefault:"30s"`

	SMTP SMTP `envPrefix:"SMTP_"`
	AMQP AMQP `envPrefix:"AMQP_"`

	Schedule Schedule
}

// SMTP configures the e-mail notification sink
type SMTP struct {
	Host        string `env:"HOST"`
	Port        string `env:"PORT" envDefault:"587"`
	Username    string `env:"USERNAME"`
	Password    string `env:"PASSWORD"`
	SenderEmail string `env:"SENDER" envDefault:"noreply@ledger.local"`
}

// AMQP configures the broker notification sink
type AMQP struct {
	URL      string `env:"URL"`
	Exchange string `env:"EXCHANGE" envDefault:"ledger.notifications"`
	Queue    string `env:"QUEUE" envDefault:"ledger.notifications"`
}

// Schedule holds cron specs for the periodic jobs
type Schedule struct {
	Recurring string `env:"RECURRING_SCHEDULE" envDefault:"@hourly"`
	Alerts    string `env:"ALERT_SCHEDULE" envDefault:"0 */6 * * *"`
	Reports   string `env:"REPORT_SCHEDULE" envDefault:"0 6 1 * *"`
}

// NewConfig loads configuration from the environment, reading .env first when present
func NewConfig() (*Config, error) {
	// .env is optional outside local development
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required values
func (c *Config) Validate() error {
	if c.DBConn == "" {
		return fmt.Errorf("DB_CONN is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.BudgetAlertThreshold <= 0 || c.BudgetAlertThreshold > 100 {
		return fmt.Errorf("BUDGET_ALERT_THRESHOLD must be in (0, 100], got %d", c.BudgetAlertThreshold)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves ReportTimezone
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ReportTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid REPORT_TIMEZONE %q: %w", c.ReportTimezone, err)
	}
	return loc, nil
}
