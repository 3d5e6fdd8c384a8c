package config

import (
	"os"
	"strconv"

	// this will automatically load your .env file:
	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	DB       PostgresConfig
	Engine   EngineConfig
	Quota    QuotaConfig
	SMTP     SMTPConfig
	Stripe   StripeConfig
	PlanFile string
}

type PostgresConfig struct {
	Username string
	Password string
	Host     string
	Port     string
	Name     string
	SSLMode  string
}

// Enabled reports whether a database was configured. Without one the
// service runs entirely on the in-memory store.
func (p PostgresConfig) Enabled() bool { return p.Host != "" }

type EngineConfig struct {
	URL           string
	Workers       int
	QueueSize     int
	SweepInterval int // seconds
}

type QuotaConfig struct {
	FreeDailyLimit     int
	FreeWatchlistLimit int
}

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// Enabled reports whether report emails should be sent.
func (s SMTPConfig) Enabled() bool { return s.Host != "" && s.Username != "" }

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	FrontendURL   string
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		DB: PostgresConfig{
			Username: os.Getenv("POSTGRES_USER"),
			Password: os.Getenv("POSTGRES_PWD"),
			Host:     os.Getenv("POSTGRES_HOST"),
			Port:     envDefault("POSTGRES_PORT", "5432"),
			Name:     envDefault("POSTGRES_DB", "guzhi"),
			SSLMode:  envDefault("POSTGRES_SSLMODE", "disable"),
		},
		Engine: EngineConfig{
			URL:           envDefault("ENGINE_URL", "http://localhost:8500"),
			Workers:       envInt("ENGINE_WORKERS", 3),
			QueueSize:     envInt("ENGINE_QUEUE_SIZE", 1024),
			SweepInterval: envInt("MEMBERSHIP_SWEEP_INTERVAL", 300),
		},
		Quota: QuotaConfig{
			FreeDailyLimit:     envInt("FREE_DAILY_LIMIT", 5),
			FreeWatchlistLimit: envInt("FREE_WATCHLIST_LIMIT", 10),
		},
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     envDefault("SMTP_PORT", "587"),
			Username: os.Getenv("SMTP_USER"),
			Password: os.Getenv("SMTP_PWD"),
			From:     os.Getenv("SMTP_FROM"),
		},
		Stripe: StripeConfig{
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
			FrontendURL:   os.Getenv("FRONTEND_URL"),
		},
		PlanFile: os.Getenv("PLAN_FILE"),
	}

	return cfg, nil
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
