package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port    string `env:"PORT" envDefault:"8080"`
	GinMode string `env:"GIN_MODE" envDefault:"debug"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	DBDriver string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBDSN    string `env:"DB_DSN" envDefault:"restaurant_floor.db"`

	IdentitySecret string `env:"IDENTITY_JWT_SECRET"`

	SessionTTL              time.Duration `env:"SESSION_TTL" envDefault:"2h"`
	SessionSweepInterval    time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"60s"`
	SessionExpireToCleaning bool          `env:"SESSION_EXPIRE_TO_CLEANING" envDefault:"false"`
	SessionRejoin           bool          `env:"SESSION_REJOIN" envDefault:"true"`

	LockWait       time.Duration `env:"LOCK_WAIT" envDefault:"2s"`
	BackendTimeout time.Duration `env:"BACKEND_TIMEOUT" envDefault:"5s"`
	ReadAttempts   uint          `env:"READ_ATTEMPTS" envDefault:"2"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"floor.events"`

	ContentAPIURL     string        `env:"CONTENT_API_URL"`
	ContentAPITimeout time.Duration `env:"CONTENT_API_TIMEOUT" envDefault:"3s"`

	ScanRate  float64 `env:"SCAN_RATE" envDefault:"1"`
	ScanBurst int     `env:"SCAN_BURST" envDefault:"5"`

	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://127.0.0.1:5500"`

	ContentSecurityPolicy string        `env:"CONTENT_SECURITY_POLICY" envDefault:"default-src 'self'"`
	HSTSMaxAge            time.Duration `env:"HSTS_MAX_AGE" envDefault:"8760h"`
}

// Load reads .env (when present) and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found or error loading: %v", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.DBDriver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.IdentitySecret == "" {
		return fmt.Errorf("IDENTITY_JWT_SECRET is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if c.SessionSweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be positive")
	}
	return nil
}
