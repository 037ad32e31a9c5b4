package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the worker's full environment configuration, parsed from
// process env (with .env file and CLI-flag overrides layered on top).
type Config struct {
	MQTTBroker     string `env:"MQTT_BROKER" envDefault:"tcp://localhost:1883"`
	MQTTPort       int    `env:"MQTT_PORT" envDefault:"1883"`
	MQTTClientID   string `env:"MQTT_CLIENT_ID" envDefault:"siwatt-worker"`
	MQTTUsername   string `env:"MQTT_USERNAME"`
	MQTTPassword   string `env:"MQTT_PASSWORD"`
	MQTTTopicWildcard string `env:"MQTT_TOPIC_WILDCARD" envDefault:"/siwatt-mqtt/+/swm-raw/+"`
	MQTTTopicMode     string `env:"MQTT_TOPIC_MODE" envDefault:"prefixed"`

	DBHost string `env:"DB_HOST" envDefault:"localhost"`
	DBPort int    `env:"DB_PORT" envDefault:"5432"`
	DBUser string `env:"DB_USER" envDefault:"postgres"`
	DBPass string `env:"DB_PASS"`
	DBName string `env:"DB_NAME" envDefault:"siwatt"`

	// BalanceDecreaseMode selects which rollover triggers the token decrement.
	BalanceDecreaseMode string `env:"BALANCE_DECREASE_MODE" envDefault:"minute"`
	LogLevel            string `env:"LOG_LEVEL" envDefault:"info"`

	BufferDir   string `env:"BUFFER_DIR" envDefault:"./data/buffer"`
	BufferWatch bool   `env:"BUFFER_WATCH" envDefault:"true"`

	OpsHTTPAddr     string  `env:"OPS_HTTP_ADDR" envDefault:":9090"`
	OpsAdminToken   string  `env:"OPS_ADMIN_TOKEN"`
	SweepRatePerMin float64 `env:"OPS_SWEEP_RATE_PER_MIN" envDefault:"6"`

	// Archive mirrors quarantined bad buffer lines to S3 for operator review.
	// Disabled when ArchiveBucket is empty.
	ArchiveBucket string `env:"ARCHIVE_BUCKET"`
	ArchiveRegion string `env:"ARCHIVE_REGION" envDefault:"us-east-1"`

	ShutdownGrace time.Duration `env:"SHUTDOWN_GRACE" envDefault:"5s"`
}

// DatabaseURL builds the pgx connection string from the discrete DB_* vars.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName)
}

// Validate checks required fields and normalizes enumerated options in place.
func (c *Config) Validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER must be set")
	}
	if c.DBName == "" {
		return fmt.Errorf("DB_NAME must be set")
	}

	c.BalanceDecreaseMode = strings.ToLower(c.BalanceDecreaseMode)
	if c.BalanceDecreaseMode != "minute" && c.BalanceDecreaseMode != "hour" {
		c.BalanceDecreaseMode = "minute"
	}

	c.MQTTTopicMode = strings.ToLower(c.MQTTTopicMode)
	if c.MQTTTopicMode != "simple" && c.MQTTTopicMode != "prefixed" {
		c.MQTTTopicMode = "prefixed"
	}

	return nil
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	LogLevel    string
	MQTTBroker  string
	BufferDir   string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.MQTTBroker != "" {
		cfg.MQTTBroker = overrides.MQTTBroker
	}
	if overrides.BufferDir != "" {
		cfg.BufferDir = overrides.BufferDir
	}

	return cfg, nil
}
