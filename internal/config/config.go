// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Storage drivers accepted in STORAGE_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Config is the full runtime configuration of the booking service.
type Config struct {
	Port      string `env:"PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	StorageDriver string        `env:"STORAGE_DRIVER" envDefault:"postgres"`
	LockTimeout   time.Duration `env:"LOCK_TIMEOUT" envDefault:"5s"`

	DB    DBConfig
	Mongo MongoConfig
	Kafka KafkaConfig

	OTelEndpoint string `env:"OTEL_ENDPOINT"`

	SeedSampleSessions bool `env:"SEED_SAMPLE_SESSIONS" envDefault:"false"`

	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
	Name     string `env:"DB_NAME" envDefault:"classbooking"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
	MaxConns int32  `env:"DB_MAX_CONNS" envDefault:"20"`
}

// DSN builds a libpq-compatible connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// MongoConfig holds MongoDB connection settings.
type MongoConfig struct {
	URI         string        `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	Database    string        `env:"MONGO_DATABASE" envDefault:"classbooking"`
	ConnTimeout time.Duration `env:"MONGO_CONN_TIMEOUT" envDefault:"10s"`
}

// KafkaConfig holds booking event publishing settings. Publishing is
// disabled when Brokers is empty.
type KafkaConfig struct {
	Brokers      []string      `env:"KAFKA_BROKERS" envSeparator:","`
	Topic        string        `env:"KAFKA_TOPIC" envDefault:"bookings.created"`
	RequiredAcks int           `env:"KAFKA_REQUIRED_ACKS" envDefault:"-1"`
	MaxAttempts  int           `env:"KAFKA_MAX_ATTEMPTS" envDefault:"3"`
	BatchTimeout time.Duration `env:"KAFKA_BATCH_TIMEOUT" envDefault:"10ms"`
	// PublishTimeout bounds one booking event publish, retries included.
	PublishTimeout time.Duration `env:"KAFKA_PUBLISH_TIMEOUT" envDefault:"2s"`
}

// Enabled reports whether booking events should be published.
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// Load reads an optional .env file and then parses the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse builds a Config from the process environment and validates it.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var problems []string

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		problems = append(problems, fmt.Sprintf("PORT must be between 1 and 65535, got: %s", c.Port))
	}

	switch c.StorageDriver {
	case DriverPostgres:
		if c.DB.Host == "" || c.DB.Name == "" {
			problems = append(problems, "DB_HOST and DB_NAME are required for the postgres driver")
		}
		if c.DB.MaxConns <= 0 {
			problems = append(problems, fmt.Sprintf("DB_MAX_CONNS must be positive, got: %d", c.DB.MaxConns))
		}
	case DriverMongo:
		if !strings.HasPrefix(c.Mongo.URI, "mongodb://") && !strings.HasPrefix(c.Mongo.URI, "mongodb+srv://") {
			problems = append(problems, "MONGO_URI must start with 'mongodb://' or 'mongodb+srv://'")
		}
		if c.Mongo.Database == "" {
			problems = append(problems, "MONGO_DATABASE cannot be empty")
		}
	case DriverMemory:
	default:
		problems = append(problems, fmt.Sprintf("STORAGE_DRIVER must be one of postgres, mongo, memory, got: %q", c.StorageDriver))
	}

	if c.LockTimeout <= 0 {
		problems = append(problems, fmt.Sprintf("LOCK_TIMEOUT must be positive, got: %s", c.LockTimeout))
	}
	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		problems = append(problems, "KAFKA_TOPIC cannot be empty when KAFKA_BROKERS is set")
	}
	if c.Kafka.PublishTimeout <= 0 {
		problems = append(problems, fmt.Sprintf("KAFKA_PUBLISH_TIMEOUT must be positive, got: %s", c.Kafka.PublishTimeout))
	}
	timeouts := []struct {
		name string
		d    time.Duration
	}{
		{"READ_TIMEOUT", c.ReadTimeout},
		{"WRITE_TIMEOUT", c.WriteTimeout},
		{"IDLE_TIMEOUT", c.IdleTimeout},
		{"SHUTDOWN_TIMEOUT", c.ShutdownTimeout},
	}
	for _, t := range timeouts {
		if t.d <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be positive, got: %s", t.name, t.d))
		}
	}

	if len(problems) > 0 {
		msg := "configuration validation failed:\n"
		for i, p := range problems {
			msg += fmt.Sprintf("  %d. %s\n", i+1, p)
		}
		return errors.New(msg)
	}
	return nil
}
