package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	unsetEnv(t, "PORT", "STORAGE_DRIVER", "LOCK_TIMEOUT", "DB_MAX_CONNS", "KAFKA_BROKERS", "KAFKA_PUBLISH_TIMEOUT", "SEED_SAMPLE_SESSIONS")

	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, DriverPostgres, cfg.StorageDriver)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.Equal(t, int32(20), cfg.DB.MaxConns)
	assert.False(t, cfg.Kafka.Enabled())
	assert.Equal(t, 2*time.Second, cfg.Kafka.PublishTimeout)
	assert.False(t, cfg.SeedSampleSessions)
}

func TestParse_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORAGE_DRIVER", "Memory")
	t.Setenv("LOCK_TIMEOUT", "250ms")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("KAFKA_PUBLISH_TIMEOUT", "300ms")
	t.Setenv("SEED_SAMPLE_SESSIONS", "true")

	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DriverMemory, cfg.StorageDriver)
	assert.Equal(t, 250*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled())
	assert.Equal(t, 300*time.Millisecond, cfg.Kafka.PublishTimeout)
	assert.True(t, cfg.SeedSampleSessions)
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := &Config{
		Port:            "0",
		StorageDriver:   "sqlite",
		LockTimeout:     0,
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		IdleTimeout:     time.Second,
		ShutdownTimeout: time.Second,
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT must be between 1 and 65535")
	assert.Contains(t, err.Error(), "STORAGE_DRIVER must be one of")
	assert.Contains(t, err.Error(), "LOCK_TIMEOUT must be positive")
	assert.Contains(t, err.Error(), "KAFKA_PUBLISH_TIMEOUT must be positive")
}

func TestValidate_MongoURI(t *testing.T) {
	cfg := &Config{
		Port:            "8080",
		StorageDriver:   DriverMongo,
		LockTimeout:     time.Second,
		Mongo:           MongoConfig{URI: "localhost:27017", Database: "classbooking"},
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		IdleTimeout:     time.Second,
		ShutdownTimeout: time.Second,
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MONGO_URI")
}

func TestDBConfig_DSN(t *testing.T) {
	c := DBConfig{Host: "db", Port: "5432", User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", c.DSN())
}

func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		if prev, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { _ = os.Setenv(key, prev) })
		}
		_ = os.Unsetenv(key)
	}
}
