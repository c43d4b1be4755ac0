package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates every tunable of the broker and its optional side
// channels.
type Config struct {
	Server   ServerConfig
	Kafka    KafkaConfig
	Database DatabaseConfig
	Redis    RedisConfig
}

// ServerConfig controls the TCP listener and the broker's internal limits.
type ServerConfig struct {
	Port            int
	MaxConnections  int
	EgressCapacity  int
	IdentifyTimeout time.Duration
}

// KafkaConfig controls the optional job-lifecycle event stream.
type KafkaConfig struct {
	Brokers      []string
	TopicEvents  string
	BatchSize    int
	BatchTimeout time.Duration
	Compression  string
	Async        bool
	MaxAttempts  int
	RequiredAcks int
}

// Enabled reports whether any Kafka broker address was configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0 && k.Brokers[0] != ""
}

// DatabaseConfig controls the optional Postgres audit sink.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Enabled reports whether a database host was configured.
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

// ConnectionString builds a libpq connection string.
func (d DatabaseConfig) ConnectionString() string {
	return "host=" + d.Host +
		" port=" + strconv.Itoa(d.Port) +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.DBName +
		" sslmode=" + d.SSLMode
}

// RedisConfig controls the optional stats-snapshot publisher.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a Redis address was configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// Load reads broker configuration from the environment, optionally
// seeded from a .env file, applying the same defaulting behavior as the
// getEnv* helpers below.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("GEARMAND_PORT", 4730),
			MaxConnections:  getEnvAsInt("GEARMAND_MAX_CONNECTIONS", 10000),
			EgressCapacity:  getEnvAsInt("GEARMAND_EGRESS_CAPACITY", 1024),
			IdentifyTimeout: getEnvAsDuration("GEARMAND_IDENTIFY_TIMEOUT", 10*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:      splitNonEmpty(getEnv("KAFKA_BROKERS", "")),
			TopicEvents:  getEnv("KAFKA_TOPIC_JOB_EVENTS", "gearmand.job-events"),
			BatchSize:    getEnvAsInt("KAFKA_BATCH_SIZE", 100),
			BatchTimeout: getEnvAsDuration("KAFKA_BATCH_TIMEOUT", 100*time.Millisecond),
			Compression:  getEnv("KAFKA_COMPRESSION", "snappy"),
			Async:        getEnvAsBool("KAFKA_ASYNC", true),
			MaxAttempts:  getEnvAsInt("KAFKA_MAX_ATTEMPTS", 3),
			RequiredAcks: getEnvAsInt("KAFKA_REQUIRED_ACKS", 1),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", ""),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "gearmand"),
			Password: getEnv("DB_PASSWORD", "gearmand"),
			DBName:   getEnv("DB_NAME", "gearmand_audit"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
	}

	return cfg, nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
