package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Database   DatabaseConfig
	Gatekeeper GatekeeperConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type RedisConfig struct {
	Addr string
}

type KafkaConfig struct {
	Brokers  []string
	GroupID  string
	Topics   TopicConfig
	MockMode bool
	Enabled  bool
}

type DatabaseConfig struct {
	Host         string
	Port         string
	Username     string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

type TopicConfig struct {
	SecurityCodeMinted string
	TicketCheckedIn    string
}

type GatekeeperConfig struct {
	// Default nonce validity window, used when an event carries none.
	NonceValidity   time.Duration
	QRSize          int
	GateLockTTL     time.Duration
	VerifierTimeout time.Duration
}

func Load() *Config {
	kafkaEnabled := getEnvBool("KAFKA_ENABLED", true)
	mockMode := getEnvBool("KAFKA_MOCK_MODE", false)

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", "localhost:6379"),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			Username:     getEnv("DB_USERNAME", "gatekeeper_user"),
			Password:     getEnv("DB_PASSWORD", "gatekeeper_pass"),
			Database:     getEnv("DB_NAME", "gatekeeper"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:  []string{getEnv("KAFKA_BROKERS", "localhost:9092")},
			GroupID:  getEnv("KAFKA_GROUP_ID", "gatekeeper-group"),
			Enabled:  kafkaEnabled,
			MockMode: mockMode,
			Topics: TopicConfig{
				SecurityCodeMinted: getEnv("KAFKA_TOPIC_MINTED", "gatekeeper.codes.minted"),
				TicketCheckedIn:    getEnv("KAFKA_TOPIC_CHECKED_IN", "gatekeeper.tickets.checked-in"),
			},
		},
		Gatekeeper: GatekeeperConfig{
			NonceValidity:   time.Duration(getEnvInt("NONCE_VALID_SECONDS", 900)) * time.Second,
			QRSize:          getEnvInt("QR_SIZE", 256),
			GateLockTTL:     time.Duration(getEnvInt("GATE_LOCK_TTL_SECONDS", 10)) * time.Second,
			VerifierTimeout: time.Duration(getEnvInt("VERIFIER_TIMEOUT_SECONDS", 5)) * time.Second,
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
