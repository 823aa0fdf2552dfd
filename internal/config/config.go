package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Booking   BookingConfig
	Auth      AuthConfig
	Ticket    TicketConfig
	Log       LogConfig
	Migration MigrationConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	CORSAllowedOrigins []string
	RateLimitRequests  int
	RateLimitWindow    time.Duration
}

type DatabaseConfig struct {
	Host         string
	Port         string
	Username     string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	ConnectRetry int
}

// DSN returns a lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Enabled  bool
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
	Topics  TopicConfig
	Enabled bool
}

type TopicConfig struct {
	TicketBooked    string
	TicketCancelled string
	PaymentRecorded string
	PaymentResults  string
}

// BookingConfig tunes the retry loops around ledger releases and reads.
type BookingConfig struct {
	ReleaseAttempts   int
	ReleaseBackoff    time.Duration
	ReadAttempts      int
	AvailabilityTTL   time.Duration
	DepartureLocation string
}

type AuthConfig struct {
	JWTSecret  string
	OIDCIssuer string
	ClientID   string
}

type TicketConfig struct {
	QRSecret string
	QRSize   int
}

type LogConfig struct {
	Dir     string
	Service string
	Level   string
}

type MigrationConfig struct {
	Path    string
	AutoRun bool
	// Seed also applies the demo network migrations.
	Seed bool
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", ":8080"),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 5*time.Second),

			CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			RateLimitRequests:  getEnvInt("RATE_LIMIT_REQUESTS", 100),
			RateLimitWindow:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			Username:     getEnv("DB_USERNAME", "railway"),
			Password:     getEnv("DB_PASSWORD", "railway"),
			Database:     getEnv("DB_NAME", "railway"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
			ConnectRetry: getEnvInt("DB_CONNECT_RETRIES", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Enabled:  getEnvBool("REDIS_ENABLED", true),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			GroupID: getEnv("KAFKA_GROUP_ID", "railway-reservations"),
			Enabled: getEnvBool("KAFKA_ENABLED", true),
			Topics: TopicConfig{
				TicketBooked:    getEnv("KAFKA_TOPIC_TICKET_BOOKED", "railway.ticket.booked"),
				TicketCancelled: getEnv("KAFKA_TOPIC_TICKET_CANCELLED", "railway.ticket.cancelled"),
				PaymentRecorded: getEnv("KAFKA_TOPIC_PAYMENT_RECORDED", "railway.payment.recorded"),
				PaymentResults:  getEnv("KAFKA_TOPIC_PAYMENT_RESULTS", "railway.payment.results"),
			},
		},
		Booking: BookingConfig{
			ReleaseAttempts:   getEnvInt("BOOKING_RELEASE_ATTEMPTS", 3),
			ReleaseBackoff:    getEnvDuration("BOOKING_RELEASE_BACKOFF", 100*time.Millisecond),
			ReadAttempts:      getEnvInt("QUERY_READ_ATTEMPTS", 3),
			AvailabilityTTL:   getEnvDuration("AVAILABILITY_CACHE_TTL", 5*time.Second),
			DepartureLocation: getEnv("DEPARTURE_TIMEZONE", "Asia/Kolkata"),
		},
		Auth: AuthConfig{
			JWTSecret:  getEnv("JWT_SECRET", ""),
			OIDCIssuer: getEnv("OIDC_ISSUER", ""),
			ClientID:   getEnv("OIDC_CLIENT_ID", "railway-api"),
		},
		Ticket: TicketConfig{
			QRSecret: getEnv("TICKET_QR_SECRET", "0123456789abcdef0123456789abcdef"),
			QRSize:   getEnvInt("TICKET_QR_SIZE", 256),
		},
		Log: LogConfig{
			Dir:     getEnv("LOG_DIR", "logs"),
			Service: getEnv("LOG_SERVICE", "railway-reservations"),
			Level:   getEnv("LOG_LEVEL", "INFO"),
		},
		Migration: MigrationConfig{
			Path:    getEnv("MIGRATIONS_PATH", "migrations"),
			AutoRun: getEnvBool("MIGRATIONS_AUTO_RUN", true),
			Seed:    getEnvBool("MIGRATIONS_SEED", false),
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping empty entries.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
