package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the application configuration.
type Config struct {
	Server        ServerConfig
	Mongo         MongoConfig
	Postgres      PostgresConfig
	Redis         RedisConfig
	AWS           AWSConfig
	Security      SecurityConfig
	Notifications NotificationsConfig
}

// ServerConfig represents HTTP server configuration.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	FrontendURL  string
}

// MongoConfig holds the request/donor/user document store settings.
type MongoConfig struct {
	URI    string
	DBName string
}

// PostgresConfig holds the notification bookkeeping database settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds the rate-limiter store settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AWSConfig holds S3/SES/SNS settings.
type AWSConfig struct {
	Region       string
	S3Endpoint   string
	AccessKey    string
	SecretKey    string
	ProofBucket  string
	SenderEmail  string
	PushTopicARN string
}

// SecurityConfig holds the JWT verification secret.
type SecurityConfig struct {
	JWTSecret string
}

// NotificationsConfig tunes the delivery queue and retry sweep.
type NotificationsConfig struct {
	QueueSize     int
	Workers       int
	RetrySchedule string
	TimeZone      string
}

// LoadConfig loads configuration from the environment, reading a .env file
// first when present.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			FrontendURL:  getEnv("FRONTEND_URL", "http://localhost:3012"),
		},
		Mongo: MongoConfig{
			URI:    getEnv("MONGO_URI", "mongodb://localhost:27017"),
			DBName: getEnv("MONGO_DBNAME", "bloodhero"),
		},
		Postgres: PostgresConfig{
			Host:     getEnv("DATABASE_HOST", "localhost"),
			Port:     getEnvInt("DATABASE_PORT", 5432),
			User:     getEnv("DATABASE_USER", os.Getenv("USER")),
			Password: os.Getenv("DATABASE_PASSWORD"),
			DBName:   getEnv("DATABASE_DBNAME", "bloodhero_notifications"),
			SSLMode:  getEnv("DATABASE_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		AWS: AWSConfig{
			Region:       getEnv("AWS_REGION", "us-east-1"),
			S3Endpoint:   os.Getenv("S3_ENDPOINT"),
			AccessKey:    os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretKey:    os.Getenv("AWS_SECRET_ACCESS_KEY"),
			ProofBucket:  getEnv("PROOF_BUCKET", "bloodhero-donation-proof"),
			SenderEmail:  getEnv("SENDER_EMAIL", "no-reply@bloodhero.app"),
			PushTopicARN: os.Getenv("PUSH_TOPIC_ARN"),
		},
		Security: SecurityConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
		},
		Notifications: NotificationsConfig{
			QueueSize:     getEnvInt("NOTIFICATION_QUEUE_SIZE", 1024),
			Workers:       getEnvInt("NOTIFICATION_WORKERS", 4),
			RetrySchedule: getEnv("NOTIFICATION_RETRY_SCHEDULE", "@every 5m"),
			TimeZone:      getEnv("APP_TIMEZONE", "Local"),
		},
	}

	if config.Security.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return config, nil
}

// GetDatabaseURL returns the Postgres connection string.
func (c *PostgresConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server listen address.
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Location resolves the configured application time zone. Daily limits reset
// at midnight in this zone.
func (c *NotificationsConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
