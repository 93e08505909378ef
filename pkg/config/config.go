package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Relay struct {
		Port          int
		WSPath        string
		AllowInsecure bool // permit ws:// endpoints, local development only
	}
	Client struct {
		RelayURL         string
		HandshakeTimeout time.Duration
		PingInterval     time.Duration
		StaleAfter       time.Duration
		QueueCap         int
	}
	JWT struct {
		Secret   string
		Duration time.Duration
	}
	DB struct {
		Host     string
		Port     int
		User     string
		Password string
		Database string
	}
	RabbitMQ struct {
		Host     string
		Port     int
		User     string
		Password string
	}
	Redis struct {
		Host     string
		Port     int
		Password string
		DB       int
	}
}

func LoadConfig(filename string) (*Config, error) {
	err := loadEnvFile(filename)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	cfg.Relay.Port = getEnvAsInt("RELAY_PORT", 8080)
	cfg.Relay.WSPath = getEnv("RELAY_WS_PATH", "/ws")
	cfg.Relay.AllowInsecure = getEnv("RELAY_ALLOW_INSECURE", "false") == "true"

	cfg.Client.RelayURL = getEnv("CLIENT_RELAY_URL", "wss://localhost:8080/ws")
	cfg.Client.HandshakeTimeout = getEnvAsDuration("CLIENT_HANDSHAKE_TIMEOUT", 5*time.Second)
	cfg.Client.PingInterval = getEnvAsDuration("CLIENT_PING_INTERVAL", 30*time.Second)
	cfg.Client.StaleAfter = getEnvAsDuration("CLIENT_STALE_AFTER", 45*time.Second)
	cfg.Client.QueueCap = getEnvAsInt("CLIENT_QUEUE_CAP", 500)

	cfg.JWT.Secret = getEnv("JWT_SECRET", "dev-secret")
	cfg.JWT.Duration = getEnvAsDuration("JWT_DURATION", 24*time.Hour)

	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnvAsInt("DB_PORT", 5432)
	cfg.DB.User = getEnv("DB_USER", "ridelink_user")
	cfg.DB.Password = getEnv("DB_PASS", "ridelink_pass")
	cfg.DB.Database = getEnv("DB_NAME", "ridelink_db")

	cfg.RabbitMQ.Host = getEnv("RABBITMQ_HOST", "localhost")
	cfg.RabbitMQ.Port = getEnvAsInt("RABBITMQ_PORT", 5672)
	cfg.RabbitMQ.User = getEnv("RABBITMQ_USER", "guest")
	cfg.RabbitMQ.Password = getEnv("RABBITMQ_PASS", "guest")

	cfg.Redis.Host = getEnv("REDIS_HOST", "localhost")
	cfg.Redis.Port = getEnvAsInt("REDIS_PORT", 6379)
	cfg.Redis.Password = getEnv("REDIS_PASS", "")
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", 0)

	return cfg, nil
}

func loadEnvFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("could not open env file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("could not set env var %s: %w", key, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading env file: %w", err)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}
