package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Upstream market-data service
	APIBaseURL  string // quote + history REST base
	FeedURL     string // streaming feed websocket
	HTTPTimeout time.Duration

	// Infrastructure
	RedisAddr     string // "" disables the Redis publisher
	RedisPassword string
	InstrumentsDB string
	MasterURL     string // "" uses the built-in exchange master URL
	MetricsAddr   string
	GatewayAddr   string

	// Series sizing
	LineWindow int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		APIBaseURL:  getEnv("API_BASE_URL", "http://localhost:8000"),
		FeedURL:     getEnv("FEED_URL", "ws://localhost:8000/ws/feed"),
		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 15*time.Second),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		InstrumentsDB: getEnv("INSTRUMENTS_DB", "data/instruments.db"),
		MasterURL:     getEnv("MASTER_URL", ""),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		GatewayAddr:   getEnv("GATEWAY_ADDR", ":8080"),

		LineWindow: getEnvInt("LINE_WINDOW", 2000),
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("[config] ignoring invalid %s=%q", key, v)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("[config] ignoring invalid %s=%q", key, v)
		return fallback
	}
	return d
}
