package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the trading core's runtime configuration.
type Config struct {
	// Admin HTTP surface
	Port    int
	DevMode bool

	// State store
	DatabasePath string

	// Message bus
	BusPrefix      string
	ConsumerGroup  string
	ConsumerName   string
	SubscribeBlock time.Duration

	// Risk thresholds
	MaxDrawdownPct         float64
	MaxPositionRatio       float64
	MinPositionRatio       float64
	MaxSinglePositionPct   float64
	MaxGrossLeverage       float64
	MacroBroadcastInterval time.Duration
	PeriodicCheckInterval  time.Duration
	AssumedVolatility      float64
	RiskFreeRate           float64

	// External endpoints
	SentimentEndpoints []string
	ForecastEndpoints  []string
	HTTPClientTimeout  time.Duration

	// Logging
	LogLevel  string
	LogPretty bool
}

// Load reads configuration from environment variables, optionally loading a
// .env file first.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:    getEnvAsInt("PORT", 8080),
		DevMode: getEnvAsBool("DEV_MODE", false),

		DatabasePath: getEnv("DATABASE_PATH", "./data/trading.db"),

		BusPrefix:      getEnv("BUS_PREFIX", "trading"),
		ConsumerGroup:  getEnv("BUS_CONSUMER_GROUP", "trading-core"),
		ConsumerName:   getEnv("BUS_CONSUMER_NAME", "trading-core-1"),
		SubscribeBlock: getEnvAsDuration("BUS_SUBSCRIBE_BLOCK", 5*time.Second),

		MaxDrawdownPct:         getEnvAsFloat("MAX_DRAWDOWN_PCT", 0.20),
		MaxPositionRatio:       getEnvAsFloat("MAX_POSITION_RATIO", 0.80),
		MinPositionRatio:       getEnvAsFloat("MIN_POSITION_RATIO", 0.10),
		MaxSinglePositionPct:   getEnvAsFloat("MAX_SINGLE_POSITION_PCT", 0.30),
		MaxGrossLeverage:       getEnvAsFloat("MAX_GROSS_LEVERAGE", 3.0),
		MacroBroadcastInterval: getEnvAsDuration("MACRO_BROADCAST_INTERVAL", 60*time.Second),
		PeriodicCheckInterval:  getEnvAsDuration("PERIODIC_CHECK_INTERVAL", 60*time.Second),
		AssumedVolatility:      getEnvAsFloat("ASSUMED_VOLATILITY", 0.6),
		RiskFreeRate:           getEnvAsFloat("RISK_FREE_RATE", 0.03),

		SentimentEndpoints: getEnvAsList("SENTIMENT_ENDPOINTS", nil),
		ForecastEndpoints:  getEnvAsList("FORECAST_ENDPOINTS", nil),
		HTTPClientTimeout:  getEnvAsDuration("HTTP_CLIENT_TIMEOUT", 10*time.Second),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required configuration is present.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if c.BusPrefix == "" {
		return fmt.Errorf("BUS_PREFIX is required")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
