// Package config loads runtime configuration from environment variables.
// The four capacity constants bound the engine's data structures and are
// fixed for the lifetime of a deployment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration for the pool engine.
type Config struct {
	Port       int
	QuoteAsset string

	// Capacity bounds. Inserts beyond these are rejected, never grown.
	MaxOrdersPerLevel int
	MaxPriceLevels    int
	MaxOrdersPerUser  int
	MaxHolders        int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	CacheTTL        time.Duration
}

// Load reads configuration from environment variables, applies defaults,
// and validates values. It returns an error for any invalid value.
func Load() (*Config, error) {
	port, err := getInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	quoteAsset := getStr("QUOTE_ASSET", "USDQ")

	maxOrdersPerLevel, err := getInt("MAX_ORDERS_PER_LEVEL", 100)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_ORDERS_PER_LEVEL: %w", err)
	}
	maxPriceLevels, err := getInt("MAX_PRICE_LEVELS", 200)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_PRICE_LEVELS: %w", err)
	}
	maxOrdersPerUser, err := getInt("MAX_ORDERS_PER_USER", 50)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_ORDERS_PER_USER: %w", err)
	}
	maxHolders, err := getInt("MAX_HOLDERS", 1000)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_HOLDERS: %w", err)
	}
	for name, v := range map[string]int{
		"MAX_ORDERS_PER_LEVEL": maxOrdersPerLevel,
		"MAX_PRICE_LEVELS":     maxPriceLevels,
		"MAX_ORDERS_PER_USER":  maxOrdersPerUser,
		"MAX_HOLDERS":          maxHolders,
	} {
		if v < 1 {
			return nil, fmt.Errorf("invalid %s: must be >= 1, got %d", name, v)
		}
	}

	readTimeout, err := getDuration("READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid READ_TIMEOUT: %w", err)
	}
	writeTimeout, err := getDuration("WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WRITE_TIMEOUT: %w", err)
	}
	idleTimeout, err := getDuration("IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid IDLE_TIMEOUT: %w", err)
	}
	shutdownTimeout, err := getDuration("SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}
	cacheTTL, err := getDuration("CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_TTL: %w", err)
	}

	return &Config{
		Port:              port,
		QuoteAsset:        quoteAsset,
		MaxOrdersPerLevel: maxOrdersPerLevel,
		MaxPriceLevels:    maxPriceLevels,
		MaxOrdersPerUser:  maxOrdersPerUser,
		MaxHolders:        maxHolders,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ShutdownTimeout:   shutdownTimeout,
		CacheTTL:          cacheTTL,
	}, nil
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}
