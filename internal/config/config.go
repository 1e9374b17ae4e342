// Package config loads process configuration from the environment,
// following the teacher's pattern of godotenv.Load() plus env var
// reads, generalized to the full ambient/domain stack this module adds
// and validated with go-playground/validator rather than ad hoc nil
// checks.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config is the process-wide configuration, loaded once at startup.
type Config struct {
	HTTPAddr string `validate:"required"`
	LogLevel string `validate:"required,oneof=debug info warn error"`

	DBDSN string `validate:"required"`

	ChainEnabled       bool
	ChainRPCURL        string `validate:"required_if=ChainEnabled true"`
	ChainContractAddr  string `validate:"required_if=ChainEnabled true"`
	ChainSenderKeyHex  string `validate:"required_if=ChainEnabled true"`
	ChainBreakerName   string
	OrderBookDepth     int `validate:"min=1,max=1000"`
	DefaultTradesLimit int `validate:"min=1,max=10000"`
}

// Load reads .env (if present, non-fatal if absent) and then the
// process environment, applying defaults, and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// Missing .env is expected in deployed environments; not fatal.
	}

	cfg := &Config{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DBDSN:              os.Getenv("DB_DSN"),
		ChainEnabled:       getEnvBool("CHAIN_ENABLED", false),
		ChainRPCURL:        os.Getenv("CHAIN_RPC_URL"),
		ChainContractAddr:  os.Getenv("CHAIN_CONTRACT_ADDRESS"),
		ChainSenderKeyHex:  os.Getenv("CHAIN_SENDER_PRIVATE_KEY"),
		ChainBreakerName:   getEnv("CHAIN_BREAKER_NAME", "ledger"),
		OrderBookDepth:     getEnvInt("ORDER_BOOK_DEPTH", 25),
		DefaultTradesLimit: getEnvInt("DEFAULT_TRADES_LIMIT", 100),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
