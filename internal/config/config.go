// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	AppEnv            string
	Port              string
	DatabaseURL       string
	RedisURL          string
	SessionSecret     string
	LogLevel          string
	LogFormat         string
	AppURL            string
	SessionMaxAge     time.Duration
	PendingTimeout    time.Duration
	MaxClientsPerItem int
}

func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:        getEnv("APP_ENV", "development"),
		Port:          getEnv("PORT", "8080"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisURL:      getEnv("REDIS_URL", ""),
		SessionSecret: getEnv("SESSION_SECRET", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "text"),
		AppURL:        getEnv("APP_URL", "http://localhost:8080"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.SessionSecret == "" {
		return nil, fmt.Errorf("SESSION_SECRET is required")
	}

	// REDIS_URL is optional: without it the service runs single-instance on
	// the in-memory document store.

	sessionHours, err := getEnvInt("SESSION_MAX_AGE_HOURS", 720)
	if err != nil {
		return nil, err
	}
	if sessionHours <= 0 {
		return nil, fmt.Errorf("SESSION_MAX_AGE_HOURS must be positive")
	}
	cfg.SessionMaxAge = time.Duration(sessionHours) * time.Hour

	pendingSeconds, err := getEnvInt("PENDING_TIMEOUT_SECONDS", 15)
	if err != nil {
		return nil, err
	}
	if pendingSeconds <= 0 {
		return nil, fmt.Errorf("PENDING_TIMEOUT_SECONDS must be positive")
	}
	cfg.PendingTimeout = time.Duration(pendingSeconds) * time.Second

	maxClients, err := getEnvInt("MAX_CLIENTS_PER_ITEM", 256)
	if err != nil {
		return nil, err
	}
	if maxClients <= 0 {
		return nil, fmt.Errorf("MAX_CLIENTS_PER_ITEM must be positive")
	}
	cfg.MaxClientsPerItem = maxClients

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return value, nil
}
