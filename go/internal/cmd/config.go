package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Store struct {
		Backend  string `yaml:"backend"` // redis | memory
		RedisURL string `yaml:"redis_url"`
		TTLHours int    `yaml:"ttl_hours"`
	} `yaml:"store"`

	Catalog struct {
		Backend string `yaml:"backend"` // mock | postgres | http
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"catalog"`

	Gateway struct {
		NATSEnabled bool   `yaml:"nats_enabled"`
		NATSURL     string `yaml:"nats_url"`
	} `yaml:"gateway"`

	Demo struct {
		Seed bool `yaml:"seed"`
	} `yaml:"demo"`

	Points []int `yaml:"points"`
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	var config Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// Env overrides so container deployments need no config file
	config.Server.Port = getEnv("PORT", defaultString(config.Server.Port, "8080"))
	config.Store.Backend = getEnv("STORE_BACKEND", defaultString(config.Store.Backend, "redis"))
	config.Store.RedisURL = getEnv("REDIS_URL", defaultString(config.Store.RedisURL, "redis://127.0.0.1:6379"))
	if config.Store.TTLHours <= 0 {
		config.Store.TTLHours = getEnvAsInt("SESSION_TTL_HOURS", 24)
	}
	config.Catalog.Backend = getEnv("CATALOG_BACKEND", defaultString(config.Catalog.Backend, "mock"))
	config.Catalog.BaseURL = getEnv("CATALOG_BASE_URL", config.Catalog.BaseURL)
	config.Catalog.APIKey = getEnv("CATALOG_API_KEY", config.Catalog.APIKey)
	config.Gateway.NATSURL = getEnv("NATS_URL", defaultString(config.Gateway.NATSURL, "nats://127.0.0.1:4222"))
	if os.Getenv("NATS_ENABLED") == "true" {
		config.Gateway.NATSEnabled = true
	}
	if os.Getenv("DEMO_SEED") == "true" {
		config.Demo.Seed = true
	}

	return &config, nil
}

func defaultString(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func databaseConfigFromEnv() DatabaseConfig {
	return DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvAsInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		Database: getEnv("DB_NAME", "pointdeck"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}
}
