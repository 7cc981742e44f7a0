package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Decision  DecisionConfig  `json:"decision"`
	PriceFeed PriceFeedConfig `json:"price_feed"`
	Scanner   ScannerConfig   `json:"scanner"`
	Agent     AgentConfig     `json:"agent"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

// DecisionConfig points at the external decision service.
type DecisionConfig struct {
	Endpoint       string `json:"endpoint"`
	APIKey         string `json:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// PriceFeedConfig points at the spot price API.
type PriceFeedConfig struct {
	Endpoint       string `json:"endpoint"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ScannerConfig maps yield protocol names to contract addresses.
type ScannerConfig struct {
	YieldContracts map[string]string `json:"yield_contracts"`
}

// AgentConfig tunes the decision cycle.
type AgentConfig struct {
	CycleIntervalMinutes  int     `json:"cycle_interval_minutes"`
	PoolSize              int     `json:"pool_size"`
	PatternLimit          int     `json:"pattern_limit"`
	PatternThreshold      float64 `json:"pattern_threshold"`
	ReceiptTimeoutSeconds int     `json:"receipt_timeout_seconds"`
}

// CycleInterval returns the cycle interval, default 5 minutes.
func (a AgentConfig) CycleInterval() time.Duration {
	if a.CycleIntervalMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(a.CycleIntervalMinutes) * time.Minute
}

// ReceiptTimeout returns how long to wait for a receipt, default 2 minutes.
func (a AgentConfig) ReceiptTimeout() time.Duration {
	if a.ReceiptTimeoutSeconds <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(a.ReceiptTimeoutSeconds) * time.Second
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}
