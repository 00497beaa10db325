// Package config provides configuration for the workspace setup service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Run log backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config holds the service configuration.
type Config struct {
	// Server settings
	HTTPPort     int `yaml:"http_port"`
	InternalPort int `yaml:"internal_port"`
	RPCPort      int `yaml:"rpc_port"`

	// Storage
	DatabaseURL   string `yaml:"database_url"`
	RunLogBackend string `yaml:"runlog_backend"`
	RedisAddr     string `yaml:"redis_addr"`

	// Agent
	AgentURL       string `yaml:"agent_url"`
	AgentMode      string `yaml:"agent_mode"`
	AgentTimeoutMs int    `yaml:"agent_timeout_ms"`

	// Streaming
	StreamPollIntervalMs int `yaml:"stream_poll_interval_ms"`
	StreamBatchSize      int `yaml:"stream_batch_size"`
	StreamMaxDurationMs  int `yaml:"stream_max_duration_ms"`

	// Access policy; empty uses the built-in policy.
	PolicyFile string `yaml:"policy_file"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPPort:             8080,
		InternalPort:         8081,
		RPCPort:              8082,
		DatabaseURL:          "file:workspace.db?cache=shared&mode=rwc",
		RunLogBackend:        BackendSQLite,
		RedisAddr:            "localhost:6379",
		AgentTimeoutMs:       300000,
		StreamPollIntervalMs: 500,
		StreamBatchSize:      100,
		LogLevel:             "info",
		LogFormat:            "terminal",
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.loadEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() {
	c.HTTPPort = getEnvInt("HTTP_PORT", c.HTTPPort)
	c.InternalPort = getEnvInt("INTERNAL_PORT", c.InternalPort)
	c.RPCPort = getEnvInt("RPC_PORT", c.RPCPort)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.RunLogBackend = getEnv("RUNLOG_BACKEND", c.RunLogBackend)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.AgentURL = getEnv("AGENT_URL", c.AgentURL)
	c.AgentMode = getEnv("AGENT_MODE", c.AgentMode)
	c.AgentTimeoutMs = getEnvInt("AGENT_TIMEOUT_MS", c.AgentTimeoutMs)
	c.StreamPollIntervalMs = getEnvInt("STREAM_POLL_INTERVAL_MS", c.StreamPollIntervalMs)
	c.StreamBatchSize = getEnvInt("STREAM_BATCH_SIZE", c.StreamBatchSize)
	c.StreamMaxDurationMs = getEnvInt("STREAM_MAX_DURATION_MS", c.StreamMaxDurationMs)
	c.PolicyFile = getEnv("POLICY_FILE", c.PolicyFile)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.RunLogBackend {
	case BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("unknown RUNLOG_BACKEND %q", c.RunLogBackend)
	}
	if c.StreamBatchSize <= 0 {
		return fmt.Errorf("STREAM_BATCH_SIZE must be positive")
	}
	if c.StreamPollIntervalMs <= 0 {
		return fmt.Errorf("STREAM_POLL_INTERVAL_MS must be positive")
	}
	return nil
}

// AgentTimeout bounds one agent invocation.
func (c *Config) AgentTimeout() time.Duration {
	return time.Duration(c.AgentTimeoutMs) * time.Millisecond
}

// PollInterval is the sleep between tailer iterations.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.StreamPollIntervalMs) * time.Millisecond
}

// MaxStreamDuration bounds one stream connection; zero is unbounded.
func (c *Config) MaxStreamDuration() time.Duration {
	return time.Duration(c.StreamMaxDurationMs) * time.Millisecond
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
