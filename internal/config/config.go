package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// Supports environment variables with sensible defaults.
//
// Environment Variables:
// Server Configuration:
// - LISTEN_ADDR: HTTP listen address (default: :12450)
// - CLIENT_HEARTBEAT_SECONDS: downstream heartbeat interval (default: 10)
//
// Relay Configuration:
// - TEARDOWN_GRACE_SECONDS: how long an empty room keeps its upstream connection (default: 10)
//
// Translate Configuration:
// - TRANSLATE_ENABLED: master switch (default: true)
// - TRANSLATE_ALLOW_ROOMS: comma-separated room ids, empty allows all
// - TRANSLATE_PROVIDERS_FILE: provider YAML path (default: data/providers.yaml)
// - TRANSLATE_HIGH_QUEUE_SIZE / TRANSLATE_NORMAL_QUEUE_SIZE: queue bounds (default: 8 / 40)
// - TRANSLATE_HIGH_RETRIES / TRANSLATE_NORMAL_RETRIES: attempts per priority (default: 3 / 1)
// - TRANSLATE_CACHE_SIZE: translation result cache entries (default: 50000)
// - TRANSLATE_TIMEOUT_SECONDS: per-request provider timeout (default: 10)
//
// Avatar Configuration:
// - AVATAR_CACHE_SIZE: in-memory avatar cache entries (default: 10000)
// - AVATAR_DB_PATH: sqlite path, empty disables the durable tier (default: data/avatars.db)
// - AVATAR_BAN_SECONDS: fetch suspension after an endpoint ban (default: 3600)
//
// Log Configuration:
// - LOG_LEVEL: debug/info/warn/error (default: info)

type Config struct {
	Server    ServerConfig
	Relay     RelayConfig
	Translate TranslateConfig
	Avatar    AvatarConfig
	Log       LogConfig
}

type ServerConfig struct {
	Addr              string
	HeartbeatInterval time.Duration
}

type RelayConfig struct {
	TeardownGrace time.Duration
}

type TranslateConfig struct {
	Enabled         bool
	AllowRooms      []int64
	ProvidersFile   string
	HighQueueSize   int
	NormalQueueSize int
	HighRetries     int
	NormalRetries   int
	CacheSize       int
	RequestTimeout  time.Duration
}

type AvatarConfig struct {
	CacheSize int
	DBPath    string
	BanWindow time.Duration
}

type LogConfig struct {
	Level string
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment
// variables and options.
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Addr:              getEnvString("LISTEN_ADDR", ":12450"),
			HeartbeatInterval: time.Duration(getEnvInt("CLIENT_HEARTBEAT_SECONDS", 10)) * time.Second,
		},
		Relay: RelayConfig{
			TeardownGrace: time.Duration(getEnvInt("TEARDOWN_GRACE_SECONDS", 10)) * time.Second,
		},
		Translate: TranslateConfig{
			Enabled:         getEnvBool("TRANSLATE_ENABLED", true),
			AllowRooms:      getEnvInt64List("TRANSLATE_ALLOW_ROOMS"),
			ProvidersFile:   getEnvString("TRANSLATE_PROVIDERS_FILE", "data/providers.yaml"),
			HighQueueSize:   getEnvInt("TRANSLATE_HIGH_QUEUE_SIZE", 8),
			NormalQueueSize: getEnvInt("TRANSLATE_NORMAL_QUEUE_SIZE", 40),
			HighRetries:     getEnvInt("TRANSLATE_HIGH_RETRIES", 3),
			NormalRetries:   getEnvInt("TRANSLATE_NORMAL_RETRIES", 1),
			CacheSize:       getEnvInt("TRANSLATE_CACHE_SIZE", 50000),
			RequestTimeout:  time.Duration(getEnvInt("TRANSLATE_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		Avatar: AvatarConfig{
			CacheSize: getEnvInt("AVATAR_CACHE_SIZE", 10000),
			DBPath:    getEnvString("AVATAR_DB_PATH", "data/avatars.db"),
			BanWindow: time.Duration(getEnvInt("AVATAR_BAN_SECONDS", 3600)) * time.Second,
		},
		Log: LogConfig{
			Level: getEnvString("LOG_LEVEL", "info"),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("LISTEN_ADDR is required")
	}
	if c.Server.HeartbeatInterval <= 0 {
		return fmt.Errorf("CLIENT_HEARTBEAT_SECONDS must be positive")
	}
	if c.Relay.TeardownGrace <= 0 {
		return fmt.Errorf("TEARDOWN_GRACE_SECONDS must be positive")
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean value from environment variables with default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvInt64List parses a comma-separated list of integers. Unparseable
// entries are skipped.
func getEnvInt64List(key string) []int64 {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	ret := make([]int64, 0)
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.ParseInt(part, 10, 64); err == nil {
			ret = append(ret, n)
		}
	}
	return ret
}
