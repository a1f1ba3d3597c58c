// Package dbconfig loads the Environment's recognized configuration
// options, layered the way the teacher layers its own config: YAML file
// defaults, overridden by environment variables, then validated.
package dbconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds exactly the options the storage core recognizes.
type Config struct {
	Path               string        `yaml:"path" env:"TERN_PATH"`
	CacheSize          string        `yaml:"cache_size" env:"TERN_CACHE_SIZE"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval" env:"TERN_CHECKPOINT_INTERVAL"`
	LockTimeout        time.Duration `yaml:"lock_timeout" env:"TERN_LOCK_TIMEOUT"`
	LogLevel           int           `yaml:"log_level" env:"TERN_LOG_LEVEL"`
}

// Default returns a Config with sane defaults, mirroring the teacher's
// DefaultConfig shape (a fully populated struct literal, not zero values).
func Default() *Config {
	return &Config{
		Path:               "./data",
		CacheSize:          "64MB",
		CheckpointInterval: 30 * time.Second,
		LockTimeout:        5 * time.Second,
		LogLevel:           30, // INFO on the 0-50 scale
	}
}

// LoadFromFile reads and unmarshals a YAML config file over Default().
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SaveToFile marshals c to path as YAML.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// LoadFromEnv overrides c's fields from TERN_* environment variables when set.
func (c *Config) LoadFromEnv() error {
	if path := os.Getenv("TERN_PATH"); path != "" {
		c.Path = path
	}
	if cacheSize := os.Getenv("TERN_CACHE_SIZE"); cacheSize != "" {
		c.CacheSize = cacheSize
	}
	if interval := os.Getenv("TERN_CHECKPOINT_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			c.CheckpointInterval = d
		}
	}
	if timeout := os.Getenv("TERN_LOCK_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			c.LockTimeout = d
		}
	}
	if level := os.Getenv("TERN_LOG_LEVEL"); level != "" {
		if l, err := strconv.Atoi(level); err == nil {
			c.LogLevel = l
		}
	}
	return nil
}

// Validate rejects a Config that Environment.Open must not accept.
func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if c.CheckpointInterval <= 0 {
		return fmt.Errorf("checkpoint_interval must be positive")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("lock_timeout must be positive")
	}
	if c.LogLevel < 0 || c.LogLevel > 50 {
		return fmt.Errorf("log_level must be in [0,50]: %d", c.LogLevel)
	}
	if _, err := ParseSize(c.CacheSize); err != nil {
		return fmt.Errorf("cache_size: %w", err)
	}
	return nil
}

// CacheSizeBytes resolves CacheSize to a byte count.
func (c *Config) CacheSizeBytes() int64 {
	n, _ := ParseSize(c.CacheSize)
	return n
}

// ParseSize parses a human size string like "256MB" into bytes.
func ParseSize(sizeStr string) (int64, error) {
	if sizeStr == "" {
		return 0, fmt.Errorf("empty size string")
	}
	s := strings.ToUpper(strings.TrimSpace(sizeStr))

	var multiplier int64 = 1
	var numStr string
	switch {
	case strings.HasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "B"):
		multiplier = 1
		numStr = strings.TrimSuffix(s, "B")
	default:
		numStr = s
	}

	num, err := strconv.ParseInt(strings.TrimSpace(numStr), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", sizeStr, err)
	}
	return num * multiplier, nil
}
