// Package config provides Redis configuration for the relay task queue.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// RedisConfig holds Redis connection and queue parameters.
type RedisConfig struct {
	Host            string
	Port            int
	Password        string
	DB              int
	Workers         int
	RetryInterval   time.Duration
	MaxRetries      int
	RetentionPeriod time.Duration
	QueuePriorities map[string]int
}

const (
	defaultHost          = "localhost"
	defaultPort          = 6379
	defaultWorkers       = 10
	defaultRetryInterval = 5 * time.Minute
	defaultMaxRetries    = 10
	defaultRetention     = 7 * 24 * time.Hour
)

// DefaultQueuePriorities defines the priority settings for task queues.
// Relay deliveries run on critical so transient backlog in default never
// starves them.
var DefaultQueuePriorities = map[string]int{
	"critical": 6,
	"default":  3,
	"low":      1,
}

// NewRedisConfig creates a Redis configuration from environment variables.
// REDIS_URL wins over the individual REDIS_HOST/REDIS_PORT/... variables.
func NewRedisConfig() (*RedisConfig, error) {
	cfg := &RedisConfig{
		Host:            getEnvOrDefault("REDIS_HOST", defaultHost),
		Port:            defaultPort,
		Password:        os.Getenv("REDIS_PASSWORD"),
		Workers:         defaultWorkers,
		RetryInterval:   defaultRetryInterval,
		MaxRetries:      defaultMaxRetries,
		RetentionPeriod: defaultRetention,
		QueuePriorities: make(map[string]int),
	}

	for queue, priority := range DefaultQueuePriorities {
		cfg.QueuePriorities[queue] = priority
	}

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		if err := cfg.applyURL(redisURL); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil || p < 1 || p > 65535 {
			return nil, fmt.Errorf("invalid REDIS_PORT: %q", port)
		}
		cfg.Port = p
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil || d < 0 || d > 15 {
			return nil, fmt.Errorf("invalid REDIS_DB: %q", db)
		}
		cfg.DB = d
	}

	if workers := os.Getenv("REDIS_WORKERS"); workers != "" {
		w, err := strconv.Atoi(workers)
		if err != nil || w < 1 {
			return nil, fmt.Errorf("invalid REDIS_WORKERS: %q", workers)
		}
		cfg.Workers = w
	}

	if retries := os.Getenv("REDIS_MAX_RETRIES"); retries != "" {
		r, err := strconv.Atoi(retries)
		if err != nil || r < 0 {
			return nil, fmt.Errorf("invalid REDIS_MAX_RETRIES: %q", retries)
		}
		cfg.MaxRetries = r
	}

	return cfg, nil
}

func (cfg *RedisConfig) applyURL(redisURL string) error {
	parsed, err := url.Parse(redisURL)
	if err != nil {
		return fmt.Errorf("invalid Redis URL: %w", err)
	}

	if host := parsed.Hostname(); host != "" {
		cfg.Host = host
	}

	if port := parsed.Port(); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid port in Redis URL: %w", err)
		}
		cfg.Port = p
	}

	if password, ok := parsed.User.Password(); ok {
		cfg.Password = password
	}

	if path := strings.TrimPrefix(parsed.Path, "/"); path != "" {
		db, err := strconv.Atoi(path)
		if err != nil {
			return fmt.Errorf("invalid database number in Redis URL: %w", err)
		}
		cfg.DB = db
	}

	return nil
}

// GetRedisAddr returns the host:port address.
func (cfg *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
