package config

import (
	"fmt"
	"strings"
	"time"
)

// Store backend names.
const (
	StoreBackendMemory = "memory"
	StoreBackendRedis  = "redis"
)

// StoreConfig selects and tunes the job store backend.
type StoreConfig struct {
	// Backend is "memory" for a single-node deployment or "redis" when
	// several worker processes share the queue.
	Backend string `env:"STORE_BACKEND" envDefault:"memory"`

	// CompletedTTL is how long finished jobs are retained.
	CompletedTTL time.Duration `env:"STORE_COMPLETED_TTL" envDefault:"48h"`
}

// Sanitize normalises the backend name and enforces safe defaults.
func (c *StoreConfig) Sanitize() {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == "" {
		c.Backend = StoreBackendMemory
	}
	if c.CompletedTTL <= 0 {
		c.CompletedTTL = 48 * time.Hour
	}
}

// Validate checks that the backend name is one of the known backends.
func (c *StoreConfig) Validate() error {
	switch c.Backend {
	case StoreBackendMemory, StoreBackendRedis:
		return nil
	default:
		return fmt.Errorf("invalid store backend: %q (valid options: memory, redis)", c.Backend)
	}
}

// RedisConfig contains Redis connection settings for the shared job store.
type RedisConfig struct {
	Addr     string `env:"ADDR"      envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"  envDefault:""`
	DB       int    `env:"DB"        envDefault:"0"`
	PoolSize int    `env:"POOL_SIZE" envDefault:"10"`
}

// Sanitize enforces safe defaults for connection settings.
func (c *RedisConfig) Sanitize() {
	c.Addr = strings.TrimSpace(c.Addr)
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.DB < 0 {
		c.DB = 0
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 10
	}
}
