package cache

import (
	"context"
	"time"
)

// Cache is the shared cache contract. The alert pipeline uses it for two
// things: the idempotency guard in front of the trigger endpoint (SetNX)
// and the terminal-result cache in front of the alert store.
type Cache interface {
	// Get returns the cached value and whether it exists.
	Get(ctx context.Context, key string) (interface{}, bool)

	// Set stores a value with an expiration. Zero means no expiry.
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error

	// SetNX stores the value only if the key is absent. Returns true when
	// this call claimed the key.
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)

	// Delete removes a key.
	Delete(ctx context.Context, key string) error

	// Exists reports whether a key is present.
	Exists(ctx context.Context, key string) bool

	// Close releases backend connections.
	Close() error
}

// Config selects and configures a cache backend.
type Config struct {
	// Type: "local", "gocache" or "redis"
	Type string `json:"type" yaml:"type" env:"CACHE_TYPE" default:"local"`

	Redis RedisConfig `json:"redis" yaml:"redis"`
	Local LocalConfig `json:"local" yaml:"local"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr         string        `json:"addr" yaml:"addr" env:"REDIS_ADDR" default:"localhost:6379"`
	Password     string        `json:"password" yaml:"password" env:"REDIS_PASSWORD"`
	DB           int           `json:"db" yaml:"db" env:"REDIS_DB" default:"0"`
	PoolSize     int           `json:"pool_size" yaml:"pool_size" env:"REDIS_POOL_SIZE" default:"10"`
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout" env:"REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout" env:"REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" env:"REDIS_WRITE_TIMEOUT" default:"3s"`
}

// LocalConfig configures the in-process backends.
type LocalConfig struct {
	DefaultExpiration time.Duration `json:"default_expiration" yaml:"default_expiration" env:"LOCAL_CACHE_DEFAULT_EXPIRATION" default:"5m"`
	CleanupInterval   time.Duration `json:"cleanup_interval" yaml:"cleanup_interval" env:"LOCAL_CACHE_CLEANUP_INTERVAL" default:"10m"`
}
