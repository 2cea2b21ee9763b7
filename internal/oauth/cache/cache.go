// Package cache provides the token cache layer: a small key/value
// contract with in-memory and redis backends. The grant pipeline treats
// the cache as advisory; every miss falls through to the store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound reports a cache miss.
var ErrNotFound = errors.New("cache: not found")

// Cache is the backend contract. Values are opaque byte payloads;
// callers own serialization.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
	Close() error
}

type Config struct {
	Driver     string // "memory" or "redis"
	Addr       string // redis only
	Password   string // redis only
	DB         int    // redis only
	Prefix     string // key namespace prefix
	DefaultTTL time.Duration
}

// New builds a cache backend from config.
func New(cfg Config) (Cache, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(cfg), nil
	case "redis":
		return NewRedis(cfg)
	default:
		return nil, fmt.Errorf("cache: unknown driver %q", cfg.Driver)
	}
}
