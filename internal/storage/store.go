// Package storage 提供会话状态的持久化键值存储。
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
)

// Common errors for store operations.
var (
	ErrNotFound      = errors.New("key not found")
	ErrInvalidDriver = errors.New("invalid store driver")
	ErrInvalidConfig = errors.New("invalid store configuration")
	ErrInvalidKey    = errors.New("invalid key")
	ErrClosed        = errors.New("store closed")
)

// Store is a durable string key-value store. Writes are last-write-wins.
type Store interface {
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// Remove is a no-op for absent keys.
	Remove(ctx context.Context, key string) error
	Close() error
}

// Driver 表示存储后端类型。
type Driver string

const (
	DriverMemory Driver = "memory"
	DriverFile   Driver = "file"
	DriverSQLite Driver = "sqlite"
	DriverRedis  Driver = "redis"
)

// New creates a Store for the given driver.
// file and sqlite require WithPath; redis requires WithRedisClient or WithRedisAddr.
func New(driver Driver, opts ...Option) (Store, error) {
	cfg := &storeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	switch driver {
	case DriverMemory, "":
		return NewMemoryStore(), nil

	case DriverFile:
		if cfg.path == "" {
			return nil, fmt.Errorf("%w: file driver requires a directory", ErrInvalidConfig)
		}
		return NewFileStore(cfg.path)

	case DriverSQLite:
		if cfg.path == "" {
			return nil, fmt.Errorf("%w: sqlite driver requires a database path", ErrInvalidConfig)
		}
		if err := os.MkdirAll(filepath.Dir(cfg.path), 0o700); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		return NewSQLiteStore(cfg.path)

	case DriverRedis:
		client := cfg.redisClient
		if client == nil {
			if cfg.redisAddr == "" {
				return nil, fmt.Errorf("%w: redis driver requires an address", ErrInvalidConfig)
			}
			client = redis.NewClient(&redis.Options{
				Addr:     cfg.redisAddr,
				Password: cfg.redisPassword,
				DB:       cfg.redisDB,
			})
		}
		return NewRedisStore(client, cfg.redisPrefix), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDriver, driver)
	}
}

// Option configures a store created by New.
type Option func(*storeConfig)

type storeConfig struct {
	path          string
	redisClient   *redis.Client
	redisAddr     string
	redisPassword string
	redisDB       int
	redisPrefix   string
}

// WithPath sets the directory (file) or database path (sqlite).
func WithPath(path string) Option {
	return func(c *storeConfig) {
		c.path = path
	}
}

// WithRedisClient uses an existing redis client.
func WithRedisClient(client *redis.Client) Option {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithRedisAddr configures a new redis client.
func WithRedisAddr(addr, password string, db int) Option {
	return func(c *storeConfig) {
		c.redisAddr = addr
		c.redisPassword = password
		c.redisDB = db
	}
}

// WithRedisPrefix namespaces every redis key.
func WithRedisPrefix(prefix string) Option {
	return func(c *storeConfig) {
		c.redisPrefix = prefix
	}
}

