package store

import (
	"time"

	"github.com/redis/go-redis/v9"
)

// Option configures a store.
type Option func(*storeConfig)

type storeConfig struct {
	retention   time.Duration
	now         func() time.Time
	redisClient *redis.Client
	boltPath    string
}

func newStoreConfig(opts []Option) *storeConfig {
	cfg := &storeConfig{retention: DefaultRetention, now: time.Now}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithRetention sets the retention window. Zero disables expiry.
func WithRetention(d time.Duration) Option {
	return func(c *storeConfig) {
		c.retention = d
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *storeConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// WithRedisClient sets the client used by the Redis store.
func WithRedisClient(client *redis.Client) Option {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithBoltPath sets the database file used by the bolt store.
func WithBoltPath(path string) Option {
	return func(c *storeConfig) {
		c.boltPath = path
	}
}
