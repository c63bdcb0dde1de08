package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// StoreType names a backend.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeBolt   StoreType = "bolt"
)

const pingTimeout = 3 * time.Second

// NewStore creates a Store of the given type.
// Redis requires WithRedisClient and bolt requires WithBoltPath.
func NewStore(storeType StoreType, opts ...Option) (Store, error) {
	cfg := newStoreConfig(opts)

	switch storeType {
	case StoreTypeMemory:
		return newMemoryStore(cfg), nil
	case StoreTypeRedis:
		if cfg.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return newRedisStore(cfg), nil
	case StoreTypeBolt:
		if cfg.boltPath == "" {
			return nil, ErrInvalidConfig
		}
		return newBoltStore(cfg)
	default:
		return nil, ErrInvalidStoreType
	}
}

// Open builds the requested store and checks it is reachable. A durable
// backend that cannot be reached is replaced by the memory store; the
// returned type tells which one is in use.
func Open(ctx context.Context, storeType StoreType, logger *slog.Logger, opts ...Option) (Store, StoreType, error) {
	s, err := NewStore(storeType, opts...)
	if err == nil {
		if p, ok := s.(pinger); ok {
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err = p.Ping(pingCtx)
			cancel()
			if err != nil {
				_ = s.Close()
			}
		}
	}
	if err == nil {
		return s, storeType, nil
	}
	if storeType == StoreTypeMemory || errors.Is(err, ErrInvalidStoreType) {
		return nil, "", fmt.Errorf("open %s store: %w", storeType, err)
	}

	logger.Warn("session store unavailable, falling back to memory", "backend", storeType, "error", err)
	mem, memErr := NewStore(StoreTypeMemory, opts...)
	if memErr != nil {
		return nil, "", memErr
	}
	return mem, StoreTypeMemory, nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

func newID() string {
	return uuid.NewString()
}
