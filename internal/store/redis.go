package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"videoDownloader/internal/models"
)

const (
	sessionKeyPrefix = "session:"
	maxUpdateRetries = 5
	scanBatch        = 100
)

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// redisStore keeps each session as JSON under session:<id>. The key TTL
// enforces the retention window.
type redisStore struct {
	client    *redis.Client
	retention time.Duration
	now       func() time.Time
}

func newRedisStore(cfg *storeConfig) *redisStore {
	return &redisStore{
		client:    cfg.redisClient,
		retention: cfg.retention,
		now:       cfg.now,
	}
}

func (s *redisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *redisStore) Create(ctx context.Context, data *models.Session) (string, error) {
	rec := data.Clone()
	if rec.ID == "" {
		rec.ID = newID()
	}
	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	val, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(rec.ID), val, s.ttl(rec)).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrAlreadyExists
	}
	return rec.ID, nil
}

func (s *redisStore) Get(ctx context.Context, id string) (*models.Session, error) {
	rec, err := s.read(ctx, s.client, id)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Update uses WATCH/MULTI/EXEC and retries when another writer got in first.
func (s *redisStore) Update(ctx context.Context, id string, fn func(*models.Session)) error {
	key := s.key(id)
	txf := func(tx *redis.Tx) error {
		rec, err := s.read(ctx, tx, id)
		if err != nil {
			return err
		}
		next := rec.Clone()
		fn(next)
		next.ID = rec.ID
		next.CreatedAt = rec.CreatedAt
		next.UpdatedAt = s.now()

		val, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, val, redis.KeepTTL)
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update session %s: %w", id, redis.TxFailedErr)
}

func (s *redisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.key(id)).Err()
}

// Sweep catches records whose TTL has not fired yet, e.g. after the
// retention window was shortened.
func (s *redisStore) Sweep(ctx context.Context, cutoff time.Time) ([]*models.Session, error) {
	var removed []*models.Session
	iter := s.client.Scan(ctx, 0, sessionKeyPrefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		val, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return removed, err
		}
		var rec models.Session
		if err := json.Unmarshal(val, &rec); err != nil {
			continue
		}
		if !rec.CreatedAt.Before(cutoff) {
			continue
		}
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return removed, err
		}
		removed = append(removed, &rec)
	}
	return removed, iter.Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

func (s *redisStore) read(ctx context.Context, c getter, id string) (*models.Session, error) {
	val, err := c.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec models.Session
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	if rec.Expired(s.now(), s.retention) {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *redisStore) ttl(rec *models.Session) time.Duration {
	if s.retention <= 0 {
		return 0
	}
	remaining := s.retention - s.now().Sub(rec.CreatedAt)
	if remaining < time.Second {
		remaining = time.Second
	}
	return remaining
}

func (s *redisStore) key(id string) string {
	return sessionKeyPrefix + id
}
