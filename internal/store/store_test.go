package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videoDownloader/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type factory func(t *testing.T, opts ...Option) Store

func backends() map[string]factory {
	return map[string]factory{
		"memory": func(t *testing.T, opts ...Option) Store {
			s, err := NewStore(StoreTypeMemory, opts...)
			require.NoError(t, err)
			return s
		},
		"redis": func(t *testing.T, opts ...Option) Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			s, err := NewStore(StoreTypeRedis, append(opts, WithRedisClient(client))...)
			require.NoError(t, err)
			return s
		},
		"bolt": func(t *testing.T, opts ...Option) Store {
			path := filepath.Join(t.TempDir(), "sessions.db")
			s, err := NewStore(StoreTypeBolt, append(opts, WithBoltPath(path))...)
			require.NoError(t, err)
			return s
		},
	}
}

func TestStoreContract(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			t.Run("create assigns id and get returns copy", func(t *testing.T) {
				s := newStore(t)
				defer s.Close()
				ctx := context.Background()

				id, err := s.Create(ctx, &models.Session{SourceURL: "https://youtu.be/a", Status: models.StatusDownloading})
				require.NoError(t, err)
				require.NotEmpty(t, id)

				got, err := s.Get(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, id, got.ID)
				assert.Equal(t, "https://youtu.be/a", got.SourceURL)
				assert.False(t, got.CreatedAt.IsZero())

				got.Progress = 99
				again, err := s.Get(ctx, id)
				require.NoError(t, err)
				assert.Zero(t, again.Progress)
			})

			t.Run("ids are unique", func(t *testing.T) {
				s := newStore(t)
				defer s.Close()
				ctx := context.Background()

				seen := map[string]bool{}
				for i := 0; i < 20; i++ {
					id, err := s.Create(ctx, &models.Session{Status: models.StatusDownloading})
					require.NoError(t, err)
					assert.False(t, seen[id])
					seen[id] = true
				}

				_, err := s.Create(ctx, &models.Session{ID: "fixed"})
				require.NoError(t, err)
				_, err = s.Create(ctx, &models.Session{ID: "fixed"})
				assert.ErrorIs(t, err, ErrAlreadyExists)
			})

			t.Run("update merges and missing id is not found", func(t *testing.T) {
				s := newStore(t)
				defer s.Close()
				ctx := context.Background()

				id, err := s.Create(ctx, &models.Session{Status: models.StatusDownloading, Quality: "720p"})
				require.NoError(t, err)

				require.NoError(t, s.Update(ctx, id, func(rec *models.Session) {
					rec.AdvanceProgress(42)
				}))
				got, err := s.Get(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, 42.0, got.Progress)
				assert.Equal(t, "720p", got.Quality)

				err = s.Update(ctx, "missing", func(rec *models.Session) {})
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("delete is idempotent", func(t *testing.T) {
				s := newStore(t)
				defer s.Close()
				ctx := context.Background()

				id, err := s.Create(ctx, &models.Session{Status: models.StatusDownloading})
				require.NoError(t, err)
				require.NoError(t, s.Delete(ctx, id))
				require.NoError(t, s.Delete(ctx, id))

				_, err = s.Get(ctx, id)
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("expired records are unreachable and swept", func(t *testing.T) {
				clock := newFakeClock()
				s := newStore(t, WithRetention(24*time.Hour), WithClock(clock.Now))
				defer s.Close()
				ctx := context.Background()

				oldID, err := s.Create(ctx, &models.Session{Status: models.StatusDownloading})
				require.NoError(t, err)
				clock.Advance(12 * time.Hour)
				freshID, err := s.Create(ctx, &models.Session{Status: models.StatusDownloading})
				require.NoError(t, err)

				clock.Advance(13 * time.Hour)
				_, err = s.Get(ctx, oldID)
				assert.ErrorIs(t, err, ErrNotFound)
				assert.ErrorIs(t, s.Update(ctx, oldID, func(*models.Session) {}), ErrNotFound)

				_, err = s.Get(ctx, freshID)
				require.NoError(t, err)

				removed, err := s.Sweep(ctx, clock.Now().Add(-24*time.Hour))
				require.NoError(t, err)
				require.Len(t, removed, 1)
				assert.Equal(t, oldID, removed[0].ID)

				_, err = s.Get(ctx, freshID)
				assert.NoError(t, err)
			})
		})
	}
}

func TestNewStore_InvalidConfig(t *testing.T) {
	_, err := NewStore(StoreTypeRedis)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewStore(StoreTypeBolt)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewStore("postgres")
	assert.ErrorIs(t, err, ErrInvalidStoreType)
}

func TestOpen_FallsBackToMemory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	client := redis.NewClient(&redis.Options{Addr: addr, MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	s, typ, err := Open(context.Background(), StoreTypeRedis, logger, WithRedisClient(client))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, StoreTypeMemory, typ)
	_, ok := s.(*memoryStore)
	assert.True(t, ok)
}

func TestOpen_UsesReachableRedis(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	s, typ, err := Open(context.Background(), StoreTypeRedis, logger, WithRedisClient(client))
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, StoreTypeRedis, typ)
}

func TestOpen_InvalidType(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, _, err := Open(context.Background(), "postgres", logger)
	assert.ErrorIs(t, err, ErrInvalidStoreType)
}

func TestRedisStore_SetsRetentionTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s, err := NewStore(StoreTypeRedis, WithRedisClient(client), WithRetention(time.Hour))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	id, err := s.Create(ctx, &models.Session{Status: models.StatusDownloading})
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, id, func(rec *models.Session) { rec.AdvanceProgress(10) }))

	ttl := mr.TTL(sessionKeyPrefix + id)
	assert.Greater(t, ttl, 59*time.Minute)
	assert.LessOrEqual(t, ttl, time.Hour)

	mr.FastForward(2 * time.Hour)
	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}
