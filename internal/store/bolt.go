package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"videoDownloader/internal/models"
)

var sessionsBucket = []byte("sessions")

// boltStore keeps sessions as JSON in a single bucket of an embedded file.
type boltStore struct {
	db        *bolt.DB
	retention time.Duration
	now       func() time.Time
}

func newBoltStore(cfg *storeConfig) (*boltStore, error) {
	db, err := bolt.Open(cfg.boltPath, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt database %s: %w", cfg.boltPath, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sessions bucket: %w", err)
	}
	return &boltStore{db: db, retention: cfg.retention, now: cfg.now}, nil
}

func (s *boltStore) Create(ctx context.Context, data *models.Session) (string, error) {
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
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		if b.Get([]byte(rec.ID)) != nil {
			return ErrAlreadyExists
		}
		return b.Put([]byte(rec.ID), val)
	})
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

func (s *boltStore) Get(ctx context.Context, id string) (*models.Session, error) {
	var rec *models.Session
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		rec, err = s.decode(tx.Bucket(sessionsBucket).Get([]byte(id)))
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *boltStore) Update(ctx context.Context, id string, fn func(*models.Session)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		rec, err := s.decode(b.Get([]byte(id)))
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
		return b.Put([]byte(id), val)
	})
}

func (s *boltStore) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete([]byte(id))
	})
}

func (s *boltStore) Sweep(ctx context.Context, cutoff time.Time) ([]*models.Session, error) {
	var removed []*models.Session
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		var keys [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var rec models.Session
			if err := json.Unmarshal(v, &rec); err != nil {
				keys = append(keys, append([]byte(nil), k...))
				return nil
			}
			if rec.CreatedAt.Before(cutoff) {
				keys = append(keys, append([]byte(nil), k...))
				removed = append(removed, &rec)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	return removed, err
}

func (s *boltStore) Close() error {
	return s.db.Close()
}

func (s *boltStore) decode(val []byte) (*models.Session, error) {
	if val == nil {
		return nil, ErrNotFound
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
