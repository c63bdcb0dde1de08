package store

import (
	"context"
	"sync"
	"time"

	"videoDownloader/internal/models"
)

// memoryStore keeps sessions in a map. Records are copied in and out so
// callers never share pointers with the store.
type memoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*models.Session
	retention time.Duration
	now       func() time.Time
}

func newMemoryStore(cfg *storeConfig) *memoryStore {
	return &memoryStore{
		sessions:  make(map[string]*models.Session),
		retention: cfg.retention,
		now:       cfg.now,
	}
}

func (s *memoryStore) Create(ctx context.Context, data *models.Session) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := data.Clone()
	if rec.ID == "" {
		rec.ID = newID()
	}
	if _, exists := s.sessions[rec.ID]; exists {
		return "", ErrAlreadyExists
	}
	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	s.sessions[rec.ID] = rec
	return rec.ID, nil
}

func (s *memoryStore) Get(ctx context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *memoryStore) Update(ctx context.Context, id string, fn func(*models.Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.lookup(id)
	if !ok {
		return ErrNotFound
	}
	next := rec.Clone()
	fn(next)
	next.ID = rec.ID
	next.CreatedAt = rec.CreatedAt
	next.UpdatedAt = s.now()
	s.sessions[id] = next
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

func (s *memoryStore) Sweep(ctx context.Context, cutoff time.Time) ([]*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []*models.Session
	for id, rec := range s.sessions {
		if rec.CreatedAt.Before(cutoff) {
			removed = append(removed, rec)
			delete(s.sessions, id)
		}
	}
	return removed, nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = make(map[string]*models.Session)
	return nil
}

// lookup must be called with mu held.
func (s *memoryStore) lookup(id string) (*models.Session, bool) {
	rec, ok := s.sessions[id]
	if !ok || rec.Expired(s.now(), s.retention) {
		return nil, false
	}
	return rec, true
}
