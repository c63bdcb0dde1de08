// Package store persists download sessions behind one contract with
// interchangeable backends.
package store

import (
	"context"
	"errors"
	"time"

	"videoDownloader/internal/models"
)

// DefaultRetention is how long a session record lives regardless of status.
const DefaultRetention = 24 * time.Hour

var (
	ErrNotFound         = errors.New("session not found")
	ErrAlreadyExists    = errors.New("session already exists")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrInvalidStoreType = errors.New("invalid store type")
)

// Store defines session storage operations.
type Store interface {
	// Create stores a new session, assigning an ID when empty, and returns the ID.
	Create(ctx context.Context, s *models.Session) (string, error)

	// Get returns a copy of the session or ErrNotFound. Records past the
	// retention window are reported as not found.
	Get(ctx context.Context, id string) (*models.Session, error)

	// Update applies fn to the stored session and persists the result.
	// Returns ErrNotFound when the session is gone; callers may ignore it.
	Update(ctx context.Context, id string, fn func(*models.Session)) error

	// Delete removes a session. Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error

	// Sweep removes and returns sessions created before cutoff.
	Sweep(ctx context.Context, cutoff time.Time) ([]*models.Session, error)

	// Close releases any resources held by the store.
	Close() error
}
