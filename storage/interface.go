package storage

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by a store that has been closed.
var ErrClosed = errors.New("storage: store closed")

// Reservation binds a task to a worker until ExpiresAt.
type Reservation struct {
	Worker    string    `json:"worker"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the reservation is no longer valid at now.
func (r Reservation) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// ReservationStore holds task reservations with a time-to-live.
// Keys are opaque to the store; schedulers namespace them by purpose.
type ReservationStore interface {
	// Reserve binds key to worker for ttl. A non-positive ttl never expires.
	Reserve(ctx context.Context, key, worker string, ttl time.Duration) error
	// Lookup returns the live reservation for key, if any.
	Lookup(ctx context.Context, key string) (Reservation, bool, error)
	// Release drops the reservation for key. Missing keys are not an error.
	Release(ctx context.Context, key string) error
	// List returns all live reservations whose key starts with prefix.
	List(ctx context.Context, prefix string) (map[string]Reservation, error)

	Close() error
}
