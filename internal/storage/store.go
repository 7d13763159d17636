package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Times() TimeStore
}

// TimeStore manages per-(space, user) voice time records.
//
// TopByTotal returns records for one space ordered by TotalSeconds descending,
// ties broken by ascending UserID. A limit <= 0 returns every record for the
// space. ListOpenSessions spans all spaces and returns every record whose
// ActiveSince is set; it exists for crash recovery after a restart.
type TimeStore interface {
	Get(ctx context.Context, spaceID, userID string) (*UserTime, error)
	Upsert(ctx context.Context, rec UserTime) error
	TopByTotal(ctx context.Context, spaceID string, limit int) ([]UserTime, error)
	ListOpenSessions(ctx context.Context) ([]UserTime, error)
	ListSpaces(ctx context.Context) ([]string, error)
}
