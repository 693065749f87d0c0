// Package sessions persists live session records and their viewer counters.
package sessions

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/aura-webinar/livesync/internal/models"
)

// ErrNotFound is returned when a session id has no row.
var ErrNotFound = errors.New("live session not found")

// Lister is the read side used by reconciliation.
type Lister interface {
	// List returns every non-ended session ordered by starts_at, then most recently updated.
	List(ctx context.Context) ([]*models.LiveSession, error)
}

// Counter performs server-side atomic viewer count changes.
type Counter interface {
	IncrementViewerCount(ctx context.Context, id uuid.UUID) (int, error)
	// DecrementViewerCount never takes the count below zero.
	DecrementViewerCount(ctx context.Context, id uuid.UUID) (int, error)
}

// Store is the full session store contract.
type Store interface {
	Lister
	Counter
	Get(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)
	// ListBySource returns the non-ended sessions produced by one source kind.
	ListBySource(ctx context.Context, kind models.SourceKind) ([]*models.LiveSession, error)
	// Upsert inserts or updates by (source_kind, external_id), keeping the stored
	// viewer count. created reports whether a new row was inserted.
	Upsert(ctx context.Context, s *models.LiveSession) (saved *models.LiveSession, created bool, err error)
	SetStatus(ctx context.Context, id uuid.UUID, status models.SessionStatus) (*models.LiveSession, error)
}
