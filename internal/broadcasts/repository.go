// Package broadcasts stores operator-run broadcasts, the feed behind the manual-broadcast source.
package broadcasts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/livesync/internal/models"
)

var ErrNotFound = errors.New("broadcast not found")

// Repository is implemented by the PostgreSQL, SQLite and in-memory stores.
type Repository interface {
	// ListRecent returns broadcasts not ended, or ended at or after since, by scheduled_at.
	ListRecent(ctx context.Context, since time.Time) ([]models.Broadcast, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Broadcast, error)
	// Save inserts b, or updates the broadcast with b.ID. Live and ended flags are untouched on update.
	Save(ctx context.Context, b *models.Broadcast) (*models.Broadcast, error)
	// GoLive flips the broadcast live and clears any end.
	GoLive(ctx context.Context, id uuid.UUID, at time.Time) (*models.Broadcast, error)
	// End takes the broadcast off air.
	End(ctx context.Context, id uuid.UUID, at time.Time) (*models.Broadcast, error)
}
