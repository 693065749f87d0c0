package broadcasts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/livesync/internal/models"
)

const broadcastColumns = `id, title, description, stream_url, scheduled_at, ends_at, is_live, ended_at, access_tier, course_ref, day_number, created_by, created_at, updated_at`

// PostgresRepository handles broadcasts persistence in PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a broadcasts repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// ListRecent implements Repository.
func (r *PostgresRepository) ListRecent(ctx context.Context, since time.Time) ([]models.Broadcast, error) {
	q := `SELECT ` + broadcastColumns + ` FROM broadcasts WHERE ended_at IS NULL OR ended_at >= $1 ORDER BY scheduled_at ASC`
	rows, err := r.pool.Query(ctx, q, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Broadcast
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *b)
	}
	return list, rows.Err()
}

// Get returns a broadcast by ID.
func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*models.Broadcast, error) {
	q := `SELECT ` + broadcastColumns + ` FROM broadcasts WHERE id = $1`
	return r.one(ctx, q, id)
}

// Save inserts or updates a broadcast.
func (r *PostgresRepository) Save(ctx context.Context, b *models.Broadcast) (*models.Broadcast, error) {
	id := b.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	q := `INSERT INTO broadcasts (id, title, description, stream_url, scheduled_at, ends_at, access_tier, course_ref, day_number, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title, description = EXCLUDED.description, stream_url = EXCLUDED.stream_url,
			scheduled_at = EXCLUDED.scheduled_at, ends_at = EXCLUDED.ends_at, access_tier = EXCLUDED.access_tier,
			course_ref = EXCLUDED.course_ref, day_number = EXCLUDED.day_number, updated_at = NOW()
		RETURNING ` + broadcastColumns
	return r.one(ctx, q, id, b.Title, b.Description, b.StreamURL, b.ScheduledAt, b.EndsAt,
		string(b.AccessTier), b.CourseRef, b.DayNumber, b.CreatedBy)
}

// GoLive marks the broadcast live.
func (r *PostgresRepository) GoLive(ctx context.Context, id uuid.UUID, at time.Time) (*models.Broadcast, error) {
	q := `UPDATE broadcasts SET is_live = TRUE, ended_at = NULL, updated_at = $2 WHERE id = $1 RETURNING ` + broadcastColumns
	return r.one(ctx, q, id, at)
}

// End marks the broadcast ended.
func (r *PostgresRepository) End(ctx context.Context, id uuid.UUID, at time.Time) (*models.Broadcast, error) {
	q := `UPDATE broadcasts SET is_live = FALSE, ended_at = $2, updated_at = $2 WHERE id = $1 RETURNING ` + broadcastColumns
	return r.one(ctx, q, id, at)
}

func (r *PostgresRepository) one(ctx context.Context, q string, args ...any) (*models.Broadcast, error) {
	b, err := scanBroadcast(r.pool.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

func scanBroadcast(row pgx.Row) (*models.Broadcast, error) {
	var (
		b    models.Broadcast
		tier string
	)
	if err := row.Scan(&b.ID, &b.Title, &b.Description, &b.StreamURL, &b.ScheduledAt, &b.EndsAt, &b.IsLive,
		&b.EndedAt, &tier, &b.CourseRef, &b.DayNumber, &b.CreatedBy, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.AccessTier = models.AccessTier(tier)
	return &b, nil
}
