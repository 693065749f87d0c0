package sessions

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/livesync/internal/models"
)

const sessionColumns = `id, external_id, title, description, status, starts_at, ends_at, source_kind, playable_ref, access_tier, course_ref, day_number, viewer_count, updated_at`

// Repository handles live_sessions persistence in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a live sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns all non-ended sessions.
func (r *Repository) List(ctx context.Context) ([]*models.LiveSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM live_sessions WHERE status <> 'ended' ORDER BY starts_at ASC, updated_at DESC`
	return r.query(ctx, q)
}

// ListBySource returns non-ended sessions of one source kind.
func (r *Repository) ListBySource(ctx context.Context, kind models.SourceKind) ([]*models.LiveSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM live_sessions WHERE source_kind = $1 AND status <> 'ended' ORDER BY starts_at ASC, updated_at DESC`
	return r.query(ctx, q, string(kind))
}

func (r *Repository) query(ctx context.Context, q string, args ...any) ([]*models.LiveSession, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*models.LiveSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// Get returns a session by ID.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM live_sessions WHERE id = $1`
	s, err := scanSession(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// Upsert inserts or updates by (source_kind, external_id). viewer_count is never overwritten.
func (r *Repository) Upsert(ctx context.Context, s *models.LiveSession) (*models.LiveSession, bool, error) {
	id := s.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	q := `INSERT INTO live_sessions (id, external_id, title, description, status, starts_at, ends_at, source_kind, playable_ref, access_tier, course_ref, day_number, viewer_count, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 0, NOW())
		ON CONFLICT (source_kind, external_id) DO UPDATE SET
			title = EXCLUDED.title, description = EXCLUDED.description, status = EXCLUDED.status,
			starts_at = EXCLUDED.starts_at, ends_at = EXCLUDED.ends_at, playable_ref = EXCLUDED.playable_ref,
			access_tier = EXCLUDED.access_tier, course_ref = EXCLUDED.course_ref, day_number = EXCLUDED.day_number,
			updated_at = NOW()
		RETURNING ` + sessionColumns + `, (xmax = 0) AS inserted`
	row := r.pool.QueryRow(ctx, q, id, s.ExternalID, s.Title, s.Description, string(s.Status), s.StartsAt, s.EndsAt,
		string(s.SourceKind), s.PlayableRef, string(s.AccessTier), s.CourseRef, s.DayNumber)
	var inserted bool
	saved, err := scanSession(row, &inserted)
	if err != nil {
		return nil, false, err
	}
	return saved, inserted, nil
}

// SetStatus sets status and bumps updated_at.
func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, status models.SessionStatus) (*models.LiveSession, error) {
	q := `UPDATE live_sessions SET status = $1, updated_at = NOW() WHERE id = $2 RETURNING ` + sessionColumns
	s, err := scanSession(r.pool.QueryRow(ctx, q, string(status), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// IncrementViewerCount increments viewer_count in a single statement.
func (r *Repository) IncrementViewerCount(ctx context.Context, id uuid.UUID) (int, error) {
	const q = `UPDATE live_sessions SET viewer_count = viewer_count + 1 WHERE id = $1 RETURNING viewer_count`
	return r.counter(ctx, q, id)
}

// DecrementViewerCount decrements viewer_count, never below zero.
func (r *Repository) DecrementViewerCount(ctx context.Context, id uuid.UUID) (int, error) {
	const q = `UPDATE live_sessions SET viewer_count = GREATEST(viewer_count - 1, 0) WHERE id = $1 RETURNING viewer_count`
	return r.counter(ctx, q, id)
}

func (r *Repository) counter(ctx context.Context, q string, id uuid.UUID) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, q, id).Scan(&n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return n, nil
}

func scanSession(row pgx.Row, extra ...any) (*models.LiveSession, error) {
	var (
		s                          models.LiveSession
		status, kind, tier, course string
	)
	dest := []any{&s.ID, &s.ExternalID, &s.Title, &s.Description, &status, &s.StartsAt, &s.EndsAt, &kind,
		&s.PlayableRef, &tier, &course, &s.DayNumber, &s.ViewerCount, &s.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	s.Status = models.SessionStatus(status)
	s.SourceKind = models.SourceKind(kind)
	s.AccessTier = models.AccessTier(tier)
	s.CourseRef = course
	return &s, nil
}
