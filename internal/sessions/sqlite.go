package sessions

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/livesync/internal/models"
)

// SQLiteStore persists sessions in SQLite (modernc.org/sqlite). Timestamps are unix milliseconds.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore wraps an opened, migrated database. now may be nil.
func NewSQLiteStore(db *sql.DB, now func() time.Time) *SQLiteStore {
	if now == nil {
		now = time.Now
	}
	return &SQLiteStore{db: db, now: now}
}

// List returns all non-ended sessions.
func (r *SQLiteStore) List(ctx context.Context) ([]*models.LiveSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM live_sessions WHERE status <> 'ended' ORDER BY starts_at ASC, updated_at DESC`
	return r.query(ctx, q)
}

// ListBySource returns non-ended sessions of one source kind.
func (r *SQLiteStore) ListBySource(ctx context.Context, kind models.SourceKind) ([]*models.LiveSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM live_sessions WHERE source_kind = ? AND status <> 'ended' ORDER BY starts_at ASC, updated_at DESC`
	return r.query(ctx, q, string(kind))
}

func (r *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]*models.LiveSession, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*models.LiveSession
	for rows.Next() {
		s, err := scanSQLiteSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// Get returns a session by ID.
func (r *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM live_sessions WHERE id = ?`
	s, err := scanSQLiteSession(r.db.QueryRowContext(ctx, q, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// Upsert inserts or updates by (source_kind, external_id).
func (r *SQLiteStore) Upsert(ctx context.Context, s *models.LiveSession) (*models.LiveSession, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT id FROM live_sessions WHERE source_kind = ? AND external_id = ?`,
		string(s.SourceKind), s.ExternalID).Scan(&existing)
	created := errors.Is(err, sql.ErrNoRows)
	if err != nil && !created {
		return nil, false, err
	}

	id := s.ID
	if !created {
		if id, err = uuid.Parse(existing); err != nil {
			return nil, false, err
		}
	} else if id == uuid.Nil {
		id = uuid.New()
	}
	var endsAt, day sql.NullInt64
	if s.EndsAt != nil {
		endsAt = sql.NullInt64{Int64: s.EndsAt.UnixMilli(), Valid: true}
	}
	if s.DayNumber != nil {
		day = sql.NullInt64{Int64: int64(*s.DayNumber), Valid: true}
	}
	const q = `INSERT INTO live_sessions (id, external_id, title, description, status, starts_at, ends_at, source_kind, playable_ref, access_tier, course_ref, day_number, viewer_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT (source_kind, external_id) DO UPDATE SET
			title = excluded.title, description = excluded.description, status = excluded.status,
			starts_at = excluded.starts_at, ends_at = excluded.ends_at, playable_ref = excluded.playable_ref,
			access_tier = excluded.access_tier, course_ref = excluded.course_ref, day_number = excluded.day_number,
			updated_at = excluded.updated_at`
	if _, err := tx.ExecContext(ctx, q, id.String(), s.ExternalID, s.Title, s.Description, string(s.Status),
		s.StartsAt.UnixMilli(), endsAt, string(s.SourceKind), s.PlayableRef, string(s.AccessTier), s.CourseRef,
		day, r.now().UnixMilli()); err != nil {
		return nil, false, err
	}
	saved, err := scanSQLiteSession(tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM live_sessions WHERE id = ?`, id.String()))
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return saved, created, nil
}

// SetStatus sets status and bumps updated_at.
func (r *SQLiteStore) SetStatus(ctx context.Context, id uuid.UUID, status models.SessionStatus) (*models.LiveSession, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE live_sessions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), r.now().UnixMilli(), id.String())
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return r.Get(ctx, id)
}

// IncrementViewerCount increments viewer_count in a single statement.
func (r *SQLiteStore) IncrementViewerCount(ctx context.Context, id uuid.UUID) (int, error) {
	return r.counter(ctx, `UPDATE live_sessions SET viewer_count = viewer_count + 1 WHERE id = ? RETURNING viewer_count`, id)
}

// DecrementViewerCount decrements viewer_count, never below zero.
func (r *SQLiteStore) DecrementViewerCount(ctx context.Context, id uuid.UUID) (int, error) {
	return r.counter(ctx, `UPDATE live_sessions SET viewer_count = MAX(viewer_count - 1, 0) WHERE id = ? RETURNING viewer_count`, id)
}

func (r *SQLiteStore) counter(ctx context.Context, q string, id uuid.UUID) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, q, id.String()).Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return n, nil
}

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSession(row sqlScanner) (*models.LiveSession, error) {
	var (
		s                      models.LiveSession
		id, status, kind, tier string
		startsAt, updatedAt    int64
		endsAt, day            sql.NullInt64
	)
	if err := row.Scan(&id, &s.ExternalID, &s.Title, &s.Description, &status, &startsAt, &endsAt, &kind,
		&s.PlayableRef, &tier, &s.CourseRef, &day, &s.ViewerCount, &updatedAt); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	s.ID = parsed
	s.Status = models.SessionStatus(status)
	s.SourceKind = models.SourceKind(kind)
	s.AccessTier = models.AccessTier(tier)
	s.StartsAt = time.UnixMilli(startsAt).UTC()
	s.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if endsAt.Valid {
		t := time.UnixMilli(endsAt.Int64).UTC()
		s.EndsAt = &t
	}
	if day.Valid {
		d := int(day.Int64)
		s.DayNumber = &d
	}
	return &s, nil
}
