package broadcasts

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/livesync/internal/models"
)

const sqliteColumns = `id, title, description, stream_url, scheduled_at, ends_at, is_live, ended_at, access_tier, course_ref, day_number, created_by, created_at, updated_at`

// SQLiteRepository stores broadcasts in SQLite. Timestamps are unix milliseconds.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository wraps an opened, migrated database. now may be nil.
func NewSQLiteRepository(db *sql.DB, now func() time.Time) *SQLiteRepository {
	if now == nil {
		now = time.Now
	}
	return &SQLiteRepository{db: db, now: now}
}

// ListRecent implements Repository.
func (r *SQLiteRepository) ListRecent(ctx context.Context, since time.Time) ([]models.Broadcast, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sqliteColumns+` FROM broadcasts
		WHERE ended_at IS NULL OR ended_at >= ? ORDER BY scheduled_at ASC`, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Broadcast
	for rows.Next() {
		b, err := scanSQLiteBroadcast(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *b)
	}
	return list, rows.Err()
}

// Get returns a broadcast by ID.
func (r *SQLiteRepository) Get(ctx context.Context, id uuid.UUID) (*models.Broadcast, error) {
	b, err := scanSQLiteBroadcast(r.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM broadcasts WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

// Save inserts or updates a broadcast.
func (r *SQLiteRepository) Save(ctx context.Context, b *models.Broadcast) (*models.Broadcast, error) {
	id := b.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	now := r.now().UnixMilli()
	const q = `INSERT INTO broadcasts (id, title, description, stream_url, scheduled_at, ends_at, is_live, ended_at, access_tier, course_ref, day_number, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, NULL, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title, description = excluded.description, stream_url = excluded.stream_url,
			scheduled_at = excluded.scheduled_at, ends_at = excluded.ends_at, access_tier = excluded.access_tier,
			course_ref = excluded.course_ref, day_number = excluded.day_number, updated_at = excluded.updated_at`
	if _, err := r.db.ExecContext(ctx, q, id.String(), b.Title, b.Description, b.StreamURL, b.ScheduledAt.UnixMilli(),
		nullMillis(b.EndsAt), string(b.AccessTier), b.CourseRef, nullInt(b.DayNumber), b.CreatedBy.String(), now, now); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

// GoLive marks the broadcast live.
func (r *SQLiteRepository) GoLive(ctx context.Context, id uuid.UUID, at time.Time) (*models.Broadcast, error) {
	return r.update(ctx, `UPDATE broadcasts SET is_live = 1, ended_at = NULL, updated_at = ? WHERE id = ?`, id, at.UnixMilli(), id.String())
}

// End marks the broadcast ended.
func (r *SQLiteRepository) End(ctx context.Context, id uuid.UUID, at time.Time) (*models.Broadcast, error) {
	ms := at.UnixMilli()
	return r.update(ctx, `UPDATE broadcasts SET is_live = 0, ended_at = ?, updated_at = ? WHERE id = ?`, id, ms, ms, id.String())
}

func (r *SQLiteRepository) update(ctx context.Context, q string, id uuid.UUID, args ...any) (*models.Broadcast, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return r.Get(ctx, id)
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteBroadcast(row scanner) (*models.Broadcast, error) {
	var (
		b                                 models.Broadcast
		id, tier, createdBy               string
		scheduledAt, createdAt, updatedAt int64
		endsAt, endedAt, day              sql.NullInt64
		isLive                            int
	)
	if err := row.Scan(&id, &b.Title, &b.Description, &b.StreamURL, &scheduledAt, &endsAt, &isLive, &endedAt,
		&tier, &b.CourseRef, &day, &createdBy, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if b.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if b.CreatedBy, err = uuid.Parse(createdBy); err != nil {
		return nil, err
	}
	b.AccessTier = models.AccessTier(tier)
	b.ScheduledAt = time.UnixMilli(scheduledAt).UTC()
	b.CreatedAt = time.UnixMilli(createdAt).UTC()
	b.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	b.EndsAt = fromMillis(endsAt)
	b.EndedAt = fromMillis(endedAt)
	b.IsLive = isLive != 0
	if day.Valid {
		d := int(day.Int64)
		b.DayNumber = &d
	}
	return &b, nil
}
