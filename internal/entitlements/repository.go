package entitlements

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/livesync/internal/models"
)

// Repository reads entitlements from the subscriptions and enrollments tables.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an entitlements repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Lookup implements Provider. Lapsed or cancelled subscriptions count as free.
func (r *Repository) Lookup(ctx context.Context, userID uuid.UUID) (Entitlements, error) {
	e := Free()

	var tier string
	err := r.pool.QueryRow(ctx, `
		SELECT tier FROM subscriptions
		WHERE user_id = $1 AND status = 'active' AND (current_period_end IS NULL OR current_period_end > NOW())`,
		userID).Scan(&tier)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return e, fmt.Errorf("lookup subscription: %w", err)
	default:
		e.Tier = models.ParseAccessTier(tier)
	}

	rows, err := r.pool.Query(ctx, `SELECT course_ref FROM enrollments WHERE user_id = $1`, userID)
	if err != nil {
		return e, fmt.Errorf("lookup enrollments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var course string
		if err := rows.Scan(&course); err != nil {
			return e, err
		}
		e.Courses[course] = true
	}
	return e, rows.Err()
}
