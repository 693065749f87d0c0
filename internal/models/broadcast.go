package models

import (
	"time"

	"github.com/google/uuid"
)

// Broadcast is an operator-run stream. Operators flip IsLive by hand; the
// manual-broadcast sync client turns broadcasts into live sessions.
type Broadcast struct {
	ID          uuid.UUID  `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	StreamURL   string     `json:"stream_url"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
	IsLive      bool       `json:"is_live"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	AccessTier  AccessTier `json:"access_tier"`
	CourseRef   string     `json:"course_ref,omitempty"`
	DayNumber   *int       `json:"day_number,omitempty"`
	CreatedBy   uuid.UUID  `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
