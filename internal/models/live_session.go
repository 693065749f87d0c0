package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultDuration is assumed for sessions without an explicit end.
const DefaultDuration = 2 * time.Hour

// SessionStatus is the lifecycle state of a live session.
type SessionStatus string

const (
	StatusScheduled SessionStatus = "scheduled"
	StatusLive      SessionStatus = "live"
	StatusEnded     SessionStatus = "ended"
)

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusLive, StatusEnded:
		return true
	}
	return false
}

// SourceKind identifies the upstream that produced a session.
type SourceKind string

const (
	SourceManualBroadcast SourceKind = "manual-broadcast"
	SourceHostedVideo     SourceKind = "hosted-video"
	SourceAIPresenter     SourceKind = "ai-presenter"
)

// SourceKinds lists every known source kind in a stable order.
var SourceKinds = []SourceKind{SourceManualBroadcast, SourceHostedVideo, SourceAIPresenter}

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceManualBroadcast, SourceHostedVideo, SourceAIPresenter:
		return true
	}
	return false
}

// AccessTier is the subscription level required to watch a session.
type AccessTier string

const (
	TierFree         AccessTier = "free"
	TierProfessional AccessTier = "professional"
	TierEnterprise   AccessTier = "enterprise"
)

// Rank orders tiers; unknown tiers rank below free.
func (t AccessTier) Rank() int {
	switch t {
	case TierFree:
		return 0
	case TierProfessional:
		return 1
	case TierEnterprise:
		return 2
	}
	return -1
}

// Valid reports whether t is a known tier.
func (t AccessTier) Valid() bool { return t.Rank() >= 0 }

// ParseAccessTier maps free-form input to a tier, defaulting to free.
func ParseAccessTier(s string) AccessTier {
	t := AccessTier(strings.ToLower(strings.TrimSpace(s)))
	if t.Valid() {
		return t
	}
	return TierFree
}

// ErrMalformedSession is wrapped by Validate failures.
var ErrMalformedSession = errors.New("malformed live session")

// LiveSession is the canonical record of a streamable class, regardless of upstream source.
type LiveSession struct {
	ID          uuid.UUID     `json:"id"`
	ExternalID  string        `json:"external_id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Status      SessionStatus `json:"status"`
	StartsAt    time.Time     `json:"starts_at"`
	EndsAt      *time.Time    `json:"ends_at,omitempty"`
	SourceKind  SourceKind    `json:"source_kind"`
	PlayableRef string        `json:"playable_ref"`
	AccessTier  AccessTier    `json:"access_tier"`
	CourseRef   string        `json:"course_ref,omitempty"`
	DayNumber   *int          `json:"day_number,omitempty"`
	ViewerCount int           `json:"viewer_count"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Validate checks the fields reconciliation and gating rely on.
func (s *LiveSession) Validate() error {
	switch {
	case s == nil:
		return fmt.Errorf("%w: nil record", ErrMalformedSession)
	case s.ID == uuid.Nil:
		return fmt.Errorf("%w: missing id", ErrMalformedSession)
	case !s.Status.Valid():
		return fmt.Errorf("%w: unknown status %q", ErrMalformedSession, s.Status)
	case !s.SourceKind.Valid():
		return fmt.Errorf("%w: unknown source kind %q", ErrMalformedSession, s.SourceKind)
	case !s.AccessTier.Valid():
		return fmt.Errorf("%w: unknown access tier %q", ErrMalformedSession, s.AccessTier)
	case s.StartsAt.IsZero():
		return fmt.Errorf("%w: missing starts_at", ErrMalformedSession)
	case s.EndsAt != nil && s.EndsAt.Before(s.StartsAt):
		return fmt.Errorf("%w: ends_at before starts_at", ErrMalformedSession)
	case s.ViewerCount < 0:
		return fmt.Errorf("%w: negative viewer count", ErrMalformedSession)
	case s.Status != StatusEnded && strings.TrimSpace(s.PlayableRef) == "":
		return fmt.Errorf("%w: missing playable ref", ErrMalformedSession)
	}
	return nil
}

// ScheduledEnd returns EndsAt, or StartsAt plus DefaultDuration when no end is set.
func (s *LiveSession) ScheduledEnd() time.Time {
	if s.EndsAt != nil {
		return *s.EndsAt
	}
	return s.StartsAt.Add(DefaultDuration)
}

// RequiresAuth reports whether a viewer must be signed in to watch.
func (s *LiveSession) RequiresAuth() bool {
	return s.AccessTier != TierFree
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *LiveSession) Clone() *LiveSession {
	if s == nil {
		return nil
	}
	out := *s
	if s.EndsAt != nil {
		t := *s.EndsAt
		out.EndsAt = &t
	}
	if s.DayNumber != nil {
		d := *s.DayNumber
		out.DayNumber = &d
	}
	return &out
}
