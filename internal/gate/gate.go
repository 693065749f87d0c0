// Package gate decides what a viewer is allowed to see for the selected session.
package gate

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/livesync/internal/models"
)

// Kind is the UI state the viewer should render.
type Kind string

const (
	KindLoading         Kind = "loading"
	KindNoActiveSession Kind = "no_active_session"
	KindLoginRequired   Kind = "login_required"
	KindUpgradeRequired Kind = "upgrade_required"
	KindCountdown       Kind = "countdown"
	KindPlayable        Kind = "playable"
	KindError           Kind = "error"
)

// Viewer is the auth and entitlement state of the person watching.
type Viewer struct {
	Authenticated bool
	Tier          models.AccessTier
	// Enrollments holds course refs the viewer is enrolled in.
	Enrollments map[string]bool
}

// Enrolled reports whether the viewer is enrolled in courseRef.
func (v Viewer) Enrolled(courseRef string) bool {
	return courseRef != "" && v.Enrollments[courseRef]
}

// Input is everything Evaluate looks at.
type Input struct {
	// Loaded is false until the first store read completes.
	Loaded bool
	// LoadErr is set when no read has ever succeeded.
	LoadErr error
	Session *models.LiveSession
	// Malformed is set when records were dropped as malformed and nothing valid was selected.
	Malformed error
	Viewer    Viewer
	// PlaybackErr is the last failure reported by the player, if any.
	PlaybackErr string
	Now         time.Time
}

// State is the result of one evaluation.
type State struct {
	Kind          Kind              `json:"kind"`
	SessionID     uuid.UUID         `json:"session_id,omitempty"`
	Title         string            `json:"title,omitempty"`
	Description   string            `json:"description,omitempty"`
	PlayableRef   string            `json:"playable_ref,omitempty"`
	SourceKind    models.SourceKind `json:"source_kind,omitempty"`
	StartsAt      *time.Time        `json:"starts_at,omitempty"`
	Remaining     time.Duration     `json:"-"`
	RemainingSecs int64             `json:"remaining_seconds,omitempty"`
	Countdown     string            `json:"countdown,omitempty"`
	RequiredTier  models.AccessTier `json:"required_tier,omitempty"`
	ViewerCount   int               `json:"viewer_count,omitempty"`
	Message       string            `json:"message,omitempty"`
	Retryable     bool              `json:"retryable,omitempty"`
}

// Equal reports whether two states render identically. Viewer counts are ignored.
func (s State) Equal(o State) bool {
	return s.Kind == o.Kind &&
		s.SessionID == o.SessionID &&
		s.Title == o.Title &&
		s.Description == o.Description &&
		s.PlayableRef == o.PlayableRef &&
		s.Countdown == o.Countdown &&
		s.RequiredTier == o.RequiredTier &&
		s.Message == o.Message &&
		s.Retryable == o.Retryable
}

// Evaluate is pure: identical inputs always yield identical states.
func Evaluate(in Input) State {
	if !in.Loaded {
		if in.LoadErr != nil {
			return State{Kind: KindError, Message: "live sessions are unavailable right now", Retryable: true}
		}
		return State{Kind: KindLoading}
	}
	s := in.Session
	if s == nil {
		if in.Malformed != nil {
			return State{Kind: KindError, Message: in.Malformed.Error()}
		}
		return State{Kind: KindNoActiveSession}
	}
	if err := s.Validate(); err != nil {
		return State{Kind: KindError, Message: err.Error()}
	}

	st := State{
		SessionID:   s.ID,
		Title:       s.Title,
		Description: s.Description,
		SourceKind:  s.SourceKind,
		ViewerCount: s.ViewerCount,
	}

	if s.RequiresAuth() && !in.Viewer.Authenticated {
		st.Kind = KindLoginRequired
		st.RequiredTier = s.AccessTier
		return st
	}
	// Anonymous and unknown viewer tiers get free access.
	tier := in.Viewer.Tier
	if !tier.Valid() {
		tier = models.TierFree
	}
	if s.AccessTier.Rank() > tier.Rank() && !in.Viewer.Enrolled(s.CourseRef) {
		st.Kind = KindUpgradeRequired
		st.RequiredTier = s.AccessTier
		return st
	}
	// A session its source already flipped live plays even ahead of its schedule.
	if s.Status == models.StatusScheduled && in.Now.Before(s.StartsAt) {
		remaining := s.StartsAt.Sub(in.Now)
		startsAt := s.StartsAt
		st.Kind = KindCountdown
		st.StartsAt = &startsAt
		st.Remaining = remaining
		st.RemainingSecs = ceilSeconds(remaining)
		st.Countdown = FormatCountdown(remaining)
		return st
	}
	if in.PlaybackErr != "" {
		st.Kind = KindError
		st.Message = in.PlaybackErr
		st.Retryable = true
		return st
	}

	st.Kind = KindPlayable
	st.PlayableRef = s.PlayableRef
	return st
}

// FormatCountdown renders d as HH:MM:SS, rounding up to the next whole second.
func FormatCountdown(d time.Duration) string {
	secs := ceilSeconds(d)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs/60)%60, secs%60)
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
