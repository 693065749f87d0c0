// Package sources pulls session state from the upstream systems and writes
// normalized live sessions into the session store.
package sources

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/livesync/internal/models"
)

// Store is the slice of the session store the sync clients write to.
type Store interface {
	ListBySource(ctx context.Context, kind models.SourceKind) ([]*models.LiveSession, error)
	Upsert(ctx context.Context, s *models.LiveSession) (*models.LiveSession, bool, error)
	SetStatus(ctx context.Context, id uuid.UUID, status models.SessionStatus) (*models.LiveSession, error)
}

// UpstreamRecord is one of ManualBroadcast, HostedVideoBroadcast or AIPresenterSession.
type UpstreamRecord interface {
	Source() models.SourceKind
	ExternalID() string
	// Normalize maps the record to the canonical session shape. ID and UpdatedAt are left to the store.
	Normalize(now time.Time) (*models.LiveSession, error)
	upstream()
}

var (
	errMissingID    = errors.New("missing upstream id")
	errMissingStart = errors.New("missing start time")
	errMissingRef   = errors.New("missing playable reference")
)

// ManualBroadcast is an operator-run broadcast from the broadcasts feed.
type ManualBroadcast struct {
	models.Broadcast
}

func (ManualBroadcast) upstream()                 {}
func (ManualBroadcast) Source() models.SourceKind { return models.SourceManualBroadcast }
func (b ManualBroadcast) ExternalID() string      { return b.ID.String() }

func (b ManualBroadcast) Normalize(now time.Time) (*models.LiveSession, error) {
	if b.ID == uuid.Nil {
		return nil, errMissingID
	}
	if b.ScheduledAt.IsZero() {
		return nil, errMissingStart
	}
	status := models.StatusScheduled
	switch {
	case b.EndedAt != nil:
		status = models.StatusEnded
	case b.IsLive:
		status = models.StatusLive
	}
	if status != models.StatusEnded && strings.TrimSpace(b.StreamURL) == "" {
		return nil, errMissingRef
	}
	s := &models.LiveSession{
		ExternalID:  b.ExternalID(),
		Title:       b.Title,
		Description: b.Description,
		Status:      status,
		StartsAt:    b.ScheduledAt.UTC(),
		EndsAt:      utcPtr(b.EndsAt),
		SourceKind:  models.SourceManualBroadcast,
		PlayableRef: b.StreamURL,
		AccessTier:  b.AccessTier,
		CourseRef:   b.CourseRef,
		DayNumber:   b.DayNumber,
	}
	if b.EndedAt != nil && (s.EndsAt == nil || b.EndedAt.Before(*s.EndsAt)) && !b.EndedAt.Before(s.StartsAt) {
		end := b.EndedAt.UTC()
		s.EndsAt = &end
	}
	if !s.AccessTier.Valid() {
		s.AccessTier = models.TierFree
	}
	return s, nil
}

// HostedVideoBroadcast is a live or upcoming broadcast on the video host.
type HostedVideoBroadcast struct {
	VideoID     string
	Title       string
	Description string
	// LiveState is the provider's broadcast content state: "live", "upcoming" or "none".
	LiveState      string
	ScheduledStart *time.Time
	ActualStart    *time.Time
	ScheduledEnd   *time.Time
	ActualEnd      *time.Time
	// Access fields come from channel configuration; the host knows nothing about tiers.
	AccessTier models.AccessTier
	CourseRef  string
}

func (HostedVideoBroadcast) upstream()                 {}
func (HostedVideoBroadcast) Source() models.SourceKind { return models.SourceHostedVideo }
func (v HostedVideoBroadcast) ExternalID() string      { return v.VideoID }

// EmbedURL returns the player reference for the video.
func (v HostedVideoBroadcast) EmbedURL() string {
	return "https://www.youtube.com/embed/" + v.VideoID
}

func (v HostedVideoBroadcast) Normalize(now time.Time) (*models.LiveSession, error) {
	if strings.TrimSpace(v.VideoID) == "" {
		return nil, errMissingID
	}
	var start *time.Time
	switch {
	case v.ActualStart != nil:
		start = v.ActualStart
	case v.ScheduledStart != nil:
		start = v.ScheduledStart
	default:
		return nil, errMissingStart
	}

	status := models.StatusScheduled
	switch {
	case v.ActualEnd != nil:
		status = models.StatusEnded
	case v.LiveState == "live" || v.ActualStart != nil:
		status = models.StatusLive
	}

	s := &models.LiveSession{
		ExternalID:  v.VideoID,
		Title:       v.Title,
		Description: v.Description,
		Status:      status,
		StartsAt:    start.UTC(),
		SourceKind:  models.SourceHostedVideo,
		PlayableRef: v.EmbedURL(),
		AccessTier:  v.AccessTier,
		CourseRef:   v.CourseRef,
	}
	switch {
	case v.ActualEnd != nil && !v.ActualEnd.Before(s.StartsAt):
		end := v.ActualEnd.UTC()
		s.EndsAt = &end
	case v.ScheduledEnd != nil && v.ScheduledEnd.After(s.StartsAt):
		end := v.ScheduledEnd.UTC()
		s.EndsAt = &end
	}
	if !s.AccessTier.Valid() {
		s.AccessTier = models.TierFree
	}
	return s, nil
}

// AIPresenterSession is the status document of the AI presenter service.
type AIPresenterSession struct {
	Active      bool       `json:"active"`
	SessionID   string     `json:"session_id"`
	Topic       string     `json:"topic"`
	Description string     `json:"description"`
	DayNumber   *int       `json:"day_number"`
	CourseRef   string     `json:"course_ref"`
	StartedAt   *time.Time `json:"started_at"`
	StreamURL   string     `json:"stream_url"`
	AccessTier  string     `json:"access_tier"`
}

func (AIPresenterSession) upstream()                 {}
func (AIPresenterSession) Source() models.SourceKind { return models.SourceAIPresenter }
func (a AIPresenterSession) ExternalID() string      { return a.SessionID }

// Normalize treats an active session with no start time as starting now.
func (a AIPresenterSession) Normalize(now time.Time) (*models.LiveSession, error) {
	if strings.TrimSpace(a.SessionID) == "" {
		return nil, errMissingID
	}
	if !a.Active {
		return nil, errors.New("inactive session has no live state")
	}
	if strings.TrimSpace(a.StreamURL) == "" {
		return nil, errMissingRef
	}
	start := now.UTC()
	if a.StartedAt != nil && !a.StartedAt.IsZero() {
		start = a.StartedAt.UTC()
	}
	title := a.Topic
	if title == "" {
		title = "AI-led session"
	}
	return &models.LiveSession{
		ExternalID:  a.SessionID,
		Title:       title,
		Description: a.Description,
		Status:      models.StatusLive,
		StartsAt:    start,
		SourceKind:  models.SourceAIPresenter,
		PlayableRef: a.StreamURL,
		AccessTier:  models.ParseAccessTier(a.AccessTier),
		CourseRef:   a.CourseRef,
		DayNumber:   a.DayNumber,
	}, nil
}

// normalize wraps Normalize failures as malformed record errors and validates the result.
func normalize(rec UpstreamRecord, now time.Time) (*models.LiveSession, error) {
	s, err := rec.Normalize(now)
	if err == nil {
		// The store assigns the id; validate everything else.
		probe := s.Clone()
		probe.ID = uuid.New()
		err = probe.Validate()
	}
	if err != nil {
		return nil, &MalformedRecordError{Source: rec.Source(), ExternalID: rec.ExternalID(), Err: err}
	}
	return s, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
