// Package reconcile picks the one live session a viewer should see.
package reconcile

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/livesync/internal/models"
)

// Windows holds the time rules used during selection.
type Windows struct {
	// Live windows per source kind, measured from startsAt when a session has no endsAt.
	ManualBroadcast time.Duration
	HostedVideo     time.Duration
	AIPresenter     time.Duration
	// Lookahead admits scheduled sessions starting this far in the future.
	Lookahead time.Duration
	// Grace admits scheduled sessions whose start passed this long ago.
	Grace time.Duration
}

// DefaultWindows returns the production defaults.
func DefaultWindows() Windows {
	return Windows{
		ManualBroadcast: 180 * time.Minute,
		HostedVideo:     90 * time.Minute,
		AIPresenter:     120 * time.Minute,
		Lookahead:       15 * time.Minute,
		Grace:           5 * time.Minute,
	}
}

// Window returns the live window for a source kind.
func (w Windows) Window(kind models.SourceKind) time.Duration {
	switch kind {
	case models.SourceManualBroadcast:
		return w.ManualBroadcast
	case models.SourceHostedVideo:
		return w.HostedVideo
	case models.SourceAIPresenter:
		return w.AIPresenter
	}
	return models.DefaultDuration
}

// WindowEnd is endsAt when set, otherwise startsAt plus the source window.
func (w Windows) WindowEnd(s *models.LiveSession) time.Time {
	if s.EndsAt != nil {
		return *s.EndsAt
	}
	return s.StartsAt.Add(w.Window(s.SourceKind))
}

// Phase describes why a session was selected.
type Phase string

const (
	PhaseNone     Phase = "none"
	PhaseLive     Phase = "live"
	PhaseUpcoming Phase = "upcoming"
)

// Skipped is a record dropped for being malformed.
type Skipped struct {
	SessionID uuid.UUID
	Err       error
}

// Selection is the outcome of one reconciliation pass.
type Selection struct {
	Session *models.LiveSession
	Phase   Phase
	Skipped []Skipped
}

// Found reports whether a session was selected.
func (s Selection) Found() bool { return s.Session != nil }

type candidate struct {
	s       *models.LiveSession
	flagged bool // status=live
}

// Select returns at most one session. It never mutates records. Skipped is
// ordered by session id.
func Select(records []*models.LiveSession, now time.Time, w Windows) Selection {
	var (
		live, upcoming []candidate
		skipped        []Skipped
	)
	for _, s := range records {
		if err := s.Validate(); err != nil {
			var id uuid.UUID
			if s != nil {
				id = s.ID
			}
			skipped = append(skipped, Skipped{SessionID: id, Err: err})
			continue
		}
		if s.Status == models.StatusEnded {
			continue
		}
		switch {
		case qualifiesLive(s, now, w):
			live = append(live, candidate{s: s, flagged: s.Status == models.StatusLive})
		case qualifiesUpcoming(s, now, w):
			upcoming = append(upcoming, candidate{s: s})
		}
	}

	sort.Slice(skipped, func(i, j int) bool {
		return skipped[i].SessionID.String() < skipped[j].SessionID.String()
	})
	sel := Selection{Phase: PhaseNone, Skipped: skipped}
	switch {
	case len(live) > 0:
		sel.Session, sel.Phase = best(live).Clone(), PhaseLive
	case len(upcoming) > 0:
		sel.Session, sel.Phase = best(upcoming).Clone(), PhaseUpcoming
	}
	return sel
}

func qualifiesLive(s *models.LiveSession, now time.Time, w Windows) bool {
	end := w.WindowEnd(s)
	if s.Status == models.StatusLive {
		// Operators may flip a manual broadcast live regardless of the clock.
		return s.SourceKind == models.SourceManualBroadcast || !now.After(end)
	}
	return !now.Before(s.StartsAt) && !now.After(end)
}

func qualifiesUpcoming(s *models.LiveSession, now time.Time, w Windows) bool {
	if s.Status != models.StatusScheduled {
		return false
	}
	if now.After(w.WindowEnd(s)) {
		return false
	}
	return !s.StartsAt.Before(now.Add(-w.Grace)) && !s.StartsAt.After(now.Add(w.Lookahead))
}

// best ranks explicitly-live over merely in-window, then newest updatedAt, then id.
func best(cs []candidate) *models.LiveSession {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.flagged != b.flagged {
			return a.flagged
		}
		if !a.s.UpdatedAt.Equal(b.s.UpdatedAt) {
			return a.s.UpdatedAt.After(b.s.UpdatedAt)
		}
		return a.s.ID.String() < b.s.ID.String()
	})
	return cs[0].s
}
