// Package presence keeps a session's viewer counter in step with one viewer connection.
package presence

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesync/internal/sessions"
)

// Tracker owns at most one presence claim for a single viewer connection.
// A claim is held iff the connection is open, the page is in the foreground
// and a session is being followed. All methods are idempotent.
type Tracker struct {
	mu      sync.Mutex
	counter sessions.Counter
	logger  *zap.Logger
	connID  uuid.UUID

	connected  bool
	foreground bool
	following  uuid.UUID
	claimed    uuid.UUID
	released   bool
}

// NewTracker returns a tracker for a freshly mounted, foreground viewer that is not yet connected.
func NewTracker(counter sessions.Counter, connID uuid.UUID, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		counter:    counter,
		logger:     logger.With(zap.String("connection_id", connID.String())),
		connID:     connID,
		foreground: true,
	}
}

// Connect marks the viewer connection open.
func (t *Tracker) Connect(ctx context.Context) {
	t.update(ctx, func() { t.connected = true })
}

// Disconnect marks the viewer connection closed.
func (t *Tracker) Disconnect(ctx context.Context) {
	t.update(ctx, func() { t.connected = false })
}

// Foreground records that the viewer's page became visible.
func (t *Tracker) Foreground(ctx context.Context) {
	t.update(ctx, func() { t.foreground = true })
}

// Background records that the viewer's page was hidden.
func (t *Tracker) Background(ctx context.Context) {
	t.update(ctx, func() { t.foreground = false })
}

// Follow points the claim at sessionID. uuid.Nil stops following.
func (t *Tracker) Follow(ctx context.Context, sessionID uuid.UUID) {
	t.update(ctx, func() { t.following = sessionID })
}

// Release drops any claim and retires the tracker. Later calls are no-ops.
func (t *Tracker) Release(ctx context.Context) {
	t.update(ctx, func() {
		t.connected = false
		t.released = true
	})
}

// Claimed returns the session currently counted for this viewer.
func (t *Tracker) Claimed() (uuid.UUID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.claimed, t.claimed != uuid.Nil
}

func (t *Tracker) update(ctx context.Context, mutate func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return
	}
	mutate()

	want := uuid.Nil
	if t.connected && t.foreground && !t.released {
		want = t.following
	}
	if want == t.claimed {
		return
	}

	if t.claimed != uuid.Nil {
		old := t.claimed
		t.claimed = uuid.Nil
		if _, err := t.counter.DecrementViewerCount(ctx, old); err != nil {
			t.logger.Warn("Presence decrement dropped",
				zap.String("session_id", old.String()),
				zap.Error(err),
			)
		}
	}
	if want != uuid.Nil {
		if _, err := t.counter.IncrementViewerCount(ctx, want); err != nil {
			t.logger.Warn("Presence increment failed",
				zap.String("session_id", want.String()),
				zap.Error(err),
			)
			return
		}
		t.claimed = want
	}
}
