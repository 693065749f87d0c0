package scheduler

import (
	"sync"
	"time"

	"github.com/aura-webinar/livesync/internal/models"
)

// ThrottleState records the last sync attempt per source kind.
// It is owned by one Scheduler; separate schedulers never share it.
type ThrottleState struct {
	mu   sync.Mutex
	last map[models.SourceKind]time.Time
}

// NewThrottleState returns an empty state.
func NewThrottleState() *ThrottleState {
	return &ThrottleState{last: make(map[models.SourceKind]time.Time)}
}

// TryAcquire records an attempt at now if at least interval has passed since the previous one.
func (t *ThrottleState) TryAcquire(kind models.SourceKind, interval time.Duration, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if last, ok := t.last[kind]; ok && now.Sub(last) < interval {
		return false
	}
	t.last[kind] = now
	return true
}

// LastAttempt returns the time of the last recorded attempt for kind.
func (t *ThrottleState) LastAttempt(kind models.SourceKind) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.last[kind]
	return last, ok
}

// Remaining returns how long until kind may run again.
func (t *ThrottleState) Remaining(kind models.SourceKind, interval time.Duration, now time.Time) time.Duration {
	last, ok := t.LastAttempt(kind)
	if !ok {
		return 0
	}
	if d := interval - now.Sub(last); d > 0 {
		return d
	}
	return 0
}
