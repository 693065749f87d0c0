package live

import (
	"context"
	"errors"
	"time"

	"github.com/aura-webinar/livesync/internal/models"
	"github.com/aura-webinar/livesync/internal/scheduler"
)

// RefreshStatus is the outcome of a refresh request for one source.
type RefreshStatus string

const (
	RefreshRan       RefreshStatus = "ran"
	RefreshFailed    RefreshStatus = "failed"
	RefreshThrottled RefreshStatus = "throttled"
	RefreshQueued    RefreshStatus = "queued"
)

// RefreshResult reports one source.
type RefreshResult struct {
	Source models.SourceKind `json:"source"`
	Status RefreshStatus     `json:"status"`
	Error  string            `json:"error,omitempty"`
	At     time.Time         `json:"at"`
}

// Refresher runs or requests source syncs. No kinds means every source.
type Refresher interface {
	Refresh(ctx context.Context, kinds ...models.SourceKind) ([]RefreshResult, error)
}

// SchedulerRefresher triggers syncs in process, respecting the scheduler's throttle.
type SchedulerRefresher struct {
	sched *scheduler.Scheduler
}

// NewSchedulerRefresher wraps an embedded scheduler.
func NewSchedulerRefresher(s *scheduler.Scheduler) *SchedulerRefresher {
	return &SchedulerRefresher{sched: s}
}

// Refresh implements Refresher.
func (r *SchedulerRefresher) Refresh(ctx context.Context, kinds ...models.SourceKind) ([]RefreshResult, error) {
	var results []scheduler.Result
	if len(kinds) == 0 {
		results = r.sched.TriggerAll(ctx)
	} else {
		for _, kind := range kinds {
			res, err := r.sched.Trigger(ctx, kind)
			if errors.Is(err, scheduler.ErrStopped) {
				return nil, err
			}
			if err != nil {
				res.Err = err
			}
			results = append(results, res)
		}
	}
	out := make([]RefreshResult, 0, len(results))
	for _, res := range results {
		out = append(out, FromSchedulerResult(res))
	}
	return out, nil
}

// FromSchedulerResult converts a scheduler result for the API.
func FromSchedulerResult(res scheduler.Result) RefreshResult {
	rr := RefreshResult{Source: res.Kind, Status: RefreshRan, At: res.At}
	switch {
	case res.Err != nil:
		rr.Status = RefreshFailed
		rr.Error = res.Err.Error()
	case !res.Ran:
		rr.Status = RefreshThrottled
	}
	return rr
}

// RefreshFunc adapts a Refresher for the viewer engine, which only needs to know the refresh finished.
func RefreshFunc(r Refresher) func(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return func(ctx context.Context) error {
		_, err := r.Refresh(ctx)
		return err
	}
}
