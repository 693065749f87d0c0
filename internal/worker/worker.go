// Package worker consumes source refresh jobs and reports sync outcomes.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/livesync/internal/live"
	"github.com/aura-webinar/livesync/internal/models"
	"github.com/aura-webinar/livesync/internal/scheduler"
	"github.com/aura-webinar/livesync/internal/sources"
	"github.com/aura-webinar/livesync/pkg/queue"
)

const dequeueTimeout = 5 * time.Second

// Jobs is the queue side the processor needs.
type Jobs interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Syncer runs source syncs. *scheduler.Scheduler implements it.
type Syncer interface {
	Trigger(ctx context.Context, kind models.SourceKind) (scheduler.Result, error)
	TriggerAll(ctx context.Context) []scheduler.Result
}

// RefreshProcessor turns queued refresh requests into scheduler triggers.
type RefreshProcessor struct {
	jobs    Jobs
	syncer  Syncer
	logger  *zap.Logger
	backoff time.Duration
}

// NewRefreshProcessor creates a refresh job processor.
func NewRefreshProcessor(jobs Jobs, syncer Syncer, logger *zap.Logger) *RefreshProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RefreshProcessor{jobs: jobs, syncer: syncer, logger: logger, backoff: queue.RetryBackoff}
}

// Process executes one job. Transient failures are returned so the job is retried;
// throttled, auth and malformed outcomes are final.
func (p *RefreshProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeSourceRefresh {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.SourceRefreshPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	var results []scheduler.Result
	if len(payload.Sources) == 0 {
		results = p.syncer.TriggerAll(ctx)
	}
	for _, s := range payload.Sources {
		kind := models.SourceKind(s)
		if !kind.Valid() {
			p.logger.Warn("Ignoring unknown source in refresh job", zap.String("job_id", job.ID), zap.String("source", s))
			continue
		}
		res, err := p.syncer.Trigger(ctx, kind)
		if err != nil {
			res.Err = err
		}
		results = append(results, res)
	}

	var retry []error
	for _, res := range results {
		switch {
		case res.Err == nil:
		case errors.Is(res.Err, scheduler.ErrStopped), sources.IsTransient(res.Err):
			retry = append(retry, res.Err)
		default:
			p.logger.Warn("Refresh job source failed permanently",
				zap.String("job_id", job.ID), zap.String("source_kind", string(res.Kind)), zap.Error(res.Err))
		}
	}
	return errors.Join(retry...)
}

// Run dequeues and processes jobs until ctx is done.
func (p *RefreshProcessor) Run(ctx context.Context) {
	p.logger.Info("Refresh worker started")
	for ctx.Err() == nil {
		job, err := p.jobs.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			p.logger.Warn("Dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("Processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Int("attempt", job.Attempt))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("Job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.jobs.Retry(context.WithoutCancel(ctx), job); reErr != nil {
				p.logger.Error("Retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
	p.logger.Info("Refresh worker stopping")
}

func (p *RefreshProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Enqueuer is the producer side of the refresh queue.
type Enqueuer interface {
	EnqueueSourceRefresh(ctx context.Context, payload queue.SourceRefreshPayload) (string, error)
}

// QueueRefresher hands refresh requests to the worker process instead of syncing in the server.
type QueueRefresher struct {
	q   Enqueuer
	now func() time.Time
}

// NewQueueRefresher creates a live.Refresher backed by the job queue.
func NewQueueRefresher(q Enqueuer) *QueueRefresher {
	return &QueueRefresher{q: q, now: time.Now}
}

// Refresh implements live.Refresher.
func (r *QueueRefresher) Refresh(ctx context.Context, kinds ...models.SourceKind) ([]live.RefreshResult, error) {
	payload := queue.SourceRefreshPayload{}
	for _, k := range kinds {
		payload.Sources = append(payload.Sources, string(k))
	}
	if _, err := r.q.EnqueueSourceRefresh(ctx, payload); err != nil {
		return nil, err
	}
	if len(kinds) == 0 {
		kinds = models.SourceKinds
	}
	at := r.now()
	out := make([]live.RefreshResult, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, live.RefreshResult{Source: k, Status: live.RefreshQueued, At: at})
	}
	return out, nil
}
