// Package queue is a Redis list backed job queue with bounded retries and a dead-letter list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueSourceRefresh is the Redis list key for source refresh jobs.
	QueueSourceRefresh = "livesync:refresh"
	// QueueDLQ is the dead-letter list for jobs that ran out of retries.
	QueueDLQ = "livesync:dlq"
	// MaxRetries is the number of attempts before a job moves to the DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
)

// JobType identifies the job kind.
type JobType string

const JobTypeSourceRefresh JobType = "source_refresh"

// SourceRefreshPayload asks the worker to sync the named sources. Empty means all.
type SourceRefreshPayload struct {
	Sources     []string  `json:"sources,omitempty"`
	RequestedBy uuid.UUID `json:"requested_by,omitempty"`
}

// Job is the envelope stored in Redis.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client redis.Cmdable
	logger *zap.Logger
}

// NewQueue creates a Redis-backed job queue.
func NewQueue(client redis.Cmdable, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// EnqueueSourceRefresh enqueues a source refresh job and returns its id.
func (q *Queue) EnqueueSourceRefresh(ctx context.Context, payload SourceRefreshPayload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	job := Job{
		ID:        uuid.NewString(),
		Type:      JobTypeSourceRefresh,
		Payload:   body,
		CreatedAt: time.Now(),
	}
	if err := q.push(ctx, QueueSourceRefresh, &job); err != nil {
		return "", err
	}
	q.logger.Debug("Enqueued source refresh job", zap.String("job_id", job.ID), zap.Strings("sources", payload.Sources))
	return job.ID, nil
}

// Dequeue blocks for up to timeout. It returns a nil job when nothing arrived
// or the entry could not be decoded.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, QueueSourceRefresh).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("Dropping undecodable job", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with an incremented attempt, or moves it to the DLQ
// once MaxRetries is reached.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	if job.Attempt >= MaxRetries {
		if err := q.push(ctx, QueueDLQ, job); err != nil {
			q.logger.Error("DLQ push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("Job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.push(ctx, QueueSourceRefresh, job); err != nil {
		return err
	}
	q.logger.Info("Job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}

func (q *Queue) push(ctx context.Context, key string, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", key, err)
	}
	return nil
}
