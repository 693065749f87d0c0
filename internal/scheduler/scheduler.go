// Package scheduler runs each source sync on its own minimum-interval timer.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/aura-webinar/livesync/internal/models"
)

// DefaultInitialDelay postpones the first run after Start.
const DefaultInitialDelay = 3 * time.Second

var (
	ErrUnknownKind = errors.New("no sync scheduled for source kind")
	ErrStopped     = errors.New("scheduler stopped")
)

// SyncFunc performs one sync attempt.
type SyncFunc func(ctx context.Context) error

// Result describes one trigger of a source kind.
type Result struct {
	Kind models.SourceKind
	// Ran is false when the attempt was throttled.
	Ran                 bool
	Err                 error
	ConsecutiveFailures int
	At                  time.Time
	Duration            time.Duration
}

// Config tunes a Scheduler. Zero values select defaults.
type Config struct {
	InitialDelay time.Duration
	Now          func() time.Time
	// OnResult is called after every attempt that actually ran.
	OnResult func(Result)
	Tracer   trace.Tracer
}

type job struct {
	kind     models.SourceKind
	interval time.Duration
	fn       SyncFunc
}

// Scheduler throttles and runs sync functions per source kind.
type Scheduler struct {
	cfg    Config
	state  *ThrottleState
	logger *zap.Logger
	group  singleflight.Group

	mu       sync.Mutex
	jobs     map[models.SourceKind]*job
	failures map[models.SourceKind]int
	base     context.Context
	cancel   context.CancelFunc
	stopped  bool
	wg       sync.WaitGroup
}

// New creates an idle scheduler.
func New(cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultInitialDelay
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/aura-webinar/livesync/internal/scheduler")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:      cfg,
		state:    NewThrottleState(),
		logger:   logger,
		jobs:     make(map[models.SourceKind]*job),
		failures: make(map[models.SourceKind]int),
	}
}

// State exposes the scheduler's throttle state.
func (s *Scheduler) State() *ThrottleState { return s.state }

// Schedule registers fn for kind. Registering a kind twice replaces it; jobs added after Start
// begin their loop immediately.
func (s *Scheduler) Schedule(kind models.SourceKind, interval time.Duration, fn SyncFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := &job{kind: kind, interval: interval, fn: fn}
	s.jobs[kind] = j
	if s.base != nil && !s.stopped {
		s.startLoop(j)
	}
}

// Start launches one loop per scheduled kind. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.base != nil || s.stopped {
		return
	}
	s.base, s.cancel = context.WithCancel(ctx)
	for _, j := range s.jobs {
		s.startLoop(j)
	}
	s.logger.Info("Sync scheduler started", zap.Int("sources", len(s.jobs)), zap.Duration("initial_delay", s.cfg.InitialDelay))
}

// Stop cancels every loop together and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Info("Sync scheduler stopped")
}

// Trigger runs kind now unless its interval has not elapsed. Concurrent triggers coalesce.
func (s *Scheduler) Trigger(ctx context.Context, kind models.SourceKind) (Result, error) {
	s.mu.Lock()
	j, ok := s.jobs[kind]
	stopped := s.stopped
	base := s.base
	s.mu.Unlock()
	if stopped {
		return Result{Kind: kind}, ErrStopped
	}
	if !ok {
		return Result{Kind: kind}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	// Manual refreshes must not abort a sync other callers share.
	runCtx := context.WithoutCancel(ctx)
	if base != nil {
		runCtx = base
	}
	return s.run(runCtx, j), nil
}

// TriggerAll triggers every scheduled kind concurrently and returns once all have finished.
func (s *Scheduler) TriggerAll(ctx context.Context) []Result {
	s.mu.Lock()
	kinds := make([]models.SourceKind, 0, len(s.jobs))
	for _, kind := range models.SourceKinds {
		if _, ok := s.jobs[kind]; ok {
			kinds = append(kinds, kind)
		}
	}
	s.mu.Unlock()

	results := make([]Result, len(kinds))
	var wg sync.WaitGroup
	for i, kind := range kinds {
		wg.Add(1)
		go func(i int, kind models.SourceKind) {
			defer wg.Done()
			res, err := s.Trigger(ctx, kind)
			if err != nil {
				res.Err = err
			}
			results[i] = res
		}(i, kind)
	}
	wg.Wait()
	return results
}

// startLoop must be called with s.mu held.
func (s *Scheduler) startLoop(j *job) {
	s.wg.Add(1)
	go s.loop(s.base, j)
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer s.wg.Done()
	timer := time.NewTimer(s.cfg.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		s.run(ctx, j)

		// A manual trigger in between pushes the next tick out instead of skipping a whole interval.
		next := s.state.Remaining(j.kind, j.interval, s.cfg.Now())
		if next <= 0 {
			next = j.interval
		}
		timer.Reset(next)
	}
}

func (s *Scheduler) run(ctx context.Context, j *job) Result {
	v, _, _ := s.group.Do(string(j.kind), func() (interface{}, error) {
		return s.attempt(ctx, j), nil
	})
	return v.(Result)
}

func (s *Scheduler) attempt(ctx context.Context, j *job) Result {
	start := s.cfg.Now()
	res := Result{Kind: j.kind, At: start}
	if !s.state.TryAcquire(j.kind, j.interval, start) {
		return res
	}
	res.Ran = true

	ctx, span := s.cfg.Tracer.Start(ctx, "sync "+string(j.kind),
		trace.WithAttributes(attribute.String("livesync.source_kind", string(j.kind))))
	err := s.invoke(ctx, j)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	res.Err = err
	res.Duration = s.cfg.Now().Sub(start)

	s.mu.Lock()
	if err != nil {
		s.failures[j.kind]++
	} else {
		s.failures[j.kind] = 0
	}
	res.ConsecutiveFailures = s.failures[j.kind]
	s.mu.Unlock()

	if s.cfg.OnResult != nil {
		s.cfg.OnResult(res)
	}
	return res
}

// invoke isolates a panicking sync so other kinds keep running.
func (s *Scheduler) invoke(ctx context.Context, j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Sync panicked", zap.String("source_kind", string(j.kind)), zap.Any("panic", r))
			err = fmt.Errorf("sync %s panicked: %v", j.kind, r)
		}
	}()
	return j.fn(ctx)
}
