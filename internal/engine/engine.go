// Package engine runs the per-viewer detection loop: it keeps a local view of
// the live sessions table in sync with the push channel, reconciles it down to
// one session and gates that session for the viewer.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesync/internal/gate"
	"github.com/aura-webinar/livesync/internal/models"
	"github.com/aura-webinar/livesync/internal/realtime"
	"github.com/aura-webinar/livesync/internal/reconcile"
	"github.com/aura-webinar/livesync/internal/sessions"
)

const (
	DefaultTick        = time.Minute
	defaultLoadTimeout = 5 * time.Second
	eventBuffer        = 64
)

// ErrRunning is returned when Run is called twice.
var ErrRunning = errors.New("engine already running")

// Sink receives every state the viewer should render.
type Sink func(gate.State)

// Config holds the collaborators and knobs of an Engine.
type Config struct {
	Store      sessions.Lister
	Subscriber realtime.Subscriber
	Windows    reconcile.Windows
	// Viewer is the initial viewer state; SetViewer replaces it.
	Viewer gate.Viewer
	// Tick re-evaluates time based rules. Defaults to one minute.
	Tick time.Duration
	Now  func() time.Time
	// Refresher asks the upstream sources for fresh data. Optional.
	Refresher func(ctx context.Context) error
	// OnWatch is called with the session the viewer is actually watching, or uuid.Nil.
	OnWatch func(ctx context.Context, sessionID uuid.UUID)
	// LoadTimeout bounds each store read.
	LoadTimeout time.Duration
}

type eventKind int

const (
	evReload eventKind = iota
	evRefresh
	evChange
	evViewer
	evPlaybackFailed
	evPlaybackRetry
)

type event struct {
	kind    eventKind
	change  realtime.ChangeEvent
	viewer  gate.Viewer
	message string
}

// Engine is one viewer's detection loop. Producers call the exported methods
// from any goroutine; a single consumer inside Run owns all state.
type Engine struct {
	cfg    Config
	sink   Sink
	logger *zap.Logger

	events  chan event
	done    chan struct{}
	running atomic.Bool
	dirty   atomic.Bool

	// owned by the Run goroutine
	records     map[uuid.UUID]*models.LiveSession
	loaded      bool
	loadErr     error
	viewer      gate.Viewer
	playbackErr string
	last        gate.State
	emitted     bool
	watching    uuid.UUID

	closeOnce sync.Once
}

// New creates an engine. sink must not block for long.
func New(cfg Config, sink Sink, logger *zap.Logger) *Engine {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = defaultLoadTimeout
	}
	if cfg.Windows == (reconcile.Windows{}) {
		cfg.Windows = reconcile.DefaultWindows()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:     cfg,
		sink:    sink,
		logger:  logger,
		events:  make(chan event, eventBuffer),
		done:    make(chan struct{}),
		records: make(map[uuid.UUID]*models.LiveSession),
		viewer:  cfg.Viewer,
	}
}

// Refresh reloads the store and, when a Refresher is configured, asks the sources for fresh data.
func (e *Engine) Refresh() { e.send(event{kind: evRefresh}) }

// SetViewer replaces the viewer's auth and entitlement state.
func (e *Engine) SetViewer(v gate.Viewer) { e.send(event{kind: evViewer, viewer: v}) }

// PlaybackFailed records a player failure for the current session.
func (e *Engine) PlaybackFailed(message string) {
	if message == "" {
		message = "playback failed"
	}
	e.send(event{kind: evPlaybackFailed, message: message})
}

// PlaybackRetry clears a player failure.
func (e *Engine) PlaybackRetry() { e.send(event{kind: evPlaybackRetry}) }

// Notify feeds a change event in directly, bypassing the subscriber.
func (e *Engine) Notify(ev realtime.ChangeEvent) { e.offer(event{kind: evChange, change: ev}) }

func (e *Engine) send(ev event) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

// offer never blocks. An overflowing push is folded into a full reload.
func (e *Engine) offer(ev event) {
	select {
	case e.events <- ev:
	case <-e.done:
	default:
		e.dirty.Store(true)
	}
}

// Run consumes events until ctx is done. The subscription, ticker and any
// in-flight refresh are released before it returns.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	var refreshes sync.WaitGroup
	defer refreshes.Wait()
	defer e.closeOnce.Do(func() { close(e.done) })

	if e.cfg.Subscriber != nil {
		cancel, err := e.cfg.Subscriber.Subscribe(ctx, realtime.TableScope(), func(ev realtime.ChangeEvent) {
			e.offer(event{kind: evChange, change: ev})
		})
		if err != nil {
			// Polling on the tick still converges.
			e.logger.Warn("Live session subscription failed", zap.Error(err))
		} else {
			defer cancel()
		}
	}

	e.reload(ctx)
	e.evaluate(ctx, false)

	ticker := time.NewTicker(e.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.follow(context.WithoutCancel(ctx), uuid.Nil)
			return nil
		case <-ticker.C:
			if e.dirty.Swap(false) {
				e.reload(ctx)
			}
			e.evaluate(ctx, true)
		case ev := <-e.events:
			e.handle(ctx, ev, &refreshes)
			if e.dirty.Swap(false) {
				e.reload(ctx)
			}
			e.evaluate(ctx, false)
		}
	}
}

func (e *Engine) handle(ctx context.Context, ev event, refreshes *sync.WaitGroup) {
	switch ev.kind {
	case evReload:
		e.reload(ctx)
	case evRefresh:
		e.reload(ctx)
		if e.cfg.Refresher != nil {
			refreshes.Add(1)
			go func() {
				defer refreshes.Done()
				if err := e.cfg.Refresher(ctx); err != nil && ctx.Err() == nil {
					e.logger.Warn("Live session refresh failed", zap.Error(err))
				}
				e.send(event{kind: evReload})
			}()
		}
	case evChange:
		e.apply(ctx, ev.change)
	case evViewer:
		e.viewer = ev.viewer
	case evPlaybackFailed:
		e.playbackErr = ev.message
	case evPlaybackRetry:
		e.playbackErr = ""
	}
}

// apply merges a single row change, or reloads when the event does not carry one.
func (e *Engine) apply(ctx context.Context, ev realtime.ChangeEvent) {
	if ev.Table != "" && ev.Table != realtime.TableLiveSessions {
		return
	}
	if ev.Op == realtime.OpSync || ev.Session == nil {
		e.reload(ctx)
		return
	}
	s := ev.Session
	if s.ID == uuid.Nil {
		e.logger.Debug("Dropping change event without session id", zap.String("op", string(ev.Op)))
		return
	}
	if s.Status == models.StatusEnded {
		delete(e.records, s.ID)
		return
	}
	if cur, ok := e.records[s.ID]; ok && cur.UpdatedAt.After(s.UpdatedAt) {
		return
	}
	e.records[s.ID] = s.Clone()
}

func (e *Engine) reload(ctx context.Context) {
	if e.cfg.Store == nil {
		e.loaded = true
		return
	}
	loadCtx, cancel := context.WithTimeout(ctx, e.cfg.LoadTimeout)
	defer cancel()

	list, err := e.cfg.Store.List(loadCtx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if !e.loaded {
			e.loadErr = err
		}
		e.logger.Warn("Failed to load live sessions", zap.Error(err), zap.Bool("have_snapshot", e.loaded))
		return
	}
	records := make(map[uuid.UUID]*models.LiveSession, len(list))
	for _, s := range list {
		if s == nil {
			continue
		}
		records[s.ID] = s
	}
	e.records = records
	e.loaded = true
	e.loadErr = nil
}

func (e *Engine) evaluate(ctx context.Context, tick bool) {
	now := e.cfg.Now()
	list := make([]*models.LiveSession, 0, len(e.records))
	for _, s := range e.records {
		list = append(list, s)
	}
	sel := reconcile.Select(list, now, e.cfg.Windows)
	for _, sk := range sel.Skipped {
		e.logger.Debug("Skipping malformed live session", zap.String("session_id", sk.SessionID.String()), zap.Error(sk.Err))
	}

	in := gate.Input{
		Loaded:      e.loaded,
		LoadErr:     e.loadErr,
		Session:     sel.Session,
		Viewer:      e.viewer,
		PlaybackErr: e.playbackErr,
		Now:         now,
	}
	if !sel.Found() && len(sel.Skipped) > 0 {
		in.Malformed = sel.Skipped[0].Err
	}
	st := gate.Evaluate(in)

	// A player failure belongs to the session it happened on.
	if e.playbackErr != "" && e.emitted && e.last.SessionID != st.SessionID {
		e.playbackErr = ""
		in.PlaybackErr = ""
		st = gate.Evaluate(in)
	}

	if !e.emitted || !st.Equal(e.last) || (tick && st.Kind == gate.KindCountdown) {
		e.last = st
		e.emitted = true
		if e.sink != nil {
			e.sink(st)
		}
	}

	watching := uuid.Nil
	if st.Kind == gate.KindPlayable {
		watching = st.SessionID
	}
	e.follow(ctx, watching)
}

func (e *Engine) follow(ctx context.Context, id uuid.UUID) {
	if id == e.watching {
		return
	}
	e.watching = id
	if e.cfg.OnWatch != nil {
		e.cfg.OnWatch(ctx, id)
	}
}

// State returns the last emitted state. Safe only after Run has returned or from the sink.
func (e *Engine) State() gate.State { return e.last }
