package worker

import (
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/livesync/internal/scheduler"
	"github.com/aura-webinar/livesync/internal/sources"
)

// Intervals holds the minimum time between syncs of each source.
type Intervals struct {
	ManualBroadcast time.Duration
	HostedVideo     time.Duration
	AIPresenter     time.Duration
}

// SourceOptions wires the three source clients into one scheduler.
type SourceOptions struct {
	Store sources.Store
	// Feed lists operator broadcasts.
	Feed sources.BroadcastFeed
	// Provider may be nil when the video host is not configured.
	Provider    sources.VideoProvider
	HostedVideo sources.HostedVideoOptions
	AIPresenter sources.AIPresenterOptions
	Intervals   Intervals
	Scheduler   scheduler.Config
}

// NewSourceScheduler builds the source clients and schedules them. The manual
// broadcast client is returned too so operator actions can be applied directly.
func NewSourceScheduler(opts SourceOptions, logger *zap.Logger) (*scheduler.Scheduler, *sources.ManualBroadcastClient) {
	if logger == nil {
		logger = zap.NewNop()
	}
	manual := sources.NewManualBroadcastClient(opts.Feed, opts.Store, opts.Scheduler.Now, logger.Named("manual_broadcast"))
	hosted := sources.NewHostedVideoClient(opts.Provider, opts.Store, opts.HostedVideo, logger.Named("hosted_video"))
	presenter := sources.NewAIPresenterClient(opts.Store, opts.AIPresenter, logger.Named("ai_presenter"))

	s := scheduler.New(opts.Scheduler, logger.Named("scheduler"))
	schedule := func(c sources.Client, interval time.Duration) {
		s.Schedule(c.Kind(), interval, c.Sync)
	}
	schedule(manual, orDefault(opts.Intervals.ManualBroadcast, 25*time.Second))
	schedule(hosted, orDefault(opts.Intervals.HostedVideo, 120*time.Second))
	schedule(presenter, orDefault(opts.Intervals.AIPresenter, 60*time.Second))
	return s, manual
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
