package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/livesync/internal/realtime"
	"github.com/aura-webinar/livesync/internal/scheduler"
	"github.com/aura-webinar/livesync/internal/sources"
)

// escalateAfter is the number of consecutive transient failures logged at warn
// before they start logging at error.
const escalateAfter = 3

const publishTimeout = 5 * time.Second

// Reporter is a scheduler.Config.OnResult hook. It logs each sync attempt and
// announces successful syncs on the push channel so viewers reload.
type Reporter struct {
	pub    realtime.Publisher
	logger *zap.Logger
}

// NewReporter creates a reporter. pub may be nil.
func NewReporter(pub realtime.Publisher, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{pub: pub, logger: logger}
}

// OnResult implements the scheduler hook.
func (r *Reporter) OnResult(res scheduler.Result) {
	fields := []zap.Field{
		zap.String("source_kind", string(res.Kind)),
		zap.Duration("duration", res.Duration),
		zap.Int("consecutive_failures", res.ConsecutiveFailures),
	}
	switch {
	case res.Err == nil:
		r.logger.Debug("Source sync completed", fields...)
		r.announce(res)
	case sources.IsAuth(res.Err):
		r.logger.Error("Source sync rejected by upstream; check credentials", append(fields, zap.Error(res.Err))...)
	case sources.IsTransient(res.Err) && res.ConsecutiveFailures < escalateAfter:
		r.logger.Warn("Source sync failed; will retry on next interval", append(fields, zap.Error(res.Err))...)
	default:
		r.logger.Error("Source sync failed", append(fields, zap.Error(res.Err))...)
	}
}

func (r *Reporter) announce(res scheduler.Result) {
	if r.pub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	ev := realtime.ChangeEvent{
		Op:         realtime.OpSync,
		Table:      realtime.TableLiveSessions,
		SourceKind: res.Kind,
		At:         res.At,
	}
	if err := r.pub.Publish(ctx, ev); err != nil {
		r.logger.Warn("Failed to announce source sync", zap.String("source_kind", string(res.Kind)), zap.Error(err))
	}
}
