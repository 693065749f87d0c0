package sessions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesync/internal/models"
	"github.com/aura-webinar/livesync/internal/realtime"
)

// Publishing wraps a Store and announces row inserts and updates on the push
// channel. Viewer count changes are not announced.
type Publishing struct {
	Store
	pub    realtime.Publisher
	logger *zap.Logger
}

// NewPublishing decorates store with change notifications.
func NewPublishing(store Store, pub realtime.Publisher, logger *zap.Logger) *Publishing {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publishing{Store: store, pub: pub, logger: logger}
}

// Upsert writes through and publishes an insert or update event.
func (p *Publishing) Upsert(ctx context.Context, s *models.LiveSession) (*models.LiveSession, bool, error) {
	saved, created, err := p.Store.Upsert(ctx, s)
	if err != nil {
		return nil, false, err
	}
	op := realtime.OpUpdate
	if created {
		op = realtime.OpInsert
	}
	p.publish(ctx, op, saved)
	return saved, created, nil
}

// SetStatus writes through and publishes an update event.
func (p *Publishing) SetStatus(ctx context.Context, id uuid.UUID, status models.SessionStatus) (*models.LiveSession, error) {
	saved, err := p.Store.SetStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	p.publish(ctx, realtime.OpUpdate, saved)
	return saved, nil
}

func (p *Publishing) publish(ctx context.Context, op realtime.Op, s *models.LiveSession) {
	if p.pub == nil {
		return
	}
	ev := realtime.ChangeEvent{
		Op:         op,
		Table:      realtime.TableLiveSessions,
		SessionID:  s.ID,
		Session:    s,
		SourceKind: s.SourceKind,
		At:         time.Now(),
	}
	if err := p.pub.Publish(ctx, ev); err != nil {
		// Viewers still converge on the next poll.
		p.logger.Warn("publish session change failed", zap.String("session_id", s.ID.String()), zap.Error(err))
	}
}
