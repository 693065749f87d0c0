package sources

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/livesync/internal/models"
)

// BroadcastFeed lists operator broadcasts that are not ended, or ended after since.
type BroadcastFeed interface {
	ListRecent(ctx context.Context, since time.Time) ([]models.Broadcast, error)
}

// recentEnded keeps just-ended broadcasts in the feed so their sessions get closed.
const recentEnded = 24 * time.Hour

// ManualBroadcastClient syncs operator broadcasts. IsLive wins over the clock.
type ManualBroadcastClient struct {
	feed BroadcastFeed
	applier
	now func() time.Time
}

// NewManualBroadcastClient creates a client over feed. now may be nil.
func NewManualBroadcastClient(feed BroadcastFeed, store Store, now func() time.Time, logger *zap.Logger) *ManualBroadcastClient {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ManualBroadcastClient{
		feed:    feed,
		applier: applier{kind: models.SourceManualBroadcast, store: store, logger: logger},
		now:     now,
	}
}

// Kind implements Client.
func (c *ManualBroadcastClient) Kind() models.SourceKind { return models.SourceManualBroadcast }

// Sync mirrors the broadcast feed into the session store. Deleted broadcasts end their sessions.
func (c *ManualBroadcastClient) Sync(ctx context.Context) error {
	now := c.now()
	list, err := c.feed.ListRecent(ctx, now.Add(-recentEnded))
	if err != nil {
		return &TransientError{Source: c.kind, Err: err}
	}
	records := make([]UpstreamRecord, 0, len(list))
	for _, b := range list {
		records = append(records, ManualBroadcast{Broadcast: b})
	}
	seen, upsertErr := c.upsertAll(ctx, records, now)
	endErr := c.endMissing(ctx, seen, nil)
	return errors.Join(upsertErr, endErr)
}

// Apply writes a single broadcast straight to the store. Operator actions use it so a flip
// reaches viewers without waiting for the next poll.
func (c *ManualBroadcastClient) Apply(ctx context.Context, b models.Broadcast) (*models.LiveSession, error) {
	s, err := normalize(ManualBroadcast{Broadcast: b}, c.now())
	if err != nil {
		return nil, err
	}
	saved, _, err := c.store.Upsert(ctx, s)
	return saved, err
}
