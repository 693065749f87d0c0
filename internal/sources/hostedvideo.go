package sources

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/livesync/internal/models"
)

// VideoProvider lists a channel's live and upcoming broadcasts. known carries ids already
// stored so the provider can report their end even after they leave the live listing.
type VideoProvider interface {
	Broadcasts(ctx context.Context, known []string) ([]HostedVideoBroadcast, error)
}

// HostedVideoOptions are the channel-level settings applied to every hosted broadcast.
type HostedVideoOptions struct {
	AccessTier models.AccessTier
	CourseRef  string
	Retry      RetryPolicy
	Now        func() time.Time
}

// HostedVideoClient syncs broadcasts from the video host.
type HostedVideoClient struct {
	provider VideoProvider
	applier
	opts HostedVideoOptions
}

// NewHostedVideoClient creates a client. A nil provider makes every sync fail with an auth error.
func NewHostedVideoClient(provider VideoProvider, store Store, opts HostedVideoOptions, logger *zap.Logger) *HostedVideoClient {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HostedVideoClient{
		provider: provider,
		applier:  applier{kind: models.SourceHostedVideo, store: store, logger: logger},
		opts:     opts,
	}
}

// Kind implements Client.
func (c *HostedVideoClient) Kind() models.SourceKind { return models.SourceHostedVideo }

// Sync upserts live and upcoming broadcasts. A stored live broadcast the host no longer
// reports is ended, as is a scheduled one whose start has passed without going live.
func (c *HostedVideoClient) Sync(ctx context.Context) error {
	if c.provider == nil {
		return &AuthError{Source: c.kind, Err: errMissingCredential}
	}
	stored, err := c.store.ListBySource(ctx, c.kind)
	if err != nil {
		return &TransientError{Source: c.kind, Err: err}
	}
	known := make([]string, 0, len(stored))
	for _, s := range stored {
		known = append(known, s.ExternalID)
	}

	list, err := retry(ctx, c.opts.Retry, func() ([]HostedVideoBroadcast, error) {
		return c.provider.Broadcasts(ctx, known)
	})
	if err != nil {
		return unwrapPermanent(err)
	}

	now := c.opts.Now()
	records := make([]UpstreamRecord, 0, len(list))
	for _, v := range list {
		if v.AccessTier == "" {
			v.AccessTier = c.opts.AccessTier
		}
		if v.CourseRef == "" {
			v.CourseRef = c.opts.CourseRef
		}
		records = append(records, v)
	}
	seen, upsertErr := c.upsertAll(ctx, records, now)
	endErr := c.endMissing(ctx, seen, func(s *models.LiveSession) bool {
		return s.Status == models.StatusLive || s.StartsAt.Before(now)
	})
	if upsertErr != nil {
		return upsertErr
	}
	return endErr
}
