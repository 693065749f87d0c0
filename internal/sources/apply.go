package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/livesync/internal/models"
)

// Client is implemented by every source sync client.
type Client interface {
	Kind() models.SourceKind
	Sync(ctx context.Context) error
}

// applier writes normalized upstream records into the store for one source kind.
type applier struct {
	kind   models.SourceKind
	store  Store
	logger *zap.Logger
}

// upsertAll normalizes and stores records. Malformed records are logged and skipped.
// It returns the external ids the upstream reported.
func (a applier) upsertAll(ctx context.Context, records []UpstreamRecord, now time.Time) (map[string]bool, error) {
	seen := make(map[string]bool, len(records))
	var errs []error
	for _, rec := range records {
		// Malformed records still count as seen so their stored sessions are left alone.
		seen[rec.ExternalID()] = true
		s, err := normalize(rec, now)
		if err != nil {
			a.logger.Warn("Skipping malformed upstream record",
				zap.String("source_kind", string(a.kind)),
				zap.String("external_id", rec.ExternalID()),
				zap.Error(err),
			)
			continue
		}
		if _, _, err := a.store.Upsert(ctx, s); err != nil {
			errs = append(errs, fmt.Errorf("upsert %s: %w", s.ExternalID, err))
		}
	}
	if len(errs) > 0 {
		return seen, &TransientError{Source: a.kind, Err: errors.Join(errs...)}
	}
	return seen, nil
}

// endMissing marks stored sessions that the upstream no longer reports as ended.
// shouldEnd decides per stored session; nil ends all of them.
func (a applier) endMissing(ctx context.Context, seen map[string]bool, shouldEnd func(*models.LiveSession) bool) error {
	existing, err := a.store.ListBySource(ctx, a.kind)
	if err != nil {
		return &TransientError{Source: a.kind, Err: fmt.Errorf("list stored sessions: %w", err)}
	}
	var errs []error
	for _, s := range existing {
		if seen[s.ExternalID] || s.Status == models.StatusEnded {
			continue
		}
		if shouldEnd != nil && !shouldEnd(s) {
			continue
		}
		if _, err := a.store.SetStatus(ctx, s.ID, models.StatusEnded); err != nil {
			errs = append(errs, fmt.Errorf("end %s: %w", s.ID, err))
			continue
		}
		a.logger.Info("Session ended upstream",
			zap.String("source_kind", string(a.kind)),
			zap.String("session_id", s.ID.String()),
		)
	}
	if len(errs) > 0 {
		return &TransientError{Source: a.kind, Err: errors.Join(errs...)}
	}
	return nil
}
