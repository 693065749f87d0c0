package worker

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/aura-webinar/livesync/internal/broadcasts"
	"github.com/aura-webinar/livesync/internal/models"
	"github.com/aura-webinar/livesync/internal/scheduler"
	"github.com/aura-webinar/livesync/internal/sessions"
	"github.com/aura-webinar/livesync/internal/sources"
)

func TestNewSourceScheduler_SchedulesEverySource(t *testing.T) {
	ctx := context.Background()
	now := func() time.Time { return time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC) }
	store := sessions.NewMemoryStore(now)
	feed := broadcasts.NewMemoryRepository(now)

	b, err := feed.Save(ctx, &models.Broadcast{
		Title:       "Office hours",
		StreamURL:   "https://cdn.example.com/live/oh.m3u8",
		ScheduledAt: now().Add(-time.Minute),
		AccessTier:  models.TierFree,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := feed.GoLive(ctx, b.ID, now()); err != nil {
		t.Fatalf("go live: %v", err)
	}

	s, manual := NewSourceScheduler(SourceOptions{
		Store:     store,
		Feed:      feed,
		Scheduler: scheduler.Config{Now: now},
	}, zaptest.NewLogger(t))
	if manual == nil {
		t.Fatal("manual client not returned")
	}

	results := s.TriggerAll(ctx)
	if len(results) != len(models.SourceKinds) {
		t.Fatalf("results = %d, want %d", len(results), len(models.SourceKinds))
	}
	for _, res := range results {
		switch res.Kind {
		case models.SourceManualBroadcast:
			if res.Err != nil || !res.Ran {
				t.Errorf("manual = %+v", res)
			}
		default:
			// Unconfigured sources fail on credentials, never on the network.
			if !sources.IsAuth(res.Err) {
				t.Errorf("%s err = %v, want auth error", res.Kind, res.Err)
			}
		}
	}

	list, err := store.List(ctx)
	if err != nil || len(list) != 1 || list[0].Status != models.StatusLive {
		t.Fatalf("store = %v err=%v", list, err)
	}
}
