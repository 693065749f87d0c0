package presence

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/aura-webinar/livesync/internal/models"
	"github.com/aura-webinar/livesync/internal/sessions"
)

func seedSession(t *testing.T, store *sessions.MemoryStore) uuid.UUID {
	t.Helper()
	s, _, err := store.Upsert(context.Background(), &models.LiveSession{
		ExternalID:  "bc-" + uuid.NewString(),
		Status:      models.StatusLive,
		SourceKind:  models.SourceManualBroadcast,
		AccessTier:  models.TierFree,
		PlayableRef: "rtmp://ingest/key",
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return s.ID
}

func viewerCount(t *testing.T, store *sessions.MemoryStore, id uuid.UUID) int {
	t.Helper()
	s, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return s.ViewerCount
}

func TestTracker_TransitionsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewMemoryStore(nil)
	id := seedSession(t, store)
	tr := NewTracker(store, uuid.New(), zaptest.NewLogger(t))

	tr.Follow(ctx, id)
	if viewerCount(t, store, id) != 0 {
		t.Fatal("following without a connection must not claim")
	}
	tr.Connect(ctx)
	tr.Connect(ctx)
	if got := viewerCount(t, store, id); got != 1 {
		t.Fatalf("after double connect: %d", got)
	}
	tr.Background(ctx)
	tr.Background(ctx)
	if got := viewerCount(t, store, id); got != 0 {
		t.Fatalf("after double background: %d", got)
	}
	tr.Foreground(ctx)
	if got := viewerCount(t, store, id); got != 1 {
		t.Fatalf("after foreground: %d", got)
	}
	// Background immediately followed by unmount decrements once.
	tr.Background(ctx)
	tr.Release(ctx)
	tr.Release(ctx)
	if got := viewerCount(t, store, id); got != 0 {
		t.Fatalf("after release: %d", got)
	}
	tr.Connect(ctx)
	if _, held := tr.Claimed(); held {
		t.Fatal("released tracker must not claim again")
	}
}

func TestTracker_SwitchingSessionsMovesClaim(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewMemoryStore(nil)
	a, b := seedSession(t, store), seedSession(t, store)
	tr := NewTracker(store, uuid.New(), nil)

	tr.Connect(ctx)
	tr.Follow(ctx, a)
	tr.Follow(ctx, b)
	if viewerCount(t, store, a) != 0 || viewerCount(t, store, b) != 1 {
		t.Fatalf("claim did not move: a=%d b=%d", viewerCount(t, store, a), viewerCount(t, store, b))
	}
	tr.Follow(ctx, uuid.Nil)
	if viewerCount(t, store, b) != 0 {
		t.Fatal("unfollow must release the claim")
	}
}

// Many viewers firing connect/disconnect/visibility events in random order, with duplicates,
// always leave the counter equal to the number of claims held, and at zero once all release.
func TestTracker_ConcurrentViewersReturnToStart(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewMemoryStore(nil)
	id := seedSession(t, store)

	const viewers = 50
	trackers := make([]*Tracker, viewers)
	var wg sync.WaitGroup
	for i := 0; i < viewers; i++ {
		trackers[i] = NewTracker(store, uuid.New(), nil)
		wg.Add(1)
		go func(tr *Tracker, seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			tr.Follow(ctx, id)
			for step := 0; step < 40; step++ {
				switch rng.Intn(4) {
				case 0:
					tr.Connect(ctx)
				case 1:
					tr.Disconnect(ctx)
				case 2:
					tr.Foreground(ctx)
				case 3:
					tr.Background(ctx)
				}
			}
		}(trackers[i], int64(i))
	}
	wg.Wait()

	held := 0
	for _, tr := range trackers {
		if _, ok := tr.Claimed(); ok {
			held++
		}
	}
	if got := viewerCount(t, store, id); got != held {
		t.Fatalf("viewer count %d, claims held %d", got, held)
	}

	for _, tr := range trackers {
		wg.Add(1)
		go func(tr *Tracker) {
			defer wg.Done()
			tr.Release(ctx)
			tr.Release(ctx)
		}(tr)
	}
	wg.Wait()
	if got := viewerCount(t, store, id); got != 0 {
		t.Fatalf("expected count back at 0, got %d", got)
	}
}

type flakyCounter struct {
	mu             sync.Mutex
	failIncrement  bool
	failDecrement  bool
	increments     int
	decrementCalls int
}

func (c *flakyCounter) IncrementViewerCount(ctx context.Context, id uuid.UUID) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failIncrement {
		return 0, errors.New("store unavailable")
	}
	c.increments++
	return c.increments, nil
}

func (c *flakyCounter) DecrementViewerCount(ctx context.Context, id uuid.UUID) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decrementCalls++
	if c.failDecrement {
		return 0, errors.New("store unavailable")
	}
	c.increments--
	return c.increments, nil
}

func TestTracker_FailedIncrementRecordsNoClaim(t *testing.T) {
	ctx := context.Background()
	c := &flakyCounter{failIncrement: true}
	tr := NewTracker(c, uuid.New(), nil)
	tr.Follow(ctx, uuid.New())
	tr.Connect(ctx)
	if _, held := tr.Claimed(); held {
		t.Fatal("failed increment must not record a claim")
	}
	tr.Release(ctx)
	if c.decrementCalls != 0 {
		t.Fatalf("no decrement expected without a claim, got %d", c.decrementCalls)
	}
}

func TestTracker_FailedDecrementIsLoggedAndDropped(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.WarnLevel)
	c := &flakyCounter{failDecrement: true}
	tr := NewTracker(c, uuid.New(), zap.New(core))

	tr.Follow(ctx, uuid.New())
	tr.Connect(ctx)
	tr.Background(ctx)
	tr.Release(ctx)

	if c.decrementCalls != 1 {
		t.Fatalf("decrement must be attempted exactly once, got %d", c.decrementCalls)
	}
	if _, held := tr.Claimed(); held {
		t.Fatal("claim must be dropped after a failed decrement")
	}
	if logs.FilterMessage("Presence decrement dropped").Len() != 1 {
		t.Fatalf("expected one dropped-decrement log, got %v", logs.All())
	}
}
