package entitlements

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/aura-webinar/livesync/internal/models"
)

func TestMemory_Lookup(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	user := uuid.New()

	e, err := m.Lookup(ctx, user)
	if err != nil || e.Tier != models.TierFree || len(e.Courses) != 0 {
		t.Fatalf("unknown user must be free, got %+v err=%v", e, err)
	}

	m.SetTier(user, models.TierProfessional)
	m.Enroll(user, "go-bootcamp")
	e, _ = m.Lookup(ctx, user)
	if e.Tier != models.TierProfessional || !e.Courses["go-bootcamp"] {
		t.Fatalf("unexpected entitlements %+v", e)
	}

	// Callers get a copy.
	e.Courses["rust-101"] = true
	again, _ := m.Lookup(ctx, user)
	if again.Courses["rust-101"] {
		t.Fatal("lookup must not expose internal state")
	}
}
