// Package entitlements reads a viewer's subscription tier and course enrollments.
package entitlements

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/aura-webinar/livesync/internal/models"
)

// Entitlements is what a viewer has paid for or been enrolled in.
type Entitlements struct {
	Tier    models.AccessTier
	Courses map[string]bool
}

// Free is the entitlement of a signed-in viewer with no subscription.
func Free() Entitlements {
	return Entitlements{Tier: models.TierFree, Courses: map[string]bool{}}
}

// Provider looks up entitlements. Unknown users get Free, not an error.
type Provider interface {
	Lookup(ctx context.Context, userID uuid.UUID) (Entitlements, error)
}

// Memory is an in-process Provider.
type Memory struct {
	mu    sync.RWMutex
	users map[uuid.UUID]Entitlements
}

// NewMemory creates an empty provider.
func NewMemory() *Memory {
	return &Memory{users: make(map[uuid.UUID]Entitlements)}
}

// SetTier sets a user's subscription tier.
func (m *Memory) SetTier(userID uuid.UUID, tier models.AccessTier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.get(userID)
	e.Tier = tier
	m.users[userID] = e
}

// Enroll adds a course enrollment.
func (m *Memory) Enroll(userID uuid.UUID, courseRef string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.get(userID)
	e.Courses[courseRef] = true
	m.users[userID] = e
}

// Lookup implements Provider.
func (m *Memory) Lookup(ctx context.Context, userID uuid.UUID) (Entitlements, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.users[userID]
	if !ok {
		return Free(), nil
	}
	out := Entitlements{Tier: e.Tier, Courses: make(map[string]bool, len(e.Courses))}
	for c := range e.Courses {
		out.Courses[c] = true
	}
	return out, nil
}

// get must be called with m.mu held.
func (m *Memory) get(userID uuid.UUID) Entitlements {
	e, ok := m.users[userID]
	if !ok {
		return Free()
	}
	return e
}
