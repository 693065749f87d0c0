package broadcasts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/livesync/internal/models"
)

// MemoryRepository keeps broadcasts in process.
type MemoryRepository struct {
	mu   sync.Mutex
	byID map[uuid.UUID]models.Broadcast
	now  func() time.Time
}

// NewMemoryRepository creates an empty repository. now may be nil.
func NewMemoryRepository(now func() time.Time) *MemoryRepository {
	if now == nil {
		now = time.Now
	}
	return &MemoryRepository{byID: make(map[uuid.UUID]models.Broadcast), now: now}
}

// ListRecent implements Repository.
func (m *MemoryRepository) ListRecent(ctx context.Context, since time.Time) ([]models.Broadcast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Broadcast
	for _, b := range m.byID {
		if b.EndedAt == nil || !b.EndedAt.Before(since) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

// Get returns a broadcast by ID.
func (m *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (*models.Broadcast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

// Save inserts or updates a broadcast.
func (m *MemoryRepository) Save(ctx context.Context, b *models.Broadcast) (*models.Broadcast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := *b
	now := m.now()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if existing, ok := m.byID[rec.ID]; ok {
		rec.IsLive, rec.EndedAt = existing.IsLive, existing.EndedAt
		rec.CreatedBy, rec.CreatedAt = existing.CreatedBy, existing.CreatedAt
	} else {
		rec.IsLive, rec.EndedAt = false, nil
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	m.byID[rec.ID] = rec
	return &rec, nil
}

// GoLive marks the broadcast live.
func (m *MemoryRepository) GoLive(ctx context.Context, id uuid.UUID, at time.Time) (*models.Broadcast, error) {
	return m.mutate(id, func(b *models.Broadcast) {
		b.IsLive, b.EndedAt, b.UpdatedAt = true, nil, at
	})
}

// End marks the broadcast ended.
func (m *MemoryRepository) End(ctx context.Context, id uuid.UUID, at time.Time) (*models.Broadcast, error) {
	return m.mutate(id, func(b *models.Broadcast) {
		end := at
		b.IsLive, b.EndedAt, b.UpdatedAt = false, &end, at
	})
}

func (m *MemoryRepository) mutate(id uuid.UUID, fn func(*models.Broadcast)) (*models.Broadcast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	fn(&b)
	m.byID[id] = b
	return &b, nil
}
