package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/livesync/internal/models"
)

type sourceKey struct {
	kind       models.SourceKind
	externalID string
}

// MemoryStore is an in-process Store. Used for tests and STORE_DRIVER=memory.
type MemoryStore struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]*models.LiveSession
	byKey map[sourceKey]uuid.UUID
	now   func() time.Time
}

// NewMemoryStore creates an empty store. now may be nil.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		byID:  make(map[uuid.UUID]*models.LiveSession),
		byKey: make(map[sourceKey]uuid.UUID),
		now:   now,
	}
}

// List returns non-ended sessions.
func (m *MemoryStore) List(ctx context.Context) ([]*models.LiveSession, error) {
	return m.filter(func(s *models.LiveSession) bool { return s.Status != models.StatusEnded }), nil
}

// ListBySource returns non-ended sessions of one kind.
func (m *MemoryStore) ListBySource(ctx context.Context, kind models.SourceKind) ([]*models.LiveSession, error) {
	return m.filter(func(s *models.LiveSession) bool {
		return s.SourceKind == kind && s.Status != models.StatusEnded
	}), nil
}

func (m *MemoryStore) filter(keep func(*models.LiveSession) bool) []*models.LiveSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LiveSession
	for _, s := range m.byID {
		if keep(s) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].StartsAt.Before(out[j].StartsAt)
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Get returns a session by id.
func (m *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// Upsert inserts or updates by (source_kind, external_id).
func (m *MemoryStore) Upsert(ctx context.Context, s *models.LiveSession) (*models.LiveSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := s.Clone()
	rec.UpdatedAt = m.now()
	key := sourceKey{kind: rec.SourceKind, externalID: rec.ExternalID}
	if id, ok := m.byKey[key]; ok {
		existing := m.byID[id]
		rec.ID = id
		rec.ViewerCount = existing.ViewerCount
		m.byID[id] = rec
		return rec.Clone(), false, nil
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.ViewerCount = 0
	m.byID[rec.ID] = rec
	m.byKey[key] = rec.ID
	return rec.Clone(), true, nil
}

// SetStatus changes the status of one session.
func (m *MemoryStore) SetStatus(ctx context.Context, id uuid.UUID, status models.SessionStatus) (*models.LiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	s.Status = status
	s.UpdatedAt = m.now()
	return s.Clone(), nil
}

// IncrementViewerCount adds one viewer.
func (m *MemoryStore) IncrementViewerCount(ctx context.Context, id uuid.UUID) (int, error) {
	return m.adjust(id, 1)
}

// DecrementViewerCount removes one viewer, floored at zero.
func (m *MemoryStore) DecrementViewerCount(ctx context.Context, id uuid.UUID) (int, error) {
	return m.adjust(id, -1)
}

func (m *MemoryStore) adjust(id uuid.UUID, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return 0, ErrNotFound
	}
	s.ViewerCount += delta
	if s.ViewerCount < 0 {
		s.ViewerCount = 0
	}
	return s.ViewerCount, nil
}
