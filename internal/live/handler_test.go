package live

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"github.com/aura-webinar/livesync/internal/auth"
	"github.com/aura-webinar/livesync/internal/broadcasts"
	"github.com/aura-webinar/livesync/internal/entitlements"
	"github.com/aura-webinar/livesync/internal/gate"
	"github.com/aura-webinar/livesync/internal/models"
	"github.com/aura-webinar/livesync/internal/sessions"
	"github.com/aura-webinar/livesync/internal/sources"
)

var now = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type fakeRefresher struct {
	results []RefreshResult
	err     error
	got     []models.SourceKind
}

func (f *fakeRefresher) Refresh(ctx context.Context, kinds ...models.SourceKind) ([]RefreshResult, error) {
	f.got = kinds
	return f.results, f.err
}

type fakeViewers struct{ users []uuid.UUID }

func (f *fakeViewers) RefreshEntitlements(ctx context.Context, userID uuid.UUID) int {
	f.users = append(f.users, userID)
	return 2
}

type testEnv struct {
	router    *gin.Engine
	store     *sessions.MemoryStore
	ents      *entitlements.Memory
	refresher *fakeRefresher
	viewers   *fakeViewers
	jwt       *auth.JWTService
	admin     string
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)
	clock := func() time.Time { return now }

	store := sessions.NewMemoryStore(clock)
	repo := broadcasts.NewMemoryRepository(clock)
	e := &testEnv{
		store:     store,
		ents:      entitlements.NewMemory(),
		refresher: &fakeRefresher{},
		viewers:   &fakeViewers{},
		jwt:       auth.NewJWTService("secret", "", time.Hour),
	}
	h := NewHandler(Options{
		Store:        store,
		Broadcasts:   repo,
		Applier:      sources.NewManualBroadcastClient(repo, store, clock, logger),
		Refresher:    e.refresher,
		Entitlements: e.ents,
		Viewers:      e.viewers,
		Now:          clock,
	}, logger)
	e.router = gin.New()
	Register(e.router, h, e.jwt, nil)

	admin, err := e.jwt.Generate(uuid.New(), "ops@example.com", auth.RoleAdmin)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	e.admin = admin
	return e
}

func (e *testEnv) token(t *testing.T, userID uuid.UUID, role string) string {
	t.Helper()
	tok, err := e.jwt.Generate(userID, "user@example.com", role)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return tok
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s %s: %v (%s)", method, path, err, w.Body.String())
	}
	return w.Code, env
}

func (e *testEnv) current(t *testing.T, token string) gate.State {
	t.Helper()
	code, env := e.do(t, http.MethodGet, "/live/current", token, nil)
	if code != http.StatusOK {
		t.Fatalf("current: %d %s", code, env.Error)
	}
	var st gate.State
	if err := json.Unmarshal(env.Data, &st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return st
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	if code, _ := e.do(t, http.MethodGet, "/health", "", nil); code != http.StatusOK {
		t.Fatalf("health = %d", code)
	}
}

func TestCurrent_GatesPerCaller(t *testing.T) {
	e := newEnv(t)
	if st := e.current(t, ""); st.Kind != gate.KindNoActiveSession {
		t.Fatalf("empty = %s", st.Kind)
	}

	_, _, err := e.store.Upsert(context.Background(), &models.LiveSession{
		ExternalID:  "yt-1",
		Title:       "Mock interview",
		Status:      models.StatusLive,
		StartsAt:    now.Add(-10 * time.Minute),
		SourceKind:  models.SourceHostedVideo,
		PlayableRef: "https://www.youtube.com/embed/yt-1",
		AccessTier:  models.TierProfessional,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if st := e.current(t, ""); st.Kind != gate.KindLoginRequired {
		t.Fatalf("anonymous = %s", st.Kind)
	}
	user := uuid.New()
	tok := e.token(t, user, auth.RoleViewer)
	if st := e.current(t, tok); st.Kind != gate.KindUpgradeRequired {
		t.Fatalf("free = %s", st.Kind)
	}
	e.ents.SetTier(user, models.TierProfessional)
	st := e.current(t, tok)
	if st.Kind != gate.KindPlayable || st.PlayableRef != "https://www.youtube.com/embed/yt-1" {
		t.Fatalf("professional = %+v", st)
	}
}

func TestBroadcastLifecycle(t *testing.T) {
	e := newEnv(t)

	code, env := e.do(t, http.MethodPost, "/live/broadcasts", e.admin, map[string]any{
		"title":        "Day 12: Generics",
		"stream_url":   "https://cdn.example.com/live/day12.m3u8",
		"scheduled_at": now.Add(10 * time.Minute),
		"day_number":   12,
	})
	if code != http.StatusCreated {
		t.Fatalf("create: %d %s", code, env.Error)
	}
	var created BroadcastResponse
	if err := json.Unmarshal(env.Data, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Session == nil || created.Session.Status != models.StatusScheduled {
		t.Fatalf("created session = %+v", created.Session)
	}
	st := e.current(t, "")
	if st.Kind != gate.KindCountdown || st.Countdown != "00:10:00" {
		t.Fatalf("before go-live = %+v", st)
	}

	id := created.Broadcast.ID.String()
	if code, env := e.do(t, http.MethodPost, "/live/broadcasts/"+id+"/go-live", e.admin, nil); code != http.StatusOK {
		t.Fatalf("go-live: %d %s", code, env.Error)
	}
	if st := e.current(t, ""); st.Kind != gate.KindPlayable {
		t.Fatalf("after go-live = %s", st.Kind)
	}

	if code, env := e.do(t, http.MethodPost, "/live/broadcasts/"+id+"/end", e.admin, nil); code != http.StatusOK {
		t.Fatalf("end: %d %s", code, env.Error)
	}
	if st := e.current(t, ""); st.Kind != gate.KindNoActiveSession {
		t.Fatalf("after end = %s", st.Kind)
	}

	if code, _ := e.do(t, http.MethodPost, "/live/broadcasts/"+uuid.NewString()+"/go-live", e.admin, nil); code != http.StatusNotFound {
		t.Fatalf("unknown broadcast = %d", code)
	}
	if code, _ := e.do(t, http.MethodPost, "/live/broadcasts/nope/end", e.admin, nil); code != http.StatusBadRequest {
		t.Fatalf("bad id = %d", code)
	}
}

func TestBroadcastValidation(t *testing.T) {
	e := newEnv(t)
	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing title", map[string]any{"stream_url": "https://x.example.com/a", "scheduled_at": now}},
		{"bad url", map[string]any{"title": "t", "stream_url": "not a url", "scheduled_at": now}},
		{"ends before start", map[string]any{"title": "t", "stream_url": "https://x.example.com/a", "scheduled_at": now, "ends_at": now.Add(-time.Hour)}},
		{"unknown tier", map[string]any{"title": "t", "stream_url": "https://x.example.com/a", "scheduled_at": now, "access_tier": "gold"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _ := e.do(t, http.MethodPost, "/live/broadcasts", e.admin, tt.body); code != http.StatusBadRequest {
				t.Fatalf("status = %d", code)
			}
		})
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	e := newEnv(t)
	viewer := e.token(t, uuid.New(), auth.RoleViewer)
	for _, path := range []string{"/live/refresh", "/live/broadcasts"} {
		if code, _ := e.do(t, http.MethodPost, path, "", nil); code != http.StatusUnauthorized {
			t.Fatalf("anonymous %s = %d", path, code)
		}
		if code, _ := e.do(t, http.MethodPost, path, viewer, nil); code != http.StatusForbidden {
			t.Fatalf("viewer %s = %d", path, code)
		}
	}
	if code, _ := e.do(t, http.MethodGet, "/live/sessions", e.admin, nil); code != http.StatusOK {
		t.Fatalf("admin list = %d", code)
	}
}

func TestRefresh(t *testing.T) {
	e := newEnv(t)

	e.refresher.results = []RefreshResult{{Source: models.SourceHostedVideo, Status: RefreshThrottled, At: now}}
	code, _ := e.do(t, http.MethodPost, "/live/refresh", e.admin, RefreshRequest{Sources: []string{string(models.SourceHostedVideo)}})
	if code != http.StatusOK {
		t.Fatalf("refresh = %d", code)
	}
	if len(e.refresher.got) != 1 || e.refresher.got[0] != models.SourceHostedVideo {
		t.Fatalf("kinds = %v", e.refresher.got)
	}

	if code, _ := e.do(t, http.MethodPost, "/live/refresh", e.admin, RefreshRequest{Sources: []string{"twitch"}}); code != http.StatusBadRequest {
		t.Fatalf("unknown source = %d", code)
	}

	e.refresher.results = []RefreshResult{{Status: RefreshQueued, At: now}}
	if code, _ := e.do(t, http.MethodPost, "/live/refresh", e.admin, nil); code != http.StatusAccepted {
		t.Fatalf("queued = %d", code)
	}

	e.refresher.err = errors.New("scheduler stopped")
	if code, _ := e.do(t, http.MethodPost, "/live/refresh", e.admin, nil); code != http.StatusServiceUnavailable {
		t.Fatalf("failure = %d", code)
	}
}

func TestRefreshViewerEntitlements(t *testing.T) {
	e := newEnv(t)
	user := uuid.New()
	code, env := e.do(t, http.MethodPost, "/live/viewers/"+user.String()+"/entitlements", e.admin, nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d %s", code, env.Error)
	}
	if len(e.viewers.users) != 1 || e.viewers.users[0] != user {
		t.Fatalf("refreshed users = %v", e.viewers.users)
	}
}
