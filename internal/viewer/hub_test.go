package viewer

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/aura-webinar/livesync/internal/auth"
	"github.com/aura-webinar/livesync/internal/entitlements"
	"github.com/aura-webinar/livesync/internal/gate"
	"github.com/aura-webinar/livesync/internal/middleware"
	"github.com/aura-webinar/livesync/internal/models"
	"github.com/aura-webinar/livesync/internal/realtime"
	"github.com/aura-webinar/livesync/internal/sessions"
)

type fixture struct {
	hub    *Hub
	store  *sessions.Publishing
	raw    *sessions.MemoryStore
	ents   *entitlements.Memory
	jwt    *auth.JWTService
	broker *realtime.LocalBroker
	url    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)
	broker := realtime.NewLocalBroker()
	raw := sessions.NewMemoryStore(nil)
	f := &fixture{
		raw:    raw,
		store:  sessions.NewPublishing(raw, broker, logger),
		ents:   entitlements.NewMemory(),
		jwt:    auth.NewJWTService("secret", "", time.Hour),
		broker: broker,
	}
	f.hub = NewHub(Options{
		Store:        f.store,
		Counter:      f.store,
		Upstream:     broker,
		Entitlements: f.ents,
	}, logger)

	r := gin.New()
	r.GET("/ws", middleware.Authenticate(f.jwt, false), ServeWs(f.hub))
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := f.hub.Shutdown(ctx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
		srv.Close()
	})
	f.url = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return f
}

func (f *fixture) seed(t *testing.T, tier models.AccessTier) *models.LiveSession {
	t.Helper()
	s, _, err := f.store.Upsert(context.Background(), &models.LiveSession{
		ExternalID:  uuid.NewString(),
		Title:       "Live Q&A",
		Status:      models.StatusLive,
		StartsAt:    time.Now().Add(-time.Minute),
		SourceKind:  models.SourceManualBroadcast,
		PlayableRef: "https://cdn.example.com/live/qa.m3u8",
		AccessTier:  tier,
		CourseRef:   "go-bootcamp",
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return s
}

func (f *fixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	target := f.url
	if token != "" {
		target += "?token=" + token
	}
	conn, resp, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		t.Fatalf("dial: %v (%v)", err, resp)
	}
	return conn
}

func readState(t *testing.T, conn *websocket.Conn) gate.State {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Event != EventGateState {
			continue
		}
		var st gate.State
		if err := json.Unmarshal(msg.Data, &st); err != nil {
			t.Fatalf("decode state: %v", err)
		}
		return st
	}
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	msg := WSMessage{Event: event}
	if data != nil {
		raw, _ := json.Marshal(data)
		msg.Data = raw
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (f *fixture) viewers(t *testing.T, id uuid.UUID) func() int {
	return func() int {
		s, err := f.raw.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		return s.ViewerCount
	}
}

func TestServeWs_PresenceFollowsVisibilityAndDisconnect(t *testing.T) {
	f := newFixture(t)
	s := f.seed(t, models.TierFree)
	count := f.viewers(t, s.ID)

	conn := f.dial(t, "")
	if st := readState(t, conn); st.Kind != gate.KindPlayable || st.SessionID != s.ID {
		t.Fatalf("first state = %+v", st)
	}
	waitFor(t, "claim", func() bool { return count() == 1 })
	if f.hub.Count() != 1 {
		t.Fatalf("hub count = %d", f.hub.Count())
	}

	send(t, conn, EventVisibility, visibilityPayload{Hidden: true})
	waitFor(t, "background release", func() bool { return count() == 0 })
	send(t, conn, EventVisibility, visibilityPayload{Hidden: false})
	waitFor(t, "foreground claim", func() bool { return count() == 1 })

	_ = conn.Close()
	waitFor(t, "disconnect release", func() bool { return count() == 0 && f.hub.Count() == 0 })
	if n := f.broker.Subscribers(); n != 0 {
		t.Fatalf("upstream subscriptions after last viewer left = %d", n)
	}
}

func TestServeWs_GatesByTokenAndEntitlements(t *testing.T) {
	f := newFixture(t)
	s := f.seed(t, models.TierProfessional)

	anon := f.dial(t, "")
	defer anon.Close()
	if st := readState(t, anon); st.Kind != gate.KindLoginRequired {
		t.Fatalf("anonymous = %s", st.Kind)
	}

	user := uuid.New()
	token, err := f.jwt.Generate(user, "member@example.com", auth.RoleViewer)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	member := f.dial(t, token)
	defer member.Close()
	if st := readState(t, member); st.Kind != gate.KindUpgradeRequired {
		t.Fatalf("free member = %s", st.Kind)
	}

	f.ents.SetTier(user, models.TierProfessional)
	if n := f.hub.RefreshEntitlements(context.Background(), user); n != 1 {
		t.Fatalf("refreshed %d connections", n)
	}
	if st := readState(t, member); st.Kind != gate.KindPlayable || st.PlayableRef != s.PlayableRef {
		t.Fatalf("after upgrade = %+v", st)
	}
}

func TestServeWs_PushAndPlaybackEvents(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "")
	defer conn.Close()

	if st := readState(t, conn); st.Kind != gate.KindNoActiveSession {
		t.Fatalf("empty = %s", st.Kind)
	}
	s := f.seed(t, models.TierFree)
	if st := readState(t, conn); st.Kind != gate.KindPlayable || st.SessionID != s.ID {
		t.Fatalf("after push = %+v", st)
	}

	send(t, conn, EventPlaybackError, playbackErrorPayload{Message: "stalled"})
	if st := readState(t, conn); st.Kind != gate.KindError || !st.Retryable || st.Message != "stalled" {
		t.Fatalf("after failure = %+v", st)
	}
	send(t, conn, EventPlaybackRetry, nil)
	if st := readState(t, conn); st.Kind != gate.KindPlayable {
		t.Fatalf("after retry = %s", st.Kind)
	}
}

func TestServeWs_BadTokenIsAnonymous(t *testing.T) {
	f := newFixture(t)
	f.seed(t, models.TierProfessional)

	conn := f.dial(t, "garbage")
	defer conn.Close()
	if st := readState(t, conn); st.Kind != gate.KindLoginRequired {
		t.Fatalf("bad token = %s", st.Kind)
	}
}
