// Package viewer serves viewer WebSocket connections. Each connection runs its
// own detection engine and presence tracker; the hub holds the shared pieces.
package viewer

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesync/internal/auth"
	"github.com/aura-webinar/livesync/internal/entitlements"
	"github.com/aura-webinar/livesync/internal/gate"
	"github.com/aura-webinar/livesync/internal/realtime"
	"github.com/aura-webinar/livesync/internal/reconcile"
	"github.com/aura-webinar/livesync/internal/sessions"
)

const (
	// PingInterval and PongWait are the WebSocket heartbeat.
	PingInterval = 30 * time.Second
	PongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 32
	releaseWait  = 5 * time.Second
)

// Options wires a Hub to the rest of the service.
type Options struct {
	Store        sessions.Lister
	Counter      sessions.Counter
	Upstream     realtime.Subscriber
	Entitlements entitlements.Provider
	Windows      reconcile.Windows
	// Tick overrides the engine's re-evaluation interval.
	Tick time.Duration
	Now  func() time.Time
	// Refresher runs when a viewer asks for a refresh. Optional.
	Refresher func(ctx context.Context) error
	// AllowedOrigins is "*" or a comma-separated origin list.
	AllowedOrigins string
}

// Hub tracks open viewer connections. The upstream push subscription is shared:
// it is opened when the first viewer connects and closed when the last leaves.
type Hub struct {
	opts     Options
	logger   *zap.Logger
	upgrader websocket.Upgrader
	fanout   *realtime.LocalBroker

	mu       sync.Mutex
	clients  map[uuid.UUID]*Client
	upstream func()
	closed   bool
	wg       sync.WaitGroup
}

// NewHub creates a hub.
func NewHub(opts Options, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		opts:    opts,
		logger:  logger,
		fanout:  realtime.NewLocalBroker(),
		clients: make(map[uuid.UUID]*Client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	allowed := strings.TrimSpace(h.opts.AllowedOrigins)
	origin := r.Header.Get("Origin")
	if allowed == "" || allowed == "*" || origin == "" {
		return true
	}
	for _, o := range strings.Split(allowed, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

// register adds a client, opening the upstream subscription for the first one.
func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if len(h.clients) == 0 && h.opts.Upstream != nil {
		cancel, err := h.opts.Upstream.Subscribe(context.Background(), realtime.TableScope(), func(ev realtime.ChangeEvent) {
			_ = h.fanout.Publish(context.Background(), ev)
		})
		if err != nil {
			h.logger.Warn("Upstream live session subscription failed", zap.Error(err))
		} else {
			h.upstream = cancel
		}
	}
	h.clients[c.ID] = c
	h.wg.Add(1)
	h.logger.Debug("Viewer connected", zap.String("client_id", c.ID.String()), zap.Int("viewers", len(h.clients)))
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	delete(h.clients, c.ID)
	if len(h.clients) == 0 && h.upstream != nil {
		h.upstream()
		h.upstream = nil
	}
	h.wg.Done()
	h.logger.Debug("Viewer disconnected", zap.String("client_id", c.ID.String()), zap.Int("viewers", len(h.clients)))
}

// Count returns the number of open viewer connections.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// RefreshEntitlements re-reads entitlements for every connection of userID,
// after a purchase or enrollment for example.
func (h *Hub) RefreshEntitlements(ctx context.Context, userID uuid.UUID) int {
	h.mu.Lock()
	var targets []*Client
	for _, c := range h.clients {
		if c.claims != nil && c.claims.UserID == userID {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()
	for _, c := range targets {
		c.engine.SetViewer(h.viewerFor(ctx, c.claims))
	}
	return len(targets)
}

// Shutdown closes every connection and waits for their presence claims to be released.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// viewerFor builds the gate viewer for a token. Anonymous callers have no claims.
// A failed lookup degrades to the free tier.
func (h *Hub) viewerFor(ctx context.Context, claims *auth.Claims) gate.Viewer {
	if claims == nil {
		return gate.Viewer{}
	}
	v := gate.Viewer{Authenticated: true, Tier: entitlements.Free().Tier}
	if h.opts.Entitlements == nil {
		return v
	}
	e, err := h.opts.Entitlements.Lookup(ctx, claims.UserID)
	if err != nil {
		h.logger.Warn("Entitlement lookup failed", zap.String("user_id", claims.UserID.String()), zap.Error(err))
		return v
	}
	v.Tier = e.Tier
	v.Enrollments = e.Courses
	return v
}
