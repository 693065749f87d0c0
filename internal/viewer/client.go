package viewer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesync/internal/auth"
	"github.com/aura-webinar/livesync/internal/engine"
	"github.com/aura-webinar/livesync/internal/gate"
	"github.com/aura-webinar/livesync/internal/middleware"
	"github.com/aura-webinar/livesync/internal/presence"
	"github.com/aura-webinar/livesync/pkg/response"
)

// Events exchanged over the socket.
const (
	EventGateState     = "gate_state"
	EventVisibility    = "visibility"
	EventRefresh       = "refresh"
	EventPlaybackError = "playback_error"
	EventPlaybackRetry = "playback_retry"
	EventError         = "error"
)

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type visibilityPayload struct {
	Hidden bool `json:"hidden"`
}

type playbackErrorPayload struct {
	Message string `json:"message"`
}

// Client is one viewer connection.
type Client struct {
	ID     uuid.UUID
	claims *auth.Claims

	hub     *Hub
	conn    *websocket.Conn
	send    chan WSMessage
	engine  *engine.Engine
	tracker *presence.Tracker
	logger  *zap.Logger

	closeOnce sync.Once
	stop      chan struct{}
}

// ServeWs upgrades the request and runs the viewer loop until the socket closes.
// It expects middleware.Authenticate to have run in optional mode.
func ServeWs(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := middleware.Claims(c)
		viewer := hub.viewerFor(c.Request.Context(), claims)

		conn, err := hub.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.logger.Warn("WebSocket upgrade failed", zap.Error(err))
			return
		}
		client := newClient(hub, conn, claims, viewer)
		if !hub.register(client) {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
			_ = conn.Close()
			return
		}
		client.run()
	}
}

func newClient(hub *Hub, conn *websocket.Conn, claims *auth.Claims, viewer gate.Viewer) *Client {
	id := uuid.New()
	logger := hub.logger.With(zap.String("client_id", id.String()))
	if claims != nil {
		logger = logger.With(zap.String("user_id", claims.UserID.String()))
	}
	c := &Client{
		ID:      id,
		claims:  claims,
		hub:     hub,
		conn:    conn,
		send:    make(chan WSMessage, sendBuffer),
		tracker: presence.NewTracker(hub.opts.Counter, id, logger),
		logger:  logger,
		stop:    make(chan struct{}),
	}
	c.engine = engine.New(engine.Config{
		Store:      hub.opts.Store,
		Subscriber: hub.fanout,
		Windows:    hub.opts.Windows,
		Viewer:     viewer,
		Tick:       hub.opts.Tick,
		Now:        hub.opts.Now,
		Refresher:  hub.opts.Refresher,
		OnWatch:    c.tracker.Follow,
	}, c.pushState, logger)
	return c
}

func (c *Client) run() {
	ctx, cancel := context.WithCancel(context.Background())
	engineDone := make(chan struct{})
	defer func() {
		cancel()
		<-engineDone
		releaseCtx, done := context.WithTimeout(context.Background(), releaseWait)
		c.tracker.Release(releaseCtx)
		done()
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.tracker.Connect(ctx)
	go func() {
		defer close(engineDone)
		if err := c.engine.Run(ctx); err != nil {
			c.logger.Error("Viewer engine stopped", zap.Error(err))
		}
	}()
	go c.writePump()
	c.readPump(ctx)
}

func (c *Client) pushState(st gate.State) {
	data, err := json.Marshal(st)
	if err != nil {
		c.logger.Error("Failed to encode gate state", zap.Error(err))
		return
	}
	c.enqueue(WSMessage{Event: EventGateState, Data: data})
}

// enqueue drops the message when the viewer is too slow to keep up.
func (c *Client) enqueue(msg WSMessage) {
	select {
	case c.send <- msg:
	case <-c.stop:
	default:
		c.logger.Warn("Viewer send buffer full, dropping message", zap.String("event", msg.Event))
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = c.conn.Close()
	})
}

func (c *Client) readPump(ctx context.Context) {
	defer c.close()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(PongWait))
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("Viewer socket closed", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
		c.handle(ctx, msg)
	}
}

func (c *Client) handle(ctx context.Context, msg WSMessage) {
	switch msg.Event {
	case EventVisibility:
		var p visibilityPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			c.reject("invalid visibility payload")
			return
		}
		if p.Hidden {
			c.tracker.Background(ctx)
		} else {
			c.tracker.Foreground(ctx)
		}
	case EventRefresh:
		c.engine.SetViewer(c.hub.viewerFor(ctx, c.claims))
		c.engine.Refresh()
	case EventPlaybackError:
		var p playbackErrorPayload
		_ = json.Unmarshal(msg.Data, &p)
		c.engine.PlaybackFailed(p.Message)
	case EventPlaybackRetry:
		c.engine.PlaybackRetry()
	default:
		c.reject("unknown event " + msg.Event)
	}
}

func (c *Client) reject(reason string) {
	data, _ := json.Marshal(response.Body{Success: false, Error: reason})
	c.enqueue(WSMessage{Event: EventError, Data: data})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.stop:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
