// Package live serves the HTTP surface: current-session lookups, operator
// broadcast controls, refresh requests and the viewer WebSocket.
package live

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesync/internal/broadcasts"
	"github.com/aura-webinar/livesync/internal/entitlements"
	"github.com/aura-webinar/livesync/internal/gate"
	"github.com/aura-webinar/livesync/internal/middleware"
	"github.com/aura-webinar/livesync/internal/models"
	"github.com/aura-webinar/livesync/internal/reconcile"
	"github.com/aura-webinar/livesync/internal/sessions"
	"github.com/aura-webinar/livesync/internal/sources"
	"github.com/aura-webinar/livesync/pkg/response"
)

const readTimeout = 5 * time.Second

// BroadcastApplier writes one operator broadcast straight into the session store.
type BroadcastApplier interface {
	Apply(ctx context.Context, b models.Broadcast) (*models.LiveSession, error)
}

// EntitlementRefresher pushes new entitlements to a user's open connections.
type EntitlementRefresher interface {
	RefreshEntitlements(ctx context.Context, userID uuid.UUID) int
}

// Options holds the Handler's collaborators. Refresher, Entitlements and Viewers may be nil.
type Options struct {
	Store        sessions.Lister
	Broadcasts   broadcasts.Repository
	Applier      BroadcastApplier
	Refresher    Refresher
	Entitlements entitlements.Provider
	Viewers      EntitlementRefresher
	Windows      reconcile.Windows
	Now          func() time.Time
}

// Handler handles live session HTTP endpoints.
type Handler struct {
	opts   Options
	logger *zap.Logger
}

// NewHandler creates a live handler.
func NewHandler(opts Options, logger *zap.Logger) *Handler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Windows == (reconcile.Windows{}) {
		opts.Windows = reconcile.DefaultWindows()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{opts: opts, logger: logger}
}

// Health handles GET /health. It fails when the session store cannot be read.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readTimeout)
	defer cancel()
	if _, err := h.opts.Store.List(ctx); err != nil {
		h.logger.Warn("Health check failed", zap.Error(err))
		response.ServiceUnavailable(c, "session store unavailable")
		return
	}
	response.OK(c, gin.H{"status": "ok"})
}

// Current handles GET /live/current: the gate state the caller would see right now.
func (h *Handler) Current(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readTimeout)
	defer cancel()

	now := h.opts.Now()
	in := gate.Input{Now: now, Viewer: h.viewer(ctx, c)}
	list, err := h.opts.Store.List(ctx)
	if err != nil {
		h.logger.Warn("Failed to load live sessions", zap.Error(err))
		in.LoadErr = err
	} else {
		in.Loaded = true
		sel := reconcile.Select(list, now, h.opts.Windows)
		in.Session = sel.Session
		if !sel.Found() && len(sel.Skipped) > 0 {
			in.Malformed = sel.Skipped[0].Err
		}
	}
	response.OK(c, gate.Evaluate(in))
}

func (h *Handler) viewer(ctx context.Context, c *gin.Context) gate.Viewer {
	claims := middleware.Claims(c)
	if claims == nil {
		return gate.Viewer{}
	}
	v := gate.Viewer{Authenticated: true, Tier: models.TierFree}
	if h.opts.Entitlements == nil {
		return v
	}
	e, err := h.opts.Entitlements.Lookup(ctx, claims.UserID)
	if err != nil {
		h.logger.Warn("Entitlement lookup failed", zap.String("user_id", claims.UserID.String()), zap.Error(err))
		return v
	}
	v.Tier, v.Enrollments = e.Tier, e.Courses
	return v
}

// ListSessions handles GET /live/sessions (admin): every non-ended session.
func (h *Handler) ListSessions(c *gin.Context) {
	list, err := h.opts.Store.List(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list live sessions", zap.Error(err))
		response.Internal(c)
		return
	}
	if list == nil {
		list = []*models.LiveSession{}
	}
	response.OK(c, list)
}

// RefreshRequest is the optional body for POST /live/refresh.
type RefreshRequest struct {
	Sources []string `json:"sources"`
}

// Refresh handles POST /live/refresh (admin).
func (h *Handler) Refresh(c *gin.Context) {
	if h.opts.Refresher == nil {
		response.ServiceUnavailable(c, "source sync is not configured")
		return
	}
	var req RefreshRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	kinds := make([]models.SourceKind, 0, len(req.Sources))
	for _, s := range req.Sources {
		kind := models.SourceKind(strings.TrimSpace(s))
		if !kind.Valid() {
			response.BadRequest(c, "unknown source "+s)
			return
		}
		kinds = append(kinds, kind)
	}
	results, err := h.opts.Refresher.Refresh(c.Request.Context(), kinds...)
	if err != nil {
		h.logger.Error("Refresh failed", zap.Error(err))
		response.ServiceUnavailable(c, "refresh unavailable")
		return
	}
	queued := false
	for _, r := range results {
		queued = queued || r.Status == RefreshQueued
	}
	if queued {
		response.Accepted(c, results)
		return
	}
	response.OK(c, results)
}

// BroadcastRequest is the body for POST /live/broadcasts.
type BroadcastRequest struct {
	ID          *uuid.UUID `json:"id"`
	Title       string     `json:"title" binding:"required"`
	Description string     `json:"description"`
	StreamURL   string     `json:"stream_url" binding:"required,url"`
	ScheduledAt time.Time  `json:"scheduled_at" binding:"required"`
	EndsAt      *time.Time `json:"ends_at"`
	AccessTier  string     `json:"access_tier"`
	CourseRef   string     `json:"course_ref"`
	DayNumber   *int       `json:"day_number"`
}

// SaveBroadcast handles POST /live/broadcasts (admin): create, or update when id is set.
func (h *Handler) SaveBroadcast(c *gin.Context) {
	var req BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.EndsAt != nil && req.EndsAt.Before(req.ScheduledAt) {
		response.BadRequest(c, "ends_at is before scheduled_at")
		return
	}
	tier := models.TierFree
	if req.AccessTier != "" {
		tier = models.AccessTier(req.AccessTier)
		if !tier.Valid() {
			response.BadRequest(c, "unknown access_tier")
			return
		}
	}
	b := &models.Broadcast{
		Title:       req.Title,
		Description: req.Description,
		StreamURL:   req.StreamURL,
		ScheduledAt: req.ScheduledAt.UTC(),
		EndsAt:      req.EndsAt,
		AccessTier:  tier,
		CourseRef:   req.CourseRef,
		DayNumber:   req.DayNumber,
		CreatedBy:   middleware.UserID(c),
	}
	if req.ID != nil {
		b.ID = *req.ID
	}
	saved, err := h.opts.Broadcasts.Save(c.Request.Context(), b)
	if errors.Is(err, broadcasts.ErrNotFound) {
		response.NotFound(c, "broadcast not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to save broadcast", zap.Error(err))
		response.Internal(c)
		return
	}
	h.applyAndRespond(c, saved, req.ID == nil)
}

// GoLive handles POST /live/broadcasts/:id/go-live (admin).
func (h *Handler) GoLive(c *gin.Context) {
	h.flip(c, h.opts.Broadcasts.GoLive)
}

// End handles POST /live/broadcasts/:id/end (admin).
func (h *Handler) End(c *gin.Context) {
	h.flip(c, h.opts.Broadcasts.End)
}

func (h *Handler) flip(c *gin.Context, op func(context.Context, uuid.UUID, time.Time) (*models.Broadcast, error)) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid broadcast id")
		return
	}
	b, err := op(c.Request.Context(), id, h.opts.Now())
	if errors.Is(err, broadcasts.ErrNotFound) {
		response.NotFound(c, "broadcast not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to update broadcast", zap.String("broadcast_id", id.String()), zap.Error(err))
		response.Internal(c)
		return
	}
	h.applyAndRespond(c, b, false)
}

// BroadcastResponse pairs a broadcast with the live session it produced.
type BroadcastResponse struct {
	Broadcast *models.Broadcast   `json:"broadcast"`
	Session   *models.LiveSession `json:"session,omitempty"`
}

// applyAndRespond pushes the broadcast to viewers immediately. A failed apply is
// not fatal: the next manual-broadcast sync picks the change up.
func (h *Handler) applyAndRespond(c *gin.Context, b *models.Broadcast, created bool) {
	out := BroadcastResponse{Broadcast: b}
	if h.opts.Applier != nil {
		s, err := h.opts.Applier.Apply(c.Request.Context(), *b)
		var malformed *sources.MalformedRecordError
		switch {
		case errors.As(err, &malformed):
			h.logger.Warn("Broadcast is not playable yet", zap.String("broadcast_id", b.ID.String()), zap.Error(err))
		case err != nil:
			h.logger.Error("Failed to apply broadcast", zap.String("broadcast_id", b.ID.String()), zap.Error(err))
		default:
			out.Session = s
		}
	}
	if created {
		response.Created(c, out)
		return
	}
	response.OK(c, out)
}

// RefreshViewerEntitlements handles POST /live/viewers/:id/entitlements (admin),
// called after a purchase or enrollment so open players re-gate without reconnecting.
func (h *Handler) RefreshViewerEntitlements(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	n := 0
	if h.opts.Viewers != nil {
		n = h.opts.Viewers.RefreshEntitlements(c.Request.Context(), userID)
	}
	response.OK(c, gin.H{"connections": n})
}
