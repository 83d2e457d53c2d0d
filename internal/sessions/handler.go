package sessions

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classcast/backend/internal/analytics"
	"github.com/classcast/backend/internal/live"
	"github.com/classcast/backend/internal/middleware"
	"github.com/classcast/backend/internal/models"
	"github.com/classcast/backend/internal/policy"
	"github.com/classcast/backend/internal/sessionlog"
	"github.com/classcast/backend/pkg/queue"
	"github.com/classcast/backend/pkg/response"
)

// CreateRequest is the body for POST /sessions.
type CreateRequest struct {
	CourseID    string `json:"course_id" binding:"required,uuid"`
	Title       string `json:"title" binding:"required"`
	ScheduledAt string `json:"scheduled_at" binding:"required"`
}

// PolicyRequest is the body for PUT /sessions/:id/policy.
type PolicyRequest struct {
	BannedTerms       []string `json:"banned_terms"`
	SlowModeSeconds   int      `json:"slow_mode_seconds"`
	RestrictedToRoles []string `json:"restricted_to_roles"`
	HoldForReview     bool     `json:"hold_for_review"`
}

// StatsResponse is the body for GET /sessions/:id/stats.
type StatsResponse struct {
	SessionID           uuid.UUID           `json:"session_id"`
	State               models.SessionState `json:"state"`
	LiveCount           int                 `json:"live_count"`
	TotalJoined         int                 `json:"total_joined"`
	PeakViewers         int                 `json:"peak_viewers"`
	AverageWatchSeconds int64               `json:"average_watch_seconds"`
}

// Handler handles the live session control surface.
type Handler struct {
	repo        *Repository
	manager     *live.Manager
	policies    *policy.Store
	logRepo     *sessionlog.Repository
	metricsRepo *analytics.Repository
	jobs        *queue.Queue
	logger      *zap.Logger
}

// NewHandler creates a session control handler.
func NewHandler(repo *Repository, manager *live.Manager, policies *policy.Store, logRepo *sessionlog.Repository, metricsRepo *analytics.Repository, jobs *queue.Queue, logger *zap.Logger) *Handler {
	return &Handler{
		repo:        repo,
		manager:     manager,
		policies:    policies,
		logRepo:     logRepo,
		metricsRepo: metricsRepo,
		jobs:        jobs,
		logger:      logger,
	}
}

// Create handles POST /sessions: schedules a new session hosted by the caller.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	courseID, _ := uuid.Parse(req.CourseID)
	scheduledAt, err := time.Parse(time.RFC3339, req.ScheduledAt)
	if err != nil {
		response.BadRequest(c, "invalid scheduled_at")
		return
	}
	hostID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	s := &models.Session{
		CourseID:    courseID,
		Title:       req.Title,
		HostID:      hostID,
		State:       models.SessionScheduled,
		ScheduledAt: scheduledAt,
	}
	if err := h.repo.Create(c.Request.Context(), s); err != nil {
		response.Internal(c, "failed to create session")
		return
	}
	response.Created(c, s)
}

// List handles GET /sessions.
func (h *Handler) List(c *gin.Context) {
	var courseID *uuid.UUID
	if v := c.Query("course_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			response.BadRequest(c, "invalid course_id")
			return
		}
		courseID = &id
	}
	list, err := h.repo.List(c.Request.Context(), courseID)
	if err != nil {
		response.Internal(c, "failed to list sessions")
		return
	}
	response.OK(c, list)
}

// GetByID handles GET /sessions/:id.
func (h *Handler) GetByID(c *gin.Context) {
	s, ok := h.loadSession(c)
	if !ok {
		return
	}
	response.OK(c, s)
}

// Start handles POST /sessions/:id/start: Scheduled -> Live, host only.
func (h *Handler) Start(c *gin.Context) {
	s, ok := h.loadSession(c)
	if !ok {
		return
	}
	callerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	if err := h.manager.Start(c.Request.Context(), *s, callerID); err != nil {
		if errors.Is(err, live.ErrInvalidTransition) {
			response.Conflict(c, "session cannot be started")
			return
		}
		response.Internal(c, "failed to start session")
		return
	}
	now := time.Now()
	if _, err := h.repo.MarkLive(c.Request.Context(), s.ID, now); err != nil {
		h.logger.Error("persist session start failed", zap.String("session_id", s.ID.String()), zap.Error(err))
	}
	s.State = models.SessionLive
	s.StartedAt = &now
	response.OK(c, s)
}

// End handles POST /sessions/:id/end: Live -> Ended, host only. Persists
// final stats and enqueues the post-session analytics job.
func (h *Handler) End(c *gin.Context) {
	s, ok := h.loadSession(c)
	if !ok {
		return
	}
	callerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	stats, err := h.manager.End(c.Request.Context(), s.ID, callerID)
	if err != nil {
		if errors.Is(err, live.ErrInvalidTransition) {
			response.Conflict(c, "session is not live")
			return
		}
		response.Internal(c, "failed to end session")
		return
	}

	now := time.Now()
	if _, err := h.repo.MarkEnded(c.Request.Context(), s.ID, now, stats.PeakViewers, stats.TotalJoined, stats.TotalWatchSeconds); err != nil {
		h.logger.Error("persist session end failed", zap.String("session_id", s.ID.String()), zap.Error(err))
	}
	if h.jobs != nil {
		if err := h.jobs.EnqueueAnalytics(c.Request.Context(), queue.AnalyticsPayload{SessionID: s.ID}); err != nil {
			h.logger.Warn("enqueue analytics job failed", zap.String("session_id", s.ID.String()), zap.Error(err))
		}
	}
	response.OK(c, stats)
}

// ReleaseHeld handles POST /sessions/:id/held/:messageId/release (host only).
func (h *Handler) ReleaseHeld(c *gin.Context) {
	sessionID, ok := parseID(c)
	if !ok {
		return
	}
	messageID, err := uuid.Parse(c.Param("messageId"))
	if err != nil {
		response.BadRequest(c, "invalid message id")
		return
	}
	callerID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	err = h.manager.ReleaseHeldMessage(c.Request.Context(), sessionID, messageID, callerID)
	switch {
	case err == nil:
		response.NoContent(c)
	case errors.Is(err, live.ErrNotHost):
		response.Forbidden(c, "only the host can release held messages")
	case errors.Is(err, live.ErrHeldMessageNotFound):
		response.NotFound(c, "held message not found")
	case errors.Is(err, live.ErrSessionNotLive):
		response.Conflict(c, "session is not live")
	default:
		response.Internal(c, "failed to release message")
	}
}

// Stats handles GET /sessions/:id/stats. Served from the resident engine
// while the session is live or within the drain grace period, else from
// the durable record.
func (h *Handler) Stats(c *gin.Context) {
	s, ok := h.loadSession(c)
	if !ok {
		return
	}
	stats, err := h.manager.GetStats(c.Request.Context(), s.ID)
	if err == nil {
		response.OK(c, StatsResponse{
			SessionID:           s.ID,
			State:               s.State,
			LiveCount:           stats.LiveCount,
			TotalJoined:         stats.TotalJoined,
			PeakViewers:         stats.PeakViewers,
			AverageWatchSeconds: stats.AverageWatchSeconds,
		})
		return
	}
	if !errors.Is(err, live.ErrSessionNotFound) {
		response.Internal(c, "failed to read stats")
		return
	}
	var avg int64
	if s.TotalJoined > 0 {
		avg = s.TotalWatchSeconds / int64(s.TotalJoined)
	}
	response.OK(c, StatsResponse{
		SessionID:           s.ID,
		State:               s.State,
		LiveCount:           0,
		TotalJoined:         s.TotalJoined,
		PeakViewers:         s.PeakViewers,
		AverageWatchSeconds: avg,
	})
}

// Attendees handles GET /sessions/:id/attendees.
func (h *Handler) Attendees(c *gin.Context) {
	sessionID, ok := parseID(c)
	if !ok {
		return
	}
	list, err := h.logRepo.ListBySession(c.Request.Context(), sessionID)
	if err != nil {
		response.Internal(c, "failed to list attendees")
		return
	}
	response.OK(c, list)
}

// Engagement handles GET /sessions/:id/engagement.
func (h *Handler) Engagement(c *gin.Context) {
	sessionID, ok := parseID(c)
	if !ok {
		return
	}
	m, err := h.metricsRepo.GetBySession(c.Request.Context(), sessionID)
	if err != nil {
		response.Internal(c, "failed to read engagement metrics")
		return
	}
	if m == nil {
		response.NotFound(c, "engagement metrics not available yet")
		return
	}
	response.OK(c, m)
}

// UpdatePolicy handles PUT /sessions/:id/policy.
func (h *Handler) UpdatePolicy(c *gin.Context) {
	sessionID, ok := parseID(c)
	if !ok {
		return
	}
	var req PolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	roles := make([]models.Role, 0, len(req.RestrictedToRoles))
	for _, r := range req.RestrictedToRoles {
		role := models.Role(r)
		if !role.Valid() {
			response.BadRequest(c, "unknown role: "+r)
			return
		}
		roles = append(roles, role)
	}
	p := models.ModerationPolicy{
		BannedTerms:       req.BannedTerms,
		SlowModeSeconds:   req.SlowModeSeconds,
		RestrictedToRoles: roles,
		HoldForReview:     req.HoldForReview,
	}
	if err := h.policies.Save(c.Request.Context(), sessionID, p); err != nil {
		response.Internal(c, "failed to store policy")
		return
	}
	response.OK(c, p)
}

// RefreshPolicy handles POST /sessions/:id/policy/refresh: reloads the live
// session's policy snapshot from the store.
func (h *Handler) RefreshPolicy(c *gin.Context) {
	sessionID, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.manager.RefreshPolicy(c.Request.Context(), sessionID); err != nil {
		if errors.Is(err, live.ErrSessionNotLive) {
			response.Conflict(c, "session is not live")
			return
		}
		response.Internal(c, "failed to refresh policy")
		return
	}
	response.NoContent(c)
}

// LiveCount returns a handler for GET /sessions/:id/live_count.
func (h *Handler) LiveCount(c *gin.Context) {
	sessionID, ok := parseID(c)
	if !ok {
		return
	}
	response.OK(c, gin.H{"live_count": h.manager.LiveCount(sessionID)})
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) loadSession(c *gin.Context) (*models.Session, bool) {
	id, ok := parseID(c)
	if !ok {
		return nil, false
	}
	s, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Internal(c, "failed to load session")
		return nil, false
	}
	if s == nil {
		response.NotFound(c, "session not found")
		return nil, false
	}
	return s, true
}
