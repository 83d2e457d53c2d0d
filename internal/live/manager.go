package live

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classcast/backend/config"
	"github.com/classcast/backend/internal/metrics"
	"github.com/classcast/backend/internal/models"
)

// allowedReactions is the closed emoji set reactions are restricted to.
var allowedReactions = map[string]struct{}{
	"❤️": {},
	"👍": {},
	"👏": {},
	"😂": {},
	"😮": {},
	"🎉": {},
}

// PolicySource supplies per-session moderation policy. Read-only from the
// engine's perspective.
type PolicySource interface {
	Load(ctx context.Context, sessionID uuid.UUID) (models.ModerationPolicy, error)
}

// SessionJoinLogger is called when a viewer joins a session.
type SessionJoinLogger func(sessionID, viewerID uuid.UUID)

// SessionLeaveLogger is called when a viewer leaves (explicitly, by
// timeout, or because the session ended).
type SessionLeaveLogger func(sessionID, viewerID uuid.UUID, joinedAt time.Time)

// AudienceChangeHandler is called when a session's live count changes
// (e.g. for peak tracking).
type AudienceChangeHandler func(sessionID uuid.UUID, count int)

// EndHandler is called once when a session ends, with its final stats.
type EndHandler func(sessionID uuid.UUID, stats Stats)

// Manager is the live session engine's single entry point. It maps
// sessionID -> per-session executor; each executor serializes all
// mutations for its session, so sessions are fully parallel with no
// cross-session locking.
type Manager struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*executor

	cfg      config.SessionConfig
	policies PolicySource
	metrics  *metrics.Metrics
	logger   *zap.Logger

	onJoinLog  SessionJoinLogger
	onLeaveLog SessionLeaveLogger
	onAudience AudienceChangeHandler
	onEnd      EndHandler
}

// NewManager creates the session engine. metrics may be nil.
func NewManager(cfg config.SessionConfig, policies PolicySource, m *metrics.Metrics, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		sessions: make(map[uuid.UUID]*executor),
		cfg:      cfg,
		policies: policies,
		metrics:  m,
		logger:   logger,
	}
}

// SetSessionLogger sets the join/leave presence callbacks.
func (m *Manager) SetSessionLogger(join SessionJoinLogger, leave SessionLeaveLogger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onJoinLog = join
	m.onLeaveLog = leave
}

// SetAudienceChangeHandler sets the live-count change callback.
func (m *Manager) SetAudienceChangeHandler(fn AudienceChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAudience = fn
}

// SetEndHandler sets the session-ended callback.
func (m *Manager) SetEndHandler(fn EndHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnd = fn
}

func (m *Manager) get(sessionID uuid.UUID) (*executor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	return e, ok
}

// Start transitions a scheduled session to live: loads the moderation
// policy snapshot and allocates the session's executor, presence tracker
// and broadcaster. Fails with ErrInvalidTransition if the session is not
// scheduled or the caller is not the host.
func (m *Manager) Start(ctx context.Context, sess models.Session, callerID uuid.UUID) error {
	if sess.State != models.SessionScheduled {
		return ErrInvalidTransition
	}
	if callerID != sess.HostID {
		return ErrInvalidTransition
	}

	policy, err := m.policies.Load(ctx, sess.ID)
	if err != nil {
		m.logger.Warn("policy load failed, using defaults",
			zap.String("session_id", sess.ID.String()), zap.Error(err))
		policy = models.ModerationPolicy{}
	}

	m.mu.Lock()
	if _, exists := m.sessions[sess.ID]; exists {
		m.mu.Unlock()
		return ErrInvalidTransition
	}
	hooks := executorHooks{
		onJoinLog:  m.onJoinLog,
		onLeaveLog: m.onLeaveLog,
		onAudience: m.onAudience,
	}
	e := newExecutor(sess, policy, m.cfg, hooks, m.metrics, m.logger)
	m.sessions[sess.ID] = e
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SessionStarted()
	}
	m.logger.Info("session started",
		zap.String("session_id", sess.ID.String()),
		zap.String("host_id", sess.HostID.String()))
	return nil
}

// End transitions a live session to ended: every viewer receives a
// terminal event and is disconnected, the ordering counter freezes, and
// the session's in-memory state is released after a drain grace period
// during which final stats stay readable.
func (m *Manager) End(ctx context.Context, sessionID, callerID uuid.UUID) (Stats, error) {
	e, ok := m.get(sessionID)
	if !ok {
		return Stats{}, ErrInvalidTransition
	}
	stats, err := e.end(ctx, callerID)
	if err != nil {
		return Stats{}, err
	}

	if m.metrics != nil {
		m.metrics.SessionEnded()
	}
	m.mu.RLock()
	onEnd := m.onEnd
	m.mu.RUnlock()
	if onEnd != nil {
		go onEnd(sessionID, stats)
	}

	time.AfterFunc(m.cfg.EndGracePeriod, func() {
		m.mu.Lock()
		delete(m.sessions, sessionID)
		m.mu.Unlock()
	})
	return stats, nil
}

// HandleJoin connects a viewer to a live session. Reconnect with the same
// viewer ID replaces the prior connection.
func (m *Manager) HandleJoin(ctx context.Context, sessionID, viewerID uuid.UUID, role models.Role) (JoinResult, error) {
	e, ok := m.get(sessionID)
	if !ok {
		return JoinResult{}, ErrSessionNotLive
	}
	return e.join(ctx, viewerID, role)
}

// HandleLeave disconnects one viewer connection. connID names the
// connection being torn down (from JoinResult); when it no longer matches
// the resident entry the viewer has already reconnected and the call is a
// no-op, so a stale gateway teardown can never evict the fresh connection.
// Valid in any state and idempotent.
func (m *Manager) HandleLeave(ctx context.Context, sessionID, viewerID, connID uuid.UUID) error {
	e, ok := m.get(sessionID)
	if !ok {
		return nil
	}
	err := e.leave(ctx, viewerID, connID, LeaveExplicit)
	if err == ErrSessionNotLive {
		return nil
	}
	return err
}

// HandleHeartbeat refreshes a viewer's liveness timestamp.
func (m *Manager) HandleHeartbeat(ctx context.Context, sessionID, viewerID uuid.UUID) error {
	e, ok := m.get(sessionID)
	if !ok {
		return ErrSessionNotLive
	}
	return e.heartbeat(ctx, viewerID)
}

// HandleMessage runs moderation on one inbound message and, when accepted,
// broadcasts it in total order. The verdict is returned to the caller;
// rejected and slow-mode outcomes are also delivered to the sender as a
// message_rejected event, never broadcast.
func (m *Manager) HandleMessage(ctx context.Context, sessionID, senderID uuid.UUID, body string) (VerdictResult, error) {
	e, ok := m.get(sessionID)
	if !ok {
		return VerdictResult{}, ErrSessionNotLive
	}
	return e.message(ctx, senderID, body)
}

// HandleReaction broadcasts a reaction on the lightweight path. The emoji
// must belong to the fixed reaction set.
func (m *Manager) HandleReaction(ctx context.Context, sessionID, senderID uuid.UUID, emoji string) error {
	if _, ok := allowedReactions[emoji]; !ok {
		return ErrInvalidReaction
	}
	e, ok := m.get(sessionID)
	if !ok {
		return ErrSessionNotLive
	}
	return e.reaction(ctx, senderID, emoji)
}

// ReleaseHeldMessage broadcasts a message previously held for review.
// Host-only: the single permitted override of a moderation verdict.
func (m *Manager) ReleaseHeldMessage(ctx context.Context, sessionID, messageID, callerID uuid.UUID) error {
	e, ok := m.get(sessionID)
	if !ok {
		return ErrSessionNotLive
	}
	if callerID != e.hostID {
		return ErrNotHost
	}
	return e.releaseHeld(ctx, messageID)
}

// RefreshPolicy reloads the session's moderation policy snapshot from the
// policy source.
func (m *Manager) RefreshPolicy(ctx context.Context, sessionID uuid.UUID) error {
	e, ok := m.get(sessionID)
	if !ok {
		return ErrSessionNotLive
	}
	policy, err := m.policies.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	return e.refreshPolicy(ctx, policy)
}

// GetStats returns a stats snapshot for a resident session (live, or ended
// within the drain grace period).
func (m *Manager) GetStats(ctx context.Context, sessionID uuid.UUID) (Stats, error) {
	e, ok := m.get(sessionID)
	if !ok {
		return Stats{}, ErrSessionNotFound
	}
	return e.stats(ctx)
}

// LiveCount is an O(1) read of a session's current viewer count.
func (m *Manager) LiveCount(sessionID uuid.UUID) int {
	e, ok := m.get(sessionID)
	if !ok {
		return 0
	}
	return e.currentLiveCount()
}
