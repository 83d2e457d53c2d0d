package live

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classcast/backend/config"
	"github.com/classcast/backend/internal/metrics"
	"github.com/classcast/backend/internal/models"
)

// command is one unit of work posted to a session executor.
type command struct {
	fn   func()
	done chan struct{}
}

func (c command) run() {
	c.fn()
	close(c.done)
}

// Stats is a snapshot of one session's audience numbers.
type Stats struct {
	LiveCount           int   `json:"live_count"`
	TotalJoined         int   `json:"total_joined"`
	PeakViewers         int   `json:"peak_viewers"`
	TotalWatchSeconds   int64 `json:"total_watch_seconds"`
	AverageWatchSeconds int64 `json:"average_watch_seconds"`
	LastMessageID       int64 `json:"last_message_id"`
}

// JoinResult is returned to the gateway when a viewer joins: the recorded
// connection, the live count, the backfill of recent messages and the
// viewer's outbound event stream.
type JoinResult struct {
	Viewer    models.ViewerConnection
	LiveCount int
	Backfill  []models.ChatMessage
	Events    <-chan Event
}

// executorHooks are manager-level callbacks invoked on presence changes and
// session end. They run on their own goroutines so slow collaborators (e.g.
// the session log repository) never stall the executor.
type executorHooks struct {
	onJoinLog  func(sessionID, viewerID uuid.UUID)
	onLeaveLog func(sessionID, viewerID uuid.UUID, joinedAt time.Time)
	onAudience func(sessionID uuid.UUID, count int)
}

// executor owns all mutable state of one live session. A single goroutine
// (run) serializes every mutation, so the tracker, broadcaster and held map
// need no locking. Control commands (leave, heartbeat, end) are drained
// before queued mail at every loop iteration, giving them priority over
// in-flight messages at the next serialization point.
type executor struct {
	id     uuid.UUID
	hostID uuid.UUID
	cfg    config.SessionConfig

	logger  *zap.Logger
	metrics *metrics.Metrics
	hooks   executorHooks

	// owned by run()
	state        models.SessionState
	startedAt    time.Time
	policy       models.ModerationPolicy
	tracker      *tracker
	bcast        *broadcaster
	held         map[uuid.UUID]models.HeldMessage
	totalJoined  int
	peak         int
	watchSeconds int64

	ctrl chan command
	mail chan command
	done chan struct{}

	liveCount  atomic.Int64
	finalStats atomic.Pointer[Stats]
}

func newExecutor(sess models.Session, policy models.ModerationPolicy, cfg config.SessionConfig, hooks executorHooks, m *metrics.Metrics, logger *zap.Logger) *executor {
	e := &executor{
		id:        sess.ID,
		hostID:    sess.HostID,
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		hooks:     hooks,
		state:     models.SessionLive,
		startedAt: time.Now(),
		policy:    policy,
		tracker:   newTracker(sess.ID, cfg.ViewerQueueSize, cfg.MessageRate, cfg.MessageBurst),
		bcast:     newBroadcaster(sess.ID, cfg.BackfillSize, cfg.ReactionWindow),
		held:      make(map[uuid.UUID]models.HeldMessage),
		ctrl:      make(chan command, 64),
		mail:      make(chan command, 256),
		done:      make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *executor) run() {
	ticker := time.NewTicker(e.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		// drain control commands first so leave/end win over queued messages
		select {
		case cmd := <-e.ctrl:
			cmd.run()
		default:
			select {
			case cmd := <-e.ctrl:
				cmd.run()
			case cmd := <-e.mail:
				cmd.run()
			case <-ticker.C:
				e.reapIdle(time.Now())
			case <-e.done:
				return
			}
		}
		select {
		case <-e.done:
			return
		default:
		}
	}
}

// do posts fn to ch and waits for the executor to run it.
func (e *executor) do(ctx context.Context, ch chan command, fn func()) error {
	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case ch <- cmd:
	case <-e.done:
		return ErrSessionNotLive
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-cmd.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		// end() closes e.done from inside its own command; make sure a
		// command that did complete is reported as such.
		select {
		case <-cmd.done:
			return nil
		default:
			return ErrSessionNotLive
		}
	}
}

func (e *executor) join(ctx context.Context, viewerID uuid.UUID, role models.Role) (JoinResult, error) {
	var res JoinResult
	var opErr error
	err := e.do(ctx, e.mail, func() {
		if e.state != models.SessionLive {
			opErr = ErrSessionNotLive
			return
		}
		now := time.Now()
		if old, ok := e.tracker.get(viewerID); ok {
			// reconnect: the prior connection's watch time is accrued
			// before its entry is replaced
			e.watchSeconds += int64(now.Sub(old.conn.ConnectedAt).Seconds())
			if e.hooks.onLeaveLog != nil {
				go e.hooks.onLeaveLog(e.id, viewerID, old.conn.ConnectedAt)
			}
		}
		entry, replaced := e.tracker.join(viewerID, role, now)
		if !replaced {
			e.totalJoined++
		}
		count := e.tracker.count()
		e.liveCount.Store(int64(count))
		if count > e.peak {
			e.peak = count
		}

		ev := JoinedEvent{ViewerID: viewerID, Role: role, LiveCount: count}
		dropped := 0
		e.tracker.each(func(v *viewerEntry) {
			if v.deliver(ev) {
				dropped++
			}
		})
		res = JoinResult{
			Viewer:    entry.conn,
			LiveCount: count,
			Backfill:  e.bcast.backfill(),
			Events:    entry.out,
		}

		if e.metrics != nil {
			if !replaced {
				e.metrics.ViewerJoined()
			}
			e.metrics.EventsDropped(dropped)
		}
		if e.hooks.onJoinLog != nil {
			go e.hooks.onJoinLog(e.id, viewerID)
		}
		if e.hooks.onAudience != nil {
			go e.hooks.onAudience(e.id, count)
		}
		e.logger.Debug("viewer joined",
			zap.String("session_id", e.id.String()),
			zap.String("viewer_id", viewerID.String()),
			zap.Int("live_count", count))
	})
	if err != nil {
		return res, err
	}
	return res, opErr
}

func (e *executor) leave(ctx context.Context, viewerID, connID uuid.UUID, reason LeaveReason) error {
	return e.do(ctx, e.ctrl, func() {
		entry := e.tracker.leave(viewerID, connID)
		if entry == nil {
			return // idempotent: leaving while absent or superseded is a no-op
		}
		e.removeViewer(entry, reason, time.Now())
	})
}

func (e *executor) heartbeat(ctx context.Context, viewerID uuid.UUID) error {
	return e.do(ctx, e.ctrl, func() {
		e.tracker.heartbeat(viewerID, time.Now())
	})
}

// removeViewer finishes a departure after the entry has been taken out of
// the tracker: accrues watch time, announces the leave and fires hooks.
func (e *executor) removeViewer(entry *viewerEntry, reason LeaveReason, now time.Time) {
	viewerID := entry.conn.ViewerID
	e.watchSeconds += int64(now.Sub(entry.conn.ConnectedAt).Seconds())
	count := e.tracker.count()
	e.liveCount.Store(int64(count))

	ev := LeftEvent{ViewerID: viewerID, LiveCount: count, Reason: reason}
	e.tracker.each(func(v *viewerEntry) {
		v.deliver(ev)
	})

	if e.metrics != nil {
		e.metrics.ViewerLeft()
	}
	if e.hooks.onLeaveLog != nil {
		go e.hooks.onLeaveLog(e.id, viewerID, entry.conn.ConnectedAt)
	}
	if e.hooks.onAudience != nil && count > 0 {
		go e.hooks.onAudience(e.id, count)
	}
	e.logger.Debug("viewer left",
		zap.String("session_id", e.id.String()),
		zap.String("viewer_id", viewerID.String()),
		zap.String("reason", string(reason)),
		zap.Int("live_count", count))
}

// reapIdle evicts viewers whose last heartbeat is older than the liveness
// window, emitting the same leave event a real departure would.
func (e *executor) reapIdle(now time.Time) {
	evicted := e.tracker.reap(now, e.cfg.LivenessWindow)
	if len(evicted) == 0 {
		return
	}
	for _, entry := range evicted {
		e.removeViewer(entry, LeaveTimeout, now)
	}
	if e.metrics != nil {
		e.metrics.ReaperEvictions(len(evicted))
	}
	e.logger.Info("reaped idle viewers",
		zap.String("session_id", e.id.String()),
		zap.Int("evicted", len(evicted)))
}

func (e *executor) message(ctx context.Context, senderID uuid.UUID, body string) (VerdictResult, error) {
	var res VerdictResult
	var opErr error
	err := e.do(ctx, e.mail, func() {
		if e.state != models.SessionLive {
			opErr = ErrSessionNotLive
			return
		}
		entry, ok := e.tracker.get(senderID)
		if !ok {
			opErr = ErrNotConnected
			return
		}
		now := time.Now()

		if !entry.limiter.Allow() {
			res = VerdictResult{Verdict: models.VerdictRejected, Reason: models.ReasonRateLimited}
			entry.deliver(RejectedEvent{Reason: models.ReasonRateLimited})
			if e.metrics != nil {
				e.metrics.MessageRejected(string(models.ReasonRateLimited))
			}
			return
		}

		res = Evaluate(body, e.policy, SenderState{Role: entry.conn.Role, LastAcceptedAt: entry.lastAcceptedAt}, now)
		switch res.Verdict {
		case models.VerdictAccepted:
			entry.lastAcceptedAt = now
			msg, dropped := e.bcast.publish(senderID, body, now, e.tracker)
			if e.metrics != nil {
				e.metrics.MessageBroadcast()
				e.metrics.EventsDropped(dropped)
			}
			e.logger.Debug("message broadcast",
				zap.String("session_id", e.id.String()),
				zap.Int64("message_id", msg.ID))
		case models.VerdictRejected:
			entry.deliver(RejectedEvent{Reason: res.Reason})
			if e.metrics != nil {
				e.metrics.MessageRejected(string(res.Reason))
			}
		case models.VerdictHeld:
			if res.Reason == models.ReasonSlowMode {
				// temporal hold: dropped, sender informed, nothing queued
				entry.deliver(RejectedEvent{Reason: models.ReasonSlowMode})
				return
			}
			held := models.HeldMessage{
				ID:        uuid.New(),
				SessionID: e.id,
				SenderID:  senderID,
				Body:      body,
				Reason:    res.Reason,
				HeldAt:    now,
			}
			e.held[held.ID] = held
			if host, ok := e.tracker.host(); ok {
				host.deliver(HeldEvent{Held: held})
			}
			if e.metrics != nil {
				e.metrics.MessageHeld()
			}
		}
	})
	if err != nil {
		return res, err
	}
	return res, opErr
}

func (e *executor) reaction(ctx context.Context, senderID uuid.UUID, emoji string) error {
	var opErr error
	err := e.do(ctx, e.mail, func() {
		if e.state != models.SessionLive {
			opErr = ErrSessionNotLive
			return
		}
		if _, ok := e.tracker.get(senderID); !ok {
			opErr = ErrNotConnected
			return
		}
		r := models.Reaction{
			Emoji:     emoji,
			SenderID:  senderID,
			SessionID: e.id,
			Timestamp: time.Now(),
		}
		e.bcast.publishReaction(r, e.tracker)
		if e.metrics != nil {
			e.metrics.Reaction()
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// releaseHeld broadcasts a held message, assigning its ordering ID now.
// The host-only check happens in the manager before the executor is reached.
func (e *executor) releaseHeld(ctx context.Context, messageID uuid.UUID) error {
	var opErr error
	err := e.do(ctx, e.mail, func() {
		if e.state != models.SessionLive {
			opErr = ErrSessionNotLive
			return
		}
		held, ok := e.held[messageID]
		if !ok {
			opErr = ErrHeldMessageNotFound
			return
		}
		delete(e.held, messageID)
		_, dropped := e.bcast.publish(held.SenderID, held.Body, time.Now(), e.tracker)
		if e.metrics != nil {
			e.metrics.MessageBroadcast()
			e.metrics.EventsDropped(dropped)
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

func (e *executor) refreshPolicy(ctx context.Context, policy models.ModerationPolicy) error {
	return e.do(ctx, e.mail, func() {
		e.policy = policy
	})
}

func (e *executor) end(ctx context.Context, callerID uuid.UUID) (Stats, error) {
	var stats Stats
	var opErr error
	err := e.do(ctx, e.ctrl, func() {
		if e.state != models.SessionLive {
			opErr = ErrInvalidTransition
			return
		}
		if callerID != e.hostID {
			opErr = ErrInvalidTransition
			return
		}
		e.state = models.SessionEnded
		now := time.Now()

		ended := SessionEndedEvent{SessionID: e.id}
		e.tracker.each(func(v *viewerEntry) {
			v.deliver(ended)
		})
		for _, entry := range e.tracker.drain() {
			e.watchSeconds += int64(now.Sub(entry.conn.ConnectedAt).Seconds())
			if e.metrics != nil {
				e.metrics.ViewerLeft()
			}
			if e.hooks.onLeaveLog != nil {
				go e.hooks.onLeaveLog(e.id, entry.conn.ViewerID, entry.conn.ConnectedAt)
			}
		}
		e.liveCount.Store(0)
		e.bcast.freeze()

		stats = e.snapshot(now)
		e.finalStats.Store(&stats)
		close(e.done)
		e.logger.Info("session ended",
			zap.String("session_id", e.id.String()),
			zap.Int("total_joined", stats.TotalJoined),
			zap.Int("peak_viewers", stats.PeakViewers))
	})
	if err != nil {
		return stats, err
	}
	return stats, opErr
}

// snapshot computes current stats. Must run on the executor goroutine.
func (e *executor) snapshot(now time.Time) Stats {
	watch := e.watchSeconds
	e.tracker.each(func(v *viewerEntry) {
		watch += int64(now.Sub(v.conn.ConnectedAt).Seconds())
	})
	var avg int64
	if e.totalJoined > 0 {
		avg = watch / int64(e.totalJoined)
	}
	return Stats{
		LiveCount:           e.tracker.count(),
		TotalJoined:         e.totalJoined,
		PeakViewers:         e.peak,
		TotalWatchSeconds:   watch,
		AverageWatchSeconds: avg,
		LastMessageID:       e.bcast.lastID(),
	}
}

// stats returns a snapshot. After end the frozen final snapshot is served
// without entering the mailbox, which keeps stats readable during the
// drain grace period.
func (e *executor) stats(ctx context.Context) (Stats, error) {
	if p := e.finalStats.Load(); p != nil {
		return *p, nil
	}
	var stats Stats
	err := e.do(ctx, e.mail, func() {
		stats = e.snapshot(time.Now())
	})
	if err != nil {
		if p := e.finalStats.Load(); p != nil {
			return *p, nil
		}
		return stats, err
	}
	return stats, nil
}

// currentLiveCount is an O(1) read maintained incrementally by the executor.
func (e *executor) currentLiveCount() int {
	return int(e.liveCount.Load())
}
