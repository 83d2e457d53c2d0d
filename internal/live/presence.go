package live

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/classcast/backend/internal/models"
)

// viewerEntry is one connected viewer's state inside a session executor.
// The out channel is the viewer's outbound event queue, drained by the
// connection gateway.
type viewerEntry struct {
	conn           models.ViewerConnection
	out            chan Event
	limiter        *rate.Limiter
	lastAcceptedAt time.Time // slow-mode state, per viewer per session
}

// deliver enqueues ev without blocking. When the queue is saturated the
// oldest pending event for this viewer is dropped, so a slow consumer never
// blocks delivery to other viewers. Reports whether an event was dropped.
func (v *viewerEntry) deliver(ev Event) (dropped bool) {
	select {
	case v.out <- ev:
		return false
	default:
	}
	select {
	case <-v.out:
		dropped = true
	default:
	}
	select {
	case v.out <- ev:
	default:
		dropped = true
	}
	return dropped
}

// tracker maintains the set of connected viewers for one session. It is
// owned by the session's executor goroutine and is not safe for concurrent
// use on its own.
type tracker struct {
	sessionID uuid.UUID
	entries   map[uuid.UUID]*viewerEntry
	queueSize int
	msgRate   rate.Limit
	msgBurst  int
}

func newTracker(sessionID uuid.UUID, queueSize int, msgRate float64, msgBurst int) *tracker {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &tracker{
		sessionID: sessionID,
		entries:   make(map[uuid.UUID]*viewerEntry),
		queueSize: queueSize,
		msgRate:   rate.Limit(msgRate),
		msgBurst:  msgBurst,
	}
}

// join inserts a connection for viewerID, replacing any prior entry
// (reconnect semantics: the old connection's queue is closed and its
// liveness timer discarded). Returns the new entry.
func (t *tracker) join(viewerID uuid.UUID, role models.Role, now time.Time) (*viewerEntry, bool) {
	replaced := false
	if old, ok := t.entries[viewerID]; ok {
		close(old.out)
		delete(t.entries, viewerID)
		replaced = true
	}
	entry := &viewerEntry{
		conn: models.ViewerConnection{
			ConnID:      uuid.New(),
			ViewerID:    viewerID,
			SessionID:   t.sessionID,
			Role:        role,
			ConnectedAt: now,
			LastSeenAt:  now,
		},
		out:     make(chan Event, t.queueSize),
		limiter: rate.NewLimiter(t.msgRate, t.msgBurst),
	}
	t.entries[viewerID] = entry
	return entry, replaced
}

// heartbeat refreshes the viewer's liveness timestamp. No-op if absent.
func (t *tracker) heartbeat(viewerID uuid.UUID, now time.Time) bool {
	entry, ok := t.entries[viewerID]
	if !ok {
		return false
	}
	entry.conn.LastSeenAt = now
	return true
}

// leave removes the viewer and closes its outbound queue. Returns nil if
// absent, or when connID names a connection that has since been replaced
// by a reconnect: the teardown of a superseded connection must not evict
// the fresh one.
func (t *tracker) leave(viewerID, connID uuid.UUID) *viewerEntry {
	entry, ok := t.entries[viewerID]
	if !ok {
		return nil
	}
	if connID != uuid.Nil && entry.conn.ConnID != connID {
		return nil
	}
	delete(t.entries, viewerID)
	close(entry.out)
	return entry
}

// reap removes every entry whose LastSeenAt is older than window and closes
// its queue. Removal from the map guarantees an entry is evicted at most once.
func (t *tracker) reap(now time.Time, window time.Duration) []*viewerEntry {
	var evicted []*viewerEntry
	for id, entry := range t.entries {
		if now.Sub(entry.conn.LastSeenAt) > window {
			delete(t.entries, id)
			close(entry.out)
			evicted = append(evicted, entry)
		}
	}
	return evicted
}

// count is the current live viewer count.
func (t *tracker) count() int {
	return len(t.entries)
}

func (t *tracker) get(viewerID uuid.UUID) (*viewerEntry, bool) {
	entry, ok := t.entries[viewerID]
	return entry, ok
}

// each calls fn for every connected viewer.
func (t *tracker) each(fn func(*viewerEntry)) {
	for _, entry := range t.entries {
		fn(entry)
	}
}

// host returns the connected host entry, if any.
func (t *tracker) host() (*viewerEntry, bool) {
	for _, entry := range t.entries {
		if entry.conn.Role == models.RoleHost {
			return entry, true
		}
	}
	return nil, false
}

// drain removes and returns all entries, closing their queues. Used when a
// session ends.
func (t *tracker) drain() []*viewerEntry {
	all := make([]*viewerEntry, 0, len(t.entries))
	for id, entry := range t.entries {
		delete(t.entries, id)
		close(entry.out)
		all = append(all, entry)
	}
	return all
}
