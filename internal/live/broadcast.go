package live

import (
	"time"

	"github.com/google/uuid"

	"github.com/classcast/backend/internal/models"
)

// broadcaster owns per-session message ordering and fan-out. It is owned
// by the session's executor goroutine, which serializes all calls.
type broadcaster struct {
	sessionID uuid.UUID
	nextID    int64

	// recent-message ring for late-joiner backfill. Fixed capacity;
	// oldest entries are dropped silently (lossy by design).
	ring []models.ChatMessage
	head int
	size int

	// reaction timestamps per emoji inside the display aggregation window.
	reactionWindow time.Duration
	reactions      map[string][]time.Time

	frozen bool
}

func newBroadcaster(sessionID uuid.UUID, backfillSize int, reactionWindow time.Duration) *broadcaster {
	if backfillSize <= 0 {
		backfillSize = 200
	}
	if reactionWindow <= 0 {
		reactionWindow = 5 * time.Second
	}
	return &broadcaster{
		sessionID:      sessionID,
		ring:           make([]models.ChatMessage, backfillSize),
		reactionWindow: reactionWindow,
		reactions:      make(map[string][]time.Time),
	}
}

// publish admits one accepted message: assigns the next ordering ID,
// records it in the backfill ring and fans it out to every currently
// connected viewer. Fan-out is at-most-once per viewer; a saturated viewer
// queue drops that viewer's oldest pending event only. Returns the
// admitted message and the number of viewers that had an event dropped.
// After freeze no ordering IDs are assigned and publish returns a zero
// message.
func (b *broadcaster) publish(senderID uuid.UUID, body string, now time.Time, t *tracker) (models.ChatMessage, int) {
	if b.frozen {
		return models.ChatMessage{}, 0
	}
	b.nextID++
	msg := models.ChatMessage{
		ID:        b.nextID,
		SessionID: b.sessionID,
		SenderID:  senderID,
		Body:      body,
		CreatedAt: now,
	}

	b.ring[b.head] = msg
	b.head = (b.head + 1) % len(b.ring)
	if b.size < len(b.ring) {
		b.size++
	}

	dropped := 0
	ev := MessageEvent{Message: msg}
	t.each(func(v *viewerEntry) {
		if v.deliver(ev) {
			dropped++
		}
	})
	return msg, dropped
}

// publishReaction fans out a reaction on the lightweight path: no ordering
// ID, no backfill. The event carries the count of same-emoji reactions
// inside the aggregation window.
func (b *broadcaster) publishReaction(r models.Reaction, t *tracker) int {
	cutoff := r.Timestamp.Add(-b.reactionWindow)
	recent := b.reactions[r.Emoji][:0]
	for _, ts := range b.reactions[r.Emoji] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	recent = append(recent, r.Timestamp)
	b.reactions[r.Emoji] = recent

	ev := ReactionEvent{Emoji: r.Emoji, SenderID: r.SenderID, RecentCount: len(recent)}
	t.each(func(v *viewerEntry) {
		v.deliver(ev)
	})
	return len(recent)
}

// backfill returns the ring contents in admission order, oldest first.
func (b *broadcaster) backfill() []models.ChatMessage {
	out := make([]models.ChatMessage, 0, b.size)
	start := b.head - b.size
	if start < 0 {
		start += len(b.ring)
	}
	for i := 0; i < b.size; i++ {
		out = append(out, b.ring[(start+i)%len(b.ring)])
	}
	return out
}

// freeze stops ordering ID assignment when the session ends. The executor
// also rejects message operations once the session leaves the live state,
// so a frozen publish is unreachable through the manager.
func (b *broadcaster) freeze() {
	b.frozen = true
}

// lastID is the highest ordering ID assigned so far.
func (b *broadcaster) lastID() int64 {
	return b.nextID
}
