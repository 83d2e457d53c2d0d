package live

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/classcast/backend/config"
	"github.com/classcast/backend/internal/models"
)

type fakePolicySource struct {
	policy models.ModerationPolicy
	err    error
}

func (f *fakePolicySource) Load(ctx context.Context, sessionID uuid.UUID) (models.ModerationPolicy, error) {
	return f.policy, f.err
}

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		LivenessWindow:  time.Minute,
		ReapInterval:    time.Hour,
		BackfillSize:    16,
		ViewerQueueSize: 16,
		EndGracePeriod:  time.Minute,
		MessageRate:     100,
		MessageBurst:    100,
		ReactionWindow:  5 * time.Second,
	}
}

func newTestManager(t *testing.T, policy models.ModerationPolicy) (*Manager, models.Session) {
	t.Helper()
	return newTestManagerWithConfig(t, policy, testSessionConfig())
}

func newTestManagerWithConfig(t *testing.T, policy models.ModerationPolicy, cfg config.SessionConfig) (*Manager, models.Session) {
	t.Helper()
	m := NewManager(cfg, &fakePolicySource{policy: policy}, nil, nil)
	sess := models.Session{
		ID:     uuid.New(),
		HostID: uuid.New(),
		State:  models.SessionScheduled,
	}
	if err := m.Start(context.Background(), sess, sess.HostID); err != nil {
		t.Fatalf("start session: %v", err)
	}
	return m, sess
}

// nextEvent receives one event, failing the test on timeout.
func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestStartRejectsInvalidTransitions(t *testing.T) {
	m := NewManager(testSessionConfig(), &fakePolicySource{}, nil, nil)
	host := uuid.New()

	live := models.Session{ID: uuid.New(), HostID: host, State: models.SessionLive}
	if err := m.Start(context.Background(), live, host); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for live session, got %v", err)
	}

	ended := models.Session{ID: uuid.New(), HostID: host, State: models.SessionEnded}
	if err := m.Start(context.Background(), ended, host); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for ended session, got %v", err)
	}

	scheduled := models.Session{ID: uuid.New(), HostID: host, State: models.SessionScheduled}
	if err := m.Start(context.Background(), scheduled, uuid.New()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for non-host caller, got %v", err)
	}

	if err := m.Start(context.Background(), scheduled, host); err != nil {
		t.Fatalf("host start failed: %v", err)
	}
	if err := m.Start(context.Background(), scheduled, host); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for double start, got %v", err)
	}
}

func TestStartUsesDefaultsWhenPolicyLoadFails(t *testing.T) {
	m := NewManager(testSessionConfig(), &fakePolicySource{err: errors.New("redis down")}, nil, nil)
	sess := models.Session{ID: uuid.New(), HostID: uuid.New(), State: models.SessionScheduled}
	if err := m.Start(context.Background(), sess, sess.HostID); err != nil {
		t.Fatalf("start must fall back to default policy, got %v", err)
	}
}

func TestJoinLeaveLiveCount(t *testing.T) {
	m, sess := newTestManager(t, models.ModerationPolicy{})
	ctx := context.Background()

	viewers := make([]uuid.UUID, 5)
	conns := make([]uuid.UUID, 5)
	for i := range viewers {
		viewers[i] = uuid.New()
		res, err := m.HandleJoin(ctx, sess.ID, viewers[i], models.RoleViewer)
		if err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
		if res.LiveCount != i+1 {
			t.Fatalf("join %d: expected live count %d, got %d", i, i+1, res.LiveCount)
		}
		conns[i] = res.Viewer.ConnID
	}

	for i := 0; i < 2; i++ {
		if err := m.HandleLeave(ctx, sess.ID, viewers[i], conns[i]); err != nil {
			t.Fatalf("leave %d: %v", i, err)
		}
	}
	if got := m.LiveCount(sess.ID); got != 3 {
		t.Fatalf("expected live count 3 after 5 joins and 2 leaves, got %d", got)
	}

	// leaving twice, or leaving someone never joined, is a no-op
	if err := m.HandleLeave(ctx, sess.ID, viewers[0], conns[0]); err != nil {
		t.Fatalf("repeated leave: %v", err)
	}
	if err := m.HandleLeave(ctx, sess.ID, uuid.New(), uuid.New()); err != nil {
		t.Fatalf("leave of unknown viewer: %v", err)
	}
	if got := m.LiveCount(sess.ID); got != 3 {
		t.Fatalf("no-op leaves changed count to %d", got)
	}

	stats, err := m.GetStats(ctx, sess.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalJoined != 5 || stats.PeakViewers != 5 || stats.LiveCount != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestReconnectDoesNotInflateCount(t *testing.T) {
	m, sess := newTestManager(t, models.ModerationPolicy{})
	ctx := context.Background()
	viewerID := uuid.New()

	first, err := m.HandleJoin(ctx, sess.ID, viewerID, models.RoleViewer)
	if err != nil {
		t.Fatalf("first join: %v", err)
	}
	second, err := m.HandleJoin(ctx, sess.ID, viewerID, models.RoleViewer)
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if second.LiveCount != 1 {
		t.Fatalf("reconnect inflated live count to %d", second.LiveCount)
	}

	stats, err := m.GetStats(ctx, sess.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalJoined != 1 {
		t.Fatalf("reconnect counted as new join: total_joined=%d", stats.TotalJoined)
	}

	// the replaced connection's stream is closed
	for range first.Events {
	}
	// the new stream is the live one
	if second.Events == first.Events {
		t.Fatal("reconnect reused the old event stream")
	}

	// the old connection's teardown arrives after the reconnect; it must
	// not evict the fresh connection
	if err := m.HandleLeave(ctx, sess.ID, viewerID, first.Viewer.ConnID); err != nil {
		t.Fatalf("stale leave: %v", err)
	}
	if got := m.LiveCount(sess.ID); got != 1 {
		t.Fatalf("stale leave evicted the fresh connection, count=%d", got)
	}
	if _, err := m.HandleMessage(ctx, sess.ID, viewerID, "still here"); err != nil {
		t.Fatalf("fresh connection cannot send after stale leave: %v", err)
	}

	// the fresh connection's own ID still disconnects
	if err := m.HandleLeave(ctx, sess.ID, viewerID, second.Viewer.ConnID); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if got := m.LiveCount(sess.ID); got != 0 {
		t.Fatalf("expected count 0 after leave, got %d", got)
	}
}

func TestMessagesBroadcastInTotalOrder(t *testing.T) {
	m, sess := newTestManager(t, models.ModerationPolicy{})
	ctx := context.Background()

	sender := uuid.New()
	if _, err := m.HandleJoin(ctx, sess.ID, sender, models.RoleViewer); err != nil {
		t.Fatalf("join sender: %v", err)
	}
	watcher, err := m.HandleJoin(ctx, sess.ID, uuid.New(), models.RoleViewer)
	if err != nil {
		t.Fatalf("join watcher: %v", err)
	}

	bodies := []string{"one", "two", "three"}
	for _, body := range bodies {
		res, err := m.HandleMessage(ctx, sess.ID, sender, body)
		if err != nil {
			t.Fatalf("message %q: %v", body, err)
		}
		if res.Verdict != models.VerdictAccepted {
			t.Fatalf("message %q: verdict %s/%s", body, res.Verdict, res.Reason)
		}
	}

	var lastID int64
	seen := 0
	for seen < len(bodies) {
		ev := nextEvent(t, watcher.Events)
		me, ok := ev.(MessageEvent)
		if !ok {
			continue // presence events interleave with chat
		}
		if me.Message.ID <= lastID {
			t.Fatalf("ordering violated: %d after %d", me.Message.ID, lastID)
		}
		if me.Message.Body != bodies[seen] {
			t.Fatalf("expected body %q, got %q", bodies[seen], me.Message.Body)
		}
		lastID = me.Message.ID
		seen++
	}

	// a late joiner receives the same messages, same order, via backfill
	late, err := m.HandleJoin(ctx, sess.ID, uuid.New(), models.RoleViewer)
	if err != nil {
		t.Fatalf("late join: %v", err)
	}
	if len(late.Backfill) != len(bodies) {
		t.Fatalf("expected backfill of %d, got %d", len(bodies), len(late.Backfill))
	}
	for i, msg := range late.Backfill {
		if msg.Body != bodies[i] {
			t.Fatalf("backfill[%d]: expected %q, got %q", i, bodies[i], msg.Body)
		}
	}
}

func TestRejectedMessageHasNoFanout(t *testing.T) {
	m, sess := newTestManager(t, models.ModerationPolicy{BannedTerms: []string{"forbidden"}})
	ctx := context.Background()

	sender := uuid.New()
	senderRes, err := m.HandleJoin(ctx, sess.ID, sender, models.RoleViewer)
	if err != nil {
		t.Fatalf("join sender: %v", err)
	}
	watcher, err := m.HandleJoin(ctx, sess.ID, uuid.New(), models.RoleViewer)
	if err != nil {
		t.Fatalf("join watcher: %v", err)
	}
	// consume the watcher's own join announcement backlog
	drainPresence(watcher.Events)

	res, err := m.HandleMessage(ctx, sess.ID, sender, "this is forbidden content")
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	if res.Verdict != models.VerdictRejected || res.Reason != models.ReasonBannedTerm {
		t.Fatalf("expected rejected/banned_term, got %s/%s", res.Verdict, res.Reason)
	}

	// sender is notified; the watcher sees nothing
	var rejected bool
	for _, ev := range drainPresence(senderRes.Events) {
		if re, ok := ev.(RejectedEvent); ok {
			if re.Reason != models.ReasonBannedTerm {
				t.Fatalf("wrong rejection reason: %s", re.Reason)
			}
			rejected = true
		}
	}
	if !rejected {
		t.Fatal("sender did not receive message_rejected")
	}
	for _, ev := range drainPresence(watcher.Events) {
		if _, ok := ev.(MessageEvent); ok {
			t.Fatal("rejected message was broadcast")
		}
		if _, ok := ev.(RejectedEvent); ok {
			t.Fatal("rejection leaked to a non-sender")
		}
	}

	stats, _ := m.GetStats(ctx, sess.ID)
	if stats.LastMessageID != 0 {
		t.Fatalf("rejected message consumed an ordering ID: %d", stats.LastMessageID)
	}
}

// drainPresence drains everything currently buffered on ch without blocking.
func drainPresence(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestSlowModeHoldsSecondMessage(t *testing.T) {
	m, sess := newTestManager(t, models.ModerationPolicy{SlowModeSeconds: 30})
	ctx := context.Background()
	sender := uuid.New()
	if _, err := m.HandleJoin(ctx, sess.ID, sender, models.RoleViewer); err != nil {
		t.Fatalf("join: %v", err)
	}

	res, err := m.HandleMessage(ctx, sess.ID, sender, "first")
	if err != nil || res.Verdict != models.VerdictAccepted {
		t.Fatalf("first message: %v %s/%s", err, res.Verdict, res.Reason)
	}
	res, err = m.HandleMessage(ctx, sess.ID, sender, "second")
	if err != nil {
		t.Fatalf("second message: %v", err)
	}
	if res.Verdict != models.VerdictHeld || res.Reason != models.ReasonSlowMode {
		t.Fatalf("expected held/slow_mode, got %s/%s", res.Verdict, res.Reason)
	}

	// slow-mode holds are dropped, never queued for review
	stats, _ := m.GetStats(ctx, sess.ID)
	if stats.LastMessageID != 1 {
		t.Fatalf("expected last message ID 1, got %d", stats.LastMessageID)
	}
}

func TestRateLimitRejectsBurst(t *testing.T) {
	cfg := testSessionConfig()
	cfg.MessageRate = 1
	cfg.MessageBurst = 1
	m, sess := newTestManagerWithConfig(t, models.ModerationPolicy{}, cfg)
	ctx := context.Background()
	sender := uuid.New()
	if _, err := m.HandleJoin(ctx, sess.ID, sender, models.RoleViewer); err != nil {
		t.Fatalf("join: %v", err)
	}

	res, err := m.HandleMessage(ctx, sess.ID, sender, "first")
	if err != nil || res.Verdict != models.VerdictAccepted {
		t.Fatalf("first message: %v %s/%s", err, res.Verdict, res.Reason)
	}
	res, err = m.HandleMessage(ctx, sess.ID, sender, "second")
	if err != nil {
		t.Fatalf("second message: %v", err)
	}
	if res.Verdict != models.VerdictRejected || res.Reason != models.ReasonRateLimited {
		t.Fatalf("expected rejected/rate_limited, got %s/%s", res.Verdict, res.Reason)
	}
}

func TestHeldMessageReleaseByHost(t *testing.T) {
	m, sess := newTestManager(t, models.ModerationPolicy{
		BannedTerms:   []string{"review me"},
		HoldForReview: true,
	})
	ctx := context.Background()

	hostRes, err := m.HandleJoin(ctx, sess.ID, sess.HostID, models.RoleHost)
	if err != nil {
		t.Fatalf("join host: %v", err)
	}
	sender := uuid.New()
	if _, err := m.HandleJoin(ctx, sess.ID, sender, models.RoleViewer); err != nil {
		t.Fatalf("join sender: %v", err)
	}
	watcher, err := m.HandleJoin(ctx, sess.ID, uuid.New(), models.RoleViewer)
	if err != nil {
		t.Fatalf("join watcher: %v", err)
	}
	drainPresence(watcher.Events)

	res, err := m.HandleMessage(ctx, sess.ID, sender, "please review me")
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	if res.Verdict != models.VerdictHeld || res.Reason != models.ReasonBannedTerm {
		t.Fatalf("expected held/banned_term, got %s/%s", res.Verdict, res.Reason)
	}

	// only the host is notified of the held message
	var held models.HeldMessage
	for {
		ev := nextEvent(t, hostRes.Events)
		if he, ok := ev.(HeldEvent); ok {
			held = he.Held
			break
		}
	}
	for _, ev := range drainPresence(watcher.Events) {
		if _, ok := ev.(HeldEvent); ok {
			t.Fatal("held message leaked to a viewer")
		}
		if _, ok := ev.(MessageEvent); ok {
			t.Fatal("held message broadcast before release")
		}
	}

	// a non-host cannot release
	err = m.ReleaseHeldMessage(ctx, sess.ID, held.ID, sender)
	if !errors.Is(err, ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}

	// the host releases; the message is broadcast with an ordering ID
	if err := m.ReleaseHeldMessage(ctx, sess.ID, held.ID, sess.HostID); err != nil {
		t.Fatalf("release: %v", err)
	}
	for {
		ev := nextEvent(t, watcher.Events)
		if me, ok := ev.(MessageEvent); ok {
			if me.Message.ID != 1 || me.Message.Body != "please review me" {
				t.Fatalf("released message wrong: %+v", me.Message)
			}
			break
		}
	}

	// releasing twice fails: the held entry is consumed
	err = m.ReleaseHeldMessage(ctx, sess.ID, held.ID, sess.HostID)
	if !errors.Is(err, ErrHeldMessageNotFound) {
		t.Fatalf("expected ErrHeldMessageNotFound, got %v", err)
	}
}

func TestReactions(t *testing.T) {
	m, sess := newTestManager(t, models.ModerationPolicy{})
	ctx := context.Background()
	sender := uuid.New()
	if _, err := m.HandleJoin(ctx, sess.ID, sender, models.RoleViewer); err != nil {
		t.Fatalf("join: %v", err)
	}
	watcher, err := m.HandleJoin(ctx, sess.ID, uuid.New(), models.RoleViewer)
	if err != nil {
		t.Fatalf("join watcher: %v", err)
	}

	if err := m.HandleReaction(ctx, sess.ID, sender, "🚀"); !errors.Is(err, ErrInvalidReaction) {
		t.Fatalf("expected ErrInvalidReaction, got %v", err)
	}
	if err := m.HandleReaction(ctx, sess.ID, uuid.New(), "👍"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := m.HandleReaction(ctx, sess.ID, sender, "👍"); err != nil {
		t.Fatalf("reaction: %v", err)
	}

	for {
		ev := nextEvent(t, watcher.Events)
		if re, ok := ev.(ReactionEvent); ok {
			if re.Emoji != "👍" || re.RecentCount != 1 || re.SenderID != sender {
				t.Fatalf("unexpected reaction event: %+v", re)
			}
			break
		}
	}
}

func TestMessageFromUnconnectedSender(t *testing.T) {
	m, sess := newTestManager(t, models.ModerationPolicy{})
	_, err := m.HandleMessage(context.Background(), sess.ID, uuid.New(), "hello")
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestOperationsOnUnknownSession(t *testing.T) {
	m := NewManager(testSessionConfig(), &fakePolicySource{}, nil, nil)
	ctx := context.Background()
	id := uuid.New()

	if _, err := m.HandleJoin(ctx, id, uuid.New(), models.RoleViewer); !errors.Is(err, ErrSessionNotLive) {
		t.Fatalf("join: expected ErrSessionNotLive, got %v", err)
	}
	if _, err := m.HandleMessage(ctx, id, uuid.New(), "x"); !errors.Is(err, ErrSessionNotLive) {
		t.Fatalf("message: expected ErrSessionNotLive, got %v", err)
	}
	if err := m.HandleHeartbeat(ctx, id, uuid.New()); !errors.Is(err, ErrSessionNotLive) {
		t.Fatalf("heartbeat: expected ErrSessionNotLive, got %v", err)
	}
	if _, err := m.GetStats(ctx, id); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("stats: expected ErrSessionNotFound, got %v", err)
	}
	if _, err := m.End(ctx, id, uuid.New()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("end: expected ErrInvalidTransition, got %v", err)
	}
	if m.LiveCount(id) != 0 {
		t.Fatal("unknown session has nonzero live count")
	}
}

func TestEndDisconnectsAndFreezes(t *testing.T) {
	m, sess := newTestManager(t, models.ModerationPolicy{})
	ctx := context.Background()

	viewer, err := m.HandleJoin(ctx, sess.ID, uuid.New(), models.RoleViewer)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	sender := uuid.New()
	if _, err := m.HandleJoin(ctx, sess.ID, sender, models.RoleViewer); err != nil {
		t.Fatalf("join sender: %v", err)
	}
	if _, err := m.HandleMessage(ctx, sess.ID, sender, "before end"); err != nil {
		t.Fatalf("message: %v", err)
	}

	// only the host may end
	if _, err := m.End(ctx, sess.ID, sender); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for non-host end, got %v", err)
	}

	stats, err := m.End(ctx, sess.ID, sess.HostID)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if stats.LiveCount != 0 || stats.TotalJoined != 2 || stats.LastMessageID != 1 {
		t.Fatalf("unexpected end stats: %+v", stats)
	}

	// every viewer got the terminal event before its stream closed
	var sawEnded bool
	for ev := range viewer.Events {
		if _, ok := ev.(SessionEndedEvent); ok {
			sawEnded = true
		}
	}
	if !sawEnded {
		t.Fatal("viewer did not receive session_ended")
	}

	// post-end operations are refused
	if _, err := m.HandleJoin(ctx, sess.ID, uuid.New(), models.RoleViewer); !errors.Is(err, ErrSessionNotLive) {
		t.Fatalf("join after end: expected ErrSessionNotLive, got %v", err)
	}
	if _, err := m.HandleMessage(ctx, sess.ID, sender, "late"); !errors.Is(err, ErrSessionNotLive) {
		t.Fatalf("message after end: expected ErrSessionNotLive, got %v", err)
	}
	if _, err := m.End(ctx, sess.ID, sess.HostID); !errors.Is(err, ErrSessionNotLive) && !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("double end: expected refusal, got %v", err)
	}

	// final stats stay readable during the drain grace period
	final, err := m.GetStats(ctx, sess.ID)
	if err != nil {
		t.Fatalf("stats after end: %v", err)
	}
	if final != stats {
		t.Fatalf("final stats drifted: %+v vs %+v", final, stats)
	}
	if m.LiveCount(sess.ID) != 0 {
		t.Fatal("live count nonzero after end")
	}
}

func TestEndGracePeriodExpiry(t *testing.T) {
	cfg := testSessionConfig()
	cfg.EndGracePeriod = 50 * time.Millisecond
	m, sess := newTestManagerWithConfig(t, models.ModerationPolicy{}, cfg)
	ctx := context.Background()

	if _, err := m.End(ctx, sess.ID, sess.HostID); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := m.GetStats(ctx, sess.ID); err != nil {
		t.Fatalf("stats inside grace period: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := m.GetStats(ctx, sess.ID); errors.Is(err, ErrSessionNotFound) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session state not released after grace period")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestReaperEvictsIdleViewers(t *testing.T) {
	cfg := testSessionConfig()
	cfg.LivenessWindow = 150 * time.Millisecond
	cfg.ReapInterval = 25 * time.Millisecond
	m, sess := newTestManagerWithConfig(t, models.ModerationPolicy{}, cfg)
	ctx := context.Background()

	alive := uuid.New()
	idle := uuid.New()
	aliveRes, err := m.HandleJoin(ctx, sess.ID, alive, models.RoleViewer)
	if err != nil {
		t.Fatalf("join alive: %v", err)
	}
	if _, err := m.HandleJoin(ctx, sess.ID, idle, models.RoleViewer); err != nil {
		t.Fatalf("join idle: %v", err)
	}

	// keep one viewer fresh while the other goes silent
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(30 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = m.HandleHeartbeat(ctx, sess.ID, alive)
			case <-stop:
				return
			}
		}
	}()
	defer close(stop)

	deadline := time.Now().Add(3 * time.Second)
	for m.LiveCount(sess.ID) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("reaper did not evict idle viewer, count=%d", m.LiveCount(sess.ID))
		}
		time.Sleep(10 * time.Millisecond)
	}

	// the survivor was told who left and why
	for {
		ev := nextEvent(t, aliveRes.Events)
		if le, ok := ev.(LeftEvent); ok {
			if le.ViewerID != idle || le.Reason != LeaveTimeout {
				t.Fatalf("unexpected left event: %+v", le)
			}
			break
		}
	}
}

func TestRefreshPolicyTakesEffect(t *testing.T) {
	source := &fakePolicySource{}
	m := NewManager(testSessionConfig(), source, nil, nil)
	sess := models.Session{ID: uuid.New(), HostID: uuid.New(), State: models.SessionScheduled}
	if err := m.Start(context.Background(), sess, sess.HostID); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx := context.Background()
	sender := uuid.New()
	if _, err := m.HandleJoin(ctx, sess.ID, sender, models.RoleViewer); err != nil {
		t.Fatalf("join: %v", err)
	}

	res, _ := m.HandleMessage(ctx, sess.ID, sender, "contains newword")
	if res.Verdict != models.VerdictAccepted {
		t.Fatalf("expected accepted before refresh, got %s/%s", res.Verdict, res.Reason)
	}

	source.policy = models.ModerationPolicy{BannedTerms: []string{"newword"}}
	if err := m.RefreshPolicy(ctx, sess.ID); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	res, _ = m.HandleMessage(ctx, sess.ID, sender, "contains newword")
	if res.Verdict != models.VerdictRejected || res.Reason != models.ReasonBannedTerm {
		t.Fatalf("expected rejected/banned_term after refresh, got %s/%s", res.Verdict, res.Reason)
	}
}
