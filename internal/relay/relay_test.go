package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"skillytics/internal/websocket"
	"skillytics/pkg/types"
)

// stubConn records deliveries, standing in for a WebSocket connection.
type stubConn struct {
	id     string
	mu     sync.Mutex
	userID string
	writes []*types.Envelope
	closed bool
}

func newStubConn(id string) *stubConn {
	return &stubConn{id: id}
}

func (c *stubConn) ID() string { return c.id }

func (c *stubConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("stub connection %s closed", c.id)
	}
	env, ok := v.(*types.Envelope)
	if !ok {
		return fmt.Errorf("unexpected write type %T", v)
	}
	c.writes = append(c.writes, env)
	return nil
}

func (c *stubConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *stubConn) SetUser(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
}

func (c *stubConn) GetUserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *stubConn) IsIdentified() bool {
	return c.GetUserID() != ""
}

// received returns the envelopes delivered for one event name.
func (c *stubConn) received(event string) []*types.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var matched []*types.Envelope
	for _, env := range c.writes {
		if env.Event == event {
			matched = append(matched, env)
		}
	}
	return matched
}

func (c *stubConn) lastReceived(event string) (*types.Envelope, bool) {
	matched := c.received(event)
	if len(matched) == 0 {
		return nil, false
	}
	return matched[len(matched)-1], true
}

func newTestRelay(t *testing.T) (*Relay, *websocket.Registry) {
	t.Helper()

	registry := websocket.NewRegistry()
	relay := NewRelay(registry, NewMentor(10*time.Millisecond), 10)

	if err := relay.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start relay: %v", err)
	}
	t.Cleanup(func() { _ = relay.Stop() })

	return relay, registry
}

func connect(t *testing.T, relay *Relay, registry *websocket.Registry, id string) *stubConn {
	t.Helper()

	conn := newStubConn(id)
	if err := registry.Add(conn); err != nil {
		t.Fatalf("Failed to register %s: %v", id, err)
	}
	return conn
}

func dispatch(t *testing.T, relay *Relay, conn *stubConn, event string, payload interface{}) {
	t.Helper()

	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("Failed to marshal payload: %v", err)
		}
		data = raw
	}

	if err := relay.Dispatch(conn, &types.Event{Event: event, Data: data}); err != nil {
		t.Fatalf("Dispatch %s failed: %v", event, err)
	}
}

func join(t *testing.T, relay *Relay, conn *stubConn, userID, name string, xp int) {
	t.Helper()

	dispatch(t, relay, conn, types.EventUserJoin, types.JoinPayload{
		UserID: userID, Name: name, Level: 1, XP: xp,
	})
	waitFor(t, func() bool { return conn.GetUserID() == userID },
		fmt.Sprintf("join for %s never processed", userID))
}

func snapshot(t *testing.T, relay *Relay) *Snapshot {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	snap, err := relay.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	return snap
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestRelay_StartStop(t *testing.T) {
	registry := websocket.NewRegistry()
	relay := NewRelay(registry, NewMentor(time.Millisecond), 10)

	if err := relay.Start(context.Background()); err != nil {
		t.Errorf("Expected no error starting relay, got %v", err)
	}
	if err := relay.Start(context.Background()); err != ErrRelayAlreadyRunning {
		t.Errorf("Expected ErrRelayAlreadyRunning, got %v", err)
	}
	if err := relay.Stop(); err != nil {
		t.Errorf("Expected no error stopping relay, got %v", err)
	}
	if err := relay.Stop(); err != ErrRelayNotRunning {
		t.Errorf("Expected ErrRelayNotRunning, got %v", err)
	}
}

func TestRelay_DispatchValidation(t *testing.T) {
	registry := websocket.NewRegistry()
	relay := NewRelay(registry, NewMentor(time.Millisecond), 10)

	conn := newStubConn("c1")
	event := &types.Event{Event: types.EventLeaderboardRequest}

	if err := relay.Dispatch(conn, event); err != ErrRelayNotRunning {
		t.Errorf("Expected ErrRelayNotRunning before start, got %v", err)
	}

	if err := relay.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start relay: %v", err)
	}
	defer func() { _ = relay.Stop() }()

	if err := relay.Dispatch(nil, event); err != ErrNilEvent {
		t.Errorf("Expected ErrNilEvent for nil connection, got %v", err)
	}
	if err := relay.Dispatch(conn, nil); err != ErrNilEvent {
		t.Errorf("Expected ErrNilEvent for nil event, got %v", err)
	}
}

func TestRelay_JoinBroadcastsUserStats(t *testing.T) {
	relay, registry := newTestRelay(t)

	a := connect(t, relay, registry, "a")
	b := connect(t, relay, registry, "b")

	join(t, relay, a, "u1", "Ada", 100)
	join(t, relay, b, "u2", "Bob", 50)

	// Both connections see the final aggregate: count equals the number of
	// live user bindings.
	for _, conn := range []*stubConn{a, b} {
		waitFor(t, func() bool {
			env, ok := conn.lastReceived(types.EventStatsUsers)
			if !ok {
				return false
			}
			stats := env.Data.(*types.UserStats)
			return stats.Count == 2 && len(stats.Users) == 2
		}, "stats:users with count=2 never reached "+conn.ID())
	}
}

func TestRelay_UserCountMatchesJoins(t *testing.T) {
	relay, registry := newTestRelay(t)

	const n = 7
	for i := 0; i < n; i++ {
		conn := connect(t, relay, registry, fmt.Sprintf("c%d", i))
		join(t, relay, conn, fmt.Sprintf("u%d", i), fmt.Sprintf("User %d", i), i*10)
	}

	snap := snapshot(t, relay)
	if snap.UserCount != n {
		t.Errorf("Expected user count %d, got %d", n, snap.UserCount)
	}
}

func TestRelay_MissionLifecycleScenario(t *testing.T) {
	relay, registry := newTestRelay(t)

	a := connect(t, relay, registry, "a")
	b := connect(t, relay, registry, "b")
	join(t, relay, a, "u1", "Ada", 100)
	join(t, relay, b, "u2", "Bob", 50)

	// A starts m1: one active mission, one participant.
	dispatch(t, relay, a, types.EventMissionStart, types.MissionStartPayload{
		UserID: "u1", MissionID: "m1", MissionTitle: "Loops 101",
	})
	waitFor(t, func() bool {
		env, ok := a.lastReceived(types.EventStatsMissions)
		if !ok {
			return false
		}
		stats := env.Data.(*types.MissionStats)
		return stats.ActiveMissions == 1 && stats.TotalActive == 1
	}, "mission stats after A's start never arrived")

	// B starts the same mission: still one mission, two participants.
	dispatch(t, relay, b, types.EventMissionStart, types.MissionStartPayload{
		UserID: "u2", MissionID: "m1", MissionTitle: "Loops 101",
	})
	waitFor(t, func() bool {
		env, ok := b.lastReceived(types.EventStatsMissions)
		if !ok {
			return false
		}
		stats := env.Data.(*types.MissionStats)
		return stats.ActiveMissions == 1 && stats.TotalActive == 2
	}, "mission stats after B's start never arrived")

	// A completes: point-to-point notice with the exact reported values.
	dispatch(t, relay, a, types.EventMissionCompleted, types.MissionCompletedPayload{
		UserID: "u1", MissionID: "m1", Score: 90, TimeSpent: 120, Points: 20,
	})
	waitFor(t, func() bool {
		env, ok := a.lastReceived(types.EventMissionCompletion)
		if !ok {
			return false
		}
		notice := env.Data.(*types.MissionCompletion)
		return notice.MissionID == "m1" && notice.Score == 90 &&
			notice.TimeSpent == 120 && notice.Points == 20
	}, "completion notice never reached A")

	if got := b.received(types.EventMissionCompletion); len(got) != 0 {
		t.Errorf("Completion notice leaked to B: %d deliveries", len(got))
	}

	snap := snapshot(t, relay)
	if snap.ActiveMissions != 1 || snap.TotalActive != 1 {
		t.Errorf("Expected 1 mission / 1 active after A's completion, got %d/%d",
			snap.ActiveMissions, snap.TotalActive)
	}

	// B disconnects: m1's count reaches zero and the entry is removed.
	dispatch(t, relay, b, types.EventDisconnect, nil)
	waitFor(t, func() bool {
		snap := snapshot(t, relay)
		return snap.ActiveMissions == 0 && snap.TotalActive == 0
	}, "mission entry never removed after B's disconnect")
}

func TestRelay_MissionStartBeforeJoinTolerated(t *testing.T) {
	relay, registry := newTestRelay(t)

	conn := connect(t, relay, registry, "anon")
	dispatch(t, relay, conn, types.EventMissionStart, types.MissionStartPayload{
		UserID: "ghost", MissionID: "m1", MissionTitle: "Loops 101",
	})

	// The session binding and counter exist; the user listing stays empty.
	waitFor(t, func() bool {
		snap := snapshot(t, relay)
		return snap.ActiveMissions == 1 && snap.TotalActive == 1 && snap.UserCount == 0
	}, "pre-join mission start not reflected in counters")

	// Disconnect returns the counter to its prior value.
	dispatch(t, relay, conn, types.EventDisconnect, nil)
	waitFor(t, func() bool {
		snap := snapshot(t, relay)
		return snap.ActiveMissions == 0 && snap.TotalActive == 0
	}, "counter never returned to zero")
}

func TestRelay_MissionSwitchReleasesOldSlot(t *testing.T) {
	relay, registry := newTestRelay(t)

	conn := connect(t, relay, registry, "a")
	join(t, relay, conn, "u1", "Ada", 100)

	dispatch(t, relay, conn, types.EventMissionStart, types.MissionStartPayload{
		UserID: "u1", MissionID: "m1", MissionTitle: "Loops 101",
	})
	dispatch(t, relay, conn, types.EventMissionStart, types.MissionStartPayload{
		UserID: "u1", MissionID: "m2", MissionTitle: "Functions 101",
	})

	waitFor(t, func() bool {
		snap := snapshot(t, relay)
		if snap.ActiveMissions != 1 || snap.TotalActive != 1 {
			return false
		}
		return len(snap.Missions) == 1 && snap.Missions[0].MissionID == "m2"
	}, "old mission slot never released on switch")
}

func TestRelay_CompletionThenDisconnectDoesNotDoubleDecrement(t *testing.T) {
	relay, registry := newTestRelay(t)

	a := connect(t, relay, registry, "a")
	b := connect(t, relay, registry, "b")
	join(t, relay, a, "u1", "Ada", 100)
	join(t, relay, b, "u2", "Bob", 50)

	for _, tc := range []struct {
		conn   *stubConn
		userID string
	}{{a, "u1"}, {b, "u2"}} {
		dispatch(t, relay, tc.conn, types.EventMissionStart, types.MissionStartPayload{
			UserID: tc.userID, MissionID: "m1", MissionTitle: "Loops 101",
		})
	}

	dispatch(t, relay, a, types.EventMissionCompleted, types.MissionCompletedPayload{
		UserID: "u1", MissionID: "m1", Score: 80, TimeSpent: 60, Points: 10,
	})
	// A's disconnect after completing must not decrement m1 again: B still
	// holds a slot.
	dispatch(t, relay, a, types.EventDisconnect, nil)

	waitFor(t, func() bool {
		snap := snapshot(t, relay)
		return snap.UserCount == 1
	}, "disconnect never processed")

	snap := snapshot(t, relay)
	if snap.ActiveMissions != 1 || snap.TotalActive != 1 {
		t.Errorf("Expected m1 to keep B's slot, got %d missions / %d active",
			snap.ActiveMissions, snap.TotalActive)
	}
}

func TestRelay_CompletionNamingDifferentMission(t *testing.T) {
	relay, registry := newTestRelay(t)

	conn := connect(t, relay, registry, "a")
	join(t, relay, conn, "u1", "Ada", 100)

	dispatch(t, relay, conn, types.EventMissionStart, types.MissionStartPayload{
		UserID: "u1", MissionID: "m1", MissionTitle: "Loops 101",
	})
	// Completion names m2 while the session binding holds m1: the session
	// is marked completed, the m2 decrement is a no-op, and m1 keeps its
	// slot.
	dispatch(t, relay, conn, types.EventMissionCompleted, types.MissionCompletedPayload{
		UserID: "u1", MissionID: "m2", Score: 70, TimeSpent: 45, Points: 5,
	})

	waitFor(t, func() bool {
		env, ok := conn.lastReceived(types.EventMissionCompletion)
		if !ok {
			return false
		}
		return env.Data.(*types.MissionCompletion).MissionID == "m2"
	}, "completion notice never arrived")

	snap := snapshot(t, relay)
	if snap.ActiveMissions != 1 || snap.TotalActive != 1 {
		t.Fatalf("Expected m1 to keep its slot, got %d missions / %d active",
			snap.ActiveMissions, snap.TotalActive)
	}
	if snap.Missions[0].MissionID != "m1" {
		t.Errorf("Expected m1 to remain counted, got %s", snap.Missions[0].MissionID)
	}

	// A later completion naming m1 does not release the slot either: the
	// session is no longer in progress, so the guarded block is skipped.
	dispatch(t, relay, conn, types.EventMissionCompleted, types.MissionCompletedPayload{
		UserID: "u1", MissionID: "m1", Score: 70, TimeSpent: 45, Points: 5,
	})
	waitFor(t, func() bool {
		return len(conn.received(types.EventMissionCompletion)) == 2
	}, "second completion never processed")

	snap = snapshot(t, relay)
	if snap.ActiveMissions != 1 || snap.TotalActive != 1 {
		t.Errorf("Completed session must not release slots, got %d missions / %d active",
			snap.ActiveMissions, snap.TotalActive)
	}
}

func TestRelay_RepeatedCompletionClampsAtZero(t *testing.T) {
	relay, registry := newTestRelay(t)

	conn := connect(t, relay, registry, "a")
	join(t, relay, conn, "u1", "Ada", 100)

	dispatch(t, relay, conn, types.EventMissionStart, types.MissionStartPayload{
		UserID: "u1", MissionID: "m1", MissionTitle: "Loops 101",
	})
	for i := 0; i < 3; i++ {
		dispatch(t, relay, conn, types.EventMissionCompleted, types.MissionCompletedPayload{
			UserID: "u1", MissionID: "m1", Score: 80, TimeSpent: 60, Points: 10,
		})
	}

	waitFor(t, func() bool {
		// Three completion notices prove all events were applied.
		return len(conn.received(types.EventMissionCompletion)) == 3
	}, "completions never processed")

	snap := snapshot(t, relay)
	if snap.ActiveMissions != 0 || snap.TotalActive != 0 {
		t.Errorf("Counter must clamp at zero, got %d missions / %d active",
			snap.ActiveMissions, snap.TotalActive)
	}
}

func TestRelay_CodeChangeScopedToMission(t *testing.T) {
	relay, registry := newTestRelay(t)

	a := connect(t, relay, registry, "a")
	b := connect(t, relay, registry, "b")
	c := connect(t, relay, registry, "c")
	join(t, relay, a, "u1", "Ada", 100)
	join(t, relay, b, "u2", "Bob", 50)
	join(t, relay, c, "u3", "Cleo", 25)

	dispatch(t, relay, a, types.EventMissionStart, types.MissionStartPayload{
		UserID: "u1", MissionID: "m1", MissionTitle: "Loops 101",
	})
	dispatch(t, relay, b, types.EventMissionStart, types.MissionStartPayload{
		UserID: "u2", MissionID: "m1", MissionTitle: "Loops 101",
	})
	dispatch(t, relay, c, types.EventMissionStart, types.MissionStartPayload{
		UserID: "u3", MissionID: "m2", MissionTitle: "Functions 101",
	})

	dispatch(t, relay, a, types.EventCodeChange, types.CodeChangePayload{
		MissionID: "m1", Code: "let x = 1", Cursor: 9,
	})

	waitFor(t, func() bool {
		env, ok := b.lastReceived(types.EventRemoteCodeChange)
		if !ok {
			return false
		}
		change := env.Data.(*types.RemoteCodeChange)
		return change.UserID == "u1" && change.Code == "let x = 1" && change.Cursor == 9
	}, "code change never reached B")

	if got := a.received(types.EventRemoteCodeChange); len(got) != 0 {
		t.Errorf("Sender must not receive its own code change, got %d", len(got))
	}
	if got := c.received(types.EventRemoteCodeChange); len(got) != 0 {
		t.Errorf("Code change leaked to another mission, got %d", len(got))
	}
}

func TestRelay_AchievementFlow(t *testing.T) {
	relay, registry := newTestRelay(t)

	a := connect(t, relay, registry, "a")
	b := connect(t, relay, registry, "b")
	join(t, relay, a, "u1", "Ada", 100)
	join(t, relay, b, "u2", "Bob", 50)

	achievement := map[string]interface{}{"title": "First Steps"}
	dispatch(t, relay, a, types.EventAchievementUnlock, types.AchievementPayload{
		UserID: "u1", Achievement: achievement,
	})

	// Personal notification goes to the unlocking user's channel only.
	waitFor(t, func() bool {
		return len(a.received(types.EventAchievementNotice)) == 1
	}, "achievement notification never reached A")
	if got := b.received(types.EventAchievementNotice); len(got) != 0 {
		t.Errorf("Achievement notification leaked to B, got %d", len(got))
	}

	// The feed entry reaches everyone and lands in the snapshot.
	for _, conn := range []*stubConn{a, b} {
		waitFor(t, func() bool {
			return len(conn.received(types.EventFeedAchievement)) == 1
		}, "feed entry never reached "+conn.ID())
	}

	snap := snapshot(t, relay)
	if len(snap.Feed) != 1 {
		t.Fatalf("Expected 1 feed entry, got %d", len(snap.Feed))
	}
	if snap.Feed[0].User == nil || snap.Feed[0].User.UserID != "u1" {
		t.Errorf("Feed entry should carry the unlocking user's profile, got %+v", snap.Feed[0].User)
	}
}

func TestRelay_StreakGoesToUserChannelOnly(t *testing.T) {
	relay, registry := newTestRelay(t)

	a := connect(t, relay, registry, "a")
	b := connect(t, relay, registry, "b")
	join(t, relay, a, "u1", "Ada", 100)
	join(t, relay, b, "u2", "Bob", 50)

	dispatch(t, relay, a, types.EventStreakUpdate, types.StreakPayload{UserID: "u1", Streak: 4})

	waitFor(t, func() bool {
		env, ok := a.lastReceived(types.EventStreakUpdated)
		if !ok {
			return false
		}
		return env.Data.(*types.StreakNotice).Streak == 4
	}, "streak notice never reached A")

	if got := b.received(types.EventStreakUpdated); len(got) != 0 {
		t.Errorf("Streak notice leaked to B, got %d", len(got))
	}
}

func TestRelay_LeaderboardTopTenByXP(t *testing.T) {
	relay, registry := newTestRelay(t)

	// 12 identified users; two share an XP value to exercise the tie-break.
	conns := make([]*stubConn, 12)
	for i := range conns {
		conns[i] = connect(t, relay, registry, fmt.Sprintf("c%d", i))
		xp := (i + 1) * 10
		if i == 11 {
			xp = 110 // ties with c10
		}
		join(t, relay, conns[i], fmt.Sprintf("u%d", i), fmt.Sprintf("User %d", i), xp)
	}

	requester := conns[0]
	dispatch(t, relay, requester, types.EventLeaderboardRequest, nil)

	var update *types.LeaderboardUpdate
	waitFor(t, func() bool {
		env, ok := requester.lastReceived(types.EventLeaderboardUpdate)
		if !ok {
			return false
		}
		update = env.Data.(*types.LeaderboardUpdate)
		return true
	}, "leaderboard never reached requester")

	if len(update.Users) != 10 {
		t.Fatalf("Expected 10 leaderboard entries, got %d", len(update.Users))
	}
	for i := 1; i < len(update.Users); i++ {
		if update.Users[i].XP > update.Users[i-1].XP {
			t.Errorf("Leaderboard not sorted by XP descending at index %d", i)
		}
	}

	// Point-to-point only: no other connection hears the reply.
	for _, conn := range conns[1:] {
		if got := conn.received(types.EventLeaderboardUpdate); len(got) != 0 {
			t.Errorf("Leaderboard leaked to %s", conn.ID())
		}
	}

	// Repeated requests see the same order for the tied pair.
	dispatch(t, relay, requester, types.EventLeaderboardRequest, nil)
	waitFor(t, func() bool {
		return len(requester.received(types.EventLeaderboardUpdate)) == 2
	}, "second leaderboard never arrived")

	second := requester.received(types.EventLeaderboardUpdate)[1].Data.(*types.LeaderboardUpdate)
	for i := range update.Users {
		if update.Users[i].UserID != second.Users[i].UserID {
			t.Errorf("Leaderboard order unstable at index %d: %s vs %s",
				i, update.Users[i].UserID, second.Users[i].UserID)
		}
	}
}

func TestRelay_SnapshotAfterStop(t *testing.T) {
	registry := websocket.NewRegistry()
	relay := NewRelay(registry, NewMentor(time.Millisecond), 10)

	if err := relay.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start relay: %v", err)
	}
	if err := relay.Stop(); err != nil {
		t.Fatalf("Failed to stop relay: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if _, err := relay.Snapshot(ctx); err == nil {
		t.Error("Expected snapshot error after stop")
	}
}
