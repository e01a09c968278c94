package main

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// mockConn captures events pushed to one seat.
type mockConn struct {
	mu     sync.Mutex
	events []Envelope
	states []GameState
}

func (c *mockConn) SendEvent(event string, data interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, Envelope{Event: event, Data: data})
}

func (c *mockConn) SendState(state GameState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states = append(c.states, state)
}

func (c *mockConn) eventData(event string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if e.Event == event {
			return e.Data, true
		}
	}
	return nil, false
}

func (c *mockConn) hasEvent(event string) bool {
	_, ok := c.eventData(event)
	return ok
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func newTestRegistry(grace time.Duration) *Registry {
	return NewRegistry(RegistryConfig{
		ReconnectGrace: grace,
		Engine:         EngineConfig{MaxScore: 5, CountdownSeconds: 3},
	})
}

// startedMatch creates a match for alice and joins bob, returning both
// mocks and the match.
func startedMatch(t *testing.T, r *Registry) (*mockConn, *mockConn, *Match) {
	t.Helper()
	a, b := &mockConn{}, &mockConn{}
	if _, err := r.CreateMatch("u1", "alice", a, Mode1v1); err != nil {
		t.Fatalf("create: %v", err)
	}
	m := r.GetPlayerMatch("u1")
	if m == nil {
		t.Fatal("creator should occupy the match")
	}
	if _, err := r.JoinMatch(m.ID, "u2", "bob", b); err != nil {
		t.Fatalf("join: %v", err)
	}
	return a, b, m
}

func TestRegistryCreateMatch(t *testing.T) {
	r := newTestRegistry(time.Minute)
	a := &mockConn{}

	m, err := r.CreateMatch("u1", "alice", a, Mode1v1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if m.Status != StatusWaiting {
		t.Errorf("new match must wait for an opponent, got %s", m.Status)
	}

	listed := r.GetAvailableMatches(Mode1v1)
	if len(listed) != 1 || listed[0].ID != m.ID {
		t.Errorf("waiting match must appear in the lobby, got %v", listed)
	}

	// One match per user.
	if _, err := r.CreateMatch("u1", "alice", a, Mode1v1); !errors.Is(err, ErrAlreadyInMatch) {
		t.Errorf("second create must be rejected, got %v", err)
	}
}

func TestRegistryLeaveWaitingDeletes(t *testing.T) {
	r := newTestRegistry(time.Minute)
	m, _ := r.CreateMatch("u1", "alice", &mockConn{}, Mode1v1)

	if err := r.LeaveMatch("u1"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if r.GetMatch(m.ID) != nil {
		t.Error("abandoned waiting match must be deleted")
	}
	if r.MatchCount() != 0 {
		t.Errorf("expected empty registry, got %d matches", r.MatchCount())
	}
	if err := r.LeaveMatch("u1"); !errors.Is(err, ErrNotInMatch) {
		t.Errorf("leave with no match must fail, got %v", err)
	}

	// The seat is free again.
	if _, err := r.CreateMatch("u1", "alice", &mockConn{}, Mode1v1); err != nil {
		t.Errorf("create after leave: %v", err)
	}
}

func TestRegistryJoinValidation(t *testing.T) {
	r := newTestRegistry(time.Minute)
	m, _ := r.CreateMatch("u1", "alice", &mockConn{}, Mode1v1)

	if _, err := r.JoinMatch("nope", "u2", "bob", &mockConn{}); !errors.Is(err, ErrMatchNotFound) {
		t.Errorf("unknown id: got %v", err)
	}
	if _, err := r.JoinMatch(m.ID, "u1", "alice", &mockConn{}); !errors.Is(err, ErrSelfJoin) {
		t.Errorf("joining your own match: got %v", err)
	}

	r.CreateMatch("u3", "carol", &mockConn{}, Mode1v1)
	if _, err := r.JoinMatch(m.ID, "u3", "carol", &mockConn{}); !errors.Is(err, ErrAlreadyInMatch) {
		t.Errorf("joining while occupying another match: got %v", err)
	}
}

func TestRegistryJoinStartsMatch(t *testing.T) {
	r := newTestRegistry(time.Minute)
	a, b, m := startedMatch(t, r)
	defer m.Engine.Cancel()

	if m.Engine == nil {
		t.Fatal("second join must instantiate the engine")
	}
	if !a.hasEvent(EvtOpponentJoined) {
		t.Error("creator must hear about the opponent")
	}
	dataA, ok := a.eventData(EvtMatchJoined)
	if !ok {
		t.Fatal("creator must receive the joined event")
	}
	if j := dataA.(JoinedMsg); j.PlayerNumber != 1 || j.Opponent != "bob" {
		t.Errorf("creator joined payload wrong: %+v", j)
	}
	dataB, ok := b.eventData(EvtMatchJoined)
	if !ok {
		t.Fatal("joiner must receive the joined event")
	}
	if j := dataB.(JoinedMsg); j.PlayerNumber != 2 || j.Opponent != "alice" {
		t.Errorf("joiner payload wrong: %+v", j)
	}

	// A started match leaves the lobby and rejects further joins.
	if len(r.GetAvailableMatches(Mode1v1)) != 0 {
		t.Error("started match must leave the lobby")
	}
	if _, err := r.JoinMatch(m.ID, "u3", "carol", &mockConn{}); !errors.Is(err, ErrMatchNotJoinable) {
		t.Errorf("third player: got %v", err)
	}

	// Re-joining your own match is a no-op, not an error.
	again, err := r.JoinMatch(m.ID, "u2", "bob", b)
	if err != nil || again != m {
		t.Errorf("re-join should return the same match, got %v/%v", again, err)
	}
}

func TestRegistryQuickMatchPairsOldest(t *testing.T) {
	r := newTestRegistry(time.Minute)
	a, b := &mockConn{}, &mockConn{}

	m1, created, err := r.QuickMatch("u1", "alice", a, Mode1v1)
	if err != nil || !created {
		t.Fatalf("first quickmatch must create: %v created=%v", err, created)
	}

	m2, created, err := r.QuickMatch("u2", "bob", b, Mode1v1)
	if err != nil {
		t.Fatalf("second quickmatch: %v", err)
	}
	if created || m2.ID != m1.ID {
		t.Errorf("second quickmatch must join the waiting match, created=%v", created)
	}
	if m2.seatNumber("u2") != 2 {
		t.Error("joiner must take seat 2")
	}
	m2.Engine.Cancel()
}

func TestRegistryDisconnectPausesAndReconnectResumes(t *testing.T) {
	r := newTestRegistry(time.Hour)
	a, _, m := startedMatch(t, r)
	defer m.Engine.Cancel()

	// Put the engine mid-rally so the disconnect actually pauses play.
	m.Engine.mu.Lock()
	m.Engine.state.Status = StatusPlaying
	m.Engine.mu.Unlock()

	r.HandleDisconnect("u2")

	if m.Engine.Status() != StatusPaused {
		t.Fatalf("expected paused, got %s", m.Engine.Status())
	}
	data, ok := a.eventData(EvtOpponentDisconn)
	if !ok {
		t.Fatal("remaining player must hear about the disconnect")
	}
	if d := data.(DisconnectedMsg); d.ReconnectTimeout != 3600 {
		t.Errorf("grace seconds wrong: %f", d.ReconnectTimeout)
	}
	if !a.hasEvent(EvtGamePaused) {
		t.Error("remaining player must see the pause")
	}
	if m.Player2.connRef() != nil {
		t.Error("disconnected seat must drop its connection")
	}

	b2 := &mockConn{}
	got := r.HandleReconnect("u2", b2)
	if got != m {
		t.Fatal("reconnect must return the occupied match")
	}
	if m.Player2.connRef() != Broadcaster(b2) {
		t.Error("reconnect must rebind the seat")
	}
	if !a.hasEvent(EvtOpponentReconn) {
		t.Error("remaining player must hear about the reconnect")
	}
	if !a.hasEvent(EvtGameResumed) || !b2.hasEvent(EvtGameResumed) {
		t.Error("both seats must see the resume")
	}
	if m.Engine.Status() != StatusCountdown {
		t.Errorf("resume must restart via countdown, got %s", m.Engine.Status())
	}
}

func TestRegistryForfeitAfterGrace(t *testing.T) {
	r := newTestRegistry(30 * time.Millisecond)
	a, _, m := startedMatch(t, r)

	m.Engine.mu.Lock()
	m.Engine.state.Status = StatusPlaying
	m.Engine.mu.Unlock()

	r.HandleDisconnect("u2")

	waitFor(t, time.Second, func() bool {
		return a.hasEvent(EvtGameEnd)
	}, "remaining player never saw the forfeit end")

	data, _ := a.eventData(EvtGameEnd)
	if end := data.(EndMsg); end.WinnerID != "u1" {
		t.Errorf("the connected player must win the forfeit, got %s", end.WinnerID)
	}
	if r.GetMatch(m.ID) != nil {
		t.Error("forfeited match must be removed")
	}
	if r.GetPlayerMatch("u1") != nil || r.GetPlayerMatch("u2") != nil {
		t.Error("both seats must be released")
	}
}

func TestRegistryStaleForfeitCallbackIgnored(t *testing.T) {
	r := newTestRegistry(time.Hour)
	a, _, m := startedMatch(t, r)
	defer m.Engine.Cancel()

	m.Engine.mu.Lock()
	m.Engine.state.Status = StatusPlaying
	m.Engine.mu.Unlock()

	r.HandleDisconnect("u2")
	r.mu.Lock()
	stale := r.forfeits[m.ID]
	r.mu.Unlock()
	if stale == nil {
		t.Fatal("disconnect must arm a forfeit timer")
	}

	if r.HandleReconnect("u2", &mockConn{}) == nil {
		t.Fatal("reconnect within grace must succeed")
	}

	// Stop cannot cancel a callback that already fired and is waiting on
	// the lock; invoke the disarmed timer's callback directly and make
	// sure it does nothing.
	r.forfeit(m.ID, "u2", stale)
	if a.hasEvent(EvtGameEnd) {
		t.Error("disarmed forfeit callback must not end the match")
	}
	if r.GetMatch(m.ID) == nil {
		t.Error("match must survive a disarmed forfeit callback")
	}

	// Same for a timer replaced by a newer disconnect: the old callback
	// must neither forfeit nor disturb the freshly armed timer.
	r.HandleDisconnect("u2")
	r.mu.Lock()
	fresh := r.forfeits[m.ID]
	r.mu.Unlock()
	if fresh == nil || fresh == stale {
		t.Fatal("second disconnect must arm a new timer")
	}
	r.forfeit(m.ID, "u2", stale)
	if a.hasEvent(EvtGameEnd) {
		t.Error("replaced forfeit callback must not end the match")
	}
	r.mu.Lock()
	still := r.forfeits[m.ID]
	r.mu.Unlock()
	if still != fresh {
		t.Error("replaced forfeit callback must leave the armed timer alone")
	}
}

func TestRegistryDisconnectDuringCountdown(t *testing.T) {
	r := newTestRegistry(time.Hour)
	a, _, m := startedMatch(t, r)
	defer m.Engine.Cancel()

	if m.Engine.Status() != StatusCountdown {
		t.Fatalf("expected countdown after join, got %s", m.Engine.Status())
	}

	r.HandleDisconnect("u2")
	if m.Engine.Status() != StatusPaused {
		t.Fatalf("disconnect during countdown must pause, got %s", m.Engine.Status())
	}
	if !a.hasEvent(EvtOpponentDisconn) || !a.hasEvent(EvtGamePaused) {
		t.Error("remaining player must see both the disconnect and the pause")
	}

	if r.HandleReconnect("u2", &mockConn{}) == nil {
		t.Fatal("reconnect within grace must succeed")
	}
	if m.Engine.Status() != StatusCountdown {
		t.Errorf("reconnect must restart the countdown, got %s", m.Engine.Status())
	}
}

func TestRegistryReconnectBeatsForfeit(t *testing.T) {
	r := newTestRegistry(60 * time.Millisecond)
	a, _, m := startedMatch(t, r)
	defer m.Engine.Cancel()

	m.Engine.mu.Lock()
	m.Engine.state.Status = StatusPlaying
	m.Engine.mu.Unlock()

	r.HandleDisconnect("u2")
	if r.HandleReconnect("u2", &mockConn{}) == nil {
		t.Fatal("reconnect within grace must succeed")
	}

	time.Sleep(150 * time.Millisecond)
	if a.hasEvent(EvtGameEnd) {
		t.Error("forfeit timer must die when the player returns")
	}
	if r.GetMatch(m.ID) == nil {
		t.Error("match must survive a timely reconnect")
	}
}

func TestRegistryDisconnectFromWaitingDeletes(t *testing.T) {
	r := newTestRegistry(time.Minute)
	m, _ := r.CreateMatch("u1", "alice", &mockConn{}, Mode1v1)

	r.HandleDisconnect("u1")
	if r.GetMatch(m.ID) != nil {
		t.Error("waiting match must vanish with its creator")
	}
}

func TestRegistryLeaveActiveForfeits(t *testing.T) {
	r := newTestRegistry(time.Minute)
	a, _, m := startedMatch(t, r)

	m.Engine.mu.Lock()
	m.Engine.state.Status = StatusPlaying
	m.Engine.mu.Unlock()

	if err := r.LeaveMatch("u2"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if !a.hasEvent(EvtOpponentLeft) {
		t.Error("remaining player must hear about the departure")
	}
	data, ok := a.eventData(EvtGameEnd)
	if !ok {
		t.Fatal("voluntary leave must end the game")
	}
	if end := data.(EndMsg); end.WinnerID != "u1" {
		t.Errorf("remaining player must win, got %s", end.WinnerID)
	}
	if r.GetMatch(m.ID) != nil {
		t.Error("forfeited match must be removed")
	}
}

func TestRegistryExpireStaleWaiting(t *testing.T) {
	r := newTestRegistry(time.Minute)
	a := &mockConn{}
	m, _ := r.CreateMatch("u1", "alice", a, Mode1v1)

	if n := r.ExpireStaleWaiting(time.Hour); n != 0 {
		t.Errorf("fresh match must survive, expired %d", n)
	}

	r.mu.Lock()
	m.CreatedAt = time.Now().Add(-2 * time.Hour)
	r.mu.Unlock()

	if n := r.ExpireStaleWaiting(time.Hour); n != 1 {
		t.Fatalf("expected 1 expired match, got %d", n)
	}
	if r.GetMatch(m.ID) != nil || r.GetPlayerMatch("u1") != nil {
		t.Error("expired match must be fully removed")
	}
	if !a.hasEvent(EvtError) {
		t.Error("creator must be told the match expired")
	}
}

func TestRegistryLobbyCallback(t *testing.T) {
	r := newTestRegistry(time.Minute)

	var mu sync.Mutex
	var last []MatchResponse
	calls := 0
	r.SetMatchListUpdateCallback(func(matches []MatchResponse) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		last = matches
	})

	r.CreateMatch("u1", "alice", &mockConn{}, Mode1v1)
	mu.Lock()
	if calls != 1 || len(last) != 1 {
		t.Errorf("create must push one lobby entry, calls=%d entries=%d", calls, len(last))
	}
	mu.Unlock()

	r.LeaveMatch("u1")
	mu.Lock()
	if calls != 2 || len(last) != 0 {
		t.Errorf("leave must push an empty lobby, calls=%d entries=%d", calls, len(last))
	}
	mu.Unlock()
}
