package main

import (
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultReconnectGrace = 10 * time.Second

var (
	ErrMatchNotFound    = errors.New("match not found")
	ErrMatchNotJoinable = errors.New("match is not joinable")
	ErrMatchFull        = errors.New("match is full")
	ErrSelfJoin         = errors.New("cannot join your own match")
	ErrAlreadyInMatch   = errors.New("already in an active match")
	ErrNotInMatch       = errors.New("not in a match")
)

// FactRecorder receives session-lifecycle facts for external collaborators
// (history, presence). Implementations must never block the caller.
type FactRecorder interface {
	Record(factType, matchID, userID string, data interface{})
}

// RegistryConfig holds the registry's tunable settings.
type RegistryConfig struct {
	ReconnectGrace time.Duration
	Engine         EngineConfig
}

// DefaultRegistryConfig returns stock settings.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		ReconnectGrace: DefaultReconnectGrace,
		Engine:         DefaultEngineConfig(),
	}
}

// Registry is the process-wide table of matches and of which user occupies
// which match. It owns matchmaking, reconnection and forfeit-on-timeout.
// Constructed once at process start and passed by handle, never ambient.
type Registry struct {
	mu          sync.RWMutex
	cfg         RegistryConfig
	matches     map[string]*Match
	playerMatch map[string]string      // userID -> matchID
	forfeits    map[string]*time.Timer // matchID -> pending forfeit timer
	lobbyCb     func([]MatchResponse)
	recorder    FactRecorder
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.ReconnectGrace <= 0 {
		cfg.ReconnectGrace = DefaultReconnectGrace
	}
	return &Registry{
		cfg:         cfg,
		matches:     make(map[string]*Match),
		playerMatch: make(map[string]string),
		forfeits:    make(map[string]*time.Timer),
	}
}

// SetRecorder wires the lifecycle-fact collaborator.
func (r *Registry) SetRecorder(rec FactRecorder) {
	r.recorder = rec
}

// SetMatchListUpdateCallback registers the single process-wide hook invoked
// after any mutation that changes the public lobby.
func (r *Registry) SetMatchListUpdateCallback(cb func([]MatchResponse)) {
	r.mu.Lock()
	r.lobbyCb = cb
	r.mu.Unlock()
}

func (r *Registry) record(factType, matchID, userID string, data interface{}) {
	if r.recorder != nil {
		r.recorder.Record(factType, matchID, userID, data)
	}
}

// CreateMatch allocates a waiting match with player1 filled. One active
// match per user, enforced registry-wide.
func (r *Registry) CreateMatch(userID, alias string, conn Broadcaster, mode MatchMode) (*Match, error) {
	if !mode.Valid() {
		mode = Mode1v1
	}
	r.mu.Lock()
	if _, taken := r.playerMatch[userID]; taken {
		r.mu.Unlock()
		return nil, ErrAlreadyInMatch
	}
	m := &Match{
		ID:        uuid.NewString(),
		Mode:      mode,
		Status:    StatusWaiting,
		Player1:   &Seat{UserID: userID, Alias: alias, conn: conn},
		CreatedAt: time.Now(),
	}
	r.matches[m.ID] = m
	r.playerMatch[userID] = m.ID
	r.mu.Unlock()

	r.record(FactMatchCreated, m.ID, userID, map[string]string{"mode": string(mode)})
	r.notifyLobby()
	return m, nil
}

// JoinMatch fills player2, instantiates the engine and starts the countdown.
func (r *Registry) JoinMatch(matchID, userID, alias string, conn Broadcaster) (*Match, error) {
	r.mu.Lock()
	m, ok := r.matches[matchID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrMatchNotFound
	}
	if m.Player1.UserID == userID {
		r.mu.Unlock()
		return nil, ErrSelfJoin
	}
	if current, taken := r.playerMatch[userID]; taken {
		r.mu.Unlock()
		if current == matchID {
			// Re-joining the match you already occupy is a no-op.
			return m, nil
		}
		return nil, ErrAlreadyInMatch
	}
	if m.Status != StatusWaiting {
		r.mu.Unlock()
		return nil, ErrMatchNotJoinable
	}
	if m.Player2 != nil {
		r.mu.Unlock()
		return nil, ErrMatchFull
	}

	m.Player2 = &Seat{UserID: userID, Alias: alias, conn: conn}
	m.StartedAt = time.Now()
	m.Engine = NewEngine(
		m.Player1.UserID, m.Player1.Alias,
		m.Player2.UserID, m.Player2.Alias,
		r.cfg.Engine,
		r.engineCallbacks(m),
	)
	r.playerMatch[userID] = m.ID
	r.mu.Unlock()

	r.record(FactMatchJoined, m.ID, userID, nil)

	m.Player1.send(EvtOpponentJoined, OpponentMsg{Opponent: alias})
	m.Player1.send(EvtMatchJoined, JoinedMsg{MatchID: m.ID, Opponent: alias, PlayerNumber: 1})
	m.Player2.send(EvtMatchJoined, JoinedMsg{MatchID: m.ID, Opponent: m.Player1.Alias, PlayerNumber: 2})

	m.Engine.Start()
	r.notifyLobby()
	return m, nil
}

// engineCallbacks binds one match's engine events to seat fan-out and to
// the registry's own bookkeeping. Countdown, start and end events reach
// both seats before the engine proceeds to its next scheduler phase.
func (r *Registry) engineCallbacks(m *Match) EngineCallbacks {
	return EngineCallbacks{
		OnCountdown: func(count int) {
			r.mu.Lock()
			if !m.Status.Terminal() {
				m.Status = StatusCountdown
			}
			r.mu.Unlock()
			m.broadcast(EvtGameCountdown, CountdownMsg{Count: count})
		},
		OnStart: func() {
			r.mu.Lock()
			if !m.Status.Terminal() {
				m.Status = StatusPlaying
			}
			r.mu.Unlock()
			m.broadcast(EvtGameStart, nil)
		},
		OnState: func(state GameState) {
			r.mu.Lock()
			m.Score1 = state.Player1.Paddle.Score
			m.Score2 = state.Player2.Paddle.Score
			r.mu.Unlock()
			m.Player1.sendState(state)
			m.Player2.sendState(state)
		},
		OnEnd: func(winnerID string, score1, score2 int) {
			r.finishMatch(m, winnerID, score1, score2)
		},
	}
}

// finishMatch records the terminal result, removes the match from the
// registry and tells both seats. Runs for natural wins and forfeits alike.
func (r *Registry) finishMatch(m *Match, winnerID string, score1, score2 int) {
	r.mu.Lock()
	m.Status = StatusFinished
	m.Score1 = score1
	m.Score2 = score2
	m.WinnerID = winnerID
	r.removeLocked(m)
	r.mu.Unlock()

	winnerAlias := ""
	if seat := m.seatOf(winnerID); seat != nil {
		winnerAlias = seat.Alias
	}
	m.broadcast(EvtGameEnd, EndMsg{
		Winner:   winnerAlias,
		WinnerID: winnerID,
		Score1:   score1,
		Score2:   score2,
	})

	r.record(FactMatchEnded, m.ID, winnerID, MatchResult{
		MatchID:  m.ID,
		Mode:     m.Mode,
		Player1:  PlayerInfo{ID: m.Player1.UserID, Alias: m.Player1.Alias},
		Player2:  PlayerInfo{ID: m.Player2.UserID, Alias: m.Player2.Alias},
		Score1:   score1,
		Score2:   score2,
		WinnerID: winnerID,
		EndedAt:  time.Now(),
	})
	r.notifyLobby()
}

// removeLocked deletes a match, its player index entries and any pending
// forfeit timer. No timer survives its match's removal.
func (r *Registry) removeLocked(m *Match) {
	delete(r.matches, m.ID)
	if r.playerMatch[m.Player1.UserID] == m.ID {
		delete(r.playerMatch, m.Player1.UserID)
	}
	if m.Player2 != nil && r.playerMatch[m.Player2.UserID] == m.ID {
		delete(r.playerMatch, m.Player2.UserID)
	}
	if t, ok := r.forfeits[m.ID]; ok {
		t.Stop()
		delete(r.forfeits, m.ID)
	}
}

// FindAvailableMatch returns the oldest waiting match of the given mode not
// created by excludingUserID, or nil. FIFO fairness for quick-match.
func (r *Registry) FindAvailableMatch(mode MatchMode, excludingUserID string) *Match {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *Match
	for _, m := range r.matches {
		if m.Status != StatusWaiting || m.Mode != mode {
			continue
		}
		if m.Player1.UserID == excludingUserID {
			continue
		}
		if best == nil || m.CreatedAt.Before(best.CreatedAt) {
			best = m
		}
	}
	return best
}

// QuickMatch joins the oldest available match of the mode, or creates a new
// waiting one. Reports whether a fresh match was created.
func (r *Registry) QuickMatch(userID, alias string, conn Broadcaster, mode MatchMode) (*Match, bool, error) {
	if m := r.FindAvailableMatch(mode, userID); m != nil {
		joined, err := r.JoinMatch(m.ID, userID, alias, conn)
		if err == nil {
			return joined, false, nil
		}
		// Lost the race for that seat; fall through and create.
		if !errors.Is(err, ErrMatchFull) && !errors.Is(err, ErrMatchNotJoinable) && !errors.Is(err, ErrMatchNotFound) {
			return nil, false, err
		}
	}
	m, err := r.CreateMatch(userID, alias, conn, mode)
	return m, true, err
}

// LeaveMatch handles voluntary departure: delete a still-waiting match
// outright, forfeit anything further along to the other seat.
func (r *Registry) LeaveMatch(userID string) error {
	r.mu.Lock()
	matchID, ok := r.playerMatch[userID]
	if !ok {
		r.mu.Unlock()
		return ErrNotInMatch
	}
	m := r.matches[matchID]
	if m == nil {
		delete(r.playerMatch, userID)
		r.mu.Unlock()
		return ErrNotInMatch
	}
	if m.Status == StatusWaiting {
		r.removeLocked(m)
		r.mu.Unlock()
		r.record(FactMatchLeft, m.ID, userID, nil)
		r.notifyLobby()
		return nil
	}
	opponent := m.opponentOf(userID)
	r.mu.Unlock()

	r.record(FactMatchLeft, m.ID, userID, nil)
	if opponent != nil {
		opponent.send(EvtOpponentLeft, nil)
		m.Engine.ForceEnd(opponent.UserID)
	}
	return nil
}

// HandleDisconnect pauses the match, notifies the remaining player with the
// grace period and arms the forfeit timer. A waiting match whose creator
// drops is deleted outright — there is nobody left to wait for it.
func (r *Registry) HandleDisconnect(userID string) {
	r.mu.Lock()
	matchID, ok := r.playerMatch[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	m := r.matches[matchID]
	if m == nil {
		delete(r.playerMatch, userID)
		r.mu.Unlock()
		return
	}
	if m.Status == StatusWaiting {
		r.removeLocked(m)
		r.mu.Unlock()
		r.record(FactMatchLeft, m.ID, userID, nil)
		r.notifyLobby()
		return
	}
	if seat := m.seatOf(userID); seat != nil {
		seat.setConn(nil)
	}
	grace := r.cfg.ReconnectGrace
	if t, armed := r.forfeits[m.ID]; armed {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(grace, func() {
		r.forfeit(m.ID, userID, timer)
	})
	r.forfeits[m.ID] = timer
	opponent := m.opponentOf(userID)
	r.mu.Unlock()

	r.record(FactDisconnected, m.ID, userID, nil)
	paused := m.Engine.Pause()
	if opponent != nil {
		opponent.send(EvtOpponentDisconn, DisconnectedMsg{ReconnectTimeout: grace.Seconds()})
		if paused {
			opponent.send(EvtGamePaused, PausedMsg{Reason: "opponent_disconnected"})
		}
	}
	if paused {
		r.mu.Lock()
		if !m.Status.Terminal() {
			m.Status = StatusPaused
		}
		r.mu.Unlock()
	}
}

// forfeit fires when the reconnect grace period elapses: the still-connected
// player wins. Stop cannot cancel a callback that has already fired and is
// waiting on the lock, so the callback only proceeds while it is still the
// armed timer for this match — a reconnect or a newer disconnect has
// otherwise replaced it and this invocation must do nothing.
func (r *Registry) forfeit(matchID, disconnectedID string, timer *time.Timer) {
	r.mu.Lock()
	if r.forfeits[matchID] != timer {
		r.mu.Unlock()
		return
	}
	delete(r.forfeits, matchID)
	m, ok := r.matches[matchID]
	if !ok {
		r.mu.Unlock()
		return
	}
	opponent := m.opponentOf(disconnectedID)
	r.mu.Unlock()

	if opponent == nil {
		return
	}
	log.Printf("match %s: %s failed to reconnect in time, forfeiting", matchID, disconnectedID)
	r.record(FactForfeit, matchID, disconnectedID, nil)
	m.Engine.ForceEnd(opponent.UserID)
}

// HandleReconnect cancels any pending forfeit, rebinds the seat's
// connection and resumes a paused engine. Returns the match so the gateway
// can replay current state, or nil if the user occupies none.
func (r *Registry) HandleReconnect(userID string, conn Broadcaster) *Match {
	r.mu.Lock()
	matchID, ok := r.playerMatch[userID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	m := r.matches[matchID]
	if m == nil {
		delete(r.playerMatch, userID)
		r.mu.Unlock()
		return nil
	}
	if t, armed := r.forfeits[m.ID]; armed {
		t.Stop()
		delete(r.forfeits, m.ID)
	}
	seat := m.seatOf(userID)
	if seat != nil {
		seat.setConn(conn)
	}
	opponent := m.opponentOf(userID)
	r.mu.Unlock()

	r.record(FactReconnected, m.ID, userID, nil)
	if opponent != nil {
		opponent.send(EvtOpponentReconn, nil)
	}
	if m.Engine != nil && m.Engine.Resume() {
		m.broadcast(EvtGameResumed, nil)
	}
	return m
}

// IsPlayerInActiveMatch reports whether the user is seated in a match that
// has progressed past waiting. Used by collaborators to veto
// state-disrupting actions mid-match.
func (r *Registry) IsPlayerInActiveMatch(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	matchID, ok := r.playerMatch[userID]
	if !ok {
		return false
	}
	m := r.matches[matchID]
	return m != nil && m.Status != StatusWaiting && !m.Status.Terminal()
}

// GetMatch returns a match by id, or nil.
func (r *Registry) GetMatch(id string) *Match {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.matches[id]
}

// GetPlayerMatch returns the match the user currently occupies, or nil.
func (r *Registry) GetPlayerMatch(userID string) *Match {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if matchID, ok := r.playerMatch[userID]; ok {
		return r.matches[matchID]
	}
	return nil
}

// GetAvailableMatches returns the lobby: waiting matches, oldest first.
// An empty mode matches everything.
func (r *Registry) GetAvailableMatches(mode MatchMode) []MatchResponse {
	r.mu.RLock()
	list := make([]*Match, 0)
	for _, m := range r.matches {
		if m.Status != StatusWaiting {
			continue
		}
		if mode != "" && m.Mode != mode {
			continue
		}
		list = append(list, m)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	out := make([]MatchResponse, 0, len(list))
	for _, m := range list {
		out = append(out, r.ToMatchResponse(m))
	}
	return out
}

// ToMatchResponse projects a match into its public DTO.
func (r *Registry) ToMatchResponse(m *Match) MatchResponse {
	r.mu.RLock()
	defer r.mu.RUnlock()
	resp := MatchResponse{
		ID:        m.ID,
		Mode:      m.Mode,
		Status:    m.Status,
		Player1:   PlayerInfo{ID: m.Player1.UserID, Alias: m.Player1.Alias},
		Score1:    m.Score1,
		Score2:    m.Score2,
		WinnerID:  m.WinnerID,
		CreatedAt: m.CreatedAt,
	}
	if m.Player2 != nil {
		resp.Player2 = &PlayerInfo{ID: m.Player2.UserID, Alias: m.Player2.Alias}
	}
	if !m.StartedAt.IsZero() {
		started := m.StartedAt
		resp.StartedAt = &started
	}
	return resp
}

// ExpireStaleWaiting removes waiting matches older than maxAge. Returns how
// many were dropped. Run periodically by the janitor.
func (r *Registry) ExpireStaleWaiting(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	r.mu.Lock()
	var stale []*Match
	for _, m := range r.matches {
		if m.Status == StatusWaiting && m.CreatedAt.Before(cutoff) {
			stale = append(stale, m)
		}
	}
	for _, m := range stale {
		r.removeLocked(m)
	}
	r.mu.Unlock()

	for _, m := range stale {
		if m.Engine != nil {
			m.Engine.Cancel()
		}
		m.Player1.send(EvtError, ErrorMsg{Code: ErrCodeMatchNotFound, Message: "match expired"})
		r.record(FactMatchExpired, m.ID, m.Player1.UserID, nil)
	}
	if len(stale) > 0 {
		r.notifyLobby()
	}
	return len(stale)
}

// MatchCount returns the number of tracked matches.
func (r *Registry) MatchCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.matches)
}

// notifyLobby invokes the lobby-changed hook with a fresh snapshot.
func (r *Registry) notifyLobby() {
	r.mu.RLock()
	cb := r.lobbyCb
	r.mu.RUnlock()
	if cb == nil {
		return
	}
	cb(r.GetAvailableMatches(""))
}
