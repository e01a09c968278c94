package main

import (
	"sync"
	"time"
)

const (
	TickRate     = 60 // simulation ticks per second
	TickDuration = time.Second / TickRate

	DefaultMaxScore         = 5
	DefaultCountdownSeconds = 3
)

// GameStatus is the engine lifecycle tag.
type GameStatus string

const (
	StatusWaiting   GameStatus = "waiting"
	StatusCountdown GameStatus = "countdown"
	StatusPlaying   GameStatus = "playing"
	StatusPaused    GameStatus = "paused"
	StatusFinished  GameStatus = "finished"
	StatusCancelled GameStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s GameStatus) Terminal() bool {
	return s == StatusFinished || s == StatusCancelled
}

// EnginePlayer is one seated player. Alias is captured at match start and
// stays immutable for the match even if the account alias later changes.
type EnginePlayer struct {
	UserID string `json:"userId"`
	Alias  string `json:"alias"`
	Paddle Paddle `json:"paddle"`
}

// GameState aggregates everything a client needs to render one tick. It is
// owned exclusively by its Engine and only ever handed out as a copy.
type GameState struct {
	Ball      Ball         `json:"ball"`
	Player1   EnginePlayer `json:"player1"`
	Player2   EnginePlayer `json:"player2"`
	Status    GameStatus   `json:"status"`
	Winner    string       `json:"winner,omitempty"`
	Countdown int          `json:"countdown"`
	Tick      uint64       `json:"tick"`
}

// EngineCallbacks push engine lifecycle out to the registry/gateway.
// All callbacks are invoked from the engine's scheduler goroutines, in
// tick order, never concurrently with each other for the same phase.
type EngineCallbacks struct {
	OnCountdown func(count int)
	OnStart     func()
	OnState     func(GameState)
	OnEnd       func(winnerID string, score1, score2 int)
}

// EngineConfig holds the tunable win/countdown settings.
type EngineConfig struct {
	MaxScore         int
	CountdownSeconds int
}

// DefaultEngineConfig returns the stock 1v1 settings.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxScore:         DefaultMaxScore,
		CountdownSeconds: DefaultCountdownSeconds,
	}
}

// Engine runs the authoritative simulation for one match. All state lives
// behind the mutex; the countdown and simulation schedulers are mutually
// exclusive and both exit on any terminal transition.
type Engine struct {
	mu     sync.Mutex
	cfg    EngineConfig
	cb     EngineCallbacks
	state  GameState
	inputs map[string]Direction

	stop    chan struct{}
	stopped bool
}

// NewEngine creates an engine with both seats filled, in waiting status.
func NewEngine(p1ID, p1Alias, p2ID, p2Alias string, cfg EngineConfig, cb EngineCallbacks) *Engine {
	if cfg.MaxScore <= 0 {
		cfg.MaxScore = DefaultMaxScore
	}
	if cfg.CountdownSeconds <= 0 {
		cfg.CountdownSeconds = DefaultCountdownSeconds
	}
	return &Engine{
		cfg: cfg,
		cb:  cb,
		state: GameState{
			Ball:    NewBall(2),
			Player1: EnginePlayer{UserID: p1ID, Alias: p1Alias, Paddle: NewPaddle(1)},
			Player2: EnginePlayer{UserID: p2ID, Alias: p2Alias, Paddle: NewPaddle(2)},
			Status:  StatusWaiting,
		},
		inputs: map[string]Direction{p1ID: DirNone, p2ID: DirNone},
		stop:   make(chan struct{}),
	}
}

// Start begins the countdown. No-op unless the engine is still waiting.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.state.Status != StatusWaiting {
		e.mu.Unlock()
		return
	}
	e.state.Status = StatusCountdown
	e.state.Countdown = e.cfg.CountdownSeconds
	count := e.state.Countdown
	e.mu.Unlock()

	if e.cb.OnCountdown != nil {
		e.cb.OnCountdown(count)
	}
	go e.runCountdown()
}

// runCountdown is the 1 Hz countdown scheduler. It exits as soon as the
// engine leaves countdown status for any reason.
func (e *Engine) runCountdown() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			count, action := e.countdownStep()
			switch action {
			case countdownAbort:
				return
			case countdownTick:
				if e.cb.OnCountdown != nil {
					e.cb.OnCountdown(count)
				}
			case countdownDone:
				if e.cb.OnStart != nil {
					e.cb.OnStart()
				}
				go e.runSimulation()
				return
			}
		case <-e.stop:
			return
		}
	}
}

type countdownAction int

const (
	countdownAbort countdownAction = iota
	countdownTick
	countdownDone
)

func (e *Engine) countdownStep() (int, countdownAction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Status != StatusCountdown {
		return 0, countdownAbort
	}
	e.state.Countdown--
	if e.state.Countdown <= 0 {
		e.state.Countdown = 0
		e.state.Status = StatusPlaying
		return 0, countdownDone
	}
	return e.state.Countdown, countdownTick
}

// runSimulation is the fixed-rate simulation scheduler. Paused ticks are
// skipped (wall-clock time elapses without gameplay progress); the loop
// exits when the engine returns to countdown or reaches a terminal status.
func (e *Engine) runSimulation() {
	ticker := time.NewTicker(TickDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !e.tick() {
				return
			}
		case <-e.stop:
			return
		}
	}
}

// tick runs one simulation step. Returns false when the loop should exit.
func (e *Engine) tick() bool {
	e.mu.Lock()
	switch e.state.Status {
	case StatusPaused:
		e.mu.Unlock()
		return true
	case StatusPlaying:
	default:
		e.mu.Unlock()
		return false
	}

	e.state.Tick++

	ClampPaddleMove(&e.state.Player1.Paddle, e.inputs[e.state.Player1.UserID])
	ClampPaddleMove(&e.state.Player2.Paddle, e.inputs[e.state.Player2.UserID])

	ball := &e.state.Ball
	Integrate(ball)
	ReflectOffWalls(ball)
	if !ResolvePaddleContact(ball, &e.state.Player1.Paddle) {
		ResolvePaddleContact(ball, &e.state.Player2.Paddle)
	}

	var endInfo *EndMsg
	if scorer := DetectScore(ball); scorer != 0 {
		if scorer == 1 {
			e.state.Player1.Paddle.Score++
			ReseedBall(ball, 2)
		} else {
			e.state.Player2.Paddle.Score++
			ReseedBall(ball, 1)
		}
		if e.state.Player1.Paddle.Score >= e.cfg.MaxScore {
			endInfo = e.finishLocked(e.state.Player1.UserID)
		} else if e.state.Player2.Paddle.Score >= e.cfg.MaxScore {
			endInfo = e.finishLocked(e.state.Player2.UserID)
		}
	}

	snapshot := e.state
	e.mu.Unlock()

	if e.cb.OnState != nil {
		e.cb.OnState(snapshot)
	}
	if endInfo != nil {
		if e.cb.OnEnd != nil {
			e.cb.OnEnd(endInfo.WinnerID, endInfo.Score1, endInfo.Score2)
		}
		return false
	}
	return true
}

// finishLocked transitions to finished and cancels all schedulers.
// Caller holds the mutex and fires OnEnd with the returned info.
func (e *Engine) finishLocked(winnerID string) *EndMsg {
	e.state.Status = StatusFinished
	if winnerID == e.state.Player1.UserID {
		e.state.Winner = e.state.Player1.Alias
	} else if winnerID == e.state.Player2.UserID {
		e.state.Winner = e.state.Player2.Alias
	}
	e.closeLocked()
	return &EndMsg{
		Winner:   e.state.Winner,
		WinnerID: winnerID,
		Score1:   e.state.Player1.Paddle.Score,
		Score2:   e.state.Player2.Paddle.Score,
	}
}

func (e *Engine) closeLocked() {
	if !e.stopped {
		e.stopped = true
		close(e.stop)
	}
}

// Pause suspends the match. Valid from playing, and from countdown so a
// disconnect before the first serve does not let play begin against an
// empty seat; anything else is a no-op. Reports whether the transition
// happened. A pause from countdown aborts the countdown scheduler; Resume
// re-enters through a fresh one either way.
func (e *Engine) Pause() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Status != StatusPlaying && e.state.Status != StatusCountdown {
		return false
	}
	e.state.Status = StatusPaused
	return true
}

// Resume re-enters play via a fresh countdown, with ball and scores exactly
// as they were. Only valid from paused. Reports whether it happened.
func (e *Engine) Resume() bool {
	e.mu.Lock()
	if e.state.Status != StatusPaused {
		e.mu.Unlock()
		return false
	}
	e.state.Status = StatusCountdown
	e.state.Countdown = e.cfg.CountdownSeconds
	count := e.state.Countdown
	e.mu.Unlock()

	if e.cb.OnCountdown != nil {
		e.cb.OnCountdown(count)
	}
	go e.runCountdown()
	return true
}

// ForceEnd is the forfeit shortcut: transition straight to finished with the
// given winner and fire the usual game-end callback. No-op once terminal.
func (e *Engine) ForceEnd(winnerID string) {
	e.mu.Lock()
	if e.state.Status.Terminal() {
		e.mu.Unlock()
		return
	}
	info := e.finishLocked(winnerID)
	e.mu.Unlock()

	if e.cb.OnEnd != nil {
		e.cb.OnEnd(info.WinnerID, info.Score1, info.Score2)
	}
}

// Cancel aborts a match that never got going (waiting or countdown only).
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Status != StatusWaiting && e.state.Status != StatusCountdown {
		return
	}
	e.state.Status = StatusCancelled
	e.closeLocked()
}

// SetPlayerInput records a player's current direction. O(1); ignored for
// anyone who is not one of the two seated players.
func (e *Engine) SetPlayerInput(userID string, dir Direction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.inputs[userID]; !ok {
		return
	}
	e.inputs[userID] = dir
}

// Snapshot returns a copy of the current game state.
func (e *Engine) Snapshot() GameState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Status returns the current lifecycle status.
func (e *Engine) Status() GameStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Status
}

// Scores returns the two paddle scores.
func (e *Engine) Scores() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Player1.Paddle.Score, e.state.Player2.Paddle.Score
}

// HasPlayer reports whether the given user occupies one of the seats.
func (e *Engine) HasPlayer(userID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.inputs[userID]
	return ok
}
