package main

import (
	"sync"
	"time"
)

// MatchMode tags how a match was set up.
type MatchMode string

const (
	Mode1v1        MatchMode = "1v1"
	ModeTournament MatchMode = "tournament"
)

// Valid reports whether m is a known mode.
func (m MatchMode) Valid() bool {
	return m == Mode1v1 || m == ModeTournament
}

// Broadcaster pushes events to one player's live connection.
// Implemented by *Client; tests substitute their own.
type Broadcaster interface {
	SendEvent(event string, data interface{})
	SendState(state GameState)
}

// Seat is the player1/player2 slot within a Match. The connection is the
// weak "reachable right now" association — it is rebound on reconnect and
// may be nil for players driving the match over the REST fallback. It has
// its own lock because engine callbacks read it while the registry rebinds.
type Seat struct {
	UserID string
	Alias  string

	connMu sync.Mutex
	conn   Broadcaster
}

// setConn rebinds (or clears) the seat's live connection.
func (s *Seat) setConn(conn Broadcaster) {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
}

// connRef returns the current connection, which may be nil.
func (s *Seat) connRef() Broadcaster {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn
}

// send delivers an event to the seat if it currently has a connection.
func (s *Seat) send(event string, data interface{}) {
	if s == nil {
		return
	}
	if c := s.connRef(); c != nil {
		c.SendEvent(event, data)
	}
}

// sendState delivers a state snapshot to the seat if reachable.
func (s *Seat) sendState(state GameState) {
	if s == nil {
		return
	}
	if c := s.connRef(); c != nil {
		c.SendState(state)
	}
}

// Match is one contest between two seated players, tracked from creation to
// terminal status. Scores and status mirror the Engine for REST
// introspection; the Engine itself is created lazily once both seats fill.
type Match struct {
	ID        string
	Mode      MatchMode
	Status    GameStatus
	Player1   *Seat
	Player2   *Seat // nil until joined
	Score1    int
	Score2    int
	WinnerID  string
	CreatedAt time.Time
	StartedAt time.Time
	Engine    *Engine
}

// broadcast sends an event to both seats.
func (m *Match) broadcast(event string, data interface{}) {
	m.Player1.send(event, data)
	m.Player2.send(event, data)
}

// seatOf returns the seat occupied by userID, or nil.
func (m *Match) seatOf(userID string) *Seat {
	if m.Player1 != nil && m.Player1.UserID == userID {
		return m.Player1
	}
	if m.Player2 != nil && m.Player2.UserID == userID {
		return m.Player2
	}
	return nil
}

// opponentOf returns the other seat, or nil.
func (m *Match) opponentOf(userID string) *Seat {
	if m.Player1 != nil && m.Player1.UserID == userID {
		return m.Player2
	}
	if m.Player2 != nil && m.Player2.UserID == userID {
		return m.Player1
	}
	return nil
}

// seatNumber returns 1 or 2 for a seated user, 0 otherwise.
func (m *Match) seatNumber(userID string) int {
	if m.Player1 != nil && m.Player1.UserID == userID {
		return 1
	}
	if m.Player2 != nil && m.Player2.UserID == userID {
		return 2
	}
	return 0
}

// PlayerInfo is the public projection of one seat.
type PlayerInfo struct {
	ID    string `json:"id"`
	Alias string `json:"alias"`
}

// MatchResponse is the DTO projection of a Match, hiding the engine.
type MatchResponse struct {
	ID        string      `json:"id"`
	Mode      MatchMode   `json:"mode"`
	Status    GameStatus  `json:"status"`
	Player1   PlayerInfo  `json:"player1"`
	Player2   *PlayerInfo `json:"player2,omitempty"`
	Score1    int         `json:"score1"`
	Score2    int         `json:"score2"`
	WinnerID  string      `json:"winnerId,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	StartedAt *time.Time  `json:"startedAt,omitempty"`
}
