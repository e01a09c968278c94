package main

import "encoding/json"

// Client -> server events
const (
	EvtMatchCreate    = "match:create"
	EvtMatchJoin      = "match:join"
	EvtMatchQuick     = "match:quickmatch"
	EvtMatchLeave     = "match:leave"
	EvtMatchReconnect = "match:reconnect"
	EvtPlayerInput    = "player:input"
	EvtPing           = "ping"
)

// Server -> client events
const (
	EvtMatchCreated    = "match:created"
	EvtMatchWaiting    = "match:waiting"
	EvtMatchJoined     = "match:joined"
	EvtOpponentJoined  = "match:opponent_joined"
	EvtOpponentLeft    = "match:opponent_left"
	EvtOpponentDisconn = "match:opponent_disconnected"
	EvtOpponentReconn  = "match:opponent_reconnected"
	EvtMatchesUpdated  = "matches:updated"
	EvtGameCountdown   = "game:countdown"
	EvtGameStart       = "game:start"
	EvtGameState       = "game:state"
	EvtGamePaused      = "game:paused"
	EvtGameResumed     = "game:resumed"
	EvtGameEnd         = "game:end"
	EvtError           = "error"
	EvtPong            = "pong"
)

// Error codes carried by EvtError
const (
	ErrCodeBadEnvelope    = "bad_envelope"
	ErrCodeUnknownEvent   = "unknown_event"
	ErrCodeMatchNotFound  = "match_not_found"
	ErrCodeMatchFull      = "match_full"
	ErrCodeSelfJoin       = "self_join"
	ErrCodeAlreadyInMatch = "already_in_match"
	ErrCodeNotInMatch     = "not_in_match"
	ErrCodeBadInput       = "bad_input"
)

// Direction of paddle movement; the latest value per player wins each tick.
type Direction string

const (
	DirUp   Direction = "up"
	DirDown Direction = "down"
	DirNone Direction = "none"
)

// Valid reports whether d is one of the three known directions.
func (d Direction) Valid() bool {
	return d == DirUp || d == DirDown || d == DirNone
}

// Envelope wraps all outgoing messages.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// InEnvelope is used for incoming messages — json.RawMessage avoids double-unmarshal.
type InEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinMsg asks to join a specific waiting match.
type JoinMsg struct {
	MatchID string `json:"matchId"`
}

// CreateMsg optionally carries the mode for a created match.
type CreateMsg struct {
	Mode string `json:"mode,omitempty"`
}

// InputMsg carries a paddle direction.
type InputMsg struct {
	Direction Direction `json:"direction"`
}

// MatchIDMsg is the payload of match:created / match:waiting.
type MatchIDMsg struct {
	MatchID string `json:"matchId"`
}

// JoinedMsg tells a client which seat it occupies and who it faces.
type JoinedMsg struct {
	MatchID      string `json:"matchId"`
	Opponent     string `json:"opponent"`
	PlayerNumber int    `json:"playerNumber"`
}

// OpponentMsg carries the opponent alias for match:opponent_joined.
type OpponentMsg struct {
	Opponent string `json:"opponent"`
}

// DisconnectedMsg tells the remaining player how long the grace period is.
type DisconnectedMsg struct {
	ReconnectTimeout float64 `json:"reconnectTimeout"` // seconds
}

// MatchListMsg is the lobby snapshot broadcast on matches:updated.
type MatchListMsg struct {
	Matches []MatchResponse `json:"matches"`
}

// CountdownMsg carries the current countdown value.
type CountdownMsg struct {
	Count int `json:"count"`
}

// PausedMsg carries the pause reason.
type PausedMsg struct {
	Reason string `json:"reason"`
}

// EndMsg is sent once to both seats when a match finishes.
type EndMsg struct {
	Winner   string `json:"winner"` // display alias
	WinnerID string `json:"winnerId"`
	Score1   int    `json:"score1"`
	Score2   int    `json:"score2"`
}

// ErrorMsg is the typed error reply; never fatal to the connection.
type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
