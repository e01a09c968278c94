package main

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Session-lifecycle fact types handed to external collaborators.
const (
	FactMatchCreated = "match_created"
	FactMatchJoined  = "match_joined"
	FactMatchLeft    = "match_left"
	FactMatchEnded   = "match_ended"
	FactMatchExpired = "match_expired"
	FactDisconnected = "player_disconnected"
	FactReconnected  = "player_reconnected"
	FactForfeit      = "forfeit"
	FactOnline       = "player_online"
	FactOffline      = "player_offline"
)

// MatchResult is the completed-match tuple handed off to history
// collaborators on game end.
type MatchResult struct {
	MatchID  string     `json:"matchId"`
	Mode     MatchMode  `json:"mode"`
	Player1  PlayerInfo `json:"player1"`
	Player2  PlayerInfo `json:"player2"`
	Score1   int        `json:"score1"`
	Score2   int        `json:"score2"`
	WinnerID string     `json:"winnerId"`
	EndedAt  time.Time  `json:"endedAt"`
}

// Fact is one recorded lifecycle event.
type Fact struct {
	Type      string
	MatchID   string
	UserID    string
	Data      string // JSON metadata (optional)
	Timestamp time.Time
}

// History records lifecycle facts and completed matches with batched
// background writes so the game loop never waits on the database.
type History struct {
	db     *DB
	events chan Fact
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewHistory creates and starts the background writer. db may be nil, in
// which case facts are dropped (tests, ephemeral servers).
func NewHistory(db *DB) *History {
	h := &History{
		db:     db,
		events: make(chan Fact, 1024),
		stopCh: make(chan struct{}),
	}
	h.wg.Add(1)
	go h.writer()
	return h
}

// Record enqueues a fact for async persistence. Non-blocking: a full
// channel drops the fact rather than stalling the caller.
func (h *History) Record(factType, matchID, userID string, data interface{}) {
	var meta string
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			meta = string(raw)
		}
	}
	select {
	case h.events <- Fact{
		Type:      factType,
		MatchID:   matchID,
		UserID:    userID,
		Data:      meta,
		Timestamp: time.Now().UTC(),
	}:
	default:
		// Channel full — drop the fact rather than blocking the game loop
	}
}

// Stop flushes pending facts and stops the writer.
func (h *History) Stop() {
	close(h.stopCh)
	h.wg.Wait()
}

func (h *History) writer() {
	defer h.wg.Done()
	for {
		select {
		case f := <-h.events:
			h.persist(f)
		case <-h.stopCh:
			for {
				select {
				case f := <-h.events:
					h.persist(f)
				default:
					return
				}
			}
		}
	}
}

func (h *History) persist(f Fact) {
	if h.db == nil {
		return
	}
	if err := h.db.InsertFact(f); err != nil {
		log.Printf("history: insert fact: %v", err)
	}
	if f.Type != FactMatchEnded || f.Data == "" {
		return
	}
	var result MatchResult
	if err := json.Unmarshal([]byte(f.Data), &result); err != nil {
		log.Printf("history: decode match result: %v", err)
		return
	}
	if err := h.db.InsertMatchResult(result); err != nil {
		log.Printf("history: insert match result: %v", err)
	}
}
