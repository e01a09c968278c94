package main

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 4096
	sendBufSize       = 256
	maxMessagesPerSec = 120 // input arrives at up to 60Hz, leave headroom
)

// Client represents one authenticated WebSocket connection.
type Client struct {
	hub        *Hub
	registry   *Registry
	conn       *websocket.Conn
	send       chan []byte
	identity   Identity
	remoteAddr string
	binary     bool // send game:state as msgpack binary frames

	msgCount   int
	msgResetAt time.Time
}

// NewClient creates a Client for an already-verified identity.
func NewClient(hub *Hub, registry *Registry, conn *websocket.Conn, ident Identity, remoteAddr string, binary bool) *Client {
	return &Client{
		hub:        hub,
		registry:   registry,
		conn:       conn,
		send:       make(chan []byte, sendBufSize),
		identity:   ident,
		remoteAddr: remoteAddr,
		binary:     binary,
	}
}

// ReadPump reads messages from the WebSocket connection.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.TrackDisconnect(c.remoteAddr)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws error: %v", err)
			}
			break
		}

		now := time.Now()
		if now.After(c.msgResetAt) {
			c.msgCount = 0
			c.msgResetAt = now.Add(time.Second)
		}
		c.msgCount++
		if c.msgCount > maxMessagesPerSec {
			log.Printf("rate limit exceeded for %s, disconnecting", c.remoteAddr)
			break
		}

		c.handleMessage(message)
	}
}

// WritePump writes messages to the WebSocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// 0xFF prefix marks a binary frame queued by SendBinary
			var err error
			if len(message) > 0 && message[0] == 0xFF {
				err = c.conn.WriteMessage(websocket.BinaryMessage, message[1:])
			} else {
				err = c.conn.WriteMessage(websocket.TextMessage, message)
			}
			if err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendEvent marshals and sends one envelope to the client.
func (c *Client) SendEvent(event string, data interface{}) {
	raw, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		log.Printf("marshal error: %v", err)
		return
	}
	c.SendRaw(raw)
}

// SendState pushes a game-state snapshot, as msgpack binary if the client
// opted in, JSON text otherwise.
func (c *Client) SendState(state GameState) {
	if !c.binary {
		c.SendEvent(EvtGameState, state)
		return
	}
	raw, err := msgpack.Marshal(state)
	if err != nil {
		log.Printf("msgpack marshal: %v", err)
		return
	}
	c.SendBinary(raw)
}

// SendRaw sends pre-marshaled bytes as a text message to the client.
// Non-blocking: a slow client drops messages, never the simulation.
func (c *Client) SendRaw(data []byte) {
	defer func() { recover() }()
	select {
	case c.send <- data:
	default:
	}
}

// SendBinary sends pre-marshaled bytes as a binary WebSocket message.
func (c *Client) SendBinary(data []byte) {
	defer func() { recover() }()
	msg := make([]byte, len(data)+1)
	msg[0] = 0xFF
	copy(msg[1:], data)
	select {
	case c.send <- msg:
	default:
	}
}

// CloseWithCode sends a close control frame with the given code, then
// closes the underlying connection. Used for tab takeover.
func (c *Client) CloseWithCode(code int, reason string) {
	deadline := time.Now().Add(writeWait)
	c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	c.conn.Close()
}

func (c *Client) sendError(code, message string) {
	c.SendEvent(EvtError, ErrorMsg{Code: code, Message: message})
}

// handleMessage routes one incoming envelope. Malformed envelopes and
// unknown events get a typed error reply; the connection stays open.
func (c *Client) handleMessage(raw []byte) {
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		c.sendError(ErrCodeBadEnvelope, "malformed message envelope")
		return
	}

	switch env.Event {
	case EvtMatchCreate:
		c.handleCreate(env.Data)
	case EvtMatchJoin:
		c.handleJoin(env.Data)
	case EvtMatchQuick:
		c.handleQuickMatch()
	case EvtMatchLeave:
		c.handleLeave()
	case EvtMatchReconnect:
		c.handleReconnect()
	case EvtPlayerInput:
		c.handleInput(env.Data)
	case EvtPing:
		c.SendEvent(EvtPong, nil)
	default:
		c.sendError(ErrCodeUnknownEvent, "unknown event: "+env.Event)
	}
}

func (c *Client) handleCreate(data json.RawMessage) {
	var msg CreateMsg
	if len(data) > 0 {
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError(ErrCodeBadEnvelope, "malformed match:create payload")
			return
		}
	}
	m, err := c.registry.CreateMatch(c.identity.UserID, c.identity.DisplayName, c, MatchMode(msg.Mode))
	if err != nil {
		c.sendRegistryError(err)
		return
	}
	c.SendEvent(EvtMatchCreated, MatchIDMsg{MatchID: m.ID})
	c.SendEvent(EvtMatchWaiting, MatchIDMsg{MatchID: m.ID})
}

func (c *Client) handleJoin(data json.RawMessage) {
	var msg JoinMsg
	if err := json.Unmarshal(data, &msg); err != nil || msg.MatchID == "" {
		c.sendError(ErrCodeBadEnvelope, "malformed match:join payload")
		return
	}
	if _, err := c.registry.JoinMatch(msg.MatchID, c.identity.UserID, c.identity.DisplayName, c); err != nil {
		c.sendRegistryError(err)
	}
	// On success the registry notifies both seats with match:joined.
}

func (c *Client) handleQuickMatch() {
	m, created, err := c.registry.QuickMatch(c.identity.UserID, c.identity.DisplayName, c, Mode1v1)
	if err != nil {
		c.sendRegistryError(err)
		return
	}
	if created {
		c.SendEvent(EvtMatchCreated, MatchIDMsg{MatchID: m.ID})
		c.SendEvent(EvtMatchWaiting, MatchIDMsg{MatchID: m.ID})
	}
}

func (c *Client) handleLeave() {
	if err := c.registry.LeaveMatch(c.identity.UserID); err != nil {
		c.sendRegistryError(err)
	}
}

func (c *Client) handleReconnect() {
	m := c.registry.HandleReconnect(c.identity.UserID, c)
	if m == nil {
		c.sendError(ErrCodeNotInMatch, "no match to reconnect to")
		return
	}
	seat := m.seatNumber(c.identity.UserID)
	opponent := ""
	if opp := m.opponentOf(c.identity.UserID); opp != nil {
		opponent = opp.Alias
	}
	c.SendEvent(EvtMatchJoined, JoinedMsg{MatchID: m.ID, Opponent: opponent, PlayerNumber: seat})
	if m.Engine != nil {
		c.SendState(m.Engine.Snapshot())
	} else {
		c.SendEvent(EvtMatchWaiting, MatchIDMsg{MatchID: m.ID})
	}
}

func (c *Client) handleInput(data json.RawMessage) {
	var msg InputMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError(ErrCodeBadEnvelope, "malformed player:input payload")
		return
	}
	if !msg.Direction.Valid() {
		c.sendError(ErrCodeBadInput, "direction must be up, down or none")
		return
	}
	m := c.registry.GetPlayerMatch(c.identity.UserID)
	if m == nil || m.Engine == nil {
		return // not seated or match not started; latest-wins input has nowhere to go
	}
	m.Engine.SetPlayerInput(c.identity.UserID, msg.Direction)
}

// sendRegistryError maps registry sentinel errors onto protocol codes.
func (c *Client) sendRegistryError(err error) {
	switch {
	case errors.Is(err, ErrMatchNotFound):
		c.sendError(ErrCodeMatchNotFound, err.Error())
	case errors.Is(err, ErrMatchNotJoinable):
		c.sendError(ErrCodeMatchNotFound, err.Error())
	case errors.Is(err, ErrMatchFull):
		c.sendError(ErrCodeMatchFull, err.Error())
	case errors.Is(err, ErrSelfJoin):
		c.sendError(ErrCodeSelfJoin, err.Error())
	case errors.Is(err, ErrAlreadyInMatch):
		c.sendError(ErrCodeAlreadyInMatch, err.Error())
	case errors.Is(err, ErrNotInMatch):
		c.sendError(ErrCodeNotInMatch, err.Error())
	default:
		c.sendError(ErrCodeBadInput, err.Error())
	}
}
