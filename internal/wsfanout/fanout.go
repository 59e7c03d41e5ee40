// Package wsfanout is the registry of per-team WebSocket connections the
// pipeline's WS publisher stage delivers to. Grounded on spec.md §4.10 and,
// for the register/unregister/send-channel shape, on
// 0xtitan6-polymarket-mm's internal/api.Hub/Client, adapted from a single
// broadcast hub to single-connection-per-team addressed delivery.
package wsfanout

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// MessageType enumerates every outbound event the fan-out can deliver.
type MessageType string

const (
	NewOrderAck      MessageType = "new_order_ack"
	NewOrderReject   MessageType = "new_order_reject"
	ExecutionReport  MessageType = "execution_report"
	CancelAck        MessageType = "cancel_ack"
	CancelReject     MessageType = "cancel_reject"
	PositionSnapshot MessageType = "position_snapshot"
	MarketData       MessageType = "market_data"
	Signal           MessageType = "signal"
	Event            MessageType = "event"
	ConnectionStatus MessageType = "connection_status"
)

// Message is the envelope stamped onto every outbound delivery.
type Message struct {
	Seq       uint64      `json:"seq"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`
}

// connection wraps one team's live socket plus its outbound sequence
// counter and a bounded send buffer, mirroring the teacher-adjacent Hub's
// per-client send channel so a slow reader can't block the publisher
// goroutine indefinitely.
type connection struct {
	teamID string
	conn   *websocket.Conn
	send   chan Message
	seq    uint64
	done   chan struct{}
}

const sendBufferSize = 64

// Registry is the team_id -> connection map. A new connection for a team
// closes and replaces any prior one (single connection per team, §4.10).
type Registry struct {
	mu    sync.Mutex
	conns map[string]*connection
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*connection)}
}

// Register admits a new connection for teamID, closing any connection it
// already held. The sequence counter resets to zero on every new
// connection, per §5's per-connection ordering guarantee.
func (r *Registry) Register(teamID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prior, ok := r.conns[teamID]; ok {
		r.closeLocked(prior)
	}

	c := &connection{teamID: teamID, conn: conn, send: make(chan Message, sendBufferSize), done: make(chan struct{})}
	r.conns[teamID] = c
	go r.writePump(c)
}

// Unregister removes and closes teamID's connection, if any.
func (r *Registry) Unregister(teamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[teamID]; ok {
		r.closeLocked(c)
	}
}

func (r *Registry) closeLocked(c *connection) {
	delete(r.conns, c.teamID)
	close(c.done)
	_ = c.conn.Close()
}

// Send stamps a sequence number on the message and best-effort delivers it
// to teamID's connection. If the team has no connection, or its send
// buffer is full, the message is dropped (best-effort delivery per §4.10);
// a full buffer also disconnects the team so a wedged socket doesn't leak
// memory indefinitely.
func (r *Registry) Send(teamID string, msgType MessageType, data any) {
	r.mu.Lock()
	c, ok := r.conns[teamID]
	if !ok {
		r.mu.Unlock()
		return
	}
	c.seq++
	msg := Message{Seq: c.seq, Type: msgType, Timestamp: time.Now(), Data: data}
	r.mu.Unlock()

	select {
	case c.send <- msg:
	default:
		log.Warn().Str("team_id", teamID).Str("type", string(msgType)).Msg("ws send buffer full, disconnecting team")
		r.Unregister(teamID)
	}
}

// Connected reports whether teamID currently has a live connection.
func (r *Registry) Connected(teamID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[teamID]
	return ok
}

// writePump drains c.send to the socket until the connection is closed or
// a write fails, at which point it disconnects the team. Mirrors the
// teacher-adjacent Hub's writePump/ticker-ping shape, collapsed to the
// essentials this domain needs.
func (r *Registry) writePump(c *connection) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Warn().Err(err).Str("team_id", c.teamID).Msg("ws write failed, disconnecting team")
				r.Unregister(c.teamID)
				return
			}
		}
	}
}
