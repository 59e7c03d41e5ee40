// Package pipeline wires the five stage workers (validator, matcher, trade
// publisher, position tracker, WS publisher) together with bounded
// channels and a shared tomb.Tomb, per spec.md §4.7/§5.
//
// Grounded on the teacher's net.Server.Run (tomb.WithContext supervising a
// worker pool plus a session handler) and original_source's
// domain/pipeline (OrderMessage envelope, per-stage queues, sentinel
// shutdown value).
package pipeline

import (
	"optionex/internal/common"
)

// Kind discriminates the two request shapes that flow through the order
// queue.
type Kind int

const (
	NewOrder Kind = iota
	CancelOrder
)

// TeamInfo identifies the submitting team and its assigned role, carried
// alongside every message so downstream stages don't need a side lookup.
type TeamInfo struct {
	TeamID string
	Role   string
}

// every message type on every inter-stage queue carries a Shutdown flag
// rather than relying on channel close, because several of these queues
// are multi-producer (order_queue: every HTTP handler goroutine;
// websocket_queue: validator, matcher, and trade-publisher stages all
// enqueue to it) and closing a channel from one of several producers would
// race the others. A Shutdown-flagged message is the pipeline's sentinel
// value: the single consumer of each queue checks it first and exits
// before looking at the rest of the message.

// OrderMessage is the envelope on order_queue: {kind, payload, team_info,
// request_id} per spec.md §4.7.
type OrderMessage struct {
	Shutdown  bool
	Kind      Kind
	RequestID string
	Team      TeamInfo

	// NewOrderParams is populated when Kind == NewOrder.
	NewOrderParams common.NewOrderParams

	// CancelInstrumentID/CancelOrderID are populated when Kind == CancelOrder.
	CancelInstrumentID string
	CancelOrderID      string
}

// MatchMessage is what the validator stage hands to the matcher: an
// accepted order plus its originating team and request id.
type MatchMessage struct {
	Shutdown  bool
	Order     common.Order
	Team      TeamInfo
	RequestID string
}

// TradeMessage is what the matcher hands to the trade publisher: the full
// OrderResult (including any fills), the order as submitted, and its team.
type TradeMessage struct {
	Shutdown  bool
	Result    common.OrderResult
	Order     common.Order
	Team      TeamInfo
	RequestID string
}

// PositionMessage is what the trade publisher forwards to the position
// tracker; identical shape to TradeMessage, kept as a distinct type so
// each stage's queue is unambiguous about what it carries.
type PositionMessage struct {
	Shutdown  bool
	Result    common.OrderResult
	Order     common.Order
	Team      TeamInfo
	RequestID string
}

// WSMessage is what any stage forwards to the WS publisher for delivery to
// one team's connection.
type WSMessage struct {
	Shutdown bool
	TeamID   string
	Type     string
	Payload  any
}
