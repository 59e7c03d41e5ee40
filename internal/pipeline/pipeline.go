package pipeline

import (
	"fmt"

	"optionex/internal/common"
	"optionex/internal/coordinator"
	"optionex/internal/fee"
	"optionex/internal/phase"
	"optionex/internal/position"
	"optionex/internal/teams"
	"optionex/internal/validation"
	"optionex/internal/venue"
	"optionex/internal/wsfanout"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

// PhaseSource is the zero-argument phase read the validator stage needs
// for a ValidationContext's TickPhase. Satisfied by *phase.Clock.
type PhaseSource interface {
	CurrentPhase() phase.State
}

// Config sizes the bounded queues between stages.
type Config struct {
	OrderQueueSize    int
	MatchQueueSize    int
	TradeQueueSize    int
	PositionQueueSize int
	WSQueueSize       int
}

func (c Config) withDefaults() Config {
	if c.OrderQueueSize <= 0 {
		c.OrderQueueSize = 256
	}
	if c.MatchQueueSize <= 0 {
		c.MatchQueueSize = 256
	}
	if c.TradeQueueSize <= 0 {
		c.TradeQueueSize = 256
	}
	if c.PositionQueueSize <= 0 {
		c.PositionQueueSize = 256
	}
	if c.WSQueueSize <= 0 {
		c.WSQueueSize = 256
	}
	return c
}

// Pipeline wires the five stage workers together with their bounded
// channels, dispatching over the shared domain services (venue, validator,
// coordinator, position store, fee calculator, WS fan-out).
type Pipeline struct {
	cfg Config

	venue      *venue.Venue
	validator  *validation.Validator
	rateLimits *validation.RateLimitStore
	positions  *position.Store
	fees       *fee.Calculator
	coord      *coordinator.Coordinator
	ws         *wsfanout.Registry
	roles      *teams.Registry
	phases     PhaseSource

	orderQueue    chan OrderMessage
	matchQueue    chan MatchMessage
	tradeQueue    chan TradeMessage
	positionQueue chan PositionMessage
	wsQueue       chan WSMessage
}

// Deps bundles every collaborator the pipeline dispatches to.
type Deps struct {
	Venue      *venue.Venue
	Validator  *validation.Validator
	RateLimits *validation.RateLimitStore
	Positions  *position.Store
	Fees       *fee.Calculator
	Coord      *coordinator.Coordinator
	WS         *wsfanout.Registry
	Roles      *teams.Registry
	Phases     PhaseSource
}

// New builds a Pipeline and its queues. Run must be called to start the
// stage goroutines.
func New(deps Deps, cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		cfg:           cfg,
		venue:         deps.Venue,
		validator:     deps.Validator,
		rateLimits:    deps.RateLimits,
		positions:     deps.Positions,
		fees:          deps.Fees,
		coord:         deps.Coord,
		ws:            deps.WS,
		roles:         deps.Roles,
		phases:        deps.Phases,
		orderQueue:    make(chan OrderMessage, cfg.OrderQueueSize),
		matchQueue:    make(chan MatchMessage, cfg.MatchQueueSize),
		tradeQueue:    make(chan TradeMessage, cfg.TradeQueueSize),
		positionQueue: make(chan PositionMessage, cfg.PositionQueueSize),
		wsQueue:       make(chan WSMessage, cfg.WSQueueSize),
	}
}

// ErrQueueFull is returned by the Enqueue* methods when the order queue's
// buffer is exhausted; callers (the HTTP layer) translate this into a
// 503-equivalent overload response rather than blocking the request
// goroutine.
var ErrQueueFull = fmt.Errorf("pipeline: order queue is full")

// EnqueueNewOrder pushes a new-order request onto order_queue. Non-blocking:
// a full queue returns ErrQueueFull immediately (back-pressure, §5).
func (p *Pipeline) EnqueueNewOrder(requestID string, team TeamInfo, params common.NewOrderParams) error {
	select {
	case p.orderQueue <- OrderMessage{Kind: NewOrder, RequestID: requestID, Team: team, NewOrderParams: params}:
		return nil
	default:
		return ErrQueueFull
	}
}

// EnqueueCancelOrder pushes a cancel request onto order_queue.
func (p *Pipeline) EnqueueCancelOrder(requestID string, team TeamInfo, instrumentID, orderID string) error {
	select {
	case p.orderQueue <- OrderMessage{Kind: CancelOrder, RequestID: requestID, Team: team, CancelInstrumentID: instrumentID, CancelOrderID: orderID}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run launches all five stage workers under t, the way the teacher's
// net.Server.Run launches its worker pool and session handler under one
// tomb.Tomb.
func (p *Pipeline) Run(t *tomb.Tomb) {
	t.Go(func() error { return p.runValidatorStage() })
	t.Go(func() error { return p.runMatcherStage() })
	t.Go(func() error { return p.runTradePublisherStage() })
	t.Go(func() error { return p.runPositionTrackerStage() })
	t.Go(func() error { return p.runWSPublisherStage() })
}

// Shutdown pushes one sentinel message onto every queue so each stage's
// single consumer drains its current message, observes Shutdown, and
// exits.
func (p *Pipeline) Shutdown() {
	p.orderQueue <- OrderMessage{Shutdown: true}
	p.matchQueue <- MatchMessage{Shutdown: true}
	p.tradeQueue <- TradeMessage{Shutdown: true}
	p.positionQueue <- PositionMessage{Shutdown: true}
	p.wsQueue <- WSMessage{Shutdown: true}
}

// safeStage recovers a panic from a single message handler into a logged
// error, so one bad message can't kill the stage goroutine (spec.md §4.7:
// "any exception in message handling is logged and the worker continues").
func safeStage(stage string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("stage", stage).Interface("panic", r).Msg("recovered panic in pipeline stage")
		}
	}()
	fn()
}
