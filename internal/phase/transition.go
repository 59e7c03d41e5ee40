package phase

import (
	"context"
	"time"

	"optionex/internal/common"

	"github.com/rs/zerolog/log"
)

// Venue is the subset of exchange-venue behaviour the transition handler
// needs to react to a phase change. Kept as an interface here (rather than
// importing internal/venue) to avoid a import cycle: venue depends on
// phase, not the reverse.
type Venue interface {
	// ExecuteBatchAuction clears every book currently running the batch
	// engine, returning every trade the clearing produced (one entry per
	// trade, not per order). Called once on PRE_OPEN -> OPENING_AUCTION.
	ExecuteBatchAuction(ctx context.Context) ([]common.Trade, error)

	// CancelAllRestingOrders removes every order still resting in any
	// book. Called once on CONTINUOUS -> CLOSED.
	CancelAllRestingOrders(ctx context.Context) error
}

// TradePublisher re-enters the pipeline's trade_queue path for a trade the
// transition handler observed outside the normal submit-order flow (i.e. a
// batch auction clearing), so it gets the same execution-report/fee/position
// handling a continuously-matched trade gets. Satisfied by *pipeline.Pipeline.
type TradePublisher interface {
	PublishBatchTrade(trade common.Trade)
}

// TransitionHandler watches the sequence of phases a Manager reports and
// fires one-shot side effects on specific transitions. It is idempotent
// with respect to an already-observed transition: Observe must be called
// exactly once per tick by the caller (the Poller), and a transition fires
// at most once.
type TransitionHandler struct {
	venue    Venue
	trades   TradePublisher
	lastSeen Type
	haveSeen bool
}

// NewTransitionHandler builds a handler with no prior observation; its
// first Observe call only establishes the baseline phase and performs no
// side effect, matching spec behaviour for a cold start mid-phase.
func NewTransitionHandler(venue Venue, trades TradePublisher) *TransitionHandler {
	return &TransitionHandler{venue: venue, trades: trades}
}

// Observe compares current against the last-seen phase and fires the
// matching transition side effect, if any.
func (h *TransitionHandler) Observe(ctx context.Context, current Type) {
	if !h.haveSeen {
		h.lastSeen = current
		h.haveSeen = true
		return
	}

	previous := h.lastSeen
	h.lastSeen = current
	if previous == current {
		return
	}

	switch {
	case previous == PreOpen && current == OpeningAuction:
		log.Info().Msg("phase transition pre_open -> opening_auction: running opening batch auction")
		trades, err := h.venue.ExecuteBatchAuction(ctx)
		if err != nil {
			log.Error().Err(err).Msg("opening auction execution failed")
			return
		}
		for _, trade := range trades {
			h.trades.PublishBatchTrade(trade)
		}
	case previous == Continuous && current == Closed:
		log.Info().Msg("phase transition continuous -> closed: cancelling all resting orders")
		if err := h.venue.CancelAllRestingOrders(ctx); err != nil {
			log.Error().Err(err).Msg("cancel-all-on-close failed")
		}
	default:
		log.Info().Str("from", previous.String()).Str("to", current.String()).Msg("phase transition")
	}
}

// Poller ticks the Manager at a fixed interval and feeds every observed
// phase through the TransitionHandler. It is meant to run as one of the
// goroutines supervised by the pipeline's tomb.Tomb.
type Poller struct {
	manager  *Manager
	handler  *TransitionHandler
	interval time.Duration
	now      func() time.Time
}

// defaultPollInterval matches the granularity spec.md implies for phase
// polling: frequent enough that a transition is caught within a fraction
// of a second of its scheduled boundary.
const defaultPollInterval = 100 * time.Millisecond

// NewPoller builds a Poller. If interval is zero, defaultPollInterval is
// used. nowFn defaults to time.Now; tests supply a fake clock.
func NewPoller(manager *Manager, handler *TransitionHandler, interval time.Duration, nowFn func() time.Time) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Poller{manager: manager, handler: handler, interval: interval, now: nowFn}
}

// Run blocks, polling until ctx is cancelled. Intended to be launched as
// `t.Go(func() error { return poller.Run(ctx) })`.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.handler.Observe(ctx, p.manager.CurrentState(p.now()).PhaseType)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.handler.Observe(ctx, p.manager.CurrentState(p.now()).PhaseType)
		}
	}
}
