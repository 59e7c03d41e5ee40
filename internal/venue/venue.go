// Package venue composes the order books and instrument catalogue for the
// whole exchange, dispatching each submitted order to the matching engine
// that the current phase selects.
//
// Grounded on original_source's domain/exchange/venue.py (ExchangeVenue:
// list_instrument, submit_order, cancel_order, get_order_book,
// get_trade_history, get_market_summary, execute_batch,
// get_matching_mode) and, for the mutex-guarded map-of-resources shape, on
// the teacher's net.Server client-session bookkeeping.
package venue

import (
	"context"
	"fmt"
	"sync"

	"optionex/internal/book"
	"optionex/internal/common"
	"optionex/internal/matching"
	"optionex/internal/phase"

	"github.com/rs/zerolog/log"
)

// PhaseSource reports the current phase rules. Venue dispatches by
// execution style and checks submission/cancellation flags against it.
type PhaseSource interface {
	CurrentPhase() phase.State
}

// Venue owns every instrument's order book and routes orders to the
// continuous or batch engine according to the current phase.
type Venue struct {
	mu sync.RWMutex

	phases PhaseSource

	continuous matching.Engine
	batch      matching.Engine

	instruments map[string]common.Instrument
	books       map[string]*book.OrderBook
}

// New builds an empty venue. continuousEngine/batchEngine are injected so
// tests can substitute fakes; production wiring passes
// matching.NewContinuousEngine() / matching.NewBatchEngine().
func New(phases PhaseSource, continuousEngine, batchEngine matching.Engine) *Venue {
	return &Venue{
		phases:      phases,
		continuous:  continuousEngine,
		batch:       batchEngine,
		instruments: make(map[string]common.Instrument),
		books:       make(map[string]*book.OrderBook),
	}
}

// ListInstrument registers a new tradeable instrument and its empty book.
// Re-listing the same instrument id is rejected.
func (v *Venue) ListInstrument(inst common.Instrument) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.instruments[inst.Symbol]; exists {
		return fmt.Errorf("venue: instrument %s already listed", inst.Symbol)
	}
	v.instruments[inst.Symbol] = inst
	v.books[inst.Symbol] = book.NewOrderBook(inst.Symbol)
	return nil
}

// GetInstrument returns the registered instrument, if any.
func (v *Venue) GetInstrument(instrumentID string) (common.Instrument, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	inst, ok := v.instruments[instrumentID]
	return inst, ok
}

// GetOrderBook exposes the underlying book for read-only queries (depth,
// best bid/ask, recent trades). Callers must not mutate it directly.
func (v *Venue) GetOrderBook(instrumentID string) (*book.OrderBook, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ob, ok := v.books[instrumentID]
	return ob, ok
}

// SubmitOrder validates the instrument and the current phase's submission
// flag, then dispatches to the engine the phase's execution style selects.
func (v *Venue) SubmitOrder(order common.Order) (common.OrderResult, error) {
	state := v.phases.CurrentPhase()
	if !state.OrderSubmissionAllowed {
		return common.OrderResult{}, fmt.Errorf("venue: order submission not allowed in phase %s", state.PhaseType)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	ob, ok := v.books[order.InstrumentID]
	if !ok {
		return common.OrderResult{}, common.ErrUnknownInstrument
	}

	engine := v.engineFor(state.ExecutionStyle)
	if engine == nil {
		return common.OrderResult{}, fmt.Errorf("venue: no matching activity in phase %s", state.PhaseType)
	}

	return engine.Submit(order, ob)
}

func (v *Venue) engineFor(style phase.ExecutionStyle) matching.Engine {
	switch style {
	case phase.ContinuousStyle:
		return v.continuous
	case phase.BatchStyle:
		return v.batch
	default:
		return nil
	}
}

// CancelOrder removes a resting order, enforcing ownership: a trader may
// only cancel their own order. Both "not found" and "not owner" are
// reported through the same sentinel family so callers translate them into
// one opaque rejection (§4.5 cancellation-validation note), but they
// remain individually distinguishable to internal callers via errors.Is.
func (v *Venue) CancelOrder(instrumentID, orderID, traderID string) (*common.Order, error) {
	state := v.phases.CurrentPhase()
	if !state.OrderCancellationAllowed {
		return nil, fmt.Errorf("venue: order cancellation not allowed in phase %s", state.PhaseType)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	ob, ok := v.books[instrumentID]
	if !ok {
		return nil, common.ErrUnknownInstrument
	}

	existing, ok := ob.GetOrder(orderID)
	if !ok {
		return nil, common.ErrOrderNotFound
	}
	if existing.TraderID != traderID {
		return nil, common.ErrNotOwner
	}

	return ob.CancelOrder(orderID)
}

// ListOpenOrders returns every resting order owned by traderID across every
// listed instrument, the per-team index original_source's orders endpoint
// exposes as `all_order_ids`.
func (v *Venue) ListOpenOrders(traderID string) []common.Order {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var out []common.Order
	for _, ob := range v.books {
		out = append(out, ob.OrdersByTrader(traderID)...)
	}
	return out
}

// GetTradeHistory returns the most recent trades for an instrument.
func (v *Venue) GetTradeHistory(instrumentID string, limit int) ([]common.Trade, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ob, ok := v.books[instrumentID]
	if !ok {
		return nil, common.ErrUnknownInstrument
	}
	return ob.GetRecentTrades(limit), nil
}

// MarketSummary is a compact snapshot of one instrument's current market,
// supplementing the distilled spec with the market-data endpoint the
// original system exposes (original_source's get_market_summary).
type MarketSummary struct {
	InstrumentID string
	BestBidPrice string
	BestBidQty   int64
	BestAskPrice string
	BestAskQty   int64
	LastTrade    *common.Trade
	Phase        phase.Type
}

// GetMarketSummary builds the current best bid/ask and last trade for an
// instrument.
func (v *Venue) GetMarketSummary(instrumentID string) (MarketSummary, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	ob, ok := v.books[instrumentID]
	if !ok {
		return MarketSummary{}, common.ErrUnknownInstrument
	}

	summary := MarketSummary{InstrumentID: instrumentID, Phase: v.phases.CurrentPhase().PhaseType}
	if price, qty, ok := ob.BestBid(); ok {
		summary.BestBidPrice = price.StringFixed(2)
		summary.BestBidQty = qty
	}
	if price, qty, ok := ob.BestAsk(); ok {
		summary.BestAskPrice = price.StringFixed(2)
		summary.BestAskQty = qty
	}
	recent := ob.GetRecentTrades(1)
	if len(recent) > 0 {
		summary.LastTrade = &recent[0]
	}
	return summary, nil
}

// GetMatchingMode reports which engine the current phase is dispatching
// to, for diagnostic/status endpoints.
func (v *Venue) GetMatchingMode() string {
	state := v.phases.CurrentPhase()
	if engine := v.engineFor(state.ExecutionStyle); engine != nil {
		return engine.Mode()
	}
	return phase.None.String()
}

// ExecuteBatchAuction implements phase.Venue: clears every book via the
// batch engine and returns every trade produced, deduplicated by trade id
// (each trade otherwise appears once in its buyer's OrderResult.Fills and
// once in its seller's), so the caller can replay each one exactly once
// through the pipeline's trade-publishing path. Invoked once by the phase
// transition handler on PRE_OPEN -> OPENING_AUCTION.
func (v *Venue) ExecuteBatchAuction(ctx context.Context) ([]common.Trade, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	results, err := v.batch.ExecuteBatch(v.books)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var trades []common.Trade
	for instrumentID, perOrder := range results {
		log.Info().Str("instrument_id", instrumentID).Int("orders", len(perOrder)).Msg("opening auction cleared")
		for _, result := range perOrder {
			for _, t := range result.Fills {
				if seen[t.TradeID] {
					continue
				}
				seen[t.TradeID] = true
				trades = append(trades, t)
			}
		}
	}
	return trades, nil
}

// CancelAllRestingOrders implements phase.Venue: cancels every resting
// order across every book. Invoked once by the phase transition handler on
// CONTINUOUS -> CLOSED.
func (v *Venue) CancelAllRestingOrders(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	for instrumentID, ob := range v.books {
		for {
			id, ok := ob.FirstRestingOrderID()
			if !ok {
				break
			}
			if _, err := ob.CancelOrder(id); err != nil {
				log.Error().Err(err).Str("instrument_id", instrumentID).Str("order_id", id).Msg("failed to cancel resting order at close")
				break
			}
		}
	}
	return nil
}
