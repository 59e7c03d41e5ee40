// Package matching implements the two matching-engine variants the phase
// manager selects between: continuous (immediate, price-time priority) and
// batch (uniform-price maximum-volume auction). Both operate against the
// book package's OrderBook.
//
// Grounded on the teacher's internal/engine.Engine.Trade/PlaceOrder shape
// (an engine that owns the match/trade step, separate from the book's own
// bookkeeping) and on original_source's domain/exchange/book/matching_engine
// split between ContinuousMatchingEngine and BatchMatchingEngine.
package matching

import (
	"optionex/internal/book"
	"optionex/internal/common"
)

// Engine is the matching-mode contract the exchange venue dispatches to
// based on the current phase's execution style.
type Engine interface {
	// Submit processes one order against book. Continuous engines match
	// immediately; batch engines only enqueue the order for the next
	// ExecuteBatch.
	Submit(order common.Order, ob *book.OrderBook) (common.OrderResult, error)

	// ExecuteBatch runs batch auction clearing across every book that has
	// pending orders. No-op for continuous engines.
	ExecuteBatch(books map[string]*book.OrderBook) (map[string]map[string]common.OrderResult, error)

	// Mode reports "continuous" or "batch".
	Mode() string
}

// resultFor derives the client-visible OrderResult from an order's post-
// match state and any fills produced during this submission.
func resultFor(order common.Order, fills []common.Trade) common.OrderResult {
	status := common.New
	switch {
	case order.IsFilled():
		status = common.Filled
	case order.FilledQuantity > 0:
		status = common.PartiallyFilled
	}
	return common.OrderResult{
		OrderID:      order.OrderID,
		Status:       status,
		Fills:        fills,
		RemainingQty: order.Remaining(),
	}
}
