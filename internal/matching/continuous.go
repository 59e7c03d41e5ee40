package matching

import (
	"optionex/internal/book"
	"optionex/internal/common"
)

// ContinuousEngine matches orders immediately against the book, price-time
// priority, no batching.
type ContinuousEngine struct{}

// NewContinuousEngine builds a continuous matching engine.
func NewContinuousEngine() *ContinuousEngine {
	return &ContinuousEngine{}
}

func (e *ContinuousEngine) Mode() string { return "continuous" }

// Submit adds the order to the book immediately. The resulting status is
// new (no fills), partially_filled, or filled — never pending_new, which is
// reserved for batch mode.
func (e *ContinuousEngine) Submit(order common.Order, ob *book.OrderBook) (common.OrderResult, error) {
	trades, err := ob.AddOrder(order)
	if err != nil {
		return common.OrderResult{}, err
	}

	filled := applyFills(&order, trades)
	return resultFor(order, filled), nil
}

// ExecuteBatch is a no-op in continuous mode: there is nothing pending.
func (e *ContinuousEngine) ExecuteBatch(books map[string]*book.OrderBook) (map[string]map[string]common.OrderResult, error) {
	return map[string]map[string]common.OrderResult{}, nil
}

// applyFills sums the quantity this order itself contributed across trades
// and brings order.FilledQuantity in sync; AddOrder already mutated the
// order book's own copy, so here we mirror that onto the caller's copy
// (order is passed by value into Submit, so its mutations inside AddOrder
// happened to the local copy already captured in ob — we just need to
// reconstruct the filled quantity from the trades for the caller's result).
func applyFills(order *common.Order, trades []common.Trade) []common.Trade {
	var filledQty int64
	for _, t := range trades {
		if order.Side == common.Buy && t.BuyerOrderID == order.OrderID {
			filledQty += t.Quantity
		} else if order.Side == common.Sell && t.SellerOrderID == order.OrderID {
			filledQty += t.Quantity
		}
	}
	order.FilledQuantity = filledQty
	return trades
}
