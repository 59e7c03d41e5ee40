// Package book implements the per-instrument price-level order book: bid
// and ask ladders ordered by price with FIFO time priority within a level,
// and the price-time-priority matching walk used by both the continuous
// and batch matching engines.
//
// Grounded on the teacher's internal/engine/orderbook.go (tidwall/btree
// price levels, resting orders removed on full fill, levels pruned when
// empty), generalized from the teacher's single-asset, float64-priced book
// to a per-instrument, decimal-priced book with cancellation, a recent
// trades ring buffer and a public depth snapshot.
package book

import (
	"optionex/internal/common"

	"github.com/shopspring/decimal"
)

// PriceLevel is one price point on one side of the book: the resting
// orders at that price, in time-priority (insertion) order, plus a cached
// aggregate quantity.
//
// Invariant: TotalQuantity == sum(o.Remaining() for o in Orders).
type PriceLevel struct {
	Price         decimal.Decimal
	Orders        []*common.Order
	TotalQuantity int64
}

func (l *PriceLevel) append(order *common.Order) {
	l.Orders = append(l.Orders, order)
	l.TotalQuantity += order.Remaining()
}

func (l *PriceLevel) removeAt(idx int) {
	l.TotalQuantity -= l.Orders[idx].Remaining()
	l.Orders = append(l.Orders[:idx], l.Orders[idx+1:]...)
}

func (l *PriceLevel) empty() bool {
	return len(l.Orders) == 0
}
