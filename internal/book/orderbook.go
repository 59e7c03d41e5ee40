package book

import (
	"fmt"

	"optionex/internal/common"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

// defaultRecentTradesCap bounds the recent-trades ring buffer (§3: "bounded,
// e.g. last 100").
const defaultRecentTradesCap = 100

// OrderBook is the price-time-priority limit order book for one instrument.
// Bids are ordered by price descending, asks by price ascending; within a
// price level, resting orders are FIFO by insertion (time priority).
//
// OrderBook is not safe for concurrent use by multiple goroutines; per the
// shared-resource policy (§5) it is exclusively read/mutated from the
// matcher stage goroutine (and from batch execution, itself serialised with
// the matcher).
type OrderBook struct {
	InstrumentID string

	bids *btree.BTreeG[*PriceLevel]
	asks *btree.BTreeG[*PriceLevel]

	// orderIndex is a weak lookup from order id to the price level
	// currently holding it. It does not own the order: ownership lives
	// with the price level's Orders slice while the order rests, and
	// transfers to the caller on fill or cancel, at which point the
	// index entry is removed.
	orderIndex map[string]*PriceLevel

	recentTrades []common.Trade
	recentCap    int
}

// NewOrderBook creates an empty book for the given instrument.
func NewOrderBook(instrumentID string) *OrderBook {
	bids := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price.GreaterThan(b.Price) // descending: best bid first
	})
	asks := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price.LessThan(b.Price) // ascending: best ask first
	})
	return &OrderBook{
		InstrumentID: instrumentID,
		bids:         bids,
		asks:         asks,
		orderIndex:   make(map[string]*PriceLevel),
		recentCap:    defaultRecentTradesCap,
	}
}

func (b *OrderBook) treeFor(side common.Side) *btree.BTreeG[*PriceLevel] {
	if side == common.Buy {
		return b.bids
	}
	return b.asks
}

// AddOrder matches the order against the opposite side and, for an
// unfilled limit remainder, rests it in the book. Market orders never
// rest: any unfilled remainder against an empty opposite side is dropped.
func (b *OrderBook) AddOrder(order common.Order) ([]common.Trade, error) {
	if order.InstrumentID != b.InstrumentID {
		return nil, fmt.Errorf("%w: order for %s submitted to book for %s", common.ErrUnknownInstrument, order.InstrumentID, b.InstrumentID)
	}
	if _, exists := b.orderIndex[order.OrderID]; exists {
		return nil, fmt.Errorf("%w: %s", common.ErrDuplicateOrderID, order.OrderID)
	}

	incoming := order
	trades := b.match(&incoming)

	if incoming.OrderType == common.LimitOrder && incoming.Remaining() > 0 {
		b.insertResting(&incoming)
	}

	return trades, nil
}

// match walks the opposite side from best price, filling the incoming
// order until it is exhausted or no acceptable level remains. A zero-fill
// walk (no acceptable level) leaves the book unchanged.
func (b *OrderBook) match(incoming *common.Order) []common.Trade {
	var trades []common.Trade
	opposite := b.treeFor(incoming.Side.Opposite())

	for incoming.Remaining() > 0 {
		level, ok := opposite.Min()
		if !ok {
			break
		}
		if incoming.OrderType == common.LimitOrder && !b.priceAcceptable(incoming, level.Price) {
			break
		}

		for len(level.Orders) > 0 && incoming.Remaining() > 0 {
			resting := level.Orders[0]

			qty := incoming.Remaining()
			if resting.Remaining() < qty {
				qty = resting.Remaining()
			}

			_ = incoming.Fill(qty)
			_ = resting.Fill(qty)
			level.TotalQuantity -= qty

			trade := b.buildTrade(incoming, resting, qty, level.Price)
			trades = append(trades, trade)
			b.appendRecentTrade(trade)

			if resting.IsFilled() {
				level.Orders = level.Orders[1:]
				delete(b.orderIndex, resting.OrderID)
			}
		}

		if level.empty() {
			opposite.Delete(level)
		}
	}

	return trades
}

// priceAcceptable reports whether the resting level's price still crosses
// the incoming limit order: buy stops when the ask is above the bid limit,
// sell stops when the bid is below the ask limit.
func (b *OrderBook) priceAcceptable(incoming *common.Order, levelPrice decimal.Decimal) bool {
	if incoming.Side == common.Buy {
		return incoming.Price.GreaterThanOrEqual(levelPrice)
	}
	return incoming.Price.LessThanOrEqual(levelPrice)
}

// buildTrade prices the trade at the resting order's price (price
// improvement for the aggressor) and tags the aggressor side.
func (b *OrderBook) buildTrade(incoming, resting *common.Order, qty int64, price decimal.Decimal) common.Trade {
	var buyer, seller *common.Order
	if incoming.Side == common.Buy {
		buyer, seller = incoming, resting
	} else {
		buyer, seller = resting, incoming
	}
	return common.NewTrade(b.InstrumentID, buyer.TraderID, seller.TraderID, buyer.OrderID, seller.OrderID, price, qty, incoming.Side)
}

func (b *OrderBook) insertResting(order *common.Order) {
	tree := b.treeFor(order.Side)
	key := &PriceLevel{Price: order.Price}
	level, ok := tree.Get(key)
	if !ok {
		level = &PriceLevel{Price: order.Price}
		tree.Set(level)
	}
	level.append(order)
	b.orderIndex[order.OrderID] = level
}

// RestOrder inserts order directly onto its side of the book without
// attempting to match it first. It is used by the batch auction engine
// once clearing has already determined fills: any unmatched remainder
// rests at the order's originally submitted price, not re-walked through
// match() a second time.
func (b *OrderBook) RestOrder(order *common.Order) error {
	if order.InstrumentID != b.InstrumentID {
		return fmt.Errorf("%w: order for %s submitted to book for %s", common.ErrUnknownInstrument, order.InstrumentID, b.InstrumentID)
	}
	if order.Remaining() <= 0 {
		return nil
	}
	if _, exists := b.orderIndex[order.OrderID]; exists {
		return fmt.Errorf("%w: %s", common.ErrDuplicateOrderID, order.OrderID)
	}
	b.insertResting(order)
	return nil
}

// FirstRestingOrderID returns an arbitrary resting order id still in the
// book, used by callers that need to drain the book entirely (e.g.
// cancelling everything at the close) without caring about iteration
// order.
func (b *OrderBook) FirstRestingOrderID() (string, bool) {
	for id := range b.orderIndex {
		return id, true
	}
	return "", false
}

// CancelOrder removes a resting order if present, decrementing the level
// aggregate and pruning the level if it becomes empty.
func (b *OrderBook) CancelOrder(orderID string) (*common.Order, error) {
	level, ok := b.orderIndex[orderID]
	if !ok {
		return nil, common.ErrOrderNotFound
	}

	idx := -1
	for i, o := range level.Orders {
		if o.OrderID == orderID {
			idx = i
			break
		}
	}
	if idx == -1 {
		// orderIndex drifted from the level contents; treat as not found
		// rather than panicking on a slice index.
		delete(b.orderIndex, orderID)
		return nil, common.ErrOrderNotFound
	}

	order := level.Orders[idx]
	level.removeAt(idx)
	delete(b.orderIndex, orderID)

	if level.empty() {
		b.treeFor(order.Side).Delete(level)
	}

	return order, nil
}

// GetOrder returns a snapshot of a resting order, used for ownership checks
// on cancellation.
func (b *OrderBook) GetOrder(orderID string) (common.Order, bool) {
	level, ok := b.orderIndex[orderID]
	if !ok {
		return common.Order{}, false
	}
	for _, o := range level.Orders {
		if o.OrderID == orderID {
			return *o, true
		}
	}
	return common.Order{}, false
}

// OrdersByTrader returns a snapshot of every resting order owned by
// traderID, used to serve the per-team open-orders listing.
func (b *OrderBook) OrdersByTrader(traderID string) []common.Order {
	var out []common.Order
	seen := make(map[string]bool, len(b.orderIndex))
	for orderID, level := range b.orderIndex {
		if seen[orderID] {
			continue
		}
		seen[orderID] = true
		for _, o := range level.Orders {
			if o.OrderID == orderID && o.TraderID == traderID {
				out = append(out, *o)
			}
		}
	}
	return out
}

// BestBid returns the best bid price and its aggregate quantity.
func (b *OrderBook) BestBid() (decimal.Decimal, int64, bool) {
	level, ok := b.bids.Min()
	if !ok {
		return decimal.Zero, 0, false
	}
	return level.Price, level.TotalQuantity, true
}

// BestAsk returns the best ask price and its aggregate quantity.
func (b *OrderBook) BestAsk() (decimal.Decimal, int64, bool) {
	level, ok := b.asks.Min()
	if !ok {
		return decimal.Zero, 0, false
	}
	return level.Price, level.TotalQuantity, true
}

// LevelView is a read-only view of one price level for depth snapshots.
type LevelView struct {
	Price         decimal.Decimal
	TotalQuantity int64
	OrderCount    int
}

// DepthSnapshot is the capped, ordered view of both sides of the book.
type DepthSnapshot struct {
	Bids []LevelView
	Asks []LevelView
}

// DepthSnapshot returns up to `levels` price levels per side, best price
// first.
func (b *OrderBook) DepthSnapshot(levels int) DepthSnapshot {
	snap := DepthSnapshot{}
	b.bids.Scan(func(l *PriceLevel) bool {
		if len(snap.Bids) >= levels {
			return false
		}
		snap.Bids = append(snap.Bids, LevelView{Price: l.Price, TotalQuantity: l.TotalQuantity, OrderCount: len(l.Orders)})
		return true
	})
	b.asks.Scan(func(l *PriceLevel) bool {
		if len(snap.Asks) >= levels {
			return false
		}
		snap.Asks = append(snap.Asks, LevelView{Price: l.Price, TotalQuantity: l.TotalQuantity, OrderCount: len(l.Orders)})
		return true
	})
	return snap
}

// AppendClearedTrade records a trade produced by the batch auction engine
// into this book's recent-trades history. Batch clearing happens outside
// the book (it spans the whole pending bucket, not just this book's resting
// orders), so the engine reports trades back here rather than the book
// discovering them itself.
func (b *OrderBook) AppendClearedTrade(t common.Trade) {
	b.appendRecentTrade(t)
}

// appendRecentTrade pushes onto the bounded recent-trades ring buffer,
// dropping the oldest entry once full.
func (b *OrderBook) appendRecentTrade(t common.Trade) {
	b.recentTrades = append(b.recentTrades, t)
	if len(b.recentTrades) > b.recentCap {
		b.recentTrades = b.recentTrades[len(b.recentTrades)-b.recentCap:]
	}
}

// GetRecentTrades returns up to limit trades, most recent first.
func (b *OrderBook) GetRecentTrades(limit int) []common.Trade {
	n := len(b.recentTrades)
	if limit > n {
		limit = n
	}
	out := make([]common.Trade, limit)
	for i := 0; i < limit; i++ {
		out[i] = b.recentTrades[n-1-i]
	}
	return out
}
