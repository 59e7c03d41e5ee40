package matching

import (
	"sort"

	"optionex/internal/book"
	"optionex/internal/common"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// BatchEngine implements the uniform-price maximum-volume auction. Orders
// submitted while batch mode is active are collected per instrument;
// ExecuteBatch clears each instrument's book at a single price.
//
// Algorithm grounded on Niu & Parsons, "Maximizing Matching in Double-sided
// Auctions" (arXiv:1304.3135v1), matching original_source's
// MaximumVolumePricingStrategy: find the crossing range, evaluate volume at
// every distinct price in range, select the price(s) that maximise volume,
// and on ties clear at the midpoint of the optimal set.
type BatchEngine struct {
	pending map[string][]*common.Order // instrument id -> submission-order orders
}

// NewBatchEngine builds an empty batch engine.
func NewBatchEngine() *BatchEngine {
	return &BatchEngine{pending: make(map[string][]*common.Order)}
}

func (e *BatchEngine) Mode() string { return "batch" }

// Submit appends the order to the pending bucket for its instrument. No
// matching happens here; the order's status is pending_new with zero
// fills until the next ExecuteBatch.
func (e *BatchEngine) Submit(order common.Order, ob *book.OrderBook) (common.OrderResult, error) {
	if order.InstrumentID != ob.InstrumentID {
		return common.OrderResult{}, common.ErrUnknownInstrument
	}
	o := order
	e.pending[order.InstrumentID] = append(e.pending[order.InstrumentID], &o)
	return common.OrderResult{
		OrderID:      order.OrderID,
		Status:       common.PendingNew,
		RemainingQty: order.Quantity,
	}, nil
}

// clearingResult is the outcome of price discovery for one instrument's
// auction, kept distinct from allocation so the two concerns (what price,
// who gets filled) stay testable in isolation.
type clearingResult struct {
	price      decimal.Decimal
	maxVolume  int64
	priceRange *[2]decimal.Decimal
}

// ExecuteBatch clears every instrument with pending orders. Results are
// keyed by instrument id, then order id.
func (e *BatchEngine) ExecuteBatch(books map[string]*book.OrderBook) (map[string]map[string]common.OrderResult, error) {
	out := make(map[string]map[string]common.OrderResult)

	for instrumentID, orders := range e.pending {
		if len(orders) == 0 {
			continue
		}
		ob, ok := books[instrumentID]
		if !ok {
			log.Error().Str("instrument_id", instrumentID).Msg("batch engine has pending orders for unknown book")
			continue
		}
		out[instrumentID] = e.clearInstrument(ob, orders)
	}

	// Pending buckets are one-shot: once cleared (or skipped for unknown
	// books), they don't carry over to the next tick.
	e.pending = make(map[string][]*common.Order)

	return out, nil
}

func (e *BatchEngine) clearInstrument(ob *book.OrderBook, orders []*common.Order) map[string]common.OrderResult {
	results := make(map[string]common.OrderResult, len(orders))

	var bids, asks []*common.Order
	for _, o := range orders {
		if o.Side == common.Buy {
			bids = append(bids, o)
		} else {
			asks = append(asks, o)
		}
	}

	// Stable sort preserves submission order as the time-priority
	// tie-breaker (§4.2 step 1: "ties time-asc").
	sort.SliceStable(bids, func(i, j int) bool { return bids[i].Price.GreaterThan(bids[j].Price) })
	sort.SliceStable(asks, func(i, j int) bool { return asks[i].Price.LessThan(asks[j].Price) })

	clearing, crosses := e.findClearingPrice(bids, asks)
	if !crosses {
		// No crossing range: every pending order becomes resting, status new.
		for _, o := range orders {
			if err := ob.RestOrder(o); err != nil {
				results[o.OrderID] = common.NewErrorResult(o.OrderID, common.Error, "exchange-error", err.Error())
				continue
			}
			results[o.OrderID] = common.OrderResult{OrderID: o.OrderID, Status: common.New, RemainingQty: o.Quantity}
		}
		return results
	}

	eligibleBids := filterAtOrAbove(bids, clearing.price)
	eligibleAsks := filterAtOrBelow(asks, clearing.price)

	bidFills := allocate(eligibleBids, clearing.maxVolume)
	askFills := allocate(eligibleAsks, clearing.maxVolume)

	trades := pairFills(ob.InstrumentID, eligibleBids, bidFills, eligibleAsks, askFills, clearing.price)
	for _, t := range trades {
		ob.AppendClearedTrade(t)
	}

	for _, o := range orders {
		if o.Remaining() > 0 {
			if err := ob.RestOrder(o); err != nil {
				results[o.OrderID] = common.NewErrorResult(o.OrderID, common.Error, "exchange-error", err.Error())
				continue
			}
		}
		results[o.OrderID] = resultFor(*o, fillsFor(o.OrderID, trades))
	}

	return results
}

// findClearingPrice determines the crossing range and the maximum-volume
// clearing price, per §4.2 steps 2-5.
func (e *BatchEngine) findClearingPrice(bids, asks []*common.Order) (clearingResult, bool) {
	if len(bids) == 0 || len(asks) == 0 {
		return clearingResult{}, false
	}

	maxBid := bids[0].Price
	minAsk := asks[0].Price
	if maxBid.LessThan(minAsk) {
		return clearingResult{}, false
	}

	prices := map[string]decimal.Decimal{}
	collect := func(orders []*common.Order) {
		for _, o := range orders {
			if o.Price.GreaterThanOrEqual(minAsk) && o.Price.LessThanOrEqual(maxBid) {
				prices[o.Price.String()] = o.Price
			}
		}
	}
	collect(bids)
	collect(asks)

	var optimalPrices []decimal.Decimal
	var maxVolume int64
	for _, p := range prices {
		vol := volumeAt(bids, asks, p)
		switch {
		case vol > maxVolume:
			maxVolume = vol
			optimalPrices = []decimal.Decimal{p}
		case vol == maxVolume && vol > 0:
			optimalPrices = append(optimalPrices, p)
		}
	}

	if maxVolume == 0 || len(optimalPrices) == 0 {
		return clearingResult{}, false
	}

	sort.Slice(optimalPrices, func(i, j int) bool { return optimalPrices[i].LessThan(optimalPrices[j]) })
	minP, maxP := optimalPrices[0], optimalPrices[len(optimalPrices)-1]

	clearing := minP
	var pr *[2]decimal.Decimal
	if len(optimalPrices) > 1 {
		clearing = minP.Add(maxP).Div(decimal.NewFromInt(2))
		pr = &[2]decimal.Decimal{minP, maxP}
	}

	return clearingResult{price: clearing, maxVolume: maxVolume, priceRange: pr}, true
}

// volumeAt is min(eligible buy volume, eligible sell volume) at price p.
func volumeAt(bids, asks []*common.Order, p decimal.Decimal) int64 {
	var buyVol, sellVol int64
	for _, b := range bids {
		if b.Price.GreaterThanOrEqual(p) {
			buyVol += b.Quantity
		}
	}
	for _, a := range asks {
		if a.Price.LessThanOrEqual(p) {
			sellVol += a.Quantity
		}
	}
	if buyVol < sellVol {
		return buyVol
	}
	return sellVol
}

func filterAtOrAbove(orders []*common.Order, price decimal.Decimal) []*common.Order {
	var out []*common.Order
	for _, o := range orders {
		if o.Price.GreaterThanOrEqual(price) {
			out = append(out, o)
		}
	}
	return out
}

func filterAtOrBelow(orders []*common.Order, price decimal.Decimal) []*common.Order {
	var out []*common.Order
	for _, o := range orders {
		if o.Price.LessThanOrEqual(price) {
			out = append(out, o)
		}
	}
	return out
}

// allocate walks orders best-first (already sorted, ties in submission
// order) handing out up to volume units, filling each order fully before
// moving to the next — the marginal order gets whatever remains.
func allocate(orders []*common.Order, volume int64) map[string]int64 {
	fills := make(map[string]int64, len(orders))
	remaining := volume
	for _, o := range orders {
		if remaining <= 0 {
			break
		}
		qty := o.Quantity
		if qty > remaining {
			qty = remaining
		}
		fills[o.OrderID] = qty
		remaining -= qty
	}
	return fills
}

// pairFills constructs the actual Trade records crossing bid-side fills
// against ask-side fills at the uniform clearing price, and applies the
// fills to each order's FilledQuantity.
func pairFills(instrumentID string, bids []*common.Order, bidFills map[string]int64, asks []*common.Order, askFills map[string]int64, price decimal.Decimal) []common.Trade {
	type chunk struct {
		order *common.Order
		qty   int64
	}
	var bidChunks, askChunks []chunk
	for _, o := range bids {
		if q := bidFills[o.OrderID]; q > 0 {
			bidChunks = append(bidChunks, chunk{o, q})
		}
	}
	for _, o := range asks {
		if q := askFills[o.OrderID]; q > 0 {
			askChunks = append(askChunks, chunk{o, q})
		}
	}

	var trades []common.Trade
	bi, ai := 0, 0
	for bi < len(bidChunks) && ai < len(askChunks) {
		bc := &bidChunks[bi]
		ac := &askChunks[ai]
		qty := bc.qty
		if ac.qty < qty {
			qty = ac.qty
		}

		_ = bc.order.Fill(qty)
		_ = ac.order.Fill(qty)

		// Batch auctions have no single aggressor; both sides crossed
		// into the clearing price together. We tag the aggressor as the
		// side whose order arrived later, consistent with how the
		// continuous book treats the later arrival as the one that
		// triggered the match.
		aggressor := common.Buy
		if bc.order.Timestamp.Before(ac.order.Timestamp) {
			aggressor = common.Sell
		}

		trades = append(trades, common.NewTrade(instrumentID, bc.order.TraderID, ac.order.TraderID, bc.order.OrderID, ac.order.OrderID, price, qty, aggressor))

		bc.qty -= qty
		ac.qty -= qty
		if bc.qty == 0 {
			bi++
		}
		if ac.qty == 0 {
			ai++
		}
	}

	return trades
}

func fillsFor(orderID string, trades []common.Trade) []common.Trade {
	var out []common.Trade
	for _, t := range trades {
		if t.BuyerOrderID == orderID || t.SellerOrderID == orderID {
			out = append(out, t)
		}
	}
	return out
}
