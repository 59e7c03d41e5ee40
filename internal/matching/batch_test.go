package matching_test

import (
	"testing"

	"optionex/internal/book"
	"optionex/internal/common"
	"optionex/internal/matching"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const instrumentID = "SPX_4500_CALL"

func limitOrder(t *testing.T, side common.Side, price string, qty int64, trader string) common.Order {
	t.Helper()
	o, err := common.NewOrder(common.NewOrderParams{
		InstrumentID: instrumentID,
		Side:         side,
		OrderType:    common.LimitOrder,
		Price:        decimal.RequireFromString(price),
		HasPrice:     true,
		Quantity:     qty,
		TraderID:     trader,
	})
	require.NoError(t, err)
	return o
}

func TestBatchEngine_SubmitIsPendingUntilExecuted(t *testing.T) {
	e := matching.NewBatchEngine()
	ob := book.NewOrderBook(instrumentID)

	order := limitOrder(t, common.Buy, "100.00", 10, "TEAM_A")
	res, err := e.Submit(order, ob)
	require.NoError(t, err)
	assert.Equal(t, common.PendingNew, res.Status)
	assert.Empty(t, res.Fills)

	_, _, ok := ob.BestBid()
	assert.False(t, ok, "batch engine must not touch the book before ExecuteBatch")
}

func TestBatchEngine_NoCrossingRestsEveryOrder(t *testing.T) {
	e := matching.NewBatchEngine()
	ob := book.NewOrderBook(instrumentID)

	buy := limitOrder(t, common.Buy, "99.00", 10, "TEAM_A")
	sell := limitOrder(t, common.Sell, "101.00", 10, "TEAM_B")
	_, err := e.Submit(buy, ob)
	require.NoError(t, err)
	_, err = e.Submit(sell, ob)
	require.NoError(t, err)

	results, err := e.ExecuteBatch(map[string]*book.OrderBook{instrumentID: ob})
	require.NoError(t, err)

	instResults := results[instrumentID]
	require.Len(t, instResults, 2)
	assert.Equal(t, common.New, instResults[buy.OrderID].Status)
	assert.Equal(t, common.New, instResults[sell.OrderID].Status)

	bidPrice, _, ok := ob.BestBid()
	require.True(t, ok)
	assert.True(t, bidPrice.Equal(decimal.RequireFromString("99.00")))

	askPrice, _, ok := ob.BestAsk()
	require.True(t, ok)
	assert.True(t, askPrice.Equal(decimal.RequireFromString("101.00")))
}

// TestBatchEngine_ClearsAtMaximumVolumePrice covers the textbook two-sided
// crossing case: three bids and three asks at increasingly aggressive
// prices, where two prices tie for maximum matched volume and the auction
// clears at their midpoint.
func TestBatchEngine_ClearsAtMaximumVolumePrice(t *testing.T) {
	e := matching.NewBatchEngine()
	ob := book.NewOrderBook(instrumentID)

	orders := []common.Order{
		limitOrder(t, common.Buy, "102.00", 10, "B1"),
		limitOrder(t, common.Buy, "101.00", 10, "B2"),
		limitOrder(t, common.Buy, "100.00", 10, "B3"),
		limitOrder(t, common.Sell, "99.00", 10, "S1"),
		limitOrder(t, common.Sell, "100.00", 10, "S2"),
		limitOrder(t, common.Sell, "101.00", 10, "S3"),
	}
	for _, o := range orders {
		_, err := e.Submit(o, ob)
		require.NoError(t, err)
	}

	results, err := e.ExecuteBatch(map[string]*book.OrderBook{instrumentID: ob})
	require.NoError(t, err)
	instResults := results[instrumentID]
	require.Len(t, instResults, 6)

	var totalFilled int64
	for _, o := range orders {
		r := instResults[o.OrderID]
		totalFilled += o.Quantity - r.RemainingQty
	}
	// Volume at 100.00: buy-side eligible (>=100) = 30, sell-side eligible
	// (<=100) = 20 -> volume 20. Volume at 101.00: buy eligible = 20,
	// sell eligible = 30 -> volume 20. Both tie at max volume 20, shared
	// across both sides of each trade, so total filled quantity summed
	// over all orders is 2*20 = 40.
	assert.EqualValues(t, 40, totalFilled)

	trades := ob.GetRecentTrades(10)
	require.NotEmpty(t, trades)
	// Tied optimal prices {100.00, 101.00} clear at their midpoint.
	expected := decimal.RequireFromString("100.50")
	for _, tr := range trades {
		assert.True(t, tr.Price.Equal(expected), "trade price %s should equal midpoint %s", tr.Price, expected)
	}
}

func TestBatchEngine_LeftoverQuantityRestsAfterClearing(t *testing.T) {
	e := matching.NewBatchEngine()
	ob := book.NewOrderBook(instrumentID)

	buy := limitOrder(t, common.Buy, "100.00", 15, "TEAM_A")
	sell := limitOrder(t, common.Sell, "100.00", 10, "TEAM_B")
	_, err := e.Submit(buy, ob)
	require.NoError(t, err)
	_, err = e.Submit(sell, ob)
	require.NoError(t, err)

	results, err := e.ExecuteBatch(map[string]*book.OrderBook{instrumentID: ob})
	require.NoError(t, err)
	instResults := results[instrumentID]

	assert.Equal(t, common.PartiallyFilled, instResults[buy.OrderID].Status)
	assert.EqualValues(t, 5, instResults[buy.OrderID].RemainingQty)
	assert.Equal(t, common.Filled, instResults[sell.OrderID].Status)

	bidPrice, bidQty, ok := ob.BestBid()
	require.True(t, ok)
	assert.True(t, bidPrice.Equal(decimal.RequireFromString("100.00")))
	assert.EqualValues(t, 5, bidQty)

	_, _, ok = ob.BestAsk()
	assert.False(t, ok, "fully filled ask should not rest")
}

func TestBatchEngine_PendingClearedAfterExecuteBatch(t *testing.T) {
	e := matching.NewBatchEngine()
	ob := book.NewOrderBook(instrumentID)

	_, err := e.Submit(limitOrder(t, common.Buy, "100.00", 10, "TEAM_A"), ob)
	require.NoError(t, err)

	_, err = e.ExecuteBatch(map[string]*book.OrderBook{instrumentID: ob})
	require.NoError(t, err)

	results, err := e.ExecuteBatch(map[string]*book.OrderBook{instrumentID: ob})
	require.NoError(t, err)
	assert.Empty(t, results, "second ExecuteBatch with nothing new pending should do nothing")
}
