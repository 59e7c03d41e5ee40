package venue_test

import (
	"testing"

	"optionex/internal/common"
	"optionex/internal/matching"
	"optionex/internal/phase"
	"optionex/internal/venue"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const instrumentID = "SPX_4500_CALL"

type fixedPhase struct {
	state phase.State
}

func (f fixedPhase) CurrentPhase() phase.State { return f.state }

func newVenue(t *testing.T, style phase.ExecutionStyle) *venue.Venue {
	t.Helper()
	states := phase.DefaultStates()
	var state phase.State
	switch style {
	case phase.ContinuousStyle:
		state = states[phase.Continuous]
	case phase.BatchStyle:
		state = states[phase.OpeningAuction]
	default:
		state = states[phase.PreOpen]
	}

	v := venue.New(fixedPhase{state}, matching.NewContinuousEngine(), matching.NewBatchEngine())
	require.NoError(t, v.ListInstrument(mustInstrument(t)))
	return v
}

func mustInstrument(t *testing.T) common.Instrument {
	t.Helper()
	inst, err := common.NewInstrument(instrumentID, "SPX", nil, "2026-01-16", common.Call)
	require.NoError(t, err)
	return inst
}

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

func TestVenue_RejectsDuplicateInstrumentListing(t *testing.T) {
	v := newVenue(t, phase.ContinuousStyle)
	err := v.ListInstrument(mustInstrument(t))
	assert.Error(t, err)
}

func TestVenue_RejectsUnknownInstrumentOnSubmit(t *testing.T) {
	v := newVenue(t, phase.ContinuousStyle)
	order := limitOrder(t, common.Buy, "100.00", 10, "TEAM_A")
	order.InstrumentID = "UNKNOWN"

	_, err := v.SubmitOrder(order)
	assert.ErrorIs(t, err, common.ErrUnknownInstrument)
}

func TestVenue_RejectsSubmissionWhenPhaseDisallows(t *testing.T) {
	v := newVenue(t, phase.None)
	_, err := v.SubmitOrder(limitOrder(t, common.Buy, "100.00", 10, "TEAM_A"))
	assert.Error(t, err)
}

func TestVenue_ContinuousSubmitMatchesImmediately(t *testing.T) {
	v := newVenue(t, phase.ContinuousStyle)

	_, err := v.SubmitOrder(limitOrder(t, common.Sell, "100.00", 10, "TEAM_A"))
	require.NoError(t, err)

	result, err := v.SubmitOrder(limitOrder(t, common.Buy, "100.00", 10, "TEAM_B"))
	require.NoError(t, err)
	assert.Equal(t, common.Filled, result.Status)
}

func TestVenue_CancelOrderEnforcesOwnership(t *testing.T) {
	v := newVenue(t, phase.ContinuousStyle)
	order := limitOrder(t, common.Buy, "90.00", 10, "TEAM_A")
	_, err := v.SubmitOrder(order)
	require.NoError(t, err)

	_, err = v.CancelOrder(instrumentID, order.OrderID, "TEAM_B")
	assert.ErrorIs(t, err, common.ErrNotOwner)

	cancelled, err := v.CancelOrder(instrumentID, order.OrderID, "TEAM_A")
	require.NoError(t, err)
	assert.Equal(t, order.OrderID, cancelled.OrderID)
}

func TestVenue_ExecuteBatchAuctionClearsPendingOrders(t *testing.T) {
	v := newVenue(t, phase.BatchStyle)

	_, err := v.SubmitOrder(limitOrder(t, common.Buy, "100.00", 10, "TEAM_A"))
	require.NoError(t, err)
	_, err = v.SubmitOrder(limitOrder(t, common.Sell, "100.00", 10, "TEAM_B"))
	require.NoError(t, err)

	cleared, err := v.ExecuteBatchAuction(nil)
	require.NoError(t, err)
	require.Len(t, cleared, 1, "one trade, deduplicated across its buy and sell legs")
	assert.EqualValues(t, 10, cleared[0].Quantity)

	trades, err := v.GetTradeHistory(instrumentID, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.EqualValues(t, 10, trades[0].Quantity)
}

func TestVenue_CancelAllRestingOrdersDrainsBook(t *testing.T) {
	v := newVenue(t, phase.ContinuousStyle)

	_, err := v.SubmitOrder(limitOrder(t, common.Buy, "90.00", 10, "TEAM_A"))
	require.NoError(t, err)
	_, err = v.SubmitOrder(limitOrder(t, common.Sell, "110.00", 10, "TEAM_B"))
	require.NoError(t, err)

	require.NoError(t, v.CancelAllRestingOrders(nil))

	ob, ok := v.GetOrderBook(instrumentID)
	require.True(t, ok)
	_, _, bidOK := ob.BestBid()
	_, _, askOK := ob.BestAsk()
	assert.False(t, bidOK)
	assert.False(t, askOK)
}

func TestVenue_ListOpenOrdersReturnsOnlyThatTradersResting(t *testing.T) {
	v := newVenue(t, phase.ContinuousStyle)

	_, err := v.SubmitOrder(limitOrder(t, common.Buy, "90.00", 10, "TEAM_A"))
	require.NoError(t, err)
	_, err = v.SubmitOrder(limitOrder(t, common.Sell, "110.00", 5, "TEAM_B"))
	require.NoError(t, err)

	orders := v.ListOpenOrders("TEAM_A")
	require.Len(t, orders, 1)
	assert.Equal(t, "TEAM_A", orders[0].TraderID)
}

func TestVenue_MarketSummaryReflectsBestPricesAndLastTrade(t *testing.T) {
	v := newVenue(t, phase.ContinuousStyle)

	_, err := v.SubmitOrder(limitOrder(t, common.Sell, "101.00", 5, "TEAM_A"))
	require.NoError(t, err)
	_, err = v.SubmitOrder(limitOrder(t, common.Buy, "99.00", 5, "TEAM_B"))
	require.NoError(t, err)

	summary, err := v.GetMarketSummary(instrumentID)
	require.NoError(t, err)
	assert.Equal(t, "101.00", summary.BestAskPrice)
	assert.Equal(t, "99.00", summary.BestBidPrice)
	assert.Nil(t, summary.LastTrade)
}
