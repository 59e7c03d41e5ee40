package phase_test

import (
	"context"
	"testing"
	"time"

	"optionex/internal/common"
	"optionex/internal/phase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustManager(t *testing.T) *phase.Manager {
	t.Helper()
	m, err := phase.NewManager(phase.Schedule{
		Location: time.UTC,
		Entries: []phase.ScheduleEntry{
			{Weekday: time.Monday, Start: phase.TimeOfDay{Hour: 9, Minute: 0}, End: phase.TimeOfDay{Hour: 9, Minute: 15}, PhaseType: phase.PreOpen},
			{Weekday: time.Monday, Start: phase.TimeOfDay{Hour: 9, Minute: 15}, End: phase.TimeOfDay{Hour: 9, Minute: 30}, PhaseType: phase.OpeningAuction},
			{Weekday: time.Monday, Start: phase.TimeOfDay{Hour: 9, Minute: 30}, End: phase.TimeOfDay{Hour: 16, Minute: 0}, PhaseType: phase.Continuous},
		},
	})
	require.NoError(t, err)
	return m
}

func monday(hour, minute int) time.Time {
	// 2024-01-01 was a Monday.
	return time.Date(2024, 1, 1, hour, minute, 0, 0, time.UTC)
}

func TestManager_MatchesScheduledPhase(t *testing.T) {
	m := mustManager(t)

	assert.Equal(t, phase.PreOpen, m.CurrentState(monday(9, 5)).PhaseType)
	assert.Equal(t, phase.OpeningAuction, m.CurrentState(monday(9, 20)).PhaseType)
	assert.Equal(t, phase.Continuous, m.CurrentState(monday(12, 0)).PhaseType)
}

func TestManager_UnmatchedTimeFallsBackToClosed(t *testing.T) {
	m := mustManager(t)

	assert.Equal(t, phase.Closed, m.CurrentState(monday(20, 0)).PhaseType)
	assert.Equal(t, phase.Closed, m.CurrentState(monday(3, 0)).PhaseType)

	tuesday := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, phase.Closed, m.CurrentState(tuesday).PhaseType)
}

func TestManager_DefaultStatesCarryExpectedFlags(t *testing.T) {
	m := mustManager(t)

	preOpen := m.CurrentState(monday(9, 5))
	assert.False(t, preOpen.OrderSubmissionAllowed)
	assert.Equal(t, phase.None, preOpen.ExecutionStyle)

	auction := m.CurrentState(monday(9, 20))
	assert.True(t, auction.OrderSubmissionAllowed)
	assert.False(t, auction.MatchingEnabled)
	assert.Equal(t, phase.BatchStyle, auction.ExecutionStyle)

	cont := m.CurrentState(monday(12, 0))
	assert.True(t, cont.MatchingEnabled)
	assert.Equal(t, phase.ContinuousStyle, cont.ExecutionStyle)
}

type fakeVenue struct {
	batchCalls  int
	cancelCalls int
	trades      []common.Trade
}

func (f *fakeVenue) ExecuteBatchAuction(ctx context.Context) ([]common.Trade, error) {
	f.batchCalls++
	return f.trades, nil
}

func (f *fakeVenue) CancelAllRestingOrders(ctx context.Context) error {
	f.cancelCalls++
	return nil
}

type fakeTradePublisher struct {
	published []common.Trade
}

func (f *fakeTradePublisher) PublishBatchTrade(trade common.Trade) {
	f.published = append(f.published, trade)
}

func TestTransitionHandler_FirstObservationEstablishesBaselineOnly(t *testing.T) {
	v := &fakeVenue{}
	h := phase.NewTransitionHandler(v, &fakeTradePublisher{})

	h.Observe(context.Background(), phase.OpeningAuction)

	assert.Zero(t, v.batchCalls)
	assert.Zero(t, v.cancelCalls)
}

func TestTransitionHandler_FiresOnPreOpenToOpeningAuction(t *testing.T) {
	v := &fakeVenue{trades: []common.Trade{{TradeID: "t-1"}}}
	trades := &fakeTradePublisher{}
	h := phase.NewTransitionHandler(v, trades)

	h.Observe(context.Background(), phase.PreOpen)
	h.Observe(context.Background(), phase.OpeningAuction)

	assert.Equal(t, 1, v.batchCalls)
	assert.Zero(t, v.cancelCalls)
	require.Len(t, trades.published, 1)
	assert.Equal(t, "t-1", trades.published[0].TradeID)
}

func TestTransitionHandler_FiresOnContinuousToClosed(t *testing.T) {
	v := &fakeVenue{}
	h := phase.NewTransitionHandler(v, &fakeTradePublisher{})

	h.Observe(context.Background(), phase.Continuous)
	h.Observe(context.Background(), phase.Closed)

	assert.Equal(t, 1, v.cancelCalls)
	assert.Zero(t, v.batchCalls)
}

func TestTransitionHandler_IdempotentWithinSameObservedPhase(t *testing.T) {
	v := &fakeVenue{}
	h := phase.NewTransitionHandler(v, &fakeTradePublisher{})

	h.Observe(context.Background(), phase.PreOpen)
	h.Observe(context.Background(), phase.OpeningAuction)
	h.Observe(context.Background(), phase.OpeningAuction)
	h.Observe(context.Background(), phase.OpeningAuction)

	assert.Equal(t, 1, v.batchCalls, "re-observing the same phase must not re-fire the transition")
}
