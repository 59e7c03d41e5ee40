package fee_test

import (
	"testing"

	"optionex/internal/common"
	"optionex/internal/fee"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetermineLiquidity(t *testing.T) {
	assert.Equal(t, fee.Taker, fee.DetermineLiquidity(common.Buy, common.Buy))
	assert.Equal(t, fee.Maker, fee.DetermineLiquidity(common.Buy, common.Sell))
}

func TestCalculator_AppliesRoleRate(t *testing.T) {
	c := fee.NewCalculator(map[string]fee.Schedule{
		"market_maker": {
			MakerRebate: decimal.RequireFromString("0.10"),
			TakerFee:    decimal.RequireFromString("-0.20"),
		},
	})

	rebate, err := c.Calculate(10, "market_maker", fee.Maker)
	require.NoError(t, err)
	assert.True(t, rebate.Equal(decimal.RequireFromString("1.00")))

	charge, err := c.Calculate(10, "market_maker", fee.Taker)
	require.NoError(t, err)
	assert.True(t, charge.Equal(decimal.RequireFromString("-2.00")))
}

func TestCalculator_UnknownRoleFails(t *testing.T) {
	c := fee.NewCalculator(map[string]fee.Schedule{})
	_, err := c.Calculate(10, "ghost", fee.Maker)
	assert.Error(t, err)
}
