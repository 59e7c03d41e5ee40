// Package fee computes maker/taker fees per role, stateless and
// side-effect free. Grounded on spec.md §4.9 and original_source's
// domain/exchange/fees (FeeSchedule, determine_liquidity).
package fee

import (
	"fmt"

	"optionex/internal/common"

	"github.com/shopspring/decimal"
)

// Liquidity is which side of a trade an order played: the resting order
// that supplied liquidity (maker) or the incoming order that took it
// (taker).
type Liquidity int

const (
	Maker Liquidity = iota
	Taker
)

func (l Liquidity) String() string {
	if l == Maker {
		return "maker"
	}
	return "taker"
}

// Schedule holds the maker rebate and taker fee rate for one role.
// Positive values mean money received by the trader; negative means paid.
type Schedule struct {
	MakerRebate decimal.Decimal
	TakerFee    decimal.Decimal
}

func (s Schedule) rate(l Liquidity) decimal.Decimal {
	if l == Maker {
		return s.MakerRebate
	}
	return s.TakerFee
}

// Calculator maps role to its fee Schedule.
type Calculator struct {
	schedules map[string]Schedule
}

// NewCalculator builds a Calculator from a role -> Schedule map.
func NewCalculator(schedules map[string]Schedule) *Calculator {
	return &Calculator{schedules: schedules}
}

// Calculate returns quantity * schedule[role].rate(liquidity). Unknown role
// fails explicitly rather than silently defaulting to zero fee.
func (c *Calculator) Calculate(quantity int64, role string, liquidity Liquidity) (decimal.Decimal, error) {
	schedule, ok := c.schedules[role]
	if !ok {
		return decimal.Zero, fmt.Errorf("fee: unknown role %q", role)
	}
	rate := schedule.rate(liquidity)
	return rate.Mul(decimal.NewFromInt(quantity)), nil
}

// DetermineLiquidity reports whether an order played maker or taker in a
// trade: taker if its side equals the trade's aggressor side, maker
// otherwise.
func DetermineLiquidity(aggressor, orderSide common.Side) Liquidity {
	if aggressor == orderSide {
		return Taker
	}
	return Maker
}
