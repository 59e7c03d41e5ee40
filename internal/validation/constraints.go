package validation

import (
	"fmt"

	"optionex/internal/common"
	"optionex/internal/phase"

	"github.com/shopspring/decimal"
)

// PositionLimit rejects an order whose post-trade position would exceed a
// per-instrument cap. Symmetric caps apply the same bound to both signs;
// non-symmetric caps treat the limit as an absolute-value bound.
type PositionLimit struct {
	MaxPosition int64
	Symmetric   bool
}

func (c PositionLimit) Name() string { return "position_limit" }

func (c PositionLimit) Check(ctx Context) Verdict {
	delta := orderSignedQty(ctx.Order)
	newPosition := ctx.CurrentPositions[ctx.Order.InstrumentID] + delta

	if c.Symmetric {
		if newPosition > c.MaxPosition || newPosition < -c.MaxPosition {
			return fail("position_limit_exceeded", fmt.Sprintf("position %d exceeds symmetric limit %d", newPosition, c.MaxPosition))
		}
		return pass()
	}
	if abs64(newPosition) > c.MaxPosition {
		return fail("position_limit_exceeded", fmt.Sprintf("position %d exceeds limit %d", newPosition, c.MaxPosition))
	}
	return pass()
}

// PortfolioLimit rejects an order whose effect would push the trader's
// total absolute position (across all instruments) past a cap.
type PortfolioLimit struct {
	MaxTotalPosition int64
}

func (c PortfolioLimit) Name() string { return "portfolio_limit" }

func (c PortfolioLimit) Check(ctx Context) Verdict {
	delta := orderSignedQty(ctx.Order)
	var total int64
	seenInstrument := false
	for instrumentID, pos := range ctx.CurrentPositions {
		if instrumentID == ctx.Order.InstrumentID {
			pos += delta
			seenInstrument = true
		}
		total += abs64(pos)
	}
	if !seenInstrument {
		total += abs64(delta)
	}
	if total > c.MaxTotalPosition {
		return fail("portfolio_limit_exceeded", fmt.Sprintf("total absolute position %d exceeds limit %d", total, c.MaxTotalPosition))
	}
	return pass()
}

// OrderSize rejects orders whose quantity falls outside [MinSize, MaxSize].
type OrderSize struct {
	MinSize int64
	MaxSize int64
}

func (c OrderSize) Name() string { return "order_size" }

func (c OrderSize) Check(ctx Context) Verdict {
	q := ctx.Order.Quantity
	if q < c.MinSize || q > c.MaxSize {
		return fail("order_size_invalid", fmt.Sprintf("quantity %d outside [%d, %d]", q, c.MinSize, c.MaxSize))
	}
	return pass()
}

// OrderRate rejects an order once the trader has already submitted
// MaxOrdersPerSecond orders in the current wall-clock second.
type OrderRate struct {
	MaxOrdersPerSecond int
}

func (c OrderRate) Name() string { return "order_rate" }

func (c OrderRate) Check(ctx Context) Verdict {
	if ctx.OrdersInCurrentSecond >= c.MaxOrdersPerSecond {
		return fail("rate_limit_exceeded", fmt.Sprintf("already %d orders this second, limit %d", ctx.OrdersInCurrentSecond, c.MaxOrdersPerSecond))
	}
	return pass()
}

// OrderTypeAllowed rejects orders of a type not in the role's allowed set.
type OrderTypeAllowed struct {
	Allowed map[common.OrderType]bool
}

func (c OrderTypeAllowed) Name() string { return "order_type_allowed" }

func (c OrderTypeAllowed) Check(ctx Context) Verdict {
	if !c.Allowed[ctx.Order.OrderType] {
		return fail("order_type_not_allowed", fmt.Sprintf("order type %s not permitted for this role", ctx.Order.OrderType))
	}
	return pass()
}

// TradingWindow rejects orders submitted outside the phases listed in
// AllowedPhases. Appended implicitly to every role's chain (§4.5).
type TradingWindow struct {
	AllowedPhases map[phase.Type]bool
}

func (c TradingWindow) Name() string { return "trading_window" }

func (c TradingWindow) Check(ctx Context) Verdict {
	if !c.AllowedPhases[ctx.TickPhase] {
		return fail("outside_trading_window", fmt.Sprintf("phase %s not open for order submission", ctx.TickPhase))
	}
	return pass()
}

// PriceRange rejects limit orders whose price falls outside [Min, Max].
// Market orders (HasPrice false, represented here by a zero Price on a
// market order) are exempt — there is no limit price to bound.
type PriceRange struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

func (c PriceRange) Name() string { return "price_range" }

func (c PriceRange) Check(ctx Context) Verdict {
	if ctx.Order.OrderType != common.LimitOrder {
		return pass()
	}
	if ctx.Order.Price.LessThan(c.Min) || ctx.Order.Price.GreaterThan(c.Max) {
		return fail("price_out_of_range", fmt.Sprintf("price %s outside [%s, %s]", ctx.Order.Price, c.Min, c.Max))
	}
	return pass()
}

// orderSignedQty is the position delta this order would apply to its own
// trader if fully filled: positive for buys, negative for sells.
func orderSignedQty(o common.Order) int64 {
	if o.Side == common.Buy {
		return o.Quantity
	}
	return -o.Quantity
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
