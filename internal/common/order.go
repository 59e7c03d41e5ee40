package common

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an Order as reported back to the
// client; it is distinct from the purely book-keeping "resting" concept
// owned by the order book.
type OrderStatus int

const (
	PendingNew OrderStatus = iota
	New
	PartiallyFilled
	Filled
	Rejected
	Cancelled
	Error
)

func (s OrderStatus) String() string {
	switch s {
	case PendingNew:
		return "pending_new"
	case New:
		return "new"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Rejected:
		return "rejected"
	case Cancelled:
		return "cancelled"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Order is a single order as it flows through validation, matching and
// rest. Quantity/FilledQuantity are tracked as int64 lots (no fractional
// contracts); Price is a decimal so penny-increment checks and matching
// arithmetic never drift the way float64 cents comparisons can.
//
// Invariant: 0 <= FilledQuantity <= Quantity; RemainingQuantity is derived,
// never stored independently, so the two cannot go out of sync.
type Order struct {
	OrderID        string
	InstrumentID   string
	Side           Side
	OrderType      OrderType
	Price          decimal.Decimal // zero value for market orders
	Quantity       int64
	FilledQuantity int64
	TraderID       string
	ClientOrderID  string
	Timestamp      time.Time
}

// NewOrderParams is the set of caller-supplied fields; OrderID and
// Timestamp are exchange-assigned.
type NewOrderParams struct {
	InstrumentID  string
	Side          Side
	OrderType     OrderType
	Price         decimal.Decimal
	HasPrice      bool
	Quantity      int64
	TraderID      string
	ClientOrderID string
}

// NewOrder validates order-construction invariants (zero-quantity or
// non-penny price orders are rejected at construction) and assigns a fresh
// globally-unique order id.
func NewOrder(p NewOrderParams) (Order, error) {
	if p.Quantity <= 0 {
		return Order{}, ErrInvalidQuantity
	}

	switch p.OrderType {
	case LimitOrder:
		if !p.HasPrice {
			return Order{}, ErrPriceRequired
		}
		if !isPennyIncrement(p.Price) || p.Price.Sign() <= 0 {
			return Order{}, ErrInvalidPrice
		}
	case MarketOrder:
		if p.HasPrice {
			return Order{}, ErrPriceNotAllowed
		}
	default:
		return Order{}, fmt.Errorf("%w: order_type %v", ErrInvalidEnum, p.OrderType)
	}

	return Order{
		OrderID:       uuid.New().String(),
		InstrumentID:  p.InstrumentID,
		Side:          p.Side,
		OrderType:     p.OrderType,
		Price:         p.Price,
		Quantity:      p.Quantity,
		TraderID:      p.TraderID,
		ClientOrderID: p.ClientOrderID,
		Timestamp:     time.Now(),
	}, nil
}

// isPennyIncrement reports whether price is quantised to 0.01.
func isPennyIncrement(price decimal.Decimal) bool {
	cents := price.Mul(decimal.NewFromInt(100))
	return cents.Equal(cents.Truncate(0))
}

// Remaining returns the unfilled quantity.
func (o Order) Remaining() int64 {
	return o.Quantity - o.FilledQuantity
}

// IsFilled reports whether the order has no remaining quantity.
func (o Order) IsFilled() bool {
	return o.Remaining() <= 0
}

// Fill reduces the remaining quantity by qty. Callers are expected to clamp
// qty to min(incoming.remaining, resting.remaining) before calling; this is
// a defensive invariant check, not a volume cap.
func (o *Order) Fill(qty int64) error {
	if qty <= 0 || qty > o.Remaining() {
		return fmt.Errorf("order %s: cannot fill %d, remaining %d", o.OrderID, qty, o.Remaining())
	}
	o.FilledQuantity += qty
	return nil
}

func (o Order) String() string {
	return fmt.Sprintf(
		"Order{id=%s instrument=%s side=%s type=%s price=%s qty=%d/%d trader=%s}",
		o.OrderID, o.InstrumentID, o.Side, o.OrderType, o.Price.String(),
		o.FilledQuantity, o.Quantity, o.TraderID,
	)
}
