package common

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Trade is the record of one match between a resting (maker) order and an
// incoming (taker/aggressor) order. Trades are emitted by the matching
// engine, consumed once by the trade publisher stage, and never mutated.
//
// Invariant: Price and Quantity are those of the resting order at the
// instant of the match (price improvement accrues to the aggressor).
type Trade struct {
	TradeID       string
	InstrumentID  string
	BuyerID       string
	SellerID      string
	BuyerOrderID  string
	SellerOrderID string
	Price         decimal.Decimal
	Quantity      int64
	Aggressor     Side
	Timestamp     time.Time
}

// NewTrade stamps a fresh trade id and timestamp.
func NewTrade(instrumentID, buyerID, sellerID, buyerOrderID, sellerOrderID string, price decimal.Decimal, quantity int64, aggressor Side) Trade {
	return Trade{
		TradeID:       uuid.New().String(),
		InstrumentID:  instrumentID,
		BuyerID:       buyerID,
		SellerID:      sellerID,
		BuyerOrderID:  buyerOrderID,
		SellerOrderID: sellerOrderID,
		Price:         price,
		Quantity:      quantity,
		Aggressor:     aggressor,
		Timestamp:     time.Now(),
	}
}

// IsSelfTrade reports whether the same team was on both sides.
func (t Trade) IsSelfTrade() bool {
	return t.BuyerID == t.SellerID
}

func (t Trade) String() string {
	return fmt.Sprintf(
		"Trade{id=%s instrument=%s buyer=%s seller=%s price=%s qty=%d aggressor=%s}",
		t.TradeID, t.InstrumentID, t.BuyerID, t.SellerID, t.Price.String(), t.Quantity, t.Aggressor,
	)
}
