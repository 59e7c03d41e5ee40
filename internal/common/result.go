package common

// OrderResult is what the matching engine / exchange venue hands back for
// an order submission: the client-visible status plus whatever fills
// happened synchronously.
type OrderResult struct {
	OrderID          string
	Status           OrderStatus
	Fills            []Trade
	RemainingQty     int64
	ErrorCode        string
	ErrorMessage     string
}

// NewErrorResult builds a rejected/error OrderResult carrying a constraint
// or routing error code, per the taxonomy in §7.
func NewErrorResult(orderID string, status OrderStatus, code, message string) OrderResult {
	return OrderResult{
		OrderID:      orderID,
		Status:       status,
		ErrorCode:    code,
		ErrorMessage: message,
	}
}

// Success reports whether this result represents an accepted order (resting,
// partially filled, filled, or pending in a batch auction).
func (r OrderResult) Success() bool {
	switch r.Status {
	case New, PartiallyFilled, Filled, PendingNew:
		return true
	default:
		return false
	}
}
