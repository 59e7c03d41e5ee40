// Package validation runs an ordered chain of per-role constraints over
// incoming orders before they reach the matching engine.
//
// Grounded on original_source's domain/exchange/validation (ValidationContext,
// Constraint protocol, ConstraintBasedOrderValidator) and, for the
// ordered-middleware-chain shape, on the teacher's
// internal/net.Server.sessionHandler dispatch-then-log-and-continue style.
package validation

import (
	"optionex/internal/common"
	"optionex/internal/phase"
)

// Context is everything a constraint needs to judge one order.
type Context struct {
	Order                 common.Order
	TraderID              string
	TraderRole            string
	CurrentPositions      map[string]int64 // instrument_id -> signed position
	OrdersInCurrentSecond int
	TickPhase             phase.Type
}

// Verdict is a constraint's judgement: Ok, or a rejection carrying a
// machine-readable code and a human-readable detail.
type Verdict struct {
	Ok     bool
	Code   string
	Detail string
}

func pass() Verdict { return Verdict{Ok: true} }

func fail(code, detail string) Verdict {
	return Verdict{Ok: false, Code: code, Detail: detail}
}

// Constraint judges one order against one configured rule.
type Constraint interface {
	// Name identifies the constraint for logging/config binding.
	Name() string
	Check(ctx Context) Verdict
}

// RejectionError is returned by Validator.ValidateNewOrder when a
// constraint fails; it carries the failing constraint's code so callers
// can surface it verbatim in the rejection envelope.
type RejectionError struct {
	Code   string
	Detail string
}

func (e *RejectionError) Error() string { return e.Detail }

// Validator runs a role's ordered constraint chain, with the trading-window
// constraint implicitly appended to every role (universal per §4.5).
type Validator struct {
	byRole        map[string][]Constraint
	tradingWindow Constraint
}

// NewValidator builds a Validator. tradingWindow may be nil if the caller
// has no phase restriction to enforce (e.g. in tests).
func NewValidator(byRole map[string][]Constraint, tradingWindow Constraint) *Validator {
	return &Validator{byRole: byRole, tradingWindow: tradingWindow}
}

// ValidateNewOrder runs the role's constraint chain in configured order,
// appending the universal trading-window check last, and stops at the
// first failure.
func (v *Validator) ValidateNewOrder(ctx Context) error {
	chain := v.byRole[ctx.TraderRole]
	for _, c := range chain {
		if verdict := c.Check(ctx); !verdict.Ok {
			return &RejectionError{Code: verdict.Code, Detail: verdict.Detail}
		}
	}
	if v.tradingWindow != nil {
		if verdict := v.tradingWindow.Check(ctx); !verdict.Ok {
			return &RejectionError{Code: verdict.Code, Detail: verdict.Detail}
		}
	}
	return nil
}
