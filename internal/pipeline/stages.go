package pipeline

import (
	"errors"

	"optionex/internal/common"
	"optionex/internal/coordinator"
	"optionex/internal/fee"
	"optionex/internal/validation"
	"optionex/internal/wsfanout"

	"github.com/rs/zerolog/log"
)

// runValidatorStage consumes order_queue. New orders are validated and,
// on acceptance, forwarded to match_queue; the HTTP waiter is notified
// either way (accept carries status "new", reject carries the failing
// constraint's code). Cancels are delegated straight to the venue.
func (p *Pipeline) runValidatorStage() error {
	for msg := range p.orderQueue {
		if msg.Shutdown {
			return nil
		}
		msg := msg
		safeStage("validator", func() { p.handleOrderMessage(msg) })
	}
	return nil
}

func (p *Pipeline) handleOrderMessage(msg OrderMessage) {
	switch msg.Kind {
	case NewOrder:
		p.handleNewOrder(msg)
	case CancelOrder:
		p.handleCancelOrder(msg)
	}
}

func (p *Pipeline) handleNewOrder(msg OrderMessage) {
	order, err := common.NewOrder(msg.NewOrderParams)
	if err != nil {
		p.rejectNewOrder(msg, "invalid_order", err.Error())
		return
	}

	ctx := validation.Context{
		Order:                 order,
		TraderID:              msg.Team.TeamID,
		TraderRole:            msg.Team.Role,
		CurrentPositions:      p.positions.GetAll(msg.Team.TeamID),
		OrdersInCurrentSecond: p.rateLimits.CountForCurrentSecond(msg.Team.TeamID),
		TickPhase:             p.phases.CurrentPhase().PhaseType,
	}

	if err := p.validator.ValidateNewOrder(ctx); err != nil {
		rej, ok := err.(*validation.RejectionError)
		code, detail := "rejected", err.Error()
		if ok {
			code, detail = rej.Code, rej.Detail
		}
		p.rejectNewOrder(msg, code, detail)
		return
	}

	p.rateLimits.RecordSuccess(msg.Team.TeamID)

	p.coord.NotifyCompletion(msg.RequestID, coordinator.APIResponse{
		Success: true,
		Code:    "new",
		Message: "order accepted",
		Data:    map[string]string{"order_id": order.OrderID, "status": common.New.String()},
	}, order.OrderID)

	select {
	case p.matchQueue <- MatchMessage{Order: order, Team: msg.Team, RequestID: msg.RequestID}:
	default:
		log.Error().Str("request_id", msg.RequestID).Msg("match queue full, dropping accepted order")
	}
}

func (p *Pipeline) rejectNewOrder(msg OrderMessage, code, detail string) {
	p.enqueueWS(msg.Team.TeamID, string(wsfanout.NewOrderReject), map[string]string{
		"request_id": msg.RequestID,
		"code":       code,
		"detail":     detail,
	})
	p.coord.NotifyCompletion(msg.RequestID, coordinator.APIResponse{
		Success: false,
		Code:    code,
		Message: detail,
	}, "")
}

func (p *Pipeline) handleCancelOrder(msg OrderMessage) {
	cancelled, err := p.venue.CancelOrder(msg.CancelInstrumentID, msg.CancelOrderID, msg.Team.TeamID)
	if err != nil {
		// §4.5: ownership violations and not-found are folded into one
		// opaque rejection reason so a team can't probe for order ids it
		// doesn't own.
		p.enqueueWS(msg.Team.TeamID, string(wsfanout.CancelReject), map[string]string{
			"request_id": msg.RequestID,
			"order_id":   msg.CancelOrderID,
		})
		p.coord.NotifyCompletion(msg.RequestID, coordinator.APIResponse{
			Success: false,
			Code:    "cancel_rejected",
			Message: "order not found or not owned by this team",
		}, "")
		return
	}

	p.enqueueWS(msg.Team.TeamID, string(wsfanout.CancelAck), map[string]string{
		"request_id": msg.RequestID,
		"order_id":   cancelled.OrderID,
	})
	p.coord.NotifyCompletion(msg.RequestID, coordinator.APIResponse{
		Success: true,
		Code:    "cancelled",
		Data:    map[string]string{"order_id": cancelled.OrderID},
	}, cancelled.OrderID)
}

// runMatcherStage consumes match_queue, submits to the venue, and forwards
// the outcome to trade_queue. The HTTP waiter was already notified by the
// validator stage, so a matching error is logged rather than re-notified
// (spec.md §4.2/§4.7: "do not double-respond").
func (p *Pipeline) runMatcherStage() error {
	for msg := range p.matchQueue {
		if msg.Shutdown {
			return nil
		}
		msg := msg
		safeStage("matcher", func() { p.handleMatch(msg) })
	}
	return nil
}

func (p *Pipeline) handleMatch(msg MatchMessage) {
	result, err := p.venue.SubmitOrder(msg.Order)
	if err != nil {
		log.Error().Err(err).Str("order_id", msg.Order.OrderID).Str("code", classifyMatchError(err)).Msg("matching failed after acceptance")
		return
	}

	if result.Status == common.New || result.Status == common.PartiallyFilled || result.Status == common.Filled {
		p.enqueueWS(msg.Team.TeamID, string(wsfanout.NewOrderAck), map[string]any{
			"order_id":      msg.Order.OrderID,
			"status":        result.Status.String(),
			"remaining_qty": result.RemainingQty,
			"fill_count":    len(result.Fills),
		})
	}

	select {
	case p.tradeQueue <- TradeMessage{Result: result, Order: msg.Order, Team: msg.Team, RequestID: msg.RequestID}:
	default:
		log.Error().Str("order_id", msg.Order.OrderID).Msg("trade queue full, dropping match result")
	}
}

// PublishBatchTrade re-enters the same trade_queue path handleMatch uses for
// continuous fills, so a batch/opening-auction trade gets the identical
// treatment: execution reports to both parties, the fee calculation, and the
// position update. Called once per trade the batch engine clears (not once
// per order) since a crossing trade's two legs already share one
// publication here — pushing both legs separately would apply the position
// delta twice.
func (p *Pipeline) PublishBatchTrade(trade common.Trade) {
	buyerRole, _ := p.roles.RoleFor(trade.BuyerID)
	order := common.Order{
		OrderID:      trade.BuyerOrderID,
		InstrumentID: trade.InstrumentID,
		Side:         common.Buy,
		TraderID:     trade.BuyerID,
	}
	result := common.OrderResult{OrderID: trade.BuyerOrderID, Status: common.Filled, Fills: []common.Trade{trade}}

	select {
	case p.tradeQueue <- TradeMessage{Result: result, Order: order, Team: TeamInfo{TeamID: trade.BuyerID, Role: buyerRole}}:
	default:
		log.Error().Str("trade_id", trade.TradeID).Msg("trade queue full, dropping batch-cleared trade")
	}
}

func classifyMatchError(err error) string {
	switch {
	case errors.Is(err, common.ErrUnknownInstrument):
		return "unknown-instrument"
	case errors.Is(err, common.ErrInvalidQuantity), errors.Is(err, common.ErrInvalidPrice):
		return "invalid-order"
	case errors.Is(err, common.ErrDuplicateOrderID):
		return "exchange-error"
	default:
		return "internal-error"
	}
}

// runTradePublisherStage consumes trade_queue. For every fill it computes
// both parties' liquidity role and fee, publishes an execution_report to
// each, then forwards to position_queue.
func (p *Pipeline) runTradePublisherStage() error {
	for msg := range p.tradeQueue {
		if msg.Shutdown {
			return nil
		}
		msg := msg
		safeStage("trade_publisher", func() { p.handleTradePublish(msg) })
	}
	return nil
}

func (p *Pipeline) handleTradePublish(msg TradeMessage) {
	for _, trade := range msg.Result.Fills {
		p.publishExecutionReport(trade, msg.Team.TeamID, msg.Team.Role, trade.BuyerID == msg.Team.TeamID)
		if trade.IsSelfTrade() {
			continue
		}
		counterpartyID := trade.SellerID
		if trade.BuyerID != msg.Team.TeamID {
			counterpartyID = trade.BuyerID
		}
		counterpartyRole, ok := p.roles.RoleFor(counterpartyID)
		if !ok {
			log.Warn().Str("team_id", counterpartyID).Msg("no role on file for counterparty, skipping their execution report")
			continue
		}
		p.publishExecutionReport(trade, counterpartyID, counterpartyRole, trade.BuyerID == counterpartyID)
	}

	select {
	case p.positionQueue <- PositionMessage{Result: msg.Result, Order: msg.Order, Team: msg.Team, RequestID: msg.RequestID}:
	default:
		log.Error().Str("order_id", msg.Order.OrderID).Msg("position queue full, dropping trade result")
	}
}

func (p *Pipeline) publishExecutionReport(trade common.Trade, teamID, role string, isBuyer bool) {
	side := common.Sell
	if isBuyer {
		side = common.Buy
	}
	liquidity := fee.DetermineLiquidity(trade.Aggressor, side)

	amount, err := p.fees.Calculate(trade.Quantity, role, liquidity)
	if err != nil {
		log.Error().Err(err).Str("team_id", teamID).Msg("fee calculation failed")
		return
	}

	p.enqueueWS(teamID, string(wsfanout.ExecutionReport), map[string]any{
		"trade_id":      trade.TradeID,
		"instrument_id": trade.InstrumentID,
		"price":         trade.Price.String(),
		"quantity":      trade.Quantity,
		"side":          side.String(),
		"liquidity":     liquidity.String(),
		"fee":           amount.String(),
		"timestamp":     trade.Timestamp,
	})
}

// runPositionTrackerStage consumes position_queue, applying conserved
// position deltas for every fill. A self-trade's +q and -q land on the same
// team and cancel, so neither update is applied for it.
func (p *Pipeline) runPositionTrackerStage() error {
	for msg := range p.positionQueue {
		if msg.Shutdown {
			return nil
		}
		msg := msg
		safeStage("position_tracker", func() { p.handlePositionUpdate(msg) })
	}
	return nil
}

func (p *Pipeline) handlePositionUpdate(msg PositionMessage) {
	for _, trade := range msg.Result.Fills {
		if trade.IsSelfTrade() {
			continue
		}
		p.positions.Update(trade.BuyerID, trade.InstrumentID, trade.Quantity)
		p.positions.Update(trade.SellerID, trade.InstrumentID, -trade.Quantity)
	}
}

// runWSPublisherStage is the only stage that talks to the fan-out
// registry: every other stage enqueues onto websocket_queue via
// enqueueWS, bridging the blocking queue into the registry's own
// non-blocking delivery (wsfanout.Registry.Send disconnects on a full
// buffer or write failure, so this stage never blocks on one team's slow
// connection).
func (p *Pipeline) runWSPublisherStage() error {
	for msg := range p.wsQueue {
		if msg.Shutdown {
			return nil
		}
		p.ws.Send(msg.TeamID, msg.Type, msg.Payload)
	}
	return nil
}

// enqueueWS is how every stage other than the WS publisher itself hands a
// message to websocket_queue; a full buffer drops the message rather than
// blocking the enqueuing stage.
func (p *Pipeline) enqueueWS(teamID, msgType string, payload any) {
	select {
	case p.wsQueue <- WSMessage{TeamID: teamID, Type: msgType, Payload: payload}:
	default:
		log.Error().Str("team_id", teamID).Str("type", msgType).Msg("websocket queue full, dropping message")
	}
}
