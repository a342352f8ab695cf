package server

import (
	"context"
	"strconv"

	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/tag"
	"go.uber.org/zap"

	"github.com/jeromegit/bbg-emsx-simulator/internal/fixmsg"
	"github.com/jeromegit/bbg-emsx-simulator/internal/ledger"
)

// Order message actions, by wire message type.
const (
	actionNewOrder    = fixmsg.MsgTypeNewOrderSingle
	actionChangeOrder = fixmsg.MsgTypeCancelReplace
	actionCancelOrder = fixmsg.MsgTypeOrderCancelRequest
	actionRejectOrder = fixmsg.MsgTypeExecutionReport
)

// messageFromSnapshot synthesizes the order message the venue pushes for a
// ledger row, with a freshly generated clordid.
func (a *App) messageFromSnapshot(snap ledger.OrderSnapshot) *fixmsg.Message {
	clordid := a.clordids.Next()
	orderID := strconv.FormatInt(snap.OrderID, 10)
	a.store.SetLatestClOrdID(orderID, clordid)

	ordType := string(enum.OrdType_MARKET)
	if snap.Price.IsPositive() {
		ordType = string(enum.OrdType_LIMIT)
	}

	return fixmsg.New().
		Set(tag.ClOrdID, clordid).
		Set(tag.Currency, fixmsg.Currency).
		Set(tag.HandlInst, string(enum.HandlInst_MANUAL_ORDER_BEST_EXECUTION)).
		Set(tag.IDSource, string(enum.IDSource_CUSIP)).
		Set(tag.OrderID, orderID).
		SetInt(tag.OrderQty, snap.Shares).
		Set(tag.Price, snap.Price.StringFixed(2)).
		Set(tag.OrdType, ordType).
		Set(tag.SecurityID, fixmsg.CUSIPForTicker(snap.Symbol)).
		SetInt(tag.SenderSubID, snap.ClientID).
		Set(tag.Side, snap.Side.FIX()).
		Set(tag.Symbol, snap.Symbol).
		Set(tag.TimeInForce, string(enum.TimeInForce_DAY)).
		Set(tag.TransactTime, fixmsg.TransactTime(0)).
		Set(tag.ExDestination, fixmsg.ExDestination)
}

// pushOrderSnapshot sends an order message derived from a ledger row and
// records it as the order's latest message so later corrections can be
// derived from it.
func (a *App) pushOrderSnapshot(action string, snap ledger.OrderSnapshot) {
	m := a.messageFromSnapshot(snap)
	a.sendOrderMessage(action, m, true)
}

// sendOrderMessage sends m with the given action message type and, when
// save is set, persists it as the latest message for its order id.
func (a *App) sendOrderMessage(action string, m *fixmsg.Message, save bool) {
	a.mu.Lock()
	sessionID, loggedOn := a.sessionID, a.loggedOn
	a.mu.Unlock()
	if !loggedOn {
		a.logger.Warn("no client session, dropping outbound order message",
			zap.String("action", action),
			zap.Stringer("message", m),
		)
		return
	}

	if err := a.sender.Send(action, m, sessionID); err != nil {
		a.logger.Error("failed to send order message",
			zap.String("action", action), zap.Error(err))
		return
	}
	if save {
		a.store.SetLatestMessage(m.Get(tag.OrderID), m)
	}
}

// sendCorrection emits a cancel/replace for orderID carrying the corrected
// remaining quantity, derived from the order's latest recorded message.
func (a *App) sendCorrection(orderID string, correctedQty int64) {
	latest, ok := a.store.LatestMessage(orderID)
	if !ok {
		return
	}
	latest.SetInt(tag.OrderQty, correctedQty).Unset(tag.OrdStatus)
	a.sendOrderMessage(actionChangeOrder, latest, true)
}

// sendReserveAccept answers an admitted reservation request. The accept
// reuses the request's fields, carries a freshly generated clordid, and that
// clordid is mapped back to the order id: subsequent fill and done-for-day
// reports reference it, not the ledger's order id.
func (a *App) sendReserveAccept(request *fixmsg.Message) {
	orderID := request.Get(tag.OrderID)
	clordid := a.clordids.Next()

	accept := request.Clone().
		Set(tag.ClOrdID, clordid).
		Set(tag.HandlInst, string(enum.HandlInst_MANUAL_ORDER_BEST_EXECUTION)).
		Set(tag.OrdStatus, string(enum.OrdStatus_NEW)).
		Set(tag.Text, "Firm Up Order: "+orderID).
		Unset(tag.TimeInForce).
		Unset(tag.ExecBroker).
		Set(tag.ClientID, request.Get(tag.ClOrdID))

	a.store.MapAccepted(clordid, orderID)
	a.sendOrderMessage(actionNewOrder, accept, false)
}

// sendReserveReject answers a refused reservation request with a Rejected
// execution report carrying zero quantity and the reason.
func (a *App) sendReserveReject(request *fixmsg.Message, reason string) {
	reject := request.Clone().
		Set(tag.Currency, fixmsg.Currency).
		Set(tag.ExecID, a.clordids.Next()).
		Set(tag.HandlInst, string(enum.HandlInst_MANUAL_ORDER_BEST_EXECUTION)).
		SetInt(tag.OrderQty, 0).
		Set(tag.OrdStatus, string(enum.OrdStatus_REJECTED)).
		Set(tag.Text, "Can Not Firm Up Order: "+reason).
		Unset(tag.ExecBroker).
		Unset(tag.ClientID).
		Set(tag.ExecType, string(enum.ExecType_REJECTED))

	a.sendOrderMessage(actionRejectOrder, reject, false)
}

// CheckForOrderChanges polls the change-notification artifact and reacts to
// any newly written change set. Called from the host poll loop.
func (a *App) CheckForOrderChanges(ctx context.Context) {
	cs, err := a.watcher.Poll()
	if err != nil {
		a.logger.Error("failed to poll order changes", zap.Error(err))
		return
	}
	if cs == nil {
		return
	}
	a.processChangeSet(ctx, cs)
}

// processChangeSet emits order messages for ledger rows the editor touched.
// The edits themselves are already in the ledger; this only notifies the
// interested client.
func (a *App) processChangeSet(ctx context.Context, cs *ledger.ChangeSet) {
	rows, err := a.ledger.ReadAll(ctx)
	if err != nil {
		a.logger.Error("failed to re-read ledger after change", zap.Error(err))
		return
	}

	if len(cs.DeletedRows) > 0 {
		a.logger.Warn("change set deletes rows, which the ledger forbids; ignoring",
			zap.Ints("row_indexes", cs.DeletedRows))
	}

	for indexStr, fields := range cs.EditedRows {
		index, err := strconv.Atoi(indexStr)
		if err != nil || index < 0 || index >= len(rows) {
			a.logger.Error("change set references unknown row",
				zap.String("row_index", indexStr),
				zap.Int("ledger_rows", len(rows)),
			)
			continue
		}
		snap := rows[index]
		if !a.interestedIn(snap.ClientID) {
			a.logger.Info("changes for client with no announced interest",
				zap.Int64("uuid", snap.ClientID),
				zap.Int64("order_id", snap.OrderID),
			)
			continue
		}

		action := actionChangeOrder
		if activeVal, ok := fields["is_active"]; ok {
			if asBool(activeVal) {
				action = actionNewOrder
			} else {
				action = actionCancelOrder
			}
		}
		a.pushOrderSnapshot(action, snap)
	}

	for _, added := range cs.AddedRows {
		snap, err := a.ledger.Get(ctx, added.OrderID)
		if err != nil {
			a.logger.Error("change set added a row the ledger does not have",
				zap.Int64("order_id", added.OrderID), zap.Error(err))
			continue
		}
		if !a.interestedIn(snap.ClientID) {
			a.logger.Info("added order for client with no announced interest",
				zap.Int64("uuid", snap.ClientID),
				zap.Int64("order_id", snap.OrderID),
			)
			continue
		}
		a.pushOrderSnapshot(actionNewOrder, snap)
	}
}

// asBool coerces a decoded JSON field value to a bool.
func asBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		b, err := strconv.ParseBool(val)
		return err == nil && b
	case float64:
		return val != 0
	default:
		return false
	}
}
