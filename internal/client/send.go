package client

import (
	"fmt"
	"time"

	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/tag"
	"go.uber.org/zap"

	"github.com/jeromegit/bbg-emsx-simulator/internal/fixmsg"
)

// reserveFillPrice is the synthetic execution price reported on fills.
const reserveFillPrice = "11.22"

// AnnounceInterest sends an indication-of-interest for clientID on the
// current session, asking the venue to push that client's active orders.
func (a *App) AnnounceInterest(clientID int64) error {
	sessionID, ok := a.session()
	if !ok {
		return fmt.Errorf("not logged on")
	}
	m := fixmsg.New().
		Set(tag.IOITransType, string(enum.IOITransType_NEW)).
		SetInt(tag.SenderSubID, clientID)
	return a.sender.Send(fixmsg.MsgTypeIOI, m, sessionID)
}

// SendReserveRequest asks the venue to reserve shares of an existing order.
// At most one reservation request is sent per logon; further calls are
// no-ops. The request is synthesized from the last stored snapshot for the
// order: side, symbol, price and type are copied verbatim.
func (a *App) SendReserveRequest(orderID string, shares int64) error {
	sessionID, ok := a.session()
	if !ok {
		return fmt.Errorf("not logged on")
	}

	// Claim the once-per-logon slot in one critical section so concurrent
	// callers cannot both pass the gate; give it back if nothing goes out.
	a.mu.Lock()
	if a.reserveSent {
		a.mu.Unlock()
		return nil
	}
	a.reserveSent = true
	a.mu.Unlock()

	latest, ok := a.store.LatestMessage(orderID)
	if !ok {
		a.rearmReserve()
		return nil
	}

	venueOrderID := latest.Get(tag.OrderID)
	clordid := "ITGClOrdID:" + venueOrderID
	m := fixmsg.New().
		Set(tag.ClOrdID, clordid).
		Set(tag.OrderID, venueOrderID).
		SetInt(tag.OrderQty, shares).
		Set(tag.OrdType, latest.Get(tag.OrdType)).
		Set(tag.Price, latest.Get(tag.Price)).
		SetInt(tag.SenderSubID, a.clientID).
		Set(tag.Side, latest.Get(tag.Side)).
		Set(tag.Symbol, latest.Get(tag.Symbol)).
		Set(tag.TransactTime, fixmsg.TransactTime(0)).
		Set(tag.ExecBroker, fixmsg.ExecBroker).
		Set(tag.ExDestination, fixmsg.ExDestination).
		Set(tag.ClientID, venueOrderID).
		Set(tag.ExecType, string(enum.ExecType_NEW))

	a.logger.Info("sending reserve request",
		zap.String("order_id", venueOrderID),
		zap.Int64("shares", shares),
	)
	if err := a.sender.Send(fixmsg.MsgTypeNewOrderSingle, m, sessionID); err != nil {
		a.rearmReserve()
		return err
	}
	return nil
}

func (a *App) rearmReserve() {
	a.mu.Lock()
	a.reserveSent = false
	a.mu.Unlock()
}

// SendExecutionReport reports execution progress on a reserved order. It is
// a no-op until the reservation has been accepted, and permanently latches
// off once a done-for-day report has been sent for the session.
//
// For ReportFill, fillShares may be FillRemaining to fill the whole order,
// and zero is a deliberate no-op. fillShares exceeding the order quantity is
// a caller-contract violation and panics: it means the harness itself is
// misconfigured.
func (a *App) SendExecutionReport(orderID string, fillShares int64, kind ReportKind) error {
	sessionID, ok := a.session()
	if !ok {
		return fmt.Errorf("not logged on")
	}

	a.mu.Lock()
	gated := !a.reserveAccepted || a.dfdSent
	a.mu.Unlock()
	if gated {
		return nil
	}

	latest, ok := a.store.LatestMessage(orderID)
	if !ok {
		return nil
	}

	orderQty, err := latest.GetInt(tag.OrderQty)
	if err != nil {
		a.logger.Error("stored order snapshot has no usable quantity",
			zap.String("order_id", orderID), zap.Error(err))
		return nil
	}
	venueOrderID := latest.Get(tag.OrderID)

	a.mu.Lock()
	clordid, ok := a.acceptedClOrdID[venueOrderID]
	a.mu.Unlock()
	if !ok {
		a.logger.Error("no accepted reservation clordid for order",
			zap.String("order_id", venueOrderID))
		return nil
	}

	var (
		price      = reserveFillPrice
		lastPx     = "0"
		lastShares = int64(0)
		cumQty     = int64(0)
		leavesQty  = int64(0)
		ordStatus  string
		execType   string
		what       string
	)

	switch kind {
	case ReportAck:
		price = "0"
		ordStatus = string(enum.OrdStatus_NEW)
		execType = string(enum.ExecType_NEW)
		leavesQty = orderQty
		what = "ack"

	case ReportDoneForDay:
		if fillShares > 0 {
			cumQty = fillShares
		}
		ordStatus = string(enum.OrdStatus_DONE_FOR_DAY)
		execType = string(enum.ExecType_DONE_FOR_DAY)
		what = "done for day"

	case ReportFill:
		if fillShares < 0 {
			fillShares = orderQty
		}
		if fillShares == 0 {
			// Nothing to fill, nothing to report.
			return nil
		}
		if fillShares > orderQty {
			panic(fmt.Sprintf("fill shares %d exceed order quantity %d for order %s",
				fillShares, orderQty, venueOrderID))
		}
		lastPx = price
		lastShares = fillShares
		cumQty = fillShares
		leavesQty = orderQty - fillShares
		if fillShares == orderQty {
			ordStatus = string(enum.OrdStatus_FILLED)
			execType = string(enum.ExecType_FILL)
			what = "fill"
		} else {
			ordStatus = string(enum.OrdStatus_PARTIALLY_FILLED)
			execType = string(enum.ExecType_PARTIAL_FILL)
			what = "partial fill"
		}

	default:
		return fmt.Errorf("unknown report kind %d", kind)
	}

	m := fixmsg.New().
		Set(tag.AvgPx, price).
		Set(tag.ClOrdID, clordid).
		SetInt(tag.CumQty, cumQty).
		Set(tag.Currency, fixmsg.Currency).
		Set(tag.ExecID, venueOrderID+"-gate").
		Set(tag.ExecTransType, string(enum.ExecTransType_NEW)).
		Set(tag.LastCapacity, string(enum.LastCapacity_AGENT)).
		Set(tag.LastMkt, fixmsg.LastMarket).
		Set(tag.LastPx, lastPx).
		SetInt(tag.LastShares, lastShares).
		Set(tag.OrderID, venueOrderID+"-caprona").
		SetInt(tag.OrderQty, orderQty).
		Set(tag.OrdStatus, ordStatus).
		Set(tag.OrdType, latest.Get(tag.OrdType)).
		Set(tag.OrigClOrdID, clordid).
		Set(tag.Rule80A, string(enum.Rule80A_AGENCY_SINGLE_ORDER)).
		SetInt(tag.SenderSubID, a.clientID).
		Set(tag.Side, latest.Get(tag.Side)).
		Set(tag.Symbol, latest.Get(tag.Symbol)).
		Set(tag.TimeInForce, latest.Get(tag.TimeInForce)).
		Set(tag.TransactTime, fixmsg.TransactTime(0)).
		Set(tag.ExecBroker, fixmsg.ExecBroker).
		Set(tag.ExpireTime, fixmsg.TransactTime(5*time.Minute)).
		Set(tag.ExecType, execType).
		SetInt(tag.LeavesQty, leavesQty)

	a.logger.Info("sending execution report",
		zap.String("kind", what),
		zap.String("order_id", venueOrderID),
		zap.Int64("cum_qty", cumQty),
		zap.Int64("leaves_qty", leavesQty),
	)
	if err := a.sender.Send(fixmsg.MsgTypeExecutionReport, m, sessionID); err != nil {
		return err
	}

	if kind == ReportDoneForDay {
		a.mu.Lock()
		a.dfdSent = true
		a.mu.Unlock()
	}
	return nil
}
