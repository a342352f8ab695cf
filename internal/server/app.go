// Package server implements the venue-side (acceptor) role: it pushes
// orders to interested clients, admits or rejects reservation requests, and
// keeps the ledger consistent with reported fills by emitting size
// corrections.
package server

import (
	"context"
	"strconv"
	"sync"

	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/quickfix"
	"github.com/quickfixgo/tag"
	"go.uber.org/zap"

	"github.com/jeromegit/bbg-emsx-simulator/internal/fixmsg"
	"github.com/jeromegit/bbg-emsx-simulator/internal/ledger"
	"github.com/jeromegit/bbg-emsx-simulator/internal/store"
)

// App is the server role. Session callbacks run on the wire layer's thread,
// concurrently with the poll loop calling CheckForOrderChanges; shared state
// lives in the correlation store and the ledger.
type App struct {
	store     *store.CorrelationStore
	ledger    *ledger.Ledger
	watcher   *ledger.ChangeWatcher
	clordids  *fixmsg.ClOrdIDGenerator
	admission AdmissionPolicy
	sender    fixmsg.Sender
	logger    *zap.Logger

	mu         sync.Mutex
	sessionID  quickfix.SessionID
	loggedOn   bool
	interested map[string]bool // tag-50 client ids announced via IOI
}

// New creates the server role.
func New(st *store.CorrelationStore, l *ledger.Ledger, watcher *ledger.ChangeWatcher,
	admission AdmissionPolicy, sender fixmsg.Sender, logger *zap.Logger) *App {
	return &App{
		store:      st,
		ledger:     l,
		watcher:    watcher,
		clordids:   fixmsg.NewClOrdIDGenerator(),
		admission:  admission,
		sender:     sender,
		logger:     logger,
		interested: make(map[string]bool),
	}
}

// OnCreate implements quickfix.Application.
func (a *App) OnCreate(sessionID quickfix.SessionID) {}

// OnLogon implements quickfix.Application.
func (a *App) OnLogon(sessionID quickfix.SessionID) {
	a.mu.Lock()
	a.sessionID = sessionID
	a.loggedOn = true
	a.mu.Unlock()
	a.logger.Info("server session logged on", zap.String("session_id", sessionID.String()))
}

// OnLogout implements quickfix.Application.
func (a *App) OnLogout(sessionID quickfix.SessionID) {
	a.mu.Lock()
	a.loggedOn = false
	a.mu.Unlock()
	a.logger.Info("server session logged out", zap.String("session_id", sessionID.String()))
}

// ToAdmin implements quickfix.Application. Heartbeats are not logged.
func (a *App) ToAdmin(message *quickfix.Message, sessionID quickfix.SessionID) {
	a.logAdmin("sent admin", message)
}

// FromAdmin implements quickfix.Application.
func (a *App) FromAdmin(message *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	a.logAdmin("received admin", message)
	return nil
}

// ToApp implements quickfix.Application.
func (a *App) ToApp(message *quickfix.Message, sessionID quickfix.SessionID) error {
	a.logger.Info("sent app", zap.Stringer("message", fixmsg.Decode(message)))
	return nil
}

// FromApp implements quickfix.Application.
func (a *App) FromApp(message *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	m := fixmsg.Decode(message)
	a.logger.Info("received app", zap.Stringer("message", m))
	a.ProcessMessage(context.Background(), m)
	return nil
}

// ProcessMessage dispatches one inbound application message. Data
// inconsistencies are logged and the message dropped; the session is never
// torn down over them.
func (a *App) ProcessMessage(ctx context.Context, m *fixmsg.Message) {
	switch m.MsgType() {
	case fixmsg.MsgTypeIOI:
		a.processIOI(ctx, m)
	case fixmsg.MsgTypeNewOrderSingle:
		a.processReserveRequest(ctx, m)
	case fixmsg.MsgTypeExecutionReport:
		a.processExecutionReport(ctx, m)
	}
}

// processIOI records the announcing client as of-interest and pushes every
// active ledger order belonging to it.
func (a *App) processIOI(ctx context.Context, m *fixmsg.Message) {
	clientIDStr := m.Get(tag.SenderSubID)
	clientID, err := strconv.ParseInt(clientIDStr, 10, 64)
	if err != nil {
		a.logger.Error("IOI carries malformed client id", zap.String("uuid", clientIDStr))
		return
	}

	a.mu.Lock()
	a.interested[clientIDStr] = true
	a.mu.Unlock()

	rows, err := a.ledger.FindByClientID(ctx, clientID)
	if err != nil {
		a.logger.Error("failed to read ledger for client", zap.Int64("uuid", clientID), zap.Error(err))
		return
	}
	a.logger.Info("pushing orders for client",
		zap.Int64("uuid", clientID),
		zap.Int("orders", len(rows)),
	)
	for _, snap := range rows {
		a.pushOrderSnapshot(actionNewOrder, snap)
	}
}

// processReserveRequest applies the admission rule and replies with either a
// size correction followed by an accept, or a reject carrying the reason.
func (a *App) processReserveRequest(ctx context.Context, m *fixmsg.Message) {
	orderIDStr := m.Get(tag.OrderID)
	orderID, err := strconv.ParseInt(orderIDStr, 10, 64)
	if err != nil {
		a.logger.Error("reserve request carries malformed order id", zap.String("order_id", orderIDStr))
		return
	}
	qty, err := m.GetInt(tag.OrderQty)
	if err != nil {
		a.logger.Error("reserve request carries no usable quantity",
			zap.String("order_id", orderIDStr), zap.Error(err))
		return
	}

	// Without the pushed order message there is nothing to derive the size
	// correction from, and an accept without its correction would leave the
	// client working a stale quantity. Drop before touching the ledger.
	if _, ok := a.store.LatestMessage(orderIDStr); !ok {
		a.logger.Warn("reserve request for order that was never pushed, dropping",
			zap.String("order_id", orderIDStr))
		return
	}

	snap, err := a.ledger.Get(ctx, orderID)
	if err != nil {
		a.logger.Error("reserve request for unknown ledger order",
			zap.String("order_id", orderIDStr), zap.Error(err))
		return
	}

	if admitErr := a.admission.Admit(snap, qty); admitErr != nil {
		a.logger.Warn("reserve request rejected",
			zap.String("order_id", orderIDStr),
			zap.Int64("requested", qty),
			zap.Int64("remaining", snap.Shares),
			zap.String("reason", admitErr.Error()),
		)
		a.sendReserveReject(m, admitErr.Error())
		return
	}

	corrected := snap.Shares - qty
	a.sendCorrection(orderIDStr, corrected)

	snap.Shares = corrected
	if _, err := a.ledger.Upsert(ctx, snap); err != nil {
		a.logger.Error("failed to persist corrected shares",
			zap.String("order_id", orderIDStr), zap.Error(err))
		return
	}

	a.sendReserveAccept(m)
}

// processExecutionReport resolves the reporting clordid back to its order,
// decrements the ledger, and emits a correction with the new remaining
// quantity. Only terminal fill progress (Filled, DoneForDay) moves the
// ledger.
func (a *App) processExecutionReport(ctx context.Context, m *fixmsg.Message) {
	status := m.Get(tag.OrdStatus)
	if status != string(enum.OrdStatus_FILLED) && status != string(enum.OrdStatus_DONE_FOR_DAY) {
		return
	}

	clordid := m.Get(tag.ClOrdID)
	orderIDStr, ok := a.store.ResolveAccepted(clordid)
	if !ok {
		// Cannot attribute the fill; drop it.
		return
	}
	orderID, err := strconv.ParseInt(orderIDStr, 10, 64)
	if err != nil {
		a.logger.Error("accepted mapping points at malformed order id",
			zap.String("order_id", orderIDStr), zap.String("clordid", clordid))
		return
	}

	cumQty, err := m.GetInt(tag.CumQty)
	if err != nil {
		a.logger.Error("execution report carries no usable cumulative quantity",
			zap.String("order_id", orderIDStr), zap.Error(err))
		return
	}

	snap, err := a.ledger.Get(ctx, orderID)
	if err != nil {
		a.logger.Error("execution report for unknown ledger order",
			zap.String("order_id", orderIDStr), zap.Error(err))
		return
	}
	if cumQty > snap.Shares {
		a.logger.Error("reported cumulative quantity exceeds remaining shares, dropping report",
			zap.String("order_id", orderIDStr),
			zap.Int64("cum_qty", cumQty),
			zap.Int64("remaining", snap.Shares),
		)
		return
	}

	snap.Shares -= cumQty
	if _, err := a.ledger.Upsert(ctx, snap); err != nil {
		a.logger.Error("failed to persist filled shares",
			zap.String("order_id", orderIDStr), zap.Error(err))
		return
	}

	a.logger.Info("applied fill to ledger",
		zap.String("order_id", orderIDStr),
		zap.Int64("cum_qty", cumQty),
		zap.Int64("remaining", snap.Shares),
	)
	a.sendCorrection(orderIDStr, snap.Shares)
}

// interestedIn reports whether a client id was announced via IOI.
func (a *App) interestedIn(clientID int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.interested[strconv.FormatInt(clientID, 10)]
}

func (a *App) logAdmin(what string, message *quickfix.Message) {
	m := fixmsg.Decode(message)
	if m.MsgType() == fixmsg.MsgTypeHeartbeat {
		return
	}
	a.logger.Info(what, zap.Stringer("message", m))
}
