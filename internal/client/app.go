// Package client implements the OMS-side (initiator) role of the
// reservation workflow: it announces interest after logon, sends at most one
// reservation request per session, and reports executions back to the venue
// once the reservation has been accepted.
package client

import (
	"sync"

	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/quickfix"
	"github.com/quickfixgo/tag"
	"go.uber.org/zap"

	"github.com/jeromegit/bbg-emsx-simulator/internal/fixmsg"
	"github.com/jeromegit/bbg-emsx-simulator/internal/store"
)

// ReportKind selects the execution report flavor sent to the venue.
type ReportKind int

const (
	ReportAck ReportKind = iota
	ReportFill
	ReportDoneForDay
)

// FillRemaining asks SendExecutionReport to fill the entire remaining order
// quantity.
const FillRemaining int64 = -1

// App is the client role. The wire session layer invokes the quickfix
// callbacks on its own thread, concurrently with the poll loop that drives
// the scenario engine; the two synchronize only through the correlation
// store and the bounded inbound queue.
type App struct {
	clientID        int64
	announceOnLogon bool
	store           *store.CorrelationStore
	sender          fixmsg.Sender
	logger          *zap.Logger

	inbound chan *fixmsg.Message

	mu              sync.Mutex
	sessionID       quickfix.SessionID
	loggedOn        bool
	reserveSent     bool
	reserveAccepted bool
	dfdSent         bool
	acceptedClOrdID map[string]string // order id -> clordid the venue accepted with
}

// New creates the client role. queueSize bounds the inbound message queue
// drained by the poll loop.
func New(clientID int64, queueSize int, st *store.CorrelationStore, sender fixmsg.Sender, logger *zap.Logger) *App {
	return &App{
		clientID:        clientID,
		announceOnLogon: true,
		store:           st,
		sender:          sender,
		logger:          logger,
		inbound:         make(chan *fixmsg.Message, queueSize),
		acceptedClOrdID: make(map[string]string),
	}
}

// OnCreate implements quickfix.Application.
func (a *App) OnCreate(sessionID quickfix.SessionID) {}

// OnLogon resets the per-session reservation flags and announces interest.
func (a *App) OnLogon(sessionID quickfix.SessionID) {
	a.mu.Lock()
	a.sessionID = sessionID
	a.loggedOn = true
	a.reserveSent = false
	a.reserveAccepted = false
	a.dfdSent = false
	a.acceptedClOrdID = make(map[string]string)
	a.mu.Unlock()

	a.logger.Info("client session logged on", zap.String("session_id", sessionID.String()))
	if a.announceOnLogon {
		if err := a.AnnounceInterest(a.clientID); err != nil {
			a.logger.Error("failed to announce interest", zap.Error(err))
		}
	}
}

// OnLogout implements quickfix.Application.
func (a *App) OnLogout(sessionID quickfix.SessionID) {
	a.mu.Lock()
	a.loggedOn = false
	a.mu.Unlock()
	a.logger.Info("client session logged out", zap.String("session_id", sessionID.String()))
}

// ToAdmin implements quickfix.Application. Heartbeats are not logged.
func (a *App) ToAdmin(message *quickfix.Message, sessionID quickfix.SessionID) {
	logAdmin(a.logger, "sent admin", message)
}

// FromAdmin implements quickfix.Application.
func (a *App) FromAdmin(message *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	logAdmin(a.logger, "received admin", message)
	return nil
}

// ToApp implements quickfix.Application.
func (a *App) ToApp(message *quickfix.Message, sessionID quickfix.SessionID) error {
	a.logger.Info("sent app", zap.Stringer("message", fixmsg.Decode(message)))
	return nil
}

// FromApp decodes the inbound message, runs the state machine, and queues
// the message for the scenario engine. The queue write never blocks the
// session thread: when the poll loop has fallen too far behind, the message
// is counted against the state machine only and dropped from the queue.
func (a *App) FromApp(message *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	m := fixmsg.Decode(message)
	a.logger.Info("received app", zap.Stringer("message", m))
	a.processMessage(m)

	select {
	case a.inbound <- m:
	default:
		a.logger.Error("inbound queue full, dropping message for scenario matching",
			zap.Stringer("message", m))
	}
	return nil
}

// processMessage applies one inbound message to the reservation state
// machine.
func (a *App) processMessage(m *fixmsg.Message) {
	orderID := m.Get(tag.OrderID)

	switch {
	case m.MsgType() == fixmsg.MsgTypeNewOrderSingle:
		if m.Get(tag.OrdStatus) == string(enum.OrdStatus_NEW) {
			// Reservation accepted. The venue keeps this clordid for the
			// rest of the order's reports; remember it instead of
			// generating a fresh one per report.
			clordid := m.Get(tag.ClOrdID)
			a.mu.Lock()
			a.reserveAccepted = true
			a.acceptedClOrdID[orderID] = clordid
			a.mu.Unlock()
			a.logger.Info("reserve request accepted",
				zap.String("order_id", orderID),
				zap.String("clordid", clordid),
			)
		} else {
			a.store.SetLatestMessage(orderID, m)
		}

	case m.MsgType() == fixmsg.MsgTypeCancelReplace:
		a.store.SetLatestMessage(orderID, m)

	case m.Get(tag.OrdStatus) == string(enum.OrdStatus_REJECTED):
		a.logger.Warn("reserve request rejected",
			zap.String("order_id", orderID),
			zap.String("reason", m.Get(tag.Text)),
		)

	case m.MsgType() == fixmsg.MsgTypeOrderCancelRequest:
		a.store.SetLatestMessage(orderID, nil)
	}
}

// Drain returns all currently queued inbound messages without blocking.
func (a *App) Drain() []*fixmsg.Message {
	var out []*fixmsg.Message
	for {
		select {
		case m := <-a.inbound:
			out = append(out, m)
		default:
			return out
		}
	}
}

// session returns the current session id, or false when not logged on.
func (a *App) session() (quickfix.SessionID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID, a.loggedOn
}

func logAdmin(logger *zap.Logger, what string, message *quickfix.Message) {
	m := fixmsg.Decode(message)
	if m.MsgType() == fixmsg.MsgTypeHeartbeat {
		return
	}
	logger.Info(what, zap.Stringer("message", m))
}
