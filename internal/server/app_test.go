package server

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/quickfix"
	"github.com/quickfixgo/tag"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jeromegit/bbg-emsx-simulator/internal/fixmsg"
	"github.com/jeromegit/bbg-emsx-simulator/internal/ledger"
	"github.com/jeromegit/bbg-emsx-simulator/internal/store"
)

type sentMessage struct {
	msgType string
	msg     *fixmsg.Message
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeSender) Send(msgType string, m *fixmsg.Message, _ quickfix.SessionID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{msgType: msgType, msg: m.Clone()})
	return nil
}

func (f *fakeSender) all() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeSender) last(t *testing.T) sentMessage {
	t.Helper()
	all := f.all()
	require.NotEmpty(t, all)
	return all[len(all)-1]
}

func newTestServer(t *testing.T) (*App, *fakeSender, *ledger.Ledger) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "server_test_*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	l, err := ledger.Open(filepath.Join(tmpDir, "orders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	seed := []ledger.OrderSnapshot{
		{OrderID: 100, IsActive: true, ClientID: 1234, Symbol: "LUV", Side: ledger.SideBuy, Shares: 1000, Price: decimal.RequireFromString("42.50")},
		{OrderID: 110, IsActive: false, ClientID: 1234, Symbol: "CAKE", Side: ledger.SideSell, Shares: 500, Price: decimal.RequireFromString("31.25")},
		{OrderID: 120, IsActive: true, ClientID: 9999, Symbol: "HOG", Side: ledger.SideBuy, Shares: 200, Price: decimal.RequireFromString("18.00")},
		{OrderID: 130, IsActive: true, ClientID: 1234, Symbol: "ZVZZT", Side: ledger.SideBuy, Shares: 750, Price: decimal.RequireFromString("10.10")},
	}
	require.NoError(t, l.SeedIfEmpty(context.Background(), seed))

	sender := &fakeSender{}
	st := store.NewCorrelationStore(zap.NewNop())
	watcher := ledger.NewChangeWatcher(filepath.Join(tmpDir, "changes.json"), zap.NewNop())
	a := New(st, l, watcher, DefaultAdmission("Z"), sender, zap.NewNop())
	a.OnLogon(quickfix.SessionID{})
	return a, sender, l
}

func ioiFor(clientID string) *fixmsg.Message {
	return fixmsg.New().
		Set(tag.MsgType, fixmsg.MsgTypeIOI).
		Set(tag.IOITransType, string(enum.IOITransType_NEW)).
		Set(tag.SenderSubID, clientID)
}

func reserveFor(orderID, qty string) *fixmsg.Message {
	return fixmsg.New().
		Set(tag.MsgType, fixmsg.MsgTypeNewOrderSingle).
		Set(tag.ClOrdID, "ITGClOrdID:"+orderID).
		Set(tag.OrderID, orderID).
		Set(tag.OrderQty, qty).
		Set(tag.SenderSubID, "1234").
		Set(tag.Symbol, "LUV").
		Set(tag.Side, string(enum.Side_BUY)).
		Set(tag.ExecBroker, fixmsg.ExecBroker)
}

func TestProcessIOI_PushesActiveOrders(t *testing.T) {
	a, sender, _ := newTestServer(t)

	a.ProcessMessage(context.Background(), ioiFor("1234"))

	sent := sender.all()
	require.Len(t, sent, 2, "only the client's active orders are pushed")

	first := sent[0]
	assert.Equal(t, fixmsg.MsgTypeNewOrderSingle, first.msgType)
	assert.Equal(t, "100", first.msg.Get(tag.OrderID))
	assert.Equal(t, "1000", first.msg.Get(tag.OrderQty))
	assert.Equal(t, "LUV", first.msg.Get(tag.Symbol))
	assert.Equal(t, "42.50", first.msg.Get(tag.Price))
	assert.Equal(t, string(enum.OrdType_LIMIT), first.msg.Get(tag.OrdType))
	assert.Equal(t, "84474110", first.msg.Get(tag.SecurityID))
	assert.Equal(t, string(enum.Side_BUY), first.msg.Get(tag.Side))
	assert.NotEmpty(t, first.msg.Get(tag.ClOrdID))

	assert.Equal(t, "130", sent[1].msg.Get(tag.OrderID))
}

func TestProcessIOI_MalformedClientID(t *testing.T) {
	a, sender, _ := newTestServer(t)

	a.ProcessMessage(context.Background(), ioiFor("not-a-number"))
	assert.Empty(t, sender.all())
}

func TestSendOrderMessage_DroppedWithoutSession(t *testing.T) {
	a, sender, _ := newTestServer(t)
	a.OnLogout(quickfix.SessionID{})

	a.ProcessMessage(context.Background(), ioiFor("1234"))
	assert.Empty(t, sender.all())
}

func TestProcessReserveRequest_Accepted(t *testing.T) {
	a, sender, l := newTestServer(t)
	ctx := context.Background()
	a.ProcessMessage(ctx, ioiFor("1234"))
	pushed := len(sender.all())

	request := reserveFor("100", "400")
	a.ProcessMessage(ctx, request)

	sent := sender.all()[pushed:]
	require.Len(t, sent, 2, "a correction then the accept")

	correction := sent[0]
	assert.Equal(t, fixmsg.MsgTypeCancelReplace, correction.msgType)
	assert.Equal(t, "100", correction.msg.Get(tag.OrderID))
	assert.Equal(t, "600", correction.msg.Get(tag.OrderQty))
	assert.False(t, correction.msg.Has(tag.OrdStatus))

	accept := sent[1]
	assert.Equal(t, fixmsg.MsgTypeNewOrderSingle, accept.msgType)
	assert.Equal(t, string(enum.OrdStatus_NEW), accept.msg.Get(tag.OrdStatus))
	assert.Equal(t, "Firm Up Order: 100", accept.msg.Get(tag.Text))
	assert.Equal(t, "ITGClOrdID:100", accept.msg.Get(tag.ClientID),
		"the requester's clordid rides along in ClientID")
	assert.NotEqual(t, request.Get(tag.ClOrdID), accept.msg.Get(tag.ClOrdID),
		"the accept carries a freshly generated clordid")
	assert.False(t, accept.msg.Has(tag.ExecBroker))
	assert.False(t, accept.msg.Has(tag.TimeInForce))

	snap, err := l.Get(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(600), snap.Shares)
}

func TestProcessReserveRequest_RejectedOverRemaining(t *testing.T) {
	a, sender, l := newTestServer(t)
	ctx := context.Background()
	a.ProcessMessage(ctx, ioiFor("1234"))

	a.ProcessMessage(ctx, reserveFor("100", "400"))
	before := len(sender.all())

	a.ProcessMessage(ctx, reserveFor("100", "700"))

	sent := sender.all()[before:]
	require.Len(t, sent, 1)
	reject := sent[0]
	assert.Equal(t, fixmsg.MsgTypeExecutionReport, reject.msgType)
	assert.Equal(t, string(enum.OrdStatus_REJECTED), reject.msg.Get(tag.OrdStatus))
	assert.Equal(t, string(enum.ExecType_REJECTED), reject.msg.Get(tag.ExecType))
	assert.Equal(t, "0", reject.msg.Get(tag.OrderQty))
	assert.Equal(t, "Can Not Firm Up Order: requested 700 shares but only 600 remain",
		reject.msg.Get(tag.Text))

	snap, err := l.Get(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(600), snap.Shares, "a rejected reservation must not move the ledger")
}

func TestProcessReserveRequest_RejectedBySymbolPrefix(t *testing.T) {
	a, sender, l := newTestServer(t)
	ctx := context.Background()
	a.ProcessMessage(ctx, ioiFor("1234"))
	before := len(sender.all())

	request := reserveFor("130", "100").Set(tag.Symbol, "ZVZZT")
	a.ProcessMessage(ctx, request)

	sent := sender.all()[before:]
	require.Len(t, sent, 1)
	assert.Equal(t, "Can Not Firm Up Order: symbol ZVZZT is configured to reject",
		sent[0].msg.Get(tag.Text))

	snap, err := l.Get(ctx, 130)
	require.NoError(t, err)
	assert.Equal(t, int64(750), snap.Shares)
}

func TestProcessReserveRequest_NeverPushedOrder(t *testing.T) {
	a, sender, l := newTestServer(t)
	ctx := context.Background()
	// No IOI ran, so no order message was ever pushed or recorded

	a.ProcessMessage(ctx, reserveFor("100", "400"))

	assert.Empty(t, sender.all(), "no correction can be derived, so no accept may go out")
	snap, err := l.Get(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), snap.Shares, "a dropped request must not move the ledger")
}

func TestProcessReserveRequest_UnknownOrder(t *testing.T) {
	a, sender, _ := newTestServer(t)
	before := len(sender.all())

	a.ProcessMessage(context.Background(), reserveFor("999", "100"))
	assert.Len(t, sender.all(), before)
}

// reserveAndAccept runs a full accepted reservation and returns the accept's
// clordid, the one later reports must reference.
func reserveAndAccept(t *testing.T, a *App, sender *fakeSender, orderID, qty string) string {
	t.Helper()
	a.ProcessMessage(context.Background(), reserveFor(orderID, qty))
	accept := sender.last(t)
	require.Equal(t, fixmsg.MsgTypeNewOrderSingle, accept.msgType)
	require.Equal(t, string(enum.OrdStatus_NEW), accept.msg.Get(tag.OrdStatus))
	return accept.msg.Get(tag.ClOrdID)
}

func execReport(clordid, cumQty, status string) *fixmsg.Message {
	return fixmsg.New().
		Set(tag.MsgType, fixmsg.MsgTypeExecutionReport).
		Set(tag.ClOrdID, clordid).
		Set(tag.CumQty, cumQty).
		Set(tag.OrdStatus, status)
}

func TestProcessExecutionReport_AppliesFill(t *testing.T) {
	a, sender, l := newTestServer(t)
	ctx := context.Background()
	a.ProcessMessage(ctx, ioiFor("1234"))
	clordid := reserveAndAccept(t, a, sender, "100", "400")

	a.ProcessMessage(ctx, execReport(clordid, "400", string(enum.OrdStatus_FILLED)))

	snap, err := l.Get(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(200), snap.Shares)

	correction := sender.last(t)
	assert.Equal(t, fixmsg.MsgTypeCancelReplace, correction.msgType)
	assert.Equal(t, "100", correction.msg.Get(tag.OrderID))
	assert.Equal(t, "200", correction.msg.Get(tag.OrderQty))
}

func TestProcessExecutionReport_IgnoresNonTerminalStatus(t *testing.T) {
	a, sender, l := newTestServer(t)
	ctx := context.Background()
	a.ProcessMessage(ctx, ioiFor("1234"))
	clordid := reserveAndAccept(t, a, sender, "100", "400")
	before := len(sender.all())

	a.ProcessMessage(ctx, execReport(clordid, "400", string(enum.OrdStatus_PARTIALLY_FILLED)))

	snap, err := l.Get(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(600), snap.Shares)
	assert.Len(t, sender.all(), before)
}

func TestProcessExecutionReport_UnknownClOrdID(t *testing.T) {
	a, sender, l := newTestServer(t)
	ctx := context.Background()
	a.ProcessMessage(ctx, ioiFor("1234"))
	reserveAndAccept(t, a, sender, "100", "400")
	before := len(sender.all())

	a.ProcessMessage(ctx, execReport("never-accepted", "400", string(enum.OrdStatus_FILLED)))

	snap, err := l.Get(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(600), snap.Shares)
	assert.Len(t, sender.all(), before)
}

func TestProcessExecutionReport_OverfillDropped(t *testing.T) {
	a, sender, l := newTestServer(t)
	ctx := context.Background()
	a.ProcessMessage(ctx, ioiFor("1234"))
	clordid := reserveAndAccept(t, a, sender, "100", "400")
	before := len(sender.all())

	a.ProcessMessage(ctx, execReport(clordid, "700", string(enum.OrdStatus_FILLED)))

	snap, err := l.Get(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(600), snap.Shares, "cumulative quantity beyond remaining shares is inconsistent data")
	assert.Len(t, sender.all(), before)
}

func TestProcessChangeSet(t *testing.T) {
	a, sender, _ := newTestServer(t)
	ctx := context.Background()
	a.ProcessMessage(ctx, ioiFor("1234"))
	before := len(sender.all())

	cs := &ledger.ChangeSet{
		ChangeID: "change-1",
		EditedRows: map[string]map[string]any{
			"0": {"shares": "600"},    // row 0: order 100, plain edit
			"1": {"is_active": true},  // row 1: order 110, re-activated
			"3": {"is_active": false}, // row 3: order 130, deactivated
			"2": {"shares": "1"},      // row 2: order 120, client never announced
			"9": {"shares": "1"},      // out of range
		},
	}
	a.processChangeSet(ctx, cs)

	sent := sender.all()[before:]
	require.Len(t, sent, 3)

	byOrder := map[string]string{}
	for _, s := range sent {
		byOrder[s.msg.Get(tag.OrderID)] = s.msgType
	}
	assert.Equal(t, fixmsg.MsgTypeCancelReplace, byOrder["100"])
	assert.Equal(t, fixmsg.MsgTypeNewOrderSingle, byOrder["110"])
	assert.Equal(t, fixmsg.MsgTypeOrderCancelRequest, byOrder["130"])
}

func TestProcessChangeSet_AddedRows(t *testing.T) {
	a, sender, l := newTestServer(t)
	ctx := context.Background()
	a.ProcessMessage(ctx, ioiFor("1234"))
	before := len(sender.all())

	added := ledger.OrderSnapshot{
		OrderID: 200, IsActive: true, ClientID: 1234,
		Symbol: "FUN", Side: ledger.SideBuy, Shares: 300,
		Price: decimal.RequireFromString("25.00"),
	}
	_, err := l.Upsert(ctx, added)
	require.NoError(t, err)

	cs := &ledger.ChangeSet{
		AddedRows: []ledger.OrderSnapshot{
			added,
			{OrderID: 999, ClientID: 1234}, // never made it into the ledger
		},
	}
	a.processChangeSet(ctx, cs)

	sent := sender.all()[before:]
	require.Len(t, sent, 1)
	assert.Equal(t, fixmsg.MsgTypeNewOrderSingle, sent[0].msgType)
	assert.Equal(t, "200", sent[0].msg.Get(tag.OrderID))
	assert.Equal(t, "300", sent[0].msg.Get(tag.OrderQty))
}

func TestAsBool(t *testing.T) {
	assert.True(t, asBool(true))
	assert.True(t, asBool("true"))
	assert.True(t, asBool(float64(1)))
	assert.False(t, asBool(false))
	assert.False(t, asBool("no"))
	assert.False(t, asBool(float64(0)))
	assert.False(t, asBool(nil))
}
