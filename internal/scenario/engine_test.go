package scenario

import (
	"errors"
	"strings"
	"testing"

	"github.com/quickfixgo/tag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jeromegit/bbg-emsx-simulator/internal/client"
	"github.com/jeromegit/bbg-emsx-simulator/internal/fixmsg"
)

type call struct {
	name    string
	orderID string
	n       int64
	kind    client.ReportKind
}

type fakeDriver struct {
	calls []call
	queue []*fixmsg.Message
	err   error
}

func (d *fakeDriver) AnnounceInterest(clientID int64) error {
	d.calls = append(d.calls, call{name: "logon", n: clientID})
	return d.err
}

func (d *fakeDriver) SendReserveRequest(orderID string, shares int64) error {
	d.calls = append(d.calls, call{name: "reserve", orderID: orderID, n: shares})
	return d.err
}

func (d *fakeDriver) SendExecutionReport(orderID string, fillShares int64, kind client.ReportKind) error {
	d.calls = append(d.calls, call{name: "report", orderID: orderID, n: fillShares, kind: kind})
	return d.err
}

func (d *fakeDriver) Drain() []*fixmsg.Message {
	out := d.queue
	d.queue = nil
	return out
}

func mustParse(t *testing.T, script string) *Scenario {
	t.Helper()
	sc, err := Parse(strings.NewReader(script), "test")
	require.NoError(t, err)
	return sc
}

func newTestEngine(t *testing.T, script string) (*Engine, *fakeDriver, *int) {
	t.Helper()
	driver := &fakeDriver{}
	exited := -1
	e := NewEngine(mustParse(t, script), driver, func(code int) { exited = code }, zap.NewNop())
	return e, driver, &exited
}

func TestEngine_RunsThroughScript(t *testing.T) {
	e, driver, exited := newTestEngine(t, `
logon uuid=1234
reserve uuid=1234 orderid=100 qty=400
ack orderid=100
fill orderid=100
dfd orderid=100
end
`)

	e.Step()

	require.Len(t, driver.calls, 5)
	assert.Equal(t, call{name: "logon", n: 1234}, driver.calls[0])
	assert.Equal(t, call{name: "reserve", orderID: "100", n: 400}, driver.calls[1])
	assert.Equal(t, call{name: "report", orderID: "100", n: 0, kind: client.ReportAck}, driver.calls[2])
	assert.Equal(t, call{name: "report", orderID: "100", n: client.FillRemaining, kind: client.ReportFill},
		driver.calls[3], "fill without qty fills the remainder")
	assert.Equal(t, call{name: "report", orderID: "100", n: 0, kind: client.ReportDoneForDay}, driver.calls[4])
	assert.Equal(t, 0, *exited)
}

func TestEngine_FillWithExplicitQty(t *testing.T) {
	e, driver, _ := newTestEngine(t, "fill orderid=100 qty=250")

	e.Step()

	require.Len(t, driver.calls, 1)
	assert.Equal(t, call{name: "report", orderID: "100", n: 250, kind: client.ReportFill}, driver.calls[0])
}

func TestEngine_WaitBlocksUntilMatch(t *testing.T) {
	e, driver, _ := newTestEngine(t, `
logon uuid=1234
wait 35=D 37=100
reserve uuid=1234 orderid=100 qty=400
`)

	e.Step()
	require.Len(t, driver.calls, 1, "wait not satisfied, reserve must not run")
	assert.Equal(t, "logon", driver.calls[0].name)

	// Repeated polls must not re-run lines before the wait
	e.Step()
	require.Len(t, driver.calls, 1)

	// A message missing one wanted tag does not match
	driver.queue = []*fixmsg.Message{
		fixmsg.New().Set(tag.MsgType, "D").Set(tag.OrderID, "999"),
	}
	e.Step()
	require.Len(t, driver.calls, 1)

	driver.queue = []*fixmsg.Message{
		fixmsg.New().Set(tag.MsgType, "D").Set(tag.OrderID, "100").Set(tag.Symbol, "LUV"),
	}
	e.Step()
	require.Len(t, driver.calls, 2, "matched wait releases the next line")
	assert.Equal(t, "reserve", driver.calls[1].name)
	assert.True(t, e.Done())
}

func TestEngine_WaitConsumesMatchedMessage(t *testing.T) {
	e, driver, exited := newTestEngine(t, `
wait 37=100
wait 37=100
end
`)

	driver.queue = []*fixmsg.Message{fixmsg.New().Set(tag.OrderID, "100")}
	e.Step()

	assert.Equal(t, -1, *exited, "one message cannot satisfy two waits")
	assert.False(t, e.Done())

	driver.queue = []*fixmsg.Message{fixmsg.New().Set(tag.OrderID, "100")}
	e.Step()
	assert.Equal(t, 0, *exited)
}

func TestEngine_RetriesFailedDispatch(t *testing.T) {
	e, driver, _ := newTestEngine(t, "logon uuid=1234\nreserve uuid=1234 orderid=100 qty=400")
	driver.err = errors.New("not logged on")

	e.Step()
	require.Len(t, driver.calls, 1, "failed line halts the step")
	assert.False(t, e.Done())

	driver.err = nil
	e.Step()
	require.Len(t, driver.calls, 3, "failed line is retried, then the script continues")
	assert.Equal(t, "logon", driver.calls[1].name)
	assert.Equal(t, "reserve", driver.calls[2].name)
	assert.True(t, e.Done())
}

func TestEngine_BadIntegerParamHalts(t *testing.T) {
	e, driver, _ := newTestEngine(t, "reserve uuid=1234 orderid=100 qty=lots")

	e.Step()
	e.Step()

	assert.Empty(t, driver.calls)
	assert.False(t, e.Done())
}
