package scenario

import (
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/quickfixgo/quickfix"
	"go.uber.org/zap"

	"github.com/jeromegit/bbg-emsx-simulator/internal/client"
	"github.com/jeromegit/bbg-emsx-simulator/internal/fixmsg"
)

// Driver is the slice of the client role the engine drives. It is satisfied
// by *client.App.
type Driver interface {
	AnnounceInterest(clientID int64) error
	SendReserveRequest(orderID string, shares int64) error
	SendExecutionReport(orderID string, fillShares int64, kind client.ReportKind) error
	Drain() []*fixmsg.Message
}

// Engine replays a scenario against the client role. Step is called from
// the host poll loop; a line advances the cursor only once it has been
// dispatched successfully, so repeated calls before a wait is satisfied
// re-attempt the same line without extra side effects.
type Engine struct {
	runID    string
	sc       *Scenario
	driver   Driver
	exit     func(int)
	logger   *zap.Logger
	cursor   int
	received []*fixmsg.Message
}

// NewEngine creates an engine over a loaded scenario. exit is invoked with
// the process exit status when an END line is reached; pass os.Exit outside
// of tests.
func NewEngine(sc *Scenario, driver Driver, exit func(int), logger *zap.Logger) *Engine {
	if exit == nil {
		exit = os.Exit
	}
	runID := uuid.NewString()
	return &Engine{
		runID:  runID,
		sc:     sc,
		driver: driver,
		exit:   exit,
		logger: logger.With(zap.String("scenario", sc.Name), zap.String("run_id", runID)),
	}
}

// Done reports whether every line has been processed.
func (e *Engine) Done() bool {
	return e.cursor >= len(e.sc.Lines)
}

// Step drains newly received messages and processes scenario lines until
// one of them cannot complete yet (an unsatisfied WAIT, a client not logged
// on, an unknown condition) or the script ends.
func (e *Engine) Step() {
	e.received = append(e.received, e.driver.Drain()...)

	for e.cursor < len(e.sc.Lines) {
		line := e.sc.Lines[e.cursor]
		if !e.dispatch(line) {
			return
		}
		e.logger.Info("scenario line processed",
			zap.Int("line", line.Number),
			zap.String("action", string(line.Action)),
			zap.String("label", line.Label),
		)
		e.cursor++
	}
}

// dispatch attempts one line and reports whether the cursor may advance.
func (e *Engine) dispatch(line Line) bool {
	switch line.Action {
	case ActionLogon:
		clientID, ok := e.intParam(line, "50")
		if !ok {
			return false
		}
		return e.try(line, e.driver.AnnounceInterest(clientID))

	case ActionReserve:
		qty, ok := e.intParam(line, "38")
		if !ok {
			return false
		}
		return e.try(line, e.driver.SendReserveRequest(line.Params["37"], qty))

	case ActionAck:
		return e.try(line, e.driver.SendExecutionReport(line.Params["37"], 0, client.ReportAck))

	case ActionFill:
		fill := client.FillRemaining
		if _, ok := line.Params["38"]; ok {
			qty, okQty := e.intParam(line, "38")
			if !okQty {
				return false
			}
			fill = qty
		}
		return e.try(line, e.driver.SendExecutionReport(line.Params["37"], fill, client.ReportFill))

	case ActionDFD:
		return e.try(line, e.driver.SendExecutionReport(line.Params["37"], 0, client.ReportDoneForDay))

	case ActionWait:
		return e.waitMatch(line)

	case ActionEnd:
		e.logger.Info("scenario finished", zap.Int("line", line.Number))
		e.exit(0)
		return false

	default:
		e.logger.Error("unrecognized scenario action",
			zap.Int("line", line.Number),
			zap.String("action", string(line.Action)),
		)
		return false
	}
}

// waitMatch scans the received messages for the first one containing the
// line's key/value subset and consumes it, so the same message cannot
// satisfy two waits.
func (e *Engine) waitMatch(line Line) bool {
	want := fixmsg.New()
	for key, value := range line.Params {
		t, _ := strconv.Atoi(key) // keys validated numeric at parse time
		want.Set(quickfix.Tag(t), value)
	}

	for i, m := range e.received {
		if m.Contains(want) {
			e.received = append(e.received[:i], e.received[i+1:]...)
			return true
		}
	}

	e.logger.Debug("waiting for message",
		zap.Int("line", line.Number),
		zap.Stringer("want", want),
		zap.Int("received_so_far", len(e.received)),
	)
	return false
}

// try logs a dispatch error and keeps the line unprocessed so the next poll
// retries it.
func (e *Engine) try(line Line, err error) bool {
	if err != nil {
		e.logger.Warn("scenario line not ready",
			zap.Int("line", line.Number),
			zap.String("action", string(line.Action)),
			zap.Error(err),
		)
		return false
	}
	return true
}

// intParam parses an integer parameter, halting the line on bad data.
func (e *Engine) intParam(line Line, key string) (int64, bool) {
	v, err := strconv.ParseInt(line.Params[key], 10, 64)
	if err != nil {
		e.logger.Error("scenario parameter is not an integer",
			zap.Int("line", line.Number),
			zap.String("key", key),
			zap.String("value", line.Params[key]),
		)
		return 0, false
	}
	return v, true
}
