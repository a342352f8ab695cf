package fixmsg

import (
	"strconv"
	"strings"
	"time"

	"github.com/quickfixgo/quickfix"
	"github.com/quickfixgo/tag"
)

// FIX 4.2 message types used by the simulator.
const (
	MsgTypeHeartbeat          = "0"
	MsgTypeIOI                = "6"
	MsgTypeExecutionReport    = "8"
	MsgTypeLogon              = "A"
	MsgTypeNewOrderSingle     = "D"
	MsgTypeOrderCancelRequest = "F"
	MsgTypeCancelReplace      = "G"
)

// Venue-wide constants carried on every synthesized order message.
const (
	ExecBroker    = "ITGI"
	LastMarket    = "ITGI"
	ExDestination = "US"
	Currency      = "USD"
)

// TransactTimeLayout is the UTC timestamp format of tag 60.
const TransactTimeLayout = "20060102-15:04:05.000"

// sessionLevelTags are owned by the session layer and never copied into or
// out of application-level messages.
var sessionLevelTags = map[quickfix.Tag]bool{
	8:  true, // BeginString
	9:  true, // BodyLength
	10: true, // CheckSum
	34: true, // MsgSeqNum
	35: true, // MsgType
	49: true, // SenderCompID
	52: true, // SendingTime
	56: true, // TargetCompID
}

// IsSessionLevelTag reports whether t belongs to the session layer.
func IsSessionLevelTag(t quickfix.Tag) bool {
	return sessionLevelTags[t]
}

// FromWire decodes a raw tag=value string, separated by sep (SOH on the
// wire, '|' in diagnostics), into a Message. Pairs that cannot be split are
// skipped. Session-level tags are retained so the caller can inspect the
// message type; ToQuickFix strips them again on the way out.
func FromWire(raw string, sep byte) *Message {
	m := New()
	for _, pair := range strings.Split(raw, string(sep)) {
		k, v, found := strings.Cut(pair, "=")
		if !found || k == "" || v == "" {
			continue
		}
		t, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		m.Set(quickfix.Tag(t), v)
	}
	return m
}

// Decode converts an inbound wire message into a Message.
func Decode(msg *quickfix.Message) *Message {
	return FromWire(msg.String(), '\x01')
}

// MsgType returns the message type (tag 35) of a decoded wire message.
func (m *Message) MsgType() string {
	return m.Get(tag.MsgType)
}

// ToQuickFix builds a FIX 4.2 wire message of the given type from m,
// skipping session-level tags and refreshing TransactTime(60) to now.
func (m *Message) ToQuickFix(msgType string) *quickfix.Message {
	msg := quickfix.NewMessage()
	msg.Header.SetField(quickfix.Tag(8), quickfix.FIXString("FIX.4.2"))
	msg.Header.SetField(tag.MsgType, quickfix.FIXString(msgType))
	for _, t := range m.order {
		if IsSessionLevelTag(t) {
			continue
		}
		value := m.values[t]
		if t == tag.TransactTime {
			value = TransactTime(0)
		}
		msg.Body.SetField(t, quickfix.FIXString(value))
	}
	return msg
}

// TransactTime returns the current UTC time, shifted by offset, in tag 60
// format.
func TransactTime(offset time.Duration) string {
	return time.Now().UTC().Add(offset).Format(TransactTimeLayout)
}
