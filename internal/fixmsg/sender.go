package fixmsg

import "github.com/quickfixgo/quickfix"

// Sender delivers an application message to the counterparty session. Both
// roles send through this interface; tests substitute a capturing fake.
type Sender interface {
	Send(msgType string, m *Message, sessionID quickfix.SessionID) error
}

// SessionSender sends through the wire session layer.
type SessionSender struct{}

// Send encodes m and hands it to the session identified by sessionID.
func (SessionSender) Send(msgType string, m *Message, sessionID quickfix.SessionID) error {
	return quickfix.SendToTarget(m.ToQuickFix(msgType), sessionID)
}
