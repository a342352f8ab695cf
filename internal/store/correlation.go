// Package store holds the order correlation state shared by the client and
// server roles: the latest observed message and client order id per order,
// and the server-side mapping from an accepted reservation's client order id
// back to the order it reserves.
package store

import (
	"sync"

	"go.uber.org/zap"

	"github.com/jeromegit/bbg-emsx-simulator/internal/fixmsg"
)

// CorrelationStore is safe for concurrent use by the session callback
// threads and the poll loop. Every operation is a single critical section;
// callers never hold a lock across calls.
type CorrelationStore struct {
	mu            sync.Mutex
	latestMessage map[string]*fixmsg.Message
	latestClOrdID map[string]string
	acceptedOrder map[string]string // accepted clordid -> order id
	logger        *zap.Logger
}

// NewCorrelationStore creates an empty store.
func NewCorrelationStore(logger *zap.Logger) *CorrelationStore {
	return &CorrelationStore{
		latestMessage: make(map[string]*fixmsg.Message),
		latestClOrdID: make(map[string]string),
		acceptedOrder: make(map[string]string),
		logger:        logger,
	}
}

// SetLatestMessage records the most recent message observed for an order.
// Messages are cloned on the way in and out, so no two owners ever alias
// the same tag map. A nil message deletes the entry.
func (s *CorrelationStore) SetLatestMessage(orderID string, m *fixmsg.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m == nil {
		delete(s.latestMessage, orderID)
		return
	}
	s.latestMessage[orderID] = m.Clone()
}

// LatestMessage returns a copy of the most recent message for an order. A
// miss is reported to the caller and logged: in practice it means the caller
// asked about an order that was never observed.
func (s *CorrelationStore) LatestMessage(orderID string) (*fixmsg.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.latestMessage[orderID]
	if !ok {
		s.logger.Error("no message recorded for order",
			zap.String("order_id", orderID),
			zap.Int("known_orders", len(s.latestMessage)),
		)
		return nil, false
	}
	return m.Clone(), true
}

// SetLatestClOrdID records the most recent client order id used for an
// order. An empty clordid deletes the entry.
func (s *CorrelationStore) SetLatestClOrdID(orderID, clordid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if clordid == "" {
		delete(s.latestClOrdID, orderID)
		return
	}
	s.latestClOrdID[orderID] = clordid
}

// LatestClOrdID returns the most recent client order id for an order.
func (s *CorrelationStore) LatestClOrdID(orderID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clordid, ok := s.latestClOrdID[orderID]
	return clordid, ok
}

// MapAccepted records that an accepted reservation with the given client
// order id reserves orderID. Later fill and done-for-day reports reference
// the accept's clordid, not the order id.
func (s *CorrelationStore) MapAccepted(clordid, orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acceptedOrder[clordid] = orderID
}

// ResolveAccepted maps an accepted reservation's client order id back to its
// order id. A miss is logged; the triggering report cannot be attributed.
func (s *CorrelationStore) ResolveAccepted(clordid string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orderID, ok := s.acceptedOrder[clordid]
	if !ok {
		s.logger.Error("no accepted reservation for clordid", zap.String("clordid", clordid))
		return "", false
	}
	return orderID, ok
}
