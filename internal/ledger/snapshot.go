package ledger

import (
	"github.com/quickfixgo/enum"
	"github.com/shopspring/decimal"
)

// Side is the order side as carried in the ledger.
type Side string

const (
	SideBuy   Side = "Buy"
	SideSell  Side = "Sell"
	SideShort Side = "Short"
)

// FIX returns the FIX 4.2 side code, or "0" for an unknown side.
func (s Side) FIX() string {
	switch s {
	case SideBuy:
		return string(enum.Side_BUY)
	case SideSell:
		return string(enum.Side_SELL)
	case SideShort:
		return string(enum.Side_SELL_SHORT)
	default:
		return "0"
	}
}

// Valid reports whether s is one of the ledger sides.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell || s == SideShort
}

// OrderSnapshot is one ledger row. OrderID is the external identity and is
// stable for the life of the order; Shares is worked downward as
// reservations and fills are applied. Rows are never physically removed:
// IsActive=false is the only permitted deletion.
//
// The JSON field names match the change-notification artifact the panel
// editor writes ("uuid" is the client identifier in EMSX speak).
type OrderSnapshot struct {
	OrderID  int64           `json:"order_id"`
	IsActive bool            `json:"is_active"`
	ClientID int64           `json:"uuid"`
	Symbol   string          `json:"symbol"`
	Side     Side            `json:"side"`
	Shares   int64           `json:"shares"`
	Price    decimal.Decimal `json:"price"`
}
