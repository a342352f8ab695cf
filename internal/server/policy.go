package server

import (
	"fmt"
	"strings"

	"github.com/jeromegit/bbg-emsx-simulator/internal/ledger"
)

// AdmissionPolicy decides whether a reservation request may be admitted
// against the current ledger row. A non-nil error is the rejection reason.
type AdmissionPolicy interface {
	Admit(snap ledger.OrderSnapshot, requested int64) error
}

// PolicyChain admits only when every policy in the chain admits.
type PolicyChain []AdmissionPolicy

// Admit implements AdmissionPolicy.
func (c PolicyChain) Admit(snap ledger.OrderSnapshot, requested int64) error {
	for _, p := range c {
		if err := p.Admit(snap, requested); err != nil {
			return err
		}
	}
	return nil
}

// RemainingSharesPolicy rejects reservations for more shares than the order
// has remaining. This is the core admission rule: it keeps remaining shares
// from ever going negative.
type RemainingSharesPolicy struct{}

// Admit implements AdmissionPolicy.
func (RemainingSharesPolicy) Admit(snap ledger.OrderSnapshot, requested int64) error {
	if snap.Shares-requested < 0 {
		return fmt.Errorf("requested %d shares but only %d remain", requested, snap.Shares)
	}
	return nil
}

// SymbolPrefixRejectPolicy rejects any order whose symbol starts with the
// configured prefix. This is a test fixture for exercising the reject path,
// not a business rule; an empty prefix disables it.
type SymbolPrefixRejectPolicy struct {
	Prefix string
}

// Admit implements AdmissionPolicy.
func (p SymbolPrefixRejectPolicy) Admit(snap ledger.OrderSnapshot, requested int64) error {
	if p.Prefix != "" && strings.HasPrefix(snap.Symbol, p.Prefix) {
		return fmt.Errorf("symbol %s is configured to reject", snap.Symbol)
	}
	return nil
}

// DefaultAdmission is the standard chain: remaining-shares check plus the
// symbol-prefix reject fixture.
func DefaultAdmission(rejectPrefix string) AdmissionPolicy {
	return PolicyChain{
		RemainingSharesPolicy{},
		SymbolPrefixRejectPolicy{Prefix: rejectPrefix},
	}
}
