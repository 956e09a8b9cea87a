package rental

import (
	"fmt"
	"time"
)

type LedgerReason string

const (
	ReasonInitialStock LedgerReason = "Initial Stock"
	ReasonPurchase     LedgerReason = "Purchase"
	ReasonRentalOut    LedgerReason = "Rental Out"
	ReasonRentalReturn LedgerReason = "Rental Return"
	ReasonDamage       LedgerReason = "Damage"
	ReasonCorrection   LedgerReason = "Correction"
	ReasonLost         LedgerReason = "Lost"
)

var validReasons = map[LedgerReason]bool{
	ReasonInitialStock: true,
	ReasonPurchase:     true,
	ReasonRentalOut:    true,
	ReasonRentalReturn: true,
	ReasonDamage:       true,
	ReasonCorrection:   true,
	ReasonLost:         true,
}

func (r LedgerReason) Valid() bool { return validReasons[r] }

type ReferenceType string

const (
	RefOrder  ReferenceType = "Order"
	RefAdmin  ReferenceType = "Admin"
	RefSystem ReferenceType = "System"
)

var validRefTypes = map[ReferenceType]bool{
	RefOrder:  true,
	RefAdmin:  true,
	RefSystem: true,
}

func (t ReferenceType) Valid() bool { return validRefTypes[t] }

// LedgerEntry is one immutable stock movement. The ledger is append-only:
// no update or delete is exposed anywhere. It reconstructs stock history but
// is never consulted for live availability.
type LedgerEntry struct {
	ID            string        `json:"id"`
	ProductID     string        `json:"product_id"`
	Delta         int           `json:"delta"` // negative = stock leaving availability
	Reason        LedgerReason  `json:"reason"`
	ReferenceType ReferenceType `json:"reference_type"`
	ReferenceID   string        `json:"reference_id"`
	At            time.Time     `json:"at"`
}

func (e *LedgerEntry) Validate() error {
	if e.Delta == 0 {
		return fmt.Errorf("ledger delta must be non-zero")
	}
	if !e.Reason.Valid() {
		return fmt.Errorf("unknown ledger reason: %q", e.Reason)
	}
	if !e.ReferenceType.Valid() {
		return fmt.Errorf("unknown ledger reference type: %q", e.ReferenceType)
	}
	return nil
}
