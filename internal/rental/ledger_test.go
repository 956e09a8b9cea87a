package rental

import "testing"

func TestLedgerReasonValid(t *testing.T) {
	for _, r := range []LedgerReason{
		ReasonInitialStock, ReasonPurchase, ReasonRentalOut,
		ReasonRentalReturn, ReasonDamage, ReasonCorrection, ReasonLost,
	} {
		if !r.Valid() {
			t.Errorf("%q should be valid", r)
		}
	}
	for _, r := range []LedgerReason{"", "Shrinkage", "rental out"} {
		if r.Valid() {
			t.Errorf("%q should be invalid", r)
		}
	}
}

func TestLedgerEntryValidate(t *testing.T) {
	base := LedgerEntry{ProductID: "p1", Delta: -1, Reason: ReasonDamage, ReferenceType: RefAdmin}
	if err := base.Validate(); err != nil {
		t.Errorf("valid entry rejected: %v", err)
	}

	e := base
	e.Delta = 0
	if err := e.Validate(); err == nil {
		t.Error("zero delta accepted")
	}

	e = base
	e.Reason = "Oops"
	if err := e.Validate(); err == nil {
		t.Error("unknown reason accepted")
	}

	e = base
	e.ReferenceType = "Robot"
	if err := e.Validate(); err == nil {
		t.Error("unknown reference type accepted")
	}
}
