package rental

import (
	"context"
	"time"
)

// Store is the persistence port for the rental core. CommitOrder,
// CompleteOrder, CancelOrder, CreateProduct and SetTotalStock are atomic:
// either every write in the call lands, or none does.
type Store interface {
	// CreateProduct inserts the product and, when TotalStock > 0, an
	// Initial Stock ledger entry in the same transaction.
	CreateProduct(ctx context.Context, p *Product, operatorID string) error
	ProductByID(ctx context.Context, id string) (Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	// SetTotalStock changes the physical-stock ceiling and appends a
	// Correction ledger entry carrying the delta. Existing reservations are
	// untouched even if the new total is below what is reserved.
	SetTotalStock(ctx context.Context, productID string, newTotal int, operatorID string) (LedgerEntry, error)

	// ActiveReservations returns Active reservations for the product whose
	// interval overlaps [start, end). Snapshot read, no lock.
	ActiveReservations(ctx context.Context, productID string, start, end time.Time) ([]Reservation, error)

	// CommitOrder re-validates every line's availability under per-product
	// exclusive locks, fills the name/price snapshots and TotalCents, then
	// persists the order, its lines, one Active reservation per line and one
	// Rental Out ledger entry per line. Any failure rolls everything back.
	CommitOrder(ctx context.Context, o *Order) error

	OrderByID(ctx context.Context, id string) (Order, error)
	OrderByExternalID(ctx context.Context, externalID string) (Order, error)
	OrdersByUser(ctx context.Context, userID string) ([]Order, error)

	// SetOrderStatus transitions orderID from -> to, compare-and-swap on the
	// current status. A lost race surfaces as ErrConcurrencyConflict.
	SetOrderStatus(ctx context.Context, orderID string, from, to Status) error
	// ConfirmPayment marks the order paid. A Pending order also advances to
	// Confirmed; Active/Completed orders keep their status (the payment
	// signal may arrive after a pickup scan). Cancelled orders reject it.
	ConfirmPayment(ctx context.Context, orderID string) error
	// CompleteOrder applies Active -> Completed, completes the order's Active
	// reservations and appends a Rental Return ledger entry per reservation.
	CompleteOrder(ctx context.Context, orderID string) error
	// CancelOrder applies from -> Cancelled, cancels the order's Active
	// reservations and appends a compensating Correction ledger entry per
	// reservation. Reservation and ledger history is retained.
	CancelOrder(ctx context.Context, orderID string, from Status) error

	AppendLedger(ctx context.Context, e *LedgerEntry) error
	LedgerByProduct(ctx context.Context, productID string) ([]LedgerEntry, error)
}
