package rental

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// fakeStore is a mutex-guarded in-memory Store. Its CommitOrder mirrors the
// real transaction shape: everything is validated first and either all
// writes apply or none do, so atomicity assertions hold against it.
type fakeStore struct {
	mu           sync.Mutex
	products     map[string]Product
	reservations []Reservation
	orders       map[string]Order
	ledger       []LedgerEntry

	commitErr error // injected storage fault: CommitOrder fails after validation, applying nothing

	// missExternalIDReads makes the next n OrderByExternalID calls miss,
	// simulating two commits racing past the idempotency pre-check.
	missExternalIDReads int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products: make(map[string]Product),
		orders:   make(map[string]Order),
	}
}

func (f *fakeStore) CreateProduct(ctx context.Context, p *Product, operatorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	f.products[p.ID] = *p
	if p.TotalStock > 0 {
		f.ledger = append(f.ledger, LedgerEntry{
			ID: uuid.NewString(), ProductID: p.ID, Delta: p.TotalStock,
			Reason: ReasonInitialStock, ReferenceType: RefAdmin, ReferenceID: operatorID, At: now,
		})
	}
	return nil
}

func (f *fakeStore) ProductByID(ctx context.Context, id string) (Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return p, nil
}

func (f *fakeStore) ListProducts(ctx context.Context) ([]Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Product, 0, len(f.products))
	for _, p := range f.products {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) SetTotalStock(ctx context.Context, productID string, newTotal int, operatorID string) (LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[productID]
	if !ok {
		return LedgerEntry{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	entry := LedgerEntry{
		ID: uuid.NewString(), ProductID: productID, Delta: newTotal - p.TotalStock,
		Reason: ReasonCorrection, ReferenceType: RefAdmin, ReferenceID: operatorID, At: time.Now().UTC(),
	}
	p.TotalStock = newTotal
	f.products[productID] = p
	if entry.Delta != 0 {
		f.ledger = append(f.ledger, entry)
	}
	return entry, nil
}

func (f *fakeStore) activeOverlapping(productID string, start, end time.Time) []Reservation {
	var out []Reservation
	for _, r := range f.reservations {
		if r.ProductID == productID && r.Status == ReservationActive && Overlaps(r.StartDate, r.EndDate, start, end) {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeStore) ActiveReservations(ctx context.Context, productID string, start, end time.Time) ([]Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeOverlapping(productID, start, end), nil
}

func (f *fakeStore) CommitOrder(ctx context.Context, o *Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	// validate-all under the lock, exactly like the row-locked transaction;
	// earlier lines of this order count against later ones
	total := 0
	pending := map[string][]OrderLine{}
	for i := range o.Lines {
		ln := &o.Lines[i]
		p, ok := f.products[ln.ProductID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrProductNotFound, ln.ProductID)
		}
		available := AvailableUnits(p.TotalStock, f.activeOverlapping(ln.ProductID, ln.StartDate, ln.EndDate), ln.StartDate, ln.EndDate)
		for _, prev := range pending[ln.ProductID] {
			if Overlaps(prev.StartDate, prev.EndDate, ln.StartDate, ln.EndDate) {
				available -= prev.Quantity
			}
		}
		if available < ln.Quantity {
			return &InsufficientStockError{ProductID: ln.ProductID, Name: p.Name, Requested: ln.Quantity, Available: available}
		}
		ln.Name = p.Name
		ln.PriceCents = LinePriceCents(p, ln.Quantity, ln.StartDate, ln.EndDate)
		total += ln.PriceCents
		pending[ln.ProductID] = append(pending[ln.ProductID], *ln)
	}
	o.TotalCents = total

	if f.commitErr != nil {
		return f.commitErr // rollback: nothing below runs
	}

	// external_id is unique like the orders table constraint
	if o.ExternalID != "" {
		for _, existing := range f.orders {
			if existing.ExternalID == o.ExternalID {
				return fmt.Errorf("%w: order with external id %s already committed", ErrConcurrencyConflict, o.ExternalID)
			}
		}
	}

	now := time.Now().UTC()
	o.CreatedAt, o.UpdatedAt = now, now
	for _, ln := range o.Lines {
		f.reservations = append(f.reservations, Reservation{
			ID: uuid.NewString(), OrderID: o.ID, ProductID: ln.ProductID, UserID: o.UserID,
			StartDate: ln.StartDate, EndDate: ln.EndDate, Quantity: ln.Quantity,
			Status: ReservationActive, CreatedAt: now,
		})
		f.ledger = append(f.ledger, LedgerEntry{
			ID: uuid.NewString(), ProductID: ln.ProductID, Delta: -ln.Quantity,
			Reason: ReasonRentalOut, ReferenceType: RefOrder, ReferenceID: o.ID, At: now,
		})
	}
	f.orders[o.ID] = *o
	return nil
}

func (f *fakeStore) OrderByID(ctx context.Context, id string) (Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return o, nil
}

func (f *fakeStore) OrderByExternalID(ctx context.Context, externalID string) (Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missExternalIDReads > 0 {
		f.missExternalIDReads--
		return Order{}, ErrOrderNotFound
	}
	for _, o := range f.orders {
		if o.ExternalID == externalID {
			return o, nil
		}
	}
	return Order{}, ErrOrderNotFound
}

func (f *fakeStore) OrdersByUser(ctx context.Context, userID string) ([]Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Order
	for _, o := range f.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeStore) SetOrderStatus(ctx context.Context, orderID string, from, to Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if o.Status != from {
		return fmt.Errorf("%w: order %s no longer in state %s", ErrConcurrencyConflict, orderID, from)
	}
	o.Status = to
	f.orders[orderID] = o
	return nil
}

func (f *fakeStore) ConfirmPayment(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if o.Status == StatusCancelled {
		return &StateTransitionError{OrderID: orderID, From: o.Status, Action: "confirm payment for"}
	}
	if o.Status == StatusPending {
		o.Status = StatusConfirmed
	}
	o.PaymentStatus = PaymentPaid
	f.orders[orderID] = o
	return nil
}

func (f *fakeStore) CompleteOrder(ctx context.Context, orderID string) error {
	return f.closeOrder(orderID, StatusActive, StatusCompleted, ReservationCompleted, ReasonRentalReturn)
}

func (f *fakeStore) CancelOrder(ctx context.Context, orderID string, from Status) error {
	return f.closeOrder(orderID, from, StatusCancelled, ReservationCancelled, ReasonCorrection)
}

func (f *fakeStore) closeOrder(orderID string, from, to Status, resStatus ReservationStatus, reason LedgerReason) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if o.Status != from {
		return fmt.Errorf("%w: order %s no longer in state %s", ErrConcurrencyConflict, orderID, from)
	}
	o.Status = to
	f.orders[orderID] = o
	now := time.Now().UTC()
	for i := range f.reservations {
		r := &f.reservations[i]
		if r.OrderID == orderID && r.Status == ReservationActive {
			r.Status = resStatus
			f.ledger = append(f.ledger, LedgerEntry{
				ID: uuid.NewString(), ProductID: r.ProductID, Delta: r.Quantity,
				Reason: reason, ReferenceType: RefOrder, ReferenceID: orderID, At: now,
			})
		}
	}
	return nil
}

func (f *fakeStore) AppendLedger(ctx context.Context, e *LedgerEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if err := e.Validate(); err != nil {
		return err
	}
	f.ledger = append(f.ledger, *e)
	return nil
}

func (f *fakeStore) LedgerByProduct(ctx context.Context, productID string) ([]LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []LedgerEntry
	for _, e := range f.ledger {
		if e.ProductID == productID {
			out = append(out, e)
		}
	}
	return out, nil
}

var _ Store = (*fakeStore)(nil)
