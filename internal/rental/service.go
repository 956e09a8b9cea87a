package rental

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service orchestrates the reservation core over a Store. It holds no state
// of its own; all cross-request coordination lives in the Store (per-product
// locks held for the duration of validate+commit), so the Service is safe
// for concurrent use.
type Service struct {
	Store Store
}

// CheckAvailability is the public read path. The result is a snapshot and
// can be stale by the time a commit runs; CommitOrder re-checks under locks.
// AvailableUnits is clamped to zero for display when an admin stock cut has
// left more reserved than owned; Active reservations stay honored.
func (s *Service) CheckAvailability(ctx context.Context, productID string, quantity int, start, end time.Time) (Availability, error) {
	if err := CheckWindow(quantity, start, end); err != nil {
		return Availability{}, err
	}
	p, err := s.Store.ProductByID(ctx, productID)
	if err != nil {
		return Availability{}, err
	}
	held, err := s.Store.ActiveReservations(ctx, productID, start, end)
	if err != nil {
		return Availability{}, err
	}
	units := AvailableUnits(p.TotalStock, held, start, end)
	av := Availability{Available: units >= quantity, AvailableUnits: units}
	if av.AvailableUnits < 0 {
		av.AvailableUnits = 0
	}
	return av, nil
}

// CommitOrder validates every line, then persists the order with one Active
// reservation and one Rental Out ledger entry per line as a single atomic
// unit. If any line fails, nothing persists. When externalID matches an
// earlier order the existing order is returned with existed=true instead of
// committing twice.
func (s *Service) CommitOrder(ctx context.Context, userID, externalID string, lines []LineInput, ship ShippingAddress, method PaymentMethod) (Order, bool, error) {
	if userID == "" {
		return Order{}, false, fmt.Errorf("missing user id")
	}
	if len(lines) == 0 {
		return Order{}, false, fmt.Errorf("%w: order has no lines", ErrInvalidRange)
	}
	if method == "" {
		method = PaymentCOD
	}
	for _, ln := range lines {
		if err := CheckWindow(ln.Quantity, ln.StartDate, ln.EndDate); err != nil {
			return Order{}, false, fmt.Errorf("product %s: %w", ln.ProductID, err)
		}
	}

	if externalID != "" {
		if existing, err := s.Store.OrderByExternalID(ctx, externalID); err == nil {
			return existing, true, nil
		} else if !errors.Is(err, ErrOrderNotFound) {
			return Order{}, false, err
		}
	}

	o := Order{
		ID:            uuid.NewString(),
		ExternalID:    externalID,
		UserID:        userID,
		Shipping:      ship,
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
		PaymentMethod: method,
	}
	o.Lines = make([]OrderLine, len(lines))
	for i, ln := range lines {
		o.Lines[i] = OrderLine{
			ProductID: ln.ProductID,
			Quantity:  ln.Quantity,
			StartDate: ln.StartDate.UTC(),
			EndDate:   ln.EndDate.UTC(),
		}
	}

	if err := s.Store.CommitOrder(ctx, &o); err != nil {
		// Lost a race against a concurrent commit carrying the same
		// idempotency key: the winner's order is the result.
		if externalID != "" && errors.Is(err, ErrConcurrencyConflict) {
			if existing, lookupErr := s.Store.OrderByExternalID(ctx, externalID); lookupErr == nil {
				return existing, true, nil
			}
		}
		return Order{}, false, err
	}
	return o, false, nil
}

// ScanResult is what a pickup/return scan reports back to the operator.
type ScanResult struct {
	OrderID string `json:"order_id"`
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// ScanOrder advances an order on a pickup or return scan. Role checks belong
// to the caller; this only enforces the state machine. Scanning a Completed
// order is an informational no-op; scanning a Cancelled order fails.
func (s *Service) ScanOrder(ctx context.Context, orderID string) (ScanResult, error) {
	o, err := s.Store.OrderByID(ctx, orderID)
	if err != nil {
		return ScanResult{}, err
	}

	switch o.Status {
	case StatusPending, StatusConfirmed:
		if err := s.Store.SetOrderStatus(ctx, orderID, o.Status, StatusActive); err != nil {
			return ScanResult{}, err
		}
		return ScanResult{OrderID: orderID, Status: StatusActive, Message: "order picked up"}, nil
	case StatusActive:
		if err := s.Store.CompleteOrder(ctx, orderID); err != nil {
			return ScanResult{}, err
		}
		return ScanResult{OrderID: orderID, Status: StatusCompleted, Message: "order returned"}, nil
	case StatusCompleted:
		return ScanResult{OrderID: orderID, Status: StatusCompleted, Message: "order already completed"}, nil
	case StatusCancelled:
		return ScanResult{}, &StateTransitionError{OrderID: orderID, From: o.Status, Action: "scan"}
	default:
		return ScanResult{}, &StateTransitionError{OrderID: orderID, From: o.Status, Action: "scan"}
	}
}

// CancelOrder releases an order's holds back to the availability pool.
// Allowed for the order's owner or an admin, and only from Pending or
// Confirmed. History (reservations, ledger) is retained, never deleted.
func (s *Service) CancelOrder(ctx context.Context, orderID, requesterID string, isAdmin bool) error {
	o, err := s.Store.OrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	if !isAdmin && o.UserID != requesterID {
		return ErrNotAuthorized
	}
	if !CanTransition(o.Status, StatusCancelled) {
		return &StateTransitionError{OrderID: orderID, From: o.Status, Action: "cancel"}
	}
	return s.Store.CancelOrder(ctx, orderID, o.Status)
}

// ConfirmPayment applies the payment gateway's "payment succeeded" signal.
// The payment is recorded on any live order; a Pending order also advances
// to Confirmed. The signal can lag a pickup scan, so an Active or Completed
// order still gets marked paid without changing status.
func (s *Service) ConfirmPayment(ctx context.Context, orderID string) error {
	return s.Store.ConfirmPayment(ctx, orderID)
}

// CreateProduct registers a product; a positive initial stock is recorded in
// the ledger as Initial Stock.
func (s *Service) CreateProduct(ctx context.Context, p *Product, operatorID string) error {
	if p.SKU == "" || p.Name == "" {
		return fmt.Errorf("product sku and name are required")
	}
	if p.TotalStock < 0 {
		return fmt.Errorf("total stock must be >= 0")
	}
	return s.Store.CreateProduct(ctx, p, operatorID)
}

// AdjustStock sets the product's physical-stock ceiling and appends a
// Correction ledger entry with the delta. Availability is derived, so no
// reservation is touched even when the new total undercuts current holds.
func (s *Service) AdjustStock(ctx context.Context, productID string, newTotal int, operatorID string) (LedgerEntry, error) {
	if newTotal < 0 {
		return LedgerEntry{}, fmt.Errorf("total stock must be >= 0")
	}
	return s.Store.SetTotalStock(ctx, productID, newTotal, operatorID)
}

// RecordStockChange appends an arbitrary admin/system ledger entry (Damage,
// Lost, Purchase, ...). The ledger is append-only; there is no way to amend
// an entry other than appending another one.
func (s *Service) RecordStockChange(ctx context.Context, productID string, delta int, reason LedgerReason, refType ReferenceType, refID string) (LedgerEntry, error) {
	if _, err := s.Store.ProductByID(ctx, productID); err != nil {
		return LedgerEntry{}, err
	}
	e := LedgerEntry{
		ProductID:     productID,
		Delta:         delta,
		Reason:        reason,
		ReferenceType: refType,
		ReferenceID:   refID,
	}
	if err := e.Validate(); err != nil {
		return LedgerEntry{}, err
	}
	if err := s.Store.AppendLedger(ctx, &e); err != nil {
		return LedgerEntry{}, err
	}
	return e, nil
}

// GetOrder returns the order if the requester owns it or is an operator.
func (s *Service) GetOrder(ctx context.Context, orderID, requesterID string, isOperator bool) (Order, error) {
	o, err := s.Store.OrderByID(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !isOperator && o.UserID != requesterID {
		return Order{}, ErrNotAuthorized
	}
	return o, nil
}

func (s *Service) ListOrders(ctx context.Context, userID string) ([]Order, error) {
	return s.Store.OrdersByUser(ctx, userID)
}

func (s *Service) GetProduct(ctx context.Context, productID string) (Product, error) {
	return s.Store.ProductByID(ctx, productID)
}

func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	return s.Store.ListProducts(ctx)
}

func (s *Service) ProductLedger(ctx context.Context, productID string) ([]LedgerEntry, error) {
	if _, err := s.Store.ProductByID(ctx, productID); err != nil {
		return nil, err
	}
	return s.Store.LedgerByProduct(ctx, productID)
}
