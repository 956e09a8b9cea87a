package rental

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRange        = errors.New("invalid rental range")
	ErrProductNotFound     = errors.New("product not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrNotAuthorized       = errors.New("not authorized")
	ErrConcurrencyConflict = errors.New("concurrent commit conflict") // safe to retry the whole call
)

// InsufficientStockError identifies the first order line that failed
// availability, with the shortfall.
type InsufficientStockError struct {
	ProductID string
	Name      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	name := e.Name
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("insufficient stock for %s on selected dates: requested %d, available %d",
		name, e.Requested, e.Available)
}

// StateTransitionError reports an order action attempted in a state that
// does not permit it. No mutation happens.
type StateTransitionError struct {
	OrderID string
	From    Status
	Action  string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("cannot %s order %s in state %s", e.Action, e.OrderID, e.From)
}
