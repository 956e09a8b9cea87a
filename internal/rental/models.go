package rental

import "time"

type Product struct {
	ID         string    `json:"id"`
	SKU        string    `json:"sku"`
	Name       string    `json:"name"`
	TotalStock int       `json:"total_stock"` // physical units owned, including rented-out
	DayCents   int       `json:"day_cents"`
	WeekCents  int       `json:"week_cents"`
	MonthCents int       `json:"month_cents"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationCancelled ReservationStatus = "CANCELLED"
	ReservationCompleted ReservationStatus = "COMPLETED"
)

// Reservation is a time-bounded hold on product quantity over the half-open
// interval [StartDate, EndDate). Rows are never deleted; only Status changes.
type Reservation struct {
	ID        string            `json:"id"`
	OrderID   string            `json:"order_id"`
	ProductID string            `json:"product_id"`
	UserID    string            `json:"user_id"`
	StartDate time.Time         `json:"start_date"`
	EndDate   time.Time         `json:"end_date"`
	Quantity  int               `json:"quantity"`
	Status    ReservationStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
}

type ShippingAddress struct {
	FullName     string `json:"full_name"`
	AddressLine1 string `json:"address_line1"`
	City         string `json:"city"`
	State        string `json:"state"`
	ZipCode      string `json:"zip_code"`
	Phone        string `json:"phone"`
}

// OrderLine snapshots product name and computed price at commit time, so
// later product edits do not rewrite historical orders.
type OrderLine struct {
	ProductID  string    `json:"product_id"`
	Name       string    `json:"name"`
	Quantity   int       `json:"quantity"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
	PriceCents int       `json:"price_cents"` // line total
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

type PaymentMethod string

const (
	PaymentCOD    PaymentMethod = "COD"
	PaymentOnline PaymentMethod = "ONLINE"
)

type Order struct {
	ID            string          `json:"id"`
	ExternalID    string          `json:"external_id,omitempty"` // caller idempotency key
	UserID        string          `json:"user_id"`
	Lines         []OrderLine     `json:"lines"`
	TotalCents    int             `json:"total_cents"`
	Shipping      ShippingAddress `json:"shipping"`
	Status        Status          `json:"status"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// LineInput is one requested order line before any snapshotting.
type LineInput struct {
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}
