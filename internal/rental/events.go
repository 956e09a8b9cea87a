package rental

import (
	"encoding/json"
	"time"
)

const (
	TopicOrderCommitted    = "rental.order.committed"
	TopicOrderConfirmed    = "rental.order.confirmed"
	TopicPaymentAuthorized = "rental.payment.authorized" // produced at the payment gateway boundary
)

const (
	EventOrderCommitted    = "OrderCommitted"
	EventOrderConfirmed    = "OrderConfirmed"
	EventPaymentAuthorized = "PaymentAuthorized"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // usually order_id
	Payload       json.RawMessage `json:"payload"`
}

type LinePayload struct {
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

type OrderCommittedPayload struct {
	OrderID    string        `json:"order_id"`
	UserID     string        `json:"user_id"`
	TotalCents int           `json:"total_cents"`
	Lines      []LinePayload `json:"lines"`
}

// PaymentAuthorizedPayload is the gateway's "payment succeeded" signal; it
// drives Pending -> Confirmed.
type PaymentAuthorizedPayload struct {
	OrderID     string `json:"order_id"`
	PaymentRef  string `json:"payment_ref"`
	AmountCents int    `json:"amount_cents"`
}

type OrderConfirmedPayload struct {
	OrderID    string `json:"order_id"`
	PaymentRef string `json:"payment_ref"`
}

// Partition key = order_id so every event of one order keeps its ordering.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
