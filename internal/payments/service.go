package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/rentloop/rental-core/internal/kafka"
	"github.com/rentloop/rental-core/internal/redisx"
	"github.com/rentloop/rental-core/internal/rental"
)

// Service applies payment-gateway events to orders: a PaymentAuthorized
// event moves the order Pending -> Confirmed and marks it paid. The gateway
// itself is an external collaborator; only its success signal reaches us.
type Service struct {
	Svc         *rental.Service
	Redis       *redis.Client
	Producer    *kafkax.Producer // rental.order.confirmed
	ServiceName string
}

// HandlePaymentAuthorized runs as the consumer handler.
func (s *Service) HandlePaymentAuthorized(ctx context.Context, m kafkago.Message) error {
	var env rental.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != rental.EventPaymentAuthorized {
		return nil
	}

	// dedup via Redis on event_id; replays are commit-offset retries
	dkey := fmt.Sprintf(redisx.KeyDedup, "payments", env.EventID)
	seen, _ := redisx.Exists(ctx, s.Redis, dkey)
	if seen {
		return nil
	}
	_ = s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()

	p, err := kafkax.UnwrapPayload[rental.PaymentAuthorizedPayload](env.Payload)
	if err != nil {
		return err
	}

	err = s.Svc.ConfirmPayment(ctx, p.OrderID)
	var state *rental.StateTransitionError
	switch {
	case err == nil:
	case errors.As(err, &state):
		// order was cancelled meanwhile; the payment event is stale
		log.Printf("payment authorized for %s ignored: %v", p.OrderID, err)
		return nil
	case errors.Is(err, rental.ErrOrderNotFound):
		log.Printf("payment authorized for unknown order %s", p.OrderID)
		return nil
	default:
		return err
	}

	statusKey := fmt.Sprintf(redisx.KeyOrderStatus, p.OrderID)
	_ = s.Redis.Set(ctx, statusKey, fmt.Sprintf(`{"status":%q}`, rental.StatusConfirmed), redisx.TTLStatusCache).Err()

	s.publishConfirmed(p, env.TraceID)
	return nil
}

func (s *Service) publishConfirmed(p rental.PaymentAuthorizedPayload, trace string) {
	ev := rental.Envelope{
		EventID:       uuid.NewString(),
		EventType:     rental.EventOrderConfirmed,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		TraceID:       trace,
		CorrelationID: p.OrderID,
		Payload: kafkax.MustMarshal(rental.OrderConfirmedPayload{
			OrderID: p.OrderID, PaymentRef: p.PaymentRef,
		}),
	}
	s.Producer.Publish(rental.PartitionKey(p.OrderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(rental.EventOrderConfirmed)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
