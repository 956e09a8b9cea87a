package redisx

import "time"

const (
	// Idempotency for order commit: idem:rental:order:{external_id} -> order_id
	KeyIdemOrderCommit = "idem:rental:order:%s"

	// Cache order status: rental:order_status:{order_id} -> {"status": "..."}
	KeyOrderStatus = "rental:order_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
