package redisx

import "time"

const (
	// Fast-path idempotency for order creation: idem:order:{idempotency_key} -> order_id.
	// The order store remains the source of truth; this only short-circuits hot retries.
	KeyIdemOrder = "idem:order:%s"

	// Cached order status: order:status:{order_id} -> JSON blob for GET /orders/{id}.
	KeyOrderStatus = "order:status:%s"

	// Settlement dedup fast path: settle:seen:{event_id}. Set only after an event
	// was fully applied; the RESERVED state guard is the real idempotency barrier.
	KeySettleSeen = "settle:seen:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLSettleSeen  = 48 * time.Hour
)
