package orders

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderCreated  = "OrderCreated"
	EventOrderPaid     = "OrderPaid"
	EventOrderCanceled = "OrderCanceled"
	EventOrderFailed   = "OrderFailed"
	EventOrderExpired  = "OrderExpired"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

func NewEnvelope(eventType, producer, traceID, orderID string, payload json.RawMessage) Envelope {
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: orderID,
		Payload:       payload,
	}
}

type OrderEventPayload struct {
	OrderID       string `json:"order_id"`
	Status        Status `json:"status"`
	PaymentMethod Method `json:"payment_method"`
	TotalCents    int64  `json:"total_cents"`
	PaymentRef    string `json:"payment_ref,omitempty"`
	Items         []Line `json:"items"`
}

func EventTypeFor(to Status) string {
	switch to {
	case StatusPaid:
		return EventOrderPaid
	case StatusCanceled:
		return EventOrderCanceled
	case StatusFailed:
		return EventOrderFailed
	case StatusExpired:
		return EventOrderExpired
	}
	return EventOrderCreated
}
