// Package forward relays order lifecycle events to an external webhook (a
// spreadsheet automation, a fulfillment tool). Delivery is at-least-once:
// a non-2xx response leaves the Kafka offset uncommitted.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/bodhipep/storefront/internal/kafka"
	"github.com/bodhipep/storefront/internal/orders"
)

type Forwarder struct {
	URL         string
	ServiceName string
	HTTP        *http.Client
}

func New(url, serviceName string) *Forwarder {
	return &Forwarder{
		URL:         url,
		ServiceName: serviceName,
		HTTP:        &http.Client{Timeout: 10 * time.Second},
	}
}

// Handle is wired as the Kafka consumer handler.
func (f *Forwarder) Handle(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return nil // malformed message; there is nothing a redelivery would fix
	}
	payload, err := kafkax.UnwrapPayload[orders.OrderEventPayload](env.Payload)
	if err != nil {
		return nil
	}

	stamped := map[string]any{
		"event_id":    env.EventID,
		"event_type":  env.EventType,
		"order_id":    payload.OrderID,
		"status":      payload.Status,
		"total":       orders.Dollars(payload.TotalCents),
		"occurred_at": env.OccurredAt,
		"received_at": time.Now().UTC(),
		"source":      f.ServiceName,
	}
	body, err := json.Marshal(stamped)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("forward target returned %d", resp.StatusCode)
	}
	return nil
}
