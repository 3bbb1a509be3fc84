// Package settlement reconciles external payment-status events against
// stored orders exactly once. The event is only a trigger: the authoritative
// status is always re-fetched from the provider, and the RESERVED state
// guard makes duplicate and out-of-order deliveries harmless.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/bodhipep/storefront/internal/audit"
	kafkax "github.com/bodhipep/storefront/internal/kafka"
	"github.com/bodhipep/storefront/internal/ledger"
	"github.com/bodhipep/storefront/internal/orders"
	"github.com/bodhipep/storefront/internal/paylink"
	"github.com/bodhipep/storefront/internal/redisx"
)

// WebhookEvent is the provider's push payload. Only the event id, type, and
// payment id are read; everything else is re-derived from the provider.
type WebhookEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Data    struct {
		Object struct {
			Payment struct {
				ID string `json:"id"`
			} `json:"payment"`
		} `json:"object"`
	} `json:"data"`
}

type EventPublisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type Processor struct {
	Provider paylink.Provider
	Store    orders.Store
	Ledger   ledger.Ledger
	Audit    audit.Log
	Events   EventPublisher
	Redis    *redis.Client // optional dedup fast path

	ServiceName string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// lockFor serializes settlement of one order within this process; across
// processes the store's conditional Transition is the arbiter.
func (p *Processor) lockFor(orderID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.locks == nil {
		p.locks = map[string]*sync.Mutex{}
	}
	l, ok := p.locks[orderID]
	if !ok {
		l = &sync.Mutex{}
		p.locks[orderID] = l
	}
	return l
}

// Process applies one settlement event. A nil return acknowledges the event;
// an error tells the caller to request redelivery. An error before the claim
// leaves the order RESERVED so the retry re-runs the whole step safely.
func (p *Processor) Process(ctx context.Context, ev WebhookEvent) error {
	if !strings.HasPrefix(ev.Type, "payment.") || ev.Data.Object.Payment.ID == "" {
		return nil // not a payment-status event; acknowledge and discard
	}
	if p.seen(ctx, ev.EventID) {
		return nil
	}

	pay, err := p.Provider.GetPayment(ctx, ev.Data.Object.Payment.ID)
	if err != nil {
		return fmt.Errorf("authoritative payment fetch: %w", err)
	}
	if pay.ReferenceID == "" {
		return nil // payment not tied to one of our orders
	}

	lock := p.lockFor(pay.ReferenceID)
	lock.Lock()
	defer lock.Unlock()

	o, err := p.Store.GetByID(ctx, pay.ReferenceID)
	if errors.Is(err, orders.ErrNotFound) {
		return nil // unrelated reference; no retry storm
	}
	if err != nil {
		return err
	}
	if o.Status != orders.StatusReserved {
		// Duplicate or out-of-order delivery after settlement; nothing to do.
		p.markSeen(ctx, ev.EventID)
		return nil
	}

	// The conditional transition is the claim and runs before any ledger
	// mutation: a failed or half-applied delivery leaves the order RESERVED
	// with stock untouched, so the redelivery re-runs the whole step instead
	// of deducting twice. The sweeper claims the same way.
	switch normalize(pay.Status) {
	case outcomePaid:
		settled, err := p.Store.Transition(ctx, o.ID, orders.StatusPaid, orders.Meta{
			ExternalPaymentRef: pay.ID,
			ReceiptURL:         pay.ReceiptURL,
		})
		if err != nil {
			var ite *orders.InvalidTransitionError
			if errors.As(err, &ite) {
				p.markSeen(ctx, ev.EventID) // another process settled it first
				return nil
			}
			return fmt.Errorf("transition %s to PAID: %w", o.ID, err)
		}
		if err := p.Ledger.CommitAll(ctx, settled.Lines); err != nil {
			// Order is already PAID; stock needs the audit trail to fix.
			slog.Error("commit after settlement failed", "order_id", o.ID, "error", err)
		}
		p.finish(ctx, ev.EventID, settled, pay.ID)
	case outcomeCanceled, outcomeFailed:
		to := orders.StatusCanceled
		if normalize(pay.Status) == outcomeFailed {
			to = orders.StatusFailed
		}
		settled, err := p.Store.Transition(ctx, o.ID, to, orders.Meta{
			ExternalPaymentRef: pay.ID,
			Reason:             pay.Status,
		})
		if err != nil {
			var ite *orders.InvalidTransitionError
			if errors.As(err, &ite) {
				p.markSeen(ctx, ev.EventID)
				return nil
			}
			return fmt.Errorf("transition %s to %s: %w", o.ID, to, err)
		}
		if err := p.Ledger.ReleaseAll(ctx, settled.Lines); err != nil {
			slog.Error("release after settlement failed", "order_id", o.ID, "error", err)
		}
		p.finish(ctx, ev.EventID, settled, pay.ID)
	default:
		// Non-terminal: mirror the provider's words, leave the ledger alone.
		if err := p.Store.MirrorProviderStatus(ctx, o.ID, pay.Status); err != nil {
			return err
		}
		p.markSeen(ctx, ev.EventID)
	}
	return nil
}

// ErrHostedCheckout rejects manual confirmation of orders that settle
// through the provider webhook.
var ErrHostedCheckout = errors.New("hosted checkout orders settle via the provider webhook")

// ConfirmManual records an operator-verified manual payment (venmo, cashapp,
// crypto): the PAID claim first, then the stock commit, same discipline as
// webhook settlement. Confirming an already PAID order is a no-op returning
// the settled order.
func (p *Processor) ConfirmManual(ctx context.Context, orderID, paymentRef, payerHandle string) (*orders.Order, error) {
	lock := p.lockFor(orderID)
	lock.Lock()
	defer lock.Unlock()

	o, err := p.Store.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.PaymentMethod == orders.MethodSquare {
		return nil, ErrHostedCheckout
	}
	if o.Status == orders.StatusPaid {
		return o, nil
	}

	reason := "manual"
	if payerHandle != "" {
		reason = "manual:" + payerHandle
	}
	settled, err := p.Store.Transition(ctx, orderID, orders.StatusPaid, orders.Meta{
		ExternalPaymentRef: paymentRef,
		Reason:             reason,
	})
	if err != nil {
		return nil, err
	}
	if err := p.Ledger.CommitAll(ctx, settled.Lines); err != nil {
		slog.Error("commit after manual confirmation failed", "order_id", orderID, "error", err)
	}
	p.finish(ctx, "", settled, paymentRef)
	return settled, nil
}

type outcome int

const (
	outcomeOpen outcome = iota
	outcomePaid
	outcomeCanceled
	outcomeFailed
)

func normalize(providerStatus string) outcome {
	switch strings.ToUpper(providerStatus) {
	case "COMPLETED", "APPROVED", "CAPTURED":
		return outcomePaid
	case "CANCELED":
		return outcomeCanceled
	case "FAILED":
		return outcomeFailed
	}
	return outcomeOpen
}

func (p *Processor) finish(ctx context.Context, eventID string, o *orders.Order, paymentID string) {
	if p.Audit != nil {
		if err := p.Audit.Append(ctx, audit.FromOrder(o, string(o.Status))); err != nil {
			slog.Error("audit append failed", "order_id", o.ID, "error", err)
		}
	}
	p.publish(o, eventID)
	p.markSeen(ctx, eventID)
	if p.Redis != nil {
		_ = p.Redis.Set(ctx, fmt.Sprintf(redisx.KeyOrderStatus, o.ID),
			fmt.Sprintf(`{"status":%q}`, o.Status), redisx.TTLStatusCache).Err()
	}
	slog.Info("order settled", "order_id", o.ID, "status", o.Status, "payment_id", paymentID)
}

func (p *Processor) publish(o *orders.Order, traceID string) {
	if p.Events == nil {
		return
	}
	eventType := orders.EventTypeFor(o.Status)
	payload := kafkax.MustMarshal(orders.OrderEventPayload{
		OrderID:       o.ID,
		Status:        o.Status,
		PaymentMethod: o.PaymentMethod,
		TotalCents:    o.TotalCents,
		PaymentRef:    o.ExternalPaymentRef,
		Items:         o.Lines,
	})
	env := orders.NewEnvelope(eventType, p.ServiceName, traceID, o.ID, payload)
	p.Events.Publish(orders.PartitionKey(o.ID), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

// seen/markSeen are a Redis fast path only; the state guard above is what
// actually makes replays safe, so the key is set strictly after success.
func (p *Processor) seen(ctx context.Context, eventID string) bool {
	if p.Redis == nil || eventID == "" {
		return false
	}
	ok, _ := redisx.Exists(ctx, p.Redis, fmt.Sprintf(redisx.KeySettleSeen, eventID))
	return ok
}

func (p *Processor) markSeen(ctx context.Context, eventID string) {
	if p.Redis == nil || eventID == "" {
		return
	}
	_ = p.Redis.Set(ctx, fmt.Sprintf(redisx.KeySettleSeen, eventID), "1", redisx.TTLSettleSeen).Err()
}
