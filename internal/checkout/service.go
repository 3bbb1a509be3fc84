// Package checkout turns a validated cart into a durable RESERVED order:
// price, reserve all lines as one batch, persist, audit, hand back a way to
// pay.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/bodhipep/storefront/internal/audit"
	"github.com/bodhipep/storefront/internal/catalog"
	kafkax "github.com/bodhipep/storefront/internal/kafka"
	"github.com/bodhipep/storefront/internal/ledger"
	"github.com/bodhipep/storefront/internal/orders"
	"github.com/bodhipep/storefront/internal/paylink"
	"github.com/bodhipep/storefront/internal/redisx"
)

const idAllocAttempts = 5

// EventPublisher matches kafkax.Producer.Publish; nil disables publishing.
type EventPublisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type Service struct {
	Pricer *catalog.Pricer
	Ledger ledger.Ledger
	Store  orders.Store
	Audit  audit.Log
	Links  paylink.Provider
	Events EventPublisher
	Redis  *redis.Client // optional fast path; nil is fine

	BaseURL     string
	Currency    string
	ServiceName string

	// newID is swappable in tests to force collisions.
	newID func() (string, error)
}

type CreateRequest struct {
	IdempotencyKey string
	Customer       orders.Customer
	Items          []catalog.ItemInput
	PaymentMethod  orders.Method
	TraceID        string
}

type CreateResult struct {
	Order      *orders.Order
	Redirect   string
	Idempotent bool
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if req.IdempotencyKey == "" {
		return CreateResult{}, fmt.Errorf("%w: missing idempotency key", catalog.ErrInvalidCart)
	}

	// Idempotent replay: same key returns the original order unchanged, with
	// no second reservation and no new audit row. Redis short-circuits hot
	// retries; the store lookup below is the source of truth.
	if s.Redis != nil {
		if id, err := s.Redis.Get(ctx, fmt.Sprintf(redisx.KeyIdemOrder, req.IdempotencyKey)).Result(); err == nil && id != "" {
			if existing, err := s.Store.GetByID(ctx, id); err == nil {
				return CreateResult{Order: existing, Redirect: s.redirectFor(ctx, existing), Idempotent: true}, nil
			}
		}
	}
	if existing, err := s.Store.GetByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
		return CreateResult{Order: existing, Redirect: s.redirectFor(ctx, existing), Idempotent: true}, nil
	} else if !errors.Is(err, orders.ErrNotFound) {
		return CreateResult{}, err
	}

	intent, err := s.Pricer.Price(ctx, req.Items)
	if err != nil {
		return CreateResult{}, err
	}

	// All-or-nothing reservation across every line.
	if err := s.Ledger.ReserveAll(ctx, intent.Lines); err != nil {
		return CreateResult{}, err
	}

	o, err := s.persist(ctx, req, intent)
	if err != nil {
		// The reservation is ours alone; give it back before reporting.
		if relErr := s.Ledger.ReleaseAll(ctx, intent.Lines); relErr != nil {
			slog.Error("release after failed create", "error", relErr)
		}
		var existing *orders.Order
		if errors.Is(err, orders.ErrKeyConflict) {
			if existing, err = s.Store.GetByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
				return CreateResult{Order: existing, Redirect: s.redirectFor(ctx, existing), Idempotent: true}, nil
			}
		}
		return CreateResult{}, err
	}

	if err := s.Audit.Append(ctx, audit.FromOrder(o, "CREATED")); err != nil {
		slog.Error("audit append failed", "order_id", o.ID, "error", err)
	}
	s.publish(o, orders.EventOrderCreated, req.TraceID)
	s.cache(ctx, req.IdempotencyKey, o)

	return CreateResult{Order: o, Redirect: s.redirectFor(ctx, o)}, nil
}

func (s *Service) persist(ctx context.Context, req CreateRequest, intent catalog.Intent) (*orders.Order, error) {
	newID := s.newID
	if newID == nil {
		newID = orders.NewID
	}
	for i := 0; i < idAllocAttempts; i++ {
		id, err := newID()
		if err != nil {
			return nil, err
		}
		o := &orders.Order{
			ID:             id,
			IdempotencyKey: req.IdempotencyKey,
			Lines:          intent.Lines,
			SubtotalCents:  intent.SubtotalCents,
			ShippingCents:  intent.ShippingCents,
			TotalCents:     intent.TotalCents,
			PaymentMethod:  req.PaymentMethod,
			Status:         orders.StatusReserved,
			Customer:       req.Customer,
		}
		err = s.Store.Create(ctx, o)
		if errors.Is(err, orders.ErrIDCollision) {
			continue // short codes collide eventually; roll a fresh one
		}
		if err != nil {
			return nil, err
		}
		return o, nil
	}
	return nil, fmt.Errorf("order id allocation: %d collisions in a row", idAllocAttempts)
}

// redirectFor produces the customer's next hop: a hosted checkout URL for
// square, else the internal manual-pay page. A provider that is down or not
// configured degrades to the internal page rather than failing the order.
func (s *Service) redirectFor(ctx context.Context, o *orders.Order) string {
	manual := paylink.PayPath(o.PaymentMethod, o.ID, o.TotalCents)
	if o.PaymentMethod != orders.MethodSquare || s.Links == nil {
		return manual
	}
	url, err := s.Links.CreateCheckout(ctx, paylink.CheckoutParams{
		OrderID:     o.ID,
		AmountCents: o.TotalCents,
		Currency:    s.Currency,
		RedirectURL: s.BaseURL + "/pay/success?order=" + o.ID,
	})
	if err != nil {
		if !errors.Is(err, paylink.ErrNotConfigured) {
			slog.Warn("hosted checkout unavailable", "order_id", o.ID, "error", err)
		}
		return manual
	}
	return url
}

func (s *Service) publish(o *orders.Order, eventType, traceID string) {
	if s.Events == nil {
		return
	}
	payload := kafkax.MustMarshal(orders.OrderEventPayload{
		OrderID:       o.ID,
		Status:        o.Status,
		PaymentMethod: o.PaymentMethod,
		TotalCents:    o.TotalCents,
		Items:         o.Lines,
	})
	env := orders.NewEnvelope(eventType, s.ServiceName, traceID, o.ID, payload)
	s.Events.Publish(orders.PartitionKey(o.ID), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (s *Service) cache(ctx context.Context, idemKey string, o *orders.Order) {
	if s.Redis == nil {
		return
	}
	_ = s.Redis.Set(ctx, fmt.Sprintf(redisx.KeyIdemOrder, idemKey), o.ID, redisx.TTLIdempotency).Err()
	_ = s.Redis.Set(ctx, fmt.Sprintf(redisx.KeyOrderStatus, o.ID),
		fmt.Sprintf(`{"status":%q}`, o.Status), redisx.TTLStatusCache).Err()
}
