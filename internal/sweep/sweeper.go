// Package sweep expires orders stuck in RESERVED so abandoned carts cannot
// starve stock indefinitely.
package sweep

import (
	"context"
	"errors"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/bodhipep/storefront/internal/audit"
	kafkax "github.com/bodhipep/storefront/internal/kafka"
	"github.com/bodhipep/storefront/internal/ledger"
	"github.com/bodhipep/storefront/internal/orders"
)

type EventPublisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type Sweeper struct {
	Store  orders.Store
	Ledger ledger.Ledger
	Audit  audit.Log
	Events EventPublisher

	TTL         time.Duration
	Interval    time.Duration
	ServiceName string
}

func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				slog.Error("expiry sweep failed", "error", err)
			} else if n > 0 {
				slog.Info("expired stale reservations", "count", n)
			}
		}
	}
}

// SweepOnce expires every RESERVED order older than the TTL. The EXPIRED
// transition is the claim: a settlement racing in from another process either
// wins the conditional write first or finds the order no longer RESERVED.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	stale, err := s.Store.ListExpiredReserved(ctx, time.Now().Add(-s.TTL))
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, o := range stale {
		expired, err := s.Store.Transition(ctx, o.ID, orders.StatusExpired, orders.Meta{Reason: "reservation ttl elapsed"})
		if err != nil {
			var ite *orders.InvalidTransitionError
			if errors.As(err, &ite) {
				continue // settled in the meantime
			}
			return swept, err
		}
		if err := s.Ledger.ReleaseAll(ctx, expired.Lines); err != nil {
			// Order is already EXPIRED; stock needs the audit trail to fix.
			slog.Error("release after expiry failed", "order_id", o.ID, "error", err)
			continue
		}
		if s.Audit != nil {
			if err := s.Audit.Append(ctx, audit.FromOrder(expired, string(orders.StatusExpired))); err != nil {
				slog.Error("audit append failed", "order_id", o.ID, "error", err)
			}
		}
		s.publish(expired)
		swept++
	}
	return swept, nil
}

func (s *Sweeper) publish(o *orders.Order) {
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
	env := orders.NewEnvelope(orders.EventOrderExpired, s.ServiceName, "", o.ID, payload)
	s.Events.Publish(orders.PartitionKey(o.ID), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderExpired)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
