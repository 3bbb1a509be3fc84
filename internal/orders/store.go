package orders

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("order not found")

	// ErrIDCollision means the generated order id is already taken; the caller
	// retries with a fresh id.
	ErrIDCollision = errors.New("order id already exists")

	// ErrKeyConflict means another request with the same idempotency key won
	// the race; the caller should load and return the existing order.
	ErrKeyConflict = errors.New("idempotency key already used")
)

type InvalidTransitionError struct {
	OrderID string
	From    Status
	To      Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s: invalid transition %s -> %s", e.OrderID, e.From, e.To)
}

// Meta carries settlement details recorded alongside a terminal transition.
type Meta struct {
	ExternalPaymentRef string
	ReceiptURL         string
	Reason             string
}

type Store interface {
	// Create persists a new order. Uniqueness of both ID and IdempotencyKey is
	// enforced here: ErrIDCollision and ErrKeyConflict respectively.
	Create(ctx context.Context, o *Order) error

	GetByID(ctx context.Context, id string) (*Order, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Order, error)
	GetByPaymentRef(ctx context.Context, ref string) (*Order, error)

	// Transition moves an order from RESERVED to a terminal state. Replaying
	// the same terminal state is a no-op returning the current order; any
	// other source or conflicting target fails with InvalidTransitionError.
	Transition(ctx context.Context, id string, to Status, meta Meta) (*Order, error)

	// MirrorProviderStatus records a non-terminal provider status string on a
	// RESERVED order without touching stock or the state machine.
	MirrorProviderStatus(ctx context.Context, id, providerStatus string) error

	// ListExpiredReserved returns RESERVED orders created before cutoff.
	ListExpiredReserved(ctx context.Context, cutoff time.Time) ([]*Order, error)
}
