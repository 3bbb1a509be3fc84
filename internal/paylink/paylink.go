// Package paylink abstracts "produce a way to pay": a hosted-checkout URL
// from the provider, or manual instructions (recipient + memo) for
// venmo/cashapp/crypto.
package paylink

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotConfigured means provider credentials are absent. Callers degrade to
// a manual payment method; this is not a user-visible failure.
var ErrNotConfigured = errors.New("payment provider not configured")

// UpstreamError is a definitive rejection from the provider.
type UpstreamError struct {
	StatusCode int
	Reason     string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("provider rejected request: %d %s", e.StatusCode, e.Reason)
}

// NetworkError is transient; retrying with the same idempotency key is safe.
type NetworkError struct{ Err error }

func (e *NetworkError) Error() string { return "provider unreachable: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

func IsRetryable(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

type CheckoutParams struct {
	OrderID     string
	AmountCents int64
	Currency    string
	RedirectURL string
}

// Payment is the provider's authoritative record for one transaction.
type Payment struct {
	ID          string
	Status      string
	ReferenceID string // our order id
	ReceiptURL  string
	AmountCents int64
}

type Provider interface {
	CreateCheckout(ctx context.Context, p CheckoutParams) (url string, err error)
	GetPayment(ctx context.Context, paymentID string) (Payment, error)
}
