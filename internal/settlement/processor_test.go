package settlement

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bodhipep/storefront/internal/audit"
	"github.com/bodhipep/storefront/internal/catalog"
	"github.com/bodhipep/storefront/internal/ledger"
	"github.com/bodhipep/storefront/internal/orders"
	"github.com/bodhipep/storefront/internal/paylink"
)

type scriptedProvider struct {
	payments map[string]paylink.Payment
	err      error
	fetches  int
}

func (s *scriptedProvider) CreateCheckout(ctx context.Context, p paylink.CheckoutParams) (string, error) {
	return "", errors.New("not used")
}

func (s *scriptedProvider) GetPayment(ctx context.Context, paymentID string) (paylink.Payment, error) {
	s.fetches++
	if s.err != nil {
		return paylink.Payment{}, s.err
	}
	return s.payments[paymentID], nil
}

func paymentEvent(eventID, paymentID string) WebhookEvent {
	ev := WebhookEvent{EventID: eventID, Type: "payment.updated"}
	ev.Data.Object.Payment.ID = paymentID
	return ev
}

func newTestProcessor(provider paylink.Provider) (*Processor, *ledger.Memory, *orders.MemoryStore, *audit.Memory) {
	stock := ledger.NewMemory([]catalog.Product{
		{SKU: "RT10", Name: "Retatrutide 10mg", PriceCents: 7000, OnHand: 20, Reserved: 3},
	})
	store := orders.NewMemoryStore()
	auditLog := audit.NewMemory()
	p := &Processor{
		Provider:    provider,
		Store:       store,
		Ledger:      stock,
		Audit:       auditLog,
		ServiceName: "storefront-test",
	}
	return p, stock, store, auditLog
}

func seedReserved(t *testing.T, store *orders.MemoryStore, id string) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), &orders.Order{
		ID:             id,
		IdempotencyKey: "key-" + id,
		Lines:          []orders.Line{{SKU: "RT10", Qty: 3, UnitPriceCents: 7000}},
		SubtotalCents:  21000,
		ShippingCents:  0,
		TotalCents:     21000,
		PaymentMethod:  orders.MethodSquare,
		Status:         orders.StatusReserved,
		Customer:       orders.Customer{Name: "Ada", Address1: "1 Main St", City: "Austin", State: "TX", Zip: "78701"},
	}))
}

func seedManualReserved(t *testing.T, store *orders.MemoryStore, id string) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), &orders.Order{
		ID:             id,
		IdempotencyKey: "key-" + id,
		Lines:          []orders.Line{{SKU: "RT10", Qty: 3, UnitPriceCents: 7000}},
		SubtotalCents:  21000,
		TotalCents:     21000,
		PaymentMethod:  orders.MethodVenmo,
		Status:         orders.StatusReserved,
		Customer:       orders.Customer{Name: "Ada", Address1: "1 Main St", City: "Austin", State: "TX", Zip: "78701"},
	}))
}

func stockCounters(t *testing.T, stock *ledger.Memory) (onHand, reserved int) {
	t.Helper()
	ps, err := stock.GetBySKUs(context.Background(), []string{"RT10"})
	require.NoError(t, err)
	require.Len(t, ps, 1)
	return ps[0].OnHand, ps[0].Reserved
}

// TestProcess_CompletedCommitsAndPays verifies the happy settlement: stock
// committed, order PAID with the provider's ref and receipt, audit appended.
func TestProcess_CompletedCommitsAndPays(t *testing.T) {
	provider := &scriptedProvider{payments: map[string]paylink.Payment{
		"pay_1": {ID: "pay_1", Status: "COMPLETED", ReferenceID: "BDAAAAAA", ReceiptURL: "https://sq.example/r/1"},
	}}
	p, stock, store, auditLog := newTestProcessor(provider)
	seedReserved(t, store, "BDAAAAAA")

	require.NoError(t, p.Process(context.Background(), paymentEvent("ev-1", "pay_1")))

	o, err := store.GetByID(context.Background(), "BDAAAAAA")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, o.Status)
	assert.Equal(t, "pay_1", o.ExternalPaymentRef)
	assert.Equal(t, "https://sq.example/r/1", o.ReceiptURL)

	onHand, reserved := stockCounters(t, stock)
	assert.Equal(t, 17, onHand)
	assert.Equal(t, 0, reserved)

	entries, err := auditLog.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "PAID", entries[0].Action)
}

// TestProcess_DuplicateDeliveryCommitsOnce verifies the state guard: a second
// COMPLETED delivery for a settled order changes nothing.
func TestProcess_DuplicateDeliveryCommitsOnce(t *testing.T) {
	provider := &scriptedProvider{payments: map[string]paylink.Payment{
		"pay_1": {ID: "pay_1", Status: "COMPLETED", ReferenceID: "BDAAAAAA"},
	}}
	p, stock, store, auditLog := newTestProcessor(provider)
	seedReserved(t, store, "BDAAAAAA")

	require.NoError(t, p.Process(context.Background(), paymentEvent("ev-1", "pay_1")))
	require.NoError(t, p.Process(context.Background(), paymentEvent("ev-2", "pay_1")))

	onHand, reserved := stockCounters(t, stock)
	assert.Equal(t, 17, onHand)
	assert.Equal(t, 0, reserved)

	entries, err := auditLog.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// TestProcess_CanceledReleasesStock verifies a CANCELED payment releases the
// reservation and marks the order CANCELED.
func TestProcess_CanceledReleasesStock(t *testing.T) {
	provider := &scriptedProvider{payments: map[string]paylink.Payment{
		"pay_1": {ID: "pay_1", Status: "CANCELED", ReferenceID: "BDAAAAAA"},
	}}
	p, stock, store, _ := newTestProcessor(provider)
	seedReserved(t, store, "BDAAAAAA")

	require.NoError(t, p.Process(context.Background(), paymentEvent("ev-1", "pay_1")))

	o, err := store.GetByID(context.Background(), "BDAAAAAA")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCanceled, o.Status)
	assert.Equal(t, "CANCELED", o.ProviderStatus)

	onHand, reserved := stockCounters(t, stock)
	assert.Equal(t, 20, onHand)
	assert.Equal(t, 0, reserved)
}

// TestProcess_FailedReleasesStock verifies FAILED lands in its own terminal
// state, with the same release semantics as CANCELED.
func TestProcess_FailedReleasesStock(t *testing.T) {
	provider := &scriptedProvider{payments: map[string]paylink.Payment{
		"pay_1": {ID: "pay_1", Status: "FAILED", ReferenceID: "BDAAAAAA"},
	}}
	p, stock, store, _ := newTestProcessor(provider)
	seedReserved(t, store, "BDAAAAAA")

	require.NoError(t, p.Process(context.Background(), paymentEvent("ev-1", "pay_1")))

	o, err := store.GetByID(context.Background(), "BDAAAAAA")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusFailed, o.Status)

	onHand, reserved := stockCounters(t, stock)
	assert.Equal(t, 20, onHand)
	assert.Equal(t, 0, reserved)
}

// flakyStore fails the next n Transition calls, simulating a store outage
// between fetching the payment and claiming the order.
type flakyStore struct {
	orders.Store
	failTransitions int
}

func (s *flakyStore) Transition(ctx context.Context, id string, to orders.Status, meta orders.Meta) (*orders.Order, error) {
	if s.failTransitions > 0 {
		s.failTransitions--
		return nil, errors.New("write timeout")
	}
	return s.Store.Transition(ctx, id, to, meta)
}

// TestProcess_RedeliveryAfterFailedClaimCommitsOnce verifies a delivery that
// dies at the claim deducts nothing, and the redelivery deducts exactly once.
func TestProcess_RedeliveryAfterFailedClaimCommitsOnce(t *testing.T) {
	provider := &scriptedProvider{payments: map[string]paylink.Payment{
		"pay_1": {ID: "pay_1", Status: "COMPLETED", ReferenceID: "BDAAAAAA"},
	}}
	p, stock, store, _ := newTestProcessor(provider)
	seedReserved(t, store, "BDAAAAAA")
	p.Store = &flakyStore{Store: store, failTransitions: 1}

	err := p.Process(context.Background(), paymentEvent("ev-1", "pay_1"))
	require.Error(t, err)

	onHand, reserved := stockCounters(t, stock)
	assert.Equal(t, 20, onHand)
	assert.Equal(t, 3, reserved)

	require.NoError(t, p.Process(context.Background(), paymentEvent("ev-1", "pay_1")))

	o, err := store.GetByID(context.Background(), "BDAAAAAA")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, o.Status)

	onHand, reserved = stockCounters(t, stock)
	assert.Equal(t, 17, onHand)
	assert.Equal(t, 0, reserved)
}

// TestConfirmManual_PaysOrder verifies an operator confirmation settles a
// manual-method order: stock committed, PAID with the supplied ref and the
// payer recorded, expiry sweep no longer applies.
func TestConfirmManual_PaysOrder(t *testing.T) {
	p, stock, store, auditLog := newTestProcessor(&scriptedProvider{})
	seedManualReserved(t, store, "BDAAAAAA")

	o, err := p.ConfirmManual(context.Background(), "BDAAAAAA", "venmo-tx-9", "@ada")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, o.Status)
	assert.Equal(t, "venmo-tx-9", o.ExternalPaymentRef)
	assert.Equal(t, "manual:@ada", o.ProviderStatus)

	onHand, reserved := stockCounters(t, stock)
	assert.Equal(t, 17, onHand)
	assert.Equal(t, 0, reserved)

	entries, err := auditLog.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "PAID", entries[0].Action)
}

// TestConfirmManual_ReplayIsNoop verifies confirming twice deducts once.
func TestConfirmManual_ReplayIsNoop(t *testing.T) {
	p, stock, store, auditLog := newTestProcessor(&scriptedProvider{})
	seedManualReserved(t, store, "BDAAAAAA")

	_, err := p.ConfirmManual(context.Background(), "BDAAAAAA", "venmo-tx-9", "@ada")
	require.NoError(t, err)
	o, err := p.ConfirmManual(context.Background(), "BDAAAAAA", "venmo-tx-9", "@ada")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, o.Status)

	onHand, reserved := stockCounters(t, stock)
	assert.Equal(t, 17, onHand)
	assert.Equal(t, 0, reserved)

	entries, err := auditLog.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// TestConfirmManual_RejectsHostedMethod verifies card orders cannot be
// settled by hand.
func TestConfirmManual_RejectsHostedMethod(t *testing.T) {
	p, stock, store, _ := newTestProcessor(&scriptedProvider{})
	seedReserved(t, store, "BDAAAAAA") // square order

	_, err := p.ConfirmManual(context.Background(), "BDAAAAAA", "ref", "")
	assert.ErrorIs(t, err, ErrHostedCheckout)

	_, reserved := stockCounters(t, stock)
	assert.Equal(t, 3, reserved)
}

// TestConfirmManual_SettledOrderConflicts verifies an expired order cannot
// be confirmed back to PAID.
func TestConfirmManual_SettledOrderConflicts(t *testing.T) {
	p, _, store, _ := newTestProcessor(&scriptedProvider{})
	seedManualReserved(t, store, "BDAAAAAA")
	_, err := store.Transition(context.Background(), "BDAAAAAA", orders.StatusExpired, orders.Meta{})
	require.NoError(t, err)

	_, err = p.ConfirmManual(context.Background(), "BDAAAAAA", "ref", "")
	var ite *orders.InvalidTransitionError
	assert.True(t, errors.As(err, &ite))
}

// TestConfirmManual_UnknownOrder verifies the lookup miss surfaces.
func TestConfirmManual_UnknownOrder(t *testing.T) {
	p, _, _, _ := newTestProcessor(&scriptedProvider{})

	_, err := p.ConfirmManual(context.Background(), "BDZZZZZZ", "ref", "")
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

// TestProcess_NonTerminalMirrorsOnly verifies an open provider status is
// mirrored without touching stock or the state machine.
func TestProcess_NonTerminalMirrorsOnly(t *testing.T) {
	provider := &scriptedProvider{payments: map[string]paylink.Payment{
		"pay_1": {ID: "pay_1", Status: "PENDING", ReferenceID: "BDAAAAAA"},
	}}
	p, stock, store, _ := newTestProcessor(provider)
	seedReserved(t, store, "BDAAAAAA")

	require.NoError(t, p.Process(context.Background(), paymentEvent("ev-1", "pay_1")))

	o, err := store.GetByID(context.Background(), "BDAAAAAA")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusReserved, o.Status)
	assert.Equal(t, "PENDING", o.ProviderStatus)

	onHand, reserved := stockCounters(t, stock)
	assert.Equal(t, 20, onHand)
	assert.Equal(t, 3, reserved)
}

// TestProcess_ProviderErrorAsksForRedelivery verifies a fetch failure
// surfaces as an error and leaves the order untouched for the retry.
func TestProcess_ProviderErrorAsksForRedelivery(t *testing.T) {
	provider := &scriptedProvider{err: &paylink.NetworkError{Err: errors.New("dial timeout")}}
	p, stock, store, _ := newTestProcessor(provider)
	seedReserved(t, store, "BDAAAAAA")

	err := p.Process(context.Background(), paymentEvent("ev-1", "pay_1"))
	require.Error(t, err)

	o, getErr := store.GetByID(context.Background(), "BDAAAAAA")
	require.NoError(t, getErr)
	assert.Equal(t, orders.StatusReserved, o.Status)

	_, reserved := stockCounters(t, stock)
	assert.Equal(t, 3, reserved)
}

// TestProcess_IgnoresNonPaymentEvents verifies unrelated event types are
// acknowledged without a provider round trip.
func TestProcess_IgnoresNonPaymentEvents(t *testing.T) {
	provider := &scriptedProvider{}
	p, _, _, _ := newTestProcessor(provider)

	ev := WebhookEvent{EventID: "ev-1", Type: "refund.created"}
	require.NoError(t, p.Process(context.Background(), ev))
	assert.Equal(t, 0, provider.fetches)
}

// TestProcess_UnknownReferenceAcks verifies a payment pointing at no known
// order is acknowledged rather than retried forever.
func TestProcess_UnknownReferenceAcks(t *testing.T) {
	provider := &scriptedProvider{payments: map[string]paylink.Payment{
		"pay_1": {ID: "pay_1", Status: "COMPLETED", ReferenceID: "BDZZZZZZ"},
	}}
	p, stock, _, _ := newTestProcessor(provider)

	require.NoError(t, p.Process(context.Background(), paymentEvent("ev-1", "pay_1")))
	_, reserved := stockCounters(t, stock)
	assert.Equal(t, 3, reserved)
}

// TestProcess_NoReferenceAcks verifies a payment with no reference id at all
// is dropped quietly.
func TestProcess_NoReferenceAcks(t *testing.T) {
	provider := &scriptedProvider{payments: map[string]paylink.Payment{
		"pay_1": {ID: "pay_1", Status: "COMPLETED"},
	}}
	p, _, store, _ := newTestProcessor(provider)
	seedReserved(t, store, "BDAAAAAA")

	require.NoError(t, p.Process(context.Background(), paymentEvent("ev-1", "pay_1")))
	o, err := store.GetByID(context.Background(), "BDAAAAAA")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusReserved, o.Status)
}

// TestNormalize covers the provider-status mapping table.
func TestNormalize(t *testing.T) {
	assert.Equal(t, outcomePaid, normalize("COMPLETED"))
	assert.Equal(t, outcomePaid, normalize("completed"))
	assert.Equal(t, outcomePaid, normalize("APPROVED"))
	assert.Equal(t, outcomePaid, normalize("CAPTURED"))
	assert.Equal(t, outcomeCanceled, normalize("CANCELED"))
	assert.Equal(t, outcomeFailed, normalize("FAILED"))
	assert.Equal(t, outcomeOpen, normalize("PENDING"))
	assert.Equal(t, outcomeOpen, normalize(""))
}
