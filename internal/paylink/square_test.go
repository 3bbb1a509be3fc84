package paylink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func squareAgainst(srv *httptest.Server) *Square {
	return &Square{
		AccessToken: "tok",
		LocationID:  "loc",
		BaseURL:     srv.URL,
		HTTP:        &http.Client{Timeout: 2 * time.Second},
	}
}

// TestCreateCheckout_HappyPath verifies the request shape: path, auth
// headers, deterministic idempotency key, and the returned URL.
func TestCreateCheckout_HappyPath(t *testing.T) {
	var got createLinkReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/online-checkout/payment-links", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("Square-Version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"payment_link": map[string]any{"url": "https://square.test/pl/abc"},
		})
	}))
	defer srv.Close()

	s := squareAgainst(srv)
	url, err := s.CreateCheckout(context.Background(), CheckoutParams{
		OrderID:     "BDAAAAAA",
		AmountCents: 19500,
		Currency:    "USD",
		RedirectURL: "https://shop.test/pay/success?order=BDAAAAAA",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://square.test/pl/abc", url)

	assert.Equal(t, "order_BDAAAAAA_19500", got.IdempotencyKey)
	assert.Equal(t, int64(19500), got.QuickPay.PriceMoney.Amount)
	assert.Equal(t, "USD", got.QuickPay.PriceMoney.Currency)
	assert.Equal(t, "loc", got.QuickPay.LocationID)
	assert.Equal(t, "BDAAAAAA", got.QuickPay.ReferenceID)
	require.NotNil(t, got.CheckoutOptions)
	assert.Equal(t, "https://shop.test/pay/success?order=BDAAAAAA", got.CheckoutOptions.RedirectURL)
}

// TestCreateCheckout_UpstreamRejection verifies a 4xx surfaces as a
// non-retryable UpstreamError carrying the provider's reason.
func TestCreateCheckout_UpstreamRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]any{{"code": "INVALID_REQUEST_ERROR", "detail": "amount too small"}},
		})
	}))
	defer srv.Close()

	_, err := squareAgainst(srv).CreateCheckout(context.Background(), CheckoutParams{
		OrderID: "BDAAAAAA", AmountCents: 1, Currency: "USD",
	})
	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusBadRequest, ue.StatusCode)
	assert.Contains(t, ue.Reason, "INVALID_REQUEST_ERROR")
	assert.False(t, IsRetryable(err))
}

// TestCreateCheckout_NetworkError verifies a transport failure is retryable.
func TestCreateCheckout_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	_, err := squareAgainst(srv).CreateCheckout(context.Background(), CheckoutParams{
		OrderID: "BDAAAAAA", AmountCents: 19500, Currency: "USD",
	})
	var ne *NetworkError
	require.True(t, errors.As(err, &ne))
	assert.True(t, IsRetryable(err))
}

// TestCreateCheckout_NotConfigured verifies missing credentials fail fast
// without any network call.
func TestCreateCheckout_NotConfigured(t *testing.T) {
	s := NewSquare("", "", "production")
	_, err := s.CreateCheckout(context.Background(), CheckoutParams{
		OrderID: "BDAAAAAA", AmountCents: 19500, Currency: "USD",
	})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = s.GetPayment(context.Background(), "pay_1")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

// TestGetPayment_MapsFields verifies the authoritative payment record maps
// through, including the amount in minor units.
func TestGetPayment_MapsFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/payments/pay_1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"payment": map[string]any{
				"id":           "pay_1",
				"status":       "COMPLETED",
				"reference_id": "BDAAAAAA",
				"receipt_url":  "https://sq.example/r/1",
				"amount_money": map[string]any{"amount": 19500},
			},
		})
	}))
	defer srv.Close()

	pay, err := squareAgainst(srv).GetPayment(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, "pay_1", pay.ID)
	assert.Equal(t, "COMPLETED", pay.Status)
	assert.Equal(t, "BDAAAAAA", pay.ReferenceID)
	assert.Equal(t, "https://sq.example/r/1", pay.ReceiptURL)
	assert.Equal(t, int64(19500), pay.AmountCents)
}

// TestGetPayment_NotFound verifies a 404 surfaces as an UpstreamError.
func TestGetPayment_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]any{{"code": "NOT_FOUND"}},
		})
	}))
	defer srv.Close()

	_, err := squareAgainst(srv).GetPayment(context.Background(), "pay_missing")
	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, http.StatusNotFound, ue.StatusCode)
}
