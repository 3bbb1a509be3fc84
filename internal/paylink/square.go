package paylink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	squareProdBase    = "https://connect.squareup.com"
	squareSandboxBase = "https://connect.squareupsandbox.com"
	squareVersion     = "2024-06-20"
)

// Square speaks the provider's REST API directly over net/http with a
// bounded timeout.
type Square struct {
	AccessToken string
	LocationID  string
	BaseURL     string
	HTTP        *http.Client
}

func NewSquare(accessToken, locationID, env string) *Square {
	base := squareProdBase
	if env == "sandbox" {
		base = squareSandboxBase
	}
	return &Square{
		AccessToken: accessToken,
		LocationID:  locationID,
		BaseURL:     base,
		HTTP:        &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *Square) Configured() bool { return s.AccessToken != "" && s.LocationID != "" }

type priceMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type quickPay struct {
	Name        string     `json:"name"`
	PriceMoney  priceMoney `json:"price_money"`
	LocationID  string     `json:"location_id"`
	ReferenceID string     `json:"reference_id"`
	Note        string     `json:"note"`
}

type checkoutOptions struct {
	RedirectURL string `json:"redirect_url,omitempty"`
}

type createLinkReq struct {
	IdempotencyKey  string           `json:"idempotency_key"`
	QuickPay        quickPay         `json:"quick_pay"`
	CheckoutOptions *checkoutOptions `json:"checkout_options,omitempty"`
}

type squareErr struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

type createLinkResp struct {
	PaymentLink struct {
		URL string `json:"url"`
	} `json:"payment_link"`
	Errors []squareErr `json:"errors"`
}

// CreateCheckout builds a hosted checkout link. The idempotency key is
// derived from order id and amount in minor units, so an identical retry
// reuses the provider-side session while a changed amount is a new request.
func (s *Square) CreateCheckout(ctx context.Context, p CheckoutParams) (string, error) {
	if !s.Configured() {
		return "", ErrNotConfigured
	}
	body := createLinkReq{
		IdempotencyKey: fmt.Sprintf("order_%s_%d", p.OrderID, p.AmountCents),
		QuickPay: quickPay{
			Name:        fmt.Sprintf("BodhiPep Order %s", p.OrderID),
			PriceMoney:  priceMoney{Amount: p.AmountCents, Currency: p.Currency},
			LocationID:  s.LocationID,
			ReferenceID: p.OrderID,
			Note:        Memo(p.OrderID),
		},
	}
	if p.RedirectURL != "" {
		body.CheckoutOptions = &checkoutOptions{RedirectURL: p.RedirectURL}
	}

	var out createLinkResp
	if err := s.do(ctx, http.MethodPost, "/v2/online-checkout/payment-links", body, &out, func(code int) error {
		return upstream(code, out.Errors)
	}); err != nil {
		return "", err
	}
	if out.PaymentLink.URL == "" {
		return "", &UpstreamError{StatusCode: http.StatusOK, Reason: "missing checkout url"}
	}
	return out.PaymentLink.URL, nil
}

type getPaymentResp struct {
	Payment struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		ReferenceID string `json:"reference_id"`
		ReceiptURL  string `json:"receipt_url"`
		AmountMoney struct {
			Amount int64 `json:"amount"`
		} `json:"amount_money"`
	} `json:"payment"`
	Errors []squareErr `json:"errors"`
}

func (s *Square) GetPayment(ctx context.Context, paymentID string) (Payment, error) {
	if !s.Configured() {
		return Payment{}, ErrNotConfigured
	}
	var out getPaymentResp
	if err := s.do(ctx, http.MethodGet, "/v2/payments/"+paymentID, nil, &out, func(code int) error {
		return upstream(code, out.Errors)
	}); err != nil {
		return Payment{}, err
	}
	return Payment{
		ID:          out.Payment.ID,
		Status:      out.Payment.Status,
		ReferenceID: out.Payment.ReferenceID,
		ReceiptURL:  out.Payment.ReceiptURL,
		AmountCents: out.Payment.AmountMoney.Amount,
	}, nil
}

func (s *Square) do(ctx context.Context, method, path string, body, out any, onStatus func(int) error) error {
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.BaseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Square-Version", squareVersion)

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && resp.StatusCode < 300 {
		return &UpstreamError{StatusCode: resp.StatusCode, Reason: "malformed response"}
	}
	if resp.StatusCode >= 300 {
		return onStatus(resp.StatusCode)
	}
	return nil
}

func upstream(code int, errs []squareErr) error {
	reason := "request failed"
	if len(errs) > 0 {
		reason = errs[0].Code
		if errs[0].Detail != "" {
			reason += ": " + errs[0].Detail
		}
	}
	return &UpstreamError{StatusCode: code, Reason: reason}
}
