package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/bodhipep/storefront/internal/audit"
	"github.com/bodhipep/storefront/internal/catalog"
	"github.com/bodhipep/storefront/internal/checkout"
	"github.com/bodhipep/storefront/internal/ledger"
	"github.com/bodhipep/storefront/internal/orders"
	"github.com/bodhipep/storefront/internal/paylink"
	"github.com/bodhipep/storefront/internal/redisx"
	"github.com/bodhipep/storefront/internal/settlement"
)

const signatureHeader = "x-square-hmacsha256-signature"

type Handler struct {
	Checkout   *checkout.Service
	Settlement *settlement.Processor
	Catalog    catalog.Source
	Store      orders.Store
	Audit      audit.Log
	Links      paylink.Provider
	Manual     paylink.ManualDirectory
	Redis      *redis.Client // nil disables the status cache fast path

	SignatureKey string // empty disables webhook verification (logged once)
	WebhookURL   string
	AdminKey     string
	BaseURL      string
	Currency     string
}

func (h *Handler) Register(r *chi.Mux) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/export", h.exportOrders)
	r.Post("/orders/confirm", h.confirmOrder)
	r.Get("/products", h.listProducts)
	r.Get("/pay/link", h.payLink)
	r.Post("/pay/link", h.payLink)
	r.Get("/pay/instructions", h.payInstructions)
	r.Post("/webhooks/payment", h.webhook)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, errCode string) {
	writeJSON(w, code, map[string]any{"ok": false, "error": errCode})
}

type createOrderReq struct {
	Name           string              `json:"name"`
	Email          string              `json:"email"`
	Address1       string              `json:"address1"`
	City           string              `json:"city"`
	State          string              `json:"state"`
	Zip            string              `json:"zip"`
	Items          []catalog.ItemInput `json:"items"`
	Payment        string              `json:"payment"`
	IdempotencyKey string              `json:"idempotency_key"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Name == "" || req.Address1 == "" || req.City == "" || req.State == "" || req.Zip == "" {
		writeErr(w, http.StatusBadRequest, "invalid_cart")
		return
	}
	method, ok := orders.ParseMethod(req.Payment)
	if !ok {
		writeErr(w, http.StatusBadRequest, "invalid_cart")
		return
	}
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		key = req.IdempotencyKey
	}
	if key == "" {
		writeErr(w, http.StatusBadRequest, "invalid_cart")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Checkout.Create(ctx, checkout.CreateRequest{
		IdempotencyKey: key,
		Customer: orders.Customer{
			Name: req.Name, Email: req.Email, Address1: req.Address1,
			City: req.City, State: req.State, Zip: req.Zip,
		},
		Items:         req.Items,
		PaymentMethod: method,
		TraceID:       r.Header.Get("X-Request-Id"),
	})
	if err != nil {
		code, errCode := mapCreateError(err)
		if code == http.StatusInternalServerError {
			slog.Error("order creation failed", "error", err)
		}
		writeErr(w, code, errCode)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"order_id": res.Order.ID,
		"total":    orders.Dollars(res.Order.TotalCents),
		"redirect": res.Redirect,
	})
}

func mapCreateError(err error) (int, string) {
	var unknown *catalog.UnknownSKUError
	var short *ledger.InsufficientStockError
	switch {
	case errors.As(err, &unknown):
		return http.StatusBadRequest, "unknown_sku:" + unknown.SKU
	case errors.As(err, &short):
		return http.StatusConflict, "insufficient_stock:" + short.SKU
	case errors.Is(err, catalog.ErrEmptyCart), errors.Is(err, catalog.ErrInvalidCart):
		return http.StatusBadRequest, "invalid_cart"
	}
	return http.StatusInternalServerError, "server_error"
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeErr(w, http.StatusBadRequest, "missing_id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// Cache first, store as fallback and truth.
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if h.Redis != nil {
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	o, err := h.Store.GetByID(ctx, orderID)
	if err != nil {
		writeErr(w, http.StatusNotFound, "not_found")
		return
	}
	body := map[string]any{
		"status": o.Status,
		"total":  orders.Dollars(o.TotalCents),
	}
	if o.ProviderStatus != "" {
		body["provider_status"] = o.ProviderStatus
	}
	b, _ := json.Marshal(body)
	if h.Redis != nil {
		_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Catalog.List(ctx)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "server_error")
		return
	}
	out := make([]map[string]any, 0, len(ps))
	for _, p := range ps {
		out = append(out, map[string]any{
			"sku":       p.SKU,
			"name":      p.Name,
			"price":     orders.Dollars(p.PriceCents),
			"remaining": p.Remaining(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type payLinkReq struct {
	OrderID string  `json:"order_id"`
	Amount  float64 `json:"amount"`
}

// payLink builds a hosted checkout link on demand, for manual-pay pages that
// offer "pay by card instead". not_configured is an answer, not a failure.
func (h *Handler) payLink(w http.ResponseWriter, r *http.Request) {
	var orderID string
	var amount float64
	if r.Method == http.MethodGet {
		orderID = r.URL.Query().Get("order")
		amount, _ = strconv.ParseFloat(r.URL.Query().Get("total"), 64)
	} else {
		var req payLinkReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid_json")
			return
		}
		orderID, amount = req.OrderID, req.Amount
	}
	amountCents := int64(amount*100 + 0.5)
	if orderID == "" || amountCents <= 0 {
		writeErr(w, http.StatusBadRequest, "invalid_request")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	url, err := h.Links.CreateCheckout(ctx, paylink.CheckoutParams{
		OrderID:     orderID,
		AmountCents: amountCents,
		Currency:    h.Currency,
		RedirectURL: h.BaseURL + "/pay/success?order=" + orderID,
	})
	switch {
	case errors.Is(err, paylink.ErrNotConfigured):
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "reason": "not_configured"})
	case paylink.IsRetryable(err):
		writeErr(w, http.StatusBadGateway, "provider_unavailable")
	case err != nil:
		slog.Error("checkout link failed", "order_id", orderID, "error", err)
		writeErr(w, http.StatusInternalServerError, "server_error")
	default:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "url": url})
	}
}

// payInstructions tells the manual-pay pages where to send money and which
// memo to include so the payment can be matched back to the order.
func (h *Handler) payInstructions(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("order")
	if orderID == "" {
		writeErr(w, http.StatusBadRequest, "missing_order")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Store.GetByID(ctx, orderID)
	if err != nil {
		writeErr(w, http.StatusNotFound, "not_found")
		return
	}
	mp, err := h.Manual.Instructions(o.PaymentMethod, o.ID, o.TotalCents)
	switch {
	case errors.Is(err, paylink.ErrNotConfigured):
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "reason": "not_configured"})
	case err != nil:
		writeErr(w, http.StatusBadRequest, "invalid_request")
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":           true,
			"instructions": mp,
			"total":        orders.Dollars(o.TotalCents),
		})
	}
}

type confirmOrderReq struct {
	OrderID     string `json:"order_id"`
	PaymentRef  string `json:"payment_ref"`
	PayerHandle string `json:"payer_handle"`
}

// confirmOrder marks a manual payment (venmo, cashapp, crypto) as received.
// Operator-only: the payment never flows through the provider, so a human
// checking the incoming transfer is the settlement signal.
func (h *Handler) confirmOrder(w http.ResponseWriter, r *http.Request) {
	if h.AdminKey == "" || r.Header.Get("X-Admin-Key") != h.AdminKey {
		writeErr(w, http.StatusForbidden, "forbidden")
		return
	}
	var req confirmOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.OrderID == "" {
		writeErr(w, http.StatusBadRequest, "missing_order_id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	o, err := h.Settlement.ConfirmManual(ctx, req.OrderID, req.PaymentRef, req.PayerHandle)
	var ite *orders.InvalidTransitionError
	switch {
	case errors.Is(err, orders.ErrNotFound):
		writeErr(w, http.StatusNotFound, "not_found")
	case errors.Is(err, settlement.ErrHostedCheckout):
		writeErr(w, http.StatusBadRequest, "hosted_method")
	case errors.As(err, &ite):
		writeErr(w, http.StatusConflict, "invalid_state")
	case err != nil:
		slog.Error("manual confirmation failed", "order_id", req.OrderID, "error", err)
		writeErr(w, http.StatusInternalServerError, "server_error")
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":       true,
			"order_id": o.ID,
			"status":   o.Status,
		})
	}
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_body")
		return
	}
	if h.SignatureKey != "" {
		if !settlement.VerifySignature(h.SignatureKey, h.WebhookURL, body, r.Header.Get(signatureHeader)) {
			slog.Warn("webhook signature rejected", "remote", r.RemoteAddr)
			writeErr(w, http.StatusUnauthorized, "bad_signature")
			return
		}
	} else {
		slog.Warn("webhook signature verification disabled")
	}

	var ev settlement.WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		writeErr(w, http.StatusBadRequest, "bad_json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	if err := h.Settlement.Process(ctx, ev); err != nil {
		// Non-2xx asks the provider to redeliver; the state guard makes the
		// retry safe.
		slog.Error("settlement failed", "event_id", ev.EventID, "error", err)
		writeErr(w, http.StatusInternalServerError, "settlement_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) exportOrders(w http.ResponseWriter, r *http.Request) {
	if h.AdminKey == "" || r.Header.Get("X-Admin-Key") != h.AdminKey {
		writeErr(w, http.StatusForbidden, "forbidden")
		return
	}
	entries, err := h.Audit.List(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "server_error")
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename=orders.csv`)
	if err := audit.WriteCSV(w, entries); err != nil {
		slog.Error("csv export failed", "error", err)
	}
}
