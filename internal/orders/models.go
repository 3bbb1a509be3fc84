package orders

import (
	"fmt"
	"strings"
	"time"
)

type Method string

const (
	MethodSquare  Method = "square"
	MethodVenmo   Method = "venmo"
	MethodCashApp Method = "cashapp"
	MethodCrypto  Method = "crypto"
)

func ParseMethod(s string) (Method, bool) {
	switch Method(strings.ToLower(s)) {
	case MethodSquare, MethodVenmo, MethodCashApp, MethodCrypto:
		return Method(strings.ToLower(s)), true
	}
	return "", false
}

type Customer struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Address1 string `json:"address1"`
	City     string `json:"city"`
	State    string `json:"state"`
	Zip      string `json:"zip"`
}

func (c Customer) ShipTo() string {
	return fmt.Sprintf("%s\n%s\n%s, %s %s", c.Name, c.Address1, c.City, c.State, c.Zip)
}

// Line carries the unit price snapshotted at order creation; later catalog
// price changes never alter an existing order's total.
type Line struct {
	SKU            string `json:"sku"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type Order struct {
	ID                 string    `json:"order_id"`
	IdempotencyKey     string    `json:"idempotency_key"`
	Lines              []Line    `json:"lines"`
	SubtotalCents      int64     `json:"subtotal_cents"`
	ShippingCents      int64     `json:"shipping_cents"`
	TotalCents         int64     `json:"total_cents"`
	PaymentMethod      Method    `json:"payment_method"`
	ExternalPaymentRef string    `json:"external_payment_ref,omitempty"`
	ReceiptURL         string    `json:"receipt_url,omitempty"`
	ProviderStatus     string    `json:"provider_status,omitempty"`
	Status             Status    `json:"status"`
	Customer           Customer  `json:"customer"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (o *Order) Clone() *Order {
	c := *o
	c.Lines = append([]Line(nil), o.Lines...)
	return &c
}

func Dollars(cents int64) float64 { return float64(cents) / 100 }

// ItemSummary renders lines as "RT10 x3, TB10 x1" for audit rows and exports.
func ItemSummary(lines []Line) string {
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		parts = append(parts, fmt.Sprintf("%s x%d", l.SKU, l.Qty))
	}
	return strings.Join(parts, ", ")
}
