package paylink

import (
	"fmt"

	"github.com/bodhipep/storefront/internal/orders"
)

// ManualPayment tells a customer where to send money by hand. The memo is
// required: it is the only key for matching the incoming payment back to the
// order.
type ManualPayment struct {
	Method    orders.Method `json:"method"`
	Recipient string        `json:"recipient"`
	Memo      string        `json:"memo"`
	PayPath   string        `json:"pay_path"`
}

// ManualDirectory holds the seller's receiving handles and wallet addresses.
type ManualDirectory struct {
	VenmoHandle   string
	CashAppHandle string
	BTCAddress    string
	ETHAddress    string
}

func Memo(orderID string) string { return fmt.Sprintf("Order %s", orderID) }

// PayPath is the internal page a customer lands on for a manual method.
func PayPath(method orders.Method, orderID string, totalCents int64) string {
	return fmt.Sprintf("/pay/%s?order=%s&total=%.2f", method, orderID, orders.Dollars(totalCents))
}

func (d ManualDirectory) Instructions(method orders.Method, orderID string, totalCents int64) (ManualPayment, error) {
	var recipient string
	switch method {
	case orders.MethodVenmo:
		recipient = d.VenmoHandle
	case orders.MethodCashApp:
		recipient = d.CashAppHandle
	case orders.MethodCrypto:
		recipient = d.BTCAddress
		if recipient == "" {
			recipient = d.ETHAddress
		}
	default:
		return ManualPayment{}, fmt.Errorf("no manual instructions for method %q", method)
	}
	if recipient == "" {
		return ManualPayment{}, ErrNotConfigured
	}
	return ManualPayment{
		Method:    method,
		Recipient: recipient,
		Memo:      Memo(orderID),
		PayPath:   PayPath(method, orderID, totalCents),
	}, nil
}
