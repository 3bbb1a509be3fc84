package audit

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/bodhipep/storefront/internal/orders"
)

var csvHeader = []string{
	"timestamp", "order_id", "action", "payment_method", "customer", "address",
	"items", "subtotal", "shipping", "total", "snapshot",
}

// WriteCSV renders entries for the admin export endpoint.
func WriteCSV(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		row := []string{
			e.At.Format(time.RFC3339),
			e.OrderID,
			e.Action,
			e.PaymentMethod,
			e.Customer,
			e.Address,
			e.Items,
			fmt.Sprintf("%.2f", orders.Dollars(e.SubtotalCents)),
			fmt.Sprintf("%.2f", orders.Dollars(e.ShippingCents)),
			fmt.Sprintf("%.2f", orders.Dollars(e.TotalCents)),
			string(e.Snapshot),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
