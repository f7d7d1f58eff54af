// Package receiptqr renders the QR code printed on receipts, linking the
// customer back to their settled order.
package receiptqr

import (
	"fmt"

	"github.com/skip2/go-qrcode"
)

type Generator struct {
	BaseURL string
}

func New(baseURL string) *Generator {
	return &Generator{BaseURL: baseURL}
}

// Generate returns a 256px PNG for the order's receipt link.
func (g *Generator) Generate(orderID string) ([]byte, error) {
	data := fmt.Sprintf("%s/receipt.html?order_id=%s", g.BaseURL, orderID)
	return qrcode.Encode(data, qrcode.Medium, 256)
}
