// Package domain holds the sale types shared by the initiator, the store
// and the tool layer.
package domain

import (
	"encoding/json"
	"time"
)

// Buyer is the person paying for and receiving the tickets.
type Buyer struct {
	Name     string `json:"name"`
	Document string `json:"document"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
}

// SaleItem is one priced line of a sale.
type SaleItem struct {
	TicketID  string  `json:"ticketId"`
	Name      string  `json:"name,omitempty"`
	Plan      string  `json:"plan,omitempty"`
	Quantity  int     `json:"quantity"`
	BasePrice float64 `json:"basePrice"`
	UnitPrice float64 `json:"unitPrice"`
	Subtotal  float64 `json:"subtotal"`
}

// SaleRecord is a completed sale as persisted after its payment callback
// arrived.
type SaleRecord struct {
	ID             string          `json:"id"`
	TransactionKey string          `json:"transactionKey"`
	ProviderSaleID string          `json:"providerSaleId,omitempty"`
	VisitDate      string          `json:"visitDate"`
	Buyer          Buyer           `json:"buyer"`
	Items          []SaleItem      `json:"items"`
	Total          float64         `json:"total"`
	Payment        json.RawMessage `json:"payment,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Quantity returns the number of tickets across all items.
func (r SaleRecord) Quantity() int {
	n := 0
	for _, it := range r.Items {
		n += it.Quantity
	}
	return n
}
