// Package sale initiates ticket sales against the provider and waits for
// the payment callback that completes them.
package sale

import (
	"context"
	"strings"
	"time"

	"github.com/soyeahso/multiclube/internal/domain"
	"github.com/soyeahso/multiclube/internal/pending"
	"github.com/soyeahso/multiclube/internal/provider"
)

// Catalog lists the tickets offered for a visit date.
type Catalog interface {
	Tickets(ctx context.Context, visitDate string) ([]provider.Ticket, error)
}

// Seller submits sell orders.
type Seller interface {
	Sell(ctx context.Context, order provider.SellOrder) (provider.SellAck, error)
}

// Recorder persists completed sales.
type Recorder interface {
	PersistSale(ctx context.Context, rec domain.SaleRecord) (string, error)
}

// Item requests Quantity tickets of TicketID.
type Item struct {
	TicketID string `json:"ticketId"`
	Quantity int    `json:"quantity"`
}

// SaleRequest is what the agent asks to buy.
type SaleRequest struct {
	VisitDate string
	Items     []Item
	Buyer     domain.Buyer
}

// Attempt identifies one try at a sale. Its transaction key is used once.
type Attempt struct {
	TransactionKey string
	CallbackURL    string
	StartedAt      time.Time
	Deadline       time.Time
}

// Outcome is a sale whose payment callback arrived.
type Outcome struct {
	TransactionKey string            `json:"transactionKey"`
	ProviderSaleID string            `json:"providerSaleId,omitempty"`
	SOAPResponse   map[string]any    `json:"soapResponse"`
	PaymentData    pending.Payload   `json:"paymentData"`
	Items          []domain.SaleItem `json:"items"`
	Total          float64           `json:"total"`
	RecordID       string            `json:"recordId,omitempty"`
}

// PricedTicket is a provider ticket with the price the gateway charges.
type PricedTicket struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Plan      string  `json:"plan"`
	BasePrice float64 `json:"basePrice"`
	Price     float64 `json:"price"`
}

// Quote lists the tickets for a visit date.
type Quote struct {
	VisitDate string         `json:"visitDate"`
	LeadDays  int            `json:"leadDays"`
	Tickets   []PricedTicket `json:"tickets"`
}

// CallbackURL joins the public base URL and the webhook path for key.
func CallbackURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/webhook/" + key
}
