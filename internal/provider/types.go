// Package provider is a SOAP client for the MultiClubes TicketsV2 service.
package provider

import (
	"errors"
	"fmt"
)

// Ticket is a ticket offered for a visit date.
type Ticket struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Plan  string  `json:"plan"`
}

// Visitor identifies the buyer on a sell order.
type Visitor struct {
	Name     string
	Document string
	Email    string
	Phone    string
}

// SellItem is one ticket line of a sell order. DueValue is the line total.
type SellItem struct {
	TicketID string
	Quantity int
	DueValue float64
}

// SellOrder is the request behind the SOAP Sell operation. The provider
// answers immediately and posts payment data to WebhookURL later.
type SellOrder struct {
	VisitDate  string
	WebhookURL string
	DueDays    int
	Items      []SellItem
	Total      float64
	Visitor    Visitor
}

// SellAck is the provider's immediate answer to a sell order.
type SellAck struct {
	SaleID string
	// Response is the decoded SOAP body, element names mapped to strings,
	// nested maps or lists of either.
	Response map[string]any
}

// ErrMalformedResponse is returned when the provider answers with XML that
// does not carry the expected result element.
var ErrMalformedResponse = errors.New("provider: malformed response")

// FaultError is a SOAP Fault returned by the provider.
type FaultError struct {
	Code    string
	Message string
}

func (e *FaultError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("provider fault: %s", e.Message)
	}
	return fmt.Sprintf("provider fault %s: %s", e.Code, e.Message)
}

// StatusError is returned for a non-2xx HTTP answer without a SOAP Fault.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned HTTP %d: %s", e.StatusCode, e.Body)
}
