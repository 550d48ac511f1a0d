package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/multiclube/internal/config"
	"github.com/soyeahso/multiclube/internal/logging"
	"github.com/soyeahso/multiclube/internal/version"
)

const maxResponseBytes = 8 << 20

// Client calls the ticketing service.
type Client struct {
	url              string
	authKey          string
	getTicketsAction string
	sellAction       string
	http             *http.Client
	log              *logging.Logger
}

// New builds a client from provider configuration. httpClient may be nil.
func New(cfg config.ProviderConfig, httpClient *http.Client, log *logging.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
			Transport: newTransport(cfg.InsecureTLS),
		}
	}
	getTickets := cfg.GetTicketsAction
	if getTickets == "" {
		getTickets = config.DefaultGetTicketsAction
	}
	sell := cfg.SellAction
	if sell == "" {
		sell = config.DefaultSellAction
	}
	return &Client{
		url:              cfg.URL,
		authKey:          cfg.AuthKey,
		getTicketsAction: getTickets,
		sellAction:       sell,
		http:             httpClient,
		log:              log.Sub("provider"),
	}
}

// newTransport returns the HTTP transport for the service. The production
// endpoint still negotiates old TLS versions, so insecure mode accepts
// TLS 1.0, legacy cipher suites and unverified certificates.
func newTransport(insecure bool) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if !insecure {
		return t
	}
	var suites []uint16
	for _, s := range tls.CipherSuites() {
		suites = append(suites, s.ID)
	}
	for _, s := range tls.InsecureCipherSuites() {
		suites = append(suites, s.ID)
	}
	t.TLSClientConfig = &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // provider runs a legacy TLS stack
		MinVersion:         tls.VersionTLS10,
		CipherSuites:       suites,
		Renegotiation:      tls.RenegotiateOnceAsClient,
	}
	return t
}

// Tickets lists the tickets sold for visitDate (YYYY-MM-DD).
func (c *Client) Tickets(ctx context.Context, visitDate string) ([]Ticket, error) {
	envelope, err := renderGetTickets(c.authKey, visitDate)
	if err != nil {
		return nil, fmt.Errorf("rendering GetTickets: %w", err)
	}

	data, err := c.call(ctx, c.getTicketsAction, envelope)
	if err != nil {
		return nil, err
	}

	body, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	if body.GetTickets == nil {
		return nil, fmt.Errorf("%w: missing GetTicketsResponse", ErrMalformedResponse)
	}
	tickets, err := flattenTickets(body.GetTickets)
	if err != nil {
		return nil, err
	}

	c.log.Debug().Str("visitDate", visitDate).Int("tickets", len(tickets)).Msg("tickets listed")
	return tickets, nil
}

// Sell submits order. A nil error means the provider accepted the order;
// payment data arrives later at order.WebhookURL.
func (c *Client) Sell(ctx context.Context, order SellOrder) (SellAck, error) {
	envelope, err := renderSell(c.authKey, order)
	if err != nil {
		return SellAck{}, fmt.Errorf("rendering Sell: %w", err)
	}

	data, err := c.call(ctx, c.sellAction, envelope)
	if err != nil {
		return SellAck{}, err
	}

	body, err := decodeEnvelope(data)
	if err != nil {
		return SellAck{}, err
	}
	if body.Sell == nil {
		return SellAck{}, fmt.Errorf("%w: missing SellResponse", ErrMalformedResponse)
	}

	resp, err := bodyMap(data)
	if err != nil {
		return SellAck{}, err
	}

	ack := SellAck{SaleID: strings.TrimSpace(body.Sell.SaleID), Response: resp}
	c.log.Info().Str("saleId", ack.SaleID).Str("visitDate", order.VisitDate).Int("items", len(order.Items)).Msg("sell accepted")
	return ack, nil
}

func (c *Client) call(ctx context.Context, action string, envelope []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(envelope))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", action)
	req.Header.Set("User-Agent", version.UserAgent())

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", soapOperation(action), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", soapOperation(action), err)
	}

	c.log.Debug().
		Str("operation", soapOperation(action)).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("soap call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// SOAP 1.1 services report faults with HTTP 500.
		if _, ferr := decodeEnvelope(data); ferr != nil {
			if _, ok := ferr.(*FaultError); ok {
				return nil, ferr
			}
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(data), 512)}
	}
	return data, nil
}

func soapOperation(action string) string {
	if i := strings.LastIndex(action, "/"); i >= 0 {
		return action[i+1:]
	}
	return action
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
