package sale

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/multiclube/internal/domain"
	"github.com/soyeahso/multiclube/internal/hooks"
	"github.com/soyeahso/multiclube/internal/logging"
	"github.com/soyeahso/multiclube/internal/pending"
	"github.com/soyeahso/multiclube/internal/pricing"
	"github.com/soyeahso/multiclube/internal/provider"
)

// DefaultDueDays is how long the buyer has to pay the generated link.
const DefaultDueDays = 2

// Options wires an Initiator. Recorder and Hooks may be nil.
type Options struct {
	Catalog        Catalog
	Seller         Seller
	Pricer         pricing.Pricer
	Recorder       Recorder
	Registry       *pending.Registry
	Hooks          *hooks.Manager
	WebhookBaseURL string
	DueDays        int
	Logger         *logging.Logger
}

// Initiator runs sales: price, register, send, await, persist.
type Initiator struct {
	catalog  Catalog
	seller   Seller
	pricer   pricing.Pricer
	recorder Recorder
	registry *pending.Registry
	hooks    *hooks.Manager
	baseURL  string
	dueDays  int
	log      *logging.Logger

	now    func() time.Time
	newKey func() string
}

// NewInitiator creates an Initiator.
func NewInitiator(opts Options) *Initiator {
	pricer := opts.Pricer
	if pricer == nil {
		pricer = pricing.Flat{}
	}
	dueDays := opts.DueDays
	if dueDays <= 0 {
		dueDays = DefaultDueDays
	}
	return &Initiator{
		catalog:  opts.Catalog,
		seller:   opts.Seller,
		pricer:   pricer,
		recorder: opts.Recorder,
		registry: opts.Registry,
		hooks:    opts.Hooks,
		baseURL:  opts.WebhookBaseURL,
		dueDays:  dueDays,
		log:      opts.Logger.Sub("sale"),
		now:      time.Now,
		newKey:   func() string { return uuid.New().String() },
	}
}

// Quote lists the tickets for visitDate with the price this gateway
// charges for each.
func (in *Initiator) Quote(ctx context.Context, visitDate string) (Quote, error) {
	leadDays, err := pricing.LeadDays(in.now(), visitDate)
	if err != nil {
		return Quote{}, invalid("visit date %q must be YYYY-MM-DD", visitDate)
	}

	tickets, err := in.catalog.Tickets(ctx, visitDate)
	if err != nil {
		return Quote{}, &CatalogError{VisitDate: visitDate, Err: err}
	}

	q := Quote{VisitDate: visitDate, LeadDays: leadDays, Tickets: make([]PricedTicket, 0, len(tickets))}
	for _, t := range tickets {
		q.Tickets = append(q.Tickets, PricedTicket{
			ID:        t.ID,
			Name:      t.Name,
			Plan:      t.Plan,
			BasePrice: t.Price,
			Price:     in.pricer.ComputeDiscountedPrice(t.Price, t.Name, leadDays),
		})
	}
	return q, nil
}

// Initiate sells the requested tickets and blocks until the provider's
// payment callback arrives, the deadline passes, or ctx ends.
func (in *Initiator) Initiate(ctx context.Context, req SaleRequest) (Outcome, error) {
	if err := validate(req); err != nil {
		return Outcome{}, err
	}

	quote, err := in.Quote(ctx, req.VisitDate)
	if err != nil {
		return Outcome{}, err
	}
	items, total, err := priceItems(quote, req.Items)
	if err != nil {
		return Outcome{}, err
	}

	key := in.newKey()
	h, err := in.registry.Register(key)
	if err != nil {
		return Outcome{}, fmt.Errorf("registering transaction %s: %w", key, err)
	}
	attempt := Attempt{
		TransactionKey: key,
		CallbackURL:    CallbackURL(in.baseURL, key),
		StartedAt:      h.CreatedAt,
		Deadline:       h.Deadline,
	}
	log := in.log.With("key", key)

	ack, err := in.send(ctx, attempt, req, items, total)
	if err != nil {
		in.registry.Cancel(key)
		if ctx.Err() != nil {
			return Outcome{}, fmt.Errorf("%w: transaction %s: %w", ErrSaleUnconfirmed, key, ctx.Err())
		}
		log.Warn().Err(err).Msg("sell order rejected")
		in.emit(ctx, hooks.EventSaleRejected, map[string]any{
			"transactionKey": key,
			"visitDate":      req.VisitDate,
			"reason":         err.Error(),
		})
		return Outcome{}, &RejectedError{TransactionKey: key, Reason: err.Error(), Err: err}
	}

	log.Info().Str("saleId", ack.SaleID).Time("deadline", attempt.Deadline).Msg("sale initiated, awaiting callback")
	in.emit(ctx, hooks.EventSaleInitiated, map[string]any{
		"transactionKey": key,
		"providerSaleId": ack.SaleID,
		"visitDate":      req.VisitDate,
		"total":          total,
	})

	payment, err := in.registry.Await(ctx, h)
	if err != nil {
		if errors.Is(err, pending.ErrTimeout) {
			log.Warn().Dur("waited", in.now().Sub(attempt.StartedAt)).Msg("payment callback timed out")
			in.emit(ctx, hooks.EventSaleTimedOut, map[string]any{
				"transactionKey": key,
				"providerSaleId": ack.SaleID,
				"visitDate":      req.VisitDate,
			})
			return Outcome{}, fmt.Errorf("%w: transaction %s", ErrSaleTimedOut, key)
		}
		log.Warn().Err(err).Msg("stopped waiting for payment callback")
		return Outcome{}, fmt.Errorf("%w: transaction %s: %w", ErrSaleUnconfirmed, key, err)
	}

	out := Outcome{
		TransactionKey: key,
		ProviderSaleID: ack.SaleID,
		SOAPResponse:   ack.Response,
		PaymentData:    payment,
		Items:          items,
		Total:          total,
	}
	out.RecordID = in.persist(ctx, attempt, req, out)

	log.Info().Str("recordId", out.RecordID).Float64("total", total).Msg("sale completed")
	in.emit(ctx, hooks.EventSaleCompleted, map[string]any{
		"transactionKey": key,
		"providerSaleId": ack.SaleID,
		"recordId":       out.RecordID,
		"visitDate":      req.VisitDate,
		"total":          total,
		"paymentData":    map[string]any(payment),
	})
	return out, nil
}

func (in *Initiator) send(ctx context.Context, a Attempt, req SaleRequest, items []domain.SaleItem, total float64) (provider.SellAck, error) {
	order := provider.SellOrder{
		VisitDate:  req.VisitDate,
		WebhookURL: a.CallbackURL,
		DueDays:    in.dueDays,
		Total:      total,
		Visitor: provider.Visitor{
			Name:     req.Buyer.Name,
			Document: req.Buyer.Document,
			Email:    req.Buyer.Email,
			Phone:    req.Buyer.Phone,
		},
	}
	for _, it := range items {
		order.Items = append(order.Items, provider.SellItem{
			TicketID: it.TicketID,
			Quantity: it.Quantity,
			DueValue: it.Subtotal,
		})
	}
	return in.seller.Sell(ctx, order)
}

// persist records a completed sale. Failures are logged; the sale already
// happened at the provider.
func (in *Initiator) persist(ctx context.Context, a Attempt, req SaleRequest, out Outcome) string {
	if in.recorder == nil {
		return ""
	}
	payment, err := json.Marshal(out.PaymentData)
	if err != nil {
		in.log.Error().Err(err).Str("key", a.TransactionKey).Msg("encoding payment data")
		payment = nil
	}

	id, err := in.recorder.PersistSale(context.WithoutCancel(ctx), domain.SaleRecord{
		TransactionKey: a.TransactionKey,
		ProviderSaleID: out.ProviderSaleID,
		VisitDate:      req.VisitDate,
		Buyer:          req.Buyer,
		Items:          out.Items,
		Total:          out.Total,
		Payment:        payment,
		CreatedAt:      in.now(),
	})
	if err != nil {
		in.log.Error().Err(err).Str("key", a.TransactionKey).Msg("persisting completed sale")
		return ""
	}
	return id
}

func (in *Initiator) emit(ctx context.Context, event string, data map[string]any) {
	in.hooks.EmitAsync(context.WithoutCancel(ctx), event, data)
}

func validate(req SaleRequest) error {
	if _, err := time.Parse(pricing.DateLayout, req.VisitDate); err != nil {
		return invalid("visit date %q must be YYYY-MM-DD", req.VisitDate)
	}
	if len(req.Items) == 0 {
		return invalid("at least one item is required")
	}
	for i, it := range req.Items {
		if strings.TrimSpace(it.TicketID) == "" {
			return invalid("item %d: ticketId is required", i)
		}
		if it.Quantity < 1 {
			return invalid("item %d: quantity must be at least 1, got %d", i, it.Quantity)
		}
	}

	buyer := map[string]string{
		"name":     req.Buyer.Name,
		"document": req.Buyer.Document,
		"email":    req.Buyer.Email,
		"phone":    req.Buyer.Phone,
	}
	for _, field := range []string{"name", "document", "email", "phone"} {
		if strings.TrimSpace(buyer[field]) == "" {
			return invalid("buyer %s is required", field)
		}
	}
	return nil
}

// priceItems resolves each requested ticket against the quote.
func priceItems(q Quote, req []Item) ([]domain.SaleItem, float64, error) {
	byID := make(map[string]PricedTicket, len(q.Tickets))
	for _, t := range q.Tickets {
		byID[t.ID] = t
	}

	items := make([]domain.SaleItem, 0, len(req))
	var total float64
	for _, it := range req {
		t, ok := byID[strings.TrimSpace(it.TicketID)]
		if !ok {
			return nil, 0, &UnavailableError{TicketID: it.TicketID, VisitDate: q.VisitDate}
		}
		subtotal := pricing.RoundCents(t.Price * float64(it.Quantity))
		items = append(items, domain.SaleItem{
			TicketID:  t.ID,
			Name:      t.Name,
			Plan:      t.Plan,
			Quantity:  it.Quantity,
			BasePrice: t.BasePrice,
			UnitPrice: t.Price,
			Subtotal:  subtotal,
		})
		total += subtotal
	}
	return items, pricing.RoundCents(total), nil
}
