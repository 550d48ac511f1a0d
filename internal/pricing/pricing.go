// Package pricing computes the unit price charged for a ticket from its
// provider base price and how far ahead the visit is booked.
package pricing

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/soyeahso/multiclube/internal/config"
)

// DateLayout is the visit date format used throughout the gateway.
const DateLayout = "2006-01-02"

// Pricer turns a base price into the price charged.
type Pricer interface {
	ComputeDiscountedPrice(base float64, ticketName string, leadDays int) float64
}

// Flat charges the provider's base price.
type Flat struct{}

// ComputeDiscountedPrice returns base rounded to cents.
func (Flat) ComputeDiscountedPrice(base float64, _ string, _ int) float64 {
	return RoundCents(base)
}

// Tiered applies the best lead-time discount whose conditions hold.
type Tiered struct {
	tiers []config.PricingTier
}

// NewTiered builds a Tiered pricer. Tiers are evaluated from the longest
// lead time down; the first that matches wins.
func NewTiered(tiers []config.PricingTier) *Tiered {
	sorted := make([]config.PricingTier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinLeadDays > sorted[j].MinLeadDays
	})
	return &Tiered{tiers: sorted}
}

// ComputeDiscountedPrice implements Pricer.
func (t *Tiered) ComputeDiscountedPrice(base float64, ticketName string, leadDays int) float64 {
	name := strings.ToLower(ticketName)
	for _, tier := range t.tiers {
		if leadDays < tier.MinLeadDays {
			continue
		}
		if tier.Match != "" && !strings.Contains(name, strings.ToLower(tier.Match)) {
			continue
		}
		return RoundCents(base * (100 - tier.Percent) / 100)
	}
	return RoundCents(base)
}

// FromConfig returns a Tiered pricer when tiers are configured and Flat
// otherwise.
func FromConfig(cfg config.PricingConfig) Pricer {
	if len(cfg.Tiers) == 0 {
		return Flat{}
	}
	return NewTiered(cfg.Tiers)
}

// LeadDays counts whole calendar days from now to visitDate in now's
// location. Past dates give a negative count.
func LeadDays(now time.Time, visitDate string) (int, error) {
	visit, err := time.ParseInLocation(DateLayout, visitDate, now.Location())
	if err != nil {
		return 0, err
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return int(math.Round(visit.Sub(today).Hours() / 24)), nil
}

// RoundCents rounds v half away from zero to two decimals.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
