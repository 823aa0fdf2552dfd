// Package refund decides how much of a paid fare goes back on cancellation.
package refund

import (
	"sort"
	"time"

	"ms-railway/internal/fare"
	"ms-railway/internal/models"
)

// Policy returns the refund owed for ticket. paid is the successful payment, or nil.
type Policy func(ticket *models.Ticket, paid *models.Payment, departure, now time.Time) float64

// Tier refunds Percent of the paid amount when at least MinLead remains before departure.
type Tier struct {
	MinLead time.Duration
	Percent float64
}

type Tiered struct {
	Tiers []Tier
}

var DefaultTiers = []Tier{
	{MinLead: 48 * time.Hour, Percent: 90},
	{MinLead: 12 * time.Hour, Percent: 75},
	{MinLead: 4 * time.Hour, Percent: 50},
}

func Default() Policy {
	return Tiered{Tiers: DefaultTiers}.Refund
}

func (p Tiered) Refund(ticket *models.Ticket, paid *models.Payment, departure, now time.Time) float64 {
	if ticket == nil || paid == nil || paid.Status != models.PaymentSuccess || paid.Amount <= 0 {
		return 0
	}

	lead := departure.Sub(now)
	if lead <= 0 {
		return 0
	}

	tiers := make([]Tier, len(p.Tiers))
	copy(tiers, p.Tiers)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinLead > tiers[j].MinLead })

	for _, tier := range tiers {
		if lead >= tier.MinLead {
			return fare.Round(paid.Amount * tier.Percent / 100)
		}
	}
	return 0
}

// None never refunds. Useful for non refundable fare classes.
func None(*models.Ticket, *models.Payment, time.Time, time.Time) float64 {
	return 0
}
