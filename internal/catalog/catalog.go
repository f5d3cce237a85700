package catalog

import "github.com/dukerupert/subvault/internal/model"

// Catalog is the static set of purchasable plans. There are exactly two
// entries; the Stripe price ids come from configuration so test and live
// environments can point at different prices.
type Catalog struct {
	plans []model.Plan
}

func New(monthlyPriceID, yearlyPriceID string) *Catalog {
	return &Catalog{
		plans: []model.Plan{
			{
				ID:            model.PlanMonthly,
				Name:          "Monthly Plan",
				Description:   "Perfect for trying out our service",
				Price:         25,
				Currency:      "usd",
				Interval:      "month",
				StripePriceID: monthlyPriceID,
				Features: []string{
					"Full access to all features",
					"Email support",
					"Monthly billing",
					"Cancel anytime",
				},
			},
			{
				ID:            model.PlanYearly,
				Name:          "Yearly Plan",
				Description:   "Best value for long-term users",
				Price:         250,
				Currency:      "usd",
				Interval:      "year",
				StripePriceID: yearlyPriceID,
				Features: []string{
					"Full access to all features",
					"Priority email support",
					"Yearly billing (2 months free)",
					"Cancel anytime",
					"Advanced analytics",
				},
			},
		},
	}
}

// Plans returns all catalog entries.
func (c *Catalog) Plans() []model.Plan {
	return c.plans
}

// PlanByID looks up a plan by catalog id.
func (c *Catalog) PlanByID(id string) (model.Plan, bool) {
	for _, p := range c.plans {
		if p.ID == id {
			return p, true
		}
	}
	return model.Plan{}, false
}

// PlanIDForPrice classifies a Stripe price reference into a catalog plan id.
// Anything that is not the yearly price is treated as monthly. Adding a
// third plan requires extending this.
func (c *Catalog) PlanIDForPrice(priceID string) string {
	for _, p := range c.plans {
		if p.ID == model.PlanYearly && p.StripePriceID == priceID {
			return model.PlanYearly
		}
	}
	return model.PlanMonthly
}

// IsActive reports whether a subscription counts toward the "has active
// subscription" flag.
func IsActive(sub model.Subscription) bool {
	return sub.Status == model.StatusActive || sub.Status == model.StatusTrialing
}

// IsTerminated reports whether a subscription has fully ended: canceled
// without a pending period-end cancellation. Terminated records are excluded
// from active views.
func IsTerminated(sub model.Subscription) bool {
	return sub.Status == model.StatusCanceled && !sub.CancelAtPeriodEnd
}

// HasActive reports whether any record in subs is active or trialing.
func HasActive(subs []model.Subscription) bool {
	for _, sub := range subs {
		if IsActive(sub) {
			return true
		}
	}
	return false
}
