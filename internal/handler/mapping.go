package handler

import (
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/dukerupert/subvault/internal/catalog"
	"github.com/dukerupert/subvault/internal/model"
)

// subscriptionRecord projects a Stripe subscription into the local record
// shape. Every webhook branch and the session endpoint go through here so
// the mapping exists exactly once. A non-empty statusOverride replaces the
// provider's status (used when an invoice payment fails before Stripe flips
// the subscription itself).
func subscriptionRecord(cat *catalog.Catalog, s *stripe.Subscription, statusOverride string) model.Subscription {
	var (
		priceID  string
		amount   int64
		currency = "usd"
	)
	// Fallback window for payloads that omit the period fields.
	periodStart := time.Now().UTC()
	periodEnd := periodStart.Add(30 * 24 * time.Hour)

	if s.Items != nil && len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		if item.Price != nil {
			priceID = item.Price.ID
			amount = item.Price.UnitAmount
			if item.Price.Currency != "" {
				currency = string(item.Price.Currency)
			}
		}
		if item.CurrentPeriodStart > 0 {
			periodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		}
		if item.CurrentPeriodEnd > 0 {
			periodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
		}
	}

	status := string(s.Status)
	if statusOverride != "" {
		status = statusOverride
	}

	var customerID string
	if s.Customer != nil {
		customerID = s.Customer.ID
	}

	return model.Subscription{
		ID:                   s.ID,
		PlanID:               cat.PlanIDForPrice(priceID),
		Status:               status,
		CurrentPeriodStart:   periodStart,
		CurrentPeriodEnd:     periodEnd,
		CancelAtPeriodEnd:    s.CancelAtPeriodEnd,
		Amount:               amount,
		Currency:             currency,
		CustomerID:           customerID,
		StripeSubscriptionID: s.ID,
	}
}
