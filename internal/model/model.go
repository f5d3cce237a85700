package model

import "time"

// Plan ids for the two catalog entries.
const (
	PlanMonthly = "monthly"
	PlanYearly  = "yearly"
)

// Subscription statuses mirrored from the billing provider.
const (
	StatusActive     = "active"
	StatusCanceled   = "canceled"
	StatusPastDue    = "past_due"
	StatusIncomplete = "incomplete"
	StatusTrialing   = "trialing"
)

// Subscription is the locally persisted mirror of a Stripe subscription.
// The provider owns the true state; this record exists for display and is
// overwritten wholesale on every webhook delivery.
type Subscription struct {
	ID                   string    `json:"id"`
	PlanID               string    `json:"planId"`
	Status               string    `json:"status"`
	CurrentPeriodStart   time.Time `json:"currentPeriodStart"`
	CurrentPeriodEnd     time.Time `json:"currentPeriodEnd"`
	CancelAtPeriodEnd    bool      `json:"cancelAtPeriodEnd"`
	Amount               int64     `json:"amount"`
	Currency             string    `json:"currency"`
	CustomerID           string    `json:"customerId"`
	StripeSubscriptionID string    `json:"stripeSubscriptionId"`
}

// Plan is a purchasable catalog entry. Plans are static at runtime.
type Plan struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Price         int64    `json:"price"`
	Currency      string   `json:"currency"`
	Interval      string   `json:"interval"`
	StripePriceID string   `json:"stripePriceId"`
	Features      []string `json:"features"`
}
