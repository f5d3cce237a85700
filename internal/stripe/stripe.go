package stripe

import (
	"fmt"

	stripe "github.com/stripe/stripe-go/v82"
	checksession "github.com/stripe/stripe-go/v82/checkout/session"
	sub "github.com/stripe/stripe-go/v82/subscription"
)

type Config struct {
	SecretKey string
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	stripe.Key = cfg.SecretKey
	return &Client{cfg: cfg}
}

// CheckoutParams describes a hosted checkout session request.
type CheckoutParams struct {
	PriceID       string
	SuccessURL    string
	CancelURL     string
	CustomerEmail string
}

// CreateCheckoutSession creates a subscription-mode checkout session and
// returns its redirect URL. The price id is attached as metadata on both the
// session and the subscription because Stripe's own objects don't roundtrip
// it reliably.
func (c *Client) CreateCheckoutSession(p CheckoutParams) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"priceId": p.PriceID},
		},
		BillingAddressCollection: stripe.String("required"),
		AutomaticTax: &stripe.CheckoutSessionAutomaticTaxParams{
			Enabled: stripe.Bool(false),
		},
	}
	params.AddMetadata("priceId", p.PriceID)
	if p.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(p.CustomerEmail)
	}

	sess, err := checksession.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	if sess.URL == "" {
		return "", fmt.Errorf("checkout session %s has no redirect URL", sess.ID)
	}
	return sess.URL, nil
}

// GetCheckoutSession retrieves a checkout session with its line items and
// subscription expanded.
func (c *Client) GetCheckoutSession(id string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.AddExpand("line_items")
	params.AddExpand("subscription")
	sess, err := checksession.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("get checkout session: %w", err)
	}
	return sess, nil
}

// GetSubscription fetches the full subscription object from Stripe.
func (c *Client) GetSubscription(id string) (*stripe.Subscription, error) {
	s, err := sub.Get(id, nil)
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return s, nil
}

// CancelAtPeriodEnd flags the subscription for cancellation at the end of
// the current billing period and returns the updated object.
func (c *Client) CancelAtPeriodEnd(id string) (*stripe.Subscription, error) {
	s, err := sub.Update(id, &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("cancel subscription: %w", err)
	}
	return s, nil
}
