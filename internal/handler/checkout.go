package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/dukerupert/subvault/internal/catalog"
	"github.com/dukerupert/subvault/internal/model"
	billingstripe "github.com/dukerupert/subvault/internal/stripe"
)

// CheckoutClient is the slice of the Stripe client the checkout handler uses.
type CheckoutClient interface {
	CreateCheckoutSession(p billingstripe.CheckoutParams) (string, error)
	GetCheckoutSession(id string) (*stripe.CheckoutSession, error)
}

type CheckoutHandler struct {
	provider CheckoutClient
	catalog  *catalog.Catalog
	logger   *slog.Logger
}

func NewCheckoutHandler(provider CheckoutClient, cat *catalog.Catalog, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		provider: provider,
		catalog:  cat,
		logger:   logger,
	}
}

// CreateCheckoutSession creates a hosted checkout session for a plan and
// returns its redirect URL.
func (h *CheckoutHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PriceID       string `json:"priceId"`
		SuccessURL    string `json:"successUrl"`
		CancelURL     string `json:"cancelUrl"`
		CustomerEmail string `json:"customerEmail"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.PriceID == "" || req.SuccessURL == "" || req.CancelURL == "" {
		respondError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	url, err := h.provider.CreateCheckoutSession(billingstripe.CheckoutParams{
		PriceID:       req.PriceID,
		SuccessURL:    req.SuccessURL,
		CancelURL:     req.CancelURL,
		CustomerEmail: req.CustomerEmail,
	})
	if err != nil {
		h.logger.Error("create checkout session", "price_id", req.PriceID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to create checkout session")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}

// GetSession retrieves a checkout session after the provider redirects back,
// so the browser can confirm payment and cache the new subscription. The
// server store is not written here; the webhook is the write path.
func (h *CheckoutHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "Missing session_id parameter")
		return
	}

	sess, err := h.provider.GetCheckoutSession(sessionID)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
			respondError(w, http.StatusNotFound, "Session not found")
			return
		}
		h.logger.Error("get checkout session", "session_id", sessionID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to retrieve session")
		return
	}

	type sessionInfo struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Plan     string `json:"plan"`
	}

	if sess.Subscription != nil {
		record := subscriptionRecord(h.catalog, sess.Subscription, "")

		planName := "Unknown Plan"
		if plan, ok := h.catalog.PlanByID(record.PlanID); ok {
			planName = plan.Name
		}

		respondJSON(w, http.StatusOK, map[string]any{
			"session": sessionInfo{
				ID:       sess.ID,
				Status:   string(sess.PaymentStatus),
				Amount:   record.Amount,
				Currency: record.Currency,
				Plan:     planName,
			},
			"subscription": record,
		})
		return
	}

	// Non-subscription session: basic info only.
	currency := "usd"
	if sess.Currency != "" {
		currency = string(sess.Currency)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session": sessionInfo{
			ID:       sess.ID,
			Status:   string(sess.PaymentStatus),
			Amount:   sess.AmountTotal,
			Currency: currency,
			Plan:     "Unknown Plan",
		},
		"subscription": (*model.Subscription)(nil),
	})
}
