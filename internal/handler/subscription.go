package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/dukerupert/subvault/internal/journal"
	"github.com/dukerupert/subvault/internal/store"
)

// SubscriptionCanceler is the slice of the Stripe client the cancel
// endpoint uses.
type SubscriptionCanceler interface {
	CancelAtPeriodEnd(id string) (*stripe.Subscription, error)
}

type SubscriptionHandler struct {
	store    *store.Store
	journal  *journal.Journal
	provider SubscriptionCanceler
	logger   *slog.Logger
}

func NewSubscriptionHandler(st *store.Store, jn *journal.Journal, provider SubscriptionCanceler, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		store:    st,
		journal:  jn,
		provider: provider,
		logger:   logger,
	}
}

// List returns every stored record. An empty or missing store file yields
// an empty array, never an error.
func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"subscriptions": h.store.ReadAll(),
	})
}

// ClearAll wipes the store.
func (h *SubscriptionHandler) ClearAll(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Clear(); err != nil {
		h.logger.Error("clear subscriptions", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to clear subscriptions")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "All subscriptions cleared",
	})
}

// Cancel flags the subscription for cancellation at period end with the
// provider. The local record is not touched here; the provider confirms the
// change through a subscription-updated webhook.
func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubscriptionID string `json:"subscriptionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.SubscriptionID == "" {
		respondError(w, http.StatusBadRequest, "Subscription ID is required")
		return
	}

	sub, err := h.provider.CancelAtPeriodEnd(req.SubscriptionID)
	if err != nil {
		h.logger.Error("cancel subscription", "subscription_id", req.SubscriptionID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to cancel subscription")
		return
	}

	var periodEnd int64
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		periodEnd = sub.Items.Data[0].CurrentPeriodEnd
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"subscription": map[string]any{
			"id":                   sub.ID,
			"status":               string(sub.Status),
			"cancel_at_period_end": sub.CancelAtPeriodEnd,
			"current_period_end":   periodEnd,
		},
	})
}

type subscriptionUpdates struct {
	PlanID            *string `json:"planId"`
	Status            *string `json:"status"`
	CancelAtPeriodEnd *bool   `json:"cancelAtPeriodEnd"`
	Amount            *int64  `json:"amount"`
	Currency          *string `json:"currency"`
}

// Update patches fields of a stored record. This is a local-only mutation:
// the provider is never called, and the billing period fields are never
// patched.
func (h *SubscriptionHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubscriptionID string              `json:"subscriptionId"`
		Updates        subscriptionUpdates `json:"updates"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.SubscriptionID == "" {
		respondError(w, http.StatusBadRequest, "Subscription ID is required")
		return
	}

	subs := h.store.ReadAll()
	idx := -1
	for i := range subs {
		if subs[i].ID == req.SubscriptionID {
			idx = i
			break
		}
	}
	if idx == -1 {
		respondError(w, http.StatusNotFound, "Subscription not found")
		return
	}

	updated := subs[idx]
	if req.Updates.PlanID != nil {
		updated.PlanID = *req.Updates.PlanID
	}
	if req.Updates.Status != nil {
		updated.Status = *req.Updates.Status
	}
	if req.Updates.CancelAtPeriodEnd != nil {
		updated.CancelAtPeriodEnd = *req.Updates.CancelAtPeriodEnd
	}
	if req.Updates.Amount != nil {
		updated.Amount = *req.Updates.Amount
	}
	if req.Updates.Currency != nil {
		updated.Currency = *req.Updates.Currency
	}

	if err := h.store.Upsert(updated); err != nil {
		h.logger.Error("update subscription", "subscription_id", req.SubscriptionID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to update subscription")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"subscription": updated,
	})
}

// Debug dumps the raw store contents and the recent webhook journal.
func (h *SubscriptionHandler) Debug(w http.ResponseWriter, r *http.Request) {
	events := []journal.Event{}
	if h.journal != nil {
		var err error
		events, err = h.journal.Recent(20)
		if err != nil {
			h.logger.Error("read webhook journal", "error", err)
			events = []journal.Event{}
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"fileStorage":  h.store.ReadAll(),
		"recentEvents": events,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}
