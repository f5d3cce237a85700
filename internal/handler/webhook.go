package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dukerupert/subvault/internal/catalog"
	"github.com/dukerupert/subvault/internal/journal"
	"github.com/dukerupert/subvault/internal/model"
	"github.com/dukerupert/subvault/internal/store"
	"github.com/dukerupert/subvault/internal/websocket"
)

// SubscriptionFetcher is the slice of the Stripe client the webhook handler
// needs to re-fetch full subscription objects.
type SubscriptionFetcher interface {
	GetSubscription(id string) (*stripe.Subscription, error)
}

// WebhookHandler reconciles provider events into the record store. The
// signature check is the only hard security boundary in the system: nothing
// is parsed and nothing mutates before it passes.
type WebhookHandler struct {
	webhookSecret string
	provider      SubscriptionFetcher
	store         *store.Store
	journal       *journal.Journal
	hub           *websocket.Hub
	catalog       *catalog.Catalog
	logger        *slog.Logger
}

func NewWebhookHandler(
	webhookSecret string,
	provider SubscriptionFetcher,
	st *store.Store,
	jn *journal.Journal,
	hub *websocket.Hub,
	cat *catalog.Catalog,
	logger *slog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		webhookSecret: webhookSecret,
		provider:      provider,
		store:         st,
		journal:       jn,
		hub:           hub,
		catalog:       cat,
		logger:        logger,
	}
}

func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		respondError(w, http.StatusBadRequest, "Missing Stripe signature")
		return
	}

	event, err := webhook.ConstructEventWithOptions(body, sig, h.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		respondError(w, http.StatusBadRequest, "Webhook signature verification failed")
		return
	}

	var handleErr error
	switch string(event.Type) {
	case "checkout.session.completed":
		handleErr = h.handleCheckoutCompleted(event)
	case "customer.subscription.updated":
		handleErr = h.handleSubscriptionUpdated(event)
	case "customer.subscription.deleted":
		handleErr = h.handleSubscriptionDeleted(event)
	case "invoice.payment_succeeded":
		handleErr = h.handleInvoicePaid(event)
	case "invoice.payment_failed":
		handleErr = h.handleInvoicePaymentFailed(event)
	default:
		h.logger.Info("unhandled event type", "type", event.Type)
		h.logEvent(event, "")
	}

	if handleErr != nil {
		h.logger.Error("process webhook", "type", event.Type, "error", handleErr)
		respondError(w, http.StatusInternalServerError, "Error processing webhook")
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *WebhookHandler) handleCheckoutCompleted(event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("unmarshal checkout session: %w", err)
	}

	if sess.Mode != stripe.CheckoutSessionModeSubscription || sess.Subscription == nil {
		h.logEvent(event, "")
		return nil
	}

	// The session payload carries only a subscription reference; fetch the
	// full object so the record has price and period data.
	full, err := h.provider.GetSubscription(sess.Subscription.ID)
	if err != nil {
		return fmt.Errorf("fetch subscription %s: %w", sess.Subscription.ID, err)
	}

	record := subscriptionRecord(h.catalog, full, "")
	if err := h.store.Upsert(record); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	h.logEvent(event, record.ID)
	h.notify("created", record.ID)
	h.logger.Info("checkout completed", "subscription_id", record.ID, "plan", record.PlanID)
	return nil
}

func (h *WebhookHandler) handleSubscriptionUpdated(event stripe.Event) error {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}

	record := subscriptionRecord(h.catalog, &stripeSub, "")
	if err := h.store.Upsert(record); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	h.logEvent(event, record.ID)
	h.notify("updated", record.ID)
	return nil
}

func (h *WebhookHandler) handleSubscriptionDeleted(event stripe.Event) error {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}

	if err := h.store.Remove(stripeSub.ID); err != nil {
		return fmt.Errorf("remove record: %w", err)
	}
	h.logEvent(event, stripeSub.ID)
	h.notify("deleted", stripeSub.ID)
	return nil
}

func (h *WebhookHandler) handleInvoicePaid(event stripe.Event) error {
	return h.reconcileInvoice(event, "")
}

func (h *WebhookHandler) handleInvoicePaymentFailed(event stripe.Event) error {
	return h.reconcileInvoice(event, model.StatusPastDue)
}

func (h *WebhookHandler) reconcileInvoice(event stripe.Event, statusOverride string) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("unmarshal invoice: %w", err)
	}

	subID := subscriptionIDFromInvoice(invoice)
	if subID == "" {
		h.logEvent(event, "")
		return nil
	}

	full, err := h.provider.GetSubscription(subID)
	if err != nil {
		return fmt.Errorf("fetch subscription %s: %w", subID, err)
	}

	record := subscriptionRecord(h.catalog, full, statusOverride)
	if err := h.store.Upsert(record); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	h.logEvent(event, record.ID)
	h.notify("updated", record.ID)
	return nil
}

// subscriptionIDFromInvoice extracts the subscription ID from an invoice's parent.
func subscriptionIDFromInvoice(invoice stripe.Invoice) string {
	if invoice.Parent != nil &&
		invoice.Parent.SubscriptionDetails != nil &&
		invoice.Parent.SubscriptionDetails.Subscription != nil {
		return invoice.Parent.SubscriptionDetails.Subscription.ID
	}
	return ""
}

// logEvent appends the event to the journal. Journal failures are logged
// and swallowed; diagnostics never fail a delivery.
func (h *WebhookHandler) logEvent(event stripe.Event, subscriptionID string) {
	if h.journal == nil {
		return
	}
	if err := h.journal.Record(event.ID, string(event.Type), subscriptionID); err != nil {
		h.logger.Error("journal webhook event", "event_id", event.ID, "error", err)
	}
}

func (h *WebhookHandler) notify(action, subscriptionID string) {
	if h.hub == nil {
		return
	}
	h.hub.Broadcast(websocket.NewMessage("subscription", action, subscriptionID))
}
