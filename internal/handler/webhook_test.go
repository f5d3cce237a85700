package handler

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/dukerupert/subvault/internal/catalog"
	"github.com/dukerupert/subvault/internal/database"
	"github.com/dukerupert/subvault/internal/journal"
	"github.com/dukerupert/subvault/internal/model"
	"github.com/dukerupert/subvault/internal/store"
	"github.com/dukerupert/subvault/internal/websocket"
)

const testWebhookSecret = "whsec_test_secret"

type stubFetcher struct {
	sub   *stripe.Subscription
	err   error
	gotID string
}

func (s *stubFetcher) GetSubscription(id string) (*stripe.Subscription, error) {
	s.gotID = id
	return s.sub, s.err
}

func newWebhookTestHandler(t *testing.T, provider SubscriptionFetcher) (*WebhookHandler, *store.Store, *journal.Journal) {
	t.Helper()

	st := store.New(filepath.Join(t.TempDir(), "subscriptions.json"), slog.Default())

	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	jn := journal.New(db)

	hub := websocket.NewHub(slog.Default())
	cat := catalog.New("price_month", "price_year")

	h := NewWebhookHandler(testWebhookSecret, provider, st, jn, hub, cat, slog.Default())
	return h, st, jn
}

// signedRequest builds a webhook request carrying a valid Stripe signature
// for the payload.
func signedRequest(t *testing.T, payload []byte) *http.Request {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewReader(payload))
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return req
}

func stubSubscription(id, priceID string, amount int64) *stripe.Subscription {
	return &stripe.Subscription{
		ID:       id,
		Status:   stripe.SubscriptionStatusActive,
		Customer: &stripe.Customer{ID: "cus_1"},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{
				Price: &stripe.Price{
					ID:         priceID,
					UnitAmount: amount,
					Currency:   stripe.CurrencyUSD,
				},
				CurrentPeriodStart: 1748736000,
				CurrentPeriodEnd:   1751328000,
			}},
		},
	}
}

func TestWebhookMissingSignature(t *testing.T) {
	h, st, _ := newWebhookTestHandler(t, &stubFetcher{})

	payload := []byte(`{"id":"evt_1","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1"}}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	h.HandleStripeWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["error"] != "Missing Stripe signature" {
		t.Errorf("error = %q, want %q", resp["error"], "Missing Stripe signature")
	}
	if got := len(st.ReadAll()); got != 0 {
		t.Errorf("store mutated by unsigned request: %d records", got)
	}
}

func TestWebhookBadSignature(t *testing.T) {
	h, st, _ := newWebhookTestHandler(t, &stubFetcher{})

	seeded := model.Subscription{ID: "sub_1", PlanID: model.PlanMonthly, Status: model.StatusActive}
	if err := st.Upsert(seeded); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	payload := []byte(`{"id":"evt_1","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1"}}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rec := httptest.NewRecorder()
	h.HandleStripeWebhook(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	var resp map[string]string
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["error"] != "Webhook signature verification failed" {
		t.Errorf("error = %q, want %q", resp["error"], "Webhook signature verification failed")
	}
	subs := st.ReadAll()
	if len(subs) != 1 || subs[0].ID != "sub_1" {
		t.Error("forged deletion reached the store")
	}
}

func TestWebhookSubscriptionUpdated(t *testing.T) {
	h, st, jn := newWebhookTestHandler(t, &stubFetcher{})

	payload := []byte(`{
		"id": "evt_upd",
		"type": "customer.subscription.updated",
		"data": {"object": {
			"id": "sub_1",
			"status": "active",
			"cancel_at_period_end": true,
			"customer": {"id": "cus_1"},
			"items": {"data": [{
				"price": {"id": "price_year", "unit_amount": 25000, "currency": "usd"},
				"current_period_start": 1748736000,
				"current_period_end": 1780272000
			}]}
		}}
	}`)
	rec := httptest.NewRecorder()
	h.HandleStripeWebhook(rec, signedRequest(t, payload))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var resp map[string]bool
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp["received"] {
		t.Error("expected received = true")
	}

	subs := st.ReadAll()
	if len(subs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(subs))
	}
	got := subs[0]
	if got.ID != "sub_1" {
		t.Errorf("id = %q, want sub_1", got.ID)
	}
	if got.PlanID != model.PlanYearly {
		t.Errorf("planId = %q, want %q", got.PlanID, model.PlanYearly)
	}
	if got.Status != model.StatusActive {
		t.Errorf("status = %q, want %q", got.Status, model.StatusActive)
	}
	if !got.CancelAtPeriodEnd {
		t.Error("expected cancelAtPeriodEnd = true")
	}
	if got.Amount != 25000 {
		t.Errorf("amount = %d, want 25000", got.Amount)
	}
	if want := time.Unix(1748736000, 0).UTC(); !got.CurrentPeriodStart.Equal(want) {
		t.Errorf("period start = %v, want %v", got.CurrentPeriodStart, want)
	}
	if want := time.Unix(1780272000, 0).UTC(); !got.CurrentPeriodEnd.Equal(want) {
		t.Errorf("period end = %v, want %v", got.CurrentPeriodEnd, want)
	}

	events, err := jn.Recent(10)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if len(events) != 1 || events[0].EventID != "evt_upd" {
		t.Errorf("journal = %+v, want one evt_upd entry", events)
	}
}

func TestWebhookSubscriptionDeleted(t *testing.T) {
	h, st, _ := newWebhookTestHandler(t, &stubFetcher{})

	st.Upsert(model.Subscription{ID: "sub_1", PlanID: model.PlanMonthly, Status: model.StatusActive})
	st.Upsert(model.Subscription{ID: "sub_2", PlanID: model.PlanYearly, Status: model.StatusActive})

	payload := []byte(`{"id":"evt_del","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1","status":"canceled"}}}`)
	rec := httptest.NewRecorder()
	h.HandleStripeWebhook(rec, signedRequest(t, payload))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	subs := st.ReadAll()
	if len(subs) != 1 || subs[0].ID != "sub_2" {
		t.Errorf("expected only sub_2 to remain, got %+v", subs)
	}
}

func TestWebhookCheckoutCompleted(t *testing.T) {
	fetcher := &stubFetcher{sub: stubSubscription("sub_3", "price_month", 2500)}
	h, st, _ := newWebhookTestHandler(t, fetcher)

	payload := []byte(`{
		"id": "evt_checkout",
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_1", "mode": "subscription", "subscription": "sub_3"}}
	}`)
	rec := httptest.NewRecorder()
	h.HandleStripeWebhook(rec, signedRequest(t, payload))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if fetcher.gotID != "sub_3" {
		t.Errorf("fetched subscription %q, want sub_3", fetcher.gotID)
	}
	subs := st.ReadAll()
	if len(subs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(subs))
	}
	if subs[0].PlanID != model.PlanMonthly {
		t.Errorf("planId = %q, want %q", subs[0].PlanID, model.PlanMonthly)
	}
	if subs[0].CustomerID != "cus_1" {
		t.Errorf("customerId = %q, want cus_1", subs[0].CustomerID)
	}
}

func TestWebhookInvoicePaymentFailed(t *testing.T) {
	fetcher := &stubFetcher{sub: stubSubscription("sub_2", "price_year", 25000)}
	h, st, _ := newWebhookTestHandler(t, fetcher)

	payload := []byte(`{
		"id": "evt_fail",
		"type": "invoice.payment_failed",
		"data": {"object": {
			"id": "in_1",
			"parent": {"subscription_details": {"subscription": "sub_2"}}
		}}
	}`)
	rec := httptest.NewRecorder()
	h.HandleStripeWebhook(rec, signedRequest(t, payload))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if fetcher.gotID != "sub_2" {
		t.Errorf("fetched subscription %q, want sub_2", fetcher.gotID)
	}
	subs := st.ReadAll()
	if len(subs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(subs))
	}
	// Stripe still reports the subscription active; the failed payment
	// overrides the stored status.
	if subs[0].Status != model.StatusPastDue {
		t.Errorf("status = %q, want %q", subs[0].Status, model.StatusPastDue)
	}
}

func TestWebhookInvoicePaidRefreshesRecord(t *testing.T) {
	fetcher := &stubFetcher{sub: stubSubscription("sub_2", "price_year", 25000)}
	h, st, _ := newWebhookTestHandler(t, fetcher)

	stale := model.Subscription{ID: "sub_2", PlanID: model.PlanYearly, Status: model.StatusPastDue}
	st.Upsert(stale)

	payload := []byte(`{
		"id": "evt_paid",
		"type": "invoice.payment_succeeded",
		"data": {"object": {
			"id": "in_2",
			"parent": {"subscription_details": {"subscription": "sub_2"}}
		}}
	}`)
	rec := httptest.NewRecorder()
	h.HandleStripeWebhook(rec, signedRequest(t, payload))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	subs := st.ReadAll()
	if len(subs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(subs))
	}
	if subs[0].Status != model.StatusActive {
		t.Errorf("status = %q, want %q", subs[0].Status, model.StatusActive)
	}
	if subs[0].Amount != 25000 {
		t.Errorf("amount = %d, want 25000", subs[0].Amount)
	}
}

func TestWebhookInvoiceWithoutSubscription(t *testing.T) {
	fetcher := &stubFetcher{}
	h, st, _ := newWebhookTestHandler(t, fetcher)

	payload := []byte(`{"id":"evt_oneoff","type":"invoice.payment_succeeded","data":{"object":{"id":"in_3"}}}`)
	rec := httptest.NewRecorder()
	h.HandleStripeWebhook(rec, signedRequest(t, payload))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if fetcher.gotID != "" {
		t.Errorf("provider called for invoice with no subscription: %q", fetcher.gotID)
	}
	if got := len(st.ReadAll()); got != 0 {
		t.Errorf("expected 0 records, got %d", got)
	}
}

func TestWebhookUnhandledTypeIsAcknowledged(t *testing.T) {
	h, st, jn := newWebhookTestHandler(t, &stubFetcher{})

	payload := []byte(`{"id":"evt_other","type":"customer.created","data":{"object":{"id":"cus_9"}}}`)
	rec := httptest.NewRecorder()
	h.HandleStripeWebhook(rec, signedRequest(t, payload))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp map[string]bool
	json.NewDecoder(rec.Body).Decode(&resp)
	if !resp["received"] {
		t.Error("expected received = true for unhandled type")
	}
	if got := len(st.ReadAll()); got != 0 {
		t.Errorf("unhandled event mutated the store: %d records", got)
	}
	events, err := jn.Recent(10)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if len(events) != 1 || events[0].Type != "customer.created" {
		t.Errorf("journal = %+v, want one customer.created entry", events)
	}
}

func TestWebhookProviderErrorReturns500(t *testing.T) {
	fetcher := &stubFetcher{err: fmt.Errorf("stripe unavailable")}
	h, st, _ := newWebhookTestHandler(t, fetcher)

	payload := []byte(`{
		"id": "evt_err",
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_1", "mode": "subscription", "subscription": "sub_9"}}
	}`)
	rec := httptest.NewRecorder()
	h.HandleStripeWebhook(rec, signedRequest(t, payload))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	var resp map[string]string
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["error"] != "Error processing webhook" {
		t.Errorf("error = %q, want %q", resp["error"], "Error processing webhook")
	}
	if got := len(st.ReadAll()); got != 0 {
		t.Errorf("failed handler mutated the store: %d records", got)
	}
}
