package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/dukerupert/subvault/internal/catalog"
	"github.com/dukerupert/subvault/internal/handler"
	"github.com/dukerupert/subvault/internal/journal"
	"github.com/dukerupert/subvault/internal/middleware"
	"github.com/dukerupert/subvault/internal/store"
	billingstripe "github.com/dukerupert/subvault/internal/stripe"
	"github.com/dukerupert/subvault/internal/websocket"
)

type Config struct {
	StripeSecretKey      string
	StripePublishableKey string
	StripeWebhookSecret  string
	MonthlyPriceID       string
	YearlyPriceID        string
	StoragePath          string
	StaticDir            string
}

type Server struct {
	cfg           Config
	store         *store.Store
	journal       *journal.Journal
	catalog       *catalog.Catalog
	hub           *websocket.Hub
	checkoutH     *handler.CheckoutHandler
	webhookH      *handler.WebhookHandler
	subscriptionH *handler.SubscriptionHandler
	rateLimiter   *middleware.RateLimiter
	logger        *slog.Logger
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	cat := catalog.New(cfg.MonthlyPriceID, cfg.YearlyPriceID)
	st := store.New(cfg.StoragePath, logger.With("component", "store"))
	jn := journal.New(db)
	hub := websocket.NewHub(logger.With("component", "websocket"))

	stripeClient := billingstripe.NewClient(billingstripe.Config{
		SecretKey: cfg.StripeSecretKey,
	})

	checkoutH := handler.NewCheckoutHandler(stripeClient, cat, logger.With("component", "checkout"))
	webhookH := handler.NewWebhookHandler(
		cfg.StripeWebhookSecret, stripeClient, st, jn, hub, cat,
		logger.With("component", "webhook"),
	)
	subscriptionH := handler.NewSubscriptionHandler(st, jn, stripeClient, logger.With("component", "subscription"))

	return &Server{
		cfg:           cfg,
		store:         st,
		journal:       jn,
		catalog:       cat,
		hub:           hub,
		checkoutH:     checkoutH,
		webhookH:      webhookH,
		subscriptionH: subscriptionH,
		rateLimiter:   middleware.NewRateLimiter(),
		logger:        logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// Hub returns the websocket hub.
func (s *Server) Hub() *websocket.Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthCheck)
	mux.HandleFunc("GET /config", s.clientConfig)

	// Checkout flow
	mux.HandleFunc("POST /checkout-session", s.rateLimited(s.checkoutH.CreateCheckoutSession))
	mux.HandleFunc("GET /session", s.checkoutH.GetSession)

	// Record store views and mutations
	mux.HandleFunc("GET /subscriptions", s.subscriptionH.List)
	mux.HandleFunc("DELETE /subscriptions", s.subscriptionH.ClearAll)
	mux.HandleFunc("POST /cancel-subscription", s.rateLimited(s.subscriptionH.Cancel))
	mux.HandleFunc("POST /update-subscription", s.rateLimited(s.subscriptionH.Update))
	mux.HandleFunc("GET /debug-subscriptions", s.subscriptionH.Debug)

	// Stripe webhook (signature-verified, never rate-limited)
	mux.HandleFunc("POST /webhooks", s.webhookH.HandleStripeWebhook)

	// Live record-change notifications
	mux.HandleFunc("GET /ws", websocket.HandleWebSocket(s.hub, s.logger.With("component", "websocket")))

	// Static frontend
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(s.cfg.StaticDir))))
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, filepath.Join(s.cfg.StaticDir, "index.html"))
	})

	return middleware.RequestLogger(s.logger)(mux)
}

func (s *Server) rateLimited(h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, middleware.RealIP, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(h).ServeHTTP(w, r)
	}
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// clientConfig exposes the publishable key and the plan catalog to the
// browser. The secret key and webhook secret never leave the server.
func (s *Server) clientConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"publishableKey": s.cfg.StripePublishableKey,
		"plans":          s.catalog.Plans(),
	})
}
