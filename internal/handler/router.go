package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"fundly/internal/middleware"
	"fundly/pkg/logger"
)

// RouterConfig wires handlers and middleware into the public API. Nil
// Idempotency or RateLimiter disables that middleware.
type RouterConfig struct {
	Donations      *DonationHandler
	Campaigns      *CampaignHandler
	Admin          *AdminHandler
	System         *SystemHandler
	Auth           *middleware.AuthMiddleware
	Idempotency    *middleware.IdempotencyMiddleware
	RateLimiter    *middleware.RateLimiter
	AllowedOrigins []string
	Logger         logger.Logger
}

func NewRouter(cfg RouterConfig) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.NewLoggingMiddleware(cfg.Logger).Log)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(cfg.AllowedOrigins...))

	r.HandleFunc("/health", cfg.System.Health).Methods(http.MethodGet)
	r.HandleFunc("/ready", cfg.System.Ready).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()

	// Provider callbacks are authenticated by signature, not rate limited.
	api.HandleFunc("/webhooks/{gateway}", cfg.Donations.Webhook).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(cfg.Auth.Authenticate)
	admin.Use(cfg.Auth.RequireAdmin)
	admin.Use(middleware.NewAuditMiddleware(cfg.Logger).Audit)
	admin.HandleFunc("/campaigns", cfg.Campaigns.Create).Methods(http.MethodPost)
	admin.HandleFunc("/stats", cfg.Admin.Stats).Methods(http.MethodGet)
	admin.HandleFunc("/reconcile/audit", cfg.Admin.Audit).Methods(http.MethodGet)
	admin.HandleFunc("/reconcile/sweep", cfg.Admin.Sweep).Methods(http.MethodPost)

	public := api.NewRoute().Subrouter()
	if cfg.RateLimiter != nil {
		public.Use(cfg.RateLimiter.Limit)
	}

	initiate := http.Handler(http.HandlerFunc(cfg.Donations.Initiate))
	if cfg.Idempotency != nil {
		initiate = cfg.Idempotency.Optional(initiate)
	}
	public.Handle("/donations", initiate).Methods(http.MethodPost, http.MethodOptions)
	public.HandleFunc("/donations", cfg.Donations.List).Methods(http.MethodGet)
	public.HandleFunc("/donations/{reference}/verify", cfg.Donations.Verify).Methods(http.MethodGet, http.MethodOptions)
	public.HandleFunc("/campaigns", cfg.Campaigns.List).Methods(http.MethodGet)
	public.HandleFunc("/campaigns/{slug}", cfg.Campaigns.Get).Methods(http.MethodGet)

	return r
}
