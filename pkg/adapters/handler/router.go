package handler

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wadjakorntonsri/fusly/pkg/config"
	"github.com/wadjakorntonsri/fusly/pkg/ports"
)

// NewRouter creates and configures the main application router
func NewRouter(cfg *config.Config, links ports.LinkService, owners ports.OwnerService, logger *zap.Logger) http.Handler {
	h := NewLinkHandler(links, logger)
	auth := NewAuthHandler(cfg, owners, logger)
	mw := NewMiddleware(owners, cfg.JWTSecret, logger)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /auth/google/login", auth.Login)
	mux.HandleFunc("GET /auth/google/callback", auth.Callback)
	mux.HandleFunc("GET /auth/logout", auth.Logout)

	// Accounts
	mux.HandleFunc("POST /api/v1/register", auth.Register)
	mux.HandleFunc("GET /api/v1/token", auth.Token)
	mux.HandleFunc("GET /api/v1/user", auth.CurrentUser)
	mux.HandleFunc("GET /api/v1/users/influential", h.Influential)

	// Mappings
	mux.HandleFunc("POST /api/v1/shorten", h.Shorten)
	mux.HandleFunc("GET /api/v1/shorturl/recent", h.Recent)
	mux.HandleFunc("GET /api/v1/shorturl/popular", h.Popular)
	mux.HandleFunc("GET /api/v1/shorturl", h.List)
	mux.HandleFunc("GET /api/v1/shorturl/{id}", h.Detail)
	mux.HandleFunc("DELETE /api/v1/shorturl/{id}", h.Delete)
	mux.HandleFunc("PUT /api/v1/shorturl/{id}/target", h.Retarget)
	mux.HandleFunc("PUT /api/v1/shorturl/{id}/activate", h.Activate)
	mux.HandleFunc("PUT /api/v1/shorturl/{id}/deactivate", h.Deactivate)
	mux.HandleFunc("GET /api/v1/shorturl/{id}/visitors", h.Visitors)
	mux.HandleFunc("GET /api/v1/shorturl/{id}/visitors/{visitorID}", h.Visitor)

	// Resolution
	mux.HandleFunc("GET /api/v1/visit/{code}", h.Visit)
	mux.HandleFunc("GET /{code}", h.Redirect)

	return chain(recordRoute(mux), RequestID, Observe(logger), Recover(logger), mw.Identify)
}
