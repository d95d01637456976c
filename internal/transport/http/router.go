// Package httptransport is the thin HTTP layer. Handlers delegate to the
// credential service; transport concerns stay here.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"issuant/internal/credential/service"
	"issuant/internal/platform/middleware"
)

// Handler holds the services the HTTP surface delegates to.
type Handler struct {
	credentials *service.Service
	logger      *slog.Logger
}

func NewHandler(credentials *service.Service, logger *slog.Logger) *Handler {
	return &Handler{
		credentials: credentials,
		logger:      logger,
	}
}

// NewRouter wires all public endpoints with middleware. Everything under
// /api requires an authenticated identity.
func NewRouter(h *Handler, jwtSigningKey string, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.ContentTypeJSON)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RequireIdentity(jwtSigningKey, logger))

		r.Route("/issuer", func(r chi.Router) {
			r.Get("/", h.handleListCredentials)
			r.Get("/owned-credentials", h.handleOwnCredentials)
			r.Post("/bpn", h.handleSubmitBpn)
			r.Post("/membership", h.handleSubmitMembership)
			r.Post("/framework", h.handleSubmitFramework)
			r.Put("/{credentialId}/approval", h.handleApprove)
			r.Put("/{credentialId}/reject", h.handleReject)
		})

		r.Route("/revocation", func(r chi.Router) {
			r.Post("/issuer/credentials/{credentialId}", h.handleIssuerRevoke)
			r.Post("/credentials/{credentialId}", h.handleHolderRevoke)
		})

		r.Route("/credential", func(r chi.Router) {
			r.Get("/{credentialId}", h.handleCredentialDocument)
			r.Get("/documents/{documentId}", h.handleDocument)
		})
	})

	return r
}
