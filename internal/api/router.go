package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/ropasuggest/internal/api/middleware"
	"github.com/kiranshivaraju/ropasuggest/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler      http.HandlerFunc
	SubmitHandler      http.HandlerFunc
	ListJobsHandler    http.HandlerFunc
	GetJobHandler      http.HandlerFunc
	JobStatusHandler   http.HandlerFunc
	CostSummaryHandler http.HandlerFunc
	ReplayHandler      http.HandlerFunc
	CreateKeyHandler   http.HandlerFunc
	ListKeysHandler    http.HandlerFunc
	RevokeKeyHandler   http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/entities/{entityType}/{entityID}/suggestions", orNotImplemented(deps.SubmitHandler))

		r.Get("/api/v1/suggestions", orNotImplemented(deps.ListJobsHandler))
		r.Get("/api/v1/suggestions/costs", orNotImplemented(deps.CostSummaryHandler))
		r.Get("/api/v1/suggestions/{jobID}", orNotImplemented(deps.GetJobHandler))
		r.Get("/api/v1/suggestions/{jobID}/status", orNotImplemented(deps.JobStatusHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Post("/api/v1/suggestions/{jobID}/replay", orNotImplemented(deps.ReplayHandler))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
