package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/palmslabs/palms/internal/api/middleware"
	"github.com/palmslabs/palms/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	StartTaggingHandler  http.HandlerFunc
	TaggingStatusHandler http.HandlerFunc
	TaggingResultHandler http.HandlerFunc

	StartTranslationHandler    http.HandlerFunc
	TranslationCallbackHandler http.HandlerFunc

	UploadReplicationTreeHandler http.HandlerFunc
	ExtendHandler                http.HandlerFunc

	GetJobHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check and metrics
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Rate-limited API surface
	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Post("/api/v1/taggings", orNotImplemented(deps.StartTaggingHandler))
		r.Get("/api/v1/taggings/status", orNotImplemented(deps.TaggingStatusHandler))
		r.Put("/api/v1/taggings/results", orNotImplemented(deps.TaggingResultHandler))

		r.Post("/api/v1/translations", orNotImplemented(deps.StartTranslationHandler))
		r.Put("/api/v1/translations/callback", orNotImplemented(deps.TranslationCallbackHandler))

		r.Post("/api/v1/replications", orNotImplemented(deps.UploadReplicationTreeHandler))
		r.Post("/api/v1/replications/extend", orNotImplemented(deps.ExtendHandler))

		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))
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
