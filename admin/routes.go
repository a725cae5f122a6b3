package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// RegisterRoutes registers all admin API routes using chi router
func RegisterRoutes(mux *http.ServeMux, handlers *AdminHandlers) {
	mux.Handle("/admin", http.RedirectHandler("/admin/", http.StatusMovedPermanently))
	mux.Handle("/admin/", http.StripPrefix("/admin", NewRouter(handlers)))

	log.Info().Msg("Admin endpoints enabled at /admin/*")
}

// NewRouter builds the admin router without the /admin prefix
func NewRouter(handlers *AdminHandlers) chi.Router {
	r := chi.NewRouter()
	r.Use(AuthMiddleware)

	// Store state
	r.Get("/stats", handlers.handleStats)
	r.Get("/files", handlers.handleListFiles)
	r.Post("/compact", handlers.handleCompact)

	// Producers
	r.Post("/notifications", handlers.handleIngest)

	// Reduced notification stream
	r.Get("/scan", handlers.handleScan)
	r.Get("/rows/{row}", handlers.handleRow)

	// Publisher workers
	r.Get("/publishers", handlers.handlePublishers)

	return r
}
