package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Routes builds the chi router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(h.accessLog)
	r.Use(h.recoverer)
	r.Use(middleware.StripSlashes)

	if len(h.opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.opts.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Content-Disposition"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", h.handleLogin)
		r.Post("/token/refresh", h.handleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(h.requireUser)

			r.Post("/logout", h.handleLogout)
			r.Get("/me", h.handleMe)

			r.Get("/keys", h.handleListKeys)
			r.Delete("/keys/{id}", h.handleDeleteKey)
			r.Post("/encrypt", h.handleEncrypt)
			r.Post("/encrypt/simulate", h.handleSimulate)
			r.Post("/decrypt", h.handleDecrypt)
			r.Get("/download/{id}", h.handleDownload)

			r.Get("/logs", h.handleListLogs)
			r.Post("/logs", h.handleReportLog)
			r.Post("/reset", h.handleReset)

			r.Get("/users", h.handleListUsers)
			r.Post("/users", h.handleCreateUser)
			r.Put("/users/{id}", h.handleUpdateUser)
			r.Patch("/users/{id}", h.handleUpdateUser)
			r.Delete("/users/{id}", h.handleDeleteUser)

			r.Get("/devices", h.handleListDevices)
			r.Post("/devices", h.handleAddDevice)
			r.Patch("/devices/{id}/status", h.handleDeviceStatus)
			r.Delete("/devices/{id}", h.handleDeleteDevice)

			r.Get("/dashboard/stats", h.handleDashboard)
		})
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
