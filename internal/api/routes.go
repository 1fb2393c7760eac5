package api

import (
	"github.com/go-chi/chi/v5"
)

// Mount registers the public REST routes under /api and the maintenance
// routes under /internal
func Mount(r chi.Router, users *UserHandler, admin *AdminHandler) {
	r.Route("/api/users/{userId}", func(r chi.Router) {
		r.Get("/assistant", users.GetAssistant)
		r.Get("/analytics", users.GetAnalytics)
		r.Get("/analytics/export", users.ExportAnalytics)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Put("/users/{userId}", admin.PutUser)
		r.Post("/users/{userId}/calls/{callId}/reconcile", admin.ReconcileCall)
		r.Delete("/storage", admin.WipeStore)
		r.Get("/sim/stats", admin.SimStats)
	})
}
