package workorders

import "github.com/go-chi/chi/v5"

// MountRoutes registers work-order routes on r, typically under /api/v1/work-orders.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/dashboard", h.dashboard)
	r.Get("/by-number", h.getByNumber)

	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Put("/", h.update)
		r.Delete("/", h.delete)
		r.Patch("/status", h.changeStatus)
		r.Post("/approve", h.approve)

		// Operations are addressed by sequence number.
		r.Post("/operations", h.addOperation)
		r.Patch("/operations/{sequence}", h.updateOperation)
		r.Delete("/operations/{sequence}", h.removeOperation)

		// Resources are addressed by list index.
		r.Post("/resources", h.addResource)
		r.Patch("/resources/{index}", h.updateResource)
		r.Delete("/resources/{index}", h.removeResource)
	})
}
