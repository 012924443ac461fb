package inventory

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

// MountRoutes registers inventory routes. Write endpoints are rate limited
// per client since each one opens a locking transaction.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/items", h.handleListItems)
	r.Get("/items/{id}", h.handleGetItem)
	r.Get("/items/{id}/quantities", h.handleQuantities)
	r.Get("/items/{id}/movements", h.handleMovements)
	r.Get("/allocations", h.handleListAllocations)
	r.Get("/allocations/outstanding", h.handleOutstanding)

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(60, time.Minute))
		r.Post("/items", h.handleCreateItem)
		r.Post("/items/{id}/deactivate", h.handleDeactivateItem)
		r.Post("/items/{id}/reactivate", h.handleReactivateItem)
		r.Post("/items/{id}/stock-in", h.handleStockIn)
		r.Post("/items/{id}/allocate", h.handleAllocate)
		r.Post("/items/{id}/return", h.handleReturn)
		r.Post("/items/{id}/damage", h.handleDamage)
		r.Post("/items/{id}/loss", h.handleLoss)
		r.Post("/items/{id}/adjust", h.handleAdjust)
	})
}
