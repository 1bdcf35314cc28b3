package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/paylock/paylock/internal/directory"
)

// RegisterPartyRoutes wires party registration and lookup endpoints.
func RegisterPartyRoutes(r fiber.Router, h *directory.Handler) {
	r.Post("/parties", h.Register)
	r.Get("/parties/:handle", h.Lookup)
}
