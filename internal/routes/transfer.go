package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/paylock/paylock/internal/transfer"
)

// RegisterTransferRoutes wires direct transfer endpoints.
func RegisterTransferRoutes(r fiber.Router, h *transfer.Handler) {
	r.Post("/transfers", h.Create)
}
