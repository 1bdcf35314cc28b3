package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/paylock/paylock/internal/escrow"
)

// RegisterEscrowRoutes wires escrow transaction and dispute endpoints.
func RegisterEscrowRoutes(r fiber.Router, h *escrow.Handler) {
	r.Post("/escrows", h.Create)
	r.Get("/escrows/:escrowId", h.Get)
	r.Post("/escrows/:escrowId/fund", h.Fund)
	r.Post("/escrows/:escrowId/release", h.Release)
	r.Post("/escrows/:escrowId/cancel", h.Cancel)
	r.Post("/escrows/:escrowId/disputes", h.OpenDispute)
	r.Get("/disputes/:disputeId", h.GetDispute)
	r.Post("/disputes/:disputeId/review", h.ReviewDispute)
	r.Post("/disputes/:disputeId/resolve", h.ResolveDispute)
}
