package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/paylock/paylock/internal/funding"
)

// RegisterFundingRoutes wires top-up and withdrawal endpoints.
func RegisterFundingRoutes(r fiber.Router, h *funding.Handler) {
	r.Post("/wallets/:ownerId/topup", h.TopUp)
	r.Post("/wallets/:ownerId/withdraw", h.Withdraw)
	r.Post("/withdrawals/:entryId/settle", h.Settle)
}
