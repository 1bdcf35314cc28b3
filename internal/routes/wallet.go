package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/paylock/paylock/internal/wallet"
)

// RegisterWalletRoutes wires wallet-related endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Post("/wallets", h.Provision)
	r.Get("/wallets/:ownerId/balance", h.Balance)
	r.Get("/wallets/:ownerId/statement", h.Statement)
}
