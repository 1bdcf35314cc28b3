package wallet

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/paylock/paylock/internal/ledger"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type provisionRequest struct {
	OwnerID  string `json:"owner_id"`
	Currency string `json:"currency"`
}

type walletResponse struct {
	ID       string `json:"id"`
	OwnerID  string `json:"owner_id"`
	Currency string `json:"currency"`
	Balance  int64  `json:"balance"`
	Frozen   int64  `json:"frozen"`
}

// Provision lazily creates a wallet for an owner.
func (h *Handler) Provision(c *fiber.Ctx) error {
	var req provisionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	w, err := h.service.Ensure(c.UserContext(), req.OwnerID, req.Currency)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(walletResponse{
		ID: w.ID, OwnerID: w.OwnerID, Currency: w.Currency, Balance: w.Balance, Frozen: w.Frozen,
	})
}

// Balance returns the wallet's balances for an owner.
func (h *Handler) Balance(c *fiber.Ctx) error {
	ownerID := c.Params("ownerId")
	b, err := h.service.Balance(c.UserContext(), ownerID, c.Query("currency"))
	if err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			return fiber.NewError(http.StatusNotFound, "wallet not found")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{
		"wallet_id": b.WalletID,
		"owner_id":  b.OwnerID,
		"currency":  b.Currency,
		"balance":   b.Total,
		"frozen":    b.Frozen,
		"available": b.Available,
		"as_of":     b.AsOf,
	})
}

type entryResponse struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	Amount        int64  `json:"amount"`
	Fee           int64  `json:"fee"`
	Currency      string `json:"currency"`
	RelatedTxID   string `json:"related_tx_id,omitempty"`
	Status        string `json:"status"`
	CreatedAtUnix int64  `json:"created_at_unix"`
}

// Statement lists the wallet's ledger entries.
func (h *Handler) Statement(c *fiber.Ctx) error {
	ownerID := c.Params("ownerId")
	entries, err := h.service.Statement(c.UserContext(), ownerID, c.Query("currency"))
	if err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			return fiber.NewError(http.StatusNotFound, "wallet not found")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			ID:            e.ID,
			Type:          string(e.Type),
			Amount:        e.Amount,
			Fee:           e.Fee,
			Currency:      e.Currency,
			RelatedTxID:   e.RelatedTxID,
			Status:        string(e.Status),
			CreatedAtUnix: e.CreatedAt.Unix(),
		})
	}
	return c.JSON(fiber.Map{"owner_id": ownerID, "entries": out})
}
