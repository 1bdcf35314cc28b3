package transfer

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/paylock/paylock/internal/ledger"
	"github.com/paylock/paylock/internal/money"
)

// Handler exposes transfer endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a transfer handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type transferRequest struct {
	SenderID        string `json:"sender_id"`
	RecipientHandle string `json:"recipient_handle"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Note            string `json:"note"`
	ClientTxID      string `json:"client_tx_id"`
}

// Create processes a direct wallet-to-wallet transfer.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}
	res, err := h.service.Transfer(c.UserContext(), Input{
		SenderID:        req.SenderID,
		RecipientHandle: req.RecipientHandle,
		Amount:          money.New(req.Amount, currency),
		Note:            req.Note,
		ClientTxID:      req.ClientTxID,
	})
	if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
		switch {
		case errors.Is(err, ledger.ErrInsufficientFunds):
			return fiber.NewError(http.StatusUnprocessableEntity, "insufficient funds")
		case errors.Is(err, ErrRecipientNotFound):
			return fiber.NewError(http.StatusNotFound, "recipient not found")
		case errors.Is(err, ErrSelfTransfer), errors.Is(err, money.ErrInvalidAmount), errors.Is(err, ledger.ErrCurrencyMismatch):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ledger.ErrConcurrencyConflict):
			return fiber.NewError(http.StatusConflict, "concurrent update, retry")
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"transaction_id": res.TransactionID,
		"recipient_id":   res.RecipientID,
		"fee":            res.Fee,
		"from_balance":   res.FromBalance,
		"to_balance":     res.ToBalance,
		"completed_at":   res.CompletedAt,
	})
}
