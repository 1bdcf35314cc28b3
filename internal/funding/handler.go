package funding

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/paylock/paylock/internal/ledger"
	"github.com/paylock/paylock/internal/money"
)

// Handler exposes HTTP endpoints for wallet funding flows.
type Handler struct {
	service *Service
}

// NewHandler constructs a funding handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type fundingRequest struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	MethodToken string `json:"method_token"`
	ClientTxID  string `json:"client_tx_id"`
}

func (r fundingRequest) currencyOrDefault() string {
	if r.Currency == "" {
		return "USD"
	}
	return r.Currency
}

type settleRequest struct {
	Success bool `json:"success"`
}

type fundingResponse struct {
	EntryID       string `json:"entry_id"`
	Status        string `json:"status"`
	WalletBalance int64  `json:"wallet_balance"`
	ProcessorRef  string `json:"processor_ref,omitempty"`
	Fee           int64  `json:"fee"`
}

// TopUp processes an externally funded wallet credit.
func (h *Handler) TopUp(c *fiber.Ctx) error {
	ownerID := c.Params("ownerId")
	var req fundingRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	res, err := h.service.TopUp(c.UserContext(), TopUpInput{
		OwnerID:     ownerID,
		Amount:      money.New(req.Amount, req.currencyOrDefault()),
		MethodToken: req.MethodToken,
		ClientTxID:  req.ClientTxID,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateTransaction) {
			return c.Status(http.StatusOK).JSON(toResponse(res))
		}
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(toResponse(res))
}

// Withdraw processes a wallet debit paid out externally.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	ownerID := c.Params("ownerId")
	var req fundingRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	res, err := h.service.Withdraw(c.UserContext(), WithdrawInput{
		OwnerID:     ownerID,
		Amount:      money.New(req.Amount, req.currencyOrDefault()),
		MethodToken: req.MethodToken,
		ClientTxID:  req.ClientTxID,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateTransaction) {
			return c.Status(http.StatusOK).JSON(toResponse(res))
		}
		if errors.Is(err, ErrProcessorUnavailable) && res.EntryID != "" {
			// Unknown payout outcome: the debit stands and the entry stays
			// in processing until a settle call reconciles it.
			return c.Status(http.StatusAccepted).JSON(toResponse(res))
		}
		return mapError(err)
	}
	return c.Status(http.StatusAccepted).JSON(toResponse(res))
}

// Settle records the processor's terminal payout outcome.
func (h *Handler) Settle(c *fiber.Ctx) error {
	entryID := c.Params("entryId")
	var req settleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	res, err := h.service.ConfirmPayout(c.UserContext(), entryID, req.Success)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(res))
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return fiber.NewError(http.StatusUnprocessableEntity, "insufficient funds")
	case errors.Is(err, ErrProcessorDeclined):
		return fiber.NewError(http.StatusPaymentRequired, err.Error())
	case errors.Is(err, ErrProcessorUnavailable):
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ledger.ErrWalletNotFound), errors.Is(err, ledger.ErrEntryNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrInvalidState):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, money.ErrInvalidAmount):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}

func toResponse(res Result) fundingResponse {
	return fundingResponse{
		EntryID:       res.EntryID,
		Status:        string(res.Status),
		WalletBalance: res.WalletBalance,
		ProcessorRef:  res.ProcessorRef,
		Fee:           res.Fee,
	}
}
