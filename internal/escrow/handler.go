package escrow

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/paylock/paylock/internal/ledger"
	"github.com/paylock/paylock/internal/money"
)

// Handler exposes escrow transaction endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	PayerID  string `json:"payer_id"`
	PayeeID  string `json:"payee_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type escrowResponse struct {
	ID             string `json:"id"`
	PayerID        string `json:"payer_id"`
	PayeeID        string `json:"payee_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	PlatformFee    int64  `json:"platform_fee"`
	ProcessingFee  int64  `json:"processing_fee"`
	Status         string `json:"status"`
	ReleasedAmount int64  `json:"released_amount,omitempty"`
}

func toEscrowResponse(esc ledger.Escrow) escrowResponse {
	return escrowResponse{
		ID:             esc.ID,
		PayerID:        esc.PayerID,
		PayeeID:        esc.PayeeID,
		Amount:         esc.Amount,
		Currency:       esc.Currency,
		PlatformFee:    esc.PlatformFee,
		ProcessingFee:  esc.ProcessingFee,
		Status:         string(esc.Status),
		ReleasedAmount: esc.ReleasedAmount,
	}
}

// Create opens an escrow transaction in pending state.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}
	esc, err := h.service.Create(c.UserContext(), CreateInput{
		PayerID: req.PayerID,
		PayeeID: req.PayeeID,
		Amount:  money.New(req.Amount, currency),
	})
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(toEscrowResponse(esc))
}

type fundRequest struct {
	ClientTxID string `json:"client_tx_id"`
}

// Fund escrows the payer's money for a pending transaction.
func (h *Handler) Fund(c *fiber.Ctx) error {
	var req fundRequest
	_ = c.BodyParser(&req) // body is optional; client_tx_id defaults server-side
	res, err := h.service.Fund(c.UserContext(), c.Params("escrowId"), req.ClientTxID)
	if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
		return mapError(err)
	}
	return c.JSON(fiber.Map{
		"escrow":        toEscrowResponse(res.Escrow),
		"payer_balance": res.PayerBalance,
		"payer_frozen":  res.PayerFrozen,
	})
}

type releaseRequest struct {
	ReleaseAmount int64  `json:"release_amount"`
	ActorID       string `json:"actor_id"`
	ActorOperator bool   `json:"actor_operator"`
	ClientTxID    string `json:"client_tx_id"`
}

// Release pays the payee out of escrow, fully or partially.
func (h *Handler) Release(c *fiber.Ctx) error {
	var req releaseRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.service.Release(c.UserContext(), ReleaseInput{
		EscrowID:      c.Params("escrowId"),
		ReleaseAmount: req.ReleaseAmount,
		ActorID:       req.ActorID,
		ActorOperator: req.ActorOperator,
		ClientTxID:    req.ClientTxID,
	})
	if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
		return mapError(err)
	}
	return c.JSON(fiber.Map{
		"escrow":        toEscrowResponse(res.Escrow),
		"released":      res.ReleasedAmount,
		"refunded":      res.RefundedAmount,
		"fees":          res.FeesTaken,
		"payee_balance": res.PayeeBalance,
	})
}

// Cancel voids a pending transaction.
func (h *Handler) Cancel(c *fiber.Ctx) error {
	esc, err := h.service.Cancel(c.UserContext(), c.Params("escrowId"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(toEscrowResponse(esc))
}

// Get returns an escrow transaction, the read contract used by invoicing.
func (h *Handler) Get(c *fiber.Ctx) error {
	esc, err := h.service.Get(c.UserContext(), c.Params("escrowId"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(toEscrowResponse(esc))
}

type disputeRequest struct {
	OpenedBy string `json:"opened_by"`
	Reason   string `json:"reason"`
}

type disputeResponse struct {
	ID         string `json:"id"`
	EscrowID   string `json:"escrow_id"`
	OpenedBy   string `json:"opened_by"`
	Respondent string `json:"respondent"`
	Status     string `json:"status"`
	Resolution string `json:"resolution,omitempty"`
}

func toDisputeResponse(d ledger.Dispute) disputeResponse {
	return disputeResponse{
		ID:         d.ID,
		EscrowID:   d.EscrowID,
		OpenedBy:   d.OpenedBy,
		Respondent: d.Respondent,
		Status:     string(d.Status),
		Resolution: d.Resolution,
	}
}

// OpenDispute freezes the transaction pending resolution.
func (h *Handler) OpenDispute(c *fiber.Ctx) error {
	var req disputeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	d, err := h.service.OpenDispute(c.UserContext(), DisputeInput{
		EscrowID: c.Params("escrowId"),
		OpenedBy: req.OpenedBy,
		Reason:   req.Reason,
	})
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(toDisputeResponse(d))
}

// ReviewDispute moves an open dispute into arbitration.
func (h *Handler) ReviewDispute(c *fiber.Ctx) error {
	d, err := h.service.ReviewDispute(c.UserContext(), c.Params("disputeId"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(toDisputeResponse(d))
}

type resolveRequest struct {
	Resolution string `json:"resolution"`
	ReleaseBps int64  `json:"release_bps"`
	ClientTxID string `json:"client_tx_id"`
}

// ResolveDispute applies a release, refund or split outcome.
func (h *Handler) ResolveDispute(c *fiber.Ctx) error {
	var req resolveRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.service.ResolveDispute(c.UserContext(), ResolveInput{
		DisputeID:  c.Params("disputeId"),
		Kind:       ledger.ResolutionKind(req.Resolution),
		ReleaseBps: req.ReleaseBps,
		ClientTxID: req.ClientTxID,
	})
	if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
		return mapError(err)
	}
	return c.JSON(fiber.Map{
		"dispute":  toDisputeResponse(res.Dispute),
		"escrow":   toEscrowResponse(res.Release.Escrow),
		"released": res.Release.ReleasedAmount,
		"refunded": res.Release.RefundedAmount,
	})
}

// GetDispute returns a dispute record.
func (h *Handler) GetDispute(c *fiber.Ctx) error {
	d, err := h.service.GetDispute(c.UserContext(), c.Params("disputeId"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(toDisputeResponse(d))
}

// mapError translates domain errors into HTTP status codes.
func mapError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return fiber.NewError(http.StatusUnprocessableEntity, "insufficient funds")
	case errors.Is(err, ledger.ErrInvalidState):
		return fiber.NewError(http.StatusConflict, "invalid state for operation")
	case errors.Is(err, ledger.ErrDisputeAlreadyOpen):
		return fiber.NewError(http.StatusConflict, "dispute already open")
	case errors.Is(err, ledger.ErrAmountExceedsEscrow):
		return fiber.NewError(http.StatusBadRequest, "release amount exceeds escrowed amount")
	case errors.Is(err, ledger.ErrEscrowNotFound), errors.Is(err, ledger.ErrDisputeNotFound), errors.Is(err, ledger.ErrWalletNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrConcurrencyConflict):
		return fiber.NewError(http.StatusConflict, "concurrent modification, retry with the same client_tx_id")
	case errors.Is(err, ErrSelfPayment), errors.Is(err, ErrNotParticipant), errors.Is(err, money.ErrInvalidAmount), errors.Is(err, money.ErrCurrencyMismatch):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotAuthorized):
		return fiber.NewError(http.StatusForbidden, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
