package transfer

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/paylock/paylock/internal/directory"
	"github.com/paylock/paylock/internal/event"
	"github.com/paylock/paylock/internal/fees"
	"github.com/paylock/paylock/internal/ledger"
	"github.com/paylock/paylock/internal/metrics"
	"github.com/paylock/paylock/internal/money"
)

var (
	// ErrRecipientNotFound occurs when the recipient handle resolves to no
	// registered party.
	ErrRecipientNotFound = errors.New("recipient not found")

	// ErrSelfTransfer occurs when sender and recipient are the same party.
	ErrSelfTransfer = errors.New("cannot transfer to own wallet")
)

// Service moves funds directly between wallets, outside of escrow.
type Service struct {
	store     ledger.Store
	parties   directory.Repository
	events    event.Publisher
	collector *metrics.Collector
}

// NewService constructs a transfer service.
func NewService(store ledger.Store, parties directory.Repository, events event.Publisher, collector *metrics.Collector) *Service {
	return &Service{store: store, parties: parties, events: events, collector: collector}
}

// Input captures a transfer request. RecipientHandle is resolved through
// the party directory; the sender pays the fee on top of the amount.
type Input struct {
	SenderID        string
	RecipientHandle string
	Amount          money.Money
	Note            string
	ClientTxID      string
}

// Result describes the ledger outcome of a transfer.
type Result struct {
	TransactionID string
	RecipientID   string
	Fee           int64
	FromBalance   int64
	ToBalance     int64
	CompletedAt   time.Time
}

// Transfer debits the sender for amount plus fee and credits the
// recipient with the full amount in a single atomic posting.
func (s *Service) Transfer(ctx context.Context, input Input) (Result, error) {
	start := time.Now()
	res, err := s.transfer(ctx, input)
	s.collector.RecordOperation("transfer", time.Since(start).Seconds(), err)
	return res, err
}

func (s *Service) transfer(ctx context.Context, input Input) (Result, error) {
	if !input.Amount.Positive() {
		return Result{}, money.ErrInvalidAmount
	}
	if input.ClientTxID == "" {
		input.ClientTxID = uuid.NewString()
	}

	recipient, err := s.parties.ByHandle(ctx, input.RecipientHandle)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return Result{}, ErrRecipientNotFound
		}
		return Result{}, err
	}
	if recipient.ID == input.SenderID {
		return Result{}, ErrSelfTransfer
	}

	fee, err := fees.Compute(fees.OpTransfer, input.Amount)
	if err != nil {
		return Result{}, err
	}

	res, err := s.store.Transfer(ctx, ledger.TransferParams{
		SenderID:    input.SenderID,
		RecipientID: recipient.ID,
		Amount:      input.Amount.Amount,
		Fee:         fee.Amount,
		Currency:    input.Amount.Currency,
		ClientTxID:  input.ClientTxID,
	})
	if err != nil {
		return replayResult(res, recipient.ID, fee.Amount), err
	}

	s.collector.ObserveBalance(input.SenderID, input.Amount.Currency, res.FromBalance)
	s.collector.ObserveBalance(recipient.ID, input.Amount.Currency, res.ToBalance)
	s.publish(ctx, res, input, recipient.ID, fee.Amount)

	return Result{
		TransactionID: res.TransactionID,
		RecipientID:   recipient.ID,
		Fee:           fee.Amount,
		FromBalance:   res.FromBalance,
		ToBalance:     res.ToBalance,
		CompletedAt:   time.Now().UTC(),
	}, nil
}

// replayResult carries the original outcome back to the caller when the
// store reports a duplicate client transaction id.
func replayResult(res ledger.TransferResult, recipientID string, fee int64) Result {
	if res.TransactionID == "" {
		return Result{}
	}
	return Result{
		TransactionID: res.TransactionID,
		RecipientID:   recipientID,
		Fee:           fee,
		FromBalance:   res.FromBalance,
		ToBalance:     res.ToBalance,
	}
}

func (s *Service) publish(ctx context.Context, res ledger.TransferResult, input Input, recipientID string, fee int64) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(ctx, event.New(event.KindTransferCompleted, map[string]string{
		"transaction_id": res.TransactionID,
		"sender_id":      input.SenderID,
		"recipient_id":   recipientID,
		"amount":         strconv.FormatInt(input.Amount.Amount, 10),
		"fee":            strconv.FormatInt(fee, 10),
		"currency":       input.Amount.Currency,
		"note":           input.Note,
	}))
}
