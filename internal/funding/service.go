package funding

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/paylock/paylock/internal/event"
	"github.com/paylock/paylock/internal/fees"
	"github.com/paylock/paylock/internal/ledger"
	"github.com/paylock/paylock/internal/metrics"
	"github.com/paylock/paylock/internal/money"
)

var (
	// ErrProcessorDeclined occurs when the external processor refuses the
	// charge. The wallet is never touched in that case.
	ErrProcessorDeclined = errors.New("payment processor declined")

	// ErrProcessorUnavailable occurs when the processor does not answer
	// within the configured deadline.
	ErrProcessorUnavailable = errors.New("payment processor unavailable")
)

// Service coordinates wallet top-ups and withdrawals against the ledger
// and an external payment processor.
type Service struct {
	store     ledger.Store
	processor Processor
	events    event.Publisher
	collector *metrics.Collector
	timeout   time.Duration
}

// NewService constructs a funding service. A nil processor falls back to
// the static always-approve connector.
func NewService(store ledger.Store, processor Processor, events event.Publisher, collector *metrics.Collector, timeout time.Duration) *Service {
	if processor == nil {
		processor = StaticProcessor{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{store: store, processor: processor, events: events, collector: collector, timeout: timeout}
}

// TopUpInput captures a wallet top-up request.
type TopUpInput struct {
	OwnerID     string
	Amount      money.Money
	MethodToken string
	ClientTxID  string
}

// WithdrawInput captures a withdrawal request.
type WithdrawInput struct {
	OwnerID     string
	Amount      money.Money
	MethodToken string
	ClientTxID  string
}

// Result is the domain outcome of a funding operation.
type Result struct {
	EntryID       string
	Status        ledger.EntryStatus
	WalletBalance int64
	ProcessorRef  string
	Fee           int64
	CompletedAt   time.Time
}

// TopUp charges the external method and credits the wallet net of the
// deposit fee. A declined or timed-out charge leaves the wallet
// untouched.
func (s *Service) TopUp(ctx context.Context, input TopUpInput) (Result, error) {
	start := time.Now()
	res, err := s.topUp(ctx, input)
	s.collector.RecordOperation("top_up", time.Since(start).Seconds(), err)
	return res, err
}

func (s *Service) topUp(ctx context.Context, input TopUpInput) (Result, error) {
	if !input.Amount.Positive() {
		return Result{}, money.ErrInvalidAmount
	}
	if input.ClientTxID == "" {
		input.ClientTxID = uuid.NewString()
	}

	fee, err := fees.Compute(fees.OpDeposit, input.Amount)
	if err != nil {
		return Result{}, err
	}

	decision, err := s.authorize(ctx, Authorization{
		MethodToken: input.MethodToken,
		Amount:      input.Amount.Amount,
		Currency:    input.Amount.Currency,
	})
	if err != nil {
		return Result{}, err
	}

	res, err := s.store.Deposit(ctx, ledger.DepositParams{
		OwnerID:    input.OwnerID,
		Amount:     input.Amount.Amount,
		Fee:        fee.Amount,
		Currency:   input.Amount.Currency,
		ClientTxID: input.ClientTxID,
	})
	if err != nil {
		return toResult(res, decision.Reference, fee.Amount), err
	}

	s.collector.ObserveBalance(input.OwnerID, input.Amount.Currency, res.Balance)
	s.publish(ctx, event.KindDepositCompleted, map[string]string{
		"entry_id": res.EntryID,
		"owner_id": input.OwnerID,
		"amount":   strconv.FormatInt(input.Amount.Amount, 10),
		"fee":      strconv.FormatInt(fee.Amount, 10),
		"currency": input.Amount.Currency,
	})
	return toResult(res, decision.Reference, fee.Amount), nil
}

// Withdraw orders a payout and optimistically debits the wallet. The
// entry stays in processing state until ConfirmPayout settles it.
func (s *Service) Withdraw(ctx context.Context, input WithdrawInput) (Result, error) {
	start := time.Now()
	res, err := s.withdraw(ctx, input)
	s.collector.RecordOperation("withdraw", time.Since(start).Seconds(), err)
	return res, err
}

func (s *Service) withdraw(ctx context.Context, input WithdrawInput) (Result, error) {
	if !input.Amount.Positive() {
		return Result{}, money.ErrInvalidAmount
	}
	if input.ClientTxID == "" {
		input.ClientTxID = uuid.NewString()
	}

	fee, err := fees.Compute(fees.OpWithdrawal, input.Amount)
	if err != nil {
		return Result{}, err
	}

	res, err := s.store.Withdraw(ctx, ledger.WithdrawParams{
		OwnerID:    input.OwnerID,
		Amount:     input.Amount.Amount,
		Fee:        fee.Amount,
		Currency:   input.Amount.Currency,
		ClientTxID: input.ClientTxID,
	})
	if err != nil {
		return toResult(res, "", fee.Amount), err
	}

	decision, err := s.payout(ctx, PayoutOrder{
		MethodToken: input.MethodToken,
		Amount:      input.Amount.Amount,
		Currency:    input.Amount.Currency,
	})
	if err != nil {
		if errors.Is(err, ErrProcessorUnavailable) {
			// Timeout is an unknown outcome: the processor may still execute
			// the payout. The entry stays in processing until reconciliation
			// settles it through ConfirmPayout; re-crediting here would risk
			// a double credit.
			return toResult(res, "", fee.Amount), err
		}
		// Explicit decline: the payout will not happen, settle the entry as
		// failed so the principal flows back to the wallet.
		settled, settleErr := s.store.SettleWithdrawal(ctx, res.EntryID, false)
		if settleErr != nil {
			return toResult(res, "", fee.Amount), settleErr
		}
		return toResult(settled, "", fee.Amount), err
	}

	s.collector.ObserveBalance(input.OwnerID, input.Amount.Currency, res.Balance)
	s.publish(ctx, event.KindWithdrawalRequested, map[string]string{
		"entry_id":      res.EntryID,
		"owner_id":      input.OwnerID,
		"amount":        strconv.FormatInt(input.Amount.Amount, 10),
		"fee":           strconv.FormatInt(fee.Amount, 10),
		"currency":      input.Amount.Currency,
		"processor_ref": decision.Reference,
	})
	return toResult(res, decision.Reference, fee.Amount), nil
}

// ConfirmPayout settles a processing withdrawal after the processor
// reports the terminal outcome. A failed payout re-credits the principal
// to the wallet; the flat fee is not refunded.
func (s *Service) ConfirmPayout(ctx context.Context, entryID string, success bool) (Result, error) {
	start := time.Now()
	res, err := s.confirmPayout(ctx, entryID, success)
	s.collector.RecordOperation("confirm_payout", time.Since(start).Seconds(), err)
	return res, err
}

func (s *Service) confirmPayout(ctx context.Context, entryID string, success bool) (Result, error) {
	res, err := s.store.SettleWithdrawal(ctx, entryID, success)
	if err != nil {
		return Result{}, err
	}

	s.publish(ctx, event.KindWithdrawalSettled, map[string]string{
		"entry_id": res.EntryID,
		"status":   string(res.Status),
	})
	return toResult(res, "", 0), nil
}

// authorize calls the processor under a bounded deadline so a hung
// connector cannot hold a request open indefinitely.
func (s *Service) authorize(ctx context.Context, input Authorization) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	decision, err := s.processor.Authorize(ctx, input)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Decision{}, ErrProcessorUnavailable
		}
		return Decision{}, err
	}
	if !decision.Approved {
		return Decision{}, ErrProcessorDeclined
	}
	return decision, nil
}

func (s *Service) payout(ctx context.Context, input PayoutOrder) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	decision, err := s.processor.Payout(ctx, input)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Decision{}, ErrProcessorUnavailable
		}
		return Decision{}, err
	}
	if !decision.Approved {
		return Decision{}, ErrProcessorDeclined
	}
	return decision, nil
}

func toResult(res ledger.FundingResult, ref string, fee int64) Result {
	return Result{
		EntryID:       res.EntryID,
		Status:        res.Status,
		WalletBalance: res.Balance,
		ProcessorRef:  ref,
		Fee:           fee,
		CompletedAt:   time.Now().UTC(),
	}
}

func (s *Service) publish(ctx context.Context, kind string, fields map[string]string) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(ctx, event.New(kind, fields))
}
