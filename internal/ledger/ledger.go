package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/paylock/paylock/internal/money"
)

var (
	// ErrInsufficientFunds occurs when a wallet's available balance cannot
	// cover a requested debit plus its fee.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateTransaction indicates the provided client transaction
	// identifier was already applied; the operation is idempotent and the
	// original result is returned alongside this error.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrInvalidState occurs when a transition is attempted against an
	// escrow transaction, dispute or ledger entry not in an eligible state.
	ErrInvalidState = errors.New("invalid state for operation")

	// ErrDisputeAlreadyOpen occurs when a dispute is opened against an
	// escrow transaction that already has an active dispute.
	ErrDisputeAlreadyOpen = errors.New("dispute already open")

	// ErrAmountExceedsEscrow occurs when a partial release asks for more
	// than the escrowed principal.
	ErrAmountExceedsEscrow = errors.New("release amount exceeds escrowed amount")

	// ErrWalletNotFound occurs when no wallet exists for an owner+currency.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrEscrowNotFound occurs when an escrow transaction id is unknown.
	ErrEscrowNotFound = errors.New("escrow transaction not found")

	// ErrDisputeNotFound occurs when a dispute id is unknown.
	ErrDisputeNotFound = errors.New("dispute not found")

	// ErrEntryNotFound occurs when a ledger entry id is unknown.
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrCurrencyMismatch occurs when an operation mixes currencies.
	ErrCurrencyMismatch = money.ErrCurrencyMismatch

	// ErrConcurrencyConflict indicates a row-lock or serialization conflict;
	// callers may safely retry with the same client transaction id.
	ErrConcurrencyConflict = errors.New("concurrent modification conflict")
)

const (
	// FeeOwnerID owns the platform revenue wallet that collects all fees,
	// keeping the books balanced for reconciliation.
	FeeOwnerID = "platform:fees"

	// PayoutSuspenseOwnerID owns the suspense wallet that parks funds of
	// withdrawals awaiting external payout confirmation.
	PayoutSuspenseOwnerID = "suspense:payout"
)

// Wallet is a per-owner, per-currency balance. Frozen is the escrowed
// portion of Balance; Balance - Frozen is spendable.
type Wallet struct {
	ID        string
	OwnerID   string
	Currency  string
	Balance   int64
	Frozen    int64
	CreatedAt time.Time
}

// Available returns the spendable portion of the balance.
func (w Wallet) Available() int64 {
	return w.Balance - w.Frozen
}

// EntryType classifies a wallet ledger entry.
type EntryType string

const (
	EntryDeposit       EntryType = "deposit"
	EntryWithdrawal    EntryType = "withdrawal"
	EntryTransferIn    EntryType = "transfer_in"
	EntryTransferOut   EntryType = "transfer_out"
	EntryEscrowHold    EntryType = "escrow_hold"
	EntryEscrowRelease EntryType = "escrow_release"
	EntryEscrowRefund  EntryType = "escrow_refund"
)

// EntryStatus tracks settlement of a ledger entry. Entries transition
// processing -> completed/failed exactly once and are otherwise immutable.
type EntryStatus string

const (
	EntryProcessing EntryStatus = "processing"
	EntryCompleted  EntryStatus = "completed"
	EntryFailed     EntryStatus = "failed"
)

// Entry is an append-only record of a single balance-affecting event.
type Entry struct {
	ID          string
	WalletID    string
	Type        EntryType
	Amount      int64
	Fee         int64
	Currency    string
	RelatedTxID string
	ClientTxID  string
	Status      EntryStatus
	CreatedAt   time.Time
}

// EscrowStatus tracks the escrow transaction lifecycle.
type EscrowStatus string

const (
	EscrowPending   EscrowStatus = "pending"
	EscrowHeld      EscrowStatus = "escrowed"
	EscrowDisputed  EscrowStatus = "disputed"
	EscrowCompleted EscrowStatus = "completed"
	EscrowRefunded  EscrowStatus = "refunded"
	EscrowCancelled EscrowStatus = "cancelled"
)

// Escrow is a payer-to-payee movement with milestone-gated release. Fees
// are fixed at creation and re-applied at release, never recomputed.
type Escrow struct {
	ID             string
	PayerID        string
	PayeeID        string
	Amount         int64
	Currency       string
	PlatformFee    int64
	ProcessingFee  int64
	Status         EscrowStatus
	ReleasedAmount int64
	CreatedAt      time.Time
	EscrowedAt     *time.Time
	ClosedAt       *time.Time
}

// DisputeStatus tracks the dispute lifecycle.
type DisputeStatus string

const (
	DisputeOpen        DisputeStatus = "open"
	DisputeUnderReview DisputeStatus = "under_review"
	DisputeResolved    DisputeStatus = "resolved"
	DisputeClosed      DisputeStatus = "closed"
)

// Dispute freezes an escrow transaction until resolution. At most one
// active dispute may exist per escrow transaction.
type Dispute struct {
	ID         string
	EscrowID   string
	OpenedBy   string
	Respondent string
	Reason     string
	Status     DisputeStatus
	Resolution string
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// ResolutionKind selects how a dispute settles escrowed funds.
type ResolutionKind string

const (
	ResolveRelease ResolutionKind = "release"
	ResolveRefund  ResolutionKind = "refund"
	ResolveSplit   ResolutionKind = "split"
)

// Resolution describes the outcome applied when resolving a dispute.
// For ResolveSplit, ReleaseBps is the payee's share in basis points
// (0..10000); the remainder returns to the payer.
type Resolution struct {
	Kind       ResolutionKind
	ReleaseBps int64
}

// CreateEscrowParams carries the data persisted for a new escrow
// transaction. No money moves at creation.
type CreateEscrowParams struct {
	PayerID       string
	PayeeID       string
	Amount        int64
	Currency      string
	PlatformFee   int64
	ProcessingFee int64
}

// TransferParams describes an atomic two-wallet move.
type TransferParams struct {
	SenderID    string
	RecipientID string
	Amount      int64
	Fee         int64
	Currency    string
	ClientTxID  string
}

// DepositParams credits a wallet from an external funding source.
type DepositParams struct {
	OwnerID    string
	Amount     int64
	Fee        int64
	Currency   string
	ClientTxID string
}

// WithdrawParams debits a wallet for an external payout.
type WithdrawParams struct {
	OwnerID    string
	Amount     int64
	Fee        int64
	Currency   string
	ClientTxID string
}

// HoldResult is the outcome of escrowing funds.
type HoldResult struct {
	Escrow       Escrow
	PayerBalance int64
	PayerFrozen  int64
}

// ReleaseResult is the outcome of releasing or refunding escrowed funds.
type ReleaseResult struct {
	Escrow         Escrow
	PayerBalance   int64
	PayerFrozen    int64
	PayeeBalance   int64
	ReleasedAmount int64
	RefundedAmount int64
	FeesTaken      int64
}

// ResolveResult is the outcome of a dispute resolution.
type ResolveResult struct {
	Dispute Dispute
	Release ReleaseResult
}

// TransferResult is the outcome of a wallet-to-wallet transfer.
type TransferResult struct {
	TransactionID string
	FromBalance   int64
	ToBalance     int64
}

// FundingResult is the outcome of a deposit or withdrawal posting.
type FundingResult struct {
	EntryID string
	Status  EntryStatus
	Balance int64
}

// Store is the atomic unit of work over wallets, ledger entries, escrow
// transactions and disputes. Every mutating method either fully applies
// its balance checks, balance mutations and entry appends, or leaves no
// observable side effect. Backends: Postgres (row locks inside a single
// transaction) and an in-memory store for tests.
type Store interface {
	EnsureWallet(ctx context.Context, ownerID, currency string) (Wallet, error)
	WalletByOwner(ctx context.Context, ownerID, currency string) (Wallet, error)
	EntriesForWallet(ctx context.Context, walletID string) ([]Entry, error)

	CreateEscrow(ctx context.Context, p CreateEscrowParams) (Escrow, error)
	EscrowByID(ctx context.Context, id string) (Escrow, error)
	EscrowFunds(ctx context.Context, escrowID, clientTxID string) (HoldResult, error)
	ReleaseEscrow(ctx context.Context, escrowID string, releaseAmount int64, clientTxID string) (ReleaseResult, error)
	CancelEscrow(ctx context.Context, escrowID string) (Escrow, error)

	OpenDispute(ctx context.Context, escrowID, openedBy, reason string) (Dispute, error)
	DisputeByID(ctx context.Context, id string) (Dispute, error)
	ReviewDispute(ctx context.Context, disputeID string) (Dispute, error)
	ResolveDispute(ctx context.Context, disputeID string, res Resolution, clientTxID string) (ResolveResult, error)

	Transfer(ctx context.Context, p TransferParams) (TransferResult, error)
	Deposit(ctx context.Context, p DepositParams) (FundingResult, error)
	Withdraw(ctx context.Context, p WithdrawParams) (FundingResult, error)
	SettleWithdrawal(ctx context.Context, entryID string, success bool) (FundingResult, error)
}
