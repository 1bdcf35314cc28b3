package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paylock/paylock/internal/money"
)

// PostgresStore persists wallets, ledger entries, escrow transactions and
// disputes in PostgreSQL. Every mutating operation runs in a single
// transaction with row-level locks on the wallet rows it touches.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const walletColumns = `id, owner_id, currency, balance, frozen, created_at`
const escrowColumns = `id, payer_id, payee_id, amount, currency, platform_fee, processing_fee, status, released_amount, created_at, escrowed_at, closed_at`
const disputeColumns = `id, escrow_id, opened_by, respondent, reason, status, resolution, created_at, resolved_at`
const entryColumns = `id, wallet_id, type, amount, fee, currency, related_tx_id, client_tx_id, status, created_at`

func (s *PostgresStore) EnsureWallet(ctx context.Context, ownerID, currency string) (Wallet, error) {
	_, err := s.db.Exec(ctx, `INSERT INTO wallets (id, owner_id, currency, balance, frozen, created_at)
        VALUES ($1, $2, $3, 0, 0, $4) ON CONFLICT (owner_id, currency) DO NOTHING`,
		uuid.New(), ownerID, currency, time.Now().UTC())
	if err != nil {
		return Wallet{}, mapPgError(err)
	}
	return s.WalletByOwner(ctx, ownerID, currency)
}

func (s *PostgresStore) WalletByOwner(ctx context.Context, ownerID, currency string) (Wallet, error) {
	row := s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE owner_id = $1 AND currency = $2`, ownerID, currency)
	w, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, mapPgError(err)
	}
	return w, nil
}

func (s *PostgresStore) EntriesForWallet(ctx context.Context, walletID string) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `SELECT `+entryColumns+` FROM wallet_entries WHERE wallet_id = $1 ORDER BY created_at`, walletID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.WalletID, &e.Type, &e.Amount, &e.Fee, &e.Currency, &e.RelatedTxID, &e.ClientTxID, &e.Status, &e.CreatedAt); err != nil {
			return nil, mapPgError(err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateEscrow(ctx context.Context, p CreateEscrowParams) (Escrow, error) {
	esc := Escrow{
		ID:            uuid.NewString(),
		PayerID:       p.PayerID,
		PayeeID:       p.PayeeID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		PlatformFee:   p.PlatformFee,
		ProcessingFee: p.ProcessingFee,
		Status:        EscrowPending,
		CreatedAt:     time.Now().UTC(),
	}
	_, err := s.db.Exec(ctx, `INSERT INTO escrows (id, payer_id, payee_id, amount, currency, platform_fee, processing_fee, status, released_amount, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9)`,
		esc.ID, esc.PayerID, esc.PayeeID, esc.Amount, esc.Currency, esc.PlatformFee, esc.ProcessingFee, esc.Status, esc.CreatedAt)
	if err != nil {
		return Escrow{}, mapPgError(err)
	}
	return esc, nil
}

func (s *PostgresStore) EscrowByID(ctx context.Context, id string) (Escrow, error) {
	row := s.db.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id)
	esc, err := scanEscrow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Escrow{}, ErrEscrowNotFound
		}
		return Escrow{}, mapPgError(err)
	}
	return esc, nil
}

func (s *PostgresStore) EscrowFunds(ctx context.Context, escrowID, clientTxID string) (HoldResult, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return HoldResult{}, mapPgError(err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if dup, err := entryExists(ctx, tx, EntryEscrowHold, clientTxID); err != nil {
		return HoldResult{}, err
	} else if dup {
		esc, payer, err := s.holdState(ctx, tx, escrowID)
		if err != nil {
			return HoldResult{}, err
		}
		return HoldResult{Escrow: esc, PayerBalance: payer.Balance, PayerFrozen: payer.Frozen}, ErrDuplicateTransaction
	}

	esc, err := lockEscrow(ctx, tx, escrowID)
	if err != nil {
		return HoldResult{}, err
	}
	if esc.Status != EscrowPending {
		return HoldResult{}, ErrInvalidState
	}

	payer, err := ensureWalletTx(ctx, tx, esc.PayerID, esc.Currency)
	if err != nil {
		return HoldResult{}, err
	}
	if payer.Available() < esc.Amount+esc.ProcessingFee {
		return HoldResult{}, ErrInsufficientFunds
	}

	payer.Balance -= esc.ProcessingFee
	payer.Frozen += esc.Amount
	if err := updateWallet(ctx, tx, payer); err != nil {
		return HoldResult{}, err
	}
	if err := creditWallet(ctx, tx, FeeOwnerID, esc.Currency, esc.ProcessingFee); err != nil {
		return HoldResult{}, err
	}
	if err := insertEntry(ctx, tx, payer.ID, EntryEscrowHold, esc.Amount, esc.ProcessingFee, esc.Currency, esc.ID, clientTxID, EntryCompleted); err != nil {
		return HoldResult{}, err
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `UPDATE escrows SET status = $1, escrowed_at = $2 WHERE id = $3`, EscrowHeld, now, esc.ID); err != nil {
		return HoldResult{}, mapPgError(err)
	}
	esc.Status = EscrowHeld
	esc.EscrowedAt = &now

	if err := tx.Commit(ctx); err != nil {
		return HoldResult{}, mapPgError(err)
	}
	return HoldResult{Escrow: esc, PayerBalance: payer.Balance, PayerFrozen: payer.Frozen}, nil
}

func (s *PostgresStore) ReleaseEscrow(ctx context.Context, escrowID string, releaseAmount int64, clientTxID string) (ReleaseResult, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ReleaseResult{}, mapPgError(err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if dup, err := entryExists(ctx, tx, EntryEscrowRelease, clientTxID); err != nil {
		return ReleaseResult{}, err
	} else if dup {
		res, err := s.releaseState(ctx, tx, escrowID)
		if err != nil {
			return ReleaseResult{}, err
		}
		return res, ErrDuplicateTransaction
	}

	esc, err := lockEscrow(ctx, tx, escrowID)
	if err != nil {
		return ReleaseResult{}, err
	}
	if esc.Status != EscrowHeld {
		return ReleaseResult{}, ErrInvalidState
	}
	if releaseAmount <= 0 {
		releaseAmount = esc.Amount
	}
	if releaseAmount > esc.Amount {
		return ReleaseResult{}, ErrAmountExceedsEscrow
	}

	res, err := releaseTx(ctx, tx, esc, releaseAmount, clientTxID)
	if err != nil {
		return ReleaseResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return ReleaseResult{}, mapPgError(err)
	}
	return res, nil
}

func (s *PostgresStore) CancelEscrow(ctx context.Context, escrowID string) (Escrow, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Escrow{}, mapPgError(err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	esc, err := lockEscrow(ctx, tx, escrowID)
	if err != nil {
		return Escrow{}, err
	}
	if esc.Status != EscrowPending {
		return Escrow{}, ErrInvalidState
	}
	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `UPDATE escrows SET status = $1, closed_at = $2 WHERE id = $3`, EscrowCancelled, now, esc.ID); err != nil {
		return Escrow{}, mapPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Escrow{}, mapPgError(err)
	}
	esc.Status = EscrowCancelled
	esc.ClosedAt = &now
	return esc, nil
}

func (s *PostgresStore) OpenDispute(ctx context.Context, escrowID, openedBy, reason string) (Dispute, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Dispute{}, mapPgError(err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	esc, err := lockEscrow(ctx, tx, escrowID)
	if err != nil {
		return Dispute{}, err
	}
	if esc.Status != EscrowPending && esc.Status != EscrowHeld {
		return Dispute{}, ErrInvalidState
	}

	var active int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM disputes WHERE escrow_id = $1 AND status IN ($2, $3)`,
		escrowID, DisputeOpen, DisputeUnderReview).Scan(&active); err != nil {
		return Dispute{}, mapPgError(err)
	}
	if active > 0 {
		return Dispute{}, ErrDisputeAlreadyOpen
	}

	respondent := esc.PayeeID
	if openedBy == esc.PayeeID {
		respondent = esc.PayerID
	}
	d := Dispute{
		ID:         uuid.NewString(),
		EscrowID:   escrowID,
		OpenedBy:   openedBy,
		Respondent: respondent,
		Reason:     reason,
		Status:     DisputeOpen,
		CreatedAt:  time.Now().UTC(),
	}
	if _, err := tx.Exec(ctx, `INSERT INTO disputes (id, escrow_id, opened_by, respondent, reason, status, resolution, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, '', $7)`,
		d.ID, d.EscrowID, d.OpenedBy, d.Respondent, d.Reason, d.Status, d.CreatedAt); err != nil {
		return Dispute{}, mapPgError(err)
	}
	if _, err := tx.Exec(ctx, `UPDATE escrows SET status = $1 WHERE id = $2`, EscrowDisputed, escrowID); err != nil {
		return Dispute{}, mapPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, mapPgError(err)
	}
	return d, nil
}

func (s *PostgresStore) DisputeByID(ctx context.Context, id string) (Dispute, error) {
	row := s.db.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)
	d, err := scanDispute(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrDisputeNotFound
		}
		return Dispute{}, mapPgError(err)
	}
	return d, nil
}

func (s *PostgresStore) ReviewDispute(ctx context.Context, disputeID string) (Dispute, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Dispute{}, mapPgError(err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	d, err := lockDispute(ctx, tx, disputeID)
	if err != nil {
		return Dispute{}, err
	}
	if d.Status != DisputeOpen {
		return Dispute{}, ErrInvalidState
	}
	if _, err := tx.Exec(ctx, `UPDATE disputes SET status = $1 WHERE id = $2`, DisputeUnderReview, d.ID); err != nil {
		return Dispute{}, mapPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, mapPgError(err)
	}
	d.Status = DisputeUnderReview
	return d, nil
}

func (s *PostgresStore) ResolveDispute(ctx context.Context, disputeID string, res Resolution, clientTxID string) (ResolveResult, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ResolveResult{}, mapPgError(err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	d, err := lockDispute(ctx, tx, disputeID)
	if err != nil {
		return ResolveResult{}, err
	}
	if d.Status == DisputeResolved || d.Status == DisputeClosed {
		// Treat a replay against an already resolved dispute as idempotent.
		rel, stateErr := s.releaseState(ctx, tx, d.EscrowID)
		if stateErr != nil {
			return ResolveResult{}, stateErr
		}
		return ResolveResult{Dispute: d, Release: rel}, ErrDuplicateTransaction
	}
	if d.Status != DisputeOpen && d.Status != DisputeUnderReview {
		return ResolveResult{}, ErrInvalidState
	}

	esc, err := lockEscrow(ctx, tx, d.EscrowID)
	if err != nil {
		return ResolveResult{}, err
	}
	if esc.Status != EscrowDisputed {
		return ResolveResult{}, ErrInvalidState
	}

	releaseAmount, err := resolutionReleaseAmount(&esc, res)
	if err != nil {
		return ResolveResult{}, err
	}

	var release ReleaseResult
	if esc.EscrowedAt == nil {
		// No funds were ever held; only a refund-style closure is valid.
		if res.Kind != ResolveRefund {
			return ResolveResult{}, ErrInvalidState
		}
		now := time.Now().UTC()
		if _, err := tx.Exec(ctx, `UPDATE escrows SET status = $1, closed_at = $2 WHERE id = $3`, EscrowRefunded, now, esc.ID); err != nil {
			return ResolveResult{}, mapPgError(err)
		}
		esc.Status = EscrowRefunded
		esc.ClosedAt = &now
		release = ReleaseResult{Escrow: esc}
	} else {
		release, err = releaseTx(ctx, tx, esc, releaseAmount, clientTxID)
		if err != nil {
			return ResolveResult{}, err
		}
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `UPDATE disputes SET status = $1, resolution = $2, resolved_at = $3 WHERE id = $4`,
		DisputeResolved, string(res.Kind), now, d.ID); err != nil {
		return ResolveResult{}, mapPgError(err)
	}
	d.Status = DisputeResolved
	d.Resolution = string(res.Kind)
	d.ResolvedAt = &now

	if err := tx.Commit(ctx); err != nil {
		return ResolveResult{}, mapPgError(err)
	}
	return ResolveResult{Dispute: d, Release: release}, nil
}

func (s *PostgresStore) Transfer(ctx context.Context, p TransferParams) (TransferResult, error) {
	if p.Amount <= 0 {
		return TransferResult{}, money.ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return TransferResult{}, mapPgError(err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if dup, err := entryExists(ctx, tx, EntryTransferOut, p.ClientTxID); err != nil {
		return TransferResult{}, err
	} else if dup {
		from, ferr := walletTx(ctx, tx, p.SenderID, p.Currency, false)
		if ferr != nil {
			return TransferResult{}, ferr
		}
		to, terr := walletTx(ctx, tx, p.RecipientID, p.Currency, false)
		if terr != nil {
			return TransferResult{}, terr
		}
		txID, rerr := relatedTxForClient(ctx, tx, EntryTransferOut, p.ClientTxID)
		if rerr != nil {
			return TransferResult{}, rerr
		}
		return TransferResult{TransactionID: txID, FromBalance: from.Balance, ToBalance: to.Balance}, ErrDuplicateTransaction
	}

	// Lock wallet rows in a stable order to avoid deadlocks between
	// concurrent opposite-direction transfers.
	first, second := p.SenderID, p.RecipientID
	if second < first {
		first, second = second, first
	}
	if _, err := ensureWalletTx(ctx, tx, first, p.Currency); err != nil {
		return TransferResult{}, err
	}
	if _, err := ensureWalletTx(ctx, tx, second, p.Currency); err != nil {
		return TransferResult{}, err
	}

	sender, err := walletTx(ctx, tx, p.SenderID, p.Currency, true)
	if err != nil {
		return TransferResult{}, err
	}
	if sender.Available() < p.Amount+p.Fee {
		return TransferResult{}, ErrInsufficientFunds
	}
	recipient, err := walletTx(ctx, tx, p.RecipientID, p.Currency, true)
	if err != nil {
		return TransferResult{}, err
	}

	sender.Balance -= p.Amount + p.Fee
	recipient.Balance += p.Amount
	if err := updateWallet(ctx, tx, sender); err != nil {
		return TransferResult{}, err
	}
	if err := updateWallet(ctx, tx, recipient); err != nil {
		return TransferResult{}, err
	}
	if err := creditWallet(ctx, tx, FeeOwnerID, p.Currency, p.Fee); err != nil {
		return TransferResult{}, err
	}

	txID := uuid.NewString()
	if err := insertEntry(ctx, tx, sender.ID, EntryTransferOut, p.Amount, p.Fee, p.Currency, txID, p.ClientTxID, EntryCompleted); err != nil {
		return TransferResult{}, err
	}
	if err := insertEntry(ctx, tx, recipient.ID, EntryTransferIn, p.Amount, 0, p.Currency, txID, p.ClientTxID, EntryCompleted); err != nil {
		return TransferResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return TransferResult{}, mapPgError(err)
	}
	return TransferResult{TransactionID: txID, FromBalance: sender.Balance, ToBalance: recipient.Balance}, nil
}

func (s *PostgresStore) Deposit(ctx context.Context, p DepositParams) (FundingResult, error) {
	if p.Amount <= 0 || p.Fee < 0 || p.Fee >= p.Amount {
		return FundingResult{}, money.ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return FundingResult{}, mapPgError(err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if dup, err := entryExists(ctx, tx, EntryDeposit, p.ClientTxID); err != nil {
		return FundingResult{}, err
	} else if dup {
		return s.fundingState(ctx, tx, EntryDeposit, p.ClientTxID, p.OwnerID, p.Currency)
	}

	w, err := ensureWalletTx(ctx, tx, p.OwnerID, p.Currency)
	if err != nil {
		return FundingResult{}, err
	}
	w.Balance += p.Amount - p.Fee
	if err := updateWallet(ctx, tx, w); err != nil {
		return FundingResult{}, err
	}
	if err := creditWallet(ctx, tx, FeeOwnerID, p.Currency, p.Fee); err != nil {
		return FundingResult{}, err
	}

	entryID := uuid.NewString()
	if err := insertEntryWithID(ctx, tx, entryID, w.ID, EntryDeposit, p.Amount, p.Fee, p.Currency, "", p.ClientTxID, EntryCompleted); err != nil {
		return FundingResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return FundingResult{}, mapPgError(err)
	}
	return FundingResult{EntryID: entryID, Status: EntryCompleted, Balance: w.Balance}, nil
}

func (s *PostgresStore) Withdraw(ctx context.Context, p WithdrawParams) (FundingResult, error) {
	if p.Amount <= 0 {
		return FundingResult{}, money.ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return FundingResult{}, mapPgError(err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if dup, err := entryExists(ctx, tx, EntryWithdrawal, p.ClientTxID); err != nil {
		return FundingResult{}, err
	} else if dup {
		return s.fundingState(ctx, tx, EntryWithdrawal, p.ClientTxID, p.OwnerID, p.Currency)
	}

	w, err := walletTx(ctx, tx, p.OwnerID, p.Currency, true)
	if err != nil {
		return FundingResult{}, err
	}
	if w.Available() < p.Amount+p.Fee {
		return FundingResult{}, ErrInsufficientFunds
	}

	w.Balance -= p.Amount + p.Fee
	if err := updateWallet(ctx, tx, w); err != nil {
		return FundingResult{}, err
	}
	if err := creditWallet(ctx, tx, PayoutSuspenseOwnerID, p.Currency, p.Amount); err != nil {
		return FundingResult{}, err
	}
	if err := creditWallet(ctx, tx, FeeOwnerID, p.Currency, p.Fee); err != nil {
		return FundingResult{}, err
	}

	entryID := uuid.NewString()
	if err := insertEntryWithID(ctx, tx, entryID, w.ID, EntryWithdrawal, p.Amount, p.Fee, p.Currency, "", p.ClientTxID, EntryProcessing); err != nil {
		return FundingResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return FundingResult{}, mapPgError(err)
	}
	return FundingResult{EntryID: entryID, Status: EntryProcessing, Balance: w.Balance}, nil
}

func (s *PostgresStore) SettleWithdrawal(ctx context.Context, entryID string, success bool) (FundingResult, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return FundingResult{}, mapPgError(err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	row := tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM wallet_entries WHERE id = $1 FOR UPDATE`, entryID)
	var e Entry
	if err := row.Scan(&e.ID, &e.WalletID, &e.Type, &e.Amount, &e.Fee, &e.Currency, &e.RelatedTxID, &e.ClientTxID, &e.Status, &e.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FundingResult{}, ErrEntryNotFound
		}
		return FundingResult{}, mapPgError(err)
	}
	if e.Type != EntryWithdrawal || e.Status != EntryProcessing {
		return FundingResult{}, ErrInvalidState
	}

	var w Wallet
	wrow := tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, e.WalletID)
	w, err = scanWallet(wrow)
	if err != nil {
		return FundingResult{}, mapPgError(err)
	}

	suspense, err := walletTx(ctx, tx, PayoutSuspenseOwnerID, e.Currency, true)
	if err != nil {
		return FundingResult{}, err
	}
	suspense.Balance -= e.Amount
	if err := updateWallet(ctx, tx, suspense); err != nil {
		return FundingResult{}, err
	}

	status := EntryCompleted
	if !success {
		// Compensating credit: the payout never happened, so the principal
		// returns to the wallet. The flat fee is not refunded.
		status = EntryFailed
		w.Balance += e.Amount
		if err := updateWallet(ctx, tx, w); err != nil {
			return FundingResult{}, err
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE wallet_entries SET status = $1 WHERE id = $2`, status, e.ID); err != nil {
		return FundingResult{}, mapPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return FundingResult{}, mapPgError(err)
	}
	return FundingResult{EntryID: e.ID, Status: status, Balance: w.Balance}, nil
}

// releaseTx applies the shared release bookkeeping inside an open
// transaction: unfreeze the full principal, move the released portion to
// the payee net of prorated fees and settle fees into the platform wallet.
func releaseTx(ctx context.Context, tx pgx.Tx, esc Escrow, releaseAmount int64, clientTxID string) (ReleaseResult, error) {
	payer, err := ensureWalletTx(ctx, tx, esc.PayerID, esc.Currency)
	if err != nil {
		return ReleaseResult{}, err
	}
	payee, err := ensureWalletTx(ctx, tx, esc.PayeeID, esc.Currency)
	if err != nil {
		return ReleaseResult{}, err
	}

	platformFee := money.Prorate(esc.PlatformFee, releaseAmount, esc.Amount)
	processingFee := money.Prorate(esc.ProcessingFee, releaseAmount, esc.Amount)
	totalFees := platformFee + processingFee

	payer.Frozen -= esc.Amount
	payer.Balance -= releaseAmount
	payee.Balance += releaseAmount - totalFees

	if err := updateWallet(ctx, tx, payer); err != nil {
		return ReleaseResult{}, err
	}
	if err := updateWallet(ctx, tx, payee); err != nil {
		return ReleaseResult{}, err
	}
	if err := creditWallet(ctx, tx, FeeOwnerID, esc.Currency, totalFees); err != nil {
		return ReleaseResult{}, err
	}

	if releaseAmount > 0 {
		if err := insertEntry(ctx, tx, payer.ID, EntryEscrowRelease, releaseAmount, 0, esc.Currency, esc.ID, clientTxID, EntryCompleted); err != nil {
			return ReleaseResult{}, err
		}
		if err := insertEntry(ctx, tx, payee.ID, EntryEscrowRelease, releaseAmount, totalFees, esc.Currency, esc.ID, clientTxID, EntryCompleted); err != nil {
			return ReleaseResult{}, err
		}
	}
	refunded := esc.Amount - releaseAmount
	if refunded > 0 {
		if err := insertEntry(ctx, tx, payer.ID, EntryEscrowRefund, refunded, 0, esc.Currency, esc.ID, clientTxID, EntryCompleted); err != nil {
			return ReleaseResult{}, err
		}
	}

	now := time.Now().UTC()
	status := EscrowCompleted
	if releaseAmount == 0 {
		status = EscrowRefunded
	}
	if _, err := tx.Exec(ctx, `UPDATE escrows SET status = $1, released_amount = $2, closed_at = $3 WHERE id = $4`,
		status, releaseAmount, now, esc.ID); err != nil {
		return ReleaseResult{}, mapPgError(err)
	}
	esc.Status = status
	esc.ReleasedAmount = releaseAmount
	esc.ClosedAt = &now

	return ReleaseResult{
		Escrow:         esc,
		PayerBalance:   payer.Balance,
		PayerFrozen:    payer.Frozen,
		PayeeBalance:   payee.Balance,
		ReleasedAmount: releaseAmount,
		RefundedAmount: refunded,
		FeesTaken:      totalFees,
	}, nil
}

// holdState reloads escrow and payer wallet for an idempotent replay.
func (s *PostgresStore) holdState(ctx context.Context, tx pgx.Tx, escrowID string) (Escrow, Wallet, error) {
	esc, err := lockEscrow(ctx, tx, escrowID)
	if err != nil {
		return Escrow{}, Wallet{}, err
	}
	payer, err := walletTx(ctx, tx, esc.PayerID, esc.Currency, false)
	if err != nil {
		return Escrow{}, Wallet{}, err
	}
	return esc, payer, nil
}

// releaseState rebuilds a ReleaseResult from current rows for an
// idempotent replay.
func (s *PostgresStore) releaseState(ctx context.Context, tx pgx.Tx, escrowID string) (ReleaseResult, error) {
	esc, err := lockEscrow(ctx, tx, escrowID)
	if err != nil {
		return ReleaseResult{}, err
	}
	payer, err := walletTx(ctx, tx, esc.PayerID, esc.Currency, false)
	if err != nil {
		return ReleaseResult{}, err
	}
	payee, err := walletTx(ctx, tx, esc.PayeeID, esc.Currency, false)
	if err != nil && !errors.Is(err, ErrWalletNotFound) {
		return ReleaseResult{}, err
	}
	return ReleaseResult{
		Escrow:         esc,
		PayerBalance:   payer.Balance,
		PayerFrozen:    payer.Frozen,
		PayeeBalance:   payee.Balance,
		ReleasedAmount: esc.ReleasedAmount,
		RefundedAmount: esc.Amount - esc.ReleasedAmount,
	}, nil
}

// fundingState rebuilds a FundingResult from the stored entry for an
// idempotent replay.
func (s *PostgresStore) fundingState(ctx context.Context, tx pgx.Tx, typ EntryType, clientTxID, ownerID, currency string) (FundingResult, error) {
	var entryID string
	var status EntryStatus
	if err := tx.QueryRow(ctx, `SELECT id, status FROM wallet_entries WHERE type = $1 AND client_tx_id = $2`, typ, clientTxID).Scan(&entryID, &status); err != nil {
		return FundingResult{}, mapPgError(err)
	}
	w, err := walletTx(ctx, tx, ownerID, currency, false)
	if err != nil {
		return FundingResult{}, err
	}
	return FundingResult{EntryID: entryID, Status: status, Balance: w.Balance}, ErrDuplicateTransaction
}

func lockEscrow(ctx context.Context, tx pgx.Tx, id string) (Escrow, error) {
	row := tx.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1 FOR UPDATE`, id)
	esc, err := scanEscrow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Escrow{}, ErrEscrowNotFound
		}
		return Escrow{}, mapPgError(err)
	}
	return esc, nil
}

func lockDispute(ctx context.Context, tx pgx.Tx, id string) (Dispute, error) {
	row := tx.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1 FOR UPDATE`, id)
	d, err := scanDispute(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrDisputeNotFound
		}
		return Dispute{}, mapPgError(err)
	}
	return d, nil
}

func walletTx(ctx context.Context, tx pgx.Tx, ownerID, currency string, forUpdate bool) (Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE owner_id = $1 AND currency = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	row := tx.QueryRow(ctx, query, ownerID, currency)
	w, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, mapPgError(err)
	}
	return w, nil
}

func ensureWalletTx(ctx context.Context, tx pgx.Tx, ownerID, currency string) (Wallet, error) {
	if _, err := tx.Exec(ctx, `INSERT INTO wallets (id, owner_id, currency, balance, frozen, created_at)
        VALUES ($1, $2, $3, 0, 0, $4) ON CONFLICT (owner_id, currency) DO NOTHING`,
		uuid.New(), ownerID, currency, time.Now().UTC()); err != nil {
		return Wallet{}, mapPgError(err)
	}
	return walletTx(ctx, tx, ownerID, currency, true)
}

func updateWallet(ctx context.Context, tx pgx.Tx, w Wallet) error {
	_, err := tx.Exec(ctx, `UPDATE wallets SET balance = $1, frozen = $2 WHERE id = $3`, w.Balance, w.Frozen, w.ID)
	return mapPgError(err)
}

func creditWallet(ctx context.Context, tx pgx.Tx, ownerID, currency string, amount int64) error {
	if amount == 0 {
		return nil
	}
	w, err := ensureWalletTx(ctx, tx, ownerID, currency)
	if err != nil {
		return err
	}
	w.Balance += amount
	return updateWallet(ctx, tx, w)
}

func insertEntry(ctx context.Context, tx pgx.Tx, walletID string, typ EntryType, amount, fee int64, currency, relatedTxID, clientTxID string, status EntryStatus) error {
	return insertEntryWithID(ctx, tx, uuid.NewString(), walletID, typ, amount, fee, currency, relatedTxID, clientTxID, status)
}

func insertEntryWithID(ctx context.Context, tx pgx.Tx, id, walletID string, typ EntryType, amount, fee int64, currency, relatedTxID, clientTxID string, status EntryStatus) error {
	_, err := tx.Exec(ctx, `INSERT INTO wallet_entries (id, wallet_id, type, amount, fee, currency, related_tx_id, client_tx_id, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		id, walletID, typ, amount, fee, currency, relatedTxID, clientTxID, status, time.Now().UTC())
	return mapPgError(err)
}

func entryExists(ctx context.Context, tx pgx.Tx, typ EntryType, clientTxID string) (bool, error) {
	if clientTxID == "" {
		return false, nil
	}
	var one int
	err := tx.QueryRow(ctx, `SELECT 1 FROM wallet_entries WHERE type = $1 AND client_tx_id = $2 LIMIT 1`, typ, clientTxID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, mapPgError(err)
	}
	return true, nil
}

func relatedTxForClient(ctx context.Context, tx pgx.Tx, typ EntryType, clientTxID string) (string, error) {
	var related string
	if err := tx.QueryRow(ctx, `SELECT related_tx_id FROM wallet_entries WHERE type = $1 AND client_tx_id = $2 LIMIT 1`, typ, clientTxID).Scan(&related); err != nil {
		return "", mapPgError(err)
	}
	return related, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (Wallet, error) {
	var w Wallet
	if err := row.Scan(&w.ID, &w.OwnerID, &w.Currency, &w.Balance, &w.Frozen, &w.CreatedAt); err != nil {
		return Wallet{}, err
	}
	w.CreatedAt = w.CreatedAt.UTC()
	return w, nil
}

func scanEscrow(row rowScanner) (Escrow, error) {
	var esc Escrow
	if err := row.Scan(&esc.ID, &esc.PayerID, &esc.PayeeID, &esc.Amount, &esc.Currency, &esc.PlatformFee,
		&esc.ProcessingFee, &esc.Status, &esc.ReleasedAmount, &esc.CreatedAt, &esc.EscrowedAt, &esc.ClosedAt); err != nil {
		return Escrow{}, err
	}
	return esc, nil
}

func scanDispute(row rowScanner) (Dispute, error) {
	var d Dispute
	if err := row.Scan(&d.ID, &d.EscrowID, &d.OpenedBy, &d.Respondent, &d.Reason, &d.Status, &d.Resolution,
		&d.CreatedAt, &d.ResolvedAt); err != nil {
		return Dispute{}, err
	}
	return d, nil
}

// mapPgError converts driver-level failures into the store's sentinel
// errors where a retry or idempotent replay is the right caller response.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization failure, deadlock detected
			return fmt.Errorf("%w: %s", ErrConcurrencyConflict, pgErr.Message)
		case "23505": // unique violation on a client tx id race
			return fmt.Errorf("%w: %s", ErrDuplicateTransaction, pgErr.Message)
		}
	}
	return err
}
