package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paylock/paylock/internal/money"
)

type inMemoryStore struct {
	mu       sync.RWMutex
	wallets  map[string]*Wallet // keyed by ownerID/currency
	entries  map[string]*Entry
	escrows  map[string]*Escrow
	disputes map[string]*Dispute

	holdResults     map[string]HoldResult
	releaseResults  map[string]ReleaseResult
	transferResults map[string]TransferResult
	fundingResults  map[string]FundingResult
}

// NewInMemory creates a concurrency-safe in-memory store. It mirrors the
// Postgres backend's semantics and is the test double for every service.
func NewInMemory() Store {
	return &inMemoryStore{
		wallets:         make(map[string]*Wallet),
		entries:         make(map[string]*Entry),
		escrows:         make(map[string]*Escrow),
		disputes:        make(map[string]*Dispute),
		holdResults:     make(map[string]HoldResult),
		releaseResults:  make(map[string]ReleaseResult),
		transferResults: make(map[string]TransferResult),
		fundingResults:  make(map[string]FundingResult),
	}
}

func walletKey(ownerID, currency string) string {
	return ownerID + "/" + currency
}

func (s *inMemoryStore) ensureWalletLocked(ownerID, currency string) *Wallet {
	key := walletKey(ownerID, currency)
	if w, ok := s.wallets[key]; ok {
		return w
	}
	w := &Wallet{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Currency:  currency,
		CreatedAt: time.Now().UTC(),
	}
	s.wallets[key] = w
	return w
}

func (s *inMemoryStore) appendEntryLocked(w *Wallet, typ EntryType, amount, fee int64, relatedTxID, clientTxID string, status EntryStatus) *Entry {
	e := &Entry{
		ID:          uuid.NewString(),
		WalletID:    w.ID,
		Type:        typ,
		Amount:      amount,
		Fee:         fee,
		Currency:    w.Currency,
		RelatedTxID: relatedTxID,
		ClientTxID:  clientTxID,
		Status:      status,
		CreatedAt:   time.Now().UTC(),
	}
	s.entries[e.ID] = e
	return e
}

func (s *inMemoryStore) EnsureWallet(_ context.Context, ownerID, currency string) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.ensureWalletLocked(ownerID, currency), nil
}

func (s *inMemoryStore) WalletByOwner(_ context.Context, ownerID, currency string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[walletKey(ownerID, currency)]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return *w, nil
}

func (s *inMemoryStore) EntriesForWallet(_ context.Context, walletID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if e.WalletID == walletID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *inMemoryStore) CreateEscrow(_ context.Context, p CreateEscrowParams) (Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	esc := &Escrow{
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
	s.escrows[esc.ID] = esc
	return *esc, nil
}

func (s *inMemoryStore) EscrowByID(_ context.Context, id string) (Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	esc, ok := s.escrows[id]
	if !ok {
		return Escrow{}, ErrEscrowNotFound
	}
	return *esc, nil
}

func (s *inMemoryStore) EscrowFunds(_ context.Context, escrowID, clientTxID string) (HoldResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idemKey := "escrow_hold:" + clientTxID
	if res, ok := s.holdResults[idemKey]; ok {
		return res, ErrDuplicateTransaction
	}

	esc, ok := s.escrows[escrowID]
	if !ok {
		return HoldResult{}, ErrEscrowNotFound
	}
	if esc.Status != EscrowPending {
		return HoldResult{}, ErrInvalidState
	}

	payer := s.ensureWalletLocked(esc.PayerID, esc.Currency)
	if payer.Available() < esc.Amount+esc.ProcessingFee {
		return HoldResult{}, ErrInsufficientFunds
	}

	payer.Balance -= esc.ProcessingFee
	payer.Frozen += esc.Amount
	feeWallet := s.ensureWalletLocked(FeeOwnerID, esc.Currency)
	feeWallet.Balance += esc.ProcessingFee

	s.appendEntryLocked(payer, EntryEscrowHold, esc.Amount, esc.ProcessingFee, esc.ID, clientTxID, EntryCompleted)

	now := time.Now().UTC()
	esc.Status = EscrowHeld
	esc.EscrowedAt = &now

	res := HoldResult{Escrow: *esc, PayerBalance: payer.Balance, PayerFrozen: payer.Frozen}
	s.holdResults[idemKey] = res
	return res, nil
}

// releaseLocked applies the escrow release bookkeeping shared between
// direct release and dispute resolution. The full principal is always
// unfrozen; only releaseAmount moves to the payee, net of prorated fees.
func (s *inMemoryStore) releaseLocked(esc *Escrow, releaseAmount int64, clientTxID string) ReleaseResult {
	payer := s.ensureWalletLocked(esc.PayerID, esc.Currency)
	payee := s.ensureWalletLocked(esc.PayeeID, esc.Currency)
	feeWallet := s.ensureWalletLocked(FeeOwnerID, esc.Currency)

	platformFee := money.Prorate(esc.PlatformFee, releaseAmount, esc.Amount)
	processingFee := money.Prorate(esc.ProcessingFee, releaseAmount, esc.Amount)
	fees := platformFee + processingFee

	payer.Frozen -= esc.Amount
	payer.Balance -= releaseAmount
	payee.Balance += releaseAmount - fees
	feeWallet.Balance += fees

	if releaseAmount > 0 {
		s.appendEntryLocked(payer, EntryEscrowRelease, releaseAmount, 0, esc.ID, clientTxID, EntryCompleted)
		s.appendEntryLocked(payee, EntryEscrowRelease, releaseAmount, fees, esc.ID, clientTxID, EntryCompleted)
	}
	refunded := esc.Amount - releaseAmount
	if refunded > 0 {
		s.appendEntryLocked(payer, EntryEscrowRefund, refunded, 0, esc.ID, clientTxID, EntryCompleted)
	}

	now := time.Now().UTC()
	esc.ReleasedAmount = releaseAmount
	esc.ClosedAt = &now
	if releaseAmount > 0 {
		esc.Status = EscrowCompleted
	} else {
		esc.Status = EscrowRefunded
	}

	return ReleaseResult{
		Escrow:         *esc,
		PayerBalance:   payer.Balance,
		PayerFrozen:    payer.Frozen,
		PayeeBalance:   payee.Balance,
		ReleasedAmount: releaseAmount,
		RefundedAmount: refunded,
		FeesTaken:      fees,
	}
}

func (s *inMemoryStore) ReleaseEscrow(_ context.Context, escrowID string, releaseAmount int64, clientTxID string) (ReleaseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idemKey := "escrow_release:" + clientTxID
	if res, ok := s.releaseResults[idemKey]; ok {
		return res, ErrDuplicateTransaction
	}

	esc, ok := s.escrows[escrowID]
	if !ok {
		return ReleaseResult{}, ErrEscrowNotFound
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

	res := s.releaseLocked(esc, releaseAmount, clientTxID)
	s.releaseResults[idemKey] = res
	return res, nil
}

func (s *inMemoryStore) CancelEscrow(_ context.Context, escrowID string) (Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	esc, ok := s.escrows[escrowID]
	if !ok {
		return Escrow{}, ErrEscrowNotFound
	}
	if esc.Status != EscrowPending {
		return Escrow{}, ErrInvalidState
	}
	now := time.Now().UTC()
	esc.Status = EscrowCancelled
	esc.ClosedAt = &now
	return *esc, nil
}

func (s *inMemoryStore) OpenDispute(_ context.Context, escrowID, openedBy, reason string) (Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	esc, ok := s.escrows[escrowID]
	if !ok {
		return Dispute{}, ErrEscrowNotFound
	}
	if esc.Status != EscrowPending && esc.Status != EscrowHeld {
		return Dispute{}, ErrInvalidState
	}
	for _, d := range s.disputes {
		if d.EscrowID == escrowID && (d.Status == DisputeOpen || d.Status == DisputeUnderReview) {
			return Dispute{}, ErrDisputeAlreadyOpen
		}
	}

	respondent := esc.PayeeID
	if openedBy == esc.PayeeID {
		respondent = esc.PayerID
	}

	d := &Dispute{
		ID:         uuid.NewString(),
		EscrowID:   escrowID,
		OpenedBy:   openedBy,
		Respondent: respondent,
		Reason:     reason,
		Status:     DisputeOpen,
		CreatedAt:  time.Now().UTC(),
	}
	s.disputes[d.ID] = d
	esc.Status = EscrowDisputed
	return *d, nil
}

func (s *inMemoryStore) DisputeByID(_ context.Context, id string) (Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.disputes[id]
	if !ok {
		return Dispute{}, ErrDisputeNotFound
	}
	return *d, nil
}

func (s *inMemoryStore) ReviewDispute(_ context.Context, disputeID string) (Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.disputes[disputeID]
	if !ok {
		return Dispute{}, ErrDisputeNotFound
	}
	if d.Status != DisputeOpen {
		return Dispute{}, ErrInvalidState
	}
	d.Status = DisputeUnderReview
	return *d, nil
}

func (s *inMemoryStore) ResolveDispute(_ context.Context, disputeID string, res Resolution, clientTxID string) (ResolveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idemKey := "dispute_resolve:" + clientTxID
	if stored, ok := s.releaseResults[idemKey]; ok {
		out := ResolveResult{Release: stored}
		if d, found := s.disputes[disputeID]; found {
			out.Dispute = *d
		}
		return out, ErrDuplicateTransaction
	}

	d, ok := s.disputes[disputeID]
	if !ok {
		return ResolveResult{}, ErrDisputeNotFound
	}
	if d.Status != DisputeOpen && d.Status != DisputeUnderReview {
		return ResolveResult{}, ErrInvalidState
	}
	esc, ok := s.escrows[d.EscrowID]
	if !ok {
		return ResolveResult{}, ErrEscrowNotFound
	}
	if esc.Status != EscrowDisputed {
		return ResolveResult{}, ErrInvalidState
	}

	releaseAmount, err := resolutionReleaseAmount(esc, res)
	if err != nil {
		return ResolveResult{}, err
	}

	var release ReleaseResult
	if esc.EscrowedAt == nil {
		// Dispute was opened before any funds were held; nothing to move.
		if res.Kind != ResolveRefund {
			return ResolveResult{}, ErrInvalidState
		}
		now := time.Now().UTC()
		esc.Status = EscrowRefunded
		esc.ClosedAt = &now
		release = ReleaseResult{Escrow: *esc}
	} else {
		release = s.releaseLocked(esc, releaseAmount, clientTxID)
	}

	now := time.Now().UTC()
	d.Status = DisputeResolved
	d.Resolution = string(res.Kind)
	d.ResolvedAt = &now

	s.releaseResults[idemKey] = release
	return ResolveResult{Dispute: *d, Release: release}, nil
}

func (s *inMemoryStore) Transfer(_ context.Context, p TransferParams) (TransferResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idemKey := "transfer:" + p.ClientTxID
	if res, ok := s.transferResults[idemKey]; ok {
		return res, ErrDuplicateTransaction
	}

	if p.Amount <= 0 {
		return TransferResult{}, money.ErrInvalidAmount
	}

	sender, ok := s.wallets[walletKey(p.SenderID, p.Currency)]
	if !ok {
		return TransferResult{}, ErrWalletNotFound
	}
	if sender.Available() < p.Amount+p.Fee {
		return TransferResult{}, ErrInsufficientFunds
	}

	recipient := s.ensureWalletLocked(p.RecipientID, p.Currency)
	feeWallet := s.ensureWalletLocked(FeeOwnerID, p.Currency)

	sender.Balance -= p.Amount + p.Fee
	recipient.Balance += p.Amount
	feeWallet.Balance += p.Fee

	txID := uuid.NewString()
	s.appendEntryLocked(sender, EntryTransferOut, p.Amount, p.Fee, txID, p.ClientTxID, EntryCompleted)
	s.appendEntryLocked(recipient, EntryTransferIn, p.Amount, 0, txID, p.ClientTxID, EntryCompleted)

	res := TransferResult{TransactionID: txID, FromBalance: sender.Balance, ToBalance: recipient.Balance}
	s.transferResults[idemKey] = res
	return res, nil
}

func (s *inMemoryStore) Deposit(_ context.Context, p DepositParams) (FundingResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idemKey := "deposit:" + p.ClientTxID
	if res, ok := s.fundingResults[idemKey]; ok {
		return res, ErrDuplicateTransaction
	}

	if p.Amount <= 0 || p.Fee < 0 || p.Fee >= p.Amount {
		return FundingResult{}, money.ErrInvalidAmount
	}

	w := s.ensureWalletLocked(p.OwnerID, p.Currency)
	feeWallet := s.ensureWalletLocked(FeeOwnerID, p.Currency)

	w.Balance += p.Amount - p.Fee
	feeWallet.Balance += p.Fee

	e := s.appendEntryLocked(w, EntryDeposit, p.Amount, p.Fee, "", p.ClientTxID, EntryCompleted)

	res := FundingResult{EntryID: e.ID, Status: EntryCompleted, Balance: w.Balance}
	s.fundingResults[idemKey] = res
	return res, nil
}

func (s *inMemoryStore) Withdraw(_ context.Context, p WithdrawParams) (FundingResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idemKey := "withdrawal:" + p.ClientTxID
	if res, ok := s.fundingResults[idemKey]; ok {
		return res, ErrDuplicateTransaction
	}

	if p.Amount <= 0 {
		return FundingResult{}, money.ErrInvalidAmount
	}

	w, ok := s.wallets[walletKey(p.OwnerID, p.Currency)]
	if !ok {
		return FundingResult{}, ErrWalletNotFound
	}
	if w.Available() < p.Amount+p.Fee {
		return FundingResult{}, ErrInsufficientFunds
	}

	suspense := s.ensureWalletLocked(PayoutSuspenseOwnerID, p.Currency)
	feeWallet := s.ensureWalletLocked(FeeOwnerID, p.Currency)

	w.Balance -= p.Amount + p.Fee
	suspense.Balance += p.Amount
	feeWallet.Balance += p.Fee

	e := s.appendEntryLocked(w, EntryWithdrawal, p.Amount, p.Fee, "", p.ClientTxID, EntryProcessing)

	res := FundingResult{EntryID: e.ID, Status: EntryProcessing, Balance: w.Balance}
	s.fundingResults[idemKey] = res
	return res, nil
}

func (s *inMemoryStore) SettleWithdrawal(_ context.Context, entryID string, success bool) (FundingResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[entryID]
	if !ok {
		return FundingResult{}, ErrEntryNotFound
	}
	if e.Type != EntryWithdrawal || e.Status != EntryProcessing {
		return FundingResult{}, ErrInvalidState
	}

	var w *Wallet
	for _, cand := range s.wallets {
		if cand.ID == e.WalletID {
			w = cand
			break
		}
	}
	if w == nil {
		return FundingResult{}, ErrWalletNotFound
	}

	suspense := s.ensureWalletLocked(PayoutSuspenseOwnerID, e.Currency)
	suspense.Balance -= e.Amount

	if success {
		e.Status = EntryCompleted
	} else {
		// Compensating credit: the payout never happened, so the principal
		// returns to the wallet. The flat fee is not refunded.
		e.Status = EntryFailed
		w.Balance += e.Amount
	}

	return FundingResult{EntryID: e.ID, Status: e.Status, Balance: w.Balance}, nil
}

// resolutionReleaseAmount maps a dispute resolution to the amount handed
// to the payee.
func resolutionReleaseAmount(esc *Escrow, res Resolution) (int64, error) {
	switch res.Kind {
	case ResolveRelease:
		return esc.Amount, nil
	case ResolveRefund:
		return 0, nil
	case ResolveSplit:
		if res.ReleaseBps < 0 || res.ReleaseBps > 10_000 {
			return 0, money.ErrInvalidAmount
		}
		return esc.Amount * res.ReleaseBps / 10_000, nil
	default:
		return 0, ErrInvalidState
	}
}
