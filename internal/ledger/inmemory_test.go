package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

const usd = "USD"

func newHeldEscrow(t *testing.T, s Store, payerID, payeeID string, amount, platformFee, processingFee, seed int64) Escrow {
	t.Helper()
	ctx := context.Background()
	SeedBalance(s, payerID, usd, seed)
	esc, err := s.CreateEscrow(ctx, CreateEscrowParams{
		PayerID:       payerID,
		PayeeID:       payeeID,
		Amount:        amount,
		Currency:      usd,
		PlatformFee:   platformFee,
		ProcessingFee: processingFee,
	})
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	if _, err := s.EscrowFunds(ctx, esc.ID, "hold-"+esc.ID); err != nil {
		t.Fatalf("escrow funds: %v", err)
	}
	held, err := s.EscrowByID(ctx, esc.ID)
	if err != nil {
		t.Fatalf("reload escrow: %v", err)
	}
	return held
}

func TestEscrowFundsHoldsPrincipalAndDebitsFee(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	// Balance $1000, escrow $500 with a $25 platform fee and $5 processing fee.
	SeedBalance(s, "payer", usd, 100_000)
	esc, err := s.CreateEscrow(ctx, CreateEscrowParams{
		PayerID: "payer", PayeeID: "payee", Amount: 50_000, Currency: usd,
		PlatformFee: 2_500, ProcessingFee: 500,
	})
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}

	res, err := s.EscrowFunds(ctx, esc.ID, "hold-1")
	if err != nil {
		t.Fatalf("escrow funds: %v", err)
	}
	if res.PayerBalance != 99_500 {
		t.Fatalf("payer balance %d, want 99500", res.PayerBalance)
	}
	if res.PayerFrozen != 50_000 {
		t.Fatalf("payer frozen %d, want 50000", res.PayerFrozen)
	}
	if res.Escrow.Status != EscrowHeld {
		t.Fatalf("escrow status %s, want %s", res.Escrow.Status, EscrowHeld)
	}

	w, err := s.WalletByOwner(ctx, "payer", usd)
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	if w.Available() != 49_500 {
		t.Fatalf("available %d, want 49500", w.Available())
	}
}

func TestEscrowFundsInsufficientLeavesWalletUntouched(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	SeedBalance(s, "payer", usd, 30_000)
	esc, _ := s.CreateEscrow(ctx, CreateEscrowParams{
		PayerID: "payer", PayeeID: "payee", Amount: 50_000, Currency: usd,
		PlatformFee: 2_500, ProcessingFee: 500,
	})

	if _, err := s.EscrowFunds(ctx, esc.ID, "hold-1"); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	w, _ := s.WalletByOwner(ctx, "payer", usd)
	if w.Balance != 30_000 || w.Frozen != 0 {
		t.Fatalf("wallet mutated on failed hold: balance=%d frozen=%d", w.Balance, w.Frozen)
	}
	got, _ := s.EscrowByID(ctx, esc.ID)
	if got.Status != EscrowPending {
		t.Fatalf("escrow status %s, want pending", got.Status)
	}
}

func TestEscrowFundsIdempotent(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	esc := newHeldEscrow(t, s, "payer", "payee", 50_000, 2_500, 500, 100_000)

	res, err := s.EscrowFunds(ctx, esc.ID, "hold-"+esc.ID)
	if !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate transaction, got %v", err)
	}
	if res.PayerBalance != 99_500 || res.PayerFrozen != 50_000 {
		t.Fatalf("replay returned %+v, want original result", res)
	}

	w, _ := s.WalletByOwner(ctx, "payer", usd)
	if w.Balance != 99_500 || w.Frozen != 50_000 {
		t.Fatalf("second hold mutated wallet: balance=%d frozen=%d", w.Balance, w.Frozen)
	}
}

func TestReleaseFullAmount(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	esc := newHeldEscrow(t, s, "payer", "payee", 50_000, 2_500, 500, 100_000)

	res, err := s.ReleaseEscrow(ctx, esc.ID, 0, "rel-1")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	// Payee receives 500.00 - 25.00 - 5.00 = 470.00.
	if res.PayeeBalance != 47_000 {
		t.Fatalf("payee balance %d, want 47000", res.PayeeBalance)
	}
	if res.PayerFrozen != 0 {
		t.Fatalf("payer frozen %d, want 0", res.PayerFrozen)
	}
	if res.PayerBalance != 49_500 {
		t.Fatalf("payer balance %d, want 49500", res.PayerBalance)
	}
	if res.Escrow.Status != EscrowCompleted {
		t.Fatalf("escrow status %s, want completed", res.Escrow.Status)
	}
}

func TestPartialReleaseProratesFeesAndUnfreezesRemainder(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	esc := newHeldEscrow(t, s, "payer", "payee", 50_000, 2_500, 500, 100_000)

	res, err := s.ReleaseEscrow(ctx, esc.ID, 25_000, "rel-1")
	if err != nil {
		t.Fatalf("partial release: %v", err)
	}
	// Half the principal releases, so half of each fee applies.
	if res.FeesTaken != 1_500 {
		t.Fatalf("fees taken %d, want 1500", res.FeesTaken)
	}
	if res.PayeeBalance != 23_500 {
		t.Fatalf("payee balance %d, want 23500", res.PayeeBalance)
	}
	if res.PayerFrozen != 0 {
		t.Fatalf("full principal must unfreeze, frozen=%d", res.PayerFrozen)
	}
	// Un-released half returns to the payer's available balance.
	if res.PayerBalance != 74_500 {
		t.Fatalf("payer balance %d, want 74500", res.PayerBalance)
	}
	if res.RefundedAmount != 25_000 {
		t.Fatalf("refunded %d, want 25000", res.RefundedAmount)
	}
}

func TestReleaseExceedingEscrowFails(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	esc := newHeldEscrow(t, s, "payer", "payee", 50_000, 2_500, 500, 100_000)

	if _, err := s.ReleaseEscrow(ctx, esc.ID, 60_000, "rel-1"); !errors.Is(err, ErrAmountExceedsEscrow) {
		t.Fatalf("expected amount exceeds escrow, got %v", err)
	}
}

func TestReleasePendingEscrowFails(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	SeedBalance(s, "payer", usd, 100_000)
	esc, _ := s.CreateEscrow(ctx, CreateEscrowParams{
		PayerID: "payer", PayeeID: "payee", Amount: 50_000, Currency: usd,
		PlatformFee: 2_500, ProcessingFee: 500,
	})

	if _, err := s.ReleaseEscrow(ctx, esc.ID, 0, "rel-1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	w, _ := s.WalletByOwner(ctx, "payer", usd)
	if w.Balance != 100_000 || w.Frozen != 0 {
		t.Fatalf("failed release mutated wallet: %+v", w)
	}
}

func TestDisputeBlocksReleaseUntilResolved(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	esc := newHeldEscrow(t, s, "payer", "payee", 50_000, 2_500, 500, 100_000)

	if _, err := s.OpenDispute(ctx, esc.ID, "payer", "deliverable rejected"); err != nil {
		t.Fatalf("open dispute: %v", err)
	}
	if _, err := s.ReleaseEscrow(ctx, esc.ID, 0, "rel-1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state on disputed release, got %v", err)
	}
	w, _ := s.WalletByOwner(ctx, "payer", usd)
	if w.Balance != 99_500 || w.Frozen != 50_000 {
		t.Fatalf("blocked release mutated wallet: %+v", w)
	}
}

func TestSecondDisputeRejected(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	esc := newHeldEscrow(t, s, "payer", "payee", 50_000, 2_500, 500, 100_000)

	if _, err := s.OpenDispute(ctx, esc.ID, "payer", "first"); err != nil {
		t.Fatalf("open dispute: %v", err)
	}
	if _, err := s.OpenDispute(ctx, esc.ID, "payee", "second"); !errors.Is(err, ErrDisputeAlreadyOpen) {
		t.Fatalf("expected dispute already open, got %v", err)
	}
}

func TestReviewDisputeTransition(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	esc := newHeldEscrow(t, s, "payer", "payee", 50_000, 2_500, 500, 100_000)
	d, err := s.OpenDispute(ctx, esc.ID, "payer", "deliverable rejected")
	if err != nil {
		t.Fatalf("open dispute: %v", err)
	}

	reviewed, err := s.ReviewDispute(ctx, d.ID)
	if err != nil {
		t.Fatalf("review dispute: %v", err)
	}
	if reviewed.Status != DisputeUnderReview {
		t.Fatalf("status %s, want under_review", reviewed.Status)
	}

	// Review is a one-way step out of open.
	if _, err := s.ReviewDispute(ctx, d.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state on second review, got %v", err)
	}
	if _, err := s.ReviewDispute(ctx, "missing"); !errors.Is(err, ErrDisputeNotFound) {
		t.Fatalf("expected dispute not found, got %v", err)
	}

	// A dispute under review still resolves normally.
	res, err := s.ResolveDispute(ctx, d.ID, Resolution{Kind: ResolveRefund}, "res-1")
	if err != nil {
		t.Fatalf("resolve reviewed dispute: %v", err)
	}
	if res.Dispute.Status != DisputeResolved {
		t.Fatalf("dispute status %s, want resolved", res.Dispute.Status)
	}
}

func TestResolveDisputeRefundKeepsProcessingFee(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	esc := newHeldEscrow(t, s, "payer", "payee", 50_000, 2_500, 500, 100_000)
	d, err := s.OpenDispute(ctx, esc.ID, "payee", "unpaid milestone")
	if err != nil {
		t.Fatalf("open dispute: %v", err)
	}

	res, err := s.ResolveDispute(ctx, d.ID, Resolution{Kind: ResolveRefund}, "resolve-1")
	if err != nil {
		t.Fatalf("resolve dispute: %v", err)
	}
	if res.Dispute.Status != DisputeResolved {
		t.Fatalf("dispute status %s, want resolved", res.Dispute.Status)
	}
	if res.Release.Escrow.Status != EscrowRefunded {
		t.Fatalf("escrow status %s, want refunded", res.Release.Escrow.Status)
	}

	// Principal unfreezes; the processing fee paid at hold time is sunk.
	w, _ := s.WalletByOwner(ctx, "payer", usd)
	if w.Balance != 99_500 || w.Frozen != 0 {
		t.Fatalf("refund outcome wrong: balance=%d frozen=%d", w.Balance, w.Frozen)
	}
	if w.Available() != 99_500 {
		t.Fatalf("available %d, want 99500", w.Available())
	}
}

func TestResolveDisputeSplit(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	esc := newHeldEscrow(t, s, "payer", "payee", 50_000, 2_500, 500, 100_000)
	d, _ := s.OpenDispute(ctx, esc.ID, "payer", "partial delivery")

	// 60% to the payee, 40% back to the payer.
	res, err := s.ResolveDispute(ctx, d.ID, Resolution{Kind: ResolveSplit, ReleaseBps: 6_000}, "resolve-1")
	if err != nil {
		t.Fatalf("resolve split: %v", err)
	}
	release := res.Release
	if release.ReleasedAmount != 30_000 {
		t.Fatalf("released %d, want 30000", release.ReleasedAmount)
	}
	// Fees prorate to the released 60%: 1500 platform + 300 processing.
	if release.FeesTaken != 1_800 {
		t.Fatalf("fees %d, want 1800", release.FeesTaken)
	}
	if release.PayeeBalance != 28_200 {
		t.Fatalf("payee balance %d, want 28200", release.PayeeBalance)
	}
	payer, _ := s.WalletByOwner(ctx, "payer", usd)
	if payer.Frozen != 0 {
		t.Fatalf("payer frozen %d, want 0", payer.Frozen)
	}
	if payer.Balance != 69_500 {
		t.Fatalf("payer balance %d, want 69500", payer.Balance)
	}
}

func TestCancelOnlyFromPending(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	esc, _ := s.CreateEscrow(ctx, CreateEscrowParams{
		PayerID: "payer", PayeeID: "payee", Amount: 50_000, Currency: usd,
		PlatformFee: 2_500, ProcessingFee: 500,
	})
	cancelled, err := s.CancelEscrow(ctx, esc.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != EscrowCancelled {
		t.Fatalf("status %s, want cancelled", cancelled.Status)
	}

	held := newHeldEscrow(t, s, "payer2", "payee", 10_000, 500, 100, 50_000)
	if _, err := s.CancelEscrow(ctx, held.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state cancelling held escrow, got %v", err)
	}
}

func TestTransferMovesAmountAndFee(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	SeedBalance(s, "alice", usd, 50_000)

	res, err := s.Transfer(ctx, TransferParams{
		SenderID: "alice", RecipientID: "bob", Amount: 10_000, Fee: 100,
		Currency: usd, ClientTxID: "t-1",
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if res.FromBalance != 39_900 {
		t.Fatalf("sender balance %d, want 39900", res.FromBalance)
	}
	if res.ToBalance != 10_000 {
		t.Fatalf("recipient balance %d, want 10000", res.ToBalance)
	}

	// Both sides recorded, cross-referenced by the transaction id.
	sender, _ := s.WalletByOwner(ctx, "alice", usd)
	entries, _ := s.EntriesForWallet(ctx, sender.ID)
	if len(entries) != 1 || entries[0].Type != EntryTransferOut || entries[0].RelatedTxID != res.TransactionID {
		t.Fatalf("unexpected sender entries: %+v", entries)
	}
	recipient, _ := s.WalletByOwner(ctx, "bob", usd)
	rentries, _ := s.EntriesForWallet(ctx, recipient.ID)
	if len(rentries) != 1 || rentries[0].Type != EntryTransferIn || rentries[0].RelatedTxID != res.TransactionID {
		t.Fatalf("unexpected recipient entries: %+v", rentries)
	}
}

func TestTransferIdempotent(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	SeedBalance(s, "alice", usd, 50_000)

	first, err := s.Transfer(ctx, TransferParams{SenderID: "alice", RecipientID: "bob", Amount: 10_000, Fee: 100, Currency: usd, ClientTxID: "t-1"})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	replay, err := s.Transfer(ctx, TransferParams{SenderID: "alice", RecipientID: "bob", Amount: 10_000, Fee: 100, Currency: usd, ClientTxID: "t-1"})
	if !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate transaction, got %v", err)
	}
	if replay.TransactionID != first.TransactionID || replay.FromBalance != first.FromBalance {
		t.Fatalf("replay result differs: %+v vs %+v", replay, first)
	}
}

func TestWithdrawSettleFailureRecreditsPrincipal(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	SeedBalance(s, "alice", usd, 50_000)

	res, err := s.Withdraw(ctx, WithdrawParams{OwnerID: "alice", Amount: 10_000, Fee: 500, Currency: usd, ClientTxID: "w-1"})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if res.Status != EntryProcessing {
		t.Fatalf("status %s, want processing", res.Status)
	}
	if res.Balance != 39_500 {
		t.Fatalf("balance %d, want 39500", res.Balance)
	}

	settled, err := s.SettleWithdrawal(ctx, res.EntryID, false)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.Status != EntryFailed {
		t.Fatalf("status %s, want failed", settled.Status)
	}
	// Principal restored, flat fee sunk.
	if settled.Balance != 49_500 {
		t.Fatalf("balance %d, want 49500", settled.Balance)
	}

	if _, err := s.SettleWithdrawal(ctx, res.EntryID, true); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state settling twice, got %v", err)
	}
}

func TestConservationAcrossOperations(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	SeedBalance(s, "payer", usd, 100_000)
	SeedBalance(s, "alice", usd, 40_000)
	before := TotalBalance(s)

	esc, _ := s.CreateEscrow(ctx, CreateEscrowParams{
		PayerID: "payer", PayeeID: "payee", Amount: 50_000, Currency: usd,
		PlatformFee: 2_500, ProcessingFee: 500,
	})
	if _, err := s.EscrowFunds(ctx, esc.ID, "hold-1"); err != nil {
		t.Fatalf("hold: %v", err)
	}
	if _, err := s.ReleaseEscrow(ctx, esc.ID, 25_000, "rel-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := s.Transfer(ctx, TransferParams{SenderID: "alice", RecipientID: "payee", Amount: 5_000, Fee: 100, Currency: usd, ClientTxID: "t-1"}); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	// Fees settle into the platform wallet, so the closed system conserves.
	if after := TotalBalance(s); after != before {
		t.Fatalf("money not conserved: before=%d after=%d", before, after)
	}
}

func TestConcurrentTransfersStayBalanced(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	SeedBalance(s, "alice", usd, 100_000)
	if _, err := s.EnsureWallet(ctx, "bob", usd); err != nil {
		t.Fatalf("ensure wallet: %v", err)
	}
	before := TotalBalance(s)

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := TransferParams{
				SenderID: "alice", RecipientID: "bob", Amount: 500, Fee: 100,
				Currency: usd, ClientTxID: fmt.Sprintf("t-%d", i),
			}
			if _, err := s.Transfer(ctx, p); err != nil {
				t.Errorf("transfer %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if after := TotalBalance(s); after != before {
		t.Fatalf("total balance drifted: before=%d after=%d", before, after)
	}
	bob, _ := s.WalletByOwner(ctx, "bob", usd)
	if bob.Balance != workers*500 {
		t.Fatalf("bob balance %d, want %d", bob.Balance, workers*500)
	}
}
