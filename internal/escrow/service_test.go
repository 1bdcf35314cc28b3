package escrow

import (
	"context"
	"errors"
	"testing"

	"github.com/paylock/paylock/internal/event"
	"github.com/paylock/paylock/internal/ledger"
	"github.com/paylock/paylock/internal/money"
)

func newTestService() (*Service, ledger.Store, *event.MemoryPublisher) {
	store := ledger.NewInMemory()
	pub := event.NewMemoryPublisher()
	return NewService(store, pub, nil), store, pub
}

func TestCreateFixesFeeSchedule(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	esc, err := svc.Create(ctx, CreateInput{
		PayerID: "client", PayeeID: "provider", Amount: money.New(50_000, "USD"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if esc.Status != ledger.EscrowPending {
		t.Fatalf("status %s, want pending", esc.Status)
	}
	if esc.PlatformFee != 2_500 || esc.ProcessingFee != 500 {
		t.Fatalf("fees %d/%d, want 2500/500", esc.PlatformFee, esc.ProcessingFee)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateInput{PayerID: "a", PayeeID: "a", Amount: money.New(1_000, "USD")}); !errors.Is(err, ErrSelfPayment) {
		t.Fatalf("expected self payment error, got %v", err)
	}
	if _, err := svc.Create(ctx, CreateInput{PayerID: "a", PayeeID: "b", Amount: money.New(0, "USD")}); !errors.Is(err, money.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := svc.Create(ctx, CreateInput{PayeeID: "b", Amount: money.New(1_000, "USD")}); err == nil {
		t.Fatal("expected error for missing payer")
	}
}

func TestFundAndReleaseEmitEvents(t *testing.T) {
	svc, store, pub := newTestService()
	ctx := context.Background()

	ledger.SeedBalance(store, "client", "USD", 100_000)
	esc, err := svc.Create(ctx, CreateInput{PayerID: "client", PayeeID: "provider", Amount: money.New(50_000, "USD")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	hold, err := svc.Fund(ctx, esc.ID, "hold-1")
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if hold.PayerBalance != 99_500 || hold.PayerFrozen != 50_000 {
		t.Fatalf("unexpected hold outcome: %+v", hold)
	}

	rel, err := svc.Release(ctx, ReleaseInput{EscrowID: esc.ID, ActorID: "client", ClientTxID: "rel-1"})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if rel.PayeeBalance != 47_000 {
		t.Fatalf("payee balance %d, want 47000", rel.PayeeBalance)
	}

	kinds := pub.Kinds()
	if len(kinds) != 2 || kinds[0] != event.KindFundsEscrowed || kinds[1] != event.KindFundsReleased {
		t.Fatalf("unexpected events: %v", kinds)
	}
}

func TestReleaseAuthorization(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	ledger.SeedBalance(store, "client", "USD", 100_000)
	esc, _ := svc.Create(ctx, CreateInput{PayerID: "client", PayeeID: "provider", Amount: money.New(50_000, "USD")})
	if _, err := svc.Fund(ctx, esc.ID, "hold-1"); err != nil {
		t.Fatalf("fund: %v", err)
	}

	// The payee cannot release to themselves.
	if _, err := svc.Release(ctx, ReleaseInput{EscrowID: esc.ID, ActorID: "provider"}); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected not authorized, got %v", err)
	}

	// An operator can.
	if _, err := svc.Release(ctx, ReleaseInput{EscrowID: esc.ID, ActorID: "ops", ActorOperator: true, ClientTxID: "rel-1"}); err != nil {
		t.Fatalf("operator release: %v", err)
	}
}

func TestDisputeFlowBlocksReleaseAndRefunds(t *testing.T) {
	svc, store, pub := newTestService()
	ctx := context.Background()

	ledger.SeedBalance(store, "client", "USD", 100_000)
	esc, _ := svc.Create(ctx, CreateInput{PayerID: "client", PayeeID: "provider", Amount: money.New(50_000, "USD")})
	if _, err := svc.Fund(ctx, esc.ID, "hold-1"); err != nil {
		t.Fatalf("fund: %v", err)
	}

	// An outsider cannot open a dispute.
	if _, err := svc.OpenDispute(ctx, DisputeInput{EscrowID: esc.ID, OpenedBy: "stranger", Reason: "x"}); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected not participant, got %v", err)
	}

	d, err := svc.OpenDispute(ctx, DisputeInput{EscrowID: esc.ID, OpenedBy: "provider", Reason: "unpaid milestone"})
	if err != nil {
		t.Fatalf("open dispute: %v", err)
	}

	if _, err := svc.Release(ctx, ReleaseInput{EscrowID: esc.ID, ActorID: "client", ClientTxID: "rel-1"}); !errors.Is(err, ledger.ErrInvalidState) {
		t.Fatalf("expected invalid state releasing disputed escrow, got %v", err)
	}

	res, err := svc.ResolveDispute(ctx, ResolveInput{DisputeID: d.ID, Kind: ledger.ResolveRefund, ClientTxID: "res-1"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Release.Escrow.Status != ledger.EscrowRefunded {
		t.Fatalf("escrow status %s, want refunded", res.Release.Escrow.Status)
	}

	w, _ := store.WalletByOwner(ctx, "client", "USD")
	if w.Frozen != 0 || w.Balance != 99_500 {
		t.Fatalf("refund outcome wrong: %+v", w)
	}

	kinds := pub.Kinds()
	want := []string{event.KindFundsEscrowed, event.KindDisputeOpened, event.KindEscrowRefunded}
	if len(kinds) != len(want) {
		t.Fatalf("events %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event[%d]=%s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestFundIdempotentReplayDoesNotDoubleDebit(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	ledger.SeedBalance(store, "client", "USD", 100_000)
	esc, _ := svc.Create(ctx, CreateInput{PayerID: "client", PayeeID: "provider", Amount: money.New(50_000, "USD")})

	if _, err := svc.Fund(ctx, esc.ID, "hold-1"); err != nil {
		t.Fatalf("fund: %v", err)
	}
	res, err := svc.Fund(ctx, esc.ID, "hold-1")
	if !errors.Is(err, ledger.ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate transaction, got %v", err)
	}
	if res.PayerBalance != 99_500 || res.PayerFrozen != 50_000 {
		t.Fatalf("replay returned wrong result: %+v", res)
	}
}
