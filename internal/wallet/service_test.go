package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/paylock/paylock/internal/ledger"
)

func TestEnsureAndBalance(t *testing.T) {
	svc := NewService(ledger.NewInMemory(), nil)
	ctx := context.Background()

	w, err := svc.Ensure(ctx, "acme-corp", "")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if w.Currency != DefaultCurrency {
		t.Fatalf("currency %s, want %s", w.Currency, DefaultCurrency)
	}

	// Ensure is idempotent per owner+currency.
	again, err := svc.Ensure(ctx, "acme-corp", DefaultCurrency)
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if again.ID != w.ID {
		t.Fatalf("second ensure created a new wallet: %s vs %s", again.ID, w.ID)
	}

	b, err := svc.Balance(ctx, "acme-corp", "")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if b.Total != 0 || b.Frozen != 0 || b.Available != 0 {
		t.Fatalf("fresh wallet not empty: %+v", b)
	}
}

func TestBalanceUnknownOwner(t *testing.T) {
	svc := NewService(ledger.NewInMemory(), nil)
	if _, err := svc.Balance(context.Background(), "nobody", ""); !errors.Is(err, ledger.ErrWalletNotFound) {
		t.Fatalf("expected wallet not found, got %v", err)
	}
}

func TestEnsureRequiresOwner(t *testing.T) {
	svc := NewService(ledger.NewInMemory(), nil)
	if _, err := svc.Ensure(context.Background(), "  ", "USD"); err == nil {
		t.Fatal("expected error for blank owner")
	}
}

func TestStatementReflectsOperations(t *testing.T) {
	store := ledger.NewInMemory()
	svc := NewService(store, nil)
	ctx := context.Background()

	ledger.SeedBalance(store, "acme-corp", "USD", 10_000)
	if _, err := store.Transfer(ctx, ledger.TransferParams{
		SenderID: "acme-corp", RecipientID: "consultco", Amount: 2_000, Fee: 100,
		Currency: "USD", ClientTxID: "t-1",
	}); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	entries, err := svc.Statement(ctx, "acme-corp", "USD")
	if err != nil {
		t.Fatalf("statement: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Type != ledger.EntryTransferOut {
		t.Fatalf("unexpected entry type %s", entries[0].Type)
	}
}
