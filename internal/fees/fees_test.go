package fees

import (
	"errors"
	"testing"

	"github.com/paylock/paylock/internal/money"
)

func TestCompute(t *testing.T) {
	cases := []struct {
		name   string
		op     Operation
		amount int64
		want   int64
	}{
		{"deposit one percent", OpDeposit, 50_000, 500},
		{"deposit floor applies", OpDeposit, 5_000, 100},
		{"deposit exactly at floor", OpDeposit, 10_000, 100},
		{"transfer one percent", OpTransfer, 10_000, 100},
		{"transfer floor applies", OpTransfer, 1_000, 100},
		{"withdrawal flat fee small", OpWithdrawal, 1_000, 500},
		{"withdrawal flat fee large", OpWithdrawal, 9_000_000, 500},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fee, err := Compute(tc.op, money.New(tc.amount, "USD"))
			if err != nil {
				t.Fatalf("compute: %v", err)
			}
			if fee.Amount != tc.want {
				t.Fatalf("fee for %s on %d: got %d, want %d", tc.op, tc.amount, fee.Amount, tc.want)
			}
			if fee.Currency != "USD" {
				t.Fatalf("fee currency %s, want USD", fee.Currency)
			}
		})
	}
}

func TestComputeRejectsNonPositiveAmount(t *testing.T) {
	if _, err := Compute(OpDeposit, money.New(0, "USD")); !errors.Is(err, money.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := Compute(OpWithdrawal, money.New(-100, "USD")); !errors.Is(err, money.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestComputeUnknownOperation(t *testing.T) {
	if _, err := Compute(Operation("chargeback"), money.New(100, "USD")); err == nil {
		t.Fatal("expected error for unknown operation")
	}
}

func TestForEscrow(t *testing.T) {
	f, err := ForEscrow(money.New(50_000, "USD"))
	if err != nil {
		t.Fatalf("for escrow: %v", err)
	}
	if f.Platform.Amount != 2_500 {
		t.Fatalf("platform fee %d, want 2500", f.Platform.Amount)
	}
	if f.Processing.Amount != 500 {
		t.Fatalf("processing fee %d, want 500", f.Processing.Amount)
	}
}

func TestForEscrowFloor(t *testing.T) {
	f, err := ForEscrow(money.New(2_000, "USD"))
	if err != nil {
		t.Fatalf("for escrow: %v", err)
	}
	if f.Processing.Amount != 100 {
		t.Fatalf("processing fee %d, want floor of 100", f.Processing.Amount)
	}
}
