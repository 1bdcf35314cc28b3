package fees

import (
	"fmt"

	"github.com/paylock/paylock/internal/money"
)

// Operation identifies the kind of balance-affecting operation a fee is
// being computed for.
type Operation string

const (
	// OpDeposit covers wallet top-ups from an external payment method.
	OpDeposit Operation = "deposit"
	// OpWithdrawal covers payouts to an external account.
	OpWithdrawal Operation = "withdrawal"
	// OpTransfer covers peer-to-peer wallet transfers, charged to the sender.
	OpTransfer Operation = "transfer"
)

const (
	// percentFeeRate is the variable fee applied to deposits and transfers.
	percentFeeRate = 1
	// percentFeeFloor is the minimum variable fee in minor units.
	percentFeeFloor = 100
	// withdrawalFlatFee is the fixed withdrawal fee in minor units.
	withdrawalFlatFee = 500
	// escrowPlatformRate is the platform commission on escrowed contracts.
	escrowPlatformRate = 5
)

// Fees holds the fee components for an escrow transaction. Both are fixed
// at transaction creation and re-applied verbatim at release so a fee
// schedule change cannot drift mid-contract.
type Fees struct {
	Platform   money.Money
	Processing money.Money
}

// Compute returns the fee for a single funding or transfer operation.
// It is deterministic and performs no I/O.
func Compute(op Operation, amount money.Money) (money.Money, error) {
	if !amount.Positive() {
		return money.Money{}, money.ErrInvalidAmount
	}
	switch op {
	case OpDeposit, OpTransfer:
		return percentWithFloor(amount), nil
	case OpWithdrawal:
		return money.New(withdrawalFlatFee, amount.Currency), nil
	default:
		return money.Money{}, fmt.Errorf("unknown fee operation %q", op)
	}
}

// ForEscrow returns the fee schedule stored on a newly created escrow
// transaction: a platform commission plus a processing fee.
func ForEscrow(amount money.Money) (Fees, error) {
	if !amount.Positive() {
		return Fees{}, money.ErrInvalidAmount
	}
	return Fees{
		Platform:   amount.Percent(escrowPlatformRate),
		Processing: percentWithFloor(amount),
	}, nil
}

func percentWithFloor(amount money.Money) money.Money {
	fee := amount.Percent(percentFeeRate)
	if fee.Amount < percentFeeFloor {
		fee.Amount = percentFeeFloor
	}
	return fee
}
