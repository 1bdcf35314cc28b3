package funding

import (
	"context"

	"github.com/google/uuid"
)

// Processor represents a connector to an external payment processor used
// for wallet top-ups and payouts.
type Processor interface {
	Authorize(ctx context.Context, input Authorization) (Decision, error)
	Payout(ctx context.Context, input PayoutOrder) (Decision, error)
}

// Decision captures the processor's response to a request.
type Decision struct {
	Reference string
	Approved  bool
}

// Authorization encapsulates details needed to charge an external
// payment method for a top-up.
type Authorization struct {
	MethodToken string
	Amount      int64
	Currency    string
}

// PayoutOrder captures data for pushing funds to an external account.
type PayoutOrder struct {
	MethodToken string
	Amount      int64
	Currency    string
}

// StaticProcessor simulates a processor that approves everything.
type StaticProcessor struct{}

// Authorize approves the charge with a synthetic reference.
func (StaticProcessor) Authorize(_ context.Context, _ Authorization) (Decision, error) {
	return Decision{Reference: uuid.NewString(), Approved: true}, nil
}

// Payout approves the payout with a synthetic reference.
func (StaticProcessor) Payout(_ context.Context, _ PayoutOrder) (Decision, error) {
	return Decision{Reference: uuid.NewString(), Approved: true}, nil
}
