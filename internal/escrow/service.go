package escrow

import (
	"context"
	"errors"
	"fmt"
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
	// ErrSelfPayment indicates payer and payee are the same party.
	ErrSelfPayment = errors.New("payer and payee must differ")

	// ErrNotAuthorized indicates the caller may not release this escrow:
	// release requires the payer or an operator.
	ErrNotAuthorized = errors.New("caller may not release this escrow")

	// ErrNotParticipant indicates the dispute opener is neither payer nor
	// payee of the transaction.
	ErrNotParticipant = errors.New("dispute opener is not a transaction party")
)

// Service drives the escrow transaction lifecycle: creation, funding,
// milestone-gated release, disputes and resolution. All money movement is
// delegated to the ledger store's atomic operations; events are published
// only after the store commits.
type Service struct {
	store     ledger.Store
	events    event.Publisher
	collector *metrics.Collector
}

// NewService constructs an escrow service.
func NewService(store ledger.Store, events event.Publisher, collector *metrics.Collector) *Service {
	return &Service{store: store, events: events, collector: collector}
}

// CreateInput captures the data needed to open an escrow transaction.
type CreateInput struct {
	PayerID string
	PayeeID string
	Amount  money.Money
}

// Create validates the parties and amount, fixes the fee schedule, and
// persists the transaction in pending state. No money moves yet.
func (s *Service) Create(ctx context.Context, input CreateInput) (ledger.Escrow, error) {
	start := time.Now()
	esc, err := s.create(ctx, input)
	s.collector.RecordOperation("escrow_create", time.Since(start).Seconds(), err)
	return esc, err
}

func (s *Service) create(ctx context.Context, input CreateInput) (ledger.Escrow, error) {
	if input.PayerID == "" || input.PayeeID == "" {
		return ledger.Escrow{}, fmt.Errorf("payer and payee ids are required")
	}
	if input.PayerID == input.PayeeID {
		return ledger.Escrow{}, ErrSelfPayment
	}
	if !input.Amount.Positive() {
		return ledger.Escrow{}, money.ErrInvalidAmount
	}

	schedule, err := fees.ForEscrow(input.Amount)
	if err != nil {
		return ledger.Escrow{}, err
	}

	return s.store.CreateEscrow(ctx, ledger.CreateEscrowParams{
		PayerID:       input.PayerID,
		PayeeID:       input.PayeeID,
		Amount:        input.Amount.Amount,
		Currency:      input.Amount.Currency,
		PlatformFee:   schedule.Platform.Amount,
		ProcessingFee: schedule.Processing.Amount,
	})
}

// Fund moves the payer's money into escrow: the principal freezes and the
// stored processing fee is debited from the available balance.
func (s *Service) Fund(ctx context.Context, escrowID, clientTxID string) (ledger.HoldResult, error) {
	start := time.Now()
	res, err := s.fund(ctx, escrowID, clientTxID)
	s.collector.RecordOperation("escrow_fund", time.Since(start).Seconds(), err)
	return res, err
}

func (s *Service) fund(ctx context.Context, escrowID, clientTxID string) (ledger.HoldResult, error) {
	if clientTxID == "" {
		clientTxID = uuid.NewString()
	}
	res, err := s.store.EscrowFunds(ctx, escrowID, clientTxID)
	if err != nil {
		return res, err
	}

	s.collector.ObserveBalance(res.Escrow.PayerID, res.Escrow.Currency, res.PayerBalance)
	s.publish(ctx, event.KindFundsEscrowed, map[string]string{
		"escrow_id": res.Escrow.ID,
		"payer_id":  res.Escrow.PayerID,
		"payee_id":  res.Escrow.PayeeID,
		"amount":    strconv.FormatInt(res.Escrow.Amount, 10),
		"currency":  res.Escrow.Currency,
	})
	return res, nil
}

// ReleaseInput captures a release request. ReleaseAmount of zero means the
// full escrowed principal.
type ReleaseInput struct {
	EscrowID      string
	ReleaseAmount int64
	ActorID       string
	ActorOperator bool
	ClientTxID    string
}

// Release pays the payee out of escrow. The caller must be the payer or
// hold operator capability; a disputed transaction must instead go
// through dispute resolution.
func (s *Service) Release(ctx context.Context, input ReleaseInput) (ledger.ReleaseResult, error) {
	start := time.Now()
	res, err := s.release(ctx, input)
	s.collector.RecordOperation("escrow_release", time.Since(start).Seconds(), err)
	return res, err
}

func (s *Service) release(ctx context.Context, input ReleaseInput) (ledger.ReleaseResult, error) {
	esc, err := s.store.EscrowByID(ctx, input.EscrowID)
	if err != nil {
		return ledger.ReleaseResult{}, err
	}
	if !input.ActorOperator && input.ActorID != esc.PayerID {
		return ledger.ReleaseResult{}, ErrNotAuthorized
	}

	clientTxID := input.ClientTxID
	if clientTxID == "" {
		clientTxID = uuid.NewString()
	}
	res, err := s.store.ReleaseEscrow(ctx, input.EscrowID, input.ReleaseAmount, clientTxID)
	if err != nil {
		return res, err
	}

	s.collector.ObserveBalance(res.Escrow.PayeeID, res.Escrow.Currency, res.PayeeBalance)
	s.publish(ctx, event.KindFundsReleased, map[string]string{
		"escrow_id": res.Escrow.ID,
		"payee_id":  res.Escrow.PayeeID,
		"released":  strconv.FormatInt(res.ReleasedAmount, 10),
		"fees":      strconv.FormatInt(res.FeesTaken, 10),
		"currency":  res.Escrow.Currency,
	})
	return res, nil
}

// Cancel voids a transaction before any funds were escrowed.
func (s *Service) Cancel(ctx context.Context, escrowID string) (ledger.Escrow, error) {
	start := time.Now()
	esc, err := s.store.CancelEscrow(ctx, escrowID)
	s.collector.RecordOperation("escrow_cancel", time.Since(start).Seconds(), err)
	return esc, err
}

// DisputeInput captures a dispute creation request.
type DisputeInput struct {
	EscrowID string
	OpenedBy string
	Reason   string
}

// OpenDispute freezes the transaction until resolution. Only the payer or
// payee may open one, and only one active dispute may exist at a time.
func (s *Service) OpenDispute(ctx context.Context, input DisputeInput) (ledger.Dispute, error) {
	start := time.Now()
	d, err := s.openDispute(ctx, input)
	s.collector.RecordOperation("dispute_open", time.Since(start).Seconds(), err)
	return d, err
}

func (s *Service) openDispute(ctx context.Context, input DisputeInput) (ledger.Dispute, error) {
	esc, err := s.store.EscrowByID(ctx, input.EscrowID)
	if err != nil {
		return ledger.Dispute{}, err
	}
	if input.OpenedBy != esc.PayerID && input.OpenedBy != esc.PayeeID {
		return ledger.Dispute{}, ErrNotParticipant
	}

	d, err := s.store.OpenDispute(ctx, input.EscrowID, input.OpenedBy, input.Reason)
	if err != nil {
		return d, err
	}

	s.publish(ctx, event.KindDisputeOpened, map[string]string{
		"dispute_id": d.ID,
		"escrow_id":  d.EscrowID,
		"opened_by":  d.OpenedBy,
	})
	return d, nil
}

// ReviewDispute moves an open dispute into arbitration. The transaction
// stays frozen; only a resolution unfreezes it.
func (s *Service) ReviewDispute(ctx context.Context, disputeID string) (ledger.Dispute, error) {
	start := time.Now()
	d, err := s.store.ReviewDispute(ctx, disputeID)
	s.collector.RecordOperation("dispute_review", time.Since(start).Seconds(), err)
	return d, err
}

// ResolveInput captures a dispute resolution request. For a split,
// ReleaseBps is the payee share in basis points.
type ResolveInput struct {
	DisputeID  string
	Kind       ledger.ResolutionKind
	ReleaseBps int64
	ClientTxID string
}

// ResolveDispute settles a disputed transaction by releasing, refunding,
// or splitting the escrowed funds.
func (s *Service) ResolveDispute(ctx context.Context, input ResolveInput) (ledger.ResolveResult, error) {
	start := time.Now()
	res, err := s.resolveDispute(ctx, input)
	s.collector.RecordOperation("dispute_resolve", time.Since(start).Seconds(), err)
	return res, err
}

func (s *Service) resolveDispute(ctx context.Context, input ResolveInput) (ledger.ResolveResult, error) {
	clientTxID := input.ClientTxID
	if clientTxID == "" {
		clientTxID = uuid.NewString()
	}
	res, err := s.store.ResolveDispute(ctx, input.DisputeID, ledger.Resolution{Kind: input.Kind, ReleaseBps: input.ReleaseBps}, clientTxID)
	if err != nil {
		return res, err
	}

	kind := event.KindFundsReleased
	if res.Release.Escrow.Status == ledger.EscrowRefunded {
		kind = event.KindEscrowRefunded
	}
	s.publish(ctx, kind, map[string]string{
		"dispute_id": res.Dispute.ID,
		"escrow_id":  res.Release.Escrow.ID,
		"resolution": res.Dispute.Resolution,
		"released":   strconv.FormatInt(res.Release.ReleasedAmount, 10),
		"refunded":   strconv.FormatInt(res.Release.RefundedAmount, 10),
	})
	return res, nil
}

// Get returns the escrow transaction.
func (s *Service) Get(ctx context.Context, escrowID string) (ledger.Escrow, error) {
	return s.store.EscrowByID(ctx, escrowID)
}

// GetDispute returns the dispute.
func (s *Service) GetDispute(ctx context.Context, disputeID string) (ledger.Dispute, error) {
	return s.store.DisputeByID(ctx, disputeID)
}

// publish enqueues an event after a committed mutation. Failures are
// logged by the publisher and never affect the financial outcome.
func (s *Service) publish(ctx context.Context, kind string, fields map[string]string) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(ctx, event.New(kind, fields))
}
