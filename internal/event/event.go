package event

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// KindFundsEscrowed fires when a payer's funds are placed in escrow.
	KindFundsEscrowed = "funds_escrowed"
	// KindFundsReleased fires when escrowed funds reach the payee.
	KindFundsReleased = "funds_released"
	// KindEscrowRefunded fires when escrowed funds return to the payer.
	KindEscrowRefunded = "escrow_refunded"
	// KindDisputeOpened fires when a dispute freezes an escrow transaction.
	KindDisputeOpened = "dispute_opened"
	// KindTransferCompleted fires after a wallet-to-wallet transfer commits.
	KindTransferCompleted = "transfer_completed"
	// KindDepositCompleted fires after an external top-up settles.
	KindDepositCompleted = "deposit_completed"
	// KindWithdrawalRequested fires when a withdrawal enters processing.
	KindWithdrawalRequested = "withdrawal_requested"
	// KindWithdrawalSettled fires when an external payout confirms or fails.
	KindWithdrawalSettled = "withdrawal_settled"
)

// Event is a domain event emitted after a financial mutation commits.
// Delivery is asynchronous; an enqueue failure never rolls back the
// committed mutation.
type Event struct {
	ID         string
	Kind       string
	OccurredAt time.Time
	Fields     map[string]string
}

// New builds an event with a fresh id and timestamp.
func New(kind string, fields map[string]string) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		OccurredAt: time.Now().UTC(),
		Fields:     fields,
	}
}

// Publisher enqueues domain events for downstream consumers such as the
// notification service.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// RedisPublisher appends events to a Redis stream.
type RedisPublisher struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

// NewRedisPublisher constructs a publisher writing to the given stream.
func NewRedisPublisher(client *redis.Client, stream string, logger *slog.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, stream: stream, logger: logger}
}

// Publish appends the event to the stream with a bounded timeout.
func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	values := map[string]any{
		"event_id":    e.ID,
		"kind":        e.Kind,
		"occurred_at": e.OccurredAt.Format(time.RFC3339Nano),
	}
	for k, v := range e.Fields {
		values[k] = v
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{Stream: p.stream, Values: values}).Err(); err != nil {
		if p.logger != nil {
			p.logger.Error("event publish failed", "kind", e.Kind, "error", err)
		}
		return err
	}
	return nil
}

// LogPublisher writes events to the structured logger. Used when no Redis
// connection is configured.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher constructs a logging publisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish writes the event to the logger.
func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	if p == nil || p.logger == nil {
		return nil
	}
	attrs := []any{"kind", e.Kind, "event_id", e.ID}
	for k, v := range e.Fields {
		attrs = append(attrs, k, v)
	}
	p.logger.Info("domain event", attrs...)
	return nil
}

// MemoryPublisher captures events for assertions in tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryPublisher constructs an in-memory capture publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish records the event.
func (p *MemoryPublisher) Publish(_ context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Kinds returns the kinds published so far, in order.
func (p *MemoryPublisher) Kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Kind
	}
	return out
}
