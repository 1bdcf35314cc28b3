package event

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/paylock/paylock/internal/logging"
)

func TestRedisPublisherAppendsToStream(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	pub := NewRedisPublisher(client, "paylock:events", logging.Discard())

	e := New(KindTransferCompleted, map[string]string{"transaction_id": "tx-1"})
	if err := pub.Publish(context.Background(), e); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msgs, err := client.XRange(context.Background(), "paylock:events", "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 stream entry, got %d", len(msgs))
	}
	if msgs[0].Values["kind"] != KindTransferCompleted {
		t.Fatalf("unexpected kind: %v", msgs[0].Values["kind"])
	}
	if msgs[0].Values["transaction_id"] != "tx-1" {
		t.Fatalf("unexpected transaction id: %v", msgs[0].Values["transaction_id"])
	}
}

func TestMemoryPublisherCaptures(t *testing.T) {
	pub := NewMemoryPublisher()
	_ = pub.Publish(context.Background(), New(KindFundsEscrowed, nil))
	_ = pub.Publish(context.Background(), New(KindFundsReleased, nil))

	kinds := pub.Kinds()
	if len(kinds) != 2 || kinds[0] != KindFundsEscrowed || kinds[1] != KindFundsReleased {
		t.Fatalf("unexpected kinds: %v", kinds)
	}
}
