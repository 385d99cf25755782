package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"kitchen-ledger/internal/order/domain/dto"
	"kitchen-ledger/internal/xpkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
)

type acks struct {
	mu     sync.Mutex
	acked  []uint64
	nacked []uint64
}

func (a *acks) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *acks) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if requeue {
		panic("malformed messages must not be requeued")
	}
	a.nacked = append(a.nacked, tag)
	return nil
}

func (a *acks) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

type chanSource struct {
	ch chan amqp.Delivery
}

func (s chanSource) ConsumeMessage(context.Context, string) (<-chan amqp.Delivery, error) {
	return s.ch, nil
}

func (s chanSource) Close() error { return nil }

func delivery(t *testing.T, a *acks, tag uint64, ev dto.OrderEvent) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	return amqp.Delivery{Acknowledger: a, DeliveryTag: tag, MessageId: ev.EventID, Body: body}
}

func TestNotificationPrintsAndDedupes(t *testing.T) {
	a := &acks{}
	src := chanSource{ch: make(chan amqp.Delivery, 4)}
	var out bytes.Buffer

	created := dto.OrderEvent{EventID: "e-1", EventType: "order.created", OrderID: "o-1", Status: "RECEIVED", Type: "takeaway", Total: decimal.RequireFromString("8.99")}
	moved := dto.OrderEvent{EventID: "e-2", EventType: "order.status_changed", OrderID: "o-1", Status: "IN_PREPARATION", OldStatus: "RECEIVED", ChangedBy: "chef"}

	src.ch <- delivery(t, a, 1, created)
	src.ch <- delivery(t, a, 2, moved)
	src.ch <- delivery(t, a, 3, moved) // redelivery
	src.ch <- amqp.Delivery{Acknowledger: a, DeliveryTag: 4, Body: []byte("{not json")}
	close(src.ch)

	n := NewNotification(context.Background(), src, &out, logger.Nop())
	if err := n.Run(); err != nil {
		t.Fatal(err)
	}
	if err := n.Stop(); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("printed %d lines:\n%s", len(lines), out.String())
	}
	if !strings.Contains(lines[0], "o-1") || !strings.Contains(lines[0], "8.99") {
		t.Errorf("created line = %q", lines[0])
	}
	if !strings.Contains(lines[1], "from RECEIVED to IN_PREPARATION by chef") {
		t.Errorf("transition line = %q", lines[1])
	}
	if len(a.acked) != 3 || len(a.nacked) != 1 || a.nacked[0] != 4 {
		t.Errorf("acked %v nacked %v", a.acked, a.nacked)
	}
}

func TestNotificationStopsOnCancel(t *testing.T) {
	src := chanSource{ch: make(chan amqp.Delivery)}
	ctx, cancel := context.WithCancel(context.Background())
	n := NewNotification(ctx, src, &bytes.Buffer{}, logger.Nop())

	done := make(chan error, 1)
	go func() { done <- n.Run() }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestRememberIsBounded(t *testing.T) {
	n := NewNotification(context.Background(), chanSource{}, &bytes.Buffer{}, logger.Nop())
	for i := 0; i < seenLimit+5; i++ {
		n.remember(string(rune('a'+i%26)) + strings.Repeat("x", i/26))
	}
	if len(n.seen) != seenLimit || len(n.order) != seenLimit {
		t.Errorf("seen = %d, order = %d", len(n.seen), len(n.order))
	}
}
