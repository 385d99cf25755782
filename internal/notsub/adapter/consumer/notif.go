package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"kitchen-ledger/internal/order/domain/dto"
	"kitchen-ledger/internal/xpkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

// seenLimit bounds the event ids remembered for deduplication.
const seenLimit = 10000

type source interface {
	ConsumeMessage(ctx context.Context, consumer string) (<-chan amqp.Delivery, error)
	Close() error
}

// Notification prints one line per order event. Events are delivered at
// least once, so ids already seen are acked and skipped.
type Notification struct {
	mylog logger.Logger
	mb    source
	out   io.Writer
	ctx   context.Context

	mu     sync.Mutex
	seen   map[string]struct{}
	order  []string
	closed bool
}

func NewNotification(ctx context.Context, mb source, out io.Writer, mylog logger.Logger) *Notification {
	return &Notification{
		ctx:   ctx,
		mb:    mb,
		out:   out,
		mylog: mylog,
		seen:  make(map[string]struct{}),
	}
}

// Run consumes until ctx is done or the delivery channel closes.
func (n *Notification) Run() error {
	deliveries, err := n.mb.ConsumeMessage(n.ctx, "")
	if err != nil {
		return fmt.Errorf("failed to consume message from rabbitmq: %v", err)
	}
	n.mylog.Action("mb_consuming").Info("Waiting for order events")
	n.work(deliveries)
	return nil
}

func (n *Notification) Stop() error {
	n.mylog.Action("graceful_shutdown_started").Info("Shutting down")

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	if err := n.mb.Close(); err != nil {
		n.mylog.Action("mb_close_failed").Error("Failed to close message broker", err)
		return fmt.Errorf("mb close: %w", err)
	}
	n.mylog.Action("graceful_shutdown_completed").Info("Successfully shut down")
	return nil
}

func (n *Notification) work(deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-n.ctx.Done():
			n.mylog.Action("work_shutdown").Info("Stopping message consumption due to context cancel")
			return
		case msg, ok := <-deliveries:
			if !ok {
				return
			}
			// sequential, so events of one order print in publish order
			n.handle(msg)
		}
	}
}

// handle acks processed and duplicate messages and drops malformed ones
// without requeueing them.
func (n *Notification) handle(msg amqp.Delivery) {
	if err := n.processMsg(msg); err != nil {
		n.mylog.Action("process_failed").Error("Failed to process order event", err, "message_id", msg.MessageId)
		if err := msg.Nack(false, false); err != nil {
			n.mylog.Action("nack_failed").Error("Failed to nack", err)
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		n.mylog.Action("ack_failed").Error("Failed to ack", err)
	}
}

func (n *Notification) processMsg(msg amqp.Delivery) error {
	var ev dto.OrderEvent
	if err := json.Unmarshal(msg.Body, &ev); err != nil {
		return fmt.Errorf("unmarshal message: %v", err)
	}
	if ev.EventID == "" {
		ev.EventID = msg.MessageId
	}
	if !n.remember(ev.EventID) {
		n.mylog.Action("duplicate_event").Debug("Event already delivered", "event_id", ev.EventID)
		return nil
	}

	log := n.mylog.WithGroup("details").With("order_id", ev.OrderID, "event_type", ev.EventType, "status", ev.Status)
	log.Action("notification_received").Info("Received order event")

	switch {
	case ev.OldStatus != "" && ev.OldStatus != ev.Status:
		fmt.Fprintf(n.out, "Order %s: status changed from %s to %s by %s.\n", ev.OrderID, ev.OldStatus, ev.Status, ev.ChangedBy)
	case ev.DocumentState == "invoice" && ev.OldStatus == ev.Status:
		fmt.Fprintf(n.out, "Order %s: invoice issued by %s, total %s.\n", ev.OrderID, ev.ChangedBy, ev.Total.StringFixed(2))
	default:
		fmt.Fprintf(n.out, "Order %s: %s %s order received, total %s.\n", ev.OrderID, ev.EventType, ev.Type, ev.Total.StringFixed(2))
	}
	return nil
}

// remember records id and reports whether it was new.
func (n *Notification) remember(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.seen[id]; ok {
		return false
	}
	n.seen[id] = struct{}{}
	n.order = append(n.order, id)
	if len(n.order) > seenLimit {
		delete(n.seen, n.order[0])
		n.order = n.order[1:]
	}
	return true
}
