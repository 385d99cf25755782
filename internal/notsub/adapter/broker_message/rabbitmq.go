package brokermessage

import (
	"context"
	"fmt"
	"sync"

	"kitchen-ledger/internal/order/app/core"
	"kitchen-ledger/internal/xpkg/config"
	"kitchen-ledger/internal/xpkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

// bindingKey matches every order event type.
const bindingKey = "order.#"

type RabbitMQ struct {
	cfg   *config.RabbitMQ
	conn  *amqp.Connection
	ch    *amqp.Channel
	mylog logger.Logger
	mu    sync.Mutex
}

// New connects and binds the durable notification queue to the order
// events exchange.
func New(rabbitmqCfg *config.RabbitMQ, mylog logger.Logger) (*RabbitMQ, error) {
	r := &RabbitMQ{
		cfg:   rabbitmqCfg,
		mylog: mylog,
	}
	if err := r.connect(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrRMQConn, err)
	}
	return r, nil
}

func (r *RabbitMQ) IsAlive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil || r.conn.IsClosed() {
		return false
	}
	return r.ch != nil && !r.ch.IsClosed()
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ch != nil && !r.ch.IsClosed() {
		if err := r.ch.Close(); err != nil {
			return fmt.Errorf("close rabbitmq channel: %v", err)
		}
	}
	if r.conn != nil && !r.conn.IsClosed() {
		if err := r.conn.Close(); err != nil {
			return fmt.Errorf("close rabbitmq connection: %v", err)
		}
	}
	return nil
}

func (r *RabbitMQ) connect() error {
	conn, err := amqp.Dial(fmt.Sprintf("amqp://%s:%s@%s:%s/%s",
		r.cfg.User,
		r.cfg.Password,
		r.cfg.Host,
		r.cfg.Port,
		r.cfg.VHost,
	))
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	if err := ch.ExchangeDeclare(r.cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("declare exchange %s: %w", r.cfg.Exchange, err)
	}
	if _, err := ch.QueueDeclare(r.cfg.Queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("declare queue %s: %w", r.cfg.Queue, err)
	}
	if err := ch.QueueBind(r.cfg.Queue, bindingKey, r.cfg.Exchange, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("bind queue %s: %w", r.cfg.Queue, err)
	}
	if err := ch.Qos(r.cfg.Prefetch, 0, false); err != nil {
		conn.Close()
		return err
	}

	r.mu.Lock()
	r.conn = conn
	r.ch = ch
	r.mu.Unlock()
	r.mylog.Action("mb_connected").Debug("Notification queue bound", "queue", r.cfg.Queue, "exchange", r.cfg.Exchange)
	return nil
}

func (r *RabbitMQ) ConsumeMessage(ctx context.Context, consumer string) (<-chan amqp.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ch.ConsumeWithContext(ctx, r.cfg.Queue, consumer, false, false, false, false, nil)
}
