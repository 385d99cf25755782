package core

import (
	"context"

	"kitchen-ledger/internal/order/domain/models"
)

// IPublisher delivers outbox events to a broker.
type IPublisher interface {
	Publish(ctx context.Context, ev models.OutboxEvent) error
	Close() error
}
