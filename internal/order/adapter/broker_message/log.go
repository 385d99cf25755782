package brokermessage

import (
	"context"

	"kitchen-ledger/internal/order/app/core"
	"kitchen-ledger/internal/order/domain/models"
	"kitchen-ledger/internal/xpkg/logger"
)

// Log only records events. Used when no broker is configured.
type Log struct {
	mylog logger.Logger
}

var _ core.IPublisher = (*Log)(nil)

func NewLog(mylog logger.Logger) *Log {
	return &Log{mylog: mylog.Action("event_published")}
}

func (l *Log) Publish(_ context.Context, ev models.OutboxEvent) error {
	l.mylog.Info("event", "event_id", ev.ID, "event_type", ev.Type, "order_id", ev.AggregateID)
	return nil
}

func (l *Log) Close() error {
	return nil
}
