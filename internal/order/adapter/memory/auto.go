package memory

import (
	"context"
	"time"

	"kitchen-ledger/internal/order/app/core"
	"kitchen-ledger/internal/order/domain/models"
)

// The auto* repos run each call in its own transaction.

type autoOrders struct{ s *Store }

func (a autoOrders) Create(ctx context.Context, order models.Order) error {
	return a.s.InTx(ctx, func(ctx context.Context, r core.Repos) error {
		return r.Orders.Create(ctx, order)
	})
}

func (a autoOrders) Get(ctx context.Context, id string) (order models.Order, err error) {
	err = a.s.InTx(ctx, func(ctx context.Context, r core.Repos) error {
		order, err = r.Orders.Get(ctx, id)
		return err
	})
	return order, err
}

func (a autoOrders) List(ctx context.Context, filter models.OrderFilter) (orders []models.Order, err error) {
	err = a.s.InTx(ctx, func(ctx context.Context, r core.Repos) error {
		orders, err = r.Orders.List(ctx, filter)
		return err
	})
	return orders, err
}

func (a autoOrders) UpdateStatus(ctx context.Context, id string, from models.Status, version int, to models.Status, at time.Time) (order models.Order, err error) {
	err = a.s.InTx(ctx, func(ctx context.Context, r core.Repos) error {
		order, err = r.Orders.UpdateStatus(ctx, id, from, version, to, at)
		return err
	})
	return order, err
}

func (a autoOrders) SetDocumentState(ctx context.Context, id string, version int, state models.DocumentState, at time.Time) (order models.Order, err error) {
	err = a.s.InTx(ctx, func(ctx context.Context, r core.Repos) error {
		order, err = r.Orders.SetDocumentState(ctx, id, version, state, at)
		return err
	})
	return order, err
}

func (a autoOrders) AppendStatusLog(ctx context.Context, entry models.StatusLog) error {
	return a.s.InTx(ctx, func(ctx context.Context, r core.Repos) error {
		return r.Orders.AppendStatusLog(ctx, entry)
	})
}

func (a autoOrders) History(ctx context.Context, id string) (logs []models.StatusLog, err error) {
	err = a.s.InTx(ctx, func(ctx context.Context, r core.Repos) error {
		logs, err = r.Orders.History(ctx, id)
		return err
	})
	return logs, err
}

type autoAggregates struct{ s *Store }

func (a autoAggregates) ApplyRollup(ctx context.Context, ev models.RollupEvent, now time.Time) (res core.RollupResult, err error) {
	err = a.s.InTx(ctx, func(ctx context.Context, r core.Repos) error {
		res, err = r.Aggregates.ApplyRollup(ctx, ev, now)
		return err
	})
	return res, err
}

func (a autoAggregates) Get(ctx context.Context, day time.Time) (agg *models.DailyAggregate, err error) {
	err = a.s.InTx(ctx, func(ctx context.Context, r core.Repos) error {
		agg, err = r.Aggregates.Get(ctx, day)
		return err
	})
	return agg, err
}

func (a autoAggregates) Latest(ctx context.Context) (agg *models.DailyAggregate, err error) {
	err = a.s.InTx(ctx, func(ctx context.Context, r core.Repos) error {
		agg, err = r.Aggregates.Latest(ctx)
		return err
	})
	return agg, err
}

func (a autoAggregates) Range(ctx context.Context, from, to time.Time) (aggs []*models.DailyAggregate, err error) {
	err = a.s.InTx(ctx, func(ctx context.Context, r core.Repos) error {
		aggs, err = r.Aggregates.Range(ctx, from, to)
		return err
	})
	return aggs, err
}

type autoOutbox struct{ s *Store }

func (a autoOutbox) Add(ctx context.Context, ev models.OutboxEvent) error {
	return a.s.InTx(ctx, func(ctx context.Context, r core.Repos) error {
		return r.Outbox.Add(ctx, ev)
	})
}

func (a autoOutbox) Pending(ctx context.Context, limit int) (events []models.OutboxEvent, err error) {
	err = a.s.InTx(ctx, func(ctx context.Context, r core.Repos) error {
		events, err = r.Outbox.Pending(ctx, limit)
		return err
	})
	return events, err
}

func (a autoOutbox) MarkSent(ctx context.Context, ids []string, at time.Time) error {
	return a.s.InTx(ctx, func(ctx context.Context, r core.Repos) error {
		return r.Outbox.MarkSent(ctx, ids, at)
	})
}
