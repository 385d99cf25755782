package services

import (
	"context"
	"time"

	"kitchen-ledger/internal/order/app/core"
	"kitchen-ledger/internal/xpkg/logger"
)

// OutboxRelay publishes pending outbox events in creation order and marks
// them sent. Delivery is at least once; consumers dedupe on event id.
type OutboxRelay struct {
	store     core.IStore
	publisher core.IPublisher
	clock     core.Clock
	interval  time.Duration
	timeout   time.Duration
	batch     int
	mylog     logger.Logger
}

func NewOutboxRelay(store core.IStore, publisher core.IPublisher, clock core.Clock, interval time.Duration, mylog logger.Logger) *OutboxRelay {
	if interval <= 0 {
		interval = time.Second
	}
	return &OutboxRelay{
		store:     store,
		publisher: publisher,
		clock:     clock,
		interval:  interval,
		timeout:   core.PublishTimeout * time.Second,
		batch:     core.OutboxBatchSize,
		mylog:     mylog.Action("outbox_relay"),
	}
}

// Run relays until ctx is done.
func (or *OutboxRelay) Run(ctx context.Context) error {
	t := time.NewTicker(or.interval)
	defer t.Stop()

	or.mylog.Info("outbox relay started", "interval", or.interval.String())
	for {
		select {
		case <-ctx.Done():
			or.mylog.Info("outbox relay stopped")
			return nil
		case <-t.C:
			if _, err := or.RelayOnce(ctx); err != nil && ctx.Err() == nil {
				or.mylog.Error("Failed to relay outbox batch", err)
			}
		}
	}
}

// RelayOnce publishes one batch. Publishing stops at the first failure so
// later events of the same order are not sent ahead of it; the events sent
// so far are still marked. Each publish is bounded by the relay timeout so a
// hung broker cannot hold the outbox rows.
func (or *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	var (
		sent   int
		pubErr error
	)
	err := or.store.InTx(ctx, func(ctx context.Context, r core.Repos) error {
		events, err := r.Outbox.Pending(ctx, or.batch)
		if err != nil {
			return err
		}

		ids := make([]string, 0, len(events))
		for _, ev := range events {
			pctx, cancel := context.WithTimeout(ctx, or.timeout)
			err := or.publisher.Publish(pctx, ev)
			cancel()
			if err != nil {
				pubErr = err
				or.mylog.Warn("publish failed, will retry", "event_id", ev.ID, "event_type", ev.Type, "error", err.Error())
				break
			}
			ids = append(ids, ev.ID)
		}
		sent = len(ids)
		return r.Outbox.MarkSent(ctx, ids, or.clock.Now())
	})
	if err != nil {
		return 0, err
	}
	if sent > 0 {
		or.mylog.Debug("outbox batch relayed", "events", sent)
	}
	return sent, pubErr
}
