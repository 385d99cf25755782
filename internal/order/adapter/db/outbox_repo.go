package db

import (
	"context"
	"time"

	"kitchen-ledger/internal/order/domain/models"

	"github.com/jackc/pgx/v5"
)

type OutboxRepo struct {
	q querier
}

func (r *OutboxRepo) Add(ctx context.Context, ev models.OutboxEvent) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO outbox (id, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, ev.ID, ev.AggregateID, ev.Type, ev.Payload, ev.CreatedAt)
	return translate(err)
}

// Pending locks up to limit unsent events. Rows locked by another relay
// are skipped.
func (r *OutboxRepo) Pending(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, aggregate_id, event_type, payload, created_at
		FROM outbox
		WHERE sent_at IS NULL
		ORDER BY created_at, id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, translate(err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.OutboxEvent, error) {
		var e models.OutboxEvent
		err := row.Scan(&e.ID, &e.AggregateID, &e.Type, &e.Payload, &e.CreatedAt)
		return e, err
	})
	return events, translate(err)
}

func (r *OutboxRepo) MarkSent(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.q.Exec(ctx, `UPDATE outbox SET sent_at = $2 WHERE id = ANY($1) AND sent_at IS NULL`, ids, at)
	return translate(err)
}
