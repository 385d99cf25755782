package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kitchen-ledger/internal/order/app/core"
	"kitchen-ledger/internal/order/domain/models"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type OrderRepo struct {
	q querier
}

const orderColumns = `id, fulfillment_type, status, table_number, notes, document_state, total, version, created_at, updated_at`

func (or *OrderRepo) Create(ctx context.Context, order models.Order) error {
	tag, err := or.q.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`,
		order.ID,
		order.Type,
		order.Status,
		order.TableNumber,
		order.Notes,
		order.DocumentState,
		order.Total,
		order.Version,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		// already inserted by an earlier attempt
		return nil
	}

	for i, item := range order.Items {
		name := item.ProductRef
		if i < len(order.ProductNames) {
			name = order.ProductNames[i]
		}
		_, err = or.q.Exec(ctx, `
			INSERT INTO order_items (order_id, position, product_ref, product_name, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, order.ID, i, item.ProductRef, name, item.Quantity, item.UnitPrice)
		if err != nil {
			return translate(fmt.Errorf("failed to insert item: %w", err))
		}
	}
	return nil
}

func (or *OrderRepo) Get(ctx context.Context, id string) (models.Order, error) {
	row := or.q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Order{}, core.NotFound(core.ReasonOrderNotFound, "order %s not found", id)
	}
	if err != nil {
		return models.Order{}, translate(err)
	}

	orders := []models.Order{order}
	if err := or.loadItems(ctx, orders); err != nil {
		return models.Order{}, err
	}
	return orders[0], nil
}

func (or *OrderRepo) List(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.Status != nil {
		add("status = $%d", *filter.Status)
	}
	if filter.Type != nil {
		add("fulfillment_type = $%d", *filter.Type)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at < $%d", filter.To)
	}

	q := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := or.q.Query(ctx, q, args...)
	if err != nil {
		return nil, translate(err)
	}
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Order, error) {
		return scanOrder(row)
	})
	if err != nil {
		return nil, translate(err)
	}
	if err := or.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (or *OrderRepo) UpdateStatus(ctx context.Context, id string, from models.Status, version int, to models.Status, at time.Time) (models.Order, error) {
	tag, err := or.q.Exec(ctx, `
		UPDATE orders
		SET status = $4, version = version + 1, updated_at = $5
		WHERE id = $1 AND status = $2 AND version = $3
	`, id, from, version, to, at)
	if err != nil {
		return models.Order{}, translate(err)
	}
	if tag.RowsAffected() == 0 {
		return models.Order{}, or.guardFailure(ctx, id)
	}
	return or.Get(ctx, id)
}

func (or *OrderRepo) SetDocumentState(ctx context.Context, id string, version int, state models.DocumentState, at time.Time) (models.Order, error) {
	tag, err := or.q.Exec(ctx, `
		UPDATE orders
		SET document_state = $3, version = version + 1, updated_at = $4
		WHERE id = $1 AND version = $2
	`, id, version, state, at)
	if err != nil {
		return models.Order{}, translate(err)
	}
	if tag.RowsAffected() == 0 {
		return models.Order{}, or.guardFailure(ctx, id)
	}
	return or.Get(ctx, id)
}

// guardFailure tells a missing order apart from a lost race.
func (or *OrderRepo) guardFailure(ctx context.Context, id string) error {
	var exists bool
	if err := or.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return translate(err)
	}
	if !exists {
		return core.NotFound(core.ReasonOrderNotFound, "order %s not found", id)
	}
	return core.Conflict(core.ReasonStaleVersion, "order %s was modified concurrently", id)
}

func (or *OrderRepo) AppendStatusLog(ctx context.Context, entry models.StatusLog) error {
	_, err := or.q.Exec(ctx, `
		INSERT INTO order_status_log (order_id, status, changed_by, changed_at, note)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.OrderID, entry.Status, entry.ChangedBy, entry.ChangedAt, entry.Note)
	return translate(err)
}

func (or *OrderRepo) History(ctx context.Context, id string) ([]models.StatusLog, error) {
	var exists bool
	if err := or.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, translate(err)
	}
	if !exists {
		return nil, core.NotFound(core.ReasonOrderNotFound, "order %s not found", id)
	}

	rows, err := or.q.Query(ctx, `
		SELECT order_id, status, changed_by, changed_at, note
		FROM order_status_log
		WHERE order_id = $1
		ORDER BY changed_at, id
	`, id)
	if err != nil {
		return nil, translate(err)
	}
	logs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.StatusLog, error) {
		var l models.StatusLog
		err := row.Scan(&l.OrderID, &l.Status, &l.ChangedBy, &l.ChangedAt, &l.Note)
		return l, err
	})
	return logs, translate(err)
}

func (or *OrderRepo) loadItems(ctx context.Context, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	byID := make(map[string]*models.Order, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		byID[orders[i].ID] = &orders[i]
	}

	rows, err := or.q.Query(ctx, `
		SELECT order_id, product_ref, product_name, quantity, unit_price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, ids)
	if err != nil {
		return translate(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID, ref, name string
			qty                int
			price              decimal.Decimal
		)
		if err := rows.Scan(&orderID, &ref, &name, &qty, &price); err != nil {
			return translate(err)
		}
		o := byID[orderID]
		o.Items = append(o.Items, models.Item{ProductRef: ref, Quantity: qty, UnitPrice: price})
		o.ProductNames = append(o.ProductNames, name)
	}
	return translate(rows.Err())
}

func scanOrder(row pgx.Row) (models.Order, error) {
	var o models.Order
	err := row.Scan(
		&o.ID,
		&o.Type,
		&o.Status,
		&o.TableNumber,
		&o.Notes,
		&o.DocumentState,
		&o.Total,
		&o.Version,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	return o, err
}
