package db

import (
	"context"
	"errors"
	"time"

	"kitchen-ledger/internal/order/app/core"
	"kitchen-ledger/internal/order/domain/models"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type AggregateRepo struct {
	q querier
}

// ApplyRollup runs in its own savepoint (or transaction, outside InTx).
// Rows are locked in ascending day order: the previous day while seeding,
// then the target day, then every later day whose running totals move.
func (ar *AggregateRepo) ApplyRollup(ctx context.Context, ev models.RollupEvent, now time.Time) (core.RollupResult, error) {
	if ev.Hour < 0 || ev.Hour >= models.HoursPerDay {
		return core.RollupResult{}, core.Validation(core.ReasonInvalidRange, "hour %d out of range", ev.Hour)
	}

	var res core.RollupResult
	err := pgx.BeginFunc(ctx, ar.q, func(tx pgx.Tx) error {
		q := &AggregateRepo{q: tx}

		if err := q.lockOrSeedDay(ctx, ev.Day, now); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO rollup_applied (day, order_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, ev.Day, ev.OrderID)
		if err != nil {
			return err
		}
		res.Applied = tag.RowsAffected() > 0

		if res.Applied {
			if err := q.apply(ctx, ev, now); err != nil {
				return err
			}
		}

		if res.Current, err = q.load(ctx, ev.Day); err != nil {
			return err
		}
		res.Previous, err = q.previous(ctx, ev.Day)
		return err
	})
	if err != nil {
		return core.RollupResult{}, translate(err)
	}
	return res, nil
}

// lockOrSeedDay leaves the row of day locked, creating it from the running
// totals of the closest earlier day when absent.
func (ar *AggregateRepo) lockOrSeedDay(ctx context.Context, day, now time.Time) error {
	locked, err := ar.lockDay(ctx, day)
	if err != nil || locked {
		return err
	}

	var (
		prevOrders  int64
		prevRevenue = decimal.Zero
	)
	err = ar.q.QueryRow(ctx, `
		SELECT total_orders, total_revenue
		FROM daily_aggregates
		WHERE day < $1
		ORDER BY day DESC
		LIMIT 1
		FOR UPDATE
	`, day).Scan(&prevOrders, &prevRevenue)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	_, err = ar.q.Exec(ctx, `
		INSERT INTO daily_aggregates (day, daily_orders, daily_revenue, total_orders, total_revenue, last_updated)
		VALUES ($1, 0, 0, $2, $3, $4)
		ON CONFLICT (day) DO NOTHING
	`, day, prevOrders, prevRevenue, now)
	if err != nil {
		return err
	}
	_, err = ar.q.Exec(ctx, `
		INSERT INTO hourly_stats (day, hour, orders, revenue)
		SELECT $1, h, 0, 0 FROM generate_series(0, 23) AS h
		ON CONFLICT DO NOTHING
	`, day)
	if err != nil {
		return err
	}

	if _, err = ar.lockDay(ctx, day); err != nil {
		return err
	}
	return nil
}

func (ar *AggregateRepo) lockDay(ctx context.Context, day time.Time) (bool, error) {
	var d time.Time
	err := ar.q.QueryRow(ctx, `SELECT day FROM daily_aggregates WHERE day = $1 FOR UPDATE`, day).Scan(&d)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (ar *AggregateRepo) apply(ctx context.Context, ev models.RollupEvent, now time.Time) error {
	_, err := ar.q.Exec(ctx, `
		UPDATE daily_aggregates
		SET daily_orders  = daily_orders + 1,
		    daily_revenue = daily_revenue + $2,
		    total_orders  = total_orders + 1,
		    total_revenue = total_revenue + $2,
		    last_updated  = $3
		WHERE day = $1
	`, ev.Day, ev.Total, now)
	if err != nil {
		return err
	}

	_, err = ar.q.Exec(ctx, `
		UPDATE hourly_stats
		SET orders = orders + 1, revenue = revenue + $3
		WHERE day = $1 AND hour = $2
	`, ev.Day, ev.Hour, ev.Total)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, line := range ev.Lines {
		batch.Queue(`
			INSERT INTO product_sales (day, order_id, product_name, revenue, orders)
			VALUES ($1, $2, $3, $4, $5)
		`, ev.Day, ev.OrderID, line.ProductName, line.Revenue, line.Orders)
	}
	if batch.Len() > 0 {
		if err := ar.q.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
	}

	// late day: carry the event into every later running total
	_, err = ar.q.Exec(ctx, `
		UPDATE daily_aggregates
		SET total_orders  = total_orders + 1,
		    total_revenue = total_revenue + $2,
		    last_updated  = $3
		WHERE day > $1
	`, ev.Day, ev.Total, now)
	return err
}

func (ar *AggregateRepo) Get(ctx context.Context, day time.Time) (*models.DailyAggregate, error) {
	agg, err := ar.load(ctx, day)
	if err != nil {
		return nil, translate(err)
	}
	return agg, nil
}

func (ar *AggregateRepo) Latest(ctx context.Context) (*models.DailyAggregate, error) {
	var day time.Time
	err := ar.q.QueryRow(ctx, `SELECT day FROM daily_aggregates ORDER BY day DESC LIMIT 1`).Scan(&day)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.NotFound(core.ReasonAggregateNotFound, "no aggregates yet")
	}
	if err != nil {
		return nil, translate(err)
	}
	return ar.Get(ctx, day)
}

func (ar *AggregateRepo) Range(ctx context.Context, from, to time.Time) ([]*models.DailyAggregate, error) {
	rows, err := ar.q.Query(ctx, `
		SELECT day FROM daily_aggregates WHERE day BETWEEN $1 AND $2 ORDER BY day
	`, from, to)
	if err != nil {
		return nil, translate(err)
	}
	days, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, translate(err)
	}

	out := make([]*models.DailyAggregate, 0, len(days))
	for _, d := range days {
		agg, err := ar.Get(ctx, d)
		if err != nil {
			return nil, err
		}
		out = append(out, agg)
	}
	return out, nil
}

func (ar *AggregateRepo) previous(ctx context.Context, day time.Time) (*models.DailyAggregate, error) {
	var prev time.Time
	err := ar.q.QueryRow(ctx, `
		SELECT day FROM daily_aggregates WHERE day < $1 ORDER BY day DESC LIMIT 1
	`, day).Scan(&prev)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ar.load(ctx, prev)
}

func (ar *AggregateRepo) load(ctx context.Context, day time.Time) (*models.DailyAggregate, error) {
	agg := models.NewDailyAggregate(day, models.Totals{Revenue: decimal.Zero})
	err := ar.q.QueryRow(ctx, `
		SELECT daily_orders, daily_revenue, total_orders, total_revenue, last_updated
		FROM daily_aggregates
		WHERE day = $1
	`, day).Scan(&agg.DailyOrders, &agg.DailyRevenue, &agg.TotalOrders, &agg.TotalRevenue, &agg.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.NotFound(core.ReasonAggregateNotFound, "no aggregate for %s", models.FormatDay(day))
	}
	if err != nil {
		return nil, err
	}

	rows, err := ar.q.Query(ctx, `SELECT hour, orders, revenue FROM hourly_stats WHERE day = $1`, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var slot models.HourlySlot
		if err := rows.Scan(&slot.Hour, &slot.Orders, &slot.Revenue); err != nil {
			return nil, err
		}
		if slot.Hour >= 0 && slot.Hour < models.HoursPerDay {
			agg.HourlyStats[slot.Hour] = slot
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = ar.q.Query(ctx, `
		SELECT product_name, revenue, orders FROM product_sales WHERE day = $1 ORDER BY id
	`, day)
	if err != nil {
		return nil, err
	}
	agg.ProductSales, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ProductSale, error) {
		var s models.ProductSale
		err := row.Scan(&s.ProductName, &s.Revenue, &s.Orders)
		return s, err
	})
	if err != nil {
		return nil, err
	}
	return agg, nil
}
