package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"kitchen-ledger/internal/order/app/core"
	"kitchen-ledger/internal/order/app/services"
	"kitchen-ledger/internal/order/domain/dto"
	"kitchen-ledger/internal/order/domain/models"

	"github.com/olekukonko/tablewriter"
)

// Options selects what goes into a report. A zero From/To means the last
// Days days ending today.
type Options struct {
	Days      int
	From, To  time.Time
	Reconcile bool
}

type Report struct {
	Summary        dto.TodayVsTotal
	Products       []dto.ProductRevenue
	Series         []dto.RevenuePoint
	Today          *models.DailyAggregate
	Reconciliation *dto.Reconciliation
}

// Build runs the analytics queries a report needs.
func Build(ctx context.Context, as *services.AnalyticsService, opts Options) (Report, error) {
	var (
		r   Report
		err error
	)
	if r.Summary, err = as.TodayVsTotal(ctx); err != nil {
		return r, fmt.Errorf("today vs total: %w", err)
	}

	from, to := opts.From, opts.To
	if from.IsZero() || to.IsZero() {
		to = as.Today()
		from = to.AddDate(0, 0, -(opts.Days - 1))
	}
	if r.Series, err = as.RevenueSeriesRange(ctx, from, to); err != nil {
		return r, fmt.Errorf("revenue series: %w", err)
	}
	if r.Products, err = as.RevenueByProduct(ctx, from, to); err != nil {
		return r, fmt.Errorf("revenue by product: %w", err)
	}

	agg, err := as.DailyAggregate(ctx, to)
	switch {
	case err == nil:
		r.Today = agg
	case !errors.Is(err, core.ErrNotFound):
		return r, fmt.Errorf("daily aggregate: %w", err)
	}

	if opts.Reconcile {
		rec, err := as.Reconcile(ctx, to)
		if err != nil {
			return r, fmt.Errorf("reconcile: %w", err)
		}
		r.Reconciliation = &rec
	}
	return r, nil
}

// Render prints r as terminal tables.
func Render(w io.Writer, r Report) error {
	fmt.Fprintf(w, "Summary for %s\n", r.Summary.Date)
	summary := tablewriter.NewWriter(w)
	summary.Header("", "Orders", "Revenue")
	if err := summary.Append([]string{"today", itoa(r.Summary.Today.DailyOrders), r.Summary.Today.DailyRevenue.StringFixed(2)}); err != nil {
		return err
	}
	if err := summary.Append([]string{"all time", itoa(r.Summary.Total.TotalOrders), r.Summary.Total.TotalRevenue.StringFixed(2)}); err != nil {
		return err
	}
	if err := summary.Render(); err != nil {
		return err
	}

	fmt.Fprintln(w, "\nRevenue by product")
	products := tablewriter.NewWriter(w)
	products.Header("Product", "Orders", "Revenue", "Share %")
	for _, p := range r.Products {
		if err := products.Append([]string{p.Name, itoa(p.Orders), p.Revenue.StringFixed(2), p.Percentage.StringFixed(2)}); err != nil {
			return err
		}
	}
	if err := products.Render(); err != nil {
		return err
	}

	fmt.Fprintln(w, "\nDaily revenue")
	series := tablewriter.NewWriter(w)
	series.Header("Date", "Revenue")
	for _, p := range r.Series {
		if err := series.Append([]string{p.Date, p.DailyRevenue.StringFixed(2)}); err != nil {
			return err
		}
	}
	if err := series.Render(); err != nil {
		return err
	}

	if r.Today != nil {
		fmt.Fprintf(w, "\nHourly breakdown for %s\n", models.FormatDay(r.Today.Date))
		hourly := tablewriter.NewWriter(w)
		hourly.Header("Hour", "Orders", "Revenue")
		for _, slot := range r.Today.HourlyStats {
			if slot.Orders == 0 {
				continue
			}
			if err := hourly.Append([]string{fmt.Sprintf("%02d:00", slot.Hour), itoa(slot.Orders), slot.Revenue.StringFixed(2)}); err != nil {
				return err
			}
		}
		if err := hourly.Render(); err != nil {
			return err
		}
	}

	if rec := r.Reconciliation; rec != nil {
		state := "consistent"
		if !rec.Consistent {
			state = "DRIFT"
		}
		fmt.Fprintf(w, "\nReconciliation for %s: %s\n", rec.Date, state)
		t := tablewriter.NewWriter(w)
		t.Header("Source", "Orders", "Revenue")
		if err := t.Append([]string{"aggregate", itoa(rec.AggregateOrders), rec.AggregateRevenue.StringFixed(2)}); err != nil {
			return err
		}
		if err := t.Append([]string{"orders", itoa(rec.OrderCount), rec.OrderRevenue.StringFixed(2)}); err != nil {
			return err
		}
		if err := t.Render(); err != nil {
			return err
		}
	}
	return nil
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
