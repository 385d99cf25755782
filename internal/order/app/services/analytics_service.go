package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"kitchen-ledger/internal/order/app/core"
	"kitchen-ledger/internal/order/domain/dto"
	"kitchen-ledger/internal/order/domain/models"
	"kitchen-ledger/internal/xpkg/logger"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// AnalyticsService answers dashboard queries by reducing daily aggregates.
// It never writes.
type AnalyticsService struct {
	store   core.IStore
	clock   core.Clock
	loc     *time.Location
	timeout time.Duration
	mylog   logger.Logger
}

func NewAnalyticsService(store core.IStore, clock core.Clock, loc *time.Location, timeout time.Duration, mylog logger.Logger) *AnalyticsService {
	if timeout <= 0 {
		timeout = core.WaitTime * time.Second
	}
	return &AnalyticsService{store: store, clock: clock, loc: loc, timeout: timeout, mylog: mylog}
}

// Today is the current calendar day in the analytics time zone.
func (as *AnalyticsService) Today() time.Time {
	return models.DayOf(as.clock.Now(), as.loc)
}

func (as *AnalyticsService) TodayVsTotal(ctx context.Context) (dto.TodayVsTotal, error) {
	ctx, cancel := context.WithTimeout(ctx, as.timeout)
	defer cancel()

	aggs := as.store.Repos().Aggregates
	today := as.Today()
	res := dto.TodayVsTotal{
		Date:  models.FormatDay(today),
		Today: dto.DayCounters{DailyRevenue: decimal.Zero},
		Total: dto.RunningTotals{TotalRevenue: decimal.Zero},
	}

	agg, err := aggs.Get(ctx, today)
	switch {
	case err == nil:
		res.Today = dto.DayCounters{DailyOrders: agg.DailyOrders, DailyRevenue: agg.DailyRevenue}
	case !errors.Is(err, core.ErrNotFound):
		return dto.TodayVsTotal{}, err
	}

	latest, err := aggs.Latest(ctx)
	switch {
	case err == nil:
		res.Total = dto.RunningTotals{TotalOrders: latest.TotalOrders, TotalRevenue: latest.TotalRevenue}
	case !errors.Is(err, core.ErrNotFound):
		return dto.TodayVsTotal{}, err
	}
	return res, nil
}

type productAcc struct {
	revenue decimal.Decimal
	orders  int64
}

// RevenueByProduct groups the product sales ledger of [from, to] by name.
// Percentages are of the revenue across all groups, rounded to 2 places.
func (as *AnalyticsService) RevenueByProduct(ctx context.Context, from, to time.Time) ([]dto.ProductRevenue, error) {
	if err := validateRange(from, to); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, as.timeout)
	defer cancel()

	aggs, err := as.store.Repos().Aggregates.Range(ctx, from, to)
	if err != nil {
		return nil, err
	}

	groups := make(map[string]*productAcc)
	total := decimal.Zero
	for _, agg := range aggs {
		for _, sale := range agg.ProductSales {
			acc, ok := groups[sale.ProductName]
			if !ok {
				acc = &productAcc{revenue: decimal.Zero}
				groups[sale.ProductName] = acc
			}
			acc.revenue = acc.revenue.Add(sale.Revenue)
			acc.orders += sale.Orders
			total = total.Add(sale.Revenue)
		}
	}

	out := make([]dto.ProductRevenue, 0, len(groups))
	for name, acc := range groups {
		pct := decimal.Zero
		if total.IsPositive() {
			pct = acc.revenue.Mul(hundred).Div(total).Round(2)
		}
		out = append(out, dto.ProductRevenue{Name: name, Revenue: acc.revenue, Orders: acc.orders, Percentage: pct})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Revenue.Cmp(out[j].Revenue); c != 0 {
			return c > 0
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// RevenueSeries returns the last days calendar days ending today.
func (as *AnalyticsService) RevenueSeries(ctx context.Context, days int) ([]dto.RevenuePoint, error) {
	if days < 1 || days > core.MaxSeriesDays {
		return nil, core.Validation(core.ReasonInvalidRange, "days must be in range [1, %d]: %d", core.MaxSeriesDays, days)
	}
	to := as.Today()
	return as.RevenueSeriesRange(ctx, to.AddDate(0, 0, -(days-1)), to)
}

// RevenueSeriesRange returns one zero-filled point per day of [from, to].
func (as *AnalyticsService) RevenueSeriesRange(ctx context.Context, from, to time.Time) ([]dto.RevenuePoint, error) {
	if err := validateRange(from, to); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, as.timeout)
	defer cancel()

	aggs, err := as.store.Repos().Aggregates.Range(ctx, from, to)
	if err != nil {
		return nil, err
	}
	byDay := make(map[time.Time]decimal.Decimal, len(aggs))
	for _, agg := range aggs {
		byDay[agg.Date] = agg.DailyRevenue
	}

	days := models.DaysBetween(from, to)
	out := make([]dto.RevenuePoint, 0, len(days))
	for _, d := range days {
		rev, ok := byDay[d]
		if !ok {
			rev = decimal.Zero
		}
		out = append(out, dto.RevenuePoint{Date: models.FormatDay(d), DailyRevenue: rev})
	}
	return out, nil
}

func (as *AnalyticsService) DailyAggregate(ctx context.Context, day time.Time) (*models.DailyAggregate, error) {
	ctx, cancel := context.WithTimeout(ctx, as.timeout)
	defer cancel()
	return as.store.Repos().Aggregates.Get(ctx, day)
}

// Reconcile recounts the orders created on day and compares them with the
// day's aggregate counters.
func (as *AnalyticsService) Reconcile(ctx context.Context, day time.Time) (dto.Reconciliation, error) {
	mylog := as.mylog.Action("reconcile").With("day", models.FormatDay(day))
	ctx, cancel := context.WithTimeout(ctx, as.timeout)
	defer cancel()

	repos := as.store.Repos()
	res := dto.Reconciliation{
		Date:             models.FormatDay(day),
		AggregateRevenue: decimal.Zero,
		OrderRevenue:     decimal.Zero,
		CheckedAt:        as.clock.Now(),
	}

	agg, err := repos.Aggregates.Get(ctx, day)
	switch {
	case err == nil:
		res.AggregateOrders = agg.DailyOrders
		res.AggregateRevenue = agg.DailyRevenue
	case !errors.Is(err, core.ErrNotFound):
		return dto.Reconciliation{}, err
	}

	orders, err := repos.Orders.List(ctx, models.OrderFilter{
		From: models.DayStart(day, as.loc),
		To:   models.DayStart(day.AddDate(0, 0, 1), as.loc),
	})
	if err != nil {
		return dto.Reconciliation{}, err
	}
	for _, o := range orders {
		res.OrderCount++
		res.OrderRevenue = res.OrderRevenue.Add(o.Total)
	}

	res.Consistent = res.OrderCount == res.AggregateOrders && res.OrderRevenue.Equal(res.AggregateRevenue)
	if !res.Consistent {
		mylog.Warn("Aggregate drift detected",
			"aggregate_orders", res.AggregateOrders, "order_count", res.OrderCount,
			"aggregate_revenue", res.AggregateRevenue.String(), "order_revenue", res.OrderRevenue.String())
	} else {
		mylog.Info("Aggregate consistent", "orders", res.OrderCount)
	}
	return res, nil
}

func validateRange(from, to time.Time) error {
	if to.Before(from) {
		return core.Validation(core.ReasonInvalidRange, "from %s is after to %s", models.FormatDay(from), models.FormatDay(to))
	}
	if len(models.DaysBetween(from, to)) > core.MaxSeriesDays {
		return core.Validation(core.ReasonInvalidRange, "range must span at most %d days", core.MaxSeriesDays)
	}
	return nil
}
