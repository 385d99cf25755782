package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"kitchen-ledger/internal/order/app/core"
	"kitchen-ledger/internal/order/domain/models"
)

func TestTodayVsTotalEmpty(t *testing.T) {
	f := newFixture(t)
	got, err := f.analytics.TodayVsTotal(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.Date != "2024-06-01" || got.Today.DailyOrders != 0 || !got.Today.DailyRevenue.IsZero() ||
		got.Total.TotalOrders != 0 || !got.Total.TotalRevenue.IsZero() {
		t.Errorf("empty dashboard = %+v", got)
	}
}

func TestTodayVsTotal(t *testing.T) {
	f := newFixture(t)
	f.create(t, takeaway(item("burger", 1)))
	f.clock.Set(lunch.AddDate(0, 0, 1))
	f.create(t, takeaway(item("soda", 1)))
	f.create(t, takeaway(item("fries", 1)))

	got, err := f.analytics.TodayVsTotal(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.Today.DailyOrders != 2 || !got.Today.DailyRevenue.Equal(dec("5.50")) {
		t.Errorf("today = %+v", got.Today)
	}
	if got.Total.TotalOrders != 3 || !got.Total.TotalRevenue.Equal(dec("14.49")) {
		t.Errorf("total = %+v", got.Total)
	}

	// a quiet day still reports the running totals
	f.clock.Set(lunch.AddDate(0, 0, 2))
	got, err = f.analytics.TodayVsTotal(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.Today.DailyOrders != 0 || got.Total.TotalOrders != 3 {
		t.Errorf("quiet day = %+v", got)
	}
}

func TestRevenueByProduct(t *testing.T) {
	f := newFixture(t)
	f.catalog.Put(models.Product{Ref: "juice", Name: "Juice", Price: dec("2.50"), Active: true})

	f.create(t, takeaway(item("burger", 1), item("soda", 1)))
	f.clock.Set(lunch.AddDate(0, 0, 1))
	f.create(t, takeaway(item("juice", 1)))
	f.clock.Set(lunch.AddDate(0, 0, 5))
	f.create(t, takeaway(item("burger", 3)))

	day := models.DayOf(lunch, time.UTC)
	got, err := f.analytics.RevenueByProduct(context.Background(), day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("groups = %+v", got)
	}
	want := []struct {
		name    string
		revenue string
		pct     string
	}{
		{"Burger", "8.99", "64.26"},
		{"Juice", "2.50", "17.87"},
		{"Soda", "2.50", "17.87"},
	}
	sum := dec("0")
	for i, w := range want {
		g := got[i]
		if g.Name != w.name || !g.Revenue.Equal(dec(w.revenue)) || !g.Percentage.Equal(dec(w.pct)) {
			t.Errorf("group %d = %+v, want %s %s %s%%", i, g, w.name, w.revenue, w.pct)
		}
		sum = sum.Add(g.Percentage)
	}
	if sum.Sub(dec("100")).Abs().GreaterThan(dec("0.05")) {
		t.Errorf("percentages sum to %s", sum)
	}
}

func TestRevenueByProductEmptyRange(t *testing.T) {
	f := newFixture(t)
	day := models.DayOf(lunch, time.UTC)
	got, err := f.analytics.RevenueByProduct(context.Background(), day, day)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("groups = %+v", got)
	}

	if _, err := f.analytics.RevenueByProduct(context.Background(), day, day.AddDate(0, 0, -1)); !errors.Is(err, core.ErrValidation) {
		t.Errorf("reversed range err = %v", err)
	}
}

func TestRevenueSeriesZeroFills(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(lunch.AddDate(0, 0, -2))
	f.create(t, takeaway(item("soda", 2)))
	f.clock.Set(lunch)
	f.create(t, takeaway(item("burger", 1)))

	got, err := f.analytics.RevenueSeries(context.Background(), 4)
	if err != nil {
		t.Fatal(err)
	}
	want := []struct{ date, revenue string }{
		{"2024-05-29", "0"},
		{"2024-05-30", "5.00"},
		{"2024-05-31", "0"},
		{"2024-06-01", "8.99"},
	}
	if len(got) != len(want) {
		t.Fatalf("series = %+v", got)
	}
	for i, w := range want {
		if got[i].Date != w.date || !got[i].DailyRevenue.Equal(dec(w.revenue)) {
			t.Errorf("point %d = %+v, want %s %s", i, got[i], w.date, w.revenue)
		}
	}
}

func TestRevenueSeriesDaysBounds(t *testing.T) {
	f := newFixture(t)
	for _, days := range []int{0, -3, core.MaxSeriesDays + 1} {
		_, err := f.analytics.RevenueSeries(context.Background(), days)
		if !errors.Is(err, core.ErrValidation) || core.ReasonOf(err) != core.ReasonInvalidRange {
			t.Errorf("days=%d: err = %v", days, err)
		}
	}
	got, err := f.analytics.RevenueSeries(context.Background(), 1)
	if err != nil || len(got) != 1 || got[0].Date != "2024-06-01" {
		t.Errorf("single day = %+v, %v", got, err)
	}
}

func TestDailyAggregateMissingDay(t *testing.T) {
	f := newFixture(t)
	_, err := f.analytics.DailyAggregate(context.Background(), models.DayOf(lunch, time.UTC))
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestReconcile(t *testing.T) {
	f := newFixture(t)
	f.create(t, takeaway(item("burger", 1)))
	f.create(t, dineIn(4, item("soda", 2)))
	day := models.DayOf(lunch, time.UTC)

	got, err := f.analytics.Reconcile(context.Background(), day)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Consistent || got.OrderCount != 2 || !got.OrderRevenue.Equal(dec("13.99")) {
		t.Errorf("reconciliation = %+v", got)
	}

	// an order that bypassed the rollup
	stray := rolledOrder()
	stray.ID = "stray"
	if err := f.store.Repos().Orders.Create(context.Background(), stray); err != nil {
		t.Fatal(err)
	}
	got, err = f.analytics.Reconcile(context.Background(), day)
	if err != nil {
		t.Fatal(err)
	}
	if got.Consistent || got.OrderCount != 3 || got.AggregateOrders != 2 {
		t.Errorf("drift not detected: %+v", got)
	}
}
