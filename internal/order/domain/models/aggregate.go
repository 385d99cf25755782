package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const HoursPerDay = 24

type HourlySlot struct {
	Hour    int             `json:"hour"`
	Revenue decimal.Decimal `json:"revenue"`
	Orders  int64           `json:"orders"`
}

// ProductSale is one ledger entry per order line. Entries are never grouped
// on write.
type ProductSale struct {
	ProductName string          `json:"product_name"`
	Revenue     decimal.Decimal `json:"revenue"`
	Orders      int64           `json:"orders"`
}

type DailyAggregate struct {
	Date         time.Time               `json:"date"`
	DailyOrders  int64                   `json:"daily_orders"`
	DailyRevenue decimal.Decimal         `json:"daily_revenue"`
	TotalOrders  int64                   `json:"total_orders"`
	TotalRevenue decimal.Decimal         `json:"total_revenue"`
	HourlyStats  [HoursPerDay]HourlySlot `json:"hourly_stats"`
	ProductSales []ProductSale           `json:"product_sales"`
	LastUpdated  time.Time               `json:"last_updated"`
}

// Totals is a running-total pair carried from one day to the next.
type Totals struct {
	Orders  int64
	Revenue decimal.Decimal
}

// NewDailyAggregate returns an empty aggregate for day whose running totals
// start from prev.
func NewDailyAggregate(day time.Time, prev Totals) *DailyAggregate {
	a := &DailyAggregate{
		Date:         day,
		DailyRevenue: decimal.Zero,
		TotalOrders:  prev.Orders,
		TotalRevenue: prev.Revenue,
		ProductSales: []ProductSale{},
	}
	for h := range a.HourlyStats {
		a.HourlyStats[h] = HourlySlot{Hour: h, Revenue: decimal.Zero}
	}
	return a
}

func (a *DailyAggregate) Totals() Totals {
	return Totals{Orders: a.TotalOrders, Revenue: a.TotalRevenue}
}

func (a *DailyAggregate) Clone() *DailyAggregate {
	c := *a
	c.ProductSales = append([]ProductSale(nil), a.ProductSales...)
	return &c
}

// Apply adds one rollup event to the aggregate.
func (a *DailyAggregate) Apply(ev RollupEvent, now time.Time) {
	a.DailyOrders++
	a.DailyRevenue = a.DailyRevenue.Add(ev.Total)
	a.TotalOrders++
	a.TotalRevenue = a.TotalRevenue.Add(ev.Total)

	slot := &a.HourlyStats[ev.Hour]
	slot.Orders++
	slot.Revenue = slot.Revenue.Add(ev.Total)

	a.ProductSales = append(a.ProductSales, ev.Lines...)
	a.LastUpdated = now
}

// CheckInvariants verifies the per-day sums.
func (a *DailyAggregate) CheckInvariants() error {
	hourRevenue := decimal.Zero
	var hourOrders int64
	for h, slot := range a.HourlyStats {
		if slot.Hour != h {
			return fmt.Errorf("hourly slot %d labelled %d", h, slot.Hour)
		}
		hourRevenue = hourRevenue.Add(slot.Revenue)
		hourOrders += slot.Orders
	}
	if !hourRevenue.Equal(a.DailyRevenue) {
		return fmt.Errorf("hourly revenue %s != daily revenue %s", hourRevenue, a.DailyRevenue)
	}
	if hourOrders != a.DailyOrders {
		return fmt.Errorf("hourly orders %d != daily orders %d", hourOrders, a.DailyOrders)
	}

	salesRevenue := decimal.Zero
	for _, s := range a.ProductSales {
		salesRevenue = salesRevenue.Add(s.Revenue)
	}
	if !salesRevenue.Equal(a.DailyRevenue) {
		return fmt.Errorf("product sales revenue %s != daily revenue %s", salesRevenue, a.DailyRevenue)
	}

	if a.TotalOrders < a.DailyOrders || a.TotalRevenue.LessThan(a.DailyRevenue) {
		return fmt.Errorf("running totals (%d, %s) below daily counters (%d, %s)",
			a.TotalOrders, a.TotalRevenue, a.DailyOrders, a.DailyRevenue)
	}
	return nil
}

// CheckRunningTotals verifies cur continues prev. prev may be nil for the
// first day ever.
func CheckRunningTotals(prev, cur *DailyAggregate) error {
	base := Totals{Revenue: decimal.Zero}
	if prev != nil {
		base = prev.Totals()
	}
	if cur.TotalOrders != base.Orders+cur.DailyOrders {
		return fmt.Errorf("%s: total orders %d != %d + %d",
			FormatDay(cur.Date), cur.TotalOrders, base.Orders, cur.DailyOrders)
	}
	if !cur.TotalRevenue.Equal(base.Revenue.Add(cur.DailyRevenue)) {
		return fmt.Errorf("%s: total revenue %s != %s + %s",
			FormatDay(cur.Date), cur.TotalRevenue, base.Revenue, cur.DailyRevenue)
	}
	return nil
}

// RollupEvent is everything the rollup needs from a freshly created order.
type RollupEvent struct {
	OrderID string
	Day     time.Time
	Hour    int
	Total   decimal.Decimal
	Lines   []ProductSale
}

// NewRollupEvent derives the event for order, bucketing it by loc.
// Each line contributes its quantity as orders.
func NewRollupEvent(order Order, loc *time.Location) RollupEvent {
	local := order.CreatedAt.In(loc)
	lines := make([]ProductSale, 0, len(order.Items))
	for i, item := range order.Items {
		name := item.ProductRef
		if i < len(order.ProductNames) {
			name = order.ProductNames[i]
		}
		lines = append(lines, ProductSale{
			ProductName: name,
			Revenue:     item.LineTotal(),
			Orders:      int64(item.Quantity),
		})
	}
	return RollupEvent{
		OrderID: order.ID,
		Day:     DayOf(order.CreatedAt, loc),
		Hour:    local.Hour(),
		Total:   order.Total,
		Lines:   lines,
	}
}
