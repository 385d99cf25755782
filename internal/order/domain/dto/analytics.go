package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

type DayCounters struct {
	DailyOrders  int64           `json:"daily_orders"`
	DailyRevenue decimal.Decimal `json:"daily_revenue"`
}

type RunningTotals struct {
	TotalOrders  int64           `json:"total_orders"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
}

type TodayVsTotal struct {
	Date  string        `json:"date"`
	Today DayCounters   `json:"today"`
	Total RunningTotals `json:"total"`
}

type ProductRevenue struct {
	Name       string          `json:"name"`
	Revenue    decimal.Decimal `json:"revenue"`
	Orders     int64           `json:"orders"`
	Percentage decimal.Decimal `json:"percentage"`
}

type RevenuePoint struct {
	Date         string          `json:"date"`
	DailyRevenue decimal.Decimal `json:"daily_revenue"`
}

// Reconciliation compares a day's aggregate with the orders created that day.
type Reconciliation struct {
	Date             string          `json:"date"`
	AggregateOrders  int64           `json:"aggregate_orders"`
	AggregateRevenue decimal.Decimal `json:"aggregate_revenue"`
	OrderCount       int64           `json:"order_count"`
	OrderRevenue     decimal.Decimal `json:"order_revenue"`
	Consistent       bool            `json:"consistent"`
	CheckedAt        time.Time       `json:"checked_at"`
}
