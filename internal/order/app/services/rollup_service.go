package services

import (
	"context"
	"time"

	"kitchen-ledger/internal/order/app/core"
	"kitchen-ledger/internal/order/domain/models"
	"kitchen-ledger/internal/xpkg/logger"
)

// RollupService applies creation events to daily aggregates and checks the
// aggregate invariants after every write.
type RollupService struct {
	loc   *time.Location
	mylog logger.Logger
}

func NewRollupService(loc *time.Location, mylog logger.Logger) *RollupService {
	return &RollupService{loc: loc, mylog: mylog}
}

// ApplyCreationEvent must run inside the transaction that creates order.
// A failed post-condition returns ErrInvariantViolation, which rolls the
// transaction back.
func (rs *RollupService) ApplyCreationEvent(ctx context.Context, aggs core.IAggregateRepo, order models.Order, now time.Time) (core.RollupResult, error) {
	ev := models.NewRollupEvent(order, rs.loc)

	res, err := aggs.ApplyRollup(ctx, ev, now)
	if err != nil {
		return core.RollupResult{}, err
	}

	check := res.Current.CheckInvariants()
	if check == nil {
		check = models.CheckRunningTotals(res.Previous, res.Current)
	}
	if check != nil {
		rs.mylog.Action("invariant_violation").Error("Aggregate post-condition failed", check,
			"order_id", order.ID, "day", models.FormatDay(ev.Day))
		return core.RollupResult{}, core.InvariantViolation("aggregate %s: %v", models.FormatDay(ev.Day), check)
	}

	if !res.Applied {
		rs.mylog.Action("rollup_duplicate").Debug("Order already counted", "order_id", order.ID, "day", models.FormatDay(ev.Day))
	}
	return res, nil
}
