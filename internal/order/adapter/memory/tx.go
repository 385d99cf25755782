package memory

import (
	"context"
	"errors"
	"sort"
	"time"

	"kitchen-ledger/internal/order/app/core"
	"kitchen-ledger/internal/order/domain/models"

	"github.com/shopspring/decimal"
)

const (
	structNone = iota
	structShared
	structExclusive
)

var errNestedRollup = errors.New("memory store: one rollup per transaction")

type stagedOrder struct {
	order       models.Order
	baseVersion int
	isNew       bool
}

type stagedDay struct {
	entry   *dayEntry
	agg     *models.DailyAggregate
	orderID string
}

// tx stages every write and applies them in commit. Day locks taken by
// ApplyRollup are held until release.
type tx struct {
	s *Store

	structHeld int
	dayLocks   []*dayEntry

	aggs   map[time.Time]*stagedDay
	orders map[string]*stagedOrder
	logs   []models.StatusLog
	outbox []models.OutboxEvent
	sent   []string
	sentAt time.Time
}

func newTx(s *Store) *tx {
	return &tx{
		s:      s,
		aggs:   make(map[time.Time]*stagedDay),
		orders: make(map[string]*stagedOrder),
	}
}

func (t *tx) repos() core.Repos {
	return core.Repos{
		Orders:     txOrders{t},
		Aggregates: txAggregates{t},
		Outbox:     txOutbox{t},
	}
}

func (t *tx) commit(context.Context) error {
	if hook := t.s.commitHook; hook != nil {
		if err := hook(); err != nil {
			return err
		}
	}

	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	for id, so := range t.orders {
		if so.isNew {
			continue
		}
		cur, ok := t.s.orders[id]
		if !ok || cur.Version != so.baseVersion {
			return core.Conflict(core.ReasonStaleVersion, "order %s was modified concurrently", id)
		}
	}

	for id, so := range t.orders {
		if _, exists := t.s.orders[id]; so.isNew && exists {
			continue
		}
		t.s.orders[id] = so.order.Clone()
	}
	for _, l := range t.logs {
		t.s.logs[l.OrderID] = append(t.s.logs[l.OrderID], l)
	}
	for _, ev := range t.outbox {
		if _, exists := t.s.outIdx[ev.ID]; exists {
			continue
		}
		e := &outboxEntry{ev: ev}
		t.s.outbox = append(t.s.outbox, e)
		t.s.outIdx[ev.ID] = e
	}
	for _, id := range t.sent {
		if e, ok := t.s.outIdx[id]; ok && !e.sent {
			e.sent = true
			e.sentAt = t.sentAt
		}
	}

	// Day entries are written under the locks acquired in ApplyRollup.
	for day, sd := range t.aggs {
		if sd.entry == nil {
			sd.entry = &dayEntry{applied: make(map[string]struct{})}
			t.s.days[day] = sd.entry
		}
		sd.entry.agg = sd.agg
		if sd.orderID != "" {
			sd.entry.applied[sd.orderID] = struct{}{}
		}
	}
	return nil
}

func (t *tx) release() {
	for i := len(t.dayLocks) - 1; i >= 0; i-- {
		t.dayLocks[i].mu.Unlock()
	}
	t.dayLocks = nil

	switch t.structHeld {
	case structShared:
		t.s.structMu.RUnlock()
	case structExclusive:
		t.s.structMu.Unlock()
	}
	t.structHeld = structNone
}

// readDay returns a copy of the aggregate of day, staged value first.
// The caller must hold structMu in some mode.
func (t *tx) readDay(day time.Time) *models.DailyAggregate {
	if sd, ok := t.aggs[day]; ok {
		return sd.agg.Clone()
	}
	e, ok := t.s.days[day]
	if !ok {
		return nil
	}
	// After a fast-path rollup only the locked day can change under a
	// shared structure lock, so every other day is stable.
	if t.structHeld != structNone {
		return e.agg.Clone()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.agg.Clone()
}

// withStructRead runs fn with structMu held at least shared.
func (t *tx) withStructRead(fn func()) {
	if t.structHeld != structNone {
		fn()
		return
	}
	t.s.structMu.RLock()
	defer t.s.structMu.RUnlock()
	fn()
}

func (t *tx) applyRollup(ev models.RollupEvent, now time.Time) (core.RollupResult, error) {
	if ev.Hour < 0 || ev.Hour >= models.HoursPerDay {
		return core.RollupResult{}, core.Validation(core.ReasonInvalidRange, "hour %d out of range", ev.Hour)
	}
	if hook := t.s.applyHook; hook != nil {
		if err := hook(ev); err != nil {
			return core.RollupResult{}, err
		}
	}
	if t.structHeld != structNone {
		return core.RollupResult{}, errNestedRollup
	}

	t.s.structMu.RLock()
	t.structHeld = structShared
	if e, ok := t.s.days[ev.Day]; ok && !t.s.hasLaterDay(ev.Day) {
		e.mu.Lock()
		t.dayLocks = append(t.dayLocks, e)
		return t.applyToExisting(e, ev, now), nil
	}
	t.s.structMu.RUnlock()
	t.structHeld = structNone

	t.s.structMu.Lock()
	t.structHeld = structExclusive

	e, ok := t.s.days[ev.Day]
	if ok {
		res := t.applyToExisting(e, ev, now)
		if res.Applied {
			t.bumpLaterDays(ev, now)
		}
		return res, nil
	}

	var prev *models.DailyAggregate
	seed := models.Totals{Revenue: decimal.Zero}
	if _, pe := t.s.previousDay(ev.Day); pe != nil {
		prev = pe.agg.Clone()
		seed = prev.Totals()
	}
	agg := models.NewDailyAggregate(ev.Day, seed)
	agg.Apply(ev, now)
	t.aggs[ev.Day] = &stagedDay{agg: agg, orderID: ev.OrderID}
	t.bumpLaterDays(ev, now)

	return core.RollupResult{Previous: prev, Current: agg.Clone(), Applied: true}, nil
}

func (t *tx) applyToExisting(e *dayEntry, ev models.RollupEvent, now time.Time) core.RollupResult {
	var prev *models.DailyAggregate
	if _, pe := t.s.previousDay(ev.Day); pe != nil {
		prev = pe.agg.Clone()
	}

	if _, dup := e.applied[ev.OrderID]; dup {
		return core.RollupResult{Previous: prev, Current: e.agg.Clone(), Applied: false}
	}

	agg := e.agg.Clone()
	agg.Apply(ev, now)
	t.aggs[ev.Day] = &stagedDay{entry: e, agg: agg, orderID: ev.OrderID}
	return core.RollupResult{Previous: prev, Current: agg.Clone(), Applied: true}
}

// bumpLaterDays carries the event into the running totals of every later
// day. Caller holds structMu exclusively.
func (t *tx) bumpLaterDays(ev models.RollupEvent, now time.Time) {
	for _, d := range t.s.sortedDays() {
		if !d.After(ev.Day) {
			continue
		}
		e := t.s.days[d]
		agg := e.agg.Clone()
		agg.TotalOrders++
		agg.TotalRevenue = agg.TotalRevenue.Add(ev.Total)
		agg.LastUpdated = now
		t.aggs[d] = &stagedDay{entry: e, agg: agg}
	}
}

// txOrders

type txOrders struct{ t *tx }

func (r txOrders) lookup(id string) (models.Order, bool) {
	if so, ok := r.t.orders[id]; ok {
		return so.order.Clone(), true
	}
	r.t.s.mu.RLock()
	defer r.t.s.mu.RUnlock()
	o, ok := r.t.s.orders[id]
	if !ok {
		return models.Order{}, false
	}
	return o.Clone(), true
}

func (r txOrders) Create(_ context.Context, order models.Order) error {
	if _, ok := r.lookup(order.ID); ok {
		return nil
	}
	r.t.orders[order.ID] = &stagedOrder{order: order.Clone(), isNew: true}
	return nil
}

func (r txOrders) Get(_ context.Context, id string) (models.Order, error) {
	o, ok := r.lookup(id)
	if !ok {
		return models.Order{}, core.NotFound(core.ReasonOrderNotFound, "order %s not found", id)
	}
	return o, nil
}

func (r txOrders) List(_ context.Context, filter models.OrderFilter) ([]models.Order, error) {
	merged := make(map[string]models.Order)
	r.t.s.mu.RLock()
	for id, o := range r.t.s.orders {
		merged[id] = o
	}
	r.t.s.mu.RUnlock()
	for id, so := range r.t.orders {
		merged[id] = so.order
	}

	out := make([]models.Order, 0, len(merged))
	for _, o := range merged {
		if filter.Match(o) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r txOrders) stage(cur models.Order, updated models.Order) {
	if so, ok := r.t.orders[cur.ID]; ok {
		so.order = updated
		return
	}
	r.t.orders[cur.ID] = &stagedOrder{order: updated, baseVersion: cur.Version}
}

func (r txOrders) UpdateStatus(ctx context.Context, id string, from models.Status, version int, to models.Status, at time.Time) (models.Order, error) {
	cur, err := r.Get(ctx, id)
	if err != nil {
		return models.Order{}, err
	}
	if cur.Status != from || cur.Version != version {
		return models.Order{}, core.Conflict(core.ReasonStaleVersion,
			"order %s is %s (version %d), expected %s (version %d)", id, cur.Status, cur.Version, from, version)
	}
	updated := cur.Clone()
	updated.Status = to
	updated.Version++
	updated.UpdatedAt = at
	r.stage(cur, updated)
	return updated.Clone(), nil
}

func (r txOrders) SetDocumentState(ctx context.Context, id string, version int, state models.DocumentState, at time.Time) (models.Order, error) {
	cur, err := r.Get(ctx, id)
	if err != nil {
		return models.Order{}, err
	}
	if cur.Version != version {
		return models.Order{}, core.Conflict(core.ReasonStaleVersion,
			"order %s is at version %d, expected %d", id, cur.Version, version)
	}
	updated := cur.Clone()
	updated.DocumentState = state
	updated.Version++
	updated.UpdatedAt = at
	r.stage(cur, updated)
	return updated.Clone(), nil
}

func (r txOrders) AppendStatusLog(_ context.Context, entry models.StatusLog) error {
	r.t.logs = append(r.t.logs, entry)
	return nil
}

func (r txOrders) History(ctx context.Context, id string) ([]models.StatusLog, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	r.t.s.mu.RLock()
	out := append([]models.StatusLog(nil), r.t.s.logs[id]...)
	r.t.s.mu.RUnlock()
	for _, l := range r.t.logs {
		if l.OrderID == id {
			out = append(out, l)
		}
	}
	return out, nil
}

// txAggregates

type txAggregates struct{ t *tx }

func (r txAggregates) ApplyRollup(_ context.Context, ev models.RollupEvent, now time.Time) (core.RollupResult, error) {
	return r.t.applyRollup(ev, now)
}

func (r txAggregates) Get(_ context.Context, day time.Time) (*models.DailyAggregate, error) {
	var agg *models.DailyAggregate
	r.t.withStructRead(func() { agg = r.t.readDay(day) })
	if agg == nil {
		return nil, core.NotFound(core.ReasonAggregateNotFound, "no aggregate for %s", models.FormatDay(day))
	}
	return agg, nil
}

func (r txAggregates) Latest(_ context.Context) (*models.DailyAggregate, error) {
	var agg *models.DailyAggregate
	r.t.withStructRead(func() {
		var latest time.Time
		found := false
		for d := range r.t.s.days {
			if !found || d.After(latest) {
				latest, found = d, true
			}
		}
		for d := range r.t.aggs {
			if !found || d.After(latest) {
				latest, found = d, true
			}
		}
		if found {
			agg = r.t.readDay(latest)
		}
	})
	if agg == nil {
		return nil, core.NotFound(core.ReasonAggregateNotFound, "no aggregates yet")
	}
	return agg, nil
}

func (r txAggregates) Range(_ context.Context, from, to time.Time) ([]*models.DailyAggregate, error) {
	var out []*models.DailyAggregate
	r.t.withStructRead(func() {
		seen := make(map[time.Time]bool)
		var keys []time.Time
		for d := range r.t.s.days {
			keys = append(keys, d)
			seen[d] = true
		}
		for d := range r.t.aggs {
			if !seen[d] {
				keys = append(keys, d)
			}
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })
		for _, d := range keys {
			if d.Before(from) || d.After(to) {
				continue
			}
			out = append(out, r.t.readDay(d))
		}
	})
	return out, nil
}

// txOutbox

type txOutbox struct{ t *tx }

func (r txOutbox) Add(_ context.Context, ev models.OutboxEvent) error {
	r.t.outbox = append(r.t.outbox, ev)
	return nil
}

func (r txOutbox) Pending(_ context.Context, limit int) ([]models.OutboxEvent, error) {
	r.t.s.mu.RLock()
	defer r.t.s.mu.RUnlock()

	var out []models.OutboxEvent
	for _, e := range r.t.s.outbox {
		if e.sent {
			continue
		}
		out = append(out, e.ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r txOutbox) MarkSent(_ context.Context, ids []string, at time.Time) error {
	r.t.sent = append(r.t.sent, ids...)
	r.t.sentAt = at
	return nil
}
